package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/mqread/types"
)

func TestPackedResponseRoundTrip(t *testing.T) {
	msgs := []types.WireMessage{
		{ID: 1, Timestamp: 10, Data: []byte("one"), Hash: 3},
		{ID: 2, Timestamp: 20, Data: []byte("two"), Hash: 4, Mask: 1},
	}
	resp := &types.FetchResponse{Messages: append([]types.WireMessage{}, msgs...), NextMsgID: 3}

	require.NoError(t, PackResponse(resp, types.CompressZstd))
	require.Nil(t, resp.Messages)
	require.NotEmpty(t, resp.Packed)

	require.NoError(t, UnpackResponse(resp))
	require.Equal(t, msgs, resp.Messages)
	require.Nil(t, resp.Packed)
	require.Equal(t, int64(3), resp.NextMsgID)
}

func TestUnpackResponseChecksumMismatch(t *testing.T) {
	resp := &types.FetchResponse{Messages: []types.WireMessage{{ID: 1, Data: []byte("x")}}}
	require.NoError(t, PackResponse(resp, types.CompressSnappy))
	resp.Checksum++

	err := UnpackResponse(resp)
	require.ErrorIs(t, err, types.ErrInvalidResponse)
}

func TestUnpackResponseDecompressesMessages(t *testing.T) {
	data, err := Compress(types.CompressLZ4, []byte("compressed payload"))
	require.NoError(t, err)

	resp := &types.FetchResponse{Messages: []types.WireMessage{
		{ID: 1, Data: data, Compressed: true, CompressType: types.CompressLZ4},
		{ID: 2, Data: []byte("plain")},
	}}
	require.NoError(t, UnpackResponse(resp))
	require.Equal(t, "compressed payload", string(resp.Messages[0].Data))
	require.False(t, resp.Messages[0].Compressed)
	require.Equal(t, "plain", string(resp.Messages[1].Data))
}

func TestUnpackResponseBadMessagePayload(t *testing.T) {
	resp := &types.FetchResponse{Messages: []types.WireMessage{
		{ID: 1, Data: []byte("garbage"), Compressed: true, CompressType: types.CompressZstd},
	}}
	require.ErrorIs(t, UnpackResponse(resp), types.ErrDecompressFailed)
}
