package codec

import (
	"encoding/json"

	"github.com/zeebo/xxh3"

	"github.com/arloliu/mqread/types"
)

// Checksum is the integrity check carried by packed responses.
func Checksum(data []byte) uint64 {
	return xxh3.Hash(data)
}

// PackResponse moves resp.Messages into resp.Packed, compressed with ct.
func PackResponse(resp *types.FetchResponse, ct types.CompressType) error {
	raw, err := json.Marshal(resp.Messages)
	if err != nil {
		return types.WrapError(types.CodeInvalidResponse, err)
	}
	packed, err := Compress(ct, raw)
	if err != nil {
		return err
	}

	resp.Packed = packed
	resp.CompressType = ct
	resp.Checksum = Checksum(packed)
	resp.Messages = nil

	return nil
}

// UnpackResponse verifies and expands a packed response in place, then
// decompresses every individually compressed message. Responses that are neither
// packed nor carry compressed messages are left untouched.
func UnpackResponse(resp *types.FetchResponse) error {
	if len(resp.Packed) > 0 {
		if Checksum(resp.Packed) != resp.Checksum {
			return types.NewError(types.CodeInvalidResponse, "packed response checksum mismatch")
		}
		raw, err := Decompress(resp.CompressType, resp.Packed)
		if err != nil {
			return err
		}
		var msgs []types.WireMessage
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return types.WrapError(types.CodeInvalidResponse, err)
		}
		resp.Messages = msgs
		resp.Packed = nil
		resp.CompressType = types.CompressNone
	}

	for i := range resp.Messages {
		m := &resp.Messages[i]
		if !m.Compressed {
			continue
		}
		data, err := Decompress(m.CompressType, m.Data)
		if err != nil {
			return err
		}
		m.Data = data
		m.Compressed = false
		m.CompressType = types.CompressNone
	}

	return nil
}
