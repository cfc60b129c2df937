package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProgressCovering(t *testing.T) {
	p := Progress{
		TopicName: "t",
		Partitions: []PartitionProgress{
			{From: 0, To: 32767, Timestamp: 100},
			{From: 32768, To: 65535, Timestamp: 50, OffsetInRawMsg: 2},
		},
	}

	t.Run("exact range", func(t *testing.T) {
		cp, ok := p.Covering(0, 32767)
		require.True(t, ok)
		require.Equal(t, Checkpoint{Timestamp: 100}, cp)
	})

	t.Run("range spanning entries takes the minimum", func(t *testing.T) {
		cp, ok := p.Covering(0, 65535)
		require.True(t, ok)
		require.Equal(t, Checkpoint{Timestamp: 50, Offset: 2}, cp)
	})

	t.Run("narrower range inside one entry", func(t *testing.T) {
		cp, ok := p.Covering(40000, 50000)
		require.True(t, ok)
		require.Equal(t, Checkpoint{Timestamp: 50, Offset: 2}, cp)
	})

	t.Run("no overlap", func(t *testing.T) {
		empty := Progress{Partitions: []PartitionProgress{{From: 0, To: 10}}}
		_, ok := empty.Covering(11, 20)
		require.False(t, ok)
	})
}

func TestReaderProgressRoundTrip(t *testing.T) {
	rp := &ReaderProgress{Topics: []Progress{{
		TopicName:    "orders",
		FilterMask:   0x3,
		FilterResult: 0x1,
		Partitions:   []PartitionProgress{{From: 0, To: 65535, Timestamp: 42, OffsetInRawMsg: 1}},
	}}}

	data, err := rp.Marshal()
	require.NoError(t, err)
	require.Contains(t, string(data), `"topicName":"orders"`)

	decoded, err := UnmarshalReaderProgress(data)
	require.NoError(t, err)
	require.Equal(t, rp, decoded)

	got, ok := decoded.Topic("orders")
	require.True(t, ok)
	require.Equal(t, int64(42), got.Partitions[0].Timestamp)

	_, ok = decoded.Topic("missing")
	require.False(t, ok)
}

func TestUnmarshalReaderProgressRejectsBadRange(t *testing.T) {
	_, err := UnmarshalReaderProgress([]byte(`{"topics":[{"topicName":"t","partitions":[{"from":9,"to":1}]}]}`))
	require.ErrorIs(t, err, ErrInvalidParameters)

	_, err = UnmarshalReaderProgress([]byte(`not json`))
	require.Error(t, err)
}
