package partition

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/mqread/types"
)

func TestBuffer(t *testing.T) {
	var b buffer
	require.Nil(t, b.Peek())
	require.Nil(t, b.Pop())

	for i := range 200 {
		b.Push(&types.Message{ID: int64(i)})
	}
	require.Equal(t, 200, b.Len())

	for i := range 150 {
		m := b.Pop()
		require.Equal(t, int64(i), m.ID)
	}
	require.Equal(t, 50, b.Len())
	require.Equal(t, int64(150), b.Peek().ID)

	b.Push(&types.Message{ID: 200})
	for i := 150; i <= 200; i++ {
		require.Equal(t, int64(i), b.Pop().ID)
	}
	require.Zero(t, b.Len())

	b.Push(&types.Message{ID: 1})
	b.Reset()
	require.Zero(t, b.Len())
}
