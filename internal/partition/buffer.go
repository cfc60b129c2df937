package partition

import "github.com/arloliu/mqread/types"

// buffer is a FIFO of unread messages.
type buffer struct {
	msgs []*types.Message
	head int
}

func (b *buffer) Len() int {
	return len(b.msgs) - b.head
}

func (b *buffer) Peek() *types.Message {
	if b.head >= len(b.msgs) {
		return nil
	}

	return b.msgs[b.head]
}

func (b *buffer) Pop() *types.Message {
	m := b.Peek()
	if m == nil {
		return nil
	}
	b.msgs[b.head] = nil
	b.head++
	if b.head == len(b.msgs) {
		b.msgs = b.msgs[:0]
		b.head = 0
	} else if b.head > 64 && b.head*2 > len(b.msgs) {
		n := copy(b.msgs, b.msgs[b.head:])
		clear(b.msgs[n:])
		b.msgs = b.msgs[:n]
		b.head = 0
	}

	return m
}

func (b *buffer) Push(m *types.Message) {
	b.msgs = append(b.msgs, m)
}

func (b *buffer) Reset() {
	clear(b.msgs)
	b.msgs = b.msgs[:0]
	b.head = 0
}
