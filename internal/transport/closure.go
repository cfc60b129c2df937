package transport

import (
	"sync/atomic"
	"time"

	"github.com/arloliu/mqread/internal/notify"
	"github.com/arloliu/mqread/types"
)

// Closure is the one-shot continuation of a posted request.
//
// The completing goroutine writes the result fields and then sets done; readers
// check IsDone before touching the result.
type Closure[Resp any] struct {
	seq      uint64
	posted   time.Time
	notifier *notify.Notifier

	address string
	resp    Resp
	code    types.ErrorCode
	err     error

	done atomic.Bool
}

// Seq returns the sequence number the request was posted under.
func (c *Closure[Resp]) Seq() uint64 {
	return c.seq
}

// IsDone reports whether the request completed.
func (c *Closure[Resp]) IsDone() bool {
	return c.done.Load()
}

func (c *Closure[Resp]) complete(address string, resp Resp, code types.ErrorCode, err error) {
	c.address = address
	c.resp = resp
	c.code = code
	c.err = err
	c.done.Store(true)
	if c.notifier != nil {
		c.notifier.Notify()
	}
}
