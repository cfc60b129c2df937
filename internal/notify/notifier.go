// Package notify provides the wake signal a blocked read waits on.
package notify

import (
	"context"
	"sync/atomic"
	"time"
)

// Notifier is a single-slot wake signal shared by a topic reader and the requests
// of its partitions.
//
// A waiter must call Arm before checking its predicate and Wait after the predicate
// failed. A Notify issued between Arm and Wait is kept in the slot, so the wakeup is
// never lost. Notify never blocks.
type Notifier struct {
	ch    chan struct{}
	armed atomic.Bool
}

// New creates a Notifier.
func New() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Arm discards any pending signal and starts accepting a new one.
func (n *Notifier) Arm() {
	select {
	case <-n.ch:
	default:
	}
	n.armed.Store(true)
}

// Notify wakes an armed waiter. It is a no-op when nobody armed the notifier.
func (n *Notifier) Notify() {
	if !n.armed.CompareAndSwap(true, false) {
		return
	}
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until a signal arrives, the timeout elapses or ctx is done.
//
// Returns:
//   - bool: true when woken by Notify
func (n *Notifier) Wait(ctx context.Context, timeout time.Duration) bool {
	defer n.armed.Store(false)
	if timeout <= 0 {
		select {
		case <-n.ch:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-n.ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
