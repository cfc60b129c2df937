package testutil

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/mqread/types"
)

// ChaosConfig tunes the failures a ChaosBroker injects.
type ChaosConfig struct {
	// FailRate is the fraction of requests failing with a transport error.
	FailRate float64
	// BusyRate is the fraction of fetches answered with CodeBrokerBusy.
	BusyRate float64
	// MinDelay and MaxDelay bound the random latency added to every request.
	MinDelay time.Duration
	MaxDelay time.Duration
	// Seed makes the failure sequence reproducible.
	Seed uint64
}

// ChaosStats counts what a ChaosBroker injected.
type ChaosStats struct {
	Requests int64
	Failures int64
	Busy     int64
}

// ChaosBroker wraps a broker with random latency and failures.
//
// Failures never corrupt data: a failed request is simply not forwarded, so a
// reader that retries must still see every message exactly once and in order.
type ChaosBroker struct {
	next types.Broker
	cfg  ChaosConfig

	mu  sync.Mutex
	rng *rand.Rand

	enabled  atomic.Bool
	requests atomic.Int64
	failures atomic.Int64
	busy     atomic.Int64
}

var _ types.Broker = (*ChaosBroker)(nil)

// NewChaosBroker wraps next. Chaos starts enabled.
//
// Example:
//
//	c.Wrap("broker-a", func(b types.Broker) types.Broker {
//	    return testutil.NewChaosBroker(b, testutil.ChaosConfig{FailRate: 0.2, Seed: 7})
//	})
func NewChaosBroker(next types.Broker, cfg ChaosConfig) *ChaosBroker {
	b := &ChaosBroker{
		next: next,
		cfg:  cfg,
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)), //nolint:gosec // test randomness
	}
	b.enabled.Store(true)

	return b
}

// SetEnabled turns injection on or off; a disabled broker only forwards.
func (b *ChaosBroker) SetEnabled(enabled bool) {
	b.enabled.Store(enabled)
}

// Stats returns the injection counters.
func (b *ChaosBroker) Stats() ChaosStats {
	return ChaosStats{
		Requests: b.requests.Load(),
		Failures: b.failures.Load(),
		Busy:     b.busy.Load(),
	}
}

// roll draws the delay and outcome of one request.
func (b *ChaosBroker) roll() (delay time.Duration, fail, busy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay = b.cfg.MinDelay
	if span := b.cfg.MaxDelay - b.cfg.MinDelay; span > 0 {
		delay += time.Duration(b.rng.Int64N(int64(span)))
	}
	fail = b.rng.Float64() < b.cfg.FailRate
	busy = !fail && b.rng.Float64() < b.cfg.BusyRate

	return delay, fail, busy
}

func (b *ChaosBroker) inject(ctx context.Context) (busy bool, err error) {
	b.requests.Add(1)
	if !b.enabled.Load() {
		return false, nil
	}

	delay, fail, busy := b.roll()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if fail {
		b.failures.Add(1)
		return false, types.NewError(types.CodeRPCFailed, "chaos: injected failure")
	}
	if busy {
		b.busy.Add(1)
	}

	return busy, nil
}

// Fetch forwards the request unless a failure or busy response is injected.
func (b *ChaosBroker) Fetch(ctx context.Context, req *types.FetchRequest) (*types.FetchResponse, error) {
	busy, err := b.inject(ctx)
	if err != nil {
		return nil, err
	}
	if busy {
		return &types.FetchResponse{Code: types.CodeBrokerBusy, ErrorMessage: "chaos: busy"}, nil
	}

	return b.next.Fetch(ctx, req)
}

// MessageIDByTime forwards the request unless a failure is injected.
func (b *ChaosBroker) MessageIDByTime(ctx context.Context, req *types.MessageIDByTimeRequest) (*types.MessageIDByTimeResponse, error) {
	if _, err := b.inject(ctx); err != nil {
		return nil, err
	}

	return b.next.MessageIDByTime(ctx, req)
}
