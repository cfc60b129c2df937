// Package transport dispatches asynchronous broker requests for one partition at a
// time and paces retries.
package transport

import (
	"context"
	"fmt"
	rand "math/rand/v2"
	"sync"
	"time"

	"github.com/arloliu/mqread/internal/logging"
	"github.com/arloliu/mqread/internal/metrics"
	"github.com/arloliu/mqread/internal/notify"
	"github.com/arloliu/mqread/types"
)

// Params holds the collaborators and tuning of an Adapter.
type Params struct {
	Topic     string
	Partition uint32

	Resolver *AddressResolver
	Pool     types.ChannelPool
	Admin    types.AdminClient
	Notifier *notify.Notifier
	Metrics  types.TransportMetrics
	Logger   types.Logger

	RPCTimeout       time.Duration
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration

	// Seed makes retry jitter deterministic when non-zero.
	Seed int64
	// Now overrides the clock used for retry pacing.
	Now func() time.Time
}

// Result is a collected request outcome.
type Result[Resp any] struct {
	Resp Resp
	Seq  uint64
	Code types.ErrorCode
	Err  error
}

// Adapter sends requests of one kind for one partition, at most one at a time.
type Adapter[Req, Resp any] struct {
	kind Kind[Req, Resp]
	p    Params
	rng  *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	inflight  *Closure[Resp]
	retryTime time.Time
	backoff   time.Duration
	failures  int
}

// NewAdapter creates an adapter for kind.
func NewAdapter[Req, Resp any](kind Kind[Req, Resp], p Params) *Adapter[Req, Resp] {
	if p.Metrics == nil {
		p.Metrics = metrics.NewNop()
	}
	if p.Logger == nil {
		p.Logger = logging.NewNop()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.RPCTimeout <= 0 {
		p.RPCTimeout = types.DefaultRPCTimeout
	}
	if p.RetryInterval <= 0 {
		p.RetryInterval = types.DefaultRetryInterval
	}
	if p.MaxRetryInterval < p.RetryInterval {
		p.MaxRetryInterval = p.RetryInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Adapter[Req, Resp]{
		kind:   kind,
		p:      p,
		rng:    newRetryRNG(p.Seed),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Post sends req asynchronously under the sequence number seq.
//
// Returns:
//   - *Closure[Resp]: Completion handle
//   - error: ErrInvalidParameters when a request is still outstanding, ErrReaderClosed after Close
func (a *Adapter[Req, Resp]) Post(req Req, seq uint64) (*Closure[Resp], error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ctx.Err() != nil {
		return nil, types.ErrReaderClosed
	}
	if a.inflight != nil {
		return nil, types.NewError(types.CodeInvalidParameters,
			"%s request for %s/%d already outstanding", a.kind.Kind(), a.p.Topic, a.p.Partition)
	}

	c := &Closure[Resp]{seq: seq, posted: a.p.Now(), notifier: a.p.Notifier}
	a.inflight = c
	go a.run(req, c)

	return c, nil
}

func (a *Adapter[Req, Resp]) run(req Req, c *Closure[Resp]) {
	ctx, cancel := context.WithTimeout(a.ctx, a.p.RPCTimeout)
	defer cancel()

	var zero Resp
	address, err := a.p.Resolver.Resolve(ctx, a.p.Topic, a.p.Partition)
	if err != nil {
		a.finish(c, "", zero, Classify(err), err)

		return
	}

	broker, err := a.p.Pool.Get(ctx, address)
	if err != nil {
		a.finish(c, address, zero, types.CodeRPCFailed, fmt.Errorf("channel to %s: %w", address, err))
		return
	}

	resp, err := a.kind.Call(ctx, broker, req)
	code := Classify(err)
	if err == nil {
		if verr := a.kind.Validate(resp); verr != nil {
			code, err = types.CodeOf(verr), verr
		} else {
			code = a.kind.Code(resp)
		}
	}
	a.p.Pool.Release(address, discardsChannel(code))
	a.finish(c, address, resp, code, err)
}

// finish applies the side effects of a classified outcome and completes c.
func (a *Adapter[Req, Resp]) finish(c *Closure[Resp], address string, resp Resp, code types.ErrorCode, err error) {
	switch {
	case code == types.CodeRPCTimeout && address != "":
		a.p.Pool.ChannelTimeout(address)
		a.p.Metrics.RecordChannelTimeout(address)
	case invalidatesRoute(code):
		a.p.Resolver.Invalidate(a.p.Topic, a.p.Partition)
		if a.p.Admin != nil {
			a.p.Admin.ReportBrokerError(a.p.Topic, a.p.Partition, address, code)
		}
	}
	if code.IsFatal() {
		a.p.Logger.Debug("broker request failed",
			"kind", a.kind.Kind().String(),
			"topic", a.p.Topic,
			"partition", a.p.Partition,
			"address", address,
			"code", code.String(),
			"error", err,
		)
	}
	a.p.Metrics.RecordRequest(a.kind.Kind().String(), code, a.p.Now().Sub(c.posted).Seconds())
	c.complete(address, resp, code, err)
}

// Pending reports whether a request was posted and not collected yet.
func (a *Adapter[Req, Resp]) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.inflight != nil
}

// IsDone reports whether the outstanding request completed.
func (a *Adapter[Req, Resp]) IsDone() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.inflight != nil && a.inflight.IsDone()
}

// Collect takes the result of a completed request and updates retry pacing.
//
// Returns:
//   - Result[Resp]: Response, posting sequence and classified code
//   - error: ErrInvalidParameters when nothing completed
func (a *Adapter[Req, Resp]) Collect() (Result[Resp], error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c := a.inflight
	if c == nil || !c.IsDone() {
		return Result[Resp]{}, types.NewError(types.CodeInvalidParameters, "no completed %s request", a.kind.Kind())
	}
	a.inflight = nil

	var interval time.Duration
	switch {
	case c.code.IsFatal() || c.code == types.CodeBrokerBusy:
		a.failures++
		a.backoff = jitterBackoff(a.backoff, a.p.RetryInterval, backoffMultiplier, a.p.MaxRetryInterval, a.rng)
		interval = a.backoff
	case c.code == types.CodeNone && a.kind.HasData(c.resp):
		a.failures, a.backoff = 0, 0
	default:
		a.failures, a.backoff = 0, 0
		interval = a.p.RetryInterval
	}
	a.retryTime = a.p.Now().Add(interval)

	return Result[Resp]{Resp: c.resp, Seq: c.seq, Code: c.code, Err: c.err}, nil
}

// CanPost reports whether a new request may be posted at now.
func (a *Adapter[Req, Resp]) CanPost(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.inflight == nil && !now.Before(a.retryTime)
}

// RetryAfter returns how long until a new request may be posted.
func (a *Adapter[Req, Resp]) RetryAfter(now time.Time) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	if now.Before(a.retryTime) {
		return a.retryTime.Sub(now)
	}

	return 0
}

// ResetRetry lets the next post go out immediately.
func (a *Adapter[Req, Resp]) ResetRetry() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.retryTime = time.Time{}
}

// Failures returns the number of consecutive failed requests.
func (a *Adapter[Req, Resp]) Failures() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.failures
}

// Close cancels the outstanding request. Its closure still completes.
func (a *Adapter[Req, Resp]) Close() {
	a.cancel()
}
