// Package multi reads several topics through one interface.
//
// Each topic is served by its own migration adapter. All adapters share one
// notifier, so a read blocked on the group wakes on progress of any topic.
// The topic to read is chosen by a types.ReadStrategy.
package multi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/mqread/internal/logging"
	"github.com/arloliu/mqread/internal/metrics"
	"github.com/arloliu/mqread/internal/migration"
	"github.com/arloliu/mqread/internal/notify"
	"github.com/arloliu/mqread/internal/partition"
	"github.com/arloliu/mqread/internal/transport"
	"github.com/arloliu/mqread/strategy"
	"github.com/arloliu/mqread/types"
)

// Params holds everything a Reader is built from.
type Params struct {
	// Configs has one entry per topic; topic names must be distinct.
	Configs  []types.ReaderConfig
	Strategy types.ReadStrategy

	Admin types.AdminClient
	Pool  types.ChannelPool

	Logger  types.Logger
	Metrics types.MetricsCollector
	Hooks   *types.Hooks
	Now     func() time.Time
	Seed    int64
}

// Reader reads a group of topics.
type Reader struct {
	adapters []*migration.Adapter
	index    map[string]int
	strategy types.ReadStrategy
	notifier *notify.Notifier
	logger   types.Logger
	metrics  types.MetricsCollector
	now      func() time.Time

	// readMu serializes Read and ReadBatch.
	readMu sync.Mutex
	last   int
	closed atomic.Bool
}

// New builds one migration adapter per configured topic.
//
// Returns:
//   - *Reader: Reader over every configured topic
//   - error: ErrInvalidConfig for an empty or duplicated topic list, or the
//     first adapter construction error
func New(ctx context.Context, p Params) (*Reader, error) {
	if len(p.Configs) == 0 {
		return nil, fmt.Errorf("%w: at least one topic is required", types.ErrInvalidConfig)
	}
	if p.Admin == nil {
		return nil, types.ErrAdminClientRequired
	}
	if p.Pool == nil {
		return nil, types.ErrChannelPoolRequired
	}
	if p.Strategy == nil {
		p.Strategy = strategy.NewPriority()
	}
	if p.Logger == nil {
		p.Logger = logging.NewNop()
	}
	if p.Metrics == nil {
		p.Metrics = metrics.NewNop()
	}
	if p.Now == nil {
		p.Now = time.Now
	}

	r := &Reader{
		index:    make(map[string]int, len(p.Configs)),
		strategy: p.Strategy,
		notifier: notify.New(),
		logger:   p.Logger,
		metrics:  p.Metrics,
		now:      p.Now,
		last:     -1,
	}
	for i, cfg := range p.Configs {
		if _, dup := r.index[cfg.Topic]; dup {
			return nil, fmt.Errorf("%w: topic %s configured twice", types.ErrInvalidConfig, cfg.Topic)
		}
		r.index[cfg.Topic] = i
	}

	// Topics share the address cache; the TTL of the first topic applies.
	resolver := transport.NewAddressResolver(p.Admin, p.Configs[0].AddressCacheTTL, p.Metrics)
	for i, cfg := range p.Configs {
		a, err := migration.New(ctx, migration.Params{
			Config:   cfg,
			Admin:    p.Admin,
			Pool:     p.Pool,
			Resolver: resolver,
			Notifier: r.notifier,
			Logger:   p.Logger,
			Metrics:  p.Metrics,
			Hooks:    p.Hooks,
			Now:      p.Now,
			Seed:     p.Seed + int64(i)<<16,
		})
		if err != nil {
			r.closeAdapters()
			return nil, fmt.Errorf("topic %s: %w", cfg.Topic, err)
		}
		r.adapters = append(r.adapters, a)
	}

	return r, nil
}

// Topics returns the configured topic names in order.
func (r *Reader) Topics() []string {
	names := make([]string, len(r.adapters))
	for i, a := range r.adapters {
		names[i] = a.Topic()
	}

	return names
}

// Read returns the next message of the group.
//
// Returns:
//   - *types.Message: Next message
//   - int64: Group checkpoint timestamp, the smallest checkpoint of any
//     unfinished topic
//   - error: ErrNoMoreMessage on timeout, ErrExceedTimestampLimit when every
//     topic is past its limit, ErrSealedTopicReadFinish when every topic is
//     finished, or the error of the topic read
func (r *Reader) Read(ctx context.Context, timeout time.Duration) (*types.Message, int64, error) {
	var msg *types.Message
	cp, err := r.read(ctx, timeout, func(a *migration.Adapter, d time.Duration) error {
		m, _, err := a.Read(ctx, d)
		msg = m
		return err
	})

	return msg, cp, err
}

// ReadBatch returns the next batch of one topic of the group.
func (r *Reader) ReadBatch(ctx context.Context, timeout time.Duration) ([]*types.Message, int64, error) {
	var msgs []*types.Message
	cp, err := r.read(ctx, timeout, func(a *migration.Adapter, d time.Duration) error {
		m, _, err := a.ReadBatch(ctx, d)
		msgs = m
		return err
	})

	return msgs, cp, err
}

func (r *Reader) read(ctx context.Context, timeout time.Duration, read func(*migration.Adapter, time.Duration) error) (int64, error) {
	r.readMu.Lock()
	defer r.readMu.Unlock()

	if r.closed.Load() {
		return 0, types.ErrReaderClosed
	}

	var err error
	if r.strategy.NeedsPeek() {
		err = r.readPeeked(ctx, timeout, read)
	} else {
		err = r.readSelected(ctx, timeout, read)
	}

	return r.checkpointTimestamp(), err
}

// readPeeked peeks every topic, reads the selected one and waits on the shared
// notifier while the strategy selects nothing.
func (r *Reader) readPeeked(ctx context.Context, timeout time.Duration, read func(*migration.Adapter, time.Duration) error) error {
	deadline := r.now().Add(timeout)
	candidates := make([]types.TopicCandidate, len(r.adapters))
	for {
		r.notifier.Arm()

		wait := partition.WaitForever
		var transient error
		for i, a := range r.adapters {
			c := types.TopicCandidate{Index: i, Topic: a.Topic(), Finished: a.Finished()}
			if !c.Finished {
				head, w, err := a.Peek(ctx)
				switch {
				case err == nil:
					c.Ready, c.Known, c.Timestamp = true, true, head.Timestamp
				case errors.Is(err, types.ErrNoMoreMessage):
					c.Known, c.Timestamp = head.Known, head.Timestamp
					wait = min(wait, w)
				case errors.Is(err, types.ErrExceedTimestampLimit):
					c.Exceeding = true
				case errors.Is(err, types.ErrSealedTopicReadFinish):
					c.Finished = true
				case errors.Is(err, types.ErrPhysicTopicSwitchNotReady):
					transient = err
				default:
					return err
				}
			}
			candidates[i] = c
		}

		if i := r.strategy.Select(candidates, r.last); i >= 0 {
			err := read(r.adapters[candidates[i].Index], 0)
			if err == nil {
				r.last = candidates[i].Index
				return nil
			}
			if !errors.Is(err, types.ErrNoMoreMessage) {
				return err
			}
			continue
		}
		if err := aggregate(candidates); err != nil {
			return err
		}

		if wait == 0 {
			continue
		}
		remaining := deadline.Sub(r.now())
		if remaining <= 0 {
			if transient != nil {
				return transient
			}
			return types.ErrNoMoreMessage
		}
		r.notifier.Wait(ctx, min(wait, remaining))
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.closed.Load() {
			return types.ErrReaderClosed
		}
	}
}

// readSelected reads the topic the strategy selects with the remaining timeout.
// A topic found exceeding or finished is skipped and the selection repeats. Only
// a successful read moves the rotation past the selected topic.
func (r *Reader) readSelected(ctx context.Context, timeout time.Duration, read func(*migration.Adapter, time.Duration) error) error {
	deadline := r.now().Add(timeout)
	candidates := make([]types.TopicCandidate, len(r.adapters))
	exceeding := make([]bool, len(r.adapters))
	for i, a := range r.adapters {
		exceeding[i] = a.ExceedTimestampLimit()
	}

	for {
		for i, a := range r.adapters {
			candidates[i] = types.TopicCandidate{
				Index:     i,
				Topic:     a.Topic(),
				Exceeding: exceeding[i],
				Finished:  a.Finished(),
			}
		}

		i := r.strategy.Select(candidates, r.last)
		if i < 0 {
			if err := aggregate(candidates); err != nil {
				return err
			}
			return types.ErrNoMoreMessage
		}
		idx := candidates[i].Index

		err := read(r.adapters[idx], max(deadline.Sub(r.now()), 0))
		switch {
		case err == nil:
			r.last = idx
			return nil
		case errors.Is(err, types.ErrExceedTimestampLimit):
			exceeding[idx] = true
		case errors.Is(err, types.ErrSealedTopicReadFinish):
			// Finished() now reports the topic.
		default:
			return err
		}
	}
}

// aggregate returns the group error when no topic is eligible.
func aggregate(candidates []types.TopicCandidate) error {
	finished, exceeding := 0, 0
	for _, c := range candidates {
		switch {
		case c.Finished:
			finished++
		case c.Exceeding:
			exceeding++
		default:
			return nil
		}
	}
	if exceeding > 0 {
		return types.ErrExceedTimestampLimit
	}
	if finished > 0 {
		return types.ErrSealedTopicReadFinish
	}

	return nil
}

func (r *Reader) checkpointTimestamp() int64 {
	cp := partition.NoLimit
	last := int64(0)
	for _, a := range r.adapters {
		ts := a.Checkpoint().Timestamp
		last = max(last, ts)
		if !a.Finished() {
			cp = min(cp, ts)
		}
	}
	if cp == partition.NoLimit {
		return last
	}

	return cp
}

// Fill lets every topic collect results and post requests.
//
// Returns:
//   - time.Duration: Shortest wait any topic asked for
func (r *Reader) Fill() time.Duration {
	wait := partition.WaitForever
	if r.closed.Load() {
		return wait
	}
	for _, a := range r.adapters {
		wait = min(wait, a.Fill())
	}

	return wait
}

func (r *Reader) adapter(topic string) (*migration.Adapter, error) {
	i, ok := r.index[topic]
	if !ok {
		return nil, types.NewError(types.CodeInvalidParameters, "topic %s is not read", topic)
	}

	return r.adapters[i], nil
}

// SeekByTimestamp moves every topic to ts.
func (r *Reader) SeekByTimestamp(ctx context.Context, ts int64, force bool) error {
	if r.closed.Load() {
		return types.ErrReaderClosed
	}
	for _, a := range r.adapters {
		if err := a.SeekByTimestamp(ctx, ts, force); err != nil {
			return fmt.Errorf("topic %s: %w", a.Topic(), err)
		}
	}
	r.notifier.Notify()

	return nil
}

// SeekTopicByTimestamp moves one topic to ts.
func (r *Reader) SeekTopicByTimestamp(ctx context.Context, topic string, ts int64, force bool) error {
	a, err := r.adapter(topic)
	if err != nil {
		return err
	}
	defer r.notifier.Notify()

	return a.SeekByTimestamp(ctx, ts, force)
}

// SeekByMessageID moves the only partition of the only topic to id.
func (r *Reader) SeekByMessageID(id int64) error {
	if len(r.adapters) != 1 {
		return types.NewError(types.CodeInvalidParameters,
			"seek by message id needs exactly one topic, reader has %d", len(r.adapters))
	}
	defer r.notifier.Notify()

	return r.adapters[0].SeekByMessageID(id)
}

// SeekByProgress moves each topic to the entry of progress carrying its name.
// Topics without an entry keep their position.
func (r *Reader) SeekByProgress(ctx context.Context, progress *types.ReaderProgress, force bool) error {
	if progress == nil {
		return types.NewError(types.CodeInvalidParameters, "nil progress")
	}
	for _, tp := range progress.Topics {
		if _, ok := r.index[tp.TopicName]; !ok {
			r.logger.Debug("progress entry for unread topic ignored", "topic", tp.TopicName)
		}
	}
	for _, a := range r.adapters {
		tp, ok := progress.Topic(a.Topic())
		if !ok {
			continue
		}
		if err := a.SeekByProgress(ctx, tp, force); err != nil {
			return fmt.Errorf("topic %s: %w", a.Topic(), err)
		}
	}
	r.notifier.Notify()

	return nil
}

// SetTimestampLimit applies limit to every topic.
//
// Returns:
//   - int64: Largest limit any topic accepted
func (r *Reader) SetTimestampLimit(limit int64) int64 {
	accepted := limit
	for _, a := range r.adapters {
		accepted = max(accepted, a.SetTimestampLimit(limit))
	}
	r.notifier.Notify()

	return accepted
}

// SetTopicTimestampLimit applies limit to one topic.
func (r *Reader) SetTopicTimestampLimit(topic string, limit int64) (int64, error) {
	a, err := r.adapter(topic)
	if err != nil {
		return 0, err
	}
	defer r.notifier.Notify()

	return a.SetTimestampLimit(limit), nil
}

// ExceedTimestampLimit reports whether every unfinished topic is past its limit.
func (r *Reader) ExceedTimestampLimit() bool {
	exceeding := false
	for _, a := range r.adapters {
		if a.Finished() {
			continue
		}
		if !a.ExceedTimestampLimit() {
			return false
		}
		exceeding = true
	}

	return exceeding
}

// Progress returns one entry per topic.
func (r *Reader) Progress() types.ReaderProgress {
	rp := types.ReaderProgress{Topics: make([]types.Progress, 0, len(r.adapters))}
	for _, a := range r.adapters {
		rp.Topics = append(rp.Topics, a.Progress())
	}

	return rp
}

// CheckCurrentError returns the most severe error of any topic, carrying the
// text of every failing topic, or nil.
func (r *Reader) CheckCurrentError() error {
	worst := types.CodeNone
	var texts []string
	for _, a := range r.adapters {
		err := a.CheckCurrentError()
		if err == nil {
			continue
		}
		code := types.CodeOf(err)
		if worst == types.CodeNone || code.Severity() > worst.Severity() {
			worst = code
		}
		texts = append(texts, err.Error())
	}
	if len(texts) == 0 {
		return nil
	}

	return types.NewError(worst, "%s", strings.Join(texts, "; "))
}

// SetRequiredFieldNames changes the field projection of every topic.
func (r *Reader) SetRequiredFieldNames(names []string) {
	for _, a := range r.adapters {
		a.SetRequiredFieldNames(names)
	}
}

// SetFieldFilterDesc changes the field filter of every topic.
func (r *Reader) SetFieldFilterDesc(desc string) {
	for _, a := range r.adapters {
		a.SetFieldFilterDesc(desc)
	}
}

// Status returns one snapshot per topic.
func (r *Reader) Status() []types.TopicStatus {
	out := make([]types.TopicStatus, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Status())
	}

	return out
}

// Close closes every topic and wakes a blocked read.
func (r *Reader) Close() {
	if r.closed.Swap(true) {
		return
	}
	r.closeAdapters()
	r.notifier.Notify()
}

func (r *Reader) closeAdapters() {
	for _, a := range r.adapters {
		a.Close()
	}
}
