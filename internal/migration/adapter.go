// Package migration keeps a topic readable while its metadata changes.
//
// An Adapter owns the topic reader of one configured topic. When the partition
// count of the topic changes, or a logical topic moves on to its next physical
// topic, the adapter rebuilds the topic reader and carries the read position,
// the timestamp limit and the field settings over to the new one.
package migration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/mqread/internal/hooks"
	"github.com/arloliu/mqread/internal/logging"
	"github.com/arloliu/mqread/internal/metrics"
	"github.com/arloliu/mqread/internal/notify"
	"github.com/arloliu/mqread/internal/partition"
	"github.com/arloliu/mqread/internal/topic"
	"github.com/arloliu/mqread/internal/transport"
	"github.com/arloliu/mqread/types"
)

// ownPartitions is the chain index of the partitions a LOGIC_PHYSIC topic holds
// itself, before its first physical topic.
const ownPartitions = -1

// Params holds everything an Adapter is built from.
type Params struct {
	// Config.Topic is the name the application reads, logical or not.
	Config types.ReaderConfig

	Admin    types.AdminClient
	Pool     types.ChannelPool
	Resolver *transport.AddressResolver
	Notifier *notify.Notifier

	Logger  types.Logger
	Metrics types.MetricsCollector
	Hooks   *types.Hooks
	Now     func() time.Time
	Seed    int64
}

type switchReason int

const (
	reasonChanged switchReason = iota
	reasonFinished
)

// target is the broker topic a topic reader is built for.
type target struct {
	name  string
	count uint32
	// index is the position in the physical chain, ownPartitions, or 0 for
	// topics that are not logical.
	index int
}

// Adapter is the migration state machine of one topic.
type Adapter struct {
	admin    types.AdminClient
	pool     types.ChannelPool
	resolver *transport.AddressResolver
	notifier *notify.Notifier
	logger   types.Logger
	metrics  types.MetricsCollector
	hooks    types.Hooks
	now      func() time.Time
	seed     int64

	state   atomic.Int32
	current atomic.Pointer[topic.Reader]

	mu        sync.Mutex
	cfg       types.ReaderConfig
	meta      *types.TopicMetadata
	at        target
	reason    switchReason
	limit     int64
	pendingID int64
	hasID     bool
	finished  bool
	switchErr error
}

// New fetches the topic metadata and builds the first topic reader. A logical
// topic starts at its earliest data.
//
// Returns:
//   - *Adapter: Adapter in StateSteady
//   - error: Admin lookup error, ErrPhysicTopicSwitchNotReady for a logical topic
//     without physical topics, or a topic reader construction error
func New(ctx context.Context, p Params) (*Adapter, error) {
	if p.Admin == nil {
		return nil, types.ErrAdminClientRequired
	}
	if p.Pool == nil {
		return nil, types.ErrChannelPoolRequired
	}
	if err := p.Config.Validate(); err != nil {
		return nil, err
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
	if p.Notifier == nil {
		p.Notifier = notify.New()
	}
	if p.Resolver == nil {
		p.Resolver = transport.NewAddressResolver(p.Admin, p.Config.AddressCacheTTL, p.Metrics)
	}

	a := &Adapter{
		admin:    p.Admin,
		pool:     p.Pool,
		resolver: p.Resolver,
		notifier: p.Notifier,
		logger:   p.Logger,
		metrics:  p.Metrics,
		hooks:    hooks.Fill(p.Hooks),
		now:      p.Now,
		seed:     p.Seed,
		cfg:      p.Config.Clone(),
		limit:    partition.NoLimit,
	}

	meta, err := a.fetchMetadata(ctx)
	if err != nil {
		return nil, err
	}
	at, err := resolve(meta, types.Checkpoint{})
	if err != nil {
		return nil, err
	}
	r, err := a.build(meta, at, meta.Version)
	if err != nil {
		return nil, err
	}

	a.meta, a.at = meta, at
	a.current.Store(r)
	a.state.Store(int32(types.StateSteady))

	return a, nil
}

// Topic returns the configured topic name.
func (a *Adapter) Topic() string {
	return a.cfg.Topic
}

// State returns the migration state.
func (a *Adapter) State() types.MigrationState {
	return types.MigrationState(a.state.Load())
}

// Physic returns the broker topic currently read.
func (a *Adapter) Physic() string {
	return a.current.Load().Topic()
}

// Notifier returns the signal pulsed by every request of the adapter.
func (a *Adapter) Notifier() *notify.Notifier {
	return a.notifier
}

func (a *Adapter) fetchMetadata(ctx context.Context) (*types.TopicMetadata, error) {
	meta, err := a.admin.TopicInfo(ctx, a.cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("topic info of %s: %w", a.cfg.Topic, err)
	}
	if err := meta.Normalize(); err != nil {
		return nil, err
	}
	if !meta.Type.IsLogical() && meta.PartitionCount == 0 {
		return nil, types.NewError(types.CodeInvalidParameters, "topic %s has no partitions", a.cfg.Topic)
	}

	return meta, nil
}

// resolve picks the broker topic holding position cp.
//
// For a logical topic it is the latest physical topic starting at or before cp.
// Before the first one, LOGIC_PHYSIC topics read their own partitions and LOGIC
// topics the first physical topic.
func resolve(meta *types.TopicMetadata, cp types.Checkpoint) (target, error) {
	if !meta.Type.IsLogical() {
		return target{name: meta.Name, count: meta.PartitionCount}, nil
	}

	chain := meta.PhysicTopics
	idx := -1
	for i, pt := range chain {
		if pt.StartTime <= cp.Timestamp {
			idx = i
		}
	}
	if idx < 0 {
		if meta.Type == types.TopicLogicPhysic && meta.PartitionCount > 0 {
			return target{name: meta.Name, count: meta.PartitionCount, index: ownPartitions}, nil
		}
		if len(chain) == 0 {
			return target{}, types.NewError(types.CodePhysicTopicSwitchNotReady,
				"logical topic %s has no physical topic", meta.Name)
		}
		idx = 0
	}

	return chainTarget(meta, idx), nil
}

func chainTarget(meta *types.TopicMetadata, idx int) target {
	pt := meta.PhysicTopics[idx]
	return target{name: pt.Name, count: pt.PartitionCount, index: idx}
}

// indexOf returns the chain position of a broker topic in meta.
func indexOf(meta *types.TopicMetadata, name string) (int, bool) {
	if meta.Type == types.TopicLogicPhysic && name == meta.Name {
		return ownPartitions, true
	}
	i := slices.IndexFunc(meta.PhysicTopics, func(pt types.PhysicTopic) bool { return pt.Name == name })

	return i, i >= 0
}

func (a *Adapter) build(meta *types.TopicMetadata, at target, version int64) (*topic.Reader, error) {
	cfg := a.cfg.Clone()
	cfg.Topic = at.name

	return topic.New(topic.Params{
		Config:         cfg,
		Name:           a.cfg.Topic,
		PartitionCount: at.count,
		Version:        version,
		Admin:          a.admin,
		Pool:           a.pool,
		Resolver:       a.resolver,
		Notifier:       a.notifier,
		Logger:         a.logger,
		Metrics:        a.metrics,
		Now:            a.now,
		Seed:           a.seed,
	})
}

// Read returns the next message, switching topic readers as needed.
func (a *Adapter) Read(ctx context.Context, timeout time.Duration) (*types.Message, int64, error) {
	var msg *types.Message
	ts, err := a.readLoop(ctx, timeout, func(r *topic.Reader, d time.Duration) (int64, error) {
		m, cp, err := r.Read(ctx, d)
		msg = m
		return cp, err
	})

	return msg, ts, err
}

// ReadBatch returns the next batch, switching topic readers as needed.
func (a *Adapter) ReadBatch(ctx context.Context, timeout time.Duration) ([]*types.Message, int64, error) {
	var msgs []*types.Message
	ts, err := a.readLoop(ctx, timeout, func(r *topic.Reader, d time.Duration) (int64, error) {
		m, cp, err := r.ReadBatch(ctx, d)
		msgs = m
		return cp, err
	})

	return msgs, ts, err
}

func (a *Adapter) readLoop(ctx context.Context, timeout time.Duration, read func(*topic.Reader, time.Duration) (int64, error)) (int64, error) {
	deadline := a.now().Add(timeout)
	for {
		r, err := a.ready(ctx)
		if err != nil {
			return a.current.Load().Checkpoint().Timestamp, err
		}

		ts, err := read(r, max(deadline.Sub(a.now()), 0))
		if err == nil {
			return ts, nil
		}
		retry, err := a.handle(ctx, r, err)
		if !retry {
			return ts, err
		}
	}
}

// Peek reports the next message of the current topic reader without consuming it.
func (a *Adapter) Peek(ctx context.Context) (topic.Head, time.Duration, error) {
	for {
		r, err := a.ready(ctx)
		if err != nil {
			return topic.Head{}, 0, err
		}

		head, wait, err := r.Peek()
		if err == nil {
			return head, 0, nil
		}
		retry, err := a.handle(ctx, r, err)
		if !retry {
			return head, wait, err
		}
	}
}

// Fill lets the current topic reader collect results and post requests.
func (a *Adapter) Fill() time.Duration {
	if a.State() == types.StateClosed {
		return partition.WaitForever
	}

	return a.current.Load().Fill()
}

// ready finishes a pending switch and returns the reader to use.
func (a *Adapter) ready(ctx context.Context) (*topic.Reader, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.State() {
	case types.StateClosed:
		return nil, types.ErrReaderClosed
	case types.StateSwitching:
		if err := a.switchLocked(ctx); err != nil {
			return nil, err
		}
	}
	if a.finished {
		return nil, types.ErrSealedTopicReadFinish
	}

	return a.current.Load(), nil
}

// handle reacts to a read error of r.
//
// Returns:
//   - bool: true when the read should be retried with the current reader
//   - error: Error to return otherwise
func (a *Adapter) handle(ctx context.Context, r *topic.Reader, readErr error) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.State() == types.StateClosed {
		return false, types.ErrReaderClosed
	}
	if a.current.Load() != r {
		// Swapped by a concurrent seek or read.
		return true, nil
	}

	switch {
	case errors.Is(readErr, types.ErrTopicChanged):
		a.reason = reasonChanged
	case errors.Is(readErr, types.ErrSealedTopicReadFinish) && a.meta.Type.IsLogical():
		a.reason = reasonFinished
	case errors.Is(readErr, types.ErrSealedTopicReadFinish):
		a.finished = true
		return false, readErr
	default:
		if types.CodeOf(readErr).IsFatal() {
			a.fireError(readErr)
		}
		return false, readErr
	}

	a.state.Store(int32(types.StateSwitching))
	if err := a.switchLocked(ctx); err != nil {
		return false, err
	}
	if a.finished {
		return false, types.ErrSealedTopicReadFinish
	}

	return true, nil
}

// switchLocked runs one switch attempt. On failure the adapter stays in
// StateSwitching and the next read retries.
func (a *Adapter) switchLocked(ctx context.Context) error {
	old := a.current.Load()

	meta, err := a.fetchMetadata(ctx)
	if err != nil {
		a.switchErr = err
		return err
	}

	at, err := a.next(meta, old)
	if errors.Is(err, types.ErrPhysicTopicSwitchNotReady) && meta.Version < old.ObservedVersion() {
		// The admin view lags behind what brokers reported; look once more.
		a.logger.Debug("topic metadata stale, refetching",
			"topic", a.cfg.Topic,
			"version", meta.Version,
			"observed", old.ObservedVersion(),
		)
		if meta, err = a.fetchMetadata(ctx); err == nil {
			at, err = a.next(meta, old)
		}
	}
	if errors.Is(err, types.ErrSealedTopicReadFinish) {
		a.meta, a.finished, a.switchErr = meta, true, nil
		a.state.Store(int32(types.StateSteady))
		return nil
	}
	if err != nil {
		a.switchErr = err
		a.metrics.RecordTopicSwitch(a.cfg.Topic, false)
		return err
	}

	version := max(meta.Version, old.ObservedVersion())
	if at.name == old.Topic() && at.count == old.PartitionCount() {
		old.UpdateVersion(version)
		a.meta, a.at, a.switchErr = meta, at, nil
		a.state.Store(int32(types.StateSteady))
		a.logger.Debug("topic version updated without rebuild",
			"topic", a.cfg.Topic,
			"physic", at.name,
			"version", version,
		)

		return nil
	}

	if at.name != old.Topic() {
		// A different broker topic has versions of its own.
		version = meta.Version
	}
	nr, err := a.build(meta, at, version)
	if err != nil {
		a.switchErr = err
		a.metrics.RecordTopicSwitch(a.cfg.Topic, false)
		return err
	}
	if err := a.position(nr, old, a.reason == reasonFinished); err != nil {
		nr.Close()
		a.switchErr = err
		a.metrics.RecordTopicSwitch(a.cfg.Topic, false)
		return err
	}

	a.swap(nr, old, meta, at)

	return nil
}

// next computes the target of the pending switch.
func (a *Adapter) next(meta *types.TopicMetadata, old *topic.Reader) (target, error) {
	if a.reason == reasonFinished {
		cur, ok := indexOf(meta, old.Topic())
		if !ok {
			return resolve(meta, old.Checkpoint())
		}
		if cur+1 < len(meta.PhysicTopics) {
			return chainTarget(meta, cur+1), nil
		}
		if meta.Sealed {
			return target{}, types.ErrSealedTopicReadFinish
		}

		return target{}, types.NewError(types.CodePhysicTopicSwitchNotReady,
			"no physical topic after %s of %s", old.Topic(), meta.Name)
	}

	at, err := resolve(meta, old.Checkpoint())
	if err != nil {
		return at, err
	}
	// Never step back along the chain while the current topic still exists.
	if cur, ok := indexOf(meta, old.Topic()); ok && meta.Type.IsLogical() && cur > at.index {
		return chainTarget(meta, cur), nil
	}

	return at, nil
}

// position seeks nr to where old stopped and carries the timestamp limit over.
// The next physical topic of a chain is read from its start.
func (a *Adapter) position(nr, old *topic.Reader, fromStart bool) error {
	switch {
	case a.hasID:
		a.hasID = false
		if err := nr.SeekByMessageID(a.pendingID); err != nil {
			return err
		}
	case fromStart:
	default:
		progress := old.Progress()
		if err := nr.SeekByProgress(&progress, true); err != nil {
			return err
		}
	}
	if a.limit != partition.NoLimit {
		nr.SetTimestampLimit(a.limit)
	}

	return nil
}

func (a *Adapter) swap(nr, old *topic.Reader, meta *types.TopicMetadata, at target) {
	from := old.Topic()
	a.current.Store(nr)
	old.Close()
	a.meta, a.at, a.switchErr = meta, at, nil
	a.state.Store(int32(types.StateSteady))
	a.metrics.RecordTopicSwitch(a.cfg.Topic, true)

	a.logger.Info("topic reader switched",
		"topic", a.cfg.Topic,
		"from", from,
		"to", at.name,
		"partitions", at.count,
		"version", meta.Version,
	)

	hook, logical, to := a.hooks.OnTopicSwitched, a.cfg.Topic, at.name
	go func() {
		if err := hook(context.Background(), logical, from, to); err != nil {
			a.logger.Warn("topic switched hook failed", "topic", logical, "error", err)
		}
	}()
}

func (a *Adapter) fireError(err error) {
	hook := a.hooks.OnError
	go func() {
		if herr := hook(context.Background(), err); herr != nil {
			a.logger.Warn("error hook failed", "topic", a.cfg.Topic, "error", herr)
		}
	}()
}

// Finished reports whether a sealed topic was read to its end.
func (a *Adapter) Finished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.finished
}

// Checkpoint returns the checkpoint of the current topic reader.
func (a *Adapter) Checkpoint() types.Checkpoint {
	return a.current.Load().Checkpoint()
}

// SeekByTimestamp moves the read position to ts. On a logical topic the
// position may live in another physical topic, which is then read instead.
func (a *Adapter) SeekByTimestamp(ctx context.Context, ts int64, force bool) error {
	cp := types.Checkpoint{Timestamp: ts}
	progress := &types.Progress{
		TopicName:  a.cfg.Topic,
		Partitions: []types.PartitionProgress{{From: 0, To: types.MaxHashKey, Timestamp: ts}},
	}

	return a.seek(ctx, cp, force, func(r *topic.Reader) error {
		r.SeekByTimestamp(ts, force)
		return nil
	}, progress)
}

// SeekByProgress moves the read position to progress, recorded under the
// configured topic name.
func (a *Adapter) SeekByProgress(ctx context.Context, progress *types.Progress, force bool) error {
	if progress == nil {
		return types.NewError(types.CodeInvalidParameters, "nil progress")
	}
	if err := progress.Validate(); err != nil {
		return err
	}
	cp, ok := progress.Covering(0, types.MaxHashKey)
	if !ok {
		return nil
	}

	return a.seek(ctx, cp, force, func(r *topic.Reader) error {
		return r.SeekByProgress(progress, force)
	}, progress)
}

func (a *Adapter) seek(ctx context.Context, cp types.Checkpoint, force bool, apply func(*topic.Reader) error, progress *types.Progress) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.State() == types.StateClosed {
		return types.ErrReaderClosed
	}
	old := a.current.Load()
	a.hasID = false

	if a.meta.Type.IsLogical() {
		if meta, err := a.fetchMetadata(ctx); err == nil {
			a.meta = meta
		} else {
			a.logger.Warn("topic metadata refresh failed, seeking with cached chain",
				"topic", a.cfg.Topic,
				"error", err,
			)
		}

		at, err := resolve(a.meta, cp)
		if err != nil {
			return err
		}
		if at.name != old.Topic() && (force || old.Checkpoint().Less(cp)) {
			nr, err := a.build(a.meta, at, a.meta.Version)
			if err != nil {
				return err
			}
			if err := nr.SeekByProgress(progress, true); err != nil {
				nr.Close()
				return err
			}
			if a.limit != partition.NoLimit {
				nr.SetTimestampLimit(a.limit)
			}
			a.finished = false
			a.swap(nr, old, a.meta, at)

			return nil
		}
	}

	if err := apply(old); err != nil {
		return err
	}
	if force {
		a.finished = false
	}

	return nil
}

// SeekByMessageID moves a single-partition reader to message id. During a
// switch the id is applied to the rebuilt reader.
func (a *Adapter) SeekByMessageID(id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.State() {
	case types.StateClosed:
		return types.ErrReaderClosed
	case types.StateSwitching:
		if id < 0 {
			return types.NewError(types.CodeInvalidParameters, "negative message id %d", id)
		}
		a.pendingID, a.hasID = id, true
		return nil
	}
	a.finished = false

	return a.current.Load().SeekByMessageID(id)
}

// SetTimestampLimit sets the limit of the current and every later topic reader.
func (a *Adapter) SetTimestampLimit(limit int64) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	accepted := a.current.Load().SetTimestampLimit(limit)
	a.limit = accepted

	return accepted
}

// ExceedTimestampLimit reports whether the current topic reader is past its limit.
func (a *Adapter) ExceedTimestampLimit() bool {
	return a.current.Load().ExceedTimestampLimit()
}

// Progress returns the progress of the current reader under the configured name.
func (a *Adapter) Progress() types.Progress {
	p := a.current.Load().Progress()
	p.TopicName = a.cfg.Topic

	return p
}

// CheckCurrentError returns the error of the current reader, or of the last
// failed switch attempt.
func (a *Adapter) CheckCurrentError() error {
	if err := a.current.Load().CheckCurrentError(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	return a.switchErr
}

// SetRequiredFieldNames changes the field projection, kept across switches.
func (a *Adapter) SetRequiredFieldNames(names []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cfg.RequiredFieldNames = slices.Clone(names)
	a.current.Load().SetRequiredFieldNames(names)
}

// SetFieldFilterDesc changes the field filter, kept across switches.
func (a *Adapter) SetFieldFilterDesc(desc string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cfg.FieldFilterDesc = desc
	a.current.Load().SetFieldFilterDesc(desc)
}

// Status returns the status of the current reader.
func (a *Adapter) Status() types.TopicStatus {
	st := a.current.Load().Status()
	st.Topic = a.cfg.Topic
	st.Switching = a.State() == types.StateSwitching

	return st
}

// Close closes the current topic reader.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.State() == types.StateClosed {
		return
	}
	a.state.Store(int32(types.StateClosed))
	a.current.Load().Close()
}
