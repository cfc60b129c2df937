// Package topic merges the partitions of one broker topic into a single stream
// ordered by timestamp.
package topic

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/mqread/internal/codec"
	"github.com/arloliu/mqread/internal/hash"
	"github.com/arloliu/mqread/internal/logging"
	"github.com/arloliu/mqread/internal/metrics"
	"github.com/arloliu/mqread/internal/notify"
	"github.com/arloliu/mqread/internal/partition"
	"github.com/arloliu/mqread/internal/transport"
	"github.com/arloliu/mqread/types"
)

// Params holds everything a topic reader is built from.
type Params struct {
	// Config describes what to read; Config.Topic is the broker topic.
	Config types.ReaderConfig
	// Name is the topic name reported in status, defaulting to Config.Topic.
	Name           string
	PartitionCount uint32
	Version        int64

	Admin    types.AdminClient
	Pool     types.ChannelPool
	Resolver *transport.AddressResolver
	// Notifier is shared with other readers waiting on the same caller; a
	// private one is created when nil.
	Notifier *notify.Notifier
	Schemas  *codec.SchemaCache

	Logger  types.Logger
	Metrics types.MetricsCollector
	Now     func() time.Time
	Seed    int64
}

// Reader reads one broker topic.
//
// Messages of all partitions are delivered in non-decreasing timestamp order,
// equal timestamps in partition index order.
type Reader struct {
	cfg      types.ReaderConfig
	name     string
	count    uint32
	logger   types.Logger
	metrics  types.MetricsCollector
	now      func() time.Time
	notifier *notify.Notifier

	version atomic.Int64
	watch   atomic.Int64

	mu         sync.Mutex
	partitions []*partition.Reader
	// pending holds the messages of the last batch pick not handed out yet.
	pending []*types.Message
	cp      types.Checkpoint
	cpValid bool
	closed  bool
}

// New creates a topic reader positioned at the start of every partition.
//
// Returns:
//   - *Reader: Reader owning one partition reader per selected partition
//   - error: Invalid configuration, InvalidPartitionID for an out-of-range requested
//     partition, InvalidParameters when no partition overlaps the key range
func New(p Params) (*Reader, error) {
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}
	if p.Admin == nil {
		return nil, types.ErrAdminClientRequired
	}
	if p.Pool == nil {
		return nil, types.ErrChannelPoolRequired
	}
	if p.PartitionCount == 0 {
		return nil, types.NewError(types.CodeInvalidParameters, "topic %s has no partitions", p.Config.Topic)
	}
	if p.Name == "" {
		p.Name = p.Config.Topic
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
	if p.Schemas == nil {
		p.Schemas = codec.NewSchemaCache(p.Config.Topic, p.Admin)
	}

	ids, ranges, err := assign(p.Config, p.PartitionCount)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		cfg:      p.Config.Clone(),
		name:     p.Name,
		count:    p.PartitionCount,
		logger:   p.Logger,
		metrics:  p.Metrics,
		now:      p.Now,
		notifier: p.Notifier,
	}
	r.version.Store(p.Version)
	r.watch.Store(p.Version)

	for i, id := range ids {
		r.partitions = append(r.partitions, partition.New(partition.Params{
			Config:       r.cfg,
			Partition:    id,
			Range:        ranges[i],
			Version:      p.Version,
			VersionWatch: &r.watch,
			Resolver:     p.Resolver,
			Pool:         p.Pool,
			Admin:        p.Admin,
			Notifier:     p.Notifier,
			Schemas:      p.Schemas,
			Logger:       p.Logger,
			Metrics:      p.Metrics,
			Now:          p.Now,
			Seed:         p.Seed + int64(id),
		}))
	}

	r.logger.Debug("topic reader created",
		"topic", r.cfg.Topic,
		"partitions", len(r.partitions),
		"version", p.Version,
	)

	return r, nil
}

// assign selects the partitions to read and the key range read from each.
func assign(cfg types.ReaderConfig, count uint32) ([]uint32, []hash.KeyRange, error) {
	want := hash.KeyRange{From: cfg.From, To: cfg.To}
	all := hash.PartitionRanges(count)

	ids := cfg.Partitions
	if len(ids) == 0 {
		ids = hash.OverlappingPartitions(count, want)
	} else {
		ids = slices.Clone(ids)
		slices.Sort(ids)
		ids = slices.Compact(ids)
	}

	ranges := make([]hash.KeyRange, 0, len(ids))
	for _, id := range ids {
		if id >= count {
			return nil, nil, types.NewError(types.CodeInvalidPartitionID,
				"partition %d of topic %s out of range [0, %d)", id, cfg.Topic, count)
		}
		rng, ok := all[id].Intersect(want)
		if !ok {
			return nil, nil, types.NewError(types.CodeInvalidParameters,
				"partition %d of topic %s does not overlap [%d, %d]", id, cfg.Topic, cfg.From, cfg.To)
		}
		ranges = append(ranges, rng)
	}
	if len(ids) == 0 {
		return nil, nil, types.NewError(types.CodeInvalidParameters,
			"no partition of topic %s overlaps [%d, %d]", cfg.Topic, cfg.From, cfg.To)
	}

	return ids, ranges, nil
}

// Topic returns the broker topic read.
func (r *Reader) Topic() string {
	return r.cfg.Topic
}

// PartitionCount returns the partition count the reader was built for.
func (r *Reader) PartitionCount() uint32 {
	return r.count
}

// Version returns the topic version the reader works with.
func (r *Reader) Version() int64 {
	return r.version.Load()
}

// ObservedVersion returns the newest topic version reported by a broker.
func (r *Reader) ObservedVersion() int64 {
	return max(r.watch.Load(), r.version.Load())
}

// Changed reports whether a broker reported a newer topic version.
func (r *Reader) Changed() bool {
	return r.watch.Load() > r.version.Load()
}

// UpdateVersion accepts version as current, clearing the changed state it caused.
// Later requests of every partition carry the new version.
func (r *Reader) UpdateVersion(version int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if version <= r.version.Load() {
		return
	}
	r.version.Store(version)
	for _, p := range r.partitions {
		p.UpdateVersion(version)
	}
}

// Read returns the next message.
//
// Returns:
//   - *types.Message: Next message in merge order
//   - int64: Checkpoint timestamp after the read
//   - error: ErrNoMoreMessage on timeout, ErrTopicChanged, ErrSealedTopicReadFinish,
//     ErrExceedTimestampLimit, or an escalated fatal error
func (r *Reader) Read(ctx context.Context, timeout time.Duration) (*types.Message, int64, error) {
	msgs, ts, err := r.read(ctx, timeout, 1)
	if err != nil {
		return nil, ts, err
	}

	return msgs[0], ts, nil
}

// ReadBatch returns the messages of the next batch pick: consecutive messages of
// one partition that precede the heads of every other partition.
func (r *Reader) ReadBatch(ctx context.Context, timeout time.Duration) ([]*types.Message, int64, error) {
	return r.read(ctx, timeout, r.cfg.BatchReadCount)
}

func (r *Reader) read(ctx context.Context, timeout time.Duration, n int) ([]*types.Message, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, 0, types.ErrReaderClosed
	}

	if len(r.pending) == 0 {
		if err := r.doBatchRead(ctx, timeout); err != nil {
			r.metrics.RecordRead(r.name, 0, types.CodeOf(err))
			return nil, r.checkpointLocked().Timestamp, err
		}
	}

	k := min(n, len(r.pending))
	out := slices.Clone(r.pending[:k])
	r.pending = r.pending[k:]
	if len(r.pending) == 0 {
		r.pending = nil
	}

	cp := r.checkpointLocked()
	r.metrics.RecordRead(r.name, len(out), types.CodeNone)
	r.metrics.RecordCheckpoint(r.name, cp.Timestamp)

	return out, cp.Timestamp, nil
}

// doBatchRead fills the shared buffer, waiting up to timeout for data.
func (r *Reader) doBatchRead(ctx context.Context, timeout time.Duration) error {
	deadline := r.now().Add(timeout)
	for {
		r.notifier.Arm()

		if err := r.stateError(true); err != nil {
			return err
		}
		if r.tryRead() {
			return nil
		}

		// A collected result may have changed the state; evaluate it first.
		wait := r.fillLocked(r.now())
		if wait == 0 {
			continue
		}

		remaining := deadline.Sub(r.now())
		if remaining <= 0 {
			return types.ErrNoMoreMessage
		}

		r.mu.Unlock()
		r.notifier.Wait(ctx, min(wait, remaining))
		r.mu.Lock()

		if err := ctx.Err(); err != nil {
			return err
		}
		if r.closed {
			return types.ErrReaderClosed
		}
	}
}

// stateError returns the condition that prevents reading, checked in order:
// topic change, escalated fatal error, read finish, timestamp limit.
func (r *Reader) stateError(reset bool) error {
	if r.Changed() {
		return types.ErrTopicChanged
	}

	var fatal error
	for _, p := range r.partitions {
		err := p.ReportFatalError(reset)
		if err != nil && (fatal == nil || types.CodeOf(err).Severity() > types.CodeOf(fatal).Severity()) {
			fatal = err
		}
	}
	if fatal != nil {
		return fatal
	}

	allFinished, allBlocked := true, true
	for _, p := range r.partitions {
		if r.finished(p) {
			continue
		}
		allFinished = false
		if !p.ExceedTimestampLimit() {
			allBlocked = false
		}
	}
	if allFinished {
		return types.ErrSealedTopicReadFinish
	}
	if allBlocked && len(r.pending) == 0 {
		return types.ErrExceedTimestampLimit
	}

	return nil
}

// finished reports whether p has nothing left to deliver.
func (r *Reader) finished(p *partition.Reader) bool {
	if len(r.pending) > 0 && r.pending[0].Partition == p.Partition() {
		return false
	}

	return p.Finished()
}

type head struct {
	index    int
	ts       int64
	buffered bool
}

// tryRead moves the next batch into the shared buffer.
//
// It picks the eligible partition with the smallest (head timestamp, index) and
// takes messages from it until they would pass another eligible partition's
// head. A partition whose head is unknown blocks the pick.
func (r *Reader) tryRead() bool {
	heads := make([]head, 0, len(r.partitions))
	for i, p := range r.partitions {
		if p.Finished() || p.ExceedTimestampLimit() {
			continue
		}
		ts, buffered, known := p.Head()
		if !known {
			return false
		}
		heads = append(heads, head{index: i, ts: ts, buffered: buffered})
	}
	if len(heads) == 0 {
		return false
	}

	best := heads[0]
	for _, h := range heads[1:] {
		if h.ts < best.ts {
			best = h
		}
	}
	if !best.buffered {
		return false
	}

	ceiling, inclusive := partition.NoLimit, true
	for _, h := range heads {
		if h.index == best.index {
			continue
		}
		switch {
		case h.ts < ceiling:
			ceiling, inclusive = h.ts, h.index > best.index
		case h.ts == ceiling:
			inclusive = inclusive && h.index > best.index
		}
	}

	msgs := r.partitions[best.index].TryRead(r.cfg.BatchReadCount, ceiling, inclusive)
	if len(msgs) == 0 {
		return false
	}
	r.pending = append(r.pending, msgs...)

	return true
}

// fillLocked lets every partition collect results and post requests.
//
// Returns:
//   - time.Duration: Shortest wait any partition asked for
func (r *Reader) fillLocked(now time.Time) time.Duration {
	wait := partition.WaitForever
	for _, p := range r.partitions {
		wait = min(wait, p.TryFillBuffer(now))
	}

	return wait
}

// Fill collects completed requests and posts new ones without reading.
func (r *Reader) Fill() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return partition.WaitForever
	}

	return r.fillLocked(r.now())
}

// Head describes the next message of a topic as far as it is known.
type Head struct {
	// Timestamp is the next message timestamp when Ready, otherwise the
	// earliest timestamp the next message can have when Known.
	Timestamp int64
	// Ready reports that the next message is buffered.
	Ready bool
	// Known is false while some readable partition has no answer from its
	// broker yet.
	Known bool
}

// Peek reports the next message without consuming it.
//
// Returns:
//   - Head: Next message head; when nothing is ready it carries the lower bound
//     of the next timestamp, or Known false
//   - time.Duration: How long to wait before peeking again when no data is ready
//   - error: ErrNoMoreMessage when nothing is ready, or the state error Read would
//     return
func (r *Reader) Peek() (Head, time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Head{}, 0, types.ErrReaderClosed
	}
	if len(r.pending) > 0 {
		return r.pendingPeek(), 0, nil
	}
	if err := r.stateError(true); err != nil {
		return Head{}, 0, err
	}
	if r.tryRead() {
		return r.pendingPeek(), 0, nil
	}
	wait := r.fillLocked(r.now())
	if err := r.stateError(true); err != nil {
		return Head{}, 0, err
	}
	if r.tryRead() {
		return r.pendingPeek(), 0, nil
	}

	return r.lowerBound(), wait, types.ErrNoMoreMessage
}

func (r *Reader) pendingPeek() Head {
	return Head{Timestamp: r.pending[0].Timestamp, Ready: true, Known: true}
}

// lowerBound returns the smallest head of the readable partitions, unknown
// when any of them has no head yet.
func (r *Reader) lowerBound() Head {
	h := Head{Timestamp: partition.NoLimit, Known: true}
	for _, p := range r.partitions {
		if p.Finished() || p.ExceedTimestampLimit() {
			continue
		}
		ts, _, known := p.Head()
		if !known {
			return Head{}
		}
		h.Timestamp = min(h.Timestamp, ts)
	}

	return h
}

// Notifier returns the signal pulsed when any partition request completes.
func (r *Reader) Notifier() *notify.Notifier {
	return r.notifier
}

// pendingHead returns the position of the oldest undelivered shared-buffer
// message of partition id.
func (r *Reader) pendingHead(id uint32) (types.Checkpoint, bool) {
	if len(r.pending) == 0 || r.pending[0].Partition != id {
		return types.Checkpoint{}, false
	}

	return r.pending[0].Position(), true
}

// position returns where partition p resumes, counting undelivered messages.
func (r *Reader) position(p *partition.Reader) types.Checkpoint {
	if pos, ok := r.pendingHead(p.Partition()); ok {
		return pos
	}

	return p.Position()
}

// partitionCheckpoint is the checkpoint of p, held back by undelivered messages.
func (r *Reader) partitionCheckpoint(p *partition.Reader) types.Checkpoint {
	cp := p.Checkpoint()
	if pos, ok := r.pendingHead(p.Partition()); ok {
		if r.cfg.CheckpointMode == types.CheckpointRefresh {
			pos = pos.Sub(r.cfg.CheckpointRefreshTimestampOffset)
		}
		cp = cp.Min(pos)
	}

	return cp
}

// Checkpoint returns the position every partition may safely resume from.
// Between seeks it never decreases.
func (r *Reader) Checkpoint() types.Checkpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.checkpointLocked()
}

func (r *Reader) checkpointLocked() types.Checkpoint {
	cp := types.MaxCheckpoint
	active := false
	for _, p := range r.partitions {
		if r.finished(p) {
			continue
		}
		active = true
		cp = cp.Min(r.partitionCheckpoint(p))
	}
	if !active {
		for _, p := range r.partitions {
			cp = cp.Min(p.Checkpoint())
		}
	}

	if r.cpValid && cp.Less(r.cp) {
		cp = r.cp
	}
	r.cp, r.cpValid = cp, true

	return cp
}

// SeekByTimestamp moves every partition to (ts, 0). Without force, partitions
// already at or past ts keep their position.
func (r *Reader) SeekByTimestamp(ts int64, force bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := types.Checkpoint{Timestamp: ts}
	for _, p := range r.partitions {
		r.seekPartition(p, target, force)
	}
}

// SeekByProgress moves each partition to the position progress records for its
// key range. Entries with a different range layout are combined so that no
// data of the range is skipped; partitions no entry covers are left alone.
func (r *Reader) SeekByProgress(progress *types.Progress, force bool) error {
	if progress == nil {
		return types.NewError(types.CodeInvalidParameters, "nil progress")
	}
	if err := progress.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.partitions {
		rng := p.Range()
		target, ok := progress.Covering(rng.From, rng.To)
		if !ok {
			continue
		}
		r.seekPartition(p, target, force)
	}

	return nil
}

func (r *Reader) seekPartition(p *partition.Reader, target types.Checkpoint, force bool) {
	if !force && !r.position(p).Less(target) {
		return
	}
	r.dropPending(p.Partition())
	p.SeekByTimestamp(target.Timestamp, target.Offset)
	r.cpValid = false
}

// SeekByMessageID moves a single-partition reader to message id.
func (r *Reader) SeekByMessageID(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.partitions) != 1 {
		return types.NewError(types.CodeInvalidParameters,
			"seek by message id needs exactly one partition, topic %s reads %d", r.cfg.Topic, len(r.partitions))
	}
	if id < 0 {
		return types.NewError(types.CodeInvalidParameters, "negative message id %d", id)
	}

	p := r.partitions[0]
	r.dropPending(p.Partition())
	p.SeekByMessageID(id)
	r.cpValid = false

	return nil
}

func (r *Reader) dropPending(id uint32) {
	r.pending = slices.DeleteFunc(r.pending, func(m *types.Message) bool {
		return m.Partition == id
	})
	if len(r.pending) == 0 {
		r.pending = nil
	}
}

// SetTimestampLimit applies limit to every partition.
//
// Returns:
//   - int64: Accepted limit, raised to the largest timestamp already read
func (r *Reader) SetTimestampLimit(limit int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.partitions {
		limit = max(limit, p.LastReadTimestamp())
	}
	for _, p := range r.partitions {
		p.SetTimestampLimit(limit)
	}

	return limit
}

// ExceedTimestampLimit reports whether every unfinished partition is past its
// limit.
func (r *Reader) ExceedTimestampLimit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) > 0 {
		return false
	}
	exceeding := false
	for _, p := range r.partitions {
		if r.finished(p) {
			continue
		}
		if !p.ExceedTimestampLimit() {
			return false
		}
		exceeding = true
	}

	return exceeding
}

// Progress returns one entry per partition, named after the broker topic.
func (r *Reader) Progress() types.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()

	progress := types.Progress{
		TopicName:    r.cfg.Topic,
		FilterMask:   r.cfg.FilterMask,
		FilterResult: r.cfg.FilterResult,
		Partitions:   make([]types.PartitionProgress, 0, len(r.partitions)),
	}
	for _, p := range r.partitions {
		entry := p.Progress()
		cp := r.partitionCheckpoint(p)
		entry.Timestamp, entry.OffsetInRawMsg = cp.Timestamp, cp.Offset
		progress.Partitions = append(progress.Partitions, entry)
	}

	return progress
}

// CheckCurrentError returns the most severe error recorded by any partition,
// with the text of every failing partition, or nil.
func (r *Reader) CheckCurrentError() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	worst := types.CodeNone
	var parts []string
	for _, p := range r.partitions {
		err := p.LastError()
		if err == nil {
			continue
		}
		code := types.CodeOf(err)
		if worst == types.CodeNone || code.Severity() > worst.Severity() {
			worst = code
		}
		parts = append(parts, fmt.Sprintf("partition %d: %v", p.Partition(), err))
	}
	if len(parts) == 0 {
		return nil
	}

	return types.NewError(worst, "%s: %s", r.cfg.Topic, strings.Join(parts, "; "))
}

// SetRequiredFieldNames changes the field projection of subsequent fetches.
func (r *Reader) SetRequiredFieldNames(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cfg.RequiredFieldNames = slices.Clone(names)
	for _, p := range r.partitions {
		p.SetRequiredFieldNames(names)
	}
}

// SetFieldFilterDesc changes the field filter of subsequent fetches.
func (r *Reader) SetFieldFilterDesc(desc string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cfg.FieldFilterDesc = desc
	for _, p := range r.partitions {
		p.SetFieldFilterDesc(desc)
	}
}

// Status returns a snapshot of every partition. It does not wait for readers.
func (r *Reader) Status() types.TopicStatus {
	st := types.TopicStatus{
		Topic:      r.name,
		Physic:     r.cfg.Topic,
		Version:    r.Version(),
		Partitions: make([]types.PartitionStatus, 0, len(r.partitions)),
	}
	for _, p := range r.partitions {
		st.Partitions = append(st.Partitions, p.Status())
	}

	return st
}

// Close cancels outstanding requests and wakes blocked readers.
func (r *Reader) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, p := range r.partitions {
		p.Close()
	}
	r.pending = nil
	r.mu.Unlock()

	r.notifier.Notify()
}
