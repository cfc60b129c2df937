// Package partition implements the read cursor of a single broker partition.
//
// A Reader owns the buffer of fetched but unread messages of one partition, the
// position of the next fetch, its checkpoint and its timestamp limit. All methods
// except Status must be called under the owning topic reader's lock; Status only
// takes the reader's stat lock.
package partition

import (
	"context"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/mqread/internal/codec"
	"github.com/arloliu/mqread/internal/hash"
	"github.com/arloliu/mqread/internal/logging"
	"github.com/arloliu/mqread/internal/metrics"
	"github.com/arloliu/mqread/internal/notify"
	"github.com/arloliu/mqread/internal/transport"
	"github.com/arloliu/mqread/types"
)

// WaitForever is returned by TryFillBuffer when only a request completion can
// change the partition state.
const WaitForever = time.Duration(math.MaxInt64)

// NoLimit is the timestamp limit of a reader that was never limited.
const NoLimit = int64(math.MaxInt64)

// Params holds everything a partition reader is built from.
type Params struct {
	Config    types.ReaderConfig
	Partition uint32
	// Range is the part of the key space read from this partition.
	Range hash.KeyRange
	// Version is the topic metadata version the reader was built against.
	Version int64
	// VersionWatch receives newer topic versions reported by brokers.
	VersionWatch *atomic.Int64

	Resolver *transport.AddressResolver
	Pool     types.ChannelPool
	Admin    types.AdminClient
	Notifier *notify.Notifier
	Schemas  *codec.SchemaCache

	Logger  types.Logger
	Metrics types.MetricsCollector
	Now     func() time.Time
	Seed    int64
}

// Reader is the cursor of one partition.
type Reader struct {
	cfg       types.ReaderConfig
	partition uint32
	keys      hash.KeyRange
	version   int64
	watch     *atomic.Int64
	notifier  *notify.Notifier
	schemas   *codec.SchemaCache
	logger    types.Logger
	metrics   types.MetricsCollector
	now       func() time.Time

	fetch  *transport.Adapter[*types.FetchRequest, *types.FetchResponse]
	locate *transport.Adapter[*types.MessageIDByTimeRequest, *types.MessageIDByTimeResponse]

	seq    uint64
	buffer buffer

	nextMsgID     int64
	nextTimestamp int64
	nextKnown     bool

	// seekPos is the position requested by the last seek; seekFilter drops
	// messages before it while the first fetches arrive.
	seekPos     types.Checkpoint
	seekFilter  bool
	locating    bool
	lastRead    *types.Message
	lastReadTs  int64
	limit       int64
	finished    bool
	lastErr     error
	lastSuccess time.Time

	statMu sync.Mutex
	stat   types.PartitionStatus
}

// New creates a partition reader positioned at message id 0.
func New(p Params) *Reader {
	if p.Logger == nil {
		p.Logger = logging.NewNop()
	}
	if p.Metrics == nil {
		p.Metrics = metrics.NewNop()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.VersionWatch == nil {
		p.VersionWatch = &atomic.Int64{}
	}

	tp := transport.Params{
		Topic:            p.Config.Topic,
		Partition:        p.Partition,
		Resolver:         p.Resolver,
		Pool:             p.Pool,
		Admin:            p.Admin,
		Notifier:         p.Notifier,
		Metrics:          p.Metrics,
		Logger:           p.Logger,
		RPCTimeout:       p.Config.RPCTimeout,
		RetryInterval:    p.Config.RetryInterval,
		MaxRetryInterval: p.Config.MaxRetryInterval,
		Seed:             p.Seed,
		Now:              p.Now,
	}

	r := &Reader{
		cfg:         p.Config.Clone(),
		partition:   p.Partition,
		keys:        p.Range,
		version:     p.Version,
		watch:       p.VersionWatch,
		notifier:    p.Notifier,
		schemas:     p.Schemas,
		logger:      p.Logger,
		metrics:     p.Metrics,
		now:         p.Now,
		fetch:       transport.NewAdapter(transport.FetchKind{}, tp),
		locate:      transport.NewAdapter(transport.MessageIDByTimeKind{}, tp),
		lastReadTs:  -1,
		limit:       NoLimit,
		lastSuccess: p.Now(),
	}
	r.refreshStat()

	return r
}

// Partition returns the partition id.
func (r *Reader) Partition() uint32 {
	return r.partition
}

// Range returns the key range read from the partition.
func (r *Reader) Range() hash.KeyRange {
	return r.keys
}

// Buffered returns the number of unread buffered messages.
func (r *Reader) Buffered() int {
	return r.buffer.Len()
}

// Finished reports whether the partition belongs to a sealed topic that was read
// completely.
func (r *Reader) Finished() bool {
	return r.finished && r.buffer.Len() == 0
}

// Head returns the timestamp of the next message to consume.
//
// Returns:
//   - int64: Buffered head timestamp, or the broker-reported next timestamp
//   - bool: true when a message is buffered
//   - bool: false when the next timestamp is unknown
func (r *Reader) Head() (int64, bool, bool) {
	if m := r.buffer.Peek(); m != nil {
		return m.Timestamp, true, true
	}
	if r.nextKnown {
		return r.nextTimestamp, false, true
	}

	return 0, false, false
}

// LastReadTimestamp returns the largest timestamp handed out since the last seek,
// or -1.
func (r *Reader) LastReadTimestamp() int64 {
	return r.lastReadTs
}

// TryRead pops up to n buffered messages that are within the timestamp limit and
// precede ceiling. A message at exactly ceiling is taken only when inclusive.
func (r *Reader) TryRead(n int, ceiling int64, inclusive bool) []*types.Message {
	var out []*types.Message
	for len(out) < n {
		m := r.buffer.Peek()
		if m == nil || m.Timestamp > r.limit {
			break
		}
		if m.Timestamp > ceiling || (m.Timestamp == ceiling && !inclusive) {
			break
		}
		out = append(out, r.buffer.Pop())
	}
	if len(out) > 0 {
		last := out[len(out)-1]
		r.lastRead = last
		r.lastReadTs = max(r.lastReadTs, last.Timestamp)
		r.refreshStat()
	}

	return out
}

// TryFillBuffer collects a completed request and posts the next one when the
// partition needs data.
//
// Returns:
//   - time.Duration: 0 when a result was collected, WaitForever when a request is in
//     flight or none is needed, otherwise the time until the next post is allowed
func (r *Reader) TryFillBuffer(now time.Time) time.Duration {
	collected := r.collect()
	defer r.refreshStat()

	if r.locate.Pending() || r.fetch.Pending() {
		if collected {
			return 0
		}

		return WaitForever
	}

	if r.locating {
		if !r.locate.CanPost(now) {
			return orZero(collected, r.locate.RetryAfter(now))
		}
		req := &types.MessageIDByTimeRequest{
			Topic:        r.cfg.Topic,
			Partition:    r.partition,
			Timestamp:    r.seekPos.Timestamp,
			TopicVersion: r.version,
		}
		if _, err := r.locate.Post(req, r.seq); err != nil {
			r.setError(err)
			return 0
		}

		return orZero(collected, WaitForever)
	}

	room := r.cfg.PartitionBufferSize - r.buffer.Len()
	if r.finished || room <= 0 || r.ExceedTimestampLimit() {
		return orZero(collected, WaitForever)
	}
	if !r.fetch.CanPost(now) {
		return orZero(collected, r.fetch.RetryAfter(now))
	}

	if _, err := r.fetch.Post(r.fetchRequest(room), r.seq); err != nil {
		r.setError(err)
		return 0
	}

	return orZero(collected, WaitForever)
}

func orZero(collected bool, d time.Duration) time.Duration {
	if collected {
		return 0
	}

	return d
}

func (r *Reader) fetchRequest(room int) *types.FetchRequest {
	return &types.FetchRequest{
		Topic:              r.cfg.Topic,
		Partition:          r.partition,
		StartID:            r.nextMsgID,
		Count:              uint32(min(room, r.cfg.FetchCount)),
		MaxBytes:           r.cfg.FetchMaxBytes,
		TopicVersion:       r.version,
		HashFrom:           r.keys.From,
		HashTo:             r.keys.To,
		FilterMask:         r.cfg.FilterMask,
		FilterResult:       r.cfg.FilterResult,
		RequiredFieldNames: slices.Clone(r.cfg.RequiredFieldNames),
		FieldFilterDesc:    r.cfg.FieldFilterDesc,
		Compress:           r.cfg.CompressResponse,
	}
}

// collect consumes completed requests and reports whether any was taken.
func (r *Reader) collect() bool {
	collected := false
	if r.locate.IsDone() {
		res, err := r.locate.Collect()
		if err == nil {
			collected = true
			r.handleLocate(res)
		}
	}
	if r.fetch.IsDone() {
		res, err := r.fetch.Collect()
		if err == nil {
			collected = true
			r.handleFetch(res)
		}
	}

	return collected
}

func (r *Reader) handleLocate(res transport.Result[*types.MessageIDByTimeResponse]) {
	if res.Seq != r.seq || !r.locating {
		return
	}
	var msg string
	if res.Resp != nil {
		r.observeVersion(res.Code, res.Resp.TopicVersion)
		msg = res.Resp.ErrorMessage
	}
	if res.Code != types.CodeNone {
		r.setError(resultError(res.Code, res.Err, msg))
		return
	}

	r.lastSuccess = r.now()
	r.lastErr = nil
	r.locating = false
	r.nextMsgID = res.Resp.MessageID
	r.fetch.ResetRetry()
}

func (r *Reader) handleFetch(res transport.Result[*types.FetchResponse]) {
	if res.Seq != r.seq {
		return
	}
	resp := res.Resp
	if resp == nil {
		r.setError(resultError(res.Code, res.Err, ""))
		return
	}
	r.observeVersion(res.Code, resp.TopicVersion)

	switch res.Code {
	case types.CodeNone:
		r.lastSuccess = r.now()
		r.lastErr = nil
		if err := r.appendMessages(resp); err != nil {
			r.setError(err)
			return
		}
		r.nextMsgID = max(r.nextMsgID, resp.NextMsgID)
		if !r.nextKnown || resp.NextTimestamp > r.nextTimestamp {
			r.setNextTimestamp(resp.NextTimestamp)
		}
	case types.CodeBrokerNoData:
		r.lastSuccess = r.now()
		r.lastErr = nil
		// A seek past the end of the partition resumes at the next id the broker
		// will assign.
		if resp.NextMsgID < r.nextMsgID {
			r.nextMsgID = resp.NextMsgID
		}
		r.setNextTimestamp(resp.NextTimestamp)
	case types.CodeSealedTopicReadFinish:
		r.lastSuccess = r.now()
		r.lastErr = nil
		r.finished = true
		r.setNextTimestamp(resp.NextTimestamp)
	case types.CodeTopicChanged:
		r.lastSuccess = r.now()
	default:
		r.setError(resultError(res.Code, res.Err, resp.ErrorMessage))
	}
	r.metrics.RecordBufferedMessages(r.cfg.Topic, r.partition, r.buffer.Len())
}

// setNextTimestamp records a broker-reported next timestamp; negative means unknown.
func (r *Reader) setNextTimestamp(ts int64) {
	if ts < 0 {
		return
	}
	r.nextTimestamp = ts
	r.nextKnown = true
}

// UpdateVersion moves the topic version sent with requests forward.
func (r *Reader) UpdateVersion(version int64) {
	r.version = max(r.version, version)
}

// observeVersion publishes a newer topic version on the shared watch.
func (r *Reader) observeVersion(code types.ErrorCode, version int64) {
	if code == types.CodeTopicChanged && version <= r.version {
		version = r.version + 1
	}
	if version <= r.version {
		return
	}
	for {
		cur := r.watch.Load()
		if version <= cur || r.watch.CompareAndSwap(cur, version) {
			break
		}
	}
	if r.notifier != nil {
		r.notifier.Notify()
	}
}

func (r *Reader) appendMessages(resp *types.FetchResponse) error {
	for i := range resp.Messages {
		wm := &resp.Messages[i]
		if wm.ID < r.nextMsgID {
			continue
		}

		var schema string
		if wm.DataType == types.DataTypeSchema && r.schemas != nil {
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.RPCTimeout)
			s, err := r.schemas.Get(ctx, wm.SchemaVersion)
			cancel()
			if err != nil {
				return types.WrapError(types.CodeInvalidResponse, err)
			}
			schema = s
		}

		if wm.Merged {
			if err := r.appendMerged(wm, schema); err != nil {
				return err
			}
		} else if r.accepts(wm.Hash, wm.Mask) && !r.beforeSeek(wm.Timestamp, 0) {
			r.buffer.Push(r.message(wm, wm.Data, wm.Hash, wm.Mask, 0, 0, schema))
		}
		r.nextMsgID = wm.ID + 1
		if !r.nextKnown || wm.Timestamp >= r.nextTimestamp {
			r.nextTimestamp = wm.Timestamp + 1
			r.nextKnown = true
		}
	}

	return nil
}

func (r *Reader) appendMerged(wm *types.WireMessage, schema string) error {
	subs, err := codec.UnpackMerged(wm.Data)
	if err != nil {
		return err
	}
	count := uint16(len(subs))
	for k, sub := range subs {
		offset := uint16(k)
		if !r.accepts(sub.Hash, sub.Mask) || r.beforeSeek(wm.Timestamp, offset) {
			continue
		}
		r.buffer.Push(r.message(wm, sub.Data, sub.Hash, sub.Mask, offset, count, schema))
	}

	return nil
}

func (r *Reader) message(wm *types.WireMessage, data []byte, h uint16, mask uint8, offset, count uint16, schema string) *types.Message {
	return &types.Message{
		Topic:          r.cfg.Topic,
		Partition:      r.partition,
		ID:             wm.ID,
		Timestamp:      wm.Timestamp,
		Data:           data,
		OffsetInRawMsg: offset,
		MergedCount:    count,
		DataType:       wm.DataType,
		SchemaVersion:  wm.SchemaVersion,
		Schema:         schema,
		Hash:           h,
		Mask:           mask,
	}
}

func (r *Reader) accepts(h uint16, mask uint8) bool {
	return r.keys.Contains(h) && r.cfg.Accepts(mask)
}

func (r *Reader) beforeSeek(ts int64, offset uint16) bool {
	if !r.seekFilter {
		return false
	}

	return (types.Checkpoint{Timestamp: ts, Offset: offset}).Less(r.seekPos)
}

func (r *Reader) setError(err error) {
	r.lastErr = err
	r.logger.Debug("partition read error",
		"topic", r.cfg.Topic,
		"partition", r.partition,
		"code", types.CodeOf(err).String(),
		"error", err,
	)
}

func resultError(code types.ErrorCode, err error, msg string) error {
	if err != nil {
		return types.WrapError(code, err)
	}
	if msg != "" {
		return types.NewError(code, "%s", msg)
	}

	return &types.Error{Code: code}
}

// SeekByTimestamp repositions the reader at (ts, offset). The start id is resolved
// through the broker before the next fetch.
func (r *Reader) SeekByTimestamp(ts int64, offset uint16) {
	r.reset()
	r.seekPos = types.Checkpoint{Timestamp: ts, Offset: offset}
	r.seekFilter = true
	r.locating = true
	r.locate.ResetRetry()
	r.refreshStat()
	r.wake()
}

// SeekByMessageID repositions the reader at message id.
func (r *Reader) SeekByMessageID(id int64) {
	r.reset()
	r.nextMsgID = id
	r.seekPos = types.Checkpoint{}
	r.seekFilter = false
	r.locating = false
	r.fetch.ResetRetry()
	r.refreshStat()
	r.wake()
}

func (r *Reader) reset() {
	r.seq++
	r.buffer.Reset()
	r.nextKnown = false
	r.nextTimestamp = 0
	r.lastRead = nil
	r.lastReadTs = -1
	r.finished = false
	r.lastErr = nil
	r.lastSuccess = r.now()
}

func (r *Reader) wake() {
	if r.notifier != nil {
		r.notifier.Notify()
	}
}

// Position returns the position of the next message to consume, or the seek
// position when it is not known yet.
func (r *Reader) Position() types.Checkpoint {
	if m := r.buffer.Peek(); m != nil {
		return m.Position()
	}
	if r.nextKnown {
		return r.seekPos.Max(types.Checkpoint{Timestamp: r.nextTimestamp})
	}

	return r.seekPos
}

// Checkpoint returns the position this partition may safely resume from.
func (r *Reader) Checkpoint() types.Checkpoint {
	if r.cfg.CheckpointMode == types.CheckpointReaded {
		cp := r.seekPos
		if r.lastRead != nil {
			cp = cp.Max(r.lastRead.After())
		}
		if r.buffer.Len() == 0 && r.nextKnown {
			cp = cp.Max(types.Checkpoint{Timestamp: r.nextTimestamp})
		}

		return cp
	}

	return r.Position().Sub(r.cfg.CheckpointRefreshTimestampOffset)
}

// SetTimestampLimit sets the admission ceiling of the partition.
func (r *Reader) SetTimestampLimit(limit int64) {
	r.limit = limit
	r.refreshStat()
}

// TimestampLimit returns the admission ceiling.
func (r *Reader) TimestampLimit() int64 {
	return r.limit
}

// ExceedTimestampLimit reports whether the next unread message is known to be past
// the timestamp limit.
func (r *Reader) ExceedTimestampLimit() bool {
	ts, _, known := r.Head()

	return known && ts > r.limit
}

// ReportFatalError returns the last error when it is fatal-local, or fatal-remote
// with no successful response for FatalErrorTimeLimit. reset clears the reported
// error.
func (r *Reader) ReportFatalError(reset bool) error {
	if r.lastErr == nil {
		return nil
	}
	code := types.CodeOf(r.lastErr)
	fatal := code.IsFatalLocal() ||
		(code.IsFatalRemote() && r.now().Sub(r.lastSuccess) >= r.cfg.FatalErrorTimeLimit)
	if !fatal {
		return nil
	}
	err := r.lastErr
	if reset {
		r.lastErr = nil
		r.lastSuccess = r.now()
	}

	return err
}

// LastError returns the last recorded error, fatal or not.
func (r *Reader) LastError() error {
	return r.lastErr
}

// SetRequiredFieldNames changes the projection of subsequent fetches.
func (r *Reader) SetRequiredFieldNames(names []string) {
	r.cfg.RequiredFieldNames = slices.Clone(names)
}

// SetFieldFilterDesc changes the field filter of subsequent fetches.
func (r *Reader) SetFieldFilterDesc(desc string) {
	r.cfg.FieldFilterDesc = desc
}

// Progress returns the progress entry of this partition.
func (r *Reader) Progress() types.PartitionProgress {
	cp := r.Checkpoint()

	return types.PartitionProgress{
		From:           r.keys.From,
		To:             r.keys.To,
		Timestamp:      cp.Timestamp,
		OffsetInRawMsg: cp.Offset,
	}
}

// Close cancels outstanding requests.
func (r *Reader) Close() {
	r.fetch.Close()
	r.locate.Close()
}
