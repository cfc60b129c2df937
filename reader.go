package mqread

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/mqread/internal/logging"
	"github.com/arloliu/mqread/internal/metrics"
	"github.com/arloliu/mqread/internal/multi"
	"github.com/arloliu/mqread/strategy"
	"github.com/arloliu/mqread/types"
)

// Reader turns the partitions of one or more topics into one ordered,
// resumable message stream.
//
// Reader is the main entry point of the mqread library. It handles:
//   - Fetching and buffering every selected partition asynchronously
//   - Merging partitions by timestamp within a topic
//   - Choosing between topics by the configured read policy
//   - Following partition count changes and logical topic chains
//   - Checkpoints, timestamp limits and progress persistence
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - Read and ReadBatch calls are serialized
//
// Lifecycle:
//   - Create with NewReader(), which resolves every topic
//   - Call Read or ReadBatch in a loop
//   - Call Commit to persist progress, Close to release resources
type Reader struct {
	cfg   Config
	admin AdminClient
	pool  ChannelPool

	// Optional dependencies
	hooks   *Hooks
	metrics MetricsCollector
	logger  Logger
	store   ProgressStore

	topics *multi.Reader

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
	// commitMu serializes progress store writes.
	commitMu sync.Mutex
}

// NewReader creates a Reader over every topic of cfg.
//
// Topic metadata is fetched and a topic reader built for each topic before
// NewReader returns. With a progress store and Progress.ResumeOnStart, the
// reader is positioned at the stored progress.
//
// Parameters:
//   - ctx: Context for metadata lookups and progress loading
//   - cfg: Configuration; defaults are applied in place
//   - admin: Metadata service of the cluster
//   - pool: Channel pool reaching the brokers; the caller keeps ownership
//   - opts: Optional configuration (hooks, metrics, logger, progress store)
//
// Returns:
//   - *Reader: Initialized reader
//   - error: Validation, metadata or progress loading error
//
// Example:
//
//	cfg := mqread.DefaultConfig()
//	cfg.Topics = []mqread.TopicConfig{{Name: "orders"}}
//	r, err := mqread.NewReader(ctx, &cfg, admin, pool)
func NewReader(ctx context.Context, cfg *Config, admin AdminClient, pool ChannelPool, opts ...Option) (*Reader, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if admin == nil {
		return nil, ErrAdminClientRequired
	}
	if pool == nil {
		return nil, ErrChannelPoolRequired
	}

	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &readerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewNop()
	}

	cfg.ValidateWithWarnings(loggerInstance)

	readStrategy := options.strategy
	if readStrategy == nil {
		var err error
		if readStrategy, err = strategy.ForPolicy(cfg.ReadPolicy); err != nil {
			return nil, err
		}
	}

	topics, err := multi.New(ctx, multi.Params{
		Configs:  cfg.ReaderConfigs(),
		Strategy: readStrategy,
		Admin:    admin,
		Pool:     pool,
		Logger:   loggerInstance,
		Metrics:  metricsCollector,
		Hooks:    options.hooks,
		Now:      options.now,
		Seed:     options.seed,
	})
	if err != nil {
		return nil, err
	}

	r := &Reader{
		cfg:     *cfg,
		admin:   admin,
		pool:    pool,
		hooks:   options.hooks,
		metrics: metricsCollector,
		logger:  loggerInstance,
		store:   options.store,
		topics:  topics,
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	if r.store != nil && cfg.Progress.ResumeOnStart {
		if err := r.resume(ctx); err != nil {
			r.cancel()
			topics.Close()

			return nil, err
		}
	}

	if cfg.ForceFillInterval > 0 {
		r.wg.Add(1)
		go r.forceFill()
	}
	if r.store != nil && cfg.Progress.CommitInterval > 0 {
		r.wg.Add(1)
		go r.commitLoop()
	}

	r.logger.Info("reader started",
		"name", cfg.Name,
		"topics", topics.Topics(),
		"policy", cfg.ReadPolicy,
	)

	return r, nil
}

// resume seeks to the stored progress. A reader without stored progress
// starts at the beginning of every topic.
func (r *Reader) resume(ctx context.Context) error {
	progress, err := r.store.Load(ctx, r.cfg.Name)
	if errors.Is(err, ErrNoKeysFound) {
		r.logger.Info("no stored progress, reading from the start", "name", r.cfg.Name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load progress of %s: %w", r.cfg.Name, err)
	}

	if err := r.topics.SeekByProgress(ctx, progress, true); err != nil {
		return fmt.Errorf("resume progress of %s: %w", r.cfg.Name, err)
	}
	r.logger.Info("resumed from stored progress", "name", r.cfg.Name, "topics", len(progress.Topics))

	return nil
}

// Read returns the next message.
//
// Parameters:
//   - ctx: Context bounding the wait together with timeout
//   - timeout: Longest time to wait for data
//
// Returns:
//   - *Message: Next message
//   - int64: Checkpoint timestamp; every message before it has been read
//   - error: ErrNoMoreMessage on timeout, ErrExceedTimestampLimit,
//     ErrSealedTopicReadFinish, ErrPhysicTopicSwitchNotReady or a fatal error
func (r *Reader) Read(ctx context.Context, timeout time.Duration) (*Message, int64, error) {
	if r.closed.Load() {
		return nil, 0, ErrReaderClosed
	}
	msg, cp, err := r.topics.Read(ctx, timeout)
	r.reportFatal(err)

	return msg, cp, err
}

// ReadBatch returns up to BatchReadCount messages of one topic.
func (r *Reader) ReadBatch(ctx context.Context, timeout time.Duration) ([]*Message, int64, error) {
	if r.closed.Load() {
		return nil, 0, ErrReaderClosed
	}
	msgs, cp, err := r.topics.ReadBatch(ctx, timeout)
	r.reportFatal(err)

	return msgs, cp, err
}

func (r *Reader) reportFatal(err error) {
	if err == nil || !types.CodeOf(err).IsFatal() {
		return
	}
	r.logger.Error("read failed", "name", r.cfg.Name, "error", err)
}

// SeekByTimestamp moves every topic to ts. Without force, partitions already
// past ts keep their position.
func (r *Reader) SeekByTimestamp(ctx context.Context, ts int64, force bool) error {
	return r.topics.SeekByTimestamp(ctx, ts, force)
}

// SeekTopicByTimestamp moves one topic to ts.
func (r *Reader) SeekTopicByTimestamp(ctx context.Context, topic string, ts int64, force bool) error {
	return r.topics.SeekTopicByTimestamp(ctx, topic, ts, force)
}

// SeekByMessageID moves a reader of exactly one partition of one topic to id.
func (r *Reader) SeekByMessageID(id int64) error {
	return r.topics.SeekByMessageID(id)
}

// SeekByProgress moves every topic to its entry of progress. Progress produced
// with a different partition layout still resumes without skipping data.
func (r *Reader) SeekByProgress(ctx context.Context, progress *ReaderProgress, force bool) error {
	return r.topics.SeekByProgress(ctx, progress, force)
}

// SetTimestampLimit stops delivery of messages later than limit on every topic.
//
// Returns:
//   - int64: Accepted limit, never below a timestamp already delivered
func (r *Reader) SetTimestampLimit(limit int64) int64 {
	return r.topics.SetTimestampLimit(limit)
}

// SetTopicTimestampLimit sets the limit of one topic.
func (r *Reader) SetTopicTimestampLimit(topic string, limit int64) (int64, error) {
	return r.topics.SetTopicTimestampLimit(topic, limit)
}

// ExceedTimestampLimit reports whether every topic is past its limit.
func (r *Reader) ExceedTimestampLimit() bool {
	return r.topics.ExceedTimestampLimit()
}

// Progress returns the resumable position of every topic.
func (r *Reader) Progress() ReaderProgress {
	return r.topics.Progress()
}

// CheckCurrentError returns the most severe error any topic currently
// observes, including errors still retried internally, or nil.
func (r *Reader) CheckCurrentError() error {
	return r.topics.CheckCurrentError()
}

// SetRequiredFieldNames projects field-filter messages fetched from now on.
func (r *Reader) SetRequiredFieldNames(names []string) {
	r.topics.SetRequiredFieldNames(names)
}

// SetFieldFilterDesc filters field-filter messages fetched from now on.
func (r *Reader) SetFieldFilterDesc(desc string) {
	r.topics.SetFieldFilterDesc(desc)
}

// Status returns a snapshot of every topic.
func (r *Reader) Status() []TopicStatus {
	return r.topics.Status()
}

// Topics returns the configured topic names.
func (r *Reader) Topics() []string {
	return r.topics.Topics()
}

// Commit saves the current progress to the progress store.
//
// Returns:
//   - error: ErrInvalidParameters without a progress store, or the store error
func (r *Reader) Commit(ctx context.Context) error {
	if r.store == nil {
		return types.NewError(types.CodeInvalidParameters, "no progress store configured")
	}

	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	progress := r.topics.Progress()
	start := time.Now()
	err := r.store.Save(ctx, r.cfg.Name, &progress)
	r.metrics.RecordProgressCommit(storeName(r.store), err == nil, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("commit progress of %s: %w", r.cfg.Name, err)
	}

	return nil
}

func storeName(s ProgressStore) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}

	return fmt.Sprintf("%T", s)
}

// forceFill prefetches every partition between reads.
func (r *Reader) forceFill() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.ForceFillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.topics.Fill()
		}
	}
}

// commitLoop saves progress every Progress.CommitInterval.
func (r *Reader) commitLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Progress.CommitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(r.ctx, r.cfg.Progress.CommitTimeout)
			if err := r.Commit(ctx); err != nil && r.ctx.Err() == nil {
				r.logger.Warn("periodic progress commit failed", "name", r.cfg.Name, "error", err)
			}
			cancel()
		}
	}
}

// Close stops background workers, commits progress when a store is
// configured, and closes every topic. The channel pool and progress store
// stay open.
//
// Safe to call multiple times; later calls return nil.
func (r *Reader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}

	r.cancel()
	r.wg.Wait()

	var err error
	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Progress.CommitTimeout)
		err = r.Commit(ctx)
		cancel()
		if err != nil {
			r.logger.Error("final progress commit failed", "name", r.cfg.Name, "error", err)
		}
	}

	r.topics.Close()
	r.logger.Info("reader closed", "name", r.cfg.Name)

	return err
}
