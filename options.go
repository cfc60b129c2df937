package mqread

import "time"

// Option configures a Reader with optional dependencies.
type Option func(*readerOptions)

// readerOptions holds optional Reader configuration.
type readerOptions struct {
	hooks    *Hooks
	metrics  MetricsCollector
	logger   Logger
	store    ProgressStore
	strategy ReadStrategy
	now      func() time.Time
	seed     int64
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewReader
//
// Example:
//
//	hooks := &mqread.Hooks{
//	    OnTopicSwitched: func(ctx context.Context, logical, from, to string) error {
//	        log.Printf("%s moved from %s to %s", logical, from, to)
//	        return nil
//	    },
//	}
//	r, err := mqread.NewReader(ctx, cfg, admin, pool, mqread.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *readerOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewReader
//
// Example:
//
//	collector := metrics.NewPrometheus(prometheus.DefaultRegisterer, "mqread")
//	r, err := mqread.NewReader(ctx, cfg, admin, pool, mqread.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *readerOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for NewReader
//
// Example:
//
//	logger := logging.NewSlogDefault()
//	r, err := mqread.NewReader(ctx, cfg, admin, pool, mqread.WithLogger(logger))
func WithLogger(logger Logger) Option {
	return func(o *readerOptions) {
		o.logger = logger
	}
}

// WithProgressStore persists progress on Commit, on Close and every
// Progress.CommitInterval, and enables Progress.ResumeOnStart.
//
// Parameters:
//   - store: ProgressStore implementation, e.g. checkpoint.NewKV or checkpoint.OpenSQLite
//
// Returns:
//   - Option: Functional option for NewReader
func WithProgressStore(store ProgressStore) Option {
	return func(o *readerOptions) {
		o.store = store
	}
}

// WithReadStrategy replaces the strategy selected by Config.ReadPolicy.
//
// Parameters:
//   - strategy: ReadStrategy implementation
//
// Returns:
//   - Option: Functional option for NewReader
func WithReadStrategy(strategy ReadStrategy) Option {
	return func(o *readerOptions) {
		o.strategy = strategy
	}
}

// WithClock replaces the wall clock used for timeouts and backoff. Intended
// for tests.
func WithClock(now func() time.Time) Option {
	return func(o *readerOptions) {
		o.now = now
	}
}

// WithSeed fixes the seed of backoff jitter.
func WithSeed(seed int64) Option {
	return func(o *readerOptions) {
		o.seed = seed
	}
}
