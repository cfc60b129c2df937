package mqread

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/arloliu/mqread/types"
)

// EnvPrefix is the prefix of environment variables read by LoadConfig.
// MQREAD_FETCH_COUNT overrides fetchCount; nested keys use a double
// underscore, e.g. MQREAD_PROGRESS__COMMIT_INTERVAL.
const EnvPrefix = "MQREAD_"

// TopicConfig selects one topic and the part of it to read.
type TopicConfig struct {
	// Name is the topic name, normal or logical.
	Name string `yaml:"name"`

	// Partitions restricts reading to these partition ids. Empty reads every
	// partition overlapping [From, To].
	Partitions []uint32 `yaml:"partitions"`

	// From and To bound the key hash range, inclusive. Leaving both zero reads
	// the whole key space.
	From uint16 `yaml:"from"`
	To   uint16 `yaml:"to"`

	// A message passes the filter when Mask&FilterMask == FilterResult.
	FilterMask   uint8 `yaml:"filterMask"`
	FilterResult uint8 `yaml:"filterResult"`

	// RequiredFieldNames projects field-filter messages to these fields.
	RequiredFieldNames []string `yaml:"requiredFieldNames"`

	// FieldFilterDesc is passed to brokers to filter field-filter messages.
	FieldFilterDesc string `yaml:"fieldFilterDesc"`
}

// ProgressConfig controls progress persistence through a ProgressStore.
type ProgressConfig struct {
	// ResumeOnStart seeks the reader to the stored progress when it is built.
	ResumeOnStart bool `yaml:"resumeOnStart"`

	// CommitInterval saves progress periodically in the background.
	// Zero commits only on explicit Commit calls and on Close.
	CommitInterval time.Duration `yaml:"commitInterval"`

	// CommitTimeout bounds one progress store write.
	CommitTimeout time.Duration `yaml:"commitTimeout"`
}

// Config is the configuration of a Reader.
//
// The tuning fields apply to every topic. All duration fields accept standard
// Go duration strings like "100ms", "5s".
type Config struct {
	// Name identifies the reader in progress stores and logs.
	Name string `yaml:"name"`

	// Topics lists the topics to read; names must be distinct.
	Topics []TopicConfig `yaml:"topics"`

	// ReadPolicy picks the topic to read next: "default" (earliest next
	// message) or "sequence" (round robin).
	ReadPolicy types.ReadPolicy `yaml:"readPolicy"`

	// ForceFillInterval runs a background worker prefetching every partition
	// at this interval. Zero disables it; reads fill buffers on their own.
	ForceFillInterval time.Duration `yaml:"forceFillInterval"`

	// PartitionBufferSize is the message budget of one partition buffer.
	PartitionBufferSize int `yaml:"partitionBufferSize"`

	// FetchCount is the message count asked for by one fetch.
	FetchCount int `yaml:"fetchCount"`

	// FetchMaxBytes is the byte budget of one fetch.
	FetchMaxBytes int64 `yaml:"fetchMaxBytes"`

	// BatchReadCount is the largest batch ReadBatch returns.
	BatchReadCount int `yaml:"batchReadCount"`

	// CompressResponse asks brokers for compressed fetch responses.
	CompressResponse bool `yaml:"compressResponse"`

	// CheckpointMode is "refresh" (position of the next message) or "readed"
	// (after the last message handed out).
	CheckpointMode types.CheckpointMode `yaml:"checkpointMode"`

	// CheckpointRefreshTimestampOffset is subtracted from refresh-mode
	// checkpoints, in microseconds.
	CheckpointRefreshTimestampOffset int64 `yaml:"checkpointRefreshTimestampOffset"`

	// RetryInterval paces polling of caught-up partitions and is the first
	// backoff step after failures.
	RetryInterval time.Duration `yaml:"retryInterval"`

	// MaxRetryInterval caps the failure backoff.
	MaxRetryInterval time.Duration `yaml:"maxRetryInterval"`

	// FatalErrorTimeLimit is how long remote failures are retried silently
	// before Read reports them.
	FatalErrorTimeLimit time.Duration `yaml:"fatalErrorTimeLimit"`

	// AddressCacheTTL is how long resolved broker addresses are reused.
	AddressCacheTTL time.Duration `yaml:"addressCacheTtl"`

	// RPCTimeout bounds one broker request.
	RPCTimeout time.Duration `yaml:"rpcTimeout"`

	// Progress controls progress persistence.
	Progress ProgressConfig `yaml:"progress"`
}

// DefaultConfig returns a Config with sensible defaults and no topics.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		Name:                "mqread",
		ReadPolicy:          types.PolicyDefault,
		PartitionBufferSize: types.DefaultPartitionBufferSize,
		FetchCount:          types.DefaultFetchCount,
		FetchMaxBytes:       types.DefaultFetchMaxBytes,
		BatchReadCount:      types.DefaultBatchReadCount,
		CheckpointMode:      types.CheckpointRefresh,
		RetryInterval:       types.DefaultRetryInterval,
		MaxRetryInterval:    types.DefaultMaxRetryInterval,
		FatalErrorTimeLimit: types.DefaultFatalErrorTimeLimit,
		AddressCacheTTL:     types.DefaultAddressCacheTTL,
		RPCTimeout:          types.DefaultRPCTimeout,
		Progress: ProgressConfig{
			CommitTimeout: 5 * time.Second,
		},
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.ReadPolicy == "" {
		cfg.ReadPolicy = defaults.ReadPolicy
	}
	if cfg.PartitionBufferSize == 0 {
		cfg.PartitionBufferSize = defaults.PartitionBufferSize
	}
	if cfg.FetchCount == 0 {
		cfg.FetchCount = defaults.FetchCount
	}
	if cfg.FetchMaxBytes == 0 {
		cfg.FetchMaxBytes = defaults.FetchMaxBytes
	}
	if cfg.BatchReadCount == 0 {
		cfg.BatchReadCount = defaults.BatchReadCount
	}
	if cfg.CheckpointMode == "" {
		cfg.CheckpointMode = defaults.CheckpointMode
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = defaults.RetryInterval
	}
	if cfg.MaxRetryInterval == 0 {
		cfg.MaxRetryInterval = max(defaults.MaxRetryInterval, cfg.RetryInterval)
	}
	if cfg.FatalErrorTimeLimit == 0 {
		cfg.FatalErrorTimeLimit = defaults.FatalErrorTimeLimit
	}
	if cfg.AddressCacheTTL == 0 {
		cfg.AddressCacheTTL = defaults.AddressCacheTTL
	}
	if cfg.RPCTimeout == 0 {
		cfg.RPCTimeout = defaults.RPCTimeout
	}
	if cfg.Progress.CommitTimeout == 0 {
		cfg.Progress.CommitTimeout = defaults.Progress.CommitTimeout
	}
	for i := range cfg.Topics {
		t := &cfg.Topics[i]
		if t.From == 0 && t.To == 0 {
			t.To = types.MaxHashKey
		}
	}
}

// ReaderConfigs builds the per-topic configuration of every configured topic.
func (cfg *Config) ReaderConfigs() []types.ReaderConfig {
	out := make([]types.ReaderConfig, 0, len(cfg.Topics))
	for _, t := range cfg.Topics {
		rc := types.ReaderConfig{
			Topic:                            t.Name,
			Partitions:                       t.Partitions,
			From:                             t.From,
			To:                               t.To,
			FilterMask:                       t.FilterMask,
			FilterResult:                     t.FilterResult,
			PartitionBufferSize:              cfg.PartitionBufferSize,
			FetchCount:                       cfg.FetchCount,
			FetchMaxBytes:                    cfg.FetchMaxBytes,
			BatchReadCount:                   cfg.BatchReadCount,
			CompressResponse:                 cfg.CompressResponse,
			CheckpointMode:                   cfg.CheckpointMode,
			CheckpointRefreshTimestampOffset: cfg.CheckpointRefreshTimestampOffset,
			RetryInterval:                    cfg.RetryInterval,
			MaxRetryInterval:                 cfg.MaxRetryInterval,
			FatalErrorTimeLimit:              cfg.FatalErrorTimeLimit,
			AddressCacheTTL:                  cfg.AddressCacheTTL,
			RPCTimeout:                       cfg.RPCTimeout,
			RequiredFieldNames:               t.RequiredFieldNames,
			FieldFilterDesc:                  t.FieldFilterDesc,
		}
		out = append(out, rc.Clone())
	}

	return out
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - At least one topic, with distinct non-empty names
//   - ReadPolicy is "default" or "sequence"
//   - ForceFillInterval >= 0, Progress.CommitInterval >= 0
//   - Every per-topic configuration passes types.ReaderConfig.Validate
//
// Returns:
//   - error: Validation error wrapping ErrInvalidConfig, nil if valid
func (cfg *Config) Validate() error {
	if len(cfg.Topics) == 0 {
		return fmt.Errorf("%w: at least one topic is required", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(cfg.Topics))
	for _, t := range cfg.Topics {
		if t.Name == "" {
			return fmt.Errorf("%w: topic name is required", ErrInvalidConfig)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("%w: topic %s configured twice", ErrInvalidConfig, t.Name)
		}
		seen[t.Name] = struct{}{}
	}

	if _, err := types.ParseReadPolicy(string(cfg.ReadPolicy)); err != nil {
		return err
	}
	if cfg.ForceFillInterval < 0 {
		return fmt.Errorf("%w: forceFillInterval must be >= 0, got %v", ErrInvalidConfig, cfg.ForceFillInterval)
	}
	if cfg.Progress.CommitInterval < 0 {
		return fmt.Errorf("%w: progress.commitInterval must be >= 0, got %v", ErrInvalidConfig, cfg.Progress.CommitInterval)
	}

	for _, rc := range cfg.ReaderConfigs() {
		if err := rc.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// ValidateWithWarnings logs warnings for values that work but are likely
// mistakes.
//
// This is called after Validate() in NewReader() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.FatalErrorTimeLimit < 3*cfg.MaxRetryInterval {
		logger.Warn(
			"fatalErrorTimeLimit allows few retries before failures surface",
			"fatalErrorTimeLimit", cfg.FatalErrorTimeLimit,
			"maxRetryInterval", cfg.MaxRetryInterval,
			"recommended", 3*cfg.MaxRetryInterval,
		)
	}

	if cfg.ForceFillInterval > 0 && cfg.ForceFillInterval < cfg.RetryInterval {
		logger.Warn(
			"forceFillInterval is shorter than retryInterval, the worker mostly finds requests in flight",
			"forceFillInterval", cfg.ForceFillInterval,
			"retryInterval", cfg.RetryInterval,
		)
	}

	if cfg.BatchReadCount > cfg.PartitionBufferSize {
		logger.Warn(
			"batchReadCount exceeds partitionBufferSize, batches never fill",
			"batchReadCount", cfg.BatchReadCount,
			"partitionBufferSize", cfg.PartitionBufferSize,
		)
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Retry and timeout intervals are 10-100x shorter than production defaults.
// Use DefaultConfig() for production deployments.
//
// Returns:
//   - Config: Configuration with fast timings and no topics
//
// Example:
//
//	cfg := mqread.TestConfig()
//	cfg.Topics = []mqread.TopicConfig{{Name: "orders"}}
//	r, err := mqread.NewReader(ctx, cfg, admin, pool)
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.RetryInterval = 2 * time.Millisecond
	cfg.MaxRetryInterval = 20 * time.Millisecond
	cfg.FatalErrorTimeLimit = time.Second
	cfg.AddressCacheTTL = time.Second
	cfg.RPCTimeout = time.Second
	cfg.Progress.CommitTimeout = time.Second

	return cfg
}

// ParseConfig decodes a YAML document and applies defaults.
//
// Returns:
//   - Config: Decoded configuration, not yet validated
//   - error: YAML syntax or type error
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	SetDefaults(&cfg)

	return cfg, nil
}

// LoadConfig merges a YAML file (if present) with environment variables
// prefixed by EnvPrefix, then applies defaults.
//
// Environment keys are lower-cased and mapped to yaml keys: a single
// underscore joins words of one key (FETCH_COUNT -> fetchCount), a double
// underscore descends one level.
//
// Parameters:
//   - path: YAML file path; empty or missing reads the environment only
//
// Returns:
//   - Config: Merged configuration, not yet validated
//   - error: File, parse or decode error
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load config environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	SetDefaults(&cfg)

	return cfg, nil
}

// envKey maps MQREAD_PROGRESS__COMMIT_INTERVAL to progress.commitInterval.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	levels := strings.Split(s, "__")
	for i, level := range levels {
		words := strings.Split(level, "_")
		for j := 1; j < len(words); j++ {
			if words[j] != "" {
				words[j] = strings.ToUpper(words[j][:1]) + words[j][1:]
			}
		}
		levels[i] = strings.Join(words, "")
	}

	return strings.Join(levels, ".")
}
