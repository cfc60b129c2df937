package types

import (
	"fmt"
	"slices"
	"time"
)

// CheckpointMode selects what a partition reports as its checkpoint.
type CheckpointMode string

const (
	// CheckpointRefresh reports the position about to be consumed, moved back by
	// ReaderConfig.CheckpointRefreshTimestampOffset.
	CheckpointRefresh CheckpointMode = "refresh"

	// CheckpointReaded reports the position just after the last message handed out.
	CheckpointReaded CheckpointMode = "readed"
)

// Default tuning values of a topic reader.
const (
	DefaultPartitionBufferSize = 1024
	DefaultFetchCount          = 256
	DefaultFetchMaxBytes       = 4 << 20
	DefaultBatchReadCount      = 128
	DefaultRetryInterval       = 100 * time.Millisecond
	DefaultMaxRetryInterval    = 3 * time.Second
	DefaultFatalErrorTimeLimit = 60 * time.Second
	DefaultAddressCacheTTL     = 30 * time.Second
	DefaultRPCTimeout          = 5 * time.Second
	MaxHashKey                 = 65535
)

// ReaderConfig is the immutable configuration of one topic reader. A topic reader is
// rebuilt from a fresh copy when its topic migrates.
type ReaderConfig struct {
	Topic string `yaml:"topic"`

	// Partitions restricts reading to these partition ids. Empty reads every
	// partition overlapping [From, To].
	Partitions []uint32 `yaml:"partitions"`

	// From and To bound the key hash range owned by the reader, inclusive.
	From uint16 `yaml:"from"`
	To   uint16 `yaml:"to"`

	// A message passes the filter when Mask&FilterMask == FilterResult.
	FilterMask   uint8 `yaml:"filterMask"`
	FilterResult uint8 `yaml:"filterResult"`

	PartitionBufferSize int   `yaml:"partitionBufferSize"`
	FetchCount          int   `yaml:"fetchCount"`
	FetchMaxBytes       int64 `yaml:"fetchMaxBytes"`
	BatchReadCount      int   `yaml:"batchReadCount"`
	CompressResponse    bool  `yaml:"compressResponse"`

	CheckpointMode CheckpointMode `yaml:"checkpointMode"`
	// CheckpointRefreshTimestampOffset is subtracted from refresh-mode checkpoints,
	// in microseconds.
	CheckpointRefreshTimestampOffset int64 `yaml:"checkpointRefreshTimestampOffset"`

	RetryInterval       time.Duration `yaml:"retryInterval"`
	MaxRetryInterval    time.Duration `yaml:"maxRetryInterval"`
	FatalErrorTimeLimit time.Duration `yaml:"fatalErrorTimeLimit"`
	AddressCacheTTL     time.Duration `yaml:"addressCacheTtl"`
	RPCTimeout          time.Duration `yaml:"rpcTimeout"`

	RequiredFieldNames []string `yaml:"requiredFieldNames"`
	FieldFilterDesc    string   `yaml:"fieldFilterDesc"`
}

// DefaultReaderConfig returns a ReaderConfig for topic covering the whole key range.
func DefaultReaderConfig(topic string) ReaderConfig {
	return ReaderConfig{
		Topic:               topic,
		From:                0,
		To:                  MaxHashKey,
		PartitionBufferSize: DefaultPartitionBufferSize,
		FetchCount:          DefaultFetchCount,
		FetchMaxBytes:       DefaultFetchMaxBytes,
		BatchReadCount:      DefaultBatchReadCount,
		CheckpointMode:      CheckpointRefresh,
		RetryInterval:       DefaultRetryInterval,
		MaxRetryInterval:    DefaultMaxRetryInterval,
		FatalErrorTimeLimit: DefaultFatalErrorTimeLimit,
		AddressCacheTTL:     DefaultAddressCacheTTL,
		RPCTimeout:          DefaultRPCTimeout,
	}
}

// Clone returns a deep copy.
func (c ReaderConfig) Clone() ReaderConfig {
	c.Partitions = slices.Clone(c.Partitions)
	c.RequiredFieldNames = slices.Clone(c.RequiredFieldNames)

	return c
}

// Accepts reports whether a message with the given mask passes the filter.
func (c *ReaderConfig) Accepts(mask uint8) bool {
	return mask&c.FilterMask == c.FilterResult
}

// Validate checks the configuration for values a reader cannot work with.
func (c *ReaderConfig) Validate() error {
	if c.Topic == "" {
		return fmt.Errorf("%w: topic name is required", ErrInvalidConfig)
	}
	if c.From > c.To {
		return fmt.Errorf("%w: topic %s: hash range [%d, %d] is empty", ErrInvalidConfig, c.Topic, c.From, c.To)
	}
	if c.FilterResult&^c.FilterMask != 0 {
		return fmt.Errorf("%w: topic %s: filter result %#x has bits outside mask %#x",
			ErrInvalidConfig, c.Topic, c.FilterResult, c.FilterMask)
	}
	if c.PartitionBufferSize <= 0 || c.FetchCount <= 0 || c.BatchReadCount <= 0 {
		return fmt.Errorf("%w: topic %s: buffer, fetch and batch sizes must be positive", ErrInvalidConfig, c.Topic)
	}
	if c.FetchMaxBytes <= 0 {
		return fmt.Errorf("%w: topic %s: fetchMaxBytes must be positive", ErrInvalidConfig, c.Topic)
	}
	switch c.CheckpointMode {
	case CheckpointRefresh, CheckpointReaded:
	default:
		return fmt.Errorf("%w: topic %s: unknown checkpoint mode %q", ErrInvalidConfig, c.Topic, c.CheckpointMode)
	}
	if c.CheckpointRefreshTimestampOffset < 0 {
		return fmt.Errorf("%w: topic %s: checkpointRefreshTimestampOffset must be >= 0", ErrInvalidConfig, c.Topic)
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("%w: topic %s: retryInterval must be positive", ErrInvalidConfig, c.Topic)
	}
	if c.MaxRetryInterval < c.RetryInterval {
		return fmt.Errorf("%w: topic %s: maxRetryInterval (%v) must be >= retryInterval (%v)",
			ErrInvalidConfig, c.Topic, c.MaxRetryInterval, c.RetryInterval)
	}
	if c.FatalErrorTimeLimit <= 0 || c.RPCTimeout <= 0 {
		return fmt.Errorf("%w: topic %s: fatalErrorTimeLimit and rpcTimeout must be positive", ErrInvalidConfig, c.Topic)
	}

	return nil
}
