package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/mqread/internal/kvutil"
	"github.com/arloliu/mqread/internal/natsutil"
	"github.com/arloliu/mqread/types"
)

// DefaultBucket is the KV bucket progress is kept in.
const DefaultBucket = "mq-progress"

const keyPrefix = "progress."

// KVConfig configures a KV store.
type KVConfig struct {
	// Bucket is the KV bucket name (DefaultBucket when empty).
	Bucket string
	// History is the number of revisions kept per reader (1 when zero).
	History uint8
}

// KV stores reader progress in a JetStream key-value bucket.
type KV struct {
	kv jetstream.KeyValue
}

var _ types.ProgressStore = (*KV)(nil)

// NewKV opens or creates the progress bucket.
//
// Parameters:
//   - ctx: Context for bucket creation
//   - js: JetStream context
//   - cfg: Bucket name and history depth
//
// Returns:
//   - *KV: Store ready for use
//   - error: Bucket could not be created or opened
func NewKV(ctx context.Context, js jetstream.JetStream, cfg KVConfig) (*KV, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.History == 0 {
		cfg.History = 1
	}

	kv, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "mqread reader progress",
		History:     cfg.History,
	}, kvutil.DefaultAttempts)
	if err != nil {
		return nil, err
	}

	return &KV{kv: kv}, nil
}

// Name returns the store label used in metrics.
func (s *KV) Name() string {
	return "nats-kv"
}

// Save stores the progress of reader.
func (s *KV) Save(ctx context.Context, reader string, progress *types.ReaderProgress) error {
	key, err := progressKey(reader)
	if err != nil {
		return err
	}
	if progress == nil {
		return types.NewError(types.CodeInvalidParameters, "nil progress for reader %q", reader)
	}
	if _, err := kvutil.PutJSON(ctx, s.kv, key, progress); err != nil {
		return natsError(err)
	}

	return nil
}

// Load returns the stored progress of reader or ErrNoKeysFound.
func (s *KV) Load(ctx context.Context, reader string) (*types.ReaderProgress, error) {
	key, err := progressKey(reader)
	if err != nil {
		return nil, err
	}

	var progress types.ReaderProgress
	if _, err := kvutil.GetJSON(ctx, s.kv, key, &progress); err != nil {
		if errors.Is(err, types.ErrNoKeysFound) {
			return nil, err
		}

		return nil, natsError(err)
	}
	for i := range progress.Topics {
		if err := progress.Topics[i].Validate(); err != nil {
			return nil, fmt.Errorf("stored progress of %q: %w", reader, err)
		}
	}

	return &progress, nil
}

// Delete removes the stored progress of reader. Deleting a missing entry is not an error.
func (s *KV) Delete(ctx context.Context, reader string) error {
	key, err := progressKey(reader)
	if err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, key); err != nil && !natsutil.IsNotFound(err) {
		return natsError(err)
	}

	return nil
}

// Close releases nothing; the NATS connection belongs to the caller.
func (s *KV) Close() error {
	return nil
}

func progressKey(reader string) (string, error) {
	if reader == "" || strings.ContainsAny(reader, " *>") {
		return "", types.NewError(types.CodeInvalidParameters, "invalid reader name %q", reader)
	}

	return keyPrefix + reader, nil
}

func natsError(err error) error {
	if natsutil.IsConnectivityError(err) {
		return natsutil.Wrap(err)
	}

	return err
}
