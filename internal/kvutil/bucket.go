// Package kvutil provides utilities for working with NATS JetStream KeyValue stores.
package kvutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/mqread/internal/natsutil"
	"github.com/arloliu/mqread/types"
)

// DefaultAttempts is the attempt count used when EnsureBucket gets a non-positive one.
const DefaultAttempts = 3

// EnsureBucket creates or opens a KV bucket with retry logic.
//
// This function handles race conditions when several readers create the same
// bucket concurrently. It retries with exponential backoff when creation
// fails due to transient errors.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - js: JetStream context
//   - config: KV bucket configuration
//   - attempts: Maximum number of attempts (DefaultAttempts when <= 0)
//
// Returns:
//   - jetstream.KeyValue: The KV bucket instance
//   - error: Any error that occurred after all retries
//
// Example:
//
//	kv, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
//	    Bucket: "mq-progress",
//	}, 3)
func EnsureBucket(
	ctx context.Context,
	js jetstream.JetStream,
	config jetstream.KeyValueConfig,
	attempts int,
) (jetstream.KeyValue, error) {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	var lastErr error

	for attempt := range attempts {
		kv, err := js.CreateKeyValue(ctx, config)
		if err == nil {
			return kv, nil
		}

		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, err := js.KeyValue(ctx, config.Bucket)
			if err == nil {
				return kv, nil
			}
			lastErr = fmt.Errorf("bucket exists but failed to open: %w", err)
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled during KV bucket creation: %w", ctx.Err())
		}

		// Exponential backoff: 10ms, 20ms, 40ms...
		if attempt < attempts-1 {
			backoff := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond //nolint:gosec // attempt is bounded by attempts
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("failed to create/open KV bucket %s after %d attempts: %w",
		config.Bucket, attempts, lastErr)
}

// GetJSON reads key and decodes its JSON value into out.
//
// Returns:
//   - uint64: Revision of the entry
//   - error: types.ErrNoKeysFound when the key is missing or deleted
func GetJSON(ctx context.Context, kv jetstream.KeyValue, key string, out any) (uint64, error) {
	entry, err := kv.Get(ctx, key)
	if err != nil {
		if natsutil.IsNotFound(err) {
			return 0, fmt.Errorf("%s: %w", key, types.ErrNoKeysFound)
		}

		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(entry.Value(), out); err != nil {
		return 0, fmt.Errorf("decode %s: %w", key, err)
	}

	return entry.Revision(), nil
}

// PutJSON encodes value as JSON and stores it under key.
func PutJSON(ctx context.Context, kv jetstream.KeyValue, key string, value any) (uint64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", key, err)
	}
	rev, err := kv.Put(ctx, key, data)
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}

	return rev, nil
}
