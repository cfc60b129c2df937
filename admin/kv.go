package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/mqread/internal/kvutil"
	"github.com/arloliu/mqread/internal/logging"
	"github.com/arloliu/mqread/internal/natsutil"
	"github.com/arloliu/mqread/types"
)

// Key layout of the metadata bucket.
const (
	topicPrefix  = "topics"
	routePrefix  = "routes"
	schemaPrefix = "schemas"
	defaultRoute = "routes.default"
)

// DefaultBucket is the metadata bucket used when KVConfig.Bucket is empty.
const DefaultBucket = "mq-meta"

// KVConfig configures a KV admin client.
type KVConfig struct {
	// Bucket is the JetStream KV bucket holding the metadata.
	Bucket string

	// Watch keeps topic metadata in a local cache updated by a KV watcher.
	// Without it every TopicInfo call reads the bucket.
	Watch bool

	// Logger receives watcher and route invalidation events.
	Logger types.Logger
}

// KV implements an admin client over a JetStream KeyValue bucket.
//
// Keys:
//   - topics.<topic>: JSON types.TopicMetadata
//   - routes.<topic>.<partition>: broker address of one partition
//   - routes.default: broker address of partitions without their own route
//   - schemas.<topic>.<version>: schema text
//
// Topic names must be valid KV key tokens. Broker routes and schemas are
// cached; a reported broker error drops the cached route of the partition.
type KV struct {
	kv     jetstream.KeyValue
	logger types.Logger

	topics  *xsync.Map[string, types.TopicMetadata]
	routes  *xsync.Map[string, string]
	schemas *xsync.Map[string, string]

	watcher jetstream.KeyWatcher
	ready   chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

var _ types.AdminClient = (*KV)(nil)

// NewKV opens (creating if needed) the metadata bucket.
//
// Parameters:
//   - ctx: Context for bucket creation and the initial watcher replay
//   - js: JetStream context
//   - cfg: Bucket name, watch flag and logger
//
// Returns:
//   - *KV: Admin client; call Close to stop the watcher
//   - error: Bucket or watcher error
//
// Example:
//
//	js, _ := jetstream.New(nc)
//	adm, err := admin.NewKV(ctx, js, admin.KVConfig{Watch: true})
//	if err != nil { /* handle */ }
//	defer adm.Close()
func NewKV(ctx context.Context, js jetstream.JetStream, cfg KVConfig) (*KV, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	bucket, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "mqread topic metadata",
		History:     1,
	}, kvutil.DefaultAttempts)
	if err != nil {
		return nil, err
	}

	a := &KV{
		kv:      bucket,
		logger:  cfg.Logger,
		topics:  xsync.NewMap[string, types.TopicMetadata](),
		routes:  xsync.NewMap[string, string](),
		schemas: xsync.NewMap[string, string](),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if !cfg.Watch {
		close(a.doneCh)
		return a, nil
	}

	watcher, err := bucket.Watch(ctx, topicPrefix+".*")
	if err != nil {
		return nil, fmt.Errorf("failed to start topic watcher: %w", err)
	}
	a.watcher = watcher
	a.ready = make(chan struct{})
	go a.processWatcherEvents()

	// TopicInfo serves from the cache once the initial replay completed.
	select {
	case <-a.ready:
	case <-ctx.Done():
		_ = a.Close()
		return nil, ctx.Err()
	}

	return a, nil
}

func topicKey(name string) string {
	return topicPrefix + "." + name
}

func routeKey(topic string, partition uint32) string {
	return routePrefix + "." + topic + "." + strconv.FormatUint(uint64(partition), 10)
}

func schemaKey(topic string, version int32) string {
	return schemaPrefix + "." + topic + "." + strconv.FormatInt(int64(version), 10)
}

// processWatcherEvents mirrors topic keys into the local cache.
func (a *KV) processWatcherEvents() {
	defer close(a.doneCh)

	replayed := false
	for {
		select {
		case <-a.stopCh:
			return
		case entry, ok := <-a.watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				// End of the initial replay.
				if !replayed {
					replayed = true
					close(a.ready)
				}
				continue
			}

			name := strings.TrimPrefix(entry.Key(), topicPrefix+".")
			if entry.Operation() != jetstream.KeyValuePut {
				a.topics.Delete(name)
				a.logger.Debug("topic metadata removed", "topic", name)
				continue
			}

			var meta types.TopicMetadata
			if err := json.Unmarshal(entry.Value(), &meta); err != nil {
				a.logger.Warn("ignoring undecodable topic metadata", "topic", name, "error", err)
				continue
			}
			a.topics.Store(name, meta)
			a.logger.Debug("topic metadata updated", "topic", name, "version", meta.Version)
		}
	}
}

// TopicInfo returns the metadata of a topic, normalized.
func (a *KV) TopicInfo(ctx context.Context, name string) (*types.TopicMetadata, error) {
	var meta types.TopicMetadata
	if a.watcher != nil {
		cached, ok := a.topics.Load(name)
		if !ok {
			return nil, types.NewError(types.CodeTopicNotExisted, "topic %s", name)
		}
		meta = cached
	} else if _, err := kvutil.GetJSON(ctx, a.kv, topicKey(name), &meta); err != nil {
		if errors.Is(err, types.ErrNoKeysFound) {
			return nil, types.NewError(types.CodeTopicNotExisted, "topic %s", name)
		}

		return nil, natsutil.Wrap(err)
	}

	meta.PhysicTopics = append([]types.PhysicTopic(nil), meta.PhysicTopics...)
	if err := meta.Normalize(); err != nil {
		return nil, err
	}

	return &meta, nil
}

// BrokerAddress returns the route of a partition, falling back to the default route.
func (a *KV) BrokerAddress(ctx context.Context, topic string, partition uint32) (string, error) {
	key := routeKey(topic, partition)
	if addr, ok := a.routes.Load(key); ok {
		return addr, nil
	}

	for _, k := range []string{key, defaultRoute} {
		entry, err := a.kv.Get(ctx, k)
		if err != nil {
			if natsutil.IsNotFound(err) {
				continue
			}

			return "", natsutil.Wrap(err)
		}
		addr := string(entry.Value())
		a.routes.Store(key, addr)

		return addr, nil
	}

	return "", types.NewError(types.CodePartitionNotFound, "no broker for %s/%d", topic, partition)
}

// Schema returns a schema version of a topic. Schemas are immutable once
// written and cached forever.
func (a *KV) Schema(ctx context.Context, topic string, version int32) (string, error) {
	key := schemaKey(topic, version)
	if schema, ok := a.schemas.Load(key); ok {
		return schema, nil
	}

	entry, err := a.kv.Get(ctx, key)
	if err != nil {
		if natsutil.IsNotFound(err) {
			return "", fmt.Errorf("schema %s@%d: %w", topic, version, types.ErrNoKeysFound)
		}

		return "", natsutil.Wrap(err)
	}
	schema := string(entry.Value())
	a.schemas.Store(key, schema)

	return schema, nil
}

// ReportBrokerError drops the cached route so the next lookup reads the bucket.
func (a *KV) ReportBrokerError(topic string, partition uint32, address string, code types.ErrorCode) {
	a.routes.Delete(routeKey(topic, partition))
	a.logger.Warn("broker route invalidated",
		"topic", topic,
		"partition", partition,
		"address", address,
		"code", code,
	)
}

// PutTopic publishes topic metadata.
func (a *KV) PutTopic(ctx context.Context, meta types.TopicMetadata) error {
	if meta.Name == "" {
		return types.NewError(types.CodeInvalidParameters, "topic name is required")
	}
	_, err := kvutil.PutJSON(ctx, a.kv, topicKey(meta.Name), meta)

	return err
}

// DeleteTopic removes topic metadata.
func (a *KV) DeleteTopic(ctx context.Context, name string) error {
	if err := a.kv.Delete(ctx, topicKey(name)); err != nil {
		return fmt.Errorf("delete topic %s: %w", name, err)
	}

	return nil
}

// PutRoute publishes the broker address of one partition.
func (a *KV) PutRoute(ctx context.Context, topic string, partition uint32, address string) error {
	key := routeKey(topic, partition)
	if _, err := a.kv.PutString(ctx, key, address); err != nil {
		return fmt.Errorf("put route %s: %w", key, err)
	}
	a.routes.Delete(key)

	return nil
}

// PutDefaultRoute publishes the address of partitions without their own route.
func (a *KV) PutDefaultRoute(ctx context.Context, address string) error {
	if _, err := a.kv.PutString(ctx, defaultRoute, address); err != nil {
		return fmt.Errorf("put default route: %w", err)
	}

	return nil
}

// PutSchema publishes a schema version of a topic.
func (a *KV) PutSchema(ctx context.Context, topic string, version int32, schema string) error {
	key := schemaKey(topic, version)
	if _, err := a.kv.PutString(ctx, key, schema); err != nil {
		return fmt.Errorf("put schema %s: %w", key, err)
	}

	return nil
}

// Close stops the topic watcher. The bucket stays in place.
func (a *KV) Close() error {
	var err error
	a.once.Do(func() {
		if a.watcher == nil {
			return
		}
		close(a.stopCh)
		<-a.doneCh
		err = a.watcher.Stop()
	})

	return err
}
