package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/mqread"
	"github.com/arloliu/mqread/admin"
	mqtest "github.com/arloliu/mqread/testing"
	"github.com/arloliu/mqread/transport/natsrpc"
	"github.com/arloliu/mqread/types"
)

// FarClock is a broker clock far past every test timestamp, so drained
// partitions report a next timestamp that never holds back the merge.
func FarClock() int64 { return 1 << 40 }

// NATSCluster is a set of memory brokers reachable over NATS.
//
// Partition p of a topic routes to broker p mod len(brokers). Every broker holds
// every topic, so a route can be moved to another broker that was fed the same
// data with AppendAll.
type NATSCluster struct {
	t     *testing.T
	NC    *nats.Conn
	JS    jetstream.JetStream
	Admin *admin.KV
	Pool  *natsrpc.Pool

	mu        sync.Mutex
	addresses []string
	brokers   map[string]types.Broker
	memory    map[string]*mqtest.MemoryBroker
	servers   map[string]*natsrpc.Server
}

// NewNATSCluster starts an embedded NATS server and one memory broker per address.
//
// Example:
//
//	c := testutil.NewNATSCluster(t, "broker-a", "broker-b")
//	c.CreateTopic("orders", 4)
//	c.Append("orders", 0, 10, []byte("x"))
//	r := c.NewReader(t, cfg)
func NewNATSCluster(t *testing.T, addresses ...string) *NATSCluster {
	t.Helper()
	require.NotEmpty(t, addresses)

	_, nc := mqtest.StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	adm, err := admin.NewKV(t.Context(), js, admin.KVConfig{
		Bucket: "mq-meta",
		Watch:  true,
		Logger: mqtest.NewTestLogger(t),
	})
	require.NoError(t, err)

	c := &NATSCluster{
		t:         t,
		NC:        nc,
		JS:        js,
		Admin:     adm,
		Pool:      natsrpc.NewPool(nc, natsrpc.PoolConfig{Logger: mqtest.NewTestLogger(t)}),
		addresses: addresses,
		brokers:   make(map[string]types.Broker),
		memory:    make(map[string]*mqtest.MemoryBroker),
		servers:   make(map[string]*natsrpc.Server),
	}
	for _, addr := range addresses {
		b := mqtest.NewMemoryBroker()
		b.SetClock(FarClock)
		c.memory[addr] = b
		c.brokers[addr] = b
		c.serve(addr)
	}
	require.NoError(t, adm.PutDefaultRoute(t.Context(), addresses[0]))

	t.Cleanup(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, srv := range c.servers {
			_ = srv.Close()
		}
		_ = c.Pool.Close()
		_ = c.Admin.Close()
	})

	return c
}

func (c *NATSCluster) serve(address string) {
	srv, err := natsrpc.Serve(c.NC, c.brokers[address], natsrpc.ServeConfig{
		Address: address,
		Timeout: 2 * time.Second,
	})
	require.NoError(c.t, err)
	c.servers[address] = srv
}

// Broker returns the memory broker at address.
func (c *NATSCluster) Broker(address string) *mqtest.MemoryBroker {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.memory[address]
	require.True(c.t, ok, "unknown broker %s", address)

	return b
}

// Wrap replaces what address serves with wrap(memory broker), e.g. a ChaosBroker.
func (c *NATSCluster) Wrap(address string, wrap func(types.Broker) types.Broker) {
	c.mu.Lock()
	defer c.mu.Unlock()

	require.NoError(c.t, c.servers[address].Close())
	c.brokers[address] = wrap(c.memory[address])
	c.serve(address)
}

// Stop unsubscribes the broker at address; requests to it get no responders.
func (c *NATSCluster) Stop(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	srv, ok := c.servers[address]
	if !ok {
		return
	}
	require.NoError(c.t, srv.Close())
	delete(c.servers, address)
}

// Owner returns the broker address partition routes to at creation.
func (c *NATSCluster) Owner(partition uint32) string {
	return c.addresses[int(partition)%len(c.addresses)]
}

// CreateTopic creates a normal topic on every broker and publishes its
// metadata and routes.
func (c *NATSCluster) CreateTopic(name string, partitions uint32) {
	c.t.Helper()

	ctx := c.t.Context()
	for _, addr := range c.addresses {
		c.Broker(addr).CreateTopic(name, partitions, 1)
	}
	for p := range partitions {
		require.NoError(c.t, c.Admin.PutRoute(ctx, name, p, c.Owner(p)))
	}
	c.putTopic(types.TopicMetadata{Name: name, PartitionCount: partitions, Type: types.TopicNormal, Version: 1})
}

// SetLogicTopic publishes the chain of a logical topic at version. New physic
// topics are created on every broker with routes following Owner.
func (c *NATSCluster) SetLogicTopic(name string, version int64, sealed bool, physics ...types.PhysicTopic) {
	c.t.Helper()

	ctx := c.t.Context()
	for _, p := range physics {
		for _, addr := range c.addresses {
			b := c.Broker(addr)
			b.CreateTopic(p.Name, p.PartitionCount, version)
			if p.Sealed {
				b.Seal(p.Name)
			}
		}
		for part := range p.PartitionCount {
			require.NoError(c.t, c.Admin.PutRoute(ctx, p.Name, part, c.Owner(part)))
		}
	}
	c.putTopic(types.TopicMetadata{
		Name:         name,
		Type:         types.TopicLogic,
		PhysicTopics: append([]types.PhysicTopic(nil), physics...),
		Version:      version,
		Sealed:       sealed,
	})
}

func (c *NATSCluster) putTopic(meta types.TopicMetadata) {
	require.NoError(c.t, c.Admin.PutTopic(c.t.Context(), meta))
	// The watch applies puts asynchronously.
	require.Eventually(c.t, func() bool {
		got, err := c.Admin.TopicInfo(c.t.Context(), meta.Name)
		return err == nil && got.Version == meta.Version && len(got.PhysicTopics) == len(meta.PhysicTopics)
	}, 5*time.Second, 5*time.Millisecond)
}

// Append writes a message to the owner of partition.
func (c *NATSCluster) Append(topic string, partition uint32, ts int64, data []byte) {
	c.Broker(c.Owner(partition)).Append(topic, partition, ts, data)
}

// AppendAll writes a message to every broker.
func (c *NATSCluster) AppendAll(topic string, partition uint32, ts int64, data []byte) {
	for _, addr := range c.addresses {
		c.Broker(addr).Append(topic, partition, ts, data)
	}
}

// MoveRoute routes partition of topic to address.
func (c *NATSCluster) MoveRoute(topic string, partition uint32, address string) {
	require.NoError(c.t, c.Admin.PutRoute(c.t.Context(), topic, partition, address))
}

// NewReader builds a reader over the cluster, closed by t.Cleanup.
func (c *NATSCluster) NewReader(t *testing.T, cfg mqread.Config, opts ...mqread.Option) *mqread.Reader {
	t.Helper()

	opts = append([]mqread.Option{mqread.WithLogger(mqtest.NewTestLogger(t)), mqread.WithSeed(1)}, opts...)
	r, err := mqread.NewReader(t.Context(), &cfg, c.Admin, c.Pool, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	return r
}

// ReaderConfig returns a fast-retrying configuration reading topics.
func ReaderConfig(name string, topics ...string) mqread.Config {
	cfg := mqread.TestConfig()
	cfg.Name = name
	for _, topic := range topics {
		cfg.Topics = append(cfg.Topics, mqread.TopicConfig{Name: topic})
	}

	return cfg
}

// ReadTimestamps reads n messages and returns their timestamps.
func ReadTimestamps(ctx context.Context, t *testing.T, r *mqread.Reader, n int, timeout time.Duration) []int64 {
	t.Helper()

	got := make([]int64, 0, n)
	for len(got) < n {
		msg, _, err := r.Read(ctx, timeout)
		require.NoError(t, err, "after %d messages", len(got))
		got = append(got, msg.Timestamp)
	}

	return got
}
