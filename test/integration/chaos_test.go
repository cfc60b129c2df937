package integration_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/mqread/test/testutil"
	"github.com/arloliu/mqread/types"
)

// TestChaos_OrderSurvivesBrokerFaults serves both brokers through a chaos
// wrapper. Retries must hide every fault without losing or repeating messages.
func TestChaos_OrderSurvivesBrokerFaults(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	t.Parallel()

	c := testutil.NewNATSCluster(t, "broker-a", "broker-b")
	c.CreateTopic("orders", 4)
	p := testutil.StartProducer(c.Append, testutil.ProducerConfig{
		Topic:      "orders",
		Partitions: 4,
		Interval:   time.Microsecond,
		Rounds:     30,
	})
	p.Wait()

	chaos := map[string]*testutil.ChaosBroker{}
	for i, addr := range []string{"broker-a", "broker-b"} {
		c.Wrap(addr, func(b types.Broker) types.Broker {
			cb := testutil.NewChaosBroker(b, testutil.ChaosConfig{
				FailRate: 0.2,
				BusyRate: 0.1,
				MaxDelay: 3 * time.Millisecond,
				Seed:     uint64(i + 1),
			})
			chaos[addr] = cb

			return cb
		})
	}

	cfg := testutil.ReaderConfig("chaos", "orders")
	cfg.FetchCount = 8
	cfg.FatalErrorTimeLimit = 10 * time.Second
	r := c.NewReader(t, cfg)

	got := testutil.ReadTimestamps(t.Context(), t, r, 120, 5*time.Second)
	require.Equal(t, expectedRange(1000, 120), got)

	var injected int64
	for _, cb := range chaos {
		stats := cb.Stats()
		injected += stats.Failures + stats.Busy
	}
	require.Positive(t, injected)
}
