package stress_test

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/mqread"
	mqtest "github.com/arloliu/mqread/testing"
	"github.com/arloliu/mqread/test/testutil"
)

// readOrdered reads n messages and checks each timestamp is the next one.
func readOrdered(t *testing.T, r *mqread.Reader, start int64, n int) {
	t.Helper()

	want := start
	for i := range n {
		msg, _, err := r.Read(t.Context(), 5*time.Second)
		require.NoError(t, err, "message %d", i)
		require.Equal(t, want, msg.Timestamp, "message %d", i)
		want++
	}
}

// TestStressSmoke pushes a small load through the NATS transport. It always
// runs outside -short to catch regressions in the stress helpers.
func TestStressSmoke(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping smoke test in short mode")
	}

	c := testutil.NewNATSCluster(t, "broker-a", "broker-b")
	c.CreateTopic("orders", 8)
	p := testutil.StartProducer(c.Append, testutil.ProducerConfig{
		Topic:      "orders",
		Partitions: 8,
		Interval:   time.Microsecond,
		Rounds:     50,
	})
	p.Wait()

	mon := testutil.StartResourceMonitor(50 * time.Millisecond)
	r := c.NewReader(t, testutil.ReaderConfig("smoke", "orders"))
	readOrdered(t, r, 1000, 400)
	t.Log(mon.Stop())
}

// TestStress_ManyPartitionsLiveTail tails a wide topic spread over four
// brokers while the producer keeps appending.
func TestStress_ManyPartitionsLiveTail(t *testing.T) {
	requireStressEnabled(t)

	const (
		partitions = 64
		rounds     = 500
	)

	c := testutil.NewNATSCluster(t, "broker-a", "broker-b", "broker-c", "broker-d")
	c.CreateTopic("orders", partitions)
	p := testutil.StartProducer(c.Append, testutil.ProducerConfig{
		Topic:      "orders",
		Partitions: partitions,
		Interval:   time.Millisecond,
		Rounds:     rounds,
	})
	t.Cleanup(p.Stop)
	for _, addr := range []string{"broker-a", "broker-b", "broker-c", "broker-d"} {
		c.Broker(addr).SetClock(p.Clock)
	}

	cfg := testutil.ReaderConfig("tail", "orders")
	cfg.ForceFillInterval = 5 * time.Millisecond
	r := c.NewReader(t, cfg)

	mon := testutil.StartResourceMonitor(500 * time.Millisecond)
	start := time.Now()
	readOrdered(t, r, 1000, partitions*rounds)
	report := mon.Stop()

	t.Logf("read %d messages in %v; %s", partitions*rounds, time.Since(start), report)
	require.Less(t, report.HeapGrowthMB(), 256.0)
}

// TestStress_ReaderChurn opens and closes readers repeatedly and checks their
// goroutines are released.
func TestStress_ReaderChurn(t *testing.T) {
	requireStressEnabled(t)

	c := mqtest.NewCluster()
	c.CreateTopic("orders", 16)
	c.Broker.SetClock(testutil.FarClock)
	p := testutil.StartProducer(testutil.BrokerAppender(c.Broker), testutil.ProducerConfig{
		Topic:      "orders",
		Partitions: 16,
		Interval:   time.Microsecond,
		Rounds:     20,
	})
	p.Wait()

	baseline := runtime.NumGoroutine()
	for range 200 {
		cfg := testutil.ReaderConfig("churn", "orders")
		cfg.ForceFillInterval = time.Millisecond
		r, err := mqread.NewReader(t.Context(), &cfg, c.Admin, c.Pool)
		require.NoError(t, err)
		readOrdered(t, r, 1000, 32)
		require.NoError(t, r.Close())
	}

	testutil.RequireGoroutinesSettle(t, baseline, 5, 5*time.Second)
}
