package integration_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/mqread/test/testutil"
)

func expectedRange(start int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = start + int64(i)
	}

	return out
}

// TestNATS_MergesAcrossBrokers reads a topic whose partitions are spread over
// two brokers and checks the merged order.
func TestNATS_MergesAcrossBrokers(t *testing.T) {
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
		Rounds:     25,
	})
	p.Wait()
	require.Equal(t, int64(100), p.Produced())

	r := c.NewReader(t, testutil.ReaderConfig("merge", "orders"))
	got := testutil.ReadTimestamps(t.Context(), t, r, 100, 2*time.Second)
	require.Equal(t, expectedRange(1000, 100), got)

	require.Positive(t, c.Broker("broker-a").FetchCount())
	require.Positive(t, c.Broker("broker-b").FetchCount())
}

// TestNATS_MultiTopicOrder reads two topics with the default policy, which
// interleaves them by timestamp.
func TestNATS_MultiTopicOrder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	t.Parallel()

	c := testutil.NewNATSCluster(t, "broker-a")
	c.CreateTopic("orders", 2)
	c.CreateTopic("payments", 1)

	for _, ts := range []int64{10, 40, 70} {
		c.Append("orders", 0, ts, nil)
	}
	c.Append("orders", 1, 50, nil)
	for _, ts := range []int64{20, 60} {
		c.Append("payments", 0, ts, nil)
	}

	r := c.NewReader(t, testutil.ReaderConfig("multi", "orders", "payments"))

	var topics []string
	var got []int64
	for range 6 {
		msg, _, err := r.Read(t.Context(), 2*time.Second)
		require.NoError(t, err)
		got = append(got, msg.Timestamp)
		topics = append(topics, msg.Topic)
	}
	require.Equal(t, []int64{10, 20, 40, 50, 60, 70}, got)
	require.Equal(t, []string{"orders", "payments", "orders", "orders", "payments", "orders"}, topics)
}

// TestNATS_RouteFailover stops the broker owning a partition and moves the
// route; the reader must continue from where it stopped without duplicates.
func TestNATS_RouteFailover(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	t.Parallel()

	c := testutil.NewNATSCluster(t, "broker-a", "broker-b")
	c.CreateTopic("orders", 2)
	p := testutil.StartProducer(c.AppendAll, testutil.ProducerConfig{
		Topic:      "orders",
		Partitions: 2,
		Interval:   time.Microsecond,
		Rounds:     20,
	})
	p.Wait()

	cfg := testutil.ReaderConfig("failover", "orders")
	cfg.FetchCount = 4
	cfg.PartitionBufferSize = 4
	r := c.NewReader(t, cfg)

	got := testutil.ReadTimestamps(t.Context(), t, r, 10, 2*time.Second)

	c.Stop("broker-a")
	c.MoveRoute("orders", 0, "broker-b")

	got = append(got, testutil.ReadTimestamps(t.Context(), t, r, 30, 5*time.Second)...)
	require.Equal(t, expectedRange(1000, 40), got)
}

// TestNATS_LiveTail reads while a producer is still appending.
func TestNATS_LiveTail(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	t.Parallel()

	c := testutil.NewNATSCluster(t, "broker-a", "broker-b")
	c.CreateTopic("orders", 3)

	p := testutil.StartProducer(c.Append, testutil.ProducerConfig{
		Topic:      "orders",
		Partitions: 3,
		Interval:   2 * time.Millisecond,
		Rounds:     40,
	})
	t.Cleanup(p.Stop)
	c.Broker("broker-a").SetClock(p.Clock)
	c.Broker("broker-b").SetClock(p.Clock)

	r := c.NewReader(t, testutil.ReaderConfig("tail", "orders"))
	got := testutil.ReadTimestamps(t.Context(), t, r, 120, 5*time.Second)
	require.Equal(t, expectedRange(1000, 120), got)
}
