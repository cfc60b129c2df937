package integration_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/mqread"
	"github.com/arloliu/mqread/checkpoint"
	"github.com/arloliu/mqread/test/testutil"
)

// TestResume_FromKVCheckpoint commits progress to the JetStream KV store and
// resumes a second reader of the same name from it.
func TestResume_FromKVCheckpoint(t *testing.T) {
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
		Rounds:     10,
	})
	p.Wait()

	store, err := checkpoint.NewKV(t.Context(), c.JS, checkpoint.KVConfig{})
	require.NoError(t, err)

	cfg := testutil.ReaderConfig("resume", "orders")
	cfg.Progress.ResumeOnStart = true

	first, err := mqread.NewReader(t.Context(), &cfg, c.Admin, c.Pool, mqread.WithProgressStore(store))
	require.NoError(t, err)
	got := testutil.ReadTimestamps(t.Context(), t, first, 15, 2*time.Second)
	require.NoError(t, first.Close())

	stored, err := store.Load(t.Context(), "resume")
	require.NoError(t, err)
	require.Len(t, stored.Topics, 1)
	require.Equal(t, "orders", stored.Topics[0].TopicName)

	second := c.NewReader(t, cfg, mqread.WithProgressStore(store))
	got = append(got, testutil.ReadTimestamps(t.Context(), t, second, 25, 2*time.Second)...)
	require.Equal(t, expectedRange(1000, 40), got)

	_, _, err = second.Read(t.Context(), 50*time.Millisecond)
	require.ErrorIs(t, err, mqread.ErrNoMoreMessage)
}

// TestResume_PeriodicCommit checks that the background commit loop keeps the
// store current without an explicit Commit.
func TestResume_PeriodicCommit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	t.Parallel()

	c := testutil.NewNATSCluster(t, "broker-a")
	c.CreateTopic("orders", 1)
	for _, ts := range []int64{10, 20, 30} {
		c.Append("orders", 0, ts, nil)
	}

	store, err := checkpoint.NewKV(t.Context(), c.JS, checkpoint.KVConfig{Bucket: "periodic"})
	require.NoError(t, err)

	cfg := testutil.ReaderConfig("periodic", "orders")
	cfg.Progress.CommitInterval = 10 * time.Millisecond
	r := c.NewReader(t, cfg, mqread.WithProgressStore(store))
	require.Equal(t, []int64{10, 20}, testutil.ReadTimestamps(t.Context(), t, r, 2, 2*time.Second))

	require.Eventually(t, func() bool {
		stored, err := store.Load(t.Context(), "periodic")
		if err != nil || len(stored.Topics) != 1 || len(stored.Topics[0].Partitions) != 1 {
			return false
		}

		return stored.Topics[0].Partitions[0].Timestamp >= 20
	}, 2*time.Second, 10*time.Millisecond)
}
