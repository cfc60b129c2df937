package topic_test

import (
	"errors"
	rand "math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/mqread/internal/topic"
	mqtest "github.com/arloliu/mqread/testing"
	"github.com/arloliu/mqread/types"
)

const name = "orders"

func testConfig() types.ReaderConfig {
	cfg := types.DefaultReaderConfig(name)
	cfg.RetryInterval = 2 * time.Millisecond
	cfg.MaxRetryInterval = 10 * time.Millisecond
	cfg.RPCTimeout = time.Second

	return cfg
}

func newCluster(partitions uint32) *mqtest.Cluster {
	c := mqtest.NewCluster()
	c.CreateTopic(name, partitions)
	c.Broker.SetClock(func() int64 { return 0 })

	return c
}

func newReader(t *testing.T, c *mqtest.Cluster, cfg types.ReaderConfig, partitions uint32) *topic.Reader {
	t.Helper()

	r, err := topic.New(topic.Params{
		Config:         cfg,
		PartitionCount: partitions,
		Version:        1,
		Admin:          c.Admin,
		Pool:           c.Pool,
		Logger:         mqtest.NewTestLogger(t),
		Seed:           1,
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)

	return r
}

func appendAll(c *mqtest.Cluster, part uint32, ts ...int64) {
	for _, v := range ts {
		c.Broker.Append(name, part, v, nil)
	}
}

func mustRead(t *testing.T, r *topic.Reader) (*types.Message, int64) {
	t.Helper()

	msg, cp, err := r.Read(t.Context(), 2*time.Second)
	require.NoError(t, err)

	return msg, cp
}

func TestReader_ScenarioMergeAndCheckpoint(t *testing.T) {
	c := newCluster(2)
	appendAll(c, 0, 0, 3, 6)
	appendAll(c, 1, 1, 4)
	r := newReader(t, c, testConfig(), 2)

	want := []struct {
		ts, cp    int64
		partition uint32
	}{
		{ts: 0, partition: 0, cp: 1},
		{ts: 1, partition: 1, cp: 3},
		{ts: 3, partition: 0, cp: 4},
	}
	for _, w := range want {
		msg, cp := mustRead(t, r)
		require.Equal(t, w.ts, msg.Timestamp)
		require.Equal(t, w.partition, msg.Partition)
		require.Equal(t, w.cp, cp)
	}
}

func TestReader_ScenarioTimestampLimit(t *testing.T) {
	c := newCluster(2)
	appendAll(c, 0, 0, 3, 6)
	appendAll(c, 1, 1, 4)
	r := newReader(t, c, testConfig(), 2)

	msg, _ := mustRead(t, r)
	require.Equal(t, int64(0), msg.Timestamp)

	require.Equal(t, int64(2), r.SetTimestampLimit(2))
	st := r.Status()
	require.True(t, st.Partitions[0].ExceedLimit)

	msg, _ = mustRead(t, r)
	require.Equal(t, int64(1), msg.Timestamp)
	require.Equal(t, uint32(1), msg.Partition)

	_, _, err := r.Read(t.Context(), time.Second)
	require.ErrorIs(t, err, types.ErrExceedTimestampLimit)
	require.True(t, r.ExceedTimestampLimit())

	require.Equal(t, int64(10), r.SetTimestampLimit(10))
	msg, _ = mustRead(t, r)
	require.Equal(t, int64(3), msg.Timestamp)
}

func TestReader_LimitRaisedToLastRead(t *testing.T) {
	c := newCluster(1)
	appendAll(c, 0, 10, 20, 30)
	cfg := testConfig()
	cfg.BatchReadCount = 1
	r := newReader(t, c, cfg, 1)

	mustRead(t, r)
	mustRead(t, r)
	require.Equal(t, int64(20), r.SetTimestampLimit(5))
}

func TestReader_AdmissionIdempotent(t *testing.T) {
	c := newCluster(2)
	appendAll(c, 0, 0, 3, 6)
	appendAll(c, 1, 1, 4)
	r := newReader(t, c, testConfig(), 2)
	mustRead(t, r)

	flags := func() []bool {
		var out []bool
		for _, p := range r.Status().Partitions {
			out = append(out, p.ExceedLimit)
		}
		return out
	}

	first := r.SetTimestampLimit(3)
	firstFlags := flags()
	second := r.SetTimestampLimit(3)
	require.Equal(t, first, second)
	require.Equal(t, firstFlags, flags())
}

func TestReader_MergeOrderAndMonotonicCheckpoint(t *testing.T) {
	const partitions = 3
	c := newCluster(partitions)
	// Drained partitions promise no data before the broker clock.
	c.Broker.SetClock(func() int64 { return 1 << 40 })
	rng := rand.New(rand.NewPCG(7, 11))

	total := 0
	for p := range uint32(partitions) {
		ts := int64(0)
		for range 60 {
			ts += int64(rng.IntN(4) + 1)
			c.Broker.Append(name, p, ts, nil)
			total++
		}
	}

	cfg := testConfig()
	cfg.PartitionBufferSize = 8
	cfg.FetchCount = 5
	cfg.BatchReadCount = 4
	r := newReader(t, c, cfg, partitions)

	var got []*types.Message
	lastCp := int64(-1)
	for len(got) < total {
		batch, cp, err := r.ReadBatch(t.Context(), 2*time.Second)
		require.NoError(t, err)
		require.NotEmpty(t, batch)
		require.LessOrEqual(t, len(batch), cfg.BatchReadCount)
		require.GreaterOrEqual(t, cp, lastCp)
		lastCp = cp
		got = append(got, batch...)
	}
	require.Len(t, got, total)

	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		require.True(t, prev.Timestamp < cur.Timestamp ||
			(prev.Timestamp == cur.Timestamp && prev.Partition < cur.Partition),
			"message %d (%d/p%d) after (%d/p%d)", i, cur.Timestamp, cur.Partition, prev.Timestamp, prev.Partition)
	}

	_, _, err := r.Read(t.Context(), 20*time.Millisecond)
	require.ErrorIs(t, err, types.ErrNoMoreMessage)
}

func TestReader_NoDataTimesOut(t *testing.T) {
	c := newCluster(1)
	r := newReader(t, c, testConfig(), 1)

	start := time.Now()
	_, _, err := r.Read(t.Context(), 30*time.Millisecond)
	require.ErrorIs(t, err, types.ErrNoMoreMessage)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	_, _, err = r.Read(t.Context(), 0)
	require.ErrorIs(t, err, types.ErrNoMoreMessage)
}

func TestReader_WakesOnNewData(t *testing.T) {
	c := newCluster(1)
	r := newReader(t, c, testConfig(), 1)

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Broker.Append(name, 0, 5, []byte("late"))
	}()

	msg, _ := mustRead(t, r)
	require.Equal(t, []byte("late"), msg.Data)
}

func TestReader_SeekByTimestamp(t *testing.T) {
	c := newCluster(2)
	appendAll(c, 0, 10, 20, 30, 40)
	appendAll(c, 1, 15, 25, 35)
	r := newReader(t, c, testConfig(), 2)

	r.SeekByTimestamp(25, false)
	msg, _ := mustRead(t, r)
	require.Equal(t, int64(25), msg.Timestamp)
	msg, _ = mustRead(t, r)
	require.Equal(t, int64(30), msg.Timestamp)

	// A non-forced seek never moves back.
	r.SeekByTimestamp(10, false)
	msg, _ = mustRead(t, r)
	require.Equal(t, int64(35), msg.Timestamp)

	r.SeekByTimestamp(10, true)
	msg, cp := mustRead(t, r)
	require.Equal(t, int64(10), msg.Timestamp)
	require.Equal(t, int64(15), cp)
}

func TestReader_SeekByMessageID(t *testing.T) {
	c := newCluster(2)
	r := newReader(t, c, testConfig(), 2)
	require.ErrorIs(t, r.SeekByMessageID(1), types.ErrInvalidParameters)

	c1 := newCluster(1)
	appendAll(c1, 0, 10, 20)
	r1 := newReader(t, c1, testConfig(), 1)
	require.NoError(t, r1.SeekByMessageID(5))

	_, _, err := r1.Read(t.Context(), 30*time.Millisecond)
	require.ErrorIs(t, err, types.ErrNoMoreMessage)

	c1.Broker.Append(name, 0, 30, []byte("new"))
	msg, _ := mustRead(t, r1)
	require.Equal(t, int64(2), msg.ID)
	require.Equal(t, []byte("new"), msg.Data)
}

func TestReader_ProgressRoundTrip(t *testing.T) {
	c := newCluster(2)
	appendAll(c, 0, 10, 20, 30)
	appendAll(c, 1, 15, 25, 35)
	cfg := testConfig()
	cfg.BatchReadCount = 8
	r := newReader(t, c, cfg, 2)

	mustRead(t, r)
	mustRead(t, r)

	progress := r.Progress()
	require.Equal(t, name, progress.TopicName)
	require.Len(t, progress.Partitions, 2)
	require.NoError(t, r.SeekByProgress(&progress, false))

	msg, _ := mustRead(t, r)
	require.Equal(t, int64(20), msg.Timestamp)

	// A fresh reader resumes from the same progress.
	resumed := newReader(t, c, cfg, 2)
	require.NoError(t, resumed.SeekByProgress(&progress, true))
	msg, _ = mustRead(t, resumed)
	require.Equal(t, int64(20), msg.Timestamp)
}

func TestReader_ProgressAcrossLayouts(t *testing.T) {
	c := newCluster(4)
	r := newReader(t, c, testConfig(), 4)

	progress := &types.Progress{
		TopicName: name,
		Partitions: []types.PartitionProgress{
			{From: 0, To: 32767, Timestamp: 100},
			{From: 32768, To: 65535, Timestamp: 200},
		},
	}
	require.NoError(t, r.SeekByProgress(progress, true))

	got := r.Progress()
	require.Len(t, got.Partitions, 4)
	for i, want := range []int64{100, 100, 200, 200} {
		assert.Equal(t, want, got.Partitions[i].Timestamp, "partition %d", i)
	}

	bad := &types.Progress{Partitions: []types.PartitionProgress{{From: 9, To: 1}}}
	require.ErrorIs(t, r.SeekByProgress(bad, true), types.ErrInvalidParameters)
}

func TestReader_TopicChanged(t *testing.T) {
	c := newCluster(1)
	appendAll(c, 0, 10)
	r := newReader(t, c, testConfig(), 1)
	c.Broker.SetTopicVersion(name, 4)

	_, _, err := r.Read(t.Context(), 2*time.Second)
	require.ErrorIs(t, err, types.ErrTopicChanged)
	require.True(t, r.Changed())
	require.Equal(t, int64(4), r.ObservedVersion())

	r.UpdateVersion(4)
	require.False(t, r.Changed())
	msg, _ := mustRead(t, r)
	require.Equal(t, int64(10), msg.Timestamp)
}

func TestReader_UpdateVersionReachesRequests(t *testing.T) {
	c := newCluster(2)
	c.Broker.SetClock(func() int64 { return 1 << 40 })
	appendAll(c, 0, 10)
	r := newReader(t, c, testConfig(), 2)
	c.Broker.SetTopicVersion(name, 5)

	_, _, err := r.Read(t.Context(), 2*time.Second)
	require.ErrorIs(t, err, types.ErrTopicChanged)
	require.Eventually(t, func() bool {
		req, ok := c.Broker.LastFetch(name, 0)
		return ok && req.TopicVersion == 1
	}, 2*time.Second, time.Millisecond)

	r.UpdateVersion(5)
	msg, _ := mustRead(t, r)
	require.Equal(t, int64(10), msg.Timestamp)

	for _, part := range []uint32{0, 1} {
		require.Eventually(t, func() bool {
			r.Fill()
			req, ok := c.Broker.LastFetch(name, part)
			return ok && req.TopicVersion == 5
		}, 2*time.Second, time.Millisecond, "partition %d", part)
	}
	require.False(t, r.Changed())
}

func TestReader_SealedTopicFinishes(t *testing.T) {
	c := newCluster(2)
	appendAll(c, 0, 10)
	appendAll(c, 1, 20)
	c.Broker.Seal(name)
	r := newReader(t, c, testConfig(), 2)

	mustRead(t, r)
	mustRead(t, r)

	_, _, err := r.Read(t.Context(), 2*time.Second)
	require.ErrorIs(t, err, types.ErrSealedTopicReadFinish)
}

func TestReader_FatalErrorSurfaces(t *testing.T) {
	c := newCluster(1)
	c.Broker.Inject(name, 0, mqtest.Fault{Code: types.CodeInvalidResponse})
	r := newReader(t, c, testConfig(), 1)

	_, _, err := r.Read(t.Context(), 2*time.Second)
	require.ErrorIs(t, err, types.ErrInvalidResponse)
}

func TestReader_CheckCurrentError(t *testing.T) {
	c := newCluster(2)
	appendAll(c, 0, 10)
	c.Broker.Inject(name, 1, mqtest.Fault{Code: types.CodePermissionDenied, Times: 1000})
	r := newReader(t, c, testConfig(), 2)

	require.NoError(t, r.CheckCurrentError())
	_, _, err := r.Read(t.Context(), 50*time.Millisecond)
	require.ErrorIs(t, err, types.ErrNoMoreMessage)

	err = r.CheckCurrentError()
	require.ErrorIs(t, err, types.ErrPermissionDenied)
	require.Contains(t, err.Error(), "partition 1")
	require.NotContains(t, err.Error(), "partition 0")
}

func TestReader_Peek(t *testing.T) {
	c := newCluster(2)
	appendAll(c, 0, 10)
	appendAll(c, 1, 5)
	r := newReader(t, c, testConfig(), 2)

	var head topic.Head
	require.Eventually(t, func() bool {
		h, _, err := r.Peek()
		head = h
		return err == nil
	}, 2*time.Second, time.Millisecond)
	require.Equal(t, topic.Head{Timestamp: 5, Ready: true, Known: true}, head)

	msg, _ := mustRead(t, r)
	require.Equal(t, int64(5), msg.Timestamp)
}

func TestReader_PeekReportsLowerBound(t *testing.T) {
	var clock atomic.Int64
	clock.Store(7)
	c := newCluster(2)
	c.Broker.SetClock(clock.Load)
	appendAll(c, 0, 10)
	r := newReader(t, c, testConfig(), 2)

	require.Eventually(t, func() bool {
		h, _, err := r.Peek()
		return errors.Is(err, types.ErrNoMoreMessage) && h.Known
	}, 2*time.Second, time.Millisecond)
	h, _, err := r.Peek()
	require.ErrorIs(t, err, types.ErrNoMoreMessage)
	require.Equal(t, topic.Head{Timestamp: 7, Known: true}, h)

	clock.Store(100)
	require.Eventually(t, func() bool {
		h, _, err := r.Peek()
		return err == nil && h == topic.Head{Timestamp: 10, Ready: true, Known: true}
	}, 2*time.Second, time.Millisecond)
}

func TestReader_RequestedPartitions(t *testing.T) {
	c := newCluster(4)
	appendAll(c, 2, 10)
	appendAll(c, 3, 5)

	cfg := testConfig()
	cfg.Partitions = []uint32{2}
	r := newReader(t, c, cfg, 4)
	require.Len(t, r.Status().Partitions, 1)

	msg, _ := mustRead(t, r)
	require.Equal(t, uint32(2), msg.Partition)

	cfg.Partitions = []uint32{9}
	_, err := topic.New(topic.Params{Config: cfg, PartitionCount: 4, Admin: c.Admin, Pool: c.Pool})
	require.ErrorIs(t, err, types.ErrInvalidPartitionID)
}

func TestReader_KeyRangeSelectsPartitions(t *testing.T) {
	c := newCluster(4)
	cfg := testConfig()
	cfg.From, cfg.To = 20000, 40000
	r := newReader(t, c, cfg, 4)

	st := r.Status()
	require.Len(t, st.Partitions, 2)
	require.Equal(t, uint16(20000), st.Partitions[0].From)
	require.Equal(t, uint16(32767), st.Partitions[0].To)
	require.Equal(t, uint16(32768), st.Partitions[1].From)
	require.Equal(t, uint16(40000), st.Partitions[1].To)
}

func TestReader_InvalidParams(t *testing.T) {
	c := newCluster(1)

	_, err := topic.New(topic.Params{Config: testConfig(), PartitionCount: 1, Pool: c.Pool})
	require.ErrorIs(t, err, types.ErrAdminClientRequired)

	_, err = topic.New(topic.Params{Config: testConfig(), PartitionCount: 1, Admin: c.Admin})
	require.ErrorIs(t, err, types.ErrChannelPoolRequired)

	cfg := testConfig()
	cfg.BatchReadCount = 0
	_, err = topic.New(topic.Params{Config: cfg, PartitionCount: 1, Admin: c.Admin, Pool: c.Pool})
	require.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestReader_Close(t *testing.T) {
	c := newCluster(1)
	r := newReader(t, c, testConfig(), 1)

	done := make(chan error, 1)
	go func() {
		_, _, err := r.Read(t.Context(), 5*time.Second)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	r.Close()

	select {
	case err := <-done:
		require.True(t, errors.Is(err, types.ErrReaderClosed) || errors.Is(err, types.ErrNoMoreMessage))
	case <-time.After(2 * time.Second):
		t.Fatal("read did not return after close")
	}

	_, _, err := r.Read(t.Context(), 0)
	require.ErrorIs(t, err, types.ErrReaderClosed)
}
