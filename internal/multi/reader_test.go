package multi_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/mqread/internal/multi"
	"github.com/arloliu/mqread/strategy"
	mqtest "github.com/arloliu/mqread/testing"
	"github.com/arloliu/mqread/types"
)

func topicConfig(topic string) types.ReaderConfig {
	cfg := types.DefaultReaderConfig(topic)
	cfg.RetryInterval = 2 * time.Millisecond
	cfg.MaxRetryInterval = 10 * time.Millisecond
	cfg.RPCTimeout = time.Second

	return cfg
}

// newCluster creates single-partition topics "a" and "b".
func newCluster() *mqtest.Cluster {
	c := mqtest.NewCluster()
	c.CreateTopic("a", 1)
	c.CreateTopic("b", 1)
	c.Broker.SetClock(func() int64 { return 1 << 40 })

	return c
}

func newReader(t *testing.T, c *mqtest.Cluster, s types.ReadStrategy) *multi.Reader {
	t.Helper()

	r, err := multi.New(t.Context(), multi.Params{
		Configs:  []types.ReaderConfig{topicConfig("a"), topicConfig("b")},
		Strategy: s,
		Admin:    c.Admin,
		Pool:     c.Pool,
		Logger:   mqtest.NewTestLogger(t),
		Seed:     1,
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)

	return r
}

type served struct {
	topic string
	ts    int64
}

func readN(t *testing.T, r *multi.Reader, n int) []served {
	t.Helper()

	var out []served
	for range n {
		msg, _, err := r.Read(t.Context(), 2*time.Second)
		require.NoError(t, err)
		out = append(out, served{topic: msg.Topic, ts: msg.Timestamp})
	}

	return out
}

func fill(c *mqtest.Cluster) {
	for _, ts := range []int64{10, 20} {
		c.Broker.Append("a", 0, ts, nil)
	}
	for _, ts := range []int64{5, 6} {
		c.Broker.Append("b", 0, ts, nil)
	}
}

func TestReader_PriorityByTimestamp(t *testing.T) {
	c := newCluster()
	fill(c)
	r := newReader(t, c, strategy.NewPriority())

	require.Equal(t, []served{{"b", 5}, {"b", 6}, {"a", 10}, {"a", 20}}, readN(t, r, 4))
}

func TestReader_PriorityWaitsForSlowTopic(t *testing.T) {
	c := newCluster()
	c.Broker.Append("a", 0, 10, nil)
	c.Broker.Append("b", 0, 20, nil)
	c.Broker.Inject("a", 0, mqtest.Fault{Delay: 100 * time.Millisecond})
	r := newReader(t, c, strategy.NewPriority())

	require.Equal(t, []served{{"a", 10}, {"b", 20}}, readN(t, r, 2))
}

func TestReader_SequenceRoundRobin(t *testing.T) {
	c := newCluster()
	fill(c)
	r := newReader(t, c, strategy.NewSequence())

	require.Equal(t, []served{{"a", 10}, {"b", 5}, {"a", 20}, {"b", 6}}, readN(t, r, 4))
}

func TestReader_SequenceRetriesTopicAfterTimeout(t *testing.T) {
	c := newCluster()
	c.Broker.Append("b", 0, 5, nil)
	r := newReader(t, c, strategy.NewSequence())

	_, _, err := r.Read(t.Context(), 50*time.Millisecond)
	require.ErrorIs(t, err, types.ErrNoMoreMessage)

	c.Broker.Append("a", 0, 30, nil)
	require.Equal(t, []served{{"a", 30}, {"b", 5}}, readN(t, r, 2))
}

func TestReader_SequenceSkipsExceedingTopic(t *testing.T) {
	c := newCluster()
	fill(c)
	r := newReader(t, c, strategy.NewSequence())

	accepted, err := r.SetTopicTimestampLimit("a", 15)
	require.NoError(t, err)
	require.Equal(t, int64(15), accepted)

	require.Equal(t, []served{{"a", 10}, {"b", 5}, {"b", 6}}, readN(t, r, 3))
}

func TestReader_AggregateExceed(t *testing.T) {
	c := newCluster()
	fill(c)
	r := newReader(t, c, nil)

	_, err := r.SetTopicTimestampLimit("a", 15)
	require.NoError(t, err)
	require.Equal(t, []served{{"b", 5}, {"b", 6}, {"a", 10}}, readN(t, r, 3))
	require.False(t, r.ExceedTimestampLimit())

	_, err = r.SetTopicTimestampLimit("b", 6)
	require.NoError(t, err)

	_, _, err = r.Read(t.Context(), time.Second)
	require.ErrorIs(t, err, types.ErrExceedTimestampLimit)
	require.True(t, r.ExceedTimestampLimit())

	require.Equal(t, int64(100), r.SetTimestampLimit(100))
	require.Equal(t, []served{{"a", 20}}, readN(t, r, 1))

	_, err = r.SetTopicTimestampLimit("missing", 1)
	require.ErrorIs(t, err, types.ErrInvalidParameters)
}

func TestReader_AllFinished(t *testing.T) {
	c := newCluster()
	c.Broker.Append("a", 0, 10, nil)
	c.Broker.Append("b", 0, 20, nil)
	c.Broker.Seal("a")
	c.Broker.Seal("b")
	r := newReader(t, c, nil)

	require.Equal(t, []served{{"a", 10}, {"b", 20}}, readN(t, r, 2))

	_, _, err := r.Read(t.Context(), time.Second)
	require.ErrorIs(t, err, types.ErrSealedTopicReadFinish)
}

func TestReader_WakesOnAnyTopic(t *testing.T) {
	c := newCluster()
	r := newReader(t, c, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		c.Broker.Append("b", 0, 7, nil)
	}()

	start := time.Now()
	msg, _, err := r.Read(t.Context(), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "b", msg.Topic)
	require.Less(t, time.Since(start), 4*time.Second)
}

func TestReader_NoDataTimesOut(t *testing.T) {
	c := newCluster()
	r := newReader(t, c, nil)

	_, _, err := r.Read(t.Context(), 30*time.Millisecond)
	require.ErrorIs(t, err, types.ErrNoMoreMessage)
}

func TestReader_ProgressResume(t *testing.T) {
	c := newCluster()
	fill(c)
	r := newReader(t, c, nil)
	require.Equal(t, []served{{"b", 5}}, readN(t, r, 1))

	progress := r.Progress()
	require.Len(t, progress.Topics, 2)
	require.Equal(t, "a", progress.Topics[0].TopicName)
	require.Equal(t, "b", progress.Topics[1].TopicName)

	data, err := progress.Marshal()
	require.NoError(t, err)
	restored, err := types.UnmarshalReaderProgress(data)
	require.NoError(t, err)

	resumed := newReader(t, c, nil)
	require.NoError(t, resumed.SeekByProgress(t.Context(), restored, true))
	require.Equal(t, []served{{"b", 6}, {"a", 10}, {"a", 20}}, readN(t, resumed, 3))

	require.Error(t, resumed.SeekByProgress(t.Context(), nil, true))
}

func TestReader_CheckCurrentError(t *testing.T) {
	c := newCluster()
	c.Broker.Inject("b", 0, mqtest.Fault{Code: types.CodePermissionDenied, Times: 1000})
	r := newReader(t, c, nil)
	require.NoError(t, r.CheckCurrentError())

	require.Eventually(t, func() bool {
		r.Fill()
		return r.CheckCurrentError() != nil
	}, 2*time.Second, 5*time.Millisecond)

	err := r.CheckCurrentError()
	require.ErrorIs(t, err, types.ErrPermissionDenied)
	require.Contains(t, err.Error(), "b: partition 0")
	require.NotContains(t, err.Error(), "a: partition 0")
}

func TestReader_SeekByTimestamp(t *testing.T) {
	c := newCluster()
	fill(c)
	r := newReader(t, c, nil)

	require.NoError(t, r.SeekByTimestamp(t.Context(), 6, true))
	require.Equal(t, []served{{"b", 6}, {"a", 10}}, readN(t, r, 2))

	require.NoError(t, r.SeekTopicByTimestamp(t.Context(), "b", 5, true))
	require.Equal(t, []served{{"b", 5}}, readN(t, r, 1))

	require.ErrorIs(t, r.SeekByMessageID(0), types.ErrInvalidParameters)
}

func TestReader_StatusAndTopics(t *testing.T) {
	c := newCluster()
	r := newReader(t, c, nil)

	require.Equal(t, []string{"a", "b"}, r.Topics())
	st := r.Status()
	require.Len(t, st, 2)
	require.Equal(t, "a", st[0].Topic)
	require.Equal(t, "b", st[1].Topic)
}

func TestReader_InvalidConfig(t *testing.T) {
	c := newCluster()

	_, err := multi.New(t.Context(), multi.Params{Admin: c.Admin, Pool: c.Pool})
	require.ErrorIs(t, err, types.ErrInvalidConfig)

	_, err = multi.New(t.Context(), multi.Params{
		Configs: []types.ReaderConfig{topicConfig("a"), topicConfig("a")},
		Admin:   c.Admin,
		Pool:    c.Pool,
	})
	require.ErrorIs(t, err, types.ErrInvalidConfig)

	_, err = multi.New(t.Context(), multi.Params{
		Configs: []types.ReaderConfig{topicConfig("a"), topicConfig("missing")},
		Admin:   c.Admin,
		Pool:    c.Pool,
	})
	require.Error(t, err)
}

func TestReader_Close(t *testing.T) {
	c := newCluster()
	r := newReader(t, c, nil)
	r.Close()
	r.Close()

	_, _, err := r.Read(t.Context(), time.Second)
	require.ErrorIs(t, err, types.ErrReaderClosed)
	require.ErrorIs(t, r.SeekByTimestamp(t.Context(), 1, true), types.ErrReaderClosed)
}
