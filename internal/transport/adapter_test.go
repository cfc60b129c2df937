package transport_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/mqread/internal/notify"
	"github.com/arloliu/mqread/internal/transport"
	mqtest "github.com/arloliu/mqread/testing"
	"github.com/arloliu/mqread/types"
)

type fixture struct {
	cluster  *mqtest.Cluster
	resolver *transport.AddressResolver
	notifier *notify.Notifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	c := mqtest.NewCluster()
	c.CreateTopic("orders", 2)

	return &fixture{
		cluster:  c,
		resolver: transport.NewAddressResolver(c.Admin, time.Minute, nil),
		notifier: notify.New(),
	}
}

func (f *fixture) params() transport.Params {
	return transport.Params{
		Topic:            "orders",
		Partition:        0,
		Resolver:         f.resolver,
		Pool:             f.cluster.Pool,
		Admin:            f.cluster.Admin,
		Notifier:         f.notifier,
		RPCTimeout:       time.Second,
		RetryInterval:    20 * time.Millisecond,
		MaxRetryInterval: 200 * time.Millisecond,
		Seed:             7,
	}
}

func fetchReq(start int64) *types.FetchRequest {
	return &types.FetchRequest{
		Topic:    "orders",
		StartID:  start,
		Count:    10,
		HashFrom: 0,
		HashTo:   types.MaxHashKey,
	}
}

func collect[Req, Resp any](t *testing.T, a *transport.Adapter[Req, Resp]) transport.Result[Resp] {
	t.Helper()

	require.Eventually(t, a.IsDone, 2*time.Second, time.Millisecond)
	res, err := a.Collect()
	require.NoError(t, err)

	return res
}

func TestAdapter_FetchSuccess(t *testing.T) {
	f := newFixture(t)
	f.cluster.Broker.Append("orders", 0, 100, []byte("a"))
	f.cluster.Broker.Append("orders", 0, 200, []byte("b"))

	a := transport.NewAdapter(transport.FetchKind{}, f.params())
	defer a.Close()

	f.notifier.Arm()
	c, err := a.Post(fetchReq(0), 3)
	require.NoError(t, err)
	require.Equal(t, uint64(3), c.Seq())
	require.True(t, a.Pending())
	require.True(t, f.notifier.Wait(t.Context(), 2*time.Second))

	res := collect(t, a)
	require.Equal(t, types.CodeNone, res.Code)
	require.Equal(t, uint64(3), res.Seq)
	require.Len(t, res.Resp.Messages, 2)
	require.Equal(t, int64(2), res.Resp.NextMsgID)
	require.False(t, a.Pending())

	// Data-bearing responses allow an immediate follow-up.
	require.True(t, a.CanPost(time.Now()))
	require.Zero(t, a.Failures())
}

func TestAdapter_CompressedFetch(t *testing.T) {
	f := newFixture(t)
	f.cluster.Broker.Append("orders", 0, 100, []byte("payload"))

	a := transport.NewAdapter(transport.FetchKind{}, f.params())
	defer a.Close()

	req := fetchReq(0)
	req.Compress = true
	_, err := a.Post(req, 1)
	require.NoError(t, err)

	res := collect(t, a)
	require.Equal(t, types.CodeNone, res.Code)
	require.Len(t, res.Resp.Messages, 1)
	require.Equal(t, []byte("payload"), res.Resp.Messages[0].Data)
}

func TestAdapter_SinglePostOutstanding(t *testing.T) {
	f := newFixture(t)
	f.cluster.Broker.Inject("orders", 0, mqtest.Fault{Delay: 100 * time.Millisecond})

	a := transport.NewAdapter(transport.FetchKind{}, f.params())
	defer a.Close()

	_, err := a.Post(fetchReq(0), 1)
	require.NoError(t, err)
	_, err = a.Post(fetchReq(0), 2)
	require.ErrorIs(t, err, types.ErrInvalidParameters)
	require.False(t, a.CanPost(time.Now()))

	res := collect(t, a)
	require.Equal(t, uint64(1), res.Seq)
	_, err = a.Collect()
	require.ErrorIs(t, err, types.ErrInvalidParameters)
}

func TestAdapter_NoDataPacesRetry(t *testing.T) {
	f := newFixture(t)

	a := transport.NewAdapter(transport.FetchKind{}, f.params())
	defer a.Close()

	_, err := a.Post(fetchReq(0), 1)
	require.NoError(t, err)
	res := collect(t, a)
	require.Equal(t, types.CodeBrokerNoData, res.Code)

	now := time.Now()
	require.False(t, a.CanPost(now))
	require.Greater(t, a.RetryAfter(now), time.Duration(0))
	require.LessOrEqual(t, a.RetryAfter(now), 20*time.Millisecond)

	a.ResetRetry()
	require.True(t, a.CanPost(now))
}

func TestAdapter_FailuresBackOff(t *testing.T) {
	f := newFixture(t)
	f.cluster.Broker.Inject("orders", 0, mqtest.Fault{Code: types.CodeBrokerBusy, Times: 2})

	a := transport.NewAdapter(transport.FetchKind{}, f.params())
	defer a.Close()

	for i := range 2 {
		a.ResetRetry()
		_, err := a.Post(fetchReq(0), uint64(i))
		require.NoError(t, err)
		res := collect(t, a)
		require.Equal(t, types.CodeBrokerBusy, res.Code)
		require.Equal(t, i+1, a.Failures())
		require.LessOrEqual(t, a.RetryAfter(time.Now()), 200*time.Millisecond)
	}

	a.ResetRetry()
	_, err := a.Post(fetchReq(0), 9)
	require.NoError(t, err)
	res := collect(t, a)
	require.Equal(t, types.CodeBrokerNoData, res.Code)
	require.Zero(t, a.Failures())
}

func TestAdapter_TransportErrorDiscardsChannel(t *testing.T) {
	f := newFixture(t)
	f.cluster.Broker.Inject("orders", 0, mqtest.Fault{Err: errors.New("connection reset")})

	a := transport.NewAdapter(transport.FetchKind{}, f.params())
	defer a.Close()

	_, err := a.Post(fetchReq(0), 1)
	require.NoError(t, err)
	res := collect(t, a)
	require.Equal(t, types.CodeRPCFailed, res.Code)
	require.Error(t, res.Err)
	require.Equal(t, 1, f.cluster.Pool.Stats().Discards)
}

func TestAdapter_TimeoutHintsPool(t *testing.T) {
	f := newFixture(t)
	f.cluster.Broker.Inject("orders", 0, mqtest.Fault{Delay: time.Second})

	p := f.params()
	p.RPCTimeout = 20 * time.Millisecond
	a := transport.NewAdapter(transport.FetchKind{}, p)
	defer a.Close()

	_, err := a.Post(fetchReq(0), 1)
	require.NoError(t, err)
	res := collect(t, a)
	require.Equal(t, types.CodeRPCTimeout, res.Code)
	require.Equal(t, 1, f.cluster.Pool.Stats().Timeouts)
}

func TestAdapter_StaleRouteReported(t *testing.T) {
	f := newFixture(t)
	f.cluster.Broker.Inject("orders", 0, mqtest.Fault{Code: types.CodeBrokerStopped})

	a := transport.NewAdapter(transport.FetchKind{}, f.params())
	defer a.Close()

	_, err := a.Post(fetchReq(0), 1)
	require.NoError(t, err)
	res := collect(t, a)
	require.Equal(t, types.CodeBrokerStopped, res.Code)
	require.Equal(t, 0, f.resolver.Len())

	reports := f.cluster.Admin.Reports()
	require.Len(t, reports, 1)
	require.Equal(t, types.CodeBrokerStopped, reports[0].Code)
	require.Equal(t, mqtest.DefaultBrokerAddress, reports[0].Address)
}

func TestAdapter_UnknownAddress(t *testing.T) {
	f := newFixture(t)
	f.cluster.Admin.SetAddress("orders", 0, "nowhere")

	a := transport.NewAdapter(transport.FetchKind{}, f.params())
	defer a.Close()

	_, err := a.Post(fetchReq(0), 1)
	require.NoError(t, err)
	res := collect(t, a)
	require.Equal(t, types.CodeRPCFailed, res.Code)
}

func TestAdapter_MessageIDByTime(t *testing.T) {
	f := newFixture(t)
	f.cluster.Broker.Append("orders", 0, 100, []byte("a"))
	f.cluster.Broker.Append("orders", 0, 200, []byte("b"))

	a := transport.NewAdapter(transport.MessageIDByTimeKind{}, f.params())
	defer a.Close()

	_, err := a.Post(&types.MessageIDByTimeRequest{Topic: "orders", Timestamp: 150}, 1)
	require.NoError(t, err)
	res := collect(t, a)
	require.Equal(t, types.CodeNone, res.Code)
	require.Equal(t, int64(1), res.Resp.MessageID)
	require.Equal(t, int64(200), res.Resp.Timestamp)
}

func TestAdapter_PostAfterClose(t *testing.T) {
	f := newFixture(t)
	a := transport.NewAdapter(transport.FetchKind{}, f.params())
	a.Close()

	_, err := a.Post(fetchReq(0), 1)
	require.ErrorIs(t, err, types.ErrReaderClosed)
}
