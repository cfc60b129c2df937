package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/mqread/types"
)

func TestPrometheusCollector_Defaults(t *testing.T) {
	p := NewPrometheus(nil, "")
	require.Equal(t, "mqread", p.namespace)
	require.Equal(t, prometheus.DefaultRegisterer, p.reg)
}

func TestPrometheusCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	p.RecordRead("orders", 3, types.CodeNone)
	p.RecordRead("orders", 0, types.CodeNoMoreMessage)
	p.RecordRequest("fetch", types.CodeRPCTimeout, 0.2)
	p.RecordAddressResolve("orders", true)
	p.RecordAddressResolve("orders", false)
	p.RecordTopicSwitch("orders", true)
	p.RecordBufferedMessages("orders", 2, 7)
	p.RecordCheckpoint("orders", 1234)
	p.RecordChannelTimeout("b1:1")
	p.RecordProgressCommit("sqlite", false, 0.01)

	require.InDelta(t, 3, testutil.ToFloat64(p.readMessages.WithLabelValues("orders")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.readCalls.WithLabelValues("orders", "NO_MORE_MESSAGE")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.requests.WithLabelValues("fetch", "RPC_TIMEOUT")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.addressResolves.WithLabelValues("orders", "hit")), 0)
	require.InDelta(t, 7, testutil.ToFloat64(p.bufferedGauge.WithLabelValues("orders", "2")), 0)
	require.InDelta(t, 1234, testutil.ToFloat64(p.checkpointGauge.WithLabelValues("orders")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.commits.WithLabelValues("sqlite", "failure")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
