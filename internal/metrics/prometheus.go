package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/mqread/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are registered lazily on first use so an unused reader does not
// touch the registry.
type PrometheusCollector struct {
	*NopMetrics

	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	readCalls       *prometheus.CounterVec
	readMessages    *prometheus.CounterVec
	bufferedGauge   *prometheus.GaugeVec
	checkpointGauge *prometheus.GaugeVec

	requests        *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	addressResolves *prometheus.CounterVec
	channelTimeouts *prometheus.CounterVec

	topicSwitches  *prometheus.CounterVec
	commits        *prometheus.CounterVec
	commitDuration *prometheus.HistogramVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "mqread" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "mqread"
	}

	return &PrometheusCollector{NopMetrics: NewNop(), reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.readCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "reader",
			Name:      "read_calls_total",
			Help:      "Total Read and ReadBatch calls by topic and outcome code.",
		}, []string{"topic", "code"})
		p.readMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "reader",
			Name:      "messages_total",
			Help:      "Total messages delivered by topic.",
		}, []string{"topic"})
		p.bufferedGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "reader",
			Name:      "buffered_messages",
			Help:      "Messages buffered per partition.",
		}, []string{"topic", "partition"})
		p.checkpointGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "reader",
			Name:      "checkpoint_timestamp_microseconds",
			Help:      "Checkpoint timestamp per topic.",
		}, []string{"topic"})

		p.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "transport",
			Name:      "requests_total",
			Help:      "Broker requests by kind and classified outcome.",
		}, []string{"kind", "code"})
		p.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "transport",
			Name:      "request_duration_seconds",
			Help:      "Broker request latency in seconds by kind.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms .. ~4s
		}, []string{"kind"})
		p.addressResolves = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "transport",
			Name:      "address_resolves_total",
			Help:      "Broker address lookups by topic and cache result (hit,miss).",
		}, []string{"topic", "result"})
		p.channelTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "transport",
			Name:      "channel_timeouts_total",
			Help:      "Channel timeout hints sent to the pool by address.",
		}, []string{"address"})

		p.topicSwitches = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "migration",
			Name:      "topic_switches_total",
			Help:      "Topic reader rebuilds by topic and result (success,failure).",
		}, []string{"topic", "result"})
		p.commits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "progress",
			Name:      "commits_total",
			Help:      "Progress store writes by store and result.",
		}, []string{"store", "result"})
		p.commitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "progress",
			Name:      "commit_duration_seconds",
			Help:      "Progress store write latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"store"})

		p.reg.MustRegister(p.readCalls, p.readMessages, p.bufferedGauge, p.checkpointGauge)
		p.reg.MustRegister(p.requests, p.requestLatency, p.addressResolves, p.channelTimeouts)
		p.reg.MustRegister(p.topicSwitches, p.commits, p.commitDuration)
	})
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}

	return "failure"
}

// RecordRead counts a read call and the messages it returned.
func (p *PrometheusCollector) RecordRead(topic string, count int, code types.ErrorCode) {
	p.ensureRegistered()
	p.readCalls.WithLabelValues(topic, code.String()).Inc()
	if count > 0 {
		p.readMessages.WithLabelValues(topic).Add(float64(count))
	}
}

// RecordBufferedMessages sets the buffered message gauge of a partition.
func (p *PrometheusCollector) RecordBufferedMessages(topic string, partition uint32, count int) {
	p.ensureRegistered()
	p.bufferedGauge.WithLabelValues(topic, strconv.FormatUint(uint64(partition), 10)).Set(float64(count))
}

// RecordCheckpoint sets the checkpoint gauge of a topic.
func (p *PrometheusCollector) RecordCheckpoint(topic string, timestamp int64) {
	p.ensureRegistered()
	p.checkpointGauge.WithLabelValues(topic).Set(float64(timestamp))
}

// RecordRequest counts a broker request and observes its latency.
func (p *PrometheusCollector) RecordRequest(kind string, code types.ErrorCode, duration float64) {
	p.ensureRegistered()
	p.requests.WithLabelValues(kind, code.String()).Inc()
	p.requestLatency.WithLabelValues(kind).Observe(duration)
}

// RecordAddressResolve counts an address lookup.
func (p *PrometheusCollector) RecordAddressResolve(topic string, cached bool) {
	p.ensureRegistered()
	result := "miss"
	if cached {
		result = "hit"
	}
	p.addressResolves.WithLabelValues(topic, result).Inc()
}

// RecordChannelTimeout counts a channel timeout hint.
func (p *PrometheusCollector) RecordChannelTimeout(address string) {
	p.ensureRegistered()
	p.channelTimeouts.WithLabelValues(address).Inc()
}

// RecordTopicSwitch counts a topic reader rebuild.
func (p *PrometheusCollector) RecordTopicSwitch(topic string, success bool) {
	p.ensureRegistered()
	p.topicSwitches.WithLabelValues(topic, resultLabel(success)).Inc()
}

// RecordProgressCommit counts a progress store write and observes its latency.
func (p *PrometheusCollector) RecordProgressCommit(store string, success bool, duration float64) {
	p.ensureRegistered()
	p.commits.WithLabelValues(store, resultLabel(success)).Inc()
	p.commitDuration.WithLabelValues(store).Observe(duration)
}
