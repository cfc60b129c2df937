// Package metrics provides types.MetricsCollector implementations.
package metrics

import "github.com/arloliu/mqread/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Example:
//
//	r, err := mqread.NewReader(ctx, cfg, admin, pool, mqread.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// ReaderMetrics implementation

// RecordRead discards the read metric.
func (n *NopMetrics) RecordRead(_ /* topic */ string, _ /* count */ int, _ /* code */ types.ErrorCode) {
	// No-op
}

// RecordBufferedMessages discards the buffered message gauge.
func (n *NopMetrics) RecordBufferedMessages(_ /* topic */ string, _ /* partition */ uint32, _ /* count */ int) {
	// No-op
}

// RecordCheckpoint discards the checkpoint gauge.
func (n *NopMetrics) RecordCheckpoint(_ /* topic */ string, _ /* timestamp */ int64) {
	// No-op
}

// TransportMetrics implementation

// RecordRequest discards the request metric.
func (n *NopMetrics) RecordRequest(_ /* kind */ string, _ /* code */ types.ErrorCode, _ /* duration */ float64) {
	// No-op
}

// RecordAddressResolve discards the address lookup metric.
func (n *NopMetrics) RecordAddressResolve(_ /* topic */ string, _ /* cached */ bool) {
	// No-op
}

// RecordChannelTimeout discards the channel timeout metric.
func (n *NopMetrics) RecordChannelTimeout(_ /* address */ string) {
	// No-op
}

// MigrationMetrics implementation

// RecordTopicSwitch discards the topic switch metric.
func (n *NopMetrics) RecordTopicSwitch(_ /* topic */ string, _ /* success */ bool) {
	// No-op
}

// RecordProgressCommit discards the progress commit metric.
func (n *NopMetrics) RecordProgressCommit(_ /* store */ string, _ /* success */ bool, _ /* duration */ float64) {
	// No-op
}
