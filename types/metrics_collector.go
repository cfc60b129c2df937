package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and must be safe for concurrent use.
type MetricsCollector interface {
	ReaderMetrics
	TransportMetrics
	MigrationMetrics
}

// ReaderMetrics defines metrics recorded by topic and partition readers.
type ReaderMetrics interface {
	// RecordRead records one Read or ReadBatch call.
	//
	// Parameters:
	//   - topic: Topic name as configured
	//   - count: Number of messages returned
	//   - code: Outcome of the call (CodeNone on success)
	RecordRead(topic string, count int, code ErrorCode)

	// RecordBufferedMessages sets the buffered message count of a partition (gauge metric).
	RecordBufferedMessages(topic string, partition uint32, count int)

	// RecordCheckpoint sets the checkpoint timestamp of a topic (gauge metric).
	RecordCheckpoint(topic string, timestamp int64)
}

// TransportMetrics defines metrics for broker requests.
type TransportMetrics interface {
	// RecordRequest records a completed broker request.
	//
	// Parameters:
	//   - kind: Request kind label ("fetch", "message_id_by_time")
	//   - code: Classified outcome
	//   - duration: Time taken in seconds
	RecordRequest(kind string, code ErrorCode, duration float64)

	// RecordAddressResolve records a broker address lookup.
	RecordAddressResolve(topic string, cached bool)

	// RecordChannelTimeout records a channel timeout hint sent to the pool.
	RecordChannelTimeout(address string)
}

// MigrationMetrics defines metrics for topic switches and progress commits.
type MigrationMetrics interface {
	// RecordTopicSwitch records a topic reader rebuild attempt.
	RecordTopicSwitch(topic string, success bool)

	// RecordProgressCommit records a progress store write.
	RecordProgressCommit(store string, success bool, duration float64)
}
