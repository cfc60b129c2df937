package types

import "time"

// PartitionStatus is a point-in-time snapshot of one partition reader.
type PartitionStatus struct {
	Topic           string     `json:"topic"`
	Partition       uint32     `json:"partition"`
	From            uint16     `json:"from"`
	To              uint16     `json:"to"`
	NextMessageID   int64      `json:"nextMessageId"`
	NextTimestamp   int64      `json:"nextTimestamp"`
	Buffered        int        `json:"buffered"`
	Checkpoint      Checkpoint `json:"checkpoint"`
	TimestampLimit  int64      `json:"timestampLimit"`
	ExceedLimit     bool       `json:"exceedLimit"`
	Finished        bool       `json:"finished"`
	LastErrorCode   ErrorCode  `json:"lastErrorCode"`
	LastError       string     `json:"lastError,omitempty"`
	LastSuccessTime time.Time  `json:"lastSuccessTime"`
}

// TopicStatus is a snapshot of a topic reader.
type TopicStatus struct {
	// Topic is the name the application configured.
	Topic string `json:"topic"`
	// Physic is the broker topic currently read, equal to Topic unless logical.
	Physic     string            `json:"physic"`
	Version    int64             `json:"version"`
	Switching  bool              `json:"switching"`
	Partitions []PartitionStatus `json:"partitions"`
}
