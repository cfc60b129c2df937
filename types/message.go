package types

import (
	"fmt"
	"math"
)

// DataType tags how a message payload is encoded.
type DataType uint8

const (
	// DataTypeRaw is an opaque payload.
	DataTypeRaw DataType = iota
	// DataTypeSchema is a payload encoded against a versioned topic schema.
	DataTypeSchema
	// DataTypeFieldFilter is a field-group payload projected by the broker.
	DataTypeFieldFilter
)

// String returns the lower-case name of the data type.
func (d DataType) String() string {
	switch d {
	case DataTypeRaw:
		return "raw"
	case DataTypeSchema:
		return "schema"
	case DataTypeFieldFilter:
		return "field_filter"
	default:
		return "unknown"
	}
}

// Message is one logical message delivered to the application.
//
// Several logical messages may share one wire message ("merged message"). They share
// ID and Timestamp and are told apart by OffsetInRawMsg; MergedCount is the number of
// logical messages packed into the wire message, or 0 when it was not merged.
type Message struct {
	Topic          string   `json:"topic"`
	Partition      uint32   `json:"partition"`
	ID             int64    `json:"id"`
	Timestamp      int64    `json:"timestamp"`
	Data           []byte   `json:"data"`
	OffsetInRawMsg uint16   `json:"offsetInRawMsg"`
	MergedCount    uint16   `json:"mergedCount"`
	DataType       DataType `json:"dataType"`
	SchemaVersion  int32    `json:"schemaVersion"`
	Schema         string   `json:"schema,omitempty"`
	Hash           uint16   `json:"hash"`
	Mask           uint8    `json:"mask"`
}

// Merged reports whether the message came out of a merged wire message.
func (m *Message) Merged() bool {
	return m.MergedCount > 0
}

// Position is the checkpoint at which this message is the next one to consume.
func (m *Message) Position() Checkpoint {
	if m.Merged() {
		return Checkpoint{Timestamp: m.Timestamp, Offset: m.OffsetInRawMsg}
	}

	return Checkpoint{Timestamp: m.Timestamp}
}

// After is the checkpoint immediately following this message.
//
// Inside a merged wire message the sub-offset advances; after its last logical
// message (or after an unmerged message) the timestamp advances instead.
func (m *Message) After() Checkpoint {
	if m.Merged() && m.OffsetInRawMsg+1 < m.MergedCount {
		return Checkpoint{Timestamp: m.Timestamp, Offset: m.OffsetInRawMsg + 1}
	}

	return Checkpoint{Timestamp: m.Timestamp + 1}
}

// Checkpoint is a resumable position: every message with a smaller timestamp has been
// consumed, and inside the wire message at Timestamp the first Offset logical
// messages have been consumed.
type Checkpoint struct {
	Timestamp int64  `json:"timestamp"`
	Offset    uint16 `json:"offsetInRawMsg"`
}

// MaxCheckpoint sorts after every real position.
var MaxCheckpoint = Checkpoint{Timestamp: math.MaxInt64, Offset: math.MaxUint16}

// Less orders checkpoints by timestamp, then sub-offset.
func (c Checkpoint) Less(o Checkpoint) bool {
	if c.Timestamp != o.Timestamp {
		return c.Timestamp < o.Timestamp
	}

	return c.Offset < o.Offset
}

// Min returns the earlier of two checkpoints.
func (c Checkpoint) Min(o Checkpoint) Checkpoint {
	if o.Less(c) {
		return o
	}

	return c
}

// Max returns the later of two checkpoints.
func (c Checkpoint) Max(o Checkpoint) Checkpoint {
	if c.Less(o) {
		return o
	}

	return c
}

// Sub moves the checkpoint back by delta microseconds. A non-zero move drops the
// sub-offset because the position no longer points inside the same wire message.
func (c Checkpoint) Sub(delta int64) Checkpoint {
	if delta <= 0 {
		return c
	}
	ts := c.Timestamp - delta
	if ts < 0 {
		ts = 0
	}

	return Checkpoint{Timestamp: ts}
}

func (c Checkpoint) String() string {
	return fmt.Sprintf("%d:%d", c.Timestamp, c.Offset)
}
