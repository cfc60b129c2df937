package types

import (
	"encoding/json"
	"fmt"
)

// PartitionProgress is the resumable position of one partition key range.
type PartitionProgress struct {
	From           uint16 `json:"from"`
	To             uint16 `json:"to"`
	Timestamp      int64  `json:"timestamp"`
	OffsetInRawMsg uint16 `json:"offsetInRawMsg"`
}

// Checkpoint returns the entry position as a Checkpoint.
func (p PartitionProgress) Checkpoint() Checkpoint {
	return Checkpoint{Timestamp: p.Timestamp, Offset: p.OffsetInRawMsg}
}

// Overlaps reports whether the entry range intersects [from, to].
func (p PartitionProgress) Overlaps(from, to uint16) bool {
	return p.From <= to && from <= p.To
}

// Progress is the externally exchanged cursor of one topic: one entry per partition
// range owned by the reader when it was produced.
type Progress struct {
	TopicName    string              `json:"topicName"`
	FilterMask   uint8               `json:"filterMask"`
	FilterResult uint8               `json:"filterResult"`
	Partitions   []PartitionProgress `json:"partitions"`
}

// Covering computes the position a reader owning [from, to] may safely resume from.
//
// The result is the minimum position over every entry overlapping the range: data of
// the range before that point has been consumed under every overlapping entry, so a
// progress produced with a different partition layout still resumes without loss.
//
// Returns:
//   - Checkpoint: resume position
//   - bool: false when no entry overlaps the range
func (p *Progress) Covering(from, to uint16) (Checkpoint, bool) {
	found := false
	target := MaxCheckpoint
	for _, entry := range p.Partitions {
		if !entry.Overlaps(from, to) {
			continue
		}
		found = true
		target = target.Min(entry.Checkpoint())
	}

	return target, found
}

// Validate checks that every entry has a well-formed range.
func (p *Progress) Validate() error {
	for i, entry := range p.Partitions {
		if entry.From > entry.To {
			return NewError(CodeInvalidParameters, "progress entry %d has range [%d, %d]", i, entry.From, entry.To)
		}
		if entry.Timestamp < 0 {
			return NewError(CodeInvalidParameters, "progress entry %d has negative timestamp %d", i, entry.Timestamp)
		}
	}

	return nil
}

// ReaderProgress is the progress of a multi-topic reader, one entry per topic.
type ReaderProgress struct {
	Topics []Progress `json:"topics"`
}

// Topic returns the progress recorded for the named topic.
func (rp *ReaderProgress) Topic(name string) (*Progress, bool) {
	for i := range rp.Topics {
		if rp.Topics[i].TopicName == name {
			return &rp.Topics[i], true
		}
	}

	return nil, false
}

// Marshal serializes the progress as JSON.
func (rp *ReaderProgress) Marshal() ([]byte, error) {
	return json.Marshal(rp)
}

// UnmarshalReaderProgress parses a progress produced by Marshal.
func UnmarshalReaderProgress(data []byte) (*ReaderProgress, error) {
	var rp ReaderProgress
	if err := json.Unmarshal(data, &rp); err != nil {
		return nil, fmt.Errorf("decode reader progress: %w", err)
	}
	for i := range rp.Topics {
		if err := rp.Topics[i].Validate(); err != nil {
			return nil, err
		}
	}

	return &rp, nil
}
