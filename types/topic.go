package types

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicType describes how a topic name maps onto broker partitions.
type TopicType int

const (
	// TopicNormal is an ordinary, mutable topic.
	TopicNormal TopicType = iota
	// TopicLogic is a stable name backed by a chain of physical topics.
	TopicLogic
	// TopicPhysic is one immutable-once-sealed element of a logical chain.
	TopicPhysic
	// TopicLogicPhysic is a logical topic that also owns partitions of its own,
	// holding the data written before the first physical topic was cut.
	TopicLogicPhysic
)

// String returns the upper-case name of the topic type.
func (t TopicType) String() string {
	switch t {
	case TopicNormal:
		return "NORMAL"
	case TopicLogic:
		return "LOGIC"
	case TopicPhysic:
		return "PHYSIC"
	case TopicLogicPhysic:
		return "LOGIC_PHYSIC"
	default:
		return "UNKNOWN"
	}
}

// IsLogical reports whether the topic resolves to physical topics.
func (t TopicType) IsLogical() bool {
	return t == TopicLogic || t == TopicLogicPhysic
}

// ParseTopicType parses the upper-case name produced by String.
func ParseTopicType(s string) (TopicType, error) {
	switch strings.ToUpper(s) {
	case "", "NORMAL":
		return TopicNormal, nil
	case "LOGIC":
		return TopicLogic, nil
	case "PHYSIC":
		return TopicPhysic, nil
	case "LOGIC_PHYSIC":
		return TopicLogicPhysic, nil
	default:
		return TopicNormal, NewError(CodeInvalidParameters, "unknown topic type %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t TopicType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TopicType) UnmarshalText(b []byte) error {
	v, err := ParseTopicType(string(b))
	if err != nil {
		return err
	}
	*t = v

	return nil
}

// PhysicTopic is one element of a logical topic chain.
type PhysicTopic struct {
	Name           string `json:"name"`
	StartTime      int64  `json:"startTime"`
	PartitionCount uint32 `json:"partitionCount"`
	Sealed         bool   `json:"sealed"`
}

// TopicMetadata is the admin view of a topic.
type TopicMetadata struct {
	Name           string        `json:"name"`
	PartitionCount uint32        `json:"partitionCount"`
	Type           TopicType     `json:"type"`
	PhysicTopics   []PhysicTopic `json:"physicTopics,omitempty"`
	// Version is the metadata modify time; it only grows.
	Version int64 `json:"version"`
	Sealed  bool  `json:"sealed"`
}

// Normalize fills physical chain entries that only carry a name by parsing it.
func (m *TopicMetadata) Normalize() error {
	for i := range m.PhysicTopics {
		entry := &m.PhysicTopics[i]
		if entry.StartTime != 0 || entry.PartitionCount != 0 {
			continue
		}
		parsed, err := ParsePhysicTopicName(entry.Name)
		if err != nil {
			return err
		}
		parsed.Sealed = entry.Sealed
		*entry = parsed
	}

	return nil
}

// PhysicTopicName builds the canonical name of a physical topic.
func PhysicTopicName(logical string, startTime int64, partitionCount uint32) string {
	return fmt.Sprintf("%s-%d-%d", logical, startTime, partitionCount)
}

// ParsePhysicTopicName splits "<logical>-<startTime>-<partitionCount>".
// The logical part may itself contain dashes.
func ParsePhysicTopicName(name string) (PhysicTopic, error) {
	last := strings.LastIndexByte(name, '-')
	if last <= 0 {
		return PhysicTopic{}, NewError(CodeInvalidParameters, "invalid physic topic name %q", name)
	}
	prev := strings.LastIndexByte(name[:last], '-')
	if prev <= 0 {
		return PhysicTopic{}, NewError(CodeInvalidParameters, "invalid physic topic name %q", name)
	}

	start, err := strconv.ParseInt(name[prev+1:last], 10, 64)
	if err != nil {
		return PhysicTopic{}, NewError(CodeInvalidParameters, "invalid start time in physic topic name %q", name)
	}
	count, err := strconv.ParseUint(name[last+1:], 10, 32)
	if err != nil || count == 0 {
		return PhysicTopic{}, NewError(CodeInvalidParameters, "invalid partition count in physic topic name %q", name)
	}

	return PhysicTopic{Name: name, StartTime: start, PartitionCount: uint32(count)}, nil
}

// LogicalName strips the "-<startTime>-<partitionCount>" suffix of a physical topic
// name. Names that do not parse are returned unchanged.
func LogicalName(name string) string {
	if _, err := ParsePhysicTopicName(name); err != nil {
		return name
	}
	last := strings.LastIndexByte(name, '-')
	prev := strings.LastIndexByte(name[:last], '-')

	return name[:prev]
}
