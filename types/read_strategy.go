package types

import (
	"fmt"
	"strings"
)

// ReadPolicy names the rule a multi-topic reader uses to pick the topic to read.
type ReadPolicy string

const (
	// PolicyDefault reads the topic holding the earliest next message.
	PolicyDefault ReadPolicy = "default"
	// PolicySequence reads topics in strict round robin.
	PolicySequence ReadPolicy = "sequence"
)

// ParseReadPolicy parses a policy name; the empty string is PolicyDefault.
func ParseReadPolicy(s string) (ReadPolicy, error) {
	switch ReadPolicy(strings.ToLower(s)) {
	case "", PolicyDefault:
		return PolicyDefault, nil
	case PolicySequence:
		return PolicySequence, nil
	default:
		return PolicyDefault, fmt.Errorf("%w: unknown read policy %q", ErrInvalidConfig, s)
	}
}

// TopicCandidate describes one topic of a multi-topic reader to a ReadStrategy.
type TopicCandidate struct {
	// Index is the position of the topic in the reader configuration.
	Index int
	Topic string
	// Timestamp is the next message timestamp when Ready, or the earliest
	// timestamp the next message can have when only Known.
	Timestamp int64
	// Ready topics have their next message buffered.
	Ready bool
	// Known is false while the topic cannot bound its next timestamp yet.
	Known bool
	// Exceeding topics are past their timestamp limit.
	Exceeding bool
	// Finished topics will never deliver again.
	Finished bool
}

// Eligible reports whether the topic may be read at all.
func (c TopicCandidate) Eligible() bool {
	return !c.Exceeding && !c.Finished
}

// ReadStrategy picks the topic a multi-topic reader reads next.
//
// Strategies must be deterministic and must not retain the candidate slice.
type ReadStrategy interface {
	// NeedsPeek reports whether Select uses candidate timestamps. When false
	// the reader skips peeking and passes candidates with Ready and Known unset.
	NeedsPeek() bool

	// Select returns the index into candidates of the topic to read.
	//
	// Parameters:
	//   - candidates: One entry per topic, ordered by Index
	//   - last: Index of the topic served by the previous read, -1 initially
	//
	// Returns:
	//   - int: Position in candidates, or -1 when no topic can be read now
	Select(candidates []TopicCandidate, last int) int
}
