package strategy

import "github.com/arloliu/mqread/types"

// Priority reads the topic whose next message is earliest.
type Priority struct{}

var _ types.ReadStrategy = (*Priority)(nil)

// NewPriority creates the strategy behind types.PolicyDefault.
//
// The eligible topic with the smallest (timestamp, index) wins, the same rule a
// topic reader applies to its partitions. Nothing is selected while that topic
// has no message ready, or while any eligible topic cannot bound its next
// timestamp, so a slower topic is never overtaken by a later message.
//
// Returns:
//   - *Priority: Initialized priority strategy
func NewPriority() *Priority {
	return &Priority{}
}

// NeedsPeek implements types.ReadStrategy.
func (p *Priority) NeedsPeek() bool {
	return true
}

// Select implements types.ReadStrategy. The last served topic is ignored.
func (p *Priority) Select(candidates []types.TopicCandidate, _ int) int {
	best := -1
	for i, c := range candidates {
		if !c.Eligible() {
			continue
		}
		if !c.Ready && !c.Known {
			return -1
		}
		if best < 0 || c.Timestamp < candidates[best].Timestamp ||
			(c.Timestamp == candidates[best].Timestamp && c.Index < candidates[best].Index) {
			best = i
		}
	}
	if best >= 0 && !candidates[best].Ready {
		return -1
	}

	return best
}
