package strategy

import "github.com/arloliu/mqread/types"

// Sequence implements strict round-robin topic selection.
type Sequence struct{}

var _ types.ReadStrategy = (*Sequence)(nil)

// NewSequence creates the strategy behind types.PolicySequence.
//
// The strategy reads topics in configuration order, starting after the topic
// served last and wrapping around. Topics past their timestamp limit or
// finished are skipped. A selected topic is read even when it has no data
// ready, so one slow topic holds the rotation until the read times out.
//
// Returns:
//   - *Sequence: Initialized round-robin strategy
//
// Example:
//
//	r, err := mqread.NewReader(ctx, cfg, admin, pool, mqread.WithReadStrategy(strategy.NewSequence()))
func NewSequence() *Sequence {
	return &Sequence{}
}

// NeedsPeek implements types.ReadStrategy.
func (s *Sequence) NeedsPeek() bool {
	return false
}

// Select implements types.ReadStrategy.
func (s *Sequence) Select(candidates []types.TopicCandidate, last int) int {
	n := len(candidates)
	if n == 0 {
		return -1
	}

	start := 0
	for i, c := range candidates {
		if c.Index == last {
			start = i + 1
			break
		}
	}
	for k := range n {
		i := (start + k) % n
		if candidates[i].Eligible() {
			return i
		}
	}

	return -1
}
