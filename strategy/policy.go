package strategy

import (
	"fmt"

	"github.com/arloliu/mqread/types"
)

// ForPolicy returns the built-in strategy of a configured policy.
func ForPolicy(p types.ReadPolicy) (types.ReadStrategy, error) {
	switch p {
	case "", types.PolicyDefault:
		return NewPriority(), nil
	case types.PolicySequence:
		return NewSequence(), nil
	default:
		return nil, fmt.Errorf("%w: unknown read policy %q", types.ErrInvalidConfig, p)
	}
}
