// Package hooks provides default types.Hooks callbacks.
package hooks

import (
	"context"

	"github.com/arloliu/mqread/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// Compile-time assertions that NopHooks implements hook callbacks.
var (
	_ func(context.Context, string, string, string) error = (*NopHooks)(nil).OnTopicSwitched
	_ func(context.Context, error) error                  = (*NopHooks)(nil).OnError
)

// NewNop creates a new no-op hooks implementation.
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnTopicSwitched: h.OnTopicSwitched,
		OnError:         h.OnError,
	}
}

// Fill returns h with every nil callback replaced by a no-op.
func Fill(h *types.Hooks) types.Hooks {
	out := NewNop()
	if h == nil {
		return out
	}
	if h.OnTopicSwitched != nil {
		out.OnTopicSwitched = h.OnTopicSwitched
	}
	if h.OnError != nil {
		out.OnError = h.OnError
	}

	return out
}

// OnTopicSwitched is a no-op implementation.
func (h *NopHooks) OnTopicSwitched(_ context.Context, _, _, _ string) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(_ context.Context, _ error) error {
	return nil
}
