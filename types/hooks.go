package types

import "context"

// Hooks defines callbacks for reader lifecycle events.
//
// All hooks are optional and called in background goroutines so they never block a
// Read call. Hook errors are logged and otherwise ignored.
type Hooks struct {
	// OnTopicSwitched is called after a topic reader was rebuilt, either for a
	// partition count change or a move along a logical topic chain.
	OnTopicSwitched func(ctx context.Context, logical, from, to string) error

	// OnError is called when a read surfaces a fatal error.
	OnError func(ctx context.Context, err error) error
}
