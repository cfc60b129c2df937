// Package types provides core type definitions and interfaces for the mqread library.
//
// This package contains shared types that are used across multiple packages in the
// library. By keeping these types in a separate package, we avoid import cycles
// between the root mqread package and its internal implementations.
//
// Key types:
//   - Message, Checkpoint, Progress: what a reader delivers and how it resumes
//   - TopicMetadata: partition count, topic type and physical topic chain
//   - ReaderConfig: per-topic read configuration
//   - ErrorCode, Error: error taxonomy shared by every layer
//   - AdminClient, Broker, ChannelPool: external collaborators
//   - Logger, MetricsCollector, Hooks: observability interfaces
package types
