// Package mqread provides the consumer side of a partitioned broker message
// queue: it turns many per-partition broker connections into one ordered,
// resumable message stream.
//
// A Reader fetches every selected partition of its topics asynchronously,
// buffers the results, merges partitions by broker timestamp and hands out
// messages in order. It tracks a checkpoint that can be persisted and resumed,
// stops at a configurable timestamp limit, and follows topics whose partition
// count changes or whose logical name moves along a chain of physical topics.
//
// # Quick Start
//
// Basic usage with default settings:
//
//	import "github.com/arloliu/mqread"
//
//	cfg := mqread.DefaultConfig()
//	cfg.Topics = []mqread.TopicConfig{{Name: "orders"}}
//
//	r, err := mqread.NewReader(ctx, &cfg, admin, pool)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	for {
//	    msg, checkpoint, err := r.Read(ctx, time.Second)
//	    if errors.Is(err, mqread.ErrNoMoreMessage) {
//	        continue
//	    }
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    handle(msg, checkpoint)
//	}
//
// # Key Features
//
//   - Ordered Merge: Messages of a topic are delivered in timestamp order across partitions
//   - Checkpoints: "refresh" and "readed" modes, never moving backwards between seeks
//   - Timestamp Limits: Reading stops, per topic, at a configurable timestamp
//   - Topic Migration: Partition count changes and logical topic chains are followed transparently
//   - Read Policies: "default" picks the earliest next message, "sequence" round-robins topics
//   - Progress Stores: JetStream KV or SQLite persistence with periodic commits
//
// # Architecture
//
// Each layer owns the one below it:
//
//	Reader → multi reader → migration adapter → topic reader → partition reader → transport adapter
//
// Transport adapters run one request per partition at a time and wake the
// reader through a shared notifier when a response arrives. Read blocks only
// on that notifier, bounded by its timeout.
//
// # Advanced Usage
//
// Custom policy, hooks and progress persistence:
//
//	import (
//	    "github.com/arloliu/mqread"
//	    "github.com/arloliu/mqread/checkpoint"
//	)
//
//	store, err := checkpoint.OpenSQLite(ctx, "progress.db")
//
//	hooks := &mqread.Hooks{
//	    OnTopicSwitched: func(ctx context.Context, logical, from, to string) error {
//	        log.Printf("%s moved from %s to %s", logical, from, to)
//	        return nil
//	    },
//	}
//
//	cfg.ReadPolicy = mqread.PolicySequence
//	cfg.Progress.ResumeOnStart = true
//	cfg.Progress.CommitInterval = 10 * time.Second
//
//	r, err := mqread.NewReader(ctx, &cfg, admin, pool,
//	    mqread.WithHooks(hooks),
//	    mqread.WithProgressStore(store),
//	)
//
// See the examples/ directory for complete working examples.
package mqread
