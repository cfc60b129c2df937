// Package testutil provides shared fixtures for the integration and stress tests.
//
// NATSCluster runs the whole read path over real transports: an embedded NATS
// server with JetStream, a KV admin holding topic metadata and routes, memory
// brokers served over NATS request-reply, and a NATS channel pool. ChaosBroker
// wraps a broker with random delays and failures, Producer appends messages
// in the background, and ResourceMonitor watches goroutines and heap usage.
//
// For in-process fixtures without NATS, use the github.com/arloliu/mqread/testing
// package.
package testutil
