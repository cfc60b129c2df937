// Package testing provides test utilities for the mqread library.
//
// It follows the net/http/httptest convention: helpers that stand up the
// collaborators of a reader inside the test process.
//
// Key utilities:
//   - MemoryBroker: in-memory partition logs with fault injection
//   - LocalPool: channel pool routing addresses to in-process brokers
//   - NewCluster: static admin, broker and pool wired together
//   - StartEmbeddedNATS: single NATS server with JetStream
//   - CreateJetStreamKV: convenience wrapper for KV bucket creation
//   - NewTestLogger: types.Logger writing through the test log
//
// Example usage:
//
//	import (
//	    "testing"
//	    mqtest "github.com/arloliu/mqread/testing"
//	)
//
//	func TestConsume(t *testing.T) {
//	    c := mqtest.NewCluster()
//	    c.CreateTopic("orders", 4)
//	    c.Broker.Append("orders", 0, 100, []byte("a"))
//	    // build a reader with c.Admin and c.Pool
//	}
package testing
