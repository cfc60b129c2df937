package testutil

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	mqtest "github.com/arloliu/mqread/testing"
)

// Appender writes one message to a partition.
type Appender func(topic string, partition uint32, ts int64, data []byte)

// BrokerAppender appends straight to a memory broker.
func BrokerAppender(b *mqtest.MemoryBroker) Appender {
	return func(topic string, partition uint32, ts int64, data []byte) {
		b.Append(topic, partition, ts, data)
	}
}

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	Topic      string
	Partitions uint32
	// Interval between rounds; each round appends one message to every partition.
	Interval time.Duration
	// Rounds stops the producer after that many rounds (0 runs until Stop).
	Rounds int
	// Start is the timestamp of the first round; later rounds add Step.
	Start int64
	Step  int64
}

// Producer appends messages in the background with strictly increasing
// timestamps. Within a round partition p gets timestamp base+p, so every
// message of a topic has a distinct timestamp and the merged order is known.
//
// Each payload is the 8-byte big-endian timestamp of its message.
type Producer struct {
	cfg    ProducerConfig
	append Appender

	cancel context.CancelFunc
	wg     sync.WaitGroup

	produced atomic.Int64
	last     atomic.Int64
}

// StartProducer starts appending with fn.
//
// Example:
//
//	p := testutil.StartProducer(c.Append, testutil.ProducerConfig{
//	    Topic: "orders", Partitions: 4, Interval: time.Millisecond, Rounds: 100,
//	})
//	p.Wait()
func StartProducer(fn Appender, cfg ProducerConfig) *Producer {
	if cfg.Start <= 0 {
		cfg.Start = 1000
	}
	if cfg.Step < int64(cfg.Partitions) {
		cfg.Step = int64(cfg.Partitions)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Producer{cfg: cfg, append: fn, cancel: cancel}

	p.wg.Add(1)
	go p.run(ctx)

	return p
}

func (p *Producer) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for round := 0; p.cfg.Rounds == 0 || round < p.cfg.Rounds; round++ {
		base := p.cfg.Start + int64(round)*p.cfg.Step
		for part := range p.cfg.Partitions {
			ts := base + int64(part)
			p.append(p.cfg.Topic, part, ts, Payload(ts))
			p.produced.Add(1)
			p.last.Store(ts)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Payload encodes ts as a message body.
func Payload(ts int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(ts)) //nolint:gosec // test timestamps are positive
}

// Produced returns the number of messages appended so far.
func (p *Producer) Produced() int64 {
	return p.produced.Load()
}

// Last returns the timestamp of the last appended message.
func (p *Producer) Last() int64 {
	return p.last.Load()
}

// Clock is a broker clock consistent with the producer: every message
// appended later has a timestamp at or after the returned value. Brokers
// using it let drained partitions hold back the merge until data arrives.
func (p *Producer) Clock() int64 {
	last := p.last.Load()
	if last == 0 {
		return p.cfg.Start
	}

	return last + 1
}

// Wait blocks until the configured rounds are done.
func (p *Producer) Wait() {
	p.wg.Wait()
}

// Stop ends production and waits for the producer goroutine.
func (p *Producer) Stop() {
	p.cancel()
	p.wg.Wait()
}
