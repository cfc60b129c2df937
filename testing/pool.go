package testing

import (
	"context"
	"sync"

	"github.com/arloliu/mqread/types"
)

// PoolStats counts the channel pool calls seen by a LocalPool.
type PoolStats struct {
	Gets     int
	Releases int
	Discards int
	Timeouts int
}

// LocalPool is a channel pool that routes addresses to in-process brokers.
type LocalPool struct {
	mu      sync.Mutex
	brokers map[string]types.Broker
	down    map[string]bool
	stats   PoolStats
	closed  bool
}

var _ types.ChannelPool = (*LocalPool)(nil)

// NewLocalPool creates an empty pool.
func NewLocalPool() *LocalPool {
	return &LocalPool{
		brokers: make(map[string]types.Broker),
		down:    make(map[string]bool),
	}
}

// Register serves address with broker.
func (p *LocalPool) Register(address string, broker types.Broker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.brokers[address] = broker
}

// SetDown makes Get fail for address until it is set up again.
func (p *LocalPool) SetDown(address string, down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.down[address] = down
}

// Get returns the broker registered for address.
func (p *LocalPool) Get(_ context.Context, address string) (types.Broker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Gets++
	if p.closed {
		return nil, types.ErrReaderClosed
	}
	b, ok := p.brokers[address]
	if !ok || p.down[address] {
		return nil, types.NewError(types.CodeRPCFailed, "no channel to %s", address)
	}

	return b, nil
}

// Release records the release of a channel.
func (p *LocalPool) Release(_ string, discard bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Releases++
	if discard {
		p.stats.Discards++
	}
}

// ChannelTimeout records a timeout hint.
func (p *LocalPool) ChannelTimeout(string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Timeouts++
}

// Close makes every later Get fail.
func (p *LocalPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	return nil
}

// Stats returns a snapshot of the call counters.
func (p *LocalPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stats
}
