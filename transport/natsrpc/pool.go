package natsrpc

import (
	"context"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/mqread/internal/logging"
	"github.com/arloliu/mqread/types"
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Prefix is the subject prefix brokers serve under (DefaultPrefix when empty).
	Prefix string
	// Logger receives channel timeout hints.
	Logger types.Logger
}

// Pool hands out broker channels sharing one NATS connection.
//
// Channels are cheap; the pool keeps one per address so discards and timeout
// hints can be tracked per broker. The connection belongs to the caller and
// stays open after Close.
type Pool struct {
	nc       *nats.Conn
	prefix   string
	logger   types.Logger
	channels *xsync.Map[string, *Client]
	timeouts *xsync.Map[string, int64]
	closed   atomic.Bool
}

var _ types.ChannelPool = (*Pool)(nil)

// NewPool creates a pool over nc.
//
// Example:
//
//	pool := natsrpc.NewPool(nc, natsrpc.PoolConfig{})
//	r, err := mqread.NewReader(ctx, &cfg, adm, pool)
func NewPool(nc *nats.Conn, cfg PoolConfig) *Pool {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	return &Pool{
		nc:       nc,
		prefix:   cfg.Prefix,
		logger:   cfg.Logger,
		channels: xsync.NewMap[string, *Client](),
		timeouts: xsync.NewMap[string, int64](),
	}
}

// Get returns the channel of address.
func (p *Pool) Get(_ context.Context, address string) (types.Broker, error) {
	if p.closed.Load() {
		return nil, types.ErrReaderClosed
	}
	if !p.nc.IsConnected() {
		return nil, types.NewError(types.CodeRPCFailed, "nats connection %s", p.nc.Status())
	}

	c, _ := p.channels.LoadOrStore(address, NewClient(p.nc, p.prefix, address))

	return c, nil
}

// Release drops the channel of address when discard is set.
func (p *Pool) Release(address string, discard bool) {
	if discard {
		p.channels.Delete(address)
	}
}

// ChannelTimeout counts a timeout against address.
func (p *Pool) ChannelTimeout(address string) {
	n, _ := p.timeouts.Compute(address, func(old int64, _ bool) (int64, xsync.ComputeOp) {
		return old + 1, xsync.UpdateOp
	})
	p.logger.Debug("broker request timed out", "address", address, "timeouts", n)
}

// Timeouts returns the timeout count of address.
func (p *Pool) Timeouts(address string) int64 {
	n, _ := p.timeouts.Load(address)
	return n
}

// Close makes every later Get fail. The NATS connection is left open.
func (p *Pool) Close() error {
	p.closed.Store(true)
	p.channels.Clear()

	return nil
}
