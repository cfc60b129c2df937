package grpcrpc

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/arloliu/mqread/internal/logging"
	"github.com/arloliu/mqread/types"
)

// DefaultMaxTimeouts is how many timeouts retire a connection.
const DefaultMaxTimeouts = 3

// PoolConfig configures a Pool.
type PoolConfig struct {
	// DialOptions are passed to grpc.NewClient. Insecure transport credentials
	// are used when empty.
	DialOptions []grpc.DialOption
	// MaxTimeouts retires a connection after this many timeout hints
	// (DefaultMaxTimeouts when zero).
	MaxTimeouts int
	Logger      types.Logger
}

type conn struct {
	cc       *grpc.ClientConn
	client   *Client
	refs     int
	timeouts int
}

// Pool shares one reference-counted gRPC connection per broker address.
//
// A discarded or timed out connection is retired: later Gets dial a fresh one
// while current holders keep the old one. Releases drain the live connection
// first, so a retired one may stay open until Close.
type Pool struct {
	opts        []grpc.DialOption
	maxTimeouts int
	logger      types.Logger
	conns       *xsync.Map[string, *conn]
	retired     *xsync.Map[*grpc.ClientConn, int]
	closed      atomic.Bool
}

var _ types.ChannelPool = (*Pool)(nil)

// NewPool creates an empty pool.
//
// Example:
//
//	pool := grpcrpc.NewPool(grpcrpc.PoolConfig{})
//	defer pool.Close()
//	r, err := mqread.NewReader(ctx, &cfg, adm, pool)
func NewPool(cfg PoolConfig) *Pool {
	if len(cfg.DialOptions) == 0 {
		cfg.DialOptions = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	if cfg.MaxTimeouts <= 0 {
		cfg.MaxTimeouts = DefaultMaxTimeouts
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	return &Pool{
		opts:        cfg.DialOptions,
		maxTimeouts: cfg.MaxTimeouts,
		logger:      cfg.Logger,
		conns:       xsync.NewMap[string, *conn](),
		retired:     xsync.NewMap[*grpc.ClientConn, int](),
	}
}

// Get acquires the connection of address, dialing it on first use.
func (p *Pool) Get(_ context.Context, address string) (types.Broker, error) {
	if p.closed.Load() {
		return nil, types.ErrReaderClosed
	}

	var dialErr error
	c, _ := p.conns.Compute(address, func(old *conn, loaded bool) (*conn, xsync.ComputeOp) {
		if loaded {
			return &conn{cc: old.cc, client: old.client, refs: old.refs + 1, timeouts: old.timeouts}, xsync.UpdateOp
		}
		cc, err := grpc.NewClient(address, p.opts...)
		if err != nil {
			dialErr = err
			return nil, xsync.CancelOp
		}

		return &conn{cc: cc, client: NewClient(cc), refs: 1}, xsync.UpdateOp
	})
	if dialErr != nil {
		return nil, types.WrapError(types.CodeRPCFailed, dialErr)
	}

	return c.client, nil
}

// Release returns a connection acquired with Get. A discard retires it.
func (p *Pool) Release(address string, discard bool) {
	var toClose *grpc.ClientConn
	var unheld bool
	p.conns.Compute(address, func(old *conn, loaded bool) (*conn, xsync.ComputeOp) {
		if !loaded || old.refs == 0 {
			unheld = true
			return old, xsync.CancelOp
		}
		refs := old.refs - 1
		if !discard {
			return &conn{cc: old.cc, client: old.client, refs: refs, timeouts: old.timeouts}, xsync.UpdateOp
		}
		toClose = p.retire(old.cc, refs)

		return nil, xsync.DeleteOp
	})
	if toClose != nil {
		p.closeConn(address, toClose)
	}
	if unheld {
		p.releaseRetired(address)
	}
}

// retire moves cc out of the live set. It returns cc when nobody holds it.
func (p *Pool) retire(cc *grpc.ClientConn, refs int) *grpc.ClientConn {
	if refs == 0 {
		return cc
	}
	p.retired.Store(cc, refs)

	return nil
}

// releaseRetired drops one holder of a retired connection of address and
// closes it with its last holder.
func (p *Pool) releaseRetired(address string) {
	p.retired.Range(func(cc *grpc.ClientConn, _ int) bool {
		if cc.Target() != address {
			return true
		}
		var done bool
		p.retired.Compute(cc, func(refs int, loaded bool) (int, xsync.ComputeOp) {
			if !loaded {
				return 0, xsync.CancelOp
			}
			if refs <= 1 {
				done = true
				return 0, xsync.DeleteOp
			}

			return refs - 1, xsync.UpdateOp
		})
		if done {
			p.closeConn(address, cc)
		}

		return false
	})
}

// ChannelTimeout counts a timeout against address and retires its connection
// once MaxTimeouts is reached.
func (p *Pool) ChannelTimeout(address string) {
	var toClose *grpc.ClientConn
	var retired bool
	p.conns.Compute(address, func(old *conn, loaded bool) (*conn, xsync.ComputeOp) {
		if !loaded {
			return nil, xsync.CancelOp
		}
		n := old.timeouts + 1
		if n < p.maxTimeouts {
			return &conn{cc: old.cc, client: old.client, refs: old.refs, timeouts: n}, xsync.UpdateOp
		}
		retired = true
		toClose = p.retire(old.cc, old.refs)

		return nil, xsync.DeleteOp
	})
	if retired {
		p.logger.Warn("retiring broker connection after timeouts", "address", address, "timeouts", p.maxTimeouts)
	}
	if toClose != nil {
		p.closeConn(address, toClose)
	}
}

// Retired returns the number of retired connections still held.
func (p *Pool) Retired() int {
	return p.retired.Size()
}

// Len returns the number of live, non-retired connections.
func (p *Pool) Len() int {
	return p.conns.Size()
}

// Refs returns the holders of the live connection of address.
func (p *Pool) Refs(address string) int {
	c, ok := p.conns.Load(address)
	if !ok {
		return 0
	}

	return c.refs
}

func (p *Pool) closeConn(address string, cc *grpc.ClientConn) {
	if err := cc.Close(); err != nil {
		p.logger.Debug("failed to close broker connection", "address", address, "error", err)
	}
}

// Close closes every connection. Later Gets fail with ErrReaderClosed.
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	var errs []error
	p.conns.Range(func(_ string, c *conn) bool {
		errs = append(errs, c.cc.Close())
		return true
	})
	p.retired.Range(func(cc *grpc.ClientConn, _ int) bool {
		errs = append(errs, cc.Close())
		return true
	})
	p.conns.Clear()
	p.retired.Clear()

	return errors.Join(errs...)
}
