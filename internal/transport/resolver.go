package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/mqread/internal/metrics"
	"github.com/arloliu/mqread/types"
)

type routeKey struct {
	topic     string
	partition uint32
}

type routeEntry struct {
	address string
	expires time.Time
}

// AddressResolver caches broker addresses of partitions for a bounded time.
// One resolver is shared by every adapter of a reader.
type AddressResolver struct {
	admin   types.AdminClient
	ttl     time.Duration
	metrics types.TransportMetrics
	routes  *xsync.Map[routeKey, routeEntry]
	now     func() time.Time
}

// NewAddressResolver creates a resolver backed by admin.
//
// Parameters:
//   - admin: Source of broker addresses
//   - ttl: Lifetime of a cached address (<= 0 disables caching)
//   - m: Metrics sink (nil for no-op)
func NewAddressResolver(admin types.AdminClient, ttl time.Duration, m types.TransportMetrics) *AddressResolver {
	if m == nil {
		m = metrics.NewNop()
	}

	return &AddressResolver{
		admin:   admin,
		ttl:     ttl,
		metrics: m,
		routes:  xsync.NewMap[routeKey, routeEntry](),
		now:     time.Now,
	}
}

// Resolve returns the broker address of a partition.
func (r *AddressResolver) Resolve(ctx context.Context, topic string, partition uint32) (string, error) {
	key := routeKey{topic: topic, partition: partition}
	now := r.now()
	if entry, ok := r.routes.Load(key); ok && now.Before(entry.expires) {
		r.metrics.RecordAddressResolve(topic, true)
		return entry.address, nil
	}

	r.metrics.RecordAddressResolve(topic, false)
	address, err := r.admin.BrokerAddress(ctx, topic, partition)
	if err != nil {
		return "", fmt.Errorf("resolve broker of %s/%d: %w", topic, partition, err)
	}
	if r.ttl > 0 {
		r.routes.Store(key, routeEntry{address: address, expires: now.Add(r.ttl)})
	}

	return address, nil
}

// Invalidate forgets the cached address of a partition.
func (r *AddressResolver) Invalidate(topic string, partition uint32) {
	r.routes.Delete(routeKey{topic: topic, partition: partition})
}

// Len returns the number of cached routes, expired ones included.
func (r *AddressResolver) Len() int {
	return r.routes.Size()
}
