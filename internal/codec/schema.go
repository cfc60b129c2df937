package codec

import (
	"context"
	"fmt"
	"sync"

	"github.com/arloliu/mqread/types"
)

// SchemaCache maps schema versions of one topic to their text. Entries are fetched
// from the admin client on first use and never evicted.
type SchemaCache struct {
	topic string
	admin types.AdminClient

	mu      sync.RWMutex
	schemas map[int32]string
}

// NewSchemaCache creates an empty cache for topic.
func NewSchemaCache(topic string, admin types.AdminClient) *SchemaCache {
	return &SchemaCache{topic: topic, admin: admin, schemas: make(map[int32]string)}
}

// Get returns the schema of version, fetching it once.
func (c *SchemaCache) Get(ctx context.Context, version int32) (string, error) {
	c.mu.RLock()
	schema, ok := c.schemas[version]
	c.mu.RUnlock()
	if ok {
		return schema, nil
	}

	schema, err := c.admin.Schema(ctx, c.topic, version)
	if err != nil {
		return "", fmt.Errorf("schema %s@%d: %w", c.topic, version, err)
	}

	c.mu.Lock()
	if existing, ok := c.schemas[version]; ok {
		schema = existing
	} else {
		c.schemas[version] = schema
	}
	c.mu.Unlock()

	return schema, nil
}

// Len returns the number of cached versions.
func (c *SchemaCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.schemas)
}
