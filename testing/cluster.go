package testing

import (
	"time"

	"github.com/arloliu/mqread/admin"
	"github.com/arloliu/mqread/types"
)

// DefaultBrokerAddress is the address every partition of a Cluster routes to.
const DefaultBrokerAddress = "broker-0"

// Cluster wires a static admin, a memory broker and a local pool together.
type Cluster struct {
	Admin  *admin.Static
	Broker *MemoryBroker
	Pool   *LocalPool
}

// NewCluster creates a cluster with a single broker at DefaultBrokerAddress.
func NewCluster() *Cluster {
	c := &Cluster{
		Admin:  admin.NewStatic(DefaultBrokerAddress),
		Broker: NewMemoryBroker(),
		Pool:   NewLocalPool(),
	}
	c.Pool.Register(DefaultBrokerAddress, c.Broker)

	return c
}

// CreateTopic registers a normal topic with the admin and the broker.
func (c *Cluster) CreateTopic(name string, partitions uint32) {
	c.Broker.CreateTopic(name, partitions, 1)
	c.Admin.SetTopic(types.TopicMetadata{
		Name:           name,
		PartitionCount: partitions,
		Type:           types.TopicNormal,
		Version:        1,
	})
}

// CreateLogicTopic registers a logical topic backed by physic topics. Each
// physic topic is created on the broker with its own partition count; the
// metadata version is 1.
func (c *Cluster) CreateLogicTopic(name string, physics ...types.PhysicTopic) {
	for _, p := range physics {
		c.Broker.CreateTopic(p.Name, p.PartitionCount, 1)
		if p.Sealed {
			c.Broker.Seal(p.Name)
		}
	}
	c.Admin.SetTopic(types.TopicMetadata{
		Name:         name,
		Type:         types.TopicLogic,
		PhysicTopics: append([]types.PhysicTopic(nil), physics...),
		Version:      1,
	})
}

// SetPhysicTopics replaces the physic chain of a logical topic and bumps its
// metadata version and the version of every physic topic on the broker.
func (c *Cluster) SetPhysicTopics(name string, version int64, physics ...types.PhysicTopic) {
	for _, p := range physics {
		c.Broker.CreateTopic(p.Name, p.PartitionCount, version)
		if p.Sealed {
			c.Broker.Seal(p.Name)
		}
	}
	c.Admin.SetTopic(types.TopicMetadata{
		Name:         name,
		Type:         types.TopicLogic,
		PhysicTopics: append([]types.PhysicTopic(nil), physics...),
		Version:      version,
	})
}

// Micros converts a duration offset from the Unix epoch to a broker timestamp.
func Micros(d time.Duration) int64 {
	return d.Microseconds()
}
