// Package admin provides types.AdminClient implementations.
package admin

import (
	"context"
	"fmt"
	"sync"

	"github.com/arloliu/mqread/types"
)

// BrokerErrorReport is one ReportBrokerError call recorded by Static.
type BrokerErrorReport struct {
	Topic     string
	Partition uint32
	Address   string
	Code      types.ErrorCode
}

type partitionKey struct {
	topic     string
	partition uint32
}

type staticSchemaKey struct {
	topic   string
	version int32
}

// Static implements an admin client over in-memory metadata.
//
// Useful for testing and for deployments with a fixed broker layout. Every setter
// may be called while readers are running.
type Static struct {
	mu             sync.RWMutex
	topics         map[string]types.TopicMetadata
	addresses      map[partitionKey]string
	defaultAddress string
	schemas        map[staticSchemaKey]string
	reports        []BrokerErrorReport
}

var _ types.AdminClient = (*Static)(nil)

// NewStatic creates a static admin client routing every partition to defaultAddress.
//
// Example:
//
//	adm := admin.NewStatic("broker-0:7000")
//	adm.SetTopic(types.TopicMetadata{Name: "orders", PartitionCount: 4, Version: 1})
func NewStatic(defaultAddress string) *Static {
	return &Static{
		topics:         make(map[string]types.TopicMetadata),
		addresses:      make(map[partitionKey]string),
		defaultAddress: defaultAddress,
		schemas:        make(map[staticSchemaKey]string),
	}
}

// SetTopic creates or replaces topic metadata.
func (s *Static) SetTopic(meta types.TopicMetadata) {
	meta.PhysicTopics = append([]types.PhysicTopic(nil), meta.PhysicTopics...)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.topics[meta.Name] = meta
}

// DeleteTopic removes a topic.
func (s *Static) DeleteTopic(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.topics, name)
}

// SetAddress routes one partition to address.
func (s *Static) SetAddress(topic string, partition uint32, address string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addresses[partitionKey{topic: topic, partition: partition}] = address
}

// SetSchema registers a schema version of a topic.
func (s *Static) SetSchema(topic string, version int32, schema string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.schemas[staticSchemaKey{topic: topic, version: version}] = schema
}

// TopicInfo returns a copy of the topic metadata.
func (s *Static) TopicInfo(_ context.Context, name string) (*types.TopicMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.topics[name]
	if !ok {
		return nil, types.NewError(types.CodeTopicNotExisted, "topic %s", name)
	}
	meta.PhysicTopics = append([]types.PhysicTopic(nil), meta.PhysicTopics...)
	if err := meta.Normalize(); err != nil {
		return nil, err
	}

	return &meta, nil
}

// BrokerAddress returns the address of a partition.
func (s *Static) BrokerAddress(_ context.Context, topic string, partition uint32) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if addr, ok := s.addresses[partitionKey{topic: topic, partition: partition}]; ok {
		return addr, nil
	}
	if s.defaultAddress == "" {
		return "", types.NewError(types.CodePartitionNotFound, "no broker for %s/%d", topic, partition)
	}

	return s.defaultAddress, nil
}

// Schema returns a registered schema.
func (s *Static) Schema(_ context.Context, topic string, version int32) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schema, ok := s.schemas[staticSchemaKey{topic: topic, version: version}]
	if !ok {
		return "", fmt.Errorf("schema %s@%d: %w", topic, version, types.ErrNoKeysFound)
	}

	return schema, nil
}

// ReportBrokerError records the report.
func (s *Static) ReportBrokerError(topic string, partition uint32, address string, code types.ErrorCode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports = append(s.reports, BrokerErrorReport{Topic: topic, Partition: partition, Address: address, Code: code})
}

// Reports returns the recorded broker error reports.
func (s *Static) Reports() []BrokerErrorReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]BrokerErrorReport(nil), s.reports...)
}
