package testing

import (
	"context"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/mqread/internal/codec"
	"github.com/arloliu/mqread/internal/hash"
	"github.com/arloliu/mqread/types"
)

// Fault is an injected broker failure, consumed by the next requests to a partition.
type Fault struct {
	// Code is returned as the response code when Err is nil.
	Code types.ErrorCode
	// Err is returned as a transport error.
	Err error
	// Delay postpones the response.
	Delay time.Duration
	// Times is how many requests the fault applies to (0 means once).
	Times int
}

type memPartition struct {
	msgs []types.WireMessage
}

type memTopic struct {
	version    int64
	sealed     bool
	partitions []*memPartition
}

type faultKey struct {
	topic     string
	partition uint32
}

// MemoryBroker is an in-process broker holding every partition log in memory.
//
// Message ids are log indexes. Timestamps must strictly increase per partition.
// It implements types.Broker, so it can serve readers directly through a LocalPool
// or behind the NATS and gRPC transports.
type MemoryBroker struct {
	mu       sync.Mutex
	topics   map[string]*memTopic
	faults   map[faultKey][]Fault
	requests map[faultKey]types.FetchRequest
	clock    func() int64
	compress types.CompressType

	fetches atomic.Int64
	locates atomic.Int64
}

var _ types.Broker = (*MemoryBroker)(nil)

// NewMemoryBroker creates an empty broker whose clock is the wall clock in
// microseconds.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		topics:   make(map[string]*memTopic),
		faults:   make(map[faultKey][]Fault),
		requests: make(map[faultKey]types.FetchRequest),
		clock:    func() int64 { return time.Now().UnixMicro() },
		compress: types.CompressZstd,
	}
}

// SetClock replaces the broker clock used for the next timestamp of caught-up
// partitions. A clock returning 0 makes it the last timestamp plus one.
func (b *MemoryBroker) SetClock(clock func() int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.clock = clock
}

// SetResponseCompression selects the codec for responses of requests asking for
// compression.
func (b *MemoryBroker) SetResponseCompression(ct types.CompressType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.compress = ct
}

// CreateTopic creates a topic with empty partitions. Existing partitions are kept
// when the topic already exists.
func (b *MemoryBroker) CreateTopic(name string, partitions uint32, version int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok {
		t = &memTopic{}
		b.topics[name] = t
	}
	t.version = version
	for uint32(len(t.partitions)) < partitions {
		t.partitions = append(t.partitions, &memPartition{})
	}
	t.partitions = t.partitions[:partitions]
}

// SetTopicVersion changes the version reported in responses.
func (b *MemoryBroker) SetTopicVersion(name string, version int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[name]; ok {
		t.version = version
	}
}

// Seal marks a topic as immutable; reading past its end reports read finish.
func (b *MemoryBroker) Seal(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[name]; ok {
		t.sealed = true
	}
}

// Append writes an unmerged message whose key hash is the first hash of the
// partition range, and returns its id.
func (b *MemoryBroker) Append(topic string, partition uint32, ts int64, data []byte) int64 {
	return b.AppendMessage(topic, partition, types.WireMessage{Timestamp: ts, Data: data})
}

// AppendMerged writes a merged message packing subs and returns its id.
func (b *MemoryBroker) AppendMerged(topic string, partition uint32, ts int64, subs []codec.SubMessage) int64 {
	return b.AppendMessage(topic, partition, types.WireMessage{
		Timestamp: ts,
		Data:      codec.PackMerged(subs),
		Merged:    true,
	})
}

// AppendMessage writes msg, assigning its id. A zero hash of an unmerged message
// is replaced by the first hash of the partition range.
func (b *MemoryBroker) AppendMessage(topic string, partition uint32, msg types.WireMessage) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok || partition >= uint32(len(t.partitions)) {
		panic("memory broker: unknown partition " + topic)
	}
	p := t.partitions[partition]
	if n := len(p.msgs); n > 0 && msg.Timestamp <= p.msgs[n-1].Timestamp {
		panic("memory broker: timestamps must increase")
	}
	if !msg.Merged && msg.Hash == 0 {
		msg.Hash = hash.PartitionRanges(uint32(len(t.partitions)))[partition].From
	}
	msg.ID = int64(len(p.msgs))
	p.msgs = append(p.msgs, msg)

	return msg.ID
}

// Inject queues a fault for the next requests to a partition.
func (b *MemoryBroker) Inject(topic string, partition uint32, f Fault) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if f.Times <= 0 {
		f.Times = 1
	}
	key := faultKey{topic: topic, partition: partition}
	b.faults[key] = append(b.faults[key], f)
}

// LastFetch returns a copy of the latest fetch request received for a partition.
func (b *MemoryBroker) LastFetch(topic string, partition uint32) (types.FetchRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	req, ok := b.requests[faultKey{topic: topic, partition: partition}]
	if ok {
		req.RequiredFieldNames = slices.Clone(req.RequiredFieldNames)
	}

	return req, ok
}

func cloneFetchRequest(req *types.FetchRequest) types.FetchRequest {
	out := *req
	out.RequiredFieldNames = slices.Clone(req.RequiredFieldNames)

	return out
}

// FetchCount returns the number of Fetch calls served.
func (b *MemoryBroker) FetchCount() int64 {
	return b.fetches.Load()
}

// LocateCount returns the number of MessageIDByTime calls served.
func (b *MemoryBroker) LocateCount() int64 {
	return b.locates.Load()
}

func (b *MemoryBroker) takeFault(topic string, partition uint32) (Fault, bool) {
	key := faultKey{topic: topic, partition: partition}
	queue := b.faults[key]
	if len(queue) == 0 {
		return Fault{}, false
	}
	f := queue[0]
	queue[0].Times--
	if queue[0].Times <= 0 {
		queue = queue[1:]
	}
	if len(queue) == 0 {
		delete(b.faults, key)
	} else {
		b.faults[key] = queue
	}

	return f, true
}

// applyFault waits out the fault delay and reports whether a failure must be
// returned instead of a response.
func applyFault(ctx context.Context, f Fault) error {
	if f.Delay > 0 {
		timer := time.NewTimer(f.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return f.Err
}

// lookup returns the partition or the code describing why it is unavailable.
func (b *MemoryBroker) lookup(topic string, partition uint32) (*memTopic, *memPartition, types.ErrorCode) {
	t, ok := b.topics[topic]
	if !ok {
		return nil, nil, types.CodeTopicNotExisted
	}
	if partition >= uint32(len(t.partitions)) {
		return t, nil, types.CodePartitionNotFound
	}

	return t, t.partitions[partition], types.CodeNone
}

// nextTimestamp is the smallest timestamp a message after the log end can get.
// Sealed topics never grow, so the clock does not apply to them.
func (b *MemoryBroker) nextTimestamp(t *memTopic, p *memPartition) int64 {
	next := int64(0)
	if n := len(p.msgs); n > 0 {
		next = p.msgs[n-1].Timestamp + 1
	}
	if t.sealed {
		return next
	}

	return max(next, b.clock())
}

// Fetch serves a range of messages.
func (b *MemoryBroker) Fetch(ctx context.Context, req *types.FetchRequest) (*types.FetchResponse, error) {
	b.fetches.Add(1)

	b.mu.Lock()
	b.requests[faultKey{topic: req.Topic, partition: req.Partition}] = cloneFetchRequest(req)
	f, faulty := b.takeFault(req.Topic, req.Partition)
	b.mu.Unlock()
	if faulty {
		if err := applyFault(ctx, f); err != nil {
			return nil, err
		}
		if f.Code != types.CodeNone {
			return &types.FetchResponse{Code: f.Code, NextTimestamp: -1, TopicVersion: b.version(req.Topic)}, nil
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, p, code := b.lookup(req.Topic, req.Partition)
	if code != types.CodeNone {
		resp := &types.FetchResponse{Code: code, NextTimestamp: -1}
		if t != nil {
			resp.TopicVersion = t.version
		}

		return resp, nil
	}

	resp := &types.FetchResponse{TopicVersion: t.version}
	start := max(req.StartID, 0)
	if start >= int64(len(p.msgs)) {
		resp.Code = types.CodeBrokerNoData
		if t.sealed {
			resp.Code = types.CodeSealedTopicReadFinish
		}
		resp.NextMsgID = int64(len(p.msgs))
		resp.NextTimestamp = b.nextTimestamp(t, p)

		return resp, nil
	}

	var size int64
	scanned := start
	for i := start; i < int64(len(p.msgs)) && uint32(len(resp.Messages)) < max(req.Count, 1); i++ {
		m := p.msgs[i]
		size += int64(len(m.Data))
		if len(resp.Messages) > 0 && req.MaxBytes > 0 && size > req.MaxBytes {
			break
		}
		scanned = i + 1
		if !m.Merged && (m.Hash < req.HashFrom || m.Hash > req.HashTo || m.Mask&req.FilterMask != req.FilterResult) {
			continue
		}
		m.Data = append([]byte(nil), m.Data...)
		resp.Messages = append(resp.Messages, m)
	}
	resp.NextMsgID = scanned
	if scanned < int64(len(p.msgs)) {
		resp.NextTimestamp = p.msgs[scanned].Timestamp
	} else {
		resp.NextTimestamp = b.nextTimestamp(t, p)
	}

	if req.Compress {
		if err := codec.PackResponse(resp, b.compress); err != nil {
			return nil, err
		}
	}

	return resp, nil
}

// MessageIDByTime returns the first message at or after the requested timestamp.
func (b *MemoryBroker) MessageIDByTime(ctx context.Context, req *types.MessageIDByTimeRequest) (*types.MessageIDByTimeResponse, error) {
	b.locates.Add(1)

	b.mu.Lock()
	f, faulty := b.takeFault(req.Topic, req.Partition)
	b.mu.Unlock()
	if faulty {
		if err := applyFault(ctx, f); err != nil {
			return nil, err
		}
		if f.Code != types.CodeNone {
			return &types.MessageIDByTimeResponse{Code: f.Code, TopicVersion: b.version(req.Topic)}, nil
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, p, code := b.lookup(req.Topic, req.Partition)
	if code != types.CodeNone {
		return &types.MessageIDByTimeResponse{Code: code}, nil
	}

	idx := sort.Search(len(p.msgs), func(i int) bool { return p.msgs[i].Timestamp >= req.Timestamp })
	resp := &types.MessageIDByTimeResponse{MessageID: int64(idx), Timestamp: -1, TopicVersion: t.version}
	if idx < len(p.msgs) {
		resp.Timestamp = p.msgs[idx].Timestamp
	}

	return resp, nil
}

func (b *MemoryBroker) version(topic string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[topic]; ok {
		return t.version
	}

	return 0
}
