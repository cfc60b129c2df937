package types

import "context"

// RequestKind names the kinds of requests a reader sends to brokers.
type RequestKind int

const (
	// KindFetch reads a range of messages from a partition.
	KindFetch RequestKind = iota
	// KindMessageIDByTime resolves the first message id at or after a timestamp.
	KindMessageIDByTime
)

// String returns the metric label of the request kind.
func (k RequestKind) String() string {
	switch k {
	case KindFetch:
		return "fetch"
	case KindMessageIDByTime:
		return "message_id_by_time"
	default:
		return "unknown"
	}
}

// CompressType identifies a payload compression codec.
type CompressType uint8

const (
	CompressNone CompressType = iota
	CompressZstd
	CompressLZ4
	CompressSnappy
)

// String returns the lower-case codec name.
func (c CompressType) String() string {
	switch c {
	case CompressNone:
		return "none"
	case CompressZstd:
		return "zstd"
	case CompressLZ4:
		return "lz4"
	case CompressSnappy:
		return "snappy"
	default:
		return "unknown"
	}
}

// FetchRequest asks a broker for messages of one partition starting at StartID.
type FetchRequest struct {
	Topic     string `json:"topic"`
	Partition uint32 `json:"partition"`
	StartID   int64  `json:"startId"`
	Count     uint32 `json:"count"`
	MaxBytes  int64  `json:"maxBytes"`
	// TopicVersion is the metadata version the reader was built against.
	TopicVersion       int64    `json:"topicVersion"`
	HashFrom           uint16   `json:"hashFrom"`
	HashTo             uint16   `json:"hashTo"`
	FilterMask         uint8    `json:"filterMask"`
	FilterResult       uint8    `json:"filterResult"`
	RequiredFieldNames []string `json:"requiredFieldNames,omitempty"`
	FieldFilterDesc    string   `json:"fieldFilterDesc,omitempty"`
	Compress           bool     `json:"compress"`
}

// WireMessage is a message as stored by the broker. A merged wire message packs
// several logical messages into Data.
type WireMessage struct {
	ID            int64        `json:"id"`
	Timestamp     int64        `json:"timestamp"`
	Data          []byte       `json:"data"`
	Merged        bool         `json:"merged,omitempty"`
	Compressed    bool         `json:"compressed,omitempty"`
	CompressType  CompressType `json:"compressType,omitempty"`
	DataType      DataType     `json:"dataType,omitempty"`
	SchemaVersion int32        `json:"schemaVersion,omitempty"`
	Hash          uint16       `json:"hash"`
	Mask          uint8        `json:"mask"`
}

// FetchResponse carries either Messages or, when the response was compressed,
// Packed: the encoded message list guarded by Checksum.
type FetchResponse struct {
	Code          ErrorCode     `json:"code"`
	ErrorMessage  string        `json:"errorMessage,omitempty"`
	Messages      []WireMessage `json:"messages,omitempty"`
	NextMsgID     int64         `json:"nextMsgId"`
	NextTimestamp int64         `json:"nextTimestamp"`
	TopicVersion  int64         `json:"topicVersion"`
	Packed        []byte        `json:"packed,omitempty"`
	CompressType  CompressType  `json:"compressType,omitempty"`
	Checksum      uint64        `json:"checksum,omitempty"`
}

// MessageIDByTimeRequest asks for the first message at or after Timestamp.
type MessageIDByTimeRequest struct {
	Topic        string `json:"topic"`
	Partition    uint32 `json:"partition"`
	Timestamp    int64  `json:"timestamp"`
	TopicVersion int64  `json:"topicVersion"`
}

// MessageIDByTimeResponse returns the resolved message. When no message is at or
// after the requested time, MessageID is the id the next written message will get.
type MessageIDByTimeResponse struct {
	Code         ErrorCode `json:"code"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	MessageID    int64     `json:"messageId"`
	Timestamp    int64     `json:"timestamp"`
	TopicVersion int64     `json:"topicVersion"`
}

// Broker is one channel to a broker process.
//
// A returned error is a transport failure; broker-side conditions are reported
// through the response Code.
type Broker interface {
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResponse, error)
	MessageIDByTime(ctx context.Context, req *MessageIDByTimeRequest) (*MessageIDByTimeResponse, error)
}

// ChannelPool owns broker channels keyed by address.
//
// Get acquires a channel and Release returns it; discard asks the pool to drop the
// underlying connection once no caller holds it.
type ChannelPool interface {
	Get(ctx context.Context, address string) (Broker, error)
	Release(address string, discard bool)
	// ChannelTimeout hints that a request over address timed out.
	ChannelTimeout(address string)
	Close() error
}

// AdminClient is the metadata service of the cluster.
type AdminClient interface {
	// TopicInfo returns the current metadata of the topic.
	TopicInfo(ctx context.Context, name string) (*TopicMetadata, error)

	// BrokerAddress returns the address of the broker serving a partition.
	BrokerAddress(ctx context.Context, topic string, partition uint32) (string, error)

	// Schema returns the schema text registered for a topic version.
	Schema(ctx context.Context, topic string, version int32) (string, error)

	// ReportBrokerError hints that the cached route to a partition is stale.
	ReportBrokerError(topic string, partition uint32, address string, code ErrorCode)
}

// ProgressStore persists reader progress under a reader name.
type ProgressStore interface {
	// Save stores progress, replacing any previous value.
	Save(ctx context.Context, reader string, progress *ReaderProgress) error

	// Load returns the stored progress or ErrNoKeysFound.
	Load(ctx context.Context, reader string) (*ReaderProgress, error)

	Close() error
}
