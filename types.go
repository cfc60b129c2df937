package mqread

import "github.com/arloliu/mqread/types"

// Re-export types from the internal types package.
//
// This file provides a stable public API for the library's core types and
// interfaces. It uses type aliases to re-export definitions from the `types`
// subpackage, which internal packages depend on without depending on the root
// `mqread` package.
type (
	Message           = types.Message
	Checkpoint        = types.Checkpoint
	Progress          = types.Progress
	PartitionProgress = types.PartitionProgress
	ReaderProgress    = types.ReaderProgress
	TopicMetadata     = types.TopicMetadata
	PhysicTopic       = types.PhysicTopic
	TopicType         = types.TopicType
	TopicStatus       = types.TopicStatus
	PartitionStatus   = types.PartitionStatus
	ErrorCode         = types.ErrorCode
	Error             = types.Error
	ReadPolicy        = types.ReadPolicy
	CheckpointMode    = types.CheckpointMode
	MigrationState    = types.MigrationState
)

// Re-export interfaces from the internal types package for convenience.
type (
	AdminClient      = types.AdminClient
	ChannelPool      = types.ChannelPool
	Broker           = types.Broker
	ProgressStore    = types.ProgressStore
	ReadStrategy     = types.ReadStrategy
	MetricsCollector = types.MetricsCollector
	Logger           = types.Logger
	Hooks            = types.Hooks
)

// Re-export constants from the internal types package.
const (
	PolicyDefault  = types.PolicyDefault
	PolicySequence = types.PolicySequence

	CheckpointRefresh = types.CheckpointRefresh
	CheckpointReaded  = types.CheckpointReaded

	TopicNormal      = types.TopicNormal
	TopicLogic       = types.TopicLogic
	TopicPhysic      = types.TopicPhysic
	TopicLogicPhysic = types.TopicLogicPhysic
)

// Re-export error codes from the internal types package.
const (
	CodeNone                      = types.CodeNone
	CodeNoMoreMessage             = types.CodeNoMoreMessage
	CodeExceedTimestampLimit      = types.CodeExceedTimestampLimit
	CodePhysicTopicSwitchNotReady = types.CodePhysicTopicSwitchNotReady
	CodeSealedTopicReadFinish     = types.CodeSealedTopicReadFinish
	CodeBrokerBusy                = types.CodeBrokerBusy
	CodeRPCFailed                 = types.CodeRPCFailed
	CodeRPCTimeout                = types.CodeRPCTimeout
	CodeBrokerStopped             = types.CodeBrokerStopped
	CodePartitionNotFound         = types.CodePartitionNotFound
	CodeTopicNotExisted           = types.CodeTopicNotExisted
	CodePermissionDenied          = types.CodePermissionDenied
	CodeInvalidParameters         = types.CodeInvalidParameters
	CodeInvalidPartitionID        = types.CodeInvalidPartitionID
	CodeInvalidResponse           = types.CodeInvalidResponse
	CodeDecompressFailed          = types.CodeDecompressFailed
	CodeReaderClosed              = types.CodeReaderClosed
)

// UnmarshalReaderProgress decodes progress produced by ReaderProgress.Marshal.
func UnmarshalReaderProgress(data []byte) (*ReaderProgress, error) {
	return types.UnmarshalReaderProgress(data)
}

// CodeOf extracts the error code carried by err.
func CodeOf(err error) ErrorCode {
	return types.CodeOf(err)
}
