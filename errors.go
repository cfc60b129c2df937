package mqread

import "github.com/arloliu/mqread/types"

// Sentinel errors returned by the Reader. Errors carrying a code match the
// sentinel of that code under errors.Is.
var (
	// ErrNoMoreMessage means no data arrived before the read timeout; retry.
	ErrNoMoreMessage = types.ErrNoMoreMessage

	// ErrExceedTimestampLimit means every topic is past its timestamp limit;
	// raise the limit before reading again.
	ErrExceedTimestampLimit = types.ErrExceedTimestampLimit

	// ErrSealedTopicReadFinish means every topic is sealed and consumed; stop reading.
	ErrSealedTopicReadFinish = types.ErrSealedTopicReadFinish

	// ErrPhysicTopicSwitchNotReady means a logical topic has no next physical
	// topic yet; retry.
	ErrPhysicTopicSwitchNotReady = types.ErrPhysicTopicSwitchNotReady

	// ErrInvalidParameters is returned for calls that violate an API precondition.
	ErrInvalidParameters = types.ErrInvalidParameters

	// ErrInvalidPartitionID is returned when a configured partition is outside the topic.
	ErrInvalidPartitionID = types.ErrInvalidPartitionID

	// ErrInvalidResponse is returned when a broker response fails validation.
	ErrInvalidResponse = types.ErrInvalidResponse

	// ErrDecompressFailed is returned when a payload cannot be decompressed.
	ErrDecompressFailed = types.ErrDecompressFailed

	// ErrRPCFailed is returned when brokers stay unreachable past FatalErrorTimeLimit.
	ErrRPCFailed = types.ErrRPCFailed

	// ErrRPCTimeout is returned when requests keep timing out past FatalErrorTimeLimit.
	ErrRPCTimeout = types.ErrRPCTimeout

	// ErrBrokerStopped is returned when the serving broker stays stopped.
	ErrBrokerStopped = types.ErrBrokerStopped

	// ErrPartitionNotFound is returned when no broker serves a partition.
	ErrPartitionNotFound = types.ErrPartitionNotFound

	// ErrTopicNotExisted is returned when a topic is unknown.
	ErrTopicNotExisted = types.ErrTopicNotExisted

	// ErrPermissionDenied is returned when the reader may not access a topic.
	ErrPermissionDenied = types.ErrPermissionDenied

	// ErrReaderClosed is returned by calls made after Close.
	ErrReaderClosed = types.ErrReaderClosed

	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = types.ErrInvalidConfig

	// ErrAdminClientRequired is returned when NewReader gets a nil admin client.
	ErrAdminClientRequired = types.ErrAdminClientRequired

	// ErrChannelPoolRequired is returned when NewReader gets a nil channel pool.
	ErrChannelPoolRequired = types.ErrChannelPoolRequired

	// ErrNoKeysFound is returned by progress stores holding no progress for a reader.
	ErrNoKeysFound = types.ErrNoKeysFound
)
