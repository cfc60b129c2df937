package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies every error a reader can observe, from broker responses up to
// the public Read call.
type ErrorCode int

const (
	CodeNone ErrorCode = iota

	// Transient conditions, retried internally or by the caller.
	CodeNoMoreMessage
	CodeBrokerNoData
	CodeExceedTimestampLimit
	CodePhysicTopicSwitchNotReady
	CodeTopicChanged
	CodeBrokerBusy

	// Terminal condition of an immutable topic.
	CodeSealedTopicReadFinish

	// Fatal-remote conditions, escalated after FatalErrorTimeLimit.
	CodeRPCFailed
	CodeRPCTimeout
	CodeBrokerStopped
	CodePartitionNotFound
	CodeTopicNotExisted
	CodePermissionDenied

	// Fatal-local conditions, returned immediately.
	CodeInvalidParameters
	CodeInvalidPartitionID
	CodeInvalidResponse
	CodeDecompressFailed
	CodeReaderClosed
	CodeUnknown
)

var codeNames = map[ErrorCode]string{
	CodeNone:                      "NONE",
	CodeNoMoreMessage:             "NO_MORE_MESSAGE",
	CodeBrokerNoData:              "BROKER_NO_DATA",
	CodeExceedTimestampLimit:      "EXCEED_TIMESTAMP_LIMIT",
	CodePhysicTopicSwitchNotReady: "PHYSIC_TOPIC_SWITCH_NOT_READY",
	CodeTopicChanged:              "TOPIC_CHANGED",
	CodeBrokerBusy:                "BROKER_BUSY",
	CodeSealedTopicReadFinish:     "SEALED_TOPIC_READ_FINISH",
	CodeRPCFailed:                 "RPC_FAILED",
	CodeRPCTimeout:                "RPC_TIMEOUT",
	CodeBrokerStopped:             "BROKER_STOPPED",
	CodePartitionNotFound:         "PARTITION_NOT_FOUND",
	CodeTopicNotExisted:           "TOPIC_NOT_EXISTED",
	CodePermissionDenied:          "PERMISSION_DENIED",
	CodeInvalidParameters:         "INVALID_PARAMETERS",
	CodeInvalidPartitionID:        "INVALID_PARTITION_ID",
	CodeInvalidResponse:           "INVALID_RESPONSE",
	CodeDecompressFailed:          "DECOMPRESS_FAILED",
	CodeReaderClosed:              "READER_CLOSED",
	CodeUnknown:                   "UNKNOWN",
}

// String returns the canonical upper-case name of the code.
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}

	return fmt.Sprintf("ERROR_CODE(%d)", int(c))
}

// IsFatalLocal reports whether the code is a local failure that is never retried.
func (c ErrorCode) IsFatalLocal() bool {
	return c >= CodeInvalidParameters
}

// IsFatalRemote reports whether the code is a remote failure that is retried with
// backoff and escalated once the fatal time limit elapses.
func (c ErrorCode) IsFatalRemote() bool {
	return c >= CodeRPCFailed && c <= CodePermissionDenied
}

// IsFatal reports whether the code is fatal-local or fatal-remote.
func (c ErrorCode) IsFatal() bool {
	return c.IsFatalLocal() || c.IsFatalRemote()
}

// Severity ranks codes so that aggregating layers can surface the worst one.
//
// Returns:
//   - int: 0 for CodeNone, larger values for more severe conditions
func (c ErrorCode) Severity() int {
	switch {
	case c == CodeNone:
		return 0
	case c == CodeNoMoreMessage || c == CodeBrokerNoData:
		return 1
	case c == CodeExceedTimestampLimit:
		return 2
	case c == CodePhysicTopicSwitchNotReady || c == CodeTopicChanged || c == CodeBrokerBusy:
		return 3
	case c == CodeSealedTopicReadFinish:
		return 4
	case c.IsFatalRemote():
		return 5
	default:
		return 6
	}
}

// Error is the error type carried through every reader layer.
//
// Two *Error values match under errors.Is when their codes are equal, so the
// sentinels below can be compared against errors that carry extra context.
type Error struct {
	Code ErrorCode
	Msg  string
	Err  error
}

// NewError creates an error with the given code and formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// WrapError attaches a code to an underlying error.
func WrapError(code ErrorCode, err error) *Error {
	return &Error{Code: code, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return e.Code.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Code == e.Code
}

// CodeOf extracts the error code from err.
//
// Returns:
//   - ErrorCode: CodeNone for nil, the carried code for *Error chains, CodeUnknown otherwise
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return CodeUnknown
}

// Sentinel errors, one per externally visible code.
var (
	// ErrNoMoreMessage means no data is currently available; retry after backoff.
	ErrNoMoreMessage = &Error{Code: CodeNoMoreMessage}

	// ErrExceedTimestampLimit means every eligible partition is beyond the configured ceiling.
	ErrExceedTimestampLimit = &Error{Code: CodeExceedTimestampLimit}

	// ErrSealedTopicReadFinish means a sealed topic has been consumed completely.
	ErrSealedTopicReadFinish = &Error{Code: CodeSealedTopicReadFinish}

	// ErrPhysicTopicSwitchNotReady means the logical topic chain has not caught up yet.
	ErrPhysicTopicSwitchNotReady = &Error{Code: CodePhysicTopicSwitchNotReady}

	// ErrTopicChanged means topic metadata changed and the topic reader must be rebuilt.
	ErrTopicChanged = &Error{Code: CodeTopicChanged}

	// ErrInvalidParameters is returned for calls that violate an API precondition.
	ErrInvalidParameters = &Error{Code: CodeInvalidParameters}

	// ErrInvalidPartitionID is returned when a partition id is outside the topic.
	ErrInvalidPartitionID = &Error{Code: CodeInvalidPartitionID}

	// ErrInvalidResponse is returned when a broker response fails validation.
	ErrInvalidResponse = &Error{Code: CodeInvalidResponse}

	// ErrDecompressFailed is returned when a payload cannot be decompressed.
	ErrDecompressFailed = &Error{Code: CodeDecompressFailed}

	// ErrRPCFailed is returned for transport failures.
	ErrRPCFailed = &Error{Code: CodeRPCFailed}

	// ErrRPCTimeout is returned when a request timed out.
	ErrRPCTimeout = &Error{Code: CodeRPCTimeout}

	// ErrBrokerStopped is returned when the broker serving a partition is stopping.
	ErrBrokerStopped = &Error{Code: CodeBrokerStopped}

	// ErrPartitionNotFound is returned when the broker does not serve the partition.
	ErrPartitionNotFound = &Error{Code: CodePartitionNotFound}

	// ErrTopicNotExisted is returned when the topic is unknown to the admin or broker.
	ErrTopicNotExisted = &Error{Code: CodeTopicNotExisted}

	// ErrPermissionDenied is returned when the reader may not access the topic.
	ErrPermissionDenied = &Error{Code: CodePermissionDenied}

	// ErrReaderClosed is returned by calls made after Close.
	ErrReaderClosed = &Error{Code: CodeReaderClosed}
)

// Configuration and construction errors.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrAdminClientRequired is returned when no admin client is supplied.
	ErrAdminClientRequired = errors.New("admin client is required")

	// ErrChannelPoolRequired is returned when no channel pool is supplied.
	ErrChannelPoolRequired = errors.New("channel pool is required")

	// ErrNoKeysFound is returned when a KV store holds no entry for a key.
	ErrNoKeysFound = errors.New("no keys found")
)
