// Package natsutil maps NATS client errors onto reader error codes.
package natsutil

import (
	"context"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/mqread/types"
)

// IsConnectivityError checks if an error is caused by connectivity issues.
//
// This includes NATS timeouts, connection refused, disconnections, etc.
//
// Kept in internal/natsutil to avoid importing NATS dependencies in types/ package.
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true if error indicates connectivity issue
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrConnectionDraining) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "i/o timeout")
}

// IsNotFound reports whether err means a missing KV key or bucket.
func IsNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) ||
		errors.Is(err, jetstream.ErrKeyDeleted) ||
		errors.Is(err, jetstream.ErrNoKeysFound) ||
		errors.Is(err, types.ErrNoKeysFound)
}

// CodeOf classifies a NATS request error.
//
// Returns:
//   - types.ErrorCode: CodeRPCTimeout for timeouts, CodeBrokerStopped when no
//     broker subscribes to the subject, CodeRPCFailed otherwise
func CodeOf(err error) types.ErrorCode {
	switch {
	case err == nil:
		return types.CodeNone
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return types.CodeRPCTimeout
	case errors.Is(err, nats.ErrNoResponders):
		return types.CodeBrokerStopped
	default:
		return types.CodeRPCFailed
	}
}

// Wrap attaches the code chosen by CodeOf to err.
func Wrap(err error) error {
	if err == nil {
		return nil
	}

	return types.WrapError(CodeOf(err), err)
}
