package transport

import (
	"context"
	"errors"
	"net"
	"os"

	"github.com/arloliu/mqread/types"
)

// Classify maps an error returned by a broker channel to an error code.
//
// Channels may return *types.Error to report a precise code themselves; any other
// deadline error is a timeout and everything else a transport failure.
func Classify(err error) types.ErrorCode {
	if err == nil {
		return types.CodeNone
	}

	var typed *types.Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return types.CodeRPCTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.CodeRPCTimeout
	}

	return types.CodeRPCFailed
}

// invalidatesRoute reports whether a code means the cached broker route is stale.
func invalidatesRoute(code types.ErrorCode) bool {
	return code == types.CodeBrokerStopped || code == types.CodePartitionNotFound
}

// discardsChannel reports whether the channel used for a request should be dropped.
func discardsChannel(code types.ErrorCode) bool {
	return code == types.CodeRPCFailed || invalidatesRoute(code)
}
