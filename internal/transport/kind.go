package transport

import (
	"context"

	"github.com/arloliu/mqread/internal/codec"
	"github.com/arloliu/mqread/types"
)

// Kind is the strategy an Adapter uses for one request kind.
type Kind[Req, Resp any] interface {
	// Kind names the request kind for metrics and logs.
	Kind() types.RequestKind

	// Call sends req over a broker channel.
	Call(ctx context.Context, b types.Broker, req Req) (Resp, error)

	// Validate checks and expands a response on the completing goroutine, before the
	// closure is marked done.
	Validate(resp Resp) error

	// Code returns the broker-reported code of a response.
	Code(resp Resp) types.ErrorCode

	// HasData reports whether the response carried payload.
	HasData(resp Resp) bool
}

// FetchKind fetches messages.
type FetchKind struct{}

var _ Kind[*types.FetchRequest, *types.FetchResponse] = FetchKind{}

func (FetchKind) Kind() types.RequestKind { return types.KindFetch }

func (FetchKind) Call(ctx context.Context, b types.Broker, req *types.FetchRequest) (*types.FetchResponse, error) {
	return b.Fetch(ctx, req)
}

func (FetchKind) Validate(resp *types.FetchResponse) error {
	if resp == nil {
		return types.NewError(types.CodeInvalidResponse, "nil fetch response")
	}

	return codec.UnpackResponse(resp)
}

func (FetchKind) Code(resp *types.FetchResponse) types.ErrorCode {
	return resp.Code
}

func (FetchKind) HasData(resp *types.FetchResponse) bool {
	return len(resp.Messages) > 0
}

// MessageIDByTimeKind resolves timestamps to message ids.
type MessageIDByTimeKind struct{}

var _ Kind[*types.MessageIDByTimeRequest, *types.MessageIDByTimeResponse] = MessageIDByTimeKind{}

func (MessageIDByTimeKind) Kind() types.RequestKind { return types.KindMessageIDByTime }

func (MessageIDByTimeKind) Call(ctx context.Context, b types.Broker, req *types.MessageIDByTimeRequest) (*types.MessageIDByTimeResponse, error) {
	return b.MessageIDByTime(ctx, req)
}

func (MessageIDByTimeKind) Validate(resp *types.MessageIDByTimeResponse) error {
	if resp == nil {
		return types.NewError(types.CodeInvalidResponse, "nil message id response")
	}
	if resp.Code == types.CodeNone && resp.MessageID < 0 {
		return types.NewError(types.CodeInvalidResponse, "negative message id %d", resp.MessageID)
	}

	return nil
}

func (MessageIDByTimeKind) Code(resp *types.MessageIDByTimeResponse) types.ErrorCode {
	return resp.Code
}

func (MessageIDByTimeKind) HasData(resp *types.MessageIDByTimeResponse) bool {
	return resp.Code == types.CodeNone
}
