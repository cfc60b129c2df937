package grpcrpc

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/arloliu/mqread/types"
)

const (
	serviceName = "mqread.v1.Broker"

	FetchFullMethodName           = "/mqread.v1.Broker/Fetch"
	MessageIDByTimeFullMethodName = "/mqread.v1.Broker/MessageIDByTime"

	// codeTrailer carries the types.ErrorCode of a failed call.
	codeTrailer = "mqread-code"
)

// ServiceDesc describes the broker service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*types.Broker)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Fetch", Handler: fetchHandler},
		{MethodName: "MessageIDByTime", Handler: messageIDByTimeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mqread/broker",
}

// RegisterBroker serves b on s.
//
// Example:
//
//	srv := grpc.NewServer()
//	grpcrpc.RegisterBroker(srv, broker)
//	go srv.Serve(lis)
func RegisterBroker(s grpc.ServiceRegistrar, b types.Broker) {
	s.RegisterService(&ServiceDesc, b)
}

func fetchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(types.FetchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		resp, err := srv.(types.Broker).Fetch(ctx, req.(*types.FetchRequest))
		return resp, toStatus(ctx, err)
	}
	if interceptor == nil {
		return call(ctx, in)
	}

	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: FetchFullMethodName}, call)
}

func messageIDByTimeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(types.MessageIDByTimeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		resp, err := srv.(types.Broker).MessageIDByTime(ctx, req.(*types.MessageIDByTimeRequest))
		return resp, toStatus(ctx, err)
	}
	if interceptor == nil {
		return call(ctx, in)
	}

	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: MessageIDByTimeFullMethodName}, call)
}

// toStatus converts a broker error to a status error. A *types.Error keeps its
// code in the call trailer.
func toStatus(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	msg := err.Error()
	var typed *types.Error
	if errors.As(err, &typed) {
		_ = grpc.SetTrailer(ctx, metadata.Pairs(codeTrailer, strconv.Itoa(int(typed.Code))))
		msg = strings.TrimPrefix(msg, typed.Code.String()+": ")
	}

	return status.Error(grpcCode(types.CodeOf(err), err), msg)
}

func grpcCode(code types.ErrorCode, err error) codes.Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded), code == types.CodeRPCTimeout:
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}

	switch code {
	case types.CodeTopicNotExisted, types.CodePartitionNotFound:
		return codes.NotFound
	case types.CodePermissionDenied:
		return codes.PermissionDenied
	case types.CodeInvalidParameters, types.CodeInvalidPartitionID:
		return codes.InvalidArgument
	case types.CodeBrokerBusy:
		return codes.ResourceExhausted
	case types.CodeBrokerStopped:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// fromStatus maps a call error back to a reader error.
func fromStatus(err error, trailer metadata.MD) error {
	if vals := trailer.Get(codeTrailer); len(vals) > 0 {
		if n, convErr := strconv.Atoi(vals[0]); convErr == nil {
			return types.NewError(types.ErrorCode(n), "%s", status.Convert(err).Message())
		}
	}

	st, ok := status.FromError(err)
	if !ok {
		return types.WrapError(types.CodeRPCFailed, err)
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return types.WrapError(types.CodeRPCTimeout, err)
	case codes.NotFound:
		return types.WrapError(types.CodePartitionNotFound, err)
	case codes.PermissionDenied, codes.Unauthenticated:
		return types.WrapError(types.CodePermissionDenied, err)
	case codes.ResourceExhausted:
		return types.WrapError(types.CodeBrokerBusy, err)
	default:
		return types.WrapError(types.CodeRPCFailed, err)
	}
}
