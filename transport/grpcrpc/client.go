package grpcrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/arloliu/mqread/types"
)

// Client is a broker channel over one gRPC connection.
type Client struct {
	cc grpc.ClientConnInterface
}

var _ types.Broker = (*Client)(nil)

// NewClient wraps cc as a broker channel.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Fetch reads messages of one partition.
func (c *Client) Fetch(ctx context.Context, req *types.FetchRequest) (*types.FetchResponse, error) {
	out := new(types.FetchResponse)
	if err := c.invoke(ctx, FetchFullMethodName, req, out); err != nil {
		return nil, err
	}

	return out, nil
}

// MessageIDByTime resolves the first message at or after req.Timestamp.
func (c *Client) MessageIDByTime(ctx context.Context, req *types.MessageIDByTimeRequest) (*types.MessageIDByTimeResponse, error) {
	out := new(types.MessageIDByTimeResponse)
	if err := c.invoke(ctx, MessageIDByTimeFullMethodName, req, out); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	var trailer metadata.MD
	err := c.cc.Invoke(ctx, method, in, out,
		grpc.CallContentSubtype(CodecName),
		grpc.Trailer(&trailer),
	)
	if err != nil {
		return fromStatus(err, trailer)
	}

	return nil
}
