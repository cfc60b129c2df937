// Package natsrpc carries broker requests over NATS request/reply.
//
// A broker process exposes a types.Broker with Serve; readers reach it through
// a Pool. Requests and replies are JSON encoded. Each broker is addressed by a
// name that becomes one subject token:
//
//	<prefix>.<address>.fetch
//	<prefix>.<address>.locate
package natsrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/arloliu/mqread/internal/natsutil"
	"github.com/arloliu/mqread/types"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "mqread.broker"

const (
	methodFetch  = "fetch"
	methodLocate = "locate"
)

// reply wraps a response. Code and Error are set when the broker failed to
// produce one.
type reply struct {
	Code  types.ErrorCode `json:"code,omitempty"`
	Error string          `json:"error,omitempty"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// subject builds the request subject of a broker method. Dots in the address
// are replaced so it stays one token.
func subject(prefix, address, method string) string {
	return prefix + "." + strings.ReplaceAll(address, ".", "_") + "." + method
}

// Client is one broker channel over a NATS connection.
type Client struct {
	nc      *nats.Conn
	prefix  string
	address string
}

var _ types.Broker = (*Client)(nil)

// NewClient creates a channel to the broker serving address.
func NewClient(nc *nats.Conn, prefix, address string) *Client {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Client{nc: nc, prefix: prefix, address: address}
}

// Fetch sends a fetch request.
func (c *Client) Fetch(ctx context.Context, req *types.FetchRequest) (*types.FetchResponse, error) {
	var resp types.FetchResponse
	if err := c.call(ctx, methodFetch, req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// MessageIDByTime sends a locate request.
func (c *Client) MessageIDByTime(ctx context.Context, req *types.MessageIDByTimeRequest) (*types.MessageIDByTimeResponse, error) {
	var resp types.MessageIDByTimeResponse
	if err := c.call(ctx, methodLocate, req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return types.WrapError(types.CodeInvalidParameters, err)
	}

	msg, err := c.nc.RequestWithContext(ctx, subject(c.prefix, c.address, method), data)
	if err != nil {
		return natsutil.Wrap(fmt.Errorf("%s %s: %w", method, c.address, err))
	}

	var r reply
	if err := json.Unmarshal(msg.Data, &r); err != nil {
		return types.WrapError(types.CodeInvalidResponse, err)
	}
	if r.Error != "" {
		code := r.Code
		if code == types.CodeNone {
			code = types.CodeRPCFailed
		}

		return types.NewError(code, "%s %s: %s", method, c.address, r.Error)
	}
	if err := json.Unmarshal(r.Body, resp); err != nil {
		return types.WrapError(types.CodeInvalidResponse, err)
	}

	return nil
}
