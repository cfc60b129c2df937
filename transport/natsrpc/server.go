package natsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/arloliu/mqread/internal/logging"
	"github.com/arloliu/mqread/types"
)

// ServeConfig configures Serve.
type ServeConfig struct {
	// Prefix is the subject prefix (DefaultPrefix when empty).
	Prefix string
	// Address is the broker name readers route to.
	Address string
	// Queue makes several processes share the address as a queue group.
	Queue string
	// Timeout bounds one broker call (5s when zero).
	Timeout time.Duration
	Logger  types.Logger
}

// Server answers broker requests received over NATS.
type Server struct {
	broker  types.Broker
	timeout time.Duration
	logger  types.Logger
	subs    []*nats.Subscription
	once    sync.Once
}

// Serve subscribes broker to the subjects of cfg.Address.
//
// Parameters:
//   - nc: NATS connection, owned by the caller
//   - broker: Broker answering the requests
//   - cfg: Subject prefix, address, optional queue group and timeout
//
// Returns:
//   - *Server: Running server; Close unsubscribes
//   - error: Invalid address or subscription failure
func Serve(nc *nats.Conn, broker types.Broker, cfg ServeConfig) (*Server, error) {
	if cfg.Address == "" {
		return nil, types.NewError(types.CodeInvalidParameters, "broker address is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = types.DefaultRPCTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	s := &Server{broker: broker, timeout: cfg.Timeout, logger: cfg.Logger}

	handlers := map[string]nats.MsgHandler{
		methodFetch:  s.handleFetch,
		methodLocate: s.handleLocate,
	}
	for method, h := range handlers {
		sub, err := nc.QueueSubscribe(subject(cfg.Prefix, cfg.Address, method), cfg.Queue, h)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.subs = append(s.subs, sub)
	}
	if err := nc.Flush(); err != nil {
		_ = s.Close()
		return nil, err
	}

	s.logger.Info("broker serving over nats", "address", cfg.Address, "prefix", cfg.Prefix)

	return s, nil
}

func (s *Server) handleFetch(msg *nats.Msg) {
	var req types.FetchRequest
	s.handle(msg, &req, func(ctx context.Context) (any, error) {
		return s.broker.Fetch(ctx, &req)
	})
}

func (s *Server) handleLocate(msg *nats.Msg) {
	var req types.MessageIDByTimeRequest
	s.handle(msg, &req, func(ctx context.Context) (any, error) {
		return s.broker.MessageIDByTime(ctx, &req)
	})
}

func (s *Server) handle(msg *nats.Msg, req any, call func(ctx context.Context) (any, error)) {
	var r reply
	if err := json.Unmarshal(msg.Data, req); err != nil {
		r = reply{Code: types.CodeInvalidParameters, Error: err.Error()}
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		resp, err := call(ctx)
		cancel()
		r = s.encode(resp, err)
	}

	data, err := json.Marshal(r)
	if err != nil {
		s.logger.Error("failed to encode reply", "subject", msg.Subject, "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send reply", "subject", msg.Subject, "error", err)
	}
}

func (s *Server) encode(resp any, err error) reply {
	if err != nil {
		code := types.CodeRPCFailed
		var typed *types.Error
		if errors.As(err, &typed) {
			code = typed.Code
		}

		return reply{Code: code, Error: err.Error()}
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return reply{Code: types.CodeInvalidResponse, Error: err.Error()}
	}

	return reply{Body: body}
}

// Close unsubscribes the server. Safe to call multiple times.
func (s *Server) Close() error {
	var errs []error
	s.once.Do(func() {
		for _, sub := range s.subs {
			if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				errs = append(errs, err)
			}
		}
	})

	return errors.Join(errs...)
}
