package teaclave_client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kwonalbert/teaclave_client/wire"
)

// Option configures a session.
type Option func(*sessionOptions)

type sessionOptions struct {
	logger *zap.Logger
}

// WithLogger sets the logger of the session. Sessions log nothing by
// default.
func WithLogger(logger *zap.Logger) Option {
	return func(o *sessionOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// session is the state shared by both kinds of sessions: the owned
// channel handle and the credential. Calls are serialized, the
// protocol has no pipelining.
type session struct {
	mu sync.Mutex

	service    Service
	endpoint   Endpoint
	handle     *handle
	credential *Credential

	logger *zap.Logger
}

func openSession(ctx context.Context, dialer Dialer, service Service, endpoint Endpoint, opts []Option) (*session, error) {
	o := sessionOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With(zap.String("service", string(service)), zap.String("address", endpoint.Address))

	if dialer == nil {
		return nil, wrapError(KindConnection, errors.New("no dialer"))
	}
	channel, err := dialer.Dial(ctx, service, endpoint)
	if err != nil {
		logger.Info("Could not connect", zap.Error(err))
		return nil, wrapError(KindConnection, err)
	}
	if channel == nil {
		return nil, wrapError(KindConnection, errors.New("dialer returned no channel"))
	}
	logger.Info("Connected")

	return &session{
		service:  service,
		endpoint: endpoint,
		handle:   newHandle(channel),
		logger:   logger,
	}, nil
}

func (s *session) setCredential(userID, token string) error {
	if userID == "" || token == "" {
		return wrapError(KindSetCredential, fmt.Errorf("%w: empty user id or token", ErrInvalidRequest))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle.isClosed() {
		return wrapError(KindSetCredential, ErrSessionClosed)
	}
	s.credential = &Credential{UserID: userID, Token: token}
	s.logger.Debug("Credential bound", zap.String("user", userID))
	return nil
}

// userID returns the user of the bound credential, or "".
func (s *session) userID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credential == nil {
		return ""
	}
	return s.credential.UserID
}

// call runs one round trip. With authenticated set, the call fails
// before touching the channel when no credential is bound. A nil resp
// discards the response body.
func (s *session) call(ctx context.Context, kind Kind, method Method, authenticated bool, req, resp interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	channel, err := s.handle.acquire()
	if err != nil {
		return wrapError(kind, err)
	}
	if authenticated {
		if s.credential == nil {
			return wrapError(kind, ErrUnauthenticated)
		}
		ctx = ContextWithCredential(ctx, *s.credential)
	}

	data, err := wire.Marshal(req)
	if err != nil {
		return wrapError(kind, fmt.Errorf("%w: %w", ErrSerialization, err))
	}

	start := time.Now()
	out, err := channel.Call(ctx, method, data)
	if err != nil {
		s.logger.Debug("Call failed", zap.String("method", string(method)),
			zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return wrapError(kind, err)
	}
	s.logger.Debug("Call", zap.String("method", string(method)), zap.Duration("elapsed", time.Since(start)))

	if resp == nil {
		return nil
	}
	if err := wire.Unmarshal(out, resp); err != nil {
		return wrapError(kind, fmt.Errorf("%w: %w", ErrSerialization, err))
	}
	return nil
}

// missingField reports a response that decoded but lacks a field the
// operation cannot do without.
func missingField(kind Kind, field string) error {
	return wrapError(kind, fmt.Errorf("%w: missing %s", ErrSerialization, field))
}

func (s *session) close() error {
	released, err := s.handle.release()
	if released {
		s.logger.Info("Closed")
	}
	return err
}
