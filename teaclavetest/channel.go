package teaclavetest

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	tc "github.com/kwonalbert/teaclave_client"
)

// Dialer returns a dialer whose channels call the service in process.
// The credential is taken from the call context, as a gRPC channel
// would send it as metadata.
func (s *Service) Dialer() tc.Dialer {
	return tc.DialerFunc(func(ctx context.Context, service tc.Service, endpoint tc.Endpoint) (tc.Channel, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.opened++
		s.mu.Unlock()
		return &localChannel{service: s, name: service}, nil
	})
}

type localChannel struct {
	mu      sync.Mutex
	closed  bool
	service *Service
	name    tc.Service
}

func (c *localChannel) Call(ctx context.Context, method tc.Method, request []byte) ([]byte, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, status.Error(codes.Unavailable, "channel is closed")
	}
	if err := ctx.Err(); err != nil {
		if err == context.DeadlineExceeded {
			return nil, status.Error(codes.DeadlineExceeded, err.Error())
		}
		return nil, status.Error(codes.Canceled, err.Error())
	}

	var cred *tc.Credential
	if got, ok := tc.CredentialFromContext(ctx); ok {
		cred = &got
	}
	return c.service.handle(ctx, c.name, method, cred, request)
}

func (c *localChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("channel already closed")
	}
	c.closed = true

	c.service.mu.Lock()
	c.service.closed++
	c.service.mu.Unlock()
	return nil
}
