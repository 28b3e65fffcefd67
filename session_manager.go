package teaclave_client

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// SessionManager keeps one logged-in FrontendSession per user, which is
// what multi-party tasks need: every data owner registers, assigns and
// approves through their own session. It shares a single
// AuthenticationSession for registration and login.
//
// The manager does not order calls across users; the caller still
// decides who assigns and approves when.
type SessionManager interface {
	// Register creates a user on the authentication service.
	Register(ctx context.Context, userID, password string) error

	// Login authenticates the user and opens a frontend session
	// bound to the returned token. A session the user already had is
	// closed and replaced.
	Login(ctx context.Context, userID, password string) (*FrontendSession, error)

	GetSession(userID string) (*FrontendSession, bool)

	// Logout closes and forgets the session of the user.
	Logout(userID string) error

	// Close closes every session, including the authentication one.
	Close() error
}

type sessionManager struct {
	mu     sync.Mutex
	closed bool
	auth   *AuthenticationSession

	dialer           Dialer
	authEndpoint     Endpoint
	frontendEndpoint Endpoint
	opts             []Option
	logger           *zap.Logger

	sessions Cache
}

func NewSessionManager(config *Configuration, dialer Dialer, opts ...Option) SessionManager {
	o := sessionOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	sm := &sessionManager{
		dialer:           dialer,
		authEndpoint:     config.AuthenticationEndpoint(),
		frontendEndpoint: config.FrontendEndpoint(),
		opts:             opts,
		logger:           o.logger,
	}
	sm.sessions = NewCache(config.MaxSessions, sm.evict)
	return sm
}

func (sm *sessionManager) evict(userID string, fs *FrontendSession) {
	sm.logger.Info("Closing session", zap.String("user", userID))
	if err := fs.Close(); err != nil {
		sm.logger.Warn("Could not close session", zap.String("user", userID), zap.Error(err))
	}
}

// authentication returns the shared authentication session, connecting
// if there is none. Must be called with sm.mu held.
func (sm *sessionManager) authentication(ctx context.Context) (*AuthenticationSession, error) {
	if sm.closed {
		return nil, wrapError(KindConnection, ErrSessionClosed)
	}
	if sm.auth != nil {
		return sm.auth, nil
	}
	auth, err := OpenAuthentication(ctx, sm.dialer, sm.authEndpoint, sm.opts...)
	if err != nil {
		return nil, err
	}
	sm.auth = auth
	return auth, nil
}

// dropAuthentication forgets the authentication session after a
// transport failure so the next call reconnects. Must be called with
// sm.mu held.
func (sm *sessionManager) dropAuthentication(err error) {
	if sm.auth == nil || !IsTransport(err) {
		return
	}
	sm.logger.Info("Dropping authentication session", zap.Error(err))
	sm.auth.Close()
	sm.auth = nil
}

func (sm *sessionManager) Register(ctx context.Context, userID, password string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	auth, err := sm.authentication(ctx)
	if err != nil {
		return err
	}
	if err := auth.Register(ctx, userID, password); err != nil {
		sm.dropAuthentication(err)
		return err
	}
	return nil
}

func (sm *sessionManager) Login(ctx context.Context, userID, password string) (*FrontendSession, error) {
	sm.mu.Lock()
	auth, err := sm.authentication(ctx)
	if err != nil {
		sm.mu.Unlock()
		return nil, err
	}
	token, err := auth.Login(ctx, userID, password)
	if err != nil {
		sm.dropAuthentication(err)
		sm.mu.Unlock()
		return nil, err
	}
	sm.mu.Unlock()

	fs, err := OpenFrontend(ctx, sm.dialer, sm.frontendEndpoint, sm.opts...)
	if err != nil {
		return nil, err
	}
	if err := fs.SetCredential(userID, token); err != nil {
		fs.Close()
		return nil, err
	}
	sm.logger.Info("Creating new session", zap.String("user", userID))

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		fs.Close()
		return nil, wrapError(KindConnection, ErrSessionClosed)
	}
	sm.sessions.Set(userID, fs)
	return fs, nil
}

func (sm *sessionManager) GetSession(userID string) (*FrontendSession, bool) {
	return sm.sessions.Get(userID)
}

func (sm *sessionManager) Logout(userID string) error {
	fs, ok := sm.sessions.Delete(userID)
	if !ok {
		return nil
	}
	sm.logger.Info("Closing session", zap.String("user", userID))
	return fs.Close()
}

func (sm *sessionManager) Close() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		return nil
	}
	sm.closed = true

	var firstErr error
	if sm.auth != nil {
		firstErr = sm.auth.Close()
		sm.auth = nil
	}
	for _, fs := range sm.sessions.Drain() {
		if err := fs.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
