package teaclave_client

import (
	"context"

	"github.com/kwonalbert/teaclave_client/wire"
)

// AuthenticationSession is a session with the authentication service.
type AuthenticationSession struct {
	*session
}

// OpenAuthentication connects to the authentication service at
// endpoint. It fails with a ConnectionError if the channel could not
// be established or attested.
func OpenAuthentication(ctx context.Context, dialer Dialer, endpoint Endpoint, opts ...Option) (*AuthenticationSession, error) {
	s, err := openSession(ctx, dialer, AuthenticationService, endpoint, opts)
	if err != nil {
		return nil, err
	}
	return &AuthenticationSession{s}, nil
}

// Register creates a new user. Registering an existing id fails.
func (as *AuthenticationSession) Register(ctx context.Context, userID, password string) error {
	req := &wire.UserRegisterRequest{
		Request:  wire.UserRegister,
		ID:       userID,
		Password: password,
	}
	return as.call(ctx, KindUserRegister, MethodUserRegister, false, req, nil)
}

// Login returns an authentication token for the user. The token expires
// at the server's discretion.
func (as *AuthenticationSession) Login(ctx context.Context, userID, password string) (string, error) {
	req := &wire.UserLoginRequest{
		Request:  wire.UserLogin,
		ID:       userID,
		Password: password,
	}
	resp := &wire.UserLoginResponse{}
	if err := as.call(ctx, KindUserLogin, MethodUserLogin, false, req, resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", missingField(KindUserLogin, "token")
	}
	as.logger.Debug("Logged in")
	return resp.Token, nil
}

// SetCredential binds the credential used by ChangePassword.
func (as *AuthenticationSession) SetCredential(userID, token string) error {
	return as.setCredential(userID, token)
}

// ChangePassword changes the password of the user bound to the session.
func (as *AuthenticationSession) ChangePassword(ctx context.Context, password string) error {
	req := &wire.UserChangePasswordRequest{
		Request:  wire.UserChangePassword,
		Password: password,
	}
	return as.call(ctx, KindChangePassword, MethodUserChangePassword, true, req, nil)
}

// Close releases the channel. Closing twice is harmless; any call after
// Close fails with ErrSessionClosed.
func (as *AuthenticationSession) Close() error {
	return as.close()
}
