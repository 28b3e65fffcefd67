package teaclave_client

import "context"

// Service names the remote service a channel is connected to.
type Service string

const (
	AuthenticationService Service = "authentication"
	FrontendService       Service = "frontend"
)

// Method selects the remote procedure of a call.
type Method string

const (
	MethodUserRegister       Method = "UserRegister"
	MethodUserLogin          Method = "UserLogin"
	MethodUserChangePassword Method = "UserChangePassword"
	MethodRegisterFunction   Method = "RegisterFunction"
	MethodGetFunction        Method = "GetFunction"
	MethodCreateTask         Method = "CreateTask"
	MethodRegisterInputFile  Method = "RegisterInputFile"
	MethodRegisterOutputFile Method = "RegisterOutputFile"
	MethodAssignData         Method = "AssignData"
	MethodApproveTask        Method = "ApproveTask"
	MethodInvokeTask         Method = "InvokeTask"
	MethodCancelTask         Method = "CancelTask"
	MethodGetTask            Method = "GetTask"
)

// Endpoint is where a service lives and how to trust it. EnclaveInfo
// and RootCACert are paths handed to the dialer untouched.
type Endpoint struct {
	Address     string
	EnclaveInfo string
	RootCACert  string
}

// Channel is an attested connection to one service. Call sends an
// encoded request and returns the encoded response; any non-success
// status is returned as the error, and sessions pass it on unchanged.
type Channel interface {
	Call(ctx context.Context, method Method, request []byte) ([]byte, error)

	Close() error
}

// Dialer opens channels. Dial must only return once the remote enclave
// has been attested.
type Dialer interface {
	Dial(ctx context.Context, service Service, endpoint Endpoint) (Channel, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, service Service, endpoint Endpoint) (Channel, error)

func (f DialerFunc) Dial(ctx context.Context, service Service, endpoint Endpoint) (Channel, error) {
	return f(ctx, service, endpoint)
}

type credentialKey struct{}

// ContextWithCredential attaches the credential a channel should
// present with the call.
func ContextWithCredential(ctx context.Context, cred Credential) context.Context {
	return context.WithValue(ctx, credentialKey{}, cred)
}

// CredentialFromContext returns the credential attached by the
// session, if any.
func CredentialFromContext(ctx context.Context) (Credential, bool) {
	cred, ok := ctx.Value(credentialKey{}).(Credential)
	return cred, ok
}
