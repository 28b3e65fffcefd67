package teaclave_client

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind identifies the operation family a failed call belongs to.
type Kind int

const (
	KindConnection Kind = iota + 1
	KindUserRegister
	KindUserLogin
	KindChangePassword
	KindSetCredential
	KindRegisterFunction
	KindGetFunction
	KindCreateTask
	KindRegisterInputFile
	KindRegisterOutputFile
	KindAssignData
	KindApproveTask
	KindInvokeTask
	KindCancelTask
	KindGetTask
	KindGetTaskResult
)

var kindNames = map[Kind]string{
	KindConnection:         "connection error",
	KindUserRegister:       "user register error",
	KindUserLogin:          "user login error",
	KindChangePassword:     "change password error",
	KindSetCredential:      "set credential error",
	KindRegisterFunction:   "register function error",
	KindGetFunction:        "get function error",
	KindCreateTask:         "create task error",
	KindRegisterInputFile:  "register input file error",
	KindRegisterOutputFile: "register output file error",
	KindAssignData:         "assign data error",
	KindApproveTask:        "approve task error",
	KindInvokeTask:         "invoke task error",
	KindCancelTask:         "cancel task error",
	KindGetTask:            "get task error",
	KindGetTaskResult:      "get task result error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown error kind %d", int(k))
}

// Error is returned by every session operation. It wraps exactly one
// cause: the error reported by the channel (passed through as is), or
// one of the local conditions below.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "teaclave: " + e.Kind.String()
	}
	return "teaclave: " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind that carries no cause,
// so errors.Is(err, ErrCreateTask) works for any create task failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrConnection         = &Error{Kind: KindConnection}
	ErrUserRegister       = &Error{Kind: KindUserRegister}
	ErrUserLogin          = &Error{Kind: KindUserLogin}
	ErrChangePassword     = &Error{Kind: KindChangePassword}
	ErrSetCredential      = &Error{Kind: KindSetCredential}
	ErrRegisterFunction   = &Error{Kind: KindRegisterFunction}
	ErrGetFunction        = &Error{Kind: KindGetFunction}
	ErrCreateTask         = &Error{Kind: KindCreateTask}
	ErrRegisterInputFile  = &Error{Kind: KindRegisterInputFile}
	ErrRegisterOutputFile = &Error{Kind: KindRegisterOutputFile}
	ErrAssignData         = &Error{Kind: KindAssignData}
	ErrApproveTask        = &Error{Kind: KindApproveTask}
	ErrInvokeTask         = &Error{Kind: KindInvokeTask}
	ErrCancelTask         = &Error{Kind: KindCancelTask}
	ErrGetTask            = &Error{Kind: KindGetTask}
	ErrGetTaskResult      = &Error{Kind: KindGetTaskResult}
)

// Local causes.
var (
	ErrUnauthenticated = errors.New("no credential bound to the session")
	ErrSessionClosed   = errors.New("session is closed")
	ErrSerialization   = errors.New("serialization failed")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrTaskNotReady    = errors.New("task result is not ready")
)

// TaskFailedError is the cause of a GetTaskResult failure when the
// server reports the task as failed or canceled.
type TaskFailedError struct {
	Status TaskStatus
	Reason string
}

func (e *TaskFailedError) Error() string {
	if e.Reason == "" {
		return "task " + string(e.Status)
	}
	return "task " + string(e.Status) + ": " + e.Reason
}

func wrapError(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// StatusCode digs the gRPC status code out of err. Errors that do not
// come from a status-aware channel report codes.Unknown, and a nil
// error reports codes.OK.
func StatusCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var se interface{ GRPCStatus() *status.Status }
	if errors.As(err, &se) {
		return se.GRPCStatus().Code()
	}
	return codes.Unknown
}

// IsUnauthenticated reports whether the call failed because the
// session has no credential or the server rejected it.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated) || StatusCode(err) == codes.Unauthenticated
}

// IsStateViolation reports whether the server rejected the call
// because the task is not in a state that allows it.
func IsStateViolation(err error) bool {
	return StatusCode(err) == codes.FailedPrecondition
}

// IsPermissionDenied reports whether the server rejected the call
// because the caller does not own the data or task involved.
func IsPermissionDenied(err error) bool {
	return StatusCode(err) == codes.PermissionDenied
}

// IsTransport reports whether the failure happened in the channel
// rather than in the service.
func IsTransport(err error) bool {
	switch StatusCode(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.ResourceExhausted:
		return true
	}
	return false
}
