// Package teaclavetest provides an in-memory Teaclave service for
// testing code built on the client SDK. It speaks the same JSON
// envelope as the real authentication and frontend services, enforces
// the task lifecycle, and runs builtin functions written in Go.
//
// Use Service.Dialer for in-process sessions, or Service.RegisterGRPC
// to serve it to a GRPCDialer.
package teaclavetest

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	tc "github.com/kwonalbert/teaclave_client"
	"github.com/kwonalbert/teaclave_client/wire"
)

// Option configures a Service.
type Option func(*Service)

// WithDeferredExecution leaves invoked tasks running until Run is
// called, instead of executing them inside the invoke call.
func WithDeferredExecution() Option {
	return func(s *Service) {
		s.deferred = true
	}
}

// WithBuiltin registers (or replaces) the builtin function with the
// given name.
func WithBuiltin(name string, fn BuiltinFunc) Option {
	return func(s *Service) {
		s.builtins[name] = fn
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

type user struct {
	id       string
	password string
}

type function struct {
	id    string
	owner string
	def   wire.RegisterFunctionRequest
}

type file struct {
	id     string
	owner  string
	input  bool
	url    string
	cmac   string
	crypto wire.CryptoInfo
}

type task struct {
	id         string
	creator    string
	functionID string
	executor   string
	args       string

	inputsOwnership  []wire.OwnerList
	outputsOwnership []wire.OwnerList
	inputOwners      map[string][]string
	outputOwners     map[string][]string

	participants    map[string]bool
	approved        map[string]bool
	assignedInputs  map[string]string
	assignedOutputs map[string]string

	// empty until the task is invoked or canceled
	phase  tc.TaskStatus
	result string
	reason string
}

// Service is the in-memory service. The zero value is not usable; use
// NewService.
type Service struct {
	mu sync.Mutex

	users     map[string]*user
	tokens    map[string]string // token -> user id
	functions map[string]*function
	files     map[string]*file
	tasks     map[string]*task
	builtins  map[string]BuiltinFunc

	deferred bool
	logger   *zap.Logger

	opened int
	closed int
}

func NewService(opts ...Option) *Service {
	s := &Service{
		users:     make(map[string]*user),
		tokens:    make(map[string]string),
		functions: make(map[string]*function),
		files:     make(map[string]*file),
		tasks:     make(map[string]*task),
		builtins:  DefaultBuiltins(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenChannels returns the number of in-process channels dialed and
// not yet closed.
func (s *Service) OpenChannels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened - s.closed
}

// Status returns the current status of a task, for assertions.
func (s *Service) Status(taskID string) (tc.TaskStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return "", false
	}
	return t.status(), true
}

// Run executes a task left running by WithDeferredExecution.
func (s *Service) Run(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return status.Error(codes.NotFound, "task not found")
	}
	if t.phase != tc.TaskRunning {
		return status.Errorf(codes.FailedPrecondition, "task is %s", t.status())
	}
	s.execute(t)
	return nil
}

func (s *Service) handle(ctx context.Context, service tc.Service, method tc.Method, cred *tc.Credential, body []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		resp interface{}
		err  error
	)
	switch service {
	case tc.AuthenticationService:
		resp, err = s.handleAuthentication(method, cred, body)
	case tc.FrontendService:
		resp, err = s.handleFrontend(method, cred, body)
	default:
		err = status.Errorf(codes.Unimplemented, "unknown service %s", service)
	}
	if err != nil {
		s.logger.Debug("Rejected call", zap.String("method", string(method)), zap.Error(err))
		return nil, err
	}
	out, err := wire.Marshal(resp)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// decode unmarshals body into req and checks its discriminator.
func decode(body []byte, name string, req interface{}) error {
	got, err := wire.RequestName(body)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if got != name {
		return status.Errorf(codes.InvalidArgument, "expected %s request, got %s", name, got)
	}
	if err := wire.Unmarshal(body, req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

// authenticate returns the user id of a valid credential.
func (s *Service) authenticate(cred *tc.Credential) (string, error) {
	if cred == nil {
		return "", status.Error(codes.Unauthenticated, "missing credential")
	}
	if id, ok := s.tokens[cred.Token]; !ok || id != cred.UserID {
		return "", status.Error(codes.Unauthenticated, "invalid credential")
	}
	return cred.UserID, nil
}

func (t *task) status() tc.TaskStatus {
	if t.phase != "" {
		return t.phase
	}
	if !t.allAssigned() {
		if len(t.assignedInputs)+len(t.assignedOutputs) > 0 {
			return tc.TaskDataAssigning
		}
		return tc.TaskCreated
	}
	if t.everyoneApproved() {
		return tc.TaskApproved
	}
	return tc.TaskAwaitingApproval
}

func (t *task) allAssigned() bool {
	return len(t.assignedInputs) == len(t.inputOwners) && len(t.assignedOutputs) == len(t.outputOwners)
}

// A single participant task is approved by its creator.
func (t *task) everyoneApproved() bool {
	if len(t.participants) == 1 {
		return true
	}
	for id := range t.participants {
		if !t.approved[id] {
			return false
		}
	}
	return true
}

// owners returns who may assign data to a slot. A slot without owners
// belongs to the creator.
func (t *task) owners(slots map[string][]string, name string) ([]string, bool) {
	owners, ok := slots[name]
	if !ok {
		return nil, false
	}
	if len(owners) == 0 {
		return []string{t.creator}, true
	}
	return owners, true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
