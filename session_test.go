package teaclave_client_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	tc "github.com/kwonalbert/teaclave_client"
	"github.com/kwonalbert/teaclave_client/wire"
)

// recorder is a channel that records requests and answers each with
// reply.
type recorder struct {
	mu       sync.Mutex
	requests [][]byte
	methods  []tc.Method
	creds    []tc.Credential
	reply    []byte
	closed   int
}

func (r *recorder) Call(ctx context.Context, method tc.Method, request []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, request)
	r.methods = append(r.methods, method)
	cred, _ := tc.CredentialFromContext(ctx)
	r.creds = append(r.creds, cred)
	return r.reply, nil
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func (r *recorder) dialer() tc.Dialer {
	return tc.DialerFunc(func(context.Context, tc.Service, tc.Endpoint) (tc.Channel, error) {
		return r, nil
	})
}

func TestNoCredential(t *testing.T) {
	r := &recorder{reply: []byte(`{}`)}
	fs, err := tc.OpenFrontend(context.Background(), r.dialer(), frontendEndpoint)
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Close()

	err = fs.InvokeTask(context.Background(), "task-0")
	if !errors.Is(err, tc.ErrUnauthenticated) || !errors.Is(err, tc.ErrInvokeTask) {
		t.Fatal("Expected an unauthenticated invoke error, got", err)
	}
	if !tc.IsUnauthenticated(err) {
		t.Fatal("IsUnauthenticated should hold:", err)
	}
	if _, err := fs.RegisterFunction(context.Background(), tc.FunctionDescriptor{Name: "f"}); !errors.Is(err, tc.ErrUnauthenticated) {
		t.Fatal("Expected an unauthenticated error, got", err)
	}
	if n := r.calls(); n != 0 {
		t.Fatal("Unauthenticated calls reached the channel:", n)
	}
}

func TestSetCredential(t *testing.T) {
	r := &recorder{reply: []byte(`{}`)}
	fs, err := tc.OpenFrontend(context.Background(), r.dialer(), frontendEndpoint)
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Close()

	if err := fs.SetCredential("", "token"); !errors.Is(err, tc.ErrSetCredential) {
		t.Fatal("Empty user id should be rejected:", err)
	}
	if fs.UserID() != "" {
		t.Fatal("Rejected credential was bound.")
	}

	if err := fs.SetCredential("alice", "token0"); err != nil {
		t.Fatal(err)
	}
	if err := fs.SetCredential("bob", "token1"); err != nil {
		t.Fatal(err)
	}
	if fs.UserID() != "bob" {
		t.Fatal("Credential was not replaced:", fs.UserID())
	}
	if r.calls() != 0 {
		t.Fatal("SetCredential should not touch the channel.")
	}

	if err := fs.ApproveTask(context.Background(), "task-0"); err != nil {
		t.Fatal(err)
	}
	if r.creds[0] != (tc.Credential{UserID: "bob", Token: "token1"}) {
		t.Fatal("Call did not carry the bound credential:", r.creds[0])
	}
	if r.methods[0] != tc.MethodApproveTask {
		t.Fatal("Unexpected method:", r.methods[0])
	}
	name, err := wire.RequestName(r.requests[0])
	if err != nil {
		t.Fatal(err)
	}
	if name != wire.ApproveTask {
		t.Fatal("Unexpected request name:", name)
	}
}

func TestRequestEncoding(t *testing.T) {
	r := &recorder{reply: []byte(`{"task_id": "task-0"}`)}
	fs, err := tc.OpenFrontend(context.Background(), r.dialer(), frontendEndpoint)
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Close()
	if err := fs.SetCredential("alice", "token"); err != nil {
		t.Fatal(err)
	}

	id, err := fs.CreateTask(context.Background(), tc.CreateTaskRequest{
		FunctionID: "function-0",
		Executor:   tc.ExecutorBuiltin,
		InputsOwnership: []tc.OwnershipMap{
			{DataName: "password"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != "task-0" {
		t.Fatal("Unexpected task id:", id)
	}

	expected := `{"request":"register_create_task","function_id":"function-0","function_arguments":"{}",` +
		`"executor":"builtin","inputs_ownership":[{"data_name":"password","uids":[]}],"outputs_ownership":[]}`
	if string(r.requests[0]) != expected {
		t.Fatalf("got %s, expected %s", r.requests[0], expected)
	}
}

func TestMalformedResponse(t *testing.T) {
	r := &recorder{reply: []byte(`not json`)}
	fs, err := tc.OpenFrontend(context.Background(), r.dialer(), frontendEndpoint)
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Close()
	if err := fs.SetCredential("alice", "token"); err != nil {
		t.Fatal(err)
	}

	_, err = fs.GetTask(context.Background(), "task-0")
	if !errors.Is(err, tc.ErrSerialization) || !errors.Is(err, tc.ErrGetTask) {
		t.Fatal("Expected a serialization error, got", err)
	}
}

func TestDuplicateSlots(t *testing.T) {
	r := &recorder{reply: []byte(`{}`)}
	fs, err := tc.OpenFrontend(context.Background(), r.dialer(), frontendEndpoint)
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Close()
	if err := fs.SetCredential("alice", "token"); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	_, err = fs.RegisterFunction(ctx, tc.FunctionDescriptor{
		Name:   "f",
		Inputs: []tc.Slot{{Name: "data"}, {Name: "data"}},
	})
	if !errors.Is(err, tc.ErrInvalidRequest) || !errors.Is(err, tc.ErrRegisterFunction) {
		t.Fatal("Duplicate input should be rejected:", err)
	}

	_, err = fs.CreateTask(ctx, tc.CreateTaskRequest{
		FunctionID: "function-0",
		OutputsOwnership: []tc.OwnershipMap{
			{DataName: "result", Owners: []string{"alice"}},
			{DataName: "result", Owners: []string{"bob"}},
		},
	})
	if !errors.Is(err, tc.ErrInvalidRequest) || !errors.Is(err, tc.ErrCreateTask) {
		t.Fatal("Duplicate ownership should be rejected:", err)
	}

	if err := fs.AssignData(ctx, tc.DataAssignment{}); !errors.Is(err, tc.ErrInvalidRequest) {
		t.Fatal("Empty task id should be rejected:", err)
	}
	if r.calls() != 0 {
		t.Fatal("Invalid requests reached the channel.")
	}
}

func TestConnectionError(t *testing.T) {
	dialErr := errors.New("attestation failed")
	dialer := tc.DialerFunc(func(context.Context, tc.Service, tc.Endpoint) (tc.Channel, error) {
		return nil, dialErr
	})

	_, err := tc.OpenAuthentication(context.Background(), dialer, authEndpoint)
	if !errors.Is(err, tc.ErrConnection) || !errors.Is(err, dialErr) {
		t.Fatal("Expected a connection error, got", err)
	}
	if _, err := tc.OpenFrontend(context.Background(), nil, frontendEndpoint); !errors.Is(err, tc.ErrConnection) {
		t.Fatal("Expected a connection error, got", err)
	}
}

func TestCloseOnce(t *testing.T) {
	r := &recorder{}
	as, err := tc.OpenAuthentication(context.Background(), r.dialer(), authEndpoint)
	if err != nil {
		t.Fatal(err)
	}
	as.Close()
	as.Close()
	if r.closed != 1 {
		t.Fatal("Channel should be closed exactly once:", r.closed)
	}
	if _, err := as.Login(context.Background(), "alice", "secret"); !errors.Is(err, tc.ErrSessionClosed) {
		t.Fatal("Expected a closed session error, got", err)
	}
}

func TestMissingResponseFields(t *testing.T) {
	r := &recorder{reply: []byte(`{}`)}
	ctx := context.Background()
	fs, err := tc.OpenFrontend(ctx, r.dialer(), frontendEndpoint)
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Close()
	if err := fs.SetCredential("alice", "token"); err != nil {
		t.Fatal(err)
	}
	file := tc.FileRegistration{URL: "data:;base64,", CMAC: "00"}

	checks := []struct {
		name string
		kind error
		call func() (string, error)
	}{
		{"function_id", tc.ErrRegisterFunction, func() (string, error) {
			return fs.RegisterFunction(ctx, tc.FunctionDescriptor{Name: "builtin-echo"})
		}},
		{"task_id", tc.ErrCreateTask, func() (string, error) {
			return fs.CreateTask(ctx, tc.CreateTaskRequest{FunctionID: "function-0"})
		}},
		{"input data_id", tc.ErrRegisterInputFile, func() (string, error) {
			return fs.RegisterInputFile(ctx, file)
		}},
		{"output data_id", tc.ErrRegisterOutputFile, func() (string, error) {
			return fs.RegisterOutputFile(ctx, file)
		}},
		{"status", tc.ErrGetTaskResult, func() (string, error) {
			return fs.GetTaskResult(ctx, "task-0")
		}},
	}
	for _, c := range checks {
		id, err := c.call()
		if !errors.Is(err, tc.ErrSerialization) || !errors.Is(err, c.kind) {
			t.Fatal("Missing", c.name, "should be a serialization error, got", err)
		}
		if id != "" {
			t.Fatal("Missing", c.name, "returned a value:", id)
		}
	}
	if _, err := fs.GetFunction(ctx, "function-0"); !errors.Is(err, tc.ErrSerialization) {
		t.Fatal("Missing function_id should be a serialization error, got", err)
	}

	as, err := tc.OpenAuthentication(ctx, r.dialer(), authEndpoint)
	if err != nil {
		t.Fatal(err)
	}
	defer as.Close()
	token, err := as.Login(ctx, "alice", "secret")
	if !errors.Is(err, tc.ErrSerialization) || !errors.Is(err, tc.ErrUserLogin) || token != "" {
		t.Fatal("Missing token should be a serialization error, got", token, err)
	}
}

func TestTrailingResponseData(t *testing.T) {
	r := &recorder{reply: []byte(`{"task_id":"task-0"}}`)}
	fs, err := tc.OpenFrontend(context.Background(), r.dialer(), frontendEndpoint)
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Close()
	if err := fs.SetCredential("alice", "token"); err != nil {
		t.Fatal(err)
	}

	id, err := fs.CreateTask(context.Background(), tc.CreateTaskRequest{FunctionID: "function-0"})
	if !errors.Is(err, tc.ErrSerialization) || id != "" {
		t.Fatal("Trailing data should be rejected, got", id, err)
	}
}

func TestConcurrentCloseLogsOnce(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := &recorder{}
	fs, err := tc.OpenFrontend(context.Background(), r.dialer(), frontendEndpoint, tc.WithLogger(zap.New(core)))
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fs.Close()
		}()
	}
	wg.Wait()

	if n := logs.FilterMessage("Closed").Len(); n != 1 {
		t.Fatal("Close should be logged once, got", n)
	}
	if r.closed != 1 {
		t.Fatal("Channel should be closed exactly once:", r.closed)
	}
}
