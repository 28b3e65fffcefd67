package teaclave_client_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"

	tc "github.com/kwonalbert/teaclave_client"
	"github.com/kwonalbert/teaclave_client/teaclavetest"
)

var (
	authEndpoint     = tc.Endpoint{Address: "localhost:7776"}
	frontendEndpoint = tc.Endpoint{Address: "localhost:7777"}

	zeroKey = make([]byte, 16)
	zeroIV  = make([]byte, 12)
)

// user registers and logs in, and returns a frontend session bound to
// the user.
func user(t *testing.T, dialer tc.Dialer, userID, password string) *tc.FrontendSession {
	t.Helper()
	ctx := context.Background()

	auth, err := tc.OpenAuthentication(ctx, dialer, authEndpoint)
	if err != nil {
		t.Fatal(err)
	}
	defer auth.Close()

	if err := auth.Register(ctx, userID, password); err != nil {
		t.Fatal(err)
	}
	token, err := auth.Login(ctx, userID, password)
	if err != nil {
		t.Fatal(err)
	}
	if token == "" {
		t.Fatal("Empty token.")
	}

	fs, err := tc.OpenFrontend(ctx, dialer, frontendEndpoint)
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.SetCredential(userID, token); err != nil {
		t.Fatal(err)
	}
	return fs
}

func echoTask(t *testing.T, fs *tc.FrontendSession, message string) tc.TaskID {
	t.Helper()
	ctx := context.Background()

	fid, err := fs.RegisterFunction(ctx, tc.FunctionDescriptor{
		Name:        "builtin-echo",
		Description: "Native Echo Function",
		Executor:    tc.ExecutorBuiltin,
		Arguments:   []string{"message"},
	})
	if err != nil {
		t.Fatal(err)
	}
	taskID, err := fs.CreateTask(ctx, tc.CreateTaskRequest{
		FunctionID:        fid,
		FunctionArguments: `{"message": "` + message + `"}`,
		Executor:          tc.ExecutorBuiltin,
	})
	if err != nil {
		t.Fatal(err)
	}
	return taskID
}

func TestEcho(t *testing.T) {
	service := teaclavetest.NewService()
	fs := user(t, service.Dialer(), "test_id", "test_password")
	defer fs.Close()
	ctx := context.Background()

	taskID := echoTask(t, fs, "Hello, Teaclave!")
	if err := fs.InvokeTask(ctx, taskID); err != nil {
		t.Fatal(err)
	}
	result, err := fs.GetTaskResult(ctx, taskID)
	if err != nil {
		t.Fatal(err)
	}
	if result != "Hello, Teaclave!" {
		t.Fatal("Unexpected result:", result)
	}
}

func TestFunctionRoundTrip(t *testing.T) {
	service := teaclavetest.NewService()
	fs := user(t, service.Dialer(), "test_id", "test_password")
	defer fs.Close()
	ctx := context.Background()

	fd := tc.FunctionDescriptor{
		Name:        "builtin-password-check",
		Description: "Check whether a password is exposed.",
		Executor:    tc.ExecutorBuiltin,
		Public:      true,
		Inputs: []tc.Slot{
			{Name: "password", Description: "Client 0 data."},
			{Name: "exposed_passwords", Description: "Client 1 data."},
		},
	}
	fid, err := fs.RegisterFunction(ctx, fd)
	if err != nil {
		t.Fatal(err)
	}
	f, err := fs.GetFunction(ctx, fid)
	if err != nil {
		t.Fatal(err)
	}
	if f.ID != fid || f.Name != fd.Name || f.Description != fd.Description || !f.Public {
		t.Fatal("Function did not survive registration:", f)
	}
	if len(f.Inputs) != 2 || f.Inputs[1] != fd.Inputs[1] {
		t.Fatal("Unexpected inputs:", f.Inputs)
	}
	if len(f.Outputs) != 0 {
		t.Fatal("Unexpected outputs:", f.Outputs)
	}
}

func registerSealed(t *testing.T, fs *tc.FrontendSession, content string) tc.DataID {
	t.Helper()
	url, cmac, err := teaclavetest.SealFile([]byte(content), zeroKey, zeroIV)
	if err != nil {
		t.Fatal(err)
	}
	id, err := fs.RegisterInputFile(context.Background(), tc.FileRegistration{
		URL:  url,
		CMAC: cmac,
		Crypto: tc.CryptoInfo{
			Schema: "aes-gcm-128",
			Key:    zeroKey,
			IV:     zeroIV,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestPasswordCheck(t *testing.T) {
	service := teaclavetest.NewService()
	user0 := user(t, service.Dialer(), "user0", "password0")
	defer user0.Close()
	user1 := user(t, service.Dialer(), "user1", "password1")
	defer user1.Close()
	ctx := context.Background()

	fid, err := user0.RegisterFunction(ctx, tc.FunctionDescriptor{
		Name:     "builtin-password-check",
		Executor: tc.ExecutorBuiltin,
		Public:   true,
		Inputs: []tc.Slot{
			{Name: "password"},
			{Name: "exposed_passwords"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	taskID, err := user0.CreateTask(ctx, tc.CreateTaskRequest{
		FunctionID: fid,
		Executor:   tc.ExecutorBuiltin,
		InputsOwnership: []tc.OwnershipMap{
			{DataName: "password", Owners: []string{"user0"}},
			{DataName: "exposed_passwords", Owners: []string{"user1"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	password := registerSealed(t, user0, "password\n")
	if err := user0.AssignData(ctx, tc.DataAssignment{
		TaskID: taskID,
		Inputs: []tc.DataMap{{DataName: "password", DataID: password}},
	}); err != nil {
		t.Fatal(err)
	}
	exposed := registerSealed(t, user1, "123456\npassword\n12345678\n")
	if err := user1.AssignData(ctx, tc.DataAssignment{
		TaskID: taskID,
		Inputs: []tc.DataMap{{DataName: "exposed_passwords", DataID: exposed}},
	}); err != nil {
		t.Fatal(err)
	}

	if err := user0.ApproveTask(ctx, taskID); err != nil {
		t.Fatal(err)
	}
	// user1 has not approved yet
	if err := user0.InvokeTask(ctx, taskID); !tc.IsStateViolation(err) {
		t.Fatal("Invoke before every approval should fail:", err)
	}
	if err := user1.ApproveTask(ctx, taskID); err != nil {
		t.Fatal(err)
	}

	task, err := user1.GetTask(ctx, taskID)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != tc.TaskApproved {
		t.Fatal("Expected approved, got", task.Status)
	}
	if len(task.Participants) != 2 || len(task.ApprovedUsers) != 2 {
		t.Fatal("Unexpected participants:", task.Participants, task.ApprovedUsers)
	}

	if err := user1.InvokeTask(ctx, taskID); !tc.IsPermissionDenied(err) {
		t.Fatal("Only the creator may invoke:", err)
	}
	if err := user0.InvokeTask(ctx, taskID); err != nil {
		t.Fatal(err)
	}
	result, err := user0.GetTaskResult(ctx, taskID)
	if err != nil {
		t.Fatal(err)
	}
	if result != "true" {
		t.Fatal("Unexpected result:", result)
	}
}

func TestOutputSlot(t *testing.T) {
	service := teaclavetest.NewService()
	user0 := user(t, service.Dialer(), "user0", "password0")
	defer user0.Close()
	user1 := user(t, service.Dialer(), "user1", "password1")
	defer user1.Close()
	ctx := context.Background()

	fid, err := user0.RegisterFunction(ctx, tc.FunctionDescriptor{
		Name:     "builtin-echo",
		Executor: tc.ExecutorBuiltin,
		Public:   true,
		Inputs:   []tc.Slot{{Name: "data"}},
		Outputs:  []tc.Slot{{Name: "result"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	taskID, err := user0.CreateTask(ctx, tc.CreateTaskRequest{
		FunctionID:       fid,
		Executor:         tc.ExecutorBuiltin,
		InputsOwnership:  []tc.OwnershipMap{{DataName: "data", Owners: []string{"user0"}}},
		OutputsOwnership: []tc.OwnershipMap{{DataName: "result", Owners: []string{"user1"}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	input := registerSealed(t, user0, "payload")
	if err := user0.AssignData(ctx, tc.DataAssignment{
		TaskID: taskID,
		Inputs: []tc.DataMap{{DataName: "data", DataID: input}},
	}); err != nil {
		t.Fatal(err)
	}
	task, err := user0.GetTask(ctx, taskID)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != tc.TaskDataAssigning {
		t.Fatal("Output slot is unassigned, expected data_assigning, got", task.Status)
	}

	// an input file cannot fill an output slot
	stray := registerSealed(t, user1, "stray")
	err = user1.AssignData(ctx, tc.DataAssignment{
		TaskID:  taskID,
		Outputs: []tc.DataMap{{DataName: "result", DataID: stray}},
	})
	if !errors.Is(err, tc.ErrAssignData) || tc.StatusCode(err) != codes.NotFound {
		t.Fatal("Input file assigned to an output slot:", err)
	}

	output, err := user1.RegisterOutputFile(ctx, tc.FileRegistration{
		URL: "file:///tmp/result.enc",
		Crypto: tc.CryptoInfo{
			Schema: "aes-gcm-128",
			Key:    zeroKey,
			IV:     zeroIV,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if output == "" || output == input {
		t.Fatal("Unexpected output data id:", output)
	}
	if err := user0.AssignData(ctx, tc.DataAssignment{
		TaskID:  taskID,
		Outputs: []tc.DataMap{{DataName: "result", DataID: output}},
	}); !tc.IsPermissionDenied(err) {
		t.Fatal("Only the slot owner may assign it:", err)
	}
	if err := user1.AssignData(ctx, tc.DataAssignment{
		TaskID:  taskID,
		Outputs: []tc.DataMap{{DataName: "result", DataID: output}},
	}); err != nil {
		t.Fatal(err)
	}

	task, err = user1.GetTask(ctx, taskID)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != tc.TaskAwaitingApproval {
		t.Fatal("Expected awaiting_approval, got", task.Status)
	}
	if task.AssignedOutputs["result"] != output {
		t.Fatal("Unexpected output assignment:", task.AssignedOutputs)
	}
	if len(task.Participants) != 2 {
		t.Fatal("Output owner should participate:", task.Participants)
	}
}

func TestResultNotReady(t *testing.T) {
	service := teaclavetest.NewService(teaclavetest.WithDeferredExecution())
	fs := user(t, service.Dialer(), "test_id", "test_password")
	defer fs.Close()
	ctx := context.Background()

	taskID := echoTask(t, fs, "Hello")
	_, err := fs.GetTaskResult(ctx, taskID)
	if !errors.Is(err, tc.ErrTaskNotReady) || !errors.Is(err, tc.ErrGetTaskResult) {
		t.Fatal("Result before invoke should not be ready:", err)
	}

	if err := fs.InvokeTask(ctx, taskID); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.GetTaskResult(ctx, taskID); !errors.Is(err, tc.ErrTaskNotReady) {
		t.Fatal("Result of a running task should not be ready:", err)
	}
}

func TestWaitForResult(t *testing.T) {
	service := teaclavetest.NewService(teaclavetest.WithDeferredExecution())
	fs := user(t, service.Dialer(), "test_id", "test_password")
	defer fs.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	taskID := echoTask(t, fs, "Hello")
	if err := fs.InvokeTask(ctx, taskID); err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		service.Run(taskID)
	}()

	result, err := tc.WaitForResult(ctx, fs, taskID, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if result != "Hello" {
		t.Fatal("Unexpected result:", result)
	}
}

func TestWaitForResultCanceled(t *testing.T) {
	service := teaclavetest.NewService(teaclavetest.WithDeferredExecution())
	fs := user(t, service.Dialer(), "test_id", "test_password")
	defer fs.Close()

	taskID := echoTask(t, fs, "Hello")
	if err := fs.InvokeTask(context.Background(), taskID); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := tc.WaitForResult(ctx, fs, taskID, 10*time.Millisecond)
	// the deadline may hit during the poll or inside the call
	if !errors.Is(err, context.DeadlineExceeded) && tc.StatusCode(err) != codes.DeadlineExceeded {
		t.Fatal("Expected the deadline to expire, got", err)
	}
}

func TestClosedSession(t *testing.T) {
	service := teaclavetest.NewService()
	fs := user(t, service.Dialer(), "test_id", "test_password")
	ctx := context.Background()
	if n := service.OpenChannels(); n != 1 {
		t.Fatal("Expected one open channel, got", n)
	}

	if err := fs.Close(); err != nil {
		t.Fatal(err)
	}
	if err := fs.Close(); err != nil {
		t.Fatal("Second close should be a no-op:", err)
	}
	if n := service.OpenChannels(); n != 0 {
		t.Fatal("Channel was not closed:", n)
	}

	_, err := fs.GetTask(ctx, "task-0")
	if !errors.Is(err, tc.ErrSessionClosed) || !errors.Is(err, tc.ErrGetTask) {
		t.Fatal("Expected a closed session error, got", err)
	}
	if err := fs.SetCredential("test_id", "token"); !errors.Is(err, tc.ErrSessionClosed) {
		t.Fatal("Expected a closed session error, got", err)
	}
}

func TestWrongTaskID(t *testing.T) {
	service := teaclavetest.NewService()
	fs := user(t, service.Dialer(), "test_id", "test_password")
	defer fs.Close()

	_, err := fs.GetTask(context.Background(), "task-missing")
	if err == nil || !errors.Is(err, tc.ErrGetTask) {
		t.Fatal("Expected a get task error, got", err)
	}
}
