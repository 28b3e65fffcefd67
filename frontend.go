package teaclave_client

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kwonalbert/teaclave_client/wire"
)

// FrontendSession is a session with the frontend service, which owns
// functions, data and tasks. Every operation except SetCredential needs
// a bound credential and acts on behalf of that user.
type FrontendSession struct {
	*session
}

// OpenFrontend connects to the frontend service at endpoint.
func OpenFrontend(ctx context.Context, dialer Dialer, endpoint Endpoint, opts ...Option) (*FrontendSession, error) {
	s, err := openSession(ctx, dialer, FrontendService, endpoint, opts)
	if err != nil {
		return nil, err
	}
	return &FrontendSession{s}, nil
}

// SetCredential binds the user id and token obtained from Login.
// Calling it again replaces the credential. The server only checks the
// credential on the next call.
func (fs *FrontendSession) SetCredential(userID, token string) error {
	return fs.setCredential(userID, token)
}

// UserID returns the user the session acts for, or "" if no credential
// is bound.
func (fs *FrontendSession) UserID() string {
	return fs.userID()
}

func (fs *FrontendSession) RegisterFunction(ctx context.Context, fd FunctionDescriptor) (FunctionID, error) {
	if err := fd.validate(); err != nil {
		return "", wrapError(KindRegisterFunction, err)
	}

	req := &wire.RegisterFunctionRequest{
		Request:      wire.RegisterFunction,
		Name:         fd.Name,
		Description:  fd.Description,
		ExecutorType: string(fd.Executor),
		Public:       fd.Public,
		Payload:      wire.Bytes(fd.Payload),
		Arguments:    sortedCopy(fd.Arguments),
		Inputs:       toWireSlots(fd.Inputs),
		Outputs:      toWireSlots(fd.Outputs),
	}
	resp := &wire.RegisterFunctionResponse{}
	if err := fs.call(ctx, KindRegisterFunction, MethodRegisterFunction, true, req, resp); err != nil {
		return "", err
	}
	if resp.FunctionID == "" {
		return "", missingField(KindRegisterFunction, "function_id")
	}
	fs.logger.Debug("Registered function", zap.String("function", resp.FunctionID))
	return resp.FunctionID, nil
}

func (fs *FrontendSession) GetFunction(ctx context.Context, id FunctionID) (*Function, error) {
	req := &wire.GetFunctionRequest{
		Request:    wire.GetFunction,
		FunctionID: id,
	}
	resp := &wire.GetFunctionResponse{}
	if err := fs.call(ctx, KindGetFunction, MethodGetFunction, true, req, resp); err != nil {
		return nil, err
	}
	if resp.FunctionID == "" {
		return nil, missingField(KindGetFunction, "function_id")
	}
	return &Function{
		ID:          resp.FunctionID,
		Name:        resp.Name,
		Description: resp.Description,
		Owner:       resp.Owner,
		Executor:    ExecutorKind(resp.ExecutorType),
		Public:      resp.Public,
		Payload:     []byte(resp.Payload),
		Arguments:   resp.Arguments,
		Inputs:      fromWireSlots(resp.Inputs),
		Outputs:     fromWireSlots(resp.Outputs),
	}, nil
}

// CreateTask creates a task of a registered function. The task is
// created atomically on the server: either an id is returned or no task
// exists.
func (fs *FrontendSession) CreateTask(ctx context.Context, ct CreateTaskRequest) (TaskID, error) {
	if err := ct.validate(); err != nil {
		return "", wrapError(KindCreateTask, err)
	}

	args := ct.FunctionArguments
	if args == "" {
		args = "{}"
	}
	req := &wire.CreateTaskRequest{
		Request:           wire.CreateTask,
		FunctionID:        ct.FunctionID,
		FunctionArguments: args,
		Executor:          string(ct.Executor),
		InputsOwnership:   toWireOwners(ct.InputsOwnership),
		OutputsOwnership:  toWireOwners(ct.OutputsOwnership),
	}
	resp := &wire.CreateTaskResponse{}
	if err := fs.call(ctx, KindCreateTask, MethodCreateTask, true, req, resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", missingField(KindCreateTask, "task_id")
	}
	fs.logger.Debug("Created task", zap.String("task", resp.TaskID))
	return resp.TaskID, nil
}

// RegisterInputFile registers an encrypted file owned by the session's
// user.
func (fs *FrontendSession) RegisterInputFile(ctx context.Context, file FileRegistration) (DataID, error) {
	req := &wire.RegisterInputFileRequest{
		Request:    wire.RegisterInputFile,
		URL:        file.URL,
		CMAC:       file.CMAC,
		CryptoInfo: toWireCrypto(file.Crypto),
	}
	resp := &wire.RegisterInputFileResponse{}
	if err := fs.call(ctx, KindRegisterInputFile, MethodRegisterInputFile, true, req, resp); err != nil {
		return "", err
	}
	if resp.DataID == "" {
		return "", missingField(KindRegisterInputFile, "data_id")
	}
	return resp.DataID, nil
}

// RegisterOutputFile registers the location an output will be written
// to.
func (fs *FrontendSession) RegisterOutputFile(ctx context.Context, file FileRegistration) (DataID, error) {
	req := &wire.RegisterOutputFileRequest{
		Request:    wire.RegisterOutputFile,
		URL:        file.URL,
		CMAC:       file.CMAC,
		CryptoInfo: toWireCrypto(file.Crypto),
	}
	resp := &wire.RegisterOutputFileResponse{}
	if err := fs.call(ctx, KindRegisterOutputFile, MethodRegisterOutputFile, true, req, resp); err != nil {
		return "", err
	}
	if resp.DataID == "" {
		return "", missingField(KindRegisterOutputFile, "data_id")
	}
	return resp.DataID, nil
}

// AssignData binds registered data to task slots. Several owners may
// each assign their own subset of the slots.
func (fs *FrontendSession) AssignData(ctx context.Context, da DataAssignment) error {
	if da.TaskID == "" {
		return wrapError(KindAssignData, fmt.Errorf("%w: empty task id", ErrInvalidRequest))
	}
	req := &wire.AssignDataRequest{
		Request: wire.AssignData,
		TaskID:  da.TaskID,
		Inputs:  toWireDataMaps(da.Inputs),
		Outputs: toWireDataMaps(da.Outputs),
	}
	return fs.call(ctx, KindAssignData, MethodAssignData, true, req, nil)
}

// ApproveTask records the approval of the session's user. A task runs
// only once every owner has approved.
func (fs *FrontendSession) ApproveTask(ctx context.Context, id TaskID) error {
	return fs.taskCall(ctx, KindApproveTask, MethodApproveTask, wire.ApproveTask, id)
}

// InvokeTask asks the server to run an approved task. Success means the
// task was accepted, not that it has finished.
func (fs *FrontendSession) InvokeTask(ctx context.Context, id TaskID) error {
	if err := fs.taskCall(ctx, KindInvokeTask, MethodInvokeTask, wire.InvokeTask, id); err != nil {
		return err
	}
	fs.logger.Debug("Invoked task", zap.String("task", id))
	return nil
}

func (fs *FrontendSession) CancelTask(ctx context.Context, id TaskID) error {
	return fs.taskCall(ctx, KindCancelTask, MethodCancelTask, wire.CancelTask, id)
}

// GetTask fetches the current server view of a task.
func (fs *FrontendSession) GetTask(ctx context.Context, id TaskID) (*Task, error) {
	return fs.getTask(ctx, KindGetTask, id)
}

// GetTaskResult returns the result of a finished task. It does not
// wait: a task that has not finished yields ErrTaskNotReady, and a
// failed or canceled one a *TaskFailedError.
func (fs *FrontendSession) GetTaskResult(ctx context.Context, id TaskID) (string, error) {
	task, err := fs.getTask(ctx, KindGetTaskResult, id)
	if err != nil {
		return "", err
	}
	switch task.Status {
	case TaskFinished:
		return task.ReturnValue, nil
	case TaskFailed, TaskCanceled:
		return "", wrapError(KindGetTaskResult, &TaskFailedError{Status: task.Status, Reason: task.FailureReason})
	default:
		return "", wrapError(KindGetTaskResult, fmt.Errorf("%w: task is %s", ErrTaskNotReady, task.Status))
	}
}

// Close releases the channel. Closing twice is harmless; any call after
// Close fails with ErrSessionClosed.
func (fs *FrontendSession) Close() error {
	return fs.close()
}

func (fs *FrontendSession) taskCall(ctx context.Context, kind Kind, method Method, name string, id TaskID) error {
	if id == "" {
		return wrapError(kind, fmt.Errorf("%w: empty task id", ErrInvalidRequest))
	}
	req := &wire.TaskRequest{Request: name, TaskID: id}
	return fs.call(ctx, kind, method, true, req, nil)
}

func (fs *FrontendSession) getTask(ctx context.Context, kind Kind, id TaskID) (*Task, error) {
	if id == "" {
		return nil, wrapError(kind, fmt.Errorf("%w: empty task id", ErrInvalidRequest))
	}
	req := &wire.TaskRequest{Request: wire.GetTask, TaskID: id}
	resp := &wire.GetTaskResponse{}
	if err := fs.call(ctx, kind, MethodGetTask, true, req, resp); err != nil {
		return nil, err
	}
	if resp.Status == "" {
		return nil, missingField(kind, "status")
	}
	return &Task{
		ID:                resp.TaskID,
		Creator:           resp.Creator,
		FunctionID:        resp.FunctionID,
		FunctionArguments: resp.FunctionArguments,
		Executor:          ExecutorKind(resp.Executor),
		InputsOwnership:   fromWireOwners(resp.InputsOwnership),
		OutputsOwnership:  fromWireOwners(resp.OutputsOwnership),
		Participants:      resp.Participants,
		ApprovedUsers:     resp.ApprovedUsers,
		AssignedInputs:    resp.AssignedInputs,
		AssignedOutputs:   resp.AssignedOutputs,
		Status:            TaskStatus(resp.Status),
		ReturnValue:       resp.ReturnValue,
		FailureReason:     resp.FailureReason,
	}, nil
}

// The services reject null lists, so every conversion yields a non-nil
// slice.

func toWireSlots(slots []Slot) []wire.FunctionSlot {
	out := make([]wire.FunctionSlot, len(slots))
	for i, s := range slots {
		out[i] = wire.FunctionSlot{Name: s.Name, Description: s.Description}
	}
	return out
}

func fromWireSlots(slots []wire.FunctionSlot) []Slot {
	out := make([]Slot, len(slots))
	for i, s := range slots {
		out[i] = Slot{Name: s.Name, Description: s.Description}
	}
	return out
}

func toWireOwners(maps []OwnershipMap) []wire.OwnerList {
	out := make([]wire.OwnerList, len(maps))
	for i, m := range maps {
		uids := m.Owners
		if uids == nil {
			uids = []string{}
		}
		out[i] = wire.OwnerList{DataName: m.DataName, UIDs: uids}
	}
	return out
}

func fromWireOwners(lists []wire.OwnerList) []OwnershipMap {
	out := make([]OwnershipMap, len(lists))
	for i, l := range lists {
		out[i] = OwnershipMap{DataName: l.DataName, Owners: l.UIDs}
	}
	return out
}

func toWireCrypto(ci CryptoInfo) wire.CryptoInfo {
	return wire.CryptoInfo{
		Schema: ci.Schema,
		Key:    wire.Bytes(ci.Key),
		IV:     wire.Bytes(ci.IV),
	}
}

func toWireDataMaps(maps []DataMap) []wire.DataMap {
	out := make([]wire.DataMap, len(maps))
	for i, m := range maps {
		out[i] = wire.DataMap{DataName: m.DataName, DataID: m.DataID}
	}
	return out
}
