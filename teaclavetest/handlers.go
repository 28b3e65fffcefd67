package teaclavetest

import (
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	tc "github.com/kwonalbert/teaclave_client"
	"github.com/kwonalbert/teaclave_client/wire"
)

func newID(prefix string) string {
	return prefix + "-" + uuid.New().String()
}

func (s *Service) handleAuthentication(method tc.Method, cred *tc.Credential, body []byte) (interface{}, error) {
	switch method {
	case tc.MethodUserRegister:
		req := &wire.UserRegisterRequest{}
		if err := decode(body, wire.UserRegister, req); err != nil {
			return nil, err
		}
		if req.ID == "" || req.Password == "" {
			return nil, status.Error(codes.InvalidArgument, "empty user id or password")
		}
		if _, ok := s.users[req.ID]; ok {
			return nil, status.Error(codes.AlreadyExists, "user already exists")
		}
		s.users[req.ID] = &user{id: req.ID, password: req.Password}
		s.logger.Info("Registered user", zap.String("user", req.ID))
		return &wire.Empty{}, nil

	case tc.MethodUserLogin:
		req := &wire.UserLoginRequest{}
		if err := decode(body, wire.UserLogin, req); err != nil {
			return nil, err
		}
		u, ok := s.users[req.ID]
		if !ok || u.password != req.Password {
			return nil, status.Error(codes.Unauthenticated, "invalid user id or password")
		}
		token := uuid.New().String()
		s.tokens[token] = u.id
		return &wire.UserLoginResponse{Token: token}, nil

	case tc.MethodUserChangePassword:
		req := &wire.UserChangePasswordRequest{}
		if err := decode(body, wire.UserChangePassword, req); err != nil {
			return nil, err
		}
		id, err := s.authenticate(cred)
		if err != nil {
			return nil, err
		}
		if req.Password == "" {
			return nil, status.Error(codes.InvalidArgument, "empty password")
		}
		s.users[id].password = req.Password
		// outstanding tokens of the user stop working
		for token, owner := range s.tokens {
			if owner == id {
				delete(s.tokens, token)
			}
		}
		return &wire.Empty{}, nil
	}
	return nil, status.Errorf(codes.Unimplemented, "unknown method %s", method)
}

func (s *Service) handleFrontend(method tc.Method, cred *tc.Credential, body []byte) (interface{}, error) {
	caller, err := s.authenticate(cred)
	if err != nil {
		return nil, err
	}

	switch method {
	case tc.MethodRegisterFunction:
		return s.registerFunction(caller, body)
	case tc.MethodGetFunction:
		return s.getFunction(caller, body)
	case tc.MethodCreateTask:
		return s.createTask(caller, body)
	case tc.MethodRegisterInputFile:
		return s.registerFile(caller, body, true)
	case tc.MethodRegisterOutputFile:
		return s.registerFile(caller, body, false)
	case tc.MethodAssignData:
		return s.assignData(caller, body)
	case tc.MethodApproveTask:
		return s.approveTask(caller, body)
	case tc.MethodInvokeTask:
		return s.invokeTask(caller, body)
	case tc.MethodCancelTask:
		return s.cancelTask(caller, body)
	case tc.MethodGetTask:
		return s.getTask(caller, body)
	}
	return nil, status.Errorf(codes.Unimplemented, "unknown method %s", method)
}

func (s *Service) registerFunction(caller string, body []byte) (interface{}, error) {
	req := &wire.RegisterFunctionRequest{}
	if err := decode(body, wire.RegisterFunction, req); err != nil {
		return nil, err
	}
	switch tc.ExecutorKind(req.ExecutorType) {
	case tc.ExecutorBuiltin, tc.ExecutorNative, tc.ExecutorPython:
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown executor type %q", req.ExecutorType)
	}
	if req.Name == "" {
		return nil, status.Error(codes.InvalidArgument, "empty function name")
	}

	f := &function{id: newID("function"), owner: caller, def: *req}
	s.functions[f.id] = f
	s.logger.Info("Registered function", zap.String("function", f.id), zap.String("name", req.Name))
	return &wire.RegisterFunctionResponse{FunctionID: f.id}, nil
}

func (s *Service) lookupFunction(caller, id string) (*function, error) {
	f, ok := s.functions[id]
	if !ok {
		return nil, status.Error(codes.NotFound, "function not found")
	}
	if !f.def.Public && f.owner != caller {
		return nil, status.Error(codes.PermissionDenied, "function is private")
	}
	return f, nil
}

func (s *Service) getFunction(caller string, body []byte) (interface{}, error) {
	req := &wire.GetFunctionRequest{}
	if err := decode(body, wire.GetFunction, req); err != nil {
		return nil, err
	}
	f, err := s.lookupFunction(caller, req.FunctionID)
	if err != nil {
		return nil, err
	}
	return &wire.GetFunctionResponse{
		FunctionID:   f.id,
		Name:         f.def.Name,
		Description:  f.def.Description,
		Owner:        f.owner,
		ExecutorType: f.def.ExecutorType,
		Public:       f.def.Public,
		Payload:      f.def.Payload,
		Arguments:    f.def.Arguments,
		Inputs:       f.def.Inputs,
		Outputs:      f.def.Outputs,
	}, nil
}

// ownership checks that the owner lists name exactly the declared
// slots, each once.
func ownership(kind string, declared []wire.FunctionSlot, lists []wire.OwnerList) (map[string][]string, error) {
	owners := make(map[string][]string, len(lists))
	for _, l := range lists {
		if _, ok := owners[l.DataName]; ok {
			return nil, status.Errorf(codes.InvalidArgument, "duplicate %s %q", kind, l.DataName)
		}
		owners[l.DataName] = l.UIDs
	}
	if len(owners) != len(declared) {
		return nil, status.Errorf(codes.InvalidArgument, "%s keys mismatch", kind)
	}
	for _, slot := range declared {
		if _, ok := owners[slot.Name]; !ok {
			return nil, status.Errorf(codes.InvalidArgument, "%s keys mismatch", kind)
		}
	}
	return owners, nil
}

func (s *Service) createTask(caller string, body []byte) (interface{}, error) {
	req := &wire.CreateTaskRequest{}
	if err := decode(body, wire.CreateTask, req); err != nil {
		return nil, err
	}
	f, err := s.lookupFunction(caller, req.FunctionID)
	if err != nil {
		return nil, err
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(req.FunctionArguments), &args); err != nil || args == nil {
		return nil, status.Error(codes.InvalidArgument, "function_arguments is not a JSON object")
	}
	if len(args) != len(f.def.Arguments) {
		return nil, status.Error(codes.InvalidArgument, "function_arguments mismatch")
	}
	for _, name := range f.def.Arguments {
		if _, ok := args[name]; !ok {
			return nil, status.Error(codes.InvalidArgument, "function_arguments mismatch")
		}
	}

	inputOwners, err := ownership("input", f.def.Inputs, req.InputsOwnership)
	if err != nil {
		return nil, err
	}
	outputOwners, err := ownership("output", f.def.Outputs, req.OutputsOwnership)
	if err != nil {
		return nil, err
	}

	t := &task{
		id:               newID("task"),
		creator:          caller,
		functionID:       f.id,
		executor:         req.Executor,
		args:             req.FunctionArguments,
		inputsOwnership:  req.InputsOwnership,
		outputsOwnership: req.OutputsOwnership,
		inputOwners:      inputOwners,
		outputOwners:     outputOwners,
		participants:     map[string]bool{caller: true},
		approved:         make(map[string]bool),
		assignedInputs:   make(map[string]string),
		assignedOutputs:  make(map[string]string),
	}
	if !f.def.Public {
		t.participants[f.owner] = true
	}
	for _, lists := range [][]wire.OwnerList{req.InputsOwnership, req.OutputsOwnership} {
		for _, l := range lists {
			for _, uid := range l.UIDs {
				t.participants[uid] = true
			}
		}
	}
	s.tasks[t.id] = t
	s.logger.Info("Created task", zap.String("task", t.id), zap.String("creator", caller))
	return &wire.CreateTaskResponse{TaskID: t.id}, nil
}

func (s *Service) registerFile(caller string, body []byte, input bool) (interface{}, error) {
	var (
		url, cmac string
		crypto    wire.CryptoInfo
	)
	if input {
		req := &wire.RegisterInputFileRequest{}
		if err := decode(body, wire.RegisterInputFile, req); err != nil {
			return nil, err
		}
		url, cmac, crypto = req.URL, req.CMAC, req.CryptoInfo
		if tag, err := hex.DecodeString(cmac); err != nil || len(tag) != 16 {
			return nil, status.Error(codes.InvalidArgument, "cmac must be 16 hex encoded bytes")
		}
	} else {
		req := &wire.RegisterOutputFileRequest{}
		if err := decode(body, wire.RegisterOutputFile, req); err != nil {
			return nil, err
		}
		url, cmac, crypto = req.URL, req.CMAC, req.CryptoInfo
	}
	if url == "" {
		return nil, status.Error(codes.InvalidArgument, "empty url")
	}

	prefix := "output"
	if input {
		prefix = "input"
	}
	f := &file{
		id:     newID(prefix),
		owner:  caller,
		input:  input,
		url:    url,
		cmac:   cmac,
		crypto: crypto,
	}
	s.files[f.id] = f
	if input {
		return &wire.RegisterInputFileResponse{DataID: f.id}, nil
	}
	return &wire.RegisterOutputFileResponse{DataID: f.id}, nil
}

// lookupTask returns a task the caller participates in.
func (s *Service) lookupTask(caller, id string) (*task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, status.Error(codes.NotFound, "task not found")
	}
	if !t.participants[caller] {
		return nil, status.Error(codes.PermissionDenied, "not a participant of the task")
	}
	return t, nil
}

func (s *Service) checkAssignments(caller string, t *task, maps []wire.DataMap, slots map[string][]string, assigned map[string]string, input bool) error {
	seen := make(map[string]bool, len(maps))
	for _, m := range maps {
		owners, ok := t.owners(slots, m.DataName)
		if !ok {
			return status.Errorf(codes.InvalidArgument, "unknown slot %q", m.DataName)
		}
		if seen[m.DataName] {
			return status.Errorf(codes.InvalidArgument, "slot %q assigned twice", m.DataName)
		}
		seen[m.DataName] = true
		if !contains(owners, caller) {
			return status.Errorf(codes.PermissionDenied, "slot %q is not owned by %s", m.DataName, caller)
		}
		if _, ok := assigned[m.DataName]; ok {
			return status.Errorf(codes.FailedPrecondition, "slot %q is already assigned", m.DataName)
		}
		f, ok := s.files[m.DataID]
		if !ok || f.input != input {
			return status.Errorf(codes.NotFound, "data %q not found", m.DataID)
		}
		if f.owner != caller {
			return status.Errorf(codes.PermissionDenied, "data %q is not owned by %s", m.DataID, caller)
		}
	}
	return nil
}

func (s *Service) assignData(caller string, body []byte) (interface{}, error) {
	req := &wire.AssignDataRequest{}
	if err := decode(body, wire.AssignData, req); err != nil {
		return nil, err
	}
	t, err := s.lookupTask(caller, req.TaskID)
	if err != nil {
		return nil, err
	}
	if st := t.status(); st != tc.TaskCreated && st != tc.TaskDataAssigning {
		return nil, status.Errorf(codes.FailedPrecondition, "cannot assign data to a task that is %s", st)
	}
	if err := s.checkAssignments(caller, t, req.Inputs, t.inputOwners, t.assignedInputs, true); err != nil {
		return nil, err
	}
	if err := s.checkAssignments(caller, t, req.Outputs, t.outputOwners, t.assignedOutputs, false); err != nil {
		return nil, err
	}

	for _, m := range req.Inputs {
		t.assignedInputs[m.DataName] = m.DataID
	}
	for _, m := range req.Outputs {
		t.assignedOutputs[m.DataName] = m.DataID
	}
	return &wire.Empty{}, nil
}

func (s *Service) approveTask(caller string, body []byte) (interface{}, error) {
	req := &wire.TaskRequest{}
	if err := decode(body, wire.ApproveTask, req); err != nil {
		return nil, err
	}
	t, err := s.lookupTask(caller, req.TaskID)
	if err != nil {
		return nil, err
	}
	if st := t.status(); st != tc.TaskAwaitingApproval && st != tc.TaskApproved {
		return nil, status.Errorf(codes.FailedPrecondition, "cannot approve a task that is %s", st)
	}
	t.approved[caller] = true
	return &wire.Empty{}, nil
}

func (s *Service) invokeTask(caller string, body []byte) (interface{}, error) {
	req := &wire.TaskRequest{}
	if err := decode(body, wire.InvokeTask, req); err != nil {
		return nil, err
	}
	t, err := s.lookupTask(caller, req.TaskID)
	if err != nil {
		return nil, err
	}
	if t.creator != caller {
		return nil, status.Error(codes.PermissionDenied, "only the creator can invoke a task")
	}
	if st := t.status(); st != tc.TaskApproved {
		return nil, status.Errorf(codes.FailedPrecondition, "cannot invoke a task that is %s", st)
	}

	t.phase = tc.TaskRunning
	if !s.deferred {
		s.execute(t)
	}
	return &wire.Empty{}, nil
}

func (s *Service) cancelTask(caller string, body []byte) (interface{}, error) {
	req := &wire.TaskRequest{}
	if err := decode(body, wire.CancelTask, req); err != nil {
		return nil, err
	}
	t, err := s.lookupTask(caller, req.TaskID)
	if err != nil {
		return nil, err
	}
	if t.creator != caller {
		return nil, status.Error(codes.PermissionDenied, "only the creator can cancel a task")
	}
	if st := t.status(); st.Terminal() {
		return nil, status.Errorf(codes.FailedPrecondition, "cannot cancel a task that is %s", st)
	}
	t.phase = tc.TaskCanceled
	t.reason = "canceled by " + caller
	return &wire.Empty{}, nil
}

func (s *Service) getTask(caller string, body []byte) (interface{}, error) {
	req := &wire.TaskRequest{}
	if err := decode(body, wire.GetTask, req); err != nil {
		return nil, err
	}
	t, err := s.lookupTask(caller, req.TaskID)
	if err != nil {
		return nil, err
	}
	resp := &wire.GetTaskResponse{
		TaskID:            t.id,
		Creator:           t.creator,
		FunctionID:        t.functionID,
		FunctionArguments: t.args,
		Executor:          t.executor,
		InputsOwnership:   t.inputsOwnership,
		OutputsOwnership:  t.outputsOwnership,
		Participants:      sortedKeys(t.participants),
		ApprovedUsers:     sortedKeys(t.approved),
		AssignedInputs:    copyMap(t.assignedInputs),
		AssignedOutputs:   copyMap(t.assignedOutputs),
		Status:            string(t.status()),
	}
	switch t.phase {
	case tc.TaskFinished:
		resp.ReturnValue = t.result
	case tc.TaskFailed, tc.TaskCanceled:
		resp.FailureReason = t.reason
	}
	return resp, nil
}
