package wire

// Request discriminators.
const (
	UserRegister       = "user_register"
	UserLogin          = "user_login"
	UserChangePassword = "user_change_password"
	RegisterFunction   = "register_function_request"
	GetFunction        = "get_function"
	CreateTask         = "register_create_task"
	RegisterInputFile  = "register_input_file"
	RegisterOutputFile = "register_output_file"
	AssignData         = "assign_data"
	ApproveTask        = "approve_task"
	InvokeTask         = "invoke_task"
	CancelTask         = "cancel_task"
	GetTask            = "get_task"
)

type UserRegisterRequest struct {
	Request  string `json:"request"`
	ID       string `json:"id"`
	Password string `json:"password"`
}

type UserLoginRequest struct {
	Request  string `json:"request"`
	ID       string `json:"id"`
	Password string `json:"password"`
}

type UserLoginResponse struct {
	Token string `json:"token"`
}

type UserChangePasswordRequest struct {
	Request  string `json:"request"`
	Password string `json:"password"`
}

// FunctionSlot is one entry of the inputs or outputs list of a
// function.
type FunctionSlot struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type RegisterFunctionRequest struct {
	Request      string         `json:"request"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	ExecutorType string         `json:"executor_type"`
	Public       bool           `json:"public"`
	Payload      Bytes          `json:"payload"`
	Arguments    []string       `json:"arguments"`
	Inputs       []FunctionSlot `json:"inputs"`
	Outputs      []FunctionSlot `json:"outputs"`
}

type RegisterFunctionResponse struct {
	FunctionID string `json:"function_id"`
}

type GetFunctionRequest struct {
	Request    string `json:"request"`
	FunctionID string `json:"function_id"`
}

type GetFunctionResponse struct {
	FunctionID   string         `json:"function_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Owner        string         `json:"owner"`
	ExecutorType string         `json:"executor_type"`
	Public       bool           `json:"public"`
	Payload      Bytes          `json:"payload"`
	Arguments    []string       `json:"arguments"`
	Inputs       []FunctionSlot `json:"inputs"`
	Outputs      []FunctionSlot `json:"outputs"`
}

type OwnerList struct {
	DataName string   `json:"data_name"`
	UIDs     []string `json:"uids"`
}

type CreateTaskRequest struct {
	Request           string      `json:"request"`
	FunctionID        string      `json:"function_id"`
	FunctionArguments string      `json:"function_arguments"`
	Executor          string      `json:"executor"`
	InputsOwnership   []OwnerList `json:"inputs_ownership"`
	OutputsOwnership  []OwnerList `json:"outputs_ownership"`
}

type CreateTaskResponse struct {
	TaskID string `json:"task_id"`
}

type CryptoInfo struct {
	Schema string `json:"schema"`
	Key    Bytes  `json:"key"`
	IV     Bytes  `json:"iv"`
}

type RegisterInputFileRequest struct {
	Request    string     `json:"request"`
	URL        string     `json:"url"`
	CMAC       string     `json:"cmac"`
	CryptoInfo CryptoInfo `json:"crypto_info"`
}

type RegisterInputFileResponse struct {
	DataID string `json:"data_id"`
}

type RegisterOutputFileRequest struct {
	Request    string     `json:"request"`
	URL        string     `json:"url"`
	CMAC       string     `json:"cmac"`
	CryptoInfo CryptoInfo `json:"crypto_info"`
}

type RegisterOutputFileResponse struct {
	DataID string `json:"data_id"`
}

type DataMap struct {
	DataName string `json:"data_name"`
	DataID   string `json:"data_id"`
}

type AssignDataRequest struct {
	Request string    `json:"request"`
	TaskID  string    `json:"task_id"`
	Inputs  []DataMap `json:"inputs"`
	Outputs []DataMap `json:"outputs"`
}

// TaskRequest is shared by approve_task, invoke_task, cancel_task and
// get_task, which only carry the task id.
type TaskRequest struct {
	Request string `json:"request"`
	TaskID  string `json:"task_id"`
}

type GetTaskResponse struct {
	TaskID            string            `json:"task_id"`
	Creator           string            `json:"creator"`
	FunctionID        string            `json:"function_id"`
	FunctionArguments string            `json:"function_arguments"`
	Executor          string            `json:"executor"`
	InputsOwnership   []OwnerList       `json:"inputs_ownership"`
	OutputsOwnership  []OwnerList       `json:"outputs_ownership"`
	Participants      []string          `json:"participants"`
	ApprovedUsers     []string          `json:"approved_users"`
	AssignedInputs    map[string]string `json:"assigned_inputs"`
	AssignedOutputs   map[string]string `json:"assigned_outputs"`
	Status            string            `json:"status"`
	ReturnValue       string            `json:"return_value,omitempty"`
	FailureReason     string            `json:"failure_reason,omitempty"`
}

// Empty is the response of calls that only acknowledge.
type Empty struct{}
