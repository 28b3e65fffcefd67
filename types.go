package teaclave_client

import (
	"fmt"
	"sort"
)

// Credential identifies the user on whose behalf a session acts.
type Credential struct {
	UserID string
	Token  string
}

// ExecutorKind selects the runtime a function runs in.
type ExecutorKind string

const (
	ExecutorBuiltin ExecutorKind = "builtin"
	ExecutorNative  ExecutorKind = "native"
	ExecutorPython  ExecutorKind = "python"
)

type FunctionID = string
type TaskID = string
type DataID = string

// Slot declares a named input or output of a function.
type Slot struct {
	Name        string
	Description string
}

type FunctionDescriptor struct {
	Name        string
	Description string
	Executor    ExecutorKind
	Public      bool

	// Payload is the function code. Empty for builtin functions.
	Payload []byte

	Arguments []string
	Inputs    []Slot
	Outputs   []Slot
}

func (fd *FunctionDescriptor) validate() error {
	if err := uniqueNames("argument", fd.Arguments); err != nil {
		return err
	}
	if err := uniqueNames("input", slotNames(fd.Inputs)); err != nil {
		return err
	}
	return uniqueNames("output", slotNames(fd.Outputs))
}

// Function is the server's view of a registered function.
type Function struct {
	ID          FunctionID
	Name        string
	Description string
	Owner       string
	Executor    ExecutorKind
	Public      bool
	Payload     []byte
	Arguments   []string
	Inputs      []Slot
	Outputs     []Slot
}

// OwnershipMap lists the users that own a data slot of a task.
type OwnershipMap struct {
	DataName string
	Owners   []string
}

type CreateTaskRequest struct {
	FunctionID FunctionID

	// FunctionArguments is a JSON object, forwarded verbatim.
	FunctionArguments string

	Executor         ExecutorKind
	InputsOwnership  []OwnershipMap
	OutputsOwnership []OwnershipMap
}

func (r *CreateTaskRequest) validate() error {
	if r.FunctionID == "" {
		return fmt.Errorf("%w: empty function id", ErrInvalidRequest)
	}
	if err := uniqueNames("input ownership", ownedNames(r.InputsOwnership)); err != nil {
		return err
	}
	return uniqueNames("output ownership", ownedNames(r.OutputsOwnership))
}

// CryptoInfo describes how a file is encrypted. The key and iv length
// must match the schema; that is left to the server to check.
type CryptoInfo struct {
	Schema string
	Key    []byte
	IV     []byte
}

type FileRegistration struct {
	URL    string
	CMAC   string
	Crypto CryptoInfo
}

// DataMap binds a registered file to a task slot.
type DataMap struct {
	DataName string
	DataID   DataID
}

type DataAssignment struct {
	TaskID  TaskID
	Inputs  []DataMap
	Outputs []DataMap
}

// TaskStatus is the lifecycle state of a task as reported by the
// server.
type TaskStatus string

const (
	TaskCreated          TaskStatus = "created"
	TaskDataAssigning    TaskStatus = "data_assigning"
	TaskAwaitingApproval TaskStatus = "awaiting_approval"
	TaskApproved         TaskStatus = "approved"
	TaskRunning          TaskStatus = "running"
	TaskFinished         TaskStatus = "finished"
	TaskFailed           TaskStatus = "failed"
	TaskCanceled         TaskStatus = "canceled"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskFinished || s == TaskFailed || s == TaskCanceled
}

// Task is the server's view of a task.
type Task struct {
	ID                TaskID
	Creator           string
	FunctionID        FunctionID
	FunctionArguments string
	Executor          ExecutorKind
	InputsOwnership   []OwnershipMap
	OutputsOwnership  []OwnershipMap
	Participants      []string
	ApprovedUsers     []string
	AssignedInputs    map[string]DataID
	AssignedOutputs   map[string]DataID
	Status            TaskStatus
	ReturnValue       string
	FailureReason     string
}

func slotNames(slots []Slot) []string {
	names := make([]string, len(slots))
	for i, s := range slots {
		names[i] = s.Name
	}
	return names
}

func ownedNames(maps []OwnershipMap) []string {
	names := make([]string, len(maps))
	for i, m := range maps {
		names[i] = m.DataName
	}
	return names
}

func uniqueNames(what string, names []string) error {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			return fmt.Errorf("%w: duplicate %s name %q", ErrInvalidRequest, what, name)
		}
		seen[name] = true
	}
	return nil
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
