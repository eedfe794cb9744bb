package flowsim

import (
	"slices"
	"time"
)

type StepType string

const (
	StepTypeStart  StepType = "start"
	StepTypeSMS    StepType = "sms"
	StepTypeEmail  StepType = "email"
	StepTypeCustom StepType = "custom"
	StepTypeEnd    StepType = "end"
)

func (t StepType) Valid() bool {
	switch t {
	case StepTypeStart, StepTypeSMS, StepTypeEmail, StepTypeCustom, StepTypeEnd:
		return true
	default:
		return false
	}
}

// Outcome is the result of executing a step. It doubles as the condition of a transition.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
)

// Terminal reports whether a run in this status no longer accepts mutations.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusError
}

type NodeStatus string

const (
	NodeStatusPending    NodeStatus = "pending"
	NodeStatusProcessing NodeStatus = "processing"
	NodeStatusSuccess    NodeStatus = "success"
	NodeStatusFailure    NodeStatus = "failure"
)

type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelSuccess LogLevel = "success"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Step struct {
	ID          string   `json:"id"`
	Type        StepType `json:"type"`
	Name        string   `json:"name"`
	Position    Position `json:"position"`
	Transitions []string `json:"transitions"`
}

type Transition struct {
	ID           string  `json:"id"`
	SourceStepID string  `json:"sourceStepId"`
	TargetStepID string  `json:"targetStepId"`
	Condition    Outcome `json:"condition"`
}

type Workflow struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Steps       []Step       `json:"steps"`
	Transitions []Transition `json:"transitions"`
	Version     string       `json:"version,omitempty"`
	CreatedAt   string       `json:"createdAt,omitempty"`
	UpdatedAt   string       `json:"updatedAt,omitempty"`
}

// Step returns the step with the given id, or nil.
func (wf *Workflow) Step(id string) *Step {
	for i := range wf.Steps {
		if wf.Steps[i].ID == id {
			return &wf.Steps[i]
		}
	}

	return nil
}

// Clone returns a deep copy of the workflow.
func (wf *Workflow) Clone() *Workflow {
	clone := *wf

	clone.Steps = slices.Clone(wf.Steps)
	for i := range clone.Steps {
		clone.Steps[i].Transitions = slices.Clone(wf.Steps[i].Transitions)
	}

	clone.Transitions = slices.Clone(wf.Transitions)

	return &clone
}

// Snapshot is the persisted envelope around a workflow.
type Snapshot struct {
	Workflow    Workflow  `json:"workflow"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type NodeState struct {
	StepID           string     `json:"stepId"`
	Status           NodeStatus `json:"status"`
	Attempt          int        `json:"attempt"`
	Outcome          Outcome    `json:"outcome,omitempty"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	LastTransitionID string     `json:"lastTransitionId,omitempty"`
}

type LogEntry struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Level        LogLevel       `json:"level"`
	Message      string         `json:"message"`
	StepID       string         `json:"stepId,omitempty"`
	TransitionID string         `json:"transitionId,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

type RunResult struct {
	Success        bool     `json:"success"`
	CompletedSteps []string `json:"completedSteps"`
	FailedSteps    []string `json:"failedSteps"`
	Iterations     int      `json:"iterations"`
}

type RunState struct {
	WorkflowID       string                `json:"workflowId,omitempty"`
	Status           RunStatus             `json:"status"`
	CurrentStepID    string                `json:"currentStepId,omitempty"`
	ActiveStepIDs    []string              `json:"activeStepIds"`
	CompletedStepIDs []string              `json:"completedStepIds"`
	FailedStepIDs    []string              `json:"failedStepIds"`
	NodeState        map[string]*NodeState `json:"nodeState"`
	Log              []LogEntry            `json:"log"`
	Result           *RunResult            `json:"result,omitempty"`
	Error            string                `json:"error,omitempty"`
	StartedAt        *time.Time            `json:"startedAt,omitempty"`
	FinishedAt       *time.Time            `json:"finishedAt,omitempty"`
}

// RunRecord is a finished or in-flight run as kept by a Store.
type RunRecord struct {
	ID          string    `json:"id"`
	WorkflowID  string    `json:"workflow_id"`
	StartStepID string    `json:"start_step_id"`
	Status      RunStatus `json:"status"`
	State       RunState  `json:"state"`
	Report      *Report   `json:"report,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WorkflowSummary is the listing view of a stored workflow.
type WorkflowSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Steps       int       `json:"steps"`
	LastUpdated time.Time `json:"last_updated"`
}
