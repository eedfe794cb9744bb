package flowsim

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StepUpdate carries the payload of a step completion or failure.
type StepUpdate struct {
	StepID       string
	TransitionID string
	Outcome      Outcome
	Error        string
}

type TrackerOption func(t *Tracker)

func WithTrackerClock(clock func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

func WithTrackerIDGenerator(newID func() string) TrackerOption {
	return func(t *Tracker) {
		if newID != nil {
			t.newID = newID
		}
	}
}

// Tracker accumulates the progress of a single run. It is idle until
// StartSimulation and refuses mutations once the run has completed or failed.
type Tracker struct {
	mu    sync.Mutex
	state RunState
	clock func() time.Time
	newID func() string
}

func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		clock: time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.state = initialRunState()

	return t
}

func initialRunState() RunState {
	return RunState{
		Status:           RunStatusIdle,
		ActiveStepIDs:    []string{},
		CompletedStepIDs: []string{},
		FailedStepIDs:    []string{},
		NodeState:        map[string]*NodeState{},
		Log:              []LogEntry{},
	}
}

func (t *Tracker) now(ts time.Time) time.Time {
	if ts.IsZero() {
		return t.clock()
	}

	return ts
}

func (t *Tracker) mutable() error {
	if t.state.Status.Terminal() {
		return fmt.Errorf("%w: status %s", ErrRunFrozen, t.state.Status)
	}

	return nil
}

// running guards step and lifecycle mutations, which need a started run.
func (t *Tracker) running() error {
	if err := t.mutable(); err != nil {
		return err
	}
	if t.state.Status == RunStatusIdle {
		return ErrRunNotStarted
	}

	return nil
}

func (t *Tracker) node(stepID string) *NodeState {
	node, ok := t.state.NodeState[stepID]
	if !ok {
		node = &NodeState{StepID: stepID, Status: NodeStatusPending}
		t.state.NodeState[stepID] = node
	}

	return node
}

// StartSimulation discards any previous run and enters the running state.
func (t *Tracker) StartSimulation(workflowID string, startedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	started := t.now(startedAt)
	t.state = initialRunState()
	t.state.WorkflowID = workflowID
	t.state.Status = RunStatusRunning
	t.state.StartedAt = &started
}

func (t *Tracker) StepStarted(stepID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.running(); err != nil {
		return err
	}

	now := t.clock()
	node := t.node(stepID)
	node.Status = NodeStatusProcessing
	node.StartedAt = &now
	node.CompletedAt = nil
	node.Attempt++

	t.state.CurrentStepID = stepID
	if !slices.Contains(t.state.ActiveStepIDs, stepID) {
		t.state.ActiveStepIDs = append(t.state.ActiveStepIDs, stepID)
	}

	return nil
}

// StepCompleted marks a step as processed. Repeated calls leave a single
// entry in the completed list.
func (t *Tracker) StepCompleted(update StepUpdate) error {
	if update.Outcome != "" && !update.Outcome.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, update.Outcome)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.running(); err != nil {
		return err
	}

	t.finishNode(update, NodeStatusSuccess)
	if update.Outcome != "" {
		t.state.NodeState[update.StepID].Outcome = update.Outcome
	}

	if !slices.Contains(t.state.CompletedStepIDs, update.StepID) {
		t.state.CompletedStepIDs = append(t.state.CompletedStepIDs, update.StepID)
	}

	return nil
}

// StepFailed records a branch failure. An empty error keeps the previous run error.
func (t *Tracker) StepFailed(update StepUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.running(); err != nil {
		return err
	}

	t.finishNode(update, NodeStatusFailure)

	if !slices.Contains(t.state.FailedStepIDs, update.StepID) {
		t.state.FailedStepIDs = append(t.state.FailedStepIDs, update.StepID)
	}
	if update.Error != "" {
		t.state.Error = update.Error
	}

	return nil
}

func (t *Tracker) finishNode(update StepUpdate, status NodeStatus) {
	now := t.clock()
	node := t.node(update.StepID)
	node.Status = status
	node.CompletedAt = &now
	if update.TransitionID != "" {
		node.LastTransitionID = update.TransitionID
	}

	t.state.ActiveStepIDs = slices.DeleteFunc(t.state.ActiveStepIDs, func(id string) bool {
		return id == update.StepID
	})
}

// RecordTransition remembers the last transition fired out of a step.
func (t *Tracker) RecordTransition(stepID, transitionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.running(); err != nil {
		return err
	}

	t.node(stepID).LastTransitionID = transitionID

	return nil
}

// AppendLog assigns an id and, when missing, a timestamp, then appends the entry.
// Unlike step updates, log entries are accepted while the tracker is idle.
func (t *Tracker) AppendLog(entry LogEntry) (LogEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.mutable(); err != nil {
		return LogEntry{}, err
	}

	entry.ID = t.newID()
	entry.Timestamp = t.now(entry.Timestamp)
	if entry.Level == "" {
		entry.Level = LogLevelInfo
	}
	entry.Details = maps.Clone(entry.Details)

	t.state.Log = append(t.state.Log, entry)

	return entry, nil
}

func (t *Tracker) ClearLog() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.mutable(); err != nil {
		return err
	}

	t.state.Log = []LogEntry{}

	return nil
}

func (t *Tracker) CompleteSimulation(result RunResult, finishedAt time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.running(); err != nil {
		return err
	}

	finished := t.now(finishedAt)
	result.CompletedSteps = slices.Clone(result.CompletedSteps)
	result.FailedSteps = slices.Clone(result.FailedSteps)

	t.state.Status = RunStatusCompleted
	t.state.Result = &result
	t.state.FinishedAt = &finished
	t.state.CurrentStepID = ""
	t.state.ActiveStepIDs = []string{}

	return nil
}

func (t *Tracker) FailSimulation(message string, finishedAt time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.running(); err != nil {
		return err
	}

	finished := t.now(finishedAt)
	t.state.Status = RunStatusError
	t.state.Error = message
	t.state.FinishedAt = &finished
	t.state.CurrentStepID = ""
	t.state.ActiveStepIDs = []string{}

	return nil
}

// ResetSimulation returns the tracker to idle from any status.
func (t *Tracker) ResetSimulation() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = initialRunState()
}

func (t *Tracker) Status() RunStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state.Status
}

// State returns a deep copy of the current run state.
func (t *Tracker) State() RunState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state.Clone()
}

// Clone returns a deep copy of the state.
func (s RunState) Clone() RunState {
	clone := s
	clone.ActiveStepIDs = slices.Clone(s.ActiveStepIDs)
	clone.CompletedStepIDs = slices.Clone(s.CompletedStepIDs)
	clone.FailedStepIDs = slices.Clone(s.FailedStepIDs)

	if s.NodeState != nil {
		clone.NodeState = make(map[string]*NodeState, len(s.NodeState))
		for id, node := range s.NodeState {
			n := *node
			n.StartedAt = cloneTime(node.StartedAt)
			n.CompletedAt = cloneTime(node.CompletedAt)
			clone.NodeState[id] = &n
		}
	}

	if s.Log != nil {
		clone.Log = make([]LogEntry, len(s.Log))
		for i, entry := range s.Log {
			entry.Details = maps.Clone(entry.Details)
			clone.Log[i] = entry
		}
	}

	if s.Result != nil {
		result := *s.Result
		result.CompletedSteps = slices.Clone(s.Result.CompletedSteps)
		result.FailedSteps = slices.Clone(s.Result.FailedSteps)
		clone.Result = &result
	}

	clone.StartedAt = cloneTime(s.StartedAt)
	clone.FinishedAt = cloneTime(s.FinishedAt)

	return clone
}

func cloneTime(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	v := *ts

	return &v
}
