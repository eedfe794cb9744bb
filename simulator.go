package flowsim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Simulator runs workflows against a Tracker, one run at a time.
type Simulator struct {
	tracker  *Tracker
	executor *Executor

	mu      sync.Mutex
	running bool
}

func NewSimulator(tracker *Tracker, executor *Executor) *Simulator {
	if tracker == nil {
		tracker = NewTracker()
	}
	if executor == nil {
		executor = NewExecutor()
	}

	return &Simulator{
		tracker:  tracker,
		executor: executor,
	}
}

func (s *Simulator) Tracker() *Tracker {
	return s.tracker
}

// Start executes wf and blocks until the run ends. Branch failures leave the
// run completed with the failed steps listed; structural and hard failures
// leave it in the error status and are returned.
func (s *Simulator) Start(ctx context.Context, wf *Workflow, startStepID string, opts ...Option) (*Report, error) {
	var workflowID string
	if wf != nil {
		workflowID = wf.ID
	}

	s.mu.Lock()
	if s.running || s.tracker.Status() == RunStatusRunning {
		s.mu.Unlock()

		return nil, ErrRunInProgress
	}
	s.running = true
	s.tracker.StartSimulation(workflowID, time.Time{})
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	opts = append(slices.Clone(opts), WithObservers(NewTrackerObserver(s.tracker)))

	report, err := s.executor.Execute(ctx, wf, startStepID, opts...)
	if err != nil {
		if failErr := s.tracker.FailSimulation(err.Error(), time.Time{}); failErr != nil {
			slog.Error("[flowsim] failed to mark run as failed", "workflow_id", workflowID, "error", failErr)
		}

		return report, err
	}

	state := s.tracker.State()
	result := RunResult{
		Success:        len(state.FailedStepIDs) == 0,
		CompletedSteps: state.CompletedStepIDs,
		FailedSteps:    state.FailedStepIDs,
		Iterations:     report.Processed,
	}
	if err := s.tracker.CompleteSimulation(result, report.FinishedAt); err != nil {
		return report, fmt.Errorf("complete run: %w", err)
	}

	return report, nil
}

// Reset returns the tracker to idle unless a run is in flight.
func (s *Simulator) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrRunInProgress
	}
	s.tracker.ResetSimulation()

	return nil
}

// TrackerObserver feeds executor events into a Tracker and its log.
type TrackerObserver struct {
	BaseObserver
	tracker *Tracker
}

func NewTrackerObserver(tracker *Tracker) *TrackerObserver {
	return &TrackerObserver{
		BaseObserver: NewBaseObserver("tracker", PriorityHigh),
		tracker:      tracker,
	}
}

func (o *TrackerObserver) log(entry LogEntry) error {
	_, err := o.tracker.AppendLog(entry)

	return err
}

func (o *TrackerObserver) OnRunStart(_ context.Context, run *RunInfo) error {
	return o.log(LogEntry{
		Level:   LogLevelInfo,
		Message: "Simulation started",
		Details: map[string]any{"startStepId": run.StartStepID, KeyRunID: run.RunID},
	})
}

func (o *TrackerObserver) OnStepStart(_ context.Context, _ *RunInfo, step *Step, _ int) error {
	if err := o.tracker.StepStarted(step.ID); err != nil {
		return err
	}

	return o.log(LogEntry{
		Level:   LogLevelInfo,
		Message: fmt.Sprintf("Step %s started", stepLabel(step)),
		StepID:  step.ID,
	})
}

func (o *TrackerObserver) OnStepComplete(_ context.Context, _ *RunInfo, step *Step, outcome Outcome) error {
	if err := o.tracker.StepCompleted(StepUpdate{StepID: step.ID, Outcome: outcome}); err != nil {
		return err
	}

	level := LogLevelSuccess
	if outcome == OutcomeFailure {
		level = LogLevelError
	}

	return o.log(LogEntry{
		Level:   level,
		Message: "Step completed",
		StepID:  step.ID,
		Details: map[string]any{KeyOutcome: string(outcome)},
	})
}

func (o *TrackerObserver) OnStepFailure(_ context.Context, _ *RunInfo, step *Step, err error) error {
	message := err.Error()
	if trackErr := o.tracker.StepFailed(StepUpdate{StepID: step.ID, Error: message}); trackErr != nil {
		return trackErr
	}

	return o.log(LogEntry{
		Level:   LogLevelError,
		Message: message,
		StepID:  step.ID,
	})
}

func (o *TrackerObserver) OnTransition(_ context.Context, _ *RunInfo, tr *Transition, fired bool) error {
	if fired {
		if err := o.tracker.RecordTransition(tr.SourceStepID, tr.ID); err != nil {
			return err
		}
	}

	return o.log(LogEntry{
		Level:        LogLevelInfo,
		Message:      "Transition evaluated",
		StepID:       tr.SourceStepID,
		TransitionID: tr.ID,
		Details: map[string]any{
			"target":    tr.TargetStepID,
			"condition": string(tr.Condition),
			KeyFired:    fired,
		},
	})
}

func (o *TrackerObserver) OnRunFinish(_ context.Context, _ *RunInfo, report *Report, err error) error {
	if err != nil {
		return o.log(LogEntry{Level: LogLevelError, Message: "Simulation failed", Details: map[string]any{KeyError: err.Error()}})
	}

	level := LogLevelSuccess
	if !report.Success() {
		level = LogLevelWarning
	}

	return o.log(LogEntry{
		Level:   level,
		Message: "Simulation finished",
		Details: map[string]any{KeyProcessed: report.Processed, "failures": len(report.Failures)},
	})
}

func stepLabel(step *Step) string {
	if step.Name != "" {
		return step.Name
	}

	return step.ID
}

// IsStructuralError reports whether err prevented a run from starting.
func IsStructuralError(err error) bool {
	return errors.Is(err, ErrWorkflowUndefined) ||
		errors.Is(err, ErrCircuitDetected) ||
		errors.Is(err, ErrStartStepUndefined)
}
