package flowsim

import (
	"context"
	"time"
)

type EventType string

const (
	// Event types
	EventRunStarted          EventType = "run_started"
	EventStepStarted         EventType = "step_started"
	EventStepCompleted       EventType = "step_completed"
	EventStepFailed          EventType = "step_failed"
	EventTransitionEvaluated EventType = "transition_evaluated"
	EventRunFinished         EventType = "run_finished"

	// Log detail keys
	KeyWorkflowID   = "workflow_id"
	KeyRunID        = "run_id"
	KeyStepID       = "step_id"
	KeyStepType     = "step_type"
	KeyTransitionID = "transition_id"
	KeyTargetStepID = "target_step_id"
	KeyOutcome      = "outcome"
	KeyProcessed    = "processed"
	KeyFired        = "fired"
	KeyError        = "error"
)

// Event is one entry of the execution trace kept in a Report.
type Event struct {
	Seq          int       `json:"seq"`
	Type         EventType `json:"type"`
	At           time.Time `json:"at"`
	StepID       string    `json:"step_id,omitempty"`
	StepType     StepType  `json:"step_type,omitempty"`
	TransitionID string    `json:"transition_id,omitempty"`
	TargetStepID string    `json:"target_step_id,omitempty"`
	Outcome      Outcome   `json:"outcome,omitempty"`
	Processed    int       `json:"processed,omitempty"`
	Fired        bool      `json:"fired,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// traceRecorder turns observer callbacks into the ordered event trace of a run.
type traceRecorder struct {
	BaseObserver
	clock  func() time.Time
	events []Event
}

func newTraceRecorder(clock func() time.Time) *traceRecorder {
	return &traceRecorder{
		BaseObserver: NewBaseObserver("trace", PriorityTrace),
		clock:        clock,
	}
}

func (r *traceRecorder) record(event Event) {
	event.Seq = len(r.events) + 1
	event.At = r.clock()
	r.events = append(r.events, event)
}

func (r *traceRecorder) OnRunStart(_ context.Context, run *RunInfo) error {
	r.record(Event{Type: EventRunStarted, StepID: run.StartStepID})

	return nil
}

func (r *traceRecorder) OnStepStart(_ context.Context, _ *RunInfo, step *Step, processed int) error {
	r.record(Event{Type: EventStepStarted, StepID: step.ID, StepType: step.Type, Processed: processed})

	return nil
}

func (r *traceRecorder) OnStepComplete(_ context.Context, _ *RunInfo, step *Step, outcome Outcome) error {
	r.record(Event{Type: EventStepCompleted, StepID: step.ID, StepType: step.Type, Outcome: outcome})

	return nil
}

func (r *traceRecorder) OnStepFailure(_ context.Context, _ *RunInfo, step *Step, err error) error {
	r.record(Event{Type: EventStepFailed, StepID: step.ID, StepType: step.Type, Message: err.Error()})

	return nil
}

func (r *traceRecorder) OnTransition(_ context.Context, _ *RunInfo, tr *Transition, fired bool) error {
	r.record(Event{
		Type:         EventTransitionEvaluated,
		StepID:       tr.SourceStepID,
		TransitionID: tr.ID,
		TargetStepID: tr.TargetStepID,
		Outcome:      tr.Condition,
		Fired:        fired,
	})

	return nil
}

func (r *traceRecorder) OnRunFinish(_ context.Context, _ *RunInfo, report *Report, err error) error {
	event := Event{Type: EventRunFinished, Processed: report.Processed}
	if err != nil {
		event.Message = err.Error()
	}
	r.record(event)

	return nil
}

// Events returns a copy of the recorded trace.
func (r *traceRecorder) Events() []Event {
	events := make([]Event, len(r.events))
	copy(events, r.events)

	return events
}
