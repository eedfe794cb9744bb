package flowsim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RunJob asks for one execution of a stored workflow.
type RunJob struct {
	RunID       string `json:"run_id"`
	WorkflowID  string `json:"workflow_id"`
	StartStepID string `json:"start_step_id"`
}

type RunnerOption func(r *Runner)

// WithRunnerObservers attaches observers to every run, e.g. metrics or tracing.
func WithRunnerObservers(observers ...Observer) RunnerOption {
	return func(r *Runner) {
		r.observers = append(r.observers, observers...)
	}
}

func WithRunnerExecutor(executor *Executor) RunnerOption {
	return func(r *Runner) {
		if executor != nil {
			r.executor = executor
		}
	}
}

// Runner executes stored workflows and persists their run records.
type Runner struct {
	store     Store
	executor  *Executor
	observers []Observer
}

func NewRunner(store Store, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:    store,
		executor: NewExecutor(),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Runner) Store() Store {
	return r.store
}

// Enqueue records a pending run and returns its job.
func (r *Runner) Enqueue(ctx context.Context, workflowID, startStepID string) (RunJob, error) {
	if _, err := r.store.GetWorkflow(ctx, workflowID); err != nil {
		return RunJob{}, err
	}

	job := RunJob{
		RunID:       uuid.NewString(),
		WorkflowID:  workflowID,
		StartStepID: startStepID,
	}

	record := &RunRecord{
		ID:          job.RunID,
		WorkflowID:  workflowID,
		StartStepID: startStepID,
		Status:      RunStatusIdle,
		State:       initialRunState(),
	}
	if err := r.store.SaveRun(ctx, record); err != nil {
		return RunJob{}, fmt.Errorf("save pending run: %w", err)
	}

	return job, nil
}

// Run executes job and stores the outcome. The returned error is the run
// error, or a store error when the record could not be written.
func (r *Runner) Run(ctx context.Context, job RunJob) (*RunRecord, error) {
	if job.RunID == "" {
		job.RunID = uuid.NewString()
	}

	snapshot, err := r.store.GetWorkflow(ctx, job.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	wf := &snapshot.Workflow

	tracker := NewTracker()
	record := &RunRecord{
		ID:          job.RunID,
		WorkflowID:  wf.ID,
		StartStepID: job.StartStepID,
		Status:      RunStatusRunning,
	}

	existing, err := r.store.GetRun(ctx, job.RunID)
	switch {
	case err == nil:
		record.CreatedAt = existing.CreatedAt
	case !errors.Is(err, ErrEntityNotFound):
		return nil, fmt.Errorf("load run: %w", err)
	}

	// the simulator starts the tracker; until then the stored state only announces the run
	startedAt := time.Now().UTC()
	record.State = initialRunState()
	record.State.WorkflowID = wf.ID
	record.State.Status = RunStatusRunning
	record.State.StartedAt = &startedAt
	if err := r.store.SaveRun(ctx, record); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}

	simulator := NewSimulator(tracker, r.executor)
	report, runErr := simulator.Start(ctx, wf, job.StartStepID,
		WithRunID(job.RunID),
		WithObservers(r.observers...),
	)

	record.State = tracker.State()
	record.Status = record.State.Status
	record.Report = report
	if runErr != nil {
		record.Error = runErr.Error()
	}

	// the run context may be cancelled already; the record still has to land
	saveCtx := context.WithoutCancel(ctx)
	if err := r.store.SaveRun(saveCtx, record); err != nil {
		slog.Error("[flowsim] failed to save run", "run_id", job.RunID, "error", err)

		return record, errors.Join(runErr, fmt.Errorf("save run: %w", err))
	}

	return record, runErr
}

// Abandon marks a pending run as failed when its job never reached a worker.
func (r *Runner) Abandon(ctx context.Context, job RunJob, cause error) error {
	record, err := r.store.GetRun(ctx, job.RunID)
	if err != nil {
		return err
	}

	record.Status = RunStatusError
	record.Error = cause.Error()
	record.State.Status = RunStatusError
	record.State.Error = cause.Error()

	return r.store.SaveRun(ctx, record)
}
