package flowsim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const DefaultMaxSteps = 10000

type Option func(cfg *runConfig)

type runConfig struct {
	stepExecutor StepExecutor
	maxSteps     int
	observers    []Observer
	runID        string
	clock        func() time.Time
}

func WithStepExecutor(executor StepExecutor) Option {
	return func(cfg *runConfig) {
		if executor != nil {
			cfg.stepExecutor = executor
		}
	}
}

// WithMaxSteps bounds the number of step visits of a run. Values below 1 are ignored.
func WithMaxSteps(n int) Option {
	return func(cfg *runConfig) {
		if n > 0 {
			cfg.maxSteps = n
		}
	}
}

func WithObservers(observers ...Observer) Option {
	return func(cfg *runConfig) {
		cfg.observers = append(cfg.observers, observers...)
	}
}

func WithRunID(id string) Option {
	return func(cfg *runConfig) {
		cfg.runID = id
	}
}

func WithClock(clock func() time.Time) Option {
	return func(cfg *runConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// StepFailure is a branch that ended without reaching an end step.
type StepFailure struct {
	StepID  string `json:"step_id"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Report summarizes a finished run.
type Report struct {
	RunID       string        `json:"run_id"`
	WorkflowID  string        `json:"workflow_id"`
	StartStepID string        `json:"start_step_id"`
	Events      []Event       `json:"events"`
	Processed   int           `json:"processed"`
	Visited     []string      `json:"visited"`
	Failures    []StepFailure `json:"failures"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

func (r *Report) Success() bool {
	return len(r.Failures) == 0
}

// Executor walks a workflow graph from a start step. It holds no run state
// and may execute any number of runs concurrently.
type Executor struct {
	opts []Option
}

func NewExecutor(opts ...Option) *Executor {
	return &Executor{opts: opts}
}

// Execute runs wf from startStepID with the package defaults.
func Execute(ctx context.Context, wf *Workflow, startStepID string, opts ...Option) (*Report, error) {
	return NewExecutor().Execute(ctx, wf, startStepID, opts...)
}

// Execute runs wf from startStepID. Options override the ones given to NewExecutor.
//
// Branch failures are reported through observers and Report.Failures while the
// remaining branches keep running. A non-nil error means the run could not start
// (ErrWorkflowUndefined, ErrCircuitDetected, ErrStartStepUndefined) or was aborted by a step executor
// error, an invalid outcome or context cancellation.
func (e *Executor) Execute(ctx context.Context, wf *Workflow, startStepID string, opts ...Option) (*Report, error) {
	cfg := &runConfig{
		maxSteps: DefaultMaxSteps,
		clock:    time.Now,
	}
	for _, opt := range e.opts {
		opt(cfg)
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.stepExecutor == nil {
		cfg.stepExecutor = DefaultStepExecutor()
	}
	if cfg.runID == "" {
		cfg.runID = uuid.NewString()
	}

	r, err := newRun(wf, startStepID, cfg)
	if err != nil {
		return nil, err
	}

	return r.execute(ctx)
}

type run struct {
	cfg       *runConfig
	info      *RunInfo
	steps     map[string]*Step
	outgoing  map[string][]*Transition
	start     *Step
	executor  StepExecutor
	observers *ObserverManager
	trace     *traceRecorder
	processed atomic.Int64

	mu       sync.Mutex
	visited  []string
	seen     map[string]struct{}
	failures []StepFailure
}

func newRun(wf *Workflow, startStepID string, cfg *runConfig) (*run, error) {
	if wf == nil {
		return nil, ErrWorkflowUndefined
	}

	steps := make(map[string]*Step, len(wf.Steps))
	for i := range wf.Steps {
		step := &wf.Steps[i]
		if _, exists := steps[step.ID]; !exists {
			steps[step.ID] = step
		}
	}

	outgoing := make(map[string][]*Transition)
	for i := range wf.Transitions {
		tr := &wf.Transitions[i]
		for _, existing := range outgoing[tr.SourceStepID] {
			if existing.ID == tr.ID {
				return nil, fmt.Errorf("%w: transition %q repeats on step %q",
					ErrCircuitDetected, tr.ID, tr.SourceStepID)
			}
		}
		outgoing[tr.SourceStepID] = append(outgoing[tr.SourceStepID], tr)
	}

	start, ok := steps[startStepID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStartStepUndefined, startStepID)
	}

	trace := newTraceRecorder(cfg.clock)
	observers := NewObserverManager(trace)
	for _, observer := range cfg.observers {
		observers.Register(observer)
	}

	return &run{
		cfg: cfg,
		info: &RunInfo{
			RunID:       cfg.runID,
			WorkflowID:  wf.ID,
			StartStepID: startStepID,
			Workflow:    wf,
		},
		steps:     steps,
		outgoing:  outgoing,
		start:     start,
		executor:  wrapPanicStepExecutor(cfg.stepExecutor),
		observers: observers,
		trace:     trace,
		seen:      make(map[string]struct{}),
	}, nil
}

func (r *run) execute(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:       r.info.RunID,
		WorkflowID:  r.info.WorkflowID,
		StartStepID: r.info.StartStepID,
		StartedAt:   r.cfg.clock(),
	}

	r.observers.RunStart(ctx, r.info)

	err := r.runBranch(ctx, r.start)

	r.mu.Lock()
	report.Processed = int(r.processed.Load())
	report.Visited = append([]string(nil), r.visited...)
	report.Failures = append([]StepFailure(nil), r.failures...)
	r.mu.Unlock()
	report.FinishedAt = r.cfg.clock()

	r.observers.RunFinish(ctx, r.info, report, err)
	report.Events = r.trace.Events()

	return report, err
}

// runBranch walks one branch and absorbs its branch-scoped failure.
func (r *run) runBranch(ctx context.Context, step *Step) error {
	err := r.walk(ctx, step)
	if err == nil {
		return nil
	}

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		return err
	}

	r.mu.Lock()
	r.failures = append(r.failures, StepFailure{
		StepID:  stepErr.Step.ID,
		Message: stepErr.Error(),
		Err:     stepErr,
	})
	r.mu.Unlock()

	r.observers.StepFailure(ctx, r.info, stepErr.Step, stepErr)

	return nil
}

func (r *run) walk(ctx context.Context, step *Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	processed := r.processed.Add(1)
	r.observers.StepStart(ctx, r.info, step, int(processed-1))
	r.markVisited(step.ID)

	if processed > int64(r.cfg.maxSteps) {
		return newStepError(step, ErrMaxStepsExceeded, "")
	}

	if step.Type == StepTypeEnd {
		r.observers.StepComplete(ctx, r.info, step, OutcomeSuccess)

		return nil
	}

	outcome, err := r.executor.Execute(ctx, step)
	if err != nil {
		return fmt.Errorf("execute step %q: %w", step.ID, err)
	}
	if !outcome.Valid() {
		return fmt.Errorf("%w: step %q returned %q", ErrInvalidOutcome, step.ID, outcome)
	}

	r.observers.StepComplete(ctx, r.info, step, outcome)

	var fired []*Transition
	for _, tr := range r.outgoing[step.ID] {
		ok := tr.Condition == outcome
		r.observers.Transition(ctx, r.info, tr, ok)
		if ok {
			fired = append(fired, tr)
		}
	}

	if len(fired) == 0 {
		return newStepError(step, ErrDeadBranch, "")
	}

	group, groupCtx := errgroup.WithContext(ctx)

	var missing *StepError
	for _, tr := range fired {
		target, ok := r.steps[tr.TargetStepID]
		if !ok {
			missing = newStepError(step, ErrTargetStepUndefined, tr.TargetStepID)

			break
		}

		group.Go(func() error {
			return r.runBranch(groupCtx, target)
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}
	if missing != nil {
		return missing
	}

	return nil
}

func (r *run) markVisited(stepID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[stepID]; ok {
		return
	}
	r.seen[stepID] = struct{}{}
	r.visited = append(r.visited, stepID)
}
