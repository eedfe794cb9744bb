package flowsim

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

type ObserverPriority int

const (
	PriorityLow    ObserverPriority = 0
	PriorityNormal ObserverPriority = 50
	PriorityHigh   ObserverPriority = 100

	// PriorityTrace is reserved for the executor's own trace recorder, which runs first.
	PriorityTrace ObserverPriority = 1 << 20
)

// RunInfo identifies the run an observer callback belongs to.
type RunInfo struct {
	RunID       string
	WorkflowID  string
	StartStepID string
	Workflow    *Workflow
}

// Observer receives the execution events of a run.
// Callbacks of one run are never invoked concurrently.
type Observer interface {
	// Name returns unique observer identifier
	Name() string

	// Priority determines execution order (higher = earlier)
	Priority() ObserverPriority

	OnRunStart(ctx context.Context, run *RunInfo) error
	OnStepStart(ctx context.Context, run *RunInfo, step *Step, processed int) error
	OnStepComplete(ctx context.Context, run *RunInfo, step *Step, outcome Outcome) error
	OnStepFailure(ctx context.Context, run *RunInfo, step *Step, err error) error
	OnTransition(ctx context.Context, run *RunInfo, transition *Transition, fired bool) error
	OnRunFinish(ctx context.Context, run *RunInfo, report *Report, err error) error
}

// BaseObserver provides default no-op implementations
type BaseObserver struct {
	name     string
	priority ObserverPriority
}

func NewBaseObserver(name string, priority ObserverPriority) BaseObserver {
	return BaseObserver{name: name, priority: priority}
}

func (o BaseObserver) Name() string               { return o.name }
func (o BaseObserver) Priority() ObserverPriority { return o.priority }
func (o BaseObserver) OnRunStart(context.Context, *RunInfo) error {
	return nil
}
func (o BaseObserver) OnStepStart(context.Context, *RunInfo, *Step, int) error {
	return nil
}
func (o BaseObserver) OnStepComplete(context.Context, *RunInfo, *Step, Outcome) error {
	return nil
}
func (o BaseObserver) OnStepFailure(context.Context, *RunInfo, *Step, error) error {
	return nil
}
func (o BaseObserver) OnTransition(context.Context, *RunInfo, *Transition, bool) error {
	return nil
}
func (o BaseObserver) OnRunFinish(context.Context, *RunInfo, *Report, error) error {
	return nil
}

// ObserverManager fans callbacks out to the registered observers.
// Dispatch holds a single mutex, so concurrent branches are delivered one at a time.
type ObserverManager struct {
	observers []Observer
	mu        sync.RWMutex
	dispatch  sync.Mutex
}

func NewObserverManager(observers ...Observer) *ObserverManager {
	om := &ObserverManager{
		observers: make([]Observer, 0, len(observers)),
	}
	for _, observer := range observers {
		om.Register(observer)
	}

	return om
}

func (om *ObserverManager) Register(observer Observer) {
	if observer == nil {
		return
	}

	om.mu.Lock()
	defer om.mu.Unlock()

	om.observers = append(om.observers, observer)

	sort.SliceStable(om.observers, func(i, j int) bool {
		return om.observers[i].Priority() > om.observers[j].Priority()
	})
}

func (om *ObserverManager) Observers() []Observer {
	om.mu.RLock()
	defer om.mu.RUnlock()

	observers := make([]Observer, len(om.observers))
	copy(observers, om.observers)

	return observers
}

func (om *ObserverManager) each(hook string, call func(Observer) error) {
	om.mu.RLock()
	defer om.mu.RUnlock()

	om.dispatch.Lock()
	defer om.dispatch.Unlock()

	for _, observer := range om.observers {
		if err := call(observer); err != nil {
			slog.Error("[flowsim] observer error", "observer", observer.Name(), "hook", hook, "error", err)
		}
	}
}

func (om *ObserverManager) RunStart(ctx context.Context, run *RunInfo) {
	om.each("run_start", func(o Observer) error {
		return o.OnRunStart(ctx, run)
	})
}

func (om *ObserverManager) StepStart(ctx context.Context, run *RunInfo, step *Step, processed int) {
	om.each("step_start", func(o Observer) error {
		return o.OnStepStart(ctx, run, step, processed)
	})
}

func (om *ObserverManager) StepComplete(ctx context.Context, run *RunInfo, step *Step, outcome Outcome) {
	om.each("step_complete", func(o Observer) error {
		return o.OnStepComplete(ctx, run, step, outcome)
	})
}

func (om *ObserverManager) StepFailure(ctx context.Context, run *RunInfo, step *Step, err error) {
	om.each("step_failure", func(o Observer) error {
		return o.OnStepFailure(ctx, run, step, err)
	})
}

func (om *ObserverManager) Transition(ctx context.Context, run *RunInfo, transition *Transition, fired bool) {
	om.each("transition", func(o Observer) error {
		return o.OnTransition(ctx, run, transition, fired)
	})
}

func (om *ObserverManager) RunFinish(ctx context.Context, run *RunInfo, report *Report, err error) {
	om.each("run_finish", func(o Observer) error {
		return o.OnRunFinish(ctx, run, report, err)
	})
}
