package flowsim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
)

// StepExecutor runs the business action behind a step and reports its outcome.
// Execute may block; the executor waits for it before evaluating transitions.
type StepExecutor interface {
	Execute(ctx context.Context, step *Step) (Outcome, error)
}

type StepFunc func(ctx context.Context, step *Step) (Outcome, error)

func (fn StepFunc) Execute(ctx context.Context, step *Step) (Outcome, error) {
	return fn(ctx, step)
}

// Always returns a StepExecutor that yields the same outcome for every step.
func Always(outcome Outcome) StepExecutor {
	return StepFunc(func(context.Context, *Step) (Outcome, error) {
		return outcome, nil
	})
}

// RandomStepExecutor flips a coin for steps of one designated type and
// succeeds for every other type.
type RandomStepExecutor struct {
	stepType    StepType
	successRate float64
	rnd         *rand.Rand
	mu          sync.Mutex
}

func NewRandomStepExecutor(stepType StepType, successRate float64, rnd *rand.Rand) *RandomStepExecutor {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return &RandomStepExecutor{
		stepType:    stepType,
		successRate: successRate,
		rnd:         rnd,
	}
}

func (e *RandomStepExecutor) Execute(_ context.Context, step *Step) (Outcome, error) {
	if step.Type != e.stepType {
		return OutcomeSuccess, nil
	}

	e.mu.Lock()
	roll := e.rnd.Float64()
	e.mu.Unlock()

	if roll < e.successRate {
		return OutcomeSuccess, nil
	}

	return OutcomeFailure, nil
}

// DefaultStepExecutor is the demo stand-in: email steps succeed half of the time.
func DefaultStepExecutor() StepExecutor {
	return NewRandomStepExecutor(StepTypeEmail, 0.5, nil)
}

// StepRouter dispatches to a per-type executor and falls back to a default one.
type StepRouter struct {
	executors map[StepType]StepExecutor
	fallback  StepExecutor
	mu        sync.RWMutex
}

func NewStepRouter(fallback StepExecutor) *StepRouter {
	if fallback == nil {
		fallback = Always(OutcomeSuccess)
	}

	return &StepRouter{
		executors: make(map[StepType]StepExecutor),
		fallback:  fallback,
	}
}

func (r *StepRouter) Handle(stepType StepType, executor StepExecutor) *StepRouter {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.executors[stepType] = executor

	return r
}

func (r *StepRouter) Execute(ctx context.Context, step *Step) (Outcome, error) {
	r.mu.RLock()
	executor, ok := r.executors[step.Type]
	r.mu.RUnlock()

	if !ok {
		executor = r.fallback
	}

	return executor.Execute(ctx, step)
}

type noPanicStepExecutor struct {
	executor StepExecutor
}

func wrapPanicStepExecutor(executor StepExecutor) *noPanicStepExecutor {
	return &noPanicStepExecutor{executor: executor}
}

func (e *noPanicStepExecutor) Execute(ctx context.Context, step *Step) (outcome Outcome, errRes error) {
	defer func() {
		if r := recover(); r != nil {
			errRes = fmt.Errorf("panic in step %q: %v\n%s", step.ID, r, debug.Stack())
		}
	}()

	return e.executor.Execute(ctx, step)
}
