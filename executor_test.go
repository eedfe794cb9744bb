package flowsim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	BaseObserver

	mu          sync.Mutex
	calls       []string
	starts      map[string]int
	processed   []int
	failures    map[string]string
	transitions map[string]bool
	inFlight    atomic.Int32
	overlapped  atomic.Bool
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		BaseObserver: NewBaseObserver("recording", PriorityNormal),
		starts:       make(map[string]int),
		failures:     make(map[string]string),
		transitions:  make(map[string]bool),
	}
}

func (o *recordingObserver) enter() func() {
	if o.inFlight.Add(1) > 1 {
		o.overlapped.Store(true)
	}
	time.Sleep(time.Millisecond)

	return func() { o.inFlight.Add(-1) }
}

func (o *recordingObserver) OnRunStart(context.Context, *RunInfo) error {
	defer o.enter()()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, "run_start")

	return nil
}

func (o *recordingObserver) OnStepStart(_ context.Context, _ *RunInfo, step *Step, processed int) error {
	defer o.enter()()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, "start:"+step.ID)
	o.starts[step.ID]++
	o.processed = append(o.processed, processed)

	return nil
}

func (o *recordingObserver) OnStepComplete(_ context.Context, _ *RunInfo, step *Step, outcome Outcome) error {
	defer o.enter()()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, "complete:"+step.ID+":"+string(outcome))

	return nil
}

func (o *recordingObserver) OnStepFailure(_ context.Context, _ *RunInfo, step *Step, err error) error {
	defer o.enter()()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, "failure:"+step.ID)
	o.failures[step.ID] = err.Error()

	return nil
}

func (o *recordingObserver) OnTransition(_ context.Context, _ *RunInfo, tr *Transition, fired bool) error {
	defer o.enter()()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions[tr.ID] = fired

	return nil
}

func (o *recordingObserver) OnRunFinish(context.Context, *RunInfo, *Report, error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, "run_finish")

	return nil
}

func step(id string, stepType StepType) Step {
	return Step{ID: id, Type: stepType, Name: id}
}

func edge(id, from, to string, condition Outcome) Transition {
	return Transition{ID: id, SourceStepID: from, TargetStepID: to, Condition: condition}
}

func testWorkflow(steps []Step, transitions []Transition) *Workflow {
	for i := range steps {
		for _, tr := range transitions {
			if tr.SourceStepID == steps[i].ID {
				steps[i].Transitions = append(steps[i].Transitions, tr.ID)
			}
		}
	}

	return &Workflow{ID: "wf", Name: "test", Steps: steps, Transitions: transitions}
}

func outcomes(byStep map[string]Outcome) StepExecutor {
	return StepFunc(func(_ context.Context, step *Step) (Outcome, error) {
		if outcome, ok := byStep[step.ID]; ok {
			return outcome, nil
		}

		return OutcomeSuccess, nil
	})
}

func TestExecutor_LinearSuccess(t *testing.T) {
	wf := testWorkflow(
		[]Step{step("start", StepTypeStart), step("sms", StepTypeSMS), step("end", StepTypeEnd)},
		[]Transition{
			edge("t1", "start", "sms", OutcomeSuccess),
			edge("t2", "sms", "end", OutcomeSuccess),
		},
	)
	obs := newRecordingObserver()

	report, err := Execute(context.Background(), wf, "start",
		WithStepExecutor(Always(OutcomeSuccess)),
		WithObservers(obs),
		WithRunID("run-1"),
	)

	require.NoError(t, err)
	require.NotNil(t, report)
	assert.True(t, report.Success())
	assert.Empty(t, obs.failures)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, "wf", report.WorkflowID)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, []string{"start", "sms", "end"}, report.Visited)
	assert.Equal(t, []int{0, 1, 2}, obs.processed)
	assert.Equal(t, []string{
		"run_start",
		"start:start", "complete:start:success",
		"start:sms", "complete:sms:success",
		"start:end", "complete:end:success",
		"run_finish",
	}, obs.calls)

	require.NotEmpty(t, report.Events)
	assert.Equal(t, EventRunStarted, report.Events[0].Type)
	assert.Equal(t, EventRunFinished, report.Events[len(report.Events)-1].Type)
	for i, event := range report.Events {
		assert.Equal(t, i+1, event.Seq)
	}
}

func TestExecutor_EndStepSkipsStepExecutor(t *testing.T) {
	wf := testWorkflow([]Step{step("end", StepTypeEnd)}, nil)

	var calls atomic.Int32
	hook := StepFunc(func(context.Context, *Step) (Outcome, error) {
		calls.Add(1)

		return OutcomeFailure, nil
	})

	report, err := Execute(context.Background(), wf, "end", WithStepExecutor(hook))

	require.NoError(t, err)
	assert.True(t, report.Success())
	assert.Zero(t, calls.Load())
}

func TestExecutor_DuplicateTransitionIsCircuit(t *testing.T) {
	wf := testWorkflow(
		[]Step{step("start", StepTypeStart), step("end", StepTypeEnd)},
		[]Transition{
			edge("t1", "start", "end", OutcomeSuccess),
			edge("t1", "start", "end", OutcomeSuccess),
		},
	)
	obs := newRecordingObserver()

	report, err := Execute(context.Background(), wf, "start", WithObservers(obs))

	require.ErrorIs(t, err, ErrCircuitDetected)
	assert.Nil(t, report)
	assert.Empty(t, obs.calls)
}

func TestExecutor_MissingStartStep(t *testing.T) {
	wf := testWorkflow([]Step{step("start", StepTypeStart)}, nil)
	obs := newRecordingObserver()

	report, err := Execute(context.Background(), wf, "nope", WithObservers(obs))

	require.ErrorIs(t, err, ErrStartStepUndefined)
	assert.Nil(t, report)
	assert.Empty(t, obs.calls)
}

func TestExecutor_NilWorkflow(t *testing.T) {
	obs := newRecordingObserver()

	report, err := Execute(context.Background(), nil, "start", WithObservers(obs))

	require.ErrorIs(t, err, ErrWorkflowUndefined)
	assert.Nil(t, report)
	assert.Empty(t, obs.calls)
}

func TestExecutor_MissingTargetFailsSourceStep(t *testing.T) {
	wf := testWorkflow(
		[]Step{step("start", StepTypeStart)},
		[]Transition{edge("t1", "start", "ghost", OutcomeSuccess)},
	)
	obs := newRecordingObserver()

	report, err := Execute(context.Background(), wf, "start",
		WithStepExecutor(Always(OutcomeSuccess)), WithObservers(obs))

	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "start", report.Failures[0].StepID)
	assert.ErrorIs(t, report.Failures[0].Err, ErrTargetStepUndefined)
	assert.Contains(t, obs.failures["start"], "ghost")
	assert.False(t, report.Success())
}

func TestExecutor_MissingTargetJoinsLaunchedSiblings(t *testing.T) {
	wf := testWorkflow(
		[]Step{step("start", StepTypeStart), step("end", StepTypeEnd)},
		[]Transition{
			edge("t1", "start", "end", OutcomeSuccess),
			edge("t2", "start", "ghost", OutcomeSuccess),
		},
	)
	obs := newRecordingObserver()

	report, err := Execute(context.Background(), wf, "start",
		WithStepExecutor(Always(OutcomeSuccess)), WithObservers(obs))

	require.NoError(t, err)
	assert.Equal(t, 1, obs.starts["end"])
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "start", report.Failures[0].StepID)
	assert.Equal(t, "failure:start", obs.calls[len(obs.calls)-2])
}

func TestExecutor_DeadBranch(t *testing.T) {
	wf := testWorkflow(
		[]Step{step("start", StepTypeStart), step("custom", StepTypeCustom), step("end", StepTypeEnd)},
		[]Transition{
			edge("t1", "start", "custom", OutcomeSuccess),
			edge("t2", "custom", "end", OutcomeSuccess),
		},
	)
	obs := newRecordingObserver()

	report, err := Execute(context.Background(), wf, "start",
		WithStepExecutor(outcomes(map[string]Outcome{"custom": OutcomeFailure})),
		WithObservers(obs))

	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "custom", report.Failures[0].StepID)
	assert.ErrorIs(t, report.Failures[0].Err, ErrDeadBranch)
	assert.Contains(t, obs.failures, "custom")
	assert.Zero(t, obs.starts["end"])
	assert.False(t, obs.transitions["t2"])
}

func TestExecutor_FailureFanOut(t *testing.T) {
	wf := testWorkflow(
		[]Step{
			step("start", StepTypeStart),
			step("email", StepTypeEmail),
			step("end-a", StepTypeEnd),
			step("end-b", StepTypeEnd),
			step("end-ok", StepTypeEnd),
		},
		[]Transition{
			edge("t1", "start", "email", OutcomeSuccess),
			edge("t2", "email", "end-ok", OutcomeSuccess),
			edge("t3", "email", "end-a", OutcomeFailure),
			edge("t4", "email", "end-b", OutcomeFailure),
		},
	)
	obs := newRecordingObserver()

	report, err := Execute(context.Background(), wf, "start",
		WithStepExecutor(outcomes(map[string]Outcome{"email": OutcomeFailure})),
		WithObservers(obs))

	require.NoError(t, err)
	assert.True(t, report.Success())
	assert.Equal(t, 1, obs.starts["end-a"])
	assert.Equal(t, 1, obs.starts["end-b"])
	assert.Zero(t, obs.starts["end-ok"])
	assert.Equal(t, map[string]bool{"t1": true, "t2": false, "t3": true, "t4": true}, obs.transitions)
	assert.Equal(t, 4, report.Processed)
}

func TestExecutor_MaxStepsExceeded(t *testing.T) {
	wf := testWorkflow(
		[]Step{step("a", StepTypeCustom), step("b", StepTypeCustom)},
		[]Transition{
			edge("t1", "a", "b", OutcomeSuccess),
			edge("t2", "b", "a", OutcomeSuccess),
		},
	)
	obs := newRecordingObserver()

	report, err := Execute(context.Background(), wf, "a",
		WithStepExecutor(Always(OutcomeSuccess)),
		WithMaxSteps(2),
		WithObservers(obs))

	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "a", report.Failures[0].StepID)
	assert.ErrorIs(t, report.Failures[0].Err, ErrMaxStepsExceeded)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, []string{"a", "b"}, report.Visited)
	assert.Equal(t, []int{0, 1, 2}, obs.processed)
}

func TestExecutor_SiblingBranchesContinueAfterFailure(t *testing.T) {
	wf := testWorkflow(
		[]Step{
			step("start", StepTypeStart),
			step("broken", StepTypeCustom),
			step("sms", StepTypeSMS),
			step("end", StepTypeEnd),
		},
		[]Transition{
			edge("t1", "start", "broken", OutcomeSuccess),
			edge("t2", "start", "sms", OutcomeSuccess),
			edge("t3", "sms", "end", OutcomeSuccess),
		},
	)
	obs := newRecordingObserver()

	report, err := Execute(context.Background(), wf, "start",
		WithStepExecutor(Always(OutcomeSuccess)), WithObservers(obs))

	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "broken", report.Failures[0].StepID)
	assert.Equal(t, 1, obs.starts["end"])
}

func TestExecutor_BranchesRunConcurrently(t *testing.T) {
	wf := testWorkflow(
		[]Step{
			step("start", StepTypeStart),
			step("left", StepTypeSMS),
			step("right", StepTypeEmail),
			step("end-l", StepTypeEnd),
			step("end-r", StepTypeEnd),
		},
		[]Transition{
			edge("t1", "start", "left", OutcomeSuccess),
			edge("t2", "start", "right", OutcomeSuccess),
			edge("t3", "left", "end-l", OutcomeSuccess),
			edge("t4", "right", "end-r", OutcomeSuccess),
		},
	)

	var barrier sync.WaitGroup
	barrier.Add(2)
	hook := StepFunc(func(ctx context.Context, step *Step) (Outcome, error) {
		if step.ID == "start" {
			return OutcomeSuccess, nil
		}

		barrier.Done()
		done := make(chan struct{})
		go func() {
			barrier.Wait()
			close(done)
		}()

		select {
		case <-done:
			return OutcomeSuccess, nil
		case <-time.After(2 * time.Second):
			return "", errors.New("branches did not overlap")
		}
	})
	obs := newRecordingObserver()

	report, err := Execute(context.Background(), wf, "start", WithStepExecutor(hook), WithObservers(obs))

	require.NoError(t, err)
	assert.True(t, report.Success())
	assert.Equal(t, 5, report.Processed)
	assert.False(t, obs.overlapped.Load(), "observer callbacks must not overlap")
}

func TestExecutor_HardFailures(t *testing.T) {
	wf := testWorkflow(
		[]Step{step("start", StepTypeStart), step("end", StepTypeEnd)},
		[]Transition{edge("t1", "start", "end", OutcomeSuccess)},
	)

	tests := []struct {
		name   string
		hook   StepExecutor
		target error
		substr string
	}{
		{
			name: "step executor error",
			hook: StepFunc(func(context.Context, *Step) (Outcome, error) {
				return "", errors.New("smtp down")
			}),
			substr: "smtp down",
		},
		{
			name: "panic",
			hook: StepFunc(func(context.Context, *Step) (Outcome, error) {
				panic("boom")
			}),
			substr: "panic in step",
		},
		{
			name:   "invalid outcome",
			hook:   Always("maybe"),
			target: ErrInvalidOutcome,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := newRecordingObserver()

			report, err := Execute(context.Background(), wf, "start",
				WithStepExecutor(tt.hook), WithObservers(obs))

			require.Error(t, err)
			assert.False(t, IsBranchError(err))
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
			if tt.substr != "" {
				assert.Contains(t, err.Error(), tt.substr)
			}
			require.NotNil(t, report)
			assert.Empty(t, report.Failures)
			assert.Empty(t, obs.failures)
			assert.Zero(t, obs.starts["end"])
		})
	}
}

func TestExecutor_ContextDeadline(t *testing.T) {
	wf := testWorkflow(
		[]Step{step("start", StepTypeStart), step("end", StepTypeEnd)},
		[]Transition{edge("t1", "start", "end", OutcomeSuccess)},
	)
	hook := StepFunc(func(ctx context.Context, _ *Step) (Outcome, error) {
		<-ctx.Done()

		return "", ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Execute(ctx, wf, "start", WithStepExecutor(hook))

	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecutor_HardFailureCancelsSiblings(t *testing.T) {
	wf := testWorkflow(
		[]Step{
			step("start", StepTypeStart),
			step("slow", StepTypeSMS),
			step("bad", StepTypeCustom),
			step("end", StepTypeEnd),
		},
		[]Transition{
			edge("t1", "start", "slow", OutcomeSuccess),
			edge("t2", "start", "bad", OutcomeSuccess),
			edge("t3", "slow", "end", OutcomeSuccess),
		},
	)
	hook := StepFunc(func(ctx context.Context, step *Step) (Outcome, error) {
		switch step.ID {
		case "slow":
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(2 * time.Second):
				return OutcomeSuccess, nil
			}
		case "bad":
			return "", errors.New("broken integration")
		default:
			return OutcomeSuccess, nil
		}
	})

	started := time.Now()
	_, err := Execute(context.Background(), wf, "start", WithStepExecutor(hook))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken integration")
	assert.Less(t, time.Since(started), time.Second)
}

type failingObserver struct {
	BaseObserver
}

func (failingObserver) OnStepStart(context.Context, *RunInfo, *Step, int) error {
	return errors.New("observer failure")
}

func TestExecutor_ObserverErrorsDoNotAbortRun(t *testing.T) {
	wf := testWorkflow(
		[]Step{step("start", StepTypeStart), step("end", StepTypeEnd)},
		[]Transition{edge("t1", "start", "end", OutcomeSuccess)},
	)

	report, err := Execute(context.Background(), wf, "start",
		WithStepExecutor(Always(OutcomeSuccess)),
		WithObservers(failingObserver{NewBaseObserver("failing", PriorityHigh)}))

	require.NoError(t, err)
	assert.True(t, report.Success())
	assert.Equal(t, 2, report.Processed)
}

func TestExecutor_IgnoresOrphanSteps(t *testing.T) {
	wf := testWorkflow(
		[]Step{step("start", StepTypeStart), step("orphan", StepTypeSMS), step("end", StepTypeEnd)},
		[]Transition{edge("t1", "start", "end", OutcomeSuccess)},
	)

	report, err := Execute(context.Background(), wf, "start", WithStepExecutor(Always(OutcomeSuccess)))

	require.NoError(t, err)
	assert.NotContains(t, report.Visited, "orphan")
}

func TestExecutor_DefaultsAndOverrides(t *testing.T) {
	wf := testWorkflow(
		[]Step{step("start", StepTypeStart), step("end", StepTypeEnd)},
		[]Transition{edge("t1", "start", "end", OutcomeSuccess)},
	)
	executor := NewExecutor(WithStepExecutor(Always(OutcomeFailure)))

	report, err := executor.Execute(context.Background(), wf, "start")
	require.NoError(t, err)
	assert.False(t, report.Success())
	assert.NotEmpty(t, report.RunID)

	report, err = executor.Execute(context.Background(), wf, "start", WithStepExecutor(Always(OutcomeSuccess)))
	require.NoError(t, err)
	assert.True(t, report.Success())
}

func TestExecutor_ReentrantRuns(t *testing.T) {
	wf := testWorkflow(
		[]Step{step("start", StepTypeStart), step("sms", StepTypeSMS), step("end", StepTypeEnd)},
		[]Transition{
			edge("t1", "start", "sms", OutcomeSuccess),
			edge("t2", "sms", "end", OutcomeSuccess),
		},
	)
	executor := NewExecutor(WithStepExecutor(Always(OutcomeSuccess)))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := executor.Execute(context.Background(), wf, "start", WithRunID(fmt.Sprintf("run-%d", i)))
			if err == nil && report.Processed != 3 {
				err = fmt.Errorf("run-%d processed %d steps", i, report.Processed)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
