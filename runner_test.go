package flowsim

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, hook StepExecutor, opts ...RunnerOption) *Runner {
	t.Helper()

	store := NewMemoryStore()
	require.NoError(t, store.SaveWorkflow(t.Context(), &Snapshot{Workflow: *campaignWorkflow()}))

	opts = append([]RunnerOption{WithRunnerExecutor(NewExecutor(WithStepExecutor(hook)))}, opts...)

	return NewRunner(store, opts...)
}

func TestRunner_RunPersistsRecord(t *testing.T) {
	observer := newRecordingObserver()
	runner := newTestRunner(t, outcomes(map[string]Outcome{"email": OutcomeFailure}), WithRunnerObservers(observer))

	record, err := runner.Run(t.Context(), RunJob{RunID: "run-1", WorkflowID: "wf", StartStepID: "start"})

	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, record.Status)
	assert.Empty(t, record.Error)
	require.NotNil(t, record.Report)
	assert.Equal(t, "run-1", record.Report.RunID)

	stored, err := runner.Store().GetRun(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, stored.Status)
	assert.Equal(t, []string{"start", "email", "sms", "end"}, stored.State.CompletedStepIDs)
	require.NotNil(t, stored.State.Result)
	assert.True(t, stored.State.Result.Success)
	assert.Equal(t, 1, observer.starts["email"])
}

func TestRunner_RunRecordsHardFailure(t *testing.T) {
	hook := StepFunc(func(context.Context, *Step) (Outcome, error) {
		return "", errors.New("provider unavailable")
	})
	runner := newTestRunner(t, hook)

	record, err := runner.Run(t.Context(), RunJob{RunID: "run-2", WorkflowID: "wf", StartStepID: "start"})

	require.Error(t, err)
	require.NotNil(t, record)
	assert.Equal(t, RunStatusError, record.Status)
	assert.Contains(t, record.Error, "provider unavailable")

	stored, err := runner.Store().GetRun(t.Context(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, RunStatusError, stored.Status)
	assert.Contains(t, stored.State.Error, "provider unavailable")
}

func TestRunner_RunUnknownWorkflow(t *testing.T) {
	runner := newTestRunner(t, Always(OutcomeSuccess))

	_, err := runner.Run(t.Context(), RunJob{WorkflowID: "ghost", StartStepID: "start"})

	require.ErrorIs(t, err, ErrEntityNotFound)
}

func TestRunner_EnqueueKeepsCreationTime(t *testing.T) {
	runner := newTestRunner(t, Always(OutcomeSuccess))

	job, err := runner.Enqueue(t.Context(), "wf", "start")
	require.NoError(t, err)
	require.NotEmpty(t, job.RunID)

	pending, err := runner.Store().GetRun(t.Context(), job.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusIdle, pending.Status)

	record, err := runner.Run(t.Context(), job)
	require.NoError(t, err)
	assert.Equal(t, pending.CreatedAt, record.CreatedAt)

	runs, err := runner.Store().ListRuns(t.Context(), "wf")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunStatusCompleted, runs[0].Status)

	_, err = runner.Enqueue(t.Context(), "ghost", "start")
	require.ErrorIs(t, err, ErrEntityNotFound)
}

func TestRunner_RunExecutesWorkflow(t *testing.T) {
	var (
		runner  *Runner
		midRun  *RunRecord
		readErr error
	)
	hook := StepFunc(func(ctx context.Context, step *Step) (Outcome, error) {
		if step.ID == "email" {
			midRun, readErr = runner.Store().GetRun(ctx, "run-3")
		}

		return OutcomeSuccess, nil
	})
	runner = newTestRunner(t, hook)

	record, err := runner.Run(t.Context(), RunJob{RunID: "run-3", WorkflowID: "wf", StartStepID: "start"})

	require.NoError(t, err)
	require.NotNil(t, record.Report)
	assert.Equal(t, 3, record.Report.Processed)
	assert.Equal(t, RunStatusCompleted, record.Status)
	require.NotNil(t, record.State.Result)
	assert.Equal(t, 3, record.State.Result.Iterations)

	require.NoError(t, readErr)
	require.NotNil(t, midRun)
	assert.Equal(t, RunStatusRunning, midRun.Status)
	assert.Equal(t, RunStatusRunning, midRun.State.Status)
	assert.Nil(t, midRun.Report)
}
