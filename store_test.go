package flowsim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStoreContract exercises the behavior every Store implementation shares.
func testStoreContract(t *testing.T, store Store) {
	t.Helper()

	ctx := context.Background()

	t.Run("workflows", func(t *testing.T) {
		wf := sampleWorkflow()
		lastUpdated := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

		require.NoError(t, store.SaveWorkflow(ctx, &Snapshot{Workflow: wf, LastUpdated: lastUpdated}))

		got, err := store.GetWorkflow(ctx, "wf1")
		require.NoError(t, err)
		assert.Equal(t, wf, got.Workflow)
		assert.True(t, lastUpdated.Equal(got.LastUpdated))

		wf.Name = "Renamed"
		wf.Steps = append(wf.Steps, Step{ID: "step3", Type: StepTypeSMS, Name: "SMS", Transitions: []string{}})
		require.NoError(t, store.SaveWorkflow(ctx, &Snapshot{Workflow: wf, LastUpdated: lastUpdated.Add(time.Hour)}))

		other := sampleWorkflow()
		other.ID = "wf0"
		require.NoError(t, store.SaveWorkflow(ctx, &Snapshot{Workflow: other}))

		list, err := store.ListWorkflows(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "wf0", list[0].ID)
		assert.Equal(t, "wf1", list[1].ID)
		assert.Equal(t, "Renamed", list[1].Name)
		assert.Equal(t, 3, list[1].Steps)

		require.NoError(t, store.DeleteWorkflow(ctx, "wf0"))
		_, err = store.GetWorkflow(ctx, "wf0")
		require.ErrorIs(t, err, ErrEntityNotFound)
		require.ErrorIs(t, store.DeleteWorkflow(ctx, "wf0"), ErrEntityNotFound)

		err = store.SaveWorkflow(ctx, &Snapshot{Workflow: Workflow{Name: "no id"}})
		require.ErrorIs(t, err, ErrInvalidSnapshot)
	})

	t.Run("runs", func(t *testing.T) {
		tracker := NewTracker()
		tracker.StartSimulation("wf1", time.Time{})
		require.NoError(t, tracker.StepStarted("step1"))

		run := &RunRecord{
			ID:          "run-1",
			WorkflowID:  "wf1",
			StartStepID: "step1",
			Status:      RunStatusRunning,
			State:       tracker.State(),
		}
		require.NoError(t, store.SaveRun(ctx, run))
		createdAt := run.CreatedAt
		require.False(t, createdAt.IsZero())

		require.NoError(t, tracker.StepCompleted(StepUpdate{StepID: "step1", Outcome: OutcomeSuccess}))
		require.NoError(t, tracker.CompleteSimulation(RunResult{Success: true, CompletedSteps: []string{"step1"}, FailedSteps: []string{}, Iterations: 1}, time.Time{}))
		run.Status = RunStatusCompleted
		run.State = tracker.State()
		run.Report = &Report{RunID: "run-1", WorkflowID: "wf1", StartStepID: "step1", Processed: 1, Visited: []string{"step1"}}
		require.NoError(t, store.SaveRun(ctx, run))

		require.NoError(t, store.SaveRun(ctx, &RunRecord{
			ID: "run-2", WorkflowID: "wf1", StartStepID: "step1", Status: RunStatusError,
			State: RunState{Status: RunStatusError}, Error: "start step undefined",
		}))
		require.NoError(t, store.SaveRun(ctx, &RunRecord{
			ID: "run-3", WorkflowID: "other", StartStepID: "x", Status: RunStatusIdle,
		}))

		got, err := store.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, RunStatusCompleted, got.Status)
		assert.Equal(t, []string{"step1"}, got.State.CompletedStepIDs)
		assert.Equal(t, OutcomeSuccess, got.State.NodeState["step1"].Outcome)
		require.NotNil(t, got.State.Result)
		assert.True(t, got.State.Result.Success)
		require.NotNil(t, got.Report)
		assert.Equal(t, 1, got.Report.Processed)
		assert.WithinDuration(t, createdAt, got.CreatedAt, time.Millisecond)

		runs, err := store.ListRuns(ctx, "wf1")
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "run-1", runs[0].ID)
		assert.Equal(t, "run-2", runs[1].ID)
		assert.Equal(t, "start step undefined", runs[1].Error)
		assert.Nil(t, runs[1].Report)

		_, err = store.GetRun(ctx, "missing")
		require.ErrorIs(t, err, ErrEntityNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	wf := sampleWorkflow()
	require.NoError(t, store.SaveWorkflow(ctx, &Snapshot{Workflow: wf}))

	got, err := store.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	got.Workflow.Steps[0].Name = "mutated"

	again, err := store.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "Start", again.Workflow.Steps[0].Name)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	testStoreContract(t, store)
}

func TestSQLiteStore_MigrationsAreIdempotent(t *testing.T) {
	store, err := NewSQLiteInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, RunSQLiteMigrations(context.Background(), store.db))
}

func TestSplitSQLStatements(t *testing.T) {
	stmts := splitSQLStatements("-- header\nCREATE TABLE a (x INT);\n\n-- only comment\n;\nCREATE INDEX i ON a (x);")

	assert.Equal(t, []string{"-- header\nCREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}, stmts)
}
