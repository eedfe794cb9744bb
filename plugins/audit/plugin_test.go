package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rom8726/flowsim"
)

type memoryWriter struct {
	mu      sync.Mutex
	entries []AuditLogEntry
}

func (w *memoryWriter) Write(_ context.Context, entry *AuditLogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, *entry)

	return nil
}

func (w *memoryWriter) types() []string {
	result := make([]string, 0, len(w.entries))
	for _, entry := range w.entries {
		result = append(result, entry.EventType)
	}

	return result
}

func TestAuditPlugin_RecordsRun(t *testing.T) {
	wf, err := flowsim.NewBuilder("audit").
		Step("start", flowsim.StepTypeStart, "Start").
		Step("email", flowsim.StepTypeEmail, "Email").
		Step("end", flowsim.StepTypeEnd, "End").
		Build()
	require.NoError(t, err)

	writer := &memoryWriter{}
	_, err = flowsim.Execute(t.Context(), wf, "start",
		flowsim.WithRunID("run-1"),
		flowsim.WithStepExecutor(flowsim.Always(flowsim.OutcomeSuccess)),
		flowsim.WithObservers(New(writer)))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"run_start",
		"step_start", "step_complete", "transition",
		"step_start", "step_complete", "transition",
		"step_start", "step_complete",
		"run_complete",
	}, writer.types())

	for _, entry := range writer.entries {
		assert.Equal(t, "run-1", entry.RunID)
		assert.Equal(t, "audit", entry.WorkflowID)
		assert.False(t, entry.Timestamp.IsZero())
	}
	assert.Equal(t, "start-success-email", writer.entries[3].TransitionID)
	assert.Equal(t, 3, writer.entries[len(writer.entries)-1].Processed)
}

func TestAuditPlugin_RecordsFailures(t *testing.T) {
	wf, err := flowsim.NewBuilder("audit").
		Step("start", flowsim.StepTypeStart, "Start").
		Step("email", flowsim.StepTypeEmail, "Email").
		Step("end", flowsim.StepTypeEnd, "End").
		Build()
	require.NoError(t, err)

	writer := &memoryWriter{}
	hook := flowsim.StepFunc(func(_ context.Context, step *flowsim.Step) (flowsim.Outcome, error) {
		if step.ID == "email" {
			return flowsim.OutcomeFailure, nil
		}

		return flowsim.OutcomeSuccess, nil
	})
	_, err = flowsim.Execute(t.Context(), wf, "start",
		flowsim.WithStepExecutor(hook), flowsim.WithObservers(New(writer)))
	require.NoError(t, err)

	types := writer.types()
	require.Contains(t, types, "step_failed")
	for _, entry := range writer.entries {
		if entry.EventType == "step_failed" {
			assert.Equal(t, "email", entry.StepID)
			assert.Contains(t, entry.Error, flowsim.ErrDeadBranch.Error())
		}
	}
}

func TestSlogWriter(t *testing.T) {
	var buf bytes.Buffer
	writer := NewSlogWriter(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, writer.Write(t.Context(), &AuditLogEntry{
		EventType:  "step_failed",
		RunID:      "run-1",
		WorkflowID: "wf",
		StepID:     "email",
		Error:      "boom",
	}))

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "[flowsim] audit", record["msg"])
	assert.Equal(t, "email", record["step_id"])
	assert.Equal(t, "boom", record["error"])
}
