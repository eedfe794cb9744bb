package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/rom8726/flowsim"
)

var _ flowsim.Observer = (*AuditPlugin)(nil)

type AuditLogEntry struct {
	Timestamp    time.Time       `json:"timestamp"`
	EventType    string          `json:"event_type"`
	RunID        string          `json:"run_id"`
	WorkflowID   string          `json:"workflow_id"`
	StepID       string          `json:"step_id,omitempty"`
	StepType     string          `json:"step_type,omitempty"`
	Outcome      flowsim.Outcome `json:"outcome,omitempty"`
	TransitionID string          `json:"transition_id,omitempty"`
	Error        string          `json:"error,omitempty"`
	Processed    int             `json:"processed,omitempty"`
}

type Writer interface {
	Write(ctx context.Context, entry *AuditLogEntry) error
}

// AuditPlugin writes an entry for every run lifecycle event and every fired transition.
type AuditPlugin struct {
	flowsim.BaseObserver

	writer Writer
	now    func() time.Time
}

func New(writer Writer) *AuditPlugin {
	return &AuditPlugin{
		BaseObserver: flowsim.NewBaseObserver("audit", flowsim.PriorityNormal),
		writer:       writer,
		now:          time.Now,
	}
}

func (p *AuditPlugin) OnRunStart(ctx context.Context, run *flowsim.RunInfo) error {
	return p.logEvent(ctx, &AuditLogEntry{
		EventType:  "run_start",
		RunID:      run.RunID,
		WorkflowID: run.WorkflowID,
		StepID:     run.StartStepID,
	})
}

func (p *AuditPlugin) OnRunFinish(ctx context.Context, run *flowsim.RunInfo, report *flowsim.Report, err error) error {
	entry := &AuditLogEntry{
		EventType:  "run_complete",
		RunID:      run.RunID,
		WorkflowID: run.WorkflowID,
	}
	if report != nil {
		entry.Processed = report.Processed
	}
	if err != nil {
		entry.EventType = "run_failed"
		entry.Error = err.Error()
	}

	return p.logEvent(ctx, entry)
}

func (p *AuditPlugin) OnStepStart(ctx context.Context, run *flowsim.RunInfo, step *flowsim.Step, processed int) error {
	return p.logEvent(ctx, &AuditLogEntry{
		EventType:  "step_start",
		RunID:      run.RunID,
		WorkflowID: run.WorkflowID,
		StepID:     step.ID,
		StepType:   string(step.Type),
		Processed:  processed,
	})
}

func (p *AuditPlugin) OnStepComplete(
	ctx context.Context,
	run *flowsim.RunInfo,
	step *flowsim.Step,
	outcome flowsim.Outcome,
) error {
	return p.logEvent(ctx, &AuditLogEntry{
		EventType:  "step_complete",
		RunID:      run.RunID,
		WorkflowID: run.WorkflowID,
		StepID:     step.ID,
		StepType:   string(step.Type),
		Outcome:    outcome,
	})
}

func (p *AuditPlugin) OnStepFailure(ctx context.Context, run *flowsim.RunInfo, step *flowsim.Step, err error) error {
	entry := &AuditLogEntry{
		EventType:  "step_failed",
		RunID:      run.RunID,
		WorkflowID: run.WorkflowID,
		StepID:     step.ID,
		StepType:   string(step.Type),
	}
	if err != nil {
		entry.Error = err.Error()
	}

	return p.logEvent(ctx, entry)
}

func (p *AuditPlugin) OnTransition(
	ctx context.Context,
	run *flowsim.RunInfo,
	transition *flowsim.Transition,
	fired bool,
) error {
	if !fired {
		return nil
	}

	return p.logEvent(ctx, &AuditLogEntry{
		EventType:    "transition",
		RunID:        run.RunID,
		WorkflowID:   run.WorkflowID,
		StepID:       transition.SourceStepID,
		TransitionID: transition.ID,
		Outcome:      transition.Condition,
	})
}

func (p *AuditPlugin) logEvent(ctx context.Context, entry *AuditLogEntry) error {
	entry.Timestamp = p.now()

	return p.writer.Write(ctx, entry)
}

// SlogWriter writes audit entries as structured log records.
type SlogWriter struct {
	logger *slog.Logger
}

func NewSlogWriter(logger *slog.Logger) *SlogWriter {
	if logger == nil {
		logger = slog.Default()
	}

	return &SlogWriter{logger: logger}
}

func (w *SlogWriter) Write(ctx context.Context, entry *AuditLogEntry) error {
	attrs := []slog.Attr{
		slog.String("event_type", entry.EventType),
		slog.String("run_id", entry.RunID),
		slog.String("workflow_id", entry.WorkflowID),
		slog.Time("timestamp", entry.Timestamp),
	}
	if entry.StepID != "" {
		attrs = append(attrs, slog.String("step_id", entry.StepID))
	}
	if entry.StepType != "" {
		attrs = append(attrs, slog.String("step_type", entry.StepType))
	}
	if entry.Outcome != "" {
		attrs = append(attrs, slog.String("outcome", string(entry.Outcome)))
	}
	if entry.TransitionID != "" {
		attrs = append(attrs, slog.String("transition_id", entry.TransitionID))
	}
	if entry.Processed > 0 {
		attrs = append(attrs, slog.Int("processed", entry.Processed))
	}

	level := slog.LevelInfo
	if entry.Error != "" {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", entry.Error))
	}

	w.logger.LogAttrs(ctx, level, "[flowsim] audit", attrs...)

	return nil
}
