package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rom8726/flowsim"
)

var _ flowsim.Observer = (*TelemetryPlugin)(nil)

type spanEntry struct {
	span      trace.Span
	createdAt time.Time
}

type runEntry struct {
	ctx       context.Context
	span      trace.Span
	createdAt time.Time
}

type stepKey struct {
	runID  string
	stepID string
}

// TelemetryPlugin opens one span per run and one child span per step visit.
// Transitions and branch failures become events on the run span.
type TelemetryPlugin struct {
	flowsim.BaseObserver

	tracer trace.Tracer
	mu     sync.Mutex
	runs   map[string]*runEntry
	// a step entered by several branches has several open spans
	steps      map[stepKey][]*spanEntry
	defaultTTL time.Duration
}

type TelemetryOption func(*TelemetryPlugin)

func WithDefaultTTL(ttl time.Duration) TelemetryOption {
	return func(p *TelemetryPlugin) {
		p.defaultTTL = ttl
	}
}

func New(tracer trace.Tracer, opts ...TelemetryOption) *TelemetryPlugin {
	if tracer == nil {
		tracer = otel.Tracer("flowsim")
	}

	plugin := &TelemetryPlugin{
		BaseObserver: flowsim.NewBaseObserver("telemetry", flowsim.PriorityHigh),
		tracer:       tracer,
		runs:         make(map[string]*runEntry),
		steps:        make(map[stepKey][]*spanEntry),
		defaultTTL:   1 * time.Hour,
	}

	for _, opt := range opts {
		opt(plugin)
	}

	return plugin
}

func (p *TelemetryPlugin) OnRunStart(ctx context.Context, run *flowsim.RunInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	spanName := fmt.Sprintf("workflow.%s", run.WorkflowID)
	runCtx, span := p.tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindInternal))

	span.SetAttributes(
		attribute.String("run.id", run.RunID),
		attribute.String("run.workflow_id", run.WorkflowID),
		attribute.String("run.start_step_id", run.StartStepID),
	)

	p.runs[run.RunID] = &runEntry{
		ctx:       runCtx,
		span:      span,
		createdAt: time.Now(),
	}

	p.cleanupExpired()

	return nil
}

func (p *TelemetryPlugin) OnRunFinish(_ context.Context, run *flowsim.RunInfo, report *flowsim.Report, err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, entries := range p.steps {
		if key.runID != run.RunID {
			continue
		}
		for _, entry := range entries {
			entry.span.SetStatus(codes.Error, "run aborted")
			entry.span.End()
		}
		delete(p.steps, key)
	}

	entry, ok := p.runs[run.RunID]
	if !ok {
		return nil
	}
	delete(p.runs, run.RunID)

	if report != nil {
		entry.span.SetAttributes(
			attribute.Int("run.processed", report.Processed),
			attribute.Int("run.failures", len(report.Failures)),
		)
	}

	if err != nil {
		entry.span.RecordError(err)
		entry.span.SetStatus(codes.Error, "run failed")
	} else {
		entry.span.SetStatus(codes.Ok, "run completed")
	}
	entry.span.End()

	return nil
}

func (p *TelemetryPlugin) OnStepStart(ctx context.Context, run *flowsim.RunInfo, step *flowsim.Step, processed int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stepCtx := ctx
	if entry, ok := p.runs[run.RunID]; ok {
		stepCtx = entry.ctx
	}

	spanName := fmt.Sprintf("step.%s", step.ID)
	_, span := p.tracer.Start(stepCtx, spanName, trace.WithSpanKind(trace.SpanKindInternal))

	span.SetAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.type", string(step.Type)),
		attribute.String("step.name", step.Name),
		attribute.Int("step.processed", processed),
		attribute.String("run.id", run.RunID),
		attribute.String("run.workflow_id", run.WorkflowID),
	)

	key := stepKey{runID: run.RunID, stepID: step.ID}
	p.steps[key] = append(p.steps[key], &spanEntry{
		span:      span,
		createdAt: time.Now(),
	})

	return nil
}

func (p *TelemetryPlugin) OnStepComplete(
	_ context.Context,
	run *flowsim.RunInfo,
	step *flowsim.Step,
	outcome flowsim.Outcome,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry := p.popStep(run.RunID, step.ID)
	if entry == nil {
		return nil
	}

	entry.span.SetAttributes(attribute.String("step.outcome", string(outcome)))
	entry.span.SetStatus(codes.Ok, "step completed")
	entry.span.End()

	return nil
}

func (p *TelemetryPlugin) OnStepFailure(_ context.Context, run *flowsim.RunInfo, step *flowsim.Step, err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// the step span is usually closed already: dead branches and missing
	// targets are detected after the step completed
	if entry := p.popStep(run.RunID, step.ID); entry != nil {
		entry.span.RecordError(err)
		entry.span.SetStatus(codes.Error, "step failed")
		entry.span.End()
	}

	if runEntry, ok := p.runs[run.RunID]; ok {
		runEntry.span.AddEvent("branch.failed", trace.WithAttributes(
			attribute.String("step.id", step.ID),
			attribute.String("error", err.Error()),
		))
	}

	return nil
}

func (p *TelemetryPlugin) OnTransition(
	_ context.Context,
	run *flowsim.RunInfo,
	transition *flowsim.Transition,
	fired bool,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.runs[run.RunID]
	if !ok {
		return nil
	}

	entry.span.AddEvent("transition", trace.WithAttributes(
		attribute.String("transition.id", transition.ID),
		attribute.String("transition.source", transition.SourceStepID),
		attribute.String("transition.target", transition.TargetStepID),
		attribute.String("transition.condition", string(transition.Condition)),
		attribute.Bool("transition.fired", fired),
	))

	return nil
}

func (p *TelemetryPlugin) popStep(runID, stepID string) *spanEntry {
	key := stepKey{runID: runID, stepID: stepID}

	entries := p.steps[key]
	if len(entries) == 0 {
		return nil
	}

	if len(entries) == 1 {
		delete(p.steps, key)
	} else {
		p.steps[key] = entries[1:]
	}

	return entries[0]
}

func (p *TelemetryPlugin) cleanupExpired() {
	now := time.Now()

	for key, entries := range p.steps {
		kept := entries[:0]
		for _, entry := range entries {
			if now.Sub(entry.createdAt) > p.defaultTTL {
				entry.span.SetStatus(codes.Error, "span expired due to TTL")
				entry.span.End()

				continue
			}
			kept = append(kept, entry)
		}
		if len(kept) == 0 {
			delete(p.steps, key)
		} else {
			p.steps[key] = kept
		}
	}

	for runID, entry := range p.runs {
		if now.Sub(entry.createdAt) > p.defaultTTL {
			entry.span.SetStatus(codes.Error, "span expired due to TTL")
			entry.span.End()
			delete(p.runs, runID)
		}
	}
}
