package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/rom8726/flowsim"
)

var _ flowsim.Observer = (*MetricsPlugin)(nil)

// MetricsPlugin turns run events into collector calls. One instance may be
// shared by concurrent runs.
type MetricsPlugin struct {
	flowsim.BaseObserver

	collector     MetricsCollector
	runStartTimes map[string]time.Time
	// a step can be entered by several branches, so starts queue up per step
	stepStartTimes map[stepKey][]time.Time
	mu             sync.Mutex
	now            func() time.Time
}

type stepKey struct {
	runID  string
	stepID string
}

func New(collector MetricsCollector) *MetricsPlugin {
	return &MetricsPlugin{
		BaseObserver:   flowsim.NewBaseObserver("metrics", flowsim.PriorityHigh),
		collector:      collector,
		runStartTimes:  make(map[string]time.Time),
		stepStartTimes: make(map[stepKey][]time.Time),
		now:            time.Now,
	}
}

func (p *MetricsPlugin) OnRunStart(_ context.Context, run *flowsim.RunInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.runStartTimes[run.RunID] = p.now()

	if p.collector != nil {
		p.collector.RecordRunStarted(run.WorkflowID)
	}

	return nil
}

func (p *MetricsPlugin) OnRunFinish(_ context.Context, run *flowsim.RunInfo, _ *flowsim.Report, err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	startTime, ok := p.runStartTimes[run.RunID]
	if !ok {
		return nil
	}
	delete(p.runStartTimes, run.RunID)
	for key := range p.stepStartTimes {
		if key.runID == run.RunID {
			delete(p.stepStartTimes, key)
		}
	}

	status := flowsim.RunStatusCompleted
	if err != nil {
		status = flowsim.RunStatusError
	}

	if p.collector != nil {
		p.collector.RecordRunFinished(run.WorkflowID, status, p.now().Sub(startTime))
	}

	return nil
}

func (p *MetricsPlugin) OnStepStart(_ context.Context, run *flowsim.RunInfo, step *flowsim.Step, _ int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := stepKey{runID: run.RunID, stepID: step.ID}
	p.stepStartTimes[key] = append(p.stepStartTimes[key], p.now())

	if p.collector != nil {
		p.collector.RecordStepStarted(run.WorkflowID, step.ID, step.Type)
	}

	return nil
}

func (p *MetricsPlugin) OnStepComplete(
	_ context.Context,
	run *flowsim.RunInfo,
	step *flowsim.Step,
	outcome flowsim.Outcome,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	duration, ok := p.popStepDuration(run.RunID, step.ID)
	if !ok {
		return nil
	}

	if p.collector != nil {
		p.collector.RecordStepCompleted(run.WorkflowID, step.ID, step.Type, outcome, duration)
	}

	return nil
}

func (p *MetricsPlugin) OnStepFailure(_ context.Context, run *flowsim.RunInfo, step *flowsim.Step, _ error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// a step fails after completing when its transitions go nowhere
	duration, _ := p.popStepDuration(run.RunID, step.ID)

	if p.collector != nil {
		p.collector.RecordStepFailed(run.WorkflowID, step.ID, step.Type, duration)
	}

	return nil
}

func (p *MetricsPlugin) OnTransition(
	_ context.Context,
	run *flowsim.RunInfo,
	transition *flowsim.Transition,
	fired bool,
) error {
	if p.collector != nil {
		p.mu.Lock()
		p.collector.RecordTransition(run.WorkflowID, transition.Condition, fired)
		p.mu.Unlock()
	}

	return nil
}

func (p *MetricsPlugin) popStepDuration(runID, stepID string) (time.Duration, bool) {
	key := stepKey{runID: runID, stepID: stepID}

	starts := p.stepStartTimes[key]
	if len(starts) == 0 {
		return 0, false
	}

	if len(starts) == 1 {
		delete(p.stepStartTimes, key)
	} else {
		p.stepStartTimes[key] = starts[1:]
	}

	return p.now().Sub(starts[0]), true
}
