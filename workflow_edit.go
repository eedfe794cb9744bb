package flowsim

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// NewDefaultWorkflow returns the blank campaign template: a start step wired to an end step.
func NewDefaultWorkflow() *Workflow {
	wf := &Workflow{
		ID:          uuid.NewString(),
		Name:        "New campaign",
		Description: "Initial marketing workflow",
		Steps:       []Step{},
		Transitions: []Transition{},
	}

	startID := wf.AddStep(StepTypeStart, "Start", Position{X: 120, Y: 200}).ID
	endID := wf.AddStep(StepTypeEnd, "End", Position{X: 640, Y: 200}).ID
	_, _ = wf.AddTransition(startID, endID, OutcomeSuccess)

	return wf
}

// AddStep appends a new step with a generated id. An empty name becomes
// TYPE-xxxx from the id prefix.
func (wf *Workflow) AddStep(stepType StepType, name string, position Position) *Step {
	id := uuid.NewString()
	if name == "" {
		name = fmt.Sprintf("%s-%s", strings.ToUpper(string(stepType)), id[:4])
	}

	wf.Steps = append(wf.Steps, Step{
		ID:          id,
		Type:        stepType,
		Name:        name,
		Position:    position,
		Transitions: []string{},
	})

	return &wf.Steps[len(wf.Steps)-1]
}

// RemoveStep deletes a step together with every transition touching it.
func (wf *Workflow) RemoveStep(stepID string) error {
	if wf.Step(stepID) == nil {
		return fmt.Errorf("step %q: %w", stepID, ErrEntityNotFound)
	}

	var removed []string
	wf.Transitions = slices.DeleteFunc(wf.Transitions, func(tr Transition) bool {
		if tr.SourceStepID == stepID || tr.TargetStepID == stepID {
			removed = append(removed, tr.ID)

			return true
		}

		return false
	})

	wf.Steps = slices.DeleteFunc(wf.Steps, func(step Step) bool {
		return step.ID == stepID
	})
	for i := range wf.Steps {
		wf.Steps[i].Transitions = slices.DeleteFunc(wf.Steps[i].Transitions, func(id string) bool {
			return slices.Contains(removed, id)
		})
	}

	return nil
}

// AddTransition connects two existing steps. Self loops and duplicate edges
// with the same condition are rejected.
func (wf *Workflow) AddTransition(sourceStepID, targetStepID string, condition Outcome) (*Transition, error) {
	if !condition.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, condition)
	}
	if sourceStepID == targetStepID {
		return nil, fmt.Errorf("%w: transition from %q to itself", ErrInvalidTransition, sourceStepID)
	}

	source := wf.Step(sourceStepID)
	if source == nil {
		return nil, fmt.Errorf("source step %q: %w", sourceStepID, ErrEntityNotFound)
	}
	if wf.Step(targetStepID) == nil {
		return nil, fmt.Errorf("target step %q: %w", targetStepID, ErrEntityNotFound)
	}

	for _, tr := range wf.Transitions {
		if tr.SourceStepID == sourceStepID && tr.TargetStepID == targetStepID && tr.Condition == condition {
			return nil, fmt.Errorf("%w: %q already connects %q to %q on %s",
				ErrInvalidTransition, tr.ID, sourceStepID, targetStepID, condition)
		}
	}

	tr := Transition{
		ID:           uuid.NewString(),
		SourceStepID: sourceStepID,
		TargetStepID: targetStepID,
		Condition:    condition,
	}
	wf.Transitions = append(wf.Transitions, tr)
	source.Transitions = append(source.Transitions, tr.ID)

	return &wf.Transitions[len(wf.Transitions)-1], nil
}

func (wf *Workflow) RemoveTransition(transitionID string) error {
	idx := slices.IndexFunc(wf.Transitions, func(tr Transition) bool {
		return tr.ID == transitionID
	})
	if idx < 0 {
		return fmt.Errorf("transition %q: %w", transitionID, ErrEntityNotFound)
	}

	sourceID := wf.Transitions[idx].SourceStepID
	wf.Transitions = slices.Delete(wf.Transitions, idx, idx+1)
	if source := wf.Step(sourceID); source != nil {
		source.Transitions = slices.DeleteFunc(source.Transitions, func(id string) bool {
			return id == transitionID
		})
	}

	return nil
}

// StepPatch lists the step fields to change. Nil fields are left as they are.
type StepPatch struct {
	Type     *StepType `json:"type,omitempty"`
	Name     *string   `json:"name,omitempty"`
	Position *Position `json:"position,omitempty"`
}

// UpdateStep renames, retypes or moves a step. Its id and transitions are kept.
func (wf *Workflow) UpdateStep(stepID string, patch StepPatch) (*Step, error) {
	step := wf.Step(stepID)
	if step == nil {
		return nil, fmt.Errorf("step %q: %w", stepID, ErrEntityNotFound)
	}
	if patch.Type != nil && !patch.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStepType, *patch.Type)
	}

	if patch.Type != nil {
		step.Type = *patch.Type
	}
	if patch.Name != nil {
		step.Name = *patch.Name
	}
	if patch.Position != nil {
		step.Position = *patch.Position
	}

	return step, nil
}

// TransitionPatch lists the transition fields to change. Nil fields are left as they are.
type TransitionPatch struct {
	SourceStepID *string  `json:"sourceStepId,omitempty"`
	TargetStepID *string  `json:"targetStepId,omitempty"`
	Condition    *Outcome `json:"condition,omitempty"`
}

// UpdateTransition rewires a transition or changes its condition, with the
// same checks as AddTransition. Moving it to another source keeps both
// steps' transition lists in sync.
func (wf *Workflow) UpdateTransition(transitionID string, patch TransitionPatch) (*Transition, error) {
	idx := slices.IndexFunc(wf.Transitions, func(tr Transition) bool {
		return tr.ID == transitionID
	})
	if idx < 0 {
		return nil, fmt.Errorf("transition %q: %w", transitionID, ErrEntityNotFound)
	}

	updated := wf.Transitions[idx]
	if patch.SourceStepID != nil {
		updated.SourceStepID = *patch.SourceStepID
	}
	if patch.TargetStepID != nil {
		updated.TargetStepID = *patch.TargetStepID
	}
	if patch.Condition != nil {
		updated.Condition = *patch.Condition
	}

	if !updated.Condition.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, updated.Condition)
	}
	if updated.SourceStepID == updated.TargetStepID {
		return nil, fmt.Errorf("%w: transition from %q to itself", ErrInvalidTransition, updated.SourceStepID)
	}
	if wf.Step(updated.SourceStepID) == nil {
		return nil, fmt.Errorf("source step %q: %w", updated.SourceStepID, ErrEntityNotFound)
	}
	if wf.Step(updated.TargetStepID) == nil {
		return nil, fmt.Errorf("target step %q: %w", updated.TargetStepID, ErrEntityNotFound)
	}
	for _, tr := range wf.Transitions {
		if tr.ID != transitionID && tr.SourceStepID == updated.SourceStepID &&
			tr.TargetStepID == updated.TargetStepID && tr.Condition == updated.Condition {
			return nil, fmt.Errorf("%w: %q already connects %q to %q on %s",
				ErrInvalidTransition, tr.ID, updated.SourceStepID, updated.TargetStepID, updated.Condition)
		}
	}

	previousSource := wf.Transitions[idx].SourceStepID
	if previousSource != updated.SourceStepID {
		if source := wf.Step(previousSource); source != nil {
			source.Transitions = slices.DeleteFunc(source.Transitions, func(id string) bool {
				return id == transitionID
			})
		}
		newSource := wf.Step(updated.SourceStepID)
		newSource.Transitions = append(newSource.Transitions, transitionID)
	}

	wf.Transitions[idx] = updated

	return &wf.Transitions[idx], nil
}
