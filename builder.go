package flowsim

import (
	"errors"
	"fmt"
	"strings"
)

// Builder assembles a Workflow step by step. Step chains the new step to the
// current one on success; OnFailure and Connect add the other edges.
type Builder struct {
	id          string
	name        string
	description string
	version     string
	steps       []Step
	transitions []Transition
	index       map[string]int
	currentStep string
	errs        []error
}

func NewBuilder(name string) *Builder {
	return &Builder{
		name:  name,
		index: make(map[string]int),
	}
}

func (builder *Builder) WithID(id string) *Builder {
	builder.id = id

	return builder
}

func (builder *Builder) WithDescription(description string) *Builder {
	builder.description = description

	return builder
}

func (builder *Builder) WithVersion(version string) *Builder {
	builder.version = version

	return builder
}

func (builder *Builder) addStep(id string, stepType StepType, name string) bool {
	if _, ok := builder.index[id]; ok {
		builder.errs = append(builder.errs, fmt.Errorf("duplicate step %q", id))

		return false
	}

	builder.index[id] = len(builder.steps)
	builder.steps = append(builder.steps, Step{
		ID:          id,
		Type:        stepType,
		Name:        name,
		Transitions: []string{},
	})

	return true
}

// Step adds a step and links the current one to it on success.
func (builder *Builder) Step(id string, stepType StepType, name string) *Builder {
	if !builder.addStep(id, stepType, name) {
		return builder
	}

	if builder.currentStep != "" && builder.currentStep != id {
		builder.Connect(builder.currentStep, id, OutcomeSuccess)
	}

	builder.currentStep = id

	return builder
}

// Then is an alias for Step.
func (builder *Builder) Then(id string, stepType StepType, name string) *Builder {
	return builder.Step(id, stepType, name)
}

// OnFailure links the current step to target on failure, creating target
// when stepType is given. The current step does not change.
func (builder *Builder) OnFailure(target string, stepType StepType, name string) *Builder {
	if builder.currentStep == "" {
		builder.errs = append(builder.errs, fmt.Errorf("OnFailure %q called with no step", target))

		return builder
	}

	if _, ok := builder.index[target]; !ok && stepType != "" {
		builder.addStep(target, stepType, name)
	}

	return builder.Connect(builder.currentStep, target, OutcomeFailure)
}

// At sets the canvas position of the current step.
func (builder *Builder) At(x, y float64) *Builder {
	if idx, ok := builder.index[builder.currentStep]; ok {
		builder.steps[idx].Position = Position{X: x, Y: y}
	}

	return builder
}

// From makes an existing step current, to continue building another branch.
func (builder *Builder) From(id string) *Builder {
	if _, ok := builder.index[id]; !ok {
		builder.errs = append(builder.errs, fmt.Errorf("unknown step %q", id))

		return builder
	}

	builder.currentStep = id

	return builder
}

// Connect adds a transition between two steps. Unknown endpoints are reported by Build.
func (builder *Builder) Connect(from, to string, condition Outcome) *Builder {
	tr := Transition{
		ID:           fmt.Sprintf("%s-%s-%s", from, condition, to),
		SourceStepID: from,
		TargetStepID: to,
		Condition:    condition,
	}

	builder.transitions = append(builder.transitions, tr)
	if idx, ok := builder.index[from]; ok {
		builder.steps[idx].Transitions = append(builder.steps[idx].Transitions, tr.ID)
	}

	return builder
}

func (builder *Builder) Build() (*Workflow, error) {
	if builder.name == "" {
		return nil, errors.New("workflow name is required")
	}

	if len(builder.steps) == 0 {
		return nil, fmt.Errorf("builder %q: at least one step is required", builder.name)
	}

	if len(builder.errs) > 0 {
		return nil, fmt.Errorf("builder %q: %w", builder.name, errors.Join(builder.errs...))
	}

	id := builder.id
	if id == "" {
		id = slugify(builder.name)
	}

	wf := &Workflow{
		ID:          id,
		Name:        builder.name,
		Description: builder.description,
		Version:     builder.version,
		Steps:       builder.steps,
		Transitions: builder.transitions,
	}

	report := ValidateWorkflow(wf, "")
	if !report.Valid {
		return nil, fmt.Errorf("builder %q: %s", builder.name, strings.Join(report.Errors, "; "))
	}

	return wf.Clone(), nil
}

func slugify(name string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			dash = false
		case !dash && sb.Len() > 0:
			sb.WriteByte('-')
			dash = true
		}
	}

	return strings.TrimSuffix(sb.String(), "-")
}
