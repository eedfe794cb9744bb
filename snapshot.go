package flowsim

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ExportSnapshot wraps wf in a snapshot envelope stamped with the current time.
func ExportSnapshot(wf *Workflow, pretty bool) ([]byte, error) {
	return MarshalSnapshot(Snapshot{Workflow: *wf, LastUpdated: time.Now().UTC()}, pretty)
}

// MarshalSnapshot encodes a snapshot. Nil step and transition lists are
// written as empty arrays so the result passes ImportSnapshot.
func MarshalSnapshot(snapshot Snapshot, pretty bool) ([]byte, error) {
	wf := snapshot.Workflow.Clone()
	if wf.Steps == nil {
		wf.Steps = []Step{}
	}
	for i := range wf.Steps {
		if wf.Steps[i].Transitions == nil {
			wf.Steps[i].Transitions = []string{}
		}
	}
	if wf.Transitions == nil {
		wf.Transitions = []Transition{}
	}
	snapshot.Workflow = *wf

	if pretty {
		return json.MarshalIndent(snapshot, "", "  ")
	}

	return json.Marshal(snapshot)
}

// ImportSnapshot decodes and validates a snapshot envelope.
func ImportSnapshot(data []byte) (*Snapshot, error) {
	return ParseSnapshot(bytes.NewReader(data))
}

// ParseSnapshot reads a snapshot envelope from r. Every field of the
// workflow, its steps and its transitions must be present; enum values and
// the workflow name are checked. Unknown fields are ignored.
func ParseSnapshot(r io.Reader) (*Snapshot, error) {
	var wire wireSnapshot
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	var problems schemaProblems
	snapshot := wire.convert(&problems)
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSnapshot, problems.Error())
	}

	return snapshot, nil
}

type schemaProblems []string

func (p *schemaProblems) add(path, msg string) {
	*p = append(*p, path+": "+msg)
}

func (p schemaProblems) Error() string {
	return strings.Join(p, "; ")
}

type wireSnapshot struct {
	Workflow    *wireWorkflow `json:"workflow"`
	LastUpdated *string       `json:"lastUpdated"`
}

type wireWorkflow struct {
	ID          *string           `json:"id"`
	Name        *string           `json:"name"`
	Description *string           `json:"description"`
	Steps       *[]wireStep       `json:"steps"`
	Transitions *[]wireTransition `json:"transitions"`
	Version     string            `json:"version"`
	CreatedAt   string            `json:"createdAt"`
	UpdatedAt   string            `json:"updatedAt"`
}

type wirePosition struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type wireStep struct {
	ID          *string       `json:"id"`
	Type        *StepType     `json:"type"`
	Name        *string       `json:"name"`
	Position    *wirePosition `json:"position"`
	Transitions *[]string     `json:"transitions"`
}

type wireTransition struct {
	ID           *string  `json:"id"`
	SourceStepID *string  `json:"sourceStepId"`
	TargetStepID *string  `json:"targetStepId"`
	Condition    *Outcome `json:"condition"`
}

var lastUpdatedLayouts = []string{
	time.RFC3339Nano,
	time.RFC1123Z,
	time.RFC1123,
	time.DateTime,
	time.DateOnly,
}

// parseLastUpdated reads the envelope timestamp. Any string is accepted;
// one in an unknown format yields the zero time.
func parseLastUpdated(raw string) time.Time {
	for _, layout := range lastUpdatedLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC()
		}
	}

	return time.Time{}
}

func required[T any](problems *schemaProblems, path string, v *T) T {
	var zero T
	if v == nil {
		problems.add(path, "required")

		return zero
	}

	return *v
}

func (w *wireSnapshot) convert(problems *schemaProblems) *Snapshot {
	snapshot := &Snapshot{}

	if raw := required(problems, "lastUpdated", w.LastUpdated); w.LastUpdated != nil {
		snapshot.LastUpdated = parseLastUpdated(raw)
	}

	if w.Workflow == nil {
		problems.add("workflow", "required")

		return snapshot
	}

	wf := w.Workflow
	snapshot.Workflow = Workflow{
		ID:          required(problems, "workflow.id", wf.ID),
		Name:        required(problems, "workflow.name", wf.Name),
		Description: required(problems, "workflow.description", wf.Description),
		Version:     wf.Version,
		CreatedAt:   wf.CreatedAt,
		UpdatedAt:   wf.UpdatedAt,
	}
	if wf.Name != nil && *wf.Name == "" {
		problems.add("workflow.name", "must not be empty")
	}

	if wf.Steps == nil {
		problems.add("workflow.steps", "required")
	} else {
		snapshot.Workflow.Steps = make([]Step, 0, len(*wf.Steps))
		for i, ws := range *wf.Steps {
			snapshot.Workflow.Steps = append(snapshot.Workflow.Steps, ws.convert(problems, fmt.Sprintf("workflow.steps[%d]", i)))
		}
	}

	if wf.Transitions == nil {
		problems.add("workflow.transitions", "required")
	} else {
		snapshot.Workflow.Transitions = make([]Transition, 0, len(*wf.Transitions))
		for i, wt := range *wf.Transitions {
			snapshot.Workflow.Transitions = append(snapshot.Workflow.Transitions, wt.convert(problems, fmt.Sprintf("workflow.transitions[%d]", i)))
		}
	}

	return snapshot
}

func (w wireStep) convert(problems *schemaProblems, path string) Step {
	step := Step{
		ID:          required(problems, path+".id", w.ID),
		Type:        required(problems, path+".type", w.Type),
		Name:        required(problems, path+".name", w.Name),
		Transitions: required(problems, path+".transitions", w.Transitions),
	}
	if w.Type != nil && !w.Type.Valid() {
		problems.add(path+".type", fmt.Sprintf("unknown step type %q", *w.Type))
	}

	if w.Position == nil {
		problems.add(path+".position", "required")
	} else {
		step.Position = Position{
			X: required(problems, path+".position.x", w.Position.X),
			Y: required(problems, path+".position.y", w.Position.Y),
		}
	}

	return step
}

func (w wireTransition) convert(problems *schemaProblems, path string) Transition {
	tr := Transition{
		ID:           required(problems, path+".id", w.ID),
		SourceStepID: required(problems, path+".sourceStepId", w.SourceStepID),
		TargetStepID: required(problems, path+".targetStepId", w.TargetStepID),
		Condition:    required(problems, path+".condition", w.Condition),
	}
	if w.Condition != nil && !w.Condition.Valid() {
		problems.add(path+".condition", fmt.Sprintf("unknown condition %q", *w.Condition))
	}

	return tr
}

// IsInvalidSnapshot reports whether err was caused by a malformed snapshot.
func IsInvalidSnapshot(err error) bool {
	return errors.Is(err, ErrInvalidSnapshot)
}
