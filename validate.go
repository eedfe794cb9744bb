package flowsim

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationReport lists the problems found in a workflow. Errors make a
// workflow unusable; warnings describe graphs that run but likely misbehave.
type ValidationReport struct {
	Valid    bool       `json:"valid"`
	Errors   []string   `json:"errors"`
	Warnings []string   `json:"warnings"`
	Cycles   [][]string `json:"cycles"`
}

func (r *ValidationReport) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationReport) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ValidateWorkflow checks wf without running it. An empty startStepID selects
// the workflow's start step.
func ValidateWorkflow(wf *Workflow, startStepID string) *ValidationReport {
	report := &ValidationReport{
		Errors:   []string{},
		Warnings: []string{},
		Cycles:   [][]string{},
	}

	if strings.TrimSpace(wf.Name) == "" {
		report.errorf("workflow name is required")
	}

	steps := make(map[string]*Step, len(wf.Steps))
	var starts []string
	for i := range wf.Steps {
		step := &wf.Steps[i]
		switch {
		case step.ID == "":
			report.errorf("step #%d has no id", i)

			continue
		case steps[step.ID] != nil:
			report.errorf("duplicate step id %q", step.ID)

			continue
		}
		steps[step.ID] = step

		if !step.Type.Valid() {
			report.errorf("step %q has unknown type %q", step.ID, step.Type)
		}
		if step.Type == StepTypeStart {
			starts = append(starts, step.ID)
		}
	}

	transitions := make(map[string]*Transition, len(wf.Transitions))
	outgoing := make(map[string][]*Transition)
	edges := make(map[string]bool)
	for i := range wf.Transitions {
		tr := &wf.Transitions[i]
		if tr.ID == "" {
			report.errorf("transition #%d has no id", i)

			continue
		}

		if existing, ok := transitions[tr.ID]; ok {
			if existing.SourceStepID == tr.SourceStepID {
				report.errorf("transition %q repeats on step %q", tr.ID, tr.SourceStepID)
			} else {
				report.errorf("duplicate transition id %q", tr.ID)
			}

			continue
		}
		transitions[tr.ID] = tr

		if !tr.Condition.Valid() {
			report.errorf("transition %q has unknown condition %q", tr.ID, tr.Condition)
		}
		if steps[tr.SourceStepID] == nil {
			report.errorf("transition %q references unknown source step %q", tr.ID, tr.SourceStepID)
		}
		if steps[tr.TargetStepID] == nil {
			report.errorf("transition %q references unknown target step %q", tr.ID, tr.TargetStepID)
		}
		if tr.SourceStepID == tr.TargetStepID {
			report.warnf("transition %q loops on step %q", tr.ID, tr.SourceStepID)
		}

		key := tr.SourceStepID + "\x00" + tr.TargetStepID + "\x00" + string(tr.Condition)
		if edges[key] {
			report.warnf("transition %q duplicates an existing %s edge %q -> %q",
				tr.ID, tr.Condition, tr.SourceStepID, tr.TargetStepID)
		}
		edges[key] = true

		outgoing[tr.SourceStepID] = append(outgoing[tr.SourceStepID], tr)
	}

	for i := range wf.Steps {
		step := &wf.Steps[i]
		if steps[step.ID] != step {
			continue
		}
		for _, trID := range step.Transitions {
			tr, ok := transitions[trID]
			switch {
			case !ok:
				report.errorf("step %q lists unknown transition %q", step.ID, trID)
			case tr.SourceStepID != step.ID:
				report.errorf("step %q lists transition %q of step %q", step.ID, trID, tr.SourceStepID)
			}
		}
	}
	for i := range wf.Transitions {
		tr := &wf.Transitions[i]
		if transitions[tr.ID] != tr {
			continue
		}
		if source := steps[tr.SourceStepID]; source != nil && !slices.Contains(source.Transitions, tr.ID) {
			report.warnf("transition %q is not listed by step %q", tr.ID, tr.SourceStepID)
		}
	}

	switch {
	case startStepID != "":
		if steps[startStepID] == nil {
			report.errorf("start step %q is undefined", startStepID)
			startStepID = ""
		}
	case len(starts) == 0:
		if len(wf.Steps) > 0 {
			report.errorf("workflow has no start step")
		}
	default:
		startStepID = starts[0]
		if len(starts) > 1 {
			report.warnf("workflow has %d start steps, using %q", len(starts), startStepID)
		}
	}

	for i := range wf.Steps {
		step := &wf.Steps[i]
		if steps[step.ID] != step {
			continue
		}
		out := outgoing[step.ID]
		if step.Type == StepTypeEnd {
			if len(out) > 0 {
				report.warnf("end step %q has outgoing transitions that never fire", step.ID)
			}

			continue
		}
		if !step.Type.Valid() {
			continue
		}

		covered := map[Outcome]bool{}
		for _, tr := range out {
			covered[tr.Condition] = true
		}
		if len(out) == 0 {
			report.warnf("step %q has no outgoing transitions", step.ID)

			continue
		}
		if !covered[OutcomeSuccess] {
			report.warnf("step %q has no success transition", step.ID)
		}
		if !covered[OutcomeFailure] && step.Type != StepTypeStart {
			report.warnf("step %q has no failure transition", step.ID)
		}
	}

	if startStepID != "" {
		reachable := reachableSteps(startStepID, outgoing)
		for _, step := range wf.Steps {
			if !reachable[step.ID] && step.ID != "" {
				report.warnf("step %q is unreachable from %q", step.ID, startStepID)
			}
		}
	}

	report.Cycles = findCycles(wf, outgoing)
	for _, cycle := range report.Cycles {
		report.warnf("cycle detected: %s", strings.Join(cycle, " -> "))
	}

	report.Valid = len(report.Errors) == 0

	return report
}

func reachableSteps(start string, outgoing map[string][]*Transition) map[string]bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, tr := range outgoing[current] {
			if !seen[tr.TargetStepID] {
				seen[tr.TargetStepID] = true
				queue = append(queue, tr.TargetStepID)
			}
		}
	}

	return seen
}

// findCycles returns each elementary cycle found by a depth-first walk, closed
// with its first step repeated. End steps never continue a path.
func findCycles(wf *Workflow, outgoing map[string][]*Transition) [][]string {
	types := make(map[string]StepType, len(wf.Steps))
	for _, step := range wf.Steps {
		types[step.ID] = step.Type
	}

	cycles := [][]string{}
	seenCycle := make(map[string]bool)
	visited := make(map[string]bool)
	onStack := make(map[string]int)
	var path []string

	var visit func(current string)
	visit = func(current string) {
		visited[current] = true
		onStack[current] = len(path)
		path = append(path, current)

		if types[current] != StepTypeEnd {
			for _, tr := range outgoing[current] {
				next := tr.TargetStepID
				if _, known := types[next]; !known {
					continue
				}
				if pos, ok := onStack[next]; ok {
					cycle := append(slices.Clone(path[pos:]), next)
					key := strings.Join(cycle, "\x00")
					if !seenCycle[key] {
						seenCycle[key] = true
						cycles = append(cycles, cycle)
					}

					continue
				}
				if !visited[next] {
					visit(next)
				}
			}
		}

		path = path[:len(path)-1]
		delete(onStack, current)
	}

	for _, step := range wf.Steps {
		if !visited[step.ID] {
			visit(step.ID)
		}
	}

	return cycles
}

// Analytics summarizes the shape of a workflow.
type Analytics struct {
	TotalSteps       int              `json:"totalSteps"`
	TotalTransitions int              `json:"totalTransitions"`
	StepsByType      map[StepType]int `json:"stepsByType"`
	ParallelBranches int              `json:"parallelBranches"`
}

// AnalyzeWorkflow counts steps per type and the outcomes that fan out to more
// than one target.
func AnalyzeWorkflow(wf *Workflow) Analytics {
	analytics := Analytics{
		TotalSteps:       len(wf.Steps),
		TotalTransitions: len(wf.Transitions),
		StepsByType:      make(map[StepType]int),
	}

	for _, step := range wf.Steps {
		analytics.StepsByType[step.Type]++
	}

	fanOut := make(map[string]int)
	for _, tr := range wf.Transitions {
		fanOut[tr.SourceStepID+"\x00"+string(tr.Condition)]++
	}
	for _, n := range fanOut {
		if n > 1 {
			analytics.ParallelBranches++
		}
	}

	return analytics
}
