package flowsim

import (
	"fmt"
	"strings"
)

type Visualizer struct{}

func NewVisualizer() *Visualizer {
	return &Visualizer{}
}

// RenderGraph draws the workflow as an indented tree rooted at startStepID,
// or at the first start step when startStepID is empty.
func (v *Visualizer) RenderGraph(wf *Workflow, startStepID string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Workflow: %s (%s)\n", wf.Name, wf.ID)
	sb.WriteString("======================================\n\n")

	if startStepID == "" {
		for _, step := range wf.Steps {
			if step.Type == StepTypeStart {
				startStepID = step.ID

				break
			}
		}
	}
	if startStepID == "" {
		sb.WriteString("⚠ no start step\n")

		return sb.String()
	}

	outgoing := make(map[string][]Transition)
	for _, tr := range wf.Transitions {
		outgoing[tr.SourceStepID] = append(outgoing[tr.SourceStepID], tr)
	}

	v.renderStep(&sb, wf, outgoing, startStepID, "", 0, make(map[string]bool))

	return sb.String()
}

func (v *Visualizer) renderStep(
	sb *strings.Builder,
	wf *Workflow,
	outgoing map[string][]Transition,
	stepID string,
	via string,
	indent int,
	visited map[string]bool,
) {
	prefix := v.indent(indent) + via

	if visited[stepID] {
		fmt.Fprintf(sb, "%s↻ %s (already visited)\n", prefix, stepID)

		return
	}

	step := wf.Step(stepID)
	if step == nil {
		fmt.Fprintf(sb, "%s⚠ %s (not found)\n", prefix, stepID)

		return
	}

	visited[stepID] = true

	fmt.Fprintf(sb, "%s%s %s [%s]", prefix, v.getStepSymbol(step.Type), step.ID, step.Type)
	if step.Name != "" && step.Name != step.ID {
		fmt.Fprintf(sb, " %q", step.Name)
	}
	sb.WriteString("\n")

	if step.Type == StepTypeEnd {
		return
	}

	for _, tr := range outgoing[stepID] {
		v.renderStep(sb, wf, outgoing, tr.TargetStepID, v.getConditionSymbol(tr.Condition)+" ", indent+1, visited)
	}
}

// RenderRunState lists the steps of a run grouped by node status.
func (v *Visualizer) RenderRunState(state RunState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Run of workflow: %s\n", state.WorkflowID)
	fmt.Fprintf(&sb, "Status: %s\n", state.Status)
	if state.Error != "" {
		fmt.Fprintf(&sb, "Error: %s\n", state.Error)
	}
	if state.Result != nil {
		fmt.Fprintf(&sb, "Success: %t, iterations: %d\n", state.Result.Success, state.Result.Iterations)
	}
	sb.WriteString("======================================\n\n")

	groups := make(map[NodeStatus][]string)
	order := append(append([]string{}, state.CompletedStepIDs...), state.FailedStepIDs...)
	order = append(order, state.ActiveStepIDs...)
	seen := make(map[string]bool)
	for _, id := range order {
		node, ok := state.NodeState[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		groups[node.Status] = append(groups[node.Status], id)
	}

	statusOrder := []NodeStatus{
		NodeStatusSuccess,
		NodeStatusProcessing,
		NodeStatusPending,
		NodeStatusFailure,
	}

	for _, status := range statusOrder {
		ids, ok := groups[status]
		if !ok {
			continue
		}

		fmt.Fprintf(&sb, "%s %s (%d steps):\n", v.getStatusSymbol(status), status, len(ids))
		for _, id := range ids {
			node := state.NodeState[id]
			fmt.Fprintf(&sb, "  %s", id)
			if node.Outcome != "" {
				fmt.Fprintf(&sb, " %s %s", v.getConditionSymbol(node.Outcome), node.Outcome)
			}
			if node.Attempt > 1 {
				fmt.Fprintf(&sb, " (attempts: %d)", node.Attempt)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func (v *Visualizer) getStatusSymbol(status NodeStatus) string {
	switch status {
	case NodeStatusSuccess:
		return "✅"
	case NodeStatusProcessing:
		return "🔄"
	case NodeStatusPending:
		return "⏸"
	case NodeStatusFailure:
		return "❌"
	default:
		return "❓"
	}
}

func (v *Visualizer) getStepSymbol(stepType StepType) string {
	switch stepType {
	case StepTypeStart:
		return "▶"
	case StepTypeSMS:
		return "💬"
	case StepTypeEmail:
		return "✉"
	case StepTypeCustom:
		return "⚙"
	case StepTypeEnd:
		return "⏹"
	default:
		return "→"
	}
}

func (v *Visualizer) getConditionSymbol(condition Outcome) string {
	if condition == OutcomeFailure {
		return "✗"
	}

	return "✓"
}

func (v *Visualizer) indent(level int) string {
	return strings.Repeat("  ", level)
}
