package flowsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateWorkflow(t *testing.T) {
	t.Run("clean campaign", func(t *testing.T) {
		report := ValidateWorkflow(campaignWorkflow(), "")

		assert.True(t, report.Valid)
		assert.Empty(t, report.Errors)
		assert.Empty(t, report.Cycles)
		assert.Equal(t, []string{`step "sms" has no failure transition`}, report.Warnings)
	})

	t.Run("structural errors", func(t *testing.T) {
		wf := &Workflow{
			Name: "",
			Steps: []Step{
				{ID: "start", Type: StepTypeStart, Transitions: []string{"t1", "t9"}},
				{ID: "start", Type: StepTypeEnd},
				{ID: "x", Type: "fax"},
			},
			Transitions: []Transition{
				{ID: "t1", SourceStepID: "start", TargetStepID: "ghost", Condition: OutcomeSuccess},
				{ID: "t1", SourceStepID: "start", TargetStepID: "x", Condition: OutcomeSuccess},
				{ID: "t2", SourceStepID: "x", TargetStepID: "start", Condition: "maybe"},
			},
		}

		report := ValidateWorkflow(wf, "")

		assert.False(t, report.Valid)
		assert.Contains(t, report.Errors, "workflow name is required")
		assert.Contains(t, report.Errors, `duplicate step id "start"`)
		assert.Contains(t, report.Errors, `step "x" has unknown type "fax"`)
		assert.Contains(t, report.Errors, `transition "t1" references unknown target step "ghost"`)
		assert.Contains(t, report.Errors, `transition "t1" repeats on step "start"`)
		assert.Contains(t, report.Errors, `transition "t2" has unknown condition "maybe"`)
		assert.Contains(t, report.Errors, `step "start" lists unknown transition "t9"`)
		assert.Contains(t, report.Warnings, `transition "t2" is not listed by step "x"`)
	})

	t.Run("missing start", func(t *testing.T) {
		wf := testWorkflow([]Step{step("a", StepTypeSMS), step("end", StepTypeEnd)},
			[]Transition{edge("t1", "a", "end", OutcomeSuccess)})
		wf.Name = "n"

		report := ValidateWorkflow(wf, "")
		assert.Contains(t, report.Errors, "workflow has no start step")

		report = ValidateWorkflow(wf, "a")
		assert.True(t, report.Valid)

		report = ValidateWorkflow(wf, "zzz")
		assert.Contains(t, report.Errors, `start step "zzz" is undefined`)
	})

	t.Run("warnings", func(t *testing.T) {
		wf := testWorkflow(
			[]Step{
				step("start", StepTypeStart),
				step("dead", StepTypeCustom),
				step("orphan", StepTypeSMS),
				step("end", StepTypeEnd),
			},
			[]Transition{
				edge("t1", "start", "dead", OutcomeSuccess),
				edge("t2", "start", "dead", OutcomeSuccess),
				edge("t3", "end", "start", OutcomeSuccess),
				edge("t4", "orphan", "end", OutcomeSuccess),
			},
		)

		report := ValidateWorkflow(wf, "")

		require.True(t, report.Valid)
		assert.Contains(t, report.Warnings, `step "dead" has no outgoing transitions`)
		assert.Contains(t, report.Warnings, `step "orphan" is unreachable from "start"`)
		assert.Contains(t, report.Warnings, `step "end" is unreachable from "start"`)
		assert.Contains(t, report.Warnings, `end step "end" has outgoing transitions that never fire`)
		assert.Contains(t, report.Warnings, `transition "t2" duplicates an existing success edge "start" -> "dead"`)
		assert.Empty(t, report.Cycles)
	})

	t.Run("cycles", func(t *testing.T) {
		wf := testWorkflow(
			[]Step{step("a", StepTypeStart), step("b", StepTypeCustom), step("c", StepTypeCustom), step("end", StepTypeEnd)},
			[]Transition{
				edge("t1", "a", "b", OutcomeSuccess),
				edge("t2", "b", "c", OutcomeSuccess),
				edge("t3", "c", "b", OutcomeFailure),
				edge("t4", "c", "end", OutcomeSuccess),
				edge("t5", "b", "b", OutcomeFailure),
			},
		)

		report := ValidateWorkflow(wf, "a")

		assert.True(t, report.Valid)
		assert.Equal(t, [][]string{{"b", "c", "b"}, {"b", "b"}}, report.Cycles)
		assert.Contains(t, report.Warnings, "cycle detected: b -> c -> b")
		assert.Contains(t, report.Warnings, `transition "t5" loops on step "b"`)
	})
}

func TestAnalyzeWorkflow(t *testing.T) {
	wf := testWorkflow(
		[]Step{
			step("start", StepTypeStart),
			step("email", StepTypeEmail),
			step("end-a", StepTypeEnd),
			step("end-b", StepTypeEnd),
		},
		[]Transition{
			edge("t1", "start", "email", OutcomeSuccess),
			edge("t2", "email", "end-a", OutcomeFailure),
			edge("t3", "email", "end-b", OutcomeFailure),
			edge("t4", "email", "end-a", OutcomeSuccess),
		},
	)

	analytics := AnalyzeWorkflow(wf)

	assert.Equal(t, Analytics{
		TotalSteps:       4,
		TotalTransitions: 4,
		StepsByType:      map[StepType]int{StepTypeStart: 1, StepTypeEmail: 1, StepTypeEnd: 2},
		ParallelBranches: 1,
	}, analytics)
}
