package metrics

import (
	"time"

	"github.com/rom8726/flowsim"
)

type MetricsCollector interface {
	RecordRunStarted(workflowID string)
	RecordRunFinished(workflowID string, status flowsim.RunStatus, duration time.Duration)
	RecordStepStarted(workflowID, stepID string, stepType flowsim.StepType)
	RecordStepCompleted(workflowID, stepID string, stepType flowsim.StepType, outcome flowsim.Outcome, duration time.Duration)
	RecordStepFailed(workflowID, stepID string, stepType flowsim.StepType, duration time.Duration)
	RecordTransition(workflowID string, condition flowsim.Outcome, fired bool)
}
