package api

import (
	"net/http"

	"github.com/rom8726/flowsim"
)

// Plugin contributes extra routes to the server mux.
type Plugin interface {
	Name() string
	Description() string
	RegisterRoutes(mux *http.ServeMux)
}

// RunQueue accepts run jobs for asynchronous execution.
type RunQueue interface {
	Submit(job flowsim.RunJob) error
}

type addStepRequest struct {
	Type     flowsim.StepType `json:"type"`
	Name     string           `json:"name"`
	Position flowsim.Position `json:"position"`
}

type addTransitionRequest struct {
	SourceStepID string          `json:"sourceStepId"`
	TargetStepID string          `json:"targetStepId"`
	Condition    flowsim.Outcome `json:"condition"`
}

type startRunRequest struct {
	StartStepID string `json:"startStepId"`
}
