package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rom8726/flowsim"
)

type ErrorResponse struct {
	Message string `json:"message"`
}

func WriteErrorResponse(writer http.ResponseWriter, err error, statusCode int) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)

	resp := ErrorResponse{Message: err.Error()}
	_ = json.NewEncoder(writer).Encode(resp)
}

// writeError picks the status code from the error kind.
func writeError(writer http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, flowsim.ErrEntityNotFound):
		WriteErrorResponse(writer, err, http.StatusNotFound)
	case errors.Is(err, flowsim.ErrInvalidSnapshot),
		errors.Is(err, flowsim.ErrInvalidOutcome),
		errors.Is(err, flowsim.ErrInvalidTransition),
		errors.Is(err, flowsim.ErrInvalidStepType),
		errors.Is(err, errBadRequest):
		WriteErrorResponse(writer, err, http.StatusBadRequest)
	case errors.Is(err, flowsim.ErrRunInProgress), errors.Is(err, ErrWorkflowExists):
		WriteErrorResponse(writer, err, http.StatusConflict)
	case errors.Is(err, flowsim.ErrQueueFull), errors.Is(err, flowsim.ErrPoolStopped):
		WriteErrorResponse(writer, err, http.StatusServiceUnavailable)
	default:
		WriteErrorResponse(writer, err, http.StatusInternalServerError)
	}
}

func writeJSON(writer http.ResponseWriter, statusCode int, v any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)
	_ = json.NewEncoder(writer).Encode(v)
}

var (
	ErrWorkflowExists = errors.New("workflow already exists")

	errBadRequest = errors.New("bad request")
)
