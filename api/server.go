package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rom8726/flowsim"
)

type Server struct {
	api        *APIService
	monitor    *flowsim.Monitor
	runner     *flowsim.Runner
	queue      RunQueue
	visualizer *flowsim.Visualizer
	plugins    []Plugin
}

func NewServer(runner *flowsim.Runner, queue RunQueue, plugins ...Plugin) *Server {
	return &Server{
		api:        NewAPIService(runner.Store()),
		monitor:    flowsim.NewMonitor(runner.Store()),
		runner:     runner,
		queue:      queue,
		visualizer: flowsim.NewVisualizer(),
		plugins:    plugins,
	}
}

func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	// Workflows
	mux.HandleFunc("GET /api/workflows", s.HandleListWorkflows)
	mux.HandleFunc("POST /api/workflows", s.HandleCreateWorkflow)
	mux.HandleFunc("POST /api/workflows/default", s.HandleCreateDefaultWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}", s.HandleGetWorkflow)
	mux.HandleFunc("PUT /api/workflows/{id}", s.HandleReplaceWorkflow)
	mux.HandleFunc("DELETE /api/workflows/{id}", s.HandleDeleteWorkflow)

	// Editing
	mux.HandleFunc("POST /api/workflows/{id}/steps", s.HandleAddStep)
	mux.HandleFunc("PATCH /api/workflows/{id}/steps/{stepId}", s.HandleUpdateStep)
	mux.HandleFunc("DELETE /api/workflows/{id}/steps/{stepId}", s.HandleRemoveStep)
	mux.HandleFunc("POST /api/workflows/{id}/transitions", s.HandleAddTransition)
	mux.HandleFunc("PATCH /api/workflows/{id}/transitions/{transitionId}", s.HandleUpdateTransition)
	mux.HandleFunc("DELETE /api/workflows/{id}/transitions/{transitionId}", s.HandleRemoveTransition)

	// Inspection
	mux.HandleFunc("GET /api/workflows/{id}/validate", s.HandleValidateWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/analytics", s.HandleAnalyzeWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/graph", s.HandleRenderGraph)

	// Runs
	mux.HandleFunc("POST /api/workflows/{id}/runs", s.HandleStartRun)
	mux.HandleFunc("GET /api/workflows/{id}/runs", s.HandleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.HandleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/render", s.HandleRenderRun)

	// Statistics
	mux.HandleFunc("GET /api/stats", s.HandleGetStats)
	mux.HandleFunc("GET /api/stats/summary", s.HandleGetSummaryStats)

	for _, plugin := range s.plugins {
		plugin.RegisterRoutes(mux)
	}

	return mux
}

func (s *Server) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.api.ListWorkflows(r.Context())
	if err != nil {
		writeError(w, fmt.Errorf("list workflows: %w", err))

		return
	}

	writeJSON(w, http.StatusOK, workflows)
}

func (s *Server) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	snapshot, err := flowsim.ParseSnapshot(r.Body)
	if err != nil {
		writeError(w, err)

		return
	}

	if err := s.api.CreateWorkflow(r.Context(), snapshot); err != nil {
		writeError(w, err)

		return
	}

	s.writeSnapshot(w, http.StatusCreated, snapshot)
}

func (s *Server) HandleCreateDefaultWorkflow(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.api.CreateDefaultWorkflow(r.Context())
	if err != nil {
		writeError(w, err)

		return
	}

	s.writeSnapshot(w, http.StatusCreated, snapshot)
}

func (s *Server) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.api.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)

		return
	}

	s.writeSnapshot(w, http.StatusOK, snapshot)
}

func (s *Server) HandleReplaceWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	snapshot, err := flowsim.ParseSnapshot(r.Body)
	if err != nil {
		writeError(w, err)

		return
	}
	if snapshot.Workflow.ID != id {
		writeError(w, fmt.Errorf("%w: workflow id %q does not match path %q", errBadRequest, snapshot.Workflow.ID, id))

		return
	}

	if err := s.api.SaveWorkflow(r.Context(), snapshot); err != nil {
		writeError(w, err)

		return
	}

	s.writeSnapshot(w, http.StatusOK, snapshot)
}

func (s *Server) HandleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.api.DeleteWorkflow(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleAddStep(w http.ResponseWriter, r *http.Request) {
	var req addStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))

		return
	}
	if !req.Type.Valid() {
		writeError(w, fmt.Errorf("%w: unknown step type %q", errBadRequest, req.Type))

		return
	}

	var added flowsim.Step
	_, err := s.api.EditWorkflow(r.Context(), r.PathValue("id"), func(wf *flowsim.Workflow) error {
		added = *wf.AddStep(req.Type, req.Name, req.Position)

		return nil
	})
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) HandleUpdateStep(w http.ResponseWriter, r *http.Request) {
	var patch flowsim.StepPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))

		return
	}

	stepID := r.PathValue("stepId")

	var updated flowsim.Step
	_, err := s.api.EditWorkflow(r.Context(), r.PathValue("id"), func(wf *flowsim.Workflow) error {
		step, err := wf.UpdateStep(stepID, patch)
		if err != nil {
			return err
		}
		updated = *step

		return nil
	})
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) HandleUpdateTransition(w http.ResponseWriter, r *http.Request) {
	var patch flowsim.TransitionPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))

		return
	}

	transitionID := r.PathValue("transitionId")

	var updated flowsim.Transition
	_, err := s.api.EditWorkflow(r.Context(), r.PathValue("id"), func(wf *flowsim.Workflow) error {
		tr, err := wf.UpdateTransition(transitionID, patch)
		if err != nil {
			return err
		}
		updated = *tr

		return nil
	})
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) HandleRemoveStep(w http.ResponseWriter, r *http.Request) {
	stepID := r.PathValue("stepId")

	snapshot, err := s.api.EditWorkflow(r.Context(), r.PathValue("id"), func(wf *flowsim.Workflow) error {
		return wf.RemoveStep(stepID)
	})
	if err != nil {
		writeError(w, err)

		return
	}

	s.writeSnapshot(w, http.StatusOK, snapshot)
}

func (s *Server) HandleAddTransition(w http.ResponseWriter, r *http.Request) {
	var req addTransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))

		return
	}

	var added flowsim.Transition
	_, err := s.api.EditWorkflow(r.Context(), r.PathValue("id"), func(wf *flowsim.Workflow) error {
		tr, err := wf.AddTransition(req.SourceStepID, req.TargetStepID, req.Condition)
		if err != nil {
			return err
		}
		added = *tr

		return nil
	})
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) HandleRemoveTransition(w http.ResponseWriter, r *http.Request) {
	transitionID := r.PathValue("transitionId")

	snapshot, err := s.api.EditWorkflow(r.Context(), r.PathValue("id"), func(wf *flowsim.Workflow) error {
		return wf.RemoveTransition(transitionID)
	})
	if err != nil {
		writeError(w, err)

		return
	}

	s.writeSnapshot(w, http.StatusOK, snapshot)
}

func (s *Server) HandleValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	report, err := s.api.ValidateWorkflow(r.Context(), r.PathValue("id"), r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) HandleAnalyzeWorkflow(w http.ResponseWriter, r *http.Request) {
	analytics, err := s.api.AnalyzeWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, analytics)
}

func (s *Server) HandleRenderGraph(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.api.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)

		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.visualizer.RenderGraph(&snapshot.Workflow, r.URL.Query().Get("start"))))
}

func (s *Server) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))

			return
		}
	}

	ctx := r.Context()
	workflowID := r.PathValue("id")

	if req.StartStepID == "" {
		snapshot, err := s.api.GetWorkflow(ctx, workflowID)
		if err != nil {
			writeError(w, err)

			return
		}
		req.StartStepID = firstStartStep(&snapshot.Workflow)
	}

	job, err := s.runner.Enqueue(ctx, workflowID, req.StartStepID)
	if err != nil {
		writeError(w, err)

		return
	}

	if err := s.queue.Submit(job); err != nil {
		if abandonErr := s.runner.Abandon(ctx, job, err); abandonErr != nil {
			writeError(w, fmt.Errorf("%w (abandon run: %w)", err, abandonErr))

			return
		}
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.api.ListRuns(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.api.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *Server) HandleRenderRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.api.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)

		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.visualizer.RenderRunState(run.State)))
}

func (s *Server) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.monitor.GetWorkflowStats(r.Context())
	if err != nil {
		writeError(w, fmt.Errorf("fetch workflow stats: %w", err))

		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) HandleGetSummaryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.monitor.GetSummaryStats(r.Context())
	if err != nil {
		writeError(w, fmt.Errorf("fetch summary stats: %w", err))

		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) writeSnapshot(w http.ResponseWriter, statusCode int, snapshot *flowsim.Snapshot) {
	data, err := flowsim.MarshalSnapshot(*snapshot, false)
	if err != nil {
		writeError(w, fmt.Errorf("marshal snapshot: %w", err))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}

func firstStartStep(wf *flowsim.Workflow) string {
	for _, step := range wf.Steps {
		if step.Type == flowsim.StepTypeStart {
			return step.ID
		}
	}

	return ""
}
