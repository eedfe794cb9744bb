package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rom8726/flowsim"
)

// APIService holds the workflow operations behind the HTTP handlers.
type APIService struct {
	store flowsim.Store

	// serializes load-modify-save cycles of the editor endpoints
	editMu sync.Mutex
}

func NewAPIService(store flowsim.Store) *APIService {
	return &APIService{
		store: store,
	}
}

func (a *APIService) ListWorkflows(ctx context.Context) ([]flowsim.WorkflowSummary, error) {
	return a.store.ListWorkflows(ctx)
}

func (a *APIService) GetWorkflow(ctx context.Context, id string) (*flowsim.Snapshot, error) {
	return a.store.GetWorkflow(ctx, id)
}

func (a *APIService) DeleteWorkflow(ctx context.Context, id string) error {
	a.editMu.Lock()
	defer a.editMu.Unlock()

	return a.store.DeleteWorkflow(ctx, id)
}

// CreateWorkflow stores snapshot unless a workflow with the same id exists.
func (a *APIService) CreateWorkflow(ctx context.Context, snapshot *flowsim.Snapshot) error {
	a.editMu.Lock()
	defer a.editMu.Unlock()

	_, err := a.store.GetWorkflow(ctx, snapshot.Workflow.ID)
	switch {
	case err == nil:
		return fmt.Errorf("workflow %q: %w", snapshot.Workflow.ID, ErrWorkflowExists)
	case !errors.Is(err, flowsim.ErrEntityNotFound):
		return err
	}

	return a.save(ctx, snapshot)
}

// SaveWorkflow stores snapshot, replacing any workflow with the same id.
func (a *APIService) SaveWorkflow(ctx context.Context, snapshot *flowsim.Snapshot) error {
	a.editMu.Lock()
	defer a.editMu.Unlock()

	return a.save(ctx, snapshot)
}

// save stamps snapshot with the current time; callers hold editMu.
func (a *APIService) save(ctx context.Context, snapshot *flowsim.Snapshot) error {
	if snapshot.Workflow.ID == "" {
		return fmt.Errorf("%w: workflow.id: must not be empty", flowsim.ErrInvalidSnapshot)
	}
	snapshot.LastUpdated = time.Now().UTC()

	return a.store.SaveWorkflow(ctx, snapshot)
}

// CreateDefaultWorkflow stores a fresh start-to-end template.
func (a *APIService) CreateDefaultWorkflow(ctx context.Context) (*flowsim.Snapshot, error) {
	snapshot := &flowsim.Snapshot{Workflow: *flowsim.NewDefaultWorkflow()}
	if err := a.CreateWorkflow(ctx, snapshot); err != nil {
		return nil, err
	}

	return snapshot, nil
}

// EditWorkflow loads the workflow, applies edit and saves the result.
// Nothing is saved when edit fails.
func (a *APIService) EditWorkflow(ctx context.Context, id string, edit func(wf *flowsim.Workflow) error) (*flowsim.Snapshot, error) {
	a.editMu.Lock()
	defer a.editMu.Unlock()

	snapshot, err := a.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := edit(&snapshot.Workflow); err != nil {
		return nil, err
	}

	if err := a.save(ctx, snapshot); err != nil {
		return nil, err
	}

	return snapshot, nil
}

func (a *APIService) ValidateWorkflow(ctx context.Context, id, startStepID string) (*flowsim.ValidationReport, error) {
	snapshot, err := a.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	return flowsim.ValidateWorkflow(&snapshot.Workflow, startStepID), nil
}

func (a *APIService) AnalyzeWorkflow(ctx context.Context, id string) (flowsim.Analytics, error) {
	snapshot, err := a.store.GetWorkflow(ctx, id)
	if err != nil {
		return flowsim.Analytics{}, err
	}

	return flowsim.AnalyzeWorkflow(&snapshot.Workflow), nil
}

func (a *APIService) ListRuns(ctx context.Context, workflowID string) ([]*flowsim.RunRecord, error) {
	if _, err := a.store.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}

	return a.store.ListRuns(ctx, workflowID)
}

func (a *APIService) GetRun(ctx context.Context, id string) (*flowsim.RunRecord, error) {
	return a.store.GetRun(ctx, id)
}
