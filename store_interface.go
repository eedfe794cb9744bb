package flowsim

import (
	"context"
)

// Store persists workflow snapshots and run records.
// Missing entities are reported as ErrEntityNotFound.
type Store interface {
	SaveWorkflow(ctx context.Context, snapshot *Snapshot) error
	GetWorkflow(ctx context.Context, id string) (*Snapshot, error)
	ListWorkflows(ctx context.Context) ([]WorkflowSummary, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// SaveRun inserts or replaces a run record. CreatedAt is kept from the
	// first save; UpdatedAt is set by the store.
	SaveRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	// ListRuns returns the runs of a workflow, oldest first.
	ListRuns(ctx context.Context, workflowID string) ([]*RunRecord, error)
}
