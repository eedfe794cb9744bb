package flowsim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

// DB is the subset of pgxpool.Pool and pgx.Tx used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool}
}

func (store *PostgresStore) SaveWorkflow(ctx context.Context, snapshot *Snapshot) error {
	if snapshot.Workflow.ID == "" {
		return fmt.Errorf("%w: workflow id is required", ErrInvalidSnapshot)
	}
	if snapshot.LastUpdated.IsZero() {
		snapshot.LastUpdated = time.Now().UTC()
	}

	data, err := MarshalSnapshot(*snapshot, false)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	const query = `
INSERT INTO flowsim.workflows (id, name, snapshot, step_count, last_updated, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name,
	snapshot = EXCLUDED.snapshot,
	step_count = EXCLUDED.step_count,
	last_updated = EXCLUDED.last_updated,
	updated_at = EXCLUDED.updated_at`

	_, err = store.db.Exec(ctx, query,
		snapshot.Workflow.ID, snapshot.Workflow.Name, data, len(snapshot.Workflow.Steps),
		snapshot.LastUpdated, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}

	return nil
}

func (store *PostgresStore) GetWorkflow(ctx context.Context, id string) (*Snapshot, error) {
	const query = `SELECT snapshot FROM flowsim.workflows WHERE id = $1`

	var data []byte
	if err := store.db.QueryRow(ctx, query, id).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("workflow %q: %w", id, ErrEntityNotFound)
		}

		return nil, fmt.Errorf("get workflow: %w", err)
	}

	return ImportSnapshot(data)
}

func (store *PostgresStore) ListWorkflows(ctx context.Context) ([]WorkflowSummary, error) {
	const query = `
SELECT id, name, step_count, last_updated
FROM flowsim.workflows
ORDER BY id`

	rows, err := store.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	result := make([]WorkflowSummary, 0)
	for rows.Next() {
		var summary WorkflowSummary
		if err := rows.Scan(&summary.ID, &summary.Name, &summary.Steps, &summary.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		result = append(result, summary)
	}

	return result, rows.Err()
}

func (store *PostgresStore) DeleteWorkflow(ctx context.Context, id string) error {
	tag, err := store.db.Exec(ctx, `DELETE FROM flowsim.workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workflow %q: %w", id, ErrEntityNotFound)
	}

	return nil
}

func (store *PostgresStore) SaveRun(ctx context.Context, run *RunRecord) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}

	state, report, err := encodeRun(run)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	const query = `
INSERT INTO flowsim.runs (id, workflow_id, start_step_id, status, state, report, error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status,
	state = EXCLUDED.state,
	report = EXCLUDED.report,
	error = EXCLUDED.error,
	updated_at = EXCLUDED.updated_at
RETURNING created_at`

	err = store.db.QueryRow(ctx, query,
		run.ID, run.WorkflowID, run.StartStepID, string(run.Status), state, report, run.Error,
		run.CreatedAt, run.UpdatedAt,
	).Scan(&run.CreatedAt)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	return nil
}

func (store *PostgresStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	const query = `
SELECT id, workflow_id, start_step_id, status, state, report, error, created_at, updated_at
FROM flowsim.runs
WHERE id = $1`

	run, err := scanRun(store.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run %q: %w", id, ErrEntityNotFound)
		}

		return nil, fmt.Errorf("get run: %w", err)
	}

	return run, nil
}

func (store *PostgresStore) ListRuns(ctx context.Context, workflowID string) ([]*RunRecord, error) {
	const query = `
SELECT id, workflow_id, start_step_id, status, state, report, error, created_at, updated_at
FROM flowsim.runs
WHERE workflow_id = $1
ORDER BY created_at, id`

	rows, err := store.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	result := make([]*RunRecord, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, run)
	}

	return result, rows.Err()
}
