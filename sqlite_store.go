package flowsim

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a Store backed by an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteInMemoryStore creates a private in-memory database, mainly for tests and demos.
func NewSQLiteInMemoryStore() (*SQLiteStore, error) {
	return NewSQLiteStore(":memory:")
}

// NewSQLiteStore opens (or creates) the database at path and migrates it.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	_, _ = db.Exec("PRAGMA journal_mode=WAL;")
	_, _ = db.Exec("PRAGMA busy_timeout=5000;")
	// a single connection keeps :memory: consistent and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunSQLiteMigrations(context.Background(), db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveWorkflow(ctx context.Context, snapshot *Snapshot) error {
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

	now := time.Now().UTC()
	const q = `INSERT INTO workflows (id, name, snapshot, step_count, last_updated, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			snapshot=excluded.snapshot,
			step_count=excluded.step_count,
			last_updated=excluded.last_updated,
			updated_at=excluded.updated_at`
	_, err = s.db.ExecContext(ctx, q,
		snapshot.Workflow.ID, snapshot.Workflow.Name, data, len(snapshot.Workflow.Steps),
		snapshot.LastUpdated, now, now)
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}

	return nil
}

func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*Snapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM workflows WHERE id=?`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workflow %q: %w", id, ErrEntityNotFound)
		}

		return nil, fmt.Errorf("get workflow: %w", err)
	}

	return ImportSnapshot(data)
}

func (s *SQLiteStore) ListWorkflows(ctx context.Context) ([]WorkflowSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, step_count, last_updated FROM workflows ORDER BY id`)
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

func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workflow %q: %w", id, ErrEntityNotFound)
	}

	return nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) error {
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

	const q = `INSERT INTO runs (id, workflow_id, start_step_id, status, state, report, error, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			state=excluded.state,
			report=excluded.report,
			error=excluded.error,
			updated_at=excluded.updated_at
		RETURNING created_at`
	err = s.db.QueryRowContext(ctx, q,
		run.ID, run.WorkflowID, run.StartStepID, run.Status, state, report, run.Error, run.CreatedAt, run.UpdatedAt,
	).Scan(&run.CreatedAt)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	const q = `SELECT id, workflow_id, start_step_id, status, state, report, error, created_at, updated_at
		FROM runs WHERE id=?`

	run, err := scanRun(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %q: %w", id, ErrEntityNotFound)
		}

		return nil, err
	}

	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, workflowID string) ([]*RunRecord, error) {
	const q = `SELECT id, workflow_id, start_step_id, status, state, report, error, created_at, updated_at
		FROM runs WHERE workflow_id=? ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, q, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	result := make([]*RunRecord, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}

	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		run    RunRecord
		state  []byte
		report []byte
	)

	if err := row.Scan(
		&run.ID, &run.WorkflowID, &run.StartStepID, &run.Status,
		&state, &report, &run.Error, &run.CreatedAt, &run.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := decodeRun(&run, state, report); err != nil {
		return nil, err
	}

	return &run, nil
}

func encodeRun(run *RunRecord) (state, report []byte, err error) {
	state, err = json.Marshal(run.State)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal run state: %w", err)
	}

	if run.Report != nil {
		report, err = json.Marshal(run.Report)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal run report: %w", err)
		}
	}

	return state, report, nil
}

func decodeRun(run *RunRecord, state, report []byte) error {
	if err := json.Unmarshal(state, &run.State); err != nil {
		return fmt.Errorf("unmarshal run state: %w", err)
	}

	if len(report) > 0 {
		run.Report = &Report{}
		if err := json.Unmarshal(report, run.Report); err != nil {
			return fmt.Errorf("unmarshal run report: %w", err)
		}
	}

	return nil
}
