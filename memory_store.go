package flowsim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*Snapshot
	runs      map[string]*RunRecord
	runOrder  []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*Snapshot),
		runs:      make(map[string]*RunRecord),
	}
}

func (s *MemoryStore) SaveWorkflow(_ context.Context, snapshot *Snapshot) error {
	if snapshot.Workflow.ID == "" {
		return fmt.Errorf("%w: workflow id is required", ErrInvalidSnapshot)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if snapshot.LastUpdated.IsZero() {
		snapshot.LastUpdated = time.Now().UTC()
	}

	s.workflows[snapshot.Workflow.ID] = cloneSnapshot(snapshot)

	return nil
}

func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %q: %w", id, ErrEntityNotFound)
	}

	return cloneSnapshot(snapshot), nil
}

func (s *MemoryStore) ListWorkflows(_ context.Context) ([]WorkflowSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]WorkflowSummary, 0, len(s.workflows))
	for _, snapshot := range s.workflows {
		result = append(result, summarize(snapshot))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}

func (s *MemoryStore) DeleteWorkflow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[id]; !ok {
		return fmt.Errorf("workflow %q: %w", id, ErrEntityNotFound)
	}

	delete(s.workflows, id)

	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run *RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.runs[run.ID]; ok {
		run.CreatedAt = existing.CreatedAt
	} else {
		if run.CreatedAt.IsZero() {
			run.CreatedAt = now
		}
		s.runOrder = append(s.runOrder, run.ID)
	}
	run.UpdatedAt = now

	s.runs[run.ID] = cloneRunRecord(run)

	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %q: %w", id, ErrEntityNotFound)
	}

	return cloneRunRecord(run), nil
}

func (s *MemoryStore) ListRuns(_ context.Context, workflowID string) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*RunRecord, 0)
	for _, id := range s.runOrder {
		if run := s.runs[id]; run.WorkflowID == workflowID {
			result = append(result, cloneRunRecord(run))
		}
	}

	return result, nil
}

func summarize(snapshot *Snapshot) WorkflowSummary {
	return WorkflowSummary{
		ID:          snapshot.Workflow.ID,
		Name:        snapshot.Workflow.Name,
		Steps:       len(snapshot.Workflow.Steps),
		LastUpdated: snapshot.LastUpdated,
	}
}

func cloneSnapshot(snapshot *Snapshot) *Snapshot {
	return &Snapshot{
		Workflow:    *snapshot.Workflow.Clone(),
		LastUpdated: snapshot.LastUpdated,
	}
}

func cloneRunRecord(run *RunRecord) *RunRecord {
	clone := *run
	clone.State = run.State.Clone()
	if run.Report != nil {
		report := *run.Report
		report.Events = append([]Event(nil), run.Report.Events...)
		report.Visited = append([]string(nil), run.Report.Visited...)
		report.Failures = append([]StepFailure(nil), run.Report.Failures...)
		clone.Report = &report
	}

	return &clone
}
