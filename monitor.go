package flowsim

import (
	"context"
	"time"
)

// Monitor aggregates stored run records into per-workflow statistics.
type Monitor struct {
	store Store
}

func NewMonitor(store Store) *Monitor {
	return &Monitor{store: store}
}

type WorkflowStats struct {
	WorkflowID      string        `json:"workflow_id"`
	WorkflowName    string        `json:"workflow_name"`
	TotalRuns       int           `json:"total_runs"`
	CompletedRuns   int           `json:"completed_runs"`
	FailedRuns      int           `json:"failed_runs"`
	PendingRuns     int           `json:"pending_runs"`
	RunningRuns     int           `json:"running_runs"`
	BranchFailures  int           `json:"branch_failures"`
	AverageDuration time.Duration `json:"average_duration"`
	AverageSteps    float64       `json:"average_steps"`
}

type SummaryStats struct {
	TotalWorkflows int `json:"total_workflows"`
	TotalRuns      int `json:"total_runs"`
	CompletedRuns  int `json:"completed_runs"`
	FailedRuns     int `json:"failed_runs"`
	ActiveRuns     int `json:"active_runs"`
}

func (m *Monitor) GetWorkflowStats(ctx context.Context) ([]WorkflowStats, error) {
	workflows, err := m.store.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}

	stats := make([]WorkflowStats, 0, len(workflows))
	for _, wf := range workflows {
		runs, err := m.store.ListRuns(ctx, wf.ID)
		if err != nil {
			return nil, err
		}

		stats = append(stats, workflowStats(wf, runs))
	}

	return stats, nil
}

func (m *Monitor) GetSummaryStats(ctx context.Context) (*SummaryStats, error) {
	stats, err := m.GetWorkflowStats(ctx)
	if err != nil {
		return nil, err
	}

	summary := &SummaryStats{TotalWorkflows: len(stats)}
	for _, s := range stats {
		summary.TotalRuns += s.TotalRuns
		summary.CompletedRuns += s.CompletedRuns
		summary.FailedRuns += s.FailedRuns
		summary.ActiveRuns += s.PendingRuns + s.RunningRuns
	}

	return summary, nil
}

func workflowStats(wf WorkflowSummary, runs []*RunRecord) WorkflowStats {
	s := WorkflowStats{
		WorkflowID:   wf.ID,
		WorkflowName: wf.Name,
		TotalRuns:    len(runs),
	}

	var (
		finished   int
		totalTime  time.Duration
		totalSteps int
	)
	for _, run := range runs {
		switch run.Status {
		case RunStatusCompleted:
			s.CompletedRuns++
		case RunStatusError:
			s.FailedRuns++
		case RunStatusRunning:
			s.RunningRuns++
		default:
			s.PendingRuns++
		}

		if run.Report == nil {
			continue
		}
		finished++
		totalTime += run.Report.FinishedAt.Sub(run.Report.StartedAt)
		totalSteps += run.Report.Processed
		s.BranchFailures += len(run.Report.Failures)
	}

	if finished > 0 {
		s.AverageDuration = totalTime / time.Duration(finished)
		s.AverageSteps = float64(totalSteps) / float64(finished)
	}

	return s
}
