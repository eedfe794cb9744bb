package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rom8726/flowsim"
)

var _ MetricsCollector = (*PrometheusCollector)(nil)

type PrometheusCollector struct {
	runStarted  *prometheus.CounterVec
	runFinished *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	runsActive  *prometheus.GaugeVec

	stepStarted   *prometheus.CounterVec
	stepCompleted *prometheus.CounterVec
	stepFailed    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	transitions *prometheus.CounterVec
}

func NewPrometheusCollector(registry prometheus.Registerer) *PrometheusCollector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	return &PrometheusCollector{
		runStarted: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowsim_run_started_total",
				Help: "Total number of workflow runs started",
			},
			[]string{"workflow_id"},
		),
		runFinished: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowsim_run_finished_total",
				Help: "Total number of finished workflow runs",
			},
			[]string{"workflow_id", "status"},
		),
		runDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowsim_run_duration_seconds",
				Help:    "Duration of workflow runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"workflow_id", "status"},
		),
		runsActive: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "flowsim_runs_active",
				Help: "Number of workflow runs in flight",
			},
			[]string{"workflow_id"},
		),
		stepStarted: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowsim_step_started_total",
				Help: "Total number of step visits started",
			},
			[]string{"workflow_id", "step_id", "step_type"},
		),
		stepCompleted: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowsim_step_completed_total",
				Help: "Total number of completed step visits by outcome",
			},
			[]string{"workflow_id", "step_id", "step_type", "outcome"},
		),
		stepFailed: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowsim_step_failed_total",
				Help: "Total number of step visits that failed their branch",
			},
			[]string{"workflow_id", "step_id", "step_type"},
		),
		stepDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowsim_step_duration_seconds",
				Help:    "Duration of step visits in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"workflow_id", "step_id", "step_type"},
		),
		transitions: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowsim_transition_evaluated_total",
				Help: "Total number of evaluated transitions",
			},
			[]string{"workflow_id", "condition", "fired"},
		),
	}
}

func (c *PrometheusCollector) RecordRunStarted(workflowID string) {
	c.runStarted.WithLabelValues(workflowID).Inc()
	c.runsActive.WithLabelValues(workflowID).Inc()
}

func (c *PrometheusCollector) RecordRunFinished(workflowID string, status flowsim.RunStatus, duration time.Duration) {
	c.runFinished.WithLabelValues(workflowID, string(status)).Inc()
	c.runDuration.WithLabelValues(workflowID, string(status)).Observe(duration.Seconds())
	c.runsActive.WithLabelValues(workflowID).Dec()
}

func (c *PrometheusCollector) RecordStepStarted(workflowID, stepID string, stepType flowsim.StepType) {
	c.stepStarted.WithLabelValues(workflowID, stepID, string(stepType)).Inc()
}

func (c *PrometheusCollector) RecordStepCompleted(
	workflowID string,
	stepID string,
	stepType flowsim.StepType,
	outcome flowsim.Outcome,
	duration time.Duration,
) {
	c.stepCompleted.WithLabelValues(workflowID, stepID, string(stepType), string(outcome)).Inc()
	c.stepDuration.WithLabelValues(workflowID, stepID, string(stepType)).Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordStepFailed(
	workflowID string,
	stepID string,
	stepType flowsim.StepType,
	duration time.Duration,
) {
	c.stepFailed.WithLabelValues(workflowID, stepID, string(stepType)).Inc()
	c.stepDuration.WithLabelValues(workflowID, stepID, string(stepType)).Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordTransition(workflowID string, condition flowsim.Outcome, fired bool) {
	c.transitions.WithLabelValues(workflowID, string(condition), strconv.FormatBool(fired)).Inc()
}
