package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics exposes counters/histograms for the LINE webhook endpoint.
type WebhookMetrics struct {
	requestsTotal   *prometheus.CounterVec
	dispatchesTotal *prometheus.CounterVec
	webhookLatency  *prometheus.HistogramVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pingu",
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Total LINE webhook requests by response status",
		}, []string{"status"}),
		dispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pingu",
			Subsystem: "webhook",
			Name:      "dispatches_total",
			Help:      "Workflow dispatches by result (started, duplicate, error)",
		}, []string{"result"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pingu",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of LINE webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.dispatchesTotal, m.webhookLatency)
	return m
}

func (m *WebhookMetrics) ObserveRequest(status int, seconds float64) {
	if m == nil {
		return
	}
	label := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(label).Inc()
	m.webhookLatency.WithLabelValues(label).Observe(seconds)
}

func (m *WebhookMetrics) ObserveDispatch(result string) {
	if m == nil {
		return
	}
	m.dispatchesTotal.WithLabelValues(result).Inc()
}

// WorkflowMetrics implements durable.Observer.
type WorkflowMetrics struct {
	activityAttempts *prometheus.CounterVec
	runsFinished     *prometheus.CounterVec
}

func NewWorkflowMetrics(reg prometheus.Registerer) *WorkflowMetrics {
	m := &WorkflowMetrics{
		activityAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pingu",
			Subsystem: "workflow",
			Name:      "activity_attempts_total",
			Help:      "Activity attempts by activity and outcome",
		}, []string{"activity", "outcome"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pingu",
			Subsystem: "workflow",
			Name:      "runs_finished_total",
			Help:      "Workflow runs reaching a terminal status",
		}, []string{"workflow", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.activityAttempts, m.runsFinished)
	return m
}

func (m *WorkflowMetrics) ObserveActivityAttempt(activity, outcome string) {
	if m == nil {
		return
	}
	m.activityAttempts.WithLabelValues(activity, outcome).Inc()
}

func (m *WorkflowMetrics) ObserveRunFinished(workflow, status string) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(workflow, status).Inc()
}
