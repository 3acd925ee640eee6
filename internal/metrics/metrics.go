// Package metrics exposes scheduler counters on a private Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/RezaEskandarii/gofire-cluster/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gofire"

type Metrics struct {
	registry *prometheus.Registry

	Fires            *prometheus.CounterVec
	Misfires         *prometheus.CounterVec
	AcquireConflicts prometheus.Counter
	ReapedNodes      prometheus.Counter
	ReleasedTriggers prometheus.Counter
	TransientErrors  *prometheus.CounterVec
	BusyWorkers      prometheus.Gauge
	JobDuration      *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, so several nodes can run in one process.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Fires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fires_total",
			Help:      "Completed fires by outcome.",
		}, []string{"outcome"}),
		Misfires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "misfires_total",
			Help:      "Fires detected later than the misfire threshold, by policy.",
		}, []string{"policy"}),
		AcquireConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquire_conflicts_total",
			Help:      "Due triggers this node lost to another node.",
		}),
		ReapedNodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_nodes_total",
			Help:      "Dead nodes whose work this node reclaimed.",
		}),
		ReleasedTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaimed_triggers_total",
			Help:      "Triggers returned to WAITING after their owner died.",
		}),
		TransientErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transient_errors_total",
			Help:      "Retryable store failures by component.",
		}, []string{"component"}),
		BusyWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "busy_workers",
			Help:      "Executions currently running on this node.",
		}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job execution time by job type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job_type"}),
	}

	m.registry.MustRegister(
		m.Fires, m.Misfires, m.AcquireConflicts, m.ReapedNodes, m.ReleasedTriggers,
		m.TransientErrors, m.BusyWorkers, m.JobDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) ObserveFire(jobType string, res types.ExecutionResult) {
	m.Fires.WithLabelValues(string(res.Outcome)).Inc()
	if res.Outcome != types.OutcomeSkipped {
		m.JobDuration.WithLabelValues(jobType).Observe(res.Duration().Seconds())
	}
}

func (m *Metrics) ObserveMisfire(policy types.MisfirePolicy) {
	m.Misfires.WithLabelValues(string(policy)).Inc()
}

func (m *Metrics) ObserveReaped(reaped []types.ReapedNode) {
	for _, r := range reaped {
		if r.NodeID != "" {
			m.ReapedNodes.Inc()
		}
		m.ReleasedTriggers.Add(float64(r.ReleasedTriggers))
	}
}

func (m *Metrics) ObserveTransient(component string) {
	m.TransientErrors.WithLabelValues(component).Inc()
}

// TrackBusy increments the busy worker gauge and returns the matching decrement.
func (m *Metrics) TrackBusy() func() {
	m.BusyWorkers.Inc()
	return m.BusyWorkers.Dec
}
