package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry           *prometheus.Registry
	tasksTotal         *prometheus.CounterVec
	taskDuration       *prometheus.HistogramVec
	activeTasks        prometheus.Gauge
	transformsByTier   *prometheus.CounterVec
	transformsCounted  prometheus.Gauge
	outputPixelsTotal  prometheus.Counter
	computeTimeMSTotal prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stickerflow_worker_tasks_total",
			Help: "Total worker tasks by kind and final status.",
		}, []string{"kind", "status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stickerflow_worker_task_duration_seconds",
			Help:    "Total processing duration for each worker task.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "status"}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stickerflow_worker_active_tasks",
			Help: "Current number of active transform tasks in the worker.",
		}),
		transformsByTier: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stickerflow_worker_transforms_total",
			Help: "Total successful transforms by mode and transparency tier.",
		}, []string{"mode", "tier"}),
		transformsCounted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stickerflow_usage_transforms",
			Help: "Process-wide count of successful transformations.",
		}),
		outputPixelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stickerflow_usage_output_pixels_total",
			Help: "Total output pixels produced across all successful tasks.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stickerflow_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful tasks.",
		}),
	}

	registry.MustRegister(
		m.tasksTotal,
		m.taskDuration,
		m.activeTasks,
		m.transformsByTier,
		m.transformsCounted,
		m.outputPixelsTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
