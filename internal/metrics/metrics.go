// Package metrics provides Prometheus metrics for the dispatcher and pools.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/modelq/modelq/internal/task"
)

var (
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelq_tasks_submitted_total",
			Help: "Total number of tasks accepted by the dispatcher",
		},
		[]string{"specialization", "priority"},
	)
	TasksRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelq_tasks_rejected_total",
			Help: "Total number of tasks rejected due to backpressure",
		},
		[]string{"specialization"},
	)
	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelq_tasks_completed_total",
			Help: "Total number of tasks completed successfully",
		},
		[]string{"specialization"},
	)
	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelq_tasks_failed_total",
			Help: "Total number of tasks that failed terminally",
		},
		[]string{"specialization"},
	)
	TasksCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelq_tasks_cancelled_total",
			Help: "Total number of tasks cancelled before execution",
		},
		[]string{"specialization"},
	)
	CompletionRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelq_completion_retries_total",
			Help: "Total number of completion call retries",
		},
		[]string{"specialization"},
	)
	TokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelq_tokens_used_total",
			Help: "Total completion tokens consumed",
		},
		[]string{"specialization"},
	)
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modelq_queue_depth",
			Help: "Current number of queued tasks per pool",
		},
		[]string{"specialization"},
	)
	ActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modelq_active_workers",
			Help: "Number of workers currently executing a task per pool",
		},
		[]string{"specialization"},
	)
	CompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelq_completion_duration_seconds",
			Help:    "Completion call duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"specialization", "status"},
	)
	TaskWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelq_task_wait_time_seconds",
			Help:    "Time tasks spend queued before a worker picks them up",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"specialization", "priority"},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelq_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelq_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func RecordTaskSubmitted(spec task.Specialization, priority task.Priority) {
	TasksSubmitted.WithLabelValues(string(spec), string(priority)).Inc()
}

func RecordTaskRejected(spec task.Specialization) {
	TasksRejected.WithLabelValues(string(spec)).Inc()
}

func RecordTaskCompleted(spec task.Specialization, duration time.Duration, tokens int) {
	TasksCompleted.WithLabelValues(string(spec)).Inc()
	CompletionDuration.WithLabelValues(string(spec), "completed").Observe(duration.Seconds())
	TokensUsed.WithLabelValues(string(spec)).Add(float64(tokens))
}

func RecordTaskFailed(spec task.Specialization, duration time.Duration) {
	TasksFailed.WithLabelValues(string(spec)).Inc()
	CompletionDuration.WithLabelValues(string(spec), "failed").Observe(duration.Seconds())
}

func RecordTaskCancelled(spec task.Specialization) {
	TasksCancelled.WithLabelValues(string(spec)).Inc()
}

func RecordCompletionRetry(spec task.Specialization) {
	CompletionRetries.WithLabelValues(string(spec)).Inc()
}

func RecordTaskWaitTime(spec task.Specialization, priority task.Priority, wait time.Duration) {
	TaskWaitTime.WithLabelValues(string(spec), string(priority)).Observe(wait.Seconds())
}

func UpdateQueueDepth(spec task.Specialization, depth int) {
	QueueDepth.WithLabelValues(string(spec)).Set(float64(depth))
}

func UpdateActiveWorkers(spec task.Specialization, count int) {
	ActiveWorkers.WithLabelValues(string(spec)).Set(float64(count))
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
