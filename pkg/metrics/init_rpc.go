package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initRPCMetrics() {
	r.RPCTasksTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluso_rpc_tasks_total",
			Help: "Total number of RPC tasks processed",
		},
		[]string{"service", "message_type", "status"}, // status: ok, dropped
	)

	r.RPCTasksDropped = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluso_rpc_tasks_dropped_total",
			Help: "Total number of RPC tasks silently dropped",
		},
		[]string{"service", "reason"}, // reason: unknown_service, unhandled_type
	)

	r.RPCHandlerDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cluso_rpc_handler_duration_seconds",
			Help:    "RPC handler invocation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "message_type"},
	)

	r.RPCQueueDepth = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cluso_rpc_queue_depth",
			Help: "Current depth of the per-service task queue",
		},
		[]string{"service"},
	)

	r.RPCWorkersActive = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cluso_rpc_workers_active",
			Help: "Number of worker goroutines currently executing a handler",
		},
		[]string{"service"},
	)
}
