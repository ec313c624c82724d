package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the cluster write path
type Registry struct {
	// RPC Metrics
	RPCTasksTotal      *prometheus.CounterVec
	RPCTasksDropped    *prometheus.CounterVec
	RPCHandlerDuration *prometheus.HistogramVec
	RPCQueueDepth      *prometheus.GaugeVec
	RPCWorkersActive   *prometheus.GaugeVec

	// Update Metrics
	UpdatesStagedTotal   *prometheus.CounterVec
	UpdatesAppliedTotal  *prometheus.CounterVec
	UpdateApplyDuration  prometheus.Histogram
	UpdateCacheEntries   *prometheus.GaugeVec
	UpdateCacheEvictions prometheus.Counter

	// WAL Metrics
	WALDeltasTotal     prometheus.Counter
	WALFlushesTotal    *prometheus.CounterVec
	WALFlushDuration   prometheus.Histogram
	WALBytesWritten    prometheus.Counter
	WALRotationsTotal  prometheus.Counter
	WALFlushFailures   prometheus.Counter
	WALBufferOccupancy prometheus.Gauge
	WALSyncCommits     prometheus.Counter

	// Cluster Metrics
	ClusterWorkersTotal       prometheus.Gauge
	ClusterRegistrationsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initRPCMetrics()
	r.initUpdateMetrics()
	r.initWALMetrics()
	r.initClusterMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
