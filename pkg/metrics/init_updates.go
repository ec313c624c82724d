package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initUpdateMetrics() {
	r.UpdatesStagedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluso_updates_staged_total",
			Help: "Total number of deltas staged into the update stores",
		},
		[]string{"kind"}, // kind: vertex, edge
	)

	r.UpdatesAppliedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluso_updates_applied_total",
			Help: "Total number of Apply calls by outcome",
		},
		[]string{"result"},
	)

	r.UpdateApplyDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cluso_updates_apply_duration_seconds",
			Help:    "Duration of transaction Apply calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	r.UpdateCacheEntries = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cluso_updates_cache_entries",
			Help: "Number of transactions with staged deltas",
		},
		[]string{"kind"},
	)

	r.UpdateCacheEvictions = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "cluso_updates_cache_evictions_total",
			Help: "Staged transactions evicted by the transactional cache GC",
		},
	)
}

func (r *Registry) initWALMetrics() {
	r.WALDeltasTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "cluso_wal_deltas_total",
			Help: "Total number of deltas emplaced into the WAL buffer",
		},
	)

	r.WALFlushesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluso_wal_flushes_total",
			Help: "Total number of WAL flushes",
		},
		[]string{"trigger"}, // trigger: periodic, sync_commit, manual
	)

	r.WALFlushDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cluso_wal_flush_duration_seconds",
			Help:    "Duration of WAL flush operations",
			Buckets: prometheus.DefBuckets,
		},
	)

	r.WALBytesWritten = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "cluso_wal_bytes_written_total",
			Help: "Total bytes written to WAL segment files",
		},
	)

	r.WALRotationsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "cluso_wal_rotations_total",
			Help: "Total number of WAL segment rotations",
		},
	)

	r.WALFlushFailures = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "cluso_wal_flush_failures_total",
			Help: "Total number of WAL flushes that failed and were retried",
		},
	)

	r.WALBufferOccupancy = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "cluso_wal_buffer_occupancy",
			Help: "Number of deltas currently buffered and unflushed",
		},
	)

	r.WALSyncCommits = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "cluso_wal_sync_commits_total",
			Help: "Transaction boundary deltas flushed in synchronous commit mode",
		},
	)
}

func (r *Registry) initClusterMetrics() {
	r.ClusterWorkersTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "cluso_cluster_workers_total",
			Help: "Number of workers registered with the master",
		},
	)

	r.ClusterRegistrationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluso_cluster_registrations_total",
			Help: "Worker registration attempts by outcome",
		},
		[]string{"status"}, // status: ok, rejected
	)
}
