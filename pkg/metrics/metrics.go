package metrics

import (
	"time"
)

// RecordRPCTask records a dispatched RPC task with its handler latency
func (r *Registry) RecordRPCTask(service, messageType string, duration time.Duration) {
	r.RPCTasksTotal.WithLabelValues(service, messageType, "ok").Inc()
	r.RPCHandlerDuration.WithLabelValues(service, messageType).Observe(duration.Seconds())
}

// RecordRPCDrop records a silently dropped task
func (r *Registry) RecordRPCDrop(service, reason string) {
	r.RPCTasksDropped.WithLabelValues(service, reason).Inc()
}

// SetRPCQueueDepth updates the task queue depth for a service
func (r *Registry) SetRPCQueueDepth(service string, depth int) {
	r.RPCQueueDepth.WithLabelValues(service).Set(float64(depth))
}

// RecordStagedDelta records a delta buffered into an update store
func (r *Registry) RecordStagedDelta(kind string) {
	r.UpdatesStagedTotal.WithLabelValues(kind).Inc()
}

// RecordApply records an Apply call with its outcome and duration
func (r *Registry) RecordApply(result string, duration time.Duration) {
	r.UpdatesAppliedTotal.WithLabelValues(result).Inc()
	r.UpdateApplyDuration.Observe(duration.Seconds())
}

// RecordWALFlush records a WAL flush with its trigger and duration
func (r *Registry) RecordWALFlush(trigger string, deltas int, bytes int, duration time.Duration) {
	r.WALFlushesTotal.WithLabelValues(trigger).Inc()
	r.WALFlushDuration.Observe(duration.Seconds())
	r.WALBytesWritten.Add(float64(bytes))
}
