// Package wal implements the write-ahead log for applied graph
// mutations: a fixed-capacity ring buffer drained by a background
// flusher into rotating, checksummed segment files.
//
// Ordering across transactions is not deterministic under concurrent
// producers; ordering within one transaction's delta stream, as
// buffered, is preserved. Recovery must be immune to cross-transaction
// interleaving.
package wal

import (
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/cluso-cluster/pkg/delta"
	"github.com/dd0wney/cluso-cluster/pkg/logging"
	"github.com/dd0wney/cluso-cluster/pkg/metrics"
)

// Config controls WAL behaviour
type Config struct {
	Dir string

	// Enabled turns durability on. With durability off Emplace is a
	// no-op.
	Enabled bool

	// SynchronousCommit makes Emplace of a transaction boundary delta
	// block until the flush containing it completes.
	SynchronousCommit bool

	// Compress stores snappy-compressed record payloads.
	Compress bool

	BufferCapacity   int
	FlushInterval    time.Duration
	MaxSegmentDeltas int
	MaxSegmentBytes  int64
}

// DefaultConfig returns the default WAL configuration for a directory
func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		Enabled:          true,
		BufferCapacity:   4096,
		FlushInterval:    50 * time.Millisecond,
		MaxSegmentDeltas: 100000,
		MaxSegmentBytes:  64 << 20,
	}
}

type flushRequest struct {
	trigger string
	done    chan error
}

// WAL buffers applied StateDeltas and durably records them in rotating
// append-only segment files. Producers only ever append; the single
// background flusher is the sole writer to the file.
type WAL struct {
	cfg     Config
	logger  logging.Logger
	metrics *metrics.Registry

	buffer  *ringBuffer
	segment *segmentFile

	// pending holds a drained batch whose write failed. Owned by the
	// flusher goroutine; retried ahead of newer deltas on every
	// subsequent flush so a failed write never loses them.
	pending []delta.StateDelta

	// enabled gates logging at runtime; durability must be switched off
	// while a recovery replay runs so already-durable deltas are not
	// re-logged.
	mu      sync.Mutex
	enabled bool

	flushCh   chan flushRequest
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a WAL and starts its background flusher
func New(cfg Config, logger logging.Logger) (*WAL, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	w := &WAL{
		cfg:     cfg,
		logger:  logger.With(logging.Component("wal")),
		metrics: metrics.DefaultRegistry(),
		buffer:  newRingBuffer(cfg.BufferCapacity),
		flushCh: make(chan flushRequest),
		stopCh:  make(chan struct{}),
		enabled: cfg.Enabled,
	}

	if cfg.Enabled {
		segment, err := openSegmentFile(cfg.Dir, cfg.Compress, cfg.MaxSegmentDeltas, cfg.MaxSegmentBytes)
		if err != nil {
			return nil, err
		}
		w.segment = segment
	}

	w.wg.Add(1)
	go w.backgroundFlusher()

	return w, nil
}

// SetMetrics overrides the metrics registry (used by tests)
func (w *WAL) SetMetrics(r *metrics.Registry) {
	w.metrics = r
}

// Enable re-enables logging after a recovery replay
func (w *WAL) Enable() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cfg.Enabled {
		w.enabled = true
	}
}

// Disable suspends logging. Used during recovery replay.
func (w *WAL) Disable() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enabled = false
}

func (w *WAL) isEnabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

// Emplace buffers one delta. With durability disabled this is a no-op.
// A full buffer blocks the caller until the background flush drains
// space. In synchronous commit mode a transaction boundary delta
// triggers an immediate flush and waits for it, so the boundary is
// durable before the acknowledgment goes out.
func (w *WAL) Emplace(d delta.StateDelta) error {
	if !w.isEnabled() {
		return nil
	}

	if err := w.buffer.emplace(d); err != nil {
		return err
	}
	w.metrics.WALDeltasTotal.Inc()
	w.metrics.WALBufferOccupancy.Set(float64(w.buffer.length()))

	if w.cfg.SynchronousCommit && d.IsTransactionEnd() {
		w.metrics.WALSyncCommits.Inc()
		return w.requestFlush("sync_commit")
	}
	return nil
}

// Flush triggers an immediate flush and waits for it to complete.
// Exposed for deterministic testing.
func (w *WAL) Flush() error {
	return w.requestFlush("manual")
}

func (w *WAL) requestFlush(trigger string) error {
	req := flushRequest{trigger: trigger, done: make(chan error, 1)}
	select {
	case w.flushCh <- req:
		return <-req.done
	case <-w.stopCh:
		return ErrBufferClosed
	}
}

// BufferedDeltas returns the number of buffered, unflushed deltas
func (w *WAL) BufferedDeltas() int {
	return w.buffer.length()
}

func (w *WAL) backgroundFlusher() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			// Final flush on shutdown.
			if err := w.flush("shutdown"); err != nil {
				w.logger.Error("final WAL flush failed", logging.Error(err))
			}
			return

		case <-ticker.C:
			if err := w.flush("periodic"); err != nil {
				// The failed batch stays pending and is retried on the
				// next tick.
				w.logger.Error("periodic WAL flush failed", logging.Error(err))
			}

		case req := <-w.flushCh:
			req.done <- w.flush(req.trigger)
		}
	}
}

// flush drains the whole buffer into the active segment file. A
// durability I/O failure here is surfaced, never swallowed: the caller
// treats it as fatal for this worker.
func (w *WAL) flush(trigger string) error {
	deltas := w.buffer.drain()
	w.metrics.WALBufferOccupancy.Set(0)
	if len(w.pending) > 0 {
		deltas = append(w.pending, deltas...)
		w.pending = nil
	}
	if len(deltas) == 0 || w.segment == nil {
		return nil
	}

	start := time.Now()
	before := w.segment.nextSeq
	written, err := w.segment.flush(deltas)
	if err != nil {
		// The batch is already off the ring; keep it for the next
		// attempt.
		w.pending = deltas
		w.metrics.WALFlushFailures.Inc()
		return fmt.Errorf("wal flush: %w", err)
	}
	if w.segment.nextSeq > before {
		w.metrics.WALRotationsTotal.Inc()
		w.logger.Info("rotated WAL segment",
			logging.Int("segment", w.segment.nextSeq-1),
			logging.Count(len(deltas)))
	}
	w.metrics.RecordWALFlush(trigger, len(deltas), written, time.Since(start))
	return nil
}

// Close stops the flusher after a final flush and seals the active file
func (w *WAL) Close() error {
	var closeErr error
	w.closeOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
		w.buffer.close()
		if w.segment != nil {
			closeErr = w.segment.close()
		}
	})
	return closeErr
}
