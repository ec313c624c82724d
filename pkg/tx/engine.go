// Package tx implements the local transaction engine: it hands out
// monotonically increasing transaction ids, records lifecycle deltas
// in the WAL and drives the periodic eviction of staged state left
// behind by transactions that never reached apply.
package tx

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/cluso-cluster/pkg/delta"
	"github.com/dd0wney/cluso-cluster/pkg/logging"
	"github.com/dd0wney/cluso-cluster/pkg/storage"
	"github.com/dd0wney/cluso-cluster/pkg/wal"
)

// ErrTransactionNotFound is returned when ending a transaction the
// engine does not consider active.
var ErrTransactionNotFound = errors.New("tx: transaction not active")

// StagingCache is the staged-state eviction hook the engine drives.
// Satisfied by the update coordinator.
type StagingCache interface {
	ClearTransactionalCache(oldestActive uint64)
}

// Transaction is one active local transaction
type Transaction struct {
	ID uint64

	mu       sync.Mutex
	commands uint64
}

// Advance increments the transaction's command counter and returns
// the new value. Commands order mutations of one transaction relative
// to each other.
func (t *Transaction) Advance() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commands++
	return t.commands
}

// Commands returns the current command counter
func (t *Transaction) Commands() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commands
}

// Config controls the transaction engine
type Config struct {
	// GCInterval is how often staged state below the oldest-active
	// horizon is evicted. Zero disables the background GC.
	GCInterval time.Duration
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{GCInterval: time.Second}
}

// Engine tracks active transactions for one worker
type Engine struct {
	store *storage.LocalStore
	wal   *wal.WAL
	cache StagingCache

	mu     sync.Mutex
	nextID uint64
	active map[uint64]*Transaction

	logger logging.Logger

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewEngine creates the engine and starts the staging GC when both an
// interval and a cache are configured. Store and WAL may be nil when
// the engine only issues ids, as on the master.
func NewEngine(store *storage.LocalStore, w *wal.WAL, cache StagingCache, cfg Config, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	e := &Engine{
		store:  store,
		wal:    w,
		cache:  cache,
		nextID: 1,
		active: make(map[uint64]*Transaction),
		logger: logger.With(logging.Component("tx")),
		stopCh: make(chan struct{}),
	}

	if cfg.GCInterval > 0 && cache != nil {
		e.wg.Add(1)
		go e.gcLoop(cfg.GCInterval)
	}
	return e
}

// Begin starts a new transaction and logs its begin delta
func (e *Engine) Begin() (*Transaction, error) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	t := &Transaction{ID: id}
	e.active[id] = t
	e.mu.Unlock()

	if err := e.logDelta(delta.TxBegin(id)); err != nil {
		// An unlogged transaction must not stay active, or it would
		// pin the oldest-active horizon forever.
		e.mu.Lock()
		delete(e.active, id)
		e.mu.Unlock()
		return nil, err
	}
	e.logger.Debug("transaction started", logging.TxID(id))
	return t, nil
}

// BeginTx starts a transaction and returns only its id. Serves the
// coordination service, which tracks transactions by id.
func (e *Engine) BeginTx() (uint64, error) {
	t, err := e.Begin()
	if err != nil {
		return 0, err
	}
	return t.ID, nil
}

// EndTx commits or aborts the active transaction with the given id
func (e *Engine) EndTx(id uint64, committed bool) error {
	e.mu.Lock()
	t, ok := e.active[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrTransactionNotFound, id)
	}
	if committed {
		return e.Commit(t)
	}
	return e.Abort(t)
}

// Commit ends the transaction, logging the commit delta before
// releasing record locks. In synchronous commit mode the delta is
// durable before this returns.
func (e *Engine) Commit(t *Transaction) error {
	return e.end(t, delta.TxCommit(t.ID))
}

// Abort ends the transaction with an abort delta
func (e *Engine) Abort(t *Transaction) error {
	return e.end(t, delta.TxAbort(t.ID))
}

func (e *Engine) end(t *Transaction, d delta.StateDelta) error {
	e.mu.Lock()
	_, ok := e.active[t.ID]
	if ok {
		delete(e.active, t.ID)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrTransactionNotFound, t.ID)
	}

	if err := e.logDelta(d); err != nil {
		return err
	}
	if e.store != nil {
		e.store.ReleaseLocks(t.ID)
	}
	e.logger.Debug("transaction ended",
		logging.TxID(t.ID),
		logging.String("kind", d.Kind.String()))
	return nil
}

func (e *Engine) logDelta(d delta.StateDelta) error {
	if e.wal == nil {
		return nil
	}
	if err := e.wal.Emplace(d); err != nil {
		return fmt.Errorf("failed to log %s: %w", d.Kind, err)
	}
	return nil
}

// OldestActive returns the id of the oldest transaction still active,
// or the next id to be assigned when none is. Every transaction with
// an id below this horizon has ended locally.
func (e *Engine) OldestActive() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.active) == 0 {
		return e.nextID
	}
	oldest := uint64(0)
	for id := range e.active {
		if oldest == 0 || id < oldest {
			oldest = id
		}
	}
	return oldest
}

// ActiveCount returns the number of active transactions
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

func (e *Engine) gcLoop(interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.cache.ClearTransactionalCache(e.OldestActive())
		}
	}
}

// Close stops the background GC
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.stopCh)
		e.wg.Wait()
	})
}
