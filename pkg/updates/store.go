package updates

import (
	"sync"

	"github.com/dd0wney/cluso-cluster/pkg/delta"
	"github.com/dd0wney/cluso-cluster/pkg/metrics"
	"github.com/dd0wney/cluso-cluster/pkg/storage"
)

// entry holds one element's staged state: its accessor, fetched
// lazily on first touch, and the pending deltas in arrival order.
type entry[A any] struct {
	mu       sync.Mutex
	accessor A
	deltas   []delta.StateDelta
}

// updateStore is the per-transaction staging area for one element
// kind. The outer lock guards only the transaction and element maps;
// appends run under the entry's own lock so concurrent staging for
// different elements of the same transaction does not serialize.
type updateStore[A any] struct {
	kind string

	mu  sync.RWMutex
	txs map[uint64]map[storage.Gid]*entry[A]

	// fetch resolves the current local accessor for an element
	fetch func(txID uint64, gid storage.Gid) (A, error)

	metrics *metrics.Registry
}

func newUpdateStore[A any](kind string, fetch func(uint64, storage.Gid) (A, error), m *metrics.Registry) *updateStore[A] {
	return &updateStore[A]{
		kind:    kind,
		txs:     make(map[uint64]map[storage.Gid]*entry[A]),
		fetch:   fetch,
		metrics: m,
	}
}

// lookup returns the entry for (txID, gid) if it exists
func (s *updateStore[A]) lookup(txID uint64, gid storage.Gid) (*entry[A], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	elements, ok := s.txs[txID]
	if !ok {
		return nil, false
	}
	e, ok := elements[gid]
	return e, ok
}

// getOrCreate resolves the entry for (txID, gid), fetching the
// element's accessor if the entry does not exist yet.
func (s *updateStore[A]) getOrCreate(txID uint64, gid storage.Gid) (*entry[A], error) {
	if e, ok := s.lookup(txID, gid); ok {
		return e, nil
	}

	// Fetch outside the store lock; losing the insert race below just
	// discards this accessor in favour of the winner's.
	accessor, err := s.fetch(txID, gid)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	elements, ok := s.txs[txID]
	if !ok {
		elements = make(map[storage.Gid]*entry[A])
		s.txs[txID] = elements
		s.metrics.UpdateCacheEntries.WithLabelValues(s.kind).Set(float64(len(s.txs)))
	}
	if e, ok := elements[gid]; ok {
		return e, nil
	}
	e := &entry[A]{accessor: accessor}
	elements[gid] = e
	return e, nil
}

// emplace appends a delta to the element's pending list, creating the
// entry lazily. Conflicts are not checked here; they surface at apply.
func (s *updateStore[A]) emplace(gid storage.Gid, d delta.StateDelta) UpdateResult {
	e, err := s.getOrCreate(d.TxID, gid)
	if err != nil {
		return resultFromError(err)
	}

	e.mu.Lock()
	e.deltas = append(e.deltas, d)
	e.mu.Unlock()

	s.metrics.RecordStagedDelta(s.kind)
	return UpdateDone
}

// register creates an empty entry holding an already-resolved
// accessor, used for elements created locally within the transaction.
func (s *updateStore[A]) register(txID uint64, gid storage.Gid, accessor A) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elements, ok := s.txs[txID]
	if !ok {
		elements = make(map[storage.Gid]*entry[A])
		s.txs[txID] = elements
		s.metrics.UpdateCacheEntries.WithLabelValues(s.kind).Set(float64(len(s.txs)))
	}
	if _, ok := elements[gid]; !ok {
		elements[gid] = &entry[A]{accessor: accessor}
	}
}

// drain atomically removes and returns every entry of a transaction.
// Once drained the staged state is gone; apply outcomes do not restore
// it.
func (s *updateStore[A]) drain(txID uint64) map[storage.Gid]*entry[A] {
	s.mu.Lock()
	defer s.mu.Unlock()

	elements := s.txs[txID]
	delete(s.txs, txID)
	s.metrics.UpdateCacheEntries.WithLabelValues(s.kind).Set(float64(len(s.txs)))
	return elements
}

// clearOlderThan evicts every transaction with id strictly below the
// horizon and reports how many were removed.
func (s *updateStore[A]) clearOlderThan(horizon uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for txID := range s.txs {
		if txID < horizon {
			delete(s.txs, txID)
			evicted++
		}
	}
	if evicted > 0 {
		s.metrics.UpdateCacheEntries.WithLabelValues(s.kind).Set(float64(len(s.txs)))
	}
	return evicted
}

// transactionCount reports how many transactions have staged state
func (s *updateStore[A]) transactionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txs)
}
