package storage

import (
	"sync"
	"time"
)

// vertexRecord is the stored form of a vertex. All access goes through
// the store mutex; the record lock serializes mutations between
// transactions for the duration of a transaction.
type vertexRecord struct {
	gid        Gid
	labels     []string
	properties map[string]Value
	out        []EdgeEntry
	in         []EdgeEntry
	version    uint64
	deleted    bool
	lockOwner  uint64 // transaction holding the record lock, 0 = free
}

type edgeRecord struct {
	gid        Gid
	from       Address
	to         Address
	edgeType   string
	properties map[string]Value
	version    uint64
	deleted    bool
	lockOwner  uint64
}

// LocalStore is the in-memory graph element store for a single worker.
// It hands out accessors with optimistic-concurrency semantics: a
// mutation through an accessor fails with ErrSerialization if the
// record advanced past the version the accessor last observed.
type LocalStore struct {
	workerID    int
	lockTimeout time.Duration

	mu       sync.RWMutex
	vertices map[Gid]*vertexRecord
	edges    map[Gid]*edgeRecord
	nextGid  Gid
}

// DefaultLockTimeout bounds how long a mutation waits on a record lock
// held by another transaction.
const DefaultLockTimeout = 100 * time.Millisecond

// NewLocalStore creates an empty store owned by the given worker
func NewLocalStore(workerID int) *LocalStore {
	return &LocalStore{
		workerID:    workerID,
		lockTimeout: DefaultLockTimeout,
		vertices:    make(map[Gid]*vertexRecord),
		edges:       make(map[Gid]*edgeRecord),
	}
}

// SetLockTimeout overrides the record lock acquisition timeout
func (s *LocalStore) SetLockTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockTimeout = d
}

// WorkerID returns the id of the worker owning this store
func (s *LocalStore) WorkerID() int {
	return s.workerID
}

// Addr returns the cluster-wide address of a local element
func (s *LocalStore) Addr(gid Gid) Address {
	return Address{Gid: gid, WorkerID: s.workerID}
}

func (s *LocalStore) allocGid() Gid {
	s.nextGid++
	return s.nextGid
}

// InsertVertex creates a new empty vertex and returns an accessor to it
// bound to the given transaction.
func (s *LocalStore) InsertVertex(txID uint64) *VertexAccessor {
	s.mu.Lock()
	defer s.mu.Unlock()

	gid := s.allocGid()
	rec := &vertexRecord{
		gid:        gid,
		properties: make(map[string]Value),
		lockOwner:  txID,
	}
	s.vertices[gid] = rec
	return &VertexAccessor{store: s, txID: txID, gid: gid, version: rec.version}
}

// InsertEdge creates a new edge record. The edge's own address embeds
// this worker's id. Adjacency lists of the endpoint vertices are NOT
// touched; callers stage the companion out/in-edge deltas themselves.
// Endpoints living on this worker must exist as live vertices;
// ErrEdgeNotInserted otherwise. Remote endpoints are taken on trust.
func (s *LocalStore) InsertEdge(txID uint64, from, to Address, edgeType string) (*EdgeAccessor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, endpoint := range []Address{from, to} {
		if !endpoint.IsLocal(s.workerID) {
			continue
		}
		rec, ok := s.vertices[endpoint.Gid]
		if !ok || rec.deleted {
			return nil, ErrEdgeNotInserted
		}
	}

	gid := s.allocGid()
	rec := &edgeRecord{
		gid:        gid,
		from:       from,
		to:         to,
		edgeType:   edgeType,
		properties: make(map[string]Value),
		lockOwner:  txID,
	}
	s.edges[gid] = rec
	return &EdgeAccessor{store: s, txID: txID, gid: gid, version: rec.version}, nil
}

// FindVertex returns an accessor to the vertex with the given id
func (s *LocalStore) FindVertex(txID uint64, gid Gid) (*VertexAccessor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.vertices[gid]
	if !ok {
		return nil, ErrVertexNotFound
	}
	return &VertexAccessor{store: s, txID: txID, gid: gid, version: rec.version}, nil
}

// FindEdge returns an accessor to the edge with the given id
func (s *LocalStore) FindEdge(txID uint64, gid Gid) (*EdgeAccessor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.edges[gid]
	if !ok {
		return nil, ErrEdgeNotFound
	}
	return &EdgeAccessor{store: s, txID: txID, gid: gid, version: rec.version}, nil
}

// RemoveVertex deletes the vertex behind the accessor. With checkEmpty
// set, a vertex that still has adjacency entries is refused with
// ErrVertexNotEmpty.
func (s *LocalStore) RemoveVertex(a *VertexAccessor, checkEmpty bool) error {
	if err := s.acquireVertexLock(a.gid, a.txID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.vertices[a.gid]
	if !ok {
		return ErrVertexNotFound
	}
	if rec.deleted {
		return ErrRecordDeleted
	}
	if rec.version != a.version {
		return ErrSerialization
	}
	if checkEmpty && (len(rec.out) > 0 || len(rec.in) > 0) {
		return ErrVertexNotEmpty
	}
	rec.deleted = true
	rec.version++
	return nil
}

// RemoveEdge deletes the edge record behind the accessor. Adjacency
// entries referencing the edge are left to the out/in-edge removal path.
func (s *LocalStore) RemoveEdge(a *EdgeAccessor) error {
	if err := s.acquireEdgeLock(a.gid, a.txID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.edges[a.gid]
	if !ok {
		return ErrEdgeNotFound
	}
	if rec.deleted {
		return ErrRecordDeleted
	}
	if rec.version != a.version {
		return ErrSerialization
	}
	rec.deleted = true
	rec.version++
	return nil
}

// ReleaseLocks frees every record lock held by the given transaction.
// Called when the transaction commits or aborts.
func (s *LocalStore) ReleaseLocks(txID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.vertices {
		if rec.lockOwner == txID {
			rec.lockOwner = 0
		}
	}
	for _, rec := range s.edges {
		if rec.lockOwner == txID {
			rec.lockOwner = 0
		}
	}
}

// VertexCount returns the number of live vertices
func (s *LocalStore) VertexCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.vertices {
		if !rec.deleted {
			n++
		}
	}
	return n
}

// EdgeCount returns the number of live edges
func (s *LocalStore) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.edges {
		if !rec.deleted {
			n++
		}
	}
	return n
}

// acquireVertexLock takes the record lock for txID, waiting up to the
// configured timeout if another transaction holds it. Reentrant for the
// owning transaction.
func (s *LocalStore) acquireVertexLock(gid Gid, txID uint64) error {
	deadline := time.Now().Add(s.lockTimeout)
	for {
		s.mu.Lock()
		rec, ok := s.vertices[gid]
		if !ok {
			s.mu.Unlock()
			return ErrVertexNotFound
		}
		if rec.lockOwner == 0 || rec.lockOwner == txID {
			rec.lockOwner = txID
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

func (s *LocalStore) acquireEdgeLock(gid Gid, txID uint64) error {
	deadline := time.Now().Add(s.lockTimeout)
	for {
		s.mu.Lock()
		rec, ok := s.edges[gid]
		if !ok {
			s.mu.Unlock()
			return ErrEdgeNotFound
		}
		if rec.lockOwner == 0 || rec.lockOwner == txID {
			rec.lockOwner = txID
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		time.Sleep(time.Millisecond)
	}
}
