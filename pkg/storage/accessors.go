package storage

// VertexAccessor is a handle to one vertex, bound to a transaction.
// Mutations fail with ErrSerialization when the record has advanced
// past the version the accessor last observed; Reconstruct refreshes
// the accessor to the latest locally-visible version.
type VertexAccessor struct {
	store   *LocalStore
	txID    uint64
	gid     Gid
	version uint64
}

// Gid returns the vertex id
func (a *VertexAccessor) Gid() Gid {
	return a.gid
}

// GlobalAddress returns the cluster-wide address of the vertex
func (a *VertexAccessor) GlobalAddress() Address {
	return a.store.Addr(a.gid)
}

// Reconstruct refreshes the accessor to the latest version of the
// record. Must be called before replaying deltas that were staged
// earlier: local interpreter activity may have advanced the record.
func (a *VertexAccessor) Reconstruct() error {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()

	rec, ok := a.store.vertices[a.gid]
	if !ok {
		return ErrVertexNotFound
	}
	if rec.deleted {
		return ErrRecordDeleted
	}
	a.version = rec.version
	return nil
}

func (a *VertexAccessor) mutate(fn func(rec *vertexRecord)) error {
	if err := a.store.acquireVertexLock(a.gid, a.txID); err != nil {
		return err
	}

	a.store.mu.Lock()
	defer a.store.mu.Unlock()

	rec, ok := a.store.vertices[a.gid]
	if !ok {
		return ErrVertexNotFound
	}
	if rec.deleted {
		return ErrRecordDeleted
	}
	if rec.version != a.version {
		return ErrSerialization
	}
	fn(rec)
	rec.version++
	a.version = rec.version
	return nil
}

// SetProperty sets a property on the vertex
func (a *VertexAccessor) SetProperty(key string, value Value) error {
	return a.mutate(func(rec *vertexRecord) {
		rec.properties[key] = value
	})
}

// RemoveProperty removes a property from the vertex
func (a *VertexAccessor) RemoveProperty(key string) error {
	return a.mutate(func(rec *vertexRecord) {
		delete(rec.properties, key)
	})
}

// AddLabel adds a label to the vertex. Adding a label twice is a no-op.
func (a *VertexAccessor) AddLabel(label string) error {
	return a.mutate(func(rec *vertexRecord) {
		for _, l := range rec.labels {
			if l == label {
				return
			}
		}
		rec.labels = append(rec.labels, label)
	})
}

// RemoveLabel removes a label from the vertex
func (a *VertexAccessor) RemoveLabel(label string) error {
	return a.mutate(func(rec *vertexRecord) {
		for i, l := range rec.labels {
			if l == label {
				rec.labels = append(rec.labels[:i], rec.labels[i+1:]...)
				return
			}
		}
	})
}

// AddOutEdge records an outgoing adjacency entry on the vertex
func (a *VertexAccessor) AddOutEdge(entry EdgeEntry) error {
	return a.mutate(func(rec *vertexRecord) {
		rec.out = append(rec.out, entry)
	})
}

// AddInEdge records an incoming adjacency entry on the vertex
func (a *VertexAccessor) AddInEdge(entry EdgeEntry) error {
	return a.mutate(func(rec *vertexRecord) {
		rec.in = append(rec.in, entry)
	})
}

// RemoveOutEdge removes the outgoing adjacency entry for the given edge
func (a *VertexAccessor) RemoveOutEdge(edge Address) error {
	return a.mutate(func(rec *vertexRecord) {
		for i, e := range rec.out {
			if e.Edge == edge {
				rec.out = append(rec.out[:i], rec.out[i+1:]...)
				return
			}
		}
	})
}

// RemoveInEdge removes the incoming adjacency entry for the given edge
func (a *VertexAccessor) RemoveInEdge(edge Address) error {
	return a.mutate(func(rec *vertexRecord) {
		for i, e := range rec.in {
			if e.Edge == edge {
				rec.in = append(rec.in[:i], rec.in[i+1:]...)
				return
			}
		}
	})
}

// Labels returns a copy of the vertex's labels
func (a *VertexAccessor) Labels() []string {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()

	rec, ok := a.store.vertices[a.gid]
	if !ok {
		return nil
	}
	out := make([]string, len(rec.labels))
	copy(out, rec.labels)
	return out
}

// Property returns the value of one property and whether it is set
func (a *VertexAccessor) Property(key string) (Value, bool) {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()

	rec, ok := a.store.vertices[a.gid]
	if !ok {
		return Value{}, false
	}
	v, ok := rec.properties[key]
	return v, ok
}

// OutEdges returns a copy of the outgoing adjacency entries
func (a *VertexAccessor) OutEdges() []EdgeEntry {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()

	rec, ok := a.store.vertices[a.gid]
	if !ok {
		return nil
	}
	out := make([]EdgeEntry, len(rec.out))
	copy(out, rec.out)
	return out
}

// InEdges returns a copy of the incoming adjacency entries
func (a *VertexAccessor) InEdges() []EdgeEntry {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()

	rec, ok := a.store.vertices[a.gid]
	if !ok {
		return nil
	}
	in := make([]EdgeEntry, len(rec.in))
	copy(in, rec.in)
	return in
}

// EdgeAccessor is a handle to one edge record, bound to a transaction
type EdgeAccessor struct {
	store   *LocalStore
	txID    uint64
	gid     Gid
	version uint64
}

// Gid returns the edge id
func (a *EdgeAccessor) Gid() Gid {
	return a.gid
}

// GlobalAddress returns the cluster-wide address of the edge
func (a *EdgeAccessor) GlobalAddress() Address {
	return a.store.Addr(a.gid)
}

// Reconstruct refreshes the accessor to the latest version of the record
func (a *EdgeAccessor) Reconstruct() error {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()

	rec, ok := a.store.edges[a.gid]
	if !ok {
		return ErrEdgeNotFound
	}
	if rec.deleted {
		return ErrRecordDeleted
	}
	a.version = rec.version
	return nil
}

func (a *EdgeAccessor) mutate(fn func(rec *edgeRecord)) error {
	if err := a.store.acquireEdgeLock(a.gid, a.txID); err != nil {
		return err
	}

	a.store.mu.Lock()
	defer a.store.mu.Unlock()

	rec, ok := a.store.edges[a.gid]
	if !ok {
		return ErrEdgeNotFound
	}
	if rec.deleted {
		return ErrRecordDeleted
	}
	if rec.version != a.version {
		return ErrSerialization
	}
	fn(rec)
	rec.version++
	a.version = rec.version
	return nil
}

// SetProperty sets a property on the edge
func (a *EdgeAccessor) SetProperty(key string, value Value) error {
	return a.mutate(func(rec *edgeRecord) {
		rec.properties[key] = value
	})
}

// RemoveProperty removes a property from the edge
func (a *EdgeAccessor) RemoveProperty(key string) error {
	return a.mutate(func(rec *edgeRecord) {
		delete(rec.properties, key)
	})
}

// From returns the address of the edge's source vertex
func (a *EdgeAccessor) From() Address {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()

	if rec, ok := a.store.edges[a.gid]; ok {
		return rec.from
	}
	return Address{}
}

// To returns the address of the edge's destination vertex
func (a *EdgeAccessor) To() Address {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()

	if rec, ok := a.store.edges[a.gid]; ok {
		return rec.to
	}
	return Address{}
}

// EdgeType returns the edge's type
func (a *EdgeAccessor) EdgeType() string {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()

	if rec, ok := a.store.edges[a.gid]; ok {
		return rec.edgeType
	}
	return ""
}

// Property returns the value of one property and whether it is set
func (a *EdgeAccessor) Property(key string) (Value, bool) {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()

	rec, ok := a.store.edges[a.gid]
	if !ok {
		return Value{}, false
	}
	v, ok := rec.properties[key]
	return v, ok
}
