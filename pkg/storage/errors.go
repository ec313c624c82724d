package storage

import "errors"

// Conflict errors surfaced by accessor mutations. These are recoverable:
// the caller reports them to the originator as a typed outcome.
var (
	// ErrSerialization signals an optimistic-concurrency conflict: the
	// record changed after the accessor last observed it.
	ErrSerialization = errors.New("serialization conflict")
	// ErrRecordDeleted signals a mutation against an element another
	// transaction already deleted.
	ErrRecordDeleted = errors.New("record already deleted")
	// ErrLockTimeout signals failure to acquire a record lock in time.
	ErrLockTimeout = errors.New("record lock acquisition timed out")
)

var (
	ErrVertexNotFound  = errors.New("vertex not found")
	ErrEdgeNotFound    = errors.New("edge not found")
	ErrVertexNotEmpty  = errors.New("vertex has edges and cannot be deleted")
	ErrEdgeNotInserted = errors.New("edge endpoint vertex not found")
)
