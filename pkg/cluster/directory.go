package cluster

import (
	"fmt"
	"sort"
	"sync"
)

// MasterWorkerID is the id the master claims for itself
const MasterWorkerID = 0

// Directory is the thread-safe worker id to endpoint map shared by
// the master registry and each worker's local membership view.
type Directory struct {
	mu      sync.RWMutex
	workers map[int]string
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{workers: make(map[int]string)}
}

// Add records a worker's endpoint. Adding an id that is already
// present with a different endpoint is rejected; re-adding the same
// mapping is a no-op so repeated discovery notifications stay safe.
func (d *Directory) Add(workerID int, endpoint string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.workers[workerID]; ok && existing != endpoint {
		return fmt.Errorf("worker id %d already registered at %s", workerID, existing)
	}
	d.workers[workerID] = endpoint
	return nil
}

// Remove drops a worker from the directory
func (d *Directory) Remove(workerID int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.workers, workerID)
}

// Endpoint returns the endpoint of a worker, if known
func (d *Directory) Endpoint(workerID int) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	endpoint, ok := d.workers[workerID]
	return endpoint, ok
}

// Snapshot returns a copy of the full membership map
func (d *Directory) Snapshot() map[int]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[int]string, len(d.workers))
	for id, endpoint := range d.workers {
		out[id] = endpoint
	}
	return out
}

// WorkerIDs returns all known ids in ascending order
func (d *Directory) WorkerIDs() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]int, 0, len(d.workers))
	for id := range d.workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Len returns the number of known workers
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.workers)
}

// nextFreeID returns the smallest unused positive worker id
func (d *Directory) nextFreeID() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for id := 1; ; id++ {
		if _, taken := d.workers[id]; !taken {
			return id
		}
	}
}
