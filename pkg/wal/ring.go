package wal

import (
	"errors"
	"sync"

	"github.com/dd0wney/cluso-cluster/pkg/delta"
)

// ErrBufferClosed is returned by Emplace after the WAL has shut down
var ErrBufferClosed = errors.New("wal buffer is closed")

// ringBuffer is a fixed-capacity FIFO of deltas shared by all producers
// and the single background flusher. A producer hitting a full buffer
// blocks until the flusher drains space; deltas are never silently
// dropped.
type ringBuffer struct {
	mu      sync.Mutex
	notFull *sync.Cond

	items  []delta.StateDelta
	head   int
	size   int
	closed bool
}

func newRingBuffer(capacity int) *ringBuffer {
	rb := &ringBuffer{
		items: make([]delta.StateDelta, capacity),
	}
	rb.notFull = sync.NewCond(&rb.mu)
	return rb
}

// emplace appends one delta, blocking while the buffer is full
func (rb *ringBuffer) emplace(d delta.StateDelta) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for rb.size == len(rb.items) && !rb.closed {
		rb.notFull.Wait()
	}
	if rb.closed {
		return ErrBufferClosed
	}

	rb.items[(rb.head+rb.size)%len(rb.items)] = d
	rb.size++
	return nil
}

// drain removes and returns every buffered delta in FIFO order
func (rb *ringBuffer) drain() []delta.StateDelta {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == 0 {
		return nil
	}

	out := make([]delta.StateDelta, rb.size)
	for i := 0; i < rb.size; i++ {
		out[i] = rb.items[(rb.head+i)%len(rb.items)]
	}
	rb.head = 0
	rb.size = 0
	rb.notFull.Broadcast()
	return out
}

// length returns the number of buffered deltas
func (rb *ringBuffer) length() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

// close wakes every blocked producer with an error
func (rb *ringBuffer) close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
	rb.notFull.Broadcast()
}
