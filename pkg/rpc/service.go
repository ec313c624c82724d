package rpc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-cluster/pkg/logging"
	"github.com/dd0wney/cluso-cluster/pkg/metrics"
)

// ReplyFunc delivers a response to the original caller, keyed by the
// message id the request arrived with.
type ReplyFunc func(messageID uint64, res *Message)

// task is one queued unit of work for a service worker
type task struct {
	reply     ReplyFunc
	messageID uint64
	msg       *Message
}

// handlerFunc processes a decoded request envelope and produces a
// response envelope.
type handlerFunc func(msg *Message) (*Message, error)

// Service owns a bounded task queue and a fixed pool of worker
// goroutines. Each worker pulls one task, looks up the handler for the
// task's message type, invokes it and replies to the original caller.
type Service struct {
	system *System
	name   string

	handlersMu sync.RWMutex
	handlers   map[MessageType]handlerFunc

	tasks  chan task
	stopCh chan struct{}
	alive  atomic.Bool
	wg     sync.WaitGroup

	logger  logging.Logger
	metrics *metrics.Registry

	closeOnce sync.Once
}

// NewService creates a service, registers it with the system under its
// name and starts its worker pool. Registering a second service under
// an existing name is a fatal contract violation.
func NewService(system *System, name string, workers, queueDepth int, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	s := &Service{
		system:   system,
		name:     name,
		handlers: make(map[MessageType]handlerFunc),
		tasks:    make(chan task, queueDepth),
		stopCh:   make(chan struct{}),
		logger:   logger.With(logging.Service(name)),
		metrics:  metrics.DefaultRegistry(),
	}
	s.alive.Store(true)

	system.Add(s)

	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

// Name returns the service's registered name
func (s *Service) Name() string {
	return s.name
}

// QueueDepth returns the number of queued, not yet dispatched tasks
func (s *Service) QueueDepth() int {
	return len(s.tasks)
}

// register associates a handler with a request type. At most one
// handler per request type per service instance; a duplicate
// registration is a programming error.
func (s *Service) register(reqType MessageType, h handlerFunc) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	if _, dup := s.handlers[reqType]; dup {
		panic(fmt.Sprintf("rpc: duplicate handler for %s on service %q", reqType, s.name))
	}
	s.handlers[reqType] = h
}

// Register associates the wire type of Req with a handler producing a
// Res. Must be called before the service starts receiving Req messages;
// the dispatch table supports concurrent lookups from all workers.
func Register[Req Payload, Res Payload](s *Service, handler func(Req) Res) {
	var zero Req
	s.register(zero.MessageType(), func(msg *Message) (*Message, error) {
		var req Req
		if err := msg.Decode(&req); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", msg.Type, err)
		}
		return NewMessage(handler(req))
	})
}

// enqueue adds a task to the queue, blocking while the queue is full.
// Tasks arriving during shutdown are dropped.
func (s *Service) enqueue(t task) {
	if !s.alive.Load() {
		s.metrics.RecordRPCDrop(s.name, "service_stopped")
		return
	}
	select {
	case s.tasks <- t:
		s.metrics.SetRPCQueueDepth(s.name, len(s.tasks))
	case <-s.stopCh:
		s.metrics.RecordRPCDrop(s.name, "service_stopped")
	}
}

func (s *Service) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.tasks:
			s.metrics.SetRPCQueueDepth(s.name, len(s.tasks))
			s.dispatch(t)
		}
	}
}

// dispatch invokes the handler registered for the task's message type.
// Tasks with no registered handler are dropped without a response; the
// drop is counted so the behaviour stays observable.
func (s *Service) dispatch(t task) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[t.msg.Type]
	s.handlersMu.RUnlock()

	if !ok {
		s.metrics.RecordRPCDrop(s.name, "unhandled_type")
		s.logger.Debug("no handler for message type",
			logging.MessageType(t.msg.Type.String()))
		return
	}

	s.metrics.RPCWorkersActive.WithLabelValues(s.name).Inc()
	start := time.Now()
	res, err := handler(t.msg)
	s.metrics.RecordRPCTask(s.name, t.msg.Type.String(), time.Since(start))
	s.metrics.RPCWorkersActive.WithLabelValues(s.name).Dec()

	if err != nil {
		s.logger.Error("handler failed",
			logging.MessageType(t.msg.Type.String()),
			logging.Error(err))
		return
	}
	t.reply(t.messageID, res)
}

// Close marks the service not-alive, wakes all blocked workers, joins
// them and unregisters from the system. Workers already holding a task
// finish processing it first.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.alive.Store(false)
		close(s.stopCh)
		s.wg.Wait()
		s.system.Remove(s)
	})
}
