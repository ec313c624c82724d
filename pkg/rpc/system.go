package rpc

import (
	"fmt"
	"sync"

	"github.com/dd0wney/cluso-cluster/pkg/logging"
	"github.com/dd0wney/cluso-cluster/pkg/metrics"
)

// System is an explicitly constructed registry of named services. It
// routes an inbound (service, message) pair to the owning service's
// task queue. Each service registers itself on construction and
// unregisters on Close.
type System struct {
	mu       sync.RWMutex
	services map[string]*Service

	logger  logging.Logger
	metrics *metrics.Registry
}

// NewSystem creates an empty service registry
func NewSystem(logger logging.Logger) *System {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &System{
		services: make(map[string]*Service),
		logger:   logger.With(logging.Component("rpc")),
		metrics:  metrics.DefaultRegistry(),
	}
}

// AddTask routes a message to the named service's queue. A task for an
// unknown service name is dropped silently: no response is sent and no
// error is returned. The drop is counted for observability.
func (sys *System) AddTask(reply ReplyFunc, service string, messageID uint64, msg *Message) {
	sys.mu.RLock()
	svc, ok := sys.services[service]
	sys.mu.RUnlock()

	if !ok {
		sys.metrics.RecordRPCDrop(service, "unknown_service")
		sys.logger.Debug("dropping task for unknown service",
			logging.Service(service),
			logging.MessageType(msg.Type.String()))
		return
	}
	svc.enqueue(task{reply: reply, messageID: messageID, msg: msg})
}

// Add registers a service under its declared name. Two services
// answering the same name is a fatal contract violation.
func (sys *System) Add(svc *Service) {
	sys.mu.Lock()
	defer sys.mu.Unlock()

	if _, dup := sys.services[svc.name]; dup {
		panic(fmt.Sprintf("rpc: service %q already registered", svc.name))
	}
	sys.services[svc.name] = svc
	sys.logger.Info("service registered", logging.Service(svc.name))
}

// Remove unregisters a service. Removing a name that is not registered
// is a fatal contract violation.
func (sys *System) Remove(svc *Service) {
	sys.mu.Lock()
	defer sys.mu.Unlock()

	if _, ok := sys.services[svc.name]; !ok {
		panic(fmt.Sprintf("rpc: removing unregistered service %q", svc.name))
	}
	delete(sys.services, svc.name)
	sys.logger.Info("service unregistered", logging.Service(svc.name))
}

// ServiceNames returns the names of all registered services
func (sys *System) ServiceNames() []string {
	sys.mu.RLock()
	defer sys.mu.RUnlock()

	names := make([]string, 0, len(sys.services))
	for name := range sys.services {
		names = append(names, name)
	}
	return names
}
