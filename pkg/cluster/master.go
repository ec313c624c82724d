package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-cluster/pkg/logging"
	"github.com/dd0wney/cluso-cluster/pkg/metrics"
	"github.com/dd0wney/cluso-cluster/pkg/rpc"
)

// Dialer opens a caller to a peer endpoint. The master uses it to fan
// coordination messages out to registered workers.
type Dialer func(endpoint string) (rpc.Caller, error)

// TxAuthority is the cluster-wide transaction source the master
// exposes over the coordination service. Satisfied by the transaction
// engine.
type TxAuthority interface {
	BeginTx() (uint64, error)
	EndTx(txID uint64, committed bool) error
	OldestActive() uint64
}

// Master runs the coordination service on the coordinator node: it
// assigns worker ids, maintains the authoritative membership map,
// notifies existing workers when a new one joins and, when given a
// transaction authority, issues transaction ids and broadcasts the
// oldest-active horizon.
type Master struct {
	directory *Directory
	svc       *rpc.Service
	dial      Dialer
	authority TxAuthority
	logger    logging.Logger
	metrics   *metrics.Registry

	sessionsMu sync.Mutex
	sessions   map[int]string

	fanoutWait time.Duration
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// MasterConfig controls the master coordination service
type MasterConfig struct {
	// Endpoint is the master's own address, published to workers as
	// the endpoint of MasterWorkerID.
	Endpoint string
	// Workers is the coordination service worker pool size
	Workers int
	// QueueDepth bounds the coordination task queue
	QueueDepth int
	// FanoutWait bounds each notification to a peer
	FanoutWait time.Duration
	// Authority, when set, serves TxBegin/TxEnd and feeds the horizon
	// broadcast.
	Authority TxAuthority
	// HorizonInterval is how often the oldest-active horizon is pushed
	// to workers. Zero disables the broadcast loop.
	HorizonInterval time.Duration
}

// DefaultMasterConfig returns the master coordination defaults
func DefaultMasterConfig(endpoint string) MasterConfig {
	return MasterConfig{
		Endpoint:        endpoint,
		Workers:         4,
		QueueDepth:      64,
		FanoutWait:      10 * time.Second,
		HorizonInterval: time.Second,
	}
}

// NewMaster registers the coordination service with the system and
// seeds the directory with the master's own endpoint.
func NewMaster(system *rpc.System, cfg MasterConfig, dial Dialer, logger logging.Logger) *Master {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	m := &Master{
		directory:  NewDirectory(),
		dial:       dial,
		authority:  cfg.Authority,
		logger:     logger.With(logging.Component("cluster-master")),
		metrics:    metrics.DefaultRegistry(),
		sessions:   make(map[int]string),
		fanoutWait: cfg.FanoutWait,
		stopCh:     make(chan struct{}),
	}
	if m.fanoutWait <= 0 {
		m.fanoutWait = 10 * time.Second
	}
	m.directory.Add(MasterWorkerID, cfg.Endpoint)

	m.svc = rpc.NewService(system, CoordinationService, cfg.Workers, cfg.QueueDepth, logger)
	rpc.Register(m.svc, m.handleRegisterWorker)
	if m.authority != nil {
		rpc.Register(m.svc, m.handleTxBegin)
		rpc.Register(m.svc, m.handleTxEnd)
		if cfg.HorizonInterval > 0 {
			m.wg.Add(1)
			go m.horizonLoop(cfg.HorizonInterval)
		}
	}
	return m
}

// Directory returns the authoritative membership map
func (m *Master) Directory() *Directory {
	return m.directory
}

func (m *Master) handleRegisterWorker(req RegisterWorkerReq) RegisterWorkerRes {
	workerID := req.DesiredWorkerID
	if workerID == AutoAssignWorkerID {
		workerID = m.directory.nextFreeID()
	}

	if err := m.directory.Add(workerID, req.Endpoint); err != nil {
		m.metrics.ClusterRegistrationsTotal.WithLabelValues("rejected").Inc()
		m.logger.Warn("rejecting worker registration",
			logging.WorkerID(workerID),
			logging.Error(err))
		return RegisterWorkerRes{Registered: false}
	}

	token := uuid.NewString()
	m.sessionsMu.Lock()
	m.sessions[workerID] = token
	m.sessionsMu.Unlock()

	m.metrics.ClusterRegistrationsTotal.WithLabelValues("ok").Inc()
	m.metrics.ClusterWorkersTotal.Set(float64(m.directory.Len() - 1))
	m.logger.Info("worker registered",
		logging.WorkerID(workerID),
		logging.String("endpoint", req.Endpoint))

	m.notifyPeers(workerID, req.Endpoint)

	return RegisterWorkerRes{
		Registered:   true,
		WorkerID:     workerID,
		SessionToken: token,
		Workers:      m.directory.Snapshot(),
	}
}

// notifyPeers fans a discovery notification out to every registered
// worker other than the master itself and the new member.
func (m *Master) notifyPeers(newWorkerID int, endpoint string) {
	for _, id := range m.directory.WorkerIDs() {
		if id == MasterWorkerID || id == newWorkerID {
			continue
		}
		peerEndpoint, ok := m.directory.Endpoint(id)
		if !ok {
			continue
		}

		m.wg.Add(1)
		go func(peerID int, peerEndpoint string) {
			defer m.wg.Done()
			if err := m.notify(peerEndpoint, ClusterDiscoveryReq{
				WorkerID: newWorkerID,
				Endpoint: endpoint,
			}); err != nil {
				m.logger.Warn("discovery notification failed",
					logging.WorkerID(peerID),
					logging.Error(err))
			}
		}(id, peerEndpoint)
	}
}

func (m *Master) notify(endpoint string, req ClusterDiscoveryReq) error {
	caller, err := m.dial(endpoint)
	if err != nil {
		return err
	}
	defer caller.Close()

	ctx, cancel := context.WithTimeout(context.Background(), m.fanoutWait)
	defer cancel()
	_, err = rpc.Call[ClusterDiscoveryReq, ClusterDiscoveryRes](ctx, caller, CoordinationService, req)
	return err
}

func (m *Master) handleTxBegin(TxBeginReq) TxBeginRes {
	id, err := m.authority.BeginTx()
	if err != nil {
		m.logger.Warn("transaction begin failed", logging.Error(err))
		return TxBeginRes{OK: false}
	}
	return TxBeginRes{OK: true, TxID: id}
}

func (m *Master) handleTxEnd(req TxEndReq) TxEndRes {
	if err := m.authority.EndTx(req.TxID, req.Committed); err != nil {
		m.logger.Warn("transaction end failed",
			logging.TxID(req.TxID),
			logging.Error(err))
		return TxEndRes{Found: false}
	}
	return TxEndRes{Found: true}
}

func (m *Master) horizonLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.BroadcastTxHorizon(m.authority.OldestActive())
		}
	}
}

// BroadcastTxHorizon pushes the oldest-active transaction id to every
// registered worker. Staged-state eviction on workers is driven by
// this horizon, not by any worker-local id clock.
func (m *Master) BroadcastTxHorizon(oldestActive uint64) {
	for _, id := range m.directory.WorkerIDs() {
		if id == MasterWorkerID {
			continue
		}
		endpoint, ok := m.directory.Endpoint(id)
		if !ok {
			continue
		}

		caller, err := m.dial(endpoint)
		if err != nil {
			m.logger.Warn("failed to reach worker for horizon broadcast",
				logging.WorkerID(id),
				logging.Error(err))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.fanoutWait)
		_, err = rpc.Call[TxHorizonReq, TxHorizonRes](ctx, caller, CoordinationService,
			TxHorizonReq{OldestActive: oldestActive})
		cancel()
		caller.Close()
		if err != nil {
			m.logger.Warn("horizon broadcast failed",
				logging.WorkerID(id),
				logging.Error(err))
		}
	}
}

// StopAll fans StopWorker out to every registered worker. Used on
// coordinated cluster shutdown; the master stops its own service
// afterwards via Close.
func (m *Master) StopAll(ctx context.Context) {
	for _, id := range m.directory.WorkerIDs() {
		if id == MasterWorkerID {
			continue
		}
		endpoint, ok := m.directory.Endpoint(id)
		if !ok {
			continue
		}

		caller, err := m.dial(endpoint)
		if err != nil {
			m.logger.Warn("failed to reach worker for shutdown",
				logging.WorkerID(id),
				logging.Error(err))
			continue
		}
		if _, err := rpc.Call[StopWorkerReq, StopWorkerRes](ctx, caller, CoordinationService, StopWorkerReq{}); err != nil {
			m.logger.Warn("stop request failed",
				logging.WorkerID(id),
				logging.Error(err))
		}
		caller.Close()
	}
}

// Close stops the horizon loop, waits for in-flight notifications and
// stops the service.
func (m *Master) Close() {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
		m.svc.Close()
	})
}
