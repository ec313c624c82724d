package cluster

import (
	"context"
	"fmt"

	"github.com/dd0wney/cluso-cluster/pkg/logging"
	"github.com/dd0wney/cluso-cluster/pkg/rpc"
)

// ErrRegistrationRejected is returned when the master refuses a
// registration, typically because the desired worker id is taken.
var ErrRegistrationRejected = fmt.Errorf("cluster: worker registration rejected")

// Worker runs the coordination service on a worker node: it keeps a
// local membership view fed by master discovery notifications and
// exposes the cooperative stop hook.
type Worker struct {
	directory *Directory
	svc       *rpc.Service
	logger    logging.Logger

	workerID     int
	sessionToken string

	// onStop is invoked once when the master requests shutdown
	onStop func()
	// onTxHorizon receives the master's oldest-active broadcasts
	onTxHorizon func(oldestActive uint64)
}

// WorkerConfig controls the worker coordination service
type WorkerConfig struct {
	// Workers is the coordination service worker pool size
	Workers int
	// QueueDepth bounds the coordination task queue
	QueueDepth int
	// OnStop runs when a StopWorker request arrives. Must not block;
	// the acknowledgement is sent after it returns.
	OnStop func()
	// OnTxHorizon runs for every oldest-active broadcast from the
	// master. Workers feed it to their staged-state eviction.
	OnTxHorizon func(oldestActive uint64)
}

// DefaultWorkerConfig returns the worker coordination defaults
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{Workers: 2, QueueDepth: 16}
}

// NewWorker registers the worker-side coordination service
func NewWorker(system *rpc.System, cfg WorkerConfig, logger logging.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	w := &Worker{
		directory:   NewDirectory(),
		logger:      logger.With(logging.Component("cluster-worker")),
		workerID:    AutoAssignWorkerID,
		onStop:      cfg.OnStop,
		onTxHorizon: cfg.OnTxHorizon,
	}

	w.svc = rpc.NewService(system, CoordinationService, cfg.Workers, cfg.QueueDepth, logger)
	rpc.Register(w.svc, w.handleClusterDiscovery)
	rpc.Register(w.svc, w.handleStopWorker)
	rpc.Register(w.svc, w.handleTxHorizon)
	return w
}

// Register announces this worker to the master and installs the
// returned membership map. desiredID of AutoAssignWorkerID lets the
// master choose.
func (w *Worker) Register(ctx context.Context, master rpc.Caller, desiredID int, endpoint string) (int, error) {
	res, err := rpc.Call[RegisterWorkerReq, RegisterWorkerRes](ctx, master, CoordinationService, RegisterWorkerReq{
		DesiredWorkerID: desiredID,
		Endpoint:        endpoint,
	})
	if err != nil {
		return 0, fmt.Errorf("registration request failed: %w", err)
	}
	if !res.Registered {
		return 0, ErrRegistrationRejected
	}

	w.workerID = res.WorkerID
	w.sessionToken = res.SessionToken
	for id, ep := range res.Workers {
		if err := w.directory.Add(id, ep); err != nil {
			return 0, fmt.Errorf("inconsistent membership map: %w", err)
		}
	}

	w.logger.Info("registered with master",
		logging.WorkerID(res.WorkerID),
		logging.Count(w.directory.Len()))
	return res.WorkerID, nil
}

// WorkerID returns the assigned id, or AutoAssignWorkerID before
// registration completes.
func (w *Worker) WorkerID() int {
	return w.workerID
}

// SessionToken returns the token issued at registration
func (w *Worker) SessionToken() string {
	return w.sessionToken
}

// Directory returns this worker's membership view
func (w *Worker) Directory() *Directory {
	return w.directory
}

func (w *Worker) handleClusterDiscovery(req ClusterDiscoveryReq) ClusterDiscoveryRes {
	if err := w.directory.Add(req.WorkerID, req.Endpoint); err != nil {
		w.logger.Warn("conflicting discovery notification",
			logging.WorkerID(req.WorkerID),
			logging.Error(err))
		return ClusterDiscoveryRes{}
	}
	w.logger.Info("discovered peer",
		logging.WorkerID(req.WorkerID),
		logging.String("endpoint", req.Endpoint))
	return ClusterDiscoveryRes{}
}

func (w *Worker) handleTxHorizon(req TxHorizonReq) TxHorizonRes {
	if w.onTxHorizon != nil {
		w.onTxHorizon(req.OldestActive)
	}
	return TxHorizonRes{}
}

func (w *Worker) handleStopWorker(StopWorkerReq) StopWorkerRes {
	w.logger.Info("stop requested by master")
	if w.onStop != nil {
		w.onStop()
	}
	return StopWorkerRes{}
}

// Close stops the coordination service
func (w *Worker) Close() {
	w.svc.Close()
}
