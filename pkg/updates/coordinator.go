package updates

import (
	"fmt"
	"time"

	"github.com/dd0wney/cluso-cluster/pkg/delta"
	"github.com/dd0wney/cluso-cluster/pkg/logging"
	"github.com/dd0wney/cluso-cluster/pkg/metrics"
	"github.com/dd0wney/cluso-cluster/pkg/rpc"
	"github.com/dd0wney/cluso-cluster/pkg/storage"
	"github.com/dd0wney/cluso-cluster/pkg/wal"
)

// Coordinator owns the two staging stores of its worker and registers
// the update handlers with the RPC system. Applied adjacency deltas
// are written through to the WAL at the moment they take effect.
type Coordinator struct {
	store *storage.LocalStore
	wal   *wal.WAL

	vertexUpdates *updateStore[*storage.VertexAccessor]
	edgeUpdates   *updateStore[*storage.EdgeAccessor]

	svc     *rpc.Service
	logger  logging.Logger
	metrics *metrics.Registry
}

// Config controls the update service
type Config struct {
	// Workers is the update service worker pool size
	Workers int
	// QueueDepth bounds the update task queue
	QueueDepth int
}

// DefaultConfig returns the update service defaults
func DefaultConfig() Config {
	return Config{Workers: 8, QueueDepth: 256}
}

// NewCoordinator wires the staging stores to local storage and
// registers every update handler.
func NewCoordinator(system *rpc.System, store *storage.LocalStore, w *wal.WAL, cfg Config, logger logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	m := metrics.DefaultRegistry()
	c := &Coordinator{
		store:         store,
		wal:           w,
		vertexUpdates: newUpdateStore("vertex", store.FindVertex, m),
		edgeUpdates:   newUpdateStore("edge", store.FindEdge, m),
		logger:        logger.With(logging.Component("updates")),
		metrics:       m,
	}

	c.svc = rpc.NewService(system, ServiceName, cfg.Workers, cfg.QueueDepth, logger)
	rpc.Register(c.svc, c.handleUpdate)
	rpc.Register(c.svc, c.handleCreateVertex)
	rpc.Register(c.svc, c.handleCreateEdge)
	rpc.Register(c.svc, c.handleAddInEdge)
	rpc.Register(c.svc, c.handleRemoveVertex)
	rpc.Register(c.svc, c.handleRemoveEdge)
	rpc.Register(c.svc, c.handleRemoveInEdge)
	rpc.Register(c.svc, c.handleApply)
	return c
}

// Emplace stages one delta against the store matching its kind
func (c *Coordinator) Emplace(d delta.StateDelta) UpdateResult {
	switch d.Kind {
	case delta.SetPropertyEdge, delta.RemoveEdge:
		return c.edgeUpdates.emplace(d.EdgeID, d)
	case delta.SetPropertyVertex, delta.AddLabel, delta.RemoveLabel, delta.RemoveVertex,
		delta.AddOutEdge, delta.RemoveOutEdge, delta.AddInEdge, delta.RemoveInEdge:
		return c.vertexUpdates.emplace(d.VertexID, d)
	default:
		panic(fmt.Sprintf("updates: delta kind %s cannot be staged remotely", d.Kind))
	}
}

func (c *Coordinator) handleUpdate(req UpdateReq) UpdateRes {
	return UpdateRes{Result: c.Emplace(req.Delta)}
}

// CreateVertex inserts a vertex and applies its initial labels and
// properties immediately. The new element gets an empty staged entry
// so later deltas for it resolve without a second accessor fetch.
func (c *Coordinator) CreateVertex(txID uint64, labels []string, properties map[string]storage.Value) (storage.Gid, UpdateResult) {
	accessor := c.store.InsertVertex(txID)
	for _, label := range labels {
		if err := accessor.AddLabel(label); err != nil {
			return 0, resultFromError(err)
		}
	}
	for key, value := range properties {
		if err := accessor.SetProperty(key, value); err != nil {
			return 0, resultFromError(err)
		}
	}

	c.vertexUpdates.register(txID, accessor.Gid(), accessor)
	return accessor.Gid(), UpdateDone
}

func (c *Coordinator) handleCreateVertex(req CreateVertexReq) CreateVertexRes {
	gid, result := c.CreateVertex(req.TxID, req.Labels, req.Properties)
	return CreateVertexRes{Result: result, Gid: gid}
}

// CreateEdge inserts the edge record locally and stages the out-edge
// pointer on the source vertex. When the destination vertex is also
// local the in-edge pointer is staged here as well; otherwise its
// owner is told through a separate AddInEdge request.
func (c *Coordinator) CreateEdge(txID uint64, from storage.Gid, to storage.Address, edgeType string) (storage.Gid, UpdateResult) {
	fromAddr := c.store.Addr(from)
	accessor, err := c.store.InsertEdge(txID, fromAddr, to, edgeType)
	if err != nil {
		return 0, resultFromError(err)
	}
	c.edgeUpdates.register(txID, accessor.Gid(), accessor)

	edgeAddr := accessor.GlobalAddress()
	result := c.vertexUpdates.emplace(from, delta.OutEdgeAdd(txID, from, to, edgeAddr, edgeType))
	if result != UpdateDone {
		return 0, result
	}

	if to.IsLocal(c.store.WorkerID()) {
		result = c.vertexUpdates.emplace(to.Gid, delta.InEdgeAdd(txID, to.Gid, fromAddr, edgeAddr, edgeType))
		if result != UpdateDone {
			return 0, result
		}
	}
	return accessor.Gid(), UpdateDone
}

func (c *Coordinator) handleCreateEdge(req CreateEdgeReq) CreateEdgeRes {
	gid, result := c.CreateEdge(req.TxID, req.From, req.To, req.EdgeType)
	return CreateEdgeRes{Result: result, Gid: gid}
}

func (c *Coordinator) handleAddInEdge(req AddInEdgeReq) AddInEdgeRes {
	result := c.vertexUpdates.emplace(req.To,
		delta.InEdgeAdd(req.TxID, req.To, req.From, req.EdgeAddress, req.EdgeType))
	return AddInEdgeRes{Result: result}
}

func (c *Coordinator) handleRemoveVertex(req RemoveVertexReq) RemoveVertexRes {
	result := c.vertexUpdates.emplace(req.VertexID,
		delta.VertexRemove(req.TxID, req.VertexID, req.CheckEmpty))
	return RemoveVertexRes{Result: result}
}

// RemoveEdge stages the edge removal in three gated steps: the edge
// record itself, then the out-edge pointer on the local source vertex,
// then the in-edge pointer when the destination is local. The first
// failing step's result is returned and later steps are skipped.
func (c *Coordinator) RemoveEdge(txID uint64, edgeID, from storage.Gid, to storage.Address) UpdateResult {
	result := c.edgeUpdates.emplace(edgeID, delta.EdgeRemove(txID, edgeID))
	if result != UpdateDone {
		return result
	}

	edgeAddr := c.store.Addr(edgeID)
	result = c.vertexUpdates.emplace(from, delta.OutEdgeRemove(txID, from, edgeAddr))
	if result != UpdateDone {
		return result
	}

	if to.IsLocal(c.store.WorkerID()) {
		result = c.vertexUpdates.emplace(to.Gid, delta.InEdgeRemove(txID, to.Gid, edgeAddr))
	}
	return result
}

func (c *Coordinator) handleRemoveEdge(req RemoveEdgeReq) RemoveEdgeRes {
	return RemoveEdgeRes{Result: c.RemoveEdge(req.TxID, req.EdgeID, req.From, req.To)}
}

func (c *Coordinator) handleRemoveInEdge(req RemoveInEdgeReq) RemoveInEdgeRes {
	result := c.vertexUpdates.emplace(req.VertexID,
		delta.InEdgeRemove(req.TxID, req.VertexID, req.EdgeAddress))
	return RemoveInEdgeRes{Result: result}
}

// Apply replays every staged delta of a transaction: all vertex
// entries first, then all edge entries. Both stores are drained up
// front, so the staged state is gone after this call whatever the
// outcome; a conflicted transaction is retried from scratch by its
// originator, never re-applied.
func (c *Coordinator) Apply(txID uint64) UpdateResult {
	start := time.Now()

	vertexEntries := c.vertexUpdates.drain(txID)
	edgeEntries := c.edgeUpdates.drain(txID)

	result := UpdateDone
	for _, e := range vertexEntries {
		if result = c.applyVertexEntry(e); result != UpdateDone {
			break
		}
	}
	if result == UpdateDone {
		for _, e := range edgeEntries {
			if result = c.applyEdgeEntry(e); result != UpdateDone {
				break
			}
		}
	}

	c.metrics.RecordApply(result.String(), time.Since(start))
	if result != UpdateDone {
		c.logger.Debug("apply aborted",
			logging.TxID(txID),
			logging.String("result", result.String()))
	}
	return result
}

func (c *Coordinator) handleApply(req UpdateApplyReq) UpdateApplyRes {
	return UpdateApplyRes{Result: c.Apply(req.TxID)}
}

func (c *Coordinator) applyVertexEntry(e *entry[*storage.VertexAccessor]) UpdateResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Local interpreter activity may have advanced the element since
	// staging; replay starts from the latest visible version.
	if err := e.accessor.Reconstruct(); err != nil {
		return resultFromError(err)
	}
	for _, d := range e.deltas {
		if err := c.replayVertex(e.accessor, d); err != nil {
			return resultFromError(err)
		}
	}
	return UpdateDone
}

func (c *Coordinator) applyEdgeEntry(e *entry[*storage.EdgeAccessor]) UpdateResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.accessor.Reconstruct(); err != nil {
		return resultFromError(err)
	}
	for _, d := range e.deltas {
		if err := c.replayEdge(e.accessor, d); err != nil {
			return resultFromError(err)
		}
	}
	return UpdateDone
}

func (c *Coordinator) replayVertex(a *storage.VertexAccessor, d delta.StateDelta) error {
	if d.IsLocalOnly() {
		panic(fmt.Sprintf("updates: delta kind %s reached the remote apply path", d.Kind))
	}

	switch d.Kind {
	case delta.SetPropertyVertex:
		return a.SetProperty(d.Property, d.Value)
	case delta.AddLabel:
		return a.AddLabel(d.Label)
	case delta.RemoveLabel:
		return a.RemoveLabel(d.Label)
	case delta.RemoveVertex:
		return c.store.RemoveVertex(a, d.CheckEmpty)
	case delta.AddOutEdge:
		if err := a.AddOutEdge(storage.EdgeEntry{
			Vertex:   d.VertexToAddress,
			Edge:     d.EdgeAddress,
			EdgeType: d.EdgeType,
		}); err != nil {
			return err
		}
		c.logDurable(d)
		return nil
	case delta.RemoveOutEdge:
		if err := a.RemoveOutEdge(d.EdgeAddress); err != nil {
			return err
		}
		c.logDurable(d)
		return nil
	case delta.AddInEdge:
		if err := a.AddInEdge(storage.EdgeEntry{
			Vertex:   d.VertexFromAddress,
			Edge:     d.EdgeAddress,
			EdgeType: d.EdgeType,
		}); err != nil {
			return err
		}
		c.logDurable(d)
		return nil
	case delta.RemoveInEdge:
		if err := a.RemoveInEdge(d.EdgeAddress); err != nil {
			return err
		}
		c.logDurable(d)
		return nil
	default:
		panic(fmt.Sprintf("updates: delta kind %s is not replayable on a vertex", d.Kind))
	}
}

func (c *Coordinator) replayEdge(a *storage.EdgeAccessor, d delta.StateDelta) error {
	if d.IsLocalOnly() {
		panic(fmt.Sprintf("updates: delta kind %s reached the remote apply path", d.Kind))
	}

	switch d.Kind {
	case delta.SetPropertyEdge:
		return a.SetProperty(d.Property, d.Value)
	case delta.RemoveEdge:
		return c.store.RemoveEdge(a)
	default:
		panic(fmt.Sprintf("updates: delta kind %s is not replayable on an edge", d.Kind))
	}
}

// logDurable records an applied adjacency delta in the WAL. A WAL
// write failure breaks the durability contract and terminates the
// worker.
func (c *Coordinator) logDurable(d delta.StateDelta) {
	if c.wal == nil {
		return
	}
	if err := c.wal.Emplace(d); err != nil {
		panic(fmt.Sprintf("updates: wal write failed: %v", err))
	}
}

// ClearTransactionalCache evicts staged state for every transaction
// older than the oldest one still active. Bounds memory growth from
// transactions whose originator never reached Apply.
func (c *Coordinator) ClearTransactionalCache(oldestActive uint64) {
	evicted := c.vertexUpdates.clearOlderThan(oldestActive) +
		c.edgeUpdates.clearOlderThan(oldestActive)
	if evicted > 0 {
		c.metrics.UpdateCacheEvictions.Add(float64(evicted))
		c.logger.Debug("evicted stale staged transactions",
			logging.Count(evicted),
			logging.TxID(oldestActive))
	}
}

// StagedTransactionCount reports how many transactions currently hold
// staged state in either store.
func (c *Coordinator) StagedTransactionCount() int {
	return c.vertexUpdates.transactionCount() + c.edgeUpdates.transactionCount()
}

// Close stops the update service
func (c *Coordinator) Close() {
	c.svc.Close()
}
