// Package updates implements per-transaction staging and deferred
// apply of graph mutations on the worker that owns the target
// elements. Deltas are buffered per (transaction, element) pair and
// replayed in arrival order when the coordinator is told to apply.
package updates

import (
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-cluster/pkg/delta"
	"github.com/dd0wney/cluso-cluster/pkg/rpc"
	"github.com/dd0wney/cluso-cluster/pkg/storage"
)

// ServiceName is the service the update coordinator registers under
const ServiceName = "updates"

// UpdateResult is the typed outcome of a staging or apply operation.
// Conflicts are results, not errors: they abort only the affected
// transaction's call and the peer decides what to do next.
type UpdateResult uint8

const (
	UpdateDone UpdateResult = iota
	UpdateSerializationError
	UpdateRecordDeletedError
	UpdateLockTimeoutError
	UpdateUnableToDeleteVertexError
)

// String returns a human-readable name for the result
func (r UpdateResult) String() string {
	switch r {
	case UpdateDone:
		return "Done"
	case UpdateSerializationError:
		return "SerializationError"
	case UpdateRecordDeletedError:
		return "RecordDeletedError"
	case UpdateLockTimeoutError:
		return "LockTimeoutError"
	case UpdateUnableToDeleteVertexError:
		return "UnableToDeleteVertexError"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(r))
	}
}

// resultFromError maps a storage conflict to its wire result. Anything
// outside the known conflict set indicates a programming error in a
// trusted peer and terminates the process.
func resultFromError(err error) UpdateResult {
	switch {
	case err == nil:
		return UpdateDone
	case errors.Is(err, storage.ErrSerialization):
		return UpdateSerializationError
	case errors.Is(err, storage.ErrRecordDeleted),
		errors.Is(err, storage.ErrVertexNotFound),
		errors.Is(err, storage.ErrEdgeNotFound),
		errors.Is(err, storage.ErrEdgeNotInserted):
		return UpdateRecordDeletedError
	case errors.Is(err, storage.ErrLockTimeout):
		return UpdateLockTimeoutError
	case errors.Is(err, storage.ErrVertexNotEmpty):
		return UpdateUnableToDeleteVertexError
	default:
		panic(fmt.Sprintf("updates: unclassified storage error: %v", err))
	}
}

// UpdateReq stages a single delta on the worker owning its target
type UpdateReq struct {
	Delta delta.StateDelta `json:"delta"`
}

func (UpdateReq) MessageType() rpc.MessageType { return rpc.MsgUpdateReq }

// UpdateRes carries the buffering outcome
type UpdateRes struct {
	Result UpdateResult `json:"result"`
}

func (UpdateRes) MessageType() rpc.MessageType { return rpc.MsgUpdateRes }

// UpdateApplyReq replays every staged delta of a transaction
type UpdateApplyReq struct {
	TxID uint64 `json:"tx_id"`
}

func (UpdateApplyReq) MessageType() rpc.MessageType { return rpc.MsgUpdateApplyReq }

// UpdateApplyRes carries the overall apply outcome
type UpdateApplyRes struct {
	Result UpdateResult `json:"result"`
}

func (UpdateApplyRes) MessageType() rpc.MessageType { return rpc.MsgUpdateApplyRes }

// CreateVertexReq inserts a vertex with its initial labels and
// properties applied immediately rather than staged.
type CreateVertexReq struct {
	TxID       uint64                   `json:"tx_id"`
	Labels     []string                 `json:"labels,omitempty"`
	Properties map[string]storage.Value `json:"properties,omitempty"`
}

func (CreateVertexReq) MessageType() rpc.MessageType { return rpc.MsgCreateVertexReq }

// CreateVertexRes returns the id of the new vertex
type CreateVertexRes struct {
	Result UpdateResult `json:"result"`
	Gid    storage.Gid  `json:"gid"`
}

func (CreateVertexRes) MessageType() rpc.MessageType { return rpc.MsgCreateVertexRes }

// CreateEdgeReq inserts an edge owned by this worker. From is a local
// vertex id; To may live on any worker. Adjacency pointers are staged
// as companion deltas, not written by the insert itself.
type CreateEdgeReq struct {
	TxID     uint64          `json:"tx_id"`
	From     storage.Gid     `json:"from"`
	To       storage.Address `json:"to"`
	EdgeType string          `json:"edge_type"`
}

func (CreateEdgeReq) MessageType() rpc.MessageType { return rpc.MsgCreateEdgeReq }

// CreateEdgeRes returns the id of the new edge
type CreateEdgeRes struct {
	Result UpdateResult `json:"result"`
	Gid    storage.Gid  `json:"gid"`
}

func (CreateEdgeRes) MessageType() rpc.MessageType { return rpc.MsgCreateEdgeRes }

// AddInEdgeReq stages the in-edge pointer on the worker owning the
// destination vertex of a remotely created edge.
type AddInEdgeReq struct {
	TxID        uint64          `json:"tx_id"`
	To          storage.Gid     `json:"to"`
	From        storage.Address `json:"from"`
	EdgeAddress storage.Address `json:"edge_address"`
	EdgeType    string          `json:"edge_type"`
}

func (AddInEdgeReq) MessageType() rpc.MessageType { return rpc.MsgAddInEdgeReq }

// AddInEdgeRes carries the buffering outcome
type AddInEdgeRes struct {
	Result UpdateResult `json:"result"`
}

func (AddInEdgeRes) MessageType() rpc.MessageType { return rpc.MsgAddInEdgeRes }

// RemoveVertexReq stages a vertex removal
type RemoveVertexReq struct {
	TxID       uint64      `json:"tx_id"`
	VertexID   storage.Gid `json:"vertex_id"`
	CheckEmpty bool        `json:"check_empty"`
}

func (RemoveVertexReq) MessageType() rpc.MessageType { return rpc.MsgRemoveVertexReq }

// RemoveVertexRes carries the buffering outcome
type RemoveVertexRes struct {
	Result UpdateResult `json:"result"`
}

func (RemoveVertexRes) MessageType() rpc.MessageType { return rpc.MsgRemoveVertexRes }

// RemoveEdgeReq removes an edge owned by this worker together with the
// out-edge pointer on its local source vertex. The in-edge pointer is
// staged here only when To is also local; otherwise the To owner gets
// a separate RemoveInEdge request.
type RemoveEdgeReq struct {
	TxID   uint64          `json:"tx_id"`
	EdgeID storage.Gid     `json:"edge_id"`
	From   storage.Gid     `json:"from"`
	To     storage.Address `json:"to"`
}

func (RemoveEdgeReq) MessageType() rpc.MessageType { return rpc.MsgRemoveEdgeReq }

// RemoveEdgeRes carries the outcome of the first failing step, or Done
type RemoveEdgeRes struct {
	Result UpdateResult `json:"result"`
}

func (RemoveEdgeRes) MessageType() rpc.MessageType { return rpc.MsgRemoveEdgeRes }

// RemoveInEdgeReq stages an in-edge pointer removal on the worker
// owning the destination vertex.
type RemoveInEdgeReq struct {
	TxID        uint64          `json:"tx_id"`
	VertexID    storage.Gid     `json:"vertex_id"`
	EdgeAddress storage.Address `json:"edge_address"`
}

func (RemoveInEdgeReq) MessageType() rpc.MessageType { return rpc.MsgRemoveInEdgeReq }

// RemoveInEdgeRes carries the buffering outcome
type RemoveInEdgeRes struct {
	Result UpdateResult `json:"result"`
}

func (RemoveInEdgeRes) MessageType() rpc.MessageType { return rpc.MsgRemoveInEdgeRes }
