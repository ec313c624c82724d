// Package delta defines StateDelta, the single atomic mutation intent
// against one graph element, and its wire codec. Deltas are staged by
// the updates coordinator, replayed at apply time and recorded in the
// write-ahead log.
package delta

import (
	"fmt"

	"github.com/dd0wney/cluso-cluster/pkg/storage"
)

// Kind enumerates the mutation kinds a StateDelta can carry
type Kind uint8

const (
	// Transaction lifecycle kinds. Valid on the originating worker and
	// in the WAL; a protocol violation if they reach the remote apply
	// path.
	TransactionBegin Kind = iota
	TransactionCommit
	TransactionAbort

	// Local-only kinds, same restriction as lifecycle kinds.
	CreateVertex
	CreateEdge
	BuildIndex

	// Record update kinds, replayable on a remote worker.
	SetPropertyVertex
	SetPropertyEdge
	AddLabel
	RemoveLabel
	RemoveVertex
	RemoveEdge
	AddOutEdge
	RemoveOutEdge
	AddInEdge
	RemoveInEdge
)

// String returns a human-readable name for the kind
func (k Kind) String() string {
	switch k {
	case TransactionBegin:
		return "TransactionBegin"
	case TransactionCommit:
		return "TransactionCommit"
	case TransactionAbort:
		return "TransactionAbort"
	case CreateVertex:
		return "CreateVertex"
	case CreateEdge:
		return "CreateEdge"
	case BuildIndex:
		return "BuildIndex"
	case SetPropertyVertex:
		return "SetPropertyVertex"
	case SetPropertyEdge:
		return "SetPropertyEdge"
	case AddLabel:
		return "AddLabel"
	case RemoveLabel:
		return "RemoveLabel"
	case RemoveVertex:
		return "RemoveVertex"
	case RemoveEdge:
		return "RemoveEdge"
	case AddOutEdge:
		return "AddOutEdge"
	case RemoveOutEdge:
		return "RemoveOutEdge"
	case AddInEdge:
		return "AddInEdge"
	case RemoveInEdge:
		return "RemoveInEdge"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// StateDelta is one atomic mutation intent against a single graph
// element. Only the fields relevant to Kind are meaningful.
type StateDelta struct {
	Kind Kind   `json:"kind"`
	TxID uint64 `json:"tx_id"`

	VertexID storage.Gid `json:"vertex_id,omitempty"`
	EdgeID   storage.Gid `json:"edge_id,omitempty"`

	Property string        `json:"property,omitempty"`
	Value    storage.Value `json:"value,omitempty"`
	Label    string        `json:"label,omitempty"`

	VertexFromAddress storage.Address `json:"vertex_from_address,omitempty"`
	VertexToAddress   storage.Address `json:"vertex_to_address,omitempty"`
	EdgeAddress       storage.Address `json:"edge_address,omitempty"`
	EdgeType          string          `json:"edge_type,omitempty"`

	// CheckEmpty makes RemoveVertex refuse vertices that still have
	// adjacency entries.
	CheckEmpty bool `json:"check_empty,omitempty"`
}

// IsTransactionEnd reports whether the delta marks a transaction
// boundary (commit or abort). The WAL flushes immediately on these in
// synchronous commit mode.
func (d StateDelta) IsTransactionEnd() bool {
	return d.Kind == TransactionCommit || d.Kind == TransactionAbort
}

// IsLocalOnly reports whether the delta is only valid on its
// originating worker. Receiving one on the remote apply path is a
// protocol violation.
func (d StateDelta) IsLocalOnly() bool {
	switch d.Kind {
	case TransactionBegin, TransactionCommit, TransactionAbort,
		CreateVertex, CreateEdge, BuildIndex:
		return true
	default:
		return false
	}
}

// TxBegin builds a transaction-begin delta
func TxBegin(txID uint64) StateDelta {
	return StateDelta{Kind: TransactionBegin, TxID: txID}
}

// TxCommit builds a transaction-commit delta
func TxCommit(txID uint64) StateDelta {
	return StateDelta{Kind: TransactionCommit, TxID: txID}
}

// TxAbort builds a transaction-abort delta
func TxAbort(txID uint64) StateDelta {
	return StateDelta{Kind: TransactionAbort, TxID: txID}
}

// PropsSetVertex builds a vertex property-set delta
func PropsSetVertex(txID uint64, vertex storage.Gid, property string, value storage.Value) StateDelta {
	return StateDelta{
		Kind:     SetPropertyVertex,
		TxID:     txID,
		VertexID: vertex,
		Property: property,
		Value:    value,
	}
}

// PropsSetEdge builds an edge property-set delta
func PropsSetEdge(txID uint64, edge storage.Gid, property string, value storage.Value) StateDelta {
	return StateDelta{
		Kind:     SetPropertyEdge,
		TxID:     txID,
		EdgeID:   edge,
		Property: property,
		Value:    value,
	}
}

// LabelAdd builds an add-label delta
func LabelAdd(txID uint64, vertex storage.Gid, label string) StateDelta {
	return StateDelta{Kind: AddLabel, TxID: txID, VertexID: vertex, Label: label}
}

// LabelRemove builds a remove-label delta
func LabelRemove(txID uint64, vertex storage.Gid, label string) StateDelta {
	return StateDelta{Kind: RemoveLabel, TxID: txID, VertexID: vertex, Label: label}
}

// VertexRemove builds a remove-vertex delta
func VertexRemove(txID uint64, vertex storage.Gid, checkEmpty bool) StateDelta {
	return StateDelta{Kind: RemoveVertex, TxID: txID, VertexID: vertex, CheckEmpty: checkEmpty}
}

// EdgeRemove builds a remove-edge delta targeting the edge record only
func EdgeRemove(txID uint64, edge storage.Gid) StateDelta {
	return StateDelta{Kind: RemoveEdge, TxID: txID, EdgeID: edge}
}

// OutEdgeAdd builds a delta adding an outgoing adjacency entry to a vertex
func OutEdgeAdd(txID uint64, vertex storage.Gid, to, edge storage.Address, edgeType string) StateDelta {
	return StateDelta{
		Kind:            AddOutEdge,
		TxID:            txID,
		VertexID:        vertex,
		VertexToAddress: to,
		EdgeAddress:     edge,
		EdgeType:        edgeType,
	}
}

// InEdgeAdd builds a delta adding an incoming adjacency entry to a vertex
func InEdgeAdd(txID uint64, vertex storage.Gid, from, edge storage.Address, edgeType string) StateDelta {
	return StateDelta{
		Kind:              AddInEdge,
		TxID:              txID,
		VertexID:          vertex,
		VertexFromAddress: from,
		EdgeAddress:       edge,
		EdgeType:          edgeType,
	}
}

// OutEdgeRemove builds a delta removing an outgoing adjacency entry
func OutEdgeRemove(txID uint64, vertex storage.Gid, edge storage.Address) StateDelta {
	return StateDelta{Kind: RemoveOutEdge, TxID: txID, VertexID: vertex, EdgeAddress: edge}
}

// InEdgeRemove builds a delta removing an incoming adjacency entry
func InEdgeRemove(txID uint64, vertex storage.Gid, edge storage.Address) StateDelta {
	return StateDelta{Kind: RemoveInEdge, TxID: txID, VertexID: vertex, EdgeAddress: edge}
}
