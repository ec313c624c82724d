// Package rpc provides the service-registration and dispatch framework
// for cluster messages: a registry of named services, each owning a
// bounded task queue and a pool of worker goroutines, and a typed
// dispatch table keyed by message type.
package rpc

import (
	"encoding/json"
	"fmt"
)

// MessageType is the stable type tag of a message, used both for wire
// (de)serialization and for dispatch-table lookup. Request/response
// types are paired 1:1 per operation.
type MessageType uint8

const (
	// Coordination messages
	MsgRegisterWorkerReq MessageType = iota
	MsgRegisterWorkerRes
	MsgClusterDiscoveryReq
	MsgClusterDiscoveryRes
	MsgStopWorkerReq
	MsgStopWorkerRes
	MsgTxBeginReq
	MsgTxBeginRes
	MsgTxEndReq
	MsgTxEndRes
	MsgTxHorizonReq
	MsgTxHorizonRes

	// Update messages
	MsgUpdateReq
	MsgUpdateRes
	MsgUpdateApplyReq
	MsgUpdateApplyRes
	MsgCreateVertexReq
	MsgCreateVertexRes
	MsgCreateEdgeReq
	MsgCreateEdgeRes
	MsgAddInEdgeReq
	MsgAddInEdgeRes
	MsgRemoveVertexReq
	MsgRemoveVertexRes
	MsgRemoveEdgeReq
	MsgRemoveEdgeRes
	MsgRemoveInEdgeReq
	MsgRemoveInEdgeRes
)

// String returns a human-readable name for the message type
func (t MessageType) String() string {
	names := map[MessageType]string{
		MsgRegisterWorkerReq:   "RegisterWorkerReq",
		MsgRegisterWorkerRes:   "RegisterWorkerRes",
		MsgClusterDiscoveryReq: "ClusterDiscoveryReq",
		MsgClusterDiscoveryRes: "ClusterDiscoveryRes",
		MsgStopWorkerReq:       "StopWorkerReq",
		MsgStopWorkerRes:       "StopWorkerRes",
		MsgTxBeginReq:          "TxBeginReq",
		MsgTxBeginRes:          "TxBeginRes",
		MsgTxEndReq:            "TxEndReq",
		MsgTxEndRes:            "TxEndRes",
		MsgTxHorizonReq:        "TxHorizonReq",
		MsgTxHorizonRes:        "TxHorizonRes",
		MsgUpdateReq:           "UpdateReq",
		MsgUpdateRes:           "UpdateRes",
		MsgUpdateApplyReq:      "UpdateApplyReq",
		MsgUpdateApplyRes:      "UpdateApplyRes",
		MsgCreateVertexReq:     "CreateVertexReq",
		MsgCreateVertexRes:     "CreateVertexRes",
		MsgCreateEdgeReq:       "CreateEdgeReq",
		MsgCreateEdgeRes:       "CreateEdgeRes",
		MsgAddInEdgeReq:        "AddInEdgeReq",
		MsgAddInEdgeRes:        "AddInEdgeRes",
		MsgRemoveVertexReq:     "RemoveVertexReq",
		MsgRemoveVertexRes:     "RemoveVertexRes",
		MsgRemoveEdgeReq:       "RemoveEdgeReq",
		MsgRemoveEdgeRes:       "RemoveEdgeRes",
		MsgRemoveInEdgeReq:     "RemoveInEdgeReq",
		MsgRemoveInEdgeRes:     "RemoveInEdgeRes",
	}
	if name, ok := names[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint8(t))
}

// Payload is implemented by every concrete message: it declares the
// message's stable type tag.
type Payload interface {
	MessageType() MessageType
}

// Message is the self-describing envelope carried on the wire
type Message struct {
	Type MessageType `json:"type"`
	Data []byte      `json:"data,omitempty"`
}

// NewMessage wraps a payload into an envelope
func NewMessage(p Payload) (*Message, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", p.MessageType(), err)
	}
	return &Message{Type: p.MessageType(), Data: data}, nil
}

// Decode decodes the envelope's payload into v
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// Envelope is the wire frame routing a message to a service. MessageID
// correlates the response with the original caller.
type Envelope struct {
	Service   string   `json:"service"`
	MessageID uint64   `json:"message_id"`
	Message   *Message `json:"message"`
}
