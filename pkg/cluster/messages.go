// Package cluster implements master/worker coordination: worker
// registration with id assignment, membership discovery fan-out and
// cooperative shutdown.
package cluster

import "github.com/dd0wney/cluso-cluster/pkg/rpc"

// CoordinationService is the service name both master and workers
// register their coordination handlers under.
const CoordinationService = "coordination"

// AutoAssignWorkerID requests that the master pick the worker id
const AutoAssignWorkerID = -1

// RegisterWorkerReq announces a worker to the master. DesiredWorkerID
// of AutoAssignWorkerID lets the master pick the next free id;
// anything else asks for that exact id (used when rejoining after a
// restart).
type RegisterWorkerReq struct {
	DesiredWorkerID int    `json:"desired_worker_id"`
	Endpoint        string `json:"endpoint"`
}

func (RegisterWorkerReq) MessageType() rpc.MessageType { return rpc.MsgRegisterWorkerReq }

// RegisterWorkerRes carries the assigned id and the full membership
// map so a new worker learns every peer in one exchange.
type RegisterWorkerRes struct {
	Registered   bool           `json:"registered"`
	WorkerID     int            `json:"worker_id"`
	SessionToken string         `json:"session_token"`
	Workers      map[int]string `json:"workers"`
}

func (RegisterWorkerRes) MessageType() rpc.MessageType { return rpc.MsgRegisterWorkerRes }

// ClusterDiscoveryReq tells an existing worker about a new member
type ClusterDiscoveryReq struct {
	WorkerID int    `json:"worker_id"`
	Endpoint string `json:"endpoint"`
}

func (ClusterDiscoveryReq) MessageType() rpc.MessageType { return rpc.MsgClusterDiscoveryReq }

// ClusterDiscoveryRes acknowledges a discovery notification
type ClusterDiscoveryRes struct{}

func (ClusterDiscoveryRes) MessageType() rpc.MessageType { return rpc.MsgClusterDiscoveryRes }

// TxBeginReq asks the master to start a cluster transaction
type TxBeginReq struct{}

func (TxBeginReq) MessageType() rpc.MessageType { return rpc.MsgTxBeginReq }

// TxBeginRes carries the id the master assigned
type TxBeginRes struct {
	OK   bool   `json:"ok"`
	TxID uint64 `json:"tx_id"`
}

func (TxBeginRes) MessageType() rpc.MessageType { return rpc.MsgTxBeginRes }

// TxEndReq commits or aborts a master-issued transaction
type TxEndReq struct {
	TxID      uint64 `json:"tx_id"`
	Committed bool   `json:"committed"`
}

func (TxEndReq) MessageType() rpc.MessageType { return rpc.MsgTxEndReq }

// TxEndRes reports whether the transaction was active
type TxEndRes struct {
	Found bool `json:"found"`
}

func (TxEndRes) MessageType() rpc.MessageType { return rpc.MsgTxEndRes }

// TxHorizonReq announces the oldest transaction id still active in the
// cluster. Workers evict staged state below it.
type TxHorizonReq struct {
	OldestActive uint64 `json:"oldest_active"`
}

func (TxHorizonReq) MessageType() rpc.MessageType { return rpc.MsgTxHorizonReq }

// TxHorizonRes acknowledges a horizon announcement
type TxHorizonRes struct{}

func (TxHorizonRes) MessageType() rpc.MessageType { return rpc.MsgTxHorizonRes }

// StopWorkerReq asks a worker to shut down
type StopWorkerReq struct{}

func (StopWorkerReq) MessageType() rpc.MessageType { return rpc.MsgStopWorkerReq }

// StopWorkerRes acknowledges the stop request before the worker exits
type StopWorkerRes struct{}

func (StopWorkerRes) MessageType() rpc.MessageType { return rpc.MsgStopWorkerRes }
