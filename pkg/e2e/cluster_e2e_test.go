package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-cluster/pkg/cluster"
	"github.com/dd0wney/cluso-cluster/pkg/delta"
	"github.com/dd0wney/cluso-cluster/pkg/rpc"
	"github.com/dd0wney/cluso-cluster/pkg/storage"
	"github.com/dd0wney/cluso-cluster/pkg/tx"
	"github.com/dd0wney/cluso-cluster/pkg/updates"
	"github.com/dd0wney/cluso-cluster/pkg/wal"
)

// workerNode is one in-process worker: its own RPC system, listener,
// storage, WAL, update coordinator and transaction engine.
type workerNode struct {
	endpoint    string
	walDir      string
	store       *storage.LocalStore
	wal         *wal.WAL
	coordinator *updates.Coordinator
	engine      *tx.Engine
	member      *cluster.Worker
	listener    *rpc.Listener
}

// finishSetup wires storage-dependent pieces once the master assigned
// the worker id.
func (n *workerNode) finishSetup(t *testing.T, system *rpc.System, id int) {
	t.Helper()

	n.store = storage.NewLocalStore(id)
	n.coordinator = updates.NewCoordinator(system, n.store, n.wal, updates.DefaultConfig(), nil)
	t.Cleanup(n.coordinator.Close)
	n.engine = tx.NewEngine(n.store, n.wal, n.coordinator, tx.Config{}, nil)
	t.Cleanup(n.engine.Close)
}

func TestClusterWritePath(t *testing.T) {
	t.Log("=== E2E: registration, cross-worker writes, durability ===")

	// Master.
	masterEndpoint := fmt.Sprintf("inproc://e2e-master-%d", time.Now().UnixNano())
	masterSystem := rpc.NewSystem(nil)
	master := cluster.NewMaster(masterSystem, cluster.DefaultMasterConfig(masterEndpoint), func(endpoint string) (rpc.Caller, error) {
		return rpc.Dial(endpoint)
	}, nil)
	t.Cleanup(master.Close)

	masterListener, err := rpc.NewListener(rpc.ListenConfig{Addr: masterEndpoint, Parallel: 4}, masterSystem, nil)
	require.NoError(t, err)
	t.Cleanup(func() { masterListener.Close() })

	// Two workers. Each runs its coordination service plus the update
	// coordinator over its own storage.
	t.Log("Step 1: Registering workers...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var nodes []*workerNode
	for _, suffix := range []string{"a", "b"} {
		system := rpc.NewSystem(nil)
		endpoint := fmt.Sprintf("inproc://e2e-worker-%s-%d", suffix, time.Now().UnixNano())

		member := cluster.NewWorker(system, cluster.DefaultWorkerConfig(), nil)
		t.Cleanup(member.Close)
		listener, err := rpc.NewListener(rpc.ListenConfig{Addr: endpoint, Parallel: 4}, system, nil)
		require.NoError(t, err)
		t.Cleanup(func() { listener.Close() })

		masterClient, err := rpc.Dial(masterEndpoint)
		require.NoError(t, err)
		id, err := member.Register(ctx, masterClient, cluster.AutoAssignWorkerID, endpoint)
		masterClient.Close()
		require.NoError(t, err)
		t.Logf("✓ Worker registered with id %d", id)

		walDir := t.TempDir()
		walCfg := wal.DefaultConfig(walDir)
		walCfg.FlushInterval = time.Hour // flush manually for determinism
		w, err := wal.New(walCfg, nil)
		require.NoError(t, err)
		t.Cleanup(func() { w.Close() })

		n := &workerNode{endpoint: endpoint, walDir: walDir, wal: w, member: member, listener: listener}
		n.finishSetup(t, system, id)
		nodes = append(nodes, n)
	}
	w1, w2 := nodes[0], nodes[1]
	require.Equal(t, 1, w1.member.WorkerID())
	require.Equal(t, 2, w2.member.WorkerID())

	// The master's directory knows both workers.
	require.Equal(t, 3, master.Directory().Len())

	t.Log("Step 2: Creating vertices on both workers...")
	txn, err := w1.engine.Begin()
	require.NoError(t, err)
	txID := txn.ID

	client1, err := rpc.Dial(w1.endpoint)
	require.NoError(t, err)
	defer client1.Close()
	client2, err := rpc.Dial(w2.endpoint)
	require.NoError(t, err)
	defer client2.Close()

	createRes, err := rpc.Call[updates.CreateVertexReq, updates.CreateVertexRes](ctx, client1, updates.ServiceName, updates.CreateVertexReq{
		TxID:       txID,
		Labels:     []string{"Person"},
		Properties: map[string]storage.Value{"name": storage.StringValue("alice")},
	})
	require.NoError(t, err)
	require.Equal(t, updates.UpdateDone, createRes.Result)
	alice := createRes.Gid
	t.Logf("✓ Created alice (gid %d) on worker 1", alice)

	createRes, err = rpc.Call[updates.CreateVertexReq, updates.CreateVertexRes](ctx, client2, updates.ServiceName, updates.CreateVertexReq{
		TxID:   txID,
		Labels: []string{"Person"},
	})
	require.NoError(t, err)
	require.Equal(t, updates.UpdateDone, createRes.Result)
	bob := createRes.Gid
	bobAddr := storage.Address{Gid: bob, WorkerID: w2.member.WorkerID()}
	t.Logf("✓ Created bob (gid %d) on worker 2", bob)

	t.Log("Step 3: Creating a cross-worker edge...")
	edgeRes, err := rpc.Call[updates.CreateEdgeReq, updates.CreateEdgeRes](ctx, client1, updates.ServiceName, updates.CreateEdgeReq{
		TxID:     txID,
		From:     alice,
		To:       bobAddr,
		EdgeType: "knows",
	})
	require.NoError(t, err)
	require.Equal(t, updates.UpdateDone, edgeRes.Result)
	edgeAddr := storage.Address{Gid: edgeRes.Gid, WorkerID: w1.member.WorkerID()}

	// The destination lives on worker 2: its in-edge pointer is staged
	// there explicitly.
	inEdgeRes, err := rpc.Call[updates.AddInEdgeReq, updates.AddInEdgeRes](ctx, client2, updates.ServiceName, updates.AddInEdgeReq{
		TxID:        txID,
		To:          bob,
		From:        storage.Address{Gid: alice, WorkerID: w1.member.WorkerID()},
		EdgeAddress: edgeAddr,
		EdgeType:    "knows",
	})
	require.NoError(t, err)
	require.Equal(t, updates.UpdateDone, inEdgeRes.Result)

	t.Log("Step 4: Staging a property update...")
	updateRes, err := rpc.Call[updates.UpdateReq, updates.UpdateRes](ctx, client1, updates.ServiceName, updates.UpdateReq{
		Delta: delta.PropsSetVertex(txID, alice, "age", storage.IntValue(30)),
	})
	require.NoError(t, err)
	require.Equal(t, updates.UpdateDone, updateRes.Result)

	t.Log("Step 5: Applying on both workers...")
	for _, client := range []rpc.Caller{client1, client2} {
		applyRes, err := rpc.Call[updates.UpdateApplyReq, updates.UpdateApplyRes](ctx, client, updates.ServiceName, updates.UpdateApplyReq{TxID: txID})
		require.NoError(t, err)
		require.Equal(t, updates.UpdateDone, applyRes.Result)
	}

	aliceAcc, err := w1.store.FindVertex(txID, alice)
	require.NoError(t, err)
	age, ok := aliceAcc.Property("age")
	require.True(t, ok)
	assert.True(t, age.Equal(storage.IntValue(30)))
	assert.Equal(t, []string{"Person"}, aliceAcc.Labels())
	out := aliceAcc.OutEdges()
	require.Len(t, out, 1)
	assert.Equal(t, bobAddr, out[0].Vertex)

	bobAcc, err := w2.store.FindVertex(txID, bob)
	require.NoError(t, err)
	in := bobAcc.InEdges()
	require.Len(t, in, 1)
	assert.Equal(t, edgeAddr, in[0].Edge)

	t.Log("Step 6: Committing and checking durability...")
	require.NoError(t, w1.engine.Commit(txn))
	require.NoError(t, w1.wal.Flush())
	require.NoError(t, w2.wal.Flush())

	deltas1, _, err := wal.ReadAll(w1.walDir)
	require.NoError(t, err)
	kinds := make(map[delta.Kind]int)
	for _, d := range deltas1 {
		kinds[d.Kind]++
	}
	assert.Equal(t, 1, kinds[delta.TransactionBegin])
	assert.Equal(t, 1, kinds[delta.TransactionCommit])
	assert.Equal(t, 1, kinds[delta.AddOutEdge])

	deltas2, _, err := wal.ReadAll(w2.walDir)
	require.NoError(t, err)
	require.Len(t, deltas2, 1)
	assert.Equal(t, delta.AddInEdge, deltas2[0].Kind)

	t.Log("Step 7: Coordinated shutdown...")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	master.StopAll(stopCtx)
}
