package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/dd0wney/cluso-cluster/pkg/rpc"
	"github.com/dd0wney/cluso-cluster/pkg/tx"
)

// testCluster wires a master and n workers over in-process systems,
// with a dialer that resolves endpoint names to local callers.
type testCluster struct {
	master  *Master
	systems map[string]*rpc.System
}

func newTestCluster(t *testing.T) *testCluster {
	t.Helper()
	return newTestClusterWithConfig(t, DefaultMasterConfig("master"))
}

func newTestClusterWithConfig(t *testing.T, cfg MasterConfig) *testCluster {
	t.Helper()

	tc := &testCluster{systems: make(map[string]*rpc.System)}
	dial := func(endpoint string) (rpc.Caller, error) {
		return rpc.NewLocalClient(tc.systems[endpoint]), nil
	}

	masterSys := rpc.NewSystem(nil)
	tc.systems["master"] = masterSys
	tc.master = NewMaster(masterSys, cfg, dial, nil)
	t.Cleanup(tc.master.Close)
	return tc
}

func (tc *testCluster) addWorker(t *testing.T, endpoint string, cfg WorkerConfig) *Worker {
	t.Helper()

	sys := rpc.NewSystem(nil)
	tc.systems[endpoint] = sys
	w := NewWorker(sys, cfg, nil)
	t.Cleanup(w.Close)
	return w
}

func (tc *testCluster) masterCaller() rpc.Caller {
	return rpc.NewLocalClient(tc.systems["master"])
}

func TestRegisterAutoAssignsIDs(t *testing.T) {
	tc := newTestCluster(t)
	ctx := context.Background()

	w1 := tc.addWorker(t, "w1", DefaultWorkerConfig())
	w2 := tc.addWorker(t, "w2", DefaultWorkerConfig())

	id1, err := w1.Register(ctx, tc.masterCaller(), AutoAssignWorkerID, "w1")
	if err != nil {
		t.Fatalf("Registration failed: %v", err)
	}
	id2, err := w2.Register(ctx, tc.masterCaller(), AutoAssignWorkerID, "w2")
	if err != nil {
		t.Fatalf("Registration failed: %v", err)
	}

	if id1 != 1 || id2 != 2 {
		t.Errorf("Expected ids 1 and 2, got %d and %d", id1, id2)
	}
	if w1.SessionToken() == "" || w1.SessionToken() == w2.SessionToken() {
		t.Error("Expected distinct non-empty session tokens")
	}
}

func TestRegisterDesiredID(t *testing.T) {
	tc := newTestCluster(t)
	ctx := context.Background()

	w := tc.addWorker(t, "w1", DefaultWorkerConfig())
	id, err := w.Register(ctx, tc.masterCaller(), 7, "w1")
	if err != nil {
		t.Fatalf("Registration failed: %v", err)
	}
	if id != 7 {
		t.Errorf("Expected requested id 7, got %d", id)
	}
}

func TestRegisterDuplicateIDRejected(t *testing.T) {
	tc := newTestCluster(t)
	ctx := context.Background()

	w1 := tc.addWorker(t, "w1", DefaultWorkerConfig())
	if _, err := w1.Register(ctx, tc.masterCaller(), 3, "w1"); err != nil {
		t.Fatalf("Registration failed: %v", err)
	}

	w2 := tc.addWorker(t, "w2", DefaultWorkerConfig())
	if _, err := w2.Register(ctx, tc.masterCaller(), 3, "w2"); err != ErrRegistrationRejected {
		t.Errorf("Expected ErrRegistrationRejected, got %v", err)
	}
}

func TestRegistrationReturnsFullMembership(t *testing.T) {
	tc := newTestCluster(t)
	ctx := context.Background()

	w1 := tc.addWorker(t, "w1", DefaultWorkerConfig())
	w1.Register(ctx, tc.masterCaller(), AutoAssignWorkerID, "w1")

	w2 := tc.addWorker(t, "w2", DefaultWorkerConfig())
	w2.Register(ctx, tc.masterCaller(), AutoAssignWorkerID, "w2")

	// The second worker's view must include the master and both workers.
	snap := w2.Directory().Snapshot()
	want := map[int]string{MasterWorkerID: "master", 1: "w1", 2: "w2"}
	for id, endpoint := range want {
		if snap[id] != endpoint {
			t.Errorf("Expected worker %d at %q, got %q", id, endpoint, snap[id])
		}
	}
}

func TestDiscoveryFanOut(t *testing.T) {
	tc := newTestCluster(t)
	ctx := context.Background()

	w1 := tc.addWorker(t, "w1", DefaultWorkerConfig())
	w1.Register(ctx, tc.masterCaller(), AutoAssignWorkerID, "w1")

	w2 := tc.addWorker(t, "w2", DefaultWorkerConfig())
	w2.Register(ctx, tc.masterCaller(), AutoAssignWorkerID, "w2")

	// The first worker learns about the second through fan-out.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := w1.Directory().Endpoint(2); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}
	endpoint, ok := w1.Directory().Endpoint(2)
	if !ok || endpoint != "w2" {
		t.Errorf("Expected first worker to discover w2, got %q (known=%v)", endpoint, ok)
	}
}

func TestStopAllReachesWorkers(t *testing.T) {
	tc := newTestCluster(t)
	ctx := context.Background()

	stopped := make(chan struct{}, 2)
	cfg := DefaultWorkerConfig()
	cfg.OnStop = func() { stopped <- struct{}{} }

	w1 := tc.addWorker(t, "w1", cfg)
	w1.Register(ctx, tc.masterCaller(), AutoAssignWorkerID, "w1")
	w2 := tc.addWorker(t, "w2", cfg)
	w2.Register(ctx, tc.masterCaller(), AutoAssignWorkerID, "w2")

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	tc.master.StopAll(stopCtx)

	for i := 0; i < 2; i++ {
		select {
		case <-stopped:
		case <-time.After(time.Second):
			t.Fatal("Not all workers received the stop request")
		}
	}
}

func TestTxBeginEndThroughCoordination(t *testing.T) {
	engine := tx.NewEngine(nil, nil, nil, tx.Config{}, nil)
	t.Cleanup(engine.Close)

	cfg := DefaultMasterConfig("master")
	cfg.Authority = engine
	cfg.HorizonInterval = 0 // broadcast manually
	tc := newTestClusterWithConfig(t, cfg)
	ctx := context.Background()

	horizons := make(chan uint64, 8)
	wcfg := DefaultWorkerConfig()
	wcfg.OnTxHorizon = func(h uint64) { horizons <- h }
	w := tc.addWorker(t, "w1", wcfg)
	if _, err := w.Register(ctx, tc.masterCaller(), AutoAssignWorkerID, "w1"); err != nil {
		t.Fatalf("Registration failed: %v", err)
	}

	begin, err := rpc.Call[TxBeginReq, TxBeginRes](ctx, tc.masterCaller(), CoordinationService, TxBeginReq{})
	if err != nil {
		t.Fatalf("TxBegin failed: %v", err)
	}
	if !begin.OK || begin.TxID == 0 {
		t.Fatalf("Expected an assigned transaction id, got %+v", begin)
	}

	// While the transaction is active the broadcast horizon is its id.
	tc.master.BroadcastTxHorizon(engine.OldestActive())
	if got := <-horizons; got != begin.TxID {
		t.Errorf("Expected horizon %d, got %d", begin.TxID, got)
	}

	end, err := rpc.Call[TxEndReq, TxEndRes](ctx, tc.masterCaller(), CoordinationService,
		TxEndReq{TxID: begin.TxID, Committed: true})
	if err != nil {
		t.Fatalf("TxEnd failed: %v", err)
	}
	if !end.Found {
		t.Error("Expected TxEnd to find the active transaction")
	}

	// Ending it moves the horizon past the id.
	tc.master.BroadcastTxHorizon(engine.OldestActive())
	if got := <-horizons; got <= begin.TxID {
		t.Errorf("Expected horizon past %d, got %d", begin.TxID, got)
	}

	end, err = rpc.Call[TxEndReq, TxEndRes](ctx, tc.masterCaller(), CoordinationService,
		TxEndReq{TxID: begin.TxID, Committed: false})
	if err != nil {
		t.Fatalf("TxEnd failed: %v", err)
	}
	if end.Found {
		t.Error("Expected TxEnd of an ended id to report not found")
	}
}

func TestHorizonBroadcastLoop(t *testing.T) {
	engine := tx.NewEngine(nil, nil, nil, tx.Config{}, nil)
	t.Cleanup(engine.Close)

	cfg := DefaultMasterConfig("master")
	cfg.Authority = engine
	cfg.HorizonInterval = 5 * time.Millisecond
	tc := newTestClusterWithConfig(t, cfg)

	horizons := make(chan uint64, 64)
	wcfg := DefaultWorkerConfig()
	wcfg.OnTxHorizon = func(h uint64) {
		select {
		case horizons <- h:
		default:
		}
	}
	w := tc.addWorker(t, "w1", wcfg)
	if _, err := w.Register(context.Background(), tc.masterCaller(), AutoAssignWorkerID, "w1"); err != nil {
		t.Fatalf("Registration failed: %v", err)
	}

	select {
	case h := <-horizons:
		if h == 0 {
			t.Errorf("Expected a positive horizon, got %d", h)
		}
	case <-time.After(time.Second):
		t.Fatal("Worker never received a horizon broadcast")
	}
}

func TestDirectoryReAddSameMapping(t *testing.T) {
	d := NewDirectory()
	if err := d.Add(1, "a"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := d.Add(1, "a"); err != nil {
		t.Errorf("Re-adding the same mapping must be a no-op, got %v", err)
	}
	if err := d.Add(1, "b"); err == nil {
		t.Error("Expected conflict on different endpoint for the same id")
	}
	if ids := d.WorkerIDs(); len(ids) != 1 || ids[0] != 1 {
		t.Errorf("Unexpected ids: %v", ids)
	}
}
