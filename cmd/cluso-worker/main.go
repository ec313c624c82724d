package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-cluster/pkg/cluster"
	"github.com/dd0wney/cluso-cluster/pkg/config"
	"github.com/dd0wney/cluso-cluster/pkg/logging"
	"github.com/dd0wney/cluso-cluster/pkg/metrics"
	"github.com/dd0wney/cluso-cluster/pkg/rpc"
	"github.com/dd0wney/cluso-cluster/pkg/storage"
	"github.com/dd0wney/cluso-cluster/pkg/updates"
	"github.com/dd0wney/cluso-cluster/pkg/wal"
)

func main() {
	configPath := flag.String("config", "", "Path to worker config file")
	dataDir := flag.String("data", "./data/worker", "WAL data directory")
	listenAddr := flag.String("listen", "", "RPC listen address (overrides config)")
	masterEndpoint := flag.String("master", "", "Master endpoint (overrides config)")
	workerID := flag.Int("id", -1, "Desired worker id, -1 for auto-assign")
	flag.Parse()

	cfg, err := config.LoadWorker(*configPath, *dataDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *masterEndpoint != "" {
		cfg.MasterEndpoint = *masterEndpoint
	}
	if *workerID != -1 {
		cfg.WorkerID = *workerID
	}
	advertise := cfg.AdvertiseAddr
	if advertise == "" {
		advertise = cfg.ListenAddr
	}

	fmt.Printf("🔥 Cluso Cluster - Worker Node\n")
	fmt.Printf("==============================\n\n")

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	// Register with the master first so storage gets the right owner id.
	fmt.Printf("🔗 Registering with master at %s...\n", cfg.MasterEndpoint)
	system := rpc.NewSystem(logger)

	stopCh := make(chan struct{})
	workerCfg := cluster.DefaultWorkerConfig()
	workerCfg.Workers = cfg.RPC.Workers
	workerCfg.QueueDepth = cfg.RPC.QueueDepth
	workerCfg.OnStop = func() {
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
	}
	// Staged-state eviction follows the master's oldest-active
	// broadcasts; the coordinator is created after registration.
	var gcMu sync.Mutex
	var coordinator *updates.Coordinator
	workerCfg.OnTxHorizon = func(oldestActive uint64) {
		gcMu.Lock()
		c := coordinator
		gcMu.Unlock()
		if c != nil {
			c.ClearTransactionalCache(oldestActive)
		}
	}
	member := cluster.NewWorker(system, workerCfg, logger)
	defer member.Close()

	masterClient, err := rpc.Dial(cfg.MasterEndpoint)
	if err != nil {
		log.Fatalf("Failed to dial master: %v", err)
	}

	// Listen before registering so discovery fan-out can reach us.
	listener, err := rpc.NewListener(rpc.ListenConfig{Addr: cfg.ListenAddr, Parallel: cfg.RPC.Workers}, system, logger)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", cfg.ListenAddr, err)
	}
	defer listener.Close()

	regCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	id, err := member.Register(regCtx, masterClient, cfg.WorkerID, advertise)
	cancel()
	masterClient.Close()
	if err != nil {
		log.Fatalf("Failed to register with master: %v", err)
	}

	fmt.Printf("📂 Initializing storage for worker %d...\n", id)
	store := storage.NewLocalStore(id)
	store.SetLockTimeout(cfg.LockTimeout.Std())

	fmt.Printf("📝 Opening write-ahead log in %s...\n", cfg.WAL.Dir)
	w, err := wal.New(wal.Config{
		Dir:               cfg.WAL.Dir,
		Enabled:           cfg.WAL.Enabled,
		SynchronousCommit: cfg.WAL.SynchronousCommit,
		Compress:          cfg.WAL.Compress,
		BufferCapacity:    cfg.WAL.BufferCapacity,
		FlushInterval:     cfg.WAL.FlushInterval.Std(),
		MaxSegmentDeltas:  cfg.WAL.MaxSegmentDeltas,
		MaxSegmentBytes:   cfg.WAL.MaxSegmentBytes,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to open WAL: %v", err)
	}
	defer w.Close()

	gcMu.Lock()
	coordinator = updates.NewCoordinator(system, store, w, updates.Config{
		Workers:    cfg.RPC.Workers,
		QueueDepth: cfg.RPC.QueueDepth,
	}, logger)
	gcMu.Unlock()
	defer coordinator.Close()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	fmt.Printf("\n✅ Worker %d started!\n", id)
	fmt.Printf("  RPC: %s\n", cfg.ListenAddr)
	fmt.Printf("  Metrics: %s\n", cfg.MetricsAddr)
	fmt.Printf("  WAL: %s\n\n", cfg.WAL.Dir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		fmt.Printf("\n👋 Shutting down...\n")
	case <-stopCh:
		fmt.Printf("\n👋 Stopped by master...\n")
	}
}

func serveMetrics(addr string, logger logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		metrics.DefaultRegistry().GetPrometheusRegistry(),
		promhttp.HandlerOpts{},
	))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server failed", logging.Error(err))
	}
}
