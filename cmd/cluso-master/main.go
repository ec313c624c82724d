package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-cluster/pkg/cluster"
	"github.com/dd0wney/cluso-cluster/pkg/config"
	"github.com/dd0wney/cluso-cluster/pkg/logging"
	"github.com/dd0wney/cluso-cluster/pkg/metrics"
	"github.com/dd0wney/cluso-cluster/pkg/rpc"
	"github.com/dd0wney/cluso-cluster/pkg/tx"
)

func main() {
	configPath := flag.String("config", "", "Path to master config file")
	listenAddr := flag.String("listen", "", "RPC listen address (overrides config)")
	flag.Parse()

	cfg, err := config.LoadMaster(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	advertise := cfg.AdvertiseAddr
	if advertise == "" {
		advertise = cfg.ListenAddr
	}

	fmt.Printf("🔥 Cluso Cluster - Master Node\n")
	fmt.Printf("==============================\n\n")

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel))
	system := rpc.NewSystem(logger)

	dial := func(endpoint string) (rpc.Caller, error) {
		return rpc.Dial(endpoint)
	}

	// The master is the transaction authority: it issues cluster-wide
	// transaction ids and pushes the oldest-active horizon to workers.
	engine := tx.NewEngine(nil, nil, nil, tx.Config{}, logger)
	defer engine.Close()

	masterCfg := cluster.MasterConfig{
		Endpoint:        advertise,
		Workers:         cfg.RPC.Workers,
		QueueDepth:      cfg.RPC.QueueDepth,
		FanoutWait:      cfg.FanoutWait.Std(),
		Authority:       engine,
		HorizonInterval: cfg.HorizonInterval.Std(),
	}
	master := cluster.NewMaster(system, masterCfg, dial, logger)

	listener, err := rpc.NewListener(rpc.ListenConfig{Addr: cfg.ListenAddr, Parallel: cfg.RPC.Workers}, system, logger)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", cfg.ListenAddr, err)
	}
	defer listener.Close()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	fmt.Printf("✅ Master started!\n")
	fmt.Printf("  RPC: %s\n", cfg.ListenAddr)
	fmt.Printf("  Metrics: %s\n\n", cfg.MetricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Printf("\n👋 Stopping workers and shutting down...\n")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	master.StopAll(ctx)
	cancel()
	master.Close()
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
