package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestDefaultWorkerConfigValidates(t *testing.T) {
	cfg := DefaultWorkerConfig("/tmp/wal")
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default worker config must validate: %v", err)
	}
}

func TestDefaultMasterConfigValidates(t *testing.T) {
	cfg := DefaultMasterConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default master config must validate: %v", err)
	}
}

func TestLoadWorkerOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
worker_id: 3
listen_addr: tcp://0.0.0.0:8000
master_endpoint: tcp://master:7686
log_level: debug
wal:
  dir: /data/wal
  enabled: true
  synchronous_commit: true
  buffer_capacity: 128
  flush_interval: 20ms
  max_segment_deltas: 500
  max_segment_bytes: 1048576
rpc:
  workers: 2
  queue_depth: 32
lock_timeout: 250ms
`)

	cfg, err := LoadWorker(path, "/unused")
	if err != nil {
		t.Fatalf("LoadWorker failed: %v", err)
	}

	if cfg.WorkerID != 3 {
		t.Errorf("Expected worker_id 3, got %d", cfg.WorkerID)
	}
	if cfg.ListenAddr != "tcp://0.0.0.0:8000" {
		t.Errorf("Unexpected listen_addr %q", cfg.ListenAddr)
	}
	if !cfg.WAL.SynchronousCommit {
		t.Error("Expected synchronous_commit true")
	}
	if cfg.WAL.Dir != "/data/wal" {
		t.Errorf("Unexpected wal dir %q", cfg.WAL.Dir)
	}
	if cfg.WAL.FlushInterval.Std() != 20*time.Millisecond {
		t.Errorf("Expected 20ms flush interval, got %s", cfg.WAL.FlushInterval)
	}
	if cfg.LockTimeout.Std() != 250*time.Millisecond {
		t.Errorf("Expected 250ms lock timeout, got %s", cfg.LockTimeout)
	}
	if cfg.RPC.Workers != 2 || cfg.RPC.QueueDepth != 32 {
		t.Errorf("Unexpected rpc sizing: %+v", cfg.RPC)
	}
	// Untouched fields keep their defaults.
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("Expected default metrics addr, got %q", cfg.MetricsAddr)
	}
}

func TestLoadWorkerEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadWorker("", "/data/wal")
	if err != nil {
		t.Fatalf("LoadWorker failed: %v", err)
	}
	if cfg.WAL.Dir != "/data/wal" {
		t.Errorf("Expected data dir default, got %q", cfg.WAL.Dir)
	}
	if cfg.WorkerID != -1 {
		t.Errorf("Expected auto-assign worker id, got %d", cfg.WorkerID)
	}
}

func TestLoadWorkerRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "missing master endpoint",
			content: `
listen_addr: tcp://0.0.0.0:8000
master_endpoint: ""
`,
		},
		{
			name: "bad log level",
			content: `
log_level: loud
`,
		},
		{
			name: "worker id below auto-assign",
			content: `
worker_id: -2
`,
		},
		{
			name: "zero flush interval",
			content: `
wal:
  dir: /data/wal
  flush_interval: 0
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := LoadWorker(path, "/data/wal"); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLoadMasterOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen_addr: tcp://0.0.0.0:9000
log_level: warn
fanout_wait: 5s
horizon_interval: 250ms
`)

	cfg, err := LoadMaster(path)
	if err != nil {
		t.Fatalf("LoadMaster failed: %v", err)
	}
	if cfg.ListenAddr != "tcp://0.0.0.0:9000" {
		t.Errorf("Unexpected listen_addr %q", cfg.ListenAddr)
	}
	if cfg.FanoutWait.Std() != 5*time.Second {
		t.Errorf("Expected 5s fanout wait, got %s", cfg.FanoutWait)
	}
	if cfg.HorizonInterval.Std() != 250*time.Millisecond {
		t.Errorf("Expected 250ms horizon interval, got %s", cfg.HorizonInterval)
	}
}

func TestDurationAcceptsIntegerNanoseconds(t *testing.T) {
	path := writeConfig(t, `
lock_timeout: 1000000000
`)

	cfg, err := LoadWorker(path, "/data/wal")
	if err != nil {
		t.Fatalf("LoadWorker failed: %v", err)
	}
	if cfg.LockTimeout.Std() != time.Second {
		t.Errorf("Expected 1s, got %s", cfg.LockTimeout)
	}
}

func TestLoadWorkerMissingFile(t *testing.T) {
	if _, err := LoadWorker("/nonexistent/config.yaml", "/data/wal"); err == nil {
		t.Error("Expected an error for a missing config file")
	}
}
