// Package config loads and validates the worker and master daemon
// configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// validate is a singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// RPCConfig sizes a service's worker pool and task queue
type RPCConfig struct {
	Workers    int `yaml:"workers" validate:"min=1,max=256"`
	QueueDepth int `yaml:"queue_depth" validate:"min=1"`
}

// WALConfig configures durability for a worker
type WALConfig struct {
	Dir               string        `yaml:"dir" validate:"required"`
	Enabled           bool          `yaml:"enabled"`
	SynchronousCommit bool          `yaml:"synchronous_commit"`
	Compress          bool          `yaml:"compress"`
	BufferCapacity    int           `yaml:"buffer_capacity" validate:"min=1"`
	FlushInterval     Duration      `yaml:"flush_interval" validate:"gt=0"`
	MaxSegmentDeltas  int           `yaml:"max_segment_deltas" validate:"min=1"`
	MaxSegmentBytes   int64         `yaml:"max_segment_bytes" validate:"min=1024"`
}

// WorkerConfig configures a worker daemon
type WorkerConfig struct {
	// WorkerID of -1 asks the master to assign one.
	WorkerID       int    `yaml:"worker_id" validate:"min=-1"`
	ListenAddr     string `yaml:"listen_addr" validate:"required"`
	AdvertiseAddr  string `yaml:"advertise_addr"`
	MasterEndpoint string `yaml:"master_endpoint" validate:"required"`
	MetricsAddr    string `yaml:"metrics_addr"`
	LogLevel       string `yaml:"log_level" validate:"oneof=debug info warn error"`

	RPC RPCConfig `yaml:"rpc"`
	WAL WALConfig `yaml:"wal"`

	LockTimeout Duration `yaml:"lock_timeout" validate:"gt=0"`
}

// DefaultWorkerConfig returns worker defaults for the given data dir
func DefaultWorkerConfig(dataDir string) WorkerConfig {
	return WorkerConfig{
		WorkerID:       -1,
		ListenAddr:     "tcp://0.0.0.0:7687",
		MasterEndpoint: "tcp://127.0.0.1:7686",
		MetricsAddr:    ":9090",
		LogLevel:       "info",
		RPC:            RPCConfig{Workers: 8, QueueDepth: 256},
		WAL: WALConfig{
			Dir:              dataDir,
			Enabled:          true,
			BufferCapacity:   4096,
			FlushInterval:    Duration(50 * time.Millisecond),
			MaxSegmentDeltas: 100000,
			MaxSegmentBytes:  64 << 20,
		},
		LockTimeout: Duration(100 * time.Millisecond),
	}
}

// Validate checks the worker configuration
func (c *WorkerConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid worker config: %w", err)
	}
	return nil
}

// MasterConfig configures the coordinator daemon
type MasterConfig struct {
	ListenAddr    string    `yaml:"listen_addr" validate:"required"`
	AdvertiseAddr string    `yaml:"advertise_addr"`
	MetricsAddr   string    `yaml:"metrics_addr"`
	LogLevel      string    `yaml:"log_level" validate:"oneof=debug info warn error"`
	RPC           RPCConfig `yaml:"rpc"`
	FanoutWait    Duration  `yaml:"fanout_wait" validate:"gt=0"`
	// HorizonInterval is how often the master pushes the oldest-active
	// transaction id to workers for staged-state eviction.
	HorizonInterval Duration `yaml:"horizon_interval" validate:"gt=0"`
}

// DefaultMasterConfig returns master defaults
func DefaultMasterConfig() MasterConfig {
	return MasterConfig{
		ListenAddr:      "tcp://0.0.0.0:7686",
		MetricsAddr:     ":9091",
		LogLevel:        "info",
		RPC:             RPCConfig{Workers: 4, QueueDepth: 64},
		FanoutWait:      Duration(10 * time.Second),
		HorizonInterval: Duration(time.Second),
	}
}

// Validate checks the master configuration
func (c *MasterConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid master config: %w", err)
	}
	return nil
}

// LoadWorker reads a worker config file over the defaults. An empty
// path yields the validated defaults.
func LoadWorker(path, dataDir string) (WorkerConfig, error) {
	cfg := DefaultWorkerConfig(dataDir)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadMaster reads a master config file over the defaults
func LoadMaster(path string) (MasterConfig, error) {
	cfg := DefaultMasterConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
