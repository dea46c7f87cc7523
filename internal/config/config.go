// Package config loads coordinator and worker configuration from CLI flags
// overridable by a YAML file, matching the CLI surface described in the
// spec: --rpc-port, --rest-port, --coordinator-config, --worker-config.
package config

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExitCode mirrors the CLI surface's documented exit codes.
type ExitCode int

const (
	ExitSuccess           ExitCode = 0
	ExitConfigError       ExitCode = 1
	ExitBindFailure       ExitCode = 2
	ExitInFlightQueries   ExitCode = 3
)

// Coordinator holds coordinator process configuration.
type Coordinator struct {
	RPCPort  int    `yaml:"rpcPort"`
	RESTPort int    `yaml:"restPort"`
	LogLevel string `yaml:"logLevel"`
}

// Worker holds worker process configuration.
type Worker struct {
	NodeID               string `yaml:"nodeId"`
	CoordinatorAddress   string `yaml:"coordinatorAddress"`
	DataPort             int    `yaml:"dataPort"`
	RPCPort              int    `yaml:"rpcPort"`
	NumWorkerThreads     int    `yaml:"numWorkerThreads"`
	BufferSizeBytes      int    `yaml:"bufferSizeBytes"`
	NumberOfBuffers      int    `yaml:"numberOfBuffers"`
	BuffersPerWorker     int    `yaml:"buffersPerWorker"`
	LogLevel             string `yaml:"logLevel"`
}

// CoordinatorFlags registers the coordinator's CLI flags.
type CoordinatorFlags struct {
	rpcPort    *int
	restPort   *int
	configFile *string
	logLevel   *string
}

// RegisterCoordinatorFlags registers --rpc-port, --rest-port and
// --coordinator-config.
func RegisterCoordinatorFlags() *CoordinatorFlags {
	return &CoordinatorFlags{
		rpcPort:    flag.Int("rpc-port", 4000, "coordinator RPC port"),
		restPort:   flag.Int("rest-port", 8081, "coordinator REST port"),
		configFile: flag.String("coordinator-config", "", "YAML coordinator config override"),
		logLevel:   flag.String("log-level", "info", "log level"),
	}
}

// ToConfig resolves flags plus an optional YAML override into a Coordinator
// config. Call after flag.Parse().
func (f *CoordinatorFlags) ToConfig() (Coordinator, error) {
	cfg := Coordinator{
		RPCPort:  *f.rpcPort,
		RESTPort: *f.restPort,
		LogLevel: *f.logLevel,
	}
	if *f.configFile == "" {
		return cfg, nil
	}
	if err := loadYAMLOverride(*f.configFile, &cfg); err != nil {
		return cfg, fmt.Errorf("coordinator config: %w", err)
	}
	return cfg, nil
}

// WorkerFlags registers the worker's CLI flags.
type WorkerFlags struct {
	nodeID             *string
	coordinatorAddress *string
	dataPort           *int
	rpcPort            *int
	numWorkerThreads   *int
	bufferSizeBytes    *int
	numberOfBuffers    *int
	buffersPerWorker   *int
	configFile         *string
	logLevel           *string
}

// RegisterWorkerFlags registers --worker-config and the worker's runtime
// sizing flags.
func RegisterWorkerFlags() *WorkerFlags {
	return &WorkerFlags{
		nodeID:             flag.String("node-id", "", "worker node id"),
		coordinatorAddress: flag.String("coordinator-address", "127.0.0.1:4000", "coordinator RPC address"),
		dataPort:           flag.Int("data-port", 5000, "worker data-plane port"),
		rpcPort:            flag.Int("rpc-port", 5001, "worker RPC port"),
		numWorkerThreads:   flag.Int("num-worker-threads", 4, "number of task-queue worker threads"),
		bufferSizeBytes:    flag.Int("buffer-size-bytes", 4096, "tuple buffer size in bytes"),
		numberOfBuffers:    flag.Int("number-of-buffers", 1024, "global buffer pool size"),
		buffersPerWorker:   flag.Int("buffers-per-worker", 64, "per-worker-thread local sub-pool size"),
		configFile:         flag.String("worker-config", "", "YAML worker config override"),
		logLevel:           flag.String("log-level", "info", "log level"),
	}
}

// ToConfig resolves flags plus an optional YAML override into a Worker
// config. Call after flag.Parse().
func (f *WorkerFlags) ToConfig() (Worker, error) {
	cfg := Worker{
		NodeID:             *f.nodeID,
		CoordinatorAddress: *f.coordinatorAddress,
		DataPort:           *f.dataPort,
		RPCPort:            *f.rpcPort,
		NumWorkerThreads:   *f.numWorkerThreads,
		BufferSizeBytes:    *f.bufferSizeBytes,
		NumberOfBuffers:    *f.numberOfBuffers,
		BuffersPerWorker:   *f.buffersPerWorker,
		LogLevel:           *f.logLevel,
	}
	if *f.configFile == "" {
		return cfg, nil
	}
	if err := loadYAMLOverride(*f.configFile, &cfg); err != nil {
		return cfg, fmt.Errorf("worker config: %w", err)
	}
	return cfg, nil
}

func loadYAMLOverride(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}
