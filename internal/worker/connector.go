// Package worker implements the per-node query execution runtime:
// compiling a decomposition.SubPlan's operators into a runtime.TaskQueue
// pipeline, wiring network bridges between nodes, and exposing the
// rpc.WorkerServer control surface the coordinator drives. Per SPEC_FULL
// §4.9-§4.13, §6.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/nebulastream/nebulastream-sub040/internal/buffer"
)

// SourceConnector is the abstract contract a physical source implements.
// Concrete CSV/TCP/ZMQ/MQTT connectors and their wire parsers are out of
// scope; a worker only ever drives this interface for an OpSource leaf.
type SourceConnector interface {
	// Run pulls from the external source until ctx is cancelled or the
	// source is exhausted, calling emit once per filled tuple buffer.
	// The connector is responsible for setting OriginID/SequenceNumber/
	// WatermarkTs on each buffer it emits.
	Run(ctx context.Context, emit func(buffer.TupleBuffer) error) error
}

// SinkConnector is the abstract contract a physical sink implements for
// an OpSink leaf.
type SinkConnector interface {
	Write(ctx context.Context, buf buffer.TupleBuffer) error
}

// connectorRegistry resolves a physical source/sink name (carried in an
// operator's Params field) to the connector instance bound to it. There
// is no coordinator->worker connector-provisioning RPC in this module: a
// worker process registers its connectors out of band, before any
// DeploySubPlan referencing them arrives.
type connectorRegistry struct {
	mu      sync.Mutex
	sources map[string]SourceConnector
	sinks   map[string]SinkConnector
}

func newConnectorRegistry() *connectorRegistry {
	return &connectorRegistry{sources: make(map[string]SourceConnector), sinks: make(map[string]SinkConnector)}
}

func (r *connectorRegistry) RegisterSource(name string, c SourceConnector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = c
}

func (r *connectorRegistry) RegisterSink(name string, c SinkConnector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[name] = c
}

func (r *connectorRegistry) source(name string) (SourceConnector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("worker: no source connector registered for %q", name)
	}
	return c, nil
}

func (r *connectorRegistry) sink(name string) (SinkConnector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sinks[name]
	if !ok {
		return nil, fmt.Errorf("worker: no sink connector registered for %q", name)
	}
	return c, nil
}
