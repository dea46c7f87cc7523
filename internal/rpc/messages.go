package rpc

import "github.com/nebulastream/nebulastream-sub040/internal/layout"

// NodeDescriptor is the information a worker offers the coordinator when
// joining the topology.
type NodeDescriptor struct {
	NodeID        uint32
	ParentNodeID  uint32
	HasParent     bool
	Address       string
	CapacitySlots uint32
	LinkBandwidthMbps uint64
	LinkLatencyMillis uint64
}

type RegisterNodeRequest struct {
	Node NodeDescriptor
}

type RegisterNodeResponse struct {
	Accepted bool
}

type UnregisterNodeRequest struct {
	NodeID uint32
}

type UnregisterNodeResponse struct {
	Removed bool
}

type RegisterLogicalStreamRequest struct {
	LogicalName string
	Schema      layout.Schema
}

type RegisterLogicalStreamResponse struct {
	Registered bool
}

type UnregisterLogicalStreamRequest struct {
	LogicalName string
}

type UnregisterLogicalStreamResponse struct {
	Removed bool
}

type RegisterPhysicalStreamRequest struct {
	LogicalName  string
	PhysicalName string
	NodeID       uint32
}

type RegisterPhysicalStreamResponse struct {
	Registered bool
}

type UnregisterPhysicalStreamRequest struct {
	LogicalName  string
	PhysicalName string
}

type UnregisterPhysicalStreamResponse struct {
	Removed bool
}

// RegisterQueryRequest submits SQL text for optimization; RegisterQuery
// returns a QueryID immediately while placement/deployment run
// asynchronously, per the CoordinatorEngineTest pattern (SUPPLEMENTED
// FEATURES #8) — lifecycle is observable afterward through the query
// catalog, not by blocking this call.
type RegisterQueryRequest struct {
	SQL               string
	PlacementStrategy string
}

type RegisterQueryResponse struct {
	QueryID uint64
}

type StartQueryRequest struct {
	QueryID uint64
}

type StartQueryResponse struct {
	Started bool
}

type StopQueryRequest struct {
	QueryID       uint64
	UserInitiated bool
}

type StopQueryResponse struct {
	Stopped bool
}

type UnregisterQueryRequest struct {
	QueryID uint64
}

type UnregisterQueryResponse struct {
	Removed bool
}

// ProbeStatRequest mirrors StatProbeRequest: a logical source plus an
// optional subset of its physical sources to probe, with Merge asking the
// coordinator to combine per-node replies instead of returning them
// unmerged.
type ProbeStatRequest struct {
	LogicalSourceName   string
	FieldName           string
	StatCollectorType   string
	PhysicalSourceNames []string
	Merge               bool
}

type ProbeStatResponse struct {
	Values []float64
}
