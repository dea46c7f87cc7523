package rpc

import (
	"github.com/nebulastream/nebulastream-sub040/internal/network"
	"github.com/nebulastream/nebulastream-sub040/internal/plan"
)

// DeploySubPlanRequest pushes one decomposition.SubPlan's operators to the
// worker that owns them, addressed by QueryID so a worker running several
// shared plans can tell them apart.
type DeploySubPlanRequest struct {
	QueryID   string
	Operators []plan.Operator
	Roots     []plan.NodeID
	// NodeAddresses maps topology.NodeID to data-plane address for every
	// node participating in this query, so a net bridge operator (whose
	// Params only name a peer node id) can resolve where to dial it.
	NodeAddresses map[uint32]string
}

type DeploySubPlanResponse struct {
	Registered bool
}

type StartSubPlanRequest struct {
	QueryID string
}

type StartSubPlanResponse struct {
	Started bool
}

type StopSubPlanRequest struct {
	QueryID     string
	Termination network.TerminationType
}

type StopSubPlanResponse struct {
	Stopped bool
}

type UnregisterSubPlanRequest struct {
	QueryID string
}

type UnregisterSubPlanResponse struct {
	Removed bool
}
