package plan

import (
	"fmt"

	"github.com/nebulastream/nebulastream-sub040/internal/network"
)

// LifecycleState is a SharedPlan's coarse deployment state, per SPEC_FULL
// §4.14's termination-type selection and §6's catalog state transitions.
type LifecycleState string

const (
	Created  LifecycleState = "Created"
	Deployed LifecycleState = "Deployed"
	Running  LifecycleState = "Running"
	Updated  LifecycleState = "Updated"
	Stopped  LifecycleState = "Stopped"
	Failed   LifecycleState = "Failed"
)

// ErrInvalidTransition reports an attempted lifecycle transition not
// reachable from the current state.
type ErrInvalidTransition struct {
	From  LifecycleState
	Event string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("shared plan: %s not valid from state %s", e.Event, e.From)
}

// ChangelogEntry records one mutation applied to a SharedPlan: a new
// target query merged in, or a sink removed on undeployment.
type ChangelogEntry struct {
	QueryID string
	SinkIDs []NodeID
	Removed bool
}

// SharedPlan is one entry in the coordinator's global query plan: one
// operator Graph shared by every query merged into it, plus the state
// machine and append-only changelog tracking how it got there.
//
// Sink ordering is append-only (ChangelogEntry.SinkIDs in the order they
// were added): stop notification walks sinks in that order, resolving the
// tied-notification-order ambiguity left open by §4.14.
type SharedPlan struct {
	ID    string
	Graph *Graph

	state     LifecycleState
	changelog []ChangelogEntry
	sinkOrder []NodeID // append-only; Sinks() returns this order
}

// NewSharedPlan creates a fresh plan in state Created, seeded with the
// first query's operator graph and sink set.
func NewSharedPlan(id string, g *Graph) *SharedPlan {
	return &SharedPlan{ID: id, Graph: g, state: Created}
}

// State returns the plan's current lifecycle state.
func (p *SharedPlan) State() LifecycleState { return p.state }

// Sinks returns this plan's sink node ids, in the order they were added
// across every merge.
func (p *SharedPlan) Sinks() []NodeID {
	return append([]NodeID(nil), p.sinkOrder...)
}

// Merge records that a target query's sinks (already re-parented into
// Graph by the caller) have been added to this shared plan, per §4.10's
// "the target's sinks are added as additional roots; the change is
// appended to the shared plan's changelog".
func (p *SharedPlan) Merge(queryID string, sinkIDs []NodeID) {
	for _, id := range sinkIDs {
		p.Graph.MarkRoot(id)
	}
	p.sinkOrder = append(p.sinkOrder, sinkIDs...)
	p.changelog = append(p.changelog, ChangelogEntry{QueryID: queryID, SinkIDs: sinkIDs})
	if p.state == Running || p.state == Deployed {
		p.state = Updated
	}
}

// Changelog returns the append-only history of merges/removals applied
// to this plan.
func (p *SharedPlan) Changelog() []ChangelogEntry {
	return append([]ChangelogEntry(nil), p.changelog...)
}

// MarkDeployed transitions Created/Updated -> Deployed, matching §4.14
// deployment step 1 (registerQuery issued).
func (p *SharedPlan) MarkDeployed() error {
	if p.state != Created && p.state != Updated {
		return &ErrInvalidTransition{From: p.state, Event: "MarkDeployed"}
	}
	p.state = Deployed
	return nil
}

// MarkRunning transitions Deployed -> Running, matching §4.14 deployment
// step 4 ("Mark catalog entries Running").
func (p *SharedPlan) MarkRunning() error {
	if p.state != Deployed {
		return &ErrInvalidTransition{From: p.state, Event: "MarkRunning"}
	}
	p.state = Running
	return nil
}

// MarkStopped transitions Running/Deployed/Updated -> Stopped, matching
// §4.14 undeployment.
func (p *SharedPlan) MarkStopped() error {
	switch p.state {
	case Running, Deployed, Updated:
		p.state = Stopped
		return nil
	default:
		return &ErrInvalidTransition{From: p.state, Event: "MarkStopped"}
	}
}

// MarkFailed transitions from any non-terminal state to Failed. Failed is
// terminal: it mirrors §4.14's "Failure when the shared plan failed"
// termination-type rule driving every node's stopQuery call.
func (p *SharedPlan) MarkFailed() error {
	if p.state == Stopped || p.state == Failed {
		return &ErrInvalidTransition{From: p.state, Event: "MarkFailed"}
	}
	p.state = Failed
	return nil
}

// TerminationType selects the stop termination type for this plan,
// matching §4.14: HardStop for a user-initiated or shared-plan-updated
// stop, Failure when the plan failed, Graceful otherwise.
func (p *SharedPlan) TerminationType(userInitiated bool) network.TerminationType {
	if p.state == Failed {
		return network.Failure
	}
	if userInitiated || p.state == Updated {
		return network.HardStop
	}
	return network.Graceful
}
