// Package deployment orchestrates pushing a decomposed plan's per-node
// subplans out to workers and tearing them back down, per SPEC_FULL
// §4.14. It fans RPCs out to every node in parallel and waits for all of
// them (or the first failure) before advancing the shared plan's
// lifecycle, mirroring QueryDeploymentPhase/QueryUndeploymentPhase's
// write-catalog-then-send-RPC ordering.
package deployment

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nebulastream/nebulastream-sub040/internal/decomposition"
	"github.com/nebulastream/nebulastream-sub040/internal/network"
	"github.com/nebulastream/nebulastream-sub040/internal/plan"
	"github.com/nebulastream/nebulastream-sub040/internal/rpc"
	"github.com/nebulastream/nebulastream-sub040/internal/topology"
)

// WorkerDialer resolves a topology node to the WorkerClient that can
// receive SubPlan RPCs for it. Implementations typically cache one
// *grpc.ClientConn per node address.
type WorkerDialer interface {
	WorkerFor(node topology.NodeID) (*rpc.WorkerClient, error)
	// AddressFor resolves node's data-plane address, so a pushed subplan's
	// network bridges know where to dial their peers. Ok is false for a
	// node the dialer has no address for.
	AddressFor(node topology.NodeID) (addr string, ok bool)
}

// CatalogWriter records a shared plan's lifecycle transitions in the
// query catalog. Deploy writes MarkDeployed before sending any deploy RPC,
// so a coordinator crash mid-fan-out leaves the catalog, not the wire, as
// the source of truth for what was attempted. MarkRunning is written once
// every start RPC has succeeded, MarkStopped after the stop and unregister
// RPCs, and MarkFailed when a deploy or start fan-out fails.
type CatalogWriter interface {
	MarkDeployed(ctx context.Context, sharedPlanID string) error
	MarkRunning(ctx context.Context, sharedPlanID string) error
	MarkStopped(ctx context.Context, sharedPlanID string) error
	MarkFailed(ctx context.Context, sharedPlanID string, cause error) error
}

// Deployer pushes SubPlans to workers and tears them down, keeping a
// plan.SharedPlan's in-memory lifecycle state and a CatalogWriter's
// persisted state advancing together.
type Deployer struct {
	dialer  WorkerDialer
	catalog CatalogWriter
}

func New(dialer WorkerDialer, catalog CatalogWriter) *Deployer {
	return &Deployer{dialer: dialer, catalog: catalog}
}

// Deploy pushes every subplan in subplans to its node, starts each one,
// and advances sp/the catalog to Running. Any single node's failure fails
// the whole deployment: partially-deployed subplans are left registered
// but not started, matching deployQuery's all-or-nothing contract.
func (d *Deployer) Deploy(ctx context.Context, sp *plan.SharedPlan, subplans map[topology.NodeID]*decomposition.SubPlan) error {
	if err := d.catalog.MarkDeployed(ctx, sp.ID); err != nil {
		return fmt.Errorf("deployment: recording deployed state: %w", err)
	}
	if err := sp.MarkDeployed(); err != nil {
		return fmt.Errorf("deployment: %w", err)
	}

	nodeAddresses := make(map[uint32]string, len(subplans))
	for node := range subplans {
		if addr, ok := d.dialer.AddressFor(node); ok {
			nodeAddresses[uint32(node)] = addr
		}
	}

	if err := d.fanOut(ctx, subplans, func(ctx context.Context, client *rpc.WorkerClient, sub *decomposition.SubPlan) error {
		operators := make([]plan.Operator, 0, len(sub.Operators))
		for _, id := range sub.Operators {
			operators = append(operators, *sp.Graph.Node(id))
		}
		resp, err := client.DeploySubPlan(ctx, &rpc.DeploySubPlanRequest{
			QueryID: sp.ID, Operators: operators, Roots: sub.Roots, NodeAddresses: nodeAddresses,
		})
		if err != nil {
			return err
		}
		if !resp.Registered {
			return fmt.Errorf("deployment: node rejected subplan registration")
		}
		return nil
	}); err != nil {
		_ = d.catalog.MarkFailed(ctx, sp.ID, err)
		_ = sp.MarkFailed()
		return fmt.Errorf("deployment: deploy fan-out: %w", err)
	}

	if err := d.fanOut(ctx, subplans, func(ctx context.Context, client *rpc.WorkerClient, sub *decomposition.SubPlan) error {
		resp, err := client.StartSubPlan(ctx, &rpc.StartSubPlanRequest{QueryID: sp.ID})
		if err != nil {
			return err
		}
		if !resp.Started {
			return fmt.Errorf("deployment: node refused to start subplan")
		}
		return nil
	}); err != nil {
		_ = d.catalog.MarkFailed(ctx, sp.ID, err)
		_ = sp.MarkFailed()
		return fmt.Errorf("deployment: start fan-out: %w", err)
	}

	if err := d.catalog.MarkRunning(ctx, sp.ID); err != nil {
		return fmt.Errorf("deployment: recording running state: %w", err)
	}
	if err := sp.MarkRunning(); err != nil {
		return fmt.Errorf("deployment: %w", err)
	}
	return nil
}

// Stop sends stopSubPlan (with sp's TerminationType for userInitiated)
// followed by unregisterSubPlan to every node, then marks sp/the catalog
// Stopped. Unlike Deploy, Stop keeps going across node failures so one
// unreachable worker does not strand the rest of the plan running.
func (d *Deployer) Stop(ctx context.Context, sp *plan.SharedPlan, subplans map[topology.NodeID]*decomposition.SubPlan, userInitiated bool) error {
	termination := sp.TerminationType(userInitiated)

	var firstErr error
	for node, sub := range subplans {
		client, err := d.dialer.WorkerFor(node)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if _, err := client.StopSubPlan(ctx, &rpc.StopSubPlanRequest{QueryID: sp.ID, Termination: termination}); err != nil && firstErr == nil {
			firstErr = err
		}
		if _, err := client.UnregisterSubPlan(ctx, &rpc.UnregisterSubPlanRequest{QueryID: sp.ID}); err != nil && firstErr == nil {
			firstErr = err
		}
		_ = sub
	}

	if err := d.catalog.MarkStopped(ctx, sp.ID); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("deployment: recording stopped state: %w", err)
	}
	if err := sp.MarkStopped(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("deployment: %w", err)
	}
	return firstErr
}

// TerminationType re-exports network.TerminationType for callers that
// only need the enum, not the full deployment API.
type TerminationType = network.TerminationType

func (d *Deployer) fanOut(ctx context.Context, subplans map[topology.NodeID]*decomposition.SubPlan, call func(context.Context, *rpc.WorkerClient, *decomposition.SubPlan) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for node, sub := range subplans {
		node, sub := node, sub
		g.Go(func() error {
			client, err := d.dialer.WorkerFor(node)
			if err != nil {
				return fmt.Errorf("deployment: dialing node %d: %w", node, err)
			}
			if err := call(gctx, client, sub); err != nil {
				return fmt.Errorf("deployment: node %d: %w", node, err)
			}
			return nil
		})
	}
	return g.Wait()
}
