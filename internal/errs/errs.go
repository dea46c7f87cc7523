// Package errs defines the error taxonomy shared by every runtime and
// coordinator component: validation, type inference, placement, pool
// exhaustion, channel, not-implemented, and panic/invariant errors.
//
// Every error crosses exactly one boundary (operator -> pipeline -> worker
// -> coordinator) with context appended via fmt.Errorf("%w"); nothing in
// this package swallows an error.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the taxonomy in the runtime error design.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindTypeInference  Kind = "type_inference"
	KindPlacement      Kind = "placement"
	KindPoolExhausted  Kind = "pool_exhausted"
	KindChannel        Kind = "channel"
	KindNotImplemented Kind = "not_implemented"
	KindInvariant      Kind = "invariant"
)

// Sentinel errors, one per well-known failure named in the spec.
var (
	ErrPoolShutDown            = errors.New("buffer pool is shut down")
	ErrBufferStillReferenced   = errors.New("buffer returned to pool while still referenced")
	ErrBufferAllocationFailed  = errors.New("no buffer available")
	ErrFieldTypeMismatch       = errors.New("field read with mismatched static type")
	ErrOutOfBounds             = errors.New("record index out of bounds")
	ErrChannelUnavailable      = errors.New("channel unavailable: retry budget exhausted")
	ErrChannelBroken           = errors.New("channel broken")
	ErrPartitionAlreadyExists  = errors.New("partition already registered")
	ErrPlacementFailed         = errors.New("no admissible placement")
	ErrTypeInferenceFailed     = errors.New("type could not be inferred")
	ErrUnknownLogicalSource    = errors.New("unknown logical source")
	ErrDuplicateRegistration   = errors.New("duplicate registration")
	ErrNotImplemented          = errors.New("not implemented")
	ErrSliceCleanupMissing     = errors.New("slice released without a cleanup function")
	ErrRegistryKeyNotFound     = errors.New("registry: no factory for name")
	ErrRegistryKeyExists       = errors.New("registry: name already registered")
	ErrQueryNotFound           = errors.New("catalog: no query with that id")
	ErrSourceNotFound          = errors.New("catalog: no source with that name")
)

// QueryError is the user-visible failure shape: it carries the shared-plan
// id, the originating node id and the last-known lifecycle state alongside
// the wrapped cause, matching the propagation policy in the error design.
type QueryError struct {
	Kind            Kind
	SharedPlanID    string
	NodeID          string
	LifecycleState  string
	Cause           error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query error [%s] plan=%s node=%s state=%s: %v",
		e.Kind, e.SharedPlanID, e.NodeID, e.LifecycleState, e.Cause)
}

func (e *QueryError) Unwrap() error { return e.Cause }

// Wrap appends context to cause while preserving its kind and lets the
// caller attach the observability fields the coordinator needs to surface
// to a client.
func Wrap(kind Kind, sharedPlanID, nodeID, lifecycleState string, cause error) *QueryError {
	return &QueryError{
		Kind:           kind,
		SharedPlanID:   sharedPlanID,
		NodeID:         nodeID,
		LifecycleState: lifecycleState,
		Cause:          cause,
	}
}
