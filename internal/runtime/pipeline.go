package runtime

import (
	"context"

	"github.com/nebulastream/nebulastream-sub040/internal/buffer"
)

// PipelineStage is one compiled, executable segment of an operator chain
// between two pipeline breakers (a network bridge, a window trigger, a
// join probe). A stage is set up once per worker thread, executed once
// per input buffer, and stopped once the upstream has signalled
// completion.
type PipelineStage interface {
	// Setup runs once per WorkerContext before the first Execute call.
	Setup(ctx context.Context, wc *WorkerContext) error
	// Execute processes one input buffer. It may emit zero or more output
	// buffers via whatever downstream sink the stage was compiled with.
	Execute(ctx context.Context, wc *WorkerContext, buf buffer.TupleBuffer) error
	// Stop runs once per WorkerContext after the last Execute call,
	// flushing any buffered state (e.g. triggering remaining windows).
	Stop(ctx context.Context, wc *WorkerContext) error
}

// StageFunc adapts a plain Execute-only function into a PipelineStage
// whose Setup/Stop are no-ops, for stateless stages (filters, maps).
type StageFunc func(ctx context.Context, wc *WorkerContext, buf buffer.TupleBuffer) error

func (f StageFunc) Setup(context.Context, *WorkerContext) error { return nil }
func (f StageFunc) Execute(ctx context.Context, wc *WorkerContext, buf buffer.TupleBuffer) error {
	return f(ctx, wc, buf)
}
func (f StageFunc) Stop(context.Context, *WorkerContext) error { return nil }
