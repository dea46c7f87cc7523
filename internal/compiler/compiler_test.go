package compiler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulastream/nebulastream-sub040/internal/buffer"
	"github.com/nebulastream/nebulastream-sub040/internal/runtime"
)

func TestCompile_CachesByKey(t *testing.T) {
	cache, err := NewCache(4)
	require.NoError(t, err)
	c := New(cache)

	builds := 0
	build := func() (*CompiledPipeline, error) {
		builds++
		stage := runtime.StageFunc(func(context.Context, *runtime.WorkerContext, buffer.TupleBuffer) error { return nil })
		return &CompiledPipeline{Stage: stage, Handlers: map[HandlerID]any{}}, nil
	}

	key := CacheKey{SQL: "SELECT * FROM cars", ExecutionMode: "compiled", OperatorBuffer: 4096, Signature: "SRC(cars)"}
	a1, err := c.Compile(key, build)
	require.NoError(t, err)
	a2, err := c.Compile(key, build)
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.Equal(t, 1, builds)
}

func TestCompile_DifferentSignatureMisses(t *testing.T) {
	cache, err := NewCache(4)
	require.NoError(t, err)
	c := New(cache)

	build := func() (*CompiledPipeline, error) {
		stage := runtime.StageFunc(func(context.Context, *runtime.WorkerContext, buffer.TupleBuffer) error { return nil })
		return &CompiledPipeline{Stage: stage}, nil
	}

	key1 := CacheKey{SQL: "q", Signature: "SRC(a)"}
	key2 := CacheKey{SQL: "q", Signature: "SRC(b)"}
	a1, err := c.Compile(key1, build)
	require.NoError(t, err)
	a2, err := c.Compile(key2, build)
	require.NoError(t, err)

	assert.NotSame(t, a1, a2)
}

func TestCompile_NilCacheAlwaysRebuilds(t *testing.T) {
	c := New(nil)
	builds := 0
	build := func() (*CompiledPipeline, error) {
		builds++
		stage := runtime.StageFunc(func(context.Context, *runtime.WorkerContext, buffer.TupleBuffer) error { return nil })
		return &CompiledPipeline{Stage: stage}, nil
	}
	key := CacheKey{Signature: "SRC(a)"}
	_, err := c.Compile(key, build)
	require.NoError(t, err)
	_, err = c.Compile(key, build)
	require.NoError(t, err)
	assert.Equal(t, 2, builds)
}
