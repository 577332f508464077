package rtnode

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysim/engine/field"
	"github.com/raysim/engine/gpumem"
)

func newLeaf(id uint64, produced field.Set, value int) *Base {
	return NewBase(id, "leaf", ProducesPoints, nil, field.Set(0), produced, Hooks{
		Validate: func(ctx *RunCtx) (int, error) { return 3, nil },
		Enqueue: func(ctx *RunCtx) {
			ctx.Stream.Enqueue(func() {})
		},
		Materialize: func(ctx *RunCtx, f field.Field) (any, error) {
			return value, nil
		},
	})
}

func TestNodeLifecycleHappyPath(t *testing.T) {
	stream := gpumem.NewStream()
	defer stream.Close()
	ctx := NewRunCtx("run-1", stream)

	leaf := newLeaf(1, field.NewSet(field.DISTANCE), 42)
	assert.Equal(t, Idle, leaf.State())

	require.NoError(t, leaf.Validate(ctx))
	assert.Equal(t, Validated, leaf.State())
	assert.Equal(t, 3, leaf.Width(ctx))

	leaf.Enqueue(ctx)
	v, err := leaf.GetFieldData(ctx, field.DISTANCE)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, Completed, leaf.State())
}

func TestNodeMaterializeOnceAndCached(t *testing.T) {
	stream := gpumem.NewStream()
	defer stream.Close()
	ctx := NewRunCtx("run-1", stream)

	calls := 0
	leaf := NewBase(1, "leaf", ProducesPoints, nil, field.Set(0), field.NewSet(field.DISTANCE), Hooks{
		Validate: func(ctx *RunCtx) (int, error) { return 1, nil },
		Enqueue:  func(ctx *RunCtx) { ctx.Stream.Enqueue(func() {}) },
		Materialize: func(ctx *RunCtx, f field.Field) (any, error) {
			calls++
			return calls, nil
		},
	})
	require.NoError(t, leaf.Validate(ctx))
	leaf.Enqueue(ctx)

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := leaf.GetFieldData(ctx, field.DISTANCE)
			require.NoError(t, err)
			results[i] = v.(int)
		}()
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, 1, r)
	}
	assert.Equal(t, 1, calls)
}

func TestNodeValidateFailsOnMissingUpstreamField(t *testing.T) {
	stream := gpumem.NewStream()
	defer stream.Close()
	ctx := NewRunCtx("run-1", stream)

	upstream := newLeaf(1, field.NewSet(field.DISTANCE), 1)
	downstream := NewBase(2, "downstream", ProducesPoints, []Node{upstream}, field.NewSet(field.AZIMUTH), field.NewSet(field.AZIMUTH), Hooks{
		Validate: func(ctx *RunCtx) (int, error) { return 1, nil },
	})

	err := downstream.Validate(ctx)
	require.Error(t, err)
}

func TestNodeSkippedUnblocksWaitersWithError(t *testing.T) {
	stream := gpumem.NewStream()
	defer stream.Close()
	ctx := NewRunCtx("run-1", stream)

	leaf := newLeaf(1, field.NewSet(field.DISTANCE), 1)
	require.NoError(t, leaf.Validate(ctx))
	leaf.Skip()

	_, err := leaf.GetFieldData(ctx, field.DISTANCE)
	require.Error(t, err)
}

func TestResetForRunClearsCache(t *testing.T) {
	stream := gpumem.NewStream()
	defer stream.Close()
	ctx := NewRunCtx("run-1", stream)

	leaf := newLeaf(1, field.NewSet(field.DISTANCE), 1)
	require.NoError(t, leaf.Validate(ctx))
	leaf.Enqueue(ctx)
	_, err := leaf.GetFieldData(ctx, field.DISTANCE)
	require.NoError(t, err)

	leaf.ResetForRun()
	assert.Equal(t, Idle, leaf.State())
}
