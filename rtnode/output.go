package rtnode

import (
	"github.com/raysim/engine/field"
	"github.com/raysim/engine/gpumem"
	"github.com/raysim/engine/rerr"
)

// Output returns the device array holding this node's output for one
// field, interning it in the run's registry so it stays pinned until the
// run completes. The array is created empty on first access; the node's
// stream job fills it via SetNow.
func Output[T any](ctx *RunCtx, nodeID uint64, f field.Field) *gpumem.Array[T] {
	return gpumem.Intern(ctx.Registry, nodeID, uint8(f), func() *gpumem.Array[T] {
		return gpumem.NewArray[T](ctx.Stream, gpumem.Device)
	})
}

// InputField reads one field from an upstream node and asserts its
// element type. Intended to be called from within a stream job, after the
// upstream node's completion marker has already run on the same stream,
// so the read never blocks.
func InputField[T any](ctx *RunCtx, in Node, f field.Field) ([]T, error) {
	v, err := in.GetFieldData(ctx, f)
	if err != nil {
		return nil, err
	}
	s, ok := v.([]T)
	if !ok {
		return nil, rerr.New(rerr.InvalidPipeline, "field %s from node %s: unexpected element type %T", f, in.Name(), v)
	}
	return s, nil
}
