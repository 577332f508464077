// Package postprocess implements the field-producing/consuming transform
// nodes that sit between a ray-trace node and the client's yield node.
// Every node follows the same contract: it declares the
// fields it requires from its input, sizes its outputs during its stream
// job, and materializes requested fields lazily on first read.
package postprocess

import (
	"github.com/raysim/engine/field"
	"github.com/raysim/engine/geom"
	"github.com/raysim/engine/rerr"
	"github.com/raysim/engine/rtnode"
)

// gatherField reads field f from in and gathers the elements at indices,
// dispatching on the field's runtime kind. This is the host-side analogue
// of the stream-scoped gpuFilter kernel every index-remapping node
// (compact, radar, ground filter) shares.
func gatherField(ctx *rtnode.RunCtx, in rtnode.Node, f field.Field, indices []int) (any, error) {
	switch field.Describe(f).Kind {
	case field.KindFloat32x3:
		return gather[geom.V3f](ctx, in, f, indices)
	case field.KindFloat32:
		return gather[float32](ctx, in, f, indices)
	case field.KindInt32:
		return gather[int32](ctx, in, f, indices)
	case field.KindUint32:
		return gather[uint32](ctx, in, f, indices)
	case field.KindBool:
		return gather[bool](ctx, in, f, indices)
	case field.KindInt64:
		return gather[int64](ctx, in, f, indices)
	default:
		return nil, rerr.New(rerr.InvalidPipeline, "gather: field %s has no runtime kind mapping", f)
	}
}

func gather[T any](ctx *rtnode.RunCtx, in rtnode.Node, f field.Field, indices []int) (any, error) {
	src, err := rtnode.InputField[T](ctx, in, f)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(src) {
			return nil, rerr.New(rerr.InvalidPipeline, "gather: index %d out of range for %d-point field %s", idx, len(src), f)
		}
		out[i] = src[idx]
	}
	return out, nil
}

// concatField concatenates field f across every input, in input order.
func concatField(ctx *rtnode.RunCtx, inputs []rtnode.Node, f field.Field) (any, error) {
	switch field.Describe(f).Kind {
	case field.KindFloat32x3:
		return concat[geom.V3f](ctx, inputs, f)
	case field.KindFloat32:
		return concat[float32](ctx, inputs, f)
	case field.KindInt32:
		return concat[int32](ctx, inputs, f)
	case field.KindUint32:
		return concat[uint32](ctx, inputs, f)
	case field.KindBool:
		return concat[bool](ctx, inputs, f)
	case field.KindInt64:
		return concat[int64](ctx, inputs, f)
	default:
		return nil, rerr.New(rerr.InvalidPipeline, "concat: field %s has no runtime kind mapping", f)
	}
}

func concat[T any](ctx *rtnode.RunCtx, inputs []rtnode.Node, f field.Field) (any, error) {
	var out []T
	for _, in := range inputs {
		part, err := rtnode.InputField[T](ctx, in, f)
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	return out, nil
}

// trackInputWidth schedules a width re-read for when this node's turn on
// the stream arrives, so data-dependent upstream widths (compact, radar)
// propagate through pass-through nodes.
func trackInputWidth(ctx *rtnode.RunCtx, b *rtnode.Base, in rtnode.Node) {
	ctx.Stream.Enqueue(func() {
		if w, err := inputWidth(in); err == nil {
			b.SetWidth(w)
		}
	})
}

// inputWidth fetches a node's current output width without synchronizing:
// the Validate-time width, or the value its stream job has since set.
func inputWidth(in rtnode.Node) (int, error) {
	w, ok := in.(interface{ ValidatedWidth() int })
	if !ok {
		return 0, rerr.New(rerr.InvalidPipeline, "input node %s does not report a width", in.Name())
	}
	return w.ValidatedWidth(), nil
}
