package postprocess

import (
	"github.com/raysim/engine/field"
	"github.com/raysim/engine/geom"
	"github.com/raysim/engine/gpumem"
	"github.com/raysim/engine/rerr"
	"github.com/raysim/engine/rtnode"
)

// TransformPointsNode applies one static affine transform to every
// point's XYZ and, when the input carries it, rotates NORMAL by the
// rotation block. All other fields pass through unchanged.
type TransformPointsNode struct {
	*rtnode.Base
	input     rtnode.Node
	transform geom.M3x4f
}

// NewTransformPoints applies t to input's point cloud.
func NewTransformPoints(id uint64, input rtnode.Node, t geom.M3x4f) *TransformPointsNode {
	n := &TransformPointsNode{input: input, transform: t}
	n.Base = rtnode.NewBase(id, "transform-points", rtnode.AcceptsPoints|rtnode.ProducesPoints,
		[]rtnode.Node{input}, field.NewSet(field.XYZ), input.ProducedFields(), rtnode.Hooks{
			Validate: func(ctx *rtnode.RunCtx) (int, error) { return inputWidth(input) },
			Enqueue:  n.enqueue,
			Materialize: func(ctx *rtnode.RunCtx, f field.Field) (any, error) {
				switch f {
				case field.XYZ:
					return rtnode.Output[geom.V3f](ctx, n.ID(), field.XYZ).ReadPtr(), nil
				case field.NORMAL:
					if input.ProducedFields().Has(field.NORMAL) {
						return rtnode.Output[geom.V3f](ctx, n.ID(), field.NORMAL).ReadPtr(), nil
					}
				}
				return input.GetFieldData(ctx, f)
			},
		})
	return n
}

// SetTransform replaces the static transform before the next run.
func (n *TransformPointsNode) SetTransform(t geom.M3x4f) { n.transform = t }

func (n *TransformPointsNode) enqueue(ctx *rtnode.RunCtx) {
	trackInputWidth(ctx, n.Base, n.input)
	xyzOut := rtnode.Output[geom.V3f](ctx, n.ID(), field.XYZ)
	hasNormal := n.input.ProducedFields().Has(field.NORMAL)
	var normOut *gpumem.Array[geom.V3f]
	if hasNormal {
		normOut = rtnode.Output[geom.V3f](ctx, n.ID(), field.NORMAL)
	}
	ctx.Stream.Enqueue(func() {
		xyz, err := rtnode.InputField[geom.V3f](ctx, n.input, field.XYZ)
		if err != nil {
			return
		}
		moved := make([]geom.V3f, len(xyz))
		for i, p := range xyz {
			moved[i] = n.transform.Apply(p)
		}
		xyzOut.SetNow(moved)

		if hasNormal {
			normals, err := rtnode.InputField[geom.V3f](ctx, n.input, field.NORMAL)
			if err != nil {
				return
			}
			rotated := make([]geom.V3f, len(normals))
			for i, v := range normals {
				rotated[i] = n.transform.ApplyVector(v)
			}
			normOut.SetNow(rotated)
		}
	})
}

// TransformRaysNode composes one static transform onto every ray of a
// rays-producing input, placing a sensor's local ray pattern into the
// world frame.
type TransformRaysNode struct {
	*rtnode.Base
	input     rtnode.RaysProducer
	transform geom.M3x4f
	out       []geom.M3x4f
}

// NewTransformRays composes t onto input's rays (t applied last).
func NewTransformRays(id uint64, input rtnode.RaysProducer, t geom.M3x4f) *TransformRaysNode {
	n := &TransformRaysNode{input: input, transform: t}
	n.Base = rtnode.NewBase(id, "transform-rays", rtnode.AcceptsRays|rtnode.ProducesRays,
		[]rtnode.Node{input}, field.Set(0), field.Set(0), rtnode.Hooks{
			Validate: func(ctx *rtnode.RunCtx) (int, error) { return inputWidth(input) },
			Enqueue:  n.enqueue,
			Materialize: func(ctx *rtnode.RunCtx, f field.Field) (any, error) {
				return nil, rerr.New(rerr.InvalidPipeline, "transform-rays produces no point fields")
			},
		})
	return n
}

func (n *TransformRaysNode) enqueue(ctx *rtnode.RunCtx) {
	ctx.Stream.Enqueue(func() {
		rays, err := n.input.Rays(ctx)
		if err != nil {
			return
		}
		out := make([]geom.M3x4f, len(rays))
		for i, r := range rays {
			out[i] = geom.Compose(n.transform, r)
		}
		n.out = out
	})
}

// Rays implements rtnode.RaysProducer. Safe to call from a stream job
// enqueued after this node's own job, which is how the ray-trace node
// consumes it.
func (n *TransformRaysNode) Rays(ctx *rtnode.RunCtx) ([]geom.M3x4f, error) {
	return n.out, nil
}
