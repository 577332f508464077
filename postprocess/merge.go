package postprocess

import (
	"github.com/raysim/engine/field"
	"github.com/raysim/engine/rerr"
	"github.com/raysim/engine/rtnode"
)

// MergeNode concatenates the point clouds of N inputs, in input order.
// RAY_IDX is re-derived as a running offset over the merged cloud; every
// other produced field is the intersection of what all inputs carry, so
// a consumer never reads a field one branch lacks.
type MergeNode struct {
	*rtnode.Base
	ins []rtnode.Node
}

// NewMerge concatenates inputs into one point cloud.
func NewMerge(id uint64, inputs ...rtnode.Node) *MergeNode {
	produced := field.Set(0)
	for i, in := range inputs {
		if i == 0 {
			produced = in.ProducedFields()
		} else {
			produced = produced.Intersect(in.ProducedFields())
		}
	}
	produced = produced.Add(field.RAY_IDX)

	n := &MergeNode{ins: inputs}
	n.Base = rtnode.NewBase(id, "merge", rtnode.AcceptsPoints|rtnode.ProducesPoints,
		inputs, field.Set(0), produced, rtnode.Hooks{
			Validate: n.validate,
			Enqueue:  n.enqueue,
			Materialize: func(ctx *rtnode.RunCtx, f field.Field) (any, error) {
				if f == field.RAY_IDX {
					return n.runningIndex(ctx)
				}
				return concatField(ctx, n.ins, f)
			},
		})
	return n
}

func (n *MergeNode) validate(ctx *rtnode.RunCtx) (int, error) {
	if len(n.ins) == 0 {
		return 0, rerr.New(rerr.InvalidPipeline, "merge node has no inputs")
	}
	total := 0
	for _, in := range n.ins {
		if !in.Capabilities().Has(rtnode.ProducesPoints) {
			return 0, rerr.New(rerr.InvalidPipeline, "merge input %s does not produce points", in.Name())
		}
		w, err := inputWidth(in)
		if err != nil {
			return 0, err
		}
		total += w
	}
	return total, nil
}

func (n *MergeNode) enqueue(ctx *rtnode.RunCtx) {
	ctx.Stream.Enqueue(func() {
		total := 0
		for _, in := range n.ins {
			w, err := inputWidth(in)
			if err != nil {
				return
			}
			total += w
		}
		n.SetWidth(total)
	})
}

func (n *MergeNode) runningIndex(ctx *rtnode.RunCtx) (any, error) {
	total := 0
	for _, in := range n.ins {
		w, err := inputWidth(in)
		if err != nil {
			return nil, err
		}
		total += w
	}
	out := make([]uint32, total)
	for i := range out {
		out[i] = uint32(i)
	}
	return out, nil
}
