package postprocess

import (
	"github.com/raysim/engine/field"
	"github.com/raysim/engine/rerr"
	"github.com/raysim/engine/rtnode"
)

// RangeSetNode re-marks points whose DISTANCE falls outside
// [MinRange, MaxRange] as misses by clearing their HIT flag, reusing the
// ray-trace node's HIT contract so a downstream CompactByField works
// unmodified.
type RangeSetNode struct {
	*rtnode.Base
	input    rtnode.Node
	min, max float32
}

// NewRangeSet clamps input's hit set to the [min, max] distance band.
func NewRangeSet(id uint64, input rtnode.Node, min, max float32) *RangeSetNode {
	n := &RangeSetNode{input: input, min: min, max: max}
	n.Base = rtnode.NewBase(id, "range-set", rtnode.AcceptsPoints|rtnode.ProducesPoints,
		[]rtnode.Node{input}, field.NewSet(field.DISTANCE, field.HIT), input.ProducedFields(), rtnode.Hooks{
			Validate: func(ctx *rtnode.RunCtx) (int, error) {
				if min < 0 || max <= min {
					return 0, rerr.New(rerr.InvalidArgument, "range-set needs 0 <= min < max, got [%v, %v]", min, max)
				}
				return inputWidth(input)
			},
			Enqueue: n.enqueue,
			Materialize: func(ctx *rtnode.RunCtx, f field.Field) (any, error) {
				if f == field.HIT {
					return rtnode.Output[bool](ctx, n.ID(), field.HIT).ReadPtr(), nil
				}
				return input.GetFieldData(ctx, f)
			},
		})
	return n
}

func (n *RangeSetNode) enqueue(ctx *rtnode.RunCtx) {
	trackInputWidth(ctx, n.Base, n.input)
	hitOut := rtnode.Output[bool](ctx, n.ID(), field.HIT)
	ctx.Stream.Enqueue(func() {
		hits, err := rtnode.InputField[bool](ctx, n.input, field.HIT)
		if err != nil {
			return
		}
		dist, err := rtnode.InputField[float32](ctx, n.input, field.DISTANCE)
		if err != nil {
			return
		}
		out := make([]bool, len(hits))
		for i, h := range hits {
			out[i] = h && dist[i] >= n.min && dist[i] <= n.max
		}
		hitOut.SetNow(out)
	})
}
