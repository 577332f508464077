package postprocess

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/raysim/engine/field"
	"github.com/raysim/engine/geom"
	"github.com/raysim/engine/rerr"
	"github.com/raysim/engine/rlog"
	"github.com/raysim/engine/rtnode"
)

// GroundParams configures ground removal. When GroundZ is nil the plane
// height is estimated per run as the 5th percentile of the cloud's world
// Z, which tracks a tilted or re-posed sensor without retuning.
type GroundParams struct {
	GroundZ *float64
	Band    float64 // height above the plane up to which points count as ground
}

// FilterGroundNode drops points whose world Z lies at or below the
// ground plane plus Band, keeping the rest in input order. Like compact,
// it is an index-remapping node: downstream fields are gathered on
// demand.
type FilterGroundNode struct {
	*rtnode.Base
	input  rtnode.Node
	params GroundParams

	indices    []int
	estimatedZ float64
}

// NewFilterGround removes ground-band points from input's cloud.
func NewFilterGround(id uint64, input rtnode.Node, params GroundParams) *FilterGroundNode {
	n := &FilterGroundNode{input: input, params: params}
	n.Base = rtnode.NewBase(id, "filter-ground", rtnode.AcceptsPoints|rtnode.ProducesPoints,
		[]rtnode.Node{input}, field.NewSet(field.XYZ), input.ProducedFields(), rtnode.Hooks{
			Validate: func(ctx *rtnode.RunCtx) (int, error) {
				if params.Band < 0 {
					return 0, rerr.New(rerr.InvalidArgument, "filter-ground band must be non-negative")
				}
				return inputWidth(input)
			},
			Enqueue: n.enqueue,
			Materialize: func(ctx *rtnode.RunCtx, f field.Field) (any, error) {
				return gatherField(ctx, n.input, f, n.indices)
			},
		})
	return n
}

// EstimatedGroundZ reports the plane height used by the most recent run.
// Callers must synchronize the run first.
func (n *FilterGroundNode) EstimatedGroundZ() float64 { return n.estimatedZ }

func (n *FilterGroundNode) enqueue(ctx *rtnode.RunCtx) {
	ctx.Stream.Enqueue(func() {
		n.indices = nil
		xyz, err := rtnode.InputField[geom.V3f](ctx, n.input, field.XYZ)
		if err != nil {
			n.SetWidth(0)
			return
		}

		ground := 0.0
		if n.params.GroundZ != nil {
			ground = *n.params.GroundZ
		} else if len(xyz) > 0 {
			zs := make([]float64, len(xyz))
			for i, p := range xyz {
				zs[i] = float64(p.Z)
			}
			sort.Float64s(zs)
			ground = stat.Quantile(0.05, stat.Empirical, zs, nil)
		}
		n.estimatedZ = ground

		cutoff := ground + n.params.Band
		indices := make([]int, 0, len(xyz))
		for i, p := range xyz {
			if float64(p.Z) > cutoff {
				indices = append(indices, i)
			}
		}
		n.indices = indices
		n.SetWidth(len(indices))
		rlog.Tracef("filter-ground: run %s kept %d/%d points above z=%.3f", ctx.RunID, len(indices), len(xyz), cutoff)
	})
}
