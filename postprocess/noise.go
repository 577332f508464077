package postprocess

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/raysim/engine/field"
	"github.com/raysim/engine/gpumem"
	"github.com/raysim/engine/rerr"
	"github.com/raysim/engine/rtnode"
)

// NoiseParams configures zero-mean Gaussian noise on the polar fields. A
// zero standard deviation leaves that field untouched. The seed is a node
// parameter, not process-global, so two runs with the same seed replay
// identically.
type NoiseParams struct {
	Seed           uint64
	DistanceStdDev float64
	AngleStdDev    float64 // applied to both AZIMUTH and ELEVATION
}

// GaussianNoiseNode perturbs DISTANCE and/or AZIMUTH/ELEVATION with
// seeded Gaussian noise. Every other field passes through unchanged.
type GaussianNoiseNode struct {
	*rtnode.Base
	input  rtnode.Node
	params NoiseParams
}

// NewGaussianNoise perturbs input's polar fields per params.
func NewGaussianNoise(id uint64, input rtnode.Node, params NoiseParams) *GaussianNoiseNode {
	required := field.Set(0)
	if params.DistanceStdDev > 0 {
		required = required.Add(field.DISTANCE)
	}
	if params.AngleStdDev > 0 {
		required = required.Add(field.AZIMUTH).Add(field.ELEVATION)
	}
	n := &GaussianNoiseNode{input: input, params: params}
	n.Base = rtnode.NewBase(id, "gaussian-noise", rtnode.AcceptsPoints|rtnode.ProducesPoints,
		[]rtnode.Node{input}, required, input.ProducedFields(), rtnode.Hooks{
			Validate: n.validate,
			Enqueue:  n.enqueue,
			Materialize: func(ctx *rtnode.RunCtx, f field.Field) (any, error) {
				if n.noises(f) {
					return rtnode.Output[float32](ctx, n.ID(), f).ReadPtr(), nil
				}
				return input.GetFieldData(ctx, f)
			},
		})
	return n
}

func (n *GaussianNoiseNode) noises(f field.Field) bool {
	switch f {
	case field.DISTANCE:
		return n.params.DistanceStdDev > 0
	case field.AZIMUTH, field.ELEVATION:
		return n.params.AngleStdDev > 0
	}
	return false
}

func (n *GaussianNoiseNode) validate(ctx *rtnode.RunCtx) (int, error) {
	if n.params.DistanceStdDev < 0 || n.params.AngleStdDev < 0 {
		return 0, rerr.New(rerr.InvalidArgument, "noise standard deviations must be non-negative")
	}
	return inputWidth(n.input)
}

func (n *GaussianNoiseNode) enqueue(ctx *rtnode.RunCtx) {
	trackInputWidth(ctx, n.Base, n.input)

	outs := make(map[field.Field]*gpumem.Array[float32])
	for _, f := range []field.Field{field.DISTANCE, field.AZIMUTH, field.ELEVATION} {
		if n.noises(f) {
			outs[f] = rtnode.Output[float32](ctx, n.ID(), f)
		}
	}
	if len(outs) == 0 {
		return
	}

	ctx.Stream.Enqueue(func() {
		src := rand.NewPCG(n.params.Seed, n.params.Seed)
		distNoise := distuv.Normal{Mu: 0, Sigma: n.params.DistanceStdDev, Src: src}
		angleNoise := distuv.Normal{Mu: 0, Sigma: n.params.AngleStdDev, Src: src}

		// Deterministic sampling order: fields in tag order, points in
		// input order, one draw per perturbed value.
		for _, f := range []field.Field{field.DISTANCE, field.AZIMUTH, field.ELEVATION} {
			arr, ok := outs[f]
			if !ok {
				continue
			}
			in, err := rtnode.InputField[float32](ctx, n.input, f)
			if err != nil {
				return
			}
			dist := angleNoise
			if f == field.DISTANCE {
				dist = distNoise
			}
			out := make([]float32, len(in))
			for i, v := range in {
				out[i] = v + float32(dist.Rand())
			}
			arr.SetNow(out)
		}
	})
}
