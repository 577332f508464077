package postprocess

import (
	"github.com/raysim/engine/field"
	"github.com/raysim/engine/geom"
	"github.com/raysim/engine/rerr"
	"github.com/raysim/engine/rtnode"
)

// FromMat3x4fRaysNode is the zero-input rays producer: a host-supplied
// array of 3x4 ray transforms. Each transform's translation column is the
// ray origin and its local +Z axis is the fire direction (see geom.M3x4f).
type FromMat3x4fRaysNode struct {
	*rtnode.Base
	rays []geom.M3x4f
}

// NewFromMat3x4fRays wraps a ray transform array as a graph source node.
func NewFromMat3x4fRays(id uint64, rays []geom.M3x4f) *FromMat3x4fRaysNode {
	n := &FromMat3x4fRaysNode{rays: append([]geom.M3x4f(nil), rays...)}
	n.Base = rtnode.NewBase(id, "from-mat3x4f-rays", rtnode.ProducesRays, nil, field.Set(0), field.Set(0), rtnode.Hooks{
		Validate: func(ctx *rtnode.RunCtx) (int, error) {
			if len(n.rays) == 0 {
				return 0, rerr.New(rerr.InvalidPipeline, "from-mat3x4f-rays holds no rays")
			}
			return len(n.rays), nil
		},
		Enqueue: func(ctx *rtnode.RunCtx) {},
		Materialize: func(ctx *rtnode.RunCtx, f field.Field) (any, error) {
			return nil, rerr.New(rerr.InvalidPipeline, "rays source produces no point fields")
		},
	})
	return n
}

// SetRays replaces the stored ray set before the next run. The graph's
// structure-mutation rule makes this safe: callers only mutate between
// runs.
func (n *FromMat3x4fRaysNode) SetRays(rays []geom.M3x4f) {
	n.rays = append([]geom.M3x4f(nil), rays...)
}

// Rays implements rtnode.RaysProducer.
func (n *FromMat3x4fRaysNode) Rays(ctx *rtnode.RunCtx) ([]geom.M3x4f, error) {
	return n.rays, nil
}

// FromArrayPointsNode wraps host-supplied SoA point data as a zero-input
// points producer, for feeding post-process chains without a ray-trace
// stage (radar clustering unit inputs, replayed captures).
type FromArrayPointsNode struct {
	*rtnode.Base
	width int
	data  map[field.Field]any
}

// NewFromArrayPoints wraps width points of SoA data. Every slice in data
// must hold exactly width elements of its field's element type.
func NewFromArrayPoints(id uint64, width int, data map[field.Field]any) *FromArrayPointsNode {
	produced := field.Set(0)
	for f := range data {
		produced = produced.Add(f)
	}
	n := &FromArrayPointsNode{width: width, data: data}
	n.Base = rtnode.NewBase(id, "from-array-points", rtnode.ProducesPoints, nil, field.Set(0), produced, rtnode.Hooks{
		Validate:    n.validate,
		Enqueue:     func(ctx *rtnode.RunCtx) {},
		Materialize: n.materialize,
	})
	return n
}

func (n *FromArrayPointsNode) validate(ctx *rtnode.RunCtx) (int, error) {
	if n.width <= 0 {
		return 0, rerr.New(rerr.InvalidArgument, "from-array-points width must be positive, got %d", n.width)
	}
	for f, v := range n.data {
		if got := sliceLen(v); got != n.width {
			return 0, rerr.New(rerr.InvalidArgument, "from-array-points field %s holds %d elements, want %d", f, got, n.width)
		}
	}
	return n.width, nil
}

func (n *FromArrayPointsNode) materialize(ctx *rtnode.RunCtx, f field.Field) (any, error) {
	v, ok := n.data[f]
	if !ok {
		return nil, rerr.New(rerr.InvalidPipeline, "from-array-points does not hold field %s", f)
	}
	return v, nil
}

func sliceLen(v any) int {
	switch s := v.(type) {
	case []geom.V3f:
		return len(s)
	case []float32:
		return len(s)
	case []int32:
		return len(s)
	case []uint32:
		return len(s)
	case []bool:
		return len(s)
	case []int64:
		return len(s)
	default:
		return -1
	}
}
