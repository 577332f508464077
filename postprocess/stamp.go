package postprocess

import (
	"github.com/raysim/engine/field"
	"github.com/raysim/engine/rerr"
	"github.com/raysim/engine/rtnode"
)

// RingIDNode stamps RING_ID from a static channel pattern: point i gets
// rings[RAY_IDX[i] % len(rings)], emulating a spinning sensor's laser
// channel layout.
type RingIDNode struct {
	*rtnode.Base
	input rtnode.Node
	rings []int32
}

// NewRingID stamps the repeating ring pattern onto input's points.
func NewRingID(id uint64, input rtnode.Node, rings []int32) *RingIDNode {
	n := &RingIDNode{input: input, rings: append([]int32(nil), rings...)}
	n.Base = rtnode.NewBase(id, "ring-id", rtnode.AcceptsPoints|rtnode.ProducesPoints,
		[]rtnode.Node{input}, field.NewSet(field.RAY_IDX), input.ProducedFields().Add(field.RING_ID), rtnode.Hooks{
			Validate: func(ctx *rtnode.RunCtx) (int, error) {
				if len(n.rings) == 0 {
					return 0, rerr.New(rerr.InvalidArgument, "ring-id needs at least one ring")
				}
				return inputWidth(input)
			},
			Enqueue: n.enqueue,
			Materialize: func(ctx *rtnode.RunCtx, f field.Field) (any, error) {
				if f == field.RING_ID {
					return rtnode.Output[int32](ctx, n.ID(), field.RING_ID).ReadPtr(), nil
				}
				return input.GetFieldData(ctx, f)
			},
		})
	return n
}

func (n *RingIDNode) enqueue(ctx *rtnode.RunCtx) {
	trackInputWidth(ctx, n.Base, n.input)
	out := rtnode.Output[int32](ctx, n.ID(), field.RING_ID)
	ctx.Stream.Enqueue(func() {
		rayIdx, err := rtnode.InputField[uint32](ctx, n.input, field.RAY_IDX)
		if err != nil {
			return
		}
		rings := make([]int32, len(rayIdx))
		for i, r := range rayIdx {
			rings[i] = n.rings[int(r)%len(n.rings)]
		}
		out.SetNow(rings)
	})
}

// TimeOffsetNode stamps TIME_STAMP as base + RAY_IDX * firingPeriod,
// emulating the staggered firing sequence of a real sensor sweep.
type TimeOffsetNode struct {
	*rtnode.Base
	input       rtnode.Node
	baseNanos   int64
	periodNanos int64
}

// NewTimeOffset stamps per-point firing times onto input's points.
func NewTimeOffset(id uint64, input rtnode.Node, baseNanos, periodNanos int64) *TimeOffsetNode {
	n := &TimeOffsetNode{input: input, baseNanos: baseNanos, periodNanos: periodNanos}
	n.Base = rtnode.NewBase(id, "time-offset", rtnode.AcceptsPoints|rtnode.ProducesPoints,
		[]rtnode.Node{input}, field.NewSet(field.RAY_IDX), input.ProducedFields().Add(field.TIME_STAMP), rtnode.Hooks{
			Validate: func(ctx *rtnode.RunCtx) (int, error) {
				if periodNanos < 0 {
					return 0, rerr.New(rerr.InvalidArgument, "time-offset firing period must be non-negative")
				}
				return inputWidth(input)
			},
			Enqueue: n.enqueue,
			Materialize: func(ctx *rtnode.RunCtx, f field.Field) (any, error) {
				if f == field.TIME_STAMP {
					return rtnode.Output[int64](ctx, n.ID(), field.TIME_STAMP).ReadPtr(), nil
				}
				return input.GetFieldData(ctx, f)
			},
		})
	return n
}

func (n *TimeOffsetNode) enqueue(ctx *rtnode.RunCtx) {
	trackInputWidth(ctx, n.Base, n.input)
	out := rtnode.Output[int64](ctx, n.ID(), field.TIME_STAMP)
	ctx.Stream.Enqueue(func() {
		rayIdx, err := rtnode.InputField[uint32](ctx, n.input, field.RAY_IDX)
		if err != nil {
			return
		}
		stamps := make([]int64, len(rayIdx))
		for i, r := range rayIdx {
			stamps[i] = n.baseNanos + int64(r)*n.periodNanos
		}
		out.SetNow(stamps)
	})
}
