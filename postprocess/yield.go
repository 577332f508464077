package postprocess

import (
	"github.com/raysim/engine/field"
	"github.com/raysim/engine/rtnode"
)

// YieldNode is the terminal node a client reads results from. It selects
// a subset of its input's fields; GetFieldData on it blocks until the run
// stream has drained past the producing chain.
type YieldNode struct {
	*rtnode.Base
	input rtnode.Node
}

// NewYield selects fields from input as the graph's client-facing output.
func NewYield(id uint64, input rtnode.Node, fields ...field.Field) *YieldNode {
	selected := field.NewSet(fields...)
	n := &YieldNode{input: input}
	n.Base = rtnode.NewBase(id, "yield", rtnode.AcceptsPoints|rtnode.ProducesPoints, []rtnode.Node{input}, selected, selected, rtnode.Hooks{
		Validate: func(ctx *rtnode.RunCtx) (int, error) {
			return inputWidth(input)
		},
		Enqueue: func(ctx *rtnode.RunCtx) { trackInputWidth(ctx, n.Base, input) },
		Materialize: func(ctx *rtnode.RunCtx, f field.Field) (any, error) {
			return input.GetFieldData(ctx, f)
		},
	})
	return n
}
