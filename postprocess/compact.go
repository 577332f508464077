package postprocess

import (
	"github.com/raysim/engine/field"
	"github.com/raysim/engine/rerr"
	"github.com/raysim/engine/rtnode"
)

// CompactByFieldNode filters points by a boolean-valued field (typically
// HIT), preserving input order. Its stream job performs the scan that
// computes destination indices; every downstream field is then gathered
// lazily through gatherField on first read.
type CompactByFieldNode struct {
	*rtnode.Base
	input   rtnode.Node
	by      field.Field
	indices []int
}

// NewCompactByField keeps the points whose `by` field is true.
func NewCompactByField(id uint64, input rtnode.Node, by field.Field) *CompactByFieldNode {
	n := &CompactByFieldNode{input: input, by: by}
	n.Base = rtnode.NewBase(id, "compact-by-field", rtnode.AcceptsPoints|rtnode.ProducesPoints,
		[]rtnode.Node{input}, field.NewSet(by), input.ProducedFields(), rtnode.Hooks{
			Validate: n.validate,
			Enqueue:  n.enqueue,
			Materialize: func(ctx *rtnode.RunCtx, f field.Field) (any, error) {
				return gatherField(ctx, n.input, f, n.indices)
			},
		})
	return n
}

func (n *CompactByFieldNode) validate(ctx *rtnode.RunCtx) (int, error) {
	if field.Describe(n.by).Kind != field.KindBool {
		return 0, rerr.New(rerr.InvalidPipeline, "compact-by-field needs a bool field, %s is %v-kinded", n.by, field.Describe(n.by).Kind)
	}
	// Provisional: the true width is only known once the mask has been
	// scanned on the stream.
	return inputWidth(n.input)
}

func (n *CompactByFieldNode) enqueue(ctx *rtnode.RunCtx) {
	ctx.Stream.Enqueue(func() {
		mask, err := rtnode.InputField[bool](ctx, n.input, n.by)
		if err != nil {
			n.indices = nil
			n.SetWidth(0)
			return
		}
		indices := make([]int, 0, len(mask))
		for i, keep := range mask {
			if keep {
				indices = append(indices, i)
			}
		}
		n.indices = indices
		n.SetWidth(len(indices))
	})
}
