package postprocess

import (
	"encoding/binary"
	"math"

	"github.com/raysim/engine/field"
	"github.com/raysim/engine/geom"
	"github.com/raysim/engine/rerr"
	"github.com/raysim/engine/rtnode"
)

// FormatEntry is one slot of a Format node's packed layout: either a
// field to pack or a dummy padding region that is reserved but never
// written.
type FormatEntry struct {
	Field     field.Field
	Dummy     bool
	DummySize int // bytes, only when Dummy
}

func (e FormatEntry) size() int {
	if e.Dummy {
		return e.DummySize
	}
	return field.ElementSize(e.Field)
}

// FormatNode packs a subset of fields into one contiguous AoS buffer with
// a caller-specified ordering. Individual fields still pass through for
// downstream nodes; the packed buffer is read via Data.
type FormatNode struct {
	*rtnode.Base
	input   rtnode.Node
	entries []FormatEntry
	buf     []byte
	packErr error
}

// NewFormat packs entries, in order, into a stride of sum(entry sizes)
// bytes per point. All values are little-endian, matching the device's
// native layout.
func NewFormat(id uint64, input rtnode.Node, entries []FormatEntry) *FormatNode {
	required := field.Set(0)
	for _, e := range entries {
		if !e.Dummy {
			required = required.Add(e.Field)
		}
	}
	n := &FormatNode{input: input, entries: entries}
	n.Base = rtnode.NewBase(id, "format", rtnode.AcceptsPoints|rtnode.ProducesPoints,
		[]rtnode.Node{input}, required, input.ProducedFields(), rtnode.Hooks{
			Validate: n.validate,
			Enqueue:  n.enqueue,
			Materialize: func(ctx *rtnode.RunCtx, f field.Field) (any, error) {
				return input.GetFieldData(ctx, f)
			},
		})
	return n
}

// Stride returns bytes per packed point.
func (n *FormatNode) Stride() int {
	stride := 0
	for _, e := range n.entries {
		stride += e.size()
	}
	return stride
}

func (n *FormatNode) validate(ctx *rtnode.RunCtx) (int, error) {
	if len(n.entries) == 0 {
		return 0, rerr.New(rerr.InvalidPipeline, "format node has no entries")
	}
	for _, e := range n.entries {
		if e.Dummy && e.DummySize <= 0 {
			return 0, rerr.New(rerr.InvalidArgument, "format dummy entry must reserve a positive byte count")
		}
	}
	return inputWidth(n.input)
}

func (n *FormatNode) enqueue(ctx *rtnode.RunCtx) {
	trackInputWidth(ctx, n.Base, n.input)
	ctx.Stream.Enqueue(func() {
		n.buf, n.packErr = n.pack(ctx)
	})
}

func (n *FormatNode) pack(ctx *rtnode.RunCtx) ([]byte, error) {
	width, err := inputWidth(n.input)
	if err != nil {
		return nil, err
	}
	stride := n.Stride()
	buf := make([]byte, width*stride)

	offset := 0
	for _, e := range n.entries {
		if e.Dummy {
			offset += e.DummySize
			continue
		}
		src, err := n.input.GetFieldData(ctx, e.Field)
		if err != nil {
			return nil, err
		}
		if err := packColumn(buf, src, offset, stride); err != nil {
			return nil, rerr.Wrap(rerr.InvalidPipeline, err, "packing field %s", e.Field)
		}
		offset += field.ElementSize(e.Field)
	}
	return buf, nil
}

// packColumn strides one field's SoA column into the AoS buffer.
func packColumn(buf []byte, src any, offset, stride int) error {
	switch s := src.(type) {
	case []geom.V3f:
		for i, v := range s {
			at := i*stride + offset
			binary.LittleEndian.PutUint32(buf[at:], math.Float32bits(v.X))
			binary.LittleEndian.PutUint32(buf[at+4:], math.Float32bits(v.Y))
			binary.LittleEndian.PutUint32(buf[at+8:], math.Float32bits(v.Z))
		}
	case []float32:
		for i, v := range s {
			binary.LittleEndian.PutUint32(buf[i*stride+offset:], math.Float32bits(v))
		}
	case []int32:
		for i, v := range s {
			binary.LittleEndian.PutUint32(buf[i*stride+offset:], uint32(v))
		}
	case []uint32:
		for i, v := range s {
			binary.LittleEndian.PutUint32(buf[i*stride+offset:], v)
		}
	case []bool:
		for i, v := range s {
			if v {
				buf[i*stride+offset] = 1
			}
		}
	case []int64:
		for i, v := range s {
			binary.LittleEndian.PutUint64(buf[i*stride+offset:], uint64(v))
		}
	default:
		return rerr.New(rerr.InvalidPipeline, "unsupported column type %T", src)
	}
	return nil
}

// Data synchronizes the run stream and returns the packed buffer.
func (n *FormatNode) Data(ctx *rtnode.RunCtx) ([]byte, error) {
	ctx.Stream.Synchronize()
	if n.packErr != nil {
		return nil, n.packErr
	}
	return n.buf, nil
}
