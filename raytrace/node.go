package raytrace

import (
	"github.com/raysim/engine/field"
	"github.com/raysim/engine/geom"
	"github.com/raysim/engine/rerr"
	"github.com/raysim/engine/rlog"
	"github.com/raysim/engine/rtnode"
	"github.com/raysim/engine/scene"
)

// Params are the static parameters of a ray-trace node, set before the
// first run and immutable while a run is in flight.
type Params struct {
	// MaxRange is the far clip: any intersection beyond it is a miss.
	MaxRange float32
	// RingIDs optionally assigns ring channels to the scene's entities in
	// stable entity order; hit points inherit the hit entity's ring.
	RingIDs []int32
}

// Node fires the input ray set against the scene's committed acceleration
// structures and produces one value per ray for each hit field. The
// intersection backend is the pluggable Tracer.
type Node struct {
	*rtnode.Base

	input  rtnode.RaysProducer
	scn    *scene.Scene
	tracer Tracer
	params Params

	sbt      *SBT
	traceErr error
}

// ProducedFields lists every field a ray-trace node writes.
var ProducedFields = field.NewSet(
	field.XYZ, field.HIT, field.RAY_IDX, field.DISTANCE,
	field.AZIMUTH, field.ELEVATION, field.INTENSITY, field.NORMAL,
	field.RING_ID,
)

// NewNode constructs a ray-trace node reading rays from input and tracing
// them through scn via tracer.
func NewNode(id uint64, input rtnode.RaysProducer, scn *scene.Scene, tracer Tracer, params Params) *Node {
	n := &Node{input: input, scn: scn, tracer: tracer, params: params}
	caps := rtnode.AcceptsRays | rtnode.ProducesPoints
	n.Base = rtnode.NewBase(id, "raytrace", caps, []rtnode.Node{input}, field.Set(0), ProducedFields, rtnode.Hooks{
		Validate:    n.validate,
		Enqueue:     n.enqueue,
		Materialize: n.materialize,
	})
	return n
}

func (n *Node) validate(ctx *rtnode.RunCtx) (int, error) {
	if n.scn == nil {
		return 0, rerr.New(rerr.InvalidPipeline, "raytrace node has no scene")
	}
	if n.tracer == nil {
		return 0, rerr.New(rerr.InvalidPipeline, "raytrace node has no tracer")
	}
	if n.params.MaxRange <= 0 {
		return 0, rerr.New(rerr.InvalidArgument, "raytrace MaxRange must be positive, got %v", n.params.MaxRange)
	}
	w, ok := n.input.(interface{ ValidatedWidth() int })
	if !ok {
		return 0, rerr.New(rerr.InvalidPipeline, "raytrace input %s does not report a ray count", n.input.Name())
	}
	return w.ValidatedWidth(), nil
}

func (n *Node) enqueue(ctx *rtnode.RunCtx) {
	// Patch the SBT on the host before the launch lands on the stream; the
	// scene was committed by the scheduler, so the visible entity set is
	// stable for this run.
	n.sbt = BuildSBT(n.scn, n.params.RingIDs)
	n.traceErr = nil

	xyz := rtnode.Output[geom.V3f](ctx, n.ID(), field.XYZ)
	isHit := rtnode.Output[bool](ctx, n.ID(), field.HIT)
	rayIdx := rtnode.Output[uint32](ctx, n.ID(), field.RAY_IDX)
	distance := rtnode.Output[float32](ctx, n.ID(), field.DISTANCE)
	azimuth := rtnode.Output[float32](ctx, n.ID(), field.AZIMUTH)
	elevation := rtnode.Output[float32](ctx, n.ID(), field.ELEVATION)
	intensity := rtnode.Output[float32](ctx, n.ID(), field.INTENSITY)
	normal := rtnode.Output[geom.V3f](ctx, n.ID(), field.NORMAL)
	ringID := rtnode.Output[int32](ctx, n.ID(), field.RING_ID)

	ctx.Stream.Enqueue(func() {
		rays, err := n.input.Rays(ctx)
		if err != nil {
			n.traceErr = err
			return
		}
		hits, err := n.tracer.Trace(rays, n.params.MaxRange, n.scn)
		if err != nil {
			n.traceErr = rerr.Wrap(rerr.DeviceError, err, "trace launch of %d rays failed", len(rays))
			rlog.Opsf("raytrace: run %s: %v", ctx.RunID, n.traceErr)
			return
		}

		count := len(rays)
		xyzOut := make([]geom.V3f, count)
		hitOut := make([]bool, count)
		idxOut := make([]uint32, count)
		distOut := make([]float32, count)
		azOut := make([]float32, count)
		elOut := make([]float32, count)
		intOut := make([]float32, count)
		normOut := make([]geom.V3f, count)
		ringOut := make([]int32, count)

		for i, h := range hits {
			idxOut[i] = uint32(i)
			_, az, el := geom.CartesianToSpherical(rays[i].Direction())
			azOut[i] = float32(az)
			elOut[i] = float32(el)
			ringOut[i] = -1
			if !h.IsHit {
				continue
			}
			rec := n.sbt.Lookup(h.EntityID)
			hitOut[i] = true
			xyzOut[i] = h.Position
			distOut[i] = h.Distance
			intOut[i] = h.Intensity
			normOut[i] = h.Normal
			ringOut[i] = rec.RingID
		}

		xyz.SetNow(xyzOut)
		isHit.SetNow(hitOut)
		rayIdx.SetNow(idxOut)
		distance.SetNow(distOut)
		azimuth.SetNow(azOut)
		elevation.SetNow(elOut)
		intensity.SetNow(intOut)
		normal.SetNow(normOut)
		ringID.SetNow(ringOut)

		rlog.Tracef("raytrace: run %s traced %d rays against %d instances", ctx.RunID, count, n.sbt.Len())
	})
}

func (n *Node) materialize(ctx *rtnode.RunCtx, f field.Field) (any, error) {
	if n.traceErr != nil {
		return nil, n.traceErr
	}
	if !ProducedFields.Has(f) {
		return nil, rerr.New(rerr.InvalidPipeline, "raytrace does not produce field %s", f)
	}
	switch f {
	case field.XYZ:
		return rtnode.Output[geom.V3f](ctx, n.ID(), f).ReadPtr(), nil
	case field.NORMAL:
		return rtnode.Output[geom.V3f](ctx, n.ID(), f).ReadPtr(), nil
	case field.HIT:
		return rtnode.Output[bool](ctx, n.ID(), f).ReadPtr(), nil
	case field.RAY_IDX:
		return rtnode.Output[uint32](ctx, n.ID(), f).ReadPtr(), nil
	case field.RING_ID:
		return rtnode.Output[int32](ctx, n.ID(), f).ReadPtr(), nil
	default:
		return rtnode.Output[float32](ctx, n.ID(), f).ReadPtr(), nil
	}
}
