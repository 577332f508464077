// Package raytrace implements the ray-trace node: it launches the
// scene's committed acceleration structure against a ray set and writes
// per-field hit data.
//
// The actual intersection kernel is a pluggable Tracer rather than a
// hard-wired implementation, so an accelerated device pipeline can be
// bound without touching node logic. CPUTracer is a reference
// implementation good enough to exercise the node's lifecycle on small
// scenes; it is not offered as an automatic fallback for a missing GPU,
// only as an explicit Tracer a caller selects.
package raytrace

import (
	"math"

	"github.com/raysim/engine/geom"
	"github.com/raysim/engine/scene"
)

// Hit is one ray's intersection outcome. EntityID names the instance the
// closest hit landed on, so the node can look up that entity's
// shader-binding-table record (intensity texture, ring id).
type Hit struct {
	IsHit     bool
	Position  geom.V3f
	Normal    geom.V3f
	Distance  float32
	Intensity float32
	EntityID  scene.EntityID
}

// Tracer is the pluggable backend a RayTraceNode launches through.
type Tracer interface {
	// Trace fires each ray in rays (already in world space) against scn's
	// currently committed geometry, out to maxRange, and returns one Hit
	// per ray in input order.
	Trace(rays []geom.M3x4f, maxRange float32, scn *scene.Scene) ([]Hit, error)
}

// CPUTracer is a brute-force Möller–Trumbore triangle tracer: for every
// ray, every triangle of every visible entity is tested and the closest
// hit within range is kept. O(rays * triangles); fine for small fixed
// scenes, not a production substitute for an accelerated device tracer.
type CPUTracer struct {
	Epsilon float32 // self-intersection offset along the ray direction; 0 uses a small default
}

const defaultEpsilon = 1e-4

// Trace implements Tracer.
func (t *CPUTracer) Trace(rays []geom.M3x4f, maxRange float32, scn *scene.Scene) ([]Hit, error) {
	eps := t.Epsilon
	if eps == 0 {
		eps = defaultEpsilon
	}

	entities := scn.VisibleEntities()
	out := make([]Hit, len(rays))

	for i, rayXform := range rays {
		origin := rayXform.Origin()
		dir := rayXform.Direction()
		origin = origin.Add(dir.Scale(eps))

		best := Hit{IsHit: false}
		bestDist := float32(math.MaxFloat32)

		for _, e := range entities {
			m, ok := scn.Mesh(e.MeshID)
			if !ok {
				continue
			}
			for _, tri := range m.Indices {
				v0 := e.Transform.Apply(m.Vertices[tri.X])
				v1 := e.Transform.Apply(m.Vertices[tri.Y])
				v2 := e.Transform.Apply(m.Vertices[tri.Z])

				dist, pos, normal, hit := intersectTriangle(origin, dir, v0, v1, v2, maxRange)
				if hit && dist < bestDist {
					bestDist = dist
					best = Hit{
						IsHit:     true,
						Position:  pos,
						Normal:    normal,
						Distance:  dist,
						Intensity: 1.0,
						EntityID:  e.ID,
					}
				}
			}
		}
		out[i] = best
	}
	return out, nil
}

// intersectTriangle implements the Möller–Trumbore ray-triangle
// intersection test in world space.
func intersectTriangle(origin, dir, v0, v1, v2 geom.V3f, maxRange float32) (float32, geom.V3f, geom.V3f, bool) {
	const epsilon = 1e-8

	edge1 := v1.Sub(v0)
	edge2 := v2.Sub(v0)
	h := dir.Cross(edge2)
	a := edge1.Dot(h)
	if a > -epsilon && a < epsilon {
		return 0, geom.V3f{}, geom.V3f{}, false
	}
	f := 1.0 / a
	s := origin.Sub(v0)
	u := f * s.Dot(h)
	if u < 0 || u > 1 {
		return 0, geom.V3f{}, geom.V3f{}, false
	}
	q := s.Cross(edge1)
	v := f * dir.Dot(q)
	if v < 0 || u+v > 1 {
		return 0, geom.V3f{}, geom.V3f{}, false
	}
	dist := f * edge2.Dot(q)
	if dist <= epsilon || dist > maxRange {
		return 0, geom.V3f{}, geom.V3f{}, false
	}
	pos := origin.Add(dir.Scale(dist))
	normal := edge1.Cross(edge2).Normalize()
	return dist, pos, normal, true
}
