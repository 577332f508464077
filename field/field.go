// Package field defines the enumerated per-point attribute tags shared by
// every node in a processing graph, and the runtime descriptor table used
// by generic kernels (CompactByField's scatter, Format's byte packer) that
// cannot know a field's Go type at compile time.
package field

import "fmt"

// Field identifies one per-point attribute produced or consumed by a node.
type Field uint8

const (
	XYZ Field = iota
	DISTANCE
	AZIMUTH
	ELEVATION
	INTENSITY
	RAY_IDX
	HIT
	NORMAL
	RING_ID
	TIME_STAMP
	VELOCITY
	fieldCount
)

// Kind describes the Go type a field's array elements carry, for generic
// kernels that dispatch on runtime tag rather than compile-time type.
type Kind uint8

const (
	KindFloat32x3 Kind = iota // V3f-shaped: XYZ, NORMAL
	KindFloat32              // single float32 lane
	KindInt32
	KindUint32
	KindBool
	KindInt64
)

// Descriptor is the runtime (tag, element size, kind) triple a generic
// kernel needs to move bytes without knowing the field's static type.
type Descriptor struct {
	Field       Field
	Name        string
	Kind        Kind
	ElementSize int // bytes per point for this field
}

var descriptors = [fieldCount]Descriptor{
	XYZ:        {XYZ, "XYZ", KindFloat32x3, 12},
	DISTANCE:   {DISTANCE, "DISTANCE", KindFloat32, 4},
	AZIMUTH:    {AZIMUTH, "AZIMUTH", KindFloat32, 4},
	ELEVATION:  {ELEVATION, "ELEVATION", KindFloat32, 4},
	INTENSITY:  {INTENSITY, "INTENSITY", KindFloat32, 4},
	RAY_IDX:    {RAY_IDX, "RAY_IDX", KindUint32, 4},
	HIT:        {HIT, "HIT", KindBool, 1},
	NORMAL:     {NORMAL, "NORMAL", KindFloat32x3, 12},
	RING_ID:    {RING_ID, "RING_ID", KindInt32, 4},
	TIME_STAMP: {TIME_STAMP, "TIME_STAMP", KindInt64, 8},
	VELOCITY:   {VELOCITY, "VELOCITY", KindFloat32, 4},
}

// Describe returns the runtime descriptor for f. It panics for an
// out-of-range tag — every Field constant defined in this package has a
// descriptor, so an out-of-range value means a caller fabricated a Field
// value directly instead of using the constants.
func Describe(f Field) Descriptor {
	if int(f) >= int(fieldCount) {
		panic(fmt.Sprintf("field: no descriptor for tag %d", f))
	}
	return descriptors[f]
}

// ElementSize is a convenience wrapper around Describe(f).ElementSize.
func ElementSize(f Field) int { return Describe(f).ElementSize }

func (f Field) String() string {
	if int(f) >= int(fieldCount) {
		return fmt.Sprintf("Field(%d)", f)
	}
	return descriptors[f].Name
}

// Set is a small bitset of fields, used for a node's required-field list
// and a produced-field capability set. Fewer than 64 fields ever need to
// be representable so a uint64 bitset is sufficient and allocation-free.
type Set uint64

func NewSet(fields ...Field) Set {
	var s Set
	for _, f := range fields {
		s = s.Add(f)
	}
	return s
}

func (s Set) Add(f Field) Set    { return s | (1 << uint(f)) }
func (s Set) Has(f Field) bool   { return s&(1<<uint(f)) != 0 }
func (s Set) Union(o Set) Set    { return s | o }
func (s Set) Intersect(o Set) Set { return s & o }

// Missing returns the fields in `required` that are absent from s.
func (s Set) Missing(required Set) []Field {
	var out []Field
	for f := Field(0); f < fieldCount; f++ {
		if required.Has(f) && !s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Fields returns the set's members in ascending tag order.
func (s Set) Fields() []Field {
	var out []Field
	for f := Field(0); f < fieldCount; f++ {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}
