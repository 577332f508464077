package postprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysim/engine/field"
	"github.com/raysim/engine/geom"
	"github.com/raysim/engine/gpumem"
	"github.com/raysim/engine/rerr"
	"github.com/raysim/engine/rtnode"
)

func TestFromMat3x4fRaysRejectsEmptyRaySet(t *testing.T) {
	stream := gpumem.NewStream()
	t.Cleanup(stream.Close)
	ctx := rtnode.NewRunCtx("run-test", stream)

	n := NewFromMat3x4fRays(1, nil)
	err := n.Validate(ctx)
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.InvalidPipeline))
}

func TestFromMat3x4fRaysRoundTrip(t *testing.T) {
	rays := []geom.M3x4f{geom.Identity(), geom.Translation(geom.V3f{X: 1})}
	n := NewFromMat3x4fRays(1, rays)
	ctx := runChain(t, n)

	got, err := n.Rays(ctx)
	require.NoError(t, err)
	assert.Equal(t, rays, got)
	assert.Equal(t, 2, n.Width(ctx))
}

func TestFromArrayPointsValidatesWidths(t *testing.T) {
	stream := gpumem.NewStream()
	t.Cleanup(stream.Close)
	ctx := rtnode.NewRunCtx("run-test", stream)

	n := NewFromArrayPoints(1, 3, map[field.Field]any{
		field.DISTANCE: []float32{1, 2}, // wrong length
	})
	err := n.Validate(ctx)
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.InvalidArgument))
}

func TestFromArrayPointsServesFields(t *testing.T) {
	n := NewFromArrayPoints(1, 2, map[field.Field]any{
		field.DISTANCE: []float32{1.5, 2.5},
		field.HIT:      []bool{true, false},
	})
	ctx := runChain(t, n)

	assert.Equal(t, []float32{1.5, 2.5}, mustField[float32](t, ctx, n, field.DISTANCE))
	assert.Equal(t, []bool{true, false}, mustField[bool](t, ctx, n, field.HIT))

	_, err := n.GetFieldData(ctx, field.XYZ)
	require.Error(t, err)
}
