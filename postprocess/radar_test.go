package postprocess

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysim/engine/field"
	"github.com/raysim/engine/gpumem"
	"github.com/raysim/engine/rtnode"
)

func deg(d float64) float32 { return float32(d * math.Pi / 180) }

func radarCloud(id uint64, dist, az, el []float32) *FromArrayPointsNode {
	return NewFromArrayPoints(id, len(dist), map[field.Field]any{
		field.DISTANCE:  dist,
		field.AZIMUTH:   az,
		field.ELEVATION: el,
	})
}

// spec scenario: (10, 0°), (10.05, 0.1°), (50, 0°), (10.03, 0.05°) with
// separations (0.2, 0.5°) must form two clusters.
func TestRadarClusteringScenario(t *testing.T) {
	src := radarCloud(1,
		[]float32{10, 10.05, 50, 10.03},
		[]float32{deg(0), deg(0.1), deg(0), deg(0.05)},
		[]float32{0, 0, 0, 0},
	)
	radar := NewRadarPostprocess(2, src, RadarParams{
		DistanceSeparation: 0.2,
		AzimuthSeparation:  float64(deg(0.5)),
	})
	ctx := runChain(t, src, radar)

	require.Equal(t, 2, radar.Width(ctx))

	// Dense cluster box: az in [0°, 0.1°], midpoint 0.05°; elevation all
	// zero. Point 3 at az=0.05° minimizes the L1 angular distance.
	dist := mustField[float32](t, ctx, radar, field.DISTANCE)
	assert.InDelta(t, 10.03, dist[0], 1e-4)
	assert.InDelta(t, 50, dist[1], 1e-4)

	stats := radar.ClusterStats()
	require.Len(t, stats, 2)
	assert.Equal(t, 3, stats[0].Size)
	assert.Equal(t, 3, stats[0].CenterIndex)
	assert.InDelta(t, (10+10.05+10.03)/3, stats[0].MeanDistance, 1e-3)
	assert.Equal(t, 1, stats[1].Size)
	assert.Equal(t, 0.0, stats[1].DistanceStdDev)
}

// Re-clustering the reduced output with the same separations must leave
// every center in its own cluster.
func TestRadarClusteringIdempotentOnOwnOutput(t *testing.T) {
	src := radarCloud(1,
		[]float32{10, 10.05, 50, 10.03},
		[]float32{deg(0), deg(0.1), deg(0), deg(0.05)},
		[]float32{0, 0, 0, 0},
	)
	params := RadarParams{DistanceSeparation: 0.2, AzimuthSeparation: float64(deg(0.5))}
	first := NewRadarPostprocess(2, src, params)
	ctx := runChain(t, src, first)

	dist := mustField[float32](t, ctx, first, field.DISTANCE)
	az := mustField[float32](t, ctx, first, field.AZIMUTH)
	el := mustField[float32](t, ctx, first, field.ELEVATION)

	second := NewRadarPostprocess(4, radarCloud(3, dist, az, el), params)
	ctx2 := runChain(t, second.Inputs()[0], second)

	require.Equal(t, len(dist), second.Width(ctx2))
	assert.Equal(t, dist, mustField[float32](t, ctx2, second, field.DISTANCE))
}

func TestRadarSinglePointCloud(t *testing.T) {
	src := radarCloud(1, []float32{5}, []float32{0}, []float32{0})
	radar := NewRadarPostprocess(2, src, RadarParams{DistanceSeparation: 1, AzimuthSeparation: 1})
	ctx := runChain(t, src, radar)

	require.Equal(t, 1, radar.Width(ctx))
	assert.Equal(t, []float32{5}, mustField[float32](t, ctx, radar, field.DISTANCE))
}

func TestRadarRejectsNonPositiveSeparations(t *testing.T) {
	stream := gpumem.NewStream()
	t.Cleanup(stream.Close)
	ctx := rtnode.NewRunCtx("run-test", stream)

	src := radarCloud(1, []float32{5}, []float32{0}, []float32{0})
	require.NoError(t, src.Validate(ctx))
	radar := NewRadarPostprocess(2, src, RadarParams{DistanceSeparation: 0, AzimuthSeparation: 1})
	require.Error(t, radar.Validate(ctx))
}

// The merge phase compares both edges of both bounds and iterates until
// a full pass makes no merge, so a chain of pairwise-similar boxes
// collapses transitively.
func TestMergeClustersIteratesToFixpoint(t *testing.T) {
	a := &cluster{dMin: 10.0, dMax: 10.3, azMin: 0, azMax: 0.1, members: []int{0}}
	b := &cluster{dMin: 10.1, dMax: 10.4, azMin: 0.05, azMax: 0.15, members: []int{1}}
	c := &cluster{dMin: 10.15, dMax: 10.55, azMin: 0.1, azMax: 0.2, members: []int{2}}
	// a~b and b~c are within the separations; a~c only after a absorbs b.
	merged := mergeClusters([]*cluster{a, b, c}, 0.2, 0.1)
	require.Len(t, merged, 1)
	assert.ElementsMatch(t, []int{0, 1, 2}, merged[0].members)
	assert.Equal(t, 10.0, merged[0].dMin)
	assert.Equal(t, 10.55, merged[0].dMax)
}

func TestMergeClustersLeavesDistantBoxesAlone(t *testing.T) {
	a := &cluster{dMin: 10, dMax: 10, azMin: 0, azMax: 0, members: []int{0}}
	b := &cluster{dMin: 50, dMax: 50, azMin: 0, azMax: 0, members: []int{1}}
	merged := mergeClusters([]*cluster{a, b}, 0.2, 0.1)
	assert.Len(t, merged, 2)
}
