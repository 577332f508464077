package postprocess

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/raysim/engine/field"
	"github.com/raysim/engine/rerr"
	"github.com/raysim/engine/rlog"
	"github.com/raysim/engine/rtnode"
)

// RadarParams controls box clustering. Both separations are the slack
// added around a cluster's bounding box when testing membership and
// merge candidates; azimuth values are radians.
type RadarParams struct {
	DistanceSeparation float64
	AzimuthSeparation  float64
}

// ClusterStat summarizes one cluster for diagnostics: its size and the
// spread of its member distances.
type ClusterStat struct {
	Size           int
	CenterIndex    int
	MeanDistance   float64
	DistanceStdDev float64
}

// RadarPostprocessNode groups points into clusters by distance/azimuth
// bounding-box proximity and reduces each cluster to its directional
// center. Clustering runs on host copies of DISTANCE,
// AZIMUTH, and ELEVATION; output fields are gathered from the input at
// the center indices, in cluster-creation order.
//
// This node deliberately keeps no intermediate cluster cache across
// validate/enqueue: only the final per-run output arrays are memoized,
// like every other node.
type RadarPostprocessNode struct {
	*rtnode.Base
	input  rtnode.Node
	params RadarParams

	indices []int
	stats   []ClusterStat
}

var radarRequired = field.NewSet(field.DISTANCE, field.AZIMUTH, field.ELEVATION)

// NewRadarPostprocess reduces input's point cloud to cluster centers.
func NewRadarPostprocess(id uint64, input rtnode.Node, params RadarParams) *RadarPostprocessNode {
	n := &RadarPostprocessNode{input: input, params: params}
	n.Base = rtnode.NewBase(id, "radar-postprocess", rtnode.AcceptsPoints|rtnode.ProducesPoints,
		[]rtnode.Node{input}, radarRequired, input.ProducedFields(), rtnode.Hooks{
			Validate: n.validate,
			Enqueue:  n.enqueue,
			Materialize: func(ctx *rtnode.RunCtx, f field.Field) (any, error) {
				return gatherField(ctx, n.input, f, n.indices)
			},
		})
	return n
}

func (n *RadarPostprocessNode) validate(ctx *rtnode.RunCtx) (int, error) {
	if n.params.DistanceSeparation <= 0 || n.params.AzimuthSeparation <= 0 {
		return 0, rerr.New(rerr.InvalidArgument, "radar separations must be positive, got (%v, %v)",
			n.params.DistanceSeparation, n.params.AzimuthSeparation)
	}
	return inputWidth(n.input)
}

func (n *RadarPostprocessNode) enqueue(ctx *rtnode.RunCtx) {
	ctx.Stream.Enqueue(func() {
		n.indices = nil
		n.stats = nil
		dist, err := rtnode.InputField[float32](ctx, n.input, field.DISTANCE)
		if err != nil {
			n.SetWidth(0)
			return
		}
		az, err := rtnode.InputField[float32](ctx, n.input, field.AZIMUTH)
		if err != nil {
			n.SetWidth(0)
			return
		}
		el, err := rtnode.InputField[float32](ctx, n.input, field.ELEVATION)
		if err != nil {
			n.SetWidth(0)
			return
		}

		clusters := clusterPoints(dist, az, el, n.params)
		for _, c := range clusters {
			center := c.directionalCenter(az, el)
			n.indices = append(n.indices, center)

			ds := make([]float64, len(c.members))
			for i, m := range c.members {
				ds[i] = float64(dist[m])
			}
			mean, std := stat.MeanStdDev(ds, nil)
			if len(ds) < 2 {
				std = 0
			}
			n.stats = append(n.stats, ClusterStat{
				Size:           len(c.members),
				CenterIndex:    center,
				MeanDistance:   mean,
				DistanceStdDev: std,
			})
		}
		n.SetWidth(len(n.indices))
		rlog.Diagf("radar: run %s reduced %d points to %d clusters", ctx.RunID, len(dist), len(clusters))
	})
}

// ClusterStats returns per-cluster diagnostics for the most recent run.
// Callers must synchronize the run first (Width or GetFieldData do).
func (n *RadarPostprocessNode) ClusterStats() []ClusterStat {
	return n.stats
}

// cluster is a distance/azimuth bounding box plus the member point
// indices, tracked in input order. Elevation bounds are carried for the
// directional-center reduction only; they never gate membership.
type cluster struct {
	dMin, dMax   float64
	azMin, azMax float64
	elMin, elMax float64
	members      []int
}

func newCluster(i int, d, a, e float64) *cluster {
	return &cluster{dMin: d, dMax: d, azMin: a, azMax: a, elMin: e, elMax: e, members: []int{i}}
}

func (c *cluster) contains(d, a, dSep, aSep float64) bool {
	return d >= c.dMin-dSep && d <= c.dMax+dSep && a >= c.azMin-aSep && a <= c.azMax+aSep
}

func (c *cluster) absorb(i int, d, a, e float64) {
	c.dMin = math.Min(c.dMin, d)
	c.dMax = math.Max(c.dMax, d)
	c.azMin = math.Min(c.azMin, a)
	c.azMax = math.Max(c.azMax, a)
	c.elMin = math.Min(c.elMin, e)
	c.elMax = math.Max(c.elMax, e)
	c.members = append(c.members, i)
}

// mergeable tests whether two clusters' bounds agree within the
// separations on both distance edges and both azimuth edges.
func (c *cluster) mergeable(o *cluster, dSep, aSep float64) bool {
	return math.Abs(c.dMin-o.dMin) <= dSep && math.Abs(c.dMax-o.dMax) <= dSep &&
		math.Abs(c.azMin-o.azMin) <= aSep && math.Abs(c.azMax-o.azMax) <= aSep
}

func (c *cluster) union(o *cluster) {
	c.dMin = math.Min(c.dMin, o.dMin)
	c.dMax = math.Max(c.dMax, o.dMax)
	c.azMin = math.Min(c.azMin, o.azMin)
	c.azMax = math.Max(c.azMax, o.azMax)
	c.elMin = math.Min(c.elMin, o.elMin)
	c.elMax = math.Max(c.elMax, o.elMax)
	c.members = append(c.members, o.members...)
}

// directionalCenter picks the member minimizing the L1 angular distance
// to the midpoint of the cluster's azimuth/elevation bounding box, ties
// broken by smallest index.
func (c *cluster) directionalCenter(az, el []float32) int {
	midAz := (c.azMin + c.azMax) / 2
	midEl := (c.elMin + c.elMax) / 2
	best := c.members[0]
	bestCost := math.Inf(1)
	for _, m := range c.members {
		cost := math.Abs(float64(az[m])-midAz) + math.Abs(float64(el[m])-midEl)
		if cost < bestCost || (cost == bestCost && m < best) {
			best = m
			bestCost = cost
		}
	}
	return best
}

// clusterPoints runs greedy first-fit assignment in input order, then
// repeated pairwise merging until a full pass makes no merge.
func clusterPoints(dist, az, el []float32, p RadarParams) []*cluster {
	if len(dist) == 0 {
		return nil
	}
	dSep, aSep := p.DistanceSeparation, p.AzimuthSeparation

	clusters := []*cluster{newCluster(0, float64(dist[0]), float64(az[0]), float64(el[0]))}
	for i := 1; i < len(dist); i++ {
		d, a, e := float64(dist[i]), float64(az[i]), float64(el[i])
		assigned := false
		for _, c := range clusters {
			if c.contains(d, a, dSep, aSep) {
				c.absorb(i, d, a, e)
				assigned = true
				break
			}
		}
		if !assigned {
			clusters = append(clusters, newCluster(i, d, a, e))
		}
	}

	return mergeClusters(clusters, dSep, aSep)
}

// mergeClusters repeatedly scans all pairs and merges any whose bounds
// agree within the separations, until a full pass makes no merge.
func mergeClusters(clusters []*cluster, dSep, aSep float64) []*cluster {
	for merged := true; merged; {
		merged = false
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				if clusters[i].mergeable(clusters[j], dSep, aSep) {
					clusters[i].union(clusters[j])
					clusters = append(clusters[:j], clusters[j+1:]...)
					merged = true
					j--
				}
			}
		}
	}
	return clusters
}
