// Command raysim-demo builds a small scene, fires a ray grid through a
// processing graph, and prints the resulting point cloud. It doubles as
// a wiring example for the optional telemetry stream and run-history
// store.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"

	"google.golang.org/grpc"

	"github.com/raysim/engine/field"
	"github.com/raysim/engine/geom"
	"github.com/raysim/engine/graph"
	"github.com/raysim/engine/postprocess"
	"github.com/raysim/engine/raytrace"
	"github.com/raysim/engine/rlog"
	"github.com/raysim/engine/runhistory"
	"github.com/raysim/engine/scene"
	"github.com/raysim/engine/telemetry"
)

func main() {
	var (
		verbose       = flag.Bool("verbose", false, "enable diagnostic logging to stderr")
		historyPath   = flag.String("history", "", "optional path to a run-history SQLite file")
		telemetryAddr = flag.String("telemetry-addr", "", "optional listen address for the gRPC run observer")
		gridSize      = flag.Int("grid", 8, "rays per side of the square ray grid")
	)
	flag.Parse()

	if *verbose {
		rlog.SetWriters(rlog.Writers{Ops: os.Stderr, Diag: os.Stderr})
	} else {
		rlog.SetWriters(rlog.Writers{Ops: os.Stderr})
	}

	if err := run(*historyPath, *telemetryAddr, *gridSize); err != nil {
		log.Fatalf("raysim-demo: %v", err)
	}
}

func run(historyPath, telemetryAddr string, gridSize int) error {
	scn := scene.New()
	meshID, err := scn.AddMesh(
		[]geom.V3f{{X: -2, Y: -2, Z: 0}, {X: 2, Y: -2, Z: 0}, {X: 0, Y: 2, Z: 0}},
		[]geom.V3i{{X: 0, Y: 1, Z: 2}},
	)
	if err != nil {
		return err
	}
	if _, err := scn.AddEntity(meshID, geom.Identity(), 0, ""); err != nil {
		return err
	}

	rays := make([]geom.M3x4f, 0, gridSize*gridSize)
	for yi := 0; yi < gridSize; yi++ {
		for xi := 0; xi < gridSize; xi++ {
			x := -3 + 6*float32(xi)/float32(gridSize-1)
			y := -3 + 6*float32(yi)/float32(gridSize-1)
			rays = append(rays, geom.LookAlong(geom.V3f{X: x, Y: y, Z: 5}, geom.V3f{Z: -1}))
		}
	}

	source := postprocess.NewFromMat3x4fRays(1, rays)
	trace := raytrace.NewNode(2, source, scn, &raytrace.CPUTracer{}, raytrace.Params{MaxRange: 100})
	compact := postprocess.NewCompactByField(3, trace, field.HIT)
	yield := postprocess.NewYield(4, compact, field.XYZ, field.DISTANCE)

	g := graph.New(scn)
	g.SetEntries(yield)

	if historyPath != "" {
		store, err := runhistory.Open(historyPath)
		if err != nil {
			return err
		}
		defer store.Close()
		g.AddObserver(store)
	}

	if telemetryAddr != "" {
		pub := telemetry.NewPublisher()
		g.AddObserver(pub)
		lis, err := net.Listen("tcp", telemetryAddr)
		if err != nil {
			return err
		}
		srv := grpc.NewServer()
		telemetry.NewServer(pub).Register(srv)
		go func() { _ = srv.Serve(lis) }()
		defer srv.Stop()
		fmt.Printf("telemetry: watching runs on %s\n", lis.Addr())
	}

	run, err := g.Run()
	if err != nil {
		return err
	}
	if err := run.Wait(); err != nil {
		return err
	}

	ctx := run.Context()
	width := yield.Width(ctx)
	xyzAny, err := yield.GetFieldData(ctx, field.XYZ)
	if err != nil {
		return err
	}
	distAny, err := yield.GetFieldData(ctx, field.DISTANCE)
	if err != nil {
		return err
	}
	xyz := xyzAny.([]geom.V3f)
	dist := distAny.([]float32)

	fmt.Printf("%d/%d rays hit\n", width, len(rays))
	for i := 0; i < width; i++ {
		fmt.Printf("  (%6.3f, %6.3f, %6.3f)  d=%.3f\n", xyz[i].X, xyz[i].Y, xyz[i].Z, dist[i])
	}
	return nil
}
