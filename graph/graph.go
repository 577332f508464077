// Package graph discovers, validates, and schedules execution of a
// processing graph: the transitive closure of nodes reachable from one or
// more entry (terminal/yield) nodes.
package graph

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/raysim/engine/gpumem"
	"github.com/raysim/engine/rerr"
	"github.com/raysim/engine/rlog"
	"github.com/raysim/engine/rtnode"
	"github.com/raysim/engine/scene"
)

// RunObserver receives graph lifecycle events: a telemetry stream and the
// run-history store both attach through this seam. RunStarted and
// RunFinished fire on the scheduling goroutine; NodeCompleted fires on
// the run's stream once the node's work has drained. Callbacks must not
// block on the run itself.
type RunObserver interface {
	RunStarted(runID string, nodeCount int)
	NodeCompleted(runID, nodeName string)
	RunFinished(runID string, err error)
}

// Graph is a dynamically mutable DAG of nodes, identified by one or more
// entry points a client reads results from. Only one run may be active at
// a time; submitting a new run waits for the previous.
type Graph struct {
	mu        sync.Mutex // serializes mutation and run submission; the host side is single-threaded per graph
	entries   []rtnode.Node
	scene     *scene.Scene
	running   bool
	runCond   *sync.Cond
	observers []RunObserver
}

// New creates an empty graph. scn may be nil for graphs with no
// ray-trace node.
func New(scn *scene.Scene) *Graph {
	g := &Graph{scene: scn, entries: nil}
	g.runCond = sync.NewCond(&g.mu)
	return g
}

// SetEntries replaces the graph's entry (terminal) node set. Structure
// mutation is forbidden while a run is in progress; this call blocks
// until any active run completes.
func (g *Graph) SetEntries(entries ...rtnode.Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.running {
		g.runCond.Wait()
	}
	g.entries = entries
}

// AddObserver attaches a lifecycle observer. Like SetEntries, it blocks
// until any active run completes.
func (g *Graph) AddObserver(o RunObserver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.running {
		g.runCond.Wait()
	}
	g.observers = append(g.observers, o)
}

// Run is the result of one graph execution: its run id, the topological
// order actually walked, and the terminal outcome once Wait returns.
type Run struct {
	ID    string
	Order []rtnode.Node
	ctx   *rtnode.RunCtx
	g     *Graph
	done  chan struct{}
	err   error
}

// Cancel requests cooperative cancellation: the scheduler checks between
// node enqueues and skips the remainder. It is a no-op on an
// already-completed run.
func (r *Run) Cancel() {
	r.ctx.Cancel()
}

// Wait blocks until the run's stream has drained every enqueued node.
func (r *Run) Wait() error {
	<-r.done
	return r.err
}

// Context returns the run's execution context, for nodes that need it to
// call GetFieldData directly (e.g. a caller reading the yield node).
func (r *Run) Context() *rtnode.RunCtx { return r.ctx }

// discover computes the transitive closure of nodes reachable from the
// graph's entries and detects cycles via a three-color DFS.
func discover(entries []rtnode.Node) ([]rtnode.Node, error) {
	const (
		white = iota
		gray
		black
	)
	color := make(map[uint64]int)
	var order []rtnode.Node
	var insertionIndex int
	firstSeen := make(map[uint64]int)

	var visit func(n rtnode.Node) error
	visit = func(n rtnode.Node) error {
		switch color[n.ID()] {
		case gray:
			return rerr.New(rerr.InvalidPipeline, "cycle detected at node %s", n.Name())
		case black:
			return nil
		}
		color[n.ID()] = gray
		for _, in := range n.Inputs() {
			if err := visit(in); err != nil {
				return err
			}
		}
		color[n.ID()] = black
		if _, seen := firstSeen[n.ID()]; !seen {
			firstSeen[n.ID()] = insertionIndex
			insertionIndex++
			order = append(order, n)
		}
		return nil
	}

	for _, e := range entries {
		if err := visit(e); err != nil {
			return nil, err
		}
	}

	// order currently lists nodes in postorder (a dependency always
	// appears before anything that visited it), which is already a valid
	// topological order; stabilize ties by original insertion index.
	sort.SliceStable(order, func(i, j int) bool {
		return firstSeen[order[i].ID()] < firstSeen[order[j].ID()]
	})
	return order, nil
}

// hasRayTraceNode reports whether any node in order wants to launch
// against the scene; found via the ProducesPoints+AcceptsRays capability
// combination every ray-trace node advertises.
func hasRayTraceNode(order []rtnode.Node) bool {
	for _, n := range order {
		caps := n.Capabilities()
		if caps.Has(rtnode.AcceptsRays) && caps.Has(rtnode.ProducesPoints) {
			return true
		}
	}
	return false
}

// Run discovers, validates, and executes the graph on a fresh stream:
// discover reachable nodes, topologically sort, validate each node in
// order, commit the scene if a ray-trace node is present, then enqueue
// every node and return a handle the client waits on.
func (g *Graph) Run() (*Run, error) {
	g.mu.Lock()
	for g.running {
		g.runCond.Wait()
	}
	entries := append([]rtnode.Node(nil), g.entries...)
	observers := append([]RunObserver(nil), g.observers...)
	g.running = true
	g.mu.Unlock()

	finish := func(err error) (*Run, error) {
		g.mu.Lock()
		g.running = false
		g.runCond.Broadcast()
		g.mu.Unlock()
		return nil, err
	}

	order, err := discover(entries)
	if err != nil {
		return finish(err)
	}

	for _, n := range order {
		if resetter, ok := n.(interface{ ResetForRun() }); ok {
			resetter.ResetForRun()
		}
	}

	stream := gpumem.NewStream()
	runID := uuid.New().String()
	ctx := rtnode.NewRunCtx(runID, stream)

	for _, n := range order {
		if err := n.Validate(ctx); err != nil {
			stream.Close()
			return finish(rerr.Wrap(rerr.InvalidPipeline, err, "validating node %s", n.Name()))
		}
	}

	if g.scene != nil && hasRayTraceNode(order) {
		if _, err := g.scene.Commit(stream); err != nil {
			stream.Close()
			return finish(err)
		}
	}

	run := &Run{ID: runID, Order: order, ctx: ctx, g: g, done: make(chan struct{})}

	rlog.Diagf("graph: run %s starting, %d nodes", runID, len(order))
	for _, o := range observers {
		o.RunStarted(runID, len(order))
	}
	go func() {
		for i, n := range order {
			if ctx.Cancelled() {
				for _, rest := range order[i:] {
					rest.Skip()
				}
				run.err = rerr.New(rerr.Cancelled, "run %s cancelled before node %s", runID, n.Name())
				break
			}
			n.Enqueue(ctx)
			name := n.Name()
			stream.Enqueue(func() {
				for _, o := range observers {
					o.NodeCompleted(runID, name)
				}
			})
		}
		stream.Synchronize()
		stream.Close()
		rlog.Diagf("graph: run %s complete", runID)
		for _, o := range observers {
			o.RunFinished(runID, run.err)
		}

		g.mu.Lock()
		g.running = false
		g.runCond.Broadcast()
		g.mu.Unlock()
		close(run.done)
	}()

	return run, nil
}
