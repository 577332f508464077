// Package rtnode defines the common node lifecycle and capability model
// every processing-graph node implements. Rather than a deep type
// hierarchy, a node is a capability-set record plus a small dispatch
// table of validate/enqueue/materialize closures; concrete node types
// embed Base and hold their state in plain structs.
package rtnode

import (
	"sync"

	"github.com/raysim/engine/field"
	"github.com/raysim/engine/geom"
	"github.com/raysim/engine/gpumem"
	"github.com/raysim/engine/rerr"
)

// Capability is a bitmask of what a node produces and accepts, replacing
// a class hierarchy of node kinds.
type Capability uint8

const (
	ProducesRays Capability = 1 << iota
	ProducesPoints
	AcceptsRays
	AcceptsPoints
)

func (c Capability) Has(f Capability) bool { return c&f != 0 }

// State is a node's lifecycle position within one run.
type State int

const (
	Idle State = iota
	Validated
	Enqueued
	Completed
	Skipped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Validated:
		return "Validated"
	case Enqueued:
		return "Enqueued"
	case Completed:
		return "Completed"
	case Skipped:
		return "Skipped"
	default:
		return "Unknown"
	}
}

// RunCtx is the per-run execution context shared by every node the
// scheduler walks: one stream, one array registry, and a cooperative
// cancellation flag.
type RunCtx struct {
	RunID    string
	Stream   *gpumem.Stream
	Registry *gpumem.Registry

	mu        sync.Mutex
	cancelled bool
}

// NewRunCtx creates a fresh run context bound to one stream.
func NewRunCtx(runID string, stream *gpumem.Stream) *RunCtx {
	return &RunCtx{RunID: runID, Stream: stream, Registry: gpumem.NewRegistry()}
}

// Cancel marks the run as cancelled. The scheduler checks this between
// node enqueues; it does not interrupt an in-flight stream job.
func (r *RunCtx) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
}

func (r *RunCtx) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// Node is the interface the graph scheduler and every consumer operates
// on, regardless of concrete node kind.
type Node interface {
	ID() uint64
	Name() string
	Capabilities() Capability
	Inputs() []Node
	RequiredFields() field.Set
	ProducedFields() field.Set

	Validate(ctx *RunCtx) error
	Enqueue(ctx *RunCtx)
	Width(ctx *RunCtx) int
	GetFieldData(ctx *RunCtx, f field.Field) (any, error)

	State() State
	// Skip transitions a node straight to Skipped, used by the scheduler
	// when the run was cancelled before this node's turn.
	Skip()
}

// RaysProducer is implemented by nodes whose capability set includes
// ProducesRays: instead of field-tagged SoA data, they hand back the raw
// 3x4 ray transforms a ray-trace node launches against.
type RaysProducer interface {
	Node
	Rays(ctx *RunCtx) ([]geom.M3x4f, error)
}

// Hooks is the dispatch table a concrete node type supplies to Base at
// construction. validate returns the node's output width (ray count or
// point count) once inputs are confirmed consistent. materialize
// produces the field's data the first time it is requested in a run; Base
// caches the result so later calls (including concurrent ones) are free.
type Hooks struct {
	Validate    func(ctx *RunCtx) (width int, err error)
	Enqueue     func(ctx *RunCtx)
	Materialize func(ctx *RunCtx, f field.Field) (any, error)
}

// Base implements the full node lifecycle state machine; concrete node
// types embed it and supply behavior through Hooks.
type Base struct {
	id             uint64
	name           string
	capabilities   Capability
	inputs         []Node
	requiredFields field.Set
	producedFields field.Set
	hooks          Hooks

	mu      sync.Mutex
	cond    *sync.Cond
	state   State
	width   int
	runErr  error
	cache   map[field.Field]any
	cacheMu sync.Mutex // guards cache independently so concurrent GetFieldData calls for different fields don't serialize on the state lock
}

// NewBase constructs the embeddable lifecycle state machine for one node.
func NewBase(id uint64, name string, caps Capability, inputs []Node, required, produced field.Set, hooks Hooks) *Base {
	b := &Base{
		id:             id,
		name:           name,
		capabilities:   caps,
		inputs:         inputs,
		requiredFields: required,
		producedFields: produced,
		hooks:          hooks,
		cache:          make(map[field.Field]any),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *Base) ID() uint64                   { return b.id }
func (b *Base) Name() string                 { return b.name }
func (b *Base) Capabilities() Capability     { return b.capabilities }
func (b *Base) Inputs() []Node               { return b.inputs }
func (b *Base) RequiredFields() field.Set    { return b.requiredFields }
func (b *Base) ProducedFields() field.Set    { return b.producedFields }

func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Base) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *Base) Skip() {
	b.mu.Lock()
	b.state = Skipped
	b.runErr = rerr.New(rerr.Cancelled, "node %s skipped: predecessor failed or run cancelled", b.name)
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Validate checks that this node's inputs together produce every field it
// requires, then runs the validate hook to compute this node's own width,
// transitioning Idle -> Validated. Base does not compare the inputs'
// widths with each other; any width check is done by the hook.
func (b *Base) Validate(ctx *RunCtx) error {
	if len(b.inputs) > 0 {
		var available field.Set
		for _, in := range b.inputs {
			available = available.Union(in.ProducedFields())
		}
		if missing := available.Missing(b.requiredFields); len(missing) > 0 {
			return rerr.New(rerr.InvalidPipeline, "node %s missing required fields %v from its inputs", b.name, missing)
		}
	}
	width, err := b.hooks.Validate(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.width = width
	b.state = Validated
	b.mu.Unlock()
	return nil
}

// Enqueue submits this node's work to the run's stream and transitions
// Validated -> Enqueued. It never blocks on the stream draining.
func (b *Base) Enqueue(ctx *RunCtx) {
	b.hooks.Enqueue(ctx)
	b.setState(Enqueued)
	ctx.Stream.Enqueue(func() {
		b.setState(Completed)
	})
}

// Width synchronizes the run stream first, then returns this node's
// output width.
func (b *Base) Width(ctx *RunCtx) int {
	ctx.Stream.Synchronize()
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.width
}

// ValidatedWidth returns the node's current width without synchronizing
// the stream: the width computed at Validate time, or the value a stream
// job has since stored with SetWidth. Downstream nodes use it during
// their own Validate, and from their stream jobs to pick up an input's
// data-dependent width.
func (b *Base) ValidatedWidth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.width
}

// SetWidth updates the node's output width from within a stream job, for
// nodes whose width is data-dependent (compact, radar clustering) and
// only known once their kernel has run. Width's stream synchronization
// guarantees readers observe the updated value.
func (b *Base) SetWidth(n int) {
	b.mu.Lock()
	b.width = n
	b.mu.Unlock()
}

// GetFieldData blocks until this node reaches Completed (or Skipped) for
// the current run, then returns the cached field value, materializing it
// on first request. Materialization runs under the node's cache lock, so
// concurrent callers for different fields of one node take turns.
func (b *Base) GetFieldData(ctx *RunCtx, f field.Field) (any, error) {
	b.mu.Lock()
	for b.state != Completed && b.state != Skipped {
		b.cond.Wait()
	}
	if b.state == Skipped {
		err := b.runErr
		b.mu.Unlock()
		return nil, err
	}
	b.mu.Unlock()

	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	if v, ok := b.cache[f]; ok {
		return v, nil
	}
	v, err := b.hooks.Materialize(ctx, f)
	if err != nil {
		return nil, err
	}
	b.cache[f] = v
	return v, nil
}

// ResetForRun clears per-run cached state so a node can participate in a
// fresh run after a previous one completed.
func (b *Base) ResetForRun() {
	b.mu.Lock()
	b.state = Idle
	b.width = 0
	b.runErr = nil
	b.mu.Unlock()
	b.cacheMu.Lock()
	b.cache = make(map[field.Field]any)
	b.cacheMu.Unlock()
}
