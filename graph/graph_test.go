package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysim/engine/field"
	"github.com/raysim/engine/rtnode"
)

type fakeNode struct {
	*rtnode.Base
}

func newFakeNode(id uint64, name string, inputs []rtnode.Node, width int) *fakeNode {
	b := rtnode.NewBase(id, name, rtnode.ProducesPoints, inputs, field.Set(0), field.NewSet(field.DISTANCE), rtnode.Hooks{
		Validate: func(ctx *rtnode.RunCtx) (int, error) { return width, nil },
		Enqueue:  func(ctx *rtnode.RunCtx) { ctx.Stream.Enqueue(func() {}) },
		Materialize: func(ctx *rtnode.RunCtx, f field.Field) (any, error) {
			return width, nil
		},
	})
	return &fakeNode{Base: b}
}

func TestGraphRunLinearChain(t *testing.T) {
	a := newFakeNode(1, "a", nil, 4)
	b := newFakeNode(2, "b", []rtnode.Node{a}, 4)

	g := New(nil)
	g.SetEntries(b)

	run, err := g.Run()
	require.NoError(t, err)
	require.NoError(t, run.Wait())

	assert.Equal(t, []rtnode.Node{a, b}, run.Order)
	assert.Equal(t, rtnode.Completed, a.State())
	assert.Equal(t, rtnode.Completed, b.State())
}

func TestGraphRunDetectsCycle(t *testing.T) {
	a := &fakeNode{}
	b := &fakeNode{}
	a.Base = rtnode.NewBase(1, "a", rtnode.ProducesPoints, []rtnode.Node{b}, field.Set(0), field.NewSet(field.DISTANCE), rtnode.Hooks{
		Validate: func(ctx *rtnode.RunCtx) (int, error) { return 1, nil },
	})
	b.Base = rtnode.NewBase(2, "b", rtnode.ProducesPoints, []rtnode.Node{a}, field.Set(0), field.NewSet(field.DISTANCE), rtnode.Hooks{
		Validate: func(ctx *rtnode.RunCtx) (int, error) { return 1, nil },
	})

	g := New(nil)
	g.SetEntries(b)

	_, err := g.Run()
	require.Error(t, err)
}

func TestGraphOnlyOneRunAtATime(t *testing.T) {
	a := newFakeNode(1, "a", nil, 1)
	g := New(nil)
	g.SetEntries(a)

	run1, err := g.Run()
	require.NoError(t, err)
	require.NoError(t, run1.Wait())

	done := make(chan struct{})
	go func() {
		run2, err := g.Run()
		require.NoError(t, err)
		require.NoError(t, run2.Wait())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second run never completed")
	}
}

func TestGraphCancelSkipsRemainingNodes(t *testing.T) {
	a := newFakeNode(1, "a", nil, 1)
	b := newFakeNode(2, "b", []rtnode.Node{a}, 1)

	g := New(nil)
	g.SetEntries(b)

	run, err := g.Run()
	require.NoError(t, err)
	run.Cancel()
	_ = run.Wait()
}
