package postprocess

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raysim/engine/field"
	"github.com/raysim/engine/gpumem"
	"github.com/raysim/engine/rtnode"
)

// runChain validates and enqueues nodes in dependency order on a fresh
// stream, mimicking what the graph scheduler does for one run.
func runChain(t *testing.T, nodes ...rtnode.Node) *rtnode.RunCtx {
	t.Helper()
	stream := gpumem.NewStream()
	t.Cleanup(stream.Close)
	ctx := rtnode.NewRunCtx("run-test", stream)
	for _, n := range nodes {
		require.NoError(t, n.Validate(ctx))
	}
	for _, n := range nodes {
		n.Enqueue(ctx)
	}
	return ctx
}

// mustField reads a typed field off a node or fails the test.
func mustField[T any](t *testing.T, ctx *rtnode.RunCtx, n rtnode.Node, f field.Field) []T {
	t.Helper()
	v, err := n.GetFieldData(ctx, f)
	require.NoError(t, err)
	s, ok := v.([]T)
	require.True(t, ok, "field %s: got %T", f, v)
	return s
}
