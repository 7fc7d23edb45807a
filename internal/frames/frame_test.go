package frames

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-labs/weft/internal/ir"
)

func TestBindReturnsExtendedCopy(t *testing.T) {
	base := NewFrame().Bind("?id", ir.String("p1"))
	next := base.Bind("?title", ir.String("Attention Is All You Need"))

	_, ok := base.Lookup("?title")
	assert.False(t, ok, "binding must not leak into the original frame")

	val, ok := next.Lookup("?id")
	require.True(t, ok)
	assert.True(t, ir.Equal(ir.String("p1"), val))
}

func TestResolveTerm(t *testing.T) {
	f := NewFrame().Bind("?id", ir.String("p1"))

	val, err := f.Resolve(ir.L("literal"))
	require.NoError(t, err)
	assert.True(t, ir.Equal(ir.String("literal"), val))

	val, err = f.Resolve(ir.Var("?id"))
	require.NoError(t, err)
	assert.True(t, ir.Equal(ir.String("p1"), val))

	_, err = f.Resolve(ir.Var("?missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not bound")
}

func TestResolveArgsAllOrNothing(t *testing.T) {
	f := NewFrame().Bind("?id", ir.String("p1"))

	args, err := f.ResolveArgs(map[string]ir.Term{
		"id":   ir.Var("?id"),
		"kind": ir.L("paper"),
	})
	require.NoError(t, err)
	assert.True(t, ir.Equal(ir.Object{"id": ir.String("p1"), "kind": ir.String("paper")}, args))

	_, err = f.ResolveArgs(map[string]ir.Term{
		"id":    ir.Var("?id"),
		"owner": ir.Var("?owner"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `arg "owner"`)
}

func TestBindings(t *testing.T) {
	f := NewFrame().Bind("?id", ir.String("p1")).Bind("?n", ir.Int(3))

	obj := f.Bindings()
	assert.True(t, ir.Equal(ir.Object{"?id": ir.String("p1"), "?n": ir.Int(3)}, obj))
}
