package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventIDStable(t *testing.T) {
	input := Object{"id": String("p1"), "title": String("T")}
	output := Object{"value": Object{"id": String("p1")}}

	first, err := EventID("flow-001", "paper.ensure", input, output, 3)
	require.NoError(t, err)
	again, err := EventID("flow-001", "paper.ensure", input, output, 3)
	require.NoError(t, err)

	assert.Equal(t, first, again)
	assert.Len(t, first, 64, "hex-encoded SHA-256")
}

func TestEventIDTotalOverAllFields(t *testing.T) {
	input := Object{"id": String("p1")}
	output := Object{"value": String("row")}
	base := MustEventID("flow-001", "paper.ensure", input, output, 3)

	variants := []string{
		MustEventID("flow-002", "paper.ensure", input, output, 3),
		MustEventID("flow-001", "paper.remove", input, output, 3),
		MustEventID("flow-001", "paper.ensure", Object{"id": String("p2")}, output, 3),
		MustEventID("flow-001", "paper.ensure", input, Object{"error": String("boom")}, 3),
		MustEventID("flow-001", "paper.ensure", input, output, 4),
	}

	for i, v := range variants {
		assert.NotEqual(t, base, v, "variant %d must change the id", i)
	}
}

func TestBindingHashDomainSeparation(t *testing.T) {
	// The same canonical payload under different domains must not collide.
	bindings := Object{"?id": String("p1")}

	bh := MustBindingHash(bindings)
	eid := hashWithDomain(DomainEvent, mustCanonical(t, bindings))

	assert.NotEqual(t, eid, bh)
}

func TestBindingHashOrderIndependent(t *testing.T) {
	a := MustBindingHash(Object{"?id": String("p1"), "?corr": String("c1")})
	b := MustBindingHash(Object{"?corr": String("c1"), "?id": String("p1")})
	assert.Equal(t, a, b)
}

func mustCanonical(t *testing.T, v any) []byte {
	t.Helper()
	data, err := MarshalCanonical(v)
	require.NoError(t, err)
	return data
}

func TestOpRefSplit(t *testing.T) {
	tests := []struct {
		ref       OpRef
		module    string
		operation string
	}{
		{"paper.ensure", "paper", "ensure"},
		{"gateway.respond", "gateway", "respond"},
		{"bare", "bare", ""},
		{"a.b.c", "a", "b.c"},
	}

	for _, tt := range tests {
		module, operation := tt.ref.Split()
		assert.Equal(t, tt.module, module)
		assert.Equal(t, tt.operation, operation)
	}
}

func TestOpRefValidate(t *testing.T) {
	assert.NoError(t, OpRef("paper.ensure").Validate())
	assert.Error(t, OpRef("paper").Validate())
	assert.Error(t, OpRef(".ensure").Validate())
	assert.Error(t, OpRef("paper.").Validate())
	assert.Error(t, OpRef("").Validate())
}

func TestIsError(t *testing.T) {
	ok := &EventRecord{Output: Object{"value": String("row")}}
	assert.False(t, ok.IsError())

	failed := &EventRecord{Output: Object{"error": String("id is required")}}
	assert.True(t, failed.IsError())
}
