package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-labs/weft/internal/ir"
)

func TestNewRegistryRejectsAnalysisErrors(t *testing.T) {
	ruleList := []ir.Rule{
		chainRule("forward", "note.add", "note.remove"),
		chainRule("back", "note.remove", "note.add"),
	}

	reg, _, err := NewRegistry(ruleList, testModules(t))
	require.Error(t, err)
	assert.Nil(t, reg)
	assert.Contains(t, err.Error(), ErrRuleCycle)
}

func TestNewRegistryReturnsWarnings(t *testing.T) {
	ruleList := []ir.Rule{
		chainRule("route", "gateway.request", "audit.log"),
	}

	reg, warnings, err := NewRegistry(ruleList, testModules(t))
	require.NoError(t, err)
	require.NotNil(t, reg)
	require.Len(t, warnings, 1)
	assert.Equal(t, WarnNoRespondPath, warnings[0].Code)
}

func TestRegistryRulesFor(t *testing.T) {
	ruleList := []ir.Rule{
		chainRule("first", "note.add", "audit.log"),
		chainRule("other", "note.remove", "audit.log"),
		chainRule("second", "note.add", "audit.log"),
	}
	SortByID(ruleList)

	reg, _, err := NewRegistry(ruleList, testModules(t))
	require.NoError(t, err)
	assert.Equal(t, 3, reg.Len())

	forAdd := reg.RulesFor("note.add")
	require.Len(t, forAdd, 2)
	assert.Equal(t, "first", forAdd[0].ID)
	assert.Equal(t, "second", forAdd[1].ID)

	assert.Empty(t, reg.RulesFor("note.list"))
}

func TestRegistryIsolatedFromCallerSlice(t *testing.T) {
	ruleList := []ir.Rule{
		chainRule("only", "note.add", "audit.log"),
	}

	reg, _, err := NewRegistry(ruleList, testModules(t))
	require.NoError(t, err)

	ruleList[0].ID = "mutated"
	assert.Equal(t, "only", reg.Rules()[0].ID)
}

func TestSortByID(t *testing.T) {
	ruleList := []ir.Rule{
		chainRule("zeta", "note.add", "audit.log"),
		chainRule("alpha", "note.remove", "audit.log"),
		chainRule("mid", "note.add", "audit.log"),
	}
	SortByID(ruleList)

	assert.Equal(t, "alpha", ruleList[0].ID)
	assert.Equal(t, "mid", ruleList[1].ID)
	assert.Equal(t, "zeta", ruleList[2].ID)
}
