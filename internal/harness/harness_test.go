package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPaperEnsureScenario(t *testing.T) {
	scenario, err := LoadScenarioWithBasePath("testdata/scenarios/paper-ensure.yaml", "testdata")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.True(t, result.Pass, "failures: %v", result.Errors)
	require.Len(t, result.Responses, 4)

	// The re-ensure observes the first title, not the new one.
	paper := result.Responses[1]["paper"].(map[string]any)
	assert.Equal(t, "Attention Is All You Need", paper["title"])

	// The mistyped call still produced a respond, on the error branch.
	assert.Equal(t, "paper.ensure: id is required", result.Responses[2]["error"])

	// The unmatched call journaled its request and nothing else.
	assert.Nil(t, result.Responses[3])
	last := result.Trace[len(result.Trace)-1]
	assert.Equal(t, "gateway.request", last.Op)
}

func TestRunShippedRuleSet(t *testing.T) {
	scenario, err := LoadScenarioWithBasePath("testdata/scenarios/review-flow.yaml", "testdata")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.True(t, result.Pass, "failures: %v", result.Errors)
	require.Len(t, result.Responses, 9)

	// The plain variant echoes no anchorId back.
	highlight := result.Responses[5]["highlight"].(map[string]any)
	_, hasAnchor := highlight["anchorId"]
	assert.False(t, hasAnchor)

	// Both denial branches respond instead of going silent.
	assert.Equal(t, "invalid token", result.Responses[6]["error"])
	assert.Equal(t, "not authorized", result.Responses[8]["error"])
}

func TestRunReportsExpectationFailure(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong-expect",
		Description: "a response mismatch fails the scenario, not the run",
		Rules:       "testdata/rules",
		Calls: []CallStep{{
			Path: "/paper/ensure",
			Body: map[string]any{"id": "p1", "title": "Weft"},
			Expect: &ExpectClause{
				Body: map[string]any{"paper": map[string]any{"id": "p1", "title": "Warp"}},
			},
		}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "response mismatch")
}

func TestRunReportsAssertionFailure(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong-count",
		Description: "a journal_count mismatch fails the scenario",
		Rules:       "testdata/rules",
		Calls: []CallStep{{
			Path: "/paper/ensure",
			Body: map[string]any{"id": "p1", "title": "Weft"},
		}},
		Assertions: []Assertion{
			{Type: AssertJournalCount, Op: "paper.ensure", Count: 2},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "want 2")
}

func TestRunRejectsBadRulesDir(t *testing.T) {
	scenario := &Scenario{
		Name:        "no-rules",
		Description: "an unloadable rules directory is a run error",
		Rules:       "testdata/no-such-dir",
		Calls: []CallStep{{
			Path: "/paper/ensure",
			Body: map[string]any{},
		}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile rules")
}

func TestScenarioGolden(t *testing.T) {
	scenario, err := LoadScenarioWithBasePath("testdata/scenarios/paper-ensure.yaml", "testdata")
	require.NoError(t, err)

	RunWithGolden(t, scenario)
}
