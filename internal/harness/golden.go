package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/weft-labs/weft/internal/ir"
)

// TraceSnapshot is the golden-file shape of a scenario execution:
// the scenario name and the journal trace. Serialized with canonical
// JSON so byte comparison is deterministic.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
}

// toCanonicalMap converts the snapshot to plain Go data for canonical
// JSON serialization.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"op":  event.Op,
			"seq": event.Seq,
		}
		if event.Error {
			eventMap["error"] = true
		}
		traceList[i] = eventMap
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden. Expectation and assertion
// failures fail the test before the golden comparison runs.
//
// Regenerate golden files with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	for _, msg := range result.Errors {
		t.Errorf("scenario %s: %s", scenario.Name, msg)
	}

	AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already-obtained result's trace against the
// golden file for the given scenario name.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	traceJSON, err := ir.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		t.Fatalf("scenario %s: marshal trace: %v", scenarioName, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
}
