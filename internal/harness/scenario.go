package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance scenario: a rule set, a sequence of
// external calls, and assertions over the resulting journal.
type Scenario struct {
	// Name uniquely identifies this scenario. Doubles as the golden
	// file name when the scenario runs under RunWithGolden.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Rules is the directory of CUE rule files to compile and load.
	// Relative paths resolve against the scenario file location when
	// loaded with LoadScenarioWithBasePath.
	Rules string `yaml:"rules"`

	// Policy is an optional passthrough/deny policy file. Empty means
	// every path routes through the rule engine.
	Policy string `yaml:"policy,omitempty"`

	// FlowTokens are the fixed flow tokens handed out in order, one per
	// engine-routed call. If empty, tokens flow-001, flow-002, ... are
	// generated to match the call count.
	FlowTokens []string `yaml:"flow_tokens,omitempty"`

	// Calls is the sequence of external calls made through the gateway.
	Calls []CallStep `yaml:"calls"`

	// Assertions validate the final journal.
	// Supported types: journal_contains, journal_order, journal_count.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// CallStep is one external call: a path, a request body, and an
// optional expectation on the response.
type CallStep struct {
	// Path is the call path, "/{module}/{operation}".
	Path string `yaml:"path"`

	// Body contains the request body fields. Values are converted to
	// journal values during execution; null and floats are rejected.
	Body map[string]interface{} `yaml:"body"`

	// Expect specifies the expected response. If nil, the call must
	// simply succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a call.
type ExpectClause struct {
	// Error, when set, means the call must fail and the error message
	// must contain this substring.
	Error string `yaml:"error,omitempty"`

	// Body contains expected response field values. Subset match: only
	// the listed fields are checked.
	Body map[string]interface{} `yaml:"body,omitempty"`
}

// Assertion validates the journal after all calls have completed.
type Assertion struct {
	// Type selects the assertion:
	// - "journal_contains": an event for op exists, matching input
	// - "journal_order": ops appear in this relative order
	// - "journal_count": op appears exactly Count times
	Type string `yaml:"type"`

	// Op is the operation reference (journal_contains, journal_count).
	Op string `yaml:"op,omitempty"`

	// Input holds expected input fields (journal_contains). Subset
	// match: only the listed fields are checked.
	Input map[string]interface{} `yaml:"input,omitempty"`

	// Ops is the expected relative order (journal_order). The ops must
	// appear as a subsequence of the journal, other events may
	// interleave.
	Ops []string `yaml:"ops,omitempty"`

	// Count is the expected number of events (journal_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertJournalContains = "journal_contains"
	AssertJournalOrder    = "journal_order"
	AssertJournalCount    = "journal_count"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected so typos surface as load errors, not silently ignored
// assertions.
func LoadScenario(path string) (*Scenario, error) {
	return loadScenario(path, "")
}

// LoadScenarioWithBasePath reads a scenario YAML file, resolving the
// rules and policy paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	return loadScenario(path, basePath)
}

func loadScenario(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if basePath != "" {
		if scenario.Rules != "" && !filepath.IsAbs(scenario.Rules) {
			scenario.Rules = filepath.Join(basePath, scenario.Rules)
		}
		if scenario.Policy != "" && !filepath.IsAbs(scenario.Policy) {
			scenario.Policy = filepath.Join(basePath, scenario.Policy)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Rules == "" {
		return fmt.Errorf("rules directory is required")
	}
	if _, err := os.Stat(s.Rules); err != nil {
		return fmt.Errorf("rules directory not found: %s", s.Rules)
	}
	if s.Policy != "" {
		if _, err := os.Stat(s.Policy); err != nil {
			return fmt.Errorf("policy file not found: %s", s.Policy)
		}
	}
	if len(s.Calls) == 0 {
		return fmt.Errorf("calls list is required and must be non-empty")
	}

	for i, step := range s.Calls {
		if step.Path == "" {
			return fmt.Errorf("calls[%d]: path is required", i)
		}
		if step.Body == nil {
			return fmt.Errorf("calls[%d]: body is required (use empty map if no fields)", i)
		}
		if step.Expect != nil && step.Expect.Error != "" && step.Expect.Body != nil {
			return fmt.Errorf("calls[%d].expect: error and body are mutually exclusive", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates one assertion against its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertJournalContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for journal_contains", index)
		}
	case AssertJournalOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for journal_order", index)
		}
	case AssertJournalCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for journal_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for journal_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
