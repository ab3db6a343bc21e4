package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance case: invoke a function from a
// compiled document and check the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden snapshots and the
	// default run token derive from it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Program is the path to the CUE document to compile. Relative
	// paths resolve against the scenario file location when loaded
	// through LoadScenarioWithBasePath or the suite runner.
	Program string `yaml:"program"`

	// Invoke is the function name to call.
	Invoke string `yaml:"invoke"`

	// Args are the invocation arguments as typed literals
	// ("i64:41", "bool:true", ...), in parameter order.
	Args []string `yaml:"args,omitempty"`

	// Config tunes the interpreter for this run.
	Config RunConfig `yaml:"config,omitempty"`

	// Expect names the required outcome. Exactly one branch is set.
	Expect ExpectClause `yaml:"expect"`

	// Assertions validate the recorded trace.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// Golden pins the canonical outcome as a snapshot file.
	Golden bool `yaml:"golden,omitempty"`

	// RunToken is an optional fixed run token. If empty, the token is
	// "test-run-" + Name so snapshots stay deterministic per scenario.
	RunToken string `yaml:"run_token,omitempty"`
}

// RunConfig carries per-scenario interpreter settings.
type RunConfig struct {
	// RecursionLimit overrides the engine's call depth ceiling when
	// positive.
	RecursionLimit int `yaml:"recursion_limit,omitempty"`

	// Trace records the execution timeline. Golden scenarios and trace
	// assertions force this on regardless.
	Trace bool `yaml:"trace,omitempty"`
}

// ExpectClause specifies the required outcome. Exactly one of Value,
// Trap, and Violation must be set.
type ExpectClause struct {
	// Value is the expected return as a typed literal ("i64:5").
	Value string `yaml:"value,omitempty"`

	// Trap expects the run to abort with a runtime trap.
	Trap *TrapExpect `yaml:"trap,omitempty"`

	// Violation expects a contract check to fail.
	Violation *ViolationExpect `yaml:"violation,omitempty"`
}

// TrapExpect matches a runtime trap.
type TrapExpect struct {
	// Code is the trap code ("DIVIDE_BY_ZERO", "RECURSION_LIMIT", ...).
	Code string `yaml:"code"`

	// Node optionally pins the trapping node. Zero means any node.
	Node int64 `yaml:"node,omitempty"`
}

// ViolationExpect matches a failed contract check.
type ViolationExpect struct {
	// Kind is "precondition", "postcondition", or "invariant".
	Kind string `yaml:"kind"`

	// Contract optionally pins the contract node. Zero means any.
	Contract int64 `yaml:"contract,omitempty"`

	// MessageContains requires the rendered violation message to
	// contain this substring. Empty means any message.
	MessageContains string `yaml:"message_contains,omitempty"`
}

// Assertion validates the recorded trace.
type Assertion struct {
	// Type is "trace_contains" or "trace_count".
	Type string `yaml:"type"`

	// Op is the operation mnemonic to look for ("add", "cmp.ge", ...).
	Op string `yaml:"op"`

	// Node optionally restricts the match to one node. Zero means any.
	Node int64 `yaml:"node,omitempty"`

	// Count is the exact number of executions (trace_count only).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
)

// Contract kind names accepted in expect.violation.kind.
var violationKinds = map[string]bool{
	"precondition":  true,
	"postcondition": true,
	"invariant":     true,
}

// LoadScenario reads and parses a scenario YAML file. Returns an error
// if the file doesn't exist, is malformed, contains unknown fields
// (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return loadScenario(path, "")
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving its program path relative to basePath. The suite runner
// uses this so scenarios reference documents relative to their own
// directory.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	return loadScenario(path, basePath)
}

func loadScenario(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" for
	// "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if basePath != "" && scenario.Program != "" && !filepath.IsAbs(scenario.Program) {
		scenario.Program = filepath.Join(basePath, scenario.Program)
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

	if s.Program == "" {
		return fmt.Errorf("program is required")
	}
	if _, err := os.Stat(s.Program); os.IsNotExist(err) {
		return fmt.Errorf("program document not found: %s", s.Program)
	}

	if s.Invoke == "" {
		return fmt.Errorf("invoke is required")
	}

	if s.Config.RecursionLimit < 0 {
		return fmt.Errorf("config.recursion_limit must be non-negative")
	}

	if err := validateExpect(&s.Expect); err != nil {
		return err
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateExpect enforces the one-of shape of the expect clause.
func validateExpect(e *ExpectClause) error {
	set := 0
	if e.Value != "" {
		set++
	}
	if e.Trap != nil {
		set++
	}
	if e.Violation != nil {
		set++
	}
	if set == 0 {
		return fmt.Errorf("expect requires one of value, trap, or violation")
	}
	if set > 1 {
		return fmt.Errorf("expect allows only one of value, trap, and violation")
	}

	if e.Trap != nil {
		if e.Trap.Code == "" {
			return fmt.Errorf("expect.trap: code is required")
		}
		if e.Trap.Node < 0 {
			return fmt.Errorf("expect.trap: node must be non-negative")
		}
	}

	if e.Violation != nil {
		if e.Violation.Kind == "" {
			return fmt.Errorf("expect.violation: kind is required")
		}
		if !violationKinds[e.Violation.Kind] {
			return fmt.Errorf("expect.violation: kind %q is not precondition, postcondition, or invariant", e.Violation.Kind)
		}
		if e.Violation.Contract < 0 {
			return fmt.Errorf("expect.violation: contract must be non-negative")
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Node < 0 {
		return fmt.Errorf("assertions[%d]: node must be non-negative", index)
	}

	return nil
}

// runToken returns the fixed token for this scenario's runs.
func (s *Scenario) runToken() string {
	if s.RunToken != "" {
		return s.RunToken
	}
	return "test-run-" + s.Name
}

// traced reports whether the run needs the execution timeline:
// requested explicitly, required by a golden snapshot, or consumed by
// trace assertions.
func (s *Scenario) traced() bool {
	if s.Config.Trace || s.Golden {
		return true
	}
	return len(s.Assertions) > 0
}
