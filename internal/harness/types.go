package harness

import (
	"fmt"

	"github.com/snowdamiz/lmlang-sub002/internal/engine"
)

// Result is the outcome of one scenario execution.
type Result struct {
	// ScenarioName echoes the scenario for reports and golden files.
	ScenarioName string `json:"scenario_name"`

	// Pass is true when the outcome and every assertion matched.
	Pass bool `json:"pass"`

	// Errors lists what failed. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Outcome is the invocation result of the first execution.
	// Assertions and golden snapshots read it.
	Outcome *engine.Outcome `json:"-"`
}

// NewResult creates a passing result for the named scenario.
func NewResult(name string) *Result {
	return &Result{ScenarioName: name, Pass: true, Errors: []string{}}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}
