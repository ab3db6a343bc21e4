package harness

import (
	"fmt"
	"strings"

	"github.com/snowdamiz/lmlang-sub002/internal/engine"
	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// AssertionError is returned when a trace assertion fails. It carries
// the full trace so the failure reads without re-running the scenario.
type AssertionError struct {
	Type     string              // Assertion type for categorization
	Expected string              // Human-readable expected outcome
	Actual   string              // Human-readable actual outcome
	Trace    []engine.TraceEntry // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\ntrace:\n")
	for _, entry := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] depth=%d node=%d %s\n", entry.Seq, entry.Depth, entry.Node, entry.Op)
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against the outcome's
// trace and returns one error per failure.
func EvaluateAssertions(out *engine.Outcome, assertions []Assertion) []error {
	var errs []error
	for _, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(out.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(out.Trace, assertion)
		default:
			// Load validation rejects unknown types; direct callers
			// still get a clear failure.
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// matches reports whether a trace entry satisfies the assertion's op
// and optional node pin.
func matches(entry engine.TraceEntry, a Assertion) bool {
	if entry.Op != a.Op {
		return false
	}
	return a.Node == 0 || uint64(entry.Node) == uint64(a.Node)
}

// assertTraceContains checks that the op executed at least once,
// optionally at a specific node.
func assertTraceContains(trace []engine.TraceEntry, a Assertion) error {
	for _, entry := range trace {
		if matches(entry, a) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describeTarget(a) + " in trace",
		Actual:   "not found",
		Trace:    trace,
	}
}

// assertTraceCount checks that the op executed exactly Count times.
func assertTraceCount(trace []engine.TraceEntry, a Assertion) error {
	count := 0
	for _, entry := range trace {
		if matches(entry, a) {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s exactly %d times", describeTarget(a), a.Count),
			Actual:   fmt.Sprintf("%d times", count),
			Trace:    trace,
		}
	}
	return nil
}

func describeTarget(a Assertion) string {
	if a.Node != 0 {
		return fmt.Sprintf("op %q at node %d", a.Op, ir.NodeID(a.Node))
	}
	return fmt.Sprintf("op %q", a.Op)
}
