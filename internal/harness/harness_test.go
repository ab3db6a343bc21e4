package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowdamiz/lmlang-sub002/internal/engine"
)

func TestRun_ValueMatch(t *testing.T) {
	result, err := Run(&Scenario{
		Name:        "add_pair",
		Description: "add returns the sum",
		Program:     "testdata/docs/math.cue",
		Invoke:      "add",
		Args:        []string{"i64:2", "i64:3"},
		Expect:      ExpectClause{Value: "i64:5"},
	})
	require.NoError(t, err)

	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)
	require.NotNil(t, result.Outcome)
	assert.Equal(t, engine.OutcomeValue, result.Outcome.Kind())
	assert.Equal(t, "test-run-add_pair", result.Outcome.RunToken)
}

func TestRun_ValueMismatch(t *testing.T) {
	result, err := Run(&Scenario{
		Name:    "add_wrong",
		Program: "testdata/docs/math.cue",
		Invoke:  "add",
		Args:    []string{"i64:2", "i64:3"},
		Expect:  ExpectClause{Value: "i64:6"},
	})
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected value 6, got 5")
}

func TestRun_KindMismatch(t *testing.T) {
	result, err := Run(&Scenario{
		Name:    "div_expected_value",
		Program: "testdata/docs/math.cue",
		Invoke:  "div",
		Args:    []string{"i64:10", "i64:0"},
		Expect:  ExpectClause{Value: "i64:1"},
	})
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "DIVIDE_BY_ZERO")
}

func TestRun_TrapMatch(t *testing.T) {
	result, err := Run(&Scenario{
		Name:    "div_zero",
		Program: "testdata/docs/math.cue",
		Invoke:  "div",
		Args:    []string{"i64:10", "i64:0"},
		Expect:  ExpectClause{Trap: &TrapExpect{Code: "DIVIDE_BY_ZERO", Node: 7}},
	})
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_TrapCodeMismatch(t *testing.T) {
	result, err := Run(&Scenario{
		Name:    "div_zero_wrong_code",
		Program: "testdata/docs/math.cue",
		Invoke:  "div",
		Args:    []string{"i64:10", "i64:0"},
		Expect:  ExpectClause{Trap: &TrapExpect{Code: "INTEGER_OVERFLOW"}},
	})
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "expected trap code INTEGER_OVERFLOW")
}

func TestRun_TrapNodeMismatch(t *testing.T) {
	result, err := Run(&Scenario{
		Name:    "div_zero_wrong_node",
		Program: "testdata/docs/math.cue",
		Invoke:  "div",
		Args:    []string{"i64:10", "i64:0"},
		Expect:  ExpectClause{Trap: &TrapExpect{Code: "DIVIDE_BY_ZERO", Node: 3}},
	})
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "expected trap at node 3, got node 7")
}

func TestRun_RecursionLimitTrap(t *testing.T) {
	result, err := Run(&Scenario{
		Name:    "boom",
		Program: "testdata/docs/math.cue",
		Invoke:  "boom",
		Config:  RunConfig{RecursionLimit: 8},
		Expect:  ExpectClause{Trap: &TrapExpect{Code: "RECURSION_LIMIT"}},
	})
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ViolationMatch(t *testing.T) {
	result, err := Run(&Scenario{
		Name:    "dec_negative",
		Program: "testdata/docs/math.cue",
		Invoke:  "checked_dec",
		Args:    []string{"i64:-3"},
		Expect: ExpectClause{Violation: &ViolationExpect{
			Kind:            "precondition",
			Contract:        12,
			MessageContains: "must be >= 0",
		}},
	})
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.NotNil(t, result.Outcome.Violation)
	assert.Equal(t, "-3 must be >= 0", result.Outcome.Violation.Message)
}

func TestRun_ViolationKindMismatch(t *testing.T) {
	result, err := Run(&Scenario{
		Name:    "dec_negative_wrong_kind",
		Program: "testdata/docs/math.cue",
		Invoke:  "checked_dec",
		Args:    []string{"i64:-3"},
		Expect:  ExpectClause{Violation: &ViolationExpect{Kind: "postcondition"}},
	})
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "expected postcondition violation, got precondition")
}

func TestRun_ContractHoldsReturnsValue(t *testing.T) {
	result, err := Run(&Scenario{
		Name:    "dec_positive",
		Program: "testdata/docs/math.cue",
		Invoke:  "checked_dec",
		Args:    []string{"i64:5"},
		Expect:  ExpectClause{Value: "i64:4"},
	})
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_TraceAssertions(t *testing.T) {
	result, err := Run(&Scenario{
		Name:    "add_traced",
		Program: "testdata/docs/math.cue",
		Invoke:  "add",
		Args:    []string{"i64:2", "i64:3"},
		Expect:  ExpectClause{Value: "i64:5"},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Op: "add", Node: 3},
			{Type: AssertTraceCount, Op: "param", Count: 2},
			{Type: AssertTraceCount, Op: "return", Count: 1},
		},
	})
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.NotNil(t, result.Outcome.Trace, "assertions force tracing on")
}

func TestRun_TraceAssertionFailures(t *testing.T) {
	result, err := Run(&Scenario{
		Name:    "add_bad_assertions",
		Program: "testdata/docs/math.cue",
		Invoke:  "add",
		Args:    []string{"i64:2", "i64:3"},
		Expect:  ExpectClause{Value: "i64:5"},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Op: "mul"},
			{Type: AssertTraceCount, Op: "param", Count: 3},
		},
	})
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "assertion failed: trace_contains")
	assert.Contains(t, result.Errors[0], `op "mul"`)
	assert.Contains(t, result.Errors[1], "assertion failed: trace_count")
	assert.Contains(t, result.Errors[1], "2 times")
}

func TestRun_ByRefCaptureFreshPerExecution(t *testing.T) {
	// Both the run and its determinism re-run compile fresh programs,
	// so the by-ref cell starts at zero each time and bump returns 1.
	result, err := Run(&Scenario{
		Name:    "bump_once",
		Program: "testdata/docs/state.cue",
		Invoke:  "bump",
		Expect:  ExpectClause{Value: "i64:1"},
	})
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_CompileFailureIsError(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "broken.cue")
	require.NoError(t, os.WriteFile(doc, []byte("module: {}\n"), 0o644))

	_, err := Run(&Scenario{
		Name:    "broken",
		Program: doc,
		Invoke:  "f",
		Expect:  ExpectClause{Value: "i64:1"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile")
	assert.Contains(t, err.Error(), "format_version")
}

func TestRun_UnknownFunctionIsError(t *testing.T) {
	_, err := Run(&Scenario{
		Name:    "missing_fn",
		Program: "testdata/docs/seven.cue",
		Invoke:  "eight",
		Expect:  ExpectClause{Value: "i64:8"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `function "eight" not found`)
}

func TestRun_BadArgLiteralIsError(t *testing.T) {
	_, err := Run(&Scenario{
		Name:    "bad_arg",
		Program: "testdata/docs/math.cue",
		Invoke:  "add",
		Args:    []string{"i64:2", "i64:banana"},
		Expect:  ExpectClause{Value: "i64:5"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario args")
}

func TestAssertionError_RendersTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: `op "param" exactly 3 times`,
		Actual:   "2 times",
		Trace: []engine.TraceEntry{
			{Seq: 0, Depth: 1, Node: 1, Op: "param"},
			{Seq: 1, Depth: 1, Node: 2, Op: "param"},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "assertion failed: trace_count")
	assert.Contains(t, msg, `expected: op "param" exactly 3 times`)
	assert.Contains(t, msg, "actual: 2 times")
	assert.True(t, strings.Contains(msg, "[0] depth=1 node=1 param"), "trace listing missing: %s", msg)
}
