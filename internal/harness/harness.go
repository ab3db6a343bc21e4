package harness

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/snowdamiz/lmlang-sub002/internal/compiler"
	"github.com/snowdamiz/lmlang-sub002/internal/engine"
)

// Run executes a scenario and returns its result.
//
// The scenario's document is compiled fresh, the named function is
// invoked on a real interpreter, and the outcome is checked against the
// expect clause and trace assertions. The whole execution then repeats
// from a second fresh compile; if the two canonical outcomes differ the
// scenario fails, so every scenario doubles as a determinism check.
//
// Run returns an error only for infrastructure failures (unreadable or
// uncompilable document, unknown function, malformed args). Outcome
// mismatches land in the result's Errors instead.
func Run(scenario *Scenario) (*Result, error) {
	result := NewResult(scenario.Name)

	first, err := execute(scenario)
	if err != nil {
		return nil, err
	}
	result.Outcome = first

	evaluateExpect(result, scenario, first)
	for _, assertErr := range EvaluateAssertions(first, scenario.Assertions) {
		result.AddError("%v", assertErr)
	}

	second, err := execute(scenario)
	if err != nil {
		return nil, err
	}
	a, err := first.CanonicalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode outcome: %w", err)
	}
	b, err := second.CanonicalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode outcome: %w", err)
	}
	if !bytes.Equal(a, b) {
		result.AddError("outcome not reproducible across two runs:\nfirst:  %s\nsecond: %s", a, b)
	}

	return result, nil
}

// execute compiles the scenario's document and invokes its function
// once. Each call starts from a fresh program, so by-ref capture cells
// carry no state between executions.
func execute(s *Scenario) (*engine.Outcome, error) {
	prog, err := compiler.CompileFile(s.Program)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", s.Program, err)
	}

	fn, ok := prog.FunctionByName(s.Invoke)
	if !ok {
		return nil, fmt.Errorf("function %q not found in %s", s.Invoke, s.Program)
	}

	args, err := ParseArgs(s.Args)
	if err != nil {
		return nil, fmt.Errorf("scenario args: %w", err)
	}

	opts := []engine.Option{
		engine.WithRunTokens(engine.NewFixedSource(s.runToken())),
		engine.WithTracing(s.traced()),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	if s.Config.RecursionLimit > 0 {
		opts = append(opts, engine.WithRecursionLimit(s.Config.RecursionLimit))
	}

	eng, err := engine.New(prog, opts...)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	return eng.Invoke(fn.ID, args), nil
}

// evaluateExpect checks the outcome against the scenario's expect
// clause, recording mismatches on the result.
func evaluateExpect(result *Result, s *Scenario, out *engine.Outcome) {
	switch e := s.Expect; {
	case e.Value != "":
		expectValue(result, e.Value, out)
	case e.Trap != nil:
		expectTrap(result, e.Trap, out)
	case e.Violation != nil:
		expectViolation(result, e.Violation, out)
	}
}

func expectValue(result *Result, literal string, out *engine.Outcome) {
	want, err := ParseArg(literal)
	if err != nil {
		result.AddError("expect.value: %v", err)
		return
	}
	if out.Kind() != engine.OutcomeValue {
		result.AddError("expected value %s, got %s", literal, describeOutcome(out))
		return
	}
	if !want.Equal(out.Value) {
		result.AddError("expected value %s, got %s", want.Text(), out.Value.Text())
	}
}

func expectTrap(result *Result, want *TrapExpect, out *engine.Outcome) {
	if out.Kind() != engine.OutcomeTrap {
		result.AddError("expected trap %s, got %s", want.Code, describeOutcome(out))
		return
	}
	trap := out.Trap
	if string(trap.Code) != want.Code {
		result.AddError("expected trap code %s, got %s (%s)", want.Code, trap.Code, trap.Message)
	}
	if want.Node != 0 && uint64(trap.Node) != uint64(want.Node) {
		result.AddError("expected trap at node %d, got node %d", want.Node, trap.Node)
	}
}

func expectViolation(result *Result, want *ViolationExpect, out *engine.Outcome) {
	if out.Kind() != engine.OutcomeViolation {
		result.AddError("expected %s violation, got %s", want.Kind, describeOutcome(out))
		return
	}
	v := out.Violation
	if v.Kind.String() != want.Kind {
		result.AddError("expected %s violation, got %s", want.Kind, v.Kind)
	}
	if want.Contract != 0 && uint64(v.Contract) != uint64(want.Contract) {
		result.AddError("expected violation at contract node %d, got node %d", want.Contract, v.Contract)
	}
	if want.MessageContains != "" && !strings.Contains(v.Message, want.MessageContains) {
		result.AddError("violation message %q does not contain %q", v.Message, want.MessageContains)
	}
}

// describeOutcome renders the actual outcome for mismatch messages,
// with enough detail to diagnose without re-running.
func describeOutcome(out *engine.Outcome) string {
	switch out.Kind() {
	case engine.OutcomeTrap:
		return fmt.Sprintf("trap %s at node %d (%s)", out.Trap.Code, out.Trap.Node, out.Trap.Message)
	case engine.OutcomeViolation:
		return fmt.Sprintf("%s violation at node %d (%s)", out.Violation.Kind, out.Violation.Contract, out.Violation.Message)
	default:
		if out.Value == nil {
			return "value <nil>"
		}
		return "value " + out.Value.Text()
	}
}
