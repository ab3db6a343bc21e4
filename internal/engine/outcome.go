package engine

import (
	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// OutcomeKind discriminates the three terminal states of an invocation.
type OutcomeKind string

const (
	// OutcomeValue means the invocation returned normally.
	OutcomeValue OutcomeKind = "value"

	// OutcomeTrap means a runtime trap aborted the invocation.
	OutcomeTrap OutcomeKind = "trap"

	// OutcomeViolation means a contract predicate read false.
	OutcomeViolation OutcomeKind = "violation"
)

// Outcome is the complete result of one invocation. Exactly one of
// Value, Trap, and Violation is set; Kind reports which. A failed
// invocation never carries a partial value.
type Outcome struct {
	// RunToken labels this invocation across logs, traces, and the run
	// store. It never influences evaluation.
	RunToken string

	// Function is the invoked function.
	Function ir.FuncID

	// Value is the returned value on success.
	Value ir.Value

	// Trap is the runtime error that aborted the invocation, if any.
	Trap *RuntimeError

	// Violation is the failed contract check, if any.
	Violation *ContractViolation

	// Trace holds the recorded executions when tracing was enabled,
	// nil otherwise.
	Trace []TraceEntry

	// Steps counts dynamic node executions, contract predicates
	// included. It is filled even when tracing is off.
	Steps int
}

// Kind reports which terminal state the outcome is in.
func (o *Outcome) Kind() OutcomeKind {
	switch {
	case o.Trap != nil:
		return OutcomeTrap
	case o.Violation != nil:
		return OutcomeViolation
	default:
		return OutcomeValue
	}
}

// Ok reports whether the invocation returned normally.
func (o *Outcome) Ok() bool { return o.Trap == nil && o.Violation == nil }

// CanonicalJSON encodes the outcome in canonical form. The encoding is
// byte-stable: two equal outcomes always encode identically, which is
// what golden traces and the run store compare.
func (o *Outcome) CanonicalJSON() ([]byte, error) {
	return ir.MarshalCanonical(o.doc())
}

// Hash fingerprints the canonical encoding with the outcome domain.
// Determinism checks compare hashes instead of raw payloads.
func (o *Outcome) Hash() (string, error) {
	data, err := o.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ir.HashOutcome(data), nil
}

func (o *Outcome) doc() map[string]any {
	doc := map[string]any{
		"run":   o.RunToken,
		"fn":    o.Function,
		"kind":  string(o.Kind()),
		"steps": o.Steps,
	}
	switch {
	case o.Trap != nil:
		doc["trap"] = trapDoc(o.Trap)
	case o.Violation != nil:
		doc["violation"] = violationDoc(o.Violation)
	default:
		if o.Value != nil {
			doc["value"] = o.Value
		}
	}
	if o.Trace != nil {
		entries := make([]any, len(o.Trace))
		for i, t := range o.Trace {
			entries[i] = t.doc()
		}
		doc["trace"] = entries
	}
	return doc
}

func trapDoc(t *RuntimeError) map[string]any {
	doc := map[string]any{
		"code":    string(t.Code),
		"message": t.Message,
	}
	if t.Function.IsValid() {
		doc["fn"] = t.Function
	}
	if t.Node.IsValid() {
		doc["node"] = t.Node
	}
	if len(t.Details) > 0 {
		details := make(map[string]any, len(t.Details))
		for k, v := range t.Details {
			details[k] = v
		}
		doc["details"] = details
	}
	return doc
}

func violationDoc(v *ContractViolation) map[string]any {
	doc := map[string]any{
		"kind":     v.Kind.String(),
		"contract": v.Contract,
		"fn":       v.Function,
		"message":  v.Message,
	}
	if len(v.Args) > 0 {
		args := make([]any, len(v.Args))
		for i, a := range v.Args {
			args[i] = a
		}
		doc["args"] = args
	}
	if v.ActualReturn != nil {
		doc["actual_return"] = v.ActualReturn
	}
	if len(v.Counterexample) > 0 {
		witness := make([]any, len(v.Counterexample))
		for i, nv := range v.Counterexample {
			witness[i] = map[string]any{"node": nv.Node, "value": nv.Value}
		}
		doc["counterexample"] = witness
	}
	return doc
}
