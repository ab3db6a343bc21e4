package engine

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// NodeValue pairs a node with the value it produced during a predicate
// evaluation. Counterexamples are lists of these.
type NodeValue struct {
	Node  ir.NodeID
	Value ir.Value
}

// ContractViolation reports a contract predicate that read false. It
// carries everything needed to reproduce the failure without re-running:
// the arguments, the pending return value for postconditions, and the
// value of every predicate input at the moment of the check.
type ContractViolation struct {
	// Kind is the contract's check point.
	Kind ir.ContractKind

	// Contract is the failed contract node.
	Contract ir.NodeID

	// Function is the function the contract belongs to.
	Function ir.FuncID

	// Message is the contract's message with {param.<name>} and
	// {result} placeholders substituted.
	Message string

	// Args are clones of the invocation arguments.
	Args []ir.Value

	// ActualReturn is a clone of the pending return value. Set only for
	// postcondition violations.
	ActualReturn ir.Value

	// Counterexample holds clones of the predicate cone's values,
	// ascending node id.
	Counterexample []NodeValue
}

func (v *ContractViolation) Error() string {
	return fmt.Sprintf("%s violated: %s (fn=%d, node=%d)", v.Kind, v.Message, v.Function, v.Contract)
}

// AsViolation extracts a *ContractViolation from an error chain.
func AsViolation(err error) (*ContractViolation, bool) {
	var v *ContractViolation
	ok := errors.As(err, &v)
	return v, ok
}

// checkContract evaluates one contract predicate in an overlay frame.
// Cone members the enclosing frame already computed are reused; the
// rest evaluate fresh and their values die with the overlay. A false
// predicate becomes a *ContractViolation; a predicate that traps
// propagates the trap.
func (ev *evaluation) checkContract(f *frame, cid ir.NodeID) error {
	op := f.fn.Nodes[cid].Op.(ir.Contract)
	ov := f.overlay()

	was := ev.predicate
	ev.predicate = true
	defer func() { ev.predicate = was }()

	for _, id := range f.info.cones[cid] {
		if id == cid {
			continue
		}
		if _, done := ov.lookup(id); done {
			continue
		}
		if err := ev.evalNode(ov, f.fn.Nodes[id]); err != nil {
			return err
		}
	}

	producer, fed := f.info.producers[cid][0]
	if !fed {
		// Validation requires the predicate port; stay defensive.
		return newMissingValueError(f.fn.ID, cid, 0, "contract predicate port has no producer")
	}
	v, ran := ov.lookup(producer)
	if !ran {
		return newMissingValueError(f.fn.ID, cid, 0,
			fmt.Sprintf("contract predicate producer node %d never ran", producer))
	}
	b, ok := v.(ir.BoolValue)
	if !ok {
		return trapf(TrapTypeMismatch, f.fn.ID, cid,
			"%s predicate wants bool, got %s", op.Describe(), v.Kind())
	}

	// The check itself is one dynamic step and one trace entry, carrying
	// the predicate value as its sole input.
	ev.steps++
	ev.trace.record(f.fn.ID, f.depth, cid, op.Describe(), []ir.Value{v}, nil)

	if !bool(b) {
		return ev.violation(f, ov, cid, op)
	}
	return nil
}

// violation assembles the ContractViolation for a false predicate. All
// captured values are clones: the violation must stay intact even if a
// later run of the same program mutates shared arrays.
func (ev *evaluation) violation(f *frame, ov *frame, cid ir.NodeID, op ir.Contract) *ContractViolation {
	v := &ContractViolation{
		Kind:     op.Kind,
		Contract: cid,
		Function: f.fn.ID,
	}

	if len(f.args) > 0 {
		v.Args = make([]ir.Value, len(f.args))
		for i, a := range f.args {
			if a != nil {
				v.Args[i] = a.Clone()
			}
		}
	}

	if op.Kind == ir.ContractPostcondition {
		if r, ok := f.pendingResult(); ok {
			v.ActualReturn = r.Clone()
		}
	}

	for _, id := range f.info.cones[cid] {
		if id == cid {
			continue
		}
		if val, ok := ov.lookup(id); ok {
			v.Counterexample = append(v.Counterexample, NodeValue{Node: id, Value: val.Clone()})
		}
	}
	slices.SortFunc(v.Counterexample, func(a, b NodeValue) int {
		return int(a.Node) - int(b.Node)
	})

	v.Message = renderMessage(op.Message, f, v)
	return v
}

// renderMessage substitutes {param.<name>} and {result} placeholders.
// An empty message renders as "predicate is false".
func renderMessage(msg string, f *frame, v *ContractViolation) string {
	if msg == "" {
		return "predicate is false"
	}
	out := msg
	for i, p := range f.fn.Params {
		if i < len(v.Args) && v.Args[i] != nil {
			out = strings.ReplaceAll(out, "{param."+p.Name+"}", v.Args[i].Text())
		}
	}
	if v.ActualReturn != nil {
		out = strings.ReplaceAll(out, "{result}", v.ActualReturn.Text())
	}
	return out
}
