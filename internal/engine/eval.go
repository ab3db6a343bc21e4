package engine

import (
	"fmt"
	"math"

	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// evaluation is the per-invocation mutable state shared by all frames:
// the trace buffer, the step counter, and the predicate flag behind the
// impurity backstop. One evaluation never leaves its invocation, so no
// locking is involved.
type evaluation struct {
	eng       *Engine
	trace     *traceRecorder
	steps     int
	predicate bool // inside a contract predicate overlay
}

// frame is one function activation: arguments, resolved captures, and
// the value cache the walk fills in.
//
// Overlay frames (contract predicate evaluation) set base. Reads fall
// through to the enclosing frame's cache; writes stay in the overlay
// and die with it.
type frame struct {
	fn   *ir.Function
	info *fnInfo

	depth    int
	args     []ir.Value
	captures []ir.Value

	values   map[ir.NodeID]ir.Value
	executed map[ir.NodeID]bool
	branches map[ir.NodeID]bool

	result     ir.Value
	haveResult bool

	base *frame
}

// newFrame builds the activation for one call. By-value captures are
// cloned here, once per frame, so in-run mutations stay private to the
// invocation; by-ref captures alias the live cell.
func (ev *evaluation) newFrame(info *fnInfo, args []ir.Value, depth int) *frame {
	f := &frame{
		fn:       info.fn,
		info:     info,
		depth:    depth,
		args:     args,
		values:   make(map[ir.NodeID]ir.Value),
		executed: make(map[ir.NodeID]bool),
		branches: make(map[ir.NodeID]bool),
	}
	if n := len(info.fn.Captures); n > 0 {
		f.captures = make([]ir.Value, n)
		for i, c := range info.fn.Captures {
			if c.Cell == nil || c.Cell.Value == nil {
				continue // validation rejects unbound captures; stay defensive
			}
			v := c.Cell.Value
			if c.Mode == ir.CaptureByValue {
				v = v.Clone()
			}
			f.captures[i] = v
		}
	}
	return f
}

// overlay builds the throwaway frame a contract predicate evaluates in.
func (f *frame) overlay() *frame {
	return &frame{
		fn:       f.fn,
		info:     f.info,
		depth:    f.depth,
		args:     f.args,
		captures: f.captures,
		values:   make(map[ir.NodeID]ir.Value),
		executed: make(map[ir.NodeID]bool),
		branches: make(map[ir.NodeID]bool),
		base:     f,
	}
}

// lookup returns a node's cached value, falling through to the base
// frame for overlays.
func (f *frame) lookup(id ir.NodeID) (ir.Value, bool) {
	if v, ok := f.values[id]; ok {
		return v, true
	}
	if f.base != nil {
		return f.base.lookup(id)
	}
	return nil, false
}

// pendingResult returns the frame's not-yet-delivered return value,
// reaching through overlays to the activation that owns it.
func (f *frame) pendingResult() (ir.Value, bool) {
	if f.haveResult {
		return f.result, true
	}
	if f.base != nil {
		return f.base.pendingResult()
	}
	return nil, false
}

// suppressed reports whether a flow-guarded node is skipped this run:
// it has incoming flow edges and none is active. An edge is active when
// its source executed and, for conditional edges, the branch input
// matched the edge's polarity.
func (f *frame) suppressed(id ir.NodeID) bool {
	in := f.info.flowIn[id]
	if len(in) == 0 {
		return false
	}
	for _, e := range in {
		if !f.executed[e.From] {
			continue
		}
		switch e.When {
		case ir.FlowAlways:
			return false
		case ir.FlowWhenTrue:
			if f.branches[e.From] {
				return false
			}
		case ir.FlowWhenFalse:
			if !f.branches[e.From] {
				return false
			}
		}
	}
	return true
}

// call runs one function activation to completion: preconditions, the
// walk, postconditions, and boundary invariants at both ends.
func (ev *evaluation) call(fn *ir.Function, args []ir.Value, depth int, boundary bool) (ir.Value, error) {
	info := ev.eng.fns[fn.ID]
	if info == nil {
		return nil, trapf(TrapInternal, fn.ID, 0, "function %q has no index", fn.Name)
	}
	f := ev.newFrame(info, args, depth)

	if ev.eng.checks {
		for _, cid := range info.pre {
			if err := ev.checkContract(f, cid); err != nil {
				return nil, err
			}
		}
		if boundary {
			for _, cid := range info.inv {
				if err := ev.checkContract(f, cid); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := ev.walk(f); err != nil {
		return nil, err
	}
	if !f.haveResult {
		return nil, trapf(TrapNoReturn, fn.ID, 0, "function %q finished without executing a return node", fn.Name)
	}

	if ev.eng.checks {
		for _, cid := range info.post {
			if err := ev.checkContract(f, cid); err != nil {
				return nil, err
			}
		}
		if boundary {
			for _, cid := range info.inv {
				if err := ev.checkContract(f, cid); err != nil {
					return nil, err
				}
			}
		}
	}

	return f.result, nil
}

// walk evaluates the canonical order once. Contract nodes and their
// private feeders never run here; suppressed nodes are skipped; the
// first executed Return ends the walk.
func (ev *evaluation) walk(f *frame) error {
	for _, id := range f.info.order {
		n := f.fn.Nodes[id]
		if _, isContract := n.Op.(ir.Contract); isContract {
			continue
		}
		if f.info.tagged[id] {
			continue
		}
		if f.suppressed(id) {
			continue
		}
		if err := ev.evalNode(f, n); err != nil {
			return err
		}
		if f.haveResult {
			break
		}
	}
	return nil
}

// evalNode runs one node: gather inputs, apply the operation, record
// the trace, cache the value.
func (ev *evaluation) evalNode(f *frame, n *ir.Node) error {
	inputs, err := ev.gatherInputs(f, n)
	if err != nil {
		return err
	}
	out, err := ev.apply(f, n, inputs)
	if err != nil {
		return err
	}
	ev.steps++
	ev.trace.record(f.fn.ID, f.depth, n.ID, n.Op.Describe(), inputs, out)
	f.executed[n.ID] = true
	if !n.Op.Void() {
		f.values[n.ID] = out
	}
	return nil
}

// gatherInputs collects one value per declared port from the semantic
// producers. A port with no producer, or with a producer that never
// ran, is a missing-value trap.
func (ev *evaluation) gatherInputs(f *frame, n *ir.Node) ([]ir.Value, error) {
	arity, ok := f.fn.NodeArity(ev.eng.prog, n)
	if !ok {
		return nil, trapf(TrapFunctionNotFound, f.fn.ID, n.ID, "callee not found")
	}
	if arity <= 0 {
		return nil, nil
	}

	inputs := make([]ir.Value, arity)
	ports := f.info.producers[n.ID]
	for port := 0; port < arity; port++ {
		producer, fed := ports[ir.Port(port)]
		if !fed {
			return nil, newMissingValueError(f.fn.ID, n.ID, ir.Port(port),
				fmt.Sprintf("input port %d has no producer", port))
		}
		v, ran := f.lookup(producer)
		if !ran {
			return nil, newMissingValueError(f.fn.ID, n.ID, ir.Port(port),
				fmt.Sprintf("input port %d: producer node %d never ran", port, producer))
		}
		inputs[port] = v
	}
	return inputs, nil
}

// checkArgs defends a call boundary: exact arity, no absent values, and
// scalar kinds matching the declared parameter types. Aggregates are
// checked by shape only; element types are the document compiler's
// concern. node is zero at the Invoke boundary and the Call node id for
// internal calls.
func (e *Engine) checkArgs(fn *ir.Function, args []ir.Value, node ir.NodeID) *RuntimeError {
	if len(args) != len(fn.Params) {
		return trapf(TrapTypeMismatch, fn.ID, node,
			"function %q takes %d arguments, got %d", fn.Name, len(fn.Params), len(args))
	}
	for i, p := range fn.Params {
		arg := args[i]
		if arg == nil {
			return newMissingValueError(fn.ID, node, ir.Port(i),
				fmt.Sprintf("argument %d (%s) has no value", i, p.Name))
		}
		def, err := e.prog.Types.Resolve(p.Type)
		if err != nil {
			continue // unknown parameter type; the operations will object
		}
		switch d := def.(type) {
		case ir.ScalarDef:
			if want := d.Scalar.String(); arg.Kind() != want {
				return trapf(TrapTypeMismatch, fn.ID, node,
					"argument %d (%s): want %s, got %s", i, p.Name, want, arg.Kind())
			}
			if fv, isFloat := arg.(ir.FloatValue); isFloat {
				if math.IsNaN(float64(fv)) || math.IsInf(float64(fv), 0) {
					return trapf(TrapTypeMismatch, fn.ID, node,
						"argument %d (%s): f64 value must be finite", i, p.Name)
				}
			}
		case ir.ArrayDef:
			arr, isArray := arg.(ir.ArrayValue)
			if !isArray {
				return trapf(TrapTypeMismatch, fn.ID, node,
					"argument %d (%s): want array, got %s", i, p.Name, arg.Kind())
			}
			if d.Len >= 0 && len(arr) != d.Len {
				return trapf(TrapTypeMismatch, fn.ID, node,
					"argument %d (%s): want array of length %d, got %d", i, p.Name, d.Len, len(arr))
			}
		case ir.StructDef:
			if arg.Kind() != "struct" {
				return trapf(TrapTypeMismatch, fn.ID, node,
					"argument %d (%s): want struct, got %s", i, p.Name, arg.Kind())
			}
		case ir.EnumDef:
			if arg.Kind() != "enum" {
				return trapf(TrapTypeMismatch, fn.ID, node,
					"argument %d (%s): want enum, got %s", i, p.Name, arg.Kind())
			}
		}
	}
	return nil
}
