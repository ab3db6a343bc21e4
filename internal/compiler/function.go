package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// simpleOps are the operations spelled by their mnemonic alone.
var simpleOps = map[string]ir.Operation{
	"add":    ir.Arith{Kind: ir.ArithAdd},
	"sub":    ir.Arith{Kind: ir.ArithSub},
	"mul":    ir.Arith{Kind: ir.ArithMul},
	"div":    ir.Arith{Kind: ir.ArithDiv},
	"rem":    ir.Arith{Kind: ir.ArithRem},
	"cmp.eq": ir.Cmp{Kind: ir.CmpEq},
	"cmp.ne": ir.Cmp{Kind: ir.CmpNe},
	"cmp.lt": ir.Cmp{Kind: ir.CmpLt},
	"cmp.le": ir.Cmp{Kind: ir.CmpLe},
	"cmp.gt": ir.Cmp{Kind: ir.CmpGt},
	"cmp.ge": ir.Cmp{Kind: ir.CmpGe},
	"and":    ir.Logic{Kind: ir.LogicAnd},
	"or":     ir.Logic{Kind: ir.LogicOr},
	"xor":    ir.Logic{Kind: ir.LogicXor},
	"not":    ir.Logic{Kind: ir.LogicNot},
	"shl":    ir.Shift{Kind: ir.ShiftLeft},
	"shr":    ir.Shift{Kind: ir.ShiftRight},
	"neg":    ir.Unary{Kind: ir.UnaryNeg},
	"abs":    ir.Unary{Kind: ir.UnaryAbs},
	"load":   ir.Load{},
	"store":  ir.Store{},
	"print":  ir.Print{},
	"branch": ir.Branch{},
	"return": ir.Return{},
	"result": ir.ResultRef{},
}

var contractKinds = map[string]ir.ContractKind{
	"require":   ir.ContractPrecondition,
	"ensure":    ir.ContractPostcondition,
	"invariant": ir.ContractInvariant,
}

var captureModes = map[string]ir.CaptureMode{
	"by_value": ir.CaptureByValue,
	"by_ref":   ir.CaptureByRef,
}

var flowConds = map[string]ir.FlowCond{
	"always":     ir.FlowAlways,
	"when_true":  ir.FlowWhenTrue,
	"when_false": ir.FlowWhenFalse,
}

// compileBody fills in one function graph: captures, then nodes, then
// value and flow edges. Node labels are local to the function; edges
// reference them by name.
func (c *compiler) compileBody(bd body) error {
	if err := c.compileCaptures(bd); err != nil {
		return err
	}
	labels, err := c.compileNodes(bd)
	if err != nil {
		return err
	}
	if err := c.compileValueEdges(bd, labels); err != nil {
		return err
	}
	return c.compileFlowEdges(bd, labels)
}

func (c *compiler) compileCaptures(bd body) error {
	cv := bd.v.LookupPath(cue.ParsePath("captures"))
	if !cv.Exists() {
		return nil
	}
	iter, err := cv.List()
	if err != nil {
		return formatCUEError(bd.field+".captures", err)
	}
	for i := 0; iter.Next(); i++ {
		item := iter.Value()
		field := fmt.Sprintf("%s.captures[%d]", bd.field, i)
		name, err := item.LookupPath(cue.ParsePath("name")).String()
		if err != nil {
			return formatCUEError(field+".name", err)
		}
		mode := ir.CaptureByValue
		if mv := item.LookupPath(cue.ParsePath("mode")); mv.Exists() {
			s, err := mv.String()
			if err != nil {
				return formatCUEError(field+".mode", err)
			}
			m, ok := captureModes[s]
			if !ok {
				return errf(ErrCodeCapture, field+".mode", mv.Pos(), "mode %q is not by_value or by_ref", s)
			}
			mode = m
		}
		typ, err := parseTypeRef(c.b.Program().Types, item.LookupPath(cue.ParsePath("type")), field+".type")
		if err != nil {
			return err
		}
		bound := item.LookupPath(cue.ParsePath("value"))
		if !bound.Exists() {
			return errf(ErrCodeCapture, field, item.Pos(), "capture needs a bound value")
		}
		val, err := parseValue(bound, field+".value")
		if err != nil {
			return err
		}
		if _, err := c.b.AddCapture(bd.fn, name, mode, typ, &ir.CaptureCell{Value: val}); err != nil {
			return errf(ErrCodeCapture, field, item.Pos(), "%v", err)
		}
	}
	return nil
}

func (c *compiler) compileNodes(bd body) (map[string]ir.NodeID, error) {
	nodesVal := bd.v.LookupPath(cue.ParsePath("nodes"))
	if !nodesVal.Exists() {
		return nil, errf(ErrCodeNode, bd.field+".nodes", bd.v.Pos(), "function needs a nodes block")
	}
	iter, err := nodesVal.Fields()
	if err != nil {
		return nil, formatCUEError(bd.field+".nodes", err)
	}
	labels := make(map[string]ir.NodeID)
	for iter.Next() {
		label := iter.Label()
		field := bd.field + ".nodes." + label
		op, err := c.parseOp(bd, label, iter.Value(), field)
		if err != nil {
			return nil, err
		}
		id, err := c.b.AddNode(bd.fn, op)
		if err != nil {
			return nil, errf(ErrCodeNode, field, iter.Value().Pos(), "%v", err)
		}
		labels[label] = id
	}
	return labels, nil
}

func (c *compiler) parseOp(bd body, label string, nv cue.Value, field string) (ir.Operation, error) {
	opVal := nv.LookupPath(cue.ParsePath("op"))
	if !opVal.Exists() {
		return nil, errf(ErrCodeNode, field, nv.Pos(), "node needs an op")
	}
	opName, err := opVal.String()
	if err != nil {
		return nil, formatCUEError(field+".op", err)
	}

	if op, ok := simpleOps[opName]; ok {
		return op, nil
	}
	if kind, ok := contractKinds[opName]; ok {
		contract := ir.Contract{Kind: kind}
		if mv := nv.LookupPath(cue.ParsePath("message")); mv.Exists() {
			contract.Message, err = mv.String()
			if err != nil {
				return nil, formatCUEError(field+".message", err)
			}
		}
		return contract, nil
	}

	switch opName {
	case "const":
		return c.parseConstOp(bd, label, nv, field)
	case "param":
		idx, err := parseIndex(nv, field)
		if err != nil {
			return nil, err
		}
		if fn, ok := c.b.Program().Function(bd.fn); ok && idx >= len(fn.Params) {
			return nil, errf(ErrCodeNode, field+".index", nv.Pos(), "param index %d outside %d parameters", idx, len(fn.Params))
		}
		return ir.Param{Index: idx}, nil
	case "capture":
		idx, err := parseIndex(nv, field)
		if err != nil {
			return nil, err
		}
		if fn, ok := c.b.Program().Function(bd.fn); ok && idx >= len(fn.Captures) {
			return nil, errf(ErrCodeNode, field+".index", nv.Pos(), "capture index %d outside %d captures", idx, len(fn.Captures))
		}
		return ir.Capture{Index: idx}, nil
	case "call":
		fnVal := nv.LookupPath(cue.ParsePath("func"))
		if !fnVal.Exists() {
			return nil, errf(ErrCodeCallee, field, nv.Pos(), "call needs a func")
		}
		name, err := fnVal.String()
		if err != nil {
			return nil, formatCUEError(field+".func", err)
		}
		callee, ok := c.funcs[name]
		if !ok {
			return nil, errf(ErrCodeCallee, field+".func", fnVal.Pos(), "unknown function %q", name)
		}
		return ir.Call{Func: callee}, nil
	}
	return nil, errf(ErrCodeNode, field+".op", opVal.Pos(), "unknown op %q", opName)
}

// parseConstOp compiles a const node. A named form references a const
// declaration; the inline form carries a literal, registered under the
// synthetic name "<function>.<label>".
func (c *compiler) parseConstOp(bd body, label string, nv cue.Value, field string) (ir.Operation, error) {
	types := c.b.Program().Types
	if refVal := nv.LookupPath(cue.ParsePath("const")); refVal.Exists() {
		name, err := refVal.String()
		if err != nil {
			return nil, formatCUEError(field+".const", err)
		}
		id, ok := types.Lookup(name)
		if !ok {
			return nil, errf(ErrCodeConst, field+".const", refVal.Pos(), "unknown const %q", name)
		}
		def, err := types.Resolve(id)
		if err != nil || def.DefKind() != "const" {
			return nil, errf(ErrCodeConst, field+".const", refVal.Pos(), "%q is not a const", name)
		}
		return ir.Const{Type: id}, nil
	}

	val, err := parseValue(nv, field)
	if err != nil {
		return nil, err
	}
	name := label
	if fn, ok := c.b.Program().Function(bd.fn); ok {
		name = fn.Name + "." + label
	}
	id, err := c.b.RegisterConst(name, val)
	if err != nil {
		return nil, errf(ErrCodeConst, field, nv.Pos(), "%v", err)
	}
	return ir.Const{Type: id}, nil
}

func parseIndex(nv cue.Value, field string) (int, error) {
	iv := nv.LookupPath(cue.ParsePath("index"))
	if !iv.Exists() {
		return 0, errf(ErrCodeNode, field, nv.Pos(), "node needs an index")
	}
	n, err := iv.Int64()
	if err != nil {
		return 0, formatCUEError(field+".index", err)
	}
	if n < 0 {
		return 0, errf(ErrCodeNode, field+".index", iv.Pos(), "index must be non-negative, got %d", n)
	}
	return int(n), nil
}

func (c *compiler) compileValueEdges(bd body, labels map[string]ir.NodeID) error {
	ev := bd.v.LookupPath(cue.ParsePath("values"))
	if !ev.Exists() {
		return nil
	}
	iter, err := ev.List()
	if err != nil {
		return formatCUEError(bd.field+".values", err)
	}
	for i := 0; iter.Next(); i++ {
		item := iter.Value()
		field := fmt.Sprintf("%s.values[%d]", bd.field, i)
		from, to, err := edgeEndpoints(item, labels, field)
		if err != nil {
			return err
		}
		port := 0
		if pv := item.LookupPath(cue.ParsePath("port")); pv.Exists() {
			n, err := pv.Int64()
			if err != nil {
				return formatCUEError(field+".port", err)
			}
			if n < 0 {
				return errf(ErrCodeEdge, field+".port", pv.Pos(), "port must be non-negative, got %d", n)
			}
			port = int(n)
		}
		if _, err := c.b.ConnectValue(bd.fn, from, to, ir.Port(port)); err != nil {
			return errf(ErrCodeEdge, field, item.Pos(), "%v", err)
		}
	}
	return nil
}

func (c *compiler) compileFlowEdges(bd body, labels map[string]ir.NodeID) error {
	fv := bd.v.LookupPath(cue.ParsePath("flows"))
	if !fv.Exists() {
		return nil
	}
	iter, err := fv.List()
	if err != nil {
		return formatCUEError(bd.field+".flows", err)
	}
	for i := 0; iter.Next(); i++ {
		item := iter.Value()
		field := fmt.Sprintf("%s.flows[%d]", bd.field, i)
		from, to, err := edgeEndpoints(item, labels, field)
		if err != nil {
			return err
		}
		when := ir.FlowAlways
		if wv := item.LookupPath(cue.ParsePath("when")); wv.Exists() {
			s, err := wv.String()
			if err != nil {
				return formatCUEError(field+".when", err)
			}
			cond, ok := flowConds[s]
			if !ok {
				return errf(ErrCodeEdge, field+".when", wv.Pos(), "when %q is not always, when_true, or when_false", s)
			}
			when = cond
		}
		if _, err := c.b.ConnectFlow(bd.fn, from, to, when); err != nil {
			return errf(ErrCodeEdge, field, item.Pos(), "%v", err)
		}
	}
	return nil
}

func edgeEndpoints(item cue.Value, labels map[string]ir.NodeID, field string) (ir.NodeID, ir.NodeID, error) {
	from, err := edgeEndpoint(item, labels, field, "from")
	if err != nil {
		return 0, 0, err
	}
	to, err := edgeEndpoint(item, labels, field, "to")
	if err != nil {
		return 0, 0, err
	}
	return from, to, nil
}

func edgeEndpoint(item cue.Value, labels map[string]ir.NodeID, field, side string) (ir.NodeID, error) {
	sv := item.LookupPath(cue.ParsePath(side))
	if !sv.Exists() {
		return 0, errf(ErrCodeEdge, field, item.Pos(), "edge needs a %s node", side)
	}
	label, err := sv.String()
	if err != nil {
		return 0, formatCUEError(field+"."+side, err)
	}
	id, ok := labels[label]
	if !ok {
		return 0, errf(ErrCodeEdge, field+"."+side, sv.Pos(), "unknown node %q", label)
	}
	return id, nil
}
