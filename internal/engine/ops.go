package engine

import (
	"cmp"
	"fmt"
	"math"
	"math/bits"
	"strings"

	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// apply dispatches one operation over its gathered inputs. Pure
// operations return a value; void operations return nil and mutate the
// frame (Branch, Return) or the world (Store, Print).
func (ev *evaluation) apply(f *frame, n *ir.Node, in []ir.Value) (ir.Value, error) {
	if ev.predicate && n.Op.Effectful() {
		// Validation rejects effectful predicate cones statically; this
		// is the dynamic backstop behind it.
		return nil, trapf(TrapInternal, f.fn.ID, n.ID,
			"%s executed inside a contract predicate", n.Op.Describe())
	}

	fnID := f.fn.ID
	switch op := n.Op.(type) {
	case ir.Const:
		return ev.evalConst(fnID, n.ID, op)

	case ir.Param:
		if op.Index < 0 || op.Index >= len(f.args) {
			return nil, trapf(TrapInternal, fnID, n.ID,
				"param index %d outside %d arguments", op.Index, len(f.args))
		}
		return f.args[op.Index], nil

	case ir.Capture:
		if op.Index < 0 || op.Index >= len(f.captures) {
			return nil, trapf(TrapInternal, fnID, n.ID,
				"capture index %d outside %d captures", op.Index, len(f.captures))
		}
		v := f.captures[op.Index]
		if v == nil {
			return nil, newMissingValueError(fnID, n.ID, 0,
				fmt.Sprintf("capture %d has no bound value", op.Index))
		}
		return v, nil

	case ir.ResultRef:
		v, ok := f.pendingResult()
		if !ok {
			return nil, trapf(TrapInternal, fnID, n.ID, "result reference evaluated before return")
		}
		return v, nil

	case ir.Arith:
		return evalArith(fnID, n.ID, op.Kind, in[0], in[1])

	case ir.Cmp:
		return evalCmp(fnID, n.ID, op.Kind, in[0], in[1])

	case ir.Logic:
		return evalLogic(fnID, n.ID, op.Kind, in)

	case ir.Shift:
		return evalShift(fnID, n.ID, op.Kind, in[0], in[1])

	case ir.Unary:
		return evalUnary(fnID, n.ID, op.Kind, in[0])

	case ir.Load:
		return evalLoad(fnID, n.ID, in[0], in[1])

	case ir.Store:
		return nil, evalStore(fnID, n.ID, in[0], in[1], in[2])

	case ir.Print:
		// Write errors are swallowed: the sink is an observer and must
		// not change what the program computes.
		fmt.Fprintln(ev.eng.stdout, in[0].Text())
		return nil, nil

	case ir.Branch:
		b, ok := in[0].(ir.BoolValue)
		if !ok {
			return nil, trapf(TrapTypeMismatch, fnID, n.ID, "branch wants bool, got %s", in[0].Kind())
		}
		f.branches[n.ID] = bool(b)
		return nil, nil

	case ir.Call:
		return ev.evalCall(f, n, op, in)

	case ir.Return:
		f.result = in[0]
		f.haveResult = true
		return nil, nil

	case ir.Contract:
		// The walk skips contract nodes; only checkContract reads them.
		return nil, trapf(TrapInternal, fnID, n.ID, "contract node evaluated in walk position")

	default:
		return nil, trapf(TrapInternal, fnID, n.ID, "unknown operation %T", n.Op)
	}
}

// evalConst resolves the referenced const registration and clones its
// value, so a later Store can never reach the registry.
func (ev *evaluation) evalConst(fn ir.FuncID, node ir.NodeID, op ir.Const) (ir.Value, error) {
	def, err := ev.eng.prog.Types.Resolve(op.Type)
	if err != nil {
		return nil, trapf(TrapInternal, fn, node, "const type %d not registered", op.Type)
	}
	c, ok := def.(ir.ConstDef)
	if !ok {
		return nil, trapf(TrapInternal, fn, node,
			"const type %d is %s, not a const registration", op.Type, def.DefKind())
	}
	if c.Value == nil {
		return nil, trapf(TrapInternal, fn, node, "const type %d has no value", op.Type)
	}
	return c.Value.Clone(), nil
}

// evalCall descends into the callee. The depth check happens before the
// descent, so a run that traps on the limit never starts frame limit+1.
func (ev *evaluation) evalCall(f *frame, n *ir.Node, op ir.Call, in []ir.Value) (ir.Value, error) {
	callee, ok := ev.eng.prog.Function(op.Func)
	if !ok {
		return nil, trapf(TrapFunctionNotFound, f.fn.ID, n.ID, "function %d not found", op.Func)
	}
	next := f.depth + 1
	if next > ev.eng.limit {
		return nil, newRecursionError(f.fn.ID, n.ID, next, ev.eng.limit)
	}
	if trap := ev.eng.checkArgs(callee, in, n.ID); trap != nil {
		return nil, trap
	}
	boundary := ev.eng.moduleOf[f.fn.ID] != ev.eng.moduleOf[callee.ID]
	return ev.call(callee, in, next, boundary)
}

func evalArith(fn ir.FuncID, node ir.NodeID, kind ir.ArithKind, a, b ir.Value) (ir.Value, error) {
	switch av := a.(type) {
	case ir.IntValue:
		bv, ok := b.(ir.IntValue)
		if !ok || bv.Bits != av.Bits || bv.Signed != av.Signed {
			return nil, operandMismatch(fn, node, kind.String(), a, b)
		}
		if av.Signed {
			return signedArith(fn, node, kind, av, bv)
		}
		return unsignedArith(fn, node, kind, av, bv)
	case ir.FloatValue:
		bv, ok := b.(ir.FloatValue)
		if !ok {
			return nil, operandMismatch(fn, node, kind.String(), a, b)
		}
		return floatArith(fn, node, kind, av, bv)
	default:
		return nil, trapf(TrapTypeMismatch, fn, node,
			"%s wants numeric operands, got %s", kind, a.Kind())
	}
}

// signedArith computes in int64 and range-checks against the declared
// width. Only the 64-bit forms need Go-level overflow detection; for
// narrower widths int64 arithmetic is exact.
func signedArith(fn ir.FuncID, node ir.NodeID, kind ir.ArithKind, a, b ir.IntValue) (ir.Value, error) {
	var r int64
	switch kind {
	case ir.ArithAdd:
		if a.Bits == 64 && addOverflows64(a.V, b.V) {
			return nil, arithOverflow(fn, node, kind.String(), a, b)
		}
		r = a.V + b.V
	case ir.ArithSub:
		if a.Bits == 64 && subOverflows64(a.V, b.V) {
			return nil, arithOverflow(fn, node, kind.String(), a, b)
		}
		r = a.V - b.V
	case ir.ArithMul:
		if a.Bits == 64 && mulOverflows64(a.V, b.V) {
			return nil, arithOverflow(fn, node, kind.String(), a, b)
		}
		r = a.V * b.V
	case ir.ArithDiv, ir.ArithRem:
		if b.V == 0 {
			return nil, trapf(TrapDivideByZero, fn, node, "%s by zero", kind)
		}
		// MinValue / -1 is the one quotient outside the width; Go would
		// quietly wrap it.
		if a.V == a.MinInt() && b.V == -1 {
			return nil, arithOverflow(fn, node, kind.String(), a, b)
		}
		if kind == ir.ArithDiv {
			r = a.V / b.V
		} else {
			r = a.V % b.V
		}
	default:
		return nil, trapf(TrapInternal, fn, node, "unknown arith kind %d", kind)
	}
	if a.Bits < 64 && (r < a.MinInt() || r > a.MaxInt()) {
		return nil, arithOverflow(fn, node, kind.String(), a, b)
	}
	return ir.IntValue{V: r, Bits: a.Bits, Signed: true}, nil
}

func unsignedArith(fn ir.FuncID, node ir.NodeID, kind ir.ArithKind, a, b ir.IntValue) (ir.Value, error) {
	au, bu := a.Uint(), b.Uint()
	max := maxUint(a.Bits)
	var r uint64
	switch kind {
	case ir.ArithAdd:
		r = au + bu
		if r < au || r > max {
			return nil, arithOverflow(fn, node, kind.String(), a, b)
		}
	case ir.ArithSub:
		if bu > au {
			return nil, arithOverflow(fn, node, kind.String(), a, b)
		}
		r = au - bu
	case ir.ArithMul:
		hi, lo := bits.Mul64(au, bu)
		if hi != 0 || lo > max {
			return nil, arithOverflow(fn, node, kind.String(), a, b)
		}
		r = lo
	case ir.ArithDiv, ir.ArithRem:
		if bu == 0 {
			return nil, trapf(TrapDivideByZero, fn, node, "%s by zero", kind)
		}
		if kind == ir.ArithDiv {
			r = au / bu
		} else {
			r = au % bu
		}
	default:
		return nil, trapf(TrapInternal, fn, node, "unknown arith kind %d", kind)
	}
	return uintValue(r, a.Bits), nil
}

// floatArith keeps every produced f64 finite: division and remainder by
// zero trap as such, and any other non-finite result traps as overflow.
func floatArith(fn ir.FuncID, node ir.NodeID, kind ir.ArithKind, a, b ir.FloatValue) (ir.Value, error) {
	x, y := float64(a), float64(b)
	var r float64
	switch kind {
	case ir.ArithAdd:
		r = x + y
	case ir.ArithSub:
		r = x - y
	case ir.ArithMul:
		r = x * y
	case ir.ArithDiv:
		if y == 0 {
			return nil, trapf(TrapDivideByZero, fn, node, "div by zero")
		}
		r = x / y
	case ir.ArithRem:
		if y == 0 {
			return nil, trapf(TrapDivideByZero, fn, node, "rem by zero")
		}
		r = math.Mod(x, y)
	default:
		return nil, trapf(TrapInternal, fn, node, "unknown arith kind %d", kind)
	}
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return nil, trapf(TrapIntegerOverflow, fn, node,
			"%s result is not finite: operands %s, %s", kind, a.Text(), b.Text())
	}
	return ir.FloatValue(r), nil
}

func evalCmp(fn ir.FuncID, node ir.NodeID, kind ir.CmpKind, a, b ir.Value) (ir.Value, error) {
	// Equality accepts any pair; different kinds simply compare unequal.
	switch kind {
	case ir.CmpEq:
		return ir.Bool(a.Equal(b)), nil
	case ir.CmpNe:
		return ir.Bool(!a.Equal(b)), nil
	}

	// Ordering needs two numbers or two strings of one kind.
	var c int
	switch av := a.(type) {
	case ir.IntValue:
		bv, ok := b.(ir.IntValue)
		if !ok || bv.Bits != av.Bits || bv.Signed != av.Signed {
			return nil, operandMismatch(fn, node, "cmp."+kind.String(), a, b)
		}
		if av.Signed {
			c = cmp.Compare(av.V, bv.V)
		} else {
			c = cmp.Compare(av.Uint(), bv.Uint())
		}
	case ir.FloatValue:
		bv, ok := b.(ir.FloatValue)
		if !ok {
			return nil, operandMismatch(fn, node, "cmp."+kind.String(), a, b)
		}
		c = cmp.Compare(float64(av), float64(bv))
	case ir.StringValue:
		bv, ok := b.(ir.StringValue)
		if !ok {
			return nil, operandMismatch(fn, node, "cmp."+kind.String(), a, b)
		}
		c = strings.Compare(string(av), string(bv))
	default:
		return nil, trapf(TrapTypeMismatch, fn, node,
			"cmp.%s wants numeric or string operands, got %s", kind, a.Kind())
	}

	switch kind {
	case ir.CmpLt:
		return ir.Bool(c < 0), nil
	case ir.CmpLe:
		return ir.Bool(c <= 0), nil
	case ir.CmpGt:
		return ir.Bool(c > 0), nil
	default: // CmpGe
		return ir.Bool(c >= 0), nil
	}
}

func evalLogic(fn ir.FuncID, node ir.NodeID, kind ir.LogicKind, in []ir.Value) (ir.Value, error) {
	a, ok := in[0].(ir.BoolValue)
	if !ok {
		return nil, trapf(TrapTypeMismatch, fn, node, "%s wants bool operands, got %s", kind, in[0].Kind())
	}
	if kind == ir.LogicNot {
		return ir.Bool(!bool(a)), nil
	}
	b, ok := in[1].(ir.BoolValue)
	if !ok {
		return nil, trapf(TrapTypeMismatch, fn, node, "%s wants bool operands, got %s", kind, in[1].Kind())
	}
	switch kind {
	case ir.LogicAnd:
		return ir.Bool(bool(a) && bool(b)), nil
	case ir.LogicOr:
		return ir.Bool(bool(a) || bool(b)), nil
	default: // LogicXor
		return ir.Bool(bool(a) != bool(b)), nil
	}
}

// evalShift traps amounts that are negative or not below the operand
// width, the same class as arithmetic overflow. Right shifts are
// arithmetic for signed operands and logical for unsigned; left shifts
// that drop a set bit (or flip the sign) trap.
func evalShift(fn ir.FuncID, node ir.NodeID, kind ir.ShiftKind, a, b ir.Value) (ir.Value, error) {
	av, ok := a.(ir.IntValue)
	if !ok {
		return nil, trapf(TrapTypeMismatch, fn, node, "%s wants an integer operand, got %s", kind, a.Kind())
	}
	bv, ok := b.(ir.IntValue)
	if !ok {
		return nil, trapf(TrapTypeMismatch, fn, node, "%s wants an integer amount, got %s", kind, b.Kind())
	}
	if bv.Signed && bv.V < 0 {
		return nil, trapf(TrapIntegerOverflow, fn, node, "%s amount is negative: %s", kind, bv.Text())
	}
	amount := bv.Uint()
	if amount >= uint64(av.Bits) {
		return nil, trapf(TrapIntegerOverflow, fn, node,
			"%s amount %s not below width %d", kind, bv.Text(), av.Bits)
	}
	sh := uint(amount)

	if kind == ir.ShiftRight {
		if av.Signed {
			return ir.IntValue{V: av.V >> sh, Bits: av.Bits, Signed: true}, nil
		}
		return uintValue(av.Uint()>>sh, av.Bits), nil
	}

	if av.Signed {
		r := av.V << sh
		if r>>sh != av.V || (av.Bits < 64 && (r < av.MinInt() || r > av.MaxInt())) {
			return nil, trapf(TrapIntegerOverflow, fn, node,
				"shl overflows %s: %s << %s", av.Kind(), av.Text(), bv.Text())
		}
		return ir.IntValue{V: r, Bits: av.Bits, Signed: true}, nil
	}
	u := av.Uint() << sh
	if u>>sh != av.Uint() || u > maxUint(av.Bits) {
		return nil, trapf(TrapIntegerOverflow, fn, node,
			"shl overflows %s: %s << %s", av.Kind(), av.Text(), bv.Text())
	}
	return uintValue(u, av.Bits), nil
}

func evalUnary(fn ir.FuncID, node ir.NodeID, kind ir.UnaryKind, a ir.Value) (ir.Value, error) {
	switch av := a.(type) {
	case ir.IntValue:
		if av.Signed {
			// Negation and abs both flip MinValue out of the width.
			if av.V == av.MinInt() {
				return nil, trapf(TrapIntegerOverflow, fn, node,
					"%s overflows %s: %s", kind, av.Kind(), av.Text())
			}
			v := av.V
			if kind == ir.UnaryNeg || v < 0 {
				v = -v
			}
			return ir.IntValue{V: v, Bits: av.Bits, Signed: true}, nil
		}
		// Unsigned: abs is the identity, neg of anything but zero underflows.
		if kind == ir.UnaryAbs || av.Uint() == 0 {
			return av, nil
		}
		return nil, trapf(TrapIntegerOverflow, fn, node, "neg underflows %s: %s", av.Kind(), av.Text())
	case ir.FloatValue:
		if kind == ir.UnaryNeg {
			return ir.FloatValue(-float64(av)), nil
		}
		return ir.FloatValue(math.Abs(float64(av))), nil
	default:
		return nil, trapf(TrapTypeMismatch, fn, node, "%s wants a numeric operand, got %s", kind, a.Kind())
	}
}

func evalLoad(fn ir.FuncID, node ir.NodeID, arr, idx ir.Value) (ir.Value, error) {
	av, ok := arr.(ir.ArrayValue)
	if !ok {
		return nil, trapf(TrapTypeMismatch, fn, node, "load wants an array, got %s", arr.Kind())
	}
	i, trap := arrayIndex(fn, node, len(av), idx)
	if trap != nil {
		return nil, trap
	}
	v := av[i]
	if v == nil {
		return nil, trapf(TrapMissingValue, fn, node, "array element %d has no value", i)
	}
	return v, nil
}

// evalStore writes in place. The mutation is visible through every
// alias of the array's backing storage, which is the point.
func evalStore(fn ir.FuncID, node ir.NodeID, arr, idx, val ir.Value) error {
	av, ok := arr.(ir.ArrayValue)
	if !ok {
		return trapf(TrapTypeMismatch, fn, node, "store wants an array, got %s", arr.Kind())
	}
	i, trap := arrayIndex(fn, node, len(av), idx)
	if trap != nil {
		return trap
	}
	av[i] = val
	return nil
}

// arrayIndex resolves an integer index value against the array bounds.
func arrayIndex(fn ir.FuncID, node ir.NodeID, size int, idx ir.Value) (int, *RuntimeError) {
	iv, ok := idx.(ir.IntValue)
	if !ok {
		return 0, trapf(TrapTypeMismatch, fn, node, "index wants an integer, got %s", idx.Kind())
	}
	if iv.Signed {
		if iv.V < 0 || iv.V >= int64(size) {
			return 0, newBoundsError(fn, node, iv.Text(), size)
		}
		return int(iv.V), nil
	}
	u := iv.Uint()
	if u >= uint64(size) {
		return 0, newBoundsError(fn, node, iv.Text(), size)
	}
	return int(u), nil
}

func operandMismatch(fn ir.FuncID, node ir.NodeID, op string, a, b ir.Value) *RuntimeError {
	return trapf(TrapTypeMismatch, fn, node, "%s operand kinds differ: %s vs %s", op, a.Kind(), b.Kind())
}

func arithOverflow(fn ir.FuncID, node ir.NodeID, op string, a, b ir.IntValue) *RuntimeError {
	return trapf(TrapIntegerOverflow, fn, node,
		"%s overflows %s: operands %s, %s", op, a.Kind(), a.Text(), b.Text())
}

func maxUint(bitWidth uint8) uint64 {
	if bitWidth >= 64 {
		return math.MaxUint64
	}
	return 1<<bitWidth - 1
}

// uintValue stores a masked pattern back into the zero-extended
// IntValue representation.
func uintValue(u uint64, bitWidth uint8) ir.IntValue {
	return ir.IntValue{V: int64(u & maxUint(bitWidth)), Bits: bitWidth}
}

func addOverflows64(x, y int64) bool {
	return (y > 0 && x > math.MaxInt64-y) || (y < 0 && x < math.MinInt64-y)
}

func subOverflows64(x, y int64) bool {
	return (y < 0 && x > math.MaxInt64+y) || (y > 0 && x < math.MinInt64+y)
}

func mulOverflows64(x, y int64) bool {
	if x == 0 || y == 0 {
		return false
	}
	if (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
		return true
	}
	p := x * y
	return p/y != x
}
