package ir

// Node is one operation in a function graph. The node's behavior lives
// entirely in Op; the node itself is just an addressable shell.
type Node struct {
	ID NodeID
	Op Operation
}

// Operation is a sealed interface over the operation catalog. Concrete
// operations are small value types; the interpreter dispatches on the
// dynamic type. New operations require a new concrete type here plus an
// evaluation case in the engine - the catalog is closed by design of the
// representation, not extensible at runtime.
type Operation interface {
	op() // Sealed - only catalog types implement it

	// Describe returns the stable mnemonic used in traces, diagnostics,
	// and exports: "const", "add", "cmp.lt", "branch", ...
	Describe() string

	// Arity returns the number of input ports, or -1 when the arity comes
	// from elsewhere (Call: the callee's parameter count).
	Arity() int

	// Effectful reports whether executing the operation has an observable
	// effect beyond producing a value. Effectful operations are forbidden
	// inside contract predicate subgraphs.
	Effectful() bool

	// Void reports whether the operation produces no output value.
	Void() bool
}

// ArithKind selects an arithmetic operation.
type ArithKind uint8

const (
	ArithAdd ArithKind = iota
	ArithSub
	ArithMul
	ArithDiv
	ArithRem
)

// String returns the mnemonic: "add", "sub", "mul", "div", "rem".
func (k ArithKind) String() string {
	switch k {
	case ArithAdd:
		return "add"
	case ArithSub:
		return "sub"
	case ArithMul:
		return "mul"
	case ArithDiv:
		return "div"
	case ArithRem:
		return "rem"
	default:
		return "arith?"
	}
}

// CmpKind selects a comparison predicate.
type CmpKind uint8

const (
	CmpEq CmpKind = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

// String returns the predicate name: "eq", "ne", "lt", "le", "gt", "ge".
func (k CmpKind) String() string {
	switch k {
	case CmpEq:
		return "eq"
	case CmpNe:
		return "ne"
	case CmpLt:
		return "lt"
	case CmpLe:
		return "le"
	case CmpGt:
		return "gt"
	case CmpGe:
		return "ge"
	default:
		return "cmp?"
	}
}

// LogicKind selects a boolean connective. And, Or, and Xor take two
// inputs; Not takes one. There is no short-circuit form: both operands
// are ordinary data dependencies and both are evaluated.
type LogicKind uint8

const (
	LogicAnd LogicKind = iota
	LogicOr
	LogicXor
	LogicNot
)

// String returns "and", "or", "xor", or "not".
func (k LogicKind) String() string {
	switch k {
	case LogicAnd:
		return "and"
	case LogicOr:
		return "or"
	case LogicXor:
		return "xor"
	case LogicNot:
		return "not"
	default:
		return "logic?"
	}
}

// ShiftKind selects a bit shift direction. Right shifts are arithmetic
// for signed operands and logical for unsigned ones.
type ShiftKind uint8

const (
	ShiftLeft ShiftKind = iota
	ShiftRight
)

// String returns "shl" or "shr".
func (k ShiftKind) String() string {
	if k == ShiftLeft {
		return "shl"
	}
	return "shr"
}

// UnaryKind selects a unary numeric operation.
type UnaryKind uint8

const (
	UnaryNeg UnaryKind = iota
	UnaryAbs
)

// String returns "neg" or "abs".
func (k UnaryKind) String() string {
	if k == UnaryNeg {
		return "neg"
	}
	return "abs"
}

// ContractKind distinguishes the three contract check points.
type ContractKind uint8

const (
	// ContractPrecondition checks at function entry, before any other
	// node evaluates.
	ContractPrecondition ContractKind = iota

	// ContractPostcondition checks after the return value is computed,
	// before it is handed to the caller.
	ContractPostcondition

	// ContractInvariant checks at entry and exit of calls that cross a
	// module boundary, including top-level invocations.
	ContractInvariant
)

// String returns "precondition", "postcondition", or "invariant".
func (k ContractKind) String() string {
	switch k {
	case ContractPrecondition:
		return "precondition"
	case ContractPostcondition:
		return "postcondition"
	case ContractInvariant:
		return "invariant"
	default:
		return "contract?"
	}
}

// Const resolves a registered ConstDef and produces a clone of its value.
// Type must name a ConstDef registration.
type Const struct {
	Type TypeID
}

func (Const) op()              {}
func (Const) Describe() string { return "const" }
func (Const) Arity() int       { return 0 }
func (Const) Effectful() bool  { return false }
func (Const) Void() bool       { return false }

// Param produces the value of the enclosing call's parameter at Index.
type Param struct {
	Index int
}

func (Param) op()              {}
func (Param) Describe() string { return "param" }
func (Param) Arity() int       { return 0 }
func (Param) Effectful() bool  { return false }
func (Param) Void() bool       { return false }

// Capture produces the value of the function's capture cell at Index.
// By-value captures read a per-invocation snapshot; by-ref captures read
// the live shared cell.
type Capture struct {
	Index int
}

func (Capture) op()              {}
func (Capture) Describe() string { return "capture" }
func (Capture) Arity() int       { return 0 }
func (Capture) Effectful() bool  { return false }
func (Capture) Void() bool       { return false }

// ResultRef produces the pending return value. Valid only inside
// postcondition predicate subgraphs, where the return value already
// exists but has not yet been handed to the caller.
type ResultRef struct{}

func (ResultRef) op()              {}
func (ResultRef) Describe() string { return "result" }
func (ResultRef) Arity() int       { return 0 }
func (ResultRef) Effectful() bool  { return false }
func (ResultRef) Void() bool       { return false }

// Arith applies a binary arithmetic operation to two numeric inputs of
// the same kind. Integer forms are fixed-width and checked: overflow,
// division by zero, and MinValue/-1 trap rather than wrap.
type Arith struct {
	Kind ArithKind
}

func (Arith) op()                {}
func (a Arith) Describe() string { return a.Kind.String() }
func (Arith) Arity() int         { return 2 }
func (Arith) Effectful() bool    { return false }
func (Arith) Void() bool         { return false }

// Cmp compares two inputs of the same kind and produces a bool. Ordering
// predicates require numeric or string inputs; eq and ne accept any kind.
type Cmp struct {
	Kind CmpKind
}

func (Cmp) op()                {}
func (c Cmp) Describe() string { return "cmp." + c.Kind.String() }
func (Cmp) Arity() int         { return 2 }
func (Cmp) Effectful() bool    { return false }
func (Cmp) Void() bool         { return false }

// Logic applies a boolean connective.
type Logic struct {
	Kind LogicKind
}

func (Logic) op()                {}
func (l Logic) Describe() string { return l.Kind.String() }

// Arity is 1 for Not and 2 for the binary connectives.
func (l Logic) Arity() int {
	if l.Kind == LogicNot {
		return 1
	}
	return 2
}
func (Logic) Effectful() bool { return false }
func (Logic) Void() bool      { return false }

// Shift shifts an integer (port 0) by an integer amount (port 1).
// Amounts that are negative or not below the operand width trap.
type Shift struct {
	Kind ShiftKind
}

func (Shift) op()                {}
func (s Shift) Describe() string { return s.Kind.String() }
func (Shift) Arity() int         { return 2 }
func (Shift) Effectful() bool    { return false }
func (Shift) Void() bool         { return false }

// Unary applies a unary numeric operation. Negating or taking the
// absolute value of a signed integer's minimum traps.
type Unary struct {
	Kind UnaryKind
}

func (Unary) op()                {}
func (u Unary) Describe() string { return u.Kind.String() }
func (Unary) Arity() int         { return 1 }
func (Unary) Effectful() bool    { return false }
func (Unary) Void() bool         { return false }

// Load reads an array element: port 0 the array, port 1 the index.
// Out-of-range indexes trap.
type Load struct{}

func (Load) op()              {}
func (Load) Describe() string { return "load" }
func (Load) Arity() int       { return 2 }
func (Load) Effectful() bool  { return false }
func (Load) Void() bool       { return false }

// Branch reads a boolean (port 0) and activates its conditional flow
// successors: when-true edges if the input is true, when-false edges if
// it is false. It produces no value.
type Branch struct{}

func (Branch) op()              {}
func (Branch) Describe() string { return "branch" }
func (Branch) Arity() int       { return 1 }
func (Branch) Effectful() bool  { return false }
func (Branch) Void() bool       { return true }

// Store writes an array element in place: port 0 the array, port 1 the
// index, port 2 the value. Out-of-range indexes trap. The mutation is
// visible through every alias of the array's backing storage.
type Store struct{}

func (Store) op()              {}
func (Store) Describe() string { return "store" }
func (Store) Arity() int       { return 3 }
func (Store) Effectful() bool  { return true }
func (Store) Void() bool       { return true }

// Print writes the text rendering of its input plus a newline to the
// engine's configured writer.
type Print struct{}

func (Print) op()              {}
func (Print) Describe() string { return "print" }
func (Print) Arity() int       { return 1 }
func (Print) Effectful() bool  { return true }
func (Print) Void() bool       { return true }

// Call invokes another function. Ports 0..arity-1 carry the arguments in
// parameter order; the callee's return value becomes the node's value.
type Call struct {
	Func FuncID
}

func (Call) op()              {}
func (Call) Describe() string { return "call" }
func (Call) Arity() int       { return -1 }
func (Call) Effectful() bool  { return false } // effect depends on the callee; see FunctionEffects
func (Call) Void() bool       { return false }

// Return ends the invocation with the value on port 0. A function may
// hold several Return nodes; the first one executed wins and the rest
// are never reached.
type Return struct{}

func (Return) op()              {}
func (Return) Describe() string { return "return" }
func (Return) Arity() int       { return 1 }
func (Return) Effectful() bool  { return false }
func (Return) Void() bool       { return true }

// Contract checks the boolean on port 0 at the point its Kind names. A
// false input stops the invocation with a contract violation carrying the
// rendered Message. The message may interpolate {param.<name>} and, for
// postconditions, {result}.
type Contract struct {
	Kind    ContractKind
	Message string
}

func (Contract) op() {}

// Describe returns "require", "ensure", or "invariant".
func (c Contract) Describe() string {
	switch c.Kind {
	case ContractPrecondition:
		return "require"
	case ContractPostcondition:
		return "ensure"
	default:
		return "invariant"
	}
}
func (Contract) Arity() int      { return 1 }
func (Contract) Effectful() bool { return false }
func (Contract) Void() bool      { return true }

// OpAttrs returns the operation's distinguishing fields as a plain map,
// keyed in snake_case. Fingerprinting and the graph exporter consume it;
// the "op" key always holds the Describe mnemonic.
func OpAttrs(op Operation) map[string]any {
	attrs := map[string]any{"op": op.Describe()}
	switch o := op.(type) {
	case Const:
		attrs["type"] = int64(o.Type)
	case Param:
		attrs["index"] = int64(o.Index)
	case Capture:
		attrs["index"] = int64(o.Index)
	case Call:
		attrs["func"] = int64(o.Func)
	case Contract:
		attrs["kind"] = o.Kind.String()
		attrs["message"] = o.Message
	}
	return attrs
}
