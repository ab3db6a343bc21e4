package engine

import (
	"bytes"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newEngine builds an engine over prog with a silenced logger.
func newEngine(t *testing.T, prog *ir.Program, opts ...Option) *Engine {
	t.Helper()
	eng, err := New(prog, append([]Option{WithLogger(testLogger())}, opts...)...)
	require.NoError(t, err)
	return eng
}

func addNode(t *testing.T, b *ir.Builder, fn ir.FuncID, op ir.Operation) ir.NodeID {
	t.Helper()
	id, err := b.AddNode(fn, op)
	require.NoError(t, err)
	return id
}

func connectValue(t *testing.T, b *ir.Builder, fn ir.FuncID, from, to ir.NodeID, port ir.Port) {
	t.Helper()
	_, err := b.ConnectValue(fn, from, to, port)
	require.NoError(t, err)
}

func connectFlow(t *testing.T, b *ir.Builder, fn ir.FuncID, from, to ir.NodeID, when ir.FlowCond) {
	t.Helper()
	_, err := b.ConnectFlow(fn, from, to, when)
	require.NoError(t, err)
}

func validated(t *testing.T, b *ir.Builder) *ir.Program {
	t.Helper()
	prog := b.Program()
	require.Empty(t, prog.Validate())
	return prog
}

// buildAdd assembles add(a, b) over i64, no contracts.
func buildAdd(t *testing.T) (*ir.Program, ir.FuncID) {
	t.Helper()
	b := ir.NewBuilder()
	i64 := b.Program().Types.Scalar(ir.ScalarI64)
	fn, err := b.AddFunction(b.Program().Root, "add",
		[]ir.ParamDef{{Name: "a", Type: i64}, {Name: "b", Type: i64}}, i64)
	require.NoError(t, err)

	p0 := addNode(t, b, fn, ir.Param{Index: 0})
	p1 := addNode(t, b, fn, ir.Param{Index: 1})
	sum := addNode(t, b, fn, ir.Arith{Kind: ir.ArithAdd})
	ret := addNode(t, b, fn, ir.Return{})
	connectValue(t, b, fn, p0, sum, 0)
	connectValue(t, b, fn, p1, sum, 1)
	connectValue(t, b, fn, sum, ret, 0)
	return validated(t, b), fn
}

// buildGate assembles a branch on the bool parameter: the when-true arm
// returns 1 and, when withElse, the when-false arm returns 2. Without
// the else arm a false input suppresses the only return.
func buildGate(t *testing.T, withElse bool) (*ir.Program, ir.FuncID, map[string]ir.NodeID) {
	t.Helper()
	b := ir.NewBuilder()
	boolT := b.Program().Types.Scalar(ir.ScalarBool)
	i64 := b.Program().Types.Scalar(ir.ScalarI64)
	one, err := b.RegisterConst("one", ir.I64(1))
	require.NoError(t, err)
	two, err := b.RegisterConst("two", ir.I64(2))
	require.NoError(t, err)

	fn, err := b.AddFunction(b.Program().Root, "gate",
		[]ir.ParamDef{{Name: "flag", Type: boolT}}, i64)
	require.NoError(t, err)

	ids := map[string]ir.NodeID{}
	ids["p0"] = addNode(t, b, fn, ir.Param{Index: 0})
	ids["br"] = addNode(t, b, fn, ir.Branch{})
	ids["c1"] = addNode(t, b, fn, ir.Const{Type: one})
	ids["r1"] = addNode(t, b, fn, ir.Return{})
	connectValue(t, b, fn, ids["p0"], ids["br"], 0)
	connectValue(t, b, fn, ids["c1"], ids["r1"], 0)
	connectFlow(t, b, fn, ids["br"], ids["r1"], ir.FlowWhenTrue)

	if withElse {
		ids["c2"] = addNode(t, b, fn, ir.Const{Type: two})
		ids["r2"] = addNode(t, b, fn, ir.Return{})
		connectValue(t, b, fn, ids["c2"], ids["r2"], 0)
		connectFlow(t, b, fn, ids["br"], ids["r2"], ir.FlowWhenFalse)
	}
	return validated(t, b), fn, ids
}

// buildLoop assembles loop(n) = loop(n), unbounded self recursion.
func buildLoop(t *testing.T) (*ir.Program, ir.FuncID, ir.NodeID) {
	t.Helper()
	b := ir.NewBuilder()
	i64 := b.Program().Types.Scalar(ir.ScalarI64)
	fn, err := b.AddFunction(b.Program().Root, "loop",
		[]ir.ParamDef{{Name: "n", Type: i64}}, i64)
	require.NoError(t, err)

	p0 := addNode(t, b, fn, ir.Param{Index: 0})
	call := addNode(t, b, fn, ir.Call{Func: fn})
	ret := addNode(t, b, fn, ir.Return{})
	connectValue(t, b, fn, p0, call, 0)
	connectValue(t, b, fn, call, ret, 0)
	return validated(t, b), fn, call
}

func TestNewRejectsNilProgram(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestNewRejectsInvalidProgram(t *testing.T) {
	b := ir.NewBuilder()
	i64 := b.Program().Types.Scalar(ir.ScalarI64)
	_, err := b.AddFunction(b.Program().Root, "empty", nil, i64)
	require.NoError(t, err)

	_, err = New(b.Program())
	require.Error(t, err)
	assert.True(t, IsInvalidProgram(err))
	assert.Contains(t, err.Error(), "invalid program")
}

func TestNewRejectsBadRecursionLimit(t *testing.T) {
	prog, _ := buildAdd(t)
	_, err := New(prog, WithRecursionLimit(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recursion limit")
}

func TestInvokeComputesValue(t *testing.T) {
	prog, fn := buildAdd(t)
	eng := newEngine(t, prog)

	out := eng.Invoke(fn, []ir.Value{ir.I64(1), ir.I64(2)})
	require.True(t, out.Ok())
	assert.Equal(t, OutcomeValue, out.Kind())
	assert.Equal(t, ir.I64(3), out.Value)
	assert.Equal(t, fn, out.Function)
	assert.NotEmpty(t, out.RunToken)
	assert.Equal(t, 4, out.Steps)
}

func TestInvokeUnknownFunctionTraps(t *testing.T) {
	prog, _ := buildAdd(t)
	eng := newEngine(t, prog)

	out := eng.Invoke(ir.FuncID(999), nil)
	require.NotNil(t, out.Trap)
	assert.Equal(t, OutcomeTrap, out.Kind())
	assert.Equal(t, TrapFunctionNotFound, out.Trap.Code)
	assert.Equal(t, ir.FuncID(999), out.Function)
}

func TestInvokeChecksArity(t *testing.T) {
	prog, fn := buildAdd(t)
	eng := newEngine(t, prog)

	out := eng.Invoke(fn, []ir.Value{ir.I64(1)})
	require.NotNil(t, out.Trap)
	assert.Equal(t, TrapTypeMismatch, out.Trap.Code)
	assert.Contains(t, out.Trap.Message, "takes 2 arguments, got 1")
}

func TestInvokeChecksArgumentKinds(t *testing.T) {
	prog, fn := buildAdd(t)
	eng := newEngine(t, prog)

	out := eng.Invoke(fn, []ir.Value{ir.U64(1), ir.I64(2)})
	require.NotNil(t, out.Trap)
	assert.Equal(t, TrapTypeMismatch, out.Trap.Code)
	assert.Contains(t, out.Trap.Message, "want i64, got u64")

	out = eng.Invoke(fn, []ir.Value{ir.I64(1), nil})
	require.NotNil(t, out.Trap)
	assert.Equal(t, TrapMissingValue, out.Trap.Code)
	assert.Contains(t, out.Trap.Message, "argument 1 (b) has no value")
}

func TestUnfedPortTrapsMissingValue(t *testing.T) {
	// Validation accepts under-wired inputs; they trap at evaluation.
	b := ir.NewBuilder()
	i64 := b.Program().Types.Scalar(ir.ScalarI64)
	fn, err := b.AddFunction(b.Program().Root, "halfwired",
		[]ir.ParamDef{{Name: "a", Type: i64}}, i64)
	require.NoError(t, err)
	p0 := addNode(t, b, fn, ir.Param{Index: 0})
	sum := addNode(t, b, fn, ir.Arith{Kind: ir.ArithAdd})
	ret := addNode(t, b, fn, ir.Return{})
	connectValue(t, b, fn, p0, sum, 0)
	connectValue(t, b, fn, sum, ret, 0)
	eng := newEngine(t, validated(t, b))

	out := eng.Invoke(fn, []ir.Value{ir.I64(1)})
	require.NotNil(t, out.Trap)
	assert.Equal(t, TrapMissingValue, out.Trap.Code)
	assert.Equal(t, sum, out.Trap.Node)
	assert.Contains(t, out.Trap.Message, "input port 1 has no producer")
	assert.Equal(t, "1", out.Trap.Details["port"])
}

func TestInvokeRejectsNonFiniteFloatArguments(t *testing.T) {
	b := ir.NewBuilder()
	f64 := b.Program().Types.Scalar(ir.ScalarF64)
	fn, err := b.AddFunction(b.Program().Root, "ident",
		[]ir.ParamDef{{Name: "x", Type: f64}}, f64)
	require.NoError(t, err)
	p0 := addNode(t, b, fn, ir.Param{Index: 0})
	ret := addNode(t, b, fn, ir.Return{})
	connectValue(t, b, fn, p0, ret, 0)
	eng := newEngine(t, validated(t, b))

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		out := eng.Invoke(fn, []ir.Value{ir.F64(bad)})
		require.NotNil(t, out.Trap)
		assert.Equal(t, TrapTypeMismatch, out.Trap.Code)
		assert.Contains(t, out.Trap.Message, "must be finite")
	}

	out := eng.Invoke(fn, []ir.Value{ir.F64(2.5)})
	require.True(t, out.Ok())
	assert.Equal(t, ir.F64(2.5), out.Value)
}

func TestInvokeChecksFixedArrayLength(t *testing.T) {
	b := ir.NewBuilder()
	i64 := b.Program().Types.Scalar(ir.ScalarI64)
	pair, err := b.Program().Types.Register("pair", ir.ArrayDef{Elem: i64, Len: 2})
	require.NoError(t, err)
	zero, err := b.RegisterConst("zero", ir.I64(0))
	require.NoError(t, err)
	fn, err := b.AddFunction(b.Program().Root, "first",
		[]ir.ParamDef{{Name: "xs", Type: pair}}, i64)
	require.NoError(t, err)
	pa := addNode(t, b, fn, ir.Param{Index: 0})
	zi := addNode(t, b, fn, ir.Const{Type: zero})
	ld := addNode(t, b, fn, ir.Load{})
	ret := addNode(t, b, fn, ir.Return{})
	connectValue(t, b, fn, pa, ld, 0)
	connectValue(t, b, fn, zi, ld, 1)
	connectValue(t, b, fn, ld, ret, 0)
	eng := newEngine(t, validated(t, b))

	out := eng.Invoke(fn, []ir.Value{ir.Array(ir.I64(1))})
	require.NotNil(t, out.Trap)
	assert.Equal(t, TrapTypeMismatch, out.Trap.Code)
	assert.Contains(t, out.Trap.Message, "length 2, got 1")

	out = eng.Invoke(fn, []ir.Value{ir.Array(ir.I64(7), ir.I64(8))})
	require.True(t, out.Ok())
	assert.Equal(t, ir.I64(7), out.Value)
}

func TestBranchSelectsArm(t *testing.T) {
	prog, fn, _ := buildGate(t, true)
	eng := newEngine(t, prog)

	out := eng.Invoke(fn, []ir.Value{ir.Bool(true)})
	require.True(t, out.Ok())
	assert.Equal(t, ir.I64(1), out.Value)

	out = eng.Invoke(fn, []ir.Value{ir.Bool(false)})
	require.True(t, out.Ok())
	assert.Equal(t, ir.I64(2), out.Value)
}

func TestSuppressedReturnTrapsNoReturn(t *testing.T) {
	prog, fn, _ := buildGate(t, false)
	eng := newEngine(t, prog)

	out := eng.Invoke(fn, []ir.Value{ir.Bool(false)})
	require.NotNil(t, out.Trap)
	assert.Equal(t, TrapNoReturn, out.Trap.Code)
	assert.Contains(t, out.Trap.Message, "without executing a return")
}

func TestRecursionLimitTraps(t *testing.T) {
	prog, fn, callNode := buildLoop(t)
	eng := newEngine(t, prog, WithRecursionLimit(10))

	out := eng.Invoke(fn, []ir.Value{ir.I64(0)})
	require.NotNil(t, out.Trap)
	assert.Equal(t, TrapRecursionLimit, out.Trap.Code)
	assert.Equal(t, fn, out.Trap.Function)
	assert.Equal(t, callNode, out.Trap.Node)
	assert.Equal(t, "11", out.Trap.Details["depth"])
	assert.Equal(t, "10", out.Trap.Details["limit"])
}

func TestInvokeRecoversPanics(t *testing.T) {
	prog, fn := buildAdd(t)
	eng := newEngine(t, prog)

	// Break the frozen-program rule on purpose: removing the nodes after
	// construction leaves the cached order pointing at nothing.
	f, _ := prog.Function(fn)
	for _, id := range f.SortedNodeIDs() {
		delete(f.Nodes, id)
	}

	out := eng.Invoke(fn, []ir.Value{ir.I64(1), ir.I64(2)})
	require.NotNil(t, out.Trap)
	assert.Equal(t, TrapInternal, out.Trap.Code)
	assert.Contains(t, out.Trap.Message, "panic during evaluation")
	assert.Nil(t, out.Value)
}

func TestInvokeRepeatsBitIdentical(t *testing.T) {
	prog, fn := buildAdd(t)
	eng := newEngine(t, prog,
		WithTracing(true),
		WithRunTokens(NewFixedSource("run-0", "run-0")),
	)

	first := eng.Invoke(fn, []ir.Value{ir.I64(20), ir.I64(22)})
	second := eng.Invoke(fn, []ir.Value{ir.I64(20), ir.I64(22)})
	require.True(t, first.Ok())
	require.True(t, second.Ok())

	fj, err := first.CanonicalJSON()
	require.NoError(t, err)
	sj, err := second.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, string(fj), string(sj))

	fh, err := first.Hash()
	require.NoError(t, err)
	sh, err := second.Hash()
	require.NoError(t, err)
	assert.Equal(t, fh, sh)
}

func TestInvokeDrawsRunTokensInOrder(t *testing.T) {
	prog, fn := buildAdd(t)
	eng := newEngine(t, prog, WithRunTokens(NewFixedSource("alpha", "beta")))

	assert.Equal(t, "alpha", eng.Invoke(fn, []ir.Value{ir.I64(1), ir.I64(1)}).RunToken)
	assert.Equal(t, "beta", eng.Invoke(fn, []ir.Value{ir.I64(1), ir.I64(1)}).RunToken)
}

func TestPrintWritesConfiguredWriter(t *testing.T) {
	b := ir.NewBuilder()
	i64 := b.Program().Types.Scalar(ir.ScalarI64)
	fn, err := b.AddFunction(b.Program().Root, "announce",
		[]ir.ParamDef{{Name: "x", Type: i64}}, i64)
	require.NoError(t, err)
	p0 := addNode(t, b, fn, ir.Param{Index: 0})
	pr := addNode(t, b, fn, ir.Print{})
	ret := addNode(t, b, fn, ir.Return{})
	connectValue(t, b, fn, p0, pr, 0)
	connectValue(t, b, fn, p0, ret, 0)
	connectFlow(t, b, fn, pr, ret, ir.FlowAlways)
	prog := validated(t, b)

	var buf bytes.Buffer
	eng := newEngine(t, prog, WithPrintWriter(&buf))
	out := eng.Invoke(fn, []ir.Value{ir.I64(7)})
	require.True(t, out.Ok())
	assert.Equal(t, "7\n", buf.String())
}

func TestInvokeConcurrent(t *testing.T) {
	prog, fn := buildAdd(t)
	eng := newEngine(t, prog)

	outs := make([]*Outcome, 16)
	var wg sync.WaitGroup
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i] = eng.Invoke(fn, []ir.Value{ir.I64(int64(i)), ir.I64(1)})
		}(i)
	}
	wg.Wait()

	for i, out := range outs {
		require.True(t, out.Ok())
		assert.Equal(t, ir.I64(int64(i)+1), out.Value)
	}
}
