package store

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/snowdamiz/lmlang-sub002/internal/engine"
	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// createTestStore creates a fresh on-disk store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// buildAddProgram assembles add(a, b) = a + b over i64.
func buildAddProgram(t *testing.T) (*ir.Program, ir.FuncID) {
	t.Helper()
	b := ir.NewBuilder()
	i64 := b.Program().Types.Scalar(ir.ScalarI64)
	fn, err := b.AddFunction(b.Program().Root, "add",
		[]ir.ParamDef{{Name: "a", Type: i64}, {Name: "b", Type: i64}}, i64)
	if err != nil {
		t.Fatalf("AddFunction() failed: %v", err)
	}

	p0 := mustNode(t, b, fn, ir.Param{Index: 0})
	p1 := mustNode(t, b, fn, ir.Param{Index: 1})
	sum := mustNode(t, b, fn, ir.Arith{Kind: ir.ArithAdd})
	ret := mustNode(t, b, fn, ir.Return{})
	mustValue(t, b, fn, p0, sum, 0)
	mustValue(t, b, fn, p1, sum, 1)
	mustValue(t, b, fn, sum, ret, 0)

	prog := b.Program()
	if errs := prog.Validate(); len(errs) != 0 {
		t.Fatalf("Validate() reported %d errors: %v", len(errs), errs)
	}
	return prog, fn
}

func mustNode(t *testing.T, b *ir.Builder, fn ir.FuncID, op ir.Operation) ir.NodeID {
	t.Helper()
	id, err := b.AddNode(fn, op)
	if err != nil {
		t.Fatalf("AddNode() failed: %v", err)
	}
	return id
}

func mustValue(t *testing.T, b *ir.Builder, fn ir.FuncID, from, to ir.NodeID, port ir.Port) {
	t.Helper()
	if _, err := b.ConnectValue(fn, from, to, port); err != nil {
		t.Fatalf("ConnectValue() failed: %v", err)
	}
}

// runAdd invokes add(2, 3) with a pinned run token and returns the
// outcome plus write-ready metadata.
func runAdd(t *testing.T, prog *ir.Program, fn ir.FuncID, token string, traced bool) (*engine.Outcome, RunMeta) {
	t.Helper()
	eng, err := engine.New(prog,
		engine.WithRunTokens(engine.NewFixedSource(token)),
		engine.WithTracing(traced),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("engine.New() failed: %v", err)
	}

	out := eng.Invoke(fn, []ir.Value{ir.I64(2), ir.I64(3)})
	if !out.Ok() {
		t.Fatalf("Invoke() did not produce a value: %s", out.Kind())
	}

	meta := RunMeta{
		ProgramHash:    ir.MustFingerprintProgram(prog),
		FunctionName:   "add",
		Args:           []ir.Value{ir.I64(2), ir.I64(3)},
		RecursionLimit: engine.DefaultRecursionLimit,
		ContractChecks: true,
		EngineVersion:  ir.EngineVersion,
		IRVersion:      ir.IRVersion,
	}
	return out, meta
}
