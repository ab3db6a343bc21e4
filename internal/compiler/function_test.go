package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowdamiz/lmlang-sub002/internal/engine"
	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// fnDoc wraps one function body in a minimal document.
func fnDoc(body string) string {
	return "format_version: \"1.0.0\"\nmodule: functions: f: {\n" + body + "\n}"
}

func TestBranchGatesFlow(t *testing.T) {
	prog := compileDoc(t, `
		format_version: "1.0.0"
		module: functions: pick: {
			params: [{name: "flag", type: "bool"}]
			result: "i64"
			nodes: {
				flag: {op: "param", index: 0}
				br:   {op: "branch"}
				one:  {op: "const", kind: "i64", value: 1}
				two:  {op: "const", kind: "i64", value: 2}
				rt:   {op: "return"}
				rf:   {op: "return"}
			}
			values: [
				{from: "flag", to: "br"},
				{from: "one", to: "rt"},
				{from: "two", to: "rf"},
			]
			flows: [
				{from: "br", to: "one", when: "when_true"},
				{from: "br", to: "two", when: "when_false"},
			]
		}
	`)
	fn, ok := prog.FunctionByName("pick")
	require.True(t, ok)

	eng, err := engine.New(prog)
	require.NoError(t, err)

	out := eng.Invoke(fn.ID, []ir.Value{ir.Bool(true)})
	require.Equal(t, engine.OutcomeValue, out.Kind())
	assert.Equal(t, ir.I64(1), out.Value)

	out = eng.Invoke(fn.ID, []ir.Value{ir.Bool(false)})
	require.Equal(t, engine.OutcomeValue, out.Kind())
	assert.Equal(t, ir.I64(2), out.Value)

	// Inline literals land in the registry under "<function>.<label>".
	id, ok := prog.Types.Lookup("pick.one")
	require.True(t, ok)
	def, err := prog.Types.Resolve(id)
	require.NoError(t, err)
	assert.Equal(t, ir.ConstDef{Value: ir.I64(1)}, def)
}

func TestNamedConstReference(t *testing.T) {
	prog := compileDoc(t, `
		format_version: "1.0.0"
		module: {
			consts: answer: {kind: "i64", value: 42}
			functions: deliver: {
				result: "i64"
				nodes: {
					k:   {op: "const", const: "answer"}
					ret: {op: "return"}
				}
				values: [{from: "k", to: "ret"}]
			}
		}
	`)
	fn, ok := prog.FunctionByName("deliver")
	require.True(t, ok)

	eng, err := engine.New(prog)
	require.NoError(t, err)
	out := eng.Invoke(fn.ID, nil)
	require.Equal(t, engine.OutcomeValue, out.Kind())
	assert.Equal(t, ir.I64(42), out.Value)
}

func TestConstReferenceDefects(t *testing.T) {
	cerr := compileErr(t, fnDoc(`
		result: "i64"
		nodes: k: {op: "const", const: "ghost"}
	`))
	assert.Equal(t, ErrCodeConst, cerr.Code)
	assert.Contains(t, cerr.Message, `unknown const "ghost"`)

	cerr = compileErr(t, `
		format_version: "1.0.0"
		module: {
			types: point: {struct: [{name: "x", type: "i64"}]}
			functions: f: {
				result: "i64"
				nodes: k: {op: "const", const: "point"}
			}
		}
	`)
	assert.Equal(t, ErrCodeConst, cerr.Code)
	assert.Contains(t, cerr.Message, `"point" is not a const`)
}

func TestByRefCapturePersistsAcrossInvocations(t *testing.T) {
	prog := compileDoc(t, `
		format_version: "1.0.0"
		module: {
			types: slot_t: {array: {elem: "i64"}}
			functions: bump: {
				result: "i64"
				captures: [{
					name: "slot"
					mode: "by_ref"
					type: "slot_t"
					value: {kind: "array", elems: [{kind: "i64", value: 0}]}
				}]
				nodes: {
					cap: {op: "capture", index: 0}
					idx: {op: "const", kind: "i64", value: 0}
					ld:  {op: "load"}
					one: {op: "const", kind: "i64", value: 1}
					sum: {op: "add"}
					st:  {op: "store"}
					ret: {op: "return"}
				}
				values: [
					{from: "cap", to: "ld", port: 0},
					{from: "idx", to: "ld", port: 1},
					{from: "ld", to: "sum", port: 0},
					{from: "one", to: "sum", port: 1},
					{from: "cap", to: "st", port: 0},
					{from: "idx", to: "st", port: 1},
					{from: "sum", to: "st", port: 2},
					{from: "sum", to: "ret"},
				]
				flows: [{from: "st", to: "ret"}]
			}
		}
	`)
	fn, ok := prog.FunctionByName("bump")
	require.True(t, ok)
	require.Len(t, fn.Captures, 1)
	assert.Equal(t, ir.CaptureByRef, fn.Captures[0].Mode)

	eng, err := engine.New(prog)
	require.NoError(t, err)

	out := eng.Invoke(fn.ID, nil)
	require.Equal(t, engine.OutcomeValue, out.Kind())
	assert.Equal(t, ir.I64(1), out.Value)

	out = eng.Invoke(fn.ID, nil)
	require.Equal(t, engine.OutcomeValue, out.Kind())
	assert.Equal(t, ir.I64(2), out.Value)
}

func TestByValueCaptureStaysSnapshot(t *testing.T) {
	prog := compileDoc(t, `
		format_version: "1.0.0"
		module: {
			types: slot_t: {array: {elem: "i64"}}
			functions: bump: {
				result: "i64"
				captures: [{
					name: "slot"
					type: "slot_t"
					value: {kind: "array", elems: [{kind: "i64", value: 0}]}
				}]
				nodes: {
					cap: {op: "capture", index: 0}
					idx: {op: "const", kind: "i64", value: 0}
					ld:  {op: "load"}
					one: {op: "const", kind: "i64", value: 1}
					sum: {op: "add"}
					st:  {op: "store"}
					ret: {op: "return"}
				}
				values: [
					{from: "cap", to: "ld", port: 0},
					{from: "idx", to: "ld", port: 1},
					{from: "ld", to: "sum", port: 0},
					{from: "one", to: "sum", port: 1},
					{from: "cap", to: "st", port: 0},
					{from: "idx", to: "st", port: 1},
					{from: "sum", to: "st", port: 2},
					{from: "sum", to: "ret"},
				]
				flows: [{from: "st", to: "ret"}]
			}
		}
	`)
	fn, ok := prog.FunctionByName("bump")
	require.True(t, ok)
	assert.Equal(t, ir.CaptureByValue, fn.Captures[0].Mode)

	eng, err := engine.New(prog)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		out := eng.Invoke(fn.ID, nil)
		require.Equal(t, engine.OutcomeValue, out.Kind())
		assert.Equal(t, ir.I64(1), out.Value)
	}
}

func TestContractThroughDocument(t *testing.T) {
	prog := compileDoc(t, `
		format_version: "1.0.0"
		module: functions: safe_dec: {
			params: [{name: "a", type: "i64"}]
			result: "i64"
			nodes: {
				a:    {op: "param", index: 0}
				zero: {op: "const", kind: "i64", value: 0}
				ge:   {op: "cmp.ge"}
				req:  {op: "require", message: "{param.a} must be >= 0"}
				one:  {op: "const", kind: "i64", value: 1}
				diff: {op: "sub"}
				ret:  {op: "return"}
			}
			values: [
				{from: "a", to: "ge", port: 0},
				{from: "zero", to: "ge", port: 1},
				{from: "ge", to: "req"},
				{from: "a", to: "diff", port: 0},
				{from: "one", to: "diff", port: 1},
				{from: "diff", to: "ret"},
			]
		}
	`)
	fn, ok := prog.FunctionByName("safe_dec")
	require.True(t, ok)

	eng, err := engine.New(prog)
	require.NoError(t, err)

	out := eng.Invoke(fn.ID, []ir.Value{ir.I64(5)})
	require.Equal(t, engine.OutcomeValue, out.Kind())
	assert.Equal(t, ir.I64(4), out.Value)

	out = eng.Invoke(fn.ID, []ir.Value{ir.I64(-3)})
	require.Equal(t, engine.OutcomeViolation, out.Kind())
	require.NotNil(t, out.Violation)
	assert.Equal(t, ir.ContractPrecondition, out.Violation.Kind)
	assert.Equal(t, "-3 must be >= 0", out.Violation.Message)
}

func TestNodeDefects(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
		frag string
	}{
		{"no nodes block", `result: "i64"`, ErrCodeNode, "needs a nodes block"},
		{"no op", `result: "i64"` + "\n" + `nodes: x: {}`, ErrCodeNode, "needs an op"},
		{"unknown op", `result: "i64"` + "\n" + `nodes: x: {op: "frobnicate"}`, ErrCodeNode, `unknown op "frobnicate"`},
		{"no index", `result: "i64"` + "\n" + `nodes: x: {op: "param"}`, ErrCodeNode, "needs an index"},
		{"negative index", `result: "i64"` + "\n" + `nodes: x: {op: "param", index: -1}`, ErrCodeNode, "must be non-negative"},
		{"param out of range", `params: [{name: "a", type: "i64"}]` + "\n" + `result: "i64"` + "\n" + `nodes: x: {op: "param", index: 2}`, ErrCodeNode, "param index 2 outside 1 parameters"},
		{"capture out of range", `result: "i64"` + "\n" + `nodes: x: {op: "capture", index: 0}`, ErrCodeNode, "capture index 0 outside 0 captures"},
		{"call without func", `result: "i64"` + "\n" + `nodes: x: {op: "call"}`, ErrCodeCallee, "call needs a func"},
		{"call unknown func", `result: "i64"` + "\n" + `nodes: x: {op: "call", func: "ghost"}`, ErrCodeCallee, `unknown function "ghost"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cerr := compileErr(t, fnDoc(tt.body))
			assert.Equal(t, tt.code, cerr.Code)
			assert.Contains(t, cerr.Message, tt.frag)
		})
	}
}

func TestCaptureDefects(t *testing.T) {
	cerr := compileErr(t, fnDoc(`
		result: "i64"
		captures: [{name: "c", type: "i64"}]
		nodes: ret: {op: "return"}
	`))
	assert.Equal(t, ErrCodeCapture, cerr.Code)
	assert.Contains(t, cerr.Message, "needs a bound value")

	cerr = compileErr(t, fnDoc(`
		result: "i64"
		captures: [{name: "c", mode: "by_magic", type: "i64", value: {kind: "i64", value: 0}}]
		nodes: ret: {op: "return"}
	`))
	assert.Equal(t, ErrCodeCapture, cerr.Code)
	assert.Contains(t, cerr.Message, `mode "by_magic"`)
}

func TestEdgeDefects(t *testing.T) {
	tests := []struct {
		name string
		body string
		frag string
	}{
		{
			"unknown value endpoint",
			`result: "i64"` + "\n" + `nodes: ret: {op: "return"}` + "\n" + `values: [{from: "ghost", to: "ret"}]`,
			`unknown node "ghost"`,
		},
		{
			"duplicate producer",
			`result: "i64"` + "\n" +
				`nodes: {a: {op: "const", kind: "i64", value: 1}, b: {op: "const", kind: "i64", value: 2}, ret: {op: "return"}}` + "\n" +
				`values: [{from: "a", to: "ret"}, {from: "b", to: "ret"}]`,
			"already fed by node",
		},
		{
			"bad when",
			`result: "i64"` + "\n" +
				`nodes: {a: {op: "const", kind: "i64", value: 1}, ret: {op: "return"}}` + "\n" +
				`values: [{from: "a", to: "ret"}]` + "\n" +
				`flows: [{from: "a", to: "ret", when: "sometimes"}]`,
			`when "sometimes"`,
		},
		{
			"conditional from non-branch",
			`result: "i64"` + "\n" +
				`nodes: {a: {op: "const", kind: "i64", value: 1}, ret: {op: "return"}}` + "\n" +
				`values: [{from: "a", to: "ret"}]` + "\n" +
				`flows: [{from: "a", to: "ret", when: "when_true"}]`,
			"edge from non-branch node",
		},
		{
			"negative port",
			`result: "i64"` + "\n" +
				`nodes: {a: {op: "const", kind: "i64", value: 1}, ret: {op: "return"}}` + "\n" +
				`values: [{from: "a", to: "ret", port: -1}]`,
			"port must be non-negative",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cerr := compileErr(t, fnDoc(tt.body))
			assert.Equal(t, ErrCodeEdge, cerr.Code)
			assert.Contains(t, cerr.Message, tt.frag)
		})
	}
}
