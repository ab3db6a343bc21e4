package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/snowdamiz/lmlang-sub002/internal/compiler"
	"github.com/snowdamiz/lmlang-sub002/internal/harness"
	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// loadProgram compiles a single graph document into a program.
// Missing or unreadable paths surface as command errors (exit 2)
// before compilation is attempted.
func loadProgram(path string) (*ir.Program, error) {
	if err := statDocument(path); err != nil {
		return nil, err
	}
	return compiler.CompileFile(path)
}

func statDocument(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("document not found: %s", path))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot access document", err)
	}
	if info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("not a document file: %s", path))
	}
	return nil
}

// ProgramSummary counts what a compiled document contains.
type ProgramSummary struct {
	Modules   int `json:"modules"`
	Functions int `json:"functions"`
	Nodes     int `json:"nodes"`
	Edges     int `json:"edges"`
}

func summarize(prog *ir.Program) ProgramSummary {
	s := ProgramSummary{
		Modules:   len(prog.Modules()),
		Functions: len(prog.Functions()),
		Nodes:     prog.NodeCount(),
	}
	for _, id := range prog.Functions() {
		if fn, ok := prog.Function(id); ok {
			s.Edges += len(fn.Semantic) + len(fn.Flow)
		}
	}
	return s
}

// parseNamedArgs resolves --arg name:kind:literal pairs against the
// function's parameter list, producing values in declaration order.
// Every parameter must be supplied exactly once.
func parseNamedArgs(fn *ir.Function, pairs []string) ([]ir.Value, error) {
	index := make(map[string]int, len(fn.Params))
	for i, p := range fn.Params {
		index[p.Name] = i
	}

	args := make([]ir.Value, len(fn.Params))
	seen := make([]bool, len(fn.Params))
	for _, pair := range pairs {
		name, literal, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("--arg %q needs the form name:kind:literal", pair)
		}
		pos, exists := index[name]
		if !exists {
			return nil, fmt.Errorf("function %q has no parameter %q", fn.Name, name)
		}
		if seen[pos] {
			return nil, fmt.Errorf("parameter %q given twice", name)
		}
		v, err := harness.ParseArg(literal)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		args[pos] = v
		seen[pos] = true
	}

	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("parameter %q not supplied (use --arg %s:kind:literal)",
				fn.Params[i].Name, fn.Params[i].Name)
		}
	}
	return args, nil
}
