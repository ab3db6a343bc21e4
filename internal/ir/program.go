package ir

import "slices"

// Program owns one complete program: the type registry, the module tree,
// and every function graph. Entity tables are flat maps keyed by opaque
// ids; id allocators are monotonic and never reuse a removed id.
//
// A Program is not safe for concurrent mutation. The interpreter treats
// it as frozen for the duration of an invocation; editors mutate it
// through the Builder between runs and revalidate afterwards.
type Program struct {
	Types *TypeRegistry
	Root  ModuleID

	modules map[ModuleID]*Module
	funcs   map[FuncID]*Function
	owner   map[FuncID]ModuleID

	nextNode   uint32
	nextEdge   uint32
	nextFunc   uint32
	nextModule uint32
}

// NewProgram creates an empty program: a registry with the scalar
// builtins and a root module named "main".
func NewProgram() *Program {
	p := &Program{
		Types:   NewTypeRegistry(),
		modules: make(map[ModuleID]*Module),
		funcs:   make(map[FuncID]*Function),
		owner:   make(map[FuncID]ModuleID),
	}
	p.nextModule++
	root := &Module{ID: ModuleID(p.nextModule), Name: "main"}
	p.modules[root.ID] = root
	p.Root = root.ID
	return p
}

// Function returns the function with the given id.
func (p *Program) Function(id FuncID) (*Function, bool) {
	f, ok := p.funcs[id]
	return f, ok
}

// FunctionByName returns the function with the given name. Names are
// unique program-wide (the validator enforces it); if duplicates exist
// anyway, the lowest id wins so resolution stays deterministic.
func (p *Program) FunctionByName(name string) (*Function, bool) {
	var best *Function
	for _, f := range p.funcs {
		if f.Name != name {
			continue
		}
		if best == nil || f.ID < best.ID {
			best = f
		}
	}
	return best, best != nil
}

// Module returns the module with the given id.
func (p *Program) Module(id ModuleID) (*Module, bool) {
	m, ok := p.modules[id]
	return m, ok
}

// ModuleOf returns the module that owns the function.
func (p *Program) ModuleOf(fn FuncID) (ModuleID, bool) {
	m, ok := p.owner[fn]
	return m, ok
}

// Functions returns all function ids in ascending order.
func (p *Program) Functions() []FuncID {
	ids := make([]FuncID, 0, len(p.funcs))
	for id := range p.funcs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Modules returns all module ids in ascending order.
func (p *Program) Modules() []ModuleID {
	ids := make([]ModuleID, 0, len(p.modules))
	for id := range p.modules {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// NodeCount sums the node tables of all functions.
func (p *Program) NodeCount() int {
	n := 0
	for _, f := range p.funcs {
		n += len(f.Nodes)
	}
	return n
}
