package ir

import (
	"fmt"
	"slices"
)

// Builder is the mutation surface of a Program. Editors, the document
// compiler, and test fixtures all construct graphs through it; nothing
// else writes to a Program's tables. The Builder checks referential
// integrity eagerly (unknown ids fail at the call site), while whole-graph
// properties such as acyclicity are the validator's job.
type Builder struct {
	prog *Program
}

// NewBuilder creates a Builder over a fresh empty program.
func NewBuilder() *Builder {
	return &Builder{prog: NewProgram()}
}

// Program returns the underlying program. The Builder remains usable; the
// program and the Builder share state.
func (b *Builder) Program() *Program { return b.prog }

// RegisterType adds a named type definition to the program's registry.
func (b *Builder) RegisterType(name string, def TypeDef) (TypeID, error) {
	return b.prog.Types.Register(name, def)
}

// RegisterConst registers a constant literal under the given name and
// returns the TypeID a Const node uses to reference it.
func (b *Builder) RegisterConst(name string, v Value) (TypeID, error) {
	if v == nil {
		return 0, fmt.Errorf("const %q: nil value", name)
	}
	return b.prog.Types.Register(name, ConstDef{Value: v.Clone()})
}

// AddModule creates a child module under parent.
func (b *Builder) AddModule(parent ModuleID, name string) (ModuleID, error) {
	pm, ok := b.prog.modules[parent]
	if !ok {
		return 0, fmt.Errorf("add module %q: parent module %d not found", name, parent)
	}
	b.prog.nextModule++
	m := &Module{ID: ModuleID(b.prog.nextModule), Name: name, Parent: parent}
	b.prog.modules[m.ID] = m
	pm.Children = append(pm.Children, m.ID)
	return m.ID, nil
}

// AddFunction creates an empty function graph owned by mod.
func (b *Builder) AddFunction(mod ModuleID, name string, params []ParamDef, result TypeID) (FuncID, error) {
	m, ok := b.prog.modules[mod]
	if !ok {
		return 0, fmt.Errorf("add function %q: module %d not found", name, mod)
	}
	b.prog.nextFunc++
	f := &Function{
		ID:       FuncID(b.prog.nextFunc),
		Name:     name,
		Params:   slices.Clone(params),
		Result:   result,
		Nodes:    make(map[NodeID]*Node),
		Semantic: make(map[EdgeID]*SemanticEdge),
		Flow:     make(map[EdgeID]*FlowEdge),
	}
	b.prog.funcs[f.ID] = f
	b.prog.owner[f.ID] = mod
	m.Functions = append(m.Functions, f.ID)
	return f.ID, nil
}

// AddCapture appends a capture slot to the function and returns its
// index. For by-value captures the cell's current value is deep-copied
// into a private cell; for by-ref captures the given cell is aliased as
// is (pass the same *CaptureCell to several functions to share it).
func (b *Builder) AddCapture(fn FuncID, name string, mode CaptureMode, typ TypeID, cell *CaptureCell) (int, error) {
	f, ok := b.prog.funcs[fn]
	if !ok {
		return 0, fmt.Errorf("add capture %q: function %d not found", name, fn)
	}
	if cell == nil {
		return 0, fmt.Errorf("add capture %q: nil cell", name)
	}
	def := CaptureDef{Name: name, Mode: mode, Type: typ, Cell: cell}
	if mode == CaptureByValue {
		snap := &CaptureCell{}
		if cell.Value != nil {
			snap.Value = cell.Value.Clone()
		}
		def.Cell = snap
	}
	f.Captures = append(f.Captures, def)
	return len(f.Captures) - 1, nil
}

// BindCapture rebinds the cell of an existing capture slot. By-value
// slots store a deep copy; by-ref slots write through to the shared cell.
func (b *Builder) BindCapture(fn FuncID, index int, v Value) error {
	f, ok := b.prog.funcs[fn]
	if !ok {
		return fmt.Errorf("bind capture: function %d not found", fn)
	}
	if index < 0 || index >= len(f.Captures) {
		return fmt.Errorf("bind capture: function %q has no capture %d", f.Name, index)
	}
	if v == nil {
		return fmt.Errorf("bind capture: nil value for %q capture %d", f.Name, index)
	}
	if f.Captures[index].Mode == CaptureByValue {
		f.Captures[index].Cell.Value = v.Clone()
	} else {
		f.Captures[index].Cell.Value = v
	}
	return nil
}

// AddNode adds an operation node to the function graph.
func (b *Builder) AddNode(fn FuncID, op Operation) (NodeID, error) {
	f, ok := b.prog.funcs[fn]
	if !ok {
		return 0, fmt.Errorf("add node: function %d not found", fn)
	}
	if op == nil {
		return 0, fmt.Errorf("add node: nil operation")
	}
	b.prog.nextNode++
	n := &Node{ID: NodeID(b.prog.nextNode), Op: op}
	f.Nodes[n.ID] = n
	return n.ID, nil
}

// ConnectValue adds a semantic edge carrying from's output into to's
// input port. The endpoints must exist in the function and the port must
// not already have a producer.
func (b *Builder) ConnectValue(fn FuncID, from, to NodeID, port Port) (EdgeID, error) {
	f, ok := b.prog.funcs[fn]
	if !ok {
		return 0, fmt.Errorf("connect value: function %d not found", fn)
	}
	if _, ok := f.Nodes[from]; !ok {
		return 0, fmt.Errorf("connect value: source node %d not in function %q", from, f.Name)
	}
	if _, ok := f.Nodes[to]; !ok {
		return 0, fmt.Errorf("connect value: target node %d not in function %q", to, f.Name)
	}
	if prev, exists := f.Producer(to, port); exists {
		return 0, fmt.Errorf("connect value: node %d port %d already fed by node %d", to, port, prev)
	}
	b.prog.nextEdge++
	e := &SemanticEdge{ID: EdgeID(b.prog.nextEdge), From: from, To: to, Port: port}
	f.Semantic[e.ID] = e
	return e.ID, nil
}

// ConnectFlow adds a flow edge sequencing from before to. Conditional
// conditions require the source to be a Branch.
func (b *Builder) ConnectFlow(fn FuncID, from, to NodeID, when FlowCond) (EdgeID, error) {
	f, ok := b.prog.funcs[fn]
	if !ok {
		return 0, fmt.Errorf("connect flow: function %d not found", fn)
	}
	src, ok := f.Nodes[from]
	if !ok {
		return 0, fmt.Errorf("connect flow: source node %d not in function %q", from, f.Name)
	}
	if _, ok := f.Nodes[to]; !ok {
		return 0, fmt.Errorf("connect flow: target node %d not in function %q", to, f.Name)
	}
	if when != FlowAlways {
		if _, isBranch := src.Op.(Branch); !isBranch {
			return 0, fmt.Errorf("connect flow: %s edge from non-branch node %d", when, from)
		}
	}
	b.prog.nextEdge++
	e := &FlowEdge{ID: EdgeID(b.prog.nextEdge), From: from, To: to, When: when}
	f.Flow[e.ID] = e
	return e.ID, nil
}

// RemoveNode deletes a node and every edge incident to it. The id is
// retired, never reallocated.
func (b *Builder) RemoveNode(fn FuncID, id NodeID) error {
	f, ok := b.prog.funcs[fn]
	if !ok {
		return fmt.Errorf("remove node: function %d not found", fn)
	}
	if _, ok := f.Nodes[id]; !ok {
		return fmt.Errorf("remove node: node %d not in function %q", id, f.Name)
	}
	delete(f.Nodes, id)
	for eid, e := range f.Semantic {
		if e.From == id || e.To == id {
			delete(f.Semantic, eid)
		}
	}
	for eid, e := range f.Flow {
		if e.From == id || e.To == id {
			delete(f.Flow, eid)
		}
	}
	return nil
}

// RemoveEdge deletes a semantic or flow edge by id.
func (b *Builder) RemoveEdge(fn FuncID, id EdgeID) error {
	f, ok := b.prog.funcs[fn]
	if !ok {
		return fmt.Errorf("remove edge: function %d not found", fn)
	}
	if _, ok := f.Semantic[id]; ok {
		delete(f.Semantic, id)
		return nil
	}
	if _, ok := f.Flow[id]; ok {
		delete(f.Flow, id)
		return nil
	}
	return fmt.Errorf("remove edge: edge %d not in function %q", id, f.Name)
}
