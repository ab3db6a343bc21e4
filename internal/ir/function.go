package ir

import "slices"

// CaptureMode says how a capture cell relates to its definition site.
type CaptureMode uint8

const (
	// CaptureByValue snapshots the bound value: the cell belongs to this
	// function alone and holds a deep copy made at bind time.
	CaptureByValue CaptureMode = iota

	// CaptureByRef shares the cell: several functions may alias one
	// *CaptureCell, and rebinding it between invocations is visible to
	// all of them.
	CaptureByRef
)

// String returns "by_value" or "by_ref".
func (m CaptureMode) String() string {
	if m == CaptureByValue {
		return "by_value"
	}
	return "by_ref"
}

// CaptureCell holds one captured value. Cells are rebound through the
// Builder between invocations; mutating a cell while an invocation that
// reads it is running is a caller error, the same class as mutating the
// graph mid-run.
type CaptureCell struct {
	Value Value
}

// ParamDef declares one function parameter.
type ParamDef struct {
	Name string `json:"name"`
	Type TypeID `json:"type"`
}

// CaptureDef declares one capture slot of a function.
type CaptureDef struct {
	Name string      `json:"name"`
	Mode CaptureMode `json:"mode"`
	Type TypeID      `json:"type"`
	Cell *CaptureCell
}

// Function is one function graph: its signature, capture slots, and the
// flat node and edge tables. Tables are keyed by opaque ids; there is no
// mutual ownership between entries, and removal never recycles ids.
type Function struct {
	ID       FuncID
	Name     string
	Params   []ParamDef
	Result   TypeID
	Captures []CaptureDef

	Nodes    map[NodeID]*Node
	Semantic map[EdgeID]*SemanticEdge
	Flow     map[EdgeID]*FlowEdge
}

// Arity returns the declared parameter count.
func (f *Function) Arity() int { return len(f.Params) }

// Producer returns the node feeding the given input port, if any. The
// scan is linear; the interpreter builds its own dense index up front.
func (f *Function) Producer(to NodeID, port Port) (NodeID, bool) {
	for _, e := range f.Semantic {
		if e.To == to && e.Port == port {
			return e.From, true
		}
	}
	return 0, false
}

// FlowInto returns the flow edges targeting n, ordered by edge id.
func (f *Function) FlowInto(n NodeID) []*FlowEdge {
	var in []*FlowEdge
	for _, e := range f.Flow {
		if e.To == n {
			in = append(in, e)
		}
	}
	slices.SortFunc(in, func(a, b *FlowEdge) int { return int(a.ID) - int(b.ID) })
	return in
}

// Consumers returns the semantic edges leaving n, ordered by edge id.
func (f *Function) Consumers(n NodeID) []*SemanticEdge {
	var out []*SemanticEdge
	for _, e := range f.Semantic {
		if e.From == n {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b *SemanticEdge) int { return int(a.ID) - int(b.ID) })
	return out
}

// SortedNodeIDs returns all node ids in ascending order. Deterministic
// iteration over the node table goes through this.
func (f *Function) SortedNodeIDs() []NodeID {
	ids := make([]NodeID, 0, len(f.Nodes))
	for id := range f.Nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// SortedSemanticIDs returns all semantic edge ids in ascending order.
func (f *Function) SortedSemanticIDs() []EdgeID {
	ids := make([]EdgeID, 0, len(f.Semantic))
	for id := range f.Semantic {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// SortedFlowIDs returns all flow edge ids in ascending order.
func (f *Function) SortedFlowIDs() []EdgeID {
	ids := make([]EdgeID, 0, len(f.Flow))
	for id := range f.Flow {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ReturnNodes returns the ids of all Return nodes in ascending order.
func (f *Function) ReturnNodes() []NodeID {
	var ids []NodeID
	for id, n := range f.Nodes {
		if _, ok := n.Op.(Return); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// ContractNodes returns the ids of all Contract nodes in ascending order.
func (f *Function) ContractNodes() []NodeID {
	var ids []NodeID
	for id, n := range f.Nodes {
		if _, ok := n.Op.(Contract); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// NodeArity resolves the effective input arity of a node, consulting the
// callee's signature for Call nodes. The bool is false when the callee is
// unknown.
func (f *Function) NodeArity(p *Program, n *Node) (int, bool) {
	if c, ok := n.Op.(Call); ok {
		callee, found := p.Function(c.Func)
		if !found {
			return 0, false
		}
		return callee.Arity(), true
	}
	return n.Op.Arity(), true
}
