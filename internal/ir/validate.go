package ir

import (
	"fmt"
	"strings"
)

// Graph validation error codes (E200-E299). Document-level codes E100-E199
// belong to the compiler package.
const (
	ErrEdgeEndpoint      = "E200" // edge endpoint not in function
	ErrDuplicateProducer = "E201" // two semantic edges into one (node, port)
	ErrPortOutOfRange    = "E202" // semantic edge into a port outside the arity
	ErrCondFromNonBranch = "E203" // conditional flow edge from a non-branch node
	ErrVoidProducer      = "E204" // semantic edge out of a void node
	ErrUnknownCallee     = "E205" // call references an unknown function
	ErrBadConstType      = "E206" // const node type unknown or not a const registration
	ErrNoReturnNode      = "E207" // function has no return node
	ErrImpureContract    = "E208" // effectful operation inside a contract predicate
	ErrGraphCycle        = "E209" // cycle through semantic and flow edges
	ErrBadSlotIndex      = "E210" // param or capture index out of range
	ErrResultRefMisuse   = "E211" // result node outside a postcondition predicate
	ErrDuplicateFunction = "E212" // function name used more than once
	ErrUnboundCapture    = "E213" // capture slot without a bound value
	ErrContractFlow      = "E214" // flow edge touching a contract predicate
)

// ValidationError is one structural defect found in a program graph.
// Validation never fails fast: callers get every defect at once.
type ValidationError struct {
	Code     string `json:"code"`
	Function FuncID `json:"function,omitempty"`
	Node     NodeID `json:"node,omitempty"`
	Edge     EdgeID `json:"edge,omitempty"`
	Message  string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	var loc strings.Builder
	if e.Function.IsValid() {
		fmt.Fprintf(&loc, "fn %d", e.Function)
	}
	if e.Node.IsValid() {
		if loc.Len() > 0 {
			loc.WriteString(" ")
		}
		fmt.Fprintf(&loc, "node %d", e.Node)
	}
	if e.Edge.IsValid() {
		if loc.Len() > 0 {
			loc.WriteString(" ")
		}
		fmt.Fprintf(&loc, "edge %d", e.Edge)
	}
	if loc.Len() > 0 {
		return fmt.Sprintf("[%s] %s: %s", e.Code, loc.String(), e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Validate checks every function graph plus the program-level rules and
// returns all defects in deterministic order (functions ascending, then
// check order within a function). An empty slice means the program is
// well-formed and the interpreter will accept it.
func (p *Program) Validate() []ValidationError {
	var errs []ValidationError

	seen := make(map[string]FuncID)
	for _, id := range p.Functions() {
		f := p.funcs[id]
		if prev, dup := seen[f.Name]; dup {
			errs = append(errs, ValidationError{
				Code:     ErrDuplicateFunction,
				Function: id,
				Message:  fmt.Sprintf("function name %q already used by function %d", f.Name, prev),
			})
		} else {
			seen[f.Name] = id
		}
	}

	effects := p.FunctionEffects()
	for _, id := range p.Functions() {
		errs = append(errs, p.validateFunction(p.funcs[id], effects)...)
	}
	return errs
}

func (p *Program) validateFunction(f *Function, effects map[FuncID]bool) []ValidationError {
	var errs []ValidationError
	fail := func(code string, node NodeID, edge EdgeID, format string, args ...any) {
		errs = append(errs, ValidationError{
			Code:     code,
			Function: f.ID,
			Node:     node,
			Edge:     edge,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	// Edge endpoints, producer uniqueness, port ranges.
	producers := make(map[NodeID]map[Port]NodeID)
	for _, eid := range f.SortedSemanticIDs() {
		e := f.Semantic[eid]
		src, srcOK := f.Nodes[e.From]
		dst, dstOK := f.Nodes[e.To]
		if !srcOK {
			fail(ErrEdgeEndpoint, e.From, eid, "semantic edge source not in function")
		}
		if !dstOK {
			fail(ErrEdgeEndpoint, e.To, eid, "semantic edge target not in function")
		}
		if !srcOK || !dstOK {
			continue
		}
		if src.Op.Void() {
			fail(ErrVoidProducer, e.From, eid, "%s produces no value", src.Op.Describe())
		}
		if ports := producers[e.To]; ports != nil {
			if prev, dup := ports[e.Port]; dup {
				fail(ErrDuplicateProducer, e.To, eid,
					"port %d already fed by node %d", e.Port, prev)
				continue
			}
		} else {
			producers[e.To] = make(map[Port]NodeID)
		}
		producers[e.To][e.Port] = e.From
		if arity, known := f.NodeArity(p, dst); known {
			if e.Port < 0 || int(e.Port) >= arity {
				fail(ErrPortOutOfRange, e.To, eid,
					"port %d outside arity %d of %s", e.Port, arity, dst.Op.Describe())
			}
		}
	}

	for _, eid := range f.SortedFlowIDs() {
		e := f.Flow[eid]
		src, srcOK := f.Nodes[e.From]
		if !srcOK {
			fail(ErrEdgeEndpoint, e.From, eid, "flow edge source not in function")
		}
		if _, ok := f.Nodes[e.To]; !ok {
			fail(ErrEdgeEndpoint, e.To, eid, "flow edge target not in function")
		}
		if srcOK && e.When != FlowAlways {
			if _, isBranch := src.Op.(Branch); !isBranch {
				fail(ErrCondFromNonBranch, e.From, eid,
					"%s edge out of %s node", e.When, src.Op.Describe())
			}
		}
	}

	// Per-node operation checks.
	for _, id := range f.SortedNodeIDs() {
		n := f.Nodes[id]
		switch op := n.Op.(type) {
		case Const:
			def, err := p.Types.Resolve(op.Type)
			if err != nil {
				fail(ErrBadConstType, id, 0, "type %d not registered", op.Type)
			} else if _, isConst := def.(ConstDef); !isConst {
				fail(ErrBadConstType, id, 0, "type %d is %s, not a const registration", op.Type, def.DefKind())
			}
		case Param:
			if op.Index < 0 || op.Index >= len(f.Params) {
				fail(ErrBadSlotIndex, id, 0, "param index %d outside %d declared params", op.Index, len(f.Params))
			}
		case Capture:
			if op.Index < 0 || op.Index >= len(f.Captures) {
				fail(ErrBadSlotIndex, id, 0, "capture index %d outside %d declared captures", op.Index, len(f.Captures))
			}
		case Call:
			if _, ok := p.Function(op.Func); !ok {
				fail(ErrUnknownCallee, id, 0, "function %d not found", op.Func)
			}
		}
	}

	for i, c := range f.Captures {
		if c.Cell == nil || c.Cell.Value == nil {
			fail(ErrUnboundCapture, 0, 0, "capture %d (%q) has no bound value", i, c.Name)
		}
	}

	if len(f.ReturnNodes()) == 0 {
		fail(ErrNoReturnNode, 0, 0, "function %q has no return node", f.Name)
	}

	errs = append(errs, p.validateContracts(f, effects)...)

	if cycle := findCycle(f); len(cycle) > 0 {
		parts := make([]string, len(cycle))
		for i, id := range cycle {
			parts[i] = fmt.Sprintf("%d", id)
		}
		fail(ErrGraphCycle, cycle[0], 0, "cycle through nodes %s", strings.Join(parts, " -> "))
	}

	return errs
}

// validateContracts checks the purity rules on contract predicates: the
// backward semantic closure of every contract node must be free of
// effectful operations, calls to effectful functions, and flow edges, and
// result nodes may appear only under postconditions.
func (p *Program) validateContracts(f *Function, effects map[FuncID]bool) []ValidationError {
	var errs []ValidationError
	fail := func(code string, node NodeID, edge EdgeID, format string, args ...any) {
		errs = append(errs, ValidationError{
			Code:     code,
			Function: f.ID,
			Node:     node,
			Edge:     edge,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	cones := make(map[NodeID][]ContractKind) // node -> kinds of contracts it feeds
	for _, cid := range f.ContractNodes() {
		kind := f.Nodes[cid].Op.(Contract).Kind
		// Backward closure over semantic edges.
		stack := []NodeID{cid}
		seen := map[NodeID]bool{cid: true}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cones[cur] = append(cones[cur], kind)
			for _, e := range f.Semantic {
				if e.To != cur || seen[e.From] {
					continue
				}
				seen[e.From] = true
				stack = append(stack, e.From)
			}
		}
	}

	for _, id := range f.SortedNodeIDs() {
		kinds, inCone := cones[id]
		n := f.Nodes[id]
		if inCone {
			if n.Op.Effectful() {
				fail(ErrImpureContract, id, 0, "%s inside a contract predicate", n.Op.Describe())
			}
			if c, ok := n.Op.(Call); ok && effects[c.Func] {
				callee, _ := p.Function(c.Func)
				name := fmt.Sprintf("%d", c.Func)
				if callee != nil {
					name = callee.Name
				}
				fail(ErrImpureContract, id, 0, "call to effectful function %s inside a contract predicate", name)
			}
		}
		if _, isResult := n.Op.(ResultRef); isResult {
			if !inCone {
				fail(ErrResultRefMisuse, id, 0, "result node outside any contract predicate")
				continue
			}
			for _, k := range kinds {
				if k != ContractPostcondition {
					fail(ErrResultRefMisuse, id, 0, "result node feeds a %s predicate", k)
					break
				}
			}
		}
	}

	for _, eid := range f.SortedFlowIDs() {
		e := f.Flow[eid]
		if _, ok := cones[e.From]; ok {
			fail(ErrContractFlow, e.From, eid, "flow edge out of a contract predicate node")
			continue
		}
		if _, ok := cones[e.To]; ok {
			fail(ErrContractFlow, e.To, eid, "flow edge into a contract predicate node")
		}
	}

	return errs
}

// FunctionEffects computes which functions have an observable effect:
// they contain an effectful node, or call (transitively) a function that
// does. Recursive groups converge because effectfulness only ever grows.
func (p *Program) FunctionEffects() map[FuncID]bool {
	effects := make(map[FuncID]bool, len(p.funcs))
	for id, f := range p.funcs {
		for _, n := range f.Nodes {
			if n.Op.Effectful() {
				effects[id] = true
				break
			}
		}
	}
	for changed := true; changed; {
		changed = false
		for id, f := range p.funcs {
			if effects[id] {
				continue
			}
			for _, n := range f.Nodes {
				c, ok := n.Op.(Call)
				if ok && effects[c.Func] {
					effects[id] = true
					changed = true
					break
				}
			}
		}
	}
	return effects
}

// findCycle looks for a cycle through the union of semantic and flow
// edges using Tarjan's strongly connected components. It returns one
// witness path "a -> b -> a" (empty when the graph is acyclic). Any SCC
// with more than one node, or a single node with a self edge, is a cycle.
func findCycle(f *Function) []NodeID {
	adj := make(map[NodeID][]NodeID, len(f.Nodes))
	for _, id := range f.SortedNodeIDs() {
		adj[id] = nil
	}
	for _, eid := range f.SortedSemanticIDs() {
		e := f.Semantic[eid]
		if _, ok := adj[e.From]; ok {
			adj[e.From] = append(adj[e.From], e.To)
		}
	}
	for _, eid := range f.SortedFlowIDs() {
		e := f.Flow[eid]
		if _, ok := adj[e.From]; ok {
			adj[e.From] = append(adj[e.From], e.To)
		}
	}

	var (
		index   = 0
		stack   []NodeID
		indices = make(map[NodeID]int)
		lowlink = make(map[NodeID]int)
		onStack = make(map[NodeID]bool)
		cycle   []NodeID
	)

	var strongConnect func(NodeID)
	strongConnect = func(v NodeID) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []NodeID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if cycle == nil && (len(scc) > 1 || hasSelfEdge(scc[0], adj)) {
				cycle = cyclePath(scc, adj)
			}
		}
	}

	for _, v := range f.SortedNodeIDs() {
		if _, visited := indices[v]; !visited {
			strongConnect(v)
		}
	}
	return cycle
}

func hasSelfEdge(n NodeID, adj map[NodeID][]NodeID) bool {
	for _, w := range adj[n] {
		if w == n {
			return true
		}
	}
	return false
}

// cyclePath walks edges inside the SCC from its smallest node until it
// returns to the start, producing a readable witness.
func cyclePath(scc []NodeID, adj map[NodeID][]NodeID) []NodeID {
	start := scc[0]
	for _, n := range scc {
		if n < start {
			start = n
		}
	}
	if len(scc) == 1 {
		return []NodeID{start, start}
	}

	inSCC := make(map[NodeID]bool, len(scc))
	for _, n := range scc {
		inSCC[n] = true
	}

	path := []NodeID{start}
	visited := map[NodeID]bool{}
	current := start
	for {
		visited[current] = true
		var next NodeID
		for _, w := range adj[current] {
			if inSCC[w] && (!visited[w] || w == start) {
				next = w
				break
			}
		}
		if !next.IsValid() {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
