package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// DefaultRecursionLimit is the default maximum call depth per
// invocation. This bounds runaway recursion without a separate step
// quota: a validated graph is acyclic, so within one frame every node
// runs at most once.
const DefaultRecursionLimit = 256

// Engine evaluates functions of one validated program.
//
// All configuration and all precomputed indexes are fixed at
// construction. Invoke never mutates the Engine, so a single Engine may
// serve concurrent invocations; each one carries its own frame stack.
//
// INVARIANTS:
//   - The program is valid (New rejects anything else) and must not be
//     mutated while invocations run
//   - Per-function indexes mirror the graph exactly
//   - Evaluation order is the canonical order, nothing else
type Engine struct {
	prog    *ir.Program
	limit   int
	tracing bool
	checks  bool
	stdout  io.Writer
	tokens  TokenSource
	logger  *slog.Logger

	effects  map[ir.FuncID]bool
	moduleOf map[ir.FuncID]ir.ModuleID
	fns      map[ir.FuncID]*fnInfo
}

// fnInfo is the per-function index the interpreter walks: canonical
// order, producer table, flow fan-in, and the contract geometry.
type fnInfo struct {
	fn    *ir.Function
	order []ir.NodeID

	// producers maps (node, port) to the semantic producer.
	producers map[ir.NodeID]map[ir.Port]ir.NodeID

	// flowIn lists incoming flow edges per node, ascending edge id.
	flowIn map[ir.NodeID][]*ir.FlowEdge

	// tagged marks nodes that exist only to feed contracts. The walk
	// skips them; predicate overlays evaluate them on demand.
	tagged map[ir.NodeID]bool

	// cones maps each contract node to its predicate cone in canonical
	// order, the contract node itself last.
	cones map[ir.NodeID][]ir.NodeID

	// Contract nodes by kind, ascending node id.
	pre  []ir.NodeID
	post []ir.NodeID
	inv  []ir.NodeID
}

// Option configures engine parameters.
type Option func(*Engine)

// WithRecursionLimit sets the maximum call depth per invocation.
//
// Default: 256 (DefaultRecursionLimit)
// Use WithRecursionLimit(10) for testing the depth trap.
// New rejects limits below 1.
func WithRecursionLimit(limit int) Option {
	return func(e *Engine) {
		e.limit = limit
	}
}

// WithTracing enables or disables the trace recorder. Tracing is off by
// default; it changes nothing but the Trace field of the Outcome.
func WithTracing(enabled bool) Option {
	return func(e *Engine) {
		e.tracing = enabled
	}
}

// WithContractChecks enables or disables contract checking. Checks are
// on by default. Disabling them also skips the nodes that exist only to
// feed contracts, which is sound because validation guarantees those
// nodes are pure and flow-free.
func WithContractChecks(enabled bool) Option {
	return func(e *Engine) {
		e.checks = enabled
	}
}

// WithPrintWriter sets the destination for Print output. The default
// discards it. Concurrent invocations share the writer; pass one that
// tolerates interleaved writes if you invoke in parallel.
func WithPrintWriter(w io.Writer) Option {
	return func(e *Engine) {
		if w != nil {
			e.stdout = w
		}
	}
}

// WithRunTokens sets the run token source. The default is UUIDv7Source;
// tests pass a FixedSource for reproducible tokens.
func WithRunTokens(src TokenSource) Option {
	return func(e *Engine) {
		if src != nil {
			e.tokens = src
		}
	}
}

// WithLogger sets the structured logger for invocation boundaries and
// internal failures. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Engine over the given program.
//
// The program is validated first; a program with any defect is rejected
// with *InvalidProgramError and never evaluated. On success the engine
// precomputes the per-function indexes so Invoke does no graph analysis
// of its own.
func New(prog *ir.Program, opts ...Option) (*Engine, error) {
	if prog == nil {
		return nil, errors.New("engine: program must not be nil")
	}
	if errs := prog.Validate(); len(errs) > 0 {
		return nil, &InvalidProgramError{Errors: errs}
	}

	e := &Engine{
		prog:   prog,
		limit:  DefaultRecursionLimit,
		checks: true,
		stdout: io.Discard,
		tokens: UUIDv7Source{},
		logger: slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		opt(e)
	}
	if e.limit < 1 {
		return nil, fmt.Errorf("engine: recursion limit must be at least 1, got %d", e.limit)
	}

	e.effects = prog.FunctionEffects()
	e.moduleOf = make(map[ir.FuncID]ir.ModuleID)
	for _, mid := range prog.Modules() {
		m, ok := prog.Module(mid)
		if !ok {
			continue
		}
		for _, fid := range m.Functions {
			e.moduleOf[fid] = mid
		}
	}

	e.fns = make(map[ir.FuncID]*fnInfo)
	for _, fid := range prog.Functions() {
		f, _ := prog.Function(fid)
		info, err := buildFnInfo(f)
		if err != nil {
			// Unreachable after validation; a cycle is the only cause.
			return nil, fmt.Errorf("engine: index function %q: %w", f.Name, err)
		}
		e.fns[fid] = info
	}

	return e, nil
}

// Program returns the program the engine was built over.
func (e *Engine) Program() *ir.Program { return e.prog }

// Invoke runs one function with the given arguments and returns its
// Outcome. It never returns an error and never panics: traps, contract
// violations, and even internal panics come back as Outcome states.
//
// Invoke is safe for concurrent use. It is synchronous and CPU-bound;
// there is no suspension point to cancel at, which is why it takes no
// context.
func (e *Engine) Invoke(fnID ir.FuncID, args []ir.Value) (out *Outcome) {
	token := e.tokens.Next()
	out = &Outcome{RunToken: token, Function: fnID}

	var ev *evaluation
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("invocation panicked",
				"run", token,
				"fn", fnID,
				"panic", r,
			)
			out.Value = nil
			out.Violation = nil
			out.Trap = trapf(TrapInternal, fnID, 0, "panic during evaluation: %v", r)
			if ev != nil {
				out.Trace = ev.trace.take()
				out.Steps = ev.steps
			}
		}
	}()

	fn, ok := e.prog.Function(fnID)
	if !ok {
		out.Trap = trapf(TrapFunctionNotFound, fnID, 0, "function %d not found", fnID)
		return out
	}
	if trap := e.checkArgs(fn, args, 0); trap != nil {
		out.Trap = trap
		return out
	}

	ev = &evaluation{eng: e}
	if e.tracing {
		ev.trace = &traceRecorder{}
	}

	e.logger.Info("invocation started",
		"run", token,
		"fn", fn.Name,
		"args", len(args),
	)

	// Top-level invocations count as module-boundary calls, so entry
	// and exit invariants apply.
	val, err := ev.call(fn, args, 1, true)
	out.Trace = ev.trace.take()
	out.Steps = ev.steps

	if err == nil {
		out.Value = val
	} else {
		var violation *ContractViolation
		var trap *RuntimeError
		switch {
		case errors.As(err, &violation):
			out.Violation = violation
		case errors.As(err, &trap):
			out.Trap = trap
		default:
			out.Trap = trapf(TrapInternal, fnID, 0, "unexpected evaluation error: %v", err)
		}
	}

	e.logger.Info("invocation finished",
		"run", token,
		"fn", fn.Name,
		"kind", string(out.Kind()),
		"steps", out.Steps,
	)
	return out
}

// buildFnInfo computes the per-function index tables.
func buildFnInfo(f *ir.Function) (*fnInfo, error) {
	order, err := f.CanonicalOrder()
	if err != nil {
		return nil, err
	}

	info := &fnInfo{
		fn:        f,
		order:     order,
		producers: make(map[ir.NodeID]map[ir.Port]ir.NodeID),
		flowIn:    make(map[ir.NodeID][]*ir.FlowEdge),
		tagged:    f.ContractTags(),
		cones:     make(map[ir.NodeID][]ir.NodeID),
	}

	for _, eid := range f.SortedSemanticIDs() {
		e := f.Semantic[eid]
		ports := info.producers[e.To]
		if ports == nil {
			ports = make(map[ir.Port]ir.NodeID)
			info.producers[e.To] = ports
		}
		ports[e.Port] = e.From
	}

	// Ascending edge-id iteration keeps each fan-in list ordered.
	for _, eid := range f.SortedFlowIDs() {
		e := f.Flow[eid]
		info.flowIn[e.To] = append(info.flowIn[e.To], e)
	}

	for _, cid := range f.ContractNodes() {
		switch f.Nodes[cid].Op.(ir.Contract).Kind {
		case ir.ContractPrecondition:
			info.pre = append(info.pre, cid)
		case ir.ContractPostcondition:
			info.post = append(info.post, cid)
		case ir.ContractInvariant:
			info.inv = append(info.inv, cid)
		}
		info.cones[cid] = coneOrder(f, order, cid)
	}

	return info, nil
}

// coneOrder returns the backward semantic closure of one contract node,
// restricted to the canonical order. Every member is an ancestor of the
// contract, so the contract node itself lands last.
func coneOrder(f *ir.Function, order []ir.NodeID, cid ir.NodeID) []ir.NodeID {
	member := map[ir.NodeID]bool{cid: true}
	stack := []ir.NodeID{cid}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, eid := range f.SortedSemanticIDs() {
			e := f.Semantic[eid]
			if e.To != cur || member[e.From] {
				continue
			}
			member[e.From] = true
			stack = append(stack, e.From)
		}
	}

	cone := make([]ir.NodeID, 0, len(member))
	for _, id := range order {
		if member[id] {
			cone = append(cone, id)
		}
	}
	return cone
}
