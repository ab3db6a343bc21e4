// Package engine implements the contract-checked graph interpreter.
//
// The engine evaluates function graphs from internal/ir: it walks each
// function's canonical node order once, feeds operation inputs along
// semantic edges, honors flow edges for sequencing and branching, and
// checks contracts at their designated points. The result of an
// invocation is always an Outcome value - a normal result, a trap, or a
// contract violation - never a panic and never a partial answer.
//
// ARCHITECTURE:
//
// Frozen program, private frames:
// New validates the program once and precomputes per-function indexes
// (canonical order, producer tables, flow fan-in, contract cones). The
// Engine itself is immutable after construction; every Invoke builds its
// own frame stack, so concurrent invocations of the same Engine never
// share mutable state except values the program itself aliases (by-ref
// captures, arrays passed as arguments).
//
// Evaluation:
// 1. Resolve the function, defensively check the arguments
// 2. Check preconditions, then entry invariants
// 3. Walk the canonical order; suppressed nodes are skipped
// 4. First executed Return ends the walk and pins the frame value
// 5. Check postconditions, then exit invariants, against that value
//
// A node with incoming flow edges runs only when one of them is active
// (its source executed and, for conditional edges, the branch input
// matched). A node with no incoming flow edges always runs.
//
// Failure model:
// Traps (overflow, division by zero, bounds, recursion depth, ...) and
// contract violations abort the whole invocation and come back as data
// on the Outcome. Panics inside evaluation are converted to an INTERNAL
// trap at the Invoke boundary.
//
// Determinism:
// The same program, arguments, and configuration produce bit-identical
// outcomes and traces. There is no wall-clock input, no map-order
// dependence (all iteration goes through sorted id slices), and no
// concurrency inside an invocation. Run tokens are the one exception:
// they label an invocation but never influence evaluation.
package engine
