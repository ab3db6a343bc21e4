package engine

import "github.com/snowdamiz/lmlang-sub002/internal/ir"

// PortValue is one input observed by a traced node, identified by port.
type PortValue struct {
	Port  ir.Port
	Value ir.Value
}

// TraceEntry records one dynamic node execution. Entries appear strictly
// in evaluation order across the whole invocation, including callee
// frames and contract predicate sub-evaluations.
//
// Values are deep-copied at record time: a later Store through an alias
// cannot rewrite history.
type TraceEntry struct {
	// Seq is the zero-based position of the entry within the run.
	Seq int

	// Function and Depth locate the frame: Depth is 1 for the root
	// invocation and grows by one per Call.
	Function ir.FuncID
	Depth    int

	// Node and Op identify what ran; Op is the operation mnemonic
	// ("add", "cmp.lt", "branch", ...).
	Node ir.NodeID
	Op   string

	// Inputs holds the consumed values in ascending port order. Output
	// is nil for void operations.
	Inputs []PortValue
	Output ir.Value
}

// doc flattens the entry for canonical JSON encoding.
func (t TraceEntry) doc() map[string]any {
	inputs := make([]any, len(t.Inputs))
	for i, pv := range t.Inputs {
		inputs[i] = map[string]any{"port": pv.Port, "value": pv.Value}
	}
	doc := map[string]any{
		"seq":    t.Seq,
		"fn":     t.Function,
		"depth":  t.Depth,
		"node":   t.Node,
		"op":     t.Op,
		"inputs": inputs,
	}
	if t.Output != nil {
		doc["output"] = t.Output
	}
	return doc
}

// traceRecorder is the per-invocation append-only trace buffer. A nil
// recorder means tracing is off; record is a no-op then.
type traceRecorder struct {
	entries []TraceEntry
}

// record appends one execution. Input and output values are cloned so
// the entry stays a faithful snapshot of what the node saw.
func (r *traceRecorder) record(fn ir.FuncID, depth int, node ir.NodeID, op string, inputs []ir.Value, output ir.Value) {
	if r == nil {
		return
	}
	ports := make([]PortValue, len(inputs))
	for i, v := range inputs {
		ports[i] = PortValue{Port: ir.Port(i), Value: cloneForTrace(v)}
	}
	r.entries = append(r.entries, TraceEntry{
		Seq:      len(r.entries),
		Function: fn,
		Depth:    depth,
		Node:     node,
		Op:       op,
		Inputs:   ports,
		Output:   cloneForTrace(output),
	})
}

// take returns the recorded entries, nil when tracing was off.
func (r *traceRecorder) take() []TraceEntry {
	if r == nil {
		return nil
	}
	return r.entries
}

func cloneForTrace(v ir.Value) ir.Value {
	if v == nil {
		return nil
	}
	return v.Clone()
}
