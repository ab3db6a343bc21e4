package ir

// FlowCond says when a flow edge activates its target.
type FlowCond uint8

const (
	// FlowAlways activates whenever the source node executes.
	FlowAlways FlowCond = iota

	// FlowWhenTrue activates when the source Branch reads true.
	FlowWhenTrue

	// FlowWhenFalse activates when the source Branch reads false.
	FlowWhenFalse
)

// String returns "always", "when_true", or "when_false".
func (c FlowCond) String() string {
	switch c {
	case FlowAlways:
		return "always"
	case FlowWhenTrue:
		return "when_true"
	case FlowWhenFalse:
		return "when_false"
	default:
		return "cond?"
	}
}

// SemanticEdge carries the producer's output value into one input port of
// the consumer. A (To, Port) pair has at most one semantic edge; the
// validator rejects duplicates.
type SemanticEdge struct {
	ID   EdgeID `json:"id"`
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
	Port Port   `json:"port"`
}

// FlowEdge sequences execution without carrying a value. A node with at
// least one incoming flow edge executes only when one of them activates;
// a node with none executes unconditionally. Conditional forms are legal
// only out of Branch nodes.
type FlowEdge struct {
	ID   EdgeID   `json:"id"`
	From NodeID   `json:"from"`
	To   NodeID   `json:"to"`
	When FlowCond `json:"when"`
}
