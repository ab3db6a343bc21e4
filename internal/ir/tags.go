package ir

// ContractTags returns the nodes that exist only to serve contract
// checking: every Contract node plus the nodes whose output feeds nothing
// but tagged nodes. A backend that strips checks can drop exactly this
// set without changing program behavior, because validation already
// guarantees predicate cones are pure and flow-free.
//
// A node is tagged when it is pure, produces a value, has at least one
// consumer, and every consumer is tagged. Nodes shared between a
// predicate and the main computation keep at least one untagged consumer
// and so stay untagged themselves.
func (f *Function) ContractTags() map[NodeID]bool {
	tags := make(map[NodeID]bool)
	for _, id := range f.ContractNodes() {
		tags[id] = true
	}

	consumers := make(map[NodeID][]NodeID, len(f.Nodes))
	for _, e := range f.Semantic {
		consumers[e.From] = append(consumers[e.From], e.To)
	}
	flowTouched := make(map[NodeID]bool)
	for _, e := range f.Flow {
		flowTouched[e.From] = true
		flowTouched[e.To] = true
	}

	for changed := true; changed; {
		changed = false
		for _, id := range f.SortedNodeIDs() {
			if tags[id] {
				continue
			}
			n := f.Nodes[id]
			if n.Op.Effectful() || n.Op.Void() || flowTouched[id] {
				continue
			}
			cons := consumers[id]
			if len(cons) == 0 {
				continue
			}
			all := true
			for _, c := range cons {
				if !tags[c] {
					all = false
					break
				}
			}
			if all {
				tags[id] = true
				changed = true
			}
		}
	}
	return tags
}
