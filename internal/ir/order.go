package ir

import (
	"container/heap"
	"fmt"
)

// CanonicalOrder returns the single evaluation order the interpreter
// walks: a topological order over the union of semantic and flow edges,
// with ties broken by ascending node id. Two structurally identical
// graphs built in the same id order therefore evaluate identically.
//
// The error case is a cycle; validated functions never hit it.
func (f *Function) CanonicalOrder() ([]NodeID, error) {
	indegree := make(map[NodeID]int, len(f.Nodes))
	succ := make(map[NodeID][]NodeID, len(f.Nodes))
	for id := range f.Nodes {
		indegree[id] = 0
	}

	addEdge := func(from, to NodeID) {
		if _, ok := indegree[from]; !ok {
			return
		}
		if _, ok := indegree[to]; !ok {
			return
		}
		succ[from] = append(succ[from], to)
		indegree[to]++
	}
	for _, eid := range f.SortedSemanticIDs() {
		e := f.Semantic[eid]
		addEdge(e.From, e.To)
	}
	for _, eid := range f.SortedFlowIDs() {
		e := f.Flow[eid]
		addEdge(e.From, e.To)
	}

	ready := &nodeIDHeap{}
	heap.Init(ready)
	for _, id := range f.SortedNodeIDs() {
		if indegree[id] == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]NodeID, 0, len(f.Nodes))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(NodeID)
		order = append(order, id)
		for _, next := range succ[id] {
			indegree[next]--
			if indegree[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}

	if len(order) != len(f.Nodes) {
		return nil, fmt.Errorf("function %q: graph contains a cycle", f.Name)
	}
	return order, nil
}

// nodeIDHeap is a min-heap of node ids for the canonical-order tie break.
type nodeIDHeap []NodeID

func (h nodeIDHeap) Len() int           { return len(h) }
func (h nodeIDHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h nodeIDHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *nodeIDHeap) Push(x any)        { *h = append(*h, x.(NodeID)) }
func (h *nodeIDHeap) Pop() any {
	old := *h
	n := len(old)
	id := old[n-1]
	*h = old[:n-1]
	return id
}
