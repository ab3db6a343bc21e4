package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalOrderRespectsSemanticEdges(t *testing.T) {
	b, fn := buildReturnParam(t)
	f, _ := b.Program().Function(fn)

	order, err := f.CanonicalOrder()
	require.NoError(t, err)
	require.Len(t, order, 2)

	pos := make(map[NodeID]int)
	for i, id := range order {
		pos[id] = i
	}
	for _, e := range f.Semantic {
		assert.Less(t, pos[e.From], pos[e.To], "producer before consumer")
	}
}

func TestCanonicalOrderTieBreaksByNodeID(t *testing.T) {
	// Three independent nodes: the only constraint is the id tie break.
	b := NewBuilder()
	i64 := b.Program().Types.Scalar(ScalarI64)
	fn, err := b.AddFunction(b.Program().Root, "flat", nil, i64)
	require.NoError(t, err)

	n1, _ := b.AddNode(fn, Param{Index: 0})
	n2, _ := b.AddNode(fn, Param{Index: 0})
	n3, _ := b.AddNode(fn, Return{})

	f, _ := b.Program().Function(fn)
	order, err := f.CanonicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []NodeID{n1, n2, n3}, order)
}

func TestCanonicalOrderInterleavesReadyLowIDs(t *testing.T) {
	// A later-created node that becomes ready early must still wait for
	// lower-id ready nodes, and vice versa: ordering is (readiness, id).
	b := NewBuilder()
	i64 := b.Program().Types.Scalar(ScalarI64)
	fn, err := b.AddFunction(b.Program().Root, "diamond", nil, i64)
	require.NoError(t, err)

	top, _ := b.AddNode(fn, Param{Index: 0})
	left, _ := b.AddNode(fn, Unary{Kind: UnaryNeg})
	right, _ := b.AddNode(fn, Unary{Kind: UnaryAbs})
	join, _ := b.AddNode(fn, Arith{Kind: ArithAdd})
	ret, _ := b.AddNode(fn, Return{})

	_, err = b.ConnectValue(fn, top, left, 0)
	require.NoError(t, err)
	_, err = b.ConnectValue(fn, top, right, 0)
	require.NoError(t, err)
	_, err = b.ConnectValue(fn, left, join, 0)
	require.NoError(t, err)
	_, err = b.ConnectValue(fn, right, join, 1)
	require.NoError(t, err)
	_, err = b.ConnectValue(fn, join, ret, 0)
	require.NoError(t, err)

	f, _ := b.Program().Function(fn)
	order, err := f.CanonicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []NodeID{top, left, right, join, ret}, order)
}

func TestCanonicalOrderIncludesFlowEdges(t *testing.T) {
	// Flow edges constrain the order the same way semantic edges do. Give
	// the flow edge the reverse of the id tie break so the test fails if
	// flow edges were ignored.
	b := NewBuilder()
	i64 := b.Program().Types.Scalar(ScalarI64)
	fn, err := b.AddFunction(b.Program().Root, "sequenced", nil, i64)
	require.NoError(t, err)

	first, _ := b.AddNode(fn, Print{})
	second, _ := b.AddNode(fn, Print{})
	_, err = b.ConnectFlow(fn, second, first, FlowAlways)
	require.NoError(t, err)
	_, err = b.AddNode(fn, Return{})
	require.NoError(t, err)

	f, _ := b.Program().Function(fn)
	order, err := f.CanonicalOrder()
	require.NoError(t, err)

	pos := make(map[NodeID]int)
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos[second], pos[first])
}

func TestCanonicalOrderDeterministicAcrossCalls(t *testing.T) {
	b, fn := buildReturnParam(t)
	f, _ := b.Program().Function(fn)

	first, err := f.CanonicalOrder()
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := f.CanonicalOrder()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCanonicalOrderRejectsCycle(t *testing.T) {
	b, fn := buildReturnParam(t)
	f, _ := b.Program().Function(fn)
	a, _ := b.AddNode(fn, Print{})
	c, _ := b.AddNode(fn, Print{})
	f.Flow[EdgeID(9001)] = &FlowEdge{ID: 9001, From: a, To: c, When: FlowAlways}
	f.Flow[EdgeID(9002)] = &FlowEdge{ID: 9002, From: c, To: a, When: FlowAlways}

	_, err := f.CanonicalOrder()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}
