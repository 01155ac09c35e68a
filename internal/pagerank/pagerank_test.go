package pagerank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeEmptyGraph(t *testing.T) {
	scores := Compute(nil, nil)
	assert.Empty(t, scores)
}

func TestComputeSingleNode(t *testing.T) {
	scores := Compute([]string{"a"}, nil)
	require.Len(t, scores, 1)
	assert.InDelta(t, 1.0, scores["a"], 1e-9)
}

func TestComputeTopNodeIsOne(t *testing.T) {
	// Everything links to hub; hub links back to a only.
	nodes := []string{"a", "b", "c", "hub"}
	edges := []Edge{
		{Src: "a", Dst: "hub"},
		{Src: "b", Dst: "hub"},
		{Src: "c", Dst: "hub"},
		{Src: "hub", Dst: "a"},
	}

	scores := Compute(nodes, edges)
	require.Len(t, scores, 4)

	assert.InDelta(t, 1.0, scores["hub"], 1e-9)
	assert.Greater(t, scores["a"], scores["b"])
	assert.InDelta(t, scores["b"], scores["c"], 1e-9)
	for _, node := range nodes {
		assert.GreaterOrEqual(t, scores[node], 0.0)
		assert.LessOrEqual(t, scores[node], 1.0)
	}
}

func TestComputeDanglingNodesKeepMass(t *testing.T) {
	// b has no outlinks; its mass is shared instead of lost.
	scores := Compute([]string{"a", "b"}, []Edge{{Src: "a", Dst: "b"}})

	assert.Greater(t, scores["a"], 0.0)
	assert.InDelta(t, 1.0, scores["b"], 1e-9)
}

func TestComputeIgnoresUnknownEndpoints(t *testing.T) {
	scores := Compute([]string{"a", "b"}, []Edge{
		{Src: "a", Dst: "b"},
		{Src: "a", Dst: "ghost"},
		{Src: "ghost", Dst: "b"},
	})

	symmetric := Compute([]string{"a", "b"}, []Edge{{Src: "a", Dst: "b"}})
	assert.InDelta(t, symmetric["a"], scores["a"], 1e-9)
	assert.InDelta(t, symmetric["b"], scores["b"], 1e-9)
}

func TestComputeIsDeterministic(t *testing.T) {
	nodes := []string{"a", "b", "c", "d"}
	edges := []Edge{
		{Src: "a", Dst: "b"},
		{Src: "b", Dst: "c"},
		{Src: "c", Dst: "a"},
		{Src: "d", Dst: "a"},
	}

	first := Compute(nodes, edges)
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, Compute(nodes, edges))
	}
}
