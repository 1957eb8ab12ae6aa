package chash

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRing_Consistent(t *testing.T) {
	h := Ring(256)

	nodes := []string{"http://a", "http://b", "http://c"}
	h.SetNodes(nodes)

	allOwners, err := h.Owners("worker-1", len(nodes))
	require.NoError(t, err)
	require.ElementsMatch(t, nodes, allOwners)

	owner, err := h.Owner("worker-1")
	require.NoError(t, err)
	require.Equal(t, allOwners[0], owner)

	// Removing the primary owner promotes the second owner.
	h.SetNodes(allOwners[1:])
	owner, err = h.Owner("worker-1")
	require.NoError(t, err)
	require.Equal(t, allOwners[1], owner)
}

func TestRing_Nodes(t *testing.T) {
	h := Ring(8)
	h.SetNodes([]string{"http://c", "http://a", "http://c", "http://b"})
	require.Equal(t, []string{"http://a", "http://b", "http://c"}, h.Nodes())
}

func TestRing_NotEnoughNodes(t *testing.T) {
	h := Ring(16)

	_, err := h.Owner("k")
	require.ErrorIs(t, err, ErrNoNodes)

	h.SetNodes([]string{"http://a"})

	_, err = h.Owners("k", 2)
	require.EqualError(t, err, "not enough nodes: need at least 2, have 1")

	res, err := h.Owners("k", 0)
	require.NoError(t, err)
	require.Empty(t, res)
}

func TestRing_Distribution(t *testing.T) {
	var (
		numNodes  = 5
		numKeys   = 10_000 * numNodes
		perfect   = numKeys / numNodes
		margin    = 0.25
		minPerOne = perfect - int(math.Floor(margin*float64(perfect)))
		maxPerOne = perfect + int(math.Ceil(margin*float64(perfect)))
	)

	nodes := make([]string, numNodes)
	for i := range nodes {
		nodes[i] = fmt.Sprintf("http://node-%d", i)
	}

	h := Ring(512)
	h.SetNodes(nodes)

	counts := make(map[string]int, numNodes)
	for i := 0; i < numKeys; i++ {
		owner, err := h.Owner(fmt.Sprintf("worker-%d", i))
		require.NoError(t, err)
		counts[owner]++
	}

	require.Len(t, counts, numNodes)
	for node, count := range counts {
		require.True(t, count >= minPerOne && count <= maxPerOne,
			"node %s owns %d keys, expected between %d and %d", node, count, minPerOne, maxPerOne)
	}
}
