package quorum

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func TestDerive(t *testing.T) {
	cases := []struct {
		n                    int
		f, weak, strong int
	}{
		{4, 1, 2, 3},
		{7, 2, 3, 5},
		{10, 3, 4, 7},
		{1, 0, 1, 1},
	}
	for _, c := range cases {
		th := Derive(c.n)
		require.Equal(t, c.f, th.F, "n=%d", c.n)
		require.Equal(t, c.weak, th.Weak, "n=%d", c.n)
		require.Equal(t, c.strong, th.Strong, "n=%d", c.n)
	}
}

func TestCounterReachesStrongQuorumOnce(t *testing.T) {
	th := Derive(4)
	c := NewCounter(th.Strong)
	digest := ids.GenerateTestID()

	nodes := make([]ids.NodeID, 4)
	for i := range nodes {
		nodes[i] = ids.GenerateTestNodeID()
	}

	reached := 0
	for _, n := range nodes[:th.Strong] {
		if c.Add(n, digest) {
			reached++
		}
	}
	require.Equal(t, 1, reached, "quorum reached callback must fire exactly once")
	require.True(t, c.Achieved(digest))

	// A duplicate vote from an already-counted voter must not re-fire.
	require.False(t, c.Add(nodes[0], digest))
}

func TestCounterSplitVotesNeverReachQuorum(t *testing.T) {
	th := Derive(4)
	c := NewCounter(th.Strong)
	d1, d2 := ids.GenerateTestID(), ids.GenerateTestID()

	n1, n2, n3 := ids.GenerateTestNodeID(), ids.GenerateTestNodeID(), ids.GenerateTestNodeID()
	c.Add(n1, d1)
	c.Add(n2, d1)
	c.Add(n3, d2)

	require.False(t, c.Achieved(d1))
	require.False(t, c.Achieved(d2))
}
