// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package checkpoint

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func strongFour() int { return 3 } // n=4, f=1, strong=3

func TestAddVoteStabilizesOnStrongQuorum(t *testing.T) {
	tr := NewTracker(300, strongFour)
	digest := ids.GenerateTestID()
	nodes := []ids.NodeID{ids.GenerateTestNodeID(), ids.GenerateTestNodeID(), ids.GenerateTestNodeID(), ids.GenerateTestNodeID()}

	stabilized := 0
	for _, n := range nodes[:3] {
		ok, err := tr.AddVote(100, n, digest)
		require.NoError(t, err)
		if ok {
			stabilized++
		}
	}
	require.Equal(t, 1, stabilized)

	seq, id := tr.Stable()
	require.Equal(t, uint64(100), seq)
	require.Equal(t, digest, id)
}

func TestWindowSlidesWithStableCheckpoint(t *testing.T) {
	tr := NewTracker(300, strongFour)
	digest := ids.GenerateTestID()
	nodes := []ids.NodeID{ids.GenerateTestNodeID(), ids.GenerateTestNodeID(), ids.GenerateTestNodeID()}

	low, high := tr.Window()
	require.Equal(t, uint64(0), low)
	require.Equal(t, uint64(300), high)
	require.True(t, tr.InWindow(1))
	require.True(t, tr.InWindow(300))
	require.False(t, tr.InWindow(301))

	for _, n := range nodes {
		_, err := tr.AddVote(100, n, digest)
		require.NoError(t, err)
	}
	low, high = tr.Window()
	require.Equal(t, uint64(100), low)
	require.Equal(t, uint64(400), high)
	require.False(t, tr.InWindow(100))
	require.True(t, tr.InWindow(101))
	require.True(t, tr.InWindow(400))
	require.False(t, tr.InWindow(401))
}

func TestAddVoteRejectsStaleCheckpoint(t *testing.T) {
	tr := NewTracker(300, strongFour)
	digest := ids.GenerateTestID()
	nodes := []ids.NodeID{ids.GenerateTestNodeID(), ids.GenerateTestNodeID(), ids.GenerateTestNodeID()}
	for _, n := range nodes {
		_, err := tr.AddVote(100, n, digest)
		require.NoError(t, err)
	}

	_, err := tr.AddVote(50, ids.GenerateTestNodeID(), ids.GenerateTestID())
	require.ErrorIs(t, err, ErrStaleCheckpoint)
}

func TestAddVoteGarbageCollectsSupersededSlots(t *testing.T) {
	tr := NewTracker(300, strongFour)
	digestLow := ids.GenerateTestID()
	n1, n2 := ids.GenerateTestNodeID(), ids.GenerateTestNodeID()

	// A minority vote for an earlier slot that never reaches quorum.
	_, err := tr.AddVote(50, n1, digestLow)
	require.NoError(t, err)
	require.Equal(t, 1, tr.VoteCount(50, digestLow))

	digestHigh := ids.GenerateTestID()
	nodes := []ids.NodeID{n1, n2, ids.GenerateTestNodeID(), ids.GenerateTestNodeID()}
	for _, n := range nodes[:3] {
		_, err := tr.AddVote(100, n, digestHigh)
		require.NoError(t, err)
	}

	require.Equal(t, 0, tr.VoteCount(50, digestLow), "slot 50 must be collected once 100 stabilizes")
}

func TestStashBoundedByLimit(t *testing.T) {
	s := NewStash[string](3)
	require.True(t, s.Add(1, "a"))
	require.True(t, s.Add(1, "b"))
	require.True(t, s.Add(2, "c"))
	require.False(t, s.Add(2, "d"), "stash must drop once at capacity")
	require.Equal(t, 3, s.Len())

	got := s.Drain(1)
	require.Equal(t, []string{"a", "b"}, got)
	require.Equal(t, 1, s.Len())
	require.Empty(t, s.Drain(1), "draining twice yields nothing the second time")
}

func TestStashDiscardBefore(t *testing.T) {
	s := NewStash[int](10)
	s.Add(5, 1)
	s.Add(10, 2)
	s.Add(15, 3)
	s.DiscardBefore(10)
	require.Equal(t, 1, s.Len())
	require.Equal(t, []int{3}, s.Drain(15))
}
