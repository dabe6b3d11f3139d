// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package quorum derives the BFT threshold arithmetic from pool size
// (spec 4.4) and provides a vote counter used by the ordering and
// view-change services to detect when a quorum of matching messages
// has been observed. The counter is grounded on the teacher's
// quorum.Static threshold tracker (github.com/luxfi/consensus/quorum),
// generalized to key votes by an arbitrary comparable digest instead
// of a fixed boolean response.
package quorum

import (
	"sync"

	"github.com/luxfi/ids"
)

// Thresholds holds the three quorum sizes derived from pool size n.
// No other component may hard-code a quorum size (spec 4.4).
type Thresholds struct {
	N      int
	F      int // max tolerated faulty validators
	Weak   int // f+1
	Strong int // 2f+1 = n-f
}

// Derive computes f = floor((n-1)/3), weak = f+1, strong = n-f.
func Derive(n int) Thresholds {
	f := (n - 1) / 3
	return Thresholds{
		N:      n,
		F:      f,
		Weak:   f + 1,
		Strong: n - f,
	}
}

// Counter tracks, for one logical slot (e.g. a (viewNo, ppSeqNo)
// pair), how many distinct validators have voted for each digest seen,
// and reports when any digest reaches the strong quorum.
type Counter struct {
	mu     sync.Mutex
	strong int
	votes  map[ids.ID]map[ids.NodeID]struct{}
}

// NewCounter creates a counter requiring `strong` matching votes to
// declare quorum reached.
func NewCounter(strong int) *Counter {
	return &Counter{
		strong: strong,
		votes:  make(map[ids.ID]map[ids.NodeID]struct{}),
	}
}

// Add records a vote from voter for digest. Returns true exactly once:
// the call that first brings digest's vote count to the strong
// threshold. Re-votes from the same voter for the same digest, or for
// a different digest than their prior vote, are idempotent per voter
// per digest (a node re-sending an identical Commit does not inflate
// the count; I1 bars a node from voting twice for *distinct* digests
// at this slot, which callers must enforce before calling Add).
func (c *Counter) Add(voter ids.NodeID, digest ids.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.votes[digest]
	if !ok {
		set = make(map[ids.NodeID]struct{})
		c.votes[digest] = set
	}
	_, already := set[voter]
	set[voter] = struct{}{}
	return !already && len(set) == c.strong
}

// Count returns how many distinct validators voted for digest.
func (c *Counter) Count(digest ids.ID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.votes[digest])
}

// Achieved reports whether digest already has a strong quorum.
func (c *Counter) Achieved(digest ids.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.votes[digest]) >= c.strong
}

// Voted reports whether voter has already voted (for any digest) in
// this counter, letting callers enforce invariant I1 (no two distinct
// votes from one node for the same slot).
func (c *Counter) Voted(voter ids.NodeID) (ids.ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for digest, set := range c.votes {
		if _, ok := set[voter]; ok {
			return digest, true
		}
	}
	return ids.Empty, false
}

// Voters returns the set of validators who voted for digest, used to
// build BLS multi-signature participant lists and view-change
// certificates.
func (c *Counter) Voters(digest ids.ID) []ids.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.votes[digest]
	out := make([]ids.NodeID, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	return out
}
