// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package checkpoint implements stable-checkpoint tracking and the
// watermark window that bounds which pp_seq_no values a replica will
// act on (spec 4.5, C5). A checkpoint becomes stable once a strong
// quorum of matching Checkpoint votes is observed for its pp_seq_no;
// advancing the stable checkpoint slides the watermark window forward
// and garbage-collects superseded per-slot state.
//
// Grounded on the teacher's quorum.Counter vote-tallying shape (reused
// directly here, one Counter per pp_seq_no) and the
// checkpointLog map[uint64]map[NodeID]*CheckpointMessage pattern in
// other_examples/4b62a8d2_ruvnet-alienator__alienator_pkg-internal-consensus-bft-pbft.go.go.
package checkpoint

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"

	"github.com/plenum-bft/plenum/quorum"
)

// ErrStaleCheckpoint is returned by AddVote for a pp_seq_no at or
// below the already-stable checkpoint: the vote is moot.
var ErrStaleCheckpoint = errors.New("checkpoint: pp_seq_no at or below stable checkpoint")

// Tracker collects per-(instance) Checkpoint votes keyed by pp_seq_no
// and exposes the current stable checkpoint and watermark window.
type Tracker struct {
	mu       sync.Mutex
	strongFn func() int
	logSize  uint64

	counters map[uint64]*quorum.Counter
	stableAt uint64
	stableID ids.ID
}

// NewTracker creates a Tracker whose watermark window spans logSize
// pp_seq_no units above the stable checkpoint (spec 4.5:
// LOG_SIZE = 3 x CHK_FREQ). strongFn is consulted on every vote so the
// required quorum tracks the live validator-set size.
func NewTracker(logSize uint64, strongFn func() int) *Tracker {
	return &Tracker{
		strongFn: strongFn,
		logSize:  logSize,
		counters: make(map[uint64]*quorum.Counter),
	}
}

// AddVote records voter's Checkpoint digest for ppSeqNo. It returns
// true exactly once per pp_seq_no: the call that first brings that
// slot's matching digest to a strong quorum, at which point the
// tracker's stable checkpoint advances (only forward; a quorum for a
// ppSeqNo behind the current stable point is a no-op).
func (t *Tracker) AddVote(ppSeqNo uint64, voter ids.NodeID, digest ids.ID) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ppSeqNo <= t.stableAt {
		return false, errors.Wrapf(ErrStaleCheckpoint, "pp_seq_no %d <= stable %d", ppSeqNo, t.stableAt)
	}
	c, ok := t.counters[ppSeqNo]
	if !ok {
		c = quorum.NewCounter(t.strongFn())
		t.counters[ppSeqNo] = c
	}
	if !c.Add(voter, digest) {
		return false, nil
	}

	t.stableAt = ppSeqNo
	t.stableID = digest
	for seq := range t.counters {
		if seq <= ppSeqNo {
			delete(t.counters, seq)
		}
	}
	return true, nil
}

// Stable returns the current stable checkpoint's pp_seq_no and digest.
// A zero pp_seq_no means no checkpoint has stabilized yet.
func (t *Tracker) Stable() (uint64, ids.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stableAt, t.stableID
}

// Window returns the current watermark bounds: (low, high] where low
// is the stable checkpoint and high = low + LOG_SIZE.
func (t *Tracker) Window() (low, high uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stableAt, t.stableAt + t.logSize
}

// InWindow reports whether ppSeqNo falls within the current watermark
// window, per spec 4.5's "messages outside the window are stashed or
// dropped".
func (t *Tracker) InWindow(ppSeqNo uint64) bool {
	low, high := t.Window()
	return ppSeqNo > low && ppSeqNo <= high
}

// VoteCount reports how many distinct votes ppSeqNo's digest has
// received so far, or 0 if no vote has been cast for it.
func (t *Tracker) VoteCount(ppSeqNo uint64, digest ids.ID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.counters[ppSeqNo]
	if !ok {
		return 0
	}
	return c.Count(digest)
}
