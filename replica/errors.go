// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package replica

import "github.com/cockroachdb/errors"

var (
	// ErrNotPrimary is returned by ProposeBatch and
	// ProposeFreshnessBatch when this replica
	// is not the current primary for its (view_no, instance).
	ErrNotPrimary = errors.New("replica: not primary for current view")

	// ErrWrongPrimary is the non-primary-side rejection when a
	// PrePrepare's sender is not the instance's current primary
	// (spec 4.6 step 1).
	ErrWrongPrimary = errors.New("replica: PrePrepare sender is not the current primary")

	// ErrStalePpSeqNo is the rejection when pp_seq_no <= last
	// processed for this view (spec 4.6 step 2).
	ErrStalePpSeqNo = errors.New("replica: pp_seq_no at or below last processed")

	// ErrOutsideWatermarks is the rejection when pp_seq_no falls
	// outside the current checkpoint watermark window.
	ErrOutsideWatermarks = errors.New("replica: pp_seq_no outside watermark window")

	// ErrClockDeviation is the rejection when |pp_time - now| exceeds
	// AcceptableDeviationSecs (spec 4.6 step 2).
	ErrClockDeviation = errors.New("replica: pp_time deviates from local clock beyond tolerance")

	// ErrSuspiciousPrePrepare is raised when re-execution of a batch
	// does not reproduce the PrePrepare's claimed digest/state_root/
	// txn_root (spec 4.6 step 4: "raise a suspicious-node alert and
	// do not Prepare").
	ErrSuspiciousPrePrepare = errors.New("replica: suspicious PrePrepare: recomputed roots do not match")

	// ErrUnknownSlot is returned by OnPrepare when a Prepare arrives
	// for a (view_no, pp_seq_no) this replica has no PrePrepare for
	// yet; the Prepare is not recorded. OnCommit reports the same case
	// as ErrNotPrepared.
	ErrUnknownSlot = errors.New("replica: no PrePrepare known for this slot yet")

	// ErrPrepareMismatch is returned when a Prepare does not echo the
	// locally accepted PrePrepare's commitments.
	ErrPrepareMismatch = errors.New("replica: Prepare does not match accepted PrePrepare")

	// ErrNotPrepared is returned when a Commit arrives for a slot that
	// has not yet reached Prepared locally; callers stash it as an
	// out-of-order Commit (spec 4.6: "Out-of-order Commits").
	ErrNotPrepared = errors.New("replica: Commit received before slot reached Prepared")

	// ErrDuplicatePrepareVote is returned when a Prepare's sender has
	// already voted for a distinct digest at this slot (invariant I1).
	ErrDuplicatePrepareVote = errors.New("replica: already sent a distinct Prepare for this pp_seq_no")

	// ErrNoTrieForLedger is returned when a batch names a ledger this
	// replica has no trie registered for.
	ErrNoTrieForLedger = errors.New("replica: no trie registered for ledger")

	// ErrNoLedgerForLedger is returned when a batch names a ledger
	// this replica has no Ledger registered for.
	ErrNoLedgerForLedger = errors.New("replica: no ledger registered for ledger")
)
