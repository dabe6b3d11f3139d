// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package viewchange implements the View-Change Service (spec 4.7,
// C7): ViewChange/ViewChangeAck/NewView message construction, the new
// primary's certificate collection, stable-checkpoint and batch
// selection, and NewView verification. Message types live here rather
// than in wire or replica, mirroring replica's own reasoning: these
// types reference replica.Checkpoint, and keeping the reference
// one-directional (viewchange -> replica) avoids any cycle.
package viewchange

import (
	"github.com/luxfi/ids"

	"github.com/plenum-bft/plenum/replica"
	"github.com/plenum-bft/plenum/wire"
)

// PreparedCert is one (pp_seq_no, view_no, digest, state_root,
// txn_root) triple a node includes in its ViewChange for a batch it
// saw Prepare-quorum on since its stable checkpoint (spec 3). The same
// shape is reused for "preprepared" entries, where only PpSeqNo and
// Digest participate in batch selection (spec 4.7 step 4).
type PreparedCert struct {
	PpSeqNo   uint64     `json:"pp_seq_no"`
	ViewNo    uint64     `json:"view_no"`
	Digest    ids.ID     `json:"digest"`
	StateRoot ids.ID     `json:"state_root"`
	TxnRoot   wire.Bytes `json:"txn_root"`
}

// ViewChange is one node's proposal to move to view_no = current + 1
// (spec 3/4.7 step 1).
type ViewChange struct {
	ViewNo           uint64                `json:"view_no"`
	StableCheckpoint uint64                `json:"stable_checkpoint"`
	Prepared         []PreparedCert        `json:"prepared"`
	Preprepared      []PreparedCert        `json:"preprepared"`
	Checkpoints      []replica.Checkpoint  `json:"checkpoints"`
}

// ViewChangeAck confirms receipt of a specific ViewChange (identified
// by its sender and digest), addressed to the new view's primary
// (spec 3/4.7 step 2).
type ViewChangeAck struct {
	ViewNo uint64  `json:"view_no"`
	From   ids.NodeID `json:"name"`
	Digest string  `json:"digest"`
}

// Batch is one entry in a NewView's deterministic re-order list (spec
// 4.7 step 4). NoOp marks a gap filled to preserve pp_seq_no
// contiguity when no certified ViewChange offers a valid candidate.
type Batch struct {
	PpSeqNo   uint64     `json:"pp_seq_no"`
	Digest    ids.ID     `json:"digest"`
	StateRoot ids.ID     `json:"state_root"`
	TxnRoot   wire.Bytes `json:"txn_root"`
	NoOp      bool       `json:"no_op"`
}

// CertifiedViewChange pairs a certified ViewChange with its sender,
// since a bare ViewChange carries no identity of its own (spec 4.7
// step 4's certificate is a map of sender -> ViewChange).
type CertifiedViewChange struct {
	Sender     ids.NodeID `json:"sender"`
	ViewChange ViewChange `json:"view_change"`
}

// NewView is the new primary's binding evidence (spec 3/4.7 step 5):
// the certified ViewChanges, the selected stable checkpoint, and the
// deterministic batch list every recipient must be able to
// recompute byte-for-byte (spec 4.7 step 6).
type NewView struct {
	ViewNo      uint64                `json:"view_no"`
	ViewChanges []CertifiedViewChange `json:"view_changes"`
	Checkpoint  uint64                `json:"checkpoint"`
	Batches     []Batch               `json:"batches"`
}
