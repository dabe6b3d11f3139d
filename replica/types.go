// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package replica implements the per-instance Ordering Service (spec
// 4.6, C6): the primary-side batching loop, the non-primary
// verification pipeline, and the (view_no, pp_seq_no) state machine
// (None -> PrePrepared -> Prepared -> Committed -> Ordered) that
// drives requests to Ordered via Prepare- and Commit-quorums.
//
// The 3PC message types live here rather than in wire because a
// PrePrepare carries an optional blsagg.MultiSignature, and blsagg
// already imports wire; defining these types in wire would either
// create wire -> blsagg -> wire or force an awkward split. replica can
// safely import both.
package replica

import (
	"github.com/luxfi/ids"

	"github.com/plenum-bft/plenum/blsagg"
	"github.com/plenum-bft/plenum/ledger"
	"github.com/plenum-bft/plenum/wire"
)

// RequestKey is a client request's unique identity (spec 3).
type RequestKey struct {
	Identifier string `json:"identifier"`
	ReqID      uint64 `json:"req_id"`
}

// Request is one finalized client request (spec 3). Operation is
// opaque to the ordering core; plugin-level interpretation of it is
// out of scope here (spec's Non-goals).
type Request struct {
	Identifier string               `json:"identifier"`
	ReqID      uint64               `json:"req_id"`
	Operation  wire.Bytes           `json:"operation"`
	Signatures map[string]wire.Bytes `json:"signatures"`
}

// Key returns the request's unique (identifier, req_id) key.
func (r Request) Key() RequestKey {
	return RequestKey{Identifier: r.Identifier, ReqID: r.ReqID}
}

// ThreePCKey uniquely keys a batch within a replica's history within
// one view (spec 3).
type ThreePCKey struct {
	ViewNo  uint64
	PpSeqNo uint64
}

// PrePrepare is the primary's proposed batch (spec 3). StateRoot is
// the MPT's ids.ID root commitment; TxnRoot and AuditTxnRoot are
// RFC 6962 ledger roots (plain bytes, a different hash domain than the
// MPT), so they are wire.Bytes rather than ids.ID.
type PrePrepare struct {
	ViewNo       uint64                  `json:"view_no"`
	PpSeqNo      uint64                  `json:"pp_seq_no"`
	PpTime       int64                   `json:"pp_time"`
	LedgerID     ledger.LedgerId         `json:"ledger_id"`
	ReqIdr       []RequestKey            `json:"reqidr"`
	Digest       ids.ID                  `json:"digest"`
	StateRoot    ids.ID                  `json:"state_root"`
	TxnRoot      wire.Bytes              `json:"txn_root"`
	SubSeqNo     uint64                  `json:"sub_seq_no"`
	Final        bool                    `json:"final"`
	AuditTxnRoot wire.Bytes              `json:"audit_txn_root"`
	BlsMultiSig  *blsagg.MultiSignature  `json:"bls_multi_sig,omitempty"`
}

// Key returns the (view_no, pp_seq_no) this PrePrepare occupies.
func (p PrePrepare) Key() ThreePCKey {
	return ThreePCKey{ViewNo: p.ViewNo, PpSeqNo: p.PpSeqNo}
}

// Prepare echoes a PrePrepare's commitments without its payload (spec 3).
type Prepare struct {
	ViewNo    uint64     `json:"view_no"`
	PpSeqNo   uint64     `json:"pp_seq_no"`
	Digest    ids.ID     `json:"digest"`
	StateRoot ids.ID     `json:"state_root"`
	TxnRoot   wire.Bytes `json:"txn_root"`
}

// Key returns the (view_no, pp_seq_no) this Prepare votes on.
func (p Prepare) Key() ThreePCKey {
	return ThreePCKey{ViewNo: p.ViewNo, PpSeqNo: p.PpSeqNo}
}

// matches reports whether p echoes pp's commitments (spec 4.6 step 4:
// "recompute state_root, txn_root. If they match, broadcast Prepare").
func (p Prepare) matches(pp PrePrepare) bool {
	return p.Digest == pp.Digest && p.StateRoot == pp.StateRoot && string(p.TxnRoot) == string(pp.TxnRoot)
}

// Commit carries an optional BLS share over the slot's canonical
// multi-signature value (spec 3/4.3). A node emits Commit only after
// collecting a Prepare quorum matching a PrePrepare it accepted.
type Commit struct {
	ViewNo      uint64     `json:"view_no"`
	PpSeqNo     uint64     `json:"pp_seq_no"`
	BlsSigShare wire.Bytes `json:"bls_sig_share,omitempty"`
}

// Key returns the (view_no, pp_seq_no) this Commit votes on.
func (c Commit) Key() ThreePCKey {
	return ThreePCKey{ViewNo: c.ViewNo, PpSeqNo: c.PpSeqNo}
}

// Ordered is emitted once a batch reaches the Ordered state (spec
// 4.6): the caller applies it to the committed ledger and MPT.
type Ordered struct {
	Key         ThreePCKey
	LedgerID    ledger.LedgerId
	ReqIdr      []RequestKey
	Digest      ids.ID
	StateRoot   ids.ID
	TxnRoot     []byte
	PpTime      int64
	BlsMultiSig *blsagg.MultiSignature
}

// Checkpoint is one replica's vote that it has ordered up through
// SeqNoEnd (spec 3); CHK_FREQ batches after the prior one.
type Checkpoint struct {
	InstID     int        `json:"inst_id"`
	ViewNo     uint64     `json:"view_no"`
	SeqNoStart uint64     `json:"seq_no_start"`
	SeqNoEnd   uint64     `json:"seq_no_end"`
	Digest     ids.ID     `json:"digest"`
}
