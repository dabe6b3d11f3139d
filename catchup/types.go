// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package catchup implements the Catch-up Hand-off (spec 4.9, C9): the
// contract between a lagging replica and an external bulk-ledger
// fetcher. This package detects the lag, delegates to the fetcher,
// keeps the reask timers alive while catch-up is in flight, and
// replays the ordered history accumulated since the stable checkpoint
// once the fetcher reports the ledgers now match. It does not pause
// ordering: replicas keep ordering while a catch-up is in flight.
// The fetcher implementation itself (the bulk transfer protocol) is
// out of scope, the same "wire stack" Non-goal that keeps request
// propagation out of replica.
package catchup

import (
	"github.com/luxfi/ids"

	"github.com/plenum-bft/plenum/ledger"
	"github.com/plenum-bft/plenum/wire"
)

// LedgerStatus is one peer's claim about a ledger's current extent
// (spec 4.9: "Inbound LedgerStatus(ledger_id, size, view_no,
// pp_seq_no, merkle_root)").
type LedgerStatus struct {
	LedgerID   ledger.LedgerId `json:"ledger_id"`
	Size       uint64          `json:"size"`
	ViewNo     uint64          `json:"view_no"`
	PpSeqNo    uint64          `json:"pp_seq_no"`
	MerkleRoot wire.Bytes      `json:"merkle_root"`
}

// ConsistencyProof is the RFC 6962-style proof returned in response to
// a LedgerStatus mismatch (spec 4.9: "response ConsistencyProof(...)
// on mismatch"), carrying the audit path between a peer's claimed size
// and this node's.
type ConsistencyProof struct {
	LedgerID ledger.LedgerId `json:"ledger_id"`
	OldSize  uint64          `json:"old_size"`
	NewSize  uint64          `json:"new_size"`
	OldRoot  wire.Bytes      `json:"old_root"`
	NewRoot  wire.Bytes      `json:"new_root"`
	Hashes   []wire.Bytes    `json:"hashes"`
}

// Fetcher is the external bulk catch-up transfer this package hands
// off to once a lag is confirmed (spec 4.9: "start(target_sizes) ->
// resumes when ledgers match", "cancel()"). A real fetcher speaks
// CatchupReq/CatchupRep over the wire stack; this package never
// constructs those messages itself.
type Fetcher interface {
	// Start begins fetching each ledger in targetSizes up to its
	// named size, reporting completion out-of-band (e.g. via the
	// caller's own done channel) rather than through this interface.
	Start(targetSizes map[ledger.LedgerId]uint64) error
	// Cancel aborts an in-flight fetch. Safe to call when no fetch is
	// active.
	Cancel()
}

// peerReport records one peer's claim for lag-detection quorum
// counting.
type peerReport struct {
	from ids.NodeID
	size uint64
}
