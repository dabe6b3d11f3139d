// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package catchup

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"

	"github.com/plenum-bft/plenum/config"
	"github.com/plenum-bft/plenum/ledger"
	"github.com/plenum-bft/plenum/plog"
	"github.com/plenum-bft/plenum/pool"
	"github.com/plenum-bft/plenum/quorum"
	"github.com/plenum-bft/plenum/replica"
	"github.com/plenum-bft/plenum/timers"
	"github.com/plenum-bft/plenum/wire"
)

const (
	ledgerStatusLabel     = "reask-for-ledger-status"
	consistencyProofLabel = "reask-for-last-consistency-proof"
)

// Coordinator runs one replica's side of the catch-up hand-off: lag
// detection from peer LedgerStatus reports, delegating to a Fetcher,
// keeping the reask timers alive while a fetch is outstanding, and
// replaying ordered history once the fetcher finishes.
type Coordinator struct {
	mu sync.Mutex

	register *pool.Register
	ledgers  map[ledger.LedgerId]*ledger.Ledger
	wheel    *timers.Wheel
	fetcher  Fetcher
	params   config.Parameters
	log      plog.Logger

	reports map[ledger.LedgerId][]peerReport

	active             bool
	targetSizes        map[ledger.LedgerId]uint64
	ledgerStatusTokens map[ledger.LedgerId]timers.Token
	consistencyTokens  map[ledger.LedgerId]timers.Token
}

// Config bundles a Coordinator's dependencies.
type Config struct {
	Register *pool.Register
	Ledgers  map[ledger.LedgerId]*ledger.Ledger
	Wheel    *timers.Wheel
	Fetcher  Fetcher
	Params   config.Parameters
	Log      plog.Logger
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	return &Coordinator{
		register: cfg.Register,
		ledgers:  cfg.Ledgers,
		wheel:    cfg.Wheel,
		fetcher:  cfg.Fetcher,
		params:   cfg.Params,
		log:      plog.OrNoOp(cfg.Log),
		reports:  make(map[ledger.LedgerId][]peerReport),
	}
}

// Active reports whether a catch-up is currently in flight.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// OnLedgerStatus handles one peer's LedgerStatus (spec 4.9's catch-up
// endpoint). When the peer is behind this node (status.Size < this
// node's ledger size), it returns the ConsistencyProof bridging the
// peer's claimed size up to this node's current size, for that peer to
// verify and catch up from (spec 4.9: "response ConsistencyProof(...)
// on mismatch"). When the peer is ahead, this node cannot produce a
// proof to a size it has not reached yet; the report is still recorded
// for DetectLag to notice this node is the one falling behind.
func (c *Coordinator) OnLedgerStatus(from ids.NodeID, status LedgerStatus) (*ConsistencyProof, error) {
	c.mu.Lock()
	led, ok := c.ledgers[status.LedgerID]
	c.reports[status.LedgerID] = append(c.reports[status.LedgerID], peerReport{from: from, size: status.Size})
	c.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownLedger, "ledger %s", status.LedgerID)
	}

	localSize := led.CommittedSize()
	if status.Size >= localSize {
		return nil, nil
	}
	rawProof, err := led.ConsistencyProof(status.Size, localSize)
	if err != nil {
		return nil, err
	}
	hashes := make([]wire.Bytes, len(rawProof))
	for i, h := range rawProof {
		hashes[i] = wire.Bytes(h)
	}
	return &ConsistencyProof{
		LedgerID: status.LedgerID,
		OldSize:  status.Size,
		NewSize:  localSize,
		OldRoot:  status.MerkleRoot,
		NewRoot:  wire.Bytes(led.CommittedRootHash()),
		Hashes:   hashes,
	}, nil
}

// DetectLag reports, for each ledger with at least Weak (f+1) distinct
// peers claiming a size larger than localSizes[id], the largest such
// size a weak quorum agrees meets or exceeds (spec 4.9: "ledger size
// mismatch via consistency proofs from f+1 peers"). Returns false if
// no ledger is lagging by that bar.
func (c *Coordinator) DetectLag(localSizes map[ledger.LedgerId]uint64) (map[ledger.LedgerId]uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	weak := quorum.Derive(c.register.N()).Weak
	targets := make(map[ledger.LedgerId]uint64)
	for id, reports := range c.reports {
		local := localSizes[id]
		counts := make(map[uint64]map[ids.NodeID]struct{})
		for _, r := range reports {
			if r.size <= local {
				continue
			}
			set, ok := counts[r.size]
			if !ok {
				set = make(map[ids.NodeID]struct{})
				counts[r.size] = set
			}
			set[r.from] = struct{}{}
		}
		var best uint64
		for size, set := range counts {
			if len(set) >= weak && size > best {
				best = size
			}
		}
		if best > 0 {
			targets[id] = best
		}
	}
	return targets, len(targets) > 0
}

// Start delegates to the Fetcher for every ledger in targetSizes and
// schedules the cancellable _reask_for_ledger_status and
// _reask_for_last_consistency_proof timers (spec 4.9).
func (c *Coordinator) Start(targetSizes map[ledger.LedgerId]uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return ErrAlreadyActive
	}
	if err := c.fetcher.Start(targetSizes); err != nil {
		return err
	}
	c.active = true
	c.targetSizes = targetSizes
	c.ledgerStatusTokens = make(map[ledger.LedgerId]timers.Token, len(targetSizes))
	c.consistencyTokens = make(map[ledger.LedgerId]timers.Token, len(targetSizes))
	for id := range targetSizes {
		c.ledgerStatusTokens[id] = c.wheel.After(c.params.CatchupTransactionsTimeout, ledgerStatusLabel)
		c.consistencyTokens[id] = c.wheel.After(c.params.ConsistencyProofsTimeout, consistencyProofLabel)
	}
	return nil
}

// OnReaskFired reschedules a still-active reask timer (backoff at the
// same interval), or is a no-op if catch-up has already completed —
// callers route timers.Fired events here unconditionally rather than
// checking Active themselves first.
func (c *Coordinator) OnReaskFired(fired timers.Fired) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	switch fired.Label {
	case ledgerStatusLabel:
		for id, tok := range c.ledgerStatusTokens {
			if tok == fired.Token {
				c.ledgerStatusTokens[id] = c.wheel.After(c.params.CatchupTransactionsTimeout, ledgerStatusLabel)
				return
			}
		}
	case consistencyProofLabel:
		for id, tok := range c.consistencyTokens {
			if tok == fired.Token {
				c.consistencyTokens[id] = c.wheel.After(c.params.ConsistencyProofsTimeout, consistencyProofLabel)
				return
			}
		}
	}
}

// Cancel aborts the fetch and every outstanding reask timer (spec 4.9:
// "must be cancellable once catch-up completes").
func (c *Coordinator) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return ErrNotActive
	}
	c.fetcher.Cancel()
	c.stopTimersLocked()
	c.active = false
	c.targetSizes = nil
	return nil
}

// Complete marks catch-up finished (the caller has confirmed every
// ledger in targetSizes now matches), cancelling every reask timer and
// clearing accumulated lag reports so stale claims from before catch-up
// don't immediately re-trigger DetectLag.
func (c *Coordinator) Complete() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return ErrNotActive
	}
	c.stopTimersLocked()
	c.active = false
	c.targetSizes = nil
	c.reports = make(map[ledger.LedgerId][]peerReport)
	return nil
}

func (c *Coordinator) stopTimersLocked() {
	for _, tok := range c.ledgerStatusTokens {
		c.wheel.Cancel(tok)
	}
	for _, tok := range c.consistencyTokens {
		c.wheel.Cancel(tok)
	}
	c.ledgerStatusTokens = nil
	c.consistencyTokens = nil
}

// ApplyHistory rebuilds in-memory 3PC state from the batches ordered
// since the stable checkpoint the fetcher caught this node up to
// (spec 4.9: "apply_3pc_history(batches_since_stable_cp)"), calling
// apply once per batch in order and stopping at the first error. The
// replay target (a *replica.Replica's slot map) is supplied by the
// caller rather than owned here, since this package has no dependency
// on replica beyond the Ordered record shape.
func ApplyHistory(batches []replica.Ordered, apply func(replica.Ordered) error) error {
	for _, b := range batches {
		if err := apply(b); err != nil {
			return err
		}
	}
	return nil
}
