// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package replica

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"

	"github.com/plenum-bft/plenum/blsagg"
	"github.com/plenum-bft/plenum/checkpoint"
	"github.com/plenum-bft/plenum/config"
	"github.com/plenum-bft/plenum/ledger"
	"github.com/plenum-bft/plenum/plog"
	"github.com/plenum-bft/plenum/metrics"
	"github.com/plenum-bft/plenum/pool"
	"github.com/plenum-bft/plenum/quorum"
	"github.com/plenum-bft/plenum/trie"
	"github.com/plenum-bft/plenum/wire"
)

// Phase is a (view_no, pp_seq_no) slot's position in the state machine
// None -> PrePrepared -> Prepared -> Committed -> Ordered (spec 4.6).
type Phase int

const (
	PhaseNone Phase = iota
	PhasePrePrepared
	PhasePrepared
	PhaseCommitted
	PhaseOrdered
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhasePrePrepared:
		return "pre-prepared"
	case PhasePrepared:
		return "prepared"
	case PhaseCommitted:
		return "committed"
	case PhaseOrdered:
		return "ordered"
	default:
		return "unknown"
	}
}

type slot struct {
	phase      Phase
	pp         *PrePrepare
	ledgerSeqNo uint64
	prepareCtr *quorum.Counter
	commitCtr  *quorum.Counter
	commitShares map[ids.NodeID]struct{}
}

// Replica drives one (view_no, instance) 3PC pipeline. Only the master
// instance's Ordered events are meant to be applied to ledgers; backup
// instances exist to give the Monitor independent throughput/latency
// baselines (spec 4.6/4.8) and are driven identically by this type.
//
// A Replica is not safe for concurrent use from multiple goroutines at
// once beyond its own internal locking; spec 5's concurrency model
// runs each replica's state machine on one cooperative event loop
// (see the node package), so the locking here guards against the rare
// cross-goroutine call (e.g. a metrics reader), not a concurrent
// write pattern.
type Replica struct {
	mu sync.Mutex

	nodeID   ids.NodeID
	instance int
	isMaster bool

	register    *pool.Register
	tries       map[ledger.LedgerId]*trie.Trie
	ledgers     map[ledger.LedgerId]*ledger.Ledger
	signer      *blsagg.Signer
	agg         *blsagg.Aggregator
	checkpoints *checkpoint.Tracker
	params      config.Parameters
	log         plog.Logger
	metrics     *metrics.Metrics

	viewNo           uint64
	lastOrdered      ThreePCKey
	nextPpSeqNo      uint64
	batchesInFlight  int
	slots            map[ThreePCKey]*slot
	batchesSinceChk  uint64

	pending      map[ledger.LedgerId][]Request
	pendingSince map[ledger.LedgerId]time.Time
	lastActivity map[ledger.LedgerId]time.Time
}

// Config bundles a Replica's dependencies, grounded on the teacher's
// constructor-takes-a-struct-of-collaborators idiom.
type Config struct {
	NodeID      ids.NodeID
	Instance    int
	IsMaster    bool
	Register    *pool.Register
	Tries       map[ledger.LedgerId]*trie.Trie
	Ledgers     map[ledger.LedgerId]*ledger.Ledger
	Signer      *blsagg.Signer
	Aggregator  *blsagg.Aggregator
	Checkpoints *checkpoint.Tracker
	Params      config.Parameters
	Log         plog.Logger
	Metrics     *metrics.Metrics
}

// New creates a Replica from cfg. Log defaults to a no-op logger.
func New(cfg Config) *Replica {
	return &Replica{
		nodeID:       cfg.NodeID,
		instance:     cfg.Instance,
		isMaster:     cfg.IsMaster,
		register:     cfg.Register,
		tries:        cfg.Tries,
		ledgers:      cfg.Ledgers,
		signer:       cfg.Signer,
		agg:          cfg.Aggregator,
		checkpoints:  cfg.Checkpoints,
		params:       cfg.Params,
		log:          plog.OrNoOp(cfg.Log),
		metrics:      cfg.Metrics,
		nextPpSeqNo:  0,
		slots:        make(map[ThreePCKey]*slot),
		pending:      make(map[ledger.LedgerId][]Request),
		pendingSince: make(map[ledger.LedgerId]time.Time),
		lastActivity: make(map[ledger.LedgerId]time.Time),
	}
}

// IsMaster reports whether this instance's Ordered batches are the
// ones applied to ledgers (spec 4.6).
func (r *Replica) IsMaster() bool { return r.isMaster }

// ViewNo returns the replica's current view.
func (r *Replica) ViewNo() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewNo
}

// LastOrdered returns the last (view_no, pp_seq_no) this replica
// ordered.
func (r *Replica) LastOrdered() ThreePCKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastOrdered
}

// PrimaryFor returns the current primary for this instance at viewNo
// (spec 4.7: primary(v) = validators[(v+i) mod n]).
func (r *Replica) PrimaryFor(viewNo uint64) (ids.NodeID, error) {
	return pool.Primary(r.register.Ordered(), viewNo, r.instance)
}

// IsPrimary reports whether this replica is the primary for its
// current view.
func (r *Replica) IsPrimary() bool {
	r.mu.Lock()
	viewNo := r.viewNo
	r.mu.Unlock()
	p, err := r.PrimaryFor(viewNo)
	return err == nil && p == r.nodeID
}

// ViewChanged resets this replica onto a new view, per spec 4.7 step
// 7: "install view_no := v', reset 3PC state above the checkpoint".
// Every non-Ordered slot is discarded; the stable checkpoint and
// Ordered history survive untouched.
func (r *Replica) ViewChanged(newView uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.viewNo = newView
	r.nextPpSeqNo = 0
	for key, s := range r.slots {
		if s.phase != PhaseOrdered {
			delete(r.slots, key)
		}
	}
	r.batchesInFlight = 0
}

// EnqueueRequest queues a finalized request for ledgerID, to be picked
// up by the next batch this replica (as primary) proposes for it.
func (r *Replica) EnqueueRequest(ledgerID ledger.LedgerId, req Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pendingSince[ledgerID]; !ok || len(r.pending[ledgerID]) == 0 {
		r.pendingSince[ledgerID] = time.Now()
	}
	r.pending[ledgerID] = append(r.pending[ledgerID], req)
}

// ReadyLedgers reports which ledgers have a batch ready to cut at now,
// per spec 4.6 step 1: size reaches Max3PCBatchSize, or
// Max3PCBatchWait has elapsed since the first pending request, subject
// to Max3PCBatchesInFlight.
func (r *Replica) ReadyLedgers(now time.Time) []ledger.LedgerId {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.batchesInFlight >= r.params.Max3PCBatchesInFlight {
		return nil
	}
	var ready []ledger.LedgerId
	for ledgerID, reqs := range r.pending {
		if len(reqs) == 0 {
			continue
		}
		if len(reqs) >= r.params.Max3PCBatchSize {
			ready = append(ready, ledgerID)
			continue
		}
		if since, ok := r.pendingSince[ledgerID]; ok && now.Sub(since) >= r.params.Max3PCBatchWait {
			ready = append(ready, ledgerID)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	return ready
}

// IdleLedgers reports ledgers with no pending requests for at least
// StateFreshnessInterval, candidates for a freshness PrePrepare (spec
// 4.6: "Freshness updates").
func (r *Replica) IdleLedgers(now time.Time) []ledger.LedgerId {
	r.mu.Lock()
	defer r.mu.Unlock()
	var idle []ledger.LedgerId
	for ledgerID := range r.ledgers {
		if len(r.pending[ledgerID]) > 0 {
			continue
		}
		last, ok := r.lastActivity[ledgerID]
		if !ok || now.Sub(last) >= r.params.StateFreshnessInterval {
			idle = append(idle, ledgerID)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i] < idle[j] })
	return idle
}

// ProposeBatch cuts the primary's next PrePrepare for ledgerID from
// its pending queue (spec 4.6 steps 1-3). Returns ErrNotPrimary if
// this replica is not the current primary.
func (r *Replica) ProposeBatch(ledgerID ledger.LedgerId, now time.Time) (*PrePrepare, error) {
	if !r.IsPrimary() {
		return nil, ErrNotPrimary
	}
	r.mu.Lock()
	reqs := r.pending[ledgerID]
	if len(reqs) > r.params.Max3PCBatchSize {
		reqs = reqs[:r.params.Max3PCBatchSize]
	}
	rest := r.pending[ledgerID][len(reqs):]
	r.mu.Unlock()

	pp, err := r.buildPrePrepare(ledgerID, reqs, now)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.pending[ledgerID] = append([]Request{}, rest...)
	if len(rest) > 0 {
		r.pendingSince[ledgerID] = now
	} else {
		delete(r.pendingSince, ledgerID)
	}
	r.lastActivity[ledgerID] = now
	r.mu.Unlock()
	return pp, nil
}

// ProposeFreshnessBatch cuts an empty-reqIdr PrePrepare for an idle
// ledger so its BLS multi-signature over (state_root, timestamp)
// still advances (spec 4.6: "Freshness batches carry an empty
// reqIdr").
func (r *Replica) ProposeFreshnessBatch(ledgerID ledger.LedgerId, now time.Time) (*PrePrepare, error) {
	if !r.IsPrimary() {
		return nil, ErrNotPrimary
	}
	pp, err := r.buildPrePrepare(ledgerID, nil, now)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.lastActivity[ledgerID] = now
	r.mu.Unlock()
	return pp, nil
}

func (r *Replica) buildPrePrepare(ledgerID ledger.LedgerId, reqs []Request, now time.Time) (*PrePrepare, error) {
	stateRoot, txnRoot, digest, ledgerSeqNo, err := r.applyBatch(ledgerID, reqs)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.nextPpSeqNo++
	ppSeqNo := r.nextPpSeqNo
	viewNo := r.viewNo
	r.batchesInFlight++
	var ms *blsagg.MultiSignature
	if r.agg != nil && ppSeqNo > 1 {
		if prior, ok := r.agg.Result(blsagg.Key{ViewNo: viewNo, PpSeqNo: ppSeqNo - 1, LedgerID: ledgerID}); ok {
			c := prior
			ms = &c
		}
	}
	r.mu.Unlock()

	keys := make([]RequestKey, len(reqs))
	for i, req := range reqs {
		keys[i] = req.Key()
	}

	pp := &PrePrepare{
		ViewNo:       viewNo,
		PpSeqNo:      ppSeqNo,
		PpTime:       now.Unix(),
		LedgerID:     ledgerID,
		ReqIdr:       keys,
		Digest:       digest,
		StateRoot:    stateRoot,
		TxnRoot:      txnRoot,
		Final:        true,
		AuditTxnRoot: txnRoot,
		BlsMultiSig:  ms,
	}

	r.mu.Lock()
	s := r.slotFor(pp.Key())
	cp := *pp
	s.phase = PhasePrePrepared
	s.pp = &cp
	s.ledgerSeqNo = ledgerSeqNo
	s.prepareCtr.Add(r.nodeID, pp.Digest)
	r.mu.Unlock()
	return pp, nil
}

// applyBatch re-executes reqs against ledgerID's uncommitted trie and
// ledger suffix, returning the resulting state_root, txn_root, batch
// digest, and the ledger seqNo this batch's leaf landed on (spec 4.6
// step 2 / step 4). An empty reqs (a freshness batch) still appends one
// ledger record (the canonical encoding of its nil request list), so
// txn_root advances; that record does not carry the batch timestamp.
// The returned seqNo is the exact position OnCommit must CommitTo for
// this batch alone: with Max3PCBatchesInFlight > 1, later, not-yet-
// ordered batches may already have appended leaves past it.
func (r *Replica) applyBatch(ledgerID ledger.LedgerId, reqs []Request) (ids.ID, wire.Bytes, ids.ID, uint64, error) {
	t, ok := r.tries[ledgerID]
	if !ok {
		return ids.Empty, nil, ids.Empty, 0, errors.Wrapf(ErrNoTrieForLedger, "ledger %s", ledgerID)
	}
	led, ok := r.ledgers[ledgerID]
	if !ok {
		return ids.Empty, nil, ids.Empty, 0, errors.Wrapf(ErrNoLedgerForLedger, "ledger %s", ledgerID)
	}

	for _, req := range reqs {
		key, err := wire.Digest(req.Key())
		if err != nil {
			return ids.Empty, nil, ids.Empty, 0, err
		}
		value, err := wire.Canonical(req)
		if err != nil {
			return ids.Empty, nil, ids.Empty, 0, err
		}
		if err := t.Update(key[:], value); err != nil {
			return ids.Empty, nil, ids.Empty, 0, errors.Wrap(err, "replica: apply request to trie")
		}
	}
	stateRoot, err := t.RootHash()
	if err != nil {
		return ids.Empty, nil, ids.Empty, 0, errors.Wrap(err, "replica: compute state root")
	}

	txnBytes, err := wire.Canonical(reqs)
	if err != nil {
		return ids.Empty, nil, ids.Empty, 0, err
	}
	seqNo, root, err := led.Append(txnBytes)
	if err != nil {
		return ids.Empty, nil, ids.Empty, 0, errors.Wrap(err, "replica: append to ledger")
	}

	keys := make([]RequestKey, len(reqs))
	for i, req := range reqs {
		keys[i] = req.Key()
	}
	digest, err := wire.Digest(keys)
	if err != nil {
		return ids.Empty, nil, ids.Empty, 0, err
	}
	return stateRoot, wire.Bytes(root), digest, seqNo, nil
}

func (r *Replica) slotFor(key ThreePCKey) *slot {
	s, ok := r.slots[key]
	if !ok {
		strong := quorum.Derive(r.register.N()).Strong
		s = &slot{
			prepareCtr:   quorum.NewCounter(strong),
			commitCtr:    quorum.NewCounter(strong),
			commitShares: make(map[ids.NodeID]struct{}),
		}
		r.slots[key] = s
	}
	return s
}

// OnPrePrepare runs the non-primary verification pipeline (spec 4.6,
// non-primary side steps 1-4) and, on success, returns this replica's
// Prepare vote. reqs must be the locally-held Request bodies matching
// pp.ReqIdr in order (request propagation itself is out of scope; the
// node layer supplies them once finalized copies are available).
func (r *Replica) OnPrePrepare(from ids.NodeID, pp *PrePrepare, reqs []Request, now time.Time) (*Prepare, error) {
	primary, err := r.PrimaryFor(pp.ViewNo)
	if err != nil {
		return nil, err
	}
	if primary != from {
		return nil, errors.Wrapf(ErrWrongPrimary, "from %s, expected %s", from, primary)
	}

	r.mu.Lock()
	if pp.ViewNo == r.viewNo && pp.PpSeqNo <= r.lastOrdered.PpSeqNo {
		r.mu.Unlock()
		return nil, errors.Wrapf(ErrStalePpSeqNo, "pp_seq_no %d <= last ordered %d", pp.PpSeqNo, r.lastOrdered.PpSeqNo)
	}
	r.mu.Unlock()

	if !r.checkpoints.InWindow(pp.PpSeqNo) {
		return nil, errors.Wrapf(ErrOutsideWatermarks, "pp_seq_no %d", pp.PpSeqNo)
	}

	deviation := now.Unix() - pp.PpTime
	if deviation < 0 {
		deviation = -deviation
	}
	if time.Duration(deviation)*time.Second > r.params.AcceptableDeviationSecs {
		return nil, errors.Wrapf(ErrClockDeviation, "pp_time %d vs now %d", pp.PpTime, now.Unix())
	}

	if pp.BlsMultiSig != nil {
		if err := blsagg.Verify(*pp.BlsMultiSig, r.register); err != nil {
			return nil, err
		}
	}

	stateRoot, txnRoot, digest, ledgerSeqNo, err := r.applyBatch(pp.LedgerID, reqs)
	if err != nil {
		return nil, err
	}
	if digest != pp.Digest || stateRoot != pp.StateRoot || !bytes.Equal(txnRoot, pp.TxnRoot) {
		return nil, errors.Wrapf(ErrSuspiciousPrePrepare, "slot %+v", pp.Key())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slotFor(pp.Key())
	cp := *pp
	s.phase = PhasePrePrepared
	s.pp = &cp
	s.ledgerSeqNo = ledgerSeqNo
	r.lastActivity[pp.LedgerID] = now

	prep := &Prepare{ViewNo: pp.ViewNo, PpSeqNo: pp.PpSeqNo, Digest: pp.Digest, StateRoot: pp.StateRoot, TxnRoot: pp.TxnRoot}
	s.prepareCtr.Add(r.nodeID, pp.Digest)
	return prep, nil
}

// OnPrepare records a Prepare vote. Once the slot's matching digest
// reaches a strong quorum, it returns this replica's Commit (carrying
// its BLS share over the slot's canonical multi-signature value) to
// broadcast (spec 4.6: "On n-f matching Prepares: broadcast Commit").
func (r *Replica) OnPrepare(from ids.NodeID, p *Prepare) (*Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[p.Key()]
	if !ok || s.pp == nil {
		return nil, ErrUnknownSlot
	}
	if !p.matches(*s.pp) {
		return nil, errors.Wrapf(ErrPrepareMismatch, "slot %+v from %s", p.Key(), from)
	}
	if prior, voted := s.prepareCtr.Voted(from); voted && prior != p.Digest {
		return nil, errors.Wrapf(ErrDuplicatePrepareVote, "node %s slot %+v", from, p.Key())
	}

	reachedQuorum := s.prepareCtr.Add(from, p.Digest)
	if !reachedQuorum || s.phase >= PhasePrepared {
		return nil, nil
	}
	s.phase = PhasePrepared

	var share wire.Bytes
	if r.signer != nil {
		ms := blsagg.MultiSignatureValue{
			LedgerID:  s.pp.LedgerID,
			StateRoot: idBytes(s.pp.StateRoot),
			TxnRoot:   s.pp.TxnRoot,
			Timestamp: s.pp.PpTime,
		}
		sig, err := r.signer.Sign(ms)
		if err != nil {
			return nil, errors.Wrap(err, "replica: sign commit share")
		}
		share = sig
	}

	s.commitCtr.Add(r.nodeID, s.pp.Digest)
	s.commitShares[r.nodeID] = struct{}{}

	return &Commit{ViewNo: p.ViewNo, PpSeqNo: p.PpSeqNo, BlsSigShare: share}, nil
}

func idBytes(id ids.ID) wire.Bytes {
	b := id
	return wire.Bytes(b[:])
}

// OnCommit records a Commit vote. If this slot itself has not reached
// Prepared, or if its predecessor pp_seq_no has not yet ordered, it
// returns ErrNotPrepared so the caller can stash it as an out-of-order
// Commit and retry once the predecessor orders (spec 4.6: "Out-of-order
// Commits"; O3: Ordered events fire in strictly increasing
// (view_no, pp_seq_no); I4: gap-free). Once the slot reaches a strong
// quorum of Commits, it returns the Ordered event to apply to the
// committed ledger/MPT.
func (r *Replica) OnCommit(from ids.NodeID, c *Commit) (*Ordered, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[c.Key()]
	if !ok || s.pp == nil || s.phase < PhasePrepared {
		return nil, ErrNotPrepared
	}

	wantSeqNo := uint64(1)
	if c.ViewNo == r.lastOrdered.ViewNo {
		wantSeqNo = r.lastOrdered.PpSeqNo + 1
	}
	if s.phase < PhaseOrdered && c.PpSeqNo != wantSeqNo {
		return nil, ErrNotPrepared
	}

	if len(c.BlsSigShare) > 0 && r.agg != nil {
		msv := blsagg.MultiSignatureValue{
			LedgerID:  s.pp.LedgerID,
			StateRoot: idBytes(s.pp.StateRoot),
			TxnRoot:   s.pp.TxnRoot,
			Timestamp: s.pp.PpTime,
		}
		key := blsagg.Key{ViewNo: c.ViewNo, PpSeqNo: c.PpSeqNo, LedgerID: s.pp.LedgerID}
		if _, err := r.agg.AddShare(key, from, msv, c.BlsSigShare); err != nil {
			r.log.Warn("rejected commit BLS share", "node", from.String(), "err", err.Error())
		}
	}

	reachedQuorum := s.commitCtr.Add(from, s.pp.Digest)
	s.commitShares[from] = struct{}{}
	if !reachedQuorum || s.phase >= PhaseCommitted {
		return nil, nil
	}
	s.phase = PhaseCommitted

	led := r.ledgers[s.pp.LedgerID]
	if led != nil {
		if err := led.CommitTo(s.ledgerSeqNo); err != nil {
			return nil, errors.Wrap(err, "replica: commit ledger suffix")
		}
	}

	s.phase = PhaseOrdered
	r.lastOrdered = c.Key()
	if r.batchesInFlight > 0 {
		r.batchesInFlight--
	}
	r.batchesSinceChk++

	var ms *blsagg.MultiSignature
	if r.agg != nil {
		if formed, ok := r.agg.Result(blsagg.Key{ViewNo: c.ViewNo, PpSeqNo: c.PpSeqNo, LedgerID: s.pp.LedgerID}); ok {
			m := formed
			ms = &m
		}
	}

	if r.metrics != nil {
		r.metrics.IncOrderedBatch(s.pp.LedgerID.String())
	}

	return &Ordered{
		Key:         c.Key(),
		LedgerID:    s.pp.LedgerID,
		ReqIdr:      s.pp.ReqIdr,
		Digest:      s.pp.Digest,
		StateRoot:   s.pp.StateRoot,
		TxnRoot:     s.pp.TxnRoot,
		PpTime:      s.pp.PpTime,
		BlsMultiSig: ms,
	}, nil
}

// EmitCheckpointIfDue reports whether CheckpointFreq batches have
// ordered since the last checkpoint and, if so, returns the
// Checkpoint to broadcast (spec 4.5: "emits a Checkpoint after
// ordering CHK_FREQ batches").
func (r *Replica) EmitCheckpointIfDue() (*Checkpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	freq := uint64(r.params.CheckpointFreq)
	if freq == 0 || r.batchesSinceChk < freq {
		return nil, false
	}
	seqEnd := r.lastOrdered.PpSeqNo
	seqStart := seqEnd - r.batchesSinceChk + 1
	r.batchesSinceChk = 0

	digest := wire.MustDigest(struct {
		SeqStart uint64
		SeqEnd   uint64
	}{seqStart, seqEnd})

	return &Checkpoint{
		InstID:     r.instance,
		ViewNo:     r.viewNo,
		SeqNoStart: seqStart,
		SeqNoEnd:   seqEnd,
		Digest:     digest,
	}, true
}

// OnCheckpoint records a peer's checkpoint vote and reports whether it
// just stabilized (spec 4.5). Callers use this to drive
// checkpoint.Tracker directly; it is exposed here for replicas that
// keep their own Tracker rather than sharing one across instances.
func (r *Replica) OnCheckpoint(from ids.NodeID, c *Checkpoint) (bool, error) {
	return r.checkpoints.AddVote(c.SeqNoEnd, from, c.Digest)
}

// Phase returns the current phase of (view_no, pp_seq_no), PhaseNone
// if unknown.
func (r *Replica) Phase(key ThreePCKey) Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[key]
	if !ok {
		return PhaseNone
	}
	return s.phase
}
