// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package viewchange

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/luxfi/ids"

	"github.com/plenum-bft/plenum/config"
	"github.com/plenum-bft/plenum/plog"
	"github.com/plenum-bft/plenum/pool"
	"github.com/plenum-bft/plenum/quorum"
	"github.com/plenum-bft/plenum/replica"
	"github.com/plenum-bft/plenum/wire"
)

// Digest computes view_change_digest(vc): a 256-bit hex SHA-256 over
// vc's canonical encoding (spec 4.7 step 3). This deliberately uses
// SHA-256 rather than wire.Digest's SHA3-256: the spec names SHA-256
// specifically for this one value, the same correctness reason
// ledger's RFC 6962 tree hashes stay on SHA-256 rather than the MPT's
// SHA3-256.
func Digest(vc ViewChange) (string, error) {
	canon, err := wire.Canonical(vc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Service runs one node's side of the View-Change protocol: proposing
// ViewChanges, acking peers' ViewChanges, and — when this node is the
// target view's primary — collecting a certificate and building the
// NewView.
type Service struct {
	mu sync.Mutex

	nodeID   ids.NodeID
	register *pool.Register
	params   config.Parameters
	log      plog.Logger

	lastProposed map[uint64]time.Time
	received     map[uint64]map[ids.NodeID]ViewChange
	ackCounters  map[uint64]map[ids.NodeID]*quorum.Counter
}

// Config bundles a Service's dependencies.
type Config struct {
	NodeID   ids.NodeID
	Register *pool.Register
	Params   config.Parameters
	Log      plog.Logger
}

// New creates a view-change Service.
func New(cfg Config) *Service {
	return &Service{
		nodeID:       cfg.NodeID,
		register:     cfg.Register,
		params:       cfg.Params,
		log:          plog.OrNoOp(cfg.Log),
		lastProposed: make(map[uint64]time.Time),
		received:     make(map[uint64]map[ids.NodeID]ViewChange),
		ackCounters:  make(map[uint64]map[ids.NodeID]*quorum.Counter),
	}
}

// PrimaryFor returns the deterministic primary for viewNo, instance 0
// (spec 4.7: "primary(view_no) = validators[view_no mod n]"). For
// multi-instance deployments, callers needing instance i's primary
// use pool.Primary(register.Ordered(), viewNo, i) directly.
func (s *Service) PrimaryFor(viewNo uint64) (ids.NodeID, error) {
	return pool.Primary(s.register.Ordered(), viewNo, 0)
}

// ProposeViewChange builds this node's ViewChange for targetView,
// subject to the ViewChangeWindowSize rate limit (spec 4.7: "a node
// sends at most one ViewChange per target view in any
// ViewChangeWindowSize window").
func (s *Service) ProposeViewChange(
	targetView uint64,
	stableCheckpoint uint64,
	prepared, preprepared []PreparedCert,
	checkpoints []replica.Checkpoint,
	now time.Time,
) (*ViewChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastProposed[targetView]; ok && now.Sub(last) < s.params.ViewChangeWindowSize {
		return nil, ErrViewChangeWindow
	}
	s.lastProposed[targetView] = now

	vc := &ViewChange{
		ViewNo:           targetView,
		StableCheckpoint: stableCheckpoint,
		Prepared:         append([]PreparedCert{}, prepared...),
		Preprepared:      append([]PreparedCert{}, preprepared...),
		Checkpoints:      append([]replica.Checkpoint{}, checkpoints...),
	}
	s.storeLocked(targetView, s.nodeID, *vc)
	return vc, nil
}

// OnViewChange records a received ViewChange and, unless this node is
// the target view's primary (which already has it) or the sender
// itself, returns the ViewChangeAck to route to primary(view_no)
// (spec 4.7 step 2).
func (s *Service) OnViewChange(from ids.NodeID, vc ViewChange) (*ViewChangeAck, error) {
	s.mu.Lock()
	s.storeLocked(vc.ViewNo, from, vc)
	s.mu.Unlock()

	primary, err := s.PrimaryFor(vc.ViewNo)
	if err != nil {
		return nil, err
	}
	if s.nodeID == primary || s.nodeID == from {
		return nil, nil
	}
	digest, err := Digest(vc)
	if err != nil {
		return nil, err
	}
	return &ViewChangeAck{ViewNo: vc.ViewNo, From: from, Digest: digest}, nil
}

func (s *Service) storeLocked(viewNo uint64, from ids.NodeID, vc ViewChange) {
	m, ok := s.received[viewNo]
	if !ok {
		m = make(map[ids.NodeID]ViewChange)
		s.received[viewNo] = m
	}
	m[from] = vc
}

// OnViewChangeAck records an ack witnessing sender's ViewChange for
// viewNo, relevant only at that view's primary (spec 4.7 step 4:
// "n-f-1 ViewChangeAcks witness it"). Acks for a ViewChange this
// service already holds directly are harmless but unnecessary; acks
// are tracked regardless. Certify does not read these counts.
func (s *Service) OnViewChangeAck(sender ids.NodeID, ack *ViewChangeAck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byNode, ok := s.ackCounters[ack.ViewNo]
	if !ok {
		byNode = make(map[ids.NodeID]*quorum.Counter)
		s.ackCounters[ack.ViewNo] = byNode
	}
	strong := quorum.Derive(s.register.N()).Strong
	c, ok := byNode[ack.From]
	if !ok {
		c = quorum.NewCounter(strong - 1)
		byNode[ack.From] = c
	}
	raw, err := hex.DecodeString(ack.Digest)
	if err != nil {
		return
	}
	digest, err := ids.ToID(raw)
	if err != nil {
		return
	}
	c.Add(sender, digest)
}

// Certificate is a certified set of ViewChanges for one target view:
// a strong quorum (n-f) of senders whose ViewChange content this
// service holds directly. A sender witnessed only via n-f-1
// ViewChangeAcks but whose ViewChange content never arrived is not
// counted toward the certificate and contributes no prepared/
// preprepared evidence to selection: Certify counts only ViewChanges
// this service holds directly, a simplification over the source's
// forwarding behavior, recorded in DESIGN.md.
type Certificate struct {
	ViewNo      uint64
	ViewChanges map[ids.NodeID]ViewChange
}

// Certify reports the certificate for viewNo once a strong quorum of
// ViewChanges is held (spec 4.7 step 4's first sentence).
func (s *Service) Certify(viewNo uint64) (*Certificate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.received[viewNo]
	strong := quorum.Derive(s.register.N()).Strong
	if len(held) < strong {
		return nil, false
	}
	out := make(map[ids.NodeID]ViewChange, len(held))
	for k, v := range held {
		out[k] = v
	}
	return &Certificate{ViewNo: viewNo, ViewChanges: out}, true
}

// SelectStableCheckpoint picks the highest checkpoint present in at
// least f+1 certified ViewChanges (spec 4.7 step 4: "Stable
// checkpoint selection").
func SelectStableCheckpoint(cert *Certificate, weak int) uint64 {
	counts := make(map[uint64]int)
	for _, vc := range cert.ViewChanges {
		counts[vc.StableCheckpoint]++
	}
	var best uint64
	for cp, n := range counts {
		if n >= weak && cp > best {
			best = cp
		}
	}
	return best
}

// SelectBatches computes the deterministic NewView batch list (spec
// 4.7 step 4: "Batch selection"). For each pp_seq_no above
// stableCheckpoint seen in any certified ViewChange's prepared list, a
// batch is included iff its digest also appears in some *other*
// certified ViewChange's preprepared list at the same pp_seq_no
// ("prepared once, preprepared by someone else"); otherwise the slot
// is filled with a no-op to preserve pp_seq_no contiguity.
func SelectBatches(cert *Certificate, stableCheckpoint uint64) []Batch {
	var maxSeq uint64
	preparedBySeq := make(map[uint64][]struct {
		sender ids.NodeID
		cert   PreparedCert
	})
	prePreparedBySeq := make(map[uint64]map[ids.NodeID]ids.ID) // seq -> sender -> digest

	for sender, vc := range cert.ViewChanges {
		for _, p := range vc.Prepared {
			if p.PpSeqNo <= stableCheckpoint {
				continue
			}
			preparedBySeq[p.PpSeqNo] = append(preparedBySeq[p.PpSeqNo], struct {
				sender ids.NodeID
				cert   PreparedCert
			}{sender, p})
			if p.PpSeqNo > maxSeq {
				maxSeq = p.PpSeqNo
			}
		}
		for _, pp := range vc.Preprepared {
			if pp.PpSeqNo <= stableCheckpoint {
				continue
			}
			m, ok := prePreparedBySeq[pp.PpSeqNo]
			if !ok {
				m = make(map[ids.NodeID]ids.ID)
				prePreparedBySeq[pp.PpSeqNo] = m
			}
			m[sender] = pp.Digest
			if pp.PpSeqNo > maxSeq {
				maxSeq = pp.PpSeqNo
			}
		}
	}

	if maxSeq <= stableCheckpoint {
		return nil
	}
	batches := make([]Batch, 0, maxSeq-stableCheckpoint)
	for seq := stableCheckpoint + 1; seq <= maxSeq; seq++ {
		var chosen *PreparedCert
		for _, entry := range preparedBySeq[seq] {
			witnessedElsewhere := false
			for otherSender, digest := range prePreparedBySeq[seq] {
				if otherSender != entry.sender && digest == entry.cert.Digest {
					witnessedElsewhere = true
					break
				}
			}
			if witnessedElsewhere {
				c := entry.cert
				chosen = &c
				break
			}
		}
		if chosen != nil {
			batches = append(batches, Batch{
				PpSeqNo:   chosen.PpSeqNo,
				Digest:    chosen.Digest,
				StateRoot: chosen.StateRoot,
				TxnRoot:   chosen.TxnRoot,
			})
		} else {
			batches = append(batches, Batch{PpSeqNo: seq, NoOp: true})
		}
	}
	return batches
}

// BuildNewView assembles the primary's binding NewView for viewNo from
// its certificate (spec 4.7 step 5). Callers must have obtained cert
// via Certify(viewNo).
func BuildNewView(cert *Certificate, weak int) NewView {
	stableCp := SelectStableCheckpoint(cert, weak)
	batches := SelectBatches(cert, stableCp)
	vcs := make([]CertifiedViewChange, 0, len(cert.ViewChanges))
	for sender, vc := range cert.ViewChanges {
		vcs = append(vcs, CertifiedViewChange{Sender: sender, ViewChange: vc})
	}
	sort.Slice(vcs, func(i, j int) bool {
		return vcs[i].Sender.String() < vcs[j].Sender.String()
	})
	return NewView{ViewNo: cert.ViewNo, ViewChanges: vcs, Checkpoint: stableCp, Batches: batches}
}

// VerifyNewView recomputes the selection from nv's own certified
// ViewChanges and confirms it byte-matches nv's claimed checkpoint and
// batches (spec 4.7 step 6). A mismatch is a protocol fault.
func VerifyNewView(nv NewView, weak int) error {
	cert := &Certificate{ViewNo: nv.ViewNo, ViewChanges: make(map[ids.NodeID]ViewChange, len(nv.ViewChanges))}
	for _, entry := range nv.ViewChanges {
		cert.ViewChanges[entry.Sender] = entry.ViewChange
	}
	stableCp := SelectStableCheckpoint(cert, weak)
	if stableCp != nv.Checkpoint {
		return ErrNewViewMismatch
	}
	batches := SelectBatches(cert, stableCp)
	if len(batches) != len(nv.Batches) {
		return ErrNewViewMismatch
	}
	for i := range batches {
		if !batchesEqual(batches[i], nv.Batches[i]) {
			return ErrNewViewMismatch
		}
	}
	return nil
}

func batchesEqual(a, b Batch) bool {
	return a.PpSeqNo == b.PpSeqNo &&
		a.NoOp == b.NoOp &&
		a.Digest == b.Digest &&
		a.StateRoot == b.StateRoot &&
		string(a.TxnRoot) == string(b.TxnRoot)
}
