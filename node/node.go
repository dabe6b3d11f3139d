// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package node wires the Ordering Service (C6), View-Change (C7),
// Monitor (C8), and Catch-up Hand-off (C9) packages into one
// replica's cooperative event loop (spec 5: "each replica's state
// machine runs on one cooperative event loop"). It owns the
// instance-multiplexed dispatch of inbound wire envelopes, the
// primary-side batching tick, and the glue between a sustained
// Monitor degradation and a proposed ViewChange.
//
// The transport that actually moves Envelope bytes between nodes, and
// the request-propagation protocol that mirrors client Requests
// across the pool, are both out of scope (the Non-goal already named
// by replica and catchup); this package assumes both already land
// values on its Inbound channel / request mirror by the time it needs
// them.
package node

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"

	"github.com/plenum-bft/plenum/catchup"
	"github.com/plenum-bft/plenum/checkpoint"
	"github.com/plenum-bft/plenum/config"
	"github.com/plenum-bft/plenum/ledger"
	"github.com/plenum-bft/plenum/metrics"
	"github.com/plenum-bft/plenum/monitor"
	"github.com/plenum-bft/plenum/plog"
	"github.com/plenum-bft/plenum/pool"
	"github.com/plenum-bft/plenum/quorum"
	"github.com/plenum-bft/plenum/replica"
	"github.com/plenum-bft/plenum/timers"
	"github.com/plenum-bft/plenum/viewchange"
	"github.com/plenum-bft/plenum/wire"
)

const masterInstance = 0

// stashedCommit pairs an out-of-order Commit with its sender, since
// checkpoint.Stash only remembers the payload it is given.
type stashedCommit struct {
	from   ids.NodeID
	commit *replica.Commit
}

// Replica drives one pool member's full set of Ordering Service
// instances (master plus backups) alongside its View-Change, Monitor,
// and Catch-up collaborators.
type Replica struct {
	mu sync.Mutex

	nodeID     ids.NodeID
	register   *pool.Register
	instances  map[int]*replica.Replica
	checkpoints *checkpoint.Tracker
	vc         *viewchange.Service
	mon        *monitor.Monitor
	cu         *catchup.Coordinator
	ledgers    map[ledger.LedgerId]*ledger.Ledger
	wheel      *timers.Wheel
	params     config.Parameters
	log        plog.Logger
	metrics    *metrics.Metrics

	viewNo uint64

	requests    map[replica.RequestKey]replica.Request
	commitStash map[int]*checkpoint.Stash[stashedCommit]

	inbound  chan Inbound
	outbound chan Outbound

	tickInterval time.Duration
}

// Config bundles a Replica's collaborators, grounded on the same
// constructor-takes-a-struct idiom replica/viewchange/catchup already
// use.
type Config struct {
	NodeID      ids.NodeID
	Register    *pool.Register
	Instances   map[int]*replica.Replica // keyed by instance number; must include masterInstance (0)
	Checkpoints *checkpoint.Tracker
	ViewChange  *viewchange.Service
	Monitor     *monitor.Monitor
	Catchup     *catchup.Coordinator
	Ledgers     map[ledger.LedgerId]*ledger.Ledger
	Wheel       *timers.Wheel
	Params      config.Parameters
	Log         plog.Logger
	Metrics     *metrics.Metrics

	// TickInterval paces ReadyLedgers/IdleLedgers/CheckPerformance
	// polling; defaults to 50ms when zero.
	TickInterval time.Duration

	// InboundBuffer/OutboundBuffer size this replica's channels;
	// default to 256 when zero.
	InboundBuffer  int
	OutboundBuffer int
}

// New creates a Replica from cfg.
func New(cfg Config) *Replica {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = 50 * time.Millisecond
	}
	inBuf := cfg.InboundBuffer
	if inBuf <= 0 {
		inBuf = 256
	}
	outBuf := cfg.OutboundBuffer
	if outBuf <= 0 {
		outBuf = 256
	}

	stash := make(map[int]*checkpoint.Stash[stashedCommit], len(cfg.Instances))
	for id := range cfg.Instances {
		stash[id] = checkpoint.NewStash[stashedCommit](cfg.Params.ReplicaStashLimit)
	}

	return &Replica{
		nodeID:       cfg.NodeID,
		register:     cfg.Register,
		instances:    cfg.Instances,
		checkpoints:  cfg.Checkpoints,
		vc:           cfg.ViewChange,
		mon:          cfg.Monitor,
		cu:           cfg.Catchup,
		ledgers:      cfg.Ledgers,
		wheel:        cfg.Wheel,
		params:       cfg.Params,
		log:          plog.OrNoOp(cfg.Log),
		metrics:      cfg.Metrics,
		requests:     make(map[replica.RequestKey]replica.Request),
		commitStash:  stash,
		inbound:      make(chan Inbound, inBuf),
		outbound:     make(chan Outbound, outBuf),
		tickInterval: tick,
	}
}

// Outbound returns the channel this replica publishes wire messages
// to. Callers drain it to actually deliver bytes over the network.
func (n *Replica) Outbound() <-chan Outbound {
	return n.outbound
}

// Enqueue hands in to this replica's event loop, blocking until
// either it is accepted or ctx is done.
func (n *Replica) Enqueue(ctx context.Context, in Inbound) error {
	select {
	case n.inbound <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitRequest mirrors req into every instance's pending batch queue
// for ledgerID (so backups accumulate the same workload the master
// does, per replica's doc comment that backups are "driven
// identically"), and records it in this node's local request store so
// OnPrePrepare can resolve ReqIdr for batches this node did not itself
// propose.
func (n *Replica) SubmitRequest(ledgerID ledger.LedgerId, req replica.Request) {
	n.mu.Lock()
	n.requests[req.Key()] = req
	n.mu.Unlock()
	for _, inst := range n.instances {
		inst.EnqueueRequest(ledgerID, req)
	}
}

// Run drains inbound messages, fired timers, and the batching tick
// until ctx is done.
func (n *Replica) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-n.inbound:
			n.handleInbound(in)
		case fired := <-n.wheel.Fired():
			n.cu.OnReaskFired(fired)
		case now := <-ticker.C:
			n.tick(now)
		}
	}
}

func (n *Replica) instance(id int) *replica.Replica {
	return n.instances[id]
}

func (n *Replica) commitStashFor(instance int) *checkpoint.Stash[stashedCommit] {
	stash, ok := n.commitStash[instance]
	if !ok {
		stash = checkpoint.NewStash[stashedCommit](n.params.ReplicaStashLimit)
		n.commitStash[instance] = stash
	}
	return stash
}

func (n *Replica) currentViewNo() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.viewNo
}

func (n *Replica) send(out Outbound, err error) {
	if err != nil {
		n.log.Warn("node: failed to encode outbound message", "tag", string(out.Envelope.Tag), "err", err.Error())
		return
	}
	select {
	case n.outbound <- out:
	default:
		n.log.Warn("node: outbound channel full, dropping message", "tag", string(out.Envelope.Tag))
	}
}

func (n *Replica) handleInbound(in Inbound) {
	switch in.Envelope.Tag {
	case wire.TagPrePrepare:
		n.handlePrePrepare(in)
	case wire.TagPrepare:
		n.handlePrepare(in)
	case wire.TagCommit:
		n.handleCommit(in)
	case wire.TagCheckpoint:
		n.handleCheckpoint(in)
	case wire.TagViewChange:
		n.handleViewChange(in)
	case wire.TagViewChangeAck:
		n.handleViewChangeAck(in)
	case wire.TagNewView:
		n.handleNewView(in)
	case wire.TagLedgerStatus:
		n.handleLedgerStatus(in)
	case wire.TagConsistencyProof:
		n.log.Debug("node: received consistency proof, handled by fetcher out of band", "from", in.From.String())
	default:
		n.log.Warn("node: unknown envelope tag", "tag", string(in.Envelope.Tag))
	}
}

func (n *Replica) resolveRequests(keys []replica.RequestKey) ([]replica.Request, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]replica.Request, 0, len(keys))
	for _, k := range keys {
		req, ok := n.requests[k]
		if !ok {
			return nil, false
		}
		out = append(out, req)
	}
	return out, true
}

func (n *Replica) handlePrePrepare(in Inbound) {
	pp, err := decode[replica.PrePrepare](in.Envelope)
	if err != nil {
		n.log.Warn("node: bad pre-prepare", "err", err.Error())
		return
	}
	inst := n.instance(in.Instance)
	if inst == nil {
		n.log.Warn("node: pre-prepare for unknown instance", "instance", in.Instance, "err", ErrUnknownInstance.Error())
		return
	}
	reqs, ok := n.resolveRequests(pp.ReqIdr)
	if !ok {
		n.log.Warn("node: dropping pre-prepare with unresolvable requests", "pp_seq_no", pp.PpSeqNo)
		return
	}
	prep, err := inst.OnPrePrepare(in.From, &pp, reqs, time.Now())
	if err != nil {
		n.log.Warn("node: rejected pre-prepare", "from", in.From.String(), "err", err.Error())
		return
	}
	n.send(broadcast(in.Instance, wire.TagPrepare, prep))
}

func (n *Replica) handlePrepare(in Inbound) {
	prep, err := decode[replica.Prepare](in.Envelope)
	if err != nil {
		n.log.Warn("node: bad prepare", "err", err.Error())
		return
	}
	inst := n.instance(in.Instance)
	if inst == nil {
		n.log.Warn("node: prepare for unknown instance", "instance", in.Instance, "err", ErrUnknownInstance.Error())
		return
	}
	commit, err := inst.OnPrepare(in.From, &prep)
	if err != nil {
		n.log.Warn("node: rejected prepare", "from", in.From.String(), "err", err.Error())
		return
	}
	if commit != nil {
		n.send(broadcast(in.Instance, wire.TagCommit, commit))
	}
	n.drainCommitStash(in.Instance, inst, prep.Key())
}

func (n *Replica) handleCommit(in Inbound) {
	c, err := decode[replica.Commit](in.Envelope)
	if err != nil {
		n.log.Warn("node: bad commit", "err", err.Error())
		return
	}
	inst := n.instance(in.Instance)
	if inst == nil {
		n.log.Warn("node: commit for unknown instance", "instance", in.Instance, "err", ErrUnknownInstance.Error())
		return
	}
	n.applyCommit(in.Instance, inst, in.From, &c)
}

func (n *Replica) applyCommit(instance int, inst *replica.Replica, from ids.NodeID, c *replica.Commit) {
	ordered, err := inst.OnCommit(from, c)
	if errors.Is(err, replica.ErrNotPrepared) {
		n.commitStashFor(instance).Add(c.PpSeqNo, stashedCommit{from: from, commit: c})
		return
	}
	if err != nil {
		n.log.Warn("node: rejected commit", "from", from.String(), "err", err.Error())
		return
	}
	if ordered != nil {
		n.applyOrdered(instance, inst, ordered, time.Now())
	}
}

func (n *Replica) drainCommitStash(instance int, inst *replica.Replica, key replica.ThreePCKey) {
	stash := n.commitStashFor(instance)
	for _, sc := range stash.Drain(key.PpSeqNo) {
		n.applyCommit(instance, inst, sc.from, sc.commit)
	}
}

func (n *Replica) applyOrdered(instance int, inst *replica.Replica, ordered *replica.Ordered, now time.Time) {
	n.mon.RecordOrdered(instance, len(ordered.ReqIdr))
	if latency := now.Sub(time.Unix(ordered.PpTime, 0)); latency > 0 {
		n.mon.RecordLatency(instance, latency)
	}
	if cp, due := inst.EmitCheckpointIfDue(); due {
		n.send(broadcast(instance, wire.TagCheckpoint, cp))
	}
	// This slot's own Commit just ordered, which is exactly the event
	// that can unblock a stashed out-of-order Commit for its successor
	// (OnCommit gates ordering on the predecessor having already
	// ordered, not just on the slot having reached Prepared).
	n.drainCommitStash(instance, inst, replica.ThreePCKey{ViewNo: ordered.Key.ViewNo, PpSeqNo: ordered.Key.PpSeqNo + 1})
}

func (n *Replica) handleCheckpoint(in Inbound) {
	cp, err := decode[replica.Checkpoint](in.Envelope)
	if err != nil {
		n.log.Warn("node: bad checkpoint", "err", err.Error())
		return
	}
	inst := n.instance(in.Instance)
	if inst == nil {
		n.log.Warn("node: checkpoint for unknown instance", "instance", in.Instance, "err", ErrUnknownInstance.Error())
		return
	}
	stabilized, err := inst.OnCheckpoint(in.From, &cp)
	if err != nil {
		n.log.Warn("node: rejected checkpoint", "from", in.From.String(), "err", err.Error())
		return
	}
	if stabilized {
		n.commitStashFor(in.Instance).DiscardBefore(cp.SeqNoEnd)
	}
}

func (n *Replica) handleViewChange(in Inbound) {
	vc, err := decode[viewchange.ViewChange](in.Envelope)
	if err != nil {
		n.log.Warn("node: bad view change", "err", err.Error())
		return
	}
	ack, err := n.vc.OnViewChange(in.From, vc)
	if err != nil {
		n.log.Warn("node: view change processing failed", "from", in.From.String(), "err", err.Error())
		return
	}
	if ack == nil {
		return
	}
	primary, err := n.vc.PrimaryFor(vc.ViewNo)
	if err != nil {
		n.log.Warn("node: cannot resolve primary for view change ack", "view_no", vc.ViewNo, "err", err.Error())
		return
	}
	n.send(unicast(primary, masterInstance, wire.TagViewChangeAck, ack))
}

func (n *Replica) handleViewChangeAck(in Inbound) {
	ack, err := decode[viewchange.ViewChangeAck](in.Envelope)
	if err != nil {
		n.log.Warn("node: bad view change ack", "err", err.Error())
		return
	}
	n.vc.OnViewChangeAck(in.From, &ack)
}

func (n *Replica) handleNewView(in Inbound) {
	nv, err := decode[viewchange.NewView](in.Envelope)
	if err != nil {
		n.log.Warn("node: bad new view", "err", err.Error())
		return
	}
	weak := quorum.Derive(n.register.N()).Weak
	if err := viewchange.VerifyNewView(nv, weak); err != nil {
		n.log.Warn("node: rejected new view", "view_no", nv.ViewNo, "err", err.Error())
		return
	}
	n.installNewView(nv)
}

// installNewView applies a verified NewView (spec 4.7 step 7: "install
// view_no := v', reset 3PC state above the checkpoint"). Re-proposing
// the NewView's own prepared-but-not-ordered batches under the new
// view requires the original Request bodies for any batch that is not
// a no-op; since request propagation is out of scope, this node only
// installs the view and lets the new primary re-cut fresh batches from
// its own pending queue rather than replaying nv.Batches verbatim.
func (n *Replica) installNewView(nv viewchange.NewView) {
	n.mu.Lock()
	n.viewNo = nv.ViewNo
	n.mu.Unlock()
	for _, inst := range n.instances {
		inst.ViewChanged(nv.ViewNo)
	}
	n.mon.ViewChanged(nv.ViewNo)
	if n.metrics != nil {
		n.metrics.IncViewChange()
	}
	n.log.Info("node: installed new view", "view_no", nv.ViewNo, "stable_checkpoint", nv.Checkpoint)
}

func (n *Replica) handleLedgerStatus(in Inbound) {
	status, err := decode[catchup.LedgerStatus](in.Envelope)
	if err != nil {
		n.log.Warn("node: bad ledger status", "err", err.Error())
		return
	}
	proof, err := n.cu.OnLedgerStatus(in.From, status)
	if err != nil {
		n.log.Warn("node: ledger status processing failed", "from", in.From.String(), "err", err.Error())
		return
	}
	if proof != nil {
		n.send(unicast(in.From, masterInstance, wire.TagConsistencyProof, proof))
	}
}

// tick runs this replica's periodic duties: primary-side batch
// cutting for every instance, Monitor degradation checks, catch-up
// lag detection, and new-view assembly once this node holds a
// certificate for the next view and is that view's primary.
func (n *Replica) tick(now time.Time) {
	for id, inst := range n.instances {
		if !inst.IsPrimary() {
			continue
		}
		for _, ledgerID := range inst.ReadyLedgers(now) {
			pp, err := inst.ProposeBatch(ledgerID, now)
			if err != nil {
				continue
			}
			n.send(broadcast(id, wire.TagPrePrepare, pp))
		}
		if n.params.FreshnessEnabled {
			for _, ledgerID := range inst.IdleLedgers(now) {
				pp, err := inst.ProposeFreshnessBatch(ledgerID, now)
				if err != nil {
					continue
				}
				n.send(broadcast(id, wire.TagPrePrepare, pp))
			}
		}
	}

	if change, ok := n.mon.CheckPerformance(now); ok {
		n.log.Warn("node: sustained performance degradation", "instance", change.DegradedInstance, "reason", change.Reason)
		n.proposeViewChange(n.currentViewNo()+1, now)
	}

	if !n.cu.Active() {
		if targets, ok := n.cu.DetectLag(n.committedSizes()); ok {
			if err := n.cu.Start(targets); err != nil {
				n.log.Warn("node: failed to start catch-up", "err", err.Error())
			}
		}
	}

	n.tryAssembleNewView()
}

func (n *Replica) committedSizes() map[ledger.LedgerId]uint64 {
	out := make(map[ledger.LedgerId]uint64, len(n.ledgers))
	for id, led := range n.ledgers {
		out[id] = led.CommittedSize()
	}
	return out
}

// proposeViewChange builds and broadcasts this node's ViewChange for
// targetView using the stable checkpoint already tracked by the
// shared checkpoint.Tracker. A full implementation would also walk
// every in-flight slot above the stable checkpoint to populate the
// Prepared/Preprepared certificate lists (spec 4.7 step 1); replica
// exposes no enumeration of its slot map for that, so this node
// proposes with those lists empty, a simplification recorded in
// DESIGN.md. ErrViewChangeWindow (the per-view rate limit) is not an
// error worth logging — it just means this node already proposed
// recently.
func (n *Replica) proposeViewChange(targetView uint64, now time.Time) {
	stableSeq, _ := n.checkpoints.Stable()
	vc, err := n.vc.ProposeViewChange(targetView, stableSeq, nil, nil, nil, now)
	if errors.Is(err, viewchange.ErrViewChangeWindow) {
		return
	}
	if err != nil {
		n.log.Warn("node: failed to propose view change", "target_view", targetView, "err", err.Error())
		return
	}
	n.send(broadcast(masterInstance, wire.TagViewChange, vc))
}

func (n *Replica) tryAssembleNewView() {
	targetView := n.currentViewNo() + 1
	cert, ok := n.vc.Certify(targetView)
	if !ok {
		return
	}
	primary, err := n.vc.PrimaryFor(targetView)
	if err != nil || primary != n.nodeID {
		return
	}
	weak := quorum.Derive(n.register.N()).Weak
	nv := viewchange.BuildNewView(cert, weak)
	n.send(broadcast(masterInstance, wire.TagNewView, nv))
}
