// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pool maintains the validator set and the uncommitted pool
// key register the consensus core consults for BLS verification and
// primary selection. It is grounded on the teacher's validators.Manager
// shape (github.com/luxfi/consensus/validators), generalized so that
// lookups reflect the *uncommitted* pool ledger (spec 4.3): a
// just-added validator's key is usable immediately, before its write
// to the pool ledger is committed.
package pool

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"
)

// ErrUnknownValidator is returned when a node ID has no registered key.
var ErrUnknownValidator = errors.New("pool: unknown validator")

// Member is one validator's identity and BLS public key.
type Member struct {
	NodeID ids.NodeID
	BLSPub []byte
}

// Register is the uncommitted pool key registry: NodeId -> BLS public
// key, plus the deterministic ordering primary selection depends on.
// It is updated atomically on pool-ledger writes (committed or not),
// per spec 4.3 and the single-writer discipline in spec 5.
type Register struct {
	mu      sync.RWMutex
	members map[ids.NodeID]Member
	order   []ids.NodeID // sorted NodeID order, recomputed on change
}

// NewRegister creates an empty registry.
func NewRegister() *Register {
	return &Register{members: make(map[ids.NodeID]Member)}
}

// Upsert adds or updates a validator's key. Reflects uncommitted
// writes immediately: callers apply this on every pool-ledger mutation,
// not only on commit.
func (r *Register) Upsert(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m.NodeID] = m
	r.reorder()
}

// Remove drops a validator from the registry.
func (r *Register) Remove(nodeID ids.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, nodeID)
	r.reorder()
}

func (r *Register) reorder() {
	order := make([]ids.NodeID, 0, len(r.members))
	for id := range r.members {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		return order[i].String() < order[j].String()
	})
	r.order = order
}

// Get returns a validator's BLS public key.
func (r *Register) Get(nodeID ids.NodeID) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[nodeID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownValidator, "node %s", nodeID)
	}
	return m.BLSPub, nil
}

// N returns the current validator-set size.
func (r *Register) N() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Ordered returns validators in the deterministic sort order used by
// primary selection (spec 4.7). The returned slice is a copy.
func (r *Register) Ordered() []ids.NodeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ids.NodeID, len(r.order))
	copy(out, r.order)
	return out
}

// IndexOf returns the position of nodeID in the deterministic order, or
// -1 if it is not a current validator.
func (r *Register) IndexOf(nodeID ids.NodeID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, id := range r.order {
		if id == nodeID {
			return i
		}
	}
	return -1
}

// Has reports whether nodeID is a current validator.
func (r *Register) Has(nodeID ids.NodeID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[nodeID]
	return ok
}

// Primary returns the primary for (viewNo, instance) per spec 4.7:
// primary(v) = validators[v mod n] for instance 0, and
// validators[(v+i) mod n] for instance i.
func Primary(order []ids.NodeID, viewNo uint64, instance int) (ids.NodeID, error) {
	n := len(order)
	if n == 0 {
		return ids.EmptyNodeID, errors.New("pool: empty validator set")
	}
	idx := (viewNo + uint64(instance)) % uint64(n)
	return order[idx], nil
}
