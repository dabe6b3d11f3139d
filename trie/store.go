// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package trie

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"
)

func errProofMissing(h ids.ID) error {
	return errors.Wrapf(ErrProofInvalid, "node %s not found in store", h)
}

// deathRowEntry is a node awaiting collection once its reference count
// has been zero for DeathRowOffset batches (spec 4.1: "grace window").
type deathRowEntry struct {
	hash      ids.ID
	diedBatch uint64
}

// Store is the content-addressed, reference-counted node store backing
// one or more Tries (spec 6: key is SHA3-256 of RLP-encoded node,
// value is the encoding; reference counts stored alongside).
type Store struct {
	mu             sync.Mutex
	nodes          map[ids.ID][]byte
	refs           map[ids.ID]int
	deathRow       []deathRowEntry
	deathRowOffset uint64
}

// NewStore creates an empty store. deathRowOffset is the number of
// batches a zero-refcount node survives before being collected
// (spec 4.1's DEATH_ROW_OFFSET), grounded on
// original_source/state/trie/pruning_trie.py's delayed-delete
// generation counter.
func NewStore(deathRowOffset uint64) *Store {
	return &Store{
		nodes:          make(map[ids.ID][]byte),
		refs:           make(map[ids.ID]int),
		deathRowOffset: deathRowOffset,
	}
}

func (s *Store) put(hash ids.ID, encoded []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.nodes[hash]; !exists {
		s.nodes[hash] = encoded
	}
	s.refs[hash]++
}

func (s *Store) get(hash ids.ID) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.nodes[hash]
	return v, ok
}

// incRef bumps the reference count of an already-stored node, used
// when a subtree is shared by a new parent without re-encoding it.
func (s *Store) incRef(hash ids.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[hash]++
}

// decRef drops the reference count of hash by one. At zero, the node
// is queued for death-row collection rather than deleted immediately,
// so a proof or snapshot reader racing a concurrent prune still sees
// it (spec 4.1).
func (s *Store) decRef(hash ids.ID, currentBatch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[hash]--
	if s.refs[hash] <= 0 {
		s.deathRow = append(s.deathRow, deathRowEntry{hash: hash, diedBatch: currentBatch})
	}
}

// Prune collects death-row entries whose grace window has elapsed as
// of currentBatch, reviving any entry whose refcount rose back above
// zero in the meantime.
func (s *Store) Prune(currentBatch uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.deathRow[:0]
	collected := 0
	for _, e := range s.deathRow {
		if s.refs[e.hash] > 0 {
			continue // revived
		}
		if currentBatch-e.diedBatch < s.deathRowOffset {
			kept = append(kept, e)
			continue
		}
		delete(s.nodes, e.hash)
		delete(s.refs, e.hash)
		collected++
	}
	s.deathRow = kept
	return collected
}

// RefCount reports the current reference count of hash, for tests and
// diagnostics.
func (s *Store) RefCount(hash ids.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[hash]
}

// Len reports how many distinct nodes are live in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}
