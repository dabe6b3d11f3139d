// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package checkpoint

import "sync"

// Stash holds messages that arrived outside the current watermark
// window or ahead of a gap in processing, keyed by pp_seq_no, up to a
// total bounded capacity (spec 4.5: REPLICA_STASH_LIMIT). Past that
// bound, Add reports the item was dropped rather than stashed — the
// caller logs and discards it, per spec 4.5's "stashed ... or
// dropped".
type Stash[T any] struct {
	mu    sync.Mutex
	limit int
	size  int
	items map[uint64][]T
}

// NewStash creates a Stash that holds at most limit total entries
// across all pp_seq_no keys.
func NewStash[T any](limit int) *Stash[T] {
	return &Stash[T]{limit: limit, items: make(map[uint64][]T)}
}

// Add stashes msg under ppSeqNo. Returns false (and drops msg) if the
// stash is already at capacity.
func (s *Stash[T]) Add(ppSeqNo uint64, msg T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size >= s.limit {
		return false
	}
	s.items[ppSeqNo] = append(s.items[ppSeqNo], msg)
	s.size++
	return true
}

// Drain removes and returns every message stashed under ppSeqNo, e.g.
// once that slot re-enters the watermark window or its predecessor
// finally arrives.
func (s *Stash[T]) Drain(ppSeqNo uint64) []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.items[ppSeqNo]
	delete(s.items, ppSeqNo)
	s.size -= len(out)
	return out
}

// DiscardBefore drops every stashed entry keyed at or below ppSeqNo,
// e.g. once the stable checkpoint advances past them (spec 4.5:
// "advancing the stable checkpoint garbage-collects older 3PC
// state").
func (s *Stash[T]) DiscardBefore(ppSeqNo uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for seq, msgs := range s.items {
		if seq <= ppSeqNo {
			s.size -= len(msgs)
			delete(s.items, seq)
		}
	}
}

// Len reports the total number of currently stashed messages.
func (s *Stash[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}
