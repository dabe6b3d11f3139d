// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package trie implements the authenticated Merkle-Patricia Trie (MPT)
// state store (spec 4.1, C1): get/update/delete, 32-byte root
// commitments, and inclusion/prefix proofs. Traversal and node-split
// logic follow the classic MPT reorg rules; the recursive shape of
// the split/merge code is grounded on the iotaledger trie.go reference
// implementation's insert/delete/checkReorg pattern, adapted from its
// vector-commitment model to RLP+SHA3-256 hash commitments.
package trie

import (
	"bytes"
	"sync"

	"github.com/luxfi/ids"
)

// Trie is a single-writer authenticated key-value map over one
// content-addressed Store. Concurrent readers should use Clone to get
// an immutable snapshot (spec 5: "readers take immutable snapshots of
// the committed state").
type Trie struct {
	mu      sync.RWMutex
	store   *Store
	root    node
	batchNo uint64
}

// New creates an empty trie backed by store.
func New(store *Store) *Trie {
	return &Trie{store: store, root: blankNode{}}
}

// SetBatch records the current batch number, used for death-row
// bookkeeping when nodes are garbage collected (spec 4.1).
func (t *Trie) SetBatch(n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batchNo = n
}

// Clone returns a new Trie sharing the same content store but with its
// own root pointer, giving the clone's owner an immutable view as of
// this call: subsequent mutations on either trie do not affect the
// other, because insert/delete never mutate existing node values in
// place.
func (t *Trie) Clone() *Trie {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return &Trie{store: t.store, root: t.root, batchNo: t.batchNo}
}

func must(r ref, err error) ref {
	if err != nil {
		panic(err)
	}
	return r
}

func (t *Trie) refOf(n node) ref {
	return must(refFor(n, t.store))
}

func (t *Trie) resolveNode(r ref) (node, error) {
	return resolve(r, t.store)
}

// garbage drops the store reference held by n's own persisted
// encoding, if it was large enough to have been hash-stored rather
// than inlined. Called whenever n is about to be replaced by a
// modified version during Update/Delete.
func (t *Trie) garbage(n node) {
	if _, blank := n.(blankNode); blank {
		return
	}
	h, encoded, err := hashOf(n)
	if err != nil {
		return
	}
	if len(encoded) >= 32 {
		t.store.decRef(h, t.batchNo)
	}
}

// RootHash returns the 32-byte commitment of the current key->value
// mapping. Insertion order never affects the result (spec 8: MPT
// round-trip property).
func (t *Trie) RootHash() (ids.ID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, blank := t.root.(blankNode); blank {
		return ids.Empty, nil
	}
	h, _, err := hashOf(t.root)
	return h, err
}

// Get looks up key, returning (value, true, nil) if present.
func (t *Trie) Get(key []byte) ([]byte, bool, error) {
	if len(key) == 0 {
		return nil, false, ErrInvalidInput
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.find(t.root, keyToNibbles(key), nil)
}

// Update inserts or overwrites key -> value.
func (t *Trie) Update(key, value []byte) error {
	if len(key) == 0 {
		return ErrInvalidInput
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	newRoot, err := t.insert(t.root, keyToNibbles(key), value)
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

// Delete removes key, if present. Deleting an absent key is a no-op.
func (t *Trie) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrInvalidInput
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	newRoot, _, err := t.delete(t.root, keyToNibbles(key))
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

func (t *Trie) insert(n node, path, value []byte) (node, error) {
	switch v := n.(type) {
	case blankNode:
		return &leafNode{Path: append([]byte{}, path...), Value: value}, nil

	case *leafNode:
		cp := commonPrefixLen(v.Path, path)
		if cp == len(v.Path) && cp == len(path) {
			t.garbage(n)
			return &leafNode{Path: v.Path, Value: value}, nil
		}
		t.garbage(n)
		branch := &branchNode{}
		if cp == len(v.Path) {
			branch.Value = v.Value
		} else {
			oldIdx := v.Path[cp]
			branch.Children[oldIdx] = t.refOf(&leafNode{Path: v.Path[cp+1:], Value: v.Value})
		}
		if cp == len(path) {
			branch.Value = value
		} else {
			newIdx := path[cp]
			branch.Children[newIdx] = t.refOf(&leafNode{Path: path[cp+1:], Value: value})
		}
		return t.wrapExtension(path[:cp], branch), nil

	case *extensionNode:
		cp := commonPrefixLen(v.Path, path)
		if cp == len(v.Path) {
			child, err := t.resolveNode(v.Child)
			if err != nil {
				return nil, err
			}
			newChild, err := t.insert(child, path[cp:], value)
			if err != nil {
				return nil, err
			}
			t.garbage(n)
			return &extensionNode{Path: v.Path, Child: t.refOf(newChild)}, nil
		}
		t.garbage(n)
		branch := &branchNode{}
		oldIdx := v.Path[cp]
		if cp+1 == len(v.Path) {
			branch.Children[oldIdx] = v.Child
		} else {
			branch.Children[oldIdx] = t.refOf(&extensionNode{Path: v.Path[cp+1:], Child: v.Child})
		}
		if cp == len(path) {
			branch.Value = value
		} else {
			newIdx := path[cp]
			branch.Children[newIdx] = t.refOf(&leafNode{Path: path[cp+1:], Value: value})
		}
		return t.wrapExtension(path[:cp], branch), nil

	case *branchNode:
		if len(path) == 0 {
			t.garbage(n)
			nb := *v
			nb.Value = value
			return &nb, nil
		}
		idx := path[0]
		child, err := t.resolveNode(v.Children[idx])
		if err != nil {
			return nil, err
		}
		newChild, err := t.insert(child, path[1:], value)
		if err != nil {
			return nil, err
		}
		t.garbage(n)
		nb := *v
		nb.Children[idx] = t.refOf(newChild)
		return &nb, nil
	}
	return nil, ErrInvalidInput
}

// wrapExtension prepends an extensionNode over branch when prefix is
// non-empty, collapsing it away otherwise.
func (t *Trie) wrapExtension(prefix []byte, branch *branchNode) node {
	if len(prefix) == 0 {
		return branch
	}
	return &extensionNode{Path: append([]byte{}, prefix...), Child: t.refOf(branch)}
}

func (t *Trie) delete(n node, path []byte) (node, bool, error) {
	switch v := n.(type) {
	case blankNode:
		return n, false, nil

	case *leafNode:
		if bytes.Equal(v.Path, path) {
			t.garbage(n)
			return blankNode{}, true, nil
		}
		return n, false, nil

	case *extensionNode:
		cp := commonPrefixLen(v.Path, path)
		if cp != len(v.Path) {
			return n, false, nil
		}
		child, err := t.resolveNode(v.Child)
		if err != nil {
			return nil, false, err
		}
		newChild, changed, err := t.delete(child, path[cp:])
		if err != nil || !changed {
			return n, false, err
		}
		t.garbage(n)
		switch cc := newChild.(type) {
		case blankNode:
			return blankNode{}, true, nil
		case *extensionNode:
			t.garbage(cc)
			return &extensionNode{Path: concatNibbles(v.Path, cc.Path), Child: cc.Child}, true, nil
		case *leafNode:
			t.garbage(cc)
			return &leafNode{Path: concatNibbles(v.Path, cc.Path), Value: cc.Value}, true, nil
		default:
			return &extensionNode{Path: v.Path, Child: t.refOf(newChild)}, true, nil
		}

	case *branchNode:
		if len(path) == 0 {
			if v.Value == nil {
				return n, false, nil
			}
			t.garbage(n)
			nb := *v
			nb.Value = nil
			return t.collapseBranch(&nb), true, nil
		}
		idx := path[0]
		child, err := t.resolveNode(v.Children[idx])
		if err != nil {
			return nil, false, err
		}
		newChild, changed, err := t.delete(child, path[1:])
		if err != nil || !changed {
			return n, false, err
		}
		t.garbage(n)
		nb := *v
		if _, blank := newChild.(blankNode); blank {
			nb.Children[idx] = emptyRef()
		} else {
			nb.Children[idx] = t.refOf(newChild)
		}
		return t.collapseBranch(&nb), true, nil
	}
	return n, false, nil
}

// collapseBranch reorganizes a branch with zero or one remaining
// commitments into blank/leaf/extension form, mirroring the
// remove/merge reorg rules a Patricia trie requires to stay minimal
// after deletion.
func (t *Trie) collapseBranch(b *branchNode) node {
	if b.Value != nil {
		return b
	}
	count := 0
	var onlyIdx byte
	for i, c := range b.Children {
		if !c.isEmpty() {
			count++
			onlyIdx = byte(i)
		}
	}
	switch count {
	case 0:
		return blankNode{}
	case 1:
		child, err := t.resolveNode(b.Children[onlyIdx])
		if err != nil {
			return b
		}
		t.garbage(child)
		switch c := child.(type) {
		case *leafNode:
			return &leafNode{Path: concatNibbles([]byte{onlyIdx}, c.Path), Value: c.Value}
		case *extensionNode:
			return &extensionNode{Path: concatNibbles([]byte{onlyIdx}, c.Path), Child: c.Child}
		default:
			return &extensionNode{Path: []byte{onlyIdx}, Child: t.refOf(child)}
		}
	default:
		return b
	}
}

func concatNibbles(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}
