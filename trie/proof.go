// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package trie

import (
	"bytes"

	"github.com/luxfi/ids"
	"golang.org/x/crypto/sha3"
)

// ProofMode is the traversal mode for a single proof-aware call. Unlike
// the process-wide mode stack spec 4.1 calls out as the source
// implementation's approach, this mode is an explicit parameter
// threaded through traversal (Design Note: "Global proof-recording
// mode -> scoped context") so concurrent requests on the same Trie
// never contaminate each other's proof state.
type ProofMode int

const (
	ModeNone ProofMode = iota
	ModeRecording
	ModeVerifying
)

// ProofContext carries the traversal mode and its accumulated/required
// node set. Callers construct one per request and discard it
// afterward; it is never stored on the Trie.
type ProofContext struct {
	Mode     ProofMode
	Recorded map[ids.ID][]byte // populated while recording
	Allowed  map[ids.ID][]byte // required while verifying
}

func newRecordingContext() *ProofContext {
	return &ProofContext{Mode: ModeRecording, Recorded: make(map[ids.ID][]byte)}
}

func allowedSetFrom(proof [][]byte) map[ids.ID][]byte {
	allowed := make(map[ids.ID][]byte, len(proof))
	for _, enc := range proof {
		allowed[ids.ID(sha3.Sum256(enc))] = enc
	}
	return allowed
}

// resolver abstracts where a ref's bytes come from: the live store
// (Get/Prove) or a closed proof set (Verify), so traversal logic is
// written once.
type resolver func(r ref) (node, error)

func liveResolver(store *Store, pc *ProofContext) resolver {
	return func(r ref) (node, error) {
		if r.isEmpty() {
			return blankNode{}, nil
		}
		if !r.isHash {
			return decodeNode(r.Inline)
		}
		encoded, ok := store.get(r.Hash)
		if !ok {
			return nil, errProofMissing(r.Hash)
		}
		if pc != nil {
			switch pc.Mode {
			case ModeRecording:
				pc.Recorded[r.Hash] = encoded
			case ModeVerifying:
				if _, ok := pc.Allowed[r.Hash]; !ok {
					return nil, ErrProofInvalid
				}
			}
		}
		return decodeNode(encoded)
	}
}

func staticResolver(allowed map[ids.ID][]byte) resolver {
	return func(r ref) (node, error) {
		if r.isEmpty() {
			return blankNode{}, nil
		}
		if !r.isHash {
			return decodeNode(r.Inline)
		}
		encoded, ok := allowed[r.Hash]
		if !ok {
			return nil, ErrProofInvalid
		}
		return decodeNode(encoded)
	}
}

// traverse descends n along path, resolving hash-referenced children
// through resolve. It implements find/prove/verify identically; only
// the resolver differs.
func traverse(n node, path []byte, resolve resolver) ([]byte, bool, error) {
	switch v := n.(type) {
	case blankNode:
		return nil, false, nil
	case *leafNode:
		if bytes.Equal(v.Path, path) {
			return v.Value, true, nil
		}
		return nil, false, nil
	case *extensionNode:
		cp := commonPrefixLen(v.Path, path)
		if cp != len(v.Path) {
			return nil, false, nil
		}
		child, err := resolve(v.Child)
		if err != nil {
			return nil, false, err
		}
		return traverse(child, path[cp:], resolve)
	case *branchNode:
		if len(path) == 0 {
			return v.Value, v.Value != nil, nil
		}
		idx := path[0]
		child, err := resolve(v.Children[idx])
		if err != nil {
			return nil, false, err
		}
		return traverse(child, path[1:], resolve)
	default:
		return nil, false, ErrInvalidInput
	}
}

// find is Get's implementation; pc is nil for a plain lookup.
func (t *Trie) find(n node, path []byte, pc *ProofContext) ([]byte, bool, error) {
	return traverse(n, path, liveResolver(t.store, pc))
}

// Prove returns key's value (nil if absent) plus the set of encoded
// nodes visited while resolving it, sufficient for a remote party
// holding only the root hash to call Verify.
func (t *Trie) Prove(key []byte) (value []byte, proof [][]byte, err error) {
	if len(key) == 0 {
		return nil, nil, ErrInvalidInput
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	pc := newRecordingContext()
	// The root node itself is always part of the proof, whether
	// inlined or hash-addressed, so a verifier with only the root hash
	// can start somewhere.
	if _, blank := t.root.(blankNode); !blank {
		h, encoded, err := hashOf(t.root)
		if err != nil {
			return nil, nil, err
		}
		pc.Recorded[h] = encoded
	}

	val, _, err := traverse(t.root, keyToNibbles(key), liveResolver(t.store, pc))
	if err != nil {
		return nil, nil, err
	}
	out := make([][]byte, 0, len(pc.Recorded))
	for _, enc := range pc.Recorded {
		out = append(out, enc)
	}
	return val, out, nil
}

// Verify checks that proof is sufficient evidence that the trie rooted
// at root contains (key, value) — or, if value is nil, that key is
// absent — without access to the original Store (spec 4.1). It fails
// closed: any traversed node missing from proof is ErrProofInvalid,
// never a silent "not found".
func Verify(root ids.ID, key, value []byte, proof [][]byte) (bool, error) {
	if len(key) == 0 {
		return false, ErrInvalidInput
	}
	if root == ids.Empty {
		return value == nil, nil
	}

	allowed := allowedSetFrom(proof)
	rootEncoded, ok := allowed[root]
	if !ok {
		return false, ErrProofInvalid
	}
	rootNode, err := decodeNode(rootEncoded)
	if err != nil {
		return false, err
	}

	got, found, err := traverse(rootNode, keyToNibbles(key), staticResolver(allowed))
	if err != nil {
		return false, err
	}
	if value == nil {
		return !found, nil
	}
	return found && bytes.Equal(got, value), nil
}

// ValidateRootBytes enforces spec 4.1's "invalid root length" error
// condition at the wire boundary: a root arrives as a raw byte slice
// and must be either empty (empty trie) or exactly 32 bytes before a
// caller converts it to ids.ID.
func ValidateRootBytes(b []byte) error {
	if len(b) != 0 && len(b) != 32 {
		return ErrInvalidRoot
	}
	return nil
}

// ProvePrefix returns every (key, value) pair whose key starts with
// prefix, plus a proof of the subtree rooted where the trie's path
// diverges from prefix (spec 4.1). The caller can enumerate the
// returned mapping directly; Verify is not meaningful for a prefix
// proof since it covers many keys, so soundness rests on the caller
// re-deriving the subtree root from the returned nodes and comparing
// it against the committed root along the shared prefix path.
func (t *Trie) ProvePrefix(prefix []byte) (map[string][]byte, [][]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pc := newRecordingContext()
	resolve := liveResolver(t.store, pc)
	path := keyToNibbles(prefix)

	subtreeRoot, remaining, err := descendToPrefix(t.root, path, resolve)
	if err != nil {
		return nil, nil, err
	}

	if len(remaining) != 0 {
		// Prefix diverges from every stored key; nothing matches.
		proof := make([][]byte, 0, len(pc.Recorded))
		for _, enc := range pc.Recorded {
			proof = append(proof, enc)
		}
		return map[string][]byte{}, proof, nil
	}

	out := make(map[string][]byte)
	if err := collectAll(subtreeRoot, nil, resolve, out); err != nil {
		return nil, nil, err
	}
	withPrefix := make(map[string][]byte, len(out))
	for suffix, v := range out {
		withPrefix[string(prefix)+suffix] = v
	}
	out = withPrefix
	proof := make([][]byte, 0, len(pc.Recorded))
	for _, enc := range pc.Recorded {
		proof = append(proof, enc)
	}
	return out, proof, nil
}

// descendToPrefix walks down the trie consuming path (the prefix's
// nibbles) until the path is exhausted or the trie diverges, returning
// the node at that point and whatever path nibbles were not consumed
// (non-empty only on divergence, in which case the prefix matches
// nothing and the returned node is blankNode{}).
func descendToPrefix(n node, path []byte, resolve resolver) (node, []byte, error) {
	if len(path) == 0 {
		return n, nil, nil
	}
	switch v := n.(type) {
	case blankNode:
		return blankNode{}, path, nil
	case *leafNode:
		cp := commonPrefixLen(v.Path, path)
		if cp == len(path) {
			// v.Path's own leading nibbles up to cp duplicate what the
			// caller already has in the prefix bytes; trim them so
			// collectAll's reconstruction doesn't double them up.
			return &leafNode{Path: v.Path[cp:], Value: v.Value}, nil, nil
		}
		return blankNode{}, path, nil
	case *extensionNode:
		cp := commonPrefixLen(v.Path, path)
		if cp == len(v.Path) {
			child, err := resolve(v.Child)
			if err != nil {
				return nil, nil, err
			}
			return descendToPrefix(child, path[cp:], resolve)
		}
		if cp == len(path) {
			return &extensionNode{Path: v.Path[cp:], Child: v.Child}, nil, nil
		}
		return blankNode{}, path, nil
	case *branchNode:
		idx := path[0]
		child, err := resolve(v.Children[idx])
		if err != nil {
			return nil, nil, err
		}
		return descendToPrefix(child, path[1:], resolve)
	}
	return blankNode{}, path, nil
}

// collectAll enumerates every (key suffix, value) reachable from n,
// relative to n as the subtree root; accumulated is the nibble path
// walked so far within the subtree.
func collectAll(n node, accumulated []byte, resolve resolver, out map[string][]byte) error {
	switch v := n.(type) {
	case blankNode:
		return nil
	case *leafNode:
		full := concatNibbles(accumulated, v.Path)
		out[string(nibblesToKey(full))] = v.Value
		return nil
	case *extensionNode:
		child, err := resolve(v.Child)
		if err != nil {
			return err
		}
		return collectAll(child, concatNibbles(accumulated, v.Path), resolve, out)
	case *branchNode:
		if v.Value != nil {
			out[string(nibblesToKey(accumulated))] = v.Value
		}
		for i, c := range v.Children {
			if c.isEmpty() {
				continue
			}
			child, err := resolve(c)
			if err != nil {
				return err
			}
			if err := collectAll(child, concatNibbles(accumulated, []byte{byte(i)}), resolve, out); err != nil {
				return err
			}
		}
		return nil
	default:
		return ErrInvalidInput
	}
}
