// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package trie

import (
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/luxfi/ids"
	"golang.org/x/crypto/sha3"
)

// node is one of the four MPT node variants from spec 3: blank, leaf,
// extension, branch. Encoding is RLP (github.com/ethereum/go-ethereum/rlp,
// the teacher corpus's standard RLP implementation); hashing is
// SHA3-256.
type node interface {
	isNode()
}

type blankNode struct{}

func (blankNode) isNode() {}

// leafNode terminates a path with a value. Path holds the remaining
// nibbles below the parent.
type leafNode struct {
	Path  []byte
	Value []byte
}

func (*leafNode) isNode() {}

// extensionNode shares a nibble run between a branch and its sole
// child, collapsing runs of single-child branches.
type extensionNode struct {
	Path  []byte
	Child ref
}

func (*extensionNode) isNode() {}

// branchNode has up to 16 children (one per nibble value) and an
// optional terminal value for a key that ends exactly at this node.
type branchNode struct {
	Children [16]ref
	Value    []byte
}

func (*branchNode) isNode() {}

// ref is a reference to a child node: either inlined (the child's RLP
// encoding is under 32 bytes) or a 32-byte hash into the content
// store. isHash distinguishes the two; an empty ref means no child.
type ref struct {
	Inline []byte // raw RLP encoding of the child, when inlined
	Hash   ids.ID // content-store key, when not inlined
	isHash bool
	empty  bool
}

func emptyRef() ref { return ref{empty: true} }

func hashRef(h ids.ID) ref { return ref{Hash: h, isHash: true} }

func inlineRef(encoded []byte) ref { return ref{Inline: encoded} }

func (r ref) isEmpty() bool { return r.empty }

// rlpLeaf, rlpExtension and rlpBranch are the wire structs actually
// handed to rlp.EncodeToBytes:
// RLP does not encode our tagged Go interfaces directly, so each node
// kind is lowered to one of these shapes first.
type rlpLeaf struct {
	Path  []byte
	Value []byte
}

type rlpExtension struct {
	Path     []byte
	ChildRef []byte // either inline RLP bytes or a 32-byte hash
}

type rlpBranch struct {
	Children [16][]byte
	Value    []byte
}

func refBytes(r ref) []byte {
	if r.isEmpty() {
		return nil
	}
	if r.isHash {
		return r.Hash[:]
	}
	return r.Inline
}

func refFromBytes(b []byte) ref {
	if len(b) == 0 {
		return emptyRef()
	}
	if len(b) == 32 {
		var id ids.ID
		copy(id[:], b)
		return hashRef(id)
	}
	return inlineRef(b)
}

// encodeNode returns the canonical RLP encoding of n.
func encodeNode(n node) ([]byte, error) {
	switch v := n.(type) {
	case blankNode:
		return rlp.EncodeToBytes([]byte{})
	case *leafNode:
		return rlp.EncodeToBytes(rlpLeaf{
			Path:  hexPrefixEncode(v.Path, true),
			Value: v.Value,
		})
	case *extensionNode:
		return rlp.EncodeToBytes(rlpExtension{
			Path:     hexPrefixEncode(v.Path, false),
			ChildRef: refBytes(v.Child),
		})
	case *branchNode:
		enc := rlpBranch{Value: v.Value}
		for i, c := range v.Children {
			enc.Children[i] = refBytes(c)
		}
		return rlp.EncodeToBytes(enc)
	default:
		return nil, ErrInvalidInput
	}
}

// hashOf returns the SHA3-256 digest of n's canonical encoding.
func hashOf(n node) (ids.ID, []byte, error) {
	encoded, err := encodeNode(n)
	if err != nil {
		return ids.Empty, nil, err
	}
	return ids.ID(sha3.Sum256(encoded)), encoded, nil
}

// refFor decides whether n should be inlined in its parent (encoded
// length < 32) or stored in the content store keyed by hash, per
// spec 4.1's node-encoding rule.
func refFor(n node, store *Store) (ref, error) {
	h, encoded, err := hashOf(n)
	if err != nil {
		return ref{}, err
	}
	if len(encoded) < 32 {
		return inlineRef(encoded), nil
	}
	store.put(h, encoded)
	return hashRef(h), nil
}

// resolve dereferences r into the concrete node, reading through the
// content store for hash refs.
func resolve(r ref, store *Store) (node, error) {
	if r.isEmpty() {
		return blankNode{}, nil
	}
	var encoded []byte
	if r.isHash {
		var ok bool
		encoded, ok = store.get(r.Hash)
		if !ok {
			return nil, errProofMissing(r.Hash)
		}
	} else {
		encoded = r.Inline
	}
	return decodeNode(encoded)
}

func decodeNode(encoded []byte) (node, error) {
	// A blank node encodes as an empty RLP string.
	var asBytes []byte
	if err := rlp.DecodeBytes(encoded, &asBytes); err == nil && len(asBytes) == 0 {
		return blankNode{}, nil
	}

	var branch rlpBranch
	if err := rlp.DecodeBytes(encoded, &branch); err == nil {
		out := &branchNode{Value: branch.Value}
		for i, c := range branch.Children {
			out.Children[i] = refFromBytes(c)
		}
		return out, nil
	}

	var two struct {
		Path []byte
		Rest []byte
	}
	if err := rlp.DecodeBytes(encoded, &two); err != nil {
		return nil, ErrProofInvalid
	}
	path, terminator := hexPrefixDecode(two.Path)
	if terminator {
		return &leafNode{Path: path, Value: two.Rest}, nil
	}
	return &extensionNode{Path: path, Child: refFromBytes(two.Rest)}, nil
}
