// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import "crypto/sha256"

// Merkle tree math follows RFC 6962 (Certificate Transparency): leaf
// hashes and internal node hashes live in disjoint domains via a
// one-byte prefix, and every tree-shape operation (root, inclusion
// proof, consistency proof) is defined over the binary split at the
// largest power of two strictly smaller than the node count.

const (
	leafHashPrefix byte = 0x00
	nodeHashPrefix byte = 0x01
)

func leafHash(data []byte) []byte {
	h := sha256.New()
	h.Write([]byte{leafHashPrefix})
	h.Write(data)
	return h.Sum(nil)
}

func nodeHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write([]byte{nodeHashPrefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// largestPowerOfTwoLessThan returns the largest k = 2^i such that
// 0 < k < n. n must be >= 2.
func largestPowerOfTwoLessThan(n int) int {
	k := 1
	for k<<1 < n {
		k <<= 1
	}
	return k
}

// merkleRoot computes the RFC 6962 root over leaves, where
// leaves holds precomputed leaf hashes (not raw record bytes).
func merkleRoot(leaves [][]byte) []byte {
	n := len(leaves)
	switch {
	case n == 0:
		return sha256.New().Sum(nil) // hash of the empty string, the empty-tree root
	case n == 1:
		return leaves[0]
	default:
		k := largestPowerOfTwoLessThan(n)
		return nodeHash(merkleRoot(leaves[:k]), merkleRoot(leaves[k:]))
	}
}

// inclusionProof returns the audit path for leaf index m (0-based)
// within a tree covering leaves[0:n], following RFC 6962's PATH
// algorithm.
func inclusionProof(leaves [][]byte, m int) [][]byte {
	return pathRec(m, leaves)
}

func pathRec(m int, leaves [][]byte) [][]byte {
	n := len(leaves)
	if n <= 1 {
		return nil
	}
	k := largestPowerOfTwoLessThan(n)
	if m < k {
		return append(pathRec(m, leaves[:k]), merkleRoot(leaves[k:]))
	}
	return append(pathRec(m-k, leaves[k:]), merkleRoot(leaves[:k]))
}

// consistencyProof returns the RFC 6962 SUBPROOF between a tree of
// size m and the tree of size len(leaves), proving the smaller tree's
// root is a prefix of the larger one.
func consistencyProof(m int, leaves [][]byte) [][]byte {
	if m == len(leaves) {
		return nil
	}
	return subProof(m, leaves, true)
}

func subProof(m int, leaves [][]byte, trusted bool) [][]byte {
	n := len(leaves)
	if m == n {
		if trusted {
			return nil
		}
		return [][]byte{merkleRoot(leaves)}
	}
	k := largestPowerOfTwoLessThan(n)
	if m <= k {
		return append(subProof(m, leaves[:k], trusted), merkleRoot(leaves[k:]))
	}
	return append(subProof(m-k, leaves[k:], false), merkleRoot(leaves[:k]))
}

// VerifyInclusion recomputes root from a leaf hash and its audit path
// and compares it against root. index and size are 0-based/total as
// in inclusionProof.
func VerifyInclusion(leaf []byte, index, size int, proof [][]byte, root []byte) bool {
	computed := rootFromInclusionProof(leaf, index, size, proof)
	return computed != nil && string(computed) == string(root)
}

func rootFromInclusionProof(leaf []byte, index, size int, proof [][]byte) []byte {
	if index < 0 || index >= size {
		return nil
	}
	node := leaf
	for size > 1 {
		k := largestPowerOfTwoLessThan(size)
		if len(proof) == 0 {
			return nil
		}
		sibling := proof[0]
		proof = proof[1:]
		if index < k {
			node = nodeHash(node, sibling)
			size = k
		} else {
			node = nodeHash(sibling, node)
			index -= k
			size -= k
		}
	}
	if len(proof) != 0 {
		return nil
	}
	return node
}

// VerifyConsistency checks that proof demonstrates oldRoot (over a
// tree of size oldSize) is consistent with newRoot (over a tree of
// size newSize), i.e. the old tree is a prefix of the new one. This
// is the standard RFC 6962 §2.1.2 iterative verification algorithm.
func VerifyConsistency(oldSize, newSize int, oldRoot, newRoot []byte, proof [][]byte) bool {
	if oldSize > newSize || oldSize < 0 {
		return false
	}
	if oldSize == newSize {
		return len(proof) == 0 && string(oldRoot) == string(newRoot)
	}
	if oldSize == 0 {
		return len(proof) == 0
	}

	node := oldSize - 1
	lastNode := newSize - 1
	for node%2 == 1 {
		node /= 2
		lastNode /= 2
	}

	var fn, sn []byte
	idx := 0
	if node > 0 {
		if len(proof) == 0 {
			return false
		}
		fn = proof[0]
		sn = proof[0]
		idx = 1
	} else {
		fn = oldRoot
		sn = oldRoot
	}

	for lastNode > 0 {
		if idx >= len(proof) {
			break
		}
		if node%2 == 1 || node == lastNode {
			fn = nodeHash(proof[idx], fn)
			sn = nodeHash(proof[idx], sn)
			idx++
		} else if node < lastNode {
			sn = nodeHash(sn, proof[idx])
			idx++
		}
		node /= 2
		lastNode /= 2
	}

	return idx == len(proof) && string(fn) == string(oldRoot) && string(sn) == string(newRoot)
}
