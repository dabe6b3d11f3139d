// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package trie

import "github.com/cockroachdb/errors"

var (
	// ErrProofInvalid covers both a malformed proof and a traversed
	// node missing from a supplied proof set while verifying (spec 4.1).
	ErrProofInvalid = errors.New("trie: proof invalid")
	// ErrInvalidRoot is returned for a root hash that is neither 0 nor
	// 32 bytes.
	ErrInvalidRoot = errors.New("trie: invalid root length")
	// ErrInvalidInput covers non-[]byte keys/values reaching the store
	// boundary (this Go API only ever accepts []byte, so in practice
	// this guards against nil keys).
	ErrInvalidInput = errors.New("trie: invalid key or value")
)
