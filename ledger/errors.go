// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import "github.com/cockroachdb/errors"

var (
	// ErrNotFound is returned by Get for a seq_no outside [1, size()].
	ErrNotFound = errors.New("ledger: seq_no not found")
	// ErrInvalidRange covers a consistency_proof or inclusion_proof
	// call with an out-of-order or out-of-range size argument.
	ErrInvalidRange = errors.New("ledger: invalid size range")
	// ErrCorruptRecord is returned when the record file's length
	// prefix, payload, or trailing leaf hash fail to parse on replay.
	ErrCorruptRecord = errors.New("ledger: corrupt record")
	// ErrAlreadyCommitted is returned by commit_to for a seq_no behind
	// the current committed size.
	ErrAlreadyCommitted = errors.New("ledger: seq_no already committed")
)
