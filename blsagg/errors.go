// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package blsagg

import "github.com/cockroachdb/errors"

var (
	// ErrCmBlsSigWrong is the per-share verification failure surfaced
	// when a single Commit's BLS share does not verify against its
	// claimed signer's pool key (spec 4.3): the bad share is excluded,
	// ordering proceeds with the remaining strong-quorum shares.
	ErrCmBlsSigWrong = errors.New("blsagg: CmBlsSigWrong")

	// ErrPprBlsMultisigWrong is returned when an already-formed
	// multi-signature fails verification against the current pool key
	// register (spec 4.3), e.g. on a PrePrepare carrying a prior
	// batch's aggregate.
	ErrPprBlsMultisigWrong = errors.New("blsagg: PprBlsMultisigWrong")

	// ErrValueMismatch is returned when a share is added for a
	// (view_no, pp_seq_no, ledger_id) slot that already has a
	// different signed value recorded — every replica must sign the
	// same canonical value for a given slot.
	ErrValueMismatch = errors.New("blsagg: signed value mismatch for slot")

	// ErrUnknownSigner is returned when AddShare names a node absent
	// from the pool key register.
	ErrUnknownSigner = errors.New("blsagg: unknown signer")

	// ErrAlreadyFormed names a slot whose multi-signature has already
	// been formed. AddShare does not return it: later shares for a
	// formed slot are accepted as no-ops, returning (false, nil),
	// rather than re-aggregated.
	ErrAlreadyFormed = errors.New("blsagg: multi-signature already formed")
)
