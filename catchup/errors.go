// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package catchup

import "github.com/cockroachdb/errors"

var (
	// ErrAlreadyActive is returned by Start when catch-up is already
	// in flight for this coordinator.
	ErrAlreadyActive = errors.New("catchup: a catch-up is already in flight")

	// ErrNotActive is returned by Cancel/Complete when no catch-up is
	// in flight.
	ErrNotActive = errors.New("catchup: no catch-up is in flight")

	// ErrUnknownLedger is returned when a LedgerStatus or
	// ConsistencyProof names a ledger this coordinator was not
	// configured with.
	ErrUnknownLedger = errors.New("catchup: unknown ledger id")
)
