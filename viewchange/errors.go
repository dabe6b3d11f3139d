// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package viewchange

import "github.com/cockroachdb/errors"

var (
	// ErrViewChangeWindow is returned when ProposeViewChange is
	// called again for the same target view within
	// ViewChangeWindowSize of a prior proposal (spec 4.7: "a node
	// sends at most one ViewChange per target view in any
	// ViewChangeWindowSize window").
	ErrViewChangeWindow = errors.New("viewchange: already proposed a ViewChange for this target view in the current window")

	// ErrNotCertified names a target view that does not yet have a
	// strong quorum of certified ViewChanges. No function in this
	// package returns it: Certify reports that case through its
	// boolean result, and BuildNewView takes an already-obtained
	// Certificate.
	ErrNotCertified = errors.New("viewchange: target view is not yet certified")

	// ErrNewViewMismatch is returned by VerifyNewView when a
	// recipient's recomputed selection does not byte-match the
	// primary's NewView (spec 4.7 step 6: "mismatch is a protocol
	// fault and triggers the next view change").
	ErrNewViewMismatch = errors.New("viewchange: recomputed selection does not match NewView")
)
