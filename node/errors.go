// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import "github.com/cockroachdb/errors"

var (
	// ErrUnknownInstance names an Inbound whose instance this replica
	// was not configured with; the message handlers log it and drop
	// the message.
	ErrUnknownInstance = errors.New("node: unknown instance")

	// ErrMissingRequests names a PrePrepare whose ReqIdr lists
	// requests this node has no local copy of; handlePrePrepare logs
	// and drops such a PrePrepare without returning an error. A full deployment would
	// stash the PrePrepare and fetch the missing bodies over the
	// propagation wire protocol; that protocol is out of scope here
	// (the same boundary replica.OnPrePrepare's doc comment names), so
	// this node can only process PrePrepares for requests it has
	// already mirrored via SubmitRequest.
	ErrMissingRequests = errors.New("node: missing local copies of requests named by pre-prepare")
)
