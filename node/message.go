// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"encoding/json"
	"fmt"

	"github.com/luxfi/ids"

	"github.com/plenum-bft/plenum/catchup"
	"github.com/plenum-bft/plenum/replica"
	"github.com/plenum-bft/plenum/viewchange"
	"github.com/plenum-bft/plenum/wire"
)

// Inbound is one message arriving at this replica's event loop. The
// wire stack that actually carries Envelope between nodes is out of
// scope (the same Non-goal boundary that keeps request propagation
// out of replica); Instance conveys which Ordering Service the
// message belongs to, since PrePrepare/Prepare/Commit/Checkpoint carry
// no instance field of their own — in a real deployment this is the
// topic or sub-channel the transport delivers the envelope on.
type Inbound struct {
	From     ids.NodeID
	Instance int
	Envelope wire.Envelope
}

// Outbound is one message this replica wants delivered. A nil To
// means broadcast to every pool member; a non-nil To addresses one
// peer (e.g. a ViewChangeAck routed to the target view's primary, or
// a ConsistencyProof routed back to the peer that asked).
type Outbound struct {
	To       *ids.NodeID
	Instance int
	Envelope wire.Envelope
}

func broadcast(instance int, tag wire.Tag, v any) (Outbound, error) {
	env, err := encode(tag, v)
	if err != nil {
		return Outbound{}, err
	}
	return Outbound{Instance: instance, Envelope: env}, nil
}

func unicast(to ids.NodeID, instance int, tag wire.Tag, v any) (Outbound, error) {
	env, err := encode(tag, v)
	if err != nil {
		return Outbound{}, err
	}
	return Outbound{To: &to, Instance: instance, Envelope: env}, nil
}

func encode(tag wire.Tag, v any) (wire.Envelope, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return wire.Envelope{}, fmt.Errorf("node: encode %s: %w", tag, err)
	}
	return wire.Envelope{Tag: tag, Payload: payload}, nil
}

func decode[T any](env wire.Envelope) (T, error) {
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("node: decode %s: %w", env.Tag, err)
	}
	return v, nil
}

// Compile-time reminders of which concrete type each tag decodes to,
// kept next to the Tag constants they mirror rather than in a single
// do-everything switch.
var (
	_ = replica.PrePrepare{}
	_ = replica.Prepare{}
	_ = replica.Commit{}
	_ = replica.Checkpoint{}
	_ = viewchange.ViewChange{}
	_ = viewchange.ViewChangeAck{}
	_ = viewchange.NewView{}
	_ = catchup.LedgerStatus{}
	_ = catchup.ConsistencyProof{}
)
