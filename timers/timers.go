// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package timers implements the cancellable timer wheel a replica
// schedules its timeouts on (spec 9's Design Note, SPEC 4.13). In this
// module only catch-up's reask timers are scheduled on it; no 3PC
// request timeout or view-change timeout is. A single Wheel owns every
// pending timer behind an explicit Token handle; firing is reported
// over a channel rather than invoked inline, so node.Replica's event
// loop can select over it alongside inbound messages and its periodic
// tick.
//
// Grounded on the teacher's networking/timeout.Manager interface shape
// (single owner, explicit RegisterRequest/RemoveRequest by an opaque
// ID, no name-based matching) in
// github.com/luxfi/consensus/networking/timeout, generalized from a
// request/response-keyed design to an arbitrary-label token handle.
package timers

import (
	"sync"
	"time"
)

// Token identifies one scheduled timer for later cancellation.
type Token uint64

// Fired is delivered on a Wheel's channel when a timer elapses without
// having been cancelled first.
type Fired struct {
	Token Token
	Label string
}

// Wheel owns a set of independently cancellable timers and reports
// firings on a single channel. The zero value is not usable; use
// NewWheel.
type Wheel struct {
	mu        sync.Mutex
	nextToken Token
	live      map[Token]*time.Timer
	fired     chan Fired
}

// NewWheel creates a Wheel whose Fired channel is buffered to bufSize
// entries; a full buffer causes a firing to be dropped rather than
// block the timer goroutine (the caller should size bufSize to the
// expected number of concurrently in-flight timers, or drain promptly).
func NewWheel(bufSize int) *Wheel {
	return &Wheel{
		live:  make(map[Token]*time.Timer),
		fired: make(chan Fired, bufSize),
	}
}

// After schedules label to fire on the Wheel's channel after d elapses,
// returning a Token that can cancel it before then.
func (w *Wheel) After(d time.Duration, label string) Token {
	w.mu.Lock()
	w.nextToken++
	token := w.nextToken
	w.mu.Unlock()

	t := time.AfterFunc(d, func() { w.fire(token, label) })

	w.mu.Lock()
	w.live[token] = t
	w.mu.Unlock()
	return token
}

func (w *Wheel) fire(token Token, label string) {
	w.mu.Lock()
	_, stillLive := w.live[token]
	delete(w.live, token)
	w.mu.Unlock()
	if !stillLive {
		return
	}
	select {
	case w.fired <- Fired{Token: token, Label: label}:
	default:
	}
}

// Cancel stops token's timer before it fires. Returns false if token
// already fired or was already cancelled.
func (w *Wheel) Cancel(token Token) bool {
	w.mu.Lock()
	t, ok := w.live[token]
	if ok {
		delete(w.live, token)
	}
	w.mu.Unlock()
	if !ok {
		return false
	}
	t.Stop()
	return true
}

// Reschedule cancels token (if still live) and schedules a fresh timer
// for label, returning the new Token. Used for retry backoff on a
// single logical timeout slot (e.g. a catch-up reask) without leaking
// tokens.
func (w *Wheel) Reschedule(token Token, d time.Duration, label string) Token {
	w.Cancel(token)
	return w.After(d, label)
}

// Fired returns the channel firings are delivered on.
func (w *Wheel) Fired() <-chan Fired {
	return w.fired
}

// Pending reports how many timers are currently scheduled.
func (w *Wheel) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.live)
}

// Stop cancels every outstanding timer, e.g. on replica shutdown.
func (w *Wheel) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for token, t := range w.live {
		t.Stop()
		delete(w.live, token)
	}
}
