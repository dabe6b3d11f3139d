// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package timers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAfterFiresWithLabel(t *testing.T) {
	w := NewWheel(4)
	defer w.Stop()

	w.After(10*time.Millisecond, "view-change-timeout")

	select {
	case f := <-w.Fired():
		require.Equal(t, "view-change-timeout", f.Label)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	w := NewWheel(4)
	defer w.Stop()

	token := w.After(20*time.Millisecond, "reask")
	require.True(t, w.Cancel(token))
	require.False(t, w.Cancel(token), "cancelling twice must report false")

	select {
	case f := <-w.Fired():
		t.Fatalf("cancelled timer fired: %+v", f)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestRescheduleReplacesToken(t *testing.T) {
	w := NewWheel(4)
	defer w.Stop()

	token := w.After(time.Hour, "slow")
	newToken := w.Reschedule(token, 10*time.Millisecond, "fast")
	require.NotEqual(t, token, newToken)

	select {
	case f := <-w.Fired():
		require.Equal(t, newToken, f.Token)
		require.Equal(t, "fast", f.Label)
	case <-time.After(time.Second):
		t.Fatal("rescheduled timer never fired")
	}
}

func TestPendingTracksLiveTimers(t *testing.T) {
	w := NewWheel(4)
	defer w.Stop()

	require.Equal(t, 0, w.Pending())
	token := w.After(time.Hour, "a")
	w.After(time.Hour, "b")
	require.Equal(t, 2, w.Pending())

	w.Cancel(token)
	require.Equal(t, 1, w.Pending())
}

func TestStopCancelsEverything(t *testing.T) {
	w := NewWheel(4)
	w.After(time.Hour, "a")
	w.After(time.Hour, "b")
	w.Stop()
	require.Equal(t, 0, w.Pending())
}
