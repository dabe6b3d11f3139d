// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package catchup

import (
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/plenum-bft/plenum/config"
	"github.com/plenum-bft/plenum/ledger"
	"github.com/plenum-bft/plenum/pool"
	"github.com/plenum-bft/plenum/replica"
	"github.com/plenum-bft/plenum/timers"
)

type fakeFetcher struct {
	startCalls  []map[ledger.LedgerId]uint64
	cancelCalls int
	startErr    error
}

func (f *fakeFetcher) Start(targetSizes map[ledger.LedgerId]uint64) error {
	f.startCalls = append(f.startCalls, targetSizes)
	return f.startErr
}

func (f *fakeFetcher) Cancel() {
	f.cancelCalls++
}

func openTestLedger(t *testing.T, n int) *ledger.Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "domain.ledger")
	l, err := ledger.Open(ledger.DomainLedgerID, path, false, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	for i := 0; i < n; i++ {
		_, _, err := l.Append([]byte("txn"))
		require.NoError(t, err)
	}
	require.NoError(t, l.CommitTo(uint64(n)))
	return l
}

func testRegister(n int) (*pool.Register, []ids.NodeID) {
	register := pool.NewRegister()
	nodeIDs := make([]ids.NodeID, n)
	for i := 0; i < n; i++ {
		id := ids.GenerateTestNodeID()
		nodeIDs[i] = id
		register.Upsert(pool.Member{NodeID: id})
	}
	return register, nodeIDs
}

func TestOnLedgerStatusProducesProofForBehindPeer(t *testing.T) {
	led := openTestLedger(t, 5)
	register, nodeIDs := testRegister(4)
	c := New(Config{
		Register: register,
		Ledgers:  map[ledger.LedgerId]*ledger.Ledger{ledger.DomainLedgerID: led},
		Wheel:    timers.NewWheel(8),
		Fetcher:  &fakeFetcher{},
		Params:   config.Local(),
	})

	proof, err := c.OnLedgerStatus(nodeIDs[0], LedgerStatus{LedgerID: ledger.DomainLedgerID, Size: 2})
	require.NoError(t, err)
	require.NotNil(t, proof)
	require.Equal(t, uint64(2), proof.OldSize)
	require.Equal(t, uint64(5), proof.NewSize)
	require.NotEmpty(t, proof.Hashes)
}

func TestOnLedgerStatusReturnsNilForAheadPeer(t *testing.T) {
	led := openTestLedger(t, 2)
	register, nodeIDs := testRegister(4)
	c := New(Config{
		Register: register,
		Ledgers:  map[ledger.LedgerId]*ledger.Ledger{ledger.DomainLedgerID: led},
		Wheel:    timers.NewWheel(8),
		Fetcher:  &fakeFetcher{},
		Params:   config.Local(),
	})

	proof, err := c.OnLedgerStatus(nodeIDs[0], LedgerStatus{LedgerID: ledger.DomainLedgerID, Size: 10})
	require.NoError(t, err)
	require.Nil(t, proof)
}

func TestDetectLagRequiresWeakQuorum(t *testing.T) {
	led := openTestLedger(t, 2)
	register, nodeIDs := testRegister(4) // f=1, weak=2
	c := New(Config{
		Register: register,
		Ledgers:  map[ledger.LedgerId]*ledger.Ledger{ledger.DomainLedgerID: led},
		Wheel:    timers.NewWheel(8),
		Fetcher:  &fakeFetcher{},
		Params:   config.Local(),
	})

	local := map[ledger.LedgerId]uint64{ledger.DomainLedgerID: 2}

	c.OnLedgerStatus(nodeIDs[0], LedgerStatus{LedgerID: ledger.DomainLedgerID, Size: 10})
	_, ok := c.DetectLag(local)
	require.False(t, ok, "one report is below the weak quorum of 2")

	c.OnLedgerStatus(nodeIDs[1], LedgerStatus{LedgerID: ledger.DomainLedgerID, Size: 10})
	targets, ok := c.DetectLag(local)
	require.True(t, ok)
	require.Equal(t, uint64(10), targets[ledger.DomainLedgerID])
}

func TestStartSchedulesReaskTimersAndCancelStopsThem(t *testing.T) {
	led := openTestLedger(t, 2)
	register, _ := testRegister(4)
	wheel := timers.NewWheel(8)
	fetcher := &fakeFetcher{}
	c := New(Config{
		Register: register,
		Ledgers:  map[ledger.LedgerId]*ledger.Ledger{ledger.DomainLedgerID: led},
		Wheel:    wheel,
		Fetcher:  fetcher,
		Params:   config.Local(),
	})

	targets := map[ledger.LedgerId]uint64{ledger.DomainLedgerID: 10}
	require.NoError(t, c.Start(targets))
	require.True(t, c.Active())
	require.Len(t, fetcher.startCalls, 1)
	require.Equal(t, 2, wheel.Pending())

	err := c.Start(targets)
	require.ErrorIs(t, err, ErrAlreadyActive)

	require.NoError(t, c.Cancel())
	require.False(t, c.Active())
	require.Equal(t, 1, fetcher.cancelCalls)
	require.Equal(t, 0, wheel.Pending())

	err = c.Cancel()
	require.ErrorIs(t, err, ErrNotActive)
}

func TestCompleteStopsTimersAndClearsReports(t *testing.T) {
	led := openTestLedger(t, 2)
	register, nodeIDs := testRegister(4)
	wheel := timers.NewWheel(8)
	c := New(Config{
		Register: register,
		Ledgers:  map[ledger.LedgerId]*ledger.Ledger{ledger.DomainLedgerID: led},
		Wheel:    wheel,
		Fetcher:  &fakeFetcher{},
		Params:   config.Local(),
	})

	c.OnLedgerStatus(nodeIDs[0], LedgerStatus{LedgerID: ledger.DomainLedgerID, Size: 10})
	require.NoError(t, c.Start(map[ledger.LedgerId]uint64{ledger.DomainLedgerID: 10}))
	require.NoError(t, c.Complete())
	require.False(t, c.Active())
	require.Equal(t, 0, wheel.Pending())

	_, ok := c.DetectLag(map[ledger.LedgerId]uint64{ledger.DomainLedgerID: 2})
	require.False(t, ok, "Complete clears stale lag reports")
}

func TestApplyHistoryStopsAtFirstError(t *testing.T) {
	batches := []replica.Ordered{
		{Key: replica.ThreePCKey{PpSeqNo: 1}},
		{Key: replica.ThreePCKey{PpSeqNo: 2}},
		{Key: replica.ThreePCKey{PpSeqNo: 3}},
	}
	errStop := errors.New("stop")
	var applied []uint64

	err := ApplyHistory(batches, func(o replica.Ordered) error {
		applied = append(applied, o.Key.PpSeqNo)
		if o.Key.PpSeqNo == 2 {
			return errStop
		}
		return nil
	})
	require.ErrorIs(t, err, errStop)
	require.Equal(t, []uint64{1, 2}, applied)
}
