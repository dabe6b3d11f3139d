// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package blsagg

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/plenum-bft/plenum/ledger"
	"github.com/plenum-bft/plenum/pool"
)

// testCluster builds n signers registered against a shared pool.Register.
func testCluster(t *testing.T, n int) ([]*Signer, *pool.Register) {
	t.Helper()
	register := pool.NewRegister()
	signers := make([]*Signer, n)
	for i := 0; i < n; i++ {
		nodeID := ids.GenerateTestNodeID()
		seed := make([]byte, 32)
		seed[0] = byte(i + 1)
		s, err := NewSigner(nodeID, seed)
		require.NoError(t, err)
		signers[i] = s
		register.Upsert(pool.Member{NodeID: nodeID, BLSPub: s.PublicKeyBytes()})
	}
	return signers, register
}

func testValue() MultiSignatureValue {
	return MultiSignatureValue{
		LedgerID:      ledger.DomainLedgerID,
		StateRoot:     []byte("state-root"),
		PoolStateRoot: []byte("pool-root"),
		TxnRoot:       []byte("txn-root"),
		Timestamp:     1700000000,
	}
}

func TestAddShareFormsMultiSignatureOnStrongQuorum(t *testing.T) {
	signers, register := testCluster(t, 4) // n=4, f=1, strong=3
	agg := NewAggregator(register)
	key := Key{ViewNo: 0, PpSeqNo: 1, LedgerID: ledger.DomainLedgerID}
	value := testValue()

	formed := 0
	for i, s := range signers[:3] {
		sig, err := s.Sign(value)
		require.NoError(t, err)
		done, err := agg.AddShare(key, s.NodeID(), value, sig)
		require.NoError(t, err, "share %d", i)
		if done {
			formed++
		}
	}
	require.Equal(t, 1, formed, "multi-signature must form exactly once")

	ms, ok := agg.Result(key)
	require.True(t, ok)
	require.Len(t, ms.Participants, 3)
	require.NoError(t, Verify(ms, register))
}

func TestAddShareRejectsForgedSignature(t *testing.T) {
	signers, register := testCluster(t, 4)
	agg := NewAggregator(register)
	key := Key{ViewNo: 0, PpSeqNo: 1, LedgerID: ledger.DomainLedgerID}
	value := testValue()

	// Sign with a key not registered for this node: Sign succeeds
	// locally, but AddShare must reject it against the real registry.
	imposter, err := NewSigner(signers[0].NodeID(), []byte("a very different 32-byte seed!!!"))
	require.NoError(t, err)
	sig, err := imposter.Sign(value)
	require.NoError(t, err)

	_, err = agg.AddShare(key, signers[0].NodeID(), value, sig)
	require.ErrorIs(t, err, ErrCmBlsSigWrong)

	// The remaining honest shares still reach quorum.
	formed := false
	for _, s := range signers[1:4] {
		sig, err := s.Sign(value)
		require.NoError(t, err)
		done, err := agg.AddShare(key, s.NodeID(), value, sig)
		require.NoError(t, err)
		formed = formed || done
	}
	require.True(t, formed)
}

func TestAddShareRejectsMismatchedValue(t *testing.T) {
	signers, register := testCluster(t, 4)
	agg := NewAggregator(register)
	key := Key{ViewNo: 0, PpSeqNo: 1, LedgerID: ledger.DomainLedgerID}
	value := testValue()

	sig, err := signers[0].Sign(value)
	require.NoError(t, err)
	_, err = agg.AddShare(key, signers[0].NodeID(), value, sig)
	require.NoError(t, err)

	other := value
	other.Timestamp = value.Timestamp + 1
	sig2, err := signers[1].Sign(other)
	require.NoError(t, err)
	_, err = agg.AddShare(key, signers[1].NodeID(), other, sig2)
	require.ErrorIs(t, err, ErrValueMismatch)
}

func TestAddShareRejectsUnknownSigner(t *testing.T) {
	_, register := testCluster(t, 4)
	agg := NewAggregator(register)
	key := Key{ViewNo: 0, PpSeqNo: 1, LedgerID: ledger.DomainLedgerID}
	value := testValue()

	stranger, err := NewSigner(ids.GenerateTestNodeID(), []byte("another 32 byte seed for signing"))
	require.NoError(t, err)
	sig, err := stranger.Sign(value)
	require.NoError(t, err)

	_, err = agg.AddShare(key, stranger.NodeID(), value, sig)
	require.ErrorIs(t, err, ErrUnknownSigner)
}

func TestVerifyRejectsUnknownParticipant(t *testing.T) {
	signers, register := testCluster(t, 4)
	agg := NewAggregator(register)
	key := Key{ViewNo: 0, PpSeqNo: 1, LedgerID: ledger.DomainLedgerID}
	value := testValue()

	for _, s := range signers[:3] {
		sig, err := s.Sign(value)
		require.NoError(t, err)
		_, err = agg.AddShare(key, s.NodeID(), value, sig)
		require.NoError(t, err)
	}
	ms, ok := agg.Result(key)
	require.True(t, ok)

	ms.Participants = append(ms.Participants, ids.GenerateTestNodeID())
	require.ErrorIs(t, Verify(ms, register), ErrPprBlsMultisigWrong)
}

func TestIndependentLedgersDoNotShareASlot(t *testing.T) {
	signers, register := testCluster(t, 4)
	agg := NewAggregator(register)
	domainKey := Key{ViewNo: 1, PpSeqNo: 5, LedgerID: ledger.DomainLedgerID}
	poolKey := Key{ViewNo: 1, PpSeqNo: 5, LedgerID: ledger.PoolLedgerID}
	value := testValue()
	poolValue := value
	poolValue.LedgerID = ledger.PoolLedgerID

	for _, s := range signers[:3] {
		sig, err := s.Sign(value)
		require.NoError(t, err)
		_, err = agg.AddShare(domainKey, s.NodeID(), value, sig)
		require.NoError(t, err)
	}
	_, domainFormed := agg.Result(domainKey)
	_, poolFormed := agg.Result(poolKey)
	require.True(t, domainFormed)
	require.False(t, poolFormed, "pool ledger's slot must be independent of the domain ledger's")

	for _, s := range signers[:3] {
		sig, err := s.Sign(poolValue)
		require.NoError(t, err)
		_, err = agg.AddShare(poolKey, s.NodeID(), poolValue, sig)
		require.NoError(t, err)
	}
	_, poolFormed = agg.Result(poolKey)
	require.True(t, poolFormed)
}

func TestPruneDropsSupersededSlots(t *testing.T) {
	signers, register := testCluster(t, 4)
	agg := NewAggregator(register)
	oldKey := Key{ViewNo: 0, PpSeqNo: 1, LedgerID: ledger.DomainLedgerID}
	value := testValue()
	for _, s := range signers[:3] {
		sig, err := s.Sign(value)
		require.NoError(t, err)
		_, err = agg.AddShare(oldKey, s.NodeID(), value, sig)
		require.NoError(t, err)
	}
	_, ok := agg.Result(oldKey)
	require.True(t, ok)

	agg.Prune(func(k Key) bool { return k.PpSeqNo > 1 })
	_, ok = agg.Result(oldKey)
	require.False(t, ok)
}

func TestQuorumSizeTracksRegister(t *testing.T) {
	_, register := testCluster(t, 7) // f=2, strong=5
	agg := NewAggregator(register)
	require.Equal(t, 5, agg.QuorumSize())
}
