// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, durability bool) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "domain.ledger")
	l, err := Open(DomainLedgerID, path, durability, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendGetRoundTrip(t *testing.T) {
	l := openTemp(t, false)
	seq, _, err := l.Append([]byte("txn-1"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)

	got, err := l.Get(1)
	require.NoError(t, err)
	require.Equal(t, "txn-1", string(got))

	_, err = l.Get(2)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSizeAndRootAdvanceOnAppend(t *testing.T) {
	l := openTemp(t, false)
	require.Equal(t, uint64(0), l.Size())

	var lastRoot []byte
	for i := 0; i < 5; i++ {
		_, root, err := l.Append([]byte{byte(i)})
		require.NoError(t, err)
		require.NotEqual(t, lastRoot, root)
		lastRoot = root
	}
	require.Equal(t, uint64(5), l.Size())
	require.Equal(t, lastRoot, l.RootHash())
}

func TestCommitAndDiscardUncommitted(t *testing.T) {
	l := openTemp(t, false)
	_, _, err := l.Append([]byte("committed"))
	require.NoError(t, err)
	require.NoError(t, l.CommitTo(1))

	_, _, err = l.Append([]byte("pending"))
	require.NoError(t, err)
	require.Equal(t, uint64(2), l.Size())
	require.Equal(t, uint64(1), l.CommittedSize())

	require.NoError(t, l.DiscardUncommitted())
	require.Equal(t, uint64(1), l.Size())

	_, err = l.Get(2)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCommitToRejectsRewindBelowCommitted(t *testing.T) {
	l := openTemp(t, false)
	for i := 0; i < 3; i++ {
		_, _, err := l.Append([]byte{byte(i)})
		require.NoError(t, err)
	}
	require.NoError(t, l.CommitTo(2))
	require.ErrorIs(t, l.CommitTo(1), ErrAlreadyCommitted)
}

func TestReplayReconstructsStateAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.ledger")
	l1, err := Open(PoolLedgerID, path, true, nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, _, err := l1.Append([]byte{byte(i), byte(i + 1)})
		require.NoError(t, err)
	}
	wantRoot := l1.RootHash()
	require.NoError(t, l1.Close())

	l2, err := Open(PoolLedgerID, path, true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l2.Close() })
	require.Equal(t, uint64(10), l2.Size())
	require.Equal(t, wantRoot, l2.RootHash())
	got, err := l2.Get(5)
	require.NoError(t, err)
	require.Equal(t, []byte{4, 5}, got)
}

func TestInclusionProofVerifies(t *testing.T) {
	l := openTemp(t, false)
	var leaves [][]byte
	for i := 0; i < 17; i++ {
		txn := []byte{byte(i), byte(i * 2)}
		leaves = append(leaves, txn)
		_, _, err := l.Append(txn)
		require.NoError(t, err)
	}
	root := l.RootHash()

	for _, seq := range []uint64{1, 2, 8, 9, 16, 17} {
		proof, err := l.InclusionProof(seq, 17)
		require.NoError(t, err)
		leaf := leafHash(leaves[seq-1])
		require.True(t, VerifyInclusion(leaf, int(seq-1), 17, proof, root),
			"inclusion proof failed for seq %d", seq)
	}
}

func TestInclusionProofRejectsWrongLeaf(t *testing.T) {
	l := openTemp(t, false)
	for i := 0; i < 9; i++ {
		_, _, err := l.Append([]byte{byte(i)})
		require.NoError(t, err)
	}
	root := l.RootHash()
	proof, err := l.InclusionProof(3, 9)
	require.NoError(t, err)
	require.False(t, VerifyInclusion(leafHash([]byte("not-the-real-leaf")), 2, 9, proof, root))
}

func TestConsistencyProofVerifies(t *testing.T) {
	l := openTemp(t, false)
	var rootAt = map[uint64][]byte{}
	for i := 1; i <= 20; i++ {
		_, _, err := l.Append([]byte{byte(i)})
		require.NoError(t, err)
		rootAt[uint64(i)] = l.RootHash()
	}

	cases := [][2]uint64{{1, 20}, {5, 20}, {16, 20}, {19, 20}, {7, 13}}
	for _, c := range cases {
		from, to := c[0], c[1]
		proof, err := l.ConsistencyProof(from, to)
		require.NoError(t, err)
		require.True(t, VerifyConsistency(int(from), int(to), rootAt[from], rootAt[to], proof),
			"consistency proof failed for (%d,%d)", from, to)
	}
}

func TestConsistencyProofEqualSizesIsTrivial(t *testing.T) {
	l := openTemp(t, false)
	for i := 0; i < 5; i++ {
		_, _, err := l.Append([]byte{byte(i)})
		require.NoError(t, err)
	}
	root := l.RootHash()
	proof, err := l.ConsistencyProof(5, 5)
	require.NoError(t, err)
	require.Empty(t, proof)
	require.True(t, VerifyConsistency(5, 5, root, root, proof))
}

func TestConsistencyProofRejectsMismatchedRoot(t *testing.T) {
	l := openTemp(t, false)
	var rootAt = map[uint64][]byte{}
	for i := 1; i <= 10; i++ {
		_, _, err := l.Append([]byte{byte(i)})
		require.NoError(t, err)
		rootAt[uint64(i)] = l.RootHash()
	}
	proof, err := l.ConsistencyProof(4, 10)
	require.NoError(t, err)
	require.False(t, VerifyConsistency(4, 10, rootAt[3], rootAt[10], proof))
}

func TestInvalidRangeErrors(t *testing.T) {
	l := openTemp(t, false)
	for i := 0; i < 3; i++ {
		_, _, err := l.Append([]byte{byte(i)})
		require.NoError(t, err)
	}
	_, err := l.ConsistencyProof(0, 3)
	require.ErrorIs(t, err, ErrInvalidRange)

	_, err = l.ConsistencyProof(2, 10)
	require.ErrorIs(t, err, ErrInvalidRange)

	_, err = l.InclusionProof(5, 3)
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestLedgerIdString(t *testing.T) {
	require.Equal(t, "pool", PoolLedgerID.String())
	require.Equal(t, "domain", DomainLedgerID.String())
	require.Equal(t, "config", ConfigLedgerID.String())
	require.Equal(t, "audit", AuditLedgerID.String())
}
