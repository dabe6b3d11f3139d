// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package trie

import (
	"fmt"
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func TestEmptyTrieRootIsEmptyID(t *testing.T) {
	tr := New(NewStore(10))
	root, err := tr.RootHash()
	require.NoError(t, err)
	require.Equal(t, ids.Empty, root)
}

func TestUpdateGetRoundTrip(t *testing.T) {
	tr := New(NewStore(10))
	entries := map[string]string{
		"alice":   "1",
		"alicia":  "2",
		"bob":     "3",
		"bobby":   "4",
		"charlie": "5",
	}
	for k, v := range entries {
		require.NoError(t, tr.Update([]byte(k), []byte(v)))
	}
	for k, v := range entries {
		got, found, err := tr.Get([]byte(k))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, v, string(got))
	}
	_, found, err := tr.Get([]byte("nonexistent"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestRootHashIndependentOfInsertOrder(t *testing.T) {
	keys := []string{"alpha", "alphabet", "beta", "gamma", "gammaray", "delta"}

	tr1 := New(NewStore(10))
	for _, k := range keys {
		require.NoError(t, tr1.Update([]byte(k), []byte("v-"+k)))
	}
	root1, err := tr1.RootHash()
	require.NoError(t, err)

	reversed := make([]string, len(keys))
	for i, k := range keys {
		reversed[len(keys)-1-i] = k
	}
	tr2 := New(NewStore(10))
	for _, k := range reversed {
		require.NoError(t, tr2.Update([]byte(k), []byte("v-"+k)))
	}
	root2, err := tr2.RootHash()
	require.NoError(t, err)

	require.Equal(t, root1, root2)
}

func TestDeleteRemovesKeyAndRestoresEmptyRoot(t *testing.T) {
	tr := New(NewStore(10))
	require.NoError(t, tr.Update([]byte("only"), []byte("value")))
	require.NoError(t, tr.Delete([]byte("only")))

	_, found, err := tr.Get([]byte("only"))
	require.NoError(t, err)
	require.False(t, found)

	root, err := tr.RootHash()
	require.NoError(t, err)
	require.Equal(t, ids.Empty, root)
}

func TestDeleteIsNoOpForAbsentKey(t *testing.T) {
	tr := New(NewStore(10))
	require.NoError(t, tr.Update([]byte("present"), []byte("v")))
	rootBefore, err := tr.RootHash()
	require.NoError(t, err)

	require.NoError(t, tr.Delete([]byte("absent")))
	rootAfter, err := tr.RootHash()
	require.NoError(t, err)
	require.Equal(t, rootBefore, rootAfter)
}

func TestUpdateThenDeleteAllConvergesToSameEmptyState(t *testing.T) {
	tr := New(NewStore(10))
	keys := []string{"k1", "k2", "k3", "k4", "k5"}
	for _, k := range keys {
		require.NoError(t, tr.Update([]byte(k), []byte("v")))
	}
	for _, k := range keys {
		require.NoError(t, tr.Delete([]byte(k)))
	}
	root, err := tr.RootHash()
	require.NoError(t, err)
	require.Equal(t, ids.Empty, root)
}

func TestCloneIsIsolatedFromSubsequentMutation(t *testing.T) {
	tr := New(NewStore(10))
	require.NoError(t, tr.Update([]byte("k"), []byte("v1")))
	snap := tr.Clone()

	require.NoError(t, tr.Update([]byte("k"), []byte("v2")))

	got, found, err := snap.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v1", string(got))

	got2, found2, err := tr.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, found2)
	require.Equal(t, "v2", string(got2))
}

func TestProveAndVerifyInclusion(t *testing.T) {
	tr := New(NewStore(10))
	for i := 0; i < 20; i++ {
		k := []byte(fmt.Sprintf("key-%02d", i))
		require.NoError(t, tr.Update(k, []byte(fmt.Sprintf("val-%02d", i))))
	}
	root, err := tr.RootHash()
	require.NoError(t, err)

	key := []byte("key-07")
	value, proof, err := tr.Prove(key)
	require.NoError(t, err)
	require.Equal(t, "val-07", string(value))
	require.NotEmpty(t, proof)

	ok, err := Verify(root, key, value, proof)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyRejectsWrongValue(t *testing.T) {
	tr := New(NewStore(10))
	require.NoError(t, tr.Update([]byte("key"), []byte("real-value")))
	root, err := tr.RootHash()
	require.NoError(t, err)

	_, proof, err := tr.Prove([]byte("key"))
	require.NoError(t, err)

	ok, err := Verify(root, []byte("key"), []byte("wrong-value"), proof)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyRejectsIncompleteProof(t *testing.T) {
	tr := New(NewStore(10))
	for i := 0; i < 20; i++ {
		k := []byte(fmt.Sprintf("key-%02d", i))
		require.NoError(t, tr.Update(k, []byte(fmt.Sprintf("val-%02d", i))))
	}
	root, err := tr.RootHash()
	require.NoError(t, err)

	value, proof, err := tr.Prove([]byte("key-07"))
	require.NoError(t, err)
	require.NotEmpty(t, proof)

	_, err = Verify(root, []byte("key-07"), value, proof[:len(proof)-1])
	require.Error(t, err)
}

func TestVerifyAbsenceOnEmptyTrie(t *testing.T) {
	ok, err := Verify(ids.Empty, []byte("anything"), nil, nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestProvePrefixCollectsOnlyMatchingKeys(t *testing.T) {
	tr := New(NewStore(10))
	members := map[string]string{
		"user/alice": "1",
		"user/bob":   "2",
		"group/eng":  "3",
	}
	for k, v := range members {
		require.NoError(t, tr.Update([]byte(k), []byte(v)))
	}

	got, proof, err := tr.ProvePrefix([]byte("user/"))
	require.NoError(t, err)
	require.NotNil(t, proof)
	require.Equal(t, "1", string(got["user/alice"]))
	require.Equal(t, "2", string(got["user/bob"]))
	_, hasGroup := got["group/eng"]
	require.False(t, hasGroup)
}

func TestStorePruneCollectsAfterGraceWindow(t *testing.T) {
	store := NewStore(2)
	tr := New(store)
	tr.SetBatch(1)

	longValue := make([]byte, 64)
	require.NoError(t, tr.Update([]byte("key-a"), longValue))
	require.NoError(t, tr.Update([]byte("key-b"), []byte("short")))
	require.Positive(t, store.Len())

	tr.SetBatch(2)
	require.NoError(t, tr.Delete([]byte("key-a")))

	require.Equal(t, 0, store.Prune(2))
	require.Positive(t, store.Prune(4))
}

func TestInvalidRootBytesLength(t *testing.T) {
	require.NoError(t, ValidateRootBytes(nil))
	require.NoError(t, ValidateRootBytes(make([]byte, 32)))
	require.ErrorIs(t, ValidateRootBytes(make([]byte, 31)), ErrInvalidRoot)
}

func TestEmptyKeyRejected(t *testing.T) {
	tr := New(NewStore(10))
	require.ErrorIs(t, tr.Update(nil, []byte("v")), ErrInvalidInput)
	require.ErrorIs(t, tr.Delete(nil), ErrInvalidInput)
	_, _, err := tr.Get(nil)
	require.ErrorIs(t, err, ErrInvalidInput)
}
