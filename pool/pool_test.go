package pool

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func TestRegisterUncommittedVisibility(t *testing.T) {
	r := NewRegister()
	alice := ids.GenerateTestNodeID()

	_, err := r.Get(alice)
	require.ErrorIs(t, err, ErrUnknownValidator)

	r.Upsert(Member{NodeID: alice, BLSPub: []byte("pk-alice")})
	pub, err := r.Get(alice)
	require.NoError(t, err)
	require.Equal(t, []byte("pk-alice"), pub)
	require.True(t, r.Has(alice))
	require.Equal(t, 1, r.N())
}

func TestPrimaryRotation(t *testing.T) {
	var order []ids.NodeID
	for i := 0; i < 4; i++ {
		order = append(order, ids.GenerateTestNodeID())
	}

	seen := map[ids.NodeID]bool{}
	for v := uint64(0); v < uint64(len(order)); v++ {
		p, err := Primary(order, v, 0)
		require.NoError(t, err)
		seen[p] = true
	}
	require.Len(t, seen, len(order), "primary(v) must visit every validator across a full view cycle")
}

func TestPrimaryDiffersAcrossConsecutiveViews(t *testing.T) {
	var order []ids.NodeID
	for i := 0; i < 4; i++ {
		order = append(order, ids.GenerateTestNodeID())
	}
	p0, err := Primary(order, 0, 0)
	require.NoError(t, err)
	p1, err := Primary(order, 1, 0)
	require.NoError(t, err)
	require.NotEqual(t, p0, p1)
}

func TestPrimaryPerInstanceOffset(t *testing.T) {
	var order []ids.NodeID
	for i := 0; i < 4; i++ {
		order = append(order, ids.GenerateTestNodeID())
	}
	p0, err := Primary(order, 0, 0)
	require.NoError(t, err)
	p1, err := Primary(order, 0, 1)
	require.NoError(t, err)
	require.NotEqual(t, p0, p1)
}

func TestRemoveReordersDeterministically(t *testing.T) {
	r := NewRegister()
	a, b := ids.GenerateTestNodeID(), ids.GenerateTestNodeID()
	r.Upsert(Member{NodeID: a})
	r.Upsert(Member{NodeID: b})
	require.Equal(t, 2, r.N())
	r.Remove(a)
	require.Equal(t, 1, r.N())
	require.False(t, r.Has(a))
	require.True(t, r.Has(b))
}
