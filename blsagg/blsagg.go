// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package blsagg implements per-ledger BLS signature share collection
// and multi-signature formation (spec 4.3, C3). Every replica signs the
// same canonicalized MultiSignatureValue for a given (view_no,
// pp_seq_no, ledger_id) slot; once a strong quorum of shares verifies
// against the uncommitted pool key register, the aggregator produces a
// single multi-signature plus its participant set.
//
// Grounded on the teacher's engine/pq CertificateGenerator /
// VerifyBLSAggregate shape (github.com/luxfi/crypto/bls over
// github.com/supranational/blst), generalized from a single blockID
// message to the per-ledger canonical value this spec signs.
package blsagg

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"

	"github.com/plenum-bft/plenum/ledger"
	"github.com/plenum-bft/plenum/pool"
	"github.com/plenum-bft/plenum/quorum"
	"github.com/plenum-bft/plenum/wire"
)

// MultiSignatureValue is the canonicalized value every replica signs
// for one ledger at one 3PC slot (spec 4.3).
type MultiSignatureValue struct {
	LedgerID      ledger.LedgerId `json:"ledger_id"`
	StateRoot     wire.Bytes      `json:"state_root"`
	PoolStateRoot wire.Bytes      `json:"pool_state_root"`
	TxnRoot       wire.Bytes      `json:"txn_root"`
	Timestamp     int64           `json:"timestamp"`
}

func (v MultiSignatureValue) equal(o MultiSignatureValue) bool {
	return v.LedgerID == o.LedgerID &&
		string(v.StateRoot) == string(o.StateRoot) &&
		string(v.PoolStateRoot) == string(o.PoolStateRoot) &&
		string(v.TxnRoot) == string(o.TxnRoot) &&
		v.Timestamp == o.Timestamp
}

// Key identifies one aggregation slot. Each ledger's multi-signature is
// independent (spec 9's Open Question resolution): the same (view_no,
// pp_seq_no) across two ledgers never shares a slot.
type Key struct {
	ViewNo   uint64
	PpSeqNo  uint64
	LedgerID ledger.LedgerId
}

// MultiSignature is a formed aggregate: the signed value, the sorted
// set of participating validators, and the aggregate signature bytes.
type MultiSignature struct {
	Value        MultiSignatureValue
	Participants []ids.NodeID
	Signature    []byte
}

// Signer holds one replica's BLS secret key and signs
// MultiSignatureValues on its behalf.
type Signer struct {
	nodeID ids.NodeID
	sk     *bls.SecretKey
	pk     *bls.PublicKey
}

// NewSigner derives a BLS keypair from seed (>= 32 bytes) for nodeID.
func NewSigner(nodeID ids.NodeID, seed []byte) (*Signer, error) {
	sk, err := bls.SecretKeyFromSeed(seed)
	if err != nil {
		return nil, errors.Wrap(err, "blsagg: derive secret key")
	}
	return &Signer{nodeID: nodeID, sk: sk, pk: sk.PublicKey()}, nil
}

// NodeID returns the signer's identity.
func (s *Signer) NodeID() ids.NodeID { return s.nodeID }

// PublicKeyBytes returns the compressed public key to register in the
// pool key register (spec 4.3).
func (s *Signer) PublicKeyBytes() []byte {
	return bls.PublicKeyToCompressedBytes(s.pk)
}

// Sign produces this replica's share over value's canonical digest.
func (s *Signer) Sign(value MultiSignatureValue) ([]byte, error) {
	digest, err := wire.Digest(value)
	if err != nil {
		return nil, err
	}
	sig, err := s.sk.Sign(digest[:])
	if err != nil {
		return nil, errors.Wrap(err, "blsagg: sign share")
	}
	return bls.SignatureToBytes(sig), nil
}

type share struct {
	sig *bls.Signature
	pk  *bls.PublicKey
}

type slot struct {
	value  *MultiSignatureValue
	shares map[ids.NodeID]share
	formed bool
	result MultiSignature
}

// Aggregator collects shares per Key and forms a multi-signature once
// a strong quorum of valid, matching shares is observed. It consults
// register for each signer's current (possibly uncommitted) BLS public
// key (spec 4.3).
type Aggregator struct {
	mu       sync.Mutex
	register *pool.Register
	slots    map[Key]*slot
}

// NewAggregator creates an aggregator backed by register. register
// must be the same Register instance pool mutates on every pool-ledger
// write, committed or not.
func NewAggregator(register *pool.Register) *Aggregator {
	return &Aggregator{register: register, slots: make(map[Key]*slot)}
}

// AddShare records nodeID's BLS share over value for key. It returns
// (true, nil) exactly once per key: the call that first brings the
// slot to a strong quorum of valid matching shares. A share that fails
// verification is excluded and reported via a wrapped
// ErrCmBlsSigWrong without affecting any other share already
// collected — ordering proceeds with the remaining shares (spec 9's
// scenario-3 resolution).
func (a *Aggregator) AddShare(key Key, nodeID ids.NodeID, value MultiSignatureValue, sigBytes []byte) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.slots[key]
	if !ok {
		s = &slot{shares: make(map[ids.NodeID]share)}
		a.slots[key] = s
	}
	if s.formed {
		return false, nil
	}
	if s.value == nil {
		v := value
		s.value = &v
	} else if !s.value.equal(value) {
		return false, errors.Wrapf(ErrValueMismatch, "slot %+v node %s", key, nodeID)
	}

	pkBytes, err := a.register.Get(nodeID)
	if err != nil {
		return false, errors.Wrapf(ErrUnknownSigner, "node %s", nodeID)
	}
	pk, err := bls.PublicKeyFromCompressedBytes(pkBytes)
	if err != nil {
		return false, errors.Wrapf(ErrCmBlsSigWrong, "node %s: bad public key: %v", nodeID, err)
	}
	sig, err := bls.SignatureFromBytes(sigBytes)
	if err != nil {
		return false, errors.Wrapf(ErrCmBlsSigWrong, "node %s: bad signature encoding: %v", nodeID, err)
	}
	digest, err := wire.Digest(*s.value)
	if err != nil {
		return false, err
	}
	if !bls.Verify(pk, sig, digest[:]) {
		return false, errors.Wrapf(ErrCmBlsSigWrong, "node %s", nodeID)
	}

	s.shares[nodeID] = share{sig: sig, pk: pk}

	strong := quorum.Derive(a.register.N()).Strong
	if len(s.shares) < strong {
		return false, nil
	}

	participants := make([]ids.NodeID, 0, len(s.shares))
	for id := range s.shares {
		participants = append(participants, id)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].String() < participants[j].String()
	})
	sigs := make([]*bls.Signature, len(participants))
	for i, id := range participants {
		sigs[i] = s.shares[id].sig
	}
	aggSig, err := bls.AggregateSignatures(sigs)
	if err != nil {
		return false, errors.Wrap(err, "blsagg: aggregate signatures")
	}

	s.formed = true
	s.result = MultiSignature{
		Value:        *s.value,
		Participants: participants,
		Signature:    bls.SignatureToBytes(aggSig),
	}
	return true, nil
}

// Result returns the formed multi-signature for key, if any.
func (a *Aggregator) Result(key Key) (MultiSignature, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.slots[key]
	if !ok || !s.formed {
		return MultiSignature{}, false
	}
	return s.result, true
}

// Prune drops every slot whose key keep reports false for, called when
// the stable checkpoint advances and garbage-collects 3PC state keyed
// by superseded (view_no, pp_seq_no) (spec 4.5).
func (a *Aggregator) Prune(keep func(Key) bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k := range a.slots {
		if !keep(k) {
			delete(a.slots, k)
		}
	}
}

// Verify checks ms's aggregate signature against the compound public
// key formed from register's current entries for ms.Participants.
// Failure is reported as ErrPprBlsMultisigWrong (spec 4.3): a
// PrePrepare carrying a stale or forged multi-signature.
func Verify(ms MultiSignature, register *pool.Register) error {
	if len(ms.Participants) == 0 {
		return errors.Wrap(ErrPprBlsMultisigWrong, "no participants")
	}
	pks := make([]*bls.PublicKey, 0, len(ms.Participants))
	for _, id := range ms.Participants {
		pkBytes, err := register.Get(id)
		if err != nil {
			return errors.Wrapf(ErrPprBlsMultisigWrong, "participant %s: %v", id, err)
		}
		pk, err := bls.PublicKeyFromCompressedBytes(pkBytes)
		if err != nil {
			return errors.Wrapf(ErrPprBlsMultisigWrong, "participant %s: %v", id, err)
		}
		pks = append(pks, pk)
	}
	aggPK, err := bls.AggregatePublicKeys(pks)
	if err != nil {
		return errors.Wrapf(ErrPprBlsMultisigWrong, "aggregate public keys: %v", err)
	}
	sig, err := bls.SignatureFromBytes(ms.Signature)
	if err != nil {
		return errors.Wrapf(ErrPprBlsMultisigWrong, "bad signature encoding: %v", err)
	}
	digest, err := wire.Digest(ms.Value)
	if err != nil {
		return err
	}
	if !bls.Verify(aggPK, sig, digest[:]) {
		return ErrPprBlsMultisigWrong
	}
	return nil
}

// QuorumSize reports the strong quorum the aggregator currently
// requires, derived from the live validator-set size.
func (a *Aggregator) QuorumSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return quorum.Derive(a.register.N()).Strong
}
