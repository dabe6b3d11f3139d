// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger implements the flat append-only record file plus
// compact Merkle tree (RFC 6962 style) that backs each of Plenum's
// four per-ledger logs (spec 4.2, C2). Uncommitted appends form a
// suffix over the committed prefix; only the committed prefix is the
// stable view a catch-up peer or a BLS multi-signature commits to.
package ledger

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/plenum-bft/plenum/plog"
)

// LedgerId names one of the four ledgers the spec's scenarios address
// (spec 3: "LedgerId is int with named constants").
type LedgerId int

const (
	PoolLedgerID LedgerId = iota
	DomainLedgerID
	ConfigLedgerID
	AuditLedgerID
)

func (id LedgerId) String() string {
	switch id {
	case PoolLedgerID:
		return "pool"
	case DomainLedgerID:
		return "domain"
	case ConfigLedgerID:
		return "config"
	case AuditLedgerID:
		return "audit"
	default:
		return fmt.Sprintf("ledger-%d", int(id))
	}
}

// Record is one logged entry: a seq_no (1-based), the caller-supplied
// canonical transaction bytes, and its RFC 6962 leaf hash.
type Record struct {
	SeqNo   uint64
	Txn     []byte
	LeafSHA []byte
}

// Ledger is a single-writer append-only log with an in-memory Merkle
// tree mirroring the on-disk record file (spec 4.2's "ledger file
// format": <4-byte BE length><canonical txn bytes><SHA-256 leaf hash>,
// seq numbers starting at 1). Readers needing a stable view should only
// ever consult the committed prefix via CommittedSize/CommittedRootHash.
type Ledger struct {
	mu sync.Mutex

	id  LedgerId
	log plog.Logger

	file             *os.File
	ensureDurability bool

	leaves        [][]byte // leaf hashes, index i == seq_no i+1
	txns          [][]byte // canonical txn bytes, parallel to leaves
	committedSize int
}

// Open opens (creating if absent) the record file at path and replays
// it to rebuild the in-memory leaf hash list, per spec 4.2: "on
// restart, the ledger reconstructs the Merkle tree from the leaf file
// and the hash store."
func Open(id LedgerId, path string, ensureDurability bool, logger plog.Logger) (*Ledger, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	l := &Ledger{
		id:               id,
		log:              plog.OrNoOp(logger),
		file:             f,
		ensureDurability: ensureDurability,
	}
	if err := l.replay(); err != nil {
		_ = f.Close()
		return nil, err
	}
	l.committedSize = len(l.leaves)
	l.log.Info("ledger opened", "ledger_id", id.String(), "size", len(l.leaves))
	return l, nil
}

func (l *Ledger) replay() error {
	if _, err := l.file.Seek(0, 0); err != nil {
		return err
	}
	r := bufio.NewReader(l.file)
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("%w: length prefix: %v", ErrCorruptRecord, err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("%w: payload: %v", ErrCorruptRecord, err)
		}
		var want [32]byte
		if _, err := io.ReadFull(r, want[:]); err != nil {
			return fmt.Errorf("%w: leaf hash: %v", ErrCorruptRecord, err)
		}
		got := leafHash(payload)
		if string(got) != string(want[:]) {
			return fmt.Errorf("%w: leaf hash mismatch at seq %d", ErrCorruptRecord, len(l.leaves)+1)
		}
		l.txns = append(l.txns, payload)
		l.leaves = append(l.leaves, got)
	}
	if _, err := l.file.Seek(0, 2); err != nil {
		return err
	}
	return nil
}

// Append writes txn as the next record, returning its 1-based seq_no
// and the working (possibly-uncommitted) root hash afterward.
func (l *Ledger) Append(txn []byte) (seqNo uint64, root []byte, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(txn)))
	leaf := leafHash(txn)

	if _, err := l.file.Write(lenBuf[:]); err != nil {
		return 0, nil, err
	}
	if _, err := l.file.Write(txn); err != nil {
		return 0, nil, err
	}
	if _, err := l.file.Write(leaf); err != nil {
		return 0, nil, err
	}
	if l.ensureDurability {
		if err := l.file.Sync(); err != nil {
			return 0, nil, err
		}
	}

	l.txns = append(l.txns, append([]byte(nil), txn...))
	l.leaves = append(l.leaves, leaf)
	seqNo = uint64(len(l.leaves))
	return seqNo, merkleRoot(l.leaves), nil
}

// Get returns the canonical txn bytes stored at seqNo (1-based).
func (l *Ledger) Get(seqNo uint64) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seqNo < 1 || seqNo > uint64(len(l.txns)) {
		return nil, ErrNotFound
	}
	return l.txns[seqNo-1], nil
}

// Size returns the current working size, including any uncommitted
// suffix.
func (l *Ledger) Size() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.leaves))
}

// CommittedSize returns the stable, committed prefix length.
func (l *Ledger) CommittedSize() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(l.committedSize)
}

// RootHash returns the working Merkle root over every appended leaf,
// committed or not.
func (l *Ledger) RootHash() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return merkleRoot(l.leaves)
}

// CommittedRootHash returns the Merkle root over only the committed
// prefix, the value a BLS multi-signature or catch-up peer commits to.
func (l *Ledger) CommittedRootHash() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return merkleRoot(l.leaves[:l.committedSize])
}

// ConsistencyProof proves that the tree of size fromSize is a prefix
// of the tree of size toSize, both bounded by the current working
// size.
func (l *Ledger) ConsistencyProof(fromSize, toSize uint64) ([][]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fromSize == 0 || fromSize > toSize || toSize > uint64(len(l.leaves)) {
		return nil, ErrInvalidRange
	}
	return consistencyProof(int(fromSize), l.leaves[:toSize]), nil
}

// InclusionProof proves seqNo is present in the tree of size
// treeSize.
func (l *Ledger) InclusionProof(seqNo, treeSize uint64) ([][]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seqNo < 1 || seqNo > treeSize || treeSize > uint64(len(l.leaves)) {
		return nil, ErrInvalidRange
	}
	return inclusionProof(l.leaves[:treeSize], int(seqNo-1)), nil
}

// CommitTo advances the committed boundary to seqNo, which must be at
// least the current committed size and no more than the working size.
func (l *Ledger) CommitTo(seqNo uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seqNo < uint64(l.committedSize) {
		return ErrAlreadyCommitted
	}
	if seqNo > uint64(len(l.leaves)) {
		return ErrInvalidRange
	}
	l.committedSize = int(seqNo)
	return nil
}

// DiscardUncommitted truncates the working suffix back to the
// committed boundary, as when a batch is abandoned before Ordered
// fires. The record file is truncated to the same boundary and its
// write offset moved there, so a subsequent Append continues directly
// after the last committed record and replay on next Open re-derives
// the same truncated state.
func (l *Ledger) DiscardUncommitted() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	truncated := int64(0)
	for _, t := range l.txns[l.committedSize:] {
		truncated += int64(4 + len(t) + 32)
	}
	l.leaves = l.leaves[:l.committedSize]
	l.txns = l.txns[:l.committedSize]

	size, err := l.file.Seek(0, 2)
	if err != nil {
		return err
	}
	keep := size - truncated
	if err := l.file.Truncate(keep); err != nil {
		return err
	}
	_, err = l.file.Seek(keep, 0)
	return err
}

// Close flushes and closes the underlying record file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		return err
	}
	return l.file.Close()
}

