// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Command plenum-node runs an in-process cluster of Plenum ordering
// replicas wired together directly (no networking stack), the same
// no-transport demonstration shape as the teacher's
// cmd/benchmark-simple. It exists to exercise the full C1-C9 wiring
// end to end; a real deployment replaces the in-process Outbound ->
// Enqueue bridge built here with an actual wire transport.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/luxfi/ids"

	"github.com/plenum-bft/plenum/blsagg"
	"github.com/plenum-bft/plenum/catchup"
	"github.com/plenum-bft/plenum/checkpoint"
	"github.com/plenum-bft/plenum/config"
	"github.com/plenum-bft/plenum/ledger"
	"github.com/plenum-bft/plenum/monitor"
	"github.com/plenum-bft/plenum/node"
	"github.com/plenum-bft/plenum/plog"
	"github.com/plenum-bft/plenum/pool"
	"github.com/plenum-bft/plenum/quorum"
	"github.com/plenum-bft/plenum/replica"
	"github.com/plenum-bft/plenum/timers"
	"github.com/plenum-bft/plenum/trie"
	"github.com/plenum-bft/plenum/viewchange"
)

var (
	profile  = flag.String("profile", "local", "configuration profile: local or mainnet")
	poolSize = flag.Int("n", 4, "number of replicas in the in-process pool")
	dataDir  = flag.String("data", "", "directory for ledger files (defaults to a temp dir)")
)

type fetcherNoOp struct{}

func (fetcherNoOp) Start(map[ledger.LedgerId]uint64) error { return nil }
func (fetcherNoOp) Cancel()                                {}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "plenum-node:", err)
		os.Exit(1)
	}
}

func run() error {
	params := config.Local()
	if *profile == "mainnet" {
		params = config.Mainnet()
	}
	params = params.ApplyPoolSize(*poolSize)
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	dir := *dataDir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "plenum-node-")
		if err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}

	log := plog.NoOp()
	register := pool.NewRegister()
	nodeIDs := make([]ids.NodeID, *poolSize)
	signers := make(map[ids.NodeID]*blsagg.Signer, *poolSize)
	for i := 0; i < *poolSize; i++ {
		id := ids.GenerateTestNodeID()
		nodeIDs[i] = id
		seed := make([]byte, 32)
		seed[0] = byte(i + 1)
		signer, err := blsagg.NewSigner(id, seed)
		if err != nil {
			return fmt.Errorf("derive signer for %s: %w", id, err)
		}
		signers[id] = signer
		register.Upsert(pool.Member{NodeID: id, BLSPub: signer.PublicKeyBytes()})
	}
	strong := quorum.Derive(*poolSize).Strong

	replicas := make(map[ids.NodeID]*node.Replica, *poolSize)
	for _, id := range nodeIDs {
		ledgerPath := filepath.Join(dir, id.String()+".ledger")
		led, err := ledger.Open(ledger.DomainLedgerID, ledgerPath, true, log)
		if err != nil {
			return fmt.Errorf("open ledger for %s: %w", id, err)
		}
		defer led.Close()
		ledgers := map[ledger.LedgerId]*ledger.Ledger{ledger.DomainLedgerID: led}
		tries := map[ledger.LedgerId]*trie.Trie{ledger.DomainLedgerID: trie.New(trie.NewStore(10))}

		agg := blsagg.NewAggregator(register)
		chk := checkpoint.NewTracker(uint64(params.LogSize), func() int { return strong })
		master := replica.New(replica.Config{
			NodeID: id, Instance: 0, IsMaster: true,
			Register: register, Tries: tries, Ledgers: ledgers,
			Signer: signers[id], Aggregator: agg, Checkpoints: chk,
			Params: params, Log: log,
		})
		vc := viewchange.New(viewchange.Config{NodeID: id, Register: register, Params: params, Log: log})
		mon := monitor.New(monitor.Config{Master: 0, Params: params, Log: log})
		wheel := timers.NewWheel(256)
		cu := catchup.New(catchup.Config{Register: register, Ledgers: ledgers, Wheel: wheel, Fetcher: fetcherNoOp{}, Params: params, Log: log})

		replicas[id] = node.New(node.Config{
			NodeID: id, Register: register,
			Instances:   map[int]*replica.Replica{0: master},
			Checkpoints: chk, ViewChange: vc, Monitor: mon, Catchup: cu,
			Ledgers: ledgers, Wheel: wheel, Params: params, Log: log,
		})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for senderID, r := range replicas {
		senderID, r := senderID, r
		go bridge(ctx, senderID, r, replicas, nodeIDs)
		go func() { _ = r.Run(ctx) }()
	}

	<-ctx.Done()
	// Give in-flight goroutines a moment to observe cancellation before
	// the deferred ledger Close calls run.
	time.Sleep(50 * time.Millisecond)
	return nil
}

// bridge delivers r's outbound messages to every other replica,
// standing in for the transport this module does not implement.
func bridge(ctx context.Context, from ids.NodeID, r *node.Replica, replicas map[ids.NodeID]*node.Replica, nodeIDs []ids.NodeID) {
	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-r.Outbound():
			if !ok {
				return
			}
			targets := nodeIDs
			if out.To != nil {
				targets = []ids.NodeID{*out.To}
			}
			for _, to := range targets {
				if to == from {
					continue
				}
				_ = replicas[to].Enqueue(ctx, node.Inbound{From: from, Instance: out.Instance, Envelope: out.Envelope})
			}
		}
	}
}
