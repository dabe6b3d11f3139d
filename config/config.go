// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config carries the behavioral configuration surface the
// core consumes (spec 6), grounded on the teacher's
// config.Parameters/Valid shape (github.com/luxfi/consensus/config).
package config

import (
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrPoolTooSmall       = errors.New("config: pool size n must be >= 1")
	ErrInvalidCheckpoint  = errors.New("config: CHK_FREQ must be >= 1")
	ErrInvalidBatchSize   = errors.New("config: Max3PCBatchSize must be >= 1")
	ErrInvalidBatchWait   = errors.New("config: Max3PCBatchWait must be > 0")
	ErrInvalidInFlight    = errors.New("config: Max3PCBatchesInFlight must be >= 1")
	ErrInvalidStashLimit  = errors.New("config: stash limits must be >= 1")
	ErrInvalidDeviation   = errors.New("config: ACCEPTABLE_DEVIATION_PREPREPARE_SECS must be >= 0")
	ErrInvalidDeltaLambda = errors.New("config: DELTA must be in (0,1] and LAMBDA must be >= 0")
)

// Parameters is the full behavioral configuration surface named in
// spec 6, plus the derived quorum arithmetic from spec 4.4.
type Parameters struct {
	// Pool size; F, Weak, Strong are derived, never set directly.
	N int

	// Batching (spec 4.6)
	CheckpointFreq           int
	Max3PCBatchSize          int
	Max3PCBatchWait          time.Duration
	Max3PCBatchesInFlight    int
	StateFreshnessInterval   time.Duration
	AcceptableDeviationSecs  time.Duration
	PropagatesPhaseTimeout   time.Duration
	OrderingPhaseTimeout     time.Duration
	ProcessStashedOOOCommits time.Duration

	// Watermarks/stash (spec 4.5, 5)
	LogSize           int // derived: 3 * CheckpointFreq
	ReplicaStashLimit int
	ViewChangeStashLimit int

	// View change (spec 4.7)
	ViewChangeWindowSize          time.Duration
	TolerancePrimaryDisconnection time.Duration
	NewViewTimeout                time.Duration
	InitialProposeViewChangeTimeout time.Duration

	// Catch-up (spec 4.9)
	CatchupTransactionsTimeout time.Duration
	ConsistencyProofsTimeout   time.Duration

	// Monitor (spec 4.8)
	PerfCheckFreq time.Duration
	Delta         float64
	Lambda        time.Duration

	FreshnessEnabled bool
}

// Mainnet returns the production preset, values grounded on
// original_source/plenum/config.py's constant table.
func Mainnet() Parameters {
	return Parameters{
		CheckpointFreq:                   100,
		Max3PCBatchSize:                  1000,
		Max3PCBatchWait:                  3 * time.Second,
		Max3PCBatchesInFlight:            3,
		StateFreshnessInterval:           300 * time.Second,
		AcceptableDeviationSecs:          600 * time.Second,
		PropagatesPhaseTimeout:           36000 * time.Second,
		OrderingPhaseTimeout:             72000 * time.Second,
		ProcessStashedOOOCommits:         1 * time.Second,
		ReplicaStashLimit:                100000,
		ViewChangeStashLimit:             1000,
		ViewChangeWindowSize:             60 * time.Second,
		TolerancePrimaryDisconnection:    60 * time.Second,
		NewViewTimeout:                   30 * time.Second,
		InitialProposeViewChangeTimeout:  60 * time.Second,
		CatchupTransactionsTimeout:       60 * time.Second,
		ConsistencyProofsTimeout:         60 * time.Second,
		PerfCheckFreq:                    300 * time.Second,
		Delta:                            0.1,
		Lambda:                           240 * time.Second,
		FreshnessEnabled:                 true,
	}
}

// Local returns a fast-iterating development preset.
func Local() Parameters {
	p := Mainnet()
	p.CheckpointFreq = 5
	p.Max3PCBatchSize = 10
	p.Max3PCBatchWait = 200 * time.Millisecond
	p.StateFreshnessInterval = 5 * time.Second
	p.AcceptableDeviationSecs = 10 * time.Second
	p.PropagatesPhaseTimeout = 30 * time.Second
	p.OrderingPhaseTimeout = 60 * time.Second
	p.ViewChangeWindowSize = 5 * time.Second
	p.TolerancePrimaryDisconnection = 2 * time.Second
	p.NewViewTimeout = 3 * time.Second
	p.InitialProposeViewChangeTimeout = 3 * time.Second
	p.PerfCheckFreq = 5 * time.Second
	p.Lambda = 2 * time.Second
	return p
}

// ApplyPoolSize sets N and derives LogSize; use quorum.Derive for the
// derived F/Weak/Strong thresholds rather than storing them redundantly.
func (p Parameters) ApplyPoolSize(n int) Parameters {
	p.N = n
	p.LogSize = 3 * p.CheckpointFreq
	return p
}

// Validate checks the parameters the core actually consumes for
// internal consistency, per spec 4.4-4.8.
func (p Parameters) Validate() error {
	if p.N < 1 {
		return ErrPoolTooSmall
	}
	if p.CheckpointFreq < 1 {
		return ErrInvalidCheckpoint
	}
	if p.Max3PCBatchSize < 1 {
		return ErrInvalidBatchSize
	}
	if p.Max3PCBatchWait <= 0 {
		return ErrInvalidBatchWait
	}
	if p.Max3PCBatchesInFlight < 1 {
		return ErrInvalidInFlight
	}
	if p.ReplicaStashLimit < 1 || p.ViewChangeStashLimit < 1 {
		return ErrInvalidStashLimit
	}
	if p.AcceptableDeviationSecs < 0 {
		return ErrInvalidDeviation
	}
	if p.Delta <= 0 || p.Delta > 1 || p.Lambda < 0 {
		return ErrInvalidDeltaLambda
	}
	return nil
}
