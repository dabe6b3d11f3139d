// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package plog is the logging façade every component in this module
// accepts at construction. It is a thin wrapper over the teacher's
// github.com/luxfi/log.Logger interface (see log/noop.go in the
// teacher corpus) so components never reach for a global logger or
// fmt.Println.
package plog

import "github.com/luxfi/log"

// Logger is re-exported so callers only import plog, not luxfi/log
// directly.
type Logger = log.Logger

// NoOp returns a logger that discards everything, for tests and
// components that have not been wired to a real sink yet.
func NoOp() Logger {
	return log.NewNoOpLogger()
}

// OrNoOp returns l, or a no-op logger if l is nil, so components can
// be constructed without a logger in tests without guarding every call
// site.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOp()
	}
	return l
}
