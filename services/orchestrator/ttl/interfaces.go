// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package ttl runs the periodic maintenance sweeps that bound session memory.
//
// Two sweeps run independently on the same interval:
//
//   - The prefix sweep clears the history of every session whose id starts
//     with the gateway prefix, unconditionally. Gateway-originated messages
//     are independent inbound events and must not accumulate context.
//   - The inactivity sweep clears the history of every session idle for
//     longer than the threshold.
//
// Both sweeps keep session metadata.
package ttl

import (
	"context"
	"time"
)

// Sweep names, used as the metrics label and in logs.
const (
	SweepPrefix     = "prefix"
	SweepInactivity = "inactivity"
)

// SessionSweeper is the part of the session store the sweeps need.
type SessionSweeper interface {
	ClearSessionMessagesByPrefix(prefix string) int
	ClearInactiveSessions(threshold time.Duration) int
}

// SweepObserver receives the outcome of every sweep run.
type SweepObserver func(sweep string, cleared int, elapsed time.Duration)

// Scheduler runs the sweeps in the background.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Scheduler interface {
	// Start launches one goroutine per enabled sweep. It returns an error if
	// the scheduler is already running.
	Start(ctx context.Context) error

	// Stop signals the goroutines and waits for them to exit. Safe to call
	// more than once.
	Stop() error

	// RunNow runs every enabled sweep once, synchronously.
	RunNow(ctx context.Context) SweepResult
}

// SweepResult summarizes one RunNow call.
type SweepResult struct {
	StartTime       time.Time
	EndTime         time.Time
	PrefixCleared   int
	InactiveCleared int
}

// Duration returns how long the run took.
func (r SweepResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Total returns the number of sessions cleared by both sweeps.
func (r SweepResult) Total() int {
	return r.PrefixCleared + r.InactiveCleared
}
