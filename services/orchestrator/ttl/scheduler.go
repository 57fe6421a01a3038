// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ttl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Sweep Scheduler Implementation
// =============================================================================

const (
	// DefaultInterval is how often each sweep runs.
	DefaultInterval = 20 * time.Second

	// DefaultGatewayPrefix marks sessions created by the messaging gateway.
	DefaultGatewayPrefix = "gateway:"
)

// SchedulerConfig holds configuration for the sweep scheduler.
//
// # Fields
//
//   - Interval: How often each sweep runs. Default: 20s.
//   - GatewayPrefix: Session id prefix for the prefix sweep. Empty disables
//     the prefix sweep, since an empty prefix matches every session.
//   - InactivityThreshold: Idle time after which the inactivity sweep clears
//     a session. Default: Interval.
//   - DisableInactivity: Turns the inactivity sweep off.
//   - OnSweep: Optional observer, called after every sweep run.
type SchedulerConfig struct {
	Interval            time.Duration
	GatewayPrefix       string
	InactivityThreshold time.Duration
	DisableInactivity   bool
	OnSweep             SweepObserver
}

// DefaultSchedulerConfig returns the production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:            DefaultInterval,
		GatewayPrefix:       DefaultGatewayPrefix,
		InactivityThreshold: DefaultInterval,
	}
}

func applyConfigDefaults(cfg SchedulerConfig) SchedulerConfig {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.InactivityThreshold <= 0 {
		cfg.InactivityThreshold = cfg.Interval
	}
	return cfg
}

// sweepScheduler implements Scheduler.
//
// # Description
//
// Each enabled sweep gets its own goroutine with its own ticker, so a slow
// run of one never delays the other. Sweeps only call the store, which
// locks one session at a time, so no lock is held across the session table.
//
// # Thread Safety
//
// State transitions are guarded by mu.
type sweepScheduler struct {
	store   SessionSweeper
	config  SchedulerConfig
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler over store.
//
// # Examples
//
//	scheduler, err := ttl.NewScheduler(store, ttl.DefaultSchedulerConfig())
//	if err != nil {
//	    return err
//	}
//	if err := scheduler.Start(ctx); err != nil {
//	    return err
//	}
//	defer scheduler.Stop()
func NewScheduler(store SessionSweeper, config SchedulerConfig) (Scheduler, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	return &sweepScheduler{
		store:  store,
		config: applyConfigDefaults(config),
		done:   make(chan struct{}),
	}, nil
}

// Start implements Scheduler.
func (s *sweepScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})

	slog.Info("Session sweep scheduler starting",
		"interval", s.config.Interval.String(),
		"gateway_prefix", s.config.GatewayPrefix,
		"inactivity_threshold", s.config.InactivityThreshold.String(),
		"inactivity_enabled", !s.config.DisableInactivity,
	)

	for _, name := range s.enabledSweeps() {
		s.wg.Add(1)
		go s.runLoop(ctx, name, s.done)
	}
	return nil
}

// Stop implements Scheduler.
func (s *sweepScheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	slog.Info("Session sweep scheduler stopping")
	close(s.done)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// RunNow implements Scheduler.
func (s *sweepScheduler) RunNow(ctx context.Context) SweepResult {
	result := SweepResult{StartTime: time.Now()}
	for _, name := range s.enabledSweeps() {
		if ctx.Err() != nil {
			break
		}
		cleared := s.executeSweep(name)
		switch name {
		case SweepPrefix:
			result.PrefixCleared = cleared
		case SweepInactivity:
			result.InactiveCleared = cleared
		}
	}
	result.EndTime = time.Now()
	return result
}

// =============================================================================
// Internal Methods
// =============================================================================

func (s *sweepScheduler) enabledSweeps() []string {
	sweeps := make([]string, 0, 2)
	if s.config.GatewayPrefix != "" {
		sweeps = append(sweeps, SweepPrefix)
	}
	if !s.config.DisableInactivity {
		sweeps = append(sweeps, SweepInactivity)
	}
	return sweeps
}

// runLoop runs one sweep at the configured interval until stopped.
func (s *sweepScheduler) runLoop(ctx context.Context, name string, done <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Session sweep stopped (context cancelled)", "sweep", name)
			return
		case <-done:
			slog.Debug("Session sweep stopped (stop requested)", "sweep", name)
			return
		case <-ticker.C:
			s.executeSweep(name)
		}
	}
}

// executeSweep runs one sweep and reports it. A panic in the store is
// logged and swallowed so one bad run cannot kill the loop.
func (s *sweepScheduler) executeSweep(name string) (cleared int) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Session sweep panicked", "sweep", name, "panic", r)
			cleared = 0
		}
	}()

	switch name {
	case SweepPrefix:
		cleared = s.store.ClearSessionMessagesByPrefix(s.config.GatewayPrefix)
	case SweepInactivity:
		cleared = s.store.ClearInactiveSessions(s.config.InactivityThreshold)
	}
	elapsed := time.Since(start)

	if cleared > 0 {
		slog.Info("Session sweep completed", "sweep", name, "cleared", cleared, "duration_ms", elapsed.Milliseconds())
	} else {
		slog.Debug("Session sweep completed (nothing to clear)", "sweep", name)
	}
	if s.config.OnSweep != nil {
		s.config.OnSweep(name, cleared, elapsed)
	}
	return cleared
}
