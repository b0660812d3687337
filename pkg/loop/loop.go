// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package loop runs the tag's cooperative main loop.
//
// Everything that touches bus state runs on the loop goroutine. Producers
// on other goroutines (link readers, timers) only Post work items, which
// never blocks.
package loop

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/tagbus/pkg/endpoint"
)

// Work is a deferred unit of main-loop work.
type Work func()

// Defaults
const (
	DefaultQueueSize     = 64
	DefaultDrainInterval = 50 * time.Millisecond
)

// Loop executes posted work one item at a time.
type Loop struct {
	work          chan Work
	idle          []func()
	drainInterval time.Duration
	logger        *zap.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithQueueSize sets the number of work items that can be pending.
func WithQueueSize(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.work = make(chan Work, n)
		}
	}
}

// WithDrainInterval sets how often idle hooks run when no work arrives.
func WithDrainInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.drainInterval = d
		}
	}
}

// WithLogger sets the loop's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// New creates a loop.
func New(opts ...Option) *Loop {
	l := &Loop{
		work:          make(chan Work, DefaultQueueSize),
		drainInterval: DefaultDrainInterval,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OnIdle registers fn to run after every work item and on every drain tick.
// Register hooks before Run.
func (l *Loop) OnIdle(fn func()) {
	l.idle = append(l.idle, fn)
}

// Post queues w without blocking. Returns ErrNoCapacity when the queue is
// full.
func (l *Loop) Post(w Work) error {
	select {
	case l.work <- w:
		return nil
	default:
		return fmt.Errorf("main loop queue full: %w", endpoint.ErrNoCapacity)
	}
}

// Do posts fn and waits for it to run on the loop goroutine, returning its
// error. Must not be called from the loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	if err := l.Post(func() { done <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes work until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.drainInterval)
	defer ticker.Stop()

	l.logger.Debug("Main loop started",
		zap.Int("queue_size", cap(l.work)),
		zap.Duration("drain_interval", l.drainInterval))

	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("Main loop stopped")
			return ctx.Err()
		case w := <-l.work:
			w()
			l.runIdle()
		case <-ticker.C:
			l.runIdle()
		}
	}
}

func (l *Loop) runIdle() {
	for _, fn := range l.idle {
		fn()
	}
}
