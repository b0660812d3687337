// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package loop

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Timer posts its callback to the loop at a fixed interval. The callback
// always runs on the loop goroutine. Ticks posted before Stop or a restart
// are discarded when they reach the front of the queue.
type Timer struct {
	loop *Loop
	fn   func()

	mu         sync.Mutex
	stop       chan struct{}
	generation atomic.Uint64
}

// NewTimer creates a stopped timer running fn.
func (l *Loop) NewTimer(fn func()) *Timer {
	return &Timer{loop: l, fn: fn}
}

// Start (re)arms the timer. A running timer is stopped first.
func (t *Timer) Start(interval time.Duration) {
	t.Stop()

	t.mu.Lock()
	defer t.mu.Unlock()

	gen := t.generation.Load()
	stop := make(chan struct{})
	t.stop = stop
	go t.run(interval, gen, stop)
}

// Stop disarms the timer.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.generation.Add(1)
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

// Active reports whether the timer is armed.
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

func (t *Timer) run(interval time.Duration, gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			err := t.loop.Post(func() {
				if t.generation.Load() == gen {
					t.fn()
				}
			})
			if err != nil {
				t.loop.logger.Warn("Timer tick dropped", zap.Error(err))
			}
		}
	}
}
