// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ringbuffer provides a fixed-capacity circular store with FIFO and
// LIFO pop and indexed peek.
//
// A Ring is owned by a single goroutine (the tag's main loop) and does no
// locking of its own.
package ringbuffer

import (
	"fmt"

	"github.com/Thermoquad/tagbus/pkg/endpoint"
)

// OverflowPolicy decides which element a Push into a full ring evicts.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest element (default).
	DropOldest OverflowPolicy = iota
	// DropNewest evicts the most recently pushed element.
	DropNewest
)

// String returns the policy name
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// DropCallback receives every element evicted by an overflowing Push.
type DropCallback[T any] func(T)

// Option configures a Ring.
type Option[T any] func(*options[T])

type options[T any] struct {
	policy OverflowPolicy
	onDrop DropCallback[T]
}

// WithOverflowPolicy sets the overflow behaviour. Defaults to DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *options[T]) {
		o.policy = policy
	}
}

// WithDropCallback registers a callback for evicted elements.
func WithDropCallback[T any](fn DropCallback[T]) Option[T] {
	return func(o *options[T]) {
		o.onDrop = fn
	}
}

// Ring is a fixed-capacity circular buffer.
type Ring[T any] struct {
	items []T
	head  int // next write position
	size  int
	opts  options[T]
}

// New creates a ring holding up to capacity elements.
func New[T any](capacity int, opts ...Option[T]) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring capacity %d: %w", capacity, endpoint.ErrInvalidParam)
	}
	r := &Ring[T]{
		items: make([]T, capacity),
		opts:  options[T]{policy: DropOldest},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&r.opts)
		}
	}
	return r, nil
}

// Push stores v, evicting an element according to the overflow policy when
// the ring is full. Reports whether an element was evicted.
func (r *Ring[T]) Push(v T) bool {
	dropped := false
	if r.size == len(r.items) {
		var evicted T
		switch r.opts.policy {
		case DropNewest:
			evicted, _ = r.PopLIFO()
		default:
			evicted, _ = r.PopFIFO()
		}
		if r.opts.onDrop != nil {
			r.opts.onDrop(evicted)
		}
		dropped = true
	}
	r.items[r.head] = v
	r.head = (r.head + 1) % len(r.items)
	r.size++
	return dropped
}

// PopFIFO removes and returns the oldest element.
func (r *Ring[T]) PopFIFO() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	i := r.tail()
	v := r.items[i]
	r.items[i] = zero
	r.size--
	return v, true
}

// PopLIFO removes and returns the newest element.
func (r *Ring[T]) PopLIFO() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	r.head = (r.head - 1 + len(r.items)) % len(r.items)
	v := r.items[r.head]
	r.items[r.head] = zero
	r.size--
	return v, true
}

// Peek returns the element at index i without removing it; 0 is the oldest.
func (r *Ring[T]) Peek(i int) (T, bool) {
	var zero T
	if i < 0 || i >= r.size {
		return zero, false
	}
	return r.items[(r.tail()+i)%len(r.items)], true
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.items) }

// Full reports whether the next Push evicts an element.
func (r *Ring[T]) Full() bool { return r.size == len(r.items) }

// Clear drops every element without invoking the drop callback.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}

// Values returns a copy of the stored elements, oldest first.
func (r *Ring[T]) Values() []T {
	out := make([]T, r.size)
	for i := range out {
		out[i] = r.items[(r.tail()+i)%len(r.items)]
	}
	return out
}

func (r *Ring[T]) tail() int {
	return (r.head - r.size + len(r.items)) % len(r.items)
}
