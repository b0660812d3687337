// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/Thermoquad/tagbus/pkg/bulk"
	"github.com/Thermoquad/tagbus/pkg/endpoint"
)

// DefaultOutboxSize is the number of encoded frames a Link buffers.
const DefaultOutboxSize = 16

// Link sends bus frames to the host over an io.Writer. Send never blocks:
// frames go to a bounded outbox written by Run, and a full outbox reports
// endpoint.ErrBusy so the bulk queue retries on its next drain.
type Link struct {
	w       io.Writer
	outbox  chan []byte
	onReady func()
	logger  *zap.Logger

	mu  sync.Mutex
	err error
}

// Option configures a Link.
type Option func(*Link)

// WithOutboxSize sets how many frames may wait for the writer.
func WithOutboxSize(n int) Option {
	return func(l *Link) {
		if n > 0 {
			l.outbox = make(chan []byte, n)
		}
	}
}

// WithReadyHook sets a function called after each frame is written. It runs
// on the writer goroutine and must not block.
func WithReadyHook(fn func()) Option {
	return func(l *Link) {
		l.onReady = fn
	}
}

// WithLogger sets the link's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Link) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLink creates a link writing to w.
func NewLink(w io.Writer, opts ...Option) *Link {
	l := &Link{
		w:      w,
		outbox: make(chan []byte, DefaultOutboxSize),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Send frames data and queues it for the writer.
func (l *Link) Send(kind bulk.Kind, data []byte) error {
	if err := l.Err(); err != nil {
		return err
	}
	frame, err := Encode(kind, data)
	if err != nil {
		return err
	}
	select {
	case l.outbox <- frame:
		return nil
	default:
		return fmt.Errorf("link outbox full: %w", endpoint.ErrBusy)
	}
}

// SendMessage queues one bus message as a record frame.
func (l *Link) SendMessage(m endpoint.Message) error {
	return l.Send(bulk.KindRecord, m.Encode())
}

// Run writes queued frames until ctx is done or a write fails. A write
// failure is sticky: later Sends return it.
func (l *Link) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-l.outbox:
			if _, err := l.w.Write(frame); err != nil {
				err = fmt.Errorf("link write: %w", err)
				l.mu.Lock()
				l.err = err
				l.mu.Unlock()
				l.logger.Error("link write failed", zap.Error(err))
				return err
			}
			if l.onReady != nil {
				l.onReady()
			}
		}
	}
}

// Err returns the write error that stopped Run, if any.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Pending returns the number of frames waiting for the writer.
func (l *Link) Pending() int {
	return len(l.outbox)
}

// ReadFrames decodes frames from r until it fails or ctx is done, calling
// fn for each frame and decode error. io.EOF ends it with a nil error.
func ReadFrames(ctx context.Context, r io.Reader, fn func(*Frame, error)) error {
	decoder := NewDecoder()
	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n], fn)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
	}
}
