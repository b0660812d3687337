// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/tagbus/pkg/endpoint"
	"github.com/Thermoquad/tagbus/pkg/wire"
)

// ErrTimeout is returned when no matching frame arrives in time.
var ErrTimeout = errors.New("timeout")

// session is a request/response exchange with a tag over one connection.
type session struct {
	conn     Connection
	connInfo string
	link     *wire.Link
	frames   chan *wire.Frame
	readErr  chan error
	cancel   context.CancelFunc
}

func openSession(ctx context.Context) (*session, error) {
	conn, connInfo, err := OpenConnection(cfg.Link)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &session{
		conn:     conn,
		connInfo: connInfo,
		link:     wire.NewLink(conn, wire.WithOutboxSize(cfg.Link.OutboxSize), wire.WithLogger(logger.Named("link"))),
		frames:   make(chan *wire.Frame, 64),
		readErr:  make(chan error, 1),
		cancel:   cancel,
	}

	go func() { _ = s.link.Run(ctx) }()
	go func() {
		s.readErr <- wire.ReadFrames(ctx, conn, func(f *wire.Frame, err error) {
			if err != nil {
				logger.Debug("Decode error", zap.Error(err))
				return
			}
			select {
			case s.frames <- f:
			case <-ctx.Done():
			}
		})
	}()
	return s, nil
}

// send queues m, waiting briefly while the link is busy.
func (s *session) send(m endpoint.Message) error {
	for i := 0; ; i++ {
		err := s.link.SendMessage(m)
		if err == nil || !endpoint.IsTransient(err) || i == 50 {
			return err
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// await returns the first frame accepted by match. Frames that do not match
// are passed to skip when it is not nil.
func (s *session) await(timeout time.Duration, match func(*wire.Frame) bool, skip func(*wire.Frame)) (*wire.Frame, error) {
	deadline := time.After(timeout)
	for {
		select {
		case f := <-s.frames:
			if match(f) {
				return f, nil
			}
			if skip != nil {
				skip(f)
			}
		case err := <-s.readErr:
			if err == nil {
				err = ErrConnectionClosed
			}
			return nil, fmt.Errorf("read failed: %w", err)
		case <-deadline:
			return nil, ErrTimeout
		}
	}
}

// awaitReply waits for a message from from addressed to the host.
func (s *session) awaitReply(timeout time.Duration, from endpoint.Endpoint, types ...endpoint.Type) (endpoint.Message, error) {
	var reply endpoint.Message
	_, err := s.await(timeout, func(f *wire.Frame) bool {
		m, err := f.Message()
		if err != nil || m.Source != from || m.Destination != endpoint.EndpointHost {
			return false
		}
		for _, t := range types {
			if m.Type == t {
				reply = m
				return true
			}
		}
		return false
	}, nil)
	return reply, err
}

func (s *session) Close() {
	s.cancel()
	s.conn.Close()
}
