// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package router dispatches bus messages to the handler registered for
// their destination endpoint.
package router

import (
	"go.uber.org/zap"

	"github.com/Thermoquad/tagbus/pkg/endpoint"
	"github.com/Thermoquad/tagbus/pkg/metrics"
)

// Handler consumes a message addressed to its endpoint. It may produce
// outbound messages as a side effect, typically through Router.Reply.
type Handler interface {
	Handle(m endpoint.Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(m endpoint.Message) error

// Handle calls f(m).
func (f HandlerFunc) Handle(m endpoint.Message) error {
	return f(m)
}

// Router owns the endpoint to handler table. It is used from the main loop
// only and does no locking.
type Router struct {
	handlers [256]Handler
	reply    Handler
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router's logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

// WithMetrics records routing results.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// New creates a router with no handlers.
func New(opts ...Option) *Router {
	r := &Router{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs h for e, replacing any previous handler. A nil handler
// removes the registration.
func (r *Router) Register(e endpoint.Endpoint, h Handler) {
	if r.handlers[e] != nil && h != nil {
		r.logger.Debug("Handler replaced", zap.String("endpoint", endpoint.FormatEndpoint(e)))
	}
	r.handlers[e] = h
}

// Registered reports whether a handler is installed for e.
func (r *Router) Registered(e endpoint.Endpoint) bool {
	return r.handlers[e] != nil
}

// SetReplyHandler installs the outbound path for replies whose destination
// has no local handler (the connected host, usually). It can be rebound at
// any time.
func (r *Router) SetReplyHandler(h Handler) {
	r.reply = h
}

// Route delivers m to the handler for m.Destination. Messages for an
// endpoint without a handler are echoed back to their source with type
// TypeUnknown.
func (r *Router) Route(m endpoint.Message) error {
	h := r.handlers[m.Destination]
	if h == nil {
		return r.unknown(m)
	}

	err := h.Handle(m)
	if err != nil {
		r.logger.Debug("Handler failed",
			zap.String("endpoint", endpoint.FormatEndpoint(m.Destination)),
			zap.String("type", endpoint.FormatType(m.Type)),
			zap.Error(err))
		r.metrics.RouterMessage(endpoint.StatusOf(err).Error())
		return err
	}
	r.metrics.RouterMessage("ok")
	return nil
}

// Reply delivers an outbound message: to the local handler for its
// destination when there is one, otherwise to the reply handler.
func (r *Router) Reply(m endpoint.Message) error {
	if h := r.handlers[m.Destination]; h != nil {
		return h.Handle(m)
	}
	if r.reply != nil {
		return r.reply.Handle(m)
	}
	r.logger.Warn("Reply dropped, no reply handler",
		zap.String("destination", endpoint.FormatEndpoint(m.Destination)),
		zap.String("type", endpoint.FormatType(m.Type)))
	return endpoint.ErrInvalidEndpoint
}

// unknown answers a message for an unregistered endpoint. It goes through
// Reply, never Route, so an unknown reply cannot bounce.
func (r *Router) unknown(m endpoint.Message) error {
	r.metrics.RouterUnknown()
	r.logger.Debug("Unknown endpoint",
		zap.String("destination", endpoint.FormatEndpoint(m.Destination)),
		zap.String("source", endpoint.FormatEndpoint(m.Source)))
	return r.Reply(m.Reply(endpoint.TypeUnknown))
}
