// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package chain implements the tag's 16 configurable chain channels.
//
// A channel pulls samples from an upstream endpoint, runs each of the four
// payload slots through a DSP filter and fans the derived values out to the
// sinks in its target set, either on every sample, once, or on a timer.
// All methods run on the main loop.
package chain

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/tagbus/pkg/bulk"
	"github.com/Thermoquad/tagbus/pkg/dsp"
	"github.com/Thermoquad/tagbus/pkg/endpoint"
	"github.com/Thermoquad/tagbus/pkg/metrics"
	"github.com/Thermoquad/tagbus/pkg/ringbuffer"
	"github.com/Thermoquad/tagbus/pkg/router"
	"github.com/Thermoquad/tagbus/pkg/storage"
)

// Store file ids
const (
	ConfigFile uint16 = 0xC0 // one record per channel
	FlashFile  uint16 = 0xF1 // emitted messages, record id = channel<<8 | sequence
)

// DefaultRAMLogSize is the number of emitted messages each channel keeps.
const DefaultRAMLogSize = 32

// Timer is a periodic timer whose callback runs on the main loop.
type Timer interface {
	Start(interval time.Duration)
	Stop()
}

// TimerFactory creates a stopped timer running fn.
type TimerFactory func(fn func()) Timer

// Sink delivers an emitted message to one transmission target.
type Sink interface {
	Send(m endpoint.Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(m endpoint.Message) error

// Send calls f(m).
func (f SinkFunc) Send(m endpoint.Message) error {
	return f(m)
}

// BulkQueue accepts bulk transfers (a *bulk.Queue).
type BulkQueue interface {
	EnqueueBulk(ep endpoint.Endpoint, p *bulk.Payload) error
}

type channel struct {
	index     int
	addr      endpoint.Endpoint
	config    endpoint.Config
	upstream  endpoint.Endpoint
	requester endpoint.Endpoint
	// downstream is the channel that selected this one as its upstream.
	// Chain-target output goes there whoever configured the channel last.
	downstream endpoint.Endpoint
	filters    [endpoint.SampleSlots]dsp.Filter
	valueType  endpoint.Type
	timer      Timer
	armed      bool // single-shot emit pending
	log        *ringbuffer.Ring[endpoint.Message]
	flashSeq   uint8
}

// Manager owns the chain channels and answers messages addressed to them.
type Manager struct {
	router   *router.Router
	channels [endpoint.ChainChannels]*channel
	sinks    [len(endpoint.AllTargets)]Sink

	store      storage.Store
	bulk       BulkQueue
	newTimer   TimerFactory
	ramLogSize int
	restoring  bool

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore enables the flash sink and configuration persistence.
func WithStore(s storage.Store) Option {
	return func(m *Manager) {
		m.store = s
	}
}

// WithBulkQueue enables LOG_READ replies.
func WithBulkQueue(q BulkQueue) Option {
	return func(m *Manager) {
		m.bulk = q
	}
}

// WithTimers sets the factory for periodic transmission timers. Without
// one, periodic rates are rejected as not supported.
func WithTimers(f TimerFactory) Option {
	return func(m *Manager) {
		m.newTimer = f
	}
}

// WithRAMLogSize sets the per-channel RAM log depth.
func WithRAMLogSize(n int) Option {
	return func(m *Manager) {
		m.ramLogSize = n
	}
}

// WithLogger sets the manager's logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics records emits and sink failures.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// defaultConfig is the state of a channel that was never configured.
var defaultConfig = endpoint.Config{
	DSPFunction:  uint8(dsp.FunctionLast),
	DSPParameter: 1,
	Target:       endpoint.TargetStop,
}

// New creates the channels and registers them with r.
func New(r *router.Router, opts ...Option) (*Manager, error) {
	m := &Manager{
		router:     r,
		ramLogSize: DefaultRAMLogSize,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	for i := range m.channels {
		log, err := ringbuffer.New[endpoint.Message](m.ramLogSize)
		if err != nil {
			return nil, fmt.Errorf("channel %d log: %w", i, err)
		}
		c := &channel{
			index:      i,
			addr:       endpoint.ChainEndpoint(i),
			config:     defaultConfig,
			requester:  endpoint.EndpointNone,
			downstream: endpoint.EndpointNone,
			log:        log,
		}
		for slot := range c.filters {
			f, err := dsp.New(dsp.FunctionLast, defaultConfig.DSPParameter)
			if err != nil {
				return nil, err
			}
			c.filters[slot] = f
		}
		m.channels[i] = c
		r.Register(c.addr, m)
	}

	m.SetSink(endpoint.TargetRAM, SinkFunc(m.ramSink))
	m.SetSink(endpoint.TargetChain, SinkFunc(m.chainSink))
	if m.store != nil {
		m.SetSink(endpoint.TargetFlash, SinkFunc(m.flashSink))
	}
	return m, nil
}

// SetSink installs the send operation for one target bit. A nil sink
// removes it.
func (m *Manager) SetSink(target endpoint.Target, s Sink) {
	if i, ok := targetIndex(target); ok {
		m.sinks[i] = s
	}
}

// Close stops every channel timer.
func (m *Manager) Close() {
	for _, c := range m.channels {
		if c.timer != nil {
			c.timer.Stop()
		}
	}
}

// SetRequester sets the endpoint emitted messages are addressed to.
func (m *Manager) SetRequester(index int, requester endpoint.Endpoint) error {
	c, err := m.channel(index)
	if err != nil {
		return err
	}
	c.requester = requester
	return m.persist(c)
}

// State is a read-only view of one channel.
type State struct {
	Endpoint   endpoint.Endpoint
	Config     endpoint.Config
	Upstream   endpoint.Endpoint
	Requester  endpoint.Endpoint
	Downstream endpoint.Endpoint
	LogLength  int
}

// Channel returns the state of channel index.
func (m *Manager) Channel(index int) (State, error) {
	c, err := m.channel(index)
	if err != nil {
		return State{}, err
	}
	return State{
		Endpoint:   c.addr,
		Config:     c.config,
		Upstream:   c.upstream,
		Requester:  c.requester,
		Downstream: c.downstream,
		LogLength:  c.log.Len(),
	}, nil
}

func (m *Manager) channel(index int) (*channel, error) {
	if index < 0 || index >= len(m.channels) {
		return nil, fmt.Errorf("chain channel %d: %w", index, endpoint.ErrInvalidEndpoint)
	}
	return m.channels[index], nil
}

func targetIndex(target endpoint.Target) (int, bool) {
	for i, bit := range endpoint.AllTargets {
		if bit == target {
			return i, true
		}
	}
	return 0, false
}
