// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tag assembles a virtual sensor tag: main loop, router, bulk
// queues, sensors and chain channels, talking to a host over a
// bulk.Transport.
package tag

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Thermoquad/tagbus/pkg/bulk"
	"github.com/Thermoquad/tagbus/pkg/chain"
	"github.com/Thermoquad/tagbus/pkg/config"
	"github.com/Thermoquad/tagbus/pkg/endpoint"
	"github.com/Thermoquad/tagbus/pkg/loop"
	"github.com/Thermoquad/tagbus/pkg/metrics"
	"github.com/Thermoquad/tagbus/pkg/router"
	"github.com/Thermoquad/tagbus/pkg/sensor"
	"github.com/Thermoquad/tagbus/pkg/storage"
)

// Tag is one virtual sensor tag.
type Tag struct {
	cfg     *config.Config
	loop    *loop.Loop
	router  *router.Router
	queue   *bulk.Queue
	chains  *chain.Manager
	sensors []*sensor.Endpoint
	store   storage.Store
	flusher *loop.Timer
	logger  *zap.Logger
}

// hostSinks are the radio targets the simulator forwards over the host
// link. GATT notifications, advertisements, mesh, proprietary radio and NFC
// all reach the same host.
var hostSinks = []endpoint.Target{
	endpoint.TargetAdvertisement,
	endpoint.TargetGATT,
	endpoint.TargetMesh,
	endpoint.TargetProprietary,
	endpoint.TargetNFC,
}

type options struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	store   storage.Store
}

// Option configures a Tag.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records bus activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithStore overrides the store named by the storage config.
func WithStore(s storage.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// New builds a tag sending host-bound frames through transport. A nil cfg
// uses config.Default.
func New(cfg *config.Config, transport bulk.Transport, opts ...Option) (*Tag, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	store := o.store
	if store == nil {
		if cfg.Storage.Path != "" {
			fs, err := storage.OpenFile(cfg.Storage.Path)
			if err != nil {
				return nil, err
			}
			store = fs
		} else {
			store = storage.NewMemoryStore()
		}
	}

	t := &Tag{
		cfg:    cfg,
		store:  store,
		logger: o.logger,
		loop: loop.New(
			loop.WithQueueSize(cfg.Loop.QueueSize),
			loop.WithDrainInterval(cfg.Loop.DrainInterval),
			loop.WithLogger(o.logger.Named("loop")),
		),
		router: router.New(
			router.WithLogger(o.logger.Named("router")),
			router.WithMetrics(o.metrics),
		),
	}

	queue, err := bulk.NewQueue(transport,
		bulk.WithRecordCapacity(cfg.Bulk.FixedQueueSize),
		bulk.WithBulkCapacity(cfg.Bulk.BulkQueueSize),
		bulk.WithFramePayloadSize(cfg.Bulk.FramePayloadSize),
		bulk.WithLogger(o.logger.Named("bulk")),
		bulk.WithMetrics(o.metrics),
	)
	if err != nil {
		return nil, err
	}
	t.queue = queue

	// anything not addressed to a local endpoint goes to the host
	t.router.SetReplyHandler(router.HandlerFunc(queue.Enqueue))

	timers := func(fn func()) chain.Timer { return t.loop.NewTimer(fn) }

	drivers := []struct {
		addr   endpoint.Endpoint
		driver sensor.Driver
	}{
		{endpoint.EndpointAcceleration, sensor.NewAccelerometer()},
		{endpoint.EndpointTemperature, sensor.NewEnvironmental(sensor.Temperature)},
		{endpoint.EndpointHumidity, sensor.NewEnvironmental(sensor.Humidity)},
		{endpoint.EndpointPressure, sensor.NewEnvironmental(sensor.Pressure)},
	}
	for _, d := range drivers {
		t.sensors = append(t.sensors, sensor.New(t.router, d.addr, d.driver,
			sensor.WithTimers(timers),
			sensor.WithLogger(o.logger.Named("sensor").With(zap.String("endpoint", endpoint.FormatEndpoint(d.addr)))),
		))
	}

	chains, err := chain.New(t.router,
		chain.WithStore(store),
		chain.WithBulkQueue(queue),
		chain.WithTimers(timers),
		chain.WithRAMLogSize(cfg.Storage.RAMLogSize),
		chain.WithLogger(o.logger.Named("chain")),
		chain.WithMetrics(o.metrics),
	)
	if err != nil {
		return nil, err
	}
	for _, target := range hostSinks {
		chains.SetSink(target, chain.SinkFunc(queue.Enqueue))
	}
	t.chains = chains

	t.flusher = t.loop.NewTimer(t.flush)
	t.loop.OnIdle(t.drain)
	return t, nil
}

// flush writes buffered store records, if the store buffers them.
func (t *Tag) flush() {
	f, ok := t.store.(storage.Flusher)
	if !ok {
		return
	}
	if err := f.Flush(); err != nil {
		t.logger.Warn("Store flush failed", zap.Error(err))
	}
}

func (t *Tag) drain() {
	if err := t.queue.Drain(); err != nil && !endpoint.IsTransient(err) {
		t.logger.Warn("Drain failed", zap.Error(err))
	}
}

// Start restores persisted channels and applies the configured presets to
// channels that had nothing persisted. It runs on the main loop, so Run
// must be running or about to run.
func (t *Tag) Start(ctx context.Context) error {
	return t.loop.Do(ctx, t.setup)
}

func (t *Tag) setup() error {
	t.flusher.Start(t.cfg.Storage.FlushInterval)

	var errs []error
	if err := t.chains.Restore(); err != nil {
		errs = append(errs, fmt.Errorf("restore: %w", err))
	}

	for _, preset := range t.cfg.Channels {
		_, err := t.store.Get(chain.ConfigFile, uint16(preset.Channel), 256)
		if !errors.Is(err, storage.ErrNotFound) {
			continue
		}
		rec := preset.Record()
		if err := t.chains.SetRequester(preset.Channel, endpoint.EndpointHost); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := t.chains.ConfigureDownstream(preset.Channel, rec); err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", preset.Channel, err))
		}
		if up := endpoint.Endpoint(preset.Upstream); up != endpoint.EndpointNone {
			if err := t.chains.ConfigureUpstream(preset.Channel, up, rec); err != nil {
				errs = append(errs, fmt.Errorf("channel %d upstream: %w", preset.Channel, err))
			}
		}
		t.logger.Info("Channel preset applied",
			zap.Int("channel", preset.Channel),
			zap.String("upstream", endpoint.FormatEndpoint(endpoint.Endpoint(preset.Upstream))))
	}
	return errors.Join(errs...)
}

// Run executes the main loop until ctx is done.
func (t *Tag) Run(ctx context.Context) error {
	err := t.loop.Run(ctx)
	t.Close()
	return err
}

// Deliver hands a message from the host to the bus. It never blocks and may
// be called from any goroutine.
func (t *Tag) Deliver(m endpoint.Message) error {
	return t.loop.Post(func() {
		if err := t.router.Route(m); err != nil {
			t.logger.Debug("Host request failed",
				zap.String("type", endpoint.FormatType(m.Type)),
				zap.String("destination", endpoint.FormatEndpoint(m.Destination)),
				zap.Error(err))
		}
	})
}

// Do runs fn on the main loop and waits for it.
func (t *Tag) Do(ctx context.Context, fn func() error) error {
	return t.loop.Do(ctx, fn)
}

// Ready asks the loop to drain the queues, e.g. after the link accepted a
// frame. It never blocks.
func (t *Tag) Ready() {
	_ = t.loop.Post(func() {})
}

// Close stops every timer, writes pending store records and drops queued
// frames.
func (t *Tag) Close() {
	for _, s := range t.sensors {
		s.Close()
	}
	t.chains.Close()
	t.flusher.Stop()
	t.flush()
	t.queue.Purge()
}

// Router returns the tag's router.
func (t *Tag) Router() *router.Router { return t.router }

// Queue returns the tag's frame queue.
func (t *Tag) Queue() *bulk.Queue { return t.queue }

// Chains returns the chain channel manager.
func (t *Tag) Chains() *chain.Manager { return t.chains }

// Sensors returns the sensor endpoints.
func (t *Tag) Sensors() []*sensor.Endpoint { return t.sensors }
