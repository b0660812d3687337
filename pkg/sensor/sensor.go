// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sensor exposes sensor drivers as bus endpoints.
//
// An Endpoint answers configuration and data requests and, once a chain
// channel sends it a downstream configuration, reports every sample taken
// on its own timer into that channel.
package sensor

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Thermoquad/tagbus/pkg/chain"
	"github.com/Thermoquad/tagbus/pkg/endpoint"
	"github.com/Thermoquad/tagbus/pkg/router"
)

// Driver is the hardware collaborator behind a sensor endpoint.
type Driver interface {
	// ReadSample returns the latest sample, up to four values.
	ReadSample() ([endpoint.SampleSlots]int16, error)
	// Configure applies resolution, scale and sample rate settings.
	Configure(cfg endpoint.Config) error
}

// Endpoint is the bus handler for one sensor.
type Endpoint struct {
	addr      endpoint.Endpoint
	driver    Driver
	router    *router.Router
	config    endpoint.Config
	chain     endpoint.Endpoint // channel fed by this sensor, EndpointNone when unbound
	requester endpoint.Endpoint
	newTimer  chain.TimerFactory
	timer     chain.Timer
	logger    *zap.Logger
}

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithTimers sets the factory for the sampling timer.
func WithTimers(f chain.TimerFactory) Option {
	return func(e *Endpoint) {
		e.newTimer = f
	}
}

// WithLogger sets the endpoint's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Endpoint) {
		e.logger = l
	}
}

// New creates the endpoint for driver at addr and registers it with r.
func New(r *router.Router, addr endpoint.Endpoint, driver Driver, opts ...Option) *Endpoint {
	e := &Endpoint{
		addr:   addr,
		driver: driver,
		router: r,
		config: endpoint.Config{DSPParameter: 1},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	r.Register(addr, e)
	return e
}

// Address returns the endpoint address.
func (e *Endpoint) Address() endpoint.Endpoint {
	return e.addr
}

// Config returns the current configuration record.
func (e *Endpoint) Config() endpoint.Config {
	return e.config
}

// Chain returns the channel the sensor reports into.
func (e *Endpoint) Chain() endpoint.Endpoint {
	return e.chain
}

// Handle implements router.Handler.
func (e *Endpoint) Handle(m endpoint.Message) error {
	switch m.Type {
	case endpoint.TypeSensorConfigWrite:
		e.requester = m.Source
		return e.acknowledge(m, e.apply(m.Config()))

	case endpoint.TypeSensorConfigRead:
		return e.acknowledge(m, nil)

	case endpoint.TypeChainDownstream:
		cfg := m.Config()
		if cfg.SampleRate == endpoint.RateStop {
			e.chain = endpoint.EndpointNone
		} else if m.Source.IsChain() {
			e.chain = m.Source
		}
		return e.acknowledge(m, e.apply(cfg))

	case endpoint.TypeSensorDataRead:
		sample, err := e.driver.ReadSample()
		if err != nil {
			err = endpoint.Combine(endpoint.ErrHandler, err)
			return e.reply(endpoint.NewError(m, err), err)
		}
		return e.reply(endpoint.NewInt16(m.Source, e.addr, sample), nil)

	case endpoint.TypeSensorConfigReply, endpoint.TypeUnknown, endpoint.TypeError:
		return nil
	}

	err := endpoint.ErrInvalidType
	return e.reply(endpoint.NewError(m, err), err)
}

// Close stops the sampling timer.
func (e *Endpoint) Close() {
	if e.timer != nil {
		e.timer.Stop()
	}
}

// Sample reads the driver once and reports the value into the bound chain
// channel, or to the last requester when no channel is bound.
func (e *Endpoint) Sample() error {
	sample, err := e.driver.ReadSample()
	if err != nil {
		return fmt.Errorf("%s read: %w", endpoint.FormatEndpoint(e.addr), err)
	}
	if e.chain != endpoint.EndpointNone {
		return e.router.Route(endpoint.NewInt16(e.chain, e.addr, sample))
	}
	if e.requester != endpoint.EndpointNone {
		return e.router.Reply(endpoint.NewInt16(e.requester, e.addr, sample))
	}
	return nil
}

// apply merges cfg into the current configuration, hands it to the driver
// and rearms sampling.
func (e *Endpoint) apply(cfg endpoint.Config) error {
	next := e.config.Merge(cfg)
	next.Reserved = 0

	var errs []error
	if err := e.driver.Configure(next); err != nil {
		errs = append(errs, err)
		next.Resolution, next.Scale = e.config.Resolution, e.config.Scale
	}
	if cfg.SampleRate != endpoint.ValueNoChange {
		if err := e.applyRate(cfg.SampleRate); err != nil {
			errs = append(errs, err)
			next.SampleRate = e.config.SampleRate
		}
	}
	e.config = next

	err := endpoint.Combine(errs...)
	if err != nil {
		e.logger.Warn("Sensor partially configured", zap.String("sensor", endpoint.FormatEndpoint(e.addr)), zap.Error(err))
	} else {
		e.logger.Info("Sensor configured",
			zap.String("sensor", endpoint.FormatEndpoint(e.addr)),
			zap.String("sample_rate", endpoint.FormatRate(e.config.SampleRate)),
			zap.String("chain", endpoint.FormatEndpoint(e.chain)))
	}
	return err
}

func (e *Endpoint) applyRate(rate uint8) error {
	switch rate {
	case endpoint.RateStop:
		if e.timer != nil {
			e.timer.Stop()
		}
		return nil
	case endpoint.RateSingle:
		if e.timer != nil {
			e.timer.Stop()
		}
		return e.Sample()
	}

	interval, err := endpoint.RateInterval(rate)
	if err != nil {
		return fmt.Errorf("sample rate %d: %w", rate, endpoint.ErrNotSupported)
	}
	if e.newTimer == nil {
		return fmt.Errorf("periodic sampling without timers: %w", endpoint.ErrNotSupported)
	}
	if e.timer == nil {
		e.timer = e.newTimer(func() {
			if err := e.Sample(); err != nil {
				e.logger.Warn("Sample failed", zap.String("sensor", endpoint.FormatEndpoint(e.addr)), zap.Error(err))
			}
		})
	}
	e.timer.Start(interval)
	return nil
}

func (e *Endpoint) acknowledge(req endpoint.Message, err error) error {
	if err != nil {
		return e.reply(endpoint.NewError(req, err), err)
	}
	ack := req.Reply(endpoint.TypeSensorConfigReply)
	ack.Payload = e.config.Encode()
	return e.reply(ack, nil)
}

func (e *Endpoint) reply(m endpoint.Message, err error) error {
	if rerr := e.router.Reply(m); rerr != nil {
		e.logger.Debug("Reply failed", zap.String("sensor", endpoint.FormatEndpoint(e.addr)), zap.Error(rerr))
	}
	return err
}
