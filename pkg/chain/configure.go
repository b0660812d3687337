// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package chain

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Thermoquad/tagbus/pkg/dsp"
	"github.com/Thermoquad/tagbus/pkg/endpoint"
)

// ConfigureUpstream binds channel index to upstream and sends it a
// CHAIN_DOWNSTREAM configuration carrying cfg, asking it to report into the
// channel. Any acknowledgement arrives later through Handle.
func (m *Manager) ConfigureUpstream(index int, upstream endpoint.Endpoint, cfg endpoint.Config) error {
	c, err := m.channel(index)
	if err != nil {
		return err
	}
	if upstream == endpoint.EndpointNone || upstream == c.addr {
		return fmt.Errorf("channel %d upstream %s: %w", index, endpoint.FormatEndpoint(upstream), endpoint.ErrInvalidParam)
	}

	c.upstream = upstream
	m.logger.Info("Upstream configured",
		zap.Int("channel", index),
		zap.String("upstream", endpoint.FormatEndpoint(upstream)),
		zap.String("sample_rate", endpoint.FormatRate(cfg.SampleRate)))

	errs := []error{m.router.Route(endpoint.NewChainDownstream(c.addr, upstream, cfg))}
	errs = append(errs, m.persist(c))
	return endpoint.Combine(errs...)
}

// ConfigureDownstream applies the channel-local parts of cfg: target set,
// DSP selection and transmission rate. Fields set to 255 are left alone.
// Every field is applied independently and the statuses are OR-combined.
func (m *Manager) ConfigureDownstream(index int, cfg endpoint.Config) error {
	c, err := m.channel(index)
	if err != nil {
		return err
	}

	var errs []error
	if cfg.Target != endpoint.TargetNoChange {
		errs = append(errs, m.applyTarget(c, cfg.Target))
	}
	errs = append(errs, m.applyDSP(c, cfg.DSPFunction, cfg.DSPParameter))
	if cfg.TransmissionRate != endpoint.RateNoChange {
		errs = append(errs, m.applyRate(c, cfg.TransmissionRate))
	}

	// Forwarded to the upstream on the next ConfigureUpstream
	if cfg.SampleRate != endpoint.ValueNoChange {
		c.config.SampleRate = cfg.SampleRate
	}
	if cfg.Resolution != endpoint.ValueNoChange {
		c.config.Resolution = cfg.Resolution
	}
	if cfg.Scale != endpoint.ValueNoChange {
		c.config.Scale = cfg.Scale
	}

	errs = append(errs, m.persist(c))
	err = endpoint.Combine(errs...)
	if err != nil {
		m.logger.Warn("Channel partially configured", zap.Int("channel", index), zap.Error(err))
	} else {
		m.logger.Info("Channel configured",
			zap.Int("channel", index),
			zap.String("target", endpoint.FormatTarget(c.config.Target)),
			zap.Stringer("dsp", dsp.Function(c.config.DSPFunction)),
			zap.String("rate", endpoint.FormatRate(c.config.TransmissionRate)))
	}
	return err
}

// applyTarget replaces the target set. Bits without a sink are dropped and
// reported as not supported.
func (m *Manager) applyTarget(c *channel, target endpoint.Target) error {
	var missing endpoint.Target
	for i, bit := range endpoint.AllTargets {
		if target.Has(bit) && m.sinks[i] == nil {
			missing |= bit
		}
	}
	c.config.Target = target &^ missing
	if missing != 0 {
		return fmt.Errorf("targets %s: %w", endpoint.FormatTarget(missing), endpoint.ErrNotSupported)
	}
	return nil
}

// applyDSP rebuilds the four filters when the function or its window
// changes. A slot whose filter cannot be built keeps its previous filter;
// the others are still rebuilt.
func (m *Manager) applyDSP(c *channel, function, parameter uint8) error {
	fn, param := c.config.DSPFunction, c.config.DSPParameter
	if function != endpoint.ValueNoChange {
		fn = function
	}
	if parameter != endpoint.ValueNoChange {
		param = parameter
	}
	if fn == c.config.DSPFunction && param == c.config.DSPParameter {
		return nil
	}

	var errs []error
	for slot := range c.filters {
		f, err := dsp.New(dsp.Function(fn), param)
		if err != nil {
			errs = append(errs, fmt.Errorf("slot %d: %w", slot, err))
			continue
		}
		c.filters[slot] = f
	}
	if len(errs) == 0 {
		c.config.DSPFunction = fn
		c.config.DSPParameter = param
	}
	return endpoint.Combine(errs...)
}

// applyRate validates the rate, stops the running timer and arms the new
// mode.
func (m *Manager) applyRate(c *channel, rate uint8) error {
	periodic := rate != endpoint.RateStop && rate != endpoint.RateOnSample && rate != endpoint.RateSingle
	if periodic {
		if _, err := endpoint.RateInterval(rate); err != nil {
			return err
		}
		if m.newTimer == nil {
			return fmt.Errorf("periodic rate without timers: %w", endpoint.ErrNotSupported)
		}
	}

	if c.timer != nil {
		c.timer.Stop()
	}
	c.armed = false
	c.config.TransmissionRate = rate

	switch rate {
	case endpoint.RateStop:
		return m.clearUpstream(c)
	case endpoint.RateOnSample:
		return nil
	case endpoint.RateSingle:
		c.armed = true
		return nil
	}

	interval, _ := endpoint.RateInterval(rate)
	if c.timer == nil {
		index := c.index
		c.timer = m.newTimer(func() { m.emitLogged(index) })
	}
	c.timer.Start(interval)
	return nil
}

// clearUpstream asks the upstream to stop reporting and forgets it.
func (m *Manager) clearUpstream(c *channel) error {
	if c.upstream == endpoint.EndpointNone {
		return nil
	}
	stop := endpoint.NoChange
	stop.SampleRate = endpoint.RateStop
	upstream := c.upstream
	c.upstream = endpoint.EndpointNone
	return m.router.Route(endpoint.NewChainDownstream(c.addr, upstream, stop))
}

// feedChain configures a channel that another channel selected as its
// upstream: it emits at the requested sample rate into the chain target.
func (m *Manager) feedChain(index int, cfg endpoint.Config) error {
	c := m.channels[index]
	update := endpoint.NoChange
	update.TransmissionRate = cfg.SampleRate
	update.Target = c.config.Target | endpoint.TargetChain
	if cfg.SampleRate == endpoint.RateStop {
		update.Target = c.config.Target &^ endpoint.TargetChain
	}
	return m.ConfigureDownstream(index, update)
}
