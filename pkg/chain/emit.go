// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package chain

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Thermoquad/tagbus/pkg/bulk"
	"github.com/Thermoquad/tagbus/pkg/endpoint"
)

// Ingest feeds up to n sample values of type t into the channel's filters.
// On-sample channels emit immediately; a single-shot channel emits once and
// disarms.
func (m *Manager) Ingest(index int, t endpoint.Type, values [endpoint.SampleSlots]float64, n int) error {
	c, err := m.channel(index)
	if err != nil {
		return err
	}
	if !t.IsNumeric() {
		return fmt.Errorf("ingest type 0x%02X: %w", uint8(t), endpoint.ErrInvalidType)
	}

	for slot := 0; slot < n && slot < len(c.filters); slot++ {
		c.filters[slot].Apply(values[slot])
	}
	c.valueType = t

	switch {
	case c.config.TransmissionRate == endpoint.RateOnSample:
		return m.Emit(index)
	case c.config.TransmissionRate == endpoint.RateSingle && c.armed:
		c.armed = false
		return m.Emit(index)
	}
	return nil
}

// Emit packs the filters' current values into a message from the channel
// to its last requester and sends it to every sink in the target set.
// A failing sink does not stop delivery to the others; all failures are
// OR-combined into the returned status.
func (m *Manager) Emit(index int) error {
	c, err := m.channel(index)
	if err != nil {
		return err
	}

	t := c.valueType
	if t == 0 {
		t = endpoint.TypeInt16
	}
	var values [endpoint.SampleSlots]float64
	for slot, f := range c.filters {
		values[slot] = f.Value()
	}
	payload, err := endpoint.PackSamples(t, values)
	if err != nil {
		return err
	}
	msg := endpoint.Message{
		Destination: c.requester,
		Source:      c.addr,
		Type:        t,
		Payload:     payload,
	}

	var errs []error
	for i, bit := range endpoint.AllTargets {
		if !c.config.Target.Has(bit) {
			continue
		}
		sink := m.sinks[i]
		if sink == nil {
			errs = append(errs, fmt.Errorf("target %s: %w", endpoint.FormatTarget(bit), endpoint.ErrNotSupported))
			continue
		}
		if err := sink.Send(msg); err != nil {
			m.metrics.ChainSinkError(endpoint.FormatTarget(bit))
			errs = append(errs, fmt.Errorf("target %s: %w", endpoint.FormatTarget(bit), err))
		}
	}
	m.metrics.ChainEmit(index)
	return endpoint.Combine(errs...)
}

func (m *Manager) emitLogged(index int) {
	if err := m.Emit(index); err != nil {
		m.logger.Warn("Emit failed", zap.Int("channel", index), zap.Error(err))
	}
}

// ramSink keeps the message in the emitting channel's RAM log.
func (m *Manager) ramSink(msg endpoint.Message) error {
	index, ok := msg.Source.ChainIndex()
	if !ok {
		return endpoint.ErrInvalidEndpoint
	}
	m.channels[index].log.Push(msg)
	return nil
}

// chainSink delivers the message to the channel fed by the emitter. A
// channel with no downstream binding sends to its requester.
func (m *Manager) chainSink(msg endpoint.Message) error {
	index, ok := msg.Source.ChainIndex()
	if !ok {
		return endpoint.ErrInvalidEndpoint
	}
	if d := m.channels[index].downstream; d != endpoint.EndpointNone {
		msg.Destination = d
	}
	return m.router.Reply(msg)
}

// flashSink appends the message to the store under a rolling record id.
func (m *Manager) flashSink(msg endpoint.Message) error {
	index, ok := msg.Source.ChainIndex()
	if !ok {
		return endpoint.ErrInvalidEndpoint
	}
	c := m.channels[index]
	id := uint16(index)<<8 | uint16(c.flashSeq)
	if err := m.store.Set(FlashFile, id, msg.Encode()); err != nil {
		return fmt.Errorf("flash record 0x%04X: %w", id, err)
	}
	c.flashSeq++
	return nil
}

// LogRead sends the channel's RAM log as one bulk transfer on the channel's
// endpoint: the encoded messages, oldest first. Bulk headers carry no
// destination, so to only addresses the LOG_READ record that answers an
// empty log.
func (m *Manager) LogRead(index int, to endpoint.Endpoint) error {
	c, err := m.channel(index)
	if err != nil {
		return err
	}
	if m.bulk == nil {
		return fmt.Errorf("log read without bulk transport: %w", endpoint.ErrNotSupported)
	}

	entries := c.log.Values()
	if len(entries) == 0 {
		return m.router.Reply(endpoint.Message{Destination: to, Source: c.addr, Type: endpoint.TypeLogRead})
	}

	data := make([]byte, 0, len(entries)*endpoint.MessageSize)
	for _, e := range entries {
		data = e.AppendEncode(data)
	}
	if err := m.bulk.EnqueueBulk(c.addr, bulk.NewPayload(data, nil)); err != nil {
		return err
	}
	m.logger.Debug("Log read queued",
		zap.Int("channel", index),
		zap.Int("entries", len(entries)),
		zap.String("requester", endpoint.FormatEndpoint(to)))
	return nil
}
