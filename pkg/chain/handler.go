// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package chain

import (
	"go.uber.org/zap"

	"github.com/Thermoquad/tagbus/pkg/endpoint"
)

// Handle dispatches a message addressed to any chain endpoint.
func (m *Manager) Handle(msg endpoint.Message) error {
	index, ok := msg.Destination.ChainIndex()
	if !ok {
		return endpoint.ErrInvalidEndpoint
	}
	c := m.channels[index]

	switch msg.Type {
	case endpoint.TypeChainConfigWrite:
		c.requester = msg.Source
		return m.acknowledge(c, msg, endpoint.TypeChainConfigWrite, m.ConfigureDownstream(index, msg.Config()))

	case endpoint.TypeChainUpstreamWrite:
		c.requester = msg.Source
		cfg := msg.Config()
		return m.acknowledge(c, msg, endpoint.TypeChainConfigWrite, m.ConfigureUpstream(index, endpoint.Endpoint(cfg.Reserved), cfg))

	case endpoint.TypeChainConfigRead:
		return m.acknowledge(c, msg, endpoint.TypeChainConfigWrite, nil)

	case endpoint.TypeChainDownstream:
		// Another channel wants this one as its upstream. Answer the way a
		// sensor does so the requester does not treat the ack as a request.
		cfg := msg.Config()
		if _, ok := msg.Source.ChainIndex(); ok {
			c.downstream = msg.Source
			if cfg.SampleRate == endpoint.RateStop {
				c.downstream = endpoint.EndpointNone
			}
		}
		return m.acknowledge(c, msg, endpoint.TypeSensorConfigReply, m.feedChain(index, cfg))

	case endpoint.TypeLogRead:
		if err := m.LogRead(index, msg.Source); err != nil {
			return m.reply(endpoint.NewError(msg, err), err)
		}
		return nil

	case endpoint.TypeSensorConfigReply, endpoint.TypeUnknown, endpoint.TypeError:
		m.logger.Debug("Upstream reply",
			zap.Int("channel", index),
			zap.String("from", endpoint.FormatEndpoint(msg.Source)),
			zap.String("type", endpoint.FormatType(msg.Type)))
		return nil
	}

	if msg.Type.IsNumeric() {
		values, n, err := msg.Samples()
		if err != nil {
			return err
		}
		return m.Ingest(index, msg.Type, values, n)
	}

	err := endpoint.ErrInvalidType
	return m.reply(endpoint.NewError(msg, err), err)
}

// acknowledge answers a configuration request with the channel's current
// record, or with an ERROR message carrying the combined status.
func (m *Manager) acknowledge(c *channel, req endpoint.Message, ackType endpoint.Type, err error) error {
	if err != nil {
		return m.reply(endpoint.NewError(req, err), err)
	}
	ack := endpoint.Message{
		Destination: req.Source,
		Source:      c.addr,
		Type:        ackType,
		Payload:     c.record().Encode(),
	}
	return m.reply(ack, nil)
}

func (m *Manager) reply(msg endpoint.Message, err error) error {
	if rerr := m.router.Reply(msg); rerr != nil {
		m.logger.Debug("Reply failed",
			zap.String("destination", endpoint.FormatEndpoint(msg.Destination)),
			zap.Error(rerr))
	}
	return err
}

// record is the configuration as reported to requesters: the reserved byte
// carries the upstream binding.
func (c *channel) record() endpoint.Config {
	cfg := c.config
	cfg.Reserved = uint8(c.upstream)
	return cfg
}
