// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package endpoint

import "encoding/binary"

// Message builder functions create requests ready for routing or encoding.
// They fix the payload layout for each request type so callers do not have
// to remember which byte means what.

// NewChainConfigWrite creates a CHAIN_CONFIG_WRITE request (0x10) that
// configures a chain channel locally: target set, DSP and transmission rate.
func NewChainConfigWrite(from Endpoint, channel int, cfg Config) Message {
	return Message{
		Destination: ChainEndpoint(channel),
		Source:      from,
		Type:        TypeChainConfigWrite,
		Payload:     cfg.Encode(),
	}
}

// NewChainConfigRead creates a CHAIN_CONFIG_READ request (0x11).
func NewChainConfigRead(from Endpoint, channel int) Message {
	return Message{
		Destination: ChainEndpoint(channel),
		Source:      from,
		Type:        TypeChainConfigRead,
		Payload:     NoChange.Encode(),
	}
}

// NewChainUpstreamWrite creates a CHAIN_UPSTREAM_WRITE request (0x12).
// The channel forwards cfg to upstream as a downstream configuration so the
// upstream sensor starts reporting into the channel. The upstream address
// travels in the record's reserved byte.
func NewChainUpstreamWrite(from Endpoint, channel int, upstream Endpoint, cfg Config) Message {
	cfg.Reserved = uint8(upstream)
	return Message{
		Destination: ChainEndpoint(channel),
		Source:      from,
		Type:        TypeChainUpstreamWrite,
		Payload:     cfg.Encode(),
	}
}

// NewChainDownstream creates the CHAIN_DOWNSTREAM configuration (0x13) a
// chain channel sends to its upstream sensor.
func NewChainDownstream(channel Endpoint, upstream Endpoint, cfg Config) Message {
	cfg.Reserved = ValueNoChange
	return Message{
		Destination: upstream,
		Source:      channel,
		Type:        TypeChainDownstream,
		Payload:     cfg.Encode(),
	}
}

// NewSensorConfigWrite creates a SENSOR_CONFIG_WRITE request (0x01).
func NewSensorConfigWrite(from, sensor Endpoint, cfg Config) Message {
	return Message{
		Destination: sensor,
		Source:      from,
		Type:        TypeSensorConfigWrite,
		Payload:     cfg.Encode(),
	}
}

// NewSensorConfigRead creates a SENSOR_CONFIG_READ request (0x02).
func NewSensorConfigRead(from, sensor Endpoint) Message {
	return Message{
		Destination: sensor,
		Source:      from,
		Type:        TypeSensorConfigRead,
		Payload:     NoChange.Encode(),
	}
}

// NewLogRead creates a LOG_READ request (0x14). The reply arrives as a bulk
// transfer addressed to the channel's endpoint.
func NewLogRead(from Endpoint, channel int) Message {
	return Message{
		Destination: ChainEndpoint(channel),
		Source:      from,
		Type:        TypeLogRead,
	}
}

// NewInt16 creates an INT16 data message carrying four samples.
func NewInt16(to, from Endpoint, values [SampleSlots]int16) Message {
	m := Message{Destination: to, Source: from, Type: TypeInt16}
	for i, v := range values {
		binary.LittleEndian.PutUint16(m.Payload[i*2:], uint16(v))
	}
	return m
}

// Int16s decodes an INT16 payload. Only meaningful when Type is TypeInt16.
func (m Message) Int16s() [SampleSlots]int16 {
	var out [SampleSlots]int16
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(m.Payload[i*2:]))
	}
	return out
}

// NewError creates an ERROR reply to m carrying the status of err.
func NewError(m Message, err error) Message {
	r := m.Reply(TypeError)
	r.Payload = [PayloadSize]byte{}
	binary.LittleEndian.PutUint32(r.Payload[:], uint32(StatusOf(err)))
	return r
}

// Status decodes the status carried by an ERROR message.
func (m Message) Status() Status {
	return Status(binary.LittleEndian.Uint32(m.Payload[:]))
}
