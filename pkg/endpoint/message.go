// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package endpoint

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Message is the fixed-size record exchanged between endpoints. The payload
// is always PayloadSize bytes; Type says how to read it.
type Message struct {
	Destination Endpoint
	Source      Endpoint
	Type        Type
	Payload     [PayloadSize]byte
}

// Encode returns the 11-byte wire form: destination, source, type, payload.
func (m Message) Encode() []byte {
	return m.AppendEncode(make([]byte, 0, MessageSize))
}

// AppendEncode appends the wire form of m to b.
func (m Message) AppendEncode(b []byte) []byte {
	b = append(b, byte(m.Destination), byte(m.Source), byte(m.Type))
	return append(b, m.Payload[:]...)
}

// DecodeMessage parses the 11-byte wire form.
func DecodeMessage(data []byte) (Message, error) {
	if len(data) != MessageSize {
		return Message{}, fmt.Errorf("message length %d (want %d): %w", len(data), MessageSize, ErrInvalidParam)
	}
	m := Message{
		Destination: Endpoint(data[0]),
		Source:      Endpoint(data[1]),
		Type:        Type(data[2]),
	}
	copy(m.Payload[:], data[3:])
	return m, nil
}

// Reply returns a message addressed back to m's source, from m's
// destination, carrying m's payload with the given type.
func (m Message) Reply(t Type) Message {
	return Message{
		Destination: m.Source,
		Source:      m.Destination,
		Type:        t,
		Payload:     m.Payload,
	}
}

// Config reads the payload as a configuration record.
func (m Message) Config() Config {
	return DecodeConfig(m.Payload)
}

// SampleSlots is the number of values a chain channel tracks per message.
const SampleSlots = 4

// Samples decodes up to SampleSlots numeric values from the payload.
// Returns the number of meaningful slots.
func (m Message) Samples() ([SampleSlots]float64, int, error) {
	var out [SampleSlots]float64
	p := m.Payload[:]
	switch m.Type {
	case TypeInt8:
		for i := range out {
			out[i] = float64(int8(p[i]))
		}
		return out, SampleSlots, nil
	case TypeUint8:
		for i := range out {
			out[i] = float64(p[i])
		}
		return out, SampleSlots, nil
	case TypeInt16:
		for i := range out {
			out[i] = float64(int16(binary.LittleEndian.Uint16(p[i*2:])))
		}
		return out, SampleSlots, nil
	case TypeUint16:
		for i := range out {
			out[i] = float64(binary.LittleEndian.Uint16(p[i*2:]))
		}
		return out, SampleSlots, nil
	case TypeInt32:
		out[0] = float64(int32(binary.LittleEndian.Uint32(p[0:])))
		out[1] = float64(int32(binary.LittleEndian.Uint32(p[4:])))
		return out, 2, nil
	case TypeUint32:
		out[0] = float64(binary.LittleEndian.Uint32(p[0:]))
		out[1] = float64(binary.LittleEndian.Uint32(p[4:]))
		return out, 2, nil
	}
	return out, 0, fmt.Errorf("type 0x%02X is not numeric: %w", uint8(m.Type), ErrInvalidType)
}

// PackSamples writes values into a payload of numeric type t, rounding and
// saturating to the type's range.
func PackSamples(t Type, values [SampleSlots]float64) ([PayloadSize]byte, error) {
	var p [PayloadSize]byte
	switch t {
	case TypeInt8:
		for i, v := range values {
			p[i] = byte(int8(saturate(v, math.MinInt8, math.MaxInt8)))
		}
	case TypeUint8:
		for i, v := range values {
			p[i] = uint8(saturate(v, 0, math.MaxUint8))
		}
	case TypeInt16:
		for i, v := range values {
			binary.LittleEndian.PutUint16(p[i*2:], uint16(int16(saturate(v, math.MinInt16, math.MaxInt16))))
		}
	case TypeUint16:
		for i, v := range values {
			binary.LittleEndian.PutUint16(p[i*2:], uint16(saturate(v, 0, math.MaxUint16)))
		}
	case TypeInt32:
		binary.LittleEndian.PutUint32(p[0:], uint32(int32(saturate(values[0], math.MinInt32, math.MaxInt32))))
		binary.LittleEndian.PutUint32(p[4:], uint32(int32(saturate(values[1], math.MinInt32, math.MaxInt32))))
	case TypeUint32:
		binary.LittleEndian.PutUint32(p[0:], uint32(saturate(values[0], 0, math.MaxUint32)))
		binary.LittleEndian.PutUint32(p[4:], uint32(saturate(values[1], 0, math.MaxUint32)))
	default:
		return p, fmt.Errorf("type 0x%02X is not numeric: %w", uint8(t), ErrInvalidType)
	}
	return p, nil
}

func saturate(v, lo, hi float64) int64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return int64(v)
}
