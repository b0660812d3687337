// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/tagbus/pkg/bulk"
	"github.com/Thermoquad/tagbus/pkg/endpoint"
)

// ErrCRCMismatch is wrapped by decode errors caused by a bad checksum.
var ErrCRCMismatch = errors.New("CRC mismatch")

// Frame is one decoded wire frame.
type Frame struct {
	Kind bulk.Kind
	Data []byte

	crc       uint16
	timestamp time.Time
}

// Timestamp returns when the frame's END byte was decoded.
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// CRC returns the checksum carried by the frame.
func (f *Frame) CRC() uint16 {
	return f.crc
}

// Message decodes a record frame into a bus message.
func (f *Frame) Message() (endpoint.Message, error) {
	if f.Kind != bulk.KindRecord {
		return endpoint.Message{}, fmt.Errorf("%s frame is not a message: %w", f.Kind, endpoint.ErrInvalidType)
	}
	return endpoint.DecodeMessage(f.Data)
}

// Decoder is a byte-at-a-time wire frame decoder.
type Decoder struct {
	state       int
	buffer      []byte
	bufferIndex int
	escapeNext  bool
	frame       *Frame
	rawBuffer   []byte
}

// NewDecoder creates a decoder waiting for a START byte.
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, MaxFrameSize),
		rawBuffer: make([]byte, 0, MaxFrameSize*2),
	}
}

// Reset drops any partial frame.
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.bufferIndex = 0
	d.escapeNext = false
	d.frame = nil
	d.rawBuffer = d.rawBuffer[:0]
}

// RawBytes returns the bytes received since the last START.
func (d *Decoder) RawBytes() []byte {
	return d.rawBuffer
}

// DecodeByte feeds one byte. It returns a frame when b completes one, and
// an error when b ends a malformed frame. Both are nil otherwise.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	d.rawBuffer = append(d.rawBuffer, b)

	if d.escapeNext {
		b ^= EscXor
		d.escapeNext = false
	} else {
		switch b {
		case EscByte:
			d.escapeNext = true
			return nil, nil
		case StartByte:
			d.Reset()
			d.rawBuffer = append(d.rawBuffer, b)
			d.state = stateKind
			return nil, nil
		case EndByte:
			return d.finish()
		}
	}

	switch d.state {
	case stateIdle:
		return nil, nil

	case stateKind:
		d.frame = &Frame{Kind: bulk.Kind(b)}
		d.push(b)
		d.state = stateLength
		return nil, nil

	case stateLength:
		d.frame.Data = make([]byte, 0, b)
		d.push(b)
		if b == 0 {
			d.state = stateCRC1
		} else {
			d.state = stateData
		}
		return nil, nil

	case stateData:
		if d.bufferIndex >= MaxFrameSize-2 {
			d.Reset()
			return nil, fmt.Errorf("buffer overflow: frame exceeds max size")
		}
		d.frame.Data = append(d.frame.Data, b)
		d.push(b)
		if len(d.frame.Data) == cap(d.frame.Data) {
			d.state = stateCRC1
		}
		return nil, nil

	case stateCRC1:
		d.frame.crc = uint16(b) << 8
		d.state = stateCRC2
		return nil, nil

	case stateCRC2:
		d.frame.crc |= uint16(b)
		d.state = stateEnd
		return nil, nil

	case stateEnd:
		d.Reset()
		return nil, fmt.Errorf("expected END byte, got 0x%02X", b)

	default:
		state := d.state
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", state)
	}
}

func (d *Decoder) push(b byte) {
	d.buffer[d.bufferIndex] = b
	d.bufferIndex++
}

// finish validates the frame on END.
func (d *Decoder) finish() (*Frame, error) {
	if d.state != stateEnd {
		state := d.state
		d.Reset()
		if state == stateIdle {
			return nil, nil
		}
		return nil, fmt.Errorf("unexpected END byte in state %d", state)
	}
	frame := d.frame
	calculated := CalculateCRC(d.buffer[:d.bufferIndex])
	d.Reset()
	if frame.crc != calculated {
		return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, calculated, frame.crc)
	}
	frame.timestamp = time.Now()
	return frame, nil
}

// Feed decodes p and calls fn for every completed frame or decode error.
func (d *Decoder) Feed(p []byte, fn func(*Frame, error)) {
	for _, b := range p {
		frame, err := d.DecodeByte(b)
		if frame != nil || err != nil {
			fn(frame, err)
		}
	}
}
