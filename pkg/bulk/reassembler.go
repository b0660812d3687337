// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bulk

import (
	"fmt"

	"github.com/Thermoquad/tagbus/pkg/endpoint"
)

// Transfer is a completely received bulk payload.
type Transfer struct {
	Endpoint endpoint.Endpoint
	Data     []byte
}

type partial struct {
	count uint8
	next  uint8
	data  []byte
}

// Reassembler rebuilds bulk transfers from header and data frames on the
// receiving side. Transfers for different endpoints may interleave; chunks
// of one transfer must arrive in order.
type Reassembler struct {
	frameSize int
	active    map[endpoint.Endpoint]*partial
}

// NewReassembler creates a reassembler for frames of frameSize data bytes.
func NewReassembler(frameSize int) *Reassembler {
	if frameSize <= 0 {
		frameSize = FramePayloadSize
	}
	return &Reassembler{
		frameSize: frameSize,
		active:    make(map[endpoint.Endpoint]*partial),
	}
}

// Feed consumes one frame. It returns the transfer when frame completes one,
// nil otherwise. An out-of-order or malformed frame drops the transfer in
// progress for that endpoint and returns ErrInvalidParam.
func (r *Reassembler) Feed(frame []byte) (*Transfer, error) {
	if len(frame) < DataHeaderSize {
		return nil, fmt.Errorf("bulk frame of %d bytes: %w", len(frame), endpoint.ErrInvalidParam)
	}
	ep := endpoint.Endpoint(frame[0])
	index := frame[1]

	if index == HeaderIndex {
		if len(frame) != HeaderSize || frame[2] == 0 {
			delete(r.active, ep)
			return nil, fmt.Errorf("bulk header % X: %w", frame, endpoint.ErrInvalidParam)
		}
		count := frame[2]
		r.active[ep] = &partial{
			count: count,
			data:  make([]byte, 0, int(count)*r.frameSize),
		}
		return nil, nil
	}

	p, ok := r.active[ep]
	if !ok {
		return nil, fmt.Errorf("chunk %d for %s without header: %w", index, endpoint.FormatEndpoint(ep), endpoint.ErrInvalidParam)
	}
	if index != p.next {
		delete(r.active, ep)
		return nil, fmt.Errorf("chunk %d for %s, expected %d: %w", index, endpoint.FormatEndpoint(ep), p.next, endpoint.ErrInvalidParam)
	}

	chunk := frame[DataHeaderSize:]
	last := p.next == p.count-1
	if len(chunk) == 0 || len(chunk) > r.frameSize || (!last && len(chunk) != r.frameSize) {
		delete(r.active, ep)
		return nil, fmt.Errorf("chunk %d for %s has %d bytes: %w", index, endpoint.FormatEndpoint(ep), len(chunk), endpoint.ErrInvalidParam)
	}

	p.data = append(p.data, chunk...)
	p.next++
	if !last {
		return nil, nil
	}

	delete(r.active, ep)
	return &Transfer{Endpoint: ep, Data: p.data}, nil
}

// InProgress returns the number of transfers awaiting more chunks.
func (r *Reassembler) InProgress() int {
	return len(r.active)
}

// Reset drops every transfer in progress.
func (r *Reassembler) Reset() {
	clear(r.active)
}
