// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bulk

import "sync"

// Payload is a single-owner byte buffer handed to the bulk queue. Once
// enqueued the queue owns it and releases it exactly once, after the last
// chunk is sent or when the queue is purged.
type Payload struct {
	data    []byte
	release func([]byte)
	once    sync.Once
}

// NewPayload wraps data. release, if not nil, is called with data when the
// payload is released (returning the buffer to a pool, for example).
func NewPayload(data []byte, release func([]byte)) *Payload {
	return &Payload{data: data, release: release}
}

// Bytes returns the payload contents. Nil after Release.
func (p *Payload) Bytes() []byte {
	return p.data
}

// Len returns the payload length.
func (p *Payload) Len() int {
	return len(p.data)
}

// Release hands the buffer back. Calls after the first are no-ops.
func (p *Payload) Release() {
	p.once.Do(func() {
		data := p.data
		p.data = nil
		if p.release != nil {
			p.release(data)
		}
	})
}
