// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bulk implements the tag's frame transport queues: a fixed-record
// queue for single-frame messages and a bulk queue that splits large
// payloads into a header frame plus numbered data frames.
//
// Enqueue and EnqueueBulk may be called from any goroutine. Drain and Purge
// belong to the main loop.
package bulk

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Thermoquad/tagbus/pkg/endpoint"
	"github.com/Thermoquad/tagbus/pkg/metrics"
	"github.com/Thermoquad/tagbus/pkg/ringbuffer"
)

// Transport sends one frame. It must not block waiting for the link: a busy
// link returns an error (endpoint.ErrBusy) and the frame is retried by the
// next Drain. The frame slice is only valid during the call.
type Transport interface {
	Send(kind Kind, frame []byte) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(kind Kind, frame []byte) error

// Send calls f(kind, frame).
func (f TransportFunc) Send(kind Kind, frame []byte) error {
	return f(kind, frame)
}

// Default queue sizes
const (
	DefaultRecordCapacity = 8
	DefaultBulkCapacity   = 4
)

type entry struct {
	header  Header
	payload *Payload
	cursor  uint8 // chunks sent, HeaderIndex until the header is out
}

// Queue holds pending records and bulk transfers.
type Queue struct {
	mu      sync.Mutex // guards the rings against producers on other goroutines
	records *ringbuffer.Ring[endpoint.Message]
	bulk    *ringbuffer.Ring[*entry]

	transport Transport
	frameSize int
	scratch   []byte

	logger  *zap.Logger
	metrics *metrics.Metrics
}

type options struct {
	recordCapacity int
	bulkCapacity   int
	frameSize      int
	logger         *zap.Logger
	metrics        *metrics.Metrics
}

// Option configures a Queue.
type Option func(*options)

// WithRecordCapacity sets the fixed-record queue depth.
func WithRecordCapacity(n int) Option {
	return func(o *options) {
		o.recordCapacity = n
	}
}

// WithBulkCapacity sets the number of bulk transfers that can be pending.
func WithBulkCapacity(n int) Option {
	return func(o *options) {
		o.bulkCapacity = n
	}
}

// WithFramePayloadSize sets the data bytes per frame.
func WithFramePayloadSize(n int) Option {
	return func(o *options) {
		o.frameSize = n
	}
}

// WithLogger sets the queue's logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics records frame and transfer counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// NewQueue creates a queue draining into transport.
func NewQueue(transport Transport, opts ...Option) (*Queue, error) {
	o := options{
		recordCapacity: DefaultRecordCapacity,
		bulkCapacity:   DefaultBulkCapacity,
		frameSize:      FramePayloadSize,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if transport == nil {
		return nil, fmt.Errorf("bulk queue without transport: %w", endpoint.ErrInvalidParam)
	}
	if o.frameSize <= 0 || o.frameSize > 0xFF {
		return nil, fmt.Errorf("frame payload size %d: %w", o.frameSize, endpoint.ErrInvalidParam)
	}

	records, err := ringbuffer.New[endpoint.Message](o.recordCapacity)
	if err != nil {
		return nil, fmt.Errorf("record queue: %w", err)
	}
	bulk, err := ringbuffer.New[*entry](o.bulkCapacity)
	if err != nil {
		return nil, fmt.Errorf("bulk queue: %w", err)
	}

	return &Queue{
		records:   records,
		bulk:      bulk,
		transport: transport,
		frameSize: o.frameSize,
		scratch:   make([]byte, 0, DataHeaderSize+o.frameSize),
		logger:    o.logger,
		metrics:   o.metrics,
	}, nil
}

// FramePayloadSize returns the data bytes carried per frame.
func (q *Queue) FramePayloadSize() int {
	return q.frameSize
}

// MaxTransferSize returns the largest payload EnqueueBulk accepts.
func (q *Queue) MaxTransferSize() int {
	return MaxChunks * q.frameSize
}

// Enqueue appends a single-frame record. Returns ErrNoCapacity when the
// record queue is full.
func (q *Queue) Enqueue(m endpoint.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.records.Full() {
		return fmt.Errorf("record queue full: %w", endpoint.ErrNoCapacity)
	}
	q.records.Push(m)
	return nil
}

// EnqueueBulk queues p for transfer to ep. On success the queue owns p.
// On failure ownership stays with the caller and the queue is unchanged.
func (q *Queue) EnqueueBulk(ep endpoint.Endpoint, p *Payload) error {
	if p == nil || p.Len() == 0 {
		return fmt.Errorf("empty bulk payload: %w", endpoint.ErrInvalidParam)
	}
	if p.Len() > q.MaxTransferSize() {
		return fmt.Errorf("bulk payload %d bytes (max %d): %w", p.Len(), q.MaxTransferSize(), endpoint.ErrTooLarge)
	}

	e := &entry{
		header: Header{
			Endpoint: ep,
			Count:    uint8(Chunks(p.Len(), q.frameSize)),
		},
		payload: p,
		cursor:  HeaderIndex,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.bulk.Full() {
		return fmt.Errorf("bulk queue full: %w", endpoint.ErrNoCapacity)
	}
	q.bulk.Push(e)
	return nil
}

// Pending returns the number of queued records and bulk transfers.
func (q *Queue) Pending() (records, transfers int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.records.Len(), q.bulk.Len()
}

// Idle reports whether both queues are empty.
func (q *Queue) Idle() bool {
	records, transfers := q.Pending()
	return records == 0 && transfers == 0
}

// Drain sends queued frames until the queues are empty or a send fails.
// Records go first. At most one bulk transfer is advanced per call, and a
// failed send leaves its record or chunk in place for the next call.
// Drain never waits for the transport; the send error is returned.
func (q *Queue) Drain() error {
	for {
		m, ok := q.peekRecord()
		if !ok {
			break
		}
		q.scratch = m.AppendEncode(q.scratch[:0])
		if err := q.send(KindRecord, "record"); err != nil {
			return err
		}
		q.popRecord()
	}

	e, ok := q.peekBulk()
	if !ok {
		return nil
	}

	if e.cursor == HeaderIndex {
		h := e.header.Encode()
		q.scratch = append(q.scratch[:0], h[:]...)
		if err := q.send(KindBulk, "header"); err != nil {
			return err
		}
		e.cursor = 0
	}

	data := e.payload.Bytes()
	for e.cursor < e.header.Count {
		start := int(e.cursor) * q.frameSize
		end := min(start+q.frameSize, len(data))
		q.scratch = AppendData(q.scratch[:0], e.header.Endpoint, e.cursor, data[start:end])
		if err := q.send(KindBulk, "data"); err != nil {
			return err
		}
		e.cursor++
	}

	q.popBulk()
	e.payload.Release()
	q.metrics.BulkTransfer()
	q.logger.Debug("Bulk transfer complete",
		zap.String("endpoint", endpoint.FormatEndpoint(e.header.Endpoint)),
		zap.Uint8("chunks", e.header.Count))
	return nil
}

// Purge drops every queued record and transfer, releasing bulk payloads.
func (q *Queue) Purge() {
	q.mu.Lock()
	q.records.Clear()
	var dropped []*entry
	for {
		e, ok := q.bulk.PopFIFO()
		if !ok {
			break
		}
		dropped = append(dropped, e)
	}
	q.mu.Unlock()

	for _, e := range dropped {
		e.payload.Release()
	}
	if len(dropped) > 0 {
		q.logger.Info("Bulk queue purged", zap.Int("transfers", len(dropped)))
	}
}

func (q *Queue) send(kind Kind, label string) error {
	if err := q.transport.Send(kind, q.scratch); err != nil {
		q.metrics.BulkBusy()
		return err
	}
	q.metrics.BulkFrame(label)
	return nil
}

func (q *Queue) peekRecord() (endpoint.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.records.Peek(0)
}

func (q *Queue) popRecord() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records.PopFIFO()
}

func (q *Queue) peekBulk() (*entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bulk.Peek(0)
}

func (q *Queue) popBulk() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bulk.PopFIFO()
}
