// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes Prometheus counters for the router, the bulk
// transport and the chain channels. Every recording method is safe on a nil
// *Metrics so components can run without instrumentation.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tagbus"

// Metrics holds the tag's Prometheus collectors.
type Metrics struct {
	routerMessages  *prometheus.CounterVec
	routerUnknown   prometheus.Counter
	bulkFrames      *prometheus.CounterVec
	bulkTransfers   prometheus.Counter
	bulkBusy        prometheus.Counter
	chainEmits      *prometheus.CounterVec
	chainSinkErrors *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		routerMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "messages_total",
			Help:      "Messages routed, by handler result",
		}, []string{"result"}),
		routerUnknown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "unknown_total",
			Help:      "Messages answered by the unknown-endpoint fallback",
		}),
		bulkFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bulk",
			Name:      "frames_total",
			Help:      "Frames handed to the transport, by kind",
		}, []string{"kind"}),
		bulkTransfers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bulk",
			Name:      "transfers_total",
			Help:      "Bulk transfers sent completely",
		}),
		bulkBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bulk",
			Name:      "busy_total",
			Help:      "Drain calls stopped by a failed send",
		}),
		chainEmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "emits_total",
			Help:      "Values emitted by chain channels",
		}, []string{"channel"}),
		chainSinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "sink_errors_total",
			Help:      "Failed sink deliveries, by target",
		}, []string{"target"}),
	}

	collectors := []prometheus.Collector{
		m.routerMessages,
		m.routerUnknown,
		m.bulkFrames,
		m.bulkTransfers,
		m.bulkBusy,
		m.chainEmits,
		m.chainSinkErrors,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RouterMessage counts one routed message with its handler result
// ("ok" or the status text).
func (m *Metrics) RouterMessage(result string) {
	if m == nil {
		return
	}
	m.routerMessages.WithLabelValues(result).Inc()
}

// RouterUnknown counts one fallback reply.
func (m *Metrics) RouterUnknown() {
	if m == nil {
		return
	}
	m.routerUnknown.Inc()
}

// BulkFrame counts one frame sent ("record", "header" or "data").
func (m *Metrics) BulkFrame(kind string) {
	if m == nil {
		return
	}
	m.bulkFrames.WithLabelValues(kind).Inc()
}

// BulkTransfer counts one completed bulk transfer.
func (m *Metrics) BulkTransfer() {
	if m == nil {
		return
	}
	m.bulkTransfers.Inc()
}

// BulkBusy counts one drain stopped by the transport.
func (m *Metrics) BulkBusy() {
	if m == nil {
		return
	}
	m.bulkBusy.Inc()
}

// ChainEmit counts one emission on a channel.
func (m *Metrics) ChainEmit(channel int) {
	if m == nil {
		return
	}
	m.chainEmits.WithLabelValues(strconv.Itoa(channel)).Inc()
}

// ChainSinkError counts one failed delivery to a sink.
func (m *Metrics) ChainSinkError(target string) {
	if m == nil {
		return
	}
	m.chainSinkErrors.WithLabelValues(target).Inc()
}
