// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package router

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/tagbus/pkg/endpoint"
	"github.com/Thermoquad/tagbus/pkg/metrics"
)

// recorder is a handler that keeps every message it sees
type recorder struct {
	got []endpoint.Message
	err error
}

func (r *recorder) Handle(m endpoint.Message) error {
	r.got = append(r.got, m)
	return r.err
}

func TestRoute_DeliversToRegisteredHandler(t *testing.T) {
	r := New()
	h := &recorder{}
	r.Register(endpoint.EndpointBattery, h)

	m := endpoint.NewSensorConfigRead(endpoint.EndpointHost, endpoint.EndpointBattery)
	require.NoError(t, r.Route(m))
	require.Len(t, h.got, 1)
	assert.Equal(t, m, h.got[0])
	assert.True(t, r.Registered(endpoint.EndpointBattery))
}

func TestRoute_RegisterOverwrites(t *testing.T) {
	r := New()
	first, second := &recorder{}, &recorder{}
	r.Register(endpoint.EndpointRTC, first)
	r.Register(endpoint.EndpointRTC, second)

	require.NoError(t, r.Route(endpoint.Message{Destination: endpoint.EndpointRTC}))
	assert.Empty(t, first.got)
	assert.Len(t, second.got, 1)

	r.Register(endpoint.EndpointRTC, nil)
	assert.False(t, r.Registered(endpoint.EndpointRTC))
}

func TestRoute_UnknownFallback(t *testing.T) {
	// Every unregistered destination yields exactly one UNKNOWN reply
	r := New()
	out := &recorder{}
	r.SetReplyHandler(out)

	for dst := 0; dst < 256; dst++ {
		if endpoint.Endpoint(dst) == endpoint.EndpointHost {
			continue
		}
		out.got = nil
		m := endpoint.Message{
			Destination: endpoint.Endpoint(dst),
			Source:      endpoint.EndpointHost,
			Type:        endpoint.Type(dst),
			Payload:     [endpoint.PayloadSize]byte{byte(dst)},
		}
		require.NoError(t, r.Route(m))
		require.Len(t, out.got, 1, "destination 0x%02X", dst)

		reply := out.got[0]
		assert.Equal(t, endpoint.TypeUnknown, reply.Type)
		assert.Equal(t, m.Source, reply.Destination)
		assert.Equal(t, m.Destination, reply.Source)
		assert.Equal(t, m.Payload, reply.Payload)
	}
}

func TestRoute_UnknownReplyToLocalEndpoint(t *testing.T) {
	r := New()
	chain := &recorder{}
	out := &recorder{}
	r.Register(endpoint.ChainEndpoint(0), chain)
	r.SetReplyHandler(out)

	m := endpoint.Message{Destination: endpoint.EndpointGyroscope, Source: endpoint.ChainEndpoint(0), Type: endpoint.TypeChainDownstream}
	require.NoError(t, r.Route(m))

	require.Len(t, chain.got, 1)
	assert.Equal(t, endpoint.TypeUnknown, chain.got[0].Type)
	assert.Empty(t, out.got)
}

func TestReply_WithoutReplyHandler(t *testing.T) {
	r := New()
	err := r.Reply(endpoint.Message{Destination: endpoint.EndpointHost})
	assert.ErrorIs(t, err, endpoint.ErrInvalidEndpoint)

	err = r.Route(endpoint.Message{Destination: endpoint.EndpointMAM, Source: endpoint.EndpointHost})
	assert.ErrorIs(t, err, endpoint.ErrInvalidEndpoint)
}

func TestReply_Rebind(t *testing.T) {
	r := New()
	first, second := &recorder{}, &recorder{}

	r.SetReplyHandler(first)
	require.NoError(t, r.Reply(endpoint.Message{Destination: endpoint.EndpointHost}))
	r.SetReplyHandler(second)
	require.NoError(t, r.Reply(endpoint.Message{Destination: endpoint.EndpointHost}))

	assert.Len(t, first.got, 1)
	assert.Len(t, second.got, 1)
}

func TestRoute_HandlerErrorAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	r := New(WithMetrics(m))
	r.Register(endpoint.EndpointPressure, &recorder{err: endpoint.ErrNotSupported})
	r.Register(endpoint.EndpointHumidity, HandlerFunc(func(endpoint.Message) error { return nil }))
	r.SetReplyHandler(&recorder{})

	err = r.Route(endpoint.Message{Destination: endpoint.EndpointPressure})
	assert.ErrorIs(t, err, endpoint.ErrNotSupported)
	require.NoError(t, r.Route(endpoint.Message{Destination: endpoint.EndpointHumidity}))
	require.NoError(t, r.Route(endpoint.Message{Destination: endpoint.EndpointMovement}))

	count, err := testutil.GatherAndCount(reg, "tagbus_router_messages_total", "tagbus_router_unknown_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
