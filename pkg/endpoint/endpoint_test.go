// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package endpoint

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Message Tests
// ============================================================

func TestMessage_EncodeLayout(t *testing.T) {
	m := Message{
		Destination: ChainEndpoint(3),
		Source:      EndpointAcceleration,
		Type:        TypeInt16,
		Payload:     [PayloadSize]byte{1, 2, 3, 4, 5, 6, 7, 8},
	}

	data := m.Encode()
	require.Len(t, data, MessageSize)
	assert.Equal(t, byte(0xE3), data[0])
	assert.Equal(t, byte(EndpointAcceleration), data[1])
	assert.Equal(t, byte(TypeInt16), data[2])
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, data[3:])

	decoded, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestDecodeMessage_WrongLength(t *testing.T) {
	for _, n := range []int{0, 10, 12} {
		t.Run(fmt.Sprintf("len=%d", n), func(t *testing.T) {
			_, err := DecodeMessage(make([]byte, n))
			assert.ErrorIs(t, err, ErrInvalidParam)
		})
	}
}

func TestMessage_Reply(t *testing.T) {
	m := NewInt16(EndpointBattery, EndpointHost, [SampleSlots]int16{1, 2, 3, 4})
	r := m.Reply(TypeUnknown)

	assert.Equal(t, EndpointHost, r.Destination)
	assert.Equal(t, EndpointBattery, r.Source)
	assert.Equal(t, TypeUnknown, r.Type)
	assert.Equal(t, m.Payload, r.Payload)
}

func TestMessage_SamplesRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		typ    Type
		values [SampleSlots]float64
		slots  int
	}{
		{"int16", TypeInt16, [SampleSlots]float64{-1000, 0, 1000, 32767}, 4},
		{"uint16", TypeUint16, [SampleSlots]float64{0, 1, 65535, 42}, 4},
		{"int8", TypeInt8, [SampleSlots]float64{-128, -1, 0, 127}, 4},
		{"uint8", TypeUint8, [SampleSlots]float64{0, 1, 128, 255}, 4},
		{"int32", TypeInt32, [SampleSlots]float64{-100000, 100000, 0, 0}, 2},
		{"uint32", TypeUint32, [SampleSlots]float64{4000000000, 7, 0, 0}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := PackSamples(tt.typ, tt.values)
			require.NoError(t, err)

			m := Message{Type: tt.typ, Payload: payload}
			got, n, err := m.Samples()
			require.NoError(t, err)
			assert.Equal(t, tt.slots, n)
			for i := 0; i < n; i++ {
				assert.Equal(t, tt.values[i], got[i], "slot %d", i)
			}
		})
	}
}

func TestPackSamples_Saturates(t *testing.T) {
	payload, err := PackSamples(TypeInt16, [SampleSlots]float64{40000, -40000, 1.6, -1.6})
	require.NoError(t, err)

	got := Message{Type: TypeInt16, Payload: payload}.Int16s()
	assert.Equal(t, [SampleSlots]int16{32767, -32768, 2, -2}, got)
}

func TestSamples_NonNumeric(t *testing.T) {
	_, _, err := Message{Type: TypeChainConfigWrite}.Samples()
	assert.ErrorIs(t, err, ErrInvalidType)

	_, err = PackSamples(TypeUnknown, [SampleSlots]float64{})
	assert.ErrorIs(t, err, ErrInvalidType)
}

// ============================================================
// Config Tests
// ============================================================

func TestConfig_EncodeDecode(t *testing.T) {
	cfg := Config{
		SampleRate:       10,
		TransmissionRate: 30,
		Resolution:       12,
		Scale:            2,
		DSPFunction:      0x20,
		DSPParameter:     8,
		Target:           TargetGATT | TargetRAM,
		Reserved:         0,
	}
	assert.Equal(t, cfg, DecodeConfig(cfg.Encode()))
}

func TestConfig_MergeKeepsUntouchedFields(t *testing.T) {
	current := Config{SampleRate: 1, TransmissionRate: 10, Resolution: 12, Scale: 2, DSPFunction: 0x20, DSPParameter: 4, Target: TargetGATT}

	update := NoChange
	update.TransmissionRate = 30

	merged := current.Merge(update)
	assert.Equal(t, uint8(30), merged.TransmissionRate)
	assert.Equal(t, current.SampleRate, merged.SampleRate)
	assert.Equal(t, current.DSPFunction, merged.DSPFunction)
	assert.Equal(t, current.DSPParameter, merged.DSPParameter)
	assert.Equal(t, current.Target, merged.Target)

	update = NoChange
	update.Target = TargetStop
	assert.Equal(t, TargetStop, current.Merge(update).Target)
}

func TestRateInterval(t *testing.T) {
	tests := []struct {
		rate uint8
		want time.Duration
		err  error
	}{
		{1, time.Second, nil},
		{30, 30 * time.Second, nil},
		{59, 59 * time.Second, nil},
		{60, time.Minute, nil},
		{119, 60 * time.Minute, nil},
		{120, time.Hour, nil},
		{249, 130 * time.Hour, nil},
		{RateStop, 0, ErrInvalidParam},
		{RateOnSample, 0, ErrInvalidParam},
		{RateSingle, 0, ErrInvalidParam},
		{RateNoChange, 0, ErrInvalidParam},
		{252, 0, ErrNotSupported},
		{254, 0, ErrNotSupported},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("rate=%d", tt.rate), func(t *testing.T) {
			got, err := RateInterval(tt.rate)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeRate_RoundTrip(t *testing.T) {
	for _, d := range []time.Duration{time.Second, 45 * time.Second, time.Minute, 59 * time.Minute, time.Hour, 130 * time.Hour} {
		rate, err := EncodeRate(d)
		require.NoError(t, err, d.String())
		back, err := RateInterval(rate)
		require.NoError(t, err)
		assert.Equal(t, d, back)
	}

	_, err := EncodeRate(500 * time.Millisecond)
	assert.ErrorIs(t, err, ErrInvalidParam)
	_, err = EncodeRate(200 * time.Hour)
	assert.ErrorIs(t, err, ErrNotSupported)
}

// ============================================================
// Status Tests
// ============================================================

func TestStatus_Combine(t *testing.T) {
	assert.NoError(t, Combine(nil, nil))

	err := Combine(nil, ErrNotSupported, ErrNoCapacity)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotSupported)
	assert.ErrorIs(t, err, ErrNoCapacity)
	assert.NotErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, ErrNotSupported|ErrNoCapacity, StatusOf(err))
}

func TestStatus_CombineForeignError(t *testing.T) {
	foreign := errors.New("sink exploded")
	err := Combine(ErrNotSupported, foreign)

	assert.ErrorIs(t, err, foreign)
	assert.ErrorIs(t, err, ErrNotSupported)
	assert.ErrorIs(t, err, ErrHandler)
	assert.Equal(t, ErrNotSupported|ErrHandler, StatusOf(err))
}

func TestStatus_WrappedStatusSurvives(t *testing.T) {
	err := fmt.Errorf("drain: %w", ErrBusy)
	assert.Equal(t, ErrBusy, StatusOf(err))
	assert.True(t, IsTransient(err))
	assert.False(t, IsTransient(ErrTooLarge))
	assert.Equal(t, StatusSuccess, StatusOf(nil))
}

func TestStatus_ErrorString(t *testing.T) {
	assert.Equal(t, "success", StatusSuccess.Error())
	assert.Equal(t, "not supported | no capacity", (ErrNotSupported | ErrNoCapacity).Error())
	assert.Nil(t, StatusSuccess.Err())
}

func TestNewError_CarriesStatus(t *testing.T) {
	req := NewChainConfigRead(EndpointHost, 2)
	reply := NewError(req, Combine(ErrNotSupported, ErrInvalidParam))

	assert.Equal(t, TypeError, reply.Type)
	assert.Equal(t, EndpointHost, reply.Destination)
	assert.Equal(t, ChainEndpoint(2), reply.Source)
	assert.Equal(t, ErrNotSupported|ErrInvalidParam, reply.Status())
}

// ============================================================
// Addressing / Builder Tests
// ============================================================

func TestChainIndex(t *testing.T) {
	for i := 0; i < ChainChannels; i++ {
		idx, ok := ChainEndpoint(i).ChainIndex()
		require.True(t, ok)
		assert.Equal(t, i, idx)
	}
	_, ok := EndpointAcceleration.ChainIndex()
	assert.False(t, ok)
	_, ok = (ChainLast + 1).ChainIndex()
	assert.False(t, ok)
}

func TestNewChainUpstreamWrite_CarriesUpstream(t *testing.T) {
	cfg := Config{SampleRate: 1, TransmissionRate: RateOnSample}
	m := NewChainUpstreamWrite(EndpointHost, 0, EndpointAcceleration, cfg)

	assert.Equal(t, TypeChainUpstreamWrite, m.Type)
	assert.Equal(t, uint8(EndpointAcceleration), m.Config().Reserved)

	down := NewChainDownstream(m.Destination, EndpointAcceleration, m.Config())
	assert.Equal(t, EndpointAcceleration, down.Destination)
	assert.Equal(t, ChainEndpoint(0), down.Source)
	assert.Equal(t, ValueNoChange, down.Config().Reserved)
}

// ============================================================
// Formatter / Validator Tests
// ============================================================

func TestFormatMessage(t *testing.T) {
	m := NewInt16(ChainEndpoint(1), EndpointAcceleration, [SampleSlots]int16{1, -2, 3, -4})
	out := FormatMessage(m, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))

	assert.Contains(t, out, "INT16 (0x22)")
	assert.Contains(t, out, "ACCELERATION -> CHAIN_1")
	assert.Contains(t, out, "Values: [1, -2, 3, -4]")
}

func TestFormatTarget(t *testing.T) {
	assert.Equal(t, "stop", FormatTarget(TargetStop))
	assert.Equal(t, "no change", FormatTarget(TargetNoChange))
	assert.Equal(t, "gatt+ram", FormatTarget(TargetGATT|TargetRAM))
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		anomaly []AnomalyType
	}{
		{
			name: "valid int16",
			msg:  NewInt16(ChainEndpoint(0), EndpointAcceleration, [SampleSlots]int16{}),
		},
		{
			name:    "unknown type",
			msg:     Message{Type: 0x77},
			anomaly: []AnomalyType{AnomalyUnknownType},
		},
		{
			name:    "chain config to sensor",
			msg:     Message{Destination: EndpointBattery, Type: TypeChainConfigWrite, Payload: NoChange.Encode()},
			anomaly: []AnomalyType{AnomalyInvalidEndpoint},
		},
		{
			name:    "unsupported rate",
			msg:     NewChainConfigWrite(EndpointHost, 0, Config{SampleRate: 1, TransmissionRate: 253}),
			anomaly: []AnomalyType{AnomalyUnsupportedRate},
		},
		{
			name:    "upstream is self",
			msg:     NewChainUpstreamWrite(EndpointHost, 0, ChainEndpoint(0), NoChange),
			anomaly: []AnomalyType{AnomalyInvalidUpstream},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateMessage(tt.msg)
			got := make([]AnomalyType, 0, len(errs))
			for _, e := range errs {
				got = append(got, e.Type)
				assert.False(t, strings.TrimSpace(e.Error()) == "")
			}
			if tt.anomaly == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.anomaly, got)
		})
	}
}
