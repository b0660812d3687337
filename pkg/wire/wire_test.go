// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"errors"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/tagbus/pkg/bulk"
	"github.com/Thermoquad/tagbus/pkg/endpoint"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 500
func getFuzzRounds() int {
	if env := os.Getenv("FUZZ_ROUNDS"); env != "" {
		if rounds, err := strconv.Atoi(env); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 500
}

// newFuzzRng seeds from FUZZ_SEED or the clock and logs the seed
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := time.Now().UnixNano()
	if env := os.Getenv("FUZZ_SEED"); env != "" {
		if s, err := strconv.ParseInt(env, 10, 64); err == nil {
			seed = s
		}
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// decodeAll runs stream through a fresh decoder
func decodeAll(stream []byte) ([]*Frame, []error) {
	var frames []*Frame
	var errs []error
	NewDecoder().Feed(stream, func(f *Frame, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		frames = append(frames, f)
	})
	return frames, errs
}

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC(t *testing.T) {
	assert.Equal(t, crcInitial, CalculateCRC(nil))
	assert.Equal(t, uint16(0x29B1), CalculateCRC([]byte("123456789")))
}

// ============================================================
// Encoder Tests
// ============================================================

func TestStuffBytes(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"plain", []byte{0x01, 0x02}, []byte{0x01, 0x02}},
		{"start", []byte{StartByte}, []byte{EscByte, 0x5E}},
		{"end", []byte{EndByte}, []byte{EscByte, 0x5F}},
		{"esc", []byte{EscByte}, []byte{EscByte, 0x5D}},
		{"consecutive", []byte{StartByte, EscByte, EndByte}, []byte{EscByte, 0x5E, EscByte, 0x5D, EscByte, 0x5F}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stuffed := StuffBytes(tt.in)
			assert.Equal(t, tt.want, stuffed)

			unstuffed, err := UnstuffBytes(stuffed)
			require.NoError(t, err)
			assert.Equal(t, tt.in, unstuffed)
		})
	}
}

func TestUnstuffBytes_IncompleteEscape(t *testing.T) {
	_, err := UnstuffBytes([]byte{0x01, EscByte})
	assert.ErrorIs(t, err, ErrIncompleteEscape)
}

func TestEncode_Layout(t *testing.T) {
	frame, err := Encode(bulk.KindBulk, []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)

	assert.Equal(t, StartByte, frame[0])
	assert.Equal(t, EndByte, frame[len(frame)-1])

	body, err := UnstuffBytes(frame[1 : len(frame)-1])
	require.NoError(t, err)
	require.Len(t, body, 7)
	assert.Equal(t, []byte{0x02, 0x03, 0x01, 0x02, 0x03}, body[:5])
	crc := CalculateCRC(body[:5])
	assert.Equal(t, []byte{byte(crc >> 8), byte(crc)}, body[5:])
}

func TestEncode_NoFramingBytesInside(t *testing.T) {
	frame, err := Encode(bulk.KindRecord, []byte{StartByte, EndByte, EscByte, 0x00})
	require.NoError(t, err)
	for _, b := range frame[1 : len(frame)-1] {
		assert.NotEqual(t, StartByte, b)
		assert.NotEqual(t, EndByte, b)
	}
}

func TestEncode_TooLarge(t *testing.T) {
	_, err := Encode(bulk.KindBulk, make([]byte, MaxDataSize+1))
	assert.ErrorIs(t, err, endpoint.ErrTooLarge)

	_, err = Encode(bulk.KindBulk, make([]byte, MaxDataSize))
	assert.NoError(t, err)
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecoder_Message(t *testing.T) {
	msg := endpoint.NewInt16(endpoint.EndpointHost, endpoint.EndpointAcceleration, [endpoint.SampleSlots]int16{1, -2, 3, 0x7E7F})

	frames, errs := decodeAll(EncodeMessage(msg))
	require.Empty(t, errs)
	require.Len(t, frames, 1)

	assert.Equal(t, bulk.KindRecord, frames[0].Kind)
	assert.False(t, frames[0].Timestamp().IsZero())
	body := append([]byte{byte(bulk.KindRecord), endpoint.MessageSize}, msg.Encode()...)
	assert.Equal(t, CalculateCRC(body), frames[0].CRC())
	got, err := frames[0].Message()
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestDecoder_BulkFrameIsNotMessage(t *testing.T) {
	frame, err := Encode(bulk.KindBulk, []byte{0xE0, 0x00, 0x01})
	require.NoError(t, err)

	frames, errs := decodeAll(frame)
	require.Empty(t, errs)
	require.Len(t, frames, 1)
	_, err = frames[0].Message()
	assert.ErrorIs(t, err, endpoint.ErrInvalidType)
}

func TestDecoder_ZeroLength(t *testing.T) {
	frame, err := Encode(bulk.KindBulk, nil)
	require.NoError(t, err)

	frames, errs := decodeAll(frame)
	require.Empty(t, errs)
	require.Len(t, frames, 1)
	assert.Empty(t, frames[0].Data)
}

func TestDecoder_CRCMismatch(t *testing.T) {
	frame, err := Encode(bulk.KindBulk, []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	frame[3] = 0x09

	frames, errs := decodeAll(frame)
	assert.Empty(t, frames)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrCRCMismatch)
}

func TestDecoder_UnexpectedEnd(t *testing.T) {
	frames, errs := decodeAll([]byte{StartByte, 0x01, EndByte})
	assert.Empty(t, frames)
	require.Len(t, errs, 1)
	assert.False(t, errors.Is(errs[0], ErrCRCMismatch))
}

func TestDecoder_EndWhileIdleIsIgnored(t *testing.T) {
	frames, errs := decodeAll([]byte{EndByte, 0x00, EndByte})
	assert.Empty(t, frames)
	assert.Empty(t, errs)
}

func TestDecoder_ExtraByteBeforeEnd(t *testing.T) {
	frame, err := Encode(bulk.KindBulk, []byte{0x01})
	require.NoError(t, err)
	bad := append(append([]byte{}, frame[:len(frame)-1]...), 0x00, EndByte)

	frames, errs := decodeAll(bad)
	assert.Empty(t, frames)
	assert.NotEmpty(t, errs)
}

func TestDecoder_StartResetsState(t *testing.T) {
	good, err := Encode(bulk.KindRecord, []byte{0x10, 0x20})
	require.NoError(t, err)
	stream := append([]byte{0x55, StartByte, 0x02, 0x05, 0x01}, good...)

	frames, errs := decodeAll(stream)
	assert.Empty(t, errs)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x10, 0x20}, frames[0].Data)
}

func TestDecoder_ResetAndRawBytes(t *testing.T) {
	d := NewDecoder()
	_, _ = d.DecodeByte(StartByte)
	_, _ = d.DecodeByte(0x01)
	assert.Equal(t, []byte{StartByte, 0x01}, d.RawBytes())

	d.Reset()
	assert.Empty(t, d.RawBytes())
	frame, err := d.DecodeByte(0x01)
	assert.Nil(t, frame)
	assert.NoError(t, err)
}

func TestFuzzDecoder_RandomFrames(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	var stream []byte
	var want [][]byte
	for i := 0; i < rounds; i++ {
		// noise between frames never contains START
		for n := rng.Intn(4); n > 0; n-- {
			b := byte(rng.Intn(256))
			if b == StartByte || b == EscByte {
				b = 0x00
			}
			stream = append(stream, b)
		}
		data := make([]byte, rng.Intn(64))
		rng.Read(data)
		frame, err := Encode(bulk.Kind(1+rng.Intn(2)), data)
		require.NoError(t, err)
		stream = append(stream, frame...)
		want = append(want, data)
	}

	frames, _ := decodeAll(stream)
	require.Len(t, frames, rounds)
	for i, f := range frames {
		assert.Equal(t, want[i], f.Data, "frame %d", i)
	}
}

func TestFuzzDecoder_RandomBytes(t *testing.T) {
	rng := newFuzzRng(t)
	d := NewDecoder()
	for i := 0; i < getFuzzRounds()*10; i++ {
		// must never panic
		_, _ = d.DecodeByte(byte(rng.Intn(256)))
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()

	s.Update(&Frame{Kind: bulk.KindRecord}, nil, nil)
	s.Update(&Frame{Kind: bulk.KindBulk}, nil, nil)
	s.Update(nil, ErrCRCMismatch, nil)
	s.Update(nil, errors.New("buffer overflow"), nil)
	s.Update(&Frame{Kind: bulk.KindRecord}, nil, []endpoint.ValidationError{
		{Type: endpoint.AnomalyUnknownType},
		{Type: endpoint.AnomalyErrorReply},
	})
	s.RecordTransfer(nil)
	s.RecordTransfer(endpoint.ErrInvalidParam)

	assert.Equal(t, uint64(5), s.TotalFrames)
	assert.Equal(t, uint64(3), s.ValidFrames)
	assert.Equal(t, uint64(2), s.Records)
	assert.Equal(t, uint64(1), s.BulkFrames)
	assert.Equal(t, uint64(1), s.CRCErrors)
	assert.Equal(t, uint64(1), s.DecodeErrors)
	assert.Equal(t, uint64(1), s.Anomalies)
	assert.Equal(t, uint64(1), s.ErrorReplies)
	assert.Equal(t, uint64(1), s.Transfers)
	assert.Equal(t, uint64(1), s.TransferErrors)

	out := s.String()
	assert.Contains(t, out, "Total Frames:")
	assert.Contains(t, out, "CRC Errors:")
	assert.Contains(t, out, "Transfers:")
}

func TestStatistics_Reset(t *testing.T) {
	s := NewStatistics()
	s.Update(&Frame{Kind: bulk.KindRecord}, nil, nil)
	s.RecordTransfer(nil)

	s.Reset()
	assert.Zero(t, s.TotalFrames)
	assert.Zero(t, s.Transfers)
	assert.False(t, s.StartTime.IsZero())
	assert.NotContains(t, s.String(), "CRC Errors:")
}

func TestStatistics_CalculateRates(t *testing.T) {
	s := NewStatistics()
	s.StartTime = time.Now().Add(-10 * time.Second)
	for i := 0; i < 20; i++ {
		s.Update(&Frame{Kind: bulk.KindRecord}, nil, nil)
	}
	s.Update(nil, ErrCRCMismatch, nil)

	s.CalculateRates()
	assert.InDelta(t, 2.1, s.FrameRate, 0.1)
	assert.InDelta(t, 0.1, s.ErrorRate, 0.05)
}
