// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package endpoint

import (
	"fmt"
	"time"
)

// Config is the 8-byte sensor/chain configuration record. A field set to
// ValueNoChange leaves the current setting alone.
type Config struct {
	SampleRate       uint8
	TransmissionRate uint8
	Resolution       uint8
	Scale            uint8
	DSPFunction      uint8
	DSPParameter     uint8
	Target           Target // log/target byte: where results are sent or logged
	Reserved         uint8
}

// NoChange is a record that modifies nothing.
var NoChange = Config{
	SampleRate:       ValueNoChange,
	TransmissionRate: ValueNoChange,
	Resolution:       ValueNoChange,
	Scale:            ValueNoChange,
	DSPFunction:      ValueNoChange,
	DSPParameter:     ValueNoChange,
	Target:           TargetNoChange,
	Reserved:         ValueNoChange,
}

// Encode returns the wire form of c.
func (c Config) Encode() [ConfigSize]byte {
	return [ConfigSize]byte{
		c.SampleRate,
		c.TransmissionRate,
		c.Resolution,
		c.Scale,
		c.DSPFunction,
		c.DSPParameter,
		uint8(c.Target),
		c.Reserved,
	}
}

// DecodeConfig parses the wire form of a configuration record.
func DecodeConfig(b [ConfigSize]byte) Config {
	return Config{
		SampleRate:       b[0],
		TransmissionRate: b[1],
		Resolution:       b[2],
		Scale:            b[3],
		DSPFunction:      b[4],
		DSPParameter:     b[5],
		Target:           Target(b[6]),
		Reserved:         b[7],
	}
}

// Merge applies every field of update that is not ValueNoChange on top of c.
func (c Config) Merge(update Config) Config {
	pick := func(cur, next uint8) uint8 {
		if next == ValueNoChange {
			return cur
		}
		return next
	}
	out := Config{
		SampleRate:       pick(c.SampleRate, update.SampleRate),
		TransmissionRate: pick(c.TransmissionRate, update.TransmissionRate),
		Resolution:       pick(c.Resolution, update.Resolution),
		Scale:            pick(c.Scale, update.Scale),
		DSPFunction:      pick(c.DSPFunction, update.DSPFunction),
		DSPParameter:     pick(c.DSPParameter, update.DSPParameter),
		Target:           c.Target,
		Reserved:         pick(c.Reserved, update.Reserved),
	}
	if update.Target != TargetNoChange {
		out.Target = update.Target
	}
	return out
}

// RateInterval maps an encoded rate to a timer interval. Sentinels
// (stop, on-sample, single, no-change) have no interval and return
// ErrInvalidParam; 252-254 return ErrNotSupported.
func RateInterval(rate uint8) (time.Duration, error) {
	switch {
	case rate == RateStop:
		return 0, fmt.Errorf("rate %d is stop: %w", rate, ErrInvalidParam)
	case rate <= RateSecondsMax:
		return time.Duration(rate) * time.Second, nil
	case rate <= RateMinutesMax:
		return time.Duration(rate-RateMinutesBase) * time.Minute, nil
	case rate <= RateHoursMax:
		return time.Duration(rate-RateHoursBase) * time.Hour, nil
	case rate == RateOnSample, rate == RateSingle, rate == RateNoChange:
		return 0, fmt.Errorf("rate %d has no interval: %w", rate, ErrInvalidParam)
	}
	return 0, fmt.Errorf("rate %d: %w", rate, ErrNotSupported)
}

// EncodeRate returns the smallest-unit rate encoding for d, rounding down.
// Intervals below a second or above 130 hours are rejected.
func EncodeRate(d time.Duration) (uint8, error) {
	switch {
	case d < time.Second:
		return 0, fmt.Errorf("interval %s below one second: %w", d, ErrInvalidParam)
	case d < time.Minute:
		return uint8(d / time.Second), nil
	case d < time.Hour:
		return RateMinutesBase + uint8(d/time.Minute), nil
	case d <= time.Duration(RateHoursMax-RateHoursBase)*time.Hour:
		return RateHoursBase + uint8(d/time.Hour), nil
	}
	return 0, fmt.Errorf("interval %s too long: %w", d, ErrNotSupported)
}
