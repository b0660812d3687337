// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dsp implements the stateful sample filters a chain channel runs
// before transmitting.
//
// A Filter records samples with Apply, which is O(1), and derives its
// statistic on Value. Windowed filters keep the last parameter samples in a
// ring buffer, so parameter bounds the cost of Value.
package dsp

import (
	"fmt"
	"math"

	"github.com/Thermoquad/tagbus/pkg/endpoint"
	"github.com/Thermoquad/tagbus/pkg/ringbuffer"
)

// Function selects a filter. The values are the DSP selector byte of the
// configuration record.
type Function uint8

// Supported filter functions
const (
	FunctionLast    Function = 0x00
	FunctionMin     Function = 0x02
	FunctionMax     Function = 0x04
	FunctionAverage Function = 0x08
	FunctionStdev   Function = 0x20
)

// String returns the function name
func (f Function) String() string {
	switch f {
	case FunctionLast:
		return "last"
	case FunctionMin:
		return "min"
	case FunctionMax:
		return "max"
	case FunctionAverage:
		return "average"
	case FunctionStdev:
		return "stdev"
	default:
		return fmt.Sprintf("function(0x%02X)", uint8(f))
	}
}

// Filter reduces a stream of samples to one derived value.
type Filter interface {
	// Apply records one sample.
	Apply(sample float64)
	// Value computes the derived statistic. Zero before any sample.
	Value() float64
	// Function identifies the filter kind.
	Function() Function
}

// New creates a filter for fn. Windowed filters keep the last parameter
// samples; parameter is ignored by FunctionLast.
func New(fn Function, parameter uint8) (Filter, error) {
	switch fn {
	case FunctionLast:
		return &last{}, nil
	case FunctionMin, FunctionMax, FunctionAverage, FunctionStdev:
	default:
		return nil, fmt.Errorf("dsp %s: %w", fn, endpoint.ErrNotImplemented)
	}

	if parameter == 0 {
		return nil, fmt.Errorf("dsp %s window %d: %w", fn, parameter, endpoint.ErrInvalidParam)
	}
	ring, err := ringbuffer.New[float64](int(parameter))
	if err != nil {
		return nil, err
	}
	w := window{samples: ring}

	switch fn {
	case FunctionMin:
		return &minimum{w}, nil
	case FunctionMax:
		return &maximum{w}, nil
	case FunctionAverage:
		return &average{w}, nil
	default:
		return &stdev{w}, nil
	}
}

type last struct {
	value float64
}

func (l *last) Apply(sample float64) { l.value = sample }
func (l *last) Value() float64       { return l.value }
func (l *last) Function() Function   { return FunctionLast }

// window holds the last N samples for the windowed filters.
type window struct {
	samples *ringbuffer.Ring[float64]
}

func (w window) Apply(sample float64) { w.samples.Push(sample) }

func (w window) mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

type minimum struct{ window }

func (m *minimum) Function() Function { return FunctionMin }

func (m *minimum) Value() float64 {
	values := m.samples.Values()
	if len(values) == 0 {
		return 0
	}
	out := values[0]
	for _, v := range values[1:] {
		out = math.Min(out, v)
	}
	return out
}

type maximum struct{ window }

func (m *maximum) Function() Function { return FunctionMax }

func (m *maximum) Value() float64 {
	values := m.samples.Values()
	if len(values) == 0 {
		return 0
	}
	out := values[0]
	for _, v := range values[1:] {
		out = math.Max(out, v)
	}
	return out
}

type average struct{ window }

func (a *average) Function() Function { return FunctionAverage }

func (a *average) Value() float64 {
	values := a.samples.Values()
	if len(values) == 0 {
		return 0
	}
	return a.mean(values)
}

// stdev is the moving population standard deviation.
type stdev struct{ window }

func (s *stdev) Function() Function { return FunctionStdev }

func (s *stdev) Value() float64 {
	values := s.samples.Values()
	if len(values) == 0 {
		return 0
	}
	mean := s.mean(values)
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}
