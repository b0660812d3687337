// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensor

import (
	"fmt"
	"math"

	"github.com/Thermoquad/tagbus/pkg/endpoint"
)

// Accelerometer is a simulated three-axis accelerometer. Each read advances
// a slow rotation so consecutive samples differ. Values are milli-g; the
// fourth slot carries the vector magnitude.
type Accelerometer struct {
	step  int
	scale uint8 // full scale in g
}

// NewAccelerometer creates a simulated accelerometer at ±2 g.
func NewAccelerometer() *Accelerometer {
	return &Accelerometer{scale: 2}
}

// accelerometer rotation period in samples
const accelPeriod = 64

// ReadSample implements Driver.
func (a *Accelerometer) ReadSample() ([endpoint.SampleSlots]int16, error) {
	phase := 2 * math.Pi * float64(a.step%accelPeriod) / accelPeriod
	a.step++

	x := 1000 * math.Sin(phase)
	y := 1000 * math.Cos(phase) / 2
	z := 1000.0
	limit := float64(a.scale) * 1000

	clamp := func(v float64) int16 {
		return int16(math.Max(-limit, math.Min(limit, math.Round(v))))
	}
	return [endpoint.SampleSlots]int16{
		clamp(x),
		clamp(y),
		clamp(z),
		clamp(math.Sqrt(x*x + y*y + z*z)),
	}, nil
}

// Configure implements Driver. Scale selects the full-scale range.
func (a *Accelerometer) Configure(cfg endpoint.Config) error {
	switch cfg.Scale {
	case 0:
	case 2, 4, 8, 16:
		a.scale = cfg.Scale
	default:
		return fmt.Errorf("accelerometer scale %d: %w", cfg.Scale, endpoint.ErrNotSupported)
	}
	return nil
}

// Quantity selects what an Environmental driver reports.
type Quantity int

// Environmental quantities
const (
	Temperature Quantity = iota // centi-degrees Celsius
	Humidity                    // centi-percent relative humidity
	Pressure                    // pascal above 90 kPa
)

// Environmental is a simulated environmental sensor reporting one quantity
// in slot 0 as a slow triangle wave around a fixed baseline.
type Environmental struct {
	quantity Quantity
	step     int
}

// NewEnvironmental creates a simulated driver for q.
func NewEnvironmental(q Quantity) *Environmental {
	return &Environmental{quantity: q}
}

var environmentalBaseline = map[Quantity]struct{ base, swing int }{
	Temperature: {2150, 150},
	Humidity:    {4500, 500},
	Pressure:    {11325, 200},
}

// ReadSample implements Driver.
func (e *Environmental) ReadSample() ([endpoint.SampleSlots]int16, error) {
	b, ok := environmentalBaseline[e.quantity]
	if !ok {
		return [endpoint.SampleSlots]int16{}, fmt.Errorf("quantity %d: %w", e.quantity, endpoint.ErrNotSupported)
	}
	const period = 40
	pos := e.step % period
	e.step++
	if pos > period/2 {
		pos = period - pos
	}
	v := b.base - b.swing + 2*b.swing*pos/(period/2)
	return [endpoint.SampleSlots]int16{int16(v)}, nil
}

// Configure implements Driver. The simulated sensor accepts any setting.
func (e *Environmental) Configure(endpoint.Config) error {
	return nil
}
