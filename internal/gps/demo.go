package gps

import (
	"context"
	"math"

	"github.com/rakerig/rakelog/internal/reading"
)

// Simulated walks a slow circle around a fixed point for bench testing.
type Simulated struct {
	t float64

	CenterLat, CenterLon float64
	Radius               float64 // degrees
	Altitude             float64 // metres
}

// NewSimulated circles the Berkeley hills, ~300 m radius.
func NewSimulated() *Simulated {
	return &Simulated{
		CenterLat: 37.8716,
		CenterLon: -122.2727,
		Radius:    0.003,
		Altitude:  120,
	}
}

func (d *Simulated) Name() string { return "GPS (simulated)" }
func (d *Simulated) Close() error { return nil }

func (d *Simulated) Poll(context.Context) (reading.Fix, bool) {
	d.t += 0.1
	return reading.Fix{
		Latitude:  d.CenterLat + d.Radius*math.Sin(d.t*0.1),
		Longitude: d.CenterLon + d.Radius*math.Cos(d.t*0.1),
		Altitude:  d.Altitude + 2*math.Sin(d.t*0.05),
	}, true
}
