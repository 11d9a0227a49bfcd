package sensor

import (
	"context"
	"math"

	"github.com/rakerig/rakelog/internal/reading"
)

// Bounds of the simulated values. Simulated data only shows the loop is alive;
// nothing should depend on it being realistic.
const (
	SimTempMin, SimTempMax         = 21.5, 22.5       // °C
	SimHumidityMin, SimHumidityMax = 40.0, 50.0       // %RH
	SimPressureMin, SimPressureMax = 1011.0, 1015.0   // hPa
	SimGasMin, SimGasMax           = 45000.0, 55000.0 // Ω

	// Gas heater is reported stable after this many samples.
	simGasWarmup = 300
)

// Simulated generates smooth synthetic samples for bench testing without
// hardware. Values are a deterministic function of the sample count.
type Simulated struct {
	n uint64
}

// NewSimulated returns a simulated sensor starting at sample 0. Two
// instances produce the same sequence.
func NewSimulated() *Simulated { return &Simulated{} }

// Name implements Source.
func (s *Simulated) Name() string { return "Sensor (simulated)" }

// Close implements Source.
func (s *Simulated) Close() error { return nil }

// Poll returns the next simulated sample; it is always present.
func (s *Simulated) Poll(context.Context) (reading.Sample, bool) {
	sample := s.At(s.n)
	s.n++
	return sample, true
}

// At returns the simulated sample for sample count n.
func (s *Simulated) At(n uint64) reading.Sample {
	x := float64(n)
	return reading.Sample{
		Temperature: reading.Some(22.0 + 0.5*math.Sin(x/15)),
		Humidity:    reading.Some(45.0 + 5*math.Sin(x/25)),
		Pressure:    reading.Some(1013.0 + 2*math.Sin(x/40)),
		Gas:         reading.Some(50000.0 + 5000*math.Sin(x/30)),
		GasStable:   n >= simGasWarmup,
	}
}
