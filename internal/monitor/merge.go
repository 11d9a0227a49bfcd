package monitor

import (
	"github.com/rakerig/rakelog/internal/reading"
)

// Merge combines one sensor poll and one position poll. The sensor sample is
// the base; a fix overlays latitude, longitude and altitude. Absent inputs
// leave their fields absent.
func Merge(s reading.Sample, sensorOK bool, f reading.Fix, fixOK bool) reading.Reading {
	var r reading.Reading
	if sensorOK {
		r = reading.FromSample(s)
	}
	if fixOK {
		r = r.WithFix(f)
	}
	return r
}

// FillMissing replaces absent sensor metrics with values from synth and
// returns the names of the metrics it filled. Position fields are never
// synthesized.
func FillMissing(r reading.Reading, synth reading.Sample) (reading.Reading, []string) {
	var filled []string
	fill := func(dst *reading.Value, src reading.Value, name string) {
		if !dst.Present() && src.Present() {
			*dst = src
			filled = append(filled, name)
		}
	}
	fill(&r.Temperature, synth.Temperature, reading.Temperature)
	fill(&r.Humidity, synth.Humidity, reading.Humidity)
	fill(&r.Pressure, synth.Pressure, reading.Pressure)
	fill(&r.Gas, synth.Gas, reading.Gas)
	return r, filled
}
