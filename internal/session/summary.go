package session

import (
	"math"
	"time"

	"github.com/rakerig/rakelog/internal/reading"
)

// Stat summarizes one metric.
type Stat struct {
	Count int
	Min   float64
	Max   float64
	Mean  float64
}

// Summary describes a set of readings.
type Summary struct {
	Readings int
	Fixes    int
	First    time.Time
	Last     time.Time
	Metrics  map[string]Stat
}

// Duration is the span between the first and last reading.
func (s Summary) Duration() time.Duration {
	if s.First.IsZero() {
		return 0
	}
	return s.Last.Sub(s.First)
}

// SummaryMetrics lists the metrics Summarize reports on.
var SummaryMetrics = []string{
	reading.Temperature, reading.Humidity, reading.Pressure, reading.Gas, reading.Altitude,
}

// Summarize computes counts, time range and per-metric min/mean/max.
func Summarize(readings []reading.Reading) Summary {
	s := Summary{Metrics: make(map[string]Stat, len(SummaryMetrics))}
	sums := make(map[string]float64, len(SummaryMetrics))

	for _, r := range readings {
		s.Readings++
		if r.HasFix() {
			s.Fixes++
		}
		if s.First.IsZero() || r.Timestamp.Before(s.First) {
			s.First = r.Timestamp
		}
		if r.Timestamp.After(s.Last) {
			s.Last = r.Timestamp
		}
		for _, name := range SummaryMetrics {
			v, ok := r.Metric(name).Get()
			if !ok {
				continue
			}
			st := s.Metrics[name]
			if st.Count == 0 {
				st.Min, st.Max = v, v
			} else {
				st.Min = math.Min(st.Min, v)
				st.Max = math.Max(st.Max, v)
			}
			st.Count++
			sums[name] += v
			s.Metrics[name] = st
		}
	}
	for name, st := range s.Metrics {
		st.Mean = sums[name] / float64(st.Count)
		s.Metrics[name] = st
	}
	return s
}
