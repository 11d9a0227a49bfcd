package server

import "math"

const (
	// jumps larger than this between consecutive fixes are receiver glitches
	maxStepKm = 0.5
	// ~2 metres; below this the receiver is just wandering in place
	minStepKm = 0.002
)

// trail accumulates distance walked from consecutive GPS fixes.
type trail struct {
	km    float64
	fixes int

	lastLat, lastLon float64
	seeded           bool
}

func (t *trail) add(lat, lon float64) {
	t.fixes++
	if !t.seeded {
		// First valid fix: seed position, don't accumulate
		t.lastLat, t.lastLon = lat, lon
		t.seeded = true
		return
	}

	dist := haversineKm(t.lastLat, t.lastLon, lat, lon)
	if dist > maxStepKm {
		t.lastLat, t.lastLon = lat, lon
		return
	}
	if dist > minStepKm {
		t.km += dist
		t.lastLat, t.lastLon = lat, lon
	}
}

func (t *trail) data() TrailData {
	return TrailData{Distance: math.Round(t.km*1000) / 1000, Fixes: t.fixes}
}

// haversineKm calculates the great-circle distance between two lat/lon points.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0 // Earth radius km
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
