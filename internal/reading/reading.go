package reading

import (
	"encoding/json"
	"math"
	"time"
)

// Value is an optional real number. The zero Value is absent.
type Value struct {
	v  float64
	ok bool
}

// Some returns a present Value. NaN and Inf are treated as absent.
func Some(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{}
	}
	return Value{v: v, ok: true}
}

// None returns an absent Value.
func None() Value { return Value{} }

// Get returns the number and whether it is present.
func (v Value) Get() (float64, bool) { return v.v, v.ok }

// Present reports whether the value is set.
func (v Value) Present() bool { return v.ok }

// Or returns the number, or def when absent.
func (v Value) Or(def float64) float64 {
	if v.ok {
		return v.v
	}
	return def
}

// MarshalJSON encodes an absent value as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.ok {
		return []byte("null"), nil
	}
	return json.Marshal(v.v)
}

// UnmarshalJSON accepts a number or null.
func (v *Value) UnmarshalJSON(data []byte) error {
	var p *float64
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p == nil {
		*v = Value{}
		return nil
	}
	*v = Some(*p)
	return nil
}

// Sample is what an environmental sensor reports for one poll.
// Each metric is independently optional.
type Sample struct {
	Temperature Value // °C
	Humidity    Value // %RH
	Pressure    Value // hPa
	Gas         Value // Ω, heater resistance

	// GasStable is set once the gas heater has settled. Not forwarded into a Reading.
	GasStable bool
}

// Fix is a complete position: latitude, longitude and altitude are always
// reported together.
type Fix struct {
	Latitude  float64 `json:"latitude"`  // decimal degrees
	Longitude float64 `json:"longitude"` // decimal degrees
	Altitude  float64 `json:"altitude"`  // metres above mean sea level
}

// Reading is one merged, timestamped sample: the unit of logging and display.
type Reading struct {
	Timestamp   time.Time `json:"timestamp"`
	Temperature Value     `json:"temperature"`
	Humidity    Value     `json:"humidity"`
	Pressure    Value     `json:"pressure"`
	Gas         Value     `json:"gas"`
	Latitude    Value     `json:"latitude"`
	Longitude   Value     `json:"longitude"`
	Altitude    Value     `json:"altitude"`
}

// FromSample starts a Reading from a sensor sample.
func FromSample(s Sample) Reading {
	return Reading{
		Temperature: s.Temperature,
		Humidity:    s.Humidity,
		Pressure:    s.Pressure,
		Gas:         s.Gas,
	}
}

// WithFix overlays a position fix on the reading.
func (r Reading) WithFix(f Fix) Reading {
	r.Latitude = Some(f.Latitude)
	r.Longitude = Some(f.Longitude)
	r.Altitude = Some(f.Altitude)
	return r
}

// HasFix reports whether the reading carries a position.
func (r Reading) HasFix() bool {
	return r.Latitude.Present() && r.Longitude.Present() && r.Altitude.Present()
}

// Metric names shared by the log columns, the history buffer and the dashboard.
const (
	Temperature = "temperature"
	Humidity    = "humidity"
	Pressure    = "pressure"
	Gas         = "gas"
	Latitude    = "latitude"
	Longitude   = "longitude"
	Altitude    = "altitude"
)

// Metric returns the named metric of the reading.
func (r Reading) Metric(name string) Value {
	switch name {
	case Temperature:
		return r.Temperature
	case Humidity:
		return r.Humidity
	case Pressure:
		return r.Pressure
	case Gas:
		return r.Gas
	case Latitude:
		return r.Latitude
	case Longitude:
		return r.Longitude
	case Altitude:
		return r.Altitude
	}
	return None()
}
