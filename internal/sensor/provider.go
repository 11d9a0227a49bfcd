package sensor

import (
	"context"

	"github.com/rakerig/rakelog/internal/reading"
)

// Source is the interface for environmental sensor backends.
type Source interface {
	// Name returns a human-readable name for console diagnostics.
	Name() string
	// Poll returns the current sample. It never fails for a missing or
	// unresponsive peripheral; that is reported as ok == false.
	Poll(ctx context.Context) (s reading.Sample, ok bool)
	// Close releases the peripheral handle, if any.
	Close() error
}

// Disabled is a Source that never reports data.
type Disabled struct{}

// Name implements Source.
func (Disabled) Name() string { return "Sensor (disabled)" }

// Close implements Source.
func (Disabled) Close() error { return nil }

// Poll always reports absent.
func (Disabled) Poll(context.Context) (reading.Sample, bool) {
	return reading.Sample{}, false
}
