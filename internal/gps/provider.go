package gps

import (
	"context"

	"github.com/rakerig/rakelog/internal/reading"
)

// Source is the interface for position backends.
type Source interface {
	Name() string
	// Poll returns the current fix, or ok == false when there is none. A
	// missing, busy or silent receiver is reported as no fix, never as an error.
	Poll(ctx context.Context) (fix reading.Fix, ok bool)
	Close() error
}

// Disabled is a Source that never has a fix.
type Disabled struct{}

func (Disabled) Name() string { return "GPS (disabled)" }
func (Disabled) Close() error { return nil }

func (Disabled) Poll(context.Context) (reading.Fix, bool) {
	return reading.Fix{}, false
}
