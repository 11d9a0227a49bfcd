package monitor

import (
	"github.com/rakerig/rakelog/internal/history"
	"github.com/rakerig/rakelog/internal/logger"
	"github.com/rakerig/rakelog/internal/reading"
)

// Intent is a request sent back from the display.
type Intent int

const (
	IntentQuit Intent = iota + 1 // stop the loop; honoured in interactive mode only
)

// String returns the intent's wire name.
func (i Intent) String() string {
	switch i {
	case IntentQuit:
		return "quit"
	}
	return "unknown"
}

// Frame is what the display receives every tick.
type Frame struct {
	Reading   reading.Reading  `json:"reading"`
	History   history.Snapshot `json:"history"`
	Synthetic []string         `json:"synthetic,omitempty"` // metrics filled by the fallback
	Logged    bool             `json:"logged"`              // this reading was written to the session
	Records   int              `json:"records"`             // readings logged this run
	Session   logger.Session   `json:"session"`
	State     string           `json:"state"`
	Mode      string           `json:"mode"`
}

// Display renders frames and reports user intents. Render is called once per
// tick from the sampling loop.
type Display interface {
	Render(f Frame) ([]Intent, error)
}

// headless is used when no display is configured.
type headless struct{}

func (headless) Render(Frame) ([]Intent, error) { return nil, nil }
