// Package monitor runs the sampling loop: it polls the sensor and GPS
// sources, merges their results into one Reading, keeps the rolling history,
// writes the session log at a fixed cadence and hands every frame to the
// display.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rakerig/rakelog/internal/gps"
	"github.com/rakerig/rakelog/internal/history"
	"github.com/rakerig/rakelog/internal/logger"
	"github.com/rakerig/rakelog/internal/metrics"
	"github.com/rakerig/rakelog/internal/reading"
	"github.com/rakerig/rakelog/internal/sensor"
)

// State is the loop lifecycle state.
type State int32

const (
	Starting State = iota // constructed, session not yet open
	Running               // Start succeeded; Tick and Run may be called
	Stopping              // Run is winding down
	Stopped               // Run has returned
)

// String returns the upper-case name shown on the dashboard and /health.
func (s State) String() string {
	switch s {
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	case Stopped:
		return "STOPPED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Mode decides whether the display may stop the loop.
type Mode int

const (
	// Unattended runs from power-on to power-off; only a signal stops it.
	Unattended Mode = iota
	// Interactive also stops on the display's quit intent.
	Interactive
)

// String returns the name accepted by ParseMode.
func (m Mode) String() string {
	if m == Interactive {
		return "interactive"
	}
	return "unattended"
}

// ParseMode accepts "unattended" (also "continuous") or "interactive".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unattended", "continuous":
		return Unattended, nil
	case "interactive", "manual":
		return Interactive, nil
	}
	return Unattended, fmt.Errorf("monitor: unknown mode %q", s)
}

// Recorder is the session log. *logger.Writer implements it.
type Recorder interface {
	BeginSession() (logger.Session, error)
	Append(r reading.Reading) error
	Session() (logger.Session, bool)
}

// Publisher mirrors logged readings somewhere else (e.g. MQTT).
type Publisher interface {
	Publish(r reading.Reading) error
}

// Config holds loop timing and behaviour.
type Config struct {
	Mode       Mode
	Cadence    time.Duration // between logged records
	Refresh    time.Duration // between ticks
	HistoryLen int
}

// Defaults applied by New to a zero Config.
const (
	DefaultCadence = time.Second
	DefaultRefresh = 100 * time.Millisecond

	progressEvery = 10
)

// Option configures optional collaborators.
type Option func(*Monitor)

// WithDisplay sets the display. Without one the loop runs headless.
func WithDisplay(d Display) Option { return func(m *Monitor) { m.display = d } }

// WithFallback fills absent sensor metrics with simulated values indexed by
// the tick count. A nil source disables synthetic values.
func WithFallback(s *sensor.Simulated) Option { return func(m *Monitor) { m.fallback = s } }

// WithPublisher mirrors every logged reading.
func WithPublisher(p Publisher) Option { return func(m *Monitor) { m.publisher = p } }

// WithMetrics instruments the loop.
func WithMetrics(mt *metrics.Metrics) Option { return func(m *Monitor) { m.metrics = mt } }

// Monitor is the sampling loop. Everything except State is owned by the
// goroutine calling Start, Run and Tick.
type Monitor struct {
	cfg       Config
	sensor    sensor.Source
	gps       gps.Source
	rec       Recorder
	display   Display
	fallback  *sensor.Simulated
	publisher Publisher
	metrics   *metrics.Metrics
	history   *history.Buffer

	state    atomic.Int32
	ticks    uint64
	nextLog  time.Time
	records  int
	session  logger.Session
	headless bool
}

// New creates a Monitor in the STARTING state.
func New(cfg Config, src sensor.Source, pos gps.Source, rec Recorder, opts ...Option) *Monitor {
	if cfg.Cadence <= 0 {
		cfg.Cadence = DefaultCadence
	}
	if cfg.Refresh <= 0 {
		cfg.Refresh = DefaultRefresh
	}
	if src == nil {
		src = sensor.Disabled{}
	}
	if pos == nil {
		pos = gps.Disabled{}
	}
	m := &Monitor{
		cfg:     cfg,
		sensor:  src,
		gps:     pos,
		rec:     rec,
		history: history.New(cfg.HistoryLen),
	}
	for _, o := range opts {
		o(m)
	}
	if m.display == nil {
		m.display = headless{}
		m.headless = true
	}
	return m
}

// State returns the current lifecycle state.
func (m *Monitor) State() State { return State(m.state.Load()) }

func (m *Monitor) setState(s State) {
	prev := State(m.state.Swap(int32(s)))
	m.metrics.SetState(int(s))
	if prev != s {
		log.Printf("[monitor] %s -> %s", prev, s)
	}
}

// History returns the rolling history buffer.
func (m *Monitor) History() *history.Buffer { return m.history }

// Records returns the number of readings logged this run.
func (m *Monitor) Records() int { return m.records }

// Start begins the log session, retrying once. An error here means the
// process has nothing to do and should exit.
func (m *Monitor) Start() error {
	if m.rec == nil {
		return errors.New("monitor: no session log")
	}
	log.Printf("[monitor] sensor=%s gps=%s mode=%s cadence=%v refresh=%v",
		m.sensor.Name(), m.gps.Name(), m.cfg.Mode, m.cfg.Cadence, m.cfg.Refresh)

	s, err := m.rec.BeginSession()
	if err != nil {
		log.Printf("[monitor] begin session failed: %v (retrying once)", err)
		s, err = m.rec.BeginSession()
	}
	if err != nil {
		m.setState(Stopped)
		return fmt.Errorf("monitor: cannot start session: %w", err)
	}
	m.session = s
	m.metrics.SessionBegun()
	log.Printf("[monitor] ✓ logging to %s", s.Path)
	m.setState(Running)
	return nil
}

// Run ticks until ctx is cancelled or, in interactive mode, the display asks
// to quit. Cancellation is checked once per tick.
func (m *Monitor) Run(ctx context.Context) error {
	if m.State() != Running {
		return fmt.Errorf("monitor: Run called in state %s", m.State())
	}
	ticker := time.NewTicker(m.cfg.Refresh)
	defer ticker.Stop()

	reason := "context done"
	for {
		if err := ctx.Err(); err != nil {
			reason = err.Error()
			break
		}
		if m.Tick(ctx, time.Now()) {
			reason = "quit requested"
			break
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}

	m.setState(Stopping)
	log.Printf("[monitor] stopping (%s), %d records logged", reason, m.records)
	m.setState(Stopped)
	return nil
}

// Tick runs one loop iteration at time now and reports whether the loop
// should stop. Failures inside the tick are logged and never propagate.
func (m *Monitor) Tick(ctx context.Context, now time.Time) (stop bool) {
	m.metrics.Tick()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[monitor] tick %d recovered: %v", m.ticks, r)
			m.metrics.TickError()
			stop = false
		}
		m.ticks++
	}()

	r, synthetic := m.sample(ctx, now)
	m.history.Push(r)

	logged := false
	if !now.Before(m.nextLog) {
		logged = m.record(r)
		if logged {
			m.advanceCadence(now)
		}
	}

	intents, err := m.display.Render(Frame{
		Reading:   r,
		History:   m.history.Snapshot(),
		Synthetic: synthetic,
		Logged:    logged,
		Records:   m.records,
		Session:   m.session,
		State:     m.State().String(),
		Mode:      m.cfg.Mode.String(),
	})
	if err != nil {
		log.Printf("[monitor] render failed: %v", err)
		m.metrics.TickError()
	}
	return m.apply(intents)
}

// sample polls both sources and builds the merged reading.
func (m *Monitor) sample(ctx context.Context, now time.Time) (reading.Reading, []string) {
	s, sensorOK := m.sensor.Poll(ctx)
	if !sensorOK {
		m.metrics.Absent("sensor")
	}
	fix, fixOK := m.gps.Poll(ctx)
	if !fixOK {
		m.metrics.Absent("gps")
	}

	r := Merge(s, sensorOK, fix, fixOK)
	var synthetic []string
	if m.fallback != nil {
		r, synthetic = FillMissing(r, m.fallback.At(m.ticks))
		if len(synthetic) > 0 {
			m.metrics.Synthetic()
		}
	}
	r.Timestamp = now

	for _, name := range []string{reading.Temperature, reading.Humidity, reading.Pressure, reading.Gas} {
		if v, ok := r.Metric(name).Get(); ok {
			m.metrics.SetValue(name, v)
		}
	}
	return r, synthetic
}

// advanceCadence schedules the next log slot one cadence after the previous
// one, or after now if the loop fell behind, so the rate stays at 1/cadence.
func (m *Monitor) advanceCadence(now time.Time) {
	if m.nextLog.IsZero() {
		m.nextLog = now
	}
	m.nextLog = m.nextLog.Add(m.cfg.Cadence)
	if !m.nextLog.After(now) {
		m.nextLog = now.Add(m.cfg.Cadence)
	}
}

// record appends r to the session log and mirrors it on success.
func (m *Monitor) record(r reading.Reading) bool {
	if err := m.rec.Append(r); err != nil {
		log.Printf("[monitor] ✗ record lost: %v", err)
		m.metrics.Logged(false)
		return false
	}
	m.metrics.Logged(true)
	m.records++

	if s, ok := m.rec.Session(); ok && s.ID != m.session.ID {
		log.Printf("[monitor] logging continues in new session %s", s.Path)
		m.session = s
		m.metrics.SessionBegun()
	}
	if m.publisher != nil {
		if err := m.publisher.Publish(r); err != nil {
			log.Printf("[monitor] publish failed: %v", err)
		}
	}
	if m.headless && m.records%progressEvery == 0 {
		log.Printf("[monitor] ✓ %d records logged", m.records)
	}
	return true
}

// apply handles display intents and reports whether the loop should stop.
func (m *Monitor) apply(intents []Intent) bool {
	for _, in := range intents {
		switch in {
		case IntentQuit:
			if m.cfg.Mode == Interactive {
				return true
			}
			log.Printf("[monitor] quit ignored in %s mode", m.cfg.Mode)
		default:
			log.Printf("[monitor] unknown intent %d", in)
		}
	}
	return false
}
