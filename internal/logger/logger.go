package logger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rakerig/rakelog/internal/reading"
)

// ErrNotReady is returned by Append when no session could be opened.
var ErrNotReady = errors.New("logger: session not ready")

const (
	// TimestampFormat is used for the timestamp column.
	TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

	fileStampFormat   = "20060102_150405"
	markerStampFormat = "2006-01-02 15:04:05"
	markerPrefix      = "# New session "
)

// Config holds logger configuration.
type Config struct {
	Dir        string `yaml:"dir" json:"dir"`
	Prefix     string `yaml:"prefix" json:"prefix"`
	GPSColumns bool   `yaml:"gps_columns" json:"gpsColumns"`
}

// Session identifies one log file.
type Session struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	Started time.Time `json:"started"`
}

type column struct {
	name string
	prec int
}

var sensorColumns = []column{
	{reading.Temperature, 2},
	{reading.Humidity, 2},
	{reading.Pressure, 2},
	{reading.Gas, 1},
}

var gpsColumns = []column{
	{reading.Latitude, 6},
	{reading.Longitude, 6},
	{reading.Altitude, 1},
}

// Writer owns one append-only CSV session file per run. The column set is
// fixed when the Writer is created.
type Writer struct {
	mu      sync.Mutex
	dir     string
	prefix  string
	columns []column
	now     func() time.Time

	file    *os.File
	writer  *csv.Writer
	session Session
	rows    int
}

// New creates a Writer. No file is created until BeginSession.
func New(cfg Config) *Writer {
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "rake_log"
	}
	cols := append([]column{}, sensorColumns...)
	if cfg.GPSColumns {
		cols = append(cols, gpsColumns...)
	}
	return &Writer{
		dir:     cfg.Dir,
		prefix:  cfg.Prefix,
		columns: cols,
		now:     time.Now,
	}
}

// Header returns the column header written as row 1 of every session.
func (w *Writer) Header() []string {
	h := make([]string, 0, len(w.columns)+1)
	h = append(h, "timestamp")
	for _, c := range w.columns {
		h = append(h, c.name)
	}
	return h
}

// BeginSession creates a new session file with its header and marker rows.
// On failure the writer is left not ready.
func (w *Writer) BeginSession() (Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.begin()
}

func (w *Writer) begin() (Session, error) {
	w.closeFile()

	now := w.now()
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return Session{}, fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	f, path, err := w.create(now)
	if err != nil {
		return Session{}, err
	}

	cw := csv.NewWriter(f)
	header := w.Header()
	marker := make([]string, len(header))
	marker[0] = markerPrefix + now.Format(markerStampFormat)
	cw.Write(header)
	cw.Write(marker)
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return Session{}, fmt.Errorf("write header %s: %w", path, err)
	}

	w.file = f
	w.writer = cw
	w.rows = 0
	w.session = Session{
		ID:      uuid.NewString(),
		Path:    path,
		Started: now,
	}
	log.Printf("[logger] opened %s (session %s)", path, w.session.ID)
	return w.session, nil
}

// create opens a fresh file named after now. An existing file is never
// reused; a numeric suffix keeps names distinct and in sort order.
func (w *Writer) create(now time.Time) (*os.File, string, error) {
	stamp := now.Format(fileStampFormat)
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("%s_%s.csv", w.prefix, stamp)
		if i > 0 {
			name = fmt.Sprintf("%s_%s_%02d.csv", w.prefix, stamp, i)
		}
		path := filepath.Join(w.dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create %s: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("create %s_%s.csv: too many sessions in one second", w.prefix, stamp)
}

// Append writes one reading as a row and flushes it to disk. If no session
// is open, or the file has disappeared, a new session is begun first.
func (w *Writer) Append(r reading.Reading) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.ready() {
		if w.writer != nil {
			log.Printf("[logger] %s disappeared, starting a new session", w.session.Path)
		}
		if _, err := w.begin(); err != nil {
			return fmt.Errorf("%w: %v", ErrNotReady, err)
		}
	}

	if err := w.writer.Write(w.row(r)); err != nil {
		w.closeFile()
		return fmt.Errorf("write %s: %w", w.session.Path, err)
	}
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		w.closeFile()
		return fmt.Errorf("write %s: %w", w.session.Path, err)
	}
	if err := w.file.Sync(); err != nil {
		log.Printf("[logger] sync %s: %v", w.session.Path, err)
	}
	w.rows++
	return nil
}

func (w *Writer) ready() bool {
	if w.writer == nil {
		return false
	}
	_, err := os.Stat(w.session.Path)
	return err == nil
}

// Ready reports whether a session is open and its file still exists.
func (w *Writer) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready()
}

// Session returns the current session and whether one is open.
func (w *Writer) Session() (Session, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session, w.writer != nil
}

// Rows returns the number of readings appended to the current session.
func (w *Writer) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Close flushes and closes the current file. The session stays on disk.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeFile()
}

func (w *Writer) closeFile() {
	if w.writer != nil {
		w.writer.Flush()
		w.writer = nil
	}
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
}

func (w *Writer) row(r reading.Reading) []string {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = w.now()
	}
	row := make([]string, 0, len(w.columns)+1)
	row = append(row, ts.Format(TimestampFormat))
	for _, c := range w.columns {
		row = append(row, formatValue(r.Metric(c.name), c.prec))
	}
	return row
}

func formatValue(v reading.Value, prec int) string {
	f, ok := v.Get()
	if !ok {
		return ""
	}
	return strconv.FormatFloat(f, 'f', prec, 64)
}
