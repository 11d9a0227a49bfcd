// Package session reads the CSV session files written by the logger.
package session

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"

	"github.com/rakerig/rakelog/internal/reading"
)

// Discover lists the session files for prefix in dir. File names embed
// their creation time, so lexicographic order is chronological.
func Discover(dir, prefix string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, prefix+"_*.csv"))
	if err != nil {
		return nil, fmt.Errorf("session: glob %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// File is one parsed session.
type File struct {
	Path     string
	Header   []string
	Markers  []string // "# New session ..." rows
	Readings []reading.Reading
	BadRows  int // rows that could not be parsed
}

// Load parses a session file. Marker rows are collected, rows that fail to
// parse are counted and skipped.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	defer f.Close()
	sf, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("session: %s: %w", path, err)
	}
	sf.Path = path
	return sf, nil
}

// Parse reads a session from r.
func Parse(r io.Reader) (*File, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty file")
		}
		return nil, fmt.Errorf("header: %w", err)
	}
	if len(header) == 0 || header[0] != "timestamp" {
		return nil, fmt.Errorf("unexpected header %q", header)
	}

	sf := &File{Header: header}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// a torn last line after power loss
			sf.BadRows++
			continue
		}
		if strings.HasPrefix(row[0], "#") {
			sf.Markers = append(sf.Markers, row[0])
			continue
		}
		rd, err := parseRow(header, row)
		if err != nil {
			sf.BadRows++
			continue
		}
		sf.Readings = append(sf.Readings, rd)
	}
	return sf, nil
}

func parseRow(header, row []string) (reading.Reading, error) {
	if len(row) != len(header) {
		return reading.Reading{}, fmt.Errorf("row has %d fields, header %d", len(row), len(header))
	}
	ts, err := parseTimestamp(row[0])
	if err != nil {
		return reading.Reading{}, err
	}
	rd := reading.Reading{Timestamp: ts}
	for i := 1; i < len(header); i++ {
		if row[i] == "" {
			continue
		}
		f, err := strconv.ParseFloat(row[i], 64)
		if err != nil {
			return reading.Reading{}, fmt.Errorf("%s: %w", header[i], err)
		}
		v := reading.Some(f)
		switch header[i] {
		case reading.Temperature:
			rd.Temperature = v
		case reading.Humidity:
			rd.Humidity = v
		case reading.Pressure:
			rd.Pressure = v
		case reading.Gas:
			rd.Gas = v
		case reading.Latitude:
			rd.Latitude = v
		case reading.Longitude:
			rd.Longitude = v
		case reading.Altitude:
			rd.Altitude = v
		}
	}
	return rd, nil
}

// parseTimestamp accepts ISO 8601, plus the space-separated form older
// loggers wrote.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := iso8601.ParseString(s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02 15:04:05", s, time.Local)
}
