package gps

import "io"

// NewNMEAOnPort returns an NMEA source that reads from port instead of a
// serial device.
func NewNMEAOnPort(cfg NMEAConfig, port io.ReadCloser) *NMEA {
	n := NewNMEA(cfg)
	n.open = func() (io.ReadCloser, error) { return port, nil }
	return n
}
