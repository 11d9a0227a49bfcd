// Package config loads rig configuration from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rakerig/rakelog/internal/gps"
	"github.com/rakerig/rakelog/internal/logger"
	"github.com/rakerig/rakelog/internal/monitor"
	"github.com/rakerig/rakelog/internal/publish"
	"github.com/rakerig/rakelog/internal/sensor"
)

// Config holds all rig configuration.
type Config struct {
	Sensor  SensorConfig   `yaml:"sensor" json:"sensor"`
	GPS     GPSConfig      `yaml:"gps" json:"gps"`
	Logging LoggingConfig  `yaml:"logging" json:"logging"`
	Monitor MonitorConfig  `yaml:"monitor" json:"monitor"`
	Server  ServerConfig   `yaml:"server" json:"server"`
	MQTT    publish.Config `yaml:"mqtt" json:"mqtt"`
}

// SensorConfig selects the environmental sensor and where to find it.
type SensorConfig struct {
	Type      string   `yaml:"type" json:"type"`           // "bme", "demo" or "disabled"
	Bus       string   `yaml:"bus" json:"bus"`             // periph I²C bus name, "" = first
	Addresses []uint16 `yaml:"addresses" json:"addresses"` // tried in order
}

// GPSConfig selects the position source. ReadWindow caps the time one tick
// spends draining the serial port and must stay under the refresh interval.
type GPSConfig struct {
	Type       string        `yaml:"type" json:"type"`          // "nmea", "demo" or "disabled"
	PortPath   string        `yaml:"port_path" json:"portPath"` // e.g. /dev/serial0
	BaudRate   int           `yaml:"baud_rate" json:"baudRate"`
	ReadWindow time.Duration `yaml:"read_window" json:"readWindow"`
}

// LoggingConfig controls where session files go and how often a record is
// written.
type LoggingConfig struct {
	Dir        string `yaml:"dir" json:"dir"`
	Prefix     string `yaml:"prefix" json:"prefix"`
	Interval   int    `yaml:"interval_ms" json:"intervalMs"` // ms between logged records
	GPSColumns bool   `yaml:"gps_columns" json:"gpsColumns"`
}

// MonitorConfig tunes the acquisition loop.
type MonitorConfig struct {
	Mode              string `yaml:"mode" json:"mode"`            // "unattended" or "interactive"
	Refresh           int    `yaml:"refresh_ms" json:"refreshMs"` // ms between ticks
	HistoryLen        int    `yaml:"history_len" json:"historyLen"`
	SyntheticFallback bool   `yaml:"synthetic_fallback" json:"syntheticFallback"`
}

// ServerConfig controls the web dashboard.
type ServerConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// Default returns a config with the rig's usual wiring.
func Default() *Config {
	return &Config{
		Sensor: SensorConfig{
			Type:      "bme",
			Addresses: append([]uint16(nil), sensor.DefaultAddresses...),
		},
		GPS: GPSConfig{
			Type:       "nmea",
			PortPath:   "/dev/serial0",
			BaudRate:   9600,
			ReadWindow: gps.DefaultReadWindow,
		},
		Logging: LoggingConfig{
			Dir:        ".",
			Prefix:     "rake_log",
			Interval:   1000,
			GPSColumns: true,
		},
		Monitor: MonitorConfig{
			Mode:              "unattended",
			Refresh:           100,
			HistoryLen:        120,
			SyntheticFallback: true,
		},
		Server: ServerConfig{
			Enabled:    true,
			ListenAddr: ":8080",
		},
		MQTT: publish.Config{
			Enabled:  false,
			Broker:   "tcp://localhost:1883",
			ClientID: "rakelog",
			Topic:    "rake/readings",
		},
	}
}

// Load reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if the YAML is missing or bad.
func Load(path string) *Config {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = Default()
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// .env next to the config, then in CWD
	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		// real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: SENSOR_TYPE, SENSOR_BUS, GPS_TYPE, GPS_PORT, GPS_BAUD, LOG_DIR,
// LOG_PREFIX, LOG_INTERVAL_MS, MONITOR_MODE, LISTEN_ADDR, MQTT_BROKER,
// MQTT_ENABLED
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SENSOR_TYPE"); v != "" {
		c.Sensor.Type = v
	}
	if v := os.Getenv("SENSOR_BUS"); v != "" {
		c.Sensor.Bus = v
	}
	if v := os.Getenv("GPS_TYPE"); v != "" {
		c.GPS.Type = v
	}
	if v := os.Getenv("GPS_PORT"); v != "" {
		c.GPS.PortPath = v
	}
	if v := os.Getenv("GPS_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.GPS.BaudRate = n
		}
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		c.Logging.Dir = v
	}
	if v := os.Getenv("LOG_PREFIX"); v != "" {
		c.Logging.Prefix = v
	}
	if v := os.Getenv("LOG_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Logging.Interval = n
		}
	}
	if v := os.Getenv("MONITOR_MODE"); v != "" {
		c.Monitor.Mode = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_ENABLED"); v != "" {
		c.MQTT.Enabled = v == "1" || v == "true" || v == "yes"
	}
}

// Validate reports every setting the rig cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Sensor.Type {
	case "bme", "demo", "disabled":
	default:
		errs = append(errs, fmt.Errorf("sensor.type %q: want bme, demo or disabled", c.Sensor.Type))
	}
	switch c.GPS.Type {
	case "nmea", "demo", "disabled":
	default:
		errs = append(errs, fmt.Errorf("gps.type %q: want nmea, demo or disabled", c.GPS.Type))
	}
	if _, err := monitor.ParseMode(c.Monitor.Mode); err != nil {
		errs = append(errs, fmt.Errorf("monitor.mode: %w", err))
	}
	if c.Logging.Interval <= 0 {
		errs = append(errs, fmt.Errorf("logging.interval_ms must be positive, got %d", c.Logging.Interval))
	}
	if c.Monitor.Refresh <= 0 {
		errs = append(errs, fmt.Errorf("monitor.refresh_ms must be positive, got %d", c.Monitor.Refresh))
	}
	if c.GPS.Type == "nmea" && c.Monitor.Refresh > 0 &&
		c.GPS.ReadWindow >= time.Duration(c.Monitor.Refresh)*time.Millisecond {
		errs = append(errs, fmt.Errorf("gps.read_window %s must be shorter than monitor.refresh_ms %d",
			c.GPS.ReadWindow, c.Monitor.Refresh))
	}
	if c.Monitor.HistoryLen < 0 {
		errs = append(errs, fmt.Errorf("monitor.history_len must not be negative, got %d", c.Monitor.HistoryLen))
	}
	if c.Logging.Prefix == "" || strings.ContainsRune(c.Logging.Prefix, filepath.Separator) {
		errs = append(errs, fmt.Errorf("logging.prefix %q is not a file name prefix", c.Logging.Prefix))
	}
	return errors.Join(errs...)
}

// BME returns the sensor source configuration.
func (c *Config) BME() sensor.BMEConfig {
	return sensor.BMEConfig{Bus: c.Sensor.Bus, Addresses: c.Sensor.Addresses}
}

// NMEA returns the GPS source configuration.
func (c *Config) NMEA() gps.NMEAConfig {
	return gps.NMEAConfig{
		PortPath:   c.GPS.PortPath,
		BaudRate:   c.GPS.BaudRate,
		ReadWindow: c.GPS.ReadWindow,
	}
}

// Logger returns the session writer configuration. GPS columns are only
// written when a GPS source is configured.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Dir:        c.Logging.Dir,
		Prefix:     c.Logging.Prefix,
		GPSColumns: c.Logging.GPSColumns && c.GPS.Type != "disabled",
	}
}

// Loop returns the sampling loop configuration. Call Validate first.
func (c *Config) Loop() monitor.Config {
	mode, _ := monitor.ParseMode(c.Monitor.Mode)
	return monitor.Config{
		Mode:       mode,
		Cadence:    time.Duration(c.Logging.Interval) * time.Millisecond,
		Refresh:    time.Duration(c.Monitor.Refresh) * time.Millisecond,
		HistoryLen: c.Monitor.HistoryLen,
	}
}
