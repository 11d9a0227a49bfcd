// Package publish mirrors logged readings to an MQTT broker. The CSV session
// stays the record of truth; the mirror is best-effort.
package publish

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rakerig/rakelog/internal/reading"
)

// Config holds MQTT mirror configuration.
type Config struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Broker   string `yaml:"broker" json:"broker"`
	ClientID string `yaml:"client_id" json:"clientId"`
	Topic    string `yaml:"topic" json:"topic"`
	QoS      byte   `yaml:"qos" json:"qos"`
	Retained bool   `yaml:"retained" json:"retained"`
}

const publishTimeout = 500 * time.Millisecond

// MQTT publishes readings as JSON. The client reconnects on its own; while it
// is down Publish fails fast.
type MQTT struct {
	client   mqtt.Client
	topic    string
	qos      byte
	retained bool
}

// payload is the wire form of a reading.
type payload struct {
	Timestamp   string   `json:"timestamp"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Pressure    *float64 `json:"pressure"`
	Gas         *float64 `json:"gas"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Altitude    *float64 `json:"altitude"`
}

// NewMQTT creates the client and starts connecting in the background.
func NewMQTT(cfg Config) *MQTT {
	if cfg.Broker == "" {
		cfg.Broker = "tcp://localhost:1883"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "rakelog"
	}
	if cfg.Topic == "" {
		cfg.Topic = "rake/readings"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Printf("[mqtt] connected to %s", cfg.Broker)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("[mqtt] connection lost: %v", err)
		})

	client := mqtt.NewClient(opts)
	client.Connect()

	return &MQTT{
		client:   client,
		topic:    cfg.Topic,
		qos:      cfg.QoS,
		retained: cfg.Retained,
	}
}

// Publish sends r without blocking the loop for longer than publishTimeout.
func (m *MQTT) Publish(r reading.Reading) error {
	if !m.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt: not connected")
	}
	data, err := json.Marshal(toPayload(r))
	if err != nil {
		return fmt.Errorf("mqtt: marshal: %w", err)
	}
	token := m.client.Publish(m.topic, m.qos, m.retained, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: publish to %s timed out", m.topic)
	}
	return token.Error()
}

// Close disconnects, allowing in-flight messages a short grace period.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}

func toPayload(r reading.Reading) payload {
	ptr := func(v reading.Value) *float64 {
		if f, ok := v.Get(); ok {
			return &f
		}
		return nil
	}
	return payload{
		Timestamp:   r.Timestamp.Format(time.RFC3339Nano),
		Temperature: ptr(r.Temperature),
		Humidity:    ptr(r.Humidity),
		Pressure:    ptr(r.Pressure),
		Gas:         ptr(r.Gas),
		Latitude:    ptr(r.Latitude),
		Longitude:   ptr(r.Longitude),
		Altitude:    ptr(r.Altitude),
	}
}
