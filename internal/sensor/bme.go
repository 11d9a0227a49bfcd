package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"

	"github.com/rakerig/rakelog/internal/reading"
	"github.com/rakerig/rakelog/internal/retry"
)

// BMEConfig holds configuration for the I²C environmental sensor.
type BMEConfig struct {
	Bus       string   `yaml:"bus" json:"bus"`             // periph bus name, "" = first available
	Addresses []uint16 `yaml:"addresses" json:"addresses"` // tried in order
	Policy    retry.Policy
}

// DefaultAddresses is the order the rig tries addresses in: the breakout
// ships strapped to 0x77, with 0x76 as the alternate.
var DefaultAddresses = []uint16{0x77, 0x76}

// weatherSensor is the part of a periph environmental device the source uses.
type weatherSensor interface {
	Sense(e *physic.Env) error
	Precision(e *physic.Env)
	Halt() error
}

// gasSensor is implemented by devices with a heated gas plate.
type gasSensor interface {
	Gas() (ohms float64, stable, ok bool)
}

type openFunc func(bus string, addr uint16) (weatherSensor, io.Closer, error)

// BME reads temperature, humidity, pressure and, on a BME680, gas
// resistance from a Bosch BMx sensor via periph.io. Initialization is lazy and governed by a retry policy; once the
// policy is spent the source reports absent data for the rest of the process.
type BME struct {
	bus       string
	addresses []uint16
	gate      *retry.Gate
	open      openFunc

	dev    weatherSensor
	closer io.Closer
	addr   uint16

	hasHumidity bool
	hasPressure bool
	gaveUp      bool
}

// NewBME creates a BME source. Nothing touches the bus until the first Poll.
func NewBME(cfg BMEConfig) *BME {
	addrs := cfg.Addresses
	if len(addrs) == 0 {
		addrs = DefaultAddresses
	}
	policy := cfg.Policy
	if policy.MaxAttempts == 0 {
		policy = retry.OneReinit
	}
	return &BME{
		bus:       cfg.Bus,
		addresses: addrs,
		gate:      retry.NewGate(policy),
		open:      openPeriph,
	}
}

// Name implements Source.
func (b *BME) Name() string { return "BME (I2C)" }

// Poll reads one sample. Failures are logged and reported as absent.
func (b *BME) Poll(ctx context.Context) (reading.Sample, bool) {
	if b.dev == nil && !b.init() {
		return reading.Sample{}, false
	}

	var e physic.Env
	if err := b.dev.Sense(&e); err != nil {
		if errors.Is(err, errWarmingUp) {
			return reading.Sample{}, false
		}
		log.Printf("[sensor] read failed at 0x%02x: %v", b.addr, err)
		return reading.Sample{}, false
	}

	s := reading.Sample{
		Temperature: reading.Some(e.Temperature.Celsius()),
	}
	if b.hasHumidity {
		s.Humidity = reading.Some(float64(e.Humidity) / float64(physic.PercentRH))
	}
	if b.hasPressure {
		s.Pressure = reading.Some(float64(e.Pressure) / float64(physic.Pascal) / 100)
	}
	if g, ok := b.dev.(gasSensor); ok {
		if ohms, stable, valid := g.Gas(); valid {
			s.Gas = reading.Some(ohms)
			s.GasStable = stable
		}
	}
	return s, true
}

// init attempts to bring the device up if the policy allows it.
func (b *BME) init() bool {
	if b.gaveUp {
		return false
	}
	err := b.gate.Try(b.connect)
	if err == nil {
		return true
	}
	if errors.Is(err, retry.ErrExhausted) || b.gate.Exhausted() {
		b.gaveUp = true
		log.Printf("[sensor] giving up after %d init attempts: %v; readings absent for this run",
			b.gate.Attempts(), err)
		return false
	}
	log.Printf("[sensor] init attempt %d failed: %v", b.gate.Attempts(), err)
	return false
}

// connect tries each configured address until a device answers.
func (b *BME) connect() error {
	var errs []error
	for _, addr := range b.addresses {
		dev, closer, err := b.open(b.bus, addr)
		if err != nil {
			errs = append(errs, fmt.Errorf("0x%02x: %w", addr, err))
			continue
		}
		b.dev, b.closer, b.addr = dev, closer, addr

		var p physic.Env
		dev.Precision(&p)
		b.hasHumidity = p.Humidity != 0
		b.hasPressure = p.Pressure != 0

		log.Printf("[sensor] found device at 0x%02x (humidity=%v pressure=%v)",
			addr, b.hasHumidity, b.hasPressure)
		return nil
	}
	return fmt.Errorf("sensor: no device found: %w", errors.Join(errs...))
}

// Close halts the device and releases the bus.
func (b *BME) Close() error {
	var errs []error
	if b.dev != nil {
		errs = append(errs, b.dev.Halt())
		b.dev = nil
	}
	if b.closer != nil {
		errs = append(errs, b.closer.Close())
		b.closer = nil
	}
	return errors.Join(errs...)
}

func openPeriph(busName string, addr uint16) (weatherSensor, io.Closer, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, fmt.Errorf("i2c open %q: %w", busName, err)
	}
	dev, err := openDevice(bus, addr)
	if err != nil {
		bus.Close()
		return nil, nil, err
	}
	return dev, bus, nil
}

// openDevice picks a driver from the chip ID. bmxx80 handles the BMP180,
// BMP280 and BME280 but refuses the BME680, which gets its own driver.
func openDevice(bus i2c.Bus, addr uint16) (weatherSensor, error) {
	d := &i2c.Dev{Bus: bus, Addr: addr}
	var id [1]byte
	if err := d.Tx([]byte{regChipID}, id[:]); err != nil {
		return nil, fmt.Errorf("read chip id: %w", err)
	}
	switch id[0] {
	case chipIDBME680:
		dev, err := newBME680(d)
		if err != nil {
			return nil, err
		}
		return dev, nil
	case 0x55, 0x58, 0x60:
		dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
		if err != nil {
			return nil, err
		}
		return dev, nil
	default:
		return nil, fmt.Errorf("unexpected chip id 0x%02x", id[0])
	}
}
