package sensor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// BME680 registers and bits.
const (
	regChipID   = 0xD0
	regReset    = 0xE0
	regCoeff1   = 0x89
	regCoeff2   = 0xE1
	regHeatInfo = 0x00 // res_heat_val (0x00), res_heat_range (0x02), range_sw_err (0x04)
	regField0   = 0x1D
	regCtrlGas1 = 0x71
	regCtrlHum  = 0x72
	regCtrlMeas = 0x74
	regConfig   = 0x75
	regResHeat0 = 0x5A
	regGasWait0 = 0x64

	chipIDBME680 = 0x61
	softReset    = 0xB6

	statusNewData      = 0x80
	statusGasMeasuring = 0x40
	statusMeasuring    = 0x20
	gasValid           = 0x20
	heatStable         = 0x10
	runGas             = 0x10

	modeForced = 0x01

	coeff1Len = 25
	coeff2Len = 16
	fieldLen  = 15
)

// Oversampling register codes.
const (
	os2x = 2
	os4x = 3
	os8x = 4

	filterSize3 = 2
)

// Heater profile used by the rig: 320 °C for 150 ms, good for air quality.
const (
	heaterTempC    = 320
	heaterMillis   = 150
	ambientAssumed = 25.0
)

var errWarmingUp = errors.New("bme680: no measurement yet")

var doSleep = time.Sleep

// bme680Calibration holds the factory trimming parameters.
type bme680Calibration struct {
	t1                 uint16
	t2                 int16
	t3                 int8
	p1                 uint16
	p2, p4, p5, p8, p9 int16
	p3, p6, p7         int8
	p10                uint8
	h1, h2             uint16
	h3, h4, h5, h7     int8
	h6                 uint8
	gh1, gh3           int8
	gh2                int16

	resHeatRange uint8
	resHeatVal   int8
	rangeSwErr   int8
}

func newBME680Calibration(c1, c2, heat []byte) bme680Calibration {
	c := append(append([]byte{}, c1...), c2...)
	u16 := func(i int) uint16 { return uint16(c[i]) | uint16(c[i+1])<<8 }
	return bme680Calibration{
		t1:  u16(33),
		t2:  int16(u16(1)),
		t3:  int8(c[3]),
		p1:  u16(5),
		p2:  int16(u16(7)),
		p3:  int8(c[9]),
		p4:  int16(u16(11)),
		p5:  int16(u16(13)),
		p6:  int8(c[16]),
		p7:  int8(c[15]),
		p8:  int16(u16(19)),
		p9:  int16(u16(21)),
		p10: c[23],
		h1:  uint16(c[27])<<4 | uint16(c[26]&0x0F),
		h2:  uint16(c[25])<<4 | uint16(c[26]>>4),
		h3:  int8(c[28]),
		h4:  int8(c[29]),
		h5:  int8(c[30]),
		h6:  c[31],
		h7:  int8(c[32]),
		gh1: int8(c[37]),
		gh2: int16(u16(35)),
		gh3: int8(c[38]),

		resHeatVal:   int8(heat[0]),
		resHeatRange: (heat[2] & 0x30) >> 4,
		rangeSwErr:   int8(heat[4]&0xF0) / 16,
	}
}

// bme680 drives a Bosch BME680 over I²C in forced mode. Measurements are
// pipelined: each Sense reads the previous conversion and starts the next
// one, so a call never waits for the heater.
type bme680 struct {
	mu  sync.Mutex
	dev *i2c.Dev
	cal bme680Calibration

	have      bool
	env       physic.Env
	gas       float64
	gasOK     bool
	gasStable bool
}

// newBME680 resets and configures the device. The chip ID has already been
// checked by the caller.
func newBME680(dev *i2c.Dev) (*bme680, error) {
	if _, err := dev.Write([]byte{regReset, softReset}); err != nil {
		return nil, fmt.Errorf("bme680: reset: %w", err)
	}
	doSleep(10 * time.Millisecond)

	var c1 [coeff1Len]byte
	var c2 [coeff2Len]byte
	var heat [5]byte
	for _, r := range []struct {
		reg byte
		buf []byte
	}{{regCoeff1, c1[:]}, {regCoeff2, c2[:]}, {regHeatInfo, heat[:]}} {
		if err := dev.Tx([]byte{r.reg}, r.buf); err != nil {
			return nil, fmt.Errorf("bme680: calibration 0x%02X: %w", r.reg, err)
		}
	}
	d := &bme680{dev: dev, cal: newBME680Calibration(c1[:], c2[:], heat[:])}

	_, err := dev.Write([]byte{
		regCtrlHum, os2x,
		regConfig, filterSize3 << 2,
		regResHeat0, d.cal.heaterResistance(heaterTempC, ambientAssumed),
		regGasWait0, gasWaitCode(heaterMillis),
		regCtrlGas1, runGas,
	})
	if err != nil {
		return nil, fmt.Errorf("bme680: configure: %w", err)
	}
	return d, nil
}

func (d *bme680) String() string { return fmt.Sprintf("BME680{%s}", d.dev) }

// Sense reports the most recent completed conversion.
func (d *bme680) Sense(e *physic.Env) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var f [fieldLen]byte
	if err := d.dev.Tx([]byte{regField0}, f[:]); err != nil {
		return fmt.Errorf("bme680: read: %w", err)
	}
	if f[0]&statusNewData != 0 {
		d.decode(f[:])
	}
	if f[0]&(statusMeasuring|statusGasMeasuring) == 0 {
		if _, err := d.dev.Write([]byte{regCtrlMeas, os8x<<5 | os4x<<2 | modeForced}); err != nil {
			return fmt.Errorf("bme680: trigger: %w", err)
		}
	}
	if !d.have {
		return errWarmingUp
	}
	*e = d.env
	return nil
}

func (d *bme680) decode(f []byte) {
	presADC := uint32(f[2])<<12 | uint32(f[3])<<4 | uint32(f[4])>>4
	tempADC := uint32(f[5])<<12 | uint32(f[6])<<4 | uint32(f[7])>>4
	humADC := uint16(f[8])<<8 | uint16(f[9])
	gasADC := uint16(f[13])<<2 | uint16(f[14])>>6
	gasRange := f[14] & 0x0F

	tFine, temp := d.cal.temperature(float64(tempADC))
	d.env = physic.Env{
		Temperature: physic.ZeroCelsius + physic.Temperature(temp*float64(physic.Celsius)),
		Pressure:    physic.Pressure(d.cal.pressure(float64(presADC), tFine) * float64(physic.Pascal)),
		Humidity:    physic.RelativeHumidity(d.cal.humidity(float64(humADC), tFine) * float64(physic.PercentRH)),
	}
	d.have = true

	d.gasOK = f[14]&gasValid != 0
	d.gasStable = f[14]&heatStable != 0
	if d.gasOK {
		d.gas = d.cal.gasResistance(float64(gasADC), gasRange)
	}
}

// Gas returns the heater resistance in ohms from the last conversion.
func (d *bme680) Gas() (ohms float64, stable, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gas, d.gasStable, d.have && d.gasOK
}

// Precision implements physic.SenseEnv.
func (d *bme680) Precision(e *physic.Env) {
	e.Temperature = 10 * physic.MilliKelvin
	e.Pressure = 180 * physic.MilliPascal
	e.Humidity = 10 * physic.MicroRH
}

// Halt is a no-op: in forced mode the device returns to sleep after each
// conversion.
func (d *bme680) Halt() error { return nil }

func (c *bme680Calibration) temperature(adc float64) (tFine, celsius float64) {
	v1 := (adc/16384.0 - float64(c.t1)/1024.0) * float64(c.t2)
	v2 := adc/131072.0 - float64(c.t1)/8192.0
	v2 = v2 * v2 * float64(c.t3) * 16.0
	tFine = v1 + v2
	return tFine, tFine / 5120.0
}

// pressure returns Pa.
func (c *bme680Calibration) pressure(adc, tFine float64) float64 {
	v1 := tFine/2.0 - 64000.0
	v2 := v1 * v1 * (float64(c.p6) / 131072.0)
	v2 += v1 * float64(c.p5) * 2.0
	v2 = v2/4.0 + float64(c.p4)*65536.0
	v1 = (float64(c.p3)*v1*v1/16384.0 + float64(c.p2)*v1) / 524288.0
	v1 = (1.0 + v1/32768.0) * float64(c.p1)
	if v1 == 0 {
		return 0
	}
	p := 1048576.0 - adc
	p = (p - v2/4096.0) * 6250.0 / v1
	v1 = float64(c.p9) * p * p / 2147483648.0
	v2 = p * (float64(c.p8) / 32768.0)
	q := p / 256.0
	v3 := q * q * q * (float64(c.p10) / 131072.0)
	return p + (v1+v2+v3+float64(c.p7)*128.0)/16.0
}

// humidity returns %RH clamped to [0, 100].
func (c *bme680Calibration) humidity(adc, tFine float64) float64 {
	tc := tFine / 5120.0
	v1 := adc - (float64(c.h1)*16.0 + float64(c.h3)/2.0*tc)
	v2 := v1 * (float64(c.h2) / 262144.0 * (1.0 + float64(c.h4)/16384.0*tc + float64(c.h5)/1048576.0*tc*tc))
	v3 := float64(c.h6) / 16384.0
	v4 := float64(c.h7) / 2097152.0
	h := v2 + (v3+v4*tc)*v2*v2
	switch {
	case h < 0:
		return 0
	case h > 100:
		return 100
	}
	return h
}

var (
	gasRangeK1 = [16]float64{0, 0, 0, 0, 0, -1, 0, -0.8, 0, 0, -0.2, -0.5, 0, -1, 0, 0}
	gasRangeK2 = [16]float64{0, 0, 0, 0, 0.1, 0.7, 0, -0.8, -0.1, 0, 0, 0, 0, 0, 0, 0}
)

// gasResistance returns ohms.
func (c *bme680Calibration) gasResistance(adc float64, rng uint8) float64 {
	v1 := 1340.0 + 5.0*float64(c.rangeSwErr)
	v2 := v1 * (1.0 + gasRangeK1[rng]/100.0)
	v3 := 1.0 + gasRangeK2[rng]/100.0
	return 1.0 / (v3 * 0.000000125 * float64(uint32(1)<<rng) * ((adc-512.0)/v2 + 1.0))
}

// heaterResistance returns the res_heat register value for a target
// temperature.
func (c *bme680Calibration) heaterResistance(targetC, ambientC float64) byte {
	if targetC > 400 {
		targetC = 400
	}
	v1 := float64(c.gh1)/16.0 + 49.0
	v2 := float64(c.gh2)/32768.0*0.0005 + 0.00235
	v3 := float64(c.gh3) / 1024.0
	v4 := v1 * (1.0 + v2*targetC)
	v5 := v4 + v3*ambientC
	r := 3.4 * (v5*(4.0/(4.0+float64(c.resHeatRange)))*(1.0/(1.0+float64(c.resHeatVal)*0.002)) - 25)
	return byte(int(r))
}

// gasWaitCode encodes a heater duration in the gas_wait register format.
func gasWaitCode(ms int) byte {
	if ms >= 0xFC0 {
		return 0xFF
	}
	factor := 0
	for ms > 0x3F {
		ms /= 4
		factor++
	}
	return byte(ms + factor*64)
}
