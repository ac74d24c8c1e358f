// Driver for the BMP280 barometric pressure/temperature sensor.
//
// The device is always operated in forced mode: every StartPressure arms a
// single one-shot conversion and the sensor returns to sleep on its own.
//
// Datasheet: https://www.bosch-sensortec.com/media/boschsensortec/downloads/datasheets/bst-bmp280-ds001.pdf
package bmp280

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Default I2C address.
const DefaultAddr = 0x76

// Identity byte at regChipID.
const chipID = 0x58

// I2C register map.
const (
	regCalib     = 0x88 // 24 bytes, T1..T3 then P1..P9, little endian
	regChipID    = 0xD0
	regSoftReset = 0xE0
	regStatus    = 0xF3
	regControl   = 0xF4
	regConfig    = 0xF5
	regPressMSB  = 0xF7 // MSB, LSB, XLSB; temperature frame follows at 0xFA
)

const (
	forcedMode    = 0x01
	calibSize     = 24
	dataFrameSize = 6
)

// Worst case conversion time budget in 1/16 ms ticks (datasheet table 13).
const (
	tInitMax          = 20 // 1.25 ms
	tMeasurePerOsrMax = 37 // 2.3125 ms
	tSetupPressureMax = 10 // 0.625 ms
)

// Oversampling selects the per-channel oversampling encoded into the
// control register.
type Oversampling byte

const (
	Skipped Oversampling = iota
	Oversampling1x
	Oversampling2x
	Oversampling4x
	Oversampling8x
	Oversampling16x
)

// Opts holds initialization options.
//
// Addr: I2C address, default 0x76.
type Opts struct {
	Addr                    uint16
	PressureOversampling    Oversampling
	TemperatureOversampling Oversampling
}

// DefaultOpts is the flight configuration: 8x pressure, 1x temperature.
var DefaultOpts = Opts{
	Addr:                    DefaultAddr,
	PressureOversampling:    Oversampling8x,
	TemperatureOversampling: Oversampling1x,
}

// Dev is a handle to a single BMP280. Each physical sensor needs its own
// Dev; no state is shared between instances. A Dev is not safe for
// concurrent use.
type Dev struct {
	dev    i2c.Dev
	log    zerolog.Logger
	sleep  func(time.Duration)
	ctrl   byte
	osrT   Oversampling
	osrP   Oversampling
	settle time.Duration
	inited bool
	cal    calibration
	raw    rawSample
}

// rawSample latches the uncompensated 20-bit readings of the last fetched
// frame. Overwritten wholesale by FetchPressure.
type rawSample struct {
	pressure    int32
	temperature int32
}

// NewWithBus returns a driver for a sensor on an already opened bus.
// Call Detect before any measurement operation.
func NewWithBus(bus i2c.Bus, opts Opts) *Dev {
	addr := opts.Addr
	if addr == 0 {
		addr = DefaultAddr
	}

	d := &Dev{
		dev:   i2c.Dev{Addr: addr, Bus: bus},
		sleep: time.Sleep,
		osrT:  opts.TemperatureOversampling,
		osrP:  opts.PressureOversampling,
		ctrl: byte(opts.TemperatureOversampling)<<5 |
			byte(opts.PressureOversampling)<<2 | forcedMode,
	}
	d.log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	d.log = d.log.Level(zerolog.InfoLevel)
	return d
}

// New opens the first available I2C bus and returns a driver with the
// default options.
func New() (*Dev, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}

	// Use the i2creg I2C bus registry to find the first available bus.
	bus, err := i2creg.Open("")
	if err != nil {
		return nil, err
	}

	return NewWithBus(bus, DefaultOpts), nil
}

func (d *Dev) EnableDebugging() {
	d.log = d.log.Level(zerolog.DebugLevel)
}

// Detect probes the identity register and, on a match, loads the factory
// calibration block and arms the first forced conversion. It returns false
// when the device answers with a wrong identity, so the caller may go on
// to try another barometer model; nothing is mutated in that case.
//
// Detect is idempotent: once it has succeeded, later calls return true
// without touching the bus.
func (d *Dev) Detect() (bool, error) {
	if d.inited {
		return true, nil
	}

	// Power-on settle.
	d.sleep(20 * time.Millisecond)

	var id [1]byte
	if err := d.readReg(regChipID, id[:]); err != nil {
		return false, fmt.Errorf("bmp280: reading chip ID: %w", err)
	}
	if id[0] != chipID {
		d.log.Debug().Hex("id", id[:]).Msg("wrong chip ID")
		return false, nil
	}

	var buf [calibSize]byte
	if err := d.readReg(regCalib, buf[:]); err != nil {
		return false, fmt.Errorf("bmp280: reading calibration: %w", err)
	}
	d.cal = newCalibration(buf[:])

	// Oversampling + power mode (forced); this also starts sampling.
	if err := d.writeReg(regControl, d.ctrl); err != nil {
		return false, fmt.Errorf("bmp280: writing control: %w", err)
	}

	d.settle = settleTime(d.osrT, d.osrP)
	d.inited = true
	d.log.Debug().Dur("settle", d.settle).Msg("BMP280 detected")
	return true, nil
}

// settleTime converts the datasheet's worst case conversion budget for one
// forced conversion into the wait between arming it and reading the data
// registers. Integer tick arithmetic, same rounding as the reference.
func settleTime(osrT, osrP Oversampling) time.Duration {
	ticks := tInitMax + tMeasurePerOsrMax*((1<<osrT)>>1+(1<<osrP)>>1) + 15
	if osrP != Skipped {
		ticks += tSetupPressureMax
	}
	return time.Duration(ticks/16) * time.Millisecond
}

// StartTemperature is a no-op kept for cycle symmetry: the conversion
// armed by StartPressure produces both channels.
func (d *Dev) StartTemperature() error { return nil }

// FetchTemperature is a no-op, see StartTemperature.
func (d *Dev) FetchTemperature() error { return nil }

// TemperatureSettleTime returns 0: there is no temperature-only phase.
func (d *Dev) TemperatureSettleTime() time.Duration { return 0 }

// StartPressure arms a single forced conversion covering both pressure
// and temperature. The device returns to sleep once it completes.
func (d *Dev) StartPressure() error {
	if err := d.writeReg(regControl, d.ctrl); err != nil {
		return fmt.Errorf("bmp280: starting conversion: %w", err)
	}
	return nil
}

// PressureSettleTime returns how long the caller must wait between
// StartPressure and FetchPressure. Computed once at Detect.
func (d *Dev) PressureSettleTime() time.Duration { return d.settle }

// FetchPressure reads the 6-byte data frame and latches both
// uncompensated 20-bit readings.
func (d *Dev) FetchPressure() error {
	var buf [dataFrameSize]byte
	if err := d.readReg(regPressMSB, buf[:]); err != nil {
		return fmt.Errorf("bmp280: reading data frame: %w", err)
	}
	d.raw.pressure = int32(uint32(buf[0])<<12 | uint32(buf[1])<<4 | uint32(buf[2])>>4)
	d.raw.temperature = int32(uint32(buf[3])<<12 | uint32(buf[4])<<4 | uint32(buf[5])>>4)
	d.log.Debug().Int32("up", d.raw.pressure).Int32("ut", d.raw.temperature).Msg("raw frame")
	return nil
}

// Compensate converts the latched raw frame into integer pascals and
// centi-degrees Celsius. Temperature is compensated first: it yields the
// fine-temperature value the pressure formula depends on. The temperature
// output keeps whole-degree precision only (truncated, then scaled), as in
// the reference formula.
//
// A pressure of 0 is returned when the calibration denominator evaluates
// to zero. That sentinel is indistinguishable from a genuine near-zero
// reading; it only occurs with degenerate calibration data.
func (d *Dev) Compensate() (pressurePa, temperatureCenti int32) {
	t, tFine := compensateTemperature(d.raw.temperature, &d.cal)
	p := compensatePressure(d.raw.pressure, tFine, &d.cal)
	return int32(p), int32(t) * 100
}

func (d *Dev) writeReg(reg, val byte) error {
	return d.dev.Tx([]byte{reg, val}, nil)
}

func (d *Dev) readReg(reg byte, out []byte) error {
	return d.dev.Tx([]byte{reg}, out)
}
