// Barometer abstraction shared by pressure sensor drivers and the
// flight estimator that consumes them.
package baro

import (
	"math"
	"os"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/physic"
)

// Barometer is the capability set a barometer driver exposes once it has
// identified its device. The conversion cycle is split into a temperature
// phase and a pressure phase; sensors that deliver both channels from a
// single conversion implement the temperature phase as a zero-delay no-op.
//
// Drivers never sleep between a start and its fetch. The caller owns
// scheduling and must wait at least the reported settle time before
// fetching.
type Barometer interface {
	// Detect probes the device. False means no such sensor answered and
	// the caller may try another model; a non-nil error means the bus
	// itself failed.
	Detect() (bool, error)

	StartTemperature() error
	TemperatureSettleTime() time.Duration
	FetchTemperature() error

	StartPressure() error
	PressureSettleTime() time.Duration
	FetchPressure() error

	// Compensate converts the last fetched raw frame into integer
	// pascals and centi-degrees Celsius.
	Compensate() (pressurePa, temperatureCenti int32)
}

// Readings is one compensated sample in physical units.
type Readings struct {
	Pressure    physic.Pressure
	Temperature physic.Temperature
	Altitude    physic.Distance
}

// Sampler drives a Barometer through complete forced measurement cycles,
// performing the settle waits the driver only reports.
type Sampler struct {
	b     Barometer
	sleep func(time.Duration)
	log   zerolog.Logger
}

// NewSampler returns a Sampler for an already detected barometer.
func NewSampler(b Barometer) *Sampler {
	s := &Sampler{b: b, sleep: time.Sleep}
	s.log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	s.log = s.log.Level(zerolog.InfoLevel)
	return s
}

func (s *Sampler) EnableDebugging() {
	s.log = s.log.Level(zerolog.DebugLevel)
}

// Read runs one full cycle: both conversion phases with their settle
// waits, then compensation. It blocks for the settle times.
func (s *Sampler) Read() (Readings, error) {
	if err := s.b.StartTemperature(); err != nil {
		return Readings{}, err
	}
	if d := s.b.TemperatureSettleTime(); d > 0 {
		s.sleep(d)
	}
	if err := s.b.FetchTemperature(); err != nil {
		return Readings{}, err
	}

	if err := s.b.StartPressure(); err != nil {
		return Readings{}, err
	}
	if d := s.b.PressureSettleTime(); d > 0 {
		s.sleep(d)
	}
	if err := s.b.FetchPressure(); err != nil {
		return Readings{}, err
	}

	pa, centi := s.b.Compensate()
	s.log.Debug().Int32("pa", pa).Int32("centideg", centi).Msg("cycle complete")

	p := physic.Pressure(pa) * physic.Pascal
	return Readings{
		Pressure:    p,
		Temperature: physic.Temperature(centi)*10*physic.MilliCelsius + physic.ZeroCelsius,
		Altitude:    Altitude(p),
	}, nil
}

// Sea level reference pressure in hPa.
const QNH = 1013.25

// Altitude converts a pressure into barometric altitude against the
// standard atmosphere.
func Altitude(p physic.Pressure) physic.Distance {
	hPa := float64(p) / float64(physic.Pascal) / 100.0
	m := 44330.0 * (1.0 - math.Pow(hPa/QNH, 0.1903))
	return physic.Distance(m * float64(physic.Metre))
}
