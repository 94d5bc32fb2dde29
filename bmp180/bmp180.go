// Package bmp180 controls a Bosch BMP180 barometric pressure sensor over I²C.
//
// # Datasheet
//
// https://cdn-shop.adafruit.com/datasheets/BST-BMP180-DS000-09.pdf
package bmp180

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

const (
	// Addr is the only I²C address the BMP180 answers on.
	Addr uint16 = 0x77

	AddrChipID   byte = 0xD0 // read-only, should contain 0x55
	AddrCalStart byte = 0xAA // 22 bytes, up to 0xBF
	AddrCtrlMeas byte = 0xF4
	AddrOutMSB   byte = 0xF6
	AddrOutLSB   byte = 0xF7
	AddrOutXLSB  byte = 0xF8

	chipID    byte = 0x55
	calLength      = 22

	cmdTemperature byte = 0x2E
	cmdPressure    byte = 0x34
)

var (
	// ErrBusTimeout is returned when the bus stayed busy past the Policy.
	ErrBusTimeout = errors.New("bus timeout")
	// ErrCalibrationNotLoaded is returned when compensating without
	// calibration coefficients.
	ErrCalibrationNotLoaded = errors.New("calibration not loaded")
	// ErrArithmeticDegenerate is returned when the coefficients lead to a
	// division by zero.
	ErrArithmeticDegenerate = errors.New("degenerate calibration arithmetic")
)

// Oversampling sets the number of internal pressure samples averaged per
// measurement. Temperature is always sampled once.
type Oversampling uint8

// Possible oversampling values.
const (
	UltraLowPower       Oversampling = 0
	Standard            Oversampling = 1
	HighResolution      Oversampling = 2
	UltraHighResolution Oversampling = 3
)

const oversamplingName = "UltraLowPowerStandardHighResolutionUltraHighResolution"

var oversamplingIndex = [...]uint8{0, 13, 21, 35, 54}

func (o Oversampling) String() string {
	if o >= Oversampling(len(oversamplingIndex)-1) {
		return fmt.Sprintf("Oversampling(%d)", o)
	}
	return oversamplingName[oversamplingIndex[o]:oversamplingIndex[o+1]]
}

// Conversion times, rounded up from the datasheet maximums.
const temperatureDelay = 5 * time.Millisecond

var pressureDelay = [...]time.Duration{
	UltraLowPower:       5 * time.Millisecond,  // 4.5ms
	Standard:            8 * time.Millisecond,  // 7.5ms
	HighResolution:      14 * time.Millisecond, // 13.5ms
	UltraHighResolution: 26 * time.Millisecond, // 25.5ms
}

// State is the position of the device in its conversion cycle.
type State uint8

// Conversion cycle states, in order.
const (
	Idle State = iota
	TemperatureRequested
	TemperatureRead
	PressureRequested
	PressureRead
)

const stateName = "IdleTemperatureRequestedTemperatureReadPressureRequestedPressureRead"

var stateIndex = [...]uint8{0, 4, 24, 39, 56, 68}

func (s State) String() string {
	if s >= State(len(stateIndex)-1) {
		return fmt.Sprintf("State(%d)", s)
	}
	return stateName[stateIndex[s]:stateIndex[s+1]]
}

// RawReading is one uncompensated measurement.
type RawReading struct {
	// UT is the raw temperature.
	UT int32
	// UP is the raw pressure, already shifted down to 16-19 bits.
	UP int32
}

// Reading is a compensated measurement.
type Reading struct {
	Temperature float64 // °C
	Pressure    float64 // Pa
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Pressure: Standard,
	Policy:   DefaultPolicy,
}

// Opts defines the options for the device.
type Opts struct {
	// Pressure selects the pressure oversampling. It cannot be changed once
	// the device is created.
	Pressure Oversampling
	// Policy bounds the waits on the bus.
	Policy Policy
}

// NewI2C returns an object that communicates over I²C to a BMP180.
//
// It is recommended to call Halt() when done with the device so it stops
// sampling.
func NewI2C(b i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	if addr != Addr {
		return nil, errors.New("bmp180: given address not supported by device")
	}
	return New(newI2CController(b), addr, opts)
}

// New returns a device driven through an I²C master controller.
//
// The chip ID is verified and the calibration coefficients are loaded before
// returning.
func New(c Controller, addr uint16, opts *Opts) (*Dev, error) {
	if opts.Pressure > UltraHighResolution {
		return nil, fmt.Errorf("bmp180: invalid oversampling %s", opts.Pressure)
	}
	d := &Dev{
		e:    NewEngine(c, addr, opts.Policy),
		addr: addr,
		opts: *opts,
	}
	if err := d.makeDev(); err != nil {
		return nil, err
	}
	return d, nil
}

// Dev is a handle to an initialized BMP180 device.
type Dev struct {
	e     *Engine
	addr  uint16
	opts  Opts
	cal   *Calibration
	state State

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func (d *Dev) String() string {
	return fmt.Sprintf("BMP180{%#x}", d.addr)
}

// LoadCalibration reads the calibration coefficients again, replacing the
// ones loaded at initialization.
func (d *Dev) LoadCalibration() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadCalibration()
}

// Calibration returns a copy of the coefficients in use.
func (d *Dev) Calibration() Calibration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cal == nil {
		return Calibration{}
	}
	return *d.cal
}

// State returns the current position in the conversion cycle.
func (d *Dev) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// ReadRaw runs one conversion cycle and returns the uncompensated values.
func (d *Dev) ReadRaw() (RawReading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readRaw()
}

// Read runs one conversion cycle and returns the compensated values.
func (d *Dev) Read() (Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, err := d.readRaw()
	if err != nil {
		return Reading{}, err
	}
	r, err := Compensate(raw, d.cal, d.opts.Pressure)
	if err != nil {
		return Reading{}, d.wrap(err)
	}
	return r, nil
}

// Sense requests a one time measurement as °C and Pa.
func (d *Dev) Sense(e *physic.Env) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return d.wrap(errors.New("already sensing continuously"))
	}
	return d.sense(e)
}

// SenseContinuous returns measurements as °C and Pa on a continuous basis.
//
// The application must call Halt() to stop the sensing when done to stop the
// sensor and close the channel.
//
// It's the responsibility of the caller to retrieve the values from the
// channel as fast as possible, otherwise the interval may not be respected.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	if interval <= 0 {
		return nil, d.wrap(fmt.Errorf("invalid interval %s", interval))
	}
	// Stop a previous run.
	if err := d.Halt(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return nil, d.wrap(errors.New("already sensing continuously"))
	}
	sensing := make(chan physic.Env)
	stop := make(chan struct{})
	d.stop = stop
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(sensing)
		d.sensingContinuous(interval, sensing, stop)
	}()
	return sensing, nil
}

// Precision implements physic.SenseEnv.
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = 100 * physic.MilliKelvin
	e.Pressure = physic.Pascal
}

// Halt stops the BMP180 from acquiring measurements as initiated by
// SenseContinuous().
//
// The BMP180 has no continuous mode, stopping the goroutine is all there is.
func (d *Dev) Halt() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()
	if stop == nil {
		return nil
	}
	// The sampling goroutine takes d.mu, it must not be held while waiting.
	close(stop)
	d.wg.Wait()
	return nil
}

//

func (d *Dev) makeDev() error {
	id, err := d.e.ReadRegisterBlock(AddrChipID, 1)
	if err != nil {
		return d.wrap(err)
	}
	if id[0] != chipID {
		return fmt.Errorf("bmp180: unexpected chip id %#x", id[0])
	}
	return d.loadCalibration()
}

func (d *Dev) loadCalibration() error {
	b, err := d.e.ReadRegisterBlock(AddrCalStart, calLength)
	if err != nil {
		return d.wrap(err)
	}
	c := newCalibration(b)
	d.cal = &c
	return nil
}

// readRaw walks the conversion cycle once. Any failure puts the device back
// to Idle without a reading.
//
// It must be called with d.mu lock held.
func (d *Dev) readRaw() (raw RawReading, err error) {
	defer func() {
		d.state = Idle
	}()

	d.state = TemperatureRequested
	if err = d.e.WriteRegister(AddrCtrlMeas, cmdTemperature); err != nil {
		return RawReading{}, d.wrap(err)
	}
	doSleep(temperatureDelay)

	d.state = TemperatureRead
	b, err := d.e.ReadRegisterBlock(AddrOutMSB, 2)
	if err != nil {
		return RawReading{}, d.wrap(err)
	}
	raw.UT = int32(int16(b[0])<<8 | int16(b[1]))

	oss := d.opts.Pressure
	d.state = PressureRequested
	if err = d.e.WriteRegister(AddrCtrlMeas, cmdPressure|byte(oss)<<6); err != nil {
		return RawReading{}, d.wrap(err)
	}
	doSleep(pressureDelay[oss])

	d.state = PressureRead
	if b, err = d.e.ReadRegisterBlock(AddrOutMSB, 3); err != nil {
		return RawReading{}, d.wrap(err)
	}
	raw.UP = int32((uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])) >> (8 - uint(oss)))
	return raw, nil
}

// sense must be called with d.mu lock held.
func (d *Dev) sense(e *physic.Env) error {
	raw, err := d.readRaw()
	if err != nil {
		return err
	}
	t, p, err := d.cal.compensate(raw, d.opts.Pressure)
	if err != nil {
		return d.wrap(err)
	}
	// Convert deci-Celsius to Kelvin.
	e.Temperature = physic.Temperature(t)*100*physic.MilliCelsius + physic.ZeroCelsius
	e.Pressure = physic.Pressure(p) * physic.Pascal
	return nil
}

func (d *Dev) sensingContinuous(interval time.Duration, sensing chan<- physic.Env, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		// Do one initial sensing right away.
		e := physic.Env{}
		d.mu.Lock()
		err := d.sense(&e)
		d.mu.Unlock()
		if err != nil {
			log.Printf("%s: failed to sense: %v", d, err)
		} else {
			select {
			case sensing <- e:
			case <-stop:
				return
			}
		}
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

func (d *Dev) wrap(err error) error {
	return fmt.Errorf("bmp180: %w", err)
}

var doSleep = time.Sleep

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
