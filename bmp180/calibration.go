package bmp180

import (
	"fmt"
	"math"
)

// Calibration holds the factory coefficients stored in the sensor EEPROM.
type Calibration struct {
	AC1, AC2, AC3 int16
	AC4, AC5, AC6 uint16
	B1, B2        int16
	MB, MC, MD    int16
}

// newCalibration decodes the 22 bytes read from AddrCalStart.
func newCalibration(b []byte) (c Calibration) {
	getInt16 := func(i int) int16 {
		return int16(b[i])<<8 | int16(b[i+1])
	}

	getUInt16 := func(i int) uint16 {
		return uint16(b[i])<<8 | uint16(b[i+1])
	}

	c.AC1 = getInt16(0)
	c.AC2 = getInt16(2)
	c.AC3 = getInt16(4)
	c.AC4 = getUInt16(6)
	c.AC5 = getUInt16(8)
	c.AC6 = getUInt16(10)
	c.B1 = getInt16(12)
	c.B2 = getInt16(14)
	c.MB = getInt16(16)
	c.MC = getInt16(18)
	c.MD = getInt16(20)
	return c
}

// Compensate converts a raw reading into °C and Pa.
//
// oss must be the setting the pressure was acquired with.
func Compensate(raw RawReading, c *Calibration, oss Oversampling) (Reading, error) {
	t, p, err := c.compensate(raw, oss)
	if err != nil {
		return Reading{}, err
	}
	return Reading{
		Temperature: float64(t) / 10,
		Pressure:    float64(p),
	}, nil
}

// compensate returns the temperature in 0.1°C and the pressure in Pa.
func (c *Calibration) compensate(raw RawReading, oss Oversampling) (int32, int32, error) {
	if c == nil {
		return 0, 0, ErrCalibrationNotLoaded
	}
	t, b5, err := c.compensateTemperature(raw.UT)
	if err != nil {
		return 0, 0, err
	}
	p, err := c.compensatePressure(raw.UP, b5, oss)
	if err != nil {
		return 0, 0, err
	}
	return t, p, nil
}

// compensateTemperature returns the temperature in 0.1°C along with B5, the
// intermediate term the pressure computation depends on.
func (c *Calibration) compensateTemperature(ut int32) (t, b5 int32, err error) {
	x1 := ((ut - int32(c.AC6)) * int32(c.AC5)) >> 15
	d := x1 + int32(c.MD)
	if d == 0 {
		return 0, 0, fmt.Errorf("%w: X1+MD is zero", ErrArithmeticDegenerate)
	}
	x2 := (int32(c.MC) << 11) / d
	b5 = x1 + x2
	return (b5 + 8) >> 4, b5, nil
}

// compensatePressure returns the pressure in Pa.
//
// up must already be shifted right by 8-oss.
func (c *Calibration) compensatePressure(up, b5 int32, oss Oversampling) (int32, error) {
	b6 := b5 - 4000
	x1 := (int32(c.B2) * ((b6 * b6) >> 12)) >> 11
	x2 := (int32(c.AC2) * b6) >> 11
	x3 := x1 + x2
	b3 := (((int32(c.AC1)*4 + x3) << uint(oss)) + 2) >> 2

	x1 = (int32(c.AC3) * b6) >> 13
	x2 = (int32(c.B1) * ((b6 * b6) >> 12)) >> 16
	x3 = ((x1 + x2) + 2) >> 2
	b4 := (uint32(c.AC4) * uint32(x3+32768)) >> 15
	if b4 == 0 {
		return 0, fmt.Errorf("%w: B4 is zero", ErrArithmeticDegenerate)
	}

	b7 := (uint32(up) - uint32(b3)) * (50000 >> uint(oss))
	p := int32(pressureQuotient(b7, b4))

	x1 = (p >> 8) * (p >> 8)
	x1 = (x1 * 3038) >> 16
	x2 = (-7357 * p) >> 16
	return p + ((x1 + x2 + 3791) >> 4), nil
}

// pressureQuotient computes 2*b7/b4 without overflowing 32 bits.
func pressureQuotient(b7, b4 uint32) uint32 {
	if b7 < 0x80000000 {
		return (b7 * 2) / b4
	}
	return (b7 / b4) * 2
}

// Altitude returns the altitude in meters matching pressure p for the given
// sea level pressure, both in Pa.
func Altitude(p, seaLevel float64) float64 {
	return 44330 * (1 - math.Pow(p/seaLevel, 1/5.255))
}
