// Package display shows sensor readings on a two line text display.
package display

import (
	"fmt"
	"strings"

	"BaroServer/bmp180"
)

const (
	// Width is the number of characters per line.
	Width = 16
	// Rows is the number of lines.
	Rows = 2
)

// Sink is a display with Rows independently settable text lines.
type Sink interface {
	SetLine(row int, text string) error
}

// TemperatureLine formats a temperature in °C, e.g. "T: 15.0 C".
func TemperatureLine(celsius float64) string {
	return fit(fmt.Sprintf("T: %.1f C", celsius))
}

// PressureLine formats a pressure given in Pa as hPa, e.g. "P: 1013.2 hPa".
func PressureLine(pascal float64) string {
	return fit(fmt.Sprintf("P: %.1f hPa", pascal/100))
}

// Show writes r to s, temperature on the first row and pressure on the
// second.
func Show(s Sink, r bmp180.Reading) error {
	if err := s.SetLine(0, TemperatureLine(r.Temperature)); err != nil {
		return err
	}
	return s.SetLine(1, PressureLine(r.Pressure))
}

// fit pads or truncates text to exactly Width characters.
func fit(text string) string {
	if len(text) >= Width {
		return text[:Width]
	}
	return text + strings.Repeat(" ", Width-len(text))
}

func checkRow(row int) error {
	if row < 0 || row >= Rows {
		return fmt.Errorf("display: invalid row %d", row)
	}
	return nil
}
