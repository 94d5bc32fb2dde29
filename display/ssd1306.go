package display

import (
	"fmt"
	"image"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
)

// Baselines of the two rows on a 128x64 panel.
var rowBaseline = [Rows]int{26, 52}

// OLED shows the lines on a 128x64 SSD1306 panel at I²C address 0x3C.
type OLED struct {
	dev   *ssd1306.Dev
	lines [Rows]string
}

// NewOLED initializes the panel and clears it.
func NewOLED(b i2c.Bus) (*OLED, error) {
	dev, err := ssd1306.NewI2C(b, &ssd1306.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("display: %w", err)
	}
	o := &OLED{dev: dev}
	if err := o.draw(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *OLED) SetLine(row int, text string) error {
	if err := checkRow(row); err != nil {
		return err
	}
	o.lines[row] = text
	return o.draw()
}

// Halt turns the panel off.
func (o *OLED) Halt() error {
	return o.dev.Halt()
}

func (o *OLED) draw() error {
	img := render(o.lines)
	if err := o.dev.Draw(o.dev.Bounds(), img, image.Point{}); err != nil {
		return fmt.Errorf("display: %w", err)
	}
	return nil
}

func render(lines [Rows]string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, l := range lines {
		drawer.Dot = fixed.P(0, rowBaseline[i])
		drawer.DrawString(l)
	}
	return img
}
