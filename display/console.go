package display

import (
	"fmt"
	"io"
)

// Console prints each updated line to a writer, typically a serial console
// or stdout.
type Console struct {
	w     io.Writer
	lines [Rows]string
}

// NewConsole returns a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) SetLine(row int, text string) error {
	if err := checkRow(row); err != nil {
		return err
	}
	c.lines[row] = text
	_, err := fmt.Fprintf(c.w, "|%s|\n", text)
	return err
}

// Lines returns the text currently shown.
func (c *Console) Lines() [Rows]string {
	return c.lines
}
