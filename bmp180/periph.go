package bmp180

import (
	"errors"

	"periph.io/x/conn/v3/i2c"
)

// i2cController runs the phase protocol on top of a transaction oriented
// periph.io bus.
//
// Sends are buffered until the phase closing the transfer. A burst read is
// executed as a single Tx when it starts and the following phases only hand
// out the bytes already received.
type i2cController struct {
	bus  i2c.Bus
	addr uint16
	w    []byte
	r    []byte
	want int
}

func newI2CController(b i2c.Bus) *i2cController {
	return &i2cController{bus: b}
}

func (c *i2cController) SetTarget(addr uint16, receive bool) {
	c.addr = addr
}

func (c *i2cController) Put(b byte) {
	c.w = append(c.w, b)
}

func (c *i2cController) Prefetch(n int) {
	c.want = n
}

func (c *i2cController) Exec(cmd Command) error {
	switch cmd {
	case BurstSendStart, BurstSendCont:
		return nil
	case SingleSend, BurstSendFinish:
		w := c.w
		c.w = nil
		return c.bus.Tx(c.addr, w, nil)
	case SingleReceive:
		return c.receive(1)
	case BurstReceiveStart:
		n := c.want
		c.want = 0
		if n < 2 {
			n = 2
		}
		return c.receive(n)
	case BurstReceiveCont, BurstReceiveFinish:
		if len(c.r) == 0 {
			return errors.New("burst read past prefetched data")
		}
		return nil
	default:
		return errors.New("unknown command " + cmd.String())
	}
}

func (c *i2cController) Busy() bool {
	return false
}

func (c *i2cController) Get() byte {
	if len(c.r) == 0 {
		return 0
	}
	b := c.r[0]
	c.r = c.r[1:]
	return b
}

func (c *i2cController) receive(n int) error {
	buf := make([]byte, n)
	if err := c.bus.Tx(c.addr, nil, buf); err != nil {
		c.r = nil
		return err
	}
	c.r = buf
	return nil
}
