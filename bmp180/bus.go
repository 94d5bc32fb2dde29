package bmp180

import (
	"fmt"
	"time"
)

// Command is one framing phase of a transfer on a byte-oriented I²C master.
type Command uint8

// Phase commands. Single* commands frame a complete one byte transfer, the
// Burst* commands delimit the first, middle and last byte of a longer one.
const (
	SingleSend Command = iota
	BurstSendStart
	BurstSendCont
	BurstSendFinish
	SingleReceive
	BurstReceiveStart
	BurstReceiveCont
	BurstReceiveFinish
)

const commandName = "SingleSendBurstSendStartBurstSendContBurstSendFinishSingleReceiveBurstReceiveStartBurstReceiveContBurstReceiveFinish"

var commandIndex = [...]uint8{0, 10, 24, 37, 52, 65, 82, 98, 116}

func (c Command) String() string {
	if c >= Command(len(commandIndex)-1) {
		return fmt.Sprintf("Command(%d)", c)
	}
	return commandName[commandIndex[c]:commandIndex[c+1]]
}

// Controller is the register-level view of an I²C master peripheral.
//
// A phase is started with Exec and is complete once Busy reports false. The
// byte to send must be loaded with Put before Exec, the byte received is
// available from Get once the phase completed.
type Controller interface {
	SetTarget(addr uint16, receive bool)
	Put(b byte)
	Exec(cmd Command) error
	Busy() bool
	Get() byte
}

// prefetcher is implemented by controllers that need to know the length of
// a burst read before it starts.
type prefetcher interface {
	Prefetch(n int)
}

// Policy bounds every wait for the controller to become idle.
type Policy struct {
	// MaxPolls is the number of times Busy is polled before giving up.
	MaxPolls int
	// PollInterval is slept between two polls. Zero spins.
	PollInterval time.Duration
}

// DefaultPolicy gives up after roughly 100ms of a busy bus.
var DefaultPolicy = Policy{
	MaxPolls:     10000,
	PollInterval: 10 * time.Microsecond,
}

// Engine performs register transactions with a single device.
//
// It is not safe for concurrent use; the bus is expected to have one owner.
type Engine struct {
	c      Controller
	addr   uint16
	policy Policy
}

// NewEngine returns an Engine talking to the device at addr through c.
func NewEngine(c Controller, addr uint16, p Policy) *Engine {
	if p.MaxPolls <= 0 {
		p.MaxPolls = DefaultPolicy.MaxPolls
	}
	return &Engine{c: c, addr: addr, policy: p}
}

// WriteRegister writes value into register reg.
//
// The device acknowledgement is not checked.
func (e *Engine) WriteRegister(reg, value byte) error {
	e.c.SetTarget(e.addr, false)
	e.c.Put(reg)
	if err := e.phase(BurstSendStart); err != nil {
		return err
	}
	e.c.Put(value)
	return e.phase(BurstSendFinish)
}

// ReadRegisterBlock reads n consecutive registers starting at reg.
//
// The bytes are returned in wire order.
func (e *Engine) ReadRegisterBlock(reg byte, n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}
	e.c.SetTarget(e.addr, false)
	e.c.Put(reg)
	if err := e.phase(SingleSend); err != nil {
		return nil, err
	}

	e.c.SetTarget(e.addr, true)
	out := make([]byte, 0, n)
	if n == 1 {
		if err := e.phase(SingleReceive); err != nil {
			return nil, err
		}
		return append(out, e.c.Get()), nil
	}

	if p, ok := e.c.(prefetcher); ok {
		p.Prefetch(n)
	}
	if err := e.phase(BurstReceiveStart); err != nil {
		return nil, err
	}
	out = append(out, e.c.Get())
	for i := 0; i < n-2; i++ {
		if err := e.phase(BurstReceiveCont); err != nil {
			return nil, err
		}
		out = append(out, e.c.Get())
	}
	if err := e.phase(BurstReceiveFinish); err != nil {
		return nil, err
	}
	return append(out, e.c.Get()), nil
}

// phase executes cmd and waits for the controller to go idle.
func (e *Engine) phase(cmd Command) error {
	if err := e.c.Exec(cmd); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	for i := 0; i < e.policy.MaxPolls; i++ {
		if !e.c.Busy() {
			return nil
		}
		if e.policy.PollInterval > 0 {
			doSleep(e.policy.PollInterval)
		}
	}
	return fmt.Errorf("%s: %w after %d polls", cmd, ErrBusTimeout, e.policy.MaxPolls)
}
