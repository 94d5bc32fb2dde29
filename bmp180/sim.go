package bmp180

import (
	"encoding/binary"
	"errors"
)

// DatasheetCalibration is the example calibration of the datasheet.
var DatasheetCalibration = Calibration{
	AC1: 408, AC2: -72, AC3: -14383,
	AC4: 32741, AC5: 32757, AC6: 23153,
	B1: 6190, B2: 4,
	MB: -32768, MC: -8711, MD: 2868,
}

// Sim is a Controller emulating a BMP180 register file, for use without
// hardware.
//
// Register reads auto-increment like the real device. Writing a conversion
// command to AddrCtrlMeas loads UT or UP into the output registers.
type Sim struct {
	// UT and UP are the raw values returned by conversions. UP is the
	// shifted value; the output registers hold it shifted back by 8-oss.
	UT, UP int32
	// BusyPolls is the number of times Busy reports true after each phase.
	// A negative value keeps the bus busy forever.
	BusyPolls int

	// Commands logs every phase executed.
	Commands []Command
	// Writes logs every register write as reg, value.
	Writes [][2]byte
	// OnExec, when set, is called before each phase is executed.
	OnExec func(cmd Command)

	regs     [256]byte
	addr     uint16
	receive  bool
	data     byte
	ptr      byte
	busyLeft int
}

// NewSim returns a simulated BMP180 holding cal.
func NewSim(cal Calibration, ut, up int32) *Sim {
	s := &Sim{UT: ut, UP: up}
	s.regs[AddrChipID] = chipID
	b := s.regs[AddrCalStart : int(AddrCalStart)+calLength]
	for i, v := range []uint16{
		uint16(cal.AC1), uint16(cal.AC2), uint16(cal.AC3),
		cal.AC4, cal.AC5, cal.AC6,
		uint16(cal.B1), uint16(cal.B2),
		uint16(cal.MB), uint16(cal.MC), uint16(cal.MD),
	} {
		binary.BigEndian.PutUint16(b[2*i:], v)
	}
	return s
}

func (s *Sim) SetTarget(addr uint16, receive bool) {
	s.addr = addr
	s.receive = receive
}

func (s *Sim) Put(b byte) {
	s.data = b
}

func (s *Sim) Exec(cmd Command) error {
	if s.addr != Addr {
		return errors.New("no device at address")
	}
	if s.OnExec != nil {
		s.OnExec(cmd)
	}
	s.Commands = append(s.Commands, cmd)
	s.busyLeft = s.BusyPolls
	switch cmd {
	case SingleSend, BurstSendStart:
		s.ptr = s.data
	case BurstSendCont, BurstSendFinish:
		s.write(s.ptr, s.data)
		s.ptr++
	case SingleReceive, BurstReceiveStart, BurstReceiveCont, BurstReceiveFinish:
		if !s.receive {
			return errors.New("receive while in transmit mode")
		}
		s.data = s.regs[s.ptr]
		s.ptr++
	}
	return nil
}

func (s *Sim) Busy() bool {
	if s.busyLeft < 0 {
		return true
	}
	if s.busyLeft > 0 {
		s.busyLeft--
		return true
	}
	return false
}

func (s *Sim) Get() byte {
	return s.data
}

func (s *Sim) write(reg, v byte) {
	s.Writes = append(s.Writes, [2]byte{reg, v})
	if reg != AddrCtrlMeas {
		s.regs[reg] = v
		return
	}
	switch {
	case v == cmdTemperature:
		s.regs[AddrOutMSB] = byte(s.UT >> 8)
		s.regs[AddrOutLSB] = byte(s.UT)
	case v&0x3F == cmdPressure:
		oss := uint(v >> 6)
		up := uint32(s.UP) << (8 - oss)
		s.regs[AddrOutMSB] = byte(up >> 16)
		s.regs[AddrOutLSB] = byte(up >> 8)
		s.regs[AddrOutXLSB] = byte(up)
	}
}
