package bmp180

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

var sleeps []time.Duration

// stubSleep records the delays instead of sleeping. Call the returned
// function to restore time.Sleep.
func stubSleep(t *testing.T) func() {
	t.Helper()
	sleeps = nil
	old := doSleep
	doSleep = func(d time.Duration) {
		sleeps = append(sleeps, d)
	}
	return func() {
		doSleep = old
	}
}

func newSimDev(t *testing.T, oss Oversampling) (*Dev, *Sim) {
	t.Helper()
	s := NewSim(DatasheetCalibration, datasheetRaw.UT, datasheetRaw.UP)
	d, err := New(s, Addr, &Opts{Pressure: oss})
	if err != nil {
		t.Fatal(err)
	}
	s.Commands = nil
	s.Writes = nil
	return d, s
}

func TestNew(t *testing.T) {
	d, _ := newSimDev(t, Standard)
	if c := d.Calibration(); c != DatasheetCalibration {
		t.Fatalf("calibration %+v", c)
	}
	if s := d.String(); s != "BMP180{0x77}" {
		t.Fatal(s)
	}
	if s := d.State(); s != Idle {
		t.Fatal(s)
	}
}

func TestNewBadChipID(t *testing.T) {
	s := NewSim(DatasheetCalibration, 0, 0)
	s.regs[AddrChipID] = 0x60
	if _, err := New(s, Addr, &DefaultOpts); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewBadOversampling(t *testing.T) {
	s := NewSim(DatasheetCalibration, 0, 0)
	if _, err := New(s, Addr, &Opts{Pressure: 4}); err == nil {
		t.Fatal("expected error")
	}
	if s.Commands != nil {
		t.Fatal("bus must not be touched")
	}
}

func TestNewI2CBadAddress(t *testing.T) {
	if _, err := NewI2C(&i2ctest.Playback{DontPanic: true}, 0x76, &DefaultOpts); err == nil {
		t.Fatal("expected error")
	}
}

func TestReadDatasheet(t *testing.T) {
	defer stubSleep(t)()
	d, s := newSimDev(t, UltraLowPower)
	r, err := d.Read()
	if err != nil {
		t.Fatal(err)
	}
	if r.Temperature != 15.0 || r.Pressure != 69964 {
		t.Fatalf("%+v", r)
	}
	// Exactly one temperature then one pressure conversion.
	want := [][2]byte{{AddrCtrlMeas, 0x2E}, {AddrCtrlMeas, 0x34}}
	if !reflect.DeepEqual(s.Writes, want) {
		t.Fatalf("writes %x, want %x", s.Writes, want)
	}
	if want := []time.Duration{5 * time.Millisecond, 5 * time.Millisecond}; !reflect.DeepEqual(sleeps, want) {
		t.Fatalf("sleeps %v, want %v", sleeps, want)
	}
	if st := d.State(); st != Idle {
		t.Fatal(st)
	}
}

func TestReadRawOversampling(t *testing.T) {
	// Datasheet maximum conversion times.
	minimum := []time.Duration{4500 * time.Microsecond, 7500 * time.Microsecond, 13500 * time.Microsecond, 25500 * time.Microsecond}
	for oss := UltraLowPower; oss <= UltraHighResolution; oss++ {
		restore := stubSleep(t)
		s := NewSim(DatasheetCalibration, 27898, 23843<<oss)
		d, err := New(s, Addr, &Opts{Pressure: oss})
		if err != nil {
			t.Fatal(err)
		}
		s.Writes = nil
		raw, err := d.ReadRaw()
		restore()
		if err != nil {
			t.Fatal(err)
		}
		if raw.UT != 27898 || raw.UP != 23843<<oss {
			t.Errorf("%s: %+v", oss, raw)
		}
		if cmd := s.Writes[1][1]; cmd != 0x34|byte(oss)<<6 {
			t.Errorf("%s: command %#x", oss, cmd)
		}
		if sleeps[0] < 4500*time.Microsecond {
			t.Errorf("%s: temperature delay %s", oss, sleeps[0])
		}
		if sleeps[1] != pressureDelay[oss] || sleeps[1] < minimum[oss] {
			t.Errorf("%s: pressure delay %s", oss, sleeps[1])
		}
	}
}

func TestReadRawNegativeTemperature(t *testing.T) {
	defer stubSleep(t)()
	s := NewSim(DatasheetCalibration, -2, 0)
	d, err := New(s, Addr, &DefaultOpts)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := d.ReadRaw()
	if err != nil {
		t.Fatal(err)
	}
	if raw.UT != -2 {
		t.Fatalf("UT %d", raw.UT)
	}
}

func TestReadRawTimeout(t *testing.T) {
	defer stubSleep(t)()
	s := NewSim(DatasheetCalibration, datasheetRaw.UT, datasheetRaw.UP)
	d, err := New(s, Addr, &Opts{Policy: Policy{MaxPolls: 2}})
	if err != nil {
		t.Fatal(err)
	}
	s.BusyPolls = -1
	if _, err := d.ReadRaw(); !errors.Is(err, ErrBusTimeout) {
		t.Fatalf("got %v", err)
	}
	if st := d.State(); st != Idle {
		t.Fatalf("state %s", st)
	}
	// No conversion delay ran since the first write never completed.
	if len(sleeps) != 0 {
		t.Fatalf("sleeps %v", sleeps)
	}
}

func TestLoadCalibrationReplaces(t *testing.T) {
	d, s := newSimDev(t, Standard)
	s.regs[AddrCalStart+1] = 0x99
	if err := d.LoadCalibration(); err != nil {
		t.Fatal(err)
	}
	if c := d.Calibration(); c.AC1 != 0x0199 {
		t.Fatalf("AC1 %#x", c.AC1)
	}
}

func TestSense(t *testing.T) {
	defer stubSleep(t)()
	d, _ := newSimDev(t, UltraLowPower)
	e := physic.Env{}
	if err := d.Sense(&e); err != nil {
		t.Fatal(err)
	}
	if c := e.Temperature.Celsius(); c != 15 {
		t.Errorf("temperature %g°C", c)
	}
	if want := 69964 * physic.Pascal; e.Pressure != want {
		t.Errorf("pressure %s, want %s", e.Pressure, want)
	}
}

func TestSenseContinuous(t *testing.T) {
	defer stubSleep(t)()
	d, _ := newSimDev(t, UltraLowPower)
	c, err := d.SenseContinuous(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		e := <-c
		if e.Pressure != 69964*physic.Pascal {
			t.Fatalf("pressure %s", e.Pressure)
		}
	}
	if err := d.Sense(&physic.Env{}); err == nil {
		t.Fatal("Sense must fail while sensing continuously")
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-c; ok {
		t.Fatal("channel not closed")
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
}

func TestSenseContinuousBadInterval(t *testing.T) {
	defer stubSleep(t)()
	d, s := newSimDev(t, UltraLowPower)
	for _, interval := range []time.Duration{0, -time.Second} {
		if _, err := d.SenseContinuous(interval); err == nil {
			t.Fatalf("%s: expected error", interval)
		}
	}
	if s.Commands != nil {
		t.Fatal("bus must not be touched")
	}
	// Nothing was started, one time sensing still works.
	if err := d.Sense(&physic.Env{}); err != nil {
		t.Fatal(err)
	}
}

// slowSleep makes each conversion take real time, so the sampling goroutine
// is busy on the bus when Halt is called.
func slowSleep() func() {
	old := doSleep
	doSleep = func(time.Duration) {
		time.Sleep(time.Millisecond)
	}
	return func() {
		doSleep = old
	}
}

func drain(c <-chan physic.Env) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range c {
		}
	}()
	return done
}

func waitReturn(t *testing.T, i int, name string, f func() error) {
	t.Helper()
	errc := make(chan error, 1)
	go func() {
		errc <- f()
	}()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("iteration %d: %s: %v", i, name, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("iteration %d: %s did not return", i, name)
	}
}

func TestHaltWhileSampling(t *testing.T) {
	defer slowSleep()()
	d, _ := newSimDev(t, UltraLowPower)
	for i := 0; i < 20; i++ {
		c, err := d.SenseContinuous(time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}
		done := drain(c)
		time.Sleep(5 * time.Millisecond)
		waitReturn(t, i, "Halt", d.Halt)
		<-done
		if st := d.State(); st != Idle {
			t.Fatalf("iteration %d: state %s", i, st)
		}
	}
}

func TestSenseContinuousRestart(t *testing.T) {
	defer slowSleep()()
	d, _ := newSimDev(t, UltraLowPower)
	c, err := d.SenseContinuous(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	done := drain(c)
	for i := 0; i < 10; i++ {
		time.Sleep(3 * time.Millisecond)
		var next <-chan physic.Env
		waitReturn(t, i, "SenseContinuous", func() error {
			var err error
			next, err = d.SenseContinuous(time.Millisecond)
			return err
		})
		// The previous channel is closed once the new run started.
		<-done
		done = drain(next)
	}
	waitReturn(t, 0, "Halt", d.Halt)
	<-done
}

func TestReadRawStates(t *testing.T) {
	defer stubSleep(t)()
	d, s := newSimDev(t, UltraLowPower)
	var states []State
	s.OnExec = func(Command) {
		// Called from within readRaw, d.mu is already held.
		if n := len(states); n == 0 || states[n-1] != d.state {
			states = append(states, d.state)
		}
	}
	if _, err := d.ReadRaw(); err != nil {
		t.Fatal(err)
	}
	want := []State{TemperatureRequested, TemperatureRead, PressureRequested, PressureRead}
	if !reflect.DeepEqual(states, want) {
		t.Fatalf("states %v, want %v", states, want)
	}
	if st := d.State(); st != Idle {
		t.Fatal(st)
	}
}

func TestReadRawStateOnFailure(t *testing.T) {
	defer stubSleep(t)()
	d, s := newSimDev(t, UltraLowPower)
	var failedIn State
	s.OnExec = func(cmd Command) {
		// Jam the bus when the pressure read sends its register.
		if d.state == PressureRead && cmd == SingleSend {
			failedIn = d.state
			s.BusyPolls = -1
		}
	}
	d.e.policy.MaxPolls = 2
	if _, err := d.ReadRaw(); !errors.Is(err, ErrBusTimeout) {
		t.Fatalf("got %v", err)
	}
	if failedIn != PressureRead {
		t.Fatalf("failed in %s", failedIn)
	}
	if st := d.State(); st != Idle {
		t.Fatalf("state %s", st)
	}
}

func TestNewI2CPlayback(t *testing.T) {
	defer stubSleep(t)()
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: Addr, W: []byte{AddrChipID}},
			{Addr: Addr, R: []byte{chipID}},
			{Addr: Addr, W: []byte{AddrCalStart}},
			{Addr: Addr, R: datasheetCalBytes},
			{Addr: Addr, W: []byte{AddrCtrlMeas, 0x2E}},
			{Addr: Addr, W: []byte{AddrOutMSB}},
			{Addr: Addr, R: []byte{0x6C, 0xFA}},
			{Addr: Addr, W: []byte{AddrCtrlMeas, 0x34}},
			{Addr: Addr, W: []byte{AddrOutMSB}},
			{Addr: Addr, R: []byte{0x5D, 0x23, 0x00}},
		},
		DontPanic: true,
	}
	d, err := NewI2C(bus, Addr, &Opts{Pressure: UltraLowPower})
	if err != nil {
		t.Fatal(err)
	}
	r, err := d.Read()
	if err != nil {
		t.Fatal(err)
	}
	if r.Temperature != 15.0 || r.Pressure != 69964 {
		t.Fatalf("%+v", r)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestStateString(t *testing.T) {
	data := []struct {
		s    State
		want string
	}{
		{Idle, "Idle"},
		{TemperatureRequested, "TemperatureRequested"},
		{TemperatureRead, "TemperatureRead"},
		{PressureRequested, "PressureRequested"},
		{PressureRead, "PressureRead"},
		{State(5), "State(5)"},
	}
	for _, line := range data {
		if s := line.s.String(); s != line.want {
			t.Errorf("%q != %q", s, line.want)
		}
	}
}

func TestOversamplingString(t *testing.T) {
	data := []struct {
		o    Oversampling
		want string
	}{
		{UltraLowPower, "UltraLowPower"},
		{Standard, "Standard"},
		{HighResolution, "HighResolution"},
		{UltraHighResolution, "UltraHighResolution"},
		{Oversampling(4), "Oversampling(4)"},
	}
	for _, line := range data {
		if s := line.o.String(); s != line.want {
			t.Errorf("%q != %q", s, line.want)
		}
	}
}
