package sensors

import (
	"errors"
	"math"
	"testing"

	"periph.io/x/conn/v3/i2c/i2ctest"
)

func init() {
	wakeDelay = 0
}

func initOps(addr uint16, whoAmI byte) []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: addr, W: []byte{regPwrMgmt1, 0x01}},
		{Addr: addr, W: []byte{regWhoAmI}, R: []byte{whoAmI}},
		{Addr: addr, W: []byte{regSmplrtDiv, 4}},
		{Addr: addr, W: []byte{regConfig, 3}},
		{Addr: addr, W: []byte{regGyroConfig, 1 << 3}},
		{Addr: addr, W: []byte{regAccelConfig, 2 << 3}},
	}
}

var testOpts = Opts{AccelRange: 2, GyroRange: 1, DLPF: 3, SampleRateDiv: 4}

func TestNewMPU6050_ConfiguresAndReads(t *testing.T) {
	ops := initOps(DefaultAddress, 0x68)
	ops = append(ops, i2ctest.IO{
		Addr: DefaultAddress,
		W:    []byte{regAccelXoutH},
		R: []byte{
			0x10, 0x00, // ax = 4096 -> 1g at ±8g
			0xF8, 0x00, // ay = -2048 -> -0.5g
			0x00, 0x00, // az = 0
			0x12, 0x34, // temp, ignored
			0x02, 0x8F, // gx = 655 -> 10 deg/s at ±500
			0xFF, 0x7D, // gy = -131 -> -2 deg/s
			0x00, 0x00, // gz = 0
		},
	})
	bus := &i2ctest.Playback{Ops: ops}
	defer func() {
		if err := bus.Close(); err != nil {
			t.Fatalf("playback not fully consumed: %v", err)
		}
	}()

	m, err := NewMPU6050(bus, testOpts)
	if err != nil {
		t.Fatalf("NewMPU6050: %v", err)
	}
	if m.WhoAmI() != 0x68 {
		t.Fatalf("whoAmI=0x%02X want 0x68", m.WhoAmI())
	}

	s, err := m.ReadRaw()
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	want := []struct {
		name      string
		got, want float64
	}{
		{"ax", s.Ax, 1}, {"ay", s.Ay, -0.5}, {"az", s.Az, 0},
		{"gx", s.Gx, 10}, {"gy", s.Gy, -2}, {"gz", s.Gz, 0},
	}
	for _, w := range want {
		if math.Abs(w.got-w.want) > 1e-9 {
			t.Fatalf("%s=%v want %v", w.name, w.got, w.want)
		}
	}
	if s.Source != "mpu6050" {
		t.Fatalf("source=%q", s.Source)
	}
}

func TestNewMPU6050_RejectsUnknownDevice(t *testing.T) {
	bus := &i2ctest.Playback{Ops: initOps(DefaultAddress, 0x42)[:2]}
	_, err := NewMPU6050(bus, testOpts)
	if !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("err=%v want ErrUnknownDevice", err)
	}
}

func TestNewMPU6050_RangeValidation(t *testing.T) {
	if _, err := NewMPU6050(&i2ctest.Playback{}, Opts{AccelRange: 4}); err == nil {
		t.Fatalf("expected range error")
	}
}

func TestReadRaw_PropagatesBusError(t *testing.T) {
	bus := &i2ctest.Playback{Ops: initOps(0x69, 0x72), DontPanic: true}
	m, err := NewMPU6050(bus, Opts{Addr: 0x69, AccelRange: 2, GyroRange: 1, DLPF: 3, SampleRateDiv: 4})
	if err != nil {
		t.Fatalf("NewMPU6050: %v", err)
	}
	// No op left for the burst read, so the playback bus fails it.
	if _, err := m.ReadRaw(); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestDumpRegisters(t *testing.T) {
	ops := initOps(DefaultAddress, 0x68)
	for i, info := range RegisterMap() {
		ops = append(ops, i2ctest.IO{Addr: DefaultAddress, W: []byte{info.Address}, R: []byte{byte(i)}})
	}
	bus := &i2ctest.Playback{Ops: ops}
	m, err := NewMPU6050(bus, testOpts)
	if err != nil {
		t.Fatalf("NewMPU6050: %v", err)
	}
	regs := m.DumpRegisters()
	if len(regs) != len(RegisterMap()) {
		t.Fatalf("len=%d want %d", len(regs), len(RegisterMap()))
	}
	if regs[1].Name != "CONFIG" || regs[1].Value != "0x01" {
		t.Fatalf("regs[1]=%+v", regs[1])
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("playback: %v", err)
	}
}

func TestMockReader_LevelWhileSettling(t *testing.T) {
	r := NewMockReader()
	s, err := r.ReadRaw()
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	if math.Abs(s.Az-1-mockAccelBias[2]) > 0.05 {
		t.Fatalf("az=%v want ~1g", s.Az)
	}
	if math.Abs(s.Gz-mockGyroBias[2]) > 0.5 {
		t.Fatalf("gz=%v want ~bias", s.Gz)
	}
}

func TestReadRegister(t *testing.T) {
	ops := append(initOps(DefaultAddress, 0x68), i2ctest.IO{Addr: DefaultAddress, W: []byte{regGyroConfig}, R: []byte{0x08}})
	bus := &i2ctest.Playback{Ops: ops}
	m, err := NewMPU6050(bus, testOpts)
	if err != nil {
		t.Fatalf("NewMPU6050: %v", err)
	}
	v, err := m.ReadRegister(regGyroConfig)
	if err != nil || v != 0x08 {
		t.Fatalf("v=0x%02X err=%v want 0x08", v, err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("playback: %v", err)
	}
}
