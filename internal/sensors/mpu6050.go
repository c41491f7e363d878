// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"fmt"
	"io"
	"time"

	"periph.io/x/conn/v3/i2c"

	"github.com/relabs-tech/palm_pilot/internal/imu"
)

// DefaultAddress is the MPU-6050 address with AD0 tied low.
const DefaultAddress uint16 = 0x68

// Sensitivity per full-scale setting, indexed by FS_SEL / AFS_SEL.
var (
	accelLSBPerG   = [4]float64{16384, 8192, 4096, 2048}
	gyroLSBPerDegS = [4]float64{131, 65.5, 32.8, 16.4}
)

// wakeDelay is how long the chip needs after leaving sleep before the
// gyro PLL is stable.
var wakeDelay = 100 * time.Millisecond

// Opts configures the MPU-6050 at init time.
type Opts struct {
	Addr          uint16
	AccelRange    byte // 0=±2g .. 3=±16g
	GyroRange     byte // 0=±250°/s .. 3=±2000°/s
	DLPF          byte // CONFIG.DLPF_CFG 0-6
	SampleRateDiv byte
}

// MPU6050 is a 6-axis accel/gyro on an I2C bus.
type MPU6050 struct {
	dev      i2c.Dev
	closer   io.Closer
	whoAmI   byte
	accelLSB float64
	gyroLSB  float64
}

// ErrUnknownDevice is returned when WHO_AM_I does not look like an MPU-6050.
var ErrUnknownDevice = errors.New("mpu6050: unexpected WHO_AM_I")

// NewMPU6050 wakes the device at opts.Addr on bus and applies the ranges and
// filter settings in opts.
func NewMPU6050(bus i2c.Bus, opts Opts) (*MPU6050, error) {
	if opts.Addr == 0 {
		opts.Addr = DefaultAddress
	}
	if opts.AccelRange > 3 || opts.GyroRange > 3 {
		return nil, fmt.Errorf("mpu6050: range out of bounds (accel=%d gyro=%d)", opts.AccelRange, opts.GyroRange)
	}
	m := &MPU6050{
		dev:      i2c.Dev{Bus: bus, Addr: opts.Addr},
		accelLSB: accelLSBPerG[opts.AccelRange],
		gyroLSB:  gyroLSBPerDegS[opts.GyroRange],
	}

	// Clear SLEEP and use the X gyro PLL as clock source.
	if err := m.writeReg(regPwrMgmt1, 0x01); err != nil {
		return nil, fmt.Errorf("mpu6050: wake: %w", err)
	}
	if wakeDelay > 0 {
		time.Sleep(wakeDelay)
	}

	id, err := m.readReg(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("mpu6050: read WHO_AM_I: %w", err)
	}
	if !knownWhoAmI(id) {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownDevice, id)
	}
	m.whoAmI = id

	for _, w := range []struct {
		reg, val byte
		name     string
	}{
		{regSmplrtDiv, opts.SampleRateDiv, "SMPLRT_DIV"},
		{regConfig, opts.DLPF & 0x07, "CONFIG"},
		{regGyroConfig, opts.GyroRange << 3, "GYRO_CONFIG"},
		{regAccelConfig, opts.AccelRange << 3, "ACCEL_CONFIG"},
	} {
		if err := m.writeReg(w.reg, w.val); err != nil {
			return nil, fmt.Errorf("mpu6050: write %s: %w", w.name, err)
		}
	}
	return m, nil
}

// knownWhoAmI accepts genuine parts (0x68) and the common clones.
func knownWhoAmI(id byte) bool {
	switch id {
	case 0x68, 0x70, 0x72, 0x98:
		return true
	}
	return false
}

// WhoAmI returns the identity byte read at init.
func (m *MPU6050) WhoAmI() byte { return m.whoAmI }

// ReadRaw performs one burst read of ACCEL_XOUT_H..GYRO_ZOUT_L and converts
// counts to g and deg/s.
func (m *MPU6050) ReadRaw() (imu.Sample, error) {
	var buf [14]byte
	if err := m.dev.Tx([]byte{regAccelXoutH}, buf[:]); err != nil {
		return imu.Sample{}, fmt.Errorf("mpu6050: burst read: %w", err)
	}
	word := func(i int) float64 {
		return float64(int16(uint16(buf[i])<<8 | uint16(buf[i+1])))
	}
	// buf[6:8] is TEMP_OUT, unused.
	return imu.Sample{
		Source: "mpu6050",
		Ax:     word(0) / m.accelLSB,
		Ay:     word(2) / m.accelLSB,
		Az:     word(4) / m.accelLSB,
		Gx:     word(8) / m.gyroLSB,
		Gy:     word(10) / m.gyroLSB,
		Gz:     word(12) / m.gyroLSB,
	}, nil
}

// Close releases the underlying bus when the device owns it.
func (m *MPU6050) Close() error {
	if m.closer == nil {
		return nil
	}
	err := m.closer.Close()
	m.closer = nil
	return err
}

func (m *MPU6050) writeReg(reg, val byte) error {
	return m.dev.Tx([]byte{reg, val}, nil)
}

func (m *MPU6050) readReg(reg byte) (byte, error) {
	var r [1]byte
	if err := m.dev.Tx([]byte{reg}, r[:]); err != nil {
		return 0, err
	}
	return r[0], nil
}
