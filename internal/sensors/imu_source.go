// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/palm_pilot/internal/config"
	"github.com/relabs-tech/palm_pilot/internal/imu"
)

// IMUSource is a raw sample reader that owns a hardware resource.
type IMUSource interface {
	imu.Reader
	io.Closer
}

// NewIMUSource opens the MPU-6050 described by the global configuration.
// Any error here means no orientation can be produced at all and should be
// treated as a startup failure.
func NewIMUSource() (*MPU6050, error) {
	cfg := config.Get()
	if cfg == nil {
		return nil, fmt.Errorf("IMU: configuration not initialized")
	}
	return OpenMPU6050(cfg.IMUI2CBus, Opts{
		Addr:          cfg.IMUI2CAddr,
		AccelRange:    cfg.IMUAccelRange,
		GyroRange:     cfg.IMUGyroRange,
		DLPF:          cfg.IMUDLPFConfig,
		SampleRateDiv: cfg.IMUSampleRateDiv,
	})
}

// OpenMPU6050 initializes periph, opens the named I2C bus ("" picks the first
// one) and brings up the device on it.
func OpenMPU6050(busName string, opts Opts) (*MPU6050, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("IMU: periph host init: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("IMU: open I2C bus %q: %w", busName, err)
	}

	m, err := NewMPU6050(bus, opts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("IMU: device init on %s: %w", bus, err)
	}
	m.closer = bus

	log.Printf("IMU: MPU-6050 on %s addr 0x%02X (WHO_AM_I=0x%02X)", bus, m.dev.Addr, m.WhoAmI())
	if m.WhoAmI() != 0x68 {
		log.Warnf("IMU: WHO_AM_I 0x%02X is not a genuine MPU-6050, continuing", m.WhoAmI())
	}
	log.Printf("IMU: accelerometer range set to %d (±%dg)", opts.AccelRange, []int{2, 4, 8, 16}[opts.AccelRange])
	log.Printf("IMU: gyroscope range set to %d (±%d°/s)", opts.GyroRange, []int{250, 500, 1000, 2000}[opts.GyroRange])

	internalRate := 1000 // 1kHz for DLPF modes 1-6
	if opts.DLPF&0x07 == 0 {
		internalRate = 8000
	}
	outputRate := internalRate / (1 + int(opts.SampleRateDiv))
	log.Printf("IMU: DLPF config %d, sample rate divider %d (output rate: %d Hz)", opts.DLPF, opts.SampleRateDiv, outputRate)

	return m, nil
}

// Open returns either the real MPU-6050 or, when mock is set, a synthetic
// source that needs no hardware.
func Open(mock bool) (IMUSource, error) {
	if mock {
		log.Println("IMU: using mock sensor")
		return NewMockReader(), nil
	}
	m, err := NewIMUSource()
	if err != nil {
		return nil, err
	}
	return m, nil
}
