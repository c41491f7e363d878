// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import "github.com/relabs-tech/palm_pilot/internal/imu"

// BiasRecord is the constant at-rest error of the sensor. The accel bias is
// the deviation from exactly 1g on the vertical axis and 0g elsewhere; the
// gyro bias is the deviation from 0 deg/s.
type BiasRecord struct {
	AccelBias imu.Vec3 `json:"accel_bias" yaml:"accel_bias"`
	GyroBias  imu.Vec3 `json:"gyro_bias" yaml:"gyro_bias"`
}

// Remove subtracts the bias from a raw sample.
func (b BiasRecord) Remove(s imu.Sample) imu.Sample {
	return imu.NewSample(s.Source, s.Accel().Sub(b.AccelBias), s.Gyro().Sub(b.GyroBias))
}
