// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package drift re-estimates the gyro bias while the device is held still.
package drift

import (
	"math"

	"github.com/relabs-tech/palm_pilot/internal/calibration"
	"github.com/relabs-tech/palm_pilot/internal/imu"
)

// Config holds the stillness detector and nudge tunables.
type Config struct {
	Enable bool
	// StillSamples is the run of consecutive still samples needed before
	// each correction.
	StillSamples int
	// Nudge is the fraction of the residual gyro reading folded into the
	// bias per correction.
	Nudge float64

	AccelTolerance    float64 // g, on the horizontal axes
	VerticalTolerance float64 // g, on |vertical-1|
	GyroTolerance     float64 // deg/s, every axis
	VerticalAxis      int
}

// DefaultConfig returns the tunables with correction disabled.
func DefaultConfig() Config {
	return Config{
		StillSamples:      50,
		Nudge:             0.01,
		AccelTolerance:    0.05,
		VerticalTolerance: 0.1,
		GyroTolerance:     0.5,
		VerticalAxis:      2,
	}
}

// Tracker is the consecutive stillness counter plus the total correction
// applied to the gyro bias since the last reset.
type Tracker struct {
	StillCount  int
	Corrections int
	Correction  imu.Vec3
}

// Reset clears the tracker.
func (t *Tracker) Reset() { *t = Tracker{} }

// IsStill reports whether the filtered sample f is close to (0,0,1g) on the
// accel and to zero on every gyro axis.
func (c Config) IsStill(f imu.Sample) bool {
	a := f.Accel()
	for i := 0; i < 3; i++ {
		if i == c.VerticalAxis {
			if math.Abs(a[i]-1) >= c.VerticalTolerance {
				return false
			}
		} else if math.Abs(a[i]) >= c.AccelTolerance {
			return false
		}
	}
	g := f.Gyro()
	for i := 0; i < 3; i++ {
		if math.Abs(g[i]) >= c.GyroTolerance {
			return false
		}
	}
	return true
}

// Observe updates tr with the filtered sample f and returns the bias to use
// from now on. f is already debiased, so its gyro channels are the residual
// error; once the still run reaches StillSamples, a Nudge fraction of that
// residual is added to the gyro bias on every still sample. Motion resets
// the run. The accel bias is returned untouched.
func (c Config) Observe(f imu.Sample, tr *Tracker, bias calibration.BiasRecord) (calibration.BiasRecord, bool) {
	if !c.Enable {
		return bias, false
	}
	if !c.IsStill(f) {
		tr.StillCount = 0
		return bias, false
	}
	tr.StillCount++
	if tr.StillCount < c.StillSamples {
		return bias, false
	}
	step := f.Gyro().Scale(c.Nudge)
	bias.GyroBias = bias.GyroBias.Add(step)
	tr.Correction = tr.Correction.Add(step)
	tr.Corrections++
	return bias, true
}
