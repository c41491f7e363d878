// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package estimator

import (
	"fmt"
	"time"

	"github.com/relabs-tech/palm_pilot/internal/calibration"
	"github.com/relabs-tech/palm_pilot/internal/config"
	"github.com/relabs-tech/palm_pilot/internal/drift"
	"github.com/relabs-tech/palm_pilot/internal/filter"
	"github.com/relabs-tech/palm_pilot/internal/orientation"
)

// Config is the full set of estimator tunables.
type Config struct {
	AccelAlpha         float64
	GyroAlpha          float64
	ComplementaryAlpha float64
	SmoothingAlpha     float64 // 0 disables the output smoother
	TiltClampG         float64

	CalibrationSamples  int
	CalibrationInterval time.Duration
	VerticalAxis        int // 0=X, 1=Y, 2=Z

	Drift drift.Config
}

// DefaultConfig returns the tuned defaults, drift correction off.
func DefaultConfig() Config {
	return Config{
		AccelAlpha:          filter.DefaultAccelAlpha,
		GyroAlpha:           filter.DefaultGyroAlpha,
		ComplementaryAlpha:  orientation.DefaultComplementaryAlpha,
		SmoothingAlpha:      orientation.DefaultSmoothingAlpha,
		TiltClampG:          filter.DefaultClampG,
		CalibrationSamples:  calibration.DefaultSamples,
		CalibrationInterval: calibration.DefaultInterval,
		VerticalAxis:        2,
		Drift:               drift.DefaultConfig(),
	}
}

// FromAppConfig maps the application config file values onto Config.
func FromAppConfig(c *config.Config) Config {
	return Config{
		AccelAlpha:          c.FilterAccelAlpha,
		GyroAlpha:           c.FilterGyroAlpha,
		ComplementaryAlpha:  c.ComplementaryAlpha,
		SmoothingAlpha:      c.SmoothingAlpha,
		TiltClampG:          c.TiltClampG,
		CalibrationSamples:  c.CalibrationSamples,
		CalibrationInterval: time.Duration(c.CalibrationIntervalMS) * time.Millisecond,
		VerticalAxis:        c.CalibrationAxis,
		Drift: drift.Config{
			Enable:            c.DriftCorrection,
			StillSamples:      c.DriftStillSamples,
			Nudge:             c.DriftNudge,
			AccelTolerance:    c.DriftAccelTolerance,
			VerticalTolerance: c.DriftVerticalTolerance,
			GyroTolerance:     c.DriftGyroTolerance,
			VerticalAxis:      c.CalibrationAxis,
		},
	}
}

// Validate checks ranges. It does not fill in defaults.
func (c Config) Validate() error {
	for _, a := range []struct {
		name string
		v    float64
	}{
		{"accel alpha", c.AccelAlpha},
		{"gyro alpha", c.GyroAlpha},
		{"complementary alpha", c.ComplementaryAlpha},
		{"smoothing alpha", c.SmoothingAlpha},
		{"drift nudge", c.Drift.Nudge},
	} {
		if a.v < 0 || a.v > 1 {
			return fmt.Errorf("estimator: %s must be within [0,1], got %g", a.name, a.v)
		}
	}
	if c.TiltClampG < 0 {
		return fmt.Errorf("estimator: tilt clamp must not be negative, got %g", c.TiltClampG)
	}
	if c.CalibrationSamples <= 0 {
		return fmt.Errorf("estimator: calibration samples must be positive, got %d", c.CalibrationSamples)
	}
	if c.CalibrationInterval < 0 {
		return fmt.Errorf("estimator: calibration interval must not be negative, got %s", c.CalibrationInterval)
	}
	if c.VerticalAxis < 0 || c.VerticalAxis > 2 {
		return fmt.Errorf("estimator: vertical axis must be 0-2, got %d", c.VerticalAxis)
	}
	if c.Drift.Enable && c.Drift.StillSamples <= 0 {
		return fmt.Errorf("estimator: drift still samples must be positive, got %d", c.Drift.StillSamples)
	}
	return nil
}
