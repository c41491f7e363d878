// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/palm_pilot/internal/imu"
)

const (
	// DefaultSamples and DefaultInterval give a ~2s stationary capture.
	DefaultSamples  = 200
	DefaultInterval = 10 * time.Millisecond

	// Above this accel stddev (g) the device very likely moved.
	movedAccelStdDev = 0.02
	// Above this gyro stddev (deg/s) the device very likely moved.
	movedGyroStdDev = 1.0

	// Noise at this multiple of the moved thresholds scores confFloor.
	noiseRatioBad = 4.0
	confFloor     = 0.05
)

// ErrTooManyReadFailures is returned when the sensor failed more reads than
// the number of samples requested.
var ErrTooManyReadFailures = errors.New("calibration: too many sensor read failures")

// Stats describes the quality of a calibration capture.
type Stats struct {
	Samples      int      `json:"samples"`
	ReadFailures int      `json:"read_failures"`
	AccelStdDev  imu.Vec3 `json:"accel_stddev"`
	GyroStdDev   imu.Vec3 `json:"gyro_stddev"`
	Duration     float64  `json:"duration_sec"`
}

// Moved reports whether the spread of the capture suggests the device was
// not stationary. It is only a hint: the bias is still usable, just worse.
func (s Stats) Moved() bool {
	for i := 0; i < 3; i++ {
		if s.AccelStdDev[i] > movedAccelStdDev || s.GyroStdDev[i] > movedGyroStdDev {
			return true
		}
	}
	return false
}

// Confidence scores the capture between confFloor and 1. A capture under
// the moved thresholds on every channel scores 1.
func (s Stats) Confidence() float64 {
	ratio := 0.0
	for i := 0; i < 3; i++ {
		ratio = math.Max(ratio, s.AccelStdDev[i]/movedAccelStdDev)
		ratio = math.Max(ratio, s.GyroStdDev[i]/movedGyroStdDev)
	}
	switch {
	case ratio <= 1:
		return 1
	case ratio >= noiseRatioBad:
		return confFloor
	default:
		t := (ratio - 1) / (noiseRatioBad - 1)
		return 1 - (1-confFloor)*t
	}
}

// Result is the outcome of one calibration pass.
type Result struct {
	Bias  BiasRecord
	Stats Stats
}

// Calibrator averages stationary samples into a BiasRecord.
type Calibrator struct {
	Reader   imu.Reader
	Interval time.Duration
	// VerticalAxis is the accel axis that reads +1g at rest (0=X, 1=Y, 2=Z).
	VerticalAxis int

	// sleep is swapped out by tests.
	sleep func(context.Context, time.Duration) error
}

// NewCalibrator returns a Calibrator with the default interval and Z as the
// vertical axis.
func NewCalibrator(r imu.Reader) *Calibrator {
	return &Calibrator{Reader: r, Interval: DefaultInterval, VerticalAxis: 2}
}

// Calibrate collects n samples while the sensor is assumed stationary and
// returns their per-channel mean, with gravity removed from the vertical
// accel axis. Failed reads are skipped; more than n failures in total abort
// the pass. Cancelling ctx abandons the pass between reads.
func (c *Calibrator) Calibrate(ctx context.Context, n int) (Result, error) {
	if n <= 0 {
		return Result{}, fmt.Errorf("calibration: sample count must be positive, got %d", n)
	}
	if c.VerticalAxis < 0 || c.VerticalAxis > 2 {
		return Result{}, fmt.Errorf("calibration: vertical axis %d out of range", c.VerticalAxis)
	}
	sleep := c.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	start := time.Now()
	accel := make([]imu.Vec3, 0, n)
	gyro := make([]imu.Vec3, 0, n)
	failures := 0

	for len(accel) < n {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("calibration: abandoned after %d samples: %w", len(accel), err)
		}
		s, err := c.Reader.ReadRaw()
		if err != nil {
			failures++
			log.WithField("failures", failures).Warnf("calibration: read error: %v", err)
			if failures > n {
				return Result{}, fmt.Errorf("%w (%d): last error: %v", ErrTooManyReadFailures, failures, err)
			}
		} else {
			accel = append(accel, s.Accel())
			gyro = append(gyro, s.Gyro())
		}
		if len(accel) < n && c.Interval > 0 {
			if err := sleep(ctx, c.Interval); err != nil {
				return Result{}, fmt.Errorf("calibration: abandoned after %d samples: %w", len(accel), err)
			}
		}
	}

	accelMean, accelStd := meanStd(accel)
	gyroMean, gyroStd := meanStd(gyro)

	// Gravity is not a bias.
	accelMean[c.VerticalAxis] -= 1.0

	res := Result{
		Bias: BiasRecord{AccelBias: accelMean, GyroBias: gyroMean},
		Stats: Stats{
			Samples:      n,
			ReadFailures: failures,
			AccelStdDev:  accelStd,
			GyroStdDev:   gyroStd,
			Duration:     time.Since(start).Seconds(),
		},
	}
	if res.Stats.Moved() {
		log.WithFields(log.Fields{
			"accel_stddev": accelStd,
			"gyro_stddev":  gyroStd,
		}).Warn("calibration: sensor appears to have moved, bias will be less accurate")
	}
	return res, nil
}

func meanStd(vs []imu.Vec3) (mean, std imu.Vec3) {
	if len(vs) == 0 {
		return
	}
	for _, v := range vs {
		mean = mean.Add(v)
	}
	mean = mean.Scale(1 / float64(len(vs)))
	for _, v := range vs {
		d := v.Sub(mean)
		for i := range d {
			std[i] += d[i] * d[i]
		}
	}
	for i := range std {
		std[i] = math.Sqrt(std[i] / float64(len(vs)))
	}
	return mean, std
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
