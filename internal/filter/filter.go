// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package filter removes the calibration bias from raw IMU samples and
// smooths each channel with a one-pole low-pass filter.
package filter

import (
	"math"

	"github.com/relabs-tech/palm_pilot/internal/calibration"
	"github.com/relabs-tech/palm_pilot/internal/imu"
)

const (
	DefaultAccelAlpha = 0.3
	DefaultGyroAlpha  = 0.7
	DefaultClampG     = 0.2
)

// State is the previous low-pass output of all six channels.
type State struct {
	Accel imu.Vec3
	Gyro  imu.Vec3
}

// LowPass returns a*in + (1-a)*prev.
func LowPass(alpha, in, prev float64) float64 {
	return alpha*in + (1-alpha)*prev
}

func lowPassVec(alpha float64, in, prev imu.Vec3) imu.Vec3 {
	var out imu.Vec3
	for i := range out {
		out[i] = LowPass(alpha, in[i], prev[i])
	}
	return out
}

// ClampMagnitude pushes v away from zero so that |v| >= limit, keeping the
// sign. Zero clamps to +limit.
func ClampMagnitude(v, limit float64) float64 {
	if math.Abs(v) >= limit {
		return v
	}
	if math.Signbit(v) {
		return -limit
	}
	return limit
}

// Pipeline is the per-tick bias removal and low-pass stage.
type Pipeline struct {
	AccelAlpha float64
	GyroAlpha  float64
	// ClampG is the minimum magnitude of the vertical accel output (g).
	// Zero disables the clamp.
	ClampG float64
	// VerticalAxis selects the accel channel ClampG applies to.
	VerticalAxis int
}

// NewPipeline returns a Pipeline with the default alphas and clamp on Z.
func NewPipeline() Pipeline {
	return Pipeline{
		AccelAlpha:   DefaultAccelAlpha,
		GyroAlpha:    DefaultGyroAlpha,
		ClampG:       DefaultClampG,
		VerticalAxis: 2,
	}
}

// Process debiases raw, runs it through the low-pass filters and updates st.
// The vertical accel clamp is applied to the returned sample only; st keeps
// the unclamped value so the filter still tracks the true reading.
func (p Pipeline) Process(raw imu.Sample, bias calibration.BiasRecord, st *State) imu.Sample {
	d := bias.Remove(raw)
	st.Accel = lowPassVec(p.AccelAlpha, d.Accel(), st.Accel)
	st.Gyro = lowPassVec(p.GyroAlpha, d.Gyro(), st.Gyro)
	return p.output(raw.Source, st)
}

// Prime seeds st directly from one debiased sample, so the first ticks after
// a reset do not ramp up from zero.
func (p Pipeline) Prime(raw imu.Sample, bias calibration.BiasRecord, st *State) imu.Sample {
	d := bias.Remove(raw)
	st.Accel = d.Accel()
	st.Gyro = d.Gyro()
	return p.output(raw.Source, st)
}

// Current returns the filtered sample held in st, clamped like Process.
func (p Pipeline) Current(source string, st *State) imu.Sample {
	return p.output(source, st)
}

func (p Pipeline) output(source string, st *State) imu.Sample {
	accel := st.Accel
	if p.ClampG > 0 && p.VerticalAxis >= 0 && p.VerticalAxis < 3 {
		accel[p.VerticalAxis] = ClampMagnitude(accel[p.VerticalAxis], p.ClampG)
	}
	return imu.NewSample(source, accel, st.Gyro)
}
