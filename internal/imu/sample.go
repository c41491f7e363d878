// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import "math"

// Sample represents a single 6-axis IMU reading in physical units.
type Sample struct {
	Source string `json:"source,omitempty"` // "mpu6050", "mock", ...

	Ax float64 `json:"ax"` // accel, g
	Ay float64 `json:"ay"`
	Az float64 `json:"az"`

	Gx float64 `json:"gx"` // gyro, deg/s
	Gy float64 `json:"gy"`
	Gz float64 `json:"gz"`
}

// Accel returns the accelerometer channels as a vector.
func (s Sample) Accel() Vec3 { return Vec3{s.Ax, s.Ay, s.Az} }

// Gyro returns the gyroscope channels as a vector.
func (s Sample) Gyro() Vec3 { return Vec3{s.Gx, s.Gy, s.Gz} }

// NewSample builds a Sample from accel and gyro vectors.
func NewSample(source string, accel, gyro Vec3) Sample {
	return Sample{
		Source: source,
		Ax:     accel[0], Ay: accel[1], Az: accel[2],
		Gx: gyro[0], Gy: gyro[1], Gz: gyro[2],
	}
}

// Reader is anything that can produce one raw sample per call.
// Implementations return an error on bus/read failure.
type Reader interface {
	ReadRaw() (Sample, error)
}

// Vec3 is an x/y/z triple. It serializes as a 3-element array.
type Vec3 [3]float64

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }

func (v Vec3) Scale(k float64) Vec3 { return Vec3{v[0] * k, v[1] * k, v[2] * k} }

// Norm returns the euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}
