// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/relabs-tech/palm_pilot/internal/imu"
)

// mockSettle keeps the mock motionless long enough for a default
// calibration pass to see a stationary device.
const mockSettle = 3 * time.Second

// Constant offsets the mock adds so calibration has something to remove.
var (
	mockAccelBias = imu.Vec3{0.02, -0.01, 0.03}
	mockGyroBias  = imu.Vec3{0.8, -0.5, 0.3}
)

type mockReader struct {
	mu    sync.Mutex
	start time.Time
	now   func() time.Time
	rng   *rand.Rand
}

// NewMockReader creates a synthetic 6-axis sensor. It sits level for a few
// seconds, then rocks smoothly in roll and pitch while turning slowly in yaw.
func NewMockReader() IMUSource {
	return &mockReader{
		start: time.Now(),
		now:   time.Now,
		rng:   rand.New(rand.NewSource(1)),
	}
}

func (m *mockReader) ReadRaw() (imu.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tau := m.now().Sub(m.start) - mockSettle
	t := 0.0
	moving := 0.0
	if tau > 0 {
		t = tau.Seconds()
		moving = 1
	}

	roll := 20 * math.Sin(t) * deg
	pitch := 15 * math.Sin(0.7*t) * deg

	// Gravity direction that the tilt formulas map back to (roll, pitch).
	ax := -math.Sin(pitch)
	ay := math.Sin(roll)
	az := math.Sqrt(math.Max(0, 1-ax*ax-ay*ay))

	gyro := imu.Vec3{
		moving * 20 * math.Cos(t),
		moving * 10.5 * math.Cos(0.7*t),
		moving * 10,
	}
	accel := imu.Vec3{ax, ay, az}

	for i := range accel {
		accel[i] += mockAccelBias[i] + m.rng.NormFloat64()*0.004
		gyro[i] += mockGyroBias[i] + m.rng.NormFloat64()*0.05
	}
	return imu.NewSample("mock", accel, gyro), nil
}

func (m *mockReader) Close() error { return nil }

const deg = math.Pi / 180
