package orientation

import (
	"math"

	"github.com/relabs-tech/palm_pilot/internal/imu"
)

const (
	DefaultComplementaryAlpha = 0.98
	DefaultSmoothingAlpha     = 0.1
)

const radToDeg = 180.0 / math.Pi

// Pose is the canonical representation of orientation for the app, in degrees.
// Yaw is integrated gyro Z in its raw sign and is never wrapped.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Source is anything that can provide poses over time.
type Source interface {
	Next() (Pose, error)
}

// TiltFromAccel computes roll and pitch from the gravity direction only.
// Yaw is left at 0.
//
//	roll  = atan2(ay, sqrt(ax² + az²))
//	pitch = atan2(-ax, sqrt(ay² + az²))
func TiltFromAccel(ax, ay, az float64) Pose {
	return Pose{
		Roll:  math.Atan2(ay, math.Sqrt(ax*ax+az*az)) * radToDeg,
		Pitch: math.Atan2(-ax, math.Sqrt(ay*ay+az*az)) * radToDeg,
	}
}

// Complementary fuses integrated gyro rates with accelerometer tilt.
type Complementary struct {
	// Alpha is the weight given to the gyro path, just below 1.
	Alpha float64
}

// Update advances prev by one tick of dt seconds using the filtered sample f.
// Roll and pitch blend gyro integration with accel tilt; yaw is gyro only.
func (c Complementary) Update(f imu.Sample, dt float64, prev Pose) Pose {
	tilt := TiltFromAccel(f.Ax, f.Ay, f.Az)
	gyroRoll := prev.Roll + f.Gx*dt
	gyroPitch := prev.Pitch + f.Gy*dt
	return Pose{
		Roll:  c.Alpha*gyroRoll + (1-c.Alpha)*tilt.Roll,
		Pitch: c.Alpha*gyroPitch + (1-c.Alpha)*tilt.Pitch,
		Yaw:   prev.Yaw + f.Gz*dt,
	}
}

// Smoother is a per-axis exponential moving average over fused poses.
// An Alpha of 0 disables it and Smooth returns its input.
type Smoother struct {
	Alpha float64
	last  Pose
}

// Reset makes p the current smoothed value.
func (s *Smoother) Reset(p Pose) { s.last = p }

// Value returns the last smoothed pose.
func (s *Smoother) Value() Pose { return s.last }

// Smooth folds p into the average and returns the new smoothed pose.
func (s *Smoother) Smooth(p Pose) Pose {
	if s.Alpha <= 0 {
		s.last = p
		return p
	}
	a := s.Alpha
	s.last = Pose{
		Roll:  a*p.Roll + (1-a)*s.last.Roll,
		Pitch: a*p.Pitch + (1-a)*s.last.Pitch,
		Yaw:   a*p.Yaw + (1-a)*s.last.Yaw,
	}
	return s.last
}
