package calibration

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/relabs-tech/palm_pilot/internal/imu"
)

// scriptedReader replays samples, returning errs[i] where set.
type scriptedReader struct {
	samples []imu.Sample
	errs    map[int]error
	calls   int
}

func (r *scriptedReader) ReadRaw() (imu.Sample, error) {
	i := r.calls
	r.calls++
	if err, ok := r.errs[i]; ok {
		return imu.Sample{}, err
	}
	if len(r.samples) == 0 {
		return imu.Sample{}, errors.New("no samples")
	}
	return r.samples[i%len(r.samples)], nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestCalibrator(r imu.Reader) *Calibrator {
	c := NewCalibrator(r)
	c.sleep = noSleep
	return c
}

func TestCalibrate_StaticLevelSensor(t *testing.T) {
	static := imu.Sample{Ax: 0.03, Ay: -0.02, Az: 1.05, Gx: 1.2, Gy: -0.7, Gz: 0.4}
	c := newTestCalibrator(&scriptedReader{samples: []imu.Sample{static}})

	res, err := c.Calibrate(context.Background(), 50)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	const eps = 1e-9
	wantAccel := imu.Vec3{0.03, -0.02, 0.05}
	wantGyro := imu.Vec3{1.2, -0.7, 0.4}
	for i := 0; i < 3; i++ {
		if math.Abs(res.Bias.AccelBias[i]-wantAccel[i]) > eps {
			t.Fatalf("accel bias=%v want %v", res.Bias.AccelBias, wantAccel)
		}
		if math.Abs(res.Bias.GyroBias[i]-wantGyro[i]) > eps {
			t.Fatalf("gyro bias=%v want %v", res.Bias.GyroBias, wantGyro)
		}
	}
	if res.Stats.Samples != 50 || res.Stats.Moved() {
		t.Fatalf("stats=%+v", res.Stats)
	}
}

func TestCalibrate_AveragesAndUsesVerticalAxis(t *testing.T) {
	r := &scriptedReader{samples: []imu.Sample{
		{Ax: 0.1, Ay: 1.0, Gz: 2},
		{Ax: -0.1, Ay: 1.2, Gz: 4},
	}}
	c := newTestCalibrator(r)
	c.VerticalAxis = 1

	res, err := c.Calibrate(context.Background(), 4)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if math.Abs(res.Bias.AccelBias[0]) > 1e-12 {
		t.Fatalf("ax bias=%v want 0", res.Bias.AccelBias[0])
	}
	if math.Abs(res.Bias.AccelBias[1]-0.1) > 1e-12 {
		t.Fatalf("ay bias=%v want 0.1", res.Bias.AccelBias[1])
	}
	if math.Abs(res.Bias.GyroBias[2]-3) > 1e-12 {
		t.Fatalf("gz bias=%v want 3", res.Bias.GyroBias[2])
	}
	if math.Abs(res.Stats.GyroStdDev[2]-1) > 1e-12 {
		t.Fatalf("gz stddev=%v want 1", res.Stats.GyroStdDev[2])
	}
	if !res.Stats.Moved() {
		t.Fatalf("expected moved hint for noisy capture")
	}
}

func TestCalibrate_SkipsReadFailures(t *testing.T) {
	r := &scriptedReader{
		samples: []imu.Sample{{Az: 1, Gx: 0.5}},
		errs:    map[int]error{0: errors.New("i2c nack"), 3: errors.New("i2c nack")},
	}
	res, err := newTestCalibrator(r).Calibrate(context.Background(), 5)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if res.Stats.ReadFailures != 2 || r.calls != 7 {
		t.Fatalf("failures=%d calls=%d", res.Stats.ReadFailures, r.calls)
	}
	if math.Abs(res.Bias.GyroBias[0]-0.5) > 1e-12 {
		t.Fatalf("gyro bias=%v", res.Bias.GyroBias)
	}
}

func TestCalibrate_TooManyFailures(t *testing.T) {
	errs := map[int]error{}
	for i := 0; i < 10; i++ {
		errs[i] = errors.New("bus gone")
	}
	_, err := newTestCalibrator(&scriptedReader{errs: errs}).Calibrate(context.Background(), 3)
	if !errors.Is(err, ErrTooManyReadFailures) {
		t.Fatalf("err=%v want ErrTooManyReadFailures", err)
	}
}

func TestCalibrate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestCalibrator(&scriptedReader{samples: []imu.Sample{{Az: 1}}}).Calibrate(ctx, 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

func TestCalibrate_RejectsBadArgs(t *testing.T) {
	c := newTestCalibrator(&scriptedReader{})
	if _, err := c.Calibrate(context.Background(), 0); err == nil {
		t.Fatalf("expected error for zero samples")
	}
	c.VerticalAxis = 3
	if _, err := c.Calibrate(context.Background(), 1); err == nil {
		t.Fatalf("expected error for bad axis")
	}
}

func TestStats_Confidence(t *testing.T) {
	cases := []struct {
		name  string
		stats Stats
		want  float64
	}{
		{"quiet", Stats{AccelStdDev: imu.Vec3{0.001, 0.001, 0.002}, GyroStdDev: imu.Vec3{0.1, 0.1, 0.1}}, 1},
		{"very noisy", Stats{GyroStdDev: imu.Vec3{0, 0, 10}}, 0.05},
		{"halfway", Stats{AccelStdDev: imu.Vec3{0.05, 0, 0}}, 1 - 0.95*0.5},
	}
	for _, c := range cases {
		if got := c.stats.Confidence(); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("%s: confidence=%v want %v", c.name, got, c.want)
		}
	}
}
