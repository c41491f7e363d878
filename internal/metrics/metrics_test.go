package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/relabs-tech/palm_pilot/internal/calibration"
	"github.com/relabs-tech/palm_pilot/internal/imu"
	"github.com/relabs-tech/palm_pilot/internal/orientation"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	r.ObserveTick(20*time.Millisecond, orientation.Pose{Roll: 1, Pitch: 2, Yaw: 3}, orientation.Pose{Roll: 4})
	r.ObserveTick(20*time.Millisecond, orientation.Pose{Roll: 5}, orientation.Pose{Roll: 6})
	r.ObserveSoftFault(errors.New("nack"))
	r.ObserveCalibration("calibrated", calibration.BiasRecord{}, calibration.Stats{Samples: 10, GyroStdDev: imu.Vec3{0, 0, 0.7}})
	r.ObserveCalibration("loaded", calibration.BiasRecord{}, calibration.Stats{})
	r.ObserveDriftCorrection(imu.Vec3{0.1, 0.2, 0.3})

	checks := []struct {
		name      string
		got, want float64
	}{
		{"ticks", testutil.ToFloat64(r.ticks), 2},
		{"faults", testutil.ToFloat64(r.softFaults), 1},
		{"drift", testutil.ToFloat64(r.driftCorrections), 1},
		{"calibrated", testutil.ToFloat64(r.calibrations.WithLabelValues("calibrated")), 1},
		{"loaded", testutil.ToFloat64(r.calibrations.WithLabelValues("loaded")), 1},
		{"roll smoothed", testutil.ToFloat64(r.angle.WithLabelValues("roll", "smoothed")), 5},
		{"roll fused", testutil.ToFloat64(r.angle.WithLabelValues("roll", "fused")), 6},
		{"gyro bias z", testutil.ToFloat64(r.gyroBias.WithLabelValues("z")), 0.3},
		{"gyro noise z", testutil.ToFloat64(r.calibrationNoise.WithLabelValues("gyro", "z")), 0.7},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s=%v want %v", c.name, c.got, c.want)
		}
	}
}

func TestHandler(t *testing.T) {
	r := NewRecorder()
	r.ObserveCalibration("loaded", calibration.BiasRecord{GyroBias: imu.Vec3{1, 2, 3}}, calibration.Stats{})
	r.ObserveTick(10*time.Millisecond, orientation.Pose{}, orientation.Pose{})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"palm_pilot_ticks_total 1",
		`palm_pilot_gyro_bias_dps{axis="y"} 2`,
		"palm_pilot_tick_interval_seconds_count 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}
