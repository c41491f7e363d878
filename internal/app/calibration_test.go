package app

import (
	"bufio"
	"bytes"
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relabs-tech/palm_pilot/internal/calibration"
	"github.com/relabs-tech/palm_pilot/internal/imu"
)

type constReader struct {
	s imu.Sample
}

func (r constReader) ReadRaw() (imu.Sample, error) { return r.s, nil }

func TestRunGuidedCalibration_SavesBias(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calib.yaml")
	store := calibration.NewFileStore(path)

	c := calibration.NewCalibrator(constReader{imu.Sample{Ax: 0.02, Ay: -0.01, Az: 1.03, Gx: 1.5, Gy: -0.5, Gz: 0.25}})
	c.Interval = 0

	var out bytes.Buffer
	res, err := runGuidedCalibration(context.Background(), bufio.NewReader(strings.NewReader("\n")), &out, c, store, 20)
	if err != nil {
		t.Fatalf("runGuidedCalibration: %v", err)
	}
	if math.Abs(res.Bias.AccelBias[2]-0.03) > 1e-9 || res.Bias.GyroBias[0] != 1.5 {
		t.Fatalf("bias=%+v", res.Bias)
	}

	saved, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if saved.GyroBias != res.Bias.GyroBias {
		t.Fatalf("saved=%+v want %+v", saved, res.Bias)
	}

	text := out.String()
	for _, want := range []string{"Z axis pointing up", "20 samples", "confidence: 1.00", "Saved to " + path} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "WARNING") {
		t.Fatalf("constant input reported as moved:\n%s", text)
	}
}

func TestRunGuidedCalibration_ShowsPreviousAndWarnsOnMotion(t *testing.T) {
	store := calibration.NewFileStore(filepath.Join(t.TempDir(), "calib.json"))
	if err := store.Save(calibration.BiasRecord{GyroBias: imu.Vec3{9, 9, 9}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r := &swingReader{}
	c := calibration.NewCalibrator(r)
	c.Interval = 0
	c.VerticalAxis = 1

	var out bytes.Buffer
	if _, err := runGuidedCalibration(context.Background(), bufio.NewReader(strings.NewReader("")), &out, c, store, 10); err != nil {
		t.Fatalf("runGuidedCalibration: %v", err)
	}
	text := out.String()
	for _, want := range []string{"Current calibration", "Y axis pointing up", "WARNING"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestRunGuidedCalibration_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := calibration.NewFileStore(filepath.Join(t.TempDir(), "calib.json"))
	c := calibration.NewCalibrator(constReader{imu.Sample{Az: 1}})

	var out bytes.Buffer
	if _, err := runGuidedCalibration(ctx, bufio.NewReader(strings.NewReader("\n")), &out, c, store, 10); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := store.Load(); err != calibration.ErrNotFound {
		t.Fatalf("Load err=%v want ErrNotFound", err)
	}
}

// swingReader alternates between two orientations to simulate handling.
type swingReader struct{ n int }

func (r *swingReader) ReadRaw() (imu.Sample, error) {
	r.n++
	if r.n%2 == 0 {
		return imu.Sample{Ay: 1, Gx: 40}, nil
	}
	return imu.Sample{Ax: 0.5, Ay: 0.8, Gx: -40}, nil
}
