// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/palm_pilot/internal/calibration"
	"github.com/relabs-tech/palm_pilot/internal/config"
	"github.com/relabs-tech/palm_pilot/internal/imu"
	"github.com/relabs-tech/palm_pilot/internal/sensors"
)

// CalibrationOptions overrides the configured calibration settings for one
// interactive run. Zero values fall back to the config file.
type CalibrationOptions struct {
	Samples int
	File    string
	Mock    bool
}

// RunCalibration walks the user through a stationary bias capture on the
// console and saves the result where the estimator will load it.
func RunCalibration(ctx context.Context, opts CalibrationOptions) error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("calibration: configuration not initialized")
	}
	if opts.Samples <= 0 {
		opts.Samples = cfg.CalibrationSamples
	}
	if opts.File == "" {
		opts.File = cfg.CalibrationFile
	}

	src, err := sensors.Open(opts.Mock)
	if err != nil {
		return fmt.Errorf("calibration: %w", err)
	}
	defer src.Close()

	c := calibration.NewCalibrator(src)
	c.Interval = time.Duration(cfg.CalibrationIntervalMS) * time.Millisecond
	c.VerticalAxis = cfg.CalibrationAxis

	_, err = runGuidedCalibration(ctx, bufio.NewReader(os.Stdin), os.Stdout, c,
		calibration.NewFileStore(opts.File), opts.Samples)
	return err
}

func runGuidedCalibration(ctx context.Context, in *bufio.Reader, out io.Writer, c *calibration.Calibrator, store calibration.Store, samples int) (calibration.Result, error) {
	axis := [3]string{"X", "Y", "Z"}[c.VerticalAxis%3]
	duration := time.Duration(samples) * c.Interval

	fmt.Fprintln(out, "=== Palm Pilot bias calibration ===")
	if prev, err := store.Load(); err == nil {
		fmt.Fprintf(out, "Current calibration: accel=%s gyro=%s\n", fmtVec(prev.AccelBias), fmtVec(prev.GyroBias))
	}
	fmt.Fprintf(out, "Place the device on a stable surface with the %s axis pointing up and do not touch it.\n", axis)
	fmt.Fprintf(out, "Press ENTER to start the capture (%d samples, ~%.1fs)...", samples, duration.Seconds())
	if _, err := in.ReadString('\n'); err != nil && err != io.EOF {
		return calibration.Result{}, fmt.Errorf("calibration: reading console: %w", err)
	}

	res, err := c.Calibrate(ctx, samples)
	if err != nil {
		return calibration.Result{}, err
	}

	st := res.Stats
	fmt.Fprintf(out, "\nAccel bias (g):     %s | stddev %s\n", fmtVec(res.Bias.AccelBias), fmtVec(st.AccelStdDev))
	fmt.Fprintf(out, "Gyro bias (deg/s):  %s | stddev %s\n", fmtVec(res.Bias.GyroBias), fmtVec(st.GyroStdDev))
	fmt.Fprintf(out, "Samples: %d  read failures: %d  duration: %.2fs  confidence: %.2f\n",
		st.Samples, st.ReadFailures, st.Duration, st.Confidence())
	if st.Moved() {
		fmt.Fprintln(out, "WARNING: the sensor moved during capture, consider running calibration again.")
	}

	if err := store.Save(res.Bias); err != nil {
		return res, fmt.Errorf("calibration: %w", err)
	}
	if fs, ok := store.(*calibration.FileStore); ok {
		fmt.Fprintf(out, "Saved to %s\n", fs.Path)
		log.WithField("file", fs.Path).Debug("calibration: saved")
	}
	return res, nil
}

func fmtVec(v imu.Vec3) string {
	return fmt.Sprintf("X=%+.4f Y=%+.4f Z=%+.4f", v[0], v[1], v[2])
}
