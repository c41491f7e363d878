// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/palm_pilot/internal/config"
	"github.com/relabs-tech/palm_pilot/internal/orientation"
)

// RunConsole runs the estimator in-process, without MQTT, and prints the
// pose every CONSOLE_LOG_INTERVAL.
func RunConsole(ctx context.Context, mock bool) error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("console: configuration not initialized")
	}

	est, src, err := newEstimator(cfg, mock)
	if err != nil {
		return fmt.Errorf("console: %w", err)
	}
	defer src.Close()

	if err := est.Setup(ctx); err != nil {
		return fmt.Errorf("console: setup: %w", err)
	}
	st := est.Snapshot()
	log.Printf("console: calibration %s, gyro bias %v", st.CalibrationSource, st.Bias.GyroBias)

	return runConsoleLoop(ctx, est, os.Stdout,
		time.Duration(cfg.IMUSampleInterval)*time.Millisecond,
		everyN(cfg.ConsoleLogInterval, cfg.IMUSampleInterval))
}

func runConsoleLoop(ctx context.Context, src orientation.Source, out io.Writer, interval time.Duration, printEvery int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		pose, err := src.Next()
		if err != nil {
			return err
		}
		if n%printEvery == 0 {
			printPose(out, pose)
		}
	}
}

func printPose(out io.Writer, pose orientation.Pose) {
	fmt.Fprintf(out,
		"ROLL=%6.2f  PITCH=%6.2f  YAW=%6.2f\n",
		pose.Roll,
		pose.Pitch,
		pose.Yaw,
	)
}
