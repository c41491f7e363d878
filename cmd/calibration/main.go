// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Interactive stationary bias calibration for the MPU-6050.
//
// The device must rest with the configured vertical axis (CALIBRATION_AXIS)
// pointing up. The result is written to CALIBRATION_FILE (or -out), which the
// producer and console load at startup.
//
// Run:
//
//	go run ./cmd/calibration -samples 500
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/palm_pilot/internal/app"
	"github.com/relabs-tech/palm_pilot/internal/config"
)

func main() {
	configPath := flag.String("config", "palm_config.txt", "Path to configuration file")
	samples := flag.Int("samples", 0, "Number of samples to average (default: CALIBRATION_SAMPLES)")
	out := flag.String("out", "", "Calibration file to write (default: CALIBRATION_FILE)")
	mock := flag.Bool("mock", false, "Calibrate the synthetic sensor")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	app.SetLogLevel(config.Get().LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := app.RunCalibration(ctx, app.CalibrationOptions{
		Samples: *samples,
		File:    *out,
		Mock:    *mock,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nCalibration complete.")
}
