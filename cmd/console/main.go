// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/palm_pilot/internal/app"
	"github.com/relabs-tech/palm_pilot/internal/config"
)

func main() {
	configPath := flag.String("config", "./palm_config.txt", "path to configuration file")
	mock := flag.Bool("mock", false, "use the synthetic sensor instead of the MPU-6050")
	flag.Parse()

	log.Println("starting palm-pilot console (local estimator)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	app.SetLogLevel(config.Get().LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsole(ctx, *mock); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
