// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Static calibration for one sensor. Hold the sensor still with +Z up
// while the tool captures CALIBRATION_SAMPLES raw samples from MQTT, then
// merge the printed fragment into the session file.
//
// Run:
//
//	go run ./cmd/calibration -sensor imu_thor -out calibration.yaml
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/posture_computer/internal/app"
	"github.com/relabs-tech/posture_computer/internal/config"
)

func main() {
	configPath := flag.String("config", "./posture_config.txt", "path to configuration file")
	sensor := flag.String("sensor", "", "sensor id to calibrate")
	out := flag.String("out", "", "output file (stdout when empty)")
	flag.Parse()

	if *sensor == "" {
		log.Fatalf("-sensor is required")
	}

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunCalibration(ctx, *sensor, *out); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
