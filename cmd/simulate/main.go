// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/posture_computer/internal/app"
	"github.com/relabs-tech/posture_computer/internal/config"
)

func main() {
	configPath := flag.String("config", "./posture_config.txt", "path to configuration file")
	var opts app.SimulateOptions
	flag.StringVar(&opts.Scenario, "scenario", "desk", "scenario: still, desk or squat")
	flag.DurationVar(&opts.Duration, "duration", 30*time.Second, "simulated duration")
	flag.Float64Var(&opts.Speed, "speed", 0, "playback speed, 0 runs as fast as possible")
	flag.Int64Var(&opts.Seed, "seed", 1, "noise seed")
	flag.BoolVar(&opts.Publish, "publish", false, "publish raw frames to MQTT for a running monitor")
	flag.Parse()

	log.Println("starting posture-computer simulator")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunSimulate(ctx, opts); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
