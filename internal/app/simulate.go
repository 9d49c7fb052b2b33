// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/posture_computer/internal/imu"
	"github.com/relabs-tech/posture_computer/internal/record"
	"github.com/relabs-tech/posture_computer/internal/session"
	"github.com/relabs-tech/posture_computer/internal/sim"
	"github.com/relabs-tech/posture_computer/internal/transport/mqttbus"
)

// SimulateOptions selects a synthetic run.
type SimulateOptions struct {
	Scenario string        // still, desk or squat
	Duration time.Duration // simulated time
	Speed    float64       // playback speed, 0 = as fast as possible
	Seed     int64
	Publish  bool // publish raw frames to MQTT instead of running a local session
}

// RunSimulate generates a scenario. By default it runs a local session and
// prints the summary; with Publish it feeds a running monitor over MQTT.
func RunSimulate(ctx context.Context, opts SimulateOptions) error {
	cfg, err := mustConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "posture-simulate")
	defer log.Sync() //nolint:errcheck

	scfg, err := loadSession(cfg)
	if err != nil {
		return err
	}
	sensors, err := sim.Scenario(opts.Scenario)
	if err != nil {
		return err
	}
	samples := sim.New(opts.Seed, sensors...).Samples(opts.Duration)
	log.Info("simulate: generated",
		zap.String("scenario", opts.Scenario),
		zap.Duration("duration", opts.Duration),
		zap.Int("samples", len(samples)))

	if opts.Publish {
		client, err := mqttbus.Connect(cfg.MQTTBroker, cfg.MQTTClientIDSimulate, log)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		return publishSamples(ctx, client, cfg.TopicRaw, scfg, samples, opts.Speed)
	}

	sum, err := simulate(ctx, scfg, samples, opts.Speed, log)
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, formatSummary(sum))
	return nil
}

// simulate plays samples through a local session with clock sync on and
// returns its summary.
func simulate(ctx context.Context, scfg session.Config, samples []sim.Sample, speed float64, log *zap.Logger) (record.Summary, error) {
	scfg.Ingest.ClockSync = true
	sess, err := session.Start(ctx, scfg, log)
	if err != nil {
		return record.Summary{}, err
	}

	playErr := sim.Play(ctx, samples, speed, func(s sim.Sample) error {
		if err := sess.IngestAt(s.Frame, s.HostUs); errors.Is(err, session.ErrEnded) {
			return err
		}
		return nil
	})

	endCtx, cancel := context.WithTimeout(context.Background(), endTimeout)
	defer cancel()
	if _, err := sess.End(endCtx); err != nil {
		return record.Summary{}, err
	}
	if playErr != nil && ctx.Err() == nil {
		return record.Summary{}, playErr
	}
	st := sess.Stats()
	log.Info("simulate: finished",
		zap.Uint64("accepted", st.Ingest.Accepted),
		zap.Uint64("out_of_order", st.Ingest.OutOfOrder),
		zap.Uint64("fusion_faults", st.FusionFaults))
	return sess.Summary(), nil
}

// publishSamples quantizes samples with each sensor's calibration and
// publishes them on the raw topics, paced by speed.
func publishSamples(ctx context.Context, client mqttbus.Client, prefix string, scfg session.Config, samples []sim.Sample, speed float64) error {
	cals := make(map[string]imu.Calibration, len(scfg.Sensors))
	for id, sc := range scfg.Sensors {
		cal := imu.Calibration{}
		if sc.Calibration != nil {
			cal = *sc.Calibration
		}
		if err := cal.Resolve(); err != nil {
			return fmt.Errorf("sensor %s: %w", id, err)
		}
		cals[id] = cal
	}
	err := sim.Play(ctx, samples, speed, func(s sim.Sample) error {
		cal, ok := cals[s.Frame.SensorID]
		if !ok {
			return nil
		}
		return mqttbus.PublishRaw(client, prefix, sim.ToRaw(s.Frame, cal))
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
