// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/posture_computer/internal/imu"
	"github.com/relabs-tech/posture_computer/internal/transport/mqttbus"
)

// minConfidence below which a capture is reported as unreliable.
const minConfidence = 0.5

// RunCalibration captures raw samples from one sensor held still, +Z up,
// and writes the resulting calibration as a session config fragment to
// out (stdout when empty).
func RunCalibration(ctx context.Context, sensorID, out string) error {
	cfg, err := mustConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "posture-calibration")
	defer log.Sync() //nolint:errcheck

	client, err := mqttbus.Connect(cfg.MQTTBroker, cfg.MQTTClientIDMonitor+"-calibration", log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	c := newCapture(sensorID, cfg.CalibrationSamples)
	if err := mqttbus.SubscribeRaw(client, cfg.TopicRaw, c.add, log); err != nil {
		return err
	}
	defer client.Unsubscribe(cfg.TopicRaw + "/+")
	log.Info("calibration: capturing, keep the sensor still with +Z up",
		zap.String("sensor", sensorID), zap.Int("samples", cfg.CalibrationSamples))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
	}

	res, err := imu.StaticCalibration(c.samples, cfg.IMUAccelRange, cfg.IMUGyroRange)
	if err != nil {
		return err
	}
	log.Info("calibration: done",
		zap.Float64("confidence", res.Confidence),
		zap.Float64("gyro_bias_x", res.Calibration.GyroBias.X),
		zap.Float64("gyro_bias_y", res.Calibration.GyroBias.Y),
		zap.Float64("gyro_bias_z", res.Calibration.GyroBias.Z))
	if res.Confidence < minConfidence {
		log.Warn("calibration: sensor moved during capture, consider repeating",
			zap.Float64("confidence", res.Confidence))
	}

	var w io.Writer = os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}
		defer f.Close()
		w = f
	}
	return writeCalibration(w, sensorID, res)
}

// capture collects n samples from one sensor.
type capture struct {
	sensor string
	n      int

	mu      sync.Mutex
	samples []imu.IMURaw
	done    chan struct{}
}

func newCapture(sensor string, n int) *capture {
	return &capture{sensor: sensor, n: n, samples: make([]imu.IMURaw, 0, n), done: make(chan struct{})}
}

func (c *capture) add(raw imu.IMURaw) error {
	if raw.Source != c.sensor {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.samples) >= c.n {
		return nil
	}
	c.samples = append(c.samples, raw)
	if len(c.samples) == c.n {
		close(c.done)
	}
	return nil
}

// calibrationFragment is the YAML written by the calibration tool; it
// merges into the sensors section of a session file.
type calibrationFragment struct {
	Sensors map[string]sensorFragment `yaml:"sensors"`
}

type sensorFragment struct {
	Calibration imu.Calibration `yaml:"calibration"`
}

func writeCalibration(w io.Writer, sensorID string, res imu.StaticResult) error {
	fmt.Fprintf(w, "# static calibration, confidence %.2f\n", res.Confidence)
	frag := calibrationFragment{Sensors: map[string]sensorFragment{
		sensorID: {Calibration: res.Calibration},
	}}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(frag); err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}
	return enc.Close()
}
