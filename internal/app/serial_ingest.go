// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/relabs-tech/posture_computer/internal/imu"
	"github.com/relabs-tech/posture_computer/internal/transport/mqttbus"
	"github.com/relabs-tech/posture_computer/internal/transport/serialimu"
)

// RunSerialIngest opens the sensor bridge serial port, parses $PIMU
// sentences and publishes each sample to its raw topic.
func RunSerialIngest(ctx context.Context) error {
	cfg, err := mustConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "posture-serial")
	defer log.Sync() //nolint:errcheck

	client, err := mqttbus.Connect(cfg.MQTTBroker, cfg.MQTTClientIDSerial, log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	port, err := serialimu.Open(cfg.SerialPort, cfg.SerialBaudRate)
	if err != nil {
		return err
	}
	defer port.Close()
	log.Info("serial: port opened", zap.String("port", cfg.SerialPort), zap.Int("baud", cfg.SerialBaudRate))

	return forwardSerial(ctx, port, client, cfg.TopicRaw, log)
}

// forwardSerial publishes every sample read from src until EOF or ctx is
// done. When src is an io.Closer a cancelled ctx closes it so a blocked
// read returns.
func forwardSerial(ctx context.Context, src io.Reader, client mqttbus.Client, prefix string, log *zap.Logger) error {
	if c, ok := src.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}

	r := serialimu.NewReader(log)
	err := r.Run(ctx, src, func(raw imu.IMURaw) error {
		return mqttbus.PublishRaw(client, prefix, raw)
	})
	st := r.Stats()
	log.Info("serial: stopped",
		zap.Uint64("lines", st.Lines),
		zap.Uint64("samples", st.Samples),
		zap.Uint64("invalid", st.Invalid),
		zap.Uint64("ignored", st.Ignored),
		zap.Uint64("publish_errors", st.Rejected),
	)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
