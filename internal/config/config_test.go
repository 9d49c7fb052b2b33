// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/posture_computer/internal/fusion"
	"github.com/relabs-tech/posture_computer/internal/ingest"
	"github.com/relabs-tech/posture_computer/internal/kinematics"
	"github.com/relabs-tech/posture_computer/internal/posture"
	"github.com/relabs-tech/posture_computer/internal/session"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "posture_config.txt", `
# broker
MQTT_BROKER=tcp://localhost:1883
TOPIC_RAW = sensors/raw/
SERIAL_BAUD_RATE=230400
IMU_ACCEL_RANGE=2
REDIS_DB=3
LOG_FORMAT=JSON
WEB_STATIC_DIR=./web
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, "sensors/raw", cfg.TopicRaw)
	assert.Equal(t, 230400, cfg.SerialBaudRate)
	assert.Equal(t, byte(2), cfg.IMUAccelRange)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "./web", cfg.WebStaticDir)
	// untouched keys keep defaults
	assert.Equal(t, "posture/frame", cfg.TopicPosture)
	assert.Equal(t, 8080, cfg.WebServerPort)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]string{
		"missing broker": "TOPIC_RAW=x\n",
		"no equals":      "MQTT_BROKER\n",
		"unknown key":    "MQTT_BROKER=a\nBMP_SAMPLE_RATE=5\n",
		"bad range":      "MQTT_BROKER=a\nIMU_GYRO_RANGE=4\n",
		"bad int":        "MQTT_BROKER=a\nWEB_SERVER_PORT=http\n",
		"port range":     "MQTT_BROKER=a\nWEB_SERVER_PORT=70000\n",
		"bad format":     "MQTT_BROKER=a\nLOG_FORMAT=xml\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "c.txt", body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "absent.txt"))
	assert.Error(t, err)
}

func TestLoadSessionDefault(t *testing.T) {
	cfg, err := LoadSession("")
	require.NoError(t, err)
	assert.Equal(t, session.DefaultConfig().Template, cfg.Template)
	assert.Len(t, cfg.Sensors, 3)
}

func TestLoadSession(t *testing.T) {
	path := writeFile(t, "session.yaml", `
segments:
  torso: ""
  pelvis: torso
sensors:
  imu_a:
    segment: torso
  imu_b:
    segment: pelvis
    calibration:
      accel_range: 1
      gyro_bias: {x: 0.5, y: 0, z: -0.25}
skeleton:
  joints:
    - id: hip
      parent: torso
      child: pelvis
      type: hinge
  stale_after: 300ms
templates:
  - id: upright
    name: Upright
    joints:
      hip: {center: 0, half_width: 15}
template: upright
load:
  window: 4s
  primary_joint: hip
poll_interval: 20ms
`)
	cfg, err := LoadSession(path)
	require.NoError(t, err)

	assert.Equal(t, "torso", cfg.Segments["pelvis"])
	require.NotNil(t, cfg.Sensors["imu_b"].Calibration)
	assert.Equal(t, byte(1), cfg.Sensors["imu_b"].Calibration.AccelRange)
	assert.InDelta(t, -0.25, cfg.Sensors["imu_b"].Calibration.GyroBias.Z, 1e-12)
	assert.Nil(t, cfg.Sensors["imu_a"].Calibration)
	require.Len(t, cfg.Skeleton.Joints, 1)
	assert.Equal(t, kinematics.JointHinge, cfg.Skeleton.Joints[0].Type)
	assert.Equal(t, 300*time.Millisecond, cfg.Skeleton.StaleAfter)
	assert.Equal(t, 4*time.Second, cfg.Load.Window)
	assert.Equal(t, 20*time.Millisecond, cfg.PollInterval)
}

func TestLoadSessionPartialTunables(t *testing.T) {
	base, err := os.ReadFile(filepath.Join("..", "..", "session.yaml"))
	require.NoError(t, err)

	t.Run("gyro weight only", func(t *testing.T) {
		cfg, err := ParseSession(append(base, []byte("fusion: {gyro_weight: 0.95}\n")...))
		require.NoError(t, err)
		want := fusion.DefaultConfig()
		want.GyroWeight = 0.95
		assert.Equal(t, want, cfg.Fusion)
		lumbar := cfg.Templates[0].Joints["lumbar"]
		require.NotNil(t, lumbar.Abduction)
		assert.Equal(t, posture.Band{HalfWidth: 12}, *lumbar.Abduction)
	})

	t.Run("clock sync only", func(t *testing.T) {
		trimmed := bytes.Replace(base, []byte("  queue_size: 256\n  reorder_window: 8\n"), nil, 1)
		require.NotEqual(t, base, trimmed)
		cfg, err := ParseSession(trimmed)
		require.NoError(t, err)
		assert.True(t, cfg.Ingest.ClockSync)
		assert.Equal(t, ingest.DefaultConfig().ReorderWindow, cfg.Ingest.ReorderWindow)
		assert.Equal(t, ingest.DefaultConfig().QueueSize, cfg.Ingest.QueueSize)
	})

	t.Run("explicit zero reorder window", func(t *testing.T) {
		cfg, err := ParseSession(bytes.Replace(base, []byte("reorder_window: 8"), []byte("reorder_window: 0"), 1))
		require.NoError(t, err)
		assert.Equal(t, 0, cfg.Ingest.ReorderWindow)
	})

	t.Run("partial thresholds", func(t *testing.T) {
		cfg, err := ParseSession(bytes.Replace(base,
			[]byte("thresholds: {warn: 3, critical: 9, margin: 1.5}"), []byte("thresholds: {critical: 25}"), 1))
		require.NoError(t, err)
		assert.Equal(t, posture.Thresholds{Warn: 10, Critical: 25, Margin: 3}, cfg.Thresholds)
	})
}

func TestLoadSessionRejects(t *testing.T) {
	t.Run("unknown field", func(t *testing.T) {
		_, err := ParseSession([]byte("segmants:\n  torso: \"\"\n"))
		assert.Error(t, err)
	})
	t.Run("unknown template", func(t *testing.T) {
		_, err := ParseSession([]byte(`
segments: {torso: ""}
sensors: {imu_a: {segment: torso}}
template: nope
`))
		assert.ErrorIs(t, err, session.ErrConfig)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadSession(filepath.Join(t.TempDir(), "none.yaml"))
		assert.Error(t, err)
	})
}
