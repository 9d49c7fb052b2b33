// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/relabs-tech/posture_computer/internal/imu"
)

// Config holds all service configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTClientIDMonitor  string
	MQTTClientIDSerial   string
	MQTTClientIDConsole  string
	MQTTClientIDSimulate string

	// Topics
	TopicRaw      string // prefix; frames are published to <prefix>/<sensor id>
	TopicPosture  string
	TopicEvents   string
	TopicWindows  string
	TopicSummary  string
	PublishPeriod int // milliseconds between posture publications, 0 = every tick

	// IMU Sensor Ranges
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte

	// Serial sensor bridge
	SerialPort     string
	SerialBaudRate int

	// Session
	SessionConfig      string // YAML file, empty = built-in defaults
	CalibrationSamples int    // samples in a static calibration capture

	// Web Server
	WebServerPort int
	WebStaticDir  string // served at / when set

	// Storage
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Logging
	LogLevel  string
	LogFormat string
}

// Package-level unexported variables for the singleton:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: InitGlobal runs once, even if called multiple times.
//   - configMu: write lock for initialization, read lock for Get.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Defaults returns the values used for keys missing from the file.
func Defaults() *Config {
	return &Config{
		MQTTClientIDMonitor:  "posture-monitor",
		MQTTClientIDSerial:   "posture-serial",
		MQTTClientIDConsole:  "posture-console",
		MQTTClientIDSimulate: "posture-simulate",
		TopicRaw:             "posture/raw",
		TopicPosture:         "posture/frame",
		TopicEvents:          "posture/events",
		TopicWindows:         "posture/windows",
		TopicSummary:         "posture/summary",
		PublishPeriod:        100,
		SerialBaudRate:       115200,
		CalibrationSamples:   500,
		WebServerPort:        8080,
		LogLevel:             "info",
		LogFormat:            "console",
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func atoi(key, value string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, lo, hi, v)
	}
	return v, nil
}

// rangeCode parses a sensor full-scale code, checked against the
// sensitivity table it selects.
func rangeCode(key, value string, lookup func(byte) (float64, error)) (byte, error) {
	v, err := atoi(key, value, 0, 255)
	if err != nil {
		return 0, err
	}
	if _, err := lookup(byte(v)); err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return byte(v), nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_MONITOR":
		c.MQTTClientIDMonitor = value
	case "MQTT_CLIENT_ID_SERIAL":
		c.MQTTClientIDSerial = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_SIMULATE":
		c.MQTTClientIDSimulate = value

	// Topics
	case "TOPIC_RAW":
		c.TopicRaw = strings.TrimSuffix(value, "/")
	case "TOPIC_POSTURE":
		c.TopicPosture = value
	case "TOPIC_EVENTS":
		c.TopicEvents = value
	case "TOPIC_WINDOWS":
		c.TopicWindows = value
	case "TOPIC_SUMMARY":
		c.TopicSummary = value
	case "PUBLISH_PERIOD":
		c.PublishPeriod, err = atoi(key, value, 0, 60_000)

	// IMU Sensor Ranges
	case "IMU_ACCEL_RANGE":
		c.IMUAccelRange, err = rangeCode(key, value, imu.AccelLSBPerG)
	case "IMU_GYRO_RANGE":
		c.IMUGyroRange, err = rangeCode(key, value, imu.GyroLSBPerDPS)

	// Serial
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		c.SerialBaudRate, err = atoi(key, value, 1, 4_000_000)

	// Session
	case "SESSION_CONFIG":
		c.SessionConfig = value
	case "CALIBRATION_SAMPLES":
		c.CalibrationSamples, err = atoi(key, value, 20, 1_000_000)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = atoi(key, value, 1, 65535)
	case "WEB_STATIC_DIR":
		c.WebStaticDir = value

	// Storage
	case "DB_PATH":
		c.DBPath = value
	case "REDIS_ADDR":
		c.RedisAddr = value
	case "REDIS_PASSWORD":
		c.RedisPassword = value
	case "REDIS_DB":
		c.RedisDB, err = atoi(key, value, 0, 15)

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)
	case "LOG_FORMAT":
		c.LogFormat = strings.ToLower(value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TopicRaw == "" || c.TopicPosture == "" || c.TopicEvents == "" {
		return fmt.Errorf("TOPIC_RAW, TOPIC_POSTURE and TOPIC_EVENTS must not be empty")
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
