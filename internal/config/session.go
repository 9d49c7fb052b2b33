// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/posture_computer/internal/fusion"
	"github.com/relabs-tech/posture_computer/internal/ingest"
	"github.com/relabs-tech/posture_computer/internal/posture"
	"github.com/relabs-tech/posture_computer/internal/session"
)

// LoadSession reads a YAML session description. An empty path returns
// session.DefaultConfig. Unset tunables are defaulted when the session
// starts; the file is validated here so a bad file fails before any
// connection is opened.
func LoadSession(path string) (session.Config, error) {
	if path == "" {
		return session.DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Config{}, fmt.Errorf("failed to read session config: %w", err)
	}
	return ParseSession(data)
}

// ParseSession decodes and validates a YAML session description. Unknown
// keys are rejected. The fusion, ingest and threshold blocks are decoded
// over their defaults, so a key left out keeps its default while an
// explicit zero (reorder_window: 0) is kept.
func ParseSession(data []byte) (session.Config, error) {
	cfg := session.Config{
		Fusion:     fusion.DefaultConfig(),
		Ingest:     ingest.DefaultConfig(),
		Thresholds: posture.DefaultThresholds(),
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return session.Config{}, fmt.Errorf("session config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return session.Config{}, err
	}
	return cfg, nil
}
