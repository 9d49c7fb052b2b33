// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package app holds the run loops behind the cmd binaries.
package app

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/relabs-tech/posture_computer/internal/config"
	"github.com/relabs-tech/posture_computer/internal/imu"
	"github.com/relabs-tech/posture_computer/internal/logging"
	"github.com/relabs-tech/posture_computer/internal/record"
	"github.com/relabs-tech/posture_computer/internal/session"
)

// mustConfig returns the global config or an error when InitGlobal was not
// called.
func mustConfig() (*config.Config, error) {
	cfg := config.Get()
	if cfg == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	return cfg, nil
}

// newLogger builds the service logger from the global config.
func newLogger(cfg *config.Config, service string) *zap.Logger {
	return logging.Must(cfg.LogLevel, cfg.LogFormat, service)
}

// loadSession reads the session file and gives sensors without their own
// calibration the configured sensor ranges.
func loadSession(cfg *config.Config) (session.Config, error) {
	scfg, err := config.LoadSession(cfg.SessionConfig)
	if err != nil {
		return session.Config{}, err
	}
	sensors := make(map[string]session.SensorConfig, len(scfg.Sensors))
	for id, sc := range scfg.Sensors {
		if sc.Calibration == nil {
			cal, err := imu.DefaultCalibration(cfg.IMUAccelRange, cfg.IMUGyroRange)
			if err != nil {
				return session.Config{}, err
			}
			sc.Calibration = &cal
		}
		sensors[id] = sc
	}
	scfg.Sensors = sensors
	return scfg, nil
}

// formatSummary renders a summary for terminals and logs.
func formatSummary(s record.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "session %s (%s): %s over %s entries\n",
		s.SessionID, s.TemplateID,
		s.Duration.Round(time.Second), humanize.Comma(int64(s.Entries)))
	fmt.Fprintf(&b, "  risk index %.1f, %s alerts, %s reps, load %s in %d windows\n",
		s.RiskIndex, humanize.Comma(int64(s.Alerts)), humanize.Comma(int64(s.TotalReps)),
		humanize.FormatFloat("#,###.##", s.TotalLoad), s.Windows)
	if s.CompensationAvg > 0 || s.CompensationPeak > 0 {
		fmt.Fprintf(&b, "  compensation avg %.1f, peak %.1f\n", s.CompensationAvg, s.CompensationPeak)
	}
	for _, id := range sortedKeys(s.Joints) {
		j := s.Joints[id]
		fmt.Fprintf(&b, "  %-10s warn %-8s critical %-8s (%s) %d alerts\n",
			id, j.WarnTime.Round(100*time.Millisecond), j.CriticalTime.Round(100*time.Millisecond),
			humanize.FtoaWithDigits(100*j.CriticalShare, 1)+"%", j.Alerts)
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
