// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package posture

import (
	"errors"
	"fmt"
)

// ErrInvalidThresholds is returned for thresholds that break
// 0 <= margin < warn < critical.
var ErrInvalidThresholds = errors.New("invalid thresholds")

// Severity is the alignment state of a joint.
type Severity int

const (
	OK Severity = iota
	Warn
	Critical
)

func (s Severity) String() string {
	switch s {
	case OK:
		return "ok"
	case Warn:
		return "warn"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	if s < OK || s > Critical {
		return nil, fmt.Errorf("unknown severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ok":
		*s = OK
	case "warn":
		*s = Warn
	case "critical":
		*s = Critical
	default:
		return fmt.Errorf("unknown severity %q", b)
	}
	return nil
}

// Thresholds are deviation limits in degrees.
type Thresholds struct {
	Warn     float64 `yaml:"warn" json:"warn"`
	Critical float64 `yaml:"critical" json:"critical"`
	Margin   float64 `yaml:"margin" json:"margin"` // hysteresis on the way down
}

// DefaultThresholds returns the default limits.
func DefaultThresholds() Thresholds {
	return Thresholds{Warn: 10, Critical: 20, Margin: 3}
}

// Validate checks 0 <= margin < warn < critical.
func (t Thresholds) Validate() error {
	if t.Margin < 0 || t.Margin >= t.Warn || t.Warn >= t.Critical {
		return fmt.Errorf("%w: need 0 <= margin < warn < critical, got margin=%.2f warn=%.2f critical=%.2f",
			ErrInvalidThresholds, t.Margin, t.Warn, t.Critical)
	}
	return nil
}

// Classify maps a deviation to a severity without history. It is monotonic
// in dev.
func Classify(dev float64, t Thresholds) Severity {
	switch {
	case dev >= t.Critical:
		return Critical
	case dev >= t.Warn:
		return Warn
	default:
		return OK
	}
}

// Next advances the severity state machine. Escalation is immediate;
// de-escalation requires the deviation to fall Margin below the threshold
// being left.
func Next(cur Severity, dev float64, t Thresholds) Severity {
	if up := Classify(dev, t); up > cur {
		return up
	}
	switch cur {
	case Critical:
		if dev >= t.Critical-t.Margin {
			return Critical
		}
		if dev < t.Warn-t.Margin {
			return OK
		}
		return Warn
	case Warn:
		if dev < t.Warn-t.Margin {
			return OK
		}
		return Warn
	}
	return OK
}
