// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package load

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid load config")

// Config holds window geometry and load weighting.
type Config struct {
	Window time.Duration `yaml:"window" json:"window"`
	// Stride between window starts. Equal to Window gives tumbling windows;
	// zero defaults to Window/2.
	Stride time.Duration `yaml:"stride" json:"stride"`

	SegmentWeights map[string]float64 `yaml:"segment_weights" json:"segment_weights"`
	DefaultWeight  float64            `yaml:"default_weight" json:"default_weight"`
	AngularGain    float64            `yaml:"angular_gain" json:"angular_gain"` // per rad/s
	LinearGain     float64            `yaml:"linear_gain" json:"linear_gain"`   // per m/s²
	MinConfidence  float64            `yaml:"min_confidence" json:"min_confidence"`
	MaxGap         time.Duration      `yaml:"max_gap" json:"max_gap"` // longest Δt credited to one tick

	PrimaryJoint    string  `yaml:"primary_joint" json:"primary_joint"`         // joint used for reps
	MinRepAmplitude float64 `yaml:"min_rep_amplitude" json:"min_rep_amplitude"` // degrees
}

// DefaultConfig returns 10 s windows sliding by 5 s.
func DefaultConfig() Config {
	return Config{
		Window:          10 * time.Second,
		Stride:          5 * time.Second,
		DefaultWeight:   1,
		AngularGain:     1,
		LinearGain:      0.1,
		MinConfidence:   0.3,
		MaxGap:          250 * time.Millisecond,
		MinRepAmplitude: 10,
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Window == 0 {
		c.Window = d.Window
	}
	if c.Stride == 0 {
		c.Stride = c.Window / 2
	}
	if c.DefaultWeight == 0 {
		c.DefaultWeight = d.DefaultWeight
	}
	if c.AngularGain == 0 && c.LinearGain == 0 {
		c.AngularGain, c.LinearGain = d.AngularGain, d.LinearGain
	}
	if c.MinConfidence == 0 {
		c.MinConfidence = d.MinConfidence
	}
	if c.MaxGap == 0 {
		c.MaxGap = d.MaxGap
	}
	if c.MinRepAmplitude == 0 {
		c.MinRepAmplitude = d.MinRepAmplitude
	}
	return c
}

// Validate checks window geometry and weights.
func (c Config) Validate() error {
	switch {
	case c.Window <= 0:
		return fmt.Errorf("%w: window must be positive", ErrInvalidConfig)
	case c.Stride <= 0 || c.Stride > c.Window:
		return fmt.Errorf("%w: stride %s must be in (0, window %s]", ErrInvalidConfig, c.Stride, c.Window)
	case c.DefaultWeight < 0 || c.AngularGain < 0 || c.LinearGain < 0:
		return fmt.Errorf("%w: weights and gains must be non-negative", ErrInvalidConfig)
	case c.MinRepAmplitude < 0:
		return fmt.Errorf("%w: min_rep_amplitude must be non-negative", ErrInvalidConfig)
	}
	for seg, w := range c.SegmentWeights {
		if w < 0 {
			return fmt.Errorf("%w: segment %q weight %.2f is negative", ErrInvalidConfig, seg, w)
		}
	}
	return nil
}

func (c Config) weight(segment string) float64 {
	if w, ok := c.SegmentWeights[segment]; ok {
		return w
	}
	return c.DefaultWeight
}
