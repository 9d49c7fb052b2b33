// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package clocksync maps a sensor's free-running clock onto the host clock.
package clocksync

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Config tunes the estimator.
type Config struct {
	Window    int     `yaml:"window" json:"window"`         // points kept for the fit
	MinPoints int     `yaml:"min_points" json:"min_points"` // below this only an offset is estimated
	MinSlope  float64 `yaml:"min_slope" json:"min_slope"`
	MaxSlope  float64 `yaml:"max_slope" json:"max_slope"`
}

// DefaultConfig returns the defaults used by the ingestor.
func DefaultConfig() Config {
	return Config{
		Window:    256,
		MinPoints: 12,
		MinSlope:  0.95,
		MaxSlope:  1.05,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.MinPoints <= 1 {
		c.MinPoints = d.MinPoints
	}
	if c.MinSlope <= 0 {
		c.MinSlope = d.MinSlope
	}
	if c.MaxSlope < c.MinSlope {
		c.MaxSlope = math.Max(d.MaxSlope, c.MinSlope)
	}
	return c
}

// Linear estimates host ≈ slope·sensor + offset by least squares over a
// bounded window of (sensor, host) timestamp pairs. Not safe for concurrent
// use.
type Linear struct {
	cfg Config

	// Points are stored relative to the first observation to keep the
	// regression well conditioned with microsecond epochs.
	x0, y0 int64
	xs, ys []float64

	slope  float64
	offset float64 // relative to (x0, y0)
}

// NewLinear returns an empty estimator. Until the first observation Map is
// the identity.
func NewLinear(cfg Config) *Linear {
	cfg = cfg.withDefaults()
	return &Linear{
		cfg:   cfg,
		xs:    make([]float64, 0, cfg.Window),
		ys:    make([]float64, 0, cfg.Window),
		slope: 1,
	}
}

// Observe records that a frame stamped sensorUs arrived at hostUs and
// refits the mapping.
func (l *Linear) Observe(sensorUs, hostUs int64) {
	if len(l.xs) == 0 {
		l.x0, l.y0 = sensorUs, hostUs
	}
	if len(l.xs) == l.cfg.Window {
		copy(l.xs, l.xs[1:])
		copy(l.ys, l.ys[1:])
		l.xs = l.xs[:len(l.xs)-1]
		l.ys = l.ys[:len(l.ys)-1]
	}
	l.xs = append(l.xs, float64(sensorUs-l.x0))
	l.ys = append(l.ys, float64(hostUs-l.y0))
	l.fit()
}

func (l *Linear) fit() {
	if len(l.xs) < l.cfg.MinPoints {
		var sum float64
		for i := range l.xs {
			sum += l.ys[i] - l.xs[i]
		}
		l.slope = 1
		l.offset = sum / float64(len(l.xs))
		return
	}

	alpha, beta := stat.LinearRegression(l.xs, l.ys, nil, false)
	if math.IsNaN(beta) || math.IsInf(beta, 0) {
		return
	}
	clamped := math.Min(math.Max(beta, l.cfg.MinSlope), l.cfg.MaxSlope)
	if clamped != beta {
		// Re-center the intercept on the means for the clamped slope.
		alpha = stat.Mean(l.ys, nil) - clamped*stat.Mean(l.xs, nil)
	}
	l.slope = clamped
	l.offset = alpha
}

// Map converts a sensor timestamp to host microseconds.
func (l *Linear) Map(sensorUs int64) int64 {
	if len(l.xs) == 0 {
		return sensorUs
	}
	x := float64(sensorUs - l.x0)
	return l.y0 + int64(math.Round(l.offset+l.slope*x))
}

// Slope returns the current drift estimate.
func (l *Linear) Slope() float64 { return l.slope }

// Points returns how many pairs are in the window.
func (l *Linear) Points() int { return len(l.xs) }
