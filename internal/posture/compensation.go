// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package posture

import (
	"math"

	"github.com/relabs-tech/posture_computer/internal/kinematics"
)

// CompensationConfig selects the two joints whose disagreement is tracked,
// e.g. thoracic against lumbar flexion. Disabled when JointA is empty.
type CompensationConfig struct {
	JointA string  `yaml:"joint_a" json:"joint_a"`
	JointB string  `yaml:"joint_b" json:"joint_b"`
	Scale  float64 `yaml:"scale" json:"scale"`   // degrees of difference that read as 100
	Window int     `yaml:"window" json:"window"` // ticks in the rolling mean
}

// Enabled reports whether a joint pair is configured.
func (c CompensationConfig) Enabled() bool { return c.JointA != "" }

func (c CompensationConfig) withDefaults() CompensationConfig {
	if c.Scale <= 0 {
		c.Scale = 30
	}
	if c.Window <= 0 {
		c.Window = 50
	}
	return c
}

// Compensation is a rolling mean of the scaled difference between two
// joints' primary angles, in 0..100.
type Compensation struct {
	cfg  CompensationConfig
	ring []float64
	next int
	sum  float64
}

func newCompensation(cfg CompensationConfig) *Compensation {
	cfg = cfg.withDefaults()
	return &Compensation{cfg: cfg, ring: make([]float64, 0, cfg.Window)}
}

// Update adds a tick. It reports false when either joint is missing or
// unreliable; the rolling mean is then left untouched.
func (c *Compensation) Update(pf kinematics.PostureFrame) (float64, bool) {
	a, okA := pf.Joints[c.cfg.JointA]
	b, okB := pf.Joints[c.cfg.JointB]
	if !okA || !okB || !a.Reliable || !b.Reliable {
		return 0, false
	}
	v := math.Min(100, math.Abs(a.Primary()-b.Primary())/c.cfg.Scale*100)

	if len(c.ring) < c.cfg.Window {
		c.ring = append(c.ring, v)
	} else {
		c.sum -= c.ring[c.next]
		c.ring[c.next] = v
		c.next = (c.next + 1) % c.cfg.Window
	}
	c.sum += v
	return math.Max(0, math.Min(100, c.sum/float64(len(c.ring)))), true
}
