// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package posture

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/relabs-tech/posture_computer/internal/kinematics"
)

// ErrInvalidTemplate is returned for templates that reference unknown
// joints or carry negative ranges.
var ErrInvalidTemplate = errors.New("invalid template")

// Axis names a component of a joint angle.
type Axis string

const (
	AxisFlexion   Axis = "flexion"
	AxisAbduction Axis = "abduction"
	AxisRotation  Axis = "rotation"
)

// Band is an acceptable interval Center ± HalfWidth, degrees.
type Band struct {
	Center    float64 `yaml:"center" json:"center"`
	HalfWidth float64 `yaml:"half_width" json:"half_width"`
}

// Deviation is how far angle lies outside the band, 0 inside it.
func (b Band) Deviation(angle float64) float64 {
	return math.Max(0, math.Abs(angle-b.Center)-b.HalfWidth)
}

func (b Band) valid() bool {
	return b.HalfWidth >= 0 && !math.IsNaN(b.Center) && !math.IsNaN(b.HalfWidth)
}

// AngleRange is the acceptable posture of one joint. Center and HalfWidth
// bound the primary (flexion) angle; Abduction and Rotation bound the
// other axes when set.
type AngleRange struct {
	Center    float64 `yaml:"center" json:"center"`
	HalfWidth float64 `yaml:"half_width" json:"half_width"`
	Abduction *Band   `yaml:"abduction,omitempty" json:"abduction,omitempty"`
	Rotation  *Band   `yaml:"rotation,omitempty" json:"rotation,omitempty"`
}

// Deviation is how far a primary angle lies outside the flexion band.
func (r AngleRange) Deviation(angle float64) float64 {
	return Band{Center: r.Center, HalfWidth: r.HalfWidth}.Deviation(angle)
}

// JointDeviation is the largest deviation over the bounded axes, with the
// axis and angle that produced it. Flexion wins ties.
func (r AngleRange) JointDeviation(a kinematics.JointAngle) (float64, Axis, float64) {
	dev, axis, angle := r.Deviation(a.Primary()), AxisFlexion, a.Primary()
	if r.Abduction != nil {
		if d := r.Abduction.Deviation(a.Abduction); d > dev {
			dev, axis, angle = d, AxisAbduction, a.Abduction
		}
	}
	if r.Rotation != nil {
		if d := r.Rotation.Deviation(a.Rotation); d > dev {
			dev, axis, angle = d, AxisRotation, a.Rotation
		}
	}
	return dev, axis, angle
}

func (r AngleRange) valid() bool {
	if !(Band{Center: r.Center, HalfWidth: r.HalfWidth}).valid() {
		return false
	}
	if r.Abduction != nil && !r.Abduction.valid() {
		return false
	}
	return r.Rotation == nil || r.Rotation.valid()
}

// Template is the reference posture for one activity.
type Template struct {
	ID     string                `yaml:"id" json:"id"`
	Name   string                `yaml:"name" json:"name"`
	Joints map[string]AngleRange `yaml:"joints" json:"joints"`
	// Thresholds overrides the session thresholds per joint.
	Thresholds map[string]Thresholds `yaml:"thresholds" json:"thresholds"`
}

// Validate checks the template against the joints the skeleton produces.
func (t Template) Validate(joints []string) error {
	if len(t.Joints) == 0 {
		return fmt.Errorf("%w: %q has no joints", ErrInvalidTemplate, t.ID)
	}
	known := make(map[string]bool, len(joints))
	for _, j := range joints {
		known[j] = true
	}
	for id, r := range t.Joints {
		if !known[id] {
			return fmt.Errorf("%w: %q references unknown joint %q", ErrInvalidTemplate, t.ID, id)
		}
		if !r.valid() {
			return fmt.Errorf("%w: %q joint %q has invalid range", ErrInvalidTemplate, t.ID, id)
		}
	}
	for id, th := range t.Thresholds {
		if _, ok := t.Joints[id]; !ok {
			return fmt.Errorf("%w: %q thresholds for joint %q outside the template", ErrInvalidTemplate, t.ID, id)
		}
		if err := th.Validate(); err != nil {
			return fmt.Errorf("%q joint %q: %w", t.ID, id, err)
		}
	}
	return nil
}

// JointIDs returns the template's joints, sorted.
func (t Template) JointIDs() []string {
	ids := make([]string, 0, len(t.Joints))
	for id := range t.Joints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
