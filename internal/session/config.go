// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"fmt"
	"time"

	"github.com/relabs-tech/posture_computer/internal/fusion"
	"github.com/relabs-tech/posture_computer/internal/imu"
	"github.com/relabs-tech/posture_computer/internal/ingest"
	"github.com/relabs-tech/posture_computer/internal/kinematics"
	"github.com/relabs-tech/posture_computer/internal/load"
	"github.com/relabs-tech/posture_computer/internal/posture"
)

// SensorConfig binds a sensor to a body segment.
type SensorConfig struct {
	Segment     string           `yaml:"segment" json:"segment"`
	Calibration *imu.Calibration `yaml:"calibration" json:"calibration,omitempty"` // nil: ±2g / ±250°/s, no bias
}

// Config is everything a session needs. Zero tunables take defaults.
type Config struct {
	// Segments maps each segment to its parent; the root has "".
	Segments map[string]string       `yaml:"segments" json:"segments"`
	Sensors  map[string]SensorConfig `yaml:"sensors" json:"sensors"`
	Skeleton kinematics.Config       `yaml:"skeleton" json:"skeleton"`

	Templates    []posture.Template         `yaml:"templates" json:"templates"`
	Template     string                     `yaml:"template" json:"template"` // selected template id
	Thresholds   posture.Thresholds         `yaml:"thresholds" json:"thresholds"`
	Compensation posture.CompensationConfig `yaml:"compensation" json:"compensation"`

	Load   load.Config   `yaml:"load" json:"load"`
	Fusion fusion.Config `yaml:"fusion" json:"fusion"`
	Ingest ingest.Config `yaml:"ingest" json:"ingest"`

	// PollInterval is how often the run loop drains the ingestor when no
	// producer wakes it.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// DefaultConfig is a three-segment spine (torso, lumbar, pelvis) with one
// sensor each, thoracic and lumbar joints, and desk/train templates.
func DefaultConfig() Config {
	return Config{
		Segments: map[string]string{
			"torso":  "",
			"lumbar": "torso",
			"pelvis": "lumbar",
		},
		Sensors: map[string]SensorConfig{
			"imu_thor":   {Segment: "torso"},
			"imu_lumb":   {Segment: "lumbar"},
			"imu_pelvis": {Segment: "pelvis"},
		},
		Skeleton: kinematics.Config{
			Root: kinematics.DefaultRoot,
			Joints: []kinematics.JointSpec{
				{ID: "thoracic", Parent: "torso", Child: "lumbar", Type: kinematics.JointSpine},
				{ID: "lumbar", Parent: "lumbar", Child: "pelvis", Type: kinematics.JointSpine},
			},
			MinConfidence: 0.3,
			StaleAfter:    200 * time.Millisecond,
		},
		Templates: []posture.Template{
			{
				ID:   "desk",
				Name: "Desk work",
				Joints: map[string]posture.AngleRange{
					"thoracic": {Center: 0, HalfWidth: 8},
					"lumbar": {
						Center: 0, HalfWidth: 10,
						Abduction: &posture.Band{HalfWidth: 12},
						Rotation:  &posture.Band{HalfWidth: 20},
					},
				},
			},
			{
				ID:   "train",
				Name: "Training",
				Joints: map[string]posture.AngleRange{
					"thoracic": {Center: 0, HalfWidth: 12},
					"lumbar":   {Center: 0, HalfWidth: 14},
				},
			},
		},
		Template:   "desk",
		Thresholds: posture.Thresholds{Warn: 3, Critical: 9, Margin: 1.5},
		Compensation: posture.CompensationConfig{
			JointA: "lumbar",
			JointB: "thoracic",
			Scale:  25,
			Window: 500,
		},
		Load: load.Config{
			Window:          10 * time.Second,
			Stride:          5 * time.Second,
			SegmentWeights:  map[string]float64{"torso": 1.5, "lumbar": 1.5},
			DefaultWeight:   1,
			AngularGain:     1,
			LinearGain:      0.1,
			PrimaryJoint:    "lumbar",
			MinRepAmplitude: 10,
		},
		Fusion:       fusion.DefaultConfig(),
		Ingest:       ingest.DefaultConfig(),
		PollInterval: 10 * time.Millisecond,
	}
}

// withDefaults fills zero tunables. Structural fields (segments, sensors,
// templates) are never defaulted.
func (c Config) withDefaults() Config {
	if c.Skeleton.Root == "" {
		c.Skeleton.Root = kinematics.DefaultRoot
	}
	if c.Skeleton.MinConfidence == 0 {
		c.Skeleton.MinConfidence = kinematics.DefaultConfig().MinConfidence
	}
	if c.Skeleton.StaleAfter == 0 {
		c.Skeleton.StaleAfter = kinematics.DefaultConfig().StaleAfter
	}
	if c.Thresholds == (posture.Thresholds{}) {
		c.Thresholds = posture.DefaultThresholds()
	}
	c.Fusion = c.Fusion.WithDefaults()
	if c.Ingest == (ingest.Config{}) {
		c.Ingest = ingest.DefaultConfig()
	}
	if c.Load.MinConfidence == 0 {
		c.Load.MinConfidence = c.Skeleton.MinConfidence
	}
	c.Load = c.Load.WithDefaults()
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Millisecond
	}
	return c
}

// template returns the selected template.
func (c Config) template() (posture.Template, error) {
	for _, t := range c.Templates {
		if t.ID == c.Template {
			return t, nil
		}
	}
	return posture.Template{}, fmt.Errorf("template %q not found", c.Template)
}

// Validate builds a throwaway pipeline and reports the first fault,
// wrapped in ErrConfig.
func (c Config) Validate() error {
	_, err := newPipeline(c.withDefaults(), nil)
	return err
}
