// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package kinematics maps segment orientations onto a skeleton and derives
// joint angles.
package kinematics

import (
	"math"
	"time"

	"github.com/relabs-tech/posture_computer/internal/fusion"
	"github.com/relabs-tech/posture_computer/internal/orientation"
)

// Config holds the skeleton settings.
type Config struct {
	Root          string        `yaml:"root" json:"root"`
	Joints        []JointSpec   `yaml:"joints" json:"joints"`
	MinConfidence float64       `yaml:"min_confidence" json:"min_confidence"`
	StaleAfter    time.Duration `yaml:"stale_after" json:"stale_after"`
}

// DefaultConfig returns the default skeleton settings.
func DefaultConfig() Config {
	return Config{
		Root:          DefaultRoot,
		MinConfidence: 0.3,
		StaleAfter:    200 * time.Millisecond,
	}
}

// PostureFrame is the skeleton state at one tick.
type PostureFrame struct {
	Timestamp  int64                                `json:"ts_us"`
	TemplateID string                               `json:"template_id"`
	Joints     map[string]JointAngle                `json:"joints"`
	Segments   map[string]fusion.SegmentOrientation `json:"segments"`
}

// Model assembles PostureFrames at the rate of the slowest live segment.
// Not safe for concurrent use.
type Model struct {
	topo       *Topology
	joints     []Joint
	cfg        Config
	templateID string

	latest  map[string]fusion.SegmentOrientation
	fresh   map[string]bool
	started bool
	start   int64 // first update; stands in for segments not yet heard from
}

// NewModel builds a model over a validated topology.
func NewModel(topo *Topology, cfg Config, templateID string) (*Model, error) {
	joints, err := BuildJoints(topo, cfg.Joints)
	if err != nil {
		return nil, err
	}
	d := DefaultConfig()
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = d.StaleAfter
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = d.MinConfidence
	}
	return &Model{
		topo:       topo,
		joints:     joints,
		cfg:        cfg,
		templateID: templateID,
		latest:     make(map[string]fusion.SegmentOrientation, len(topo.parents)),
		fresh:      make(map[string]bool, len(topo.parents)),
	}, nil
}

// Joints returns the resolved joints.
func (m *Model) Joints() []Joint {
	return append([]Joint(nil), m.joints...)
}

// Topology returns the skeleton.
func (m *Model) Topology() *Topology { return m.topo }

// Update stores a segment orientation. A frame is emitted once every live
// segment has reported since the previous frame. Segments silent for longer
// than StaleAfter do not hold emission back; they appear with zero
// confidence.
func (m *Model) Update(o fusion.SegmentOrientation) (PostureFrame, bool) {
	if !m.topo.Has(o.SegmentID) {
		return PostureFrame{}, false
	}
	if !m.started {
		m.started, m.start = true, o.Timestamp
	}
	m.latest[o.SegmentID] = o
	m.fresh[o.SegmentID] = true

	now := o.Timestamp
	staleBefore := now - m.cfg.StaleAfter.Microseconds()
	stale := make(map[string]bool)
	for _, seg := range m.topo.order {
		last := m.start
		if so, ok := m.latest[seg]; ok {
			last = so.Timestamp
		}
		if last < staleBefore {
			stale[seg] = true
			continue
		}
		if !m.fresh[seg] {
			return PostureFrame{}, false
		}
	}

	frame := PostureFrame{
		Timestamp:  now,
		TemplateID: m.templateID,
		Joints:     make(map[string]JointAngle, len(m.joints)),
		Segments:   make(map[string]fusion.SegmentOrientation, len(m.latest)),
	}
	for seg, so := range m.latest {
		if stale[seg] {
			so.Confidence = 0
		}
		frame.Segments[seg] = so
	}
	for _, j := range m.joints {
		frame.Joints[j.ID] = m.jointAngle(j, frame.Segments)
	}
	for seg := range m.fresh {
		delete(m.fresh, seg)
	}
	return frame, true
}

func (m *Model) jointAngle(j Joint, segs map[string]fusion.SegmentOrientation) JointAngle {
	p, okP := segs[j.Parent]
	c, okC := segs[j.Child]
	if !okP || !okC {
		return JointAngle{}
	}
	rel := orientation.Relative(p.Orientation, c.Orientation)
	a := j.anglesFromPose(orientation.ToPose(rel))
	a.Confidence = math.Min(p.Confidence, c.Confidence)
	a.Reliable = p.Confidence >= m.cfg.MinConfidence && c.Confidence >= m.cfg.MinConfidence
	return a
}
