// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package posture scores joint angles against a reference template and
// tracks per-joint severity with hysteresis.
package posture

import (
	"fmt"

	"github.com/relabs-tech/posture_computer/internal/kinematics"
)

// AlignmentEvent is emitted when a joint changes severity.
type AlignmentEvent struct {
	Timestamp int64    `json:"ts_us"`
	JointID   string   `json:"joint"`
	Axis      Axis     `json:"axis,omitempty"` // axis with the largest deviation
	Angle     float64  `json:"angle"`
	Deviation float64  `json:"deviation"`
	From      Severity `json:"from"`
	To        Severity `json:"to"`
}

// JointStatus is one joint's assessment at a tick.
type JointStatus struct {
	Severity  Severity `json:"severity"`
	Deviation float64  `json:"deviation"`
	Axis      Axis     `json:"axis,omitempty"`
	Reliable  bool     `json:"reliable"`
}

// Result is the analyzer output for one PostureFrame.
type Result struct {
	Joints       map[string]JointStatus `json:"joints"`
	Events       []AlignmentEvent       `json:"events,omitempty"`
	Compensation *float64               `json:"compensation,omitempty"`
}

// Analyzer holds one severity state machine per template joint. Not safe
// for concurrent use.
type Analyzer struct {
	tpl        Template
	thresholds map[string]Thresholds
	joints     []string
	state      map[string]JointStatus
	comp       *Compensation
}

// NewAnalyzer validates thresholds and builds the per-joint state, all
// joints starting OK.
func NewAnalyzer(tpl Template, th Thresholds, comp CompensationConfig) (*Analyzer, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	a := &Analyzer{
		tpl:        tpl,
		thresholds: make(map[string]Thresholds, len(tpl.Joints)),
		joints:     tpl.JointIDs(),
		state:      make(map[string]JointStatus, len(tpl.Joints)),
	}
	for _, id := range a.joints {
		jt := th
		if o, ok := tpl.Thresholds[id]; ok {
			if err := o.Validate(); err != nil {
				return nil, fmt.Errorf("joint %q: %w", id, err)
			}
			jt = o
		}
		a.thresholds[id] = jt
		a.state[id] = JointStatus{Severity: OK}
	}
	if comp.Enabled() {
		a.comp = newCompensation(comp)
	}
	return a, nil
}

// Template returns the active template.
func (a *Analyzer) Template() Template { return a.tpl }

// Analyze scores a frame. Joints that are missing or unreliable keep their
// previous severity and produce no events.
func (a *Analyzer) Analyze(pf kinematics.PostureFrame) Result {
	res := Result{Joints: make(map[string]JointStatus, len(a.joints))}

	for _, id := range a.joints {
		cur := a.state[id]
		ja, ok := pf.Joints[id]
		if !ok || !ja.Reliable {
			cur.Reliable = false
			a.state[id] = cur
			res.Joints[id] = cur
			continue
		}

		dev, axis, angle := a.tpl.Joints[id].JointDeviation(ja)
		next := JointStatus{
			Severity:  Next(cur.Severity, dev, a.thresholds[id]),
			Deviation: dev,
			Axis:      axis,
			Reliable:  true,
		}
		if next.Severity != cur.Severity {
			res.Events = append(res.Events, AlignmentEvent{
				Timestamp: pf.Timestamp,
				JointID:   id,
				Axis:      axis,
				Angle:     angle,
				Deviation: dev,
				From:      cur.Severity,
				To:        next.Severity,
			})
		}
		a.state[id] = next
		res.Joints[id] = next
	}

	if a.comp != nil {
		if v, ok := a.comp.Update(pf); ok {
			res.Compensation = &v
		}
	}
	return res
}

// Severity returns the current state of a joint.
func (a *Analyzer) Severity(joint string) Severity {
	return a.state[joint].Severity
}
