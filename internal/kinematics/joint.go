// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package kinematics

import (
	"fmt"

	"github.com/relabs-tech/posture_computer/internal/orientation"
)

// JointType selects the anatomical axis convention of a joint.
type JointType string

const (
	JointSpine JointType = "spine"
	JointBall  JointType = "ball"
	JointHinge JointType = "hinge"
)

// axisSigns maps the relative rotation's roll/pitch/yaw to
// abduction/flexion/rotation. Segments are right-handed with X forward,
// Y to the wearer's left and Z along the segment toward the head, so a
// positive pitch tips the child forward, a positive roll tips it to the
// wearer's right and a positive yaw turns it to the left.
type axisSigns struct {
	flexion, abduction, rotation float64
}

var jointAxes = map[JointType]axisSigns{
	// Forward bend, right side bend and left twist are positive.
	JointSpine: {flexion: 1, abduction: 1, rotation: 1},
	// Limb swung forward, limb raised to the wearer's left and left
	// twist are positive.
	JointBall: {flexion: 1, abduction: -1, rotation: 1},
	// Child folding backward (knee bend) is positive flexion. Right
	// tilt and left twist are positive.
	JointHinge: {flexion: -1, abduction: 1, rotation: 1},
}

// JointSpec names or retypes the joint between two segments.
type JointSpec struct {
	ID     string    `yaml:"id" json:"id"`
	Parent string    `yaml:"parent" json:"parent"`
	Child  string    `yaml:"child" json:"child"`
	Type   JointType `yaml:"type" json:"type"`
}

// Joint is a resolved joint between a parent and child segment.
type Joint struct {
	ID     string    `json:"id"`
	Parent string    `json:"parent"`
	Child  string    `json:"child"`
	Type   JointType `json:"type"`
}

// JointAngle is a joint's relative rotation in anatomical terms, degrees.
type JointAngle struct {
	Flexion    float64 `json:"flexion"`
	Abduction  float64 `json:"abduction"`
	Rotation   float64 `json:"rotation"`
	Confidence float64 `json:"confidence"`
	Reliable   bool    `json:"reliable"`
}

// Primary is the angle posture templates and rep counting look at.
func (a JointAngle) Primary() float64 { return a.Flexion }

// DefaultJointID names the joint between parent and child.
func DefaultJointID(parent, child string) string {
	return parent + ":" + child
}

// BuildJoints creates one joint per topology edge. Specs override the id
// and type of the edge they name; a JointSpec naming a non-edge is an error.
func BuildJoints(t *Topology, specs []JointSpec) ([]Joint, error) {
	edges := t.Edges()
	joints := make([]Joint, len(edges))
	byEdge := make(map[[2]string]int, len(edges))
	for i, e := range edges {
		joints[i] = Joint{ID: DefaultJointID(e[0], e[1]), Parent: e[0], Child: e[1], Type: JointBall}
		byEdge[e] = i
	}

	for _, s := range specs {
		i, ok := byEdge[[2]string{s.Parent, s.Child}]
		if !ok {
			return nil, fmt.Errorf("%w: joint %q: %q is not the parent of %q", ErrInvalidTopology, s.ID, s.Parent, s.Child)
		}
		if s.ID != "" {
			joints[i].ID = s.ID
		}
		if s.Type != "" {
			if _, ok := jointAxes[s.Type]; !ok {
				return nil, fmt.Errorf("%w: joint %q: unknown type %q", ErrInvalidTopology, joints[i].ID, s.Type)
			}
			joints[i].Type = s.Type
		}
	}

	ids := make(map[string]bool, len(joints))
	for _, j := range joints {
		if ids[j.ID] {
			return nil, fmt.Errorf("%w: duplicate joint id %q", ErrInvalidTopology, j.ID)
		}
		ids[j.ID] = true
	}
	return joints, nil
}

// anglesFromPose applies the joint's axis convention to a relative pose.
func (j Joint) anglesFromPose(p orientation.Pose) JointAngle {
	s := jointAxes[j.Type]
	return JointAngle{
		Flexion:   s.flexion * p.Pitch,
		Abduction: s.abduction * p.Roll,
		Rotation:  s.rotation * p.Yaw,
	}
}
