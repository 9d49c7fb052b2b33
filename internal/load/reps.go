// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package load

import "github.com/relabs-tech/posture_computer/internal/kinematics"

// repCounter counts a repetition at each negative to positive zero crossing
// of a joint's angular velocity, provided the descent before it covered at
// least minAmplitude degrees.
type repCounter struct {
	joint        string
	minAmplitude float64

	started  bool
	prev     float64
	lastSign int
	lo, hi   float64 // angle range since the last crossing
}

func (r *repCounter) update(pf kinematics.PostureFrame) bool {
	if r.joint == "" {
		return false
	}
	ja, ok := pf.Joints[r.joint]
	if !ok || !ja.Reliable {
		return false
	}
	angle := ja.Primary()
	if !r.started {
		r.started = true
		r.prev, r.lo, r.hi = angle, angle, angle
		return false
	}

	turn := r.prev
	r.prev = angle
	r.lo = min(r.lo, angle)
	r.hi = max(r.hi, angle)

	sign := 0
	switch {
	case angle > turn:
		sign = 1
	case angle < turn:
		sign = -1
	default:
		return false
	}
	if r.lastSign == 0 {
		r.lastSign = sign
		return false
	}
	if sign == r.lastSign {
		return false
	}

	counted := r.lastSign < 0 && r.hi-r.lo >= r.minAmplitude
	r.lastSign = sign
	r.lo, r.hi = min(turn, angle), max(turn, angle)
	return counted
}
