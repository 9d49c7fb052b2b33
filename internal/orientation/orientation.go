// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose is the Euler representation of an orientation, in degrees.
// Rotation order is yaw (Z), pitch (Y), roll (X).
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// ComputePoseFromAccel computes roll and pitch from accelerometer data only.
// Yaw is set to 0; heading needs a magnetometer.
//
// Uses simple tilt formulas:
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func ComputePoseFromAccel(ax, ay, az float64) Pose {
	rollRad := math.Atan2(ay, az)
	pitchRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))

	return Pose{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
		Yaw:   0,
	}
}

// Identity is the zero rotation.
func Identity() quat.Number {
	return quat.Number{Real: 1}
}

// FromAxisAngle returns the rotation of angle radians about axis.
// A zero axis yields the identity.
func FromAxisAngle(axis r3.Vec, angle float64) quat.Number {
	n := r3.Norm(axis)
	if n == 0 || angle == 0 {
		return Identity()
	}
	s := math.Sin(angle/2) / n
	return quat.Number{
		Real: math.Cos(angle / 2),
		Imag: axis.X * s,
		Jmag: axis.Y * s,
		Kmag: axis.Z * s,
	}
}

// FromPose converts Euler angles in degrees to a unit quaternion.
func FromPose(p Pose) quat.Number {
	hr := p.Roll * math.Pi / 360
	hp := p.Pitch * math.Pi / 360
	hy := p.Yaw * math.Pi / 360

	cr, sr := math.Cos(hr), math.Sin(hr)
	cp, sp := math.Cos(hp), math.Sin(hp)
	cy, sy := math.Cos(hy), math.Sin(hy)

	return quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
}

// ToPose converts a unit quaternion to Euler angles in degrees.
// Pitch is clamped to ±90° at the singularity.
func ToPose(q quat.Number) Pose {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	roll := math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	sinp := 2 * (w*y - z*x)
	if sinp > 1 {
		sinp = 1
	} else if sinp < -1 {
		sinp = -1
	}
	pitch := math.Asin(sinp)
	yaw := math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))

	return Pose{
		Roll:  roll * 180 / math.Pi,
		Pitch: pitch * 180 / math.Pi,
		Yaw:   yaw * 180 / math.Pi,
	}
}

// TiltFromAccel returns the orientation whose gravity axis matches the
// measured specific force. Heading is zero.
func TiltFromAccel(a r3.Vec) quat.Number {
	return FromPose(ComputePoseFromAccel(a.X, a.Y, a.Z))
}

// Normalize scales q to unit norm. It reports false when q has no usable
// norm (zero, NaN or Inf).
func Normalize(q quat.Number) (quat.Number, bool) {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return quat.Number{}, false
	}
	return quat.Scale(1/n, q), true
}

// Rotate maps v from the body frame to the world frame: q v q*.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// Integrate propagates q by a body-frame angular velocity (rad/s) over dt
// seconds.
func Integrate(q quat.Number, omega r3.Vec, dt float64) quat.Number {
	angle := r3.Norm(omega) * dt
	if angle == 0 {
		return q
	}
	return quat.Mul(q, FromAxisAngle(omega, angle))
}

// Relative returns the rotation of child expressed in the parent frame:
// parent⁻¹ · child. Both must be unit quaternions.
func Relative(parent, child quat.Number) quat.Number {
	return quat.Mul(quat.Conj(parent), child)
}

// Dot is the 4D inner product.
func Dot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

// Angle is the rotation angle in radians between two unit quaternions.
func Angle(a, b quat.Number) float64 {
	d := math.Abs(Dot(a, b))
	if d > 1 {
		d = 1
	}
	return 2 * math.Acos(d)
}

// Slerp interpolates along the shortest arc from a (t=0) to b (t=1).
func Slerp(a, b quat.Number, t float64) quat.Number {
	cos := Dot(a, b)
	if cos < 0 {
		b = quat.Scale(-1, b)
		cos = -cos
	}

	var out quat.Number
	if cos > 0.9995 {
		// Nearly parallel: linear interpolation is accurate and avoids
		// dividing by a vanishing sine.
		out = quat.Add(quat.Scale(1-t, a), quat.Scale(t, b))
	} else {
		theta := math.Acos(cos)
		sin := math.Sin(theta)
		out = quat.Add(
			quat.Scale(math.Sin((1-t)*theta)/sin, a),
			quat.Scale(math.Sin(t*theta)/sin, b),
		)
	}
	if n, ok := Normalize(out); ok {
		return n
	}
	return a
}
