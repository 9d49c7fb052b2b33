// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Gravity is standard gravity in m/s².
const Gravity = 9.80665

// IMURaw represents a single raw IMU+mag sample as delivered by a sensor,
// before calibration. Values are in LSB counts.
type IMURaw struct {
	Source    string `json:"source"` // sensor id
	Timestamp int64  `json:"ts_us"`  // sensor clock, microseconds

	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`

	// Magnetometer in µT×10. HasMag is false when the sensor has no
	// magnetometer or the reading overflowed.
	Mx     int16 `json:"mx"`
	My     int16 `json:"my"`
	Mz     int16 `json:"mz"`
	HasMag bool  `json:"has_mag"`
}

// Frame is a canonical sensor frame in SI units. Frames are values and are
// never modified after ingestion.
type Frame struct {
	SensorID  string  `json:"sensor_id"`
	Timestamp int64   `json:"ts_us"` // monotonic, microseconds
	Accel     r3.Vec  `json:"accel"` // m/s²
	Gyro      r3.Vec  `json:"gyro"`  // rad/s
	Mag       *r3.Vec `json:"mag,omitempty"`
}

// Valid reports whether every component is finite and the timestamp is set.
func (f Frame) Valid() bool {
	if f.SensorID == "" || f.Timestamp <= 0 {
		return false
	}
	if !finite(f.Accel) || !finite(f.Gyro) {
		return false
	}
	if f.Mag != nil && !finite(*f.Mag) {
		return false
	}
	return true
}

func finite(v r3.Vec) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Seconds converts a microsecond interval to seconds.
func Seconds(us int64) float64 {
	return float64(us) / 1e6
}
