// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"errors"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// Stillness heuristics in raw gyro counts.
const (
	stillStdGood = 3.0  // "good" standard deviation threshold for stillness
	stillStdBad  = 12.0 // above this confidence drops to the floor
	confFloor    = 0.05

	minStaticSamples = 20
)

// ErrNotEnoughSamples is returned when a capture is too short to calibrate.
var ErrNotEnoughSamples = errors.New("not enough samples for calibration")

// CaptureStats summarizes one axis-triplet capture.
type CaptureStats struct {
	Samples int    `yaml:"samples" json:"samples"`
	Mean    r3.Vec `yaml:"mean" json:"mean"`
	StdDev  r3.Vec `yaml:"stddev" json:"stddev"`
}

// ComputeStats returns per-axis mean and standard deviation.
func ComputeStats(values []r3.Vec) CaptureStats {
	n := len(values)
	if n == 0 {
		return CaptureStats{}
	}
	xs := make([]float64, n)
	ys := make([]float64, n)
	zs := make([]float64, n)
	for i, v := range values {
		xs[i], ys[i], zs[i] = v.X, v.Y, v.Z
	}
	mx, sx := stat.PopMeanStdDev(xs, nil)
	my, sy := stat.PopMeanStdDev(ys, nil)
	mz, sz := stat.PopMeanStdDev(zs, nil)
	return CaptureStats{
		Samples: n,
		Mean:    r3.Vec{X: mx, Y: my, Z: mz},
		StdDev:  r3.Vec{X: sx, Y: sy, Z: sz},
	}
}

// StillnessConfidence maps gyro noise (counts) to 0..1.
func StillnessConfidence(std r3.Vec) float64 {
	s := (std.X + std.Y + std.Z) / 3
	switch {
	case s <= stillStdGood:
		return 1.0
	case s >= stillStdBad:
		return confFloor
	default:
		t := (s - stillStdGood) / (stillStdBad - stillStdGood)
		return clamp01(1.0 - 0.95*t)
	}
}

// StaticResult is the outcome of a still capture.
type StaticResult struct {
	Calibration Calibration  `yaml:"calibration" json:"calibration"`
	Gyro        CaptureStats `yaml:"gyro_stats" json:"gyro_stats"`
	Accel       CaptureStats `yaml:"accel_stats" json:"accel_stats"`
	Confidence  float64      `yaml:"confidence" json:"confidence"`
}

// StaticCalibration estimates gyro bias and accelerometer bias from samples
// captured with the sensor at rest, +Z up.
func StaticCalibration(samples []IMURaw, accelRange, gyroRange byte) (StaticResult, error) {
	if len(samples) < minStaticSamples {
		return StaticResult{}, ErrNotEnoughSamples
	}
	cal, err := DefaultCalibration(accelRange, gyroRange)
	if err != nil {
		return StaticResult{}, err
	}

	gyro := make([]r3.Vec, len(samples))
	accel := make([]r3.Vec, len(samples))
	for i, s := range samples {
		gyro[i] = r3.Vec{X: float64(s.Gx), Y: float64(s.Gy), Z: float64(s.Gz)}
		accel[i] = r3.Vec{X: float64(s.Ax), Y: float64(s.Ay), Z: float64(s.Az)}
	}
	gs := ComputeStats(gyro)
	as := ComputeStats(accel)

	cal.GyroBias = gs.Mean
	cal.AccelBias = r3.Sub(as.Mean, r3.Vec{Z: cal.AccelLSBPerG})

	return StaticResult{
		Calibration: cal,
		Gyro:        gs,
		Accel:       as,
		Confidence:  StillnessConfidence(gs.StdDev),
	}, nil
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
