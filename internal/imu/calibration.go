// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidCalibration is returned for calibration records that cannot
// convert counts to SI units.
var ErrInvalidCalibration = errors.New("invalid calibration")

// MPU9250 full-scale sensitivities, indexed by range code.
// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
var (
	accelLSBPerG    = [...]float64{16384, 8192, 4096, 2048}
	gyroLSBPerDPS   = [...]float64{131, 65.5, 32.8, 16.4}
	defaultMagLSB   = 10.0 // magnetometer is carried as µT×10
	unitScale       = r3.Vec{X: 1, Y: 1, Z: 1}
	degreesToRadian = math.Pi / 180
)

// AccelLSBPerG returns the accelerometer sensitivity for a range code.
func AccelLSBPerG(rangeCode byte) (float64, error) {
	if int(rangeCode) >= len(accelLSBPerG) {
		return 0, fmt.Errorf("%w: accel range must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", ErrInvalidCalibration, rangeCode)
	}
	return accelLSBPerG[rangeCode], nil
}

// GyroLSBPerDPS returns the gyroscope sensitivity for a range code.
func GyroLSBPerDPS(rangeCode byte) (float64, error) {
	if int(rangeCode) >= len(gyroLSBPerDPS) {
		return 0, fmt.Errorf("%w: gyro range must be 0-3 (0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s), got %d", ErrInvalidCalibration, rangeCode)
	}
	return gyroLSBPerDPS[rangeCode], nil
}

// Calibration is the fixed per-sensor record used to convert raw counts to
// SI units. Corrected axis = (raw - bias) / scale, then divided by the
// sensitivity. A zero scale component means 1.
type Calibration struct {
	AccelRange byte `yaml:"accel_range" json:"accel_range"`
	GyroRange  byte `yaml:"gyro_range" json:"gyro_range"`

	// Sensitivities override the range codes when non-zero.
	AccelLSBPerG  float64 `yaml:"accel_lsb_per_g" json:"accel_lsb_per_g"`
	GyroLSBPerDPS float64 `yaml:"gyro_lsb_per_dps" json:"gyro_lsb_per_dps"`
	MagLSBPerUT   float64 `yaml:"mag_lsb_per_ut" json:"mag_lsb_per_ut"`

	AccelBias  r3.Vec `yaml:"accel_bias" json:"accel_bias"`
	AccelScale r3.Vec `yaml:"accel_scale" json:"accel_scale"`
	GyroBias   r3.Vec `yaml:"gyro_bias" json:"gyro_bias"`
	MagOffset  r3.Vec `yaml:"mag_offset" json:"mag_offset"`
	MagScale   r3.Vec `yaml:"mag_scale" json:"mag_scale"`
}

// DefaultCalibration returns a bias-free calibration for the given range codes.
func DefaultCalibration(accelRange, gyroRange byte) (Calibration, error) {
	c := Calibration{AccelRange: accelRange, GyroRange: gyroRange}
	if err := c.Resolve(); err != nil {
		return Calibration{}, err
	}
	return c, nil
}

// Resolve fills sensitivities from range codes and unset scales with 1.
func (c *Calibration) Resolve() error {
	if c.AccelLSBPerG == 0 {
		v, err := AccelLSBPerG(c.AccelRange)
		if err != nil {
			return err
		}
		c.AccelLSBPerG = v
	}
	if c.GyroLSBPerDPS == 0 {
		v, err := GyroLSBPerDPS(c.GyroRange)
		if err != nil {
			return err
		}
		c.GyroLSBPerDPS = v
	}
	if c.MagLSBPerUT == 0 {
		c.MagLSBPerUT = defaultMagLSB
	}
	c.AccelScale = fillScale(c.AccelScale)
	c.MagScale = fillScale(c.MagScale)

	if c.AccelLSBPerG < 0 || c.GyroLSBPerDPS < 0 || c.MagLSBPerUT < 0 {
		return fmt.Errorf("%w: sensitivities must be positive", ErrInvalidCalibration)
	}
	return nil
}

func fillScale(s r3.Vec) r3.Vec {
	if s.X == 0 {
		s.X = unitScale.X
	}
	if s.Y == 0 {
		s.Y = unitScale.Y
	}
	if s.Z == 0 {
		s.Z = unitScale.Z
	}
	return s
}

// Apply converts a raw sample to a canonical frame. Resolve must have been
// called on c.
func (c Calibration) Apply(raw IMURaw) Frame {
	counts := func(x, y, z int16) r3.Vec {
		return r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)}
	}

	a := divide(r3.Sub(counts(raw.Ax, raw.Ay, raw.Az), c.AccelBias), c.AccelScale)
	g := r3.Sub(counts(raw.Gx, raw.Gy, raw.Gz), c.GyroBias)

	f := Frame{
		SensorID:  raw.Source,
		Timestamp: raw.Timestamp,
		Accel:     r3.Scale(Gravity/c.AccelLSBPerG, a),
		Gyro:      r3.Scale(degreesToRadian/c.GyroLSBPerDPS, g),
	}
	if raw.HasMag {
		m := divide(r3.Sub(counts(raw.Mx, raw.My, raw.Mz), c.MagOffset), c.MagScale)
		m = r3.Scale(1/c.MagLSBPerUT, m)
		f.Mag = &m
	}
	return f
}

func divide(v, s r3.Vec) r3.Vec {
	return r3.Vec{X: v.X / s.X, Y: v.Y / s.Y, Z: v.Z / s.Z}
}
