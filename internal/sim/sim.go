// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sim generates synthetic body-worn IMU streams. Each simulated
// sensor is pitched about its Y axis following a Motion and stamps frames
// with its own free-running clock.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/posture_computer/internal/imu"
)

// Motion returns a segment's pitch (degrees) and pitch rate (deg/s) at t
// seconds.
type Motion func(t float64) (pitch, rate float64)

// Still holds a constant pitch.
func Still(pitch float64) Motion {
	return func(float64) (float64, float64) { return pitch, 0 }
}

// Sway oscillates around center.
func Sway(center, amplitude, hz float64) Motion {
	w := 2 * math.Pi * hz
	return func(t float64) (float64, float64) {
		return center + amplitude*math.Sin(w*t), amplitude * w * math.Cos(w*t)
	}
}

// Ramp moves linearly from one pitch to another between start and
// start+dur seconds, holding before and after.
func Ramp(from, to, start, dur float64) Motion {
	return func(t float64) (float64, float64) {
		switch {
		case t <= start:
			return from, 0
		case t >= start+dur:
			return to, 0
		default:
			r := (to - from) / dur
			return from + r*(t-start), r
		}
	}
}

// Sum adds motions.
func Sum(ms ...Motion) Motion {
	return func(t float64) (float64, float64) {
		var p, r float64
		for _, m := range ms {
			mp, mr := m(t)
			p += mp
			r += mr
		}
		return p, r
	}
}

// Sensor describes one simulated IMU.
type Sensor struct {
	ID     string
	Motion Motion
	RateHz float64
	// ClockOffset is the sensor clock reading at host time zero, µs.
	ClockOffset int64
	// Drift is the fractional rate error of the sensor clock.
	Drift float64
	// AccelNoise and GyroNoise are standard deviations in m/s² and rad/s.
	AccelNoise float64
	GyroNoise  float64
}

// Sample is a frame with the host time it was delivered at.
type Sample struct {
	Frame  imu.Frame
	HostUs int64
}

// Generator produces reproducible streams.
type Generator struct {
	sensors []Sensor
	rng     *rand.Rand
}

// New returns a generator seeded with seed.
func New(seed int64, sensors ...Sensor) *Generator {
	return &Generator{sensors: sensors, rng: rand.New(rand.NewSource(seed))}
}

// Frame synthesizes the frame a sensor reports at host time t seconds.
func (g *Generator) Frame(s Sensor, t float64) imu.Frame {
	pitch, rate := s.Motion(t)
	th := pitch * math.Pi / 180

	accel := r3.Vec{X: -imu.Gravity * math.Sin(th), Z: imu.Gravity * math.Cos(th)}
	gyro := r3.Vec{Y: rate * math.Pi / 180}
	if s.AccelNoise > 0 {
		accel = r3.Add(accel, g.noise(s.AccelNoise))
	}
	if s.GyroNoise > 0 {
		gyro = r3.Add(gyro, g.noise(s.GyroNoise))
	}

	hostUs := int64(math.Round(t * 1e6))
	return imu.Frame{
		SensorID:  s.ID,
		Timestamp: s.ClockOffset + int64(math.Round(float64(hostUs)*(1+s.Drift))),
		Accel:     accel,
		Gyro:      gyro,
	}
}

func (g *Generator) noise(std float64) r3.Vec {
	return r3.Vec{X: g.rng.NormFloat64() * std, Y: g.rng.NormFloat64() * std, Z: g.rng.NormFloat64() * std}
}

// Samples returns every sensor's frames over duration, ordered by host
// time. The first frame of each sensor is at host time 1 µs so sensor
// timestamps are never zero.
func (g *Generator) Samples(duration time.Duration) []Sample {
	var out []Sample
	end := duration.Seconds()
	for _, s := range g.sensors {
		rate := s.RateHz
		if rate <= 0 {
			rate = 50
		}
		n := int(math.Floor(end*rate)) + 1
		for i := 0; i < n; i++ {
			t := float64(i)/rate + 1e-6
			f := g.Frame(s, t)
			out = append(out, Sample{Frame: f, HostUs: int64(math.Round(t * 1e6))})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].HostUs < out[j].HostUs })
	return out
}

// Play delivers samples to sink. With speed > 0 delivery is paced to host
// time divided by speed; with speed 0 samples are delivered as fast as
// sink accepts them.
func Play(ctx context.Context, samples []Sample, speed float64, sink func(Sample) error) error {
	if len(samples) == 0 {
		return nil
	}
	start := time.Now()
	base := samples[0].HostUs
	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return err
		}
		if speed > 0 {
			due := start.Add(time.Duration(float64(s.HostUs-base)/speed) * time.Microsecond)
			if wait := time.Until(due); wait > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
		}
		if err := sink(s); err != nil {
			return err
		}
	}
	return nil
}

// ToRaw quantizes a frame to LSB counts for the given calibration, the
// inverse of Calibration.Apply. c must be resolved.
func ToRaw(f imu.Frame, c imu.Calibration) imu.IMURaw {
	q := func(v float64) int16 {
		return int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(v))))
	}
	a := f.Accel
	g := f.Gyro
	raw := imu.IMURaw{
		Source:    f.SensorID,
		Timestamp: f.Timestamp,
		Ax:        q(a.X*c.AccelLSBPerG/imu.Gravity*c.AccelScale.X + c.AccelBias.X),
		Ay:        q(a.Y*c.AccelLSBPerG/imu.Gravity*c.AccelScale.Y + c.AccelBias.Y),
		Az:        q(a.Z*c.AccelLSBPerG/imu.Gravity*c.AccelScale.Z + c.AccelBias.Z),
		Gx:        q(g.X*180/math.Pi*c.GyroLSBPerDPS + c.GyroBias.X),
		Gy:        q(g.Y*180/math.Pi*c.GyroLSBPerDPS + c.GyroBias.Y),
		Gz:        q(g.Z*180/math.Pi*c.GyroLSBPerDPS + c.GyroBias.Z),
	}
	if f.Mag != nil {
		m := *f.Mag
		raw.Mx = q(m.X*c.MagLSBPerUT*c.MagScale.X + c.MagOffset.X)
		raw.My = q(m.Y*c.MagLSBPerUT*c.MagScale.Y + c.MagOffset.Y)
		raw.Mz = q(m.Z*c.MagLSBPerUT*c.MagScale.Z + c.MagOffset.Z)
		raw.HasMag = true
	}
	return raw
}

// Scenario returns named sensor setups for the default three-segment
// spine (imu_thor on torso, imu_lumb on lumbar, imu_pelvis on pelvis).
//
//	still   all sensors level
//	desk    upper back slouches forward 25° after 10 s and stays
//	squat   pelvis tilts ±30° at 0.5 Hz
func Scenario(name string) ([]Sensor, error) {
	mk := func(id string, m Motion, offset int64) Sensor {
		return Sensor{ID: id, Motion: m, RateHz: 50, ClockOffset: offset, AccelNoise: 0.02, GyroNoise: 0.002}
	}
	switch name {
	case "still":
		return []Sensor{
			mk("imu_thor", Still(0), 1_000_000),
			mk("imu_lumb", Still(0), 2_000_000),
			mk("imu_pelvis", Still(0), 3_000_000),
		}, nil
	case "desk":
		return []Sensor{
			mk("imu_thor", Sum(Ramp(0, 25, 10, 5), Sway(0, 1, 0.2)), 1_000_000),
			mk("imu_lumb", Sway(0, 1, 0.2), 2_000_000),
			mk("imu_pelvis", Still(0), 3_000_000),
		}, nil
	case "squat":
		return []Sensor{
			mk("imu_thor", Sway(0, 5, 0.5), 1_000_000),
			mk("imu_lumb", Sway(0, 5, 0.5), 2_000_000),
			mk("imu_pelvis", Sway(0, 35, 0.5), 3_000_000),
		}, nil
	}
	return nil, fmt.Errorf("unknown scenario %q (want still, desk or squat)", name)
}
