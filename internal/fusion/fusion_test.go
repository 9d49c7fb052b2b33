// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package fusion

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/posture_computer/internal/imu"
)

const stepUs = 10_000 // 100 Hz

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig(), map[string]string{"s1": "torso"}, nil)
	require.NoError(t, err)
	return e
}

// pitched returns a frame for a sensor held at pitch theta (rad) rotating
// about Y at rate (rad/s).
func pitched(ts int64, theta, rate float64) imu.Frame {
	return imu.Frame{
		SensorID:  "s1",
		Timestamp: ts,
		Accel:     r3.Vec{X: -imu.Gravity * math.Sin(theta), Z: imu.Gravity * math.Cos(theta)},
		Gyro:      r3.Vec{Y: rate},
	}
}

func TestStaticConvergence(t *testing.T) {
	t.Parallel()

	e := newEngine(t)

	// Start level, then hold the sensor at 30°.
	_, ok := e.Update(pitched(stepUs, 0, 0))
	require.True(t, ok)

	theta := 30 * math.Pi / 180
	var out SegmentOrientation
	for i := int64(2); i <= 600; i++ {
		out, ok = e.Update(pitched(i*stepUs, theta, 0))
		require.True(t, ok)
	}

	assert.InDelta(t, 30, out.Pose().Pitch, 0.1)
	assert.InDelta(t, 1, out.Confidence, 1e-6)
	assert.InDelta(t, 1, quat.Abs(out.Orientation), 1e-9)
	assert.InDelta(t, 0, r3.Norm(out.LinearAccel), 1e-2)
	assert.Equal(t, "torso", out.SegmentID)
}

func TestTracksRotation(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	for i := int64(1); i <= 500; i++ {
		sec := float64(i*stepUs) / 1e6
		theta := 0.5 * math.Sin(math.Pi*sec)
		rate := 0.5 * math.Pi * math.Cos(math.Pi*sec)
		out, ok := e.Update(pitched(i*stepUs, theta, rate))
		require.True(t, ok)
		assert.InDelta(t, theta*180/math.Pi, out.Pose().Pitch, 1.5, "step %d", i)
	}
}

func TestSpikeHoldsOrientation(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	var before SegmentOrientation
	for i := int64(1); i <= 100; i++ {
		before, _ = e.Update(pitched(i*stepUs, 0.2, 0))
	}
	require.InDelta(t, 1, before.Confidence, 1e-6)

	spike := pitched(101*stepUs, 0.2, 0)
	spike.Gyro = r3.Vec{X: 50}
	out, ok := e.Update(spike)
	require.True(t, ok)

	assert.Equal(t, 0.0, out.Confidence)
	assert.Equal(t, before.Orientation, out.Orientation)
	assert.Equal(t, int64(101*stepUs), out.Timestamp)
	assert.Equal(t, uint64(1), e.Faults())

	// Confidence recovers once frames are sane again.
	for i := int64(102); i <= 160; i++ {
		out, _ = e.Update(pitched(i*stepUs, 0.2, 0))
	}
	assert.Greater(t, out.Confidence, 0.99)
}

func TestUnitNormUnderNoise(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	rng := rand.New(rand.NewSource(7))
	for i := int64(1); i <= 2000; i++ {
		f := imu.Frame{
			SensorID:  "s1",
			Timestamp: i * stepUs,
			Accel:     r3.Vec{X: rng.NormFloat64() * 3, Y: rng.NormFloat64() * 3, Z: imu.Gravity + rng.NormFloat64()*3},
			Gyro:      r3.Vec{X: rng.NormFloat64() * 4, Y: rng.NormFloat64() * 4, Z: rng.NormFloat64() * 4},
		}
		if i%50 == 0 {
			m := r3.Vec{X: 20 + rng.NormFloat64(), Y: rng.NormFloat64(), Z: -40}
			f.Mag = &m
		}
		out, ok := e.Update(f)
		require.True(t, ok)
		require.InDelta(t, 1, quat.Abs(out.Orientation), 1e-9, "step %d", i)
		require.GreaterOrEqual(t, out.Confidence, 0.0)
		require.LessOrEqual(t, out.Confidence, 1.0)
	}
}

func TestMagnetometerHeading(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	// Level sensor with the horizontal field 40° off its X axis.
	h := 40 * math.Pi / 180
	m := r3.Vec{X: 30 * math.Cos(h), Y: 30 * math.Sin(h), Z: -20}
	out, ok := e.Update(imu.Frame{SensorID: "s1", Timestamp: stepUs, Accel: r3.Vec{Z: imu.Gravity}, Mag: &m})
	require.True(t, ok)
	assert.InDelta(t, -40, out.Pose().Yaw, 1e-6)
}

func TestLowConfidenceUnderAcceleration(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	var out SegmentOrientation
	for i := int64(1); i <= 50; i++ {
		out, _ = e.Update(imu.Frame{SensorID: "s1", Timestamp: i * stepUs, Accel: r3.Vec{Z: 1.6 * imu.Gravity}})
	}
	assert.Less(t, out.Confidence, 0.01)
}

func TestUpdateIgnoresUnmappedAndStale(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	_, ok := e.Update(pitched(stepUs, 0, 0))
	require.True(t, ok)

	ghost := pitched(2*stepUs, 0, 0)
	ghost.SensorID = "ghost"
	_, ok = e.Update(ghost)
	assert.False(t, ok)

	_, ok = e.Update(pitched(stepUs, 0, 0))
	assert.False(t, ok)

	_, ok = e.Snapshot("thigh")
	assert.False(t, ok)
	snap, ok := e.Snapshot("torso")
	require.True(t, ok)
	assert.Equal(t, int64(stepUs), snap.Timestamp)
}

func TestLongGapIsClamped(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	e.Update(pitched(stepUs, 0, 0))
	// 10 s gap at 1 rad/s would be 573° if integrated in full.
	out, _ := e.Update(pitched(stepUs+10*int64(time.Second/time.Microsecond), 0, 1))
	assert.Less(t, math.Abs(out.Pose().Pitch), 15.0)
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.GyroWeight = 1.5
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.MaxGap = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	_, err := NewEngine(DefaultConfig(), map[string]string{"a": "torso", "b": "torso"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigWithDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{GyroWeight: 0.95}.WithDefaults()
	require.NoError(t, cfg.Validate())
	want := DefaultConfig()
	want.GyroWeight = 0.95
	assert.Equal(t, want, cfg)

	assert.Equal(t, DefaultConfig(), Config{}.WithDefaults())
}
