// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sim

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/posture_computer/internal/imu"
	"github.com/relabs-tech/posture_computer/internal/orientation"
)

func TestSamplesOrderedPerSensorClock(t *testing.T) {
	t.Parallel()

	g := New(1,
		Sensor{ID: "a", Motion: Still(0), RateHz: 50, ClockOffset: 500},
		Sensor{ID: "b", Motion: Still(0), RateHz: 25, ClockOffset: 9_000_000, Drift: 0.01},
	)
	samples := g.Samples(time.Second)

	counts := map[string]int{}
	last := map[string]int64{}
	for i, s := range samples {
		counts[s.Frame.SensorID]++
		if i > 0 {
			assert.LessOrEqual(t, samples[i-1].HostUs, s.HostUs)
		}
		assert.Greater(t, s.Frame.Timestamp, last[s.Frame.SensorID])
		last[s.Frame.SensorID] = s.Frame.Timestamp
	}
	assert.Equal(t, 51, counts["a"])
	assert.Equal(t, 26, counts["b"])
	assert.Equal(t, int64(9_000_000+1_010_001), last["b"])
}

func TestFrameMatchesPitch(t *testing.T) {
	t.Parallel()

	g := New(1)
	f := g.Frame(Sensor{ID: "a", Motion: Sway(10, 20, 0.25)}, 1)

	assert.InDelta(t, imu.Gravity, r3.Norm(f.Accel), 1e-9)
	assert.InDelta(t, 30, orientation.ComputePoseFromAccel(f.Accel.X, f.Accel.Y, f.Accel.Z).Pitch, 1e-9)
	assert.InDelta(t, 0, f.Gyro.Y, 1e-9) // at the crest
}

func TestRampAndSum(t *testing.T) {
	t.Parallel()

	m := Sum(Ramp(0, 10, 1, 2), Still(5))
	p, r := m(0)
	assert.Equal(t, 5.0, p)
	assert.Equal(t, 0.0, r)
	p, r = m(2)
	assert.InDelta(t, 10, p, 1e-12)
	assert.InDelta(t, 5, r, 1e-12)
	p, _ = m(10)
	assert.InDelta(t, 15, p, 1e-12)
}

func TestToRawInvertsCalibration(t *testing.T) {
	t.Parallel()

	cal := imu.Calibration{
		AccelRange: 1,
		GyroRange:  1,
		AccelBias:  r3.Vec{X: 20, Y: -10, Z: 5},
		GyroBias:   r3.Vec{X: 3, Y: -2, Z: 1},
	}
	require.NoError(t, cal.Resolve())

	m := r3.Vec{X: 20, Y: -5, Z: 40}
	f := imu.Frame{
		SensorID:  "a",
		Timestamp: 42,
		Accel:     r3.Vec{X: 1, Y: -2, Z: 9.5},
		Gyro:      r3.Vec{X: 0.5, Y: -0.25, Z: 1},
		Mag:       &m,
	}
	back := cal.Apply(ToRaw(f, cal))

	assert.Equal(t, f.SensorID, back.SensorID)
	assert.Equal(t, f.Timestamp, back.Timestamp)
	assert.InDelta(t, 0, r3.Norm(r3.Sub(f.Accel, back.Accel)), 0.01)
	assert.InDelta(t, 0, r3.Norm(r3.Sub(f.Gyro, back.Gyro)), 0.01)
	require.NotNil(t, back.Mag)
	assert.InDelta(t, 0, r3.Norm(r3.Sub(m, *back.Mag)), 0.1)
}

func TestToRawSaturates(t *testing.T) {
	t.Parallel()

	cal, err := imu.DefaultCalibration(0, 0)
	require.NoError(t, err)
	raw := ToRaw(imu.Frame{Accel: r3.Vec{Z: 10 * imu.Gravity}, Gyro: r3.Vec{X: -100}}, cal)
	assert.Equal(t, int16(math.MaxInt16), raw.Az)
	assert.Equal(t, int16(math.MinInt16), raw.Gx)
}

func TestScenario(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"still", "desk", "squat"} {
		sensors, err := Scenario(name)
		require.NoError(t, err)
		assert.Len(t, sensors, 3)
	}
	_, err := Scenario("moonwalk")
	assert.Error(t, err)
}

func TestPlay(t *testing.T) {
	t.Parallel()

	sensors, err := Scenario("still")
	require.NoError(t, err)
	samples := New(1, sensors...).Samples(time.Second)

	var n int
	require.NoError(t, Play(context.Background(), samples, 0, func(Sample) error {
		n++
		return nil
	}))
	assert.Equal(t, len(samples), n)

	stop := errors.New("stop")
	err = Play(context.Background(), samples, 0, func(Sample) error { return stop })
	assert.ErrorIs(t, err, stop)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Play(ctx, samples, 1, func(Sample) error { return nil }), context.Canceled)
}
