// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ingest

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/posture_computer/internal/imu"
)

func newIngestor(t *testing.T, cfg Config, ids ...string) *Ingestor {
	t.Helper()
	cals := make(map[string]imu.Calibration, len(ids))
	for _, id := range ids {
		cals[id] = imu.Calibration{}
	}
	in, err := New(cfg, cals, nil)
	require.NoError(t, err)
	return in
}

func frame(id string, ts int64) imu.Frame {
	return imu.Frame{
		SensorID:  id,
		Timestamp: ts,
		Accel:     r3.Vec{Z: imu.Gravity},
	}
}

func TestPushRejectsUnknownAndMalformed(t *testing.T) {
	t.Parallel()

	in := newIngestor(t, DefaultConfig(), "torso")

	assert.ErrorIs(t, in.Push(frame("ghost", 10)), ErrUnknownSensor)
	assert.ErrorIs(t, in.PushRaw(imu.IMURaw{Source: "ghost", Timestamp: 10}), ErrUnknownSensor)

	bad := frame("torso", 10)
	bad.Gyro.X = math.NaN()
	assert.ErrorIs(t, in.Push(bad), ErrMalformed)
	assert.ErrorIs(t, in.Push(frame("torso", 0)), ErrMalformed)

	s := in.Stats()
	assert.Equal(t, uint64(2), s.Unknown)
	assert.Equal(t, uint64(2), s.Malformed)
	assert.Equal(t, uint64(0), s.Accepted)
	assert.Empty(t, in.Drain(true))
}

func TestPushOrdering(t *testing.T) {
	t.Parallel()

	in := newIngestor(t, DefaultConfig(), "torso")

	require.NoError(t, in.Push(frame("torso", 100)))
	require.NoError(t, in.Push(frame("torso", 200)))
	assert.ErrorIs(t, in.Push(frame("torso", 200)), ErrDuplicate)
	assert.ErrorIs(t, in.Push(frame("torso", 150)), ErrOutOfOrder)
	require.NoError(t, in.Push(frame("torso", 300)))

	s := in.Stats()
	assert.Equal(t, uint64(3), s.Accepted)
	assert.Equal(t, uint64(2), s.OutOfOrder)
	assert.Equal(t, uint64(1), s.Duplicates)
	assert.Equal(t, uint64(5), s.Total())

	got := in.Drain(true)
	require.Len(t, got, 3)
	assert.Equal(t, int64(100), got[0].Timestamp)
	assert.Equal(t, int64(300), got[2].Timestamp)
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	t.Parallel()

	in := newIngestor(t, Config{QueueSize: 4}, "torso")
	for ts := int64(1); ts <= 10; ts++ {
		require.NoError(t, in.Push(frame("torso", ts)))
	}

	assert.Equal(t, uint64(6), in.Stats().Dropped)
	got := in.Drain(true)
	require.Len(t, got, 4)
	assert.Equal(t, int64(7), got[0].Timestamp)
	assert.Equal(t, int64(10), got[3].Timestamp)
}

func TestDrainReorderWindow(t *testing.T) {
	t.Parallel()

	in := newIngestor(t, Config{ReorderWindow: 2}, "torso", "thigh")

	// thigh frames arrive late relative to torso
	require.NoError(t, in.Push(frame("torso", 10)))
	require.NoError(t, in.Push(frame("torso", 30)))
	require.NoError(t, in.Push(frame("torso", 50)))
	require.NoError(t, in.Push(frame("thigh", 20)))
	require.NoError(t, in.Push(frame("thigh", 40)))

	got := in.Drain(false)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{10, 20, 30}, timestamps(got))
	assert.Equal(t, 2, in.Pending())

	require.NoError(t, in.Push(frame("thigh", 60)))
	got = in.Drain(true)
	assert.Equal(t, []int64{40, 50, 60}, timestamps(got))
	assert.Equal(t, 0, in.Pending())
}

func TestPushRawAppliesCalibration(t *testing.T) {
	t.Parallel()

	in, err := New(DefaultConfig(), map[string]imu.Calibration{
		"torso": {AccelRange: 0, GyroRange: 0},
	}, nil)
	require.NoError(t, err)

	require.NoError(t, in.PushRaw(imu.IMURaw{Source: "torso", Timestamp: 1, Az: 16384, Gx: 131}))
	got := in.Drain(true)
	require.Len(t, got, 1)
	assert.InDelta(t, imu.Gravity, got[0].Accel.Z, 1e-9)
	assert.InDelta(t, math.Pi/180, got[0].Gyro.X, 1e-9)
}

func TestNewRejectsBadCalibration(t *testing.T) {
	t.Parallel()

	_, err := New(DefaultConfig(), map[string]imu.Calibration{"torso": {AccelRange: 7}}, nil)
	assert.ErrorIs(t, err, imu.ErrInvalidCalibration)
}

func TestPushAtMapsToHostClock(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.ClockSync = true
	in := newIngestor(t, cfg, "torso")

	for i := int64(1); i <= 20; i++ {
		require.NoError(t, in.PushAt(frame("torso", i*10_000), 5_000_000+i*10_000))
	}
	got := in.Drain(true)
	require.Len(t, got, 20)
	assert.Equal(t, int64(5_010_000), got[0].Timestamp)
	assert.Equal(t, int64(5_200_000), got[19].Timestamp)
}

func TestPushRawAtMapsToHostClock(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.ClockSync = true
	in, err := New(cfg, map[string]imu.Calibration{"torso": {}}, nil)
	require.NoError(t, err)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, in.PushRawAt(imu.IMURaw{Source: "torso", Timestamp: i * 1000, Az: 16384}, 9_000_000+i*1000))
	}
	assert.ErrorIs(t, in.PushRawAt(imu.IMURaw{Source: "ghost", Timestamp: 1}, 1), ErrUnknownSensor)

	got := in.Drain(true)
	require.Len(t, got, 5)
	assert.Equal(t, int64(9_001_000), got[0].Timestamp)
	assert.InDelta(t, imu.Gravity, got[0].Accel.Z, 1e-9)
}

func TestConcurrentPush(t *testing.T) {
	t.Parallel()

	ids := []string{"a", "b", "c", "d"}
	in := newIngestor(t, Config{QueueSize: 1000}, ids...)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for ts := int64(1); ts <= 500; ts++ {
				_ = in.Push(frame(id, ts))
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, uint64(2000), in.Stats().Accepted)
	got := in.Drain(true)
	require.Len(t, got, 2000)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Timestamp, got[i].Timestamp)
	}
}

func timestamps(fs []imu.Frame) []int64 {
	out := make([]int64, len(fs))
	for i, f := range fs {
		out[i] = f.Timestamp
	}
	return out
}
