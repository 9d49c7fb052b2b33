// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/posture_computer/internal/posture"
	"github.com/relabs-tech/posture_computer/internal/record"
)

func setupTestCache(t *testing.T, opts Options) (*miniredis.Miniredis, *Cache) {
	mr := miniredis.RunT(t)
	c := New(NewClient(mr.Addr(), "", 0), opts, nil)
	return mr, c
}

func TestLatest(t *testing.T) {
	mr, c := setupTestCache(t, Options{LatestTTL: time.Minute})
	ctx := context.Background()

	_, err := c.Latest(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	e := record.Entry{Seq: 7, Timestamp: 42, TotalLoad: 1.5,
		Joints: map[string]posture.JointStatus{"lumbar": {Severity: posture.Warn, Deviation: 4, Reliable: true}}}
	require.NoError(t, c.SetLatest(ctx, "s1", e))
	assert.True(t, mr.Exists("posture:session:s1:latest"))

	got, err := c.Latest(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, e.Seq, got.Seq)
	assert.Equal(t, posture.Warn, got.Joints["lumbar"].Severity)

	mr.FastForward(2 * time.Minute)
	_, err = c.Latest(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSummary(t *testing.T) {
	mr, c := setupTestCache(t, Options{})
	ctx := context.Background()

	s := record.Summary{SessionID: "s1", TemplateID: "desk", Alerts: 2, RiskIndex: 37.5}
	require.NoError(t, c.SetSummary(ctx, s))
	mr.FastForward(time.Hour)

	got, err := c.Summary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Alerts)
	assert.InDelta(t, 37.5, got.RiskIndex, 1e-9)
}

func TestEventsStream(t *testing.T) {
	_, c := setupTestCache(t, Options{StreamMaxLen: 3})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := c.AddEvent(ctx, "s1", posture.AlignmentEvent{
			Timestamp: int64(i), JointID: "lumbar", Axis: posture.AxisRotation, Angle: float64(i), Deviation: 1.25,
			From: posture.OK, To: posture.Critical,
		})
		require.NoError(t, err)
	}

	evs, err := c.RecentEvents(ctx, "s1", 10)
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	assert.LessOrEqual(t, len(evs), 5)
	assert.Equal(t, int64(5), evs[0].Timestamp)
	assert.Equal(t, posture.Critical, evs[0].To)
	assert.Equal(t, posture.AxisRotation, evs[0].Axis)
	assert.InDelta(t, 1.25, evs[0].Deviation, 1e-9)
}

func TestForward(t *testing.T) {
	mr, c := setupTestCache(t, Options{})
	rec := record.New("s1", "desk")
	sub := rec.Subscribe(16)

	done := make(chan error, 1)
	go func() { done <- c.Forward(context.Background(), "s1", sub) }()

	require.NoError(t, rec.Append(record.Entry{Timestamp: 1}))
	require.NoError(t, rec.Append(record.Entry{Timestamp: 2, Events: []posture.AlignmentEvent{
		{Timestamp: 2, JointID: "thoracic", From: posture.OK, To: posture.Warn},
	}}))
	require.NoError(t, rec.Finalize())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Forward did not return")
	}

	got, err := c.Latest(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Seq)

	evs, err := c.RecentEvents(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "thoracic", evs[0].JointID)
	assert.True(t, mr.Exists("posture:session:s1:events"))
}
