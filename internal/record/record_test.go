// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package record

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/posture_computer/internal/load"
	"github.com/relabs-tech/posture_computer/internal/posture"
)

func entry(ts int64, sev map[string]posture.Severity) Entry {
	e := Entry{Timestamp: ts, Joints: map[string]posture.JointStatus{}}
	for id, s := range sev {
		e.Joints[id] = posture.JointStatus{Severity: s, Reliable: true}
	}
	return e
}

func TestAppendAndFinalize(t *testing.T) {
	t.Parallel()

	r := New("s1", "desk")
	_, ok := r.Latest()
	assert.False(t, ok)

	e := entry(100, nil)
	e.Events = []posture.AlignmentEvent{{Timestamp: 100, JointID: "neck", From: posture.OK, To: posture.Warn}}
	e.Sealed = []load.Window{{Start: 0, End: 100, Sealed: true}}
	require.NoError(t, r.Append(e))
	require.NoError(t, r.Append(entry(200, nil)))

	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(2), latest.Seq)
	assert.Equal(t, int64(200), latest.Timestamp)
	assert.Len(t, r.Events(), 1)
	assert.Len(t, r.SealedWindows(), 1)
	assert.Len(t, r.Since(1), 1)
	assert.Empty(t, r.Since(2))

	require.NoError(t, r.Finalize(load.Window{Start: 100, End: 300, Sealed: true, Truncated: true}))
	assert.True(t, r.Finalized())
	assert.False(t, r.EndedAt().IsZero())
	assert.ErrorIs(t, r.Append(entry(300, nil)), ErrFinalized)
	assert.ErrorIs(t, r.Finalize(), ErrFinalized)
	assert.Equal(t, 2, r.Len())
	require.Len(t, r.SealedWindows(), 2)
	assert.True(t, r.SealedWindows()[1].Truncated)
}

func TestEntriesAreCopies(t *testing.T) {
	t.Parallel()

	r := New("s1", "desk")
	require.NoError(t, r.Append(entry(1, nil)))
	got := r.Entries()
	got[0].Timestamp = 99
	assert.Equal(t, int64(1), r.Entries()[0].Timestamp)
}

func TestSubscribe(t *testing.T) {
	t.Parallel()

	r := New("s1", "desk")
	sub := r.Subscribe(4)

	var (
		wg   sync.WaitGroup
		seen []uint64
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range sub.C {
			seen = append(seen, e.Seq)
		}
	}()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, r.Append(entry(i, nil)))
	}
	require.NoError(t, r.Finalize())
	wg.Wait()

	assert.Equal(t, []uint64{1, 2, 3}, seen)
	assert.Equal(t, uint64(0), sub.Lagged())

	late := r.Subscribe(1)
	_, open := <-late.C
	assert.False(t, open)
}

func TestSlowSubscriberKeepsNewest(t *testing.T) {
	t.Parallel()

	r := New("s1", "desk")
	sub := r.Subscribe(2)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, r.Append(entry(i, nil)))
	}
	assert.Equal(t, uint64(3), sub.Lagged())
	assert.Equal(t, uint64(4), (<-sub.C).Seq)
	assert.Equal(t, uint64(5), (<-sub.C).Seq)

	sub.Close()
	_, open := <-sub.C
	assert.False(t, open)
	sub.Close()
	require.NoError(t, r.Append(entry(6, nil)))
}

func TestSummary(t *testing.T) {
	t.Parallel()

	r := New("s1", "desk")
	comp := 40.0
	steps := []struct {
		ts   int64
		neck posture.Severity
		back posture.Severity
	}{
		{0, posture.OK, posture.OK},
		{1_000_000, posture.Critical, posture.Warn},
		{3_000_000, posture.OK, posture.Warn},
		{4_000_000, posture.OK, posture.OK},
	}
	prev := map[string]posture.Severity{"neck": posture.OK, "back": posture.OK}
	for i, s := range steps {
		e := entry(s.ts, map[string]posture.Severity{"neck": s.neck, "back": s.back})
		for id, sev := range map[string]posture.Severity{"neck": s.neck, "back": s.back} {
			if sev != prev[id] {
				e.Events = append(e.Events, posture.AlignmentEvent{Timestamp: s.ts, JointID: id, From: prev[id], To: sev})
				prev[id] = sev
			}
		}
		e.Compensation = &comp
		e.TotalLoad = float64(i)
		e.TotalReps = i * 2
		require.NoError(t, r.Append(e))
	}

	s := r.Summary("neck", "back")
	assert.Equal(t, 4*time.Second, s.Duration)
	assert.Equal(t, 2*time.Second, s.Joints["neck"].CriticalTime)
	assert.Equal(t, 3*time.Second, s.Joints["back"].WarnTime)
	assert.InDelta(t, 0.5, s.Joints["neck"].CriticalShare, 1e-12)
	assert.Equal(t, 1, s.Alerts)
	assert.Equal(t, 1, s.Joints["neck"].Alerts)
	assert.InDelta(t, 40, s.CompensationAvg, 1e-12)
	assert.InDelta(t, 40, s.CompensationPeak, 1e-12)
	assert.Equal(t, 6, s.TotalReps)
	assert.Equal(t, 3.0, s.TotalLoad)
	// 100 * (0.45*0.5 + 0.35*0 + 0.2*0.4)
	assert.InDelta(t, 30.5, s.RiskIndex, 1e-9)

	// without a pair the mean critical share (0.25) weights both terms
	s = r.Summary("", "")
	assert.InDelta(t, 100*(0.8*0.25+0.08), s.RiskIndex, 1e-9)
}

func TestSummaryEmpty(t *testing.T) {
	t.Parallel()

	s := New("s1", "desk").Summary("a", "b")
	assert.Equal(t, 0, s.Entries)
	assert.Equal(t, 0.0, s.RiskIndex)
}

func TestDownsample(t *testing.T) {
	t.Parallel()

	r := New("s1", "desk")
	for ts := int64(0); ts <= 3_000_000; ts += 400_000 {
		e := entry(ts, nil)
		e.TotalLoad = float64(ts)
		e.Events = []posture.AlignmentEvent{{Timestamp: ts}}
		require.NoError(t, r.Append(e))
	}

	got := r.Downsample(time.Second)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{0, 1_000_000, 2_000_000}, []int64{got[0].Timestamp, got[1].Timestamp, got[2].Timestamp})
	assert.Equal(t, 800_000.0, got[1].TotalLoad)
	assert.Equal(t, 2_000_000.0, got[2].TotalLoad)
	assert.Nil(t, got[1].Events)

	assert.Nil(t, r.Downsample(0))
}
