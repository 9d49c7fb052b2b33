// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package posture

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/posture_computer/internal/kinematics"
)

func TestThresholdsValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultThresholds().Validate())
	for _, th := range []Thresholds{
		{Warn: 10, Critical: 20, Margin: -1},
		{Warn: 10, Critical: 20, Margin: 10},
		{Warn: 20, Critical: 20, Margin: 1},
		{Warn: 25, Critical: 20, Margin: 1},
	} {
		assert.ErrorIs(t, th.Validate(), ErrInvalidThresholds, "%+v", th)
	}
}

func TestClassifyMonotonic(t *testing.T) {
	t.Parallel()

	th := DefaultThresholds()
	prev := OK
	for dev := 0.0; dev <= 40; dev += 0.25 {
		s := Classify(dev, th)
		assert.GreaterOrEqual(t, s, prev, "dev %.2f", dev)
		prev = s
	}
	assert.Equal(t, Critical, prev)
}

func TestNextHysteresis(t *testing.T) {
	t.Parallel()

	th := Thresholds{Warn: 10, Critical: 20, Margin: 3}
	cases := []struct {
		cur  Severity
		dev  float64
		want Severity
	}{
		{OK, 9.9, OK},
		{OK, 10, Warn},
		{OK, 25, Critical},
		{Warn, 8, Warn},
		{Warn, 6.9, OK},
		{Warn, 20, Critical},
		{Critical, 18, Critical},
		{Critical, 16.9, Warn},
		{Critical, 6.9, OK},
		{Critical, 7, Warn},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Next(c.cur, c.dev, th), "%s at %.1f", c.cur, c.dev)
	}
}

func TestSeverityText(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(map[string]Severity{"neck": Critical})
	require.NoError(t, err)
	assert.JSONEq(t, `{"neck":"critical"}`, string(b))

	var s Severity
	require.NoError(t, s.UnmarshalText([]byte("warn")))
	assert.Equal(t, Warn, s)
	assert.Error(t, s.UnmarshalText([]byte("bad")))
}

func TestAngleRangeDeviation(t *testing.T) {
	t.Parallel()

	r := AngleRange{Center: 10, HalfWidth: 5}
	assert.Equal(t, 0.0, r.Deviation(12))
	assert.Equal(t, 0.0, r.Deviation(5))
	assert.InDelta(t, 3, r.Deviation(18), 1e-12)
	assert.InDelta(t, 7, r.Deviation(-2), 1e-12)
}

func TestTemplateValidate(t *testing.T) {
	t.Parallel()

	tpl := Template{ID: "desk", Joints: map[string]AngleRange{"neck": {Center: 0, HalfWidth: 10}}}
	require.NoError(t, tpl.Validate([]string{"neck", "lumbar"}))
	assert.ErrorIs(t, tpl.Validate([]string{"lumbar"}), ErrInvalidTemplate)

	tpl.Thresholds = map[string]Thresholds{"neck": {Warn: 5, Critical: 4}}
	assert.ErrorIs(t, tpl.Validate([]string{"neck"}), ErrInvalidThresholds)

	assert.ErrorIs(t, Template{ID: "empty"}.Validate(nil), ErrInvalidTemplate)
}

func frame(ts int64, angles map[string]float64) kinematics.PostureFrame {
	pf := kinematics.PostureFrame{Timestamp: ts, Joints: map[string]kinematics.JointAngle{}}
	for id, a := range angles {
		pf.Joints[id] = kinematics.JointAngle{Flexion: a, Reliable: true, Confidence: 1}
	}
	return pf
}

func TestAnalyzerOscillationEmitsOneEvent(t *testing.T) {
	t.Parallel()

	tpl := Template{ID: "desk", Joints: map[string]AngleRange{"neck": {Center: 0, HalfWidth: 0}}}
	a, err := NewAnalyzer(tpl, Thresholds{Warn: 10, Critical: 20, Margin: 3}, CompensationConfig{})
	require.NoError(t, err)

	var events []AlignmentEvent
	// deviation wobbles around the warn threshold, inside the margin
	for i := 0; i < 200; i++ {
		angle := 10.5
		if i%2 == 1 {
			angle = 8.5
		}
		events = append(events, a.Analyze(frame(int64(i), map[string]float64{"neck": angle})).Events...)
	}
	require.Len(t, events, 1)
	assert.Equal(t, OK, events[0].From)
	assert.Equal(t, Warn, events[0].To)
	assert.Equal(t, "neck", events[0].JointID)
	assert.Equal(t, Warn, a.Severity("neck"))
}

func TestAnalyzerTransitions(t *testing.T) {
	t.Parallel()

	tpl := Template{
		ID: "train",
		Joints: map[string]AngleRange{
			"neck":   {Center: 0, HalfWidth: 5},
			"lumbar": {Center: 20, HalfWidth: 10},
		},
		Thresholds: map[string]Thresholds{"lumbar": {Warn: 5, Critical: 10, Margin: 1}},
	}
	a, err := NewAnalyzer(tpl, DefaultThresholds(), CompensationConfig{})
	require.NoError(t, err)

	res := a.Analyze(frame(1, map[string]float64{"neck": 30, "lumbar": 20}))
	require.Len(t, res.Events, 1)
	assert.Equal(t, Critical, res.Events[0].To)
	assert.InDelta(t, 25, res.Events[0].Deviation, 1e-12)
	assert.Equal(t, OK, res.Joints["lumbar"].Severity)

	res = a.Analyze(frame(2, map[string]float64{"neck": 30, "lumbar": 37}))
	require.Len(t, res.Events, 1)
	assert.Equal(t, "lumbar", res.Events[0].JointID)
	assert.Equal(t, Warn, res.Events[0].To)

	// unreliable joint holds its state
	pf := frame(3, map[string]float64{"neck": 0, "lumbar": 20})
	ja := pf.Joints["neck"]
	ja.Reliable = false
	pf.Joints["neck"] = ja
	res = a.Analyze(pf)
	assert.Equal(t, Critical, res.Joints["neck"].Severity)
	assert.False(t, res.Joints["neck"].Reliable)
	require.Len(t, res.Events, 1)
	assert.Equal(t, OK, res.Events[0].To)

	res = a.Analyze(frame(4, map[string]float64{"neck": 0, "lumbar": 20}))
	require.Len(t, res.Events, 1)
	assert.Equal(t, Critical, res.Events[0].From)
	assert.Equal(t, OK, res.Events[0].To)
}

func TestAnalyzerScoresAllBoundedAxes(t *testing.T) {
	t.Parallel()

	tpl := Template{ID: "desk", Joints: map[string]AngleRange{
		"lumbar": {
			Center: 0, HalfWidth: 10,
			Abduction: &Band{Center: 0, HalfWidth: 8},
			Rotation:  &Band{Center: 0, HalfWidth: 15},
		},
		"neck": {Center: 0, HalfWidth: 10},
	}}
	a, err := NewAnalyzer(tpl, Thresholds{Warn: 5, Critical: 15, Margin: 2}, CompensationConfig{})
	require.NoError(t, err)

	lean := func(ts int64, abduction, rotation float64) kinematics.PostureFrame {
		return kinematics.PostureFrame{Timestamp: ts, Joints: map[string]kinematics.JointAngle{
			"lumbar": {Flexion: 2, Abduction: abduction, Rotation: rotation, Reliable: true, Confidence: 1},
			// an unbounded axis is ignored
			"neck": {Flexion: 0, Abduction: 60, Reliable: true, Confidence: 1},
		}}
	}

	var events []AlignmentEvent
	for i := int64(0); i < 50; i++ {
		events = append(events, a.Analyze(lean(i, 45, 20)).Events...)
	}
	require.Len(t, events, 1)
	assert.Equal(t, "lumbar", events[0].JointID)
	assert.Equal(t, Critical, events[0].To)
	assert.Equal(t, AxisAbduction, events[0].Axis)
	assert.InDelta(t, 45, events[0].Angle, 1e-12)
	assert.InDelta(t, 37, events[0].Deviation, 1e-12)
	assert.Equal(t, OK, a.Severity("neck"))

	// rotation takes over once the lean is gone
	res := a.Analyze(lean(50, 0, 60))
	assert.Equal(t, AxisRotation, res.Joints["lumbar"].Axis)
	assert.InDelta(t, 45, res.Joints["lumbar"].Deviation, 1e-12)
	assert.Empty(t, res.Events)
}

func TestJointDeviationPrefersFlexionOnTies(t *testing.T) {
	t.Parallel()

	r := AngleRange{HalfWidth: 5, Abduction: &Band{HalfWidth: 5}}
	dev, axis, angle := r.JointDeviation(kinematics.JointAngle{Flexion: 10, Abduction: -10})
	assert.InDelta(t, 5, dev, 1e-12)
	assert.Equal(t, AxisFlexion, axis)
	assert.InDelta(t, 10, angle, 1e-12)

	bad := Template{ID: "x", Joints: map[string]AngleRange{"neck": {Rotation: &Band{HalfWidth: -1}}}}
	assert.ErrorIs(t, bad.Validate([]string{"neck"}), ErrInvalidTemplate)
}

func TestAnalyzerRejectsThresholds(t *testing.T) {
	t.Parallel()

	tpl := Template{ID: "desk", Joints: map[string]AngleRange{"neck": {}}}
	_, err := NewAnalyzer(tpl, Thresholds{Warn: 5, Critical: 5}, CompensationConfig{})
	assert.ErrorIs(t, err, ErrInvalidThresholds)
}

func TestCompensation(t *testing.T) {
	t.Parallel()

	tpl := Template{ID: "desk", Joints: map[string]AngleRange{"upper": {HalfWidth: 90}, "lower": {HalfWidth: 90}}}
	a, err := NewAnalyzer(tpl, DefaultThresholds(), CompensationConfig{JointA: "upper", JointB: "lower", Scale: 20, Window: 4})
	require.NoError(t, err)

	res := a.Analyze(frame(1, map[string]float64{"upper": 10, "lower": 0}))
	require.NotNil(t, res.Compensation)
	assert.InDelta(t, 50, *res.Compensation, 1e-9)

	res = a.Analyze(frame(2, map[string]float64{"upper": 40, "lower": 0}))
	require.NotNil(t, res.Compensation)
	assert.InDelta(t, 75, *res.Compensation, 1e-9) // (50 + 100) / 2

	for i := 0; i < 4; i++ {
		res = a.Analyze(frame(int64(3+i), map[string]float64{"upper": 0, "lower": 0}))
	}
	assert.InDelta(t, 0, *res.Compensation, 1e-9)

	res = a.Analyze(frame(9, map[string]float64{"upper": 0}))
	assert.Nil(t, res.Compensation)
}
