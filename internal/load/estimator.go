// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package load accumulates biomechanical load and repetitions over
// sliding or tumbling time windows.
package load

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/posture_computer/internal/kinematics"
)

// Window is one load accumulation interval [Start, End) in microseconds.
// A sealed window is never modified again.
type Window struct {
	Start          int64   `json:"start_us"`
	End            int64   `json:"end_us"`
	CumulativeLoad float64 `json:"cumulative_load"`
	PeakLoad       float64 `json:"peak_load"`
	RepCount       int     `json:"rep_count"`
	Sealed         bool    `json:"sealed"`
	Truncated      bool    `json:"truncated"`
}

// Estimator keeps the open windows keyed by start time. Not safe for
// concurrent use.
type Estimator struct {
	cfg Config

	windows   map[int64]*Window
	nextStart int64
	started   bool
	lastTs    int64
	closed    bool

	reps      repCounter
	total     float64
	totalReps int
}

// NewEstimator validates cfg (after defaults) and returns an empty
// estimator.
func NewEstimator(cfg Config) (*Estimator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{
		cfg:     cfg,
		windows: make(map[int64]*Window),
		reps:    repCounter{joint: cfg.PrimaryJoint, minAmplitude: cfg.MinRepAmplitude},
	}, nil
}

// Config returns the effective configuration.
func (e *Estimator) Config() Config { return e.cfg }

// Tick accounts one PostureFrame and returns the windows it sealed, oldest
// first. Windows ending at or before the frame are sealed before the
// frame's contribution is added.
func (e *Estimator) Tick(pf kinematics.PostureFrame) []Window {
	if e.closed {
		return nil
	}
	ts := pf.Timestamp
	if !e.started {
		e.started = true
		e.nextStart = ts
		e.lastTs = ts
	}
	if ts < e.lastTs {
		return nil
	}

	sealed := e.seal(ts, false)
	e.open(ts)

	dt := ts - e.lastTs
	if limit := e.cfg.MaxGap.Microseconds(); dt > limit {
		dt = limit
	}
	e.lastTs = ts

	contribution := math.Max(0, e.rate(pf)*float64(dt)/1e6)
	rep := e.reps.update(pf)

	e.total += contribution
	if rep {
		e.totalReps++
	}
	for _, w := range e.windows {
		if ts < w.Start || ts >= w.End {
			continue
		}
		w.CumulativeLoad += contribution
		w.PeakLoad = math.Max(w.PeakLoad, contribution)
		if rep {
			w.RepCount++
		}
	}
	return sealed
}

// rate is the instantaneous weighted load over reliable segments.
func (e *Estimator) rate(pf kinematics.PostureFrame) float64 {
	var sum float64
	for seg, so := range pf.Segments {
		if so.Confidence < e.cfg.MinConfidence {
			continue
		}
		v := r3.Norm(so.AngularVelocity)*e.cfg.AngularGain + r3.Norm(so.LinearAccel)*e.cfg.LinearGain
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sum += e.cfg.weight(seg) * v
	}
	return sum
}

// open creates every window whose interval contains ts. Starts that would
// have ended before ts are skipped.
func (e *Estimator) open(ts int64) {
	w, stride := e.cfg.Window.Microseconds(), e.cfg.Stride.Microseconds()
	if ts-e.nextStart >= w {
		e.nextStart += ((ts-e.nextStart-w)/stride + 1) * stride
	}
	for ; e.nextStart <= ts; e.nextStart += stride {
		e.windows[e.nextStart] = &Window{Start: e.nextStart, End: e.nextStart + w}
	}
}

// seal removes windows with End <= at (all of them when truncate is set)
// and returns them sealed.
func (e *Estimator) seal(at int64, truncate bool) []Window {
	var out []Window
	for start, w := range e.windows {
		if !truncate && w.End > at {
			continue
		}
		w.Sealed = true
		w.Truncated = truncate && w.End > at
		out = append(out, *w)
		delete(e.windows, start)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Close seals every remaining window; windows still open at at are marked
// Truncated. Further ticks are ignored.
func (e *Estimator) Close(at int64) []Window {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.seal(at, true)
}

// Active returns copies of the open windows, oldest first.
func (e *Estimator) Active() []Window {
	out := make([]Window, 0, len(e.windows))
	for _, w := range e.windows {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// TotalLoad is the load accumulated since the first tick.
func (e *Estimator) TotalLoad() float64 { return e.total }

// TotalReps is the number of repetitions counted since the first tick.
func (e *Estimator) TotalReps() int { return e.totalReps }
