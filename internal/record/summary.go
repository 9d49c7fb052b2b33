// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package record

import (
	"math"
	"sort"
	"time"

	"github.com/relabs-tech/posture_computer/internal/posture"
)

// JointSummary is the time a joint spent out of range.
type JointSummary struct {
	WarnTime      time.Duration `json:"warn_time"`
	CriticalTime  time.Duration `json:"critical_time"`
	CriticalShare float64       `json:"critical_share"` // 0..1 of session duration
	Alerts        int           `json:"alerts"`         // entries into critical
}

// Summary condenses a session.
type Summary struct {
	SessionID        string                  `json:"session_id"`
	TemplateID       string                  `json:"template_id"`
	Start            int64                   `json:"start_us"`
	End              int64                   `json:"end_us"`
	Duration         time.Duration           `json:"duration"`
	Entries          int                     `json:"entries"`
	Joints           map[string]JointSummary `json:"joints"`
	Alerts           int                     `json:"alerts"`
	CompensationAvg  float64                 `json:"compensation_avg"`
	CompensationPeak float64                 `json:"compensation_peak"`
	TotalReps        int                     `json:"total_reps"`
	TotalLoad        float64                 `json:"total_load"`
	Windows          int                     `json:"windows"`
	RiskIndex        float64                 `json:"risk_index"` // 0..100
}

// Summary computes session totals. jointA and jointB weight the risk
// index; when either is empty or absent the mean critical share over all
// joints is used for both terms.
func (r *Record) Summary(jointA, jointB string) Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Summary{
		SessionID:  r.id,
		TemplateID: r.templateID,
		Entries:    len(r.entries),
		Joints:     make(map[string]JointSummary),
		Windows:    len(r.windows),
	}
	if len(r.entries) == 0 {
		return s
	}

	first, last := r.entries[0], r.entries[len(r.entries)-1]
	s.Start, s.End = first.Timestamp, last.Timestamp
	s.Duration = time.Duration(last.Timestamp-first.Timestamp) * time.Microsecond
	s.TotalReps = last.TotalReps
	s.TotalLoad = last.TotalLoad

	var compSum float64
	var compN int
	for i, e := range r.entries {
		if e.Compensation != nil {
			compSum += *e.Compensation
			compN++
			s.CompensationPeak = math.Max(s.CompensationPeak, *e.Compensation)
		}
		for _, ev := range e.Events {
			if ev.To == posture.Critical {
				js := s.Joints[ev.JointID]
				js.Alerts++
				s.Joints[ev.JointID] = js
				s.Alerts++
			}
		}

		if i+1 == len(r.entries) {
			break
		}
		dt := time.Duration(r.entries[i+1].Timestamp-e.Timestamp) * time.Microsecond
		for id, st := range e.Joints {
			js := s.Joints[id]
			switch st.Severity {
			case posture.Warn:
				js.WarnTime += dt
			case posture.Critical:
				js.CriticalTime += dt
			}
			s.Joints[id] = js
		}
	}
	for id := range last.Joints {
		if _, ok := s.Joints[id]; !ok {
			s.Joints[id] = JointSummary{}
		}
	}
	if compN > 0 {
		s.CompensationAvg = compSum / float64(compN)
	}

	var shareSum float64
	for id, js := range s.Joints {
		if s.Duration > 0 {
			js.CriticalShare = float64(js.CriticalTime) / float64(s.Duration)
		}
		s.Joints[id] = js
		shareSum += js.CriticalShare
	}

	a, okA := s.Joints[jointA]
	b, okB := s.Joints[jointB]
	shareA, shareB := a.CriticalShare, b.CriticalShare
	if jointA == "" || jointB == "" || !okA || !okB {
		mean := 0.0
		if len(s.Joints) > 0 {
			mean = shareSum / float64(len(s.Joints))
		}
		shareA, shareB = mean, mean
	}
	risk := 100 * (0.45*shareA + 0.35*shareB + 0.20*s.CompensationAvg/100)
	s.RiskIndex = math.Max(0, math.Min(100, risk))
	return s
}

// Downsample returns one entry per period using sample and hold: each
// output is the newest entry at or before its sample time, restamped to
// that time. Held entries carry no events or sealed windows so they can be
// stored without duplicating those.
func (r *Record) Downsample(period time.Duration) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.entries) == 0 || period <= 0 {
		return nil
	}

	step := period.Microseconds()
	start := r.entries[0].Timestamp
	end := r.entries[len(r.entries)-1].Timestamp

	var out []Entry
	for t := start; t <= end; t += step {
		i := sort.Search(len(r.entries), func(i int) bool {
			return r.entries[i].Timestamp > t
		}) - 1
		e := r.entries[i]
		e.Timestamp = t
		e.Events = nil
		e.Sealed = nil
		out = append(out, e)
	}
	return out
}
