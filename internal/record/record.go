// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package record holds the append-only output of a session.
package record

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/posture_computer/internal/kinematics"
	"github.com/relabs-tech/posture_computer/internal/load"
	"github.com/relabs-tech/posture_computer/internal/posture"
)

// ErrFinalized is returned when appending to a finalized record.
var ErrFinalized = errors.New("record finalized")

// DefaultSubscriptionBuffer is used when Subscribe gets a non-positive size.
const DefaultSubscriptionBuffer = 64

// Entry is the pipeline output of one tick. Entries are built once and
// never modified after Append.
type Entry struct {
	Seq       uint64                         `json:"seq"`
	Timestamp int64                          `json:"ts_us"`
	Posture   kinematics.PostureFrame        `json:"posture"`
	Joints    map[string]posture.JointStatus `json:"joints"`
	Events    []posture.AlignmentEvent       `json:"events,omitempty"`
	// Compensation is nil when the joint pair was not reliable this tick.
	Compensation *float64      `json:"compensation,omitempty"`
	Sealed       []load.Window `json:"sealed,omitempty"`
	// Load holds the windows still open after this tick, oldest first.
	Load      []load.Window `json:"load,omitempty"`
	TotalLoad float64       `json:"total_load"`
	TotalReps int           `json:"total_reps"`
}

// Record is safe for concurrent use: the session appends while any number
// of readers query or subscribe.
type Record struct {
	id         string
	templateID string
	startedAt  time.Time

	mu        sync.RWMutex
	entries   []Entry
	events    []posture.AlignmentEvent
	windows   []load.Window
	finalized bool
	endedAt   time.Time

	subs    map[int]*Subscription
	nextSub int
}

// New returns an empty record.
func New(id, templateID string) *Record {
	return &Record{
		id:         id,
		templateID: templateID,
		startedAt:  time.Now(),
		subs:       make(map[int]*Subscription),
	}
}

// ID returns the session id.
func (r *Record) ID() string { return r.id }

// TemplateID returns the template the session was analyzed against.
func (r *Record) TemplateID() string { return r.templateID }

// StartedAt is the wall clock time the record was created.
func (r *Record) StartedAt() time.Time { return r.startedAt }

// EndedAt is the wall clock time of Finalize, zero before.
func (r *Record) EndedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endedAt
}

// Append adds an entry and fans it out to subscribers. The entry's Seq is
// assigned here.
func (r *Record) Append(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return ErrFinalized
	}

	e.Seq = uint64(len(r.entries)) + 1
	r.entries = append(r.entries, e)
	r.events = append(r.events, e.Events...)
	r.windows = append(r.windows, e.Sealed...)

	for _, s := range r.subs {
		s.offer(e)
	}
	return nil
}

// Finalize makes the record read-only, appending tail windows sealed at
// shutdown, and closes every subscription.
func (r *Record) Finalize(tail ...load.Window) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return ErrFinalized
	}
	r.windows = append(r.windows, tail...)
	r.finalized = true
	r.endedAt = time.Now()
	for id, s := range r.subs {
		close(s.ch)
		delete(r.subs, id)
	}
	return nil
}

// Finalized reports whether Finalize has been called.
func (r *Record) Finalized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finalized
}

// Len is the number of entries.
func (r *Record) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Latest returns the newest entry.
func (r *Record) Latest() (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.entries) == 0 {
		return Entry{}, false
	}
	return r.entries[len(r.entries)-1], true
}

// Entries returns a copy of all entries in order.
func (r *Record) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entry(nil), r.entries...)
}

// Since returns entries with Seq greater than seq.
func (r *Record) Since(seq uint64) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if seq >= uint64(len(r.entries)) {
		return nil
	}
	return append([]Entry(nil), r.entries[seq:]...)
}

// Events returns every alignment event in order.
func (r *Record) Events() []posture.AlignmentEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]posture.AlignmentEvent(nil), r.events...)
}

// SealedWindows returns every sealed load window in sealing order.
func (r *Record) SealedWindows() []load.Window {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]load.Window(nil), r.windows...)
}

// Subscription delivers entries appended after Subscribe. A slow reader
// loses the oldest buffered entries; Lagged counts them. C is closed when
// the record is finalized or the subscription is closed.
type Subscription struct {
	C <-chan Entry

	ch     chan Entry
	lagged atomic.Uint64
	r      *Record
	id     int
}

// Subscribe registers a subscriber with a buffer of size entries.
func (r *Record) Subscribe(size int) *Subscription {
	if size <= 0 {
		size = DefaultSubscriptionBuffer
	}
	ch := make(chan Entry, size)
	s := &Subscription{C: ch, ch: ch, r: r}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		close(ch)
		return s
	}
	r.nextSub++
	s.id = r.nextSub
	r.subs[s.id] = s
	return s
}

// offer never blocks. Called with r.mu held.
func (s *Subscription) offer(e Entry) {
	select {
	case s.ch <- e:
		return
	default:
	}
	select {
	case <-s.ch:
		s.lagged.Add(1)
	default:
	}
	select {
	case s.ch <- e:
	default:
		s.lagged.Add(1)
	}
}

// Lagged is the number of entries dropped for this subscriber.
func (s *Subscription) Lagged() uint64 { return s.lagged.Load() }

// Close unsubscribes. It is safe to call after the record was finalized.
func (s *Subscription) Close() {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if _, ok := s.r.subs[s.id]; ok {
		delete(s.r.subs, s.id)
		close(s.ch)
	}
}
