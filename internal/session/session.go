// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session runs one monitoring session: a goroutine that drains the
// ingestor and pushes frames through the pipeline into a record.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relabs-tech/posture_computer/internal/imu"
	"github.com/relabs-tech/posture_computer/internal/ingest"
	"github.com/relabs-tech/posture_computer/internal/record"
)

var (
	// ErrConfig wraps every configuration fault found by Start.
	ErrConfig = errors.New("session config")
	// ErrEnded is returned when ingesting into a session that is ending.
	ErrEnded = errors.New("session ended")
	// ErrNotFound is returned by Manager for unknown ids.
	ErrNotFound = errors.New("session not found")
)

// Stats is a point-in-time view of a session's counters.
type Stats struct {
	Ingest       ingest.Stats `json:"ingest"`
	FusionFaults uint64       `json:"fusion_faults"`
	Entries      int          `json:"entries"`
	Events       int          `json:"events"`
	Windows      int          `json:"windows"`
}

// Session owns one pipeline. Ingest may be called from any goroutine;
// everything else in the pipeline runs on the session goroutine.
type Session struct {
	id  string
	cfg Config
	log *zap.Logger
	p   *pipeline
	rec *record.Record

	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	endOnce sync.Once
	ending  atomic.Bool
	gate    sync.RWMutex // ending check plus push vs the final drain

	faults atomic.Uint64
	lastTs int64 // session goroutine only
}

// Start validates cfg, builds the pipeline and starts the session
// goroutine. Cancelling ctx ends the session like End does. On a
// configuration fault no session is created and the error wraps ErrConfig.
func Start(ctx context.Context, cfg Config, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	id := uuid.NewString()
	log = log.With(zap.String("session_id", id))

	p, err := newPipeline(cfg, log)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:   id,
		cfg:  cfg,
		log:  log,
		p:    p,
		rec:  record.New(id, cfg.Template),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run(ctx)

	log.Info("session: started",
		zap.String("template", cfg.Template),
		zap.Int("sensors", len(cfg.Sensors)),
		zap.Int("segments", len(cfg.Segments)))
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Config returns the effective configuration.
func (s *Session) Config() Config { return s.cfg }

// Record returns the session output. It stays readable after End.
func (s *Session) Record() *record.Record { return s.rec }

// Done is closed once the record is finalized.
func (s *Session) Done() <-chan struct{} { return s.done }

// Ingest queues a calibrated frame. Ingest faults are counted and returned
// for the caller's information; they never stop the session.
func (s *Session) Ingest(f imu.Frame) error {
	return s.push(func() error { return s.p.ingest.Push(f) })
}

// IngestAt queues a frame together with its host arrival time, feeding
// clock sync when enabled.
func (s *Session) IngestAt(f imu.Frame, hostUs int64) error {
	return s.push(func() error { return s.p.ingest.PushAt(f, hostUs) })
}

// IngestRaw queues a raw sample, calibrated with its sensor's record.
func (s *Session) IngestRaw(raw imu.IMURaw) error {
	return s.push(func() error { return s.p.ingest.PushRaw(raw) })
}

// IngestRawAt queues a raw sample with its host arrival time.
func (s *Session) IngestRawAt(raw imu.IMURaw, hostUs int64) error {
	return s.push(func() error { return s.p.ingest.PushRawAt(raw, hostUs) })
}

// push runs fn under the read side of gate so finish cannot drain the
// queue between the ending check and the push.
func (s *Session) push(fn func() error) error {
	s.gate.RLock()
	if s.ending.Load() {
		s.gate.RUnlock()
		return ErrEnded
	}
	err := fn()
	s.gate.RUnlock()
	s.signal()
	return err
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stats returns the current counters.
func (s *Session) Stats() Stats {
	return Stats{
		Ingest:       s.p.ingest.Stats(),
		FusionFaults: s.faults.Load(),
		Entries:      s.rec.Len(),
		Events:       len(s.rec.Events()),
		Windows:      len(s.rec.SealedWindows()),
	}
}

// Summary condenses the record so far, weighting the risk index by the
// compensation joint pair.
func (s *Session) Summary() record.Summary {
	return s.rec.Summary(s.cfg.Compensation.JointA, s.cfg.Compensation.JointB)
}

// End stops the session: in-flight frames are drained, open load windows
// are sealed as truncated and the record is finalized. It is safe to call
// more than once. If ctx expires first the session still finishes in the
// background.
func (s *Session) End(ctx context.Context) (*record.Record, error) {
	s.endOnce.Do(func() {
		s.ending.Store(true)
		close(s.stop)
	})
	select {
	case <-s.done:
		return s.rec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	var lastAccepted uint64
	for {
		select {
		case <-ctx.Done():
			s.finish("context done")
			return
		case <-s.stop:
			s.finish("ended")
			return
		case <-s.wake:
			s.step(false)
		case <-ticker.C:
			// Nothing new since the previous poll: release the reorder
			// window so a paused producer is not held back.
			accepted := s.p.ingest.Stats().Accepted
			s.step(accepted == lastAccepted)
			lastAccepted = accepted
		}
	}
}

func (s *Session) step(flush bool) {
	for _, f := range s.p.ingest.Drain(flush) {
		before := s.p.fusion.Faults()
		e, ok := s.p.process(f)
		if after := s.p.fusion.Faults(); after != before {
			s.faults.Store(after)
		}
		if !ok {
			continue
		}
		s.lastTs = e.Timestamp
		for _, ev := range e.Events {
			s.log.Info("session: alignment",
				zap.String("joint", ev.JointID),
				zap.Stringer("from", ev.From),
				zap.Stringer("to", ev.To),
				zap.Float64("deviation", ev.Deviation))
		}
		if err := s.rec.Append(e); err != nil {
			s.log.Warn("session: append failed", zap.Error(err))
		}
	}
}

func (s *Session) finish(reason string) {
	// Wait out pushes already past the ending check; none start after.
	s.gate.Lock()
	s.ending.Store(true)
	s.gate.Unlock()

	s.step(true)
	tail := s.p.loads.Close(s.lastTs)
	if err := s.rec.Finalize(tail...); err != nil {
		s.log.Warn("session: finalize failed", zap.Error(err))
	}
	st := s.Stats()
	s.log.Info("session: finished",
		zap.String("reason", reason),
		zap.Int("entries", st.Entries),
		zap.Int("events", st.Events),
		zap.Int("windows", st.Windows),
		zap.Uint64("accepted", st.Ingest.Accepted),
		zap.Uint64("out_of_order", st.Ingest.OutOfOrder),
		zap.Uint64("dropped", st.Ingest.Dropped))
}
