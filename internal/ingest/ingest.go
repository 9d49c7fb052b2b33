// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package ingest accepts frames from any number of producer goroutines,
// normalizes them to SI units and hands them to the pipeline in timestamp
// order.
package ingest

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/relabs-tech/posture_computer/internal/clocksync"
	"github.com/relabs-tech/posture_computer/internal/imu"
)

// Ingest faults. They are counted and never stop a session.
var (
	ErrUnknownSensor = errors.New("unknown sensor")
	ErrMalformed     = errors.New("malformed frame")
	ErrOutOfOrder    = errors.New("out-of-order frame")
	ErrDuplicate     = errors.New("duplicate frame")
)

// Config tunes queueing and reordering.
type Config struct {
	QueueSize     int              `yaml:"queue_size" json:"queue_size"`         // per sensor
	ReorderWindow int              `yaml:"reorder_window" json:"reorder_window"` // frames held back by Drain
	ClockSync     bool             `yaml:"clock_sync" json:"clock_sync"`         // map sensor clocks to host time
	Sync          clocksync.Config `yaml:"sync" json:"sync"`
}

// DefaultConfig returns the ingestor defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:     256,
		ReorderWindow: 8,
		Sync:          clocksync.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.ReorderWindow < 0 {
		c.ReorderWindow = 0
	}
	return c
}

// Stats are the ingest counters.
type Stats struct {
	Accepted   uint64 `json:"accepted"`
	OutOfOrder uint64 `json:"out_of_order"` // includes duplicates
	Duplicates uint64 `json:"duplicates"`
	Unknown    uint64 `json:"unknown"`
	Malformed  uint64 `json:"malformed"`
	Dropped    uint64 `json:"dropped"` // queue overflow
	Late       uint64 `json:"late"`    // behind the reorder window
}

// Total is the number of frames offered to the ingestor.
func (s Stats) Total() uint64 {
	return s.Accepted + s.OutOfOrder + s.Unknown + s.Malformed
}

// sensorQueue is a bounded ring of accepted frames for one sensor.
type sensorQueue struct {
	mu sync.Mutex

	cal  imu.Calibration
	buf  []imu.Frame
	head int
	n    int

	lastAccepted int64
	sync         *clocksync.Linear
	stats        Stats
}

func (q *sensorQueue) push(f imu.Frame) {
	if q.n == len(q.buf) {
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		q.stats.Dropped++
	}
	q.buf[(q.head+q.n)%len(q.buf)] = f
	q.n++
}

// popAll moves every queued frame to dst, mapping timestamps to host time
// when clock sync is enabled.
func (q *sensorQueue) popAll(dst []imu.Frame) []imu.Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	for ; q.n > 0; q.n-- {
		f := q.buf[q.head]
		q.buf[q.head] = imu.Frame{}
		q.head = (q.head + 1) % len(q.buf)
		if q.sync != nil {
			f.Timestamp = q.sync.Map(f.Timestamp)
		}
		dst = append(dst, f)
	}
	return dst
}

// Ingestor is safe for concurrent Push. Drain is meant to be called from a
// single consumer.
type Ingestor struct {
	cfg     Config
	log     *zap.Logger
	sensors map[string]*sensorQueue // fixed after New
	unknown atomic.Uint64

	drainMu     sync.Mutex
	pending     []imu.Frame
	lastEmitted map[string]int64
	late        uint64
}

// New builds an ingestor for a fixed set of sensors. Every calibration is
// resolved up front; a bad calibration fails construction.
func New(cfg Config, cals map[string]imu.Calibration, log *zap.Logger) (*Ingestor, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	in := &Ingestor{
		cfg:         cfg,
		log:         log,
		sensors:     make(map[string]*sensorQueue, len(cals)),
		lastEmitted: make(map[string]int64, len(cals)),
	}
	for id, cal := range cals {
		if err := cal.Resolve(); err != nil {
			return nil, fmt.Errorf("sensor %q: %w", id, err)
		}
		q := &sensorQueue{
			cal: cal,
			buf: make([]imu.Frame, cfg.QueueSize),
		}
		if cfg.ClockSync {
			q.sync = clocksync.NewLinear(cfg.Sync)
		}
		in.sensors[id] = q
	}
	return in, nil
}

// Push accepts a frame already in SI units.
func (in *Ingestor) Push(f imu.Frame) error {
	return in.push(f, 0, false)
}

// PushAt accepts a frame and records its host arrival time for clock sync.
func (in *Ingestor) PushAt(f imu.Frame, hostUs int64) error {
	return in.push(f, hostUs, true)
}

// PushRaw normalizes a raw sample with its sensor's calibration and
// accepts it.
func (in *Ingestor) PushRaw(raw imu.IMURaw) error {
	q, ok := in.sensors[raw.Source]
	if !ok {
		in.unknown.Add(1)
		return fmt.Errorf("%w: %q", ErrUnknownSensor, raw.Source)
	}
	// Calibration is immutable after New, no lock needed.
	return in.push(q.cal.Apply(raw), 0, false)
}

// PushRawAt is PushRaw with the sample's host arrival time.
func (in *Ingestor) PushRawAt(raw imu.IMURaw, hostUs int64) error {
	q, ok := in.sensors[raw.Source]
	if !ok {
		in.unknown.Add(1)
		return fmt.Errorf("%w: %q", ErrUnknownSensor, raw.Source)
	}
	return in.push(q.cal.Apply(raw), hostUs, true)
}

func (in *Ingestor) push(f imu.Frame, hostUs int64, observed bool) error {
	q, ok := in.sensors[f.SensorID]
	if !ok {
		in.unknown.Add(1)
		return fmt.Errorf("%w: %q", ErrUnknownSensor, f.SensorID)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !f.Valid() {
		q.stats.Malformed++
		return fmt.Errorf("%w: sensor %q ts %d", ErrMalformed, f.SensorID, f.Timestamp)
	}
	if q.stats.Accepted > 0 && f.Timestamp <= q.lastAccepted {
		q.stats.OutOfOrder++
		if f.Timestamp == q.lastAccepted {
			q.stats.Duplicates++
			return fmt.Errorf("%w: sensor %q ts %d", ErrDuplicate, f.SensorID, f.Timestamp)
		}
		return fmt.Errorf("%w: sensor %q ts %d <= %d", ErrOutOfOrder, f.SensorID, f.Timestamp, q.lastAccepted)
	}

	q.lastAccepted = f.Timestamp
	q.stats.Accepted++
	if observed && q.sync != nil {
		q.sync.Observe(f.Timestamp, hostUs)
	}
	q.push(f)
	return nil
}

// Drain returns accepted frames in timestamp order. The newest
// ReorderWindow frames are held back for the next call unless flush is set.
func (in *Ingestor) Drain(flush bool) []imu.Frame {
	in.drainMu.Lock()
	defer in.drainMu.Unlock()

	for _, id := range in.sensorIDs() {
		in.pending = in.sensors[id].popAll(in.pending)
	}
	sort.SliceStable(in.pending, func(i, j int) bool {
		if in.pending[i].Timestamp != in.pending[j].Timestamp {
			return in.pending[i].Timestamp < in.pending[j].Timestamp
		}
		return in.pending[i].SensorID < in.pending[j].SensorID
	})

	n := len(in.pending)
	if !flush {
		n -= in.cfg.ReorderWindow
	}
	if n <= 0 {
		return nil
	}

	out := make([]imu.Frame, 0, n)
	for _, f := range in.pending[:n] {
		if last, ok := in.lastEmitted[f.SensorID]; ok && f.Timestamp <= last {
			in.late++
			in.log.Debug("ingest: late frame dropped",
				zap.String("sensor", f.SensorID),
				zap.Int64("ts_us", f.Timestamp),
				zap.Int64("last_us", last))
			continue
		}
		in.lastEmitted[f.SensorID] = f.Timestamp
		out = append(out, f)
	}
	rest := copy(in.pending, in.pending[n:])
	in.pending = in.pending[:rest]
	return out
}

// Pending is the number of frames held in the reorder window.
func (in *Ingestor) Pending() int {
	in.drainMu.Lock()
	defer in.drainMu.Unlock()
	return len(in.pending)
}

// Stats returns a snapshot of the counters summed over all sensors.
func (in *Ingestor) Stats() Stats {
	var s Stats
	for _, q := range in.sensors {
		q.mu.Lock()
		s.Accepted += q.stats.Accepted
		s.OutOfOrder += q.stats.OutOfOrder
		s.Duplicates += q.stats.Duplicates
		s.Malformed += q.stats.Malformed
		s.Dropped += q.stats.Dropped
		q.mu.Unlock()
	}
	s.Unknown = in.unknown.Load()

	in.drainMu.Lock()
	s.Late = in.late
	in.drainMu.Unlock()
	return s
}

// Known reports whether id is a configured sensor.
func (in *Ingestor) Known(id string) bool {
	_, ok := in.sensors[id]
	return ok
}

func (in *Ingestor) sensorIDs() []string {
	ids := make([]string, 0, len(in.sensors))
	for id := range in.sensors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
