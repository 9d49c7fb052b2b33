// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package fusion turns calibrated sensor frames into per-segment
// orientations with a complementary filter.
package fusion

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/posture_computer/internal/imu"
	"github.com/relabs-tech/posture_computer/internal/orientation"
)

// ErrInvalidConfig is returned by Validate and NewEngine.
var ErrInvalidConfig = errors.New("invalid fusion config")

var worldUp = r3.Vec{Z: 1}

// Config holds the filter tunables.
type Config struct {
	// GyroWeight is the share of the gyro prediction in the blend; the
	// accelerometer/magnetometer correction gets 1-GyroWeight.
	GyroWeight float64 `yaml:"gyro_weight" json:"gyro_weight"`
	// MaxAngularRate (rad/s) above which a frame is treated as a sensor
	// fault.
	MaxAngularRate float64 `yaml:"max_angular_rate" json:"max_angular_rate"`
	// AccelTolerance is the deviation of |a| from g, as a fraction of g,
	// at which confidence reaches zero.
	AccelTolerance float64 `yaml:"accel_tolerance" json:"accel_tolerance"`
	// ConfidenceSmoothing is the EMA factor applied to confidence.
	ConfidenceSmoothing float64 `yaml:"confidence_smoothing" json:"confidence_smoothing"`
	// RateSmoothing is the EMA factor applied to the reported angular
	// velocity.
	RateSmoothing float64 `yaml:"rate_smoothing" json:"rate_smoothing"`
	// MaxGap bounds the integration step after a dropout.
	MaxGap time.Duration `yaml:"max_gap" json:"max_gap"`
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		GyroWeight:          0.98,
		MaxAngularRate:      35,
		AccelTolerance:      0.5,
		ConfidenceSmoothing: 0.2,
		RateSmoothing:       0.5,
		MaxGap:              250 * time.Millisecond,
	}
}

// WithDefaults fills zero fields from DefaultConfig, so a partial block
// only overrides what it sets.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.GyroWeight == 0 {
		c.GyroWeight = d.GyroWeight
	}
	if c.MaxAngularRate == 0 {
		c.MaxAngularRate = d.MaxAngularRate
	}
	if c.AccelTolerance == 0 {
		c.AccelTolerance = d.AccelTolerance
	}
	if c.ConfidenceSmoothing == 0 {
		c.ConfidenceSmoothing = d.ConfidenceSmoothing
	}
	if c.RateSmoothing == 0 {
		c.RateSmoothing = d.RateSmoothing
	}
	if c.MaxGap == 0 {
		c.MaxGap = d.MaxGap
	}
	return c
}

// Validate checks ranges.
func (c Config) Validate() error {
	switch {
	case c.GyroWeight < 0 || c.GyroWeight > 1:
		return fmt.Errorf("%w: gyro_weight %.3f outside [0,1]", ErrInvalidConfig, c.GyroWeight)
	case c.MaxAngularRate <= 0:
		return fmt.Errorf("%w: max_angular_rate must be positive", ErrInvalidConfig)
	case c.AccelTolerance <= 0:
		return fmt.Errorf("%w: accel_tolerance must be positive", ErrInvalidConfig)
	case c.ConfidenceSmoothing <= 0 || c.ConfidenceSmoothing > 1:
		return fmt.Errorf("%w: confidence_smoothing %.3f outside (0,1]", ErrInvalidConfig, c.ConfidenceSmoothing)
	case c.RateSmoothing <= 0 || c.RateSmoothing > 1:
		return fmt.Errorf("%w: rate_smoothing %.3f outside (0,1]", ErrInvalidConfig, c.RateSmoothing)
	case c.MaxGap <= 0:
		return fmt.Errorf("%w: max_gap must be positive", ErrInvalidConfig)
	}
	return nil
}

// SegmentOrientation is the fused state of one body segment. Values handed
// out by the engine are copies.
type SegmentOrientation struct {
	SegmentID       string      `json:"segment_id"`
	SensorID        string      `json:"sensor_id"`
	Timestamp       int64       `json:"ts_us"`
	Orientation     quat.Number `json:"orientation"`      // body to world, unit norm
	AngularVelocity r3.Vec      `json:"angular_velocity"` // rad/s, body frame, smoothed
	LinearAccel     r3.Vec      `json:"linear_accel"`     // m/s², world frame, gravity removed
	Confidence      float64     `json:"confidence"`
}

// Pose returns the orientation as Euler angles.
func (s SegmentOrientation) Pose() orientation.Pose {
	return orientation.ToPose(s.Orientation)
}

type segmentState struct {
	initialized bool
	out         SegmentOrientation
}

// Engine keeps one filter per segment. It is not safe for concurrent use;
// a session drives it from a single goroutine.
type Engine struct {
	cfg      Config
	log      *zap.Logger
	segments map[string]string // sensor id -> segment id
	states   map[string]*segmentState
	faults   uint64
}

// NewEngine builds an engine for the given sensor to segment mapping.
func NewEngine(cfg Config, sensorToSegment map[string]string, log *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		cfg:      cfg,
		log:      log,
		segments: make(map[string]string, len(sensorToSegment)),
		states:   make(map[string]*segmentState, len(sensorToSegment)),
	}
	for sensor, seg := range sensorToSegment {
		if seg == "" {
			return nil, fmt.Errorf("%w: sensor %q has no segment", ErrInvalidConfig, sensor)
		}
		if _, dup := e.states[seg]; dup {
			return nil, fmt.Errorf("%w: segment %q has more than one sensor", ErrInvalidConfig, seg)
		}
		e.segments[sensor] = seg
		e.states[seg] = &segmentState{}
	}
	return e, nil
}

// Update feeds one frame. It reports false when the frame's sensor is not
// mapped or the frame is not newer than the segment state.
func (e *Engine) Update(f imu.Frame) (SegmentOrientation, bool) {
	seg, ok := e.segments[f.SensorID]
	if !ok {
		return SegmentOrientation{}, false
	}
	st := e.states[seg]

	if !st.initialized {
		st.out = e.initial(seg, f)
		st.initialized = true
		return st.out, true
	}
	if f.Timestamp <= st.out.Timestamp {
		return SegmentOrientation{}, false
	}

	dt := imu.Seconds(f.Timestamp - st.out.Timestamp)
	if maxGap := e.cfg.MaxGap.Seconds(); dt > maxGap {
		dt = maxGap
	}
	st.out.Timestamp = f.Timestamp

	rate := r3.Norm(f.Gyro)
	if rate > e.cfg.MaxAngularRate || math.IsNaN(rate) {
		e.fault(st, "fusion: angular rate above limit, holding orientation", zap.Float64("rate", rate))
		return st.out, true
	}

	pred, ok := orientation.Normalize(orientation.Integrate(st.out.Orientation, f.Gyro, dt))
	if !ok {
		e.fault(st, "fusion: degenerate prediction, holding orientation")
		return st.out, true
	}

	c := e.accelConfidence(f.Accel)
	corr := correct(pred, f.Accel, f.Mag)
	q, ok := orientation.Normalize(orientation.Slerp(pred, corr, (1-e.cfg.GyroWeight)*c))
	if !ok {
		e.fault(st, "fusion: degenerate blend, holding orientation")
		return st.out, true
	}

	st.out.Orientation = q
	st.out.AngularVelocity = r3.Add(st.out.AngularVelocity,
		r3.Scale(e.cfg.RateSmoothing, r3.Sub(f.Gyro, st.out.AngularVelocity)))
	st.out.LinearAccel = linearAccel(q, f.Accel)
	st.out.Confidence += e.cfg.ConfidenceSmoothing * (c - st.out.Confidence)
	return st.out, true
}

func (e *Engine) initial(seg string, f imu.Frame) SegmentOrientation {
	q := orientation.Identity()
	if r3.Norm(f.Accel) > 0 {
		q = orientation.TiltFromAccel(f.Accel)
	}
	if f.Mag != nil {
		q = headingCorrection(q, *f.Mag)
	}
	return SegmentOrientation{
		SegmentID:       seg,
		SensorID:        f.SensorID,
		Timestamp:       f.Timestamp,
		Orientation:     q,
		AngularVelocity: f.Gyro,
		LinearAccel:     linearAccel(q, f.Accel),
		Confidence:      e.accelConfidence(f.Accel),
	}
}

func (e *Engine) fault(st *segmentState, msg string, fields ...zap.Field) {
	e.faults++
	st.out.Confidence = 0
	e.log.Debug(msg, append(fields,
		zap.String("segment", st.out.SegmentID),
		zap.Int64("ts_us", st.out.Timestamp))...)
}

// accelConfidence is 1 when |a| equals g and falls linearly to 0 at
// g·AccelTolerance away from it.
func (e *Engine) accelConfidence(a r3.Vec) float64 {
	dev := math.Abs(r3.Norm(a) - imu.Gravity)
	c := 1 - dev/(imu.Gravity*e.cfg.AccelTolerance)
	return math.Max(0, math.Min(1, c))
}

// correct rotates q so that the measured gravity points to world up and,
// when a magnetometer reading is present, the horizontal field points to
// world +X.
func correct(q quat.Number, accel r3.Vec, mag *r3.Vec) quat.Number {
	if r3.Norm(accel) > 0 {
		up := orientation.Rotate(q, r3.Unit(accel))
		axis := r3.Cross(up, worldUp)
		angle := math.Acos(math.Max(-1, math.Min(1, r3.Dot(up, worldUp))))
		if r3.Norm(axis) < 1e-9 && angle > math.Pi/2 {
			axis = r3.Vec{X: 1}
		}
		q = quat.Mul(orientation.FromAxisAngle(axis, angle), q)
	}
	if mag != nil {
		q = headingCorrection(q, *mag)
	}
	return q
}

func headingCorrection(q quat.Number, mag r3.Vec) quat.Number {
	m := orientation.Rotate(q, mag)
	if math.Hypot(m.X, m.Y) == 0 {
		return q
	}
	return quat.Mul(orientation.FromAxisAngle(worldUp, -math.Atan2(m.Y, m.X)), q)
}

func linearAccel(q quat.Number, a r3.Vec) r3.Vec {
	return r3.Sub(orientation.Rotate(q, a), r3.Scale(imu.Gravity, worldUp))
}

// Snapshot returns a copy of a segment's latest state.
func (e *Engine) Snapshot(segment string) (SegmentOrientation, bool) {
	st, ok := e.states[segment]
	if !ok || !st.initialized {
		return SegmentOrientation{}, false
	}
	return st.out, true
}

// Segments returns the fused segment ids, sorted.
func (e *Engine) Segments() []string {
	out := make([]string, 0, len(e.states))
	for seg := range e.states {
		out = append(out, seg)
	}
	sort.Strings(out)
	return out
}

// Faults is the number of frames rejected as sensor or numerical faults.
func (e *Engine) Faults() uint64 { return e.faults }
