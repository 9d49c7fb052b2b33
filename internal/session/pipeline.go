// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/relabs-tech/posture_computer/internal/fusion"
	"github.com/relabs-tech/posture_computer/internal/imu"
	"github.com/relabs-tech/posture_computer/internal/ingest"
	"github.com/relabs-tech/posture_computer/internal/kinematics"
	"github.com/relabs-tech/posture_computer/internal/load"
	"github.com/relabs-tech/posture_computer/internal/posture"
	"github.com/relabs-tech/posture_computer/internal/record"
)

// pipeline is the chain of stages one session drives.
type pipeline struct {
	ingest   *ingest.Ingestor
	fusion   *fusion.Engine
	model    *kinematics.Model
	analyzer *posture.Analyzer
	loads    *load.Estimator
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %w", ErrConfig, fmt.Errorf(format, args...))
}

// newPipeline validates cfg end to end. Every error wraps ErrConfig.
func newPipeline(cfg Config, log *zap.Logger) (*pipeline, error) {
	if log == nil {
		log = zap.NewNop()
	}

	topo, err := kinematics.NewTopology(cfg.Skeleton.Root, cfg.Segments)
	if err != nil {
		return nil, configErr("skeleton: %w", err)
	}

	if len(cfg.Sensors) == 0 {
		return nil, configErr("no sensors configured")
	}
	cals := make(map[string]imu.Calibration, len(cfg.Sensors))
	sensorToSegment := make(map[string]string, len(cfg.Sensors))
	covered := make(map[string]bool, len(cfg.Sensors))
	for id, sc := range cfg.Sensors {
		if !topo.Has(sc.Segment) {
			return nil, configErr("sensor %q: unknown segment %q", id, sc.Segment)
		}
		covered[sc.Segment] = true
		sensorToSegment[id] = sc.Segment
		if sc.Calibration != nil {
			cals[id] = *sc.Calibration
		} else {
			cals[id] = imu.Calibration{}
		}
	}
	var bare []string
	for _, seg := range topo.Segments() {
		if !covered[seg] {
			bare = append(bare, seg)
		}
	}
	if len(bare) > 0 {
		sort.Strings(bare)
		return nil, configErr("segments without a sensor: %v", bare)
	}

	in, err := ingest.New(cfg.Ingest, cals, log)
	if err != nil {
		return nil, configErr("calibration: %w", err)
	}
	eng, err := fusion.NewEngine(cfg.Fusion, sensorToSegment, log)
	if err != nil {
		return nil, configErr("fusion: %w", err)
	}

	tpl, err := cfg.template()
	if err != nil {
		return nil, configErr("%w", err)
	}
	model, err := kinematics.NewModel(topo, cfg.Skeleton, tpl.ID)
	if err != nil {
		return nil, configErr("skeleton: %w", err)
	}
	var jointIDs []string
	joints := make(map[string]bool)
	for _, j := range model.Joints() {
		jointIDs = append(jointIDs, j.ID)
		joints[j.ID] = true
	}
	known := func(id string) bool { return joints[id] }

	if err := tpl.Validate(jointIDs); err != nil {
		return nil, configErr("template: %w", err)
	}
	if c := cfg.Compensation; c.Enabled() && (!known(c.JointA) || !known(c.JointB)) {
		return nil, configErr("compensation: unknown joint pair %q/%q", c.JointA, c.JointB)
	}
	analyzer, err := posture.NewAnalyzer(tpl, cfg.Thresholds, cfg.Compensation)
	if err != nil {
		return nil, configErr("thresholds: %w", err)
	}

	if pj := cfg.Load.PrimaryJoint; pj != "" && !known(pj) {
		return nil, configErr("load: unknown primary joint %q", pj)
	}
	loads, err := load.NewEstimator(cfg.Load)
	if err != nil {
		return nil, configErr("%w", err)
	}

	return &pipeline{
		ingest:   in,
		fusion:   eng,
		model:    model,
		analyzer: analyzer,
		loads:    loads,
	}, nil
}

// process runs one frame through fusion, kinematics, analysis and load.
// It returns false when the frame did not complete a PostureFrame.
func (p *pipeline) process(f imu.Frame) (record.Entry, bool) {
	o, ok := p.fusion.Update(f)
	if !ok {
		return record.Entry{}, false
	}
	pf, ok := p.model.Update(o)
	if !ok {
		return record.Entry{}, false
	}
	res := p.analyzer.Analyze(pf)
	sealed := p.loads.Tick(pf)

	return record.Entry{
		Timestamp:    pf.Timestamp,
		Posture:      pf,
		Joints:       res.Joints,
		Events:       res.Events,
		Compensation: res.Compensation,
		Sealed:       sealed,
		Load:         p.loads.Active(),
		TotalLoad:    p.loads.TotalLoad(),
		TotalReps:    p.loads.TotalReps(),
	}, true
}
