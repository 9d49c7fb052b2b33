// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mqttbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/posture_computer/internal/load"
	"github.com/relabs-tech/posture_computer/internal/posture"
	"github.com/relabs-tech/posture_computer/internal/record"
)

// EventMessage is the payload on the events topic.
type EventMessage struct {
	SessionID string `json:"session_id"`
	posture.AlignmentEvent
}

// WindowMessage is the payload on the windows topic.
type WindowMessage struct {
	SessionID string `json:"session_id"`
	load.Window
}

// PostureMessage is the payload on the posture topic.
type PostureMessage struct {
	SessionID string `json:"session_id"`
	record.Entry
}

// Publisher forwards one session's record to the output topics. Events
// and sealed windows are published as they happen; posture entries are
// throttled to one per Period, retained so late subscribers see the
// latest state.
type Publisher struct {
	Client    Client
	Topics    Topics
	SessionID string
	Period    time.Duration // 0 publishes every entry
	Log       *zap.Logger

	lastPosture int64
	published   bool
}

func (p *Publisher) publish(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	return wait(p.Client.Publish(topic, 0, retained, payload))
}

// Entry publishes one record entry. Errors from individual publishes are
// logged; the first one is returned.
func (p *Publisher) Entry(e record.Entry) error {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	var first error
	note := func(topic string, err error) {
		if err == nil {
			return
		}
		log.Warn("mqtt: publish error", zap.String("topic", topic), zap.Error(err))
		if first == nil {
			first = err
		}
	}

	if p.Topics.Events != "" {
		for _, ev := range e.Events {
			note(p.Topics.Events, p.publish(p.Topics.Events, false, EventMessage{SessionID: p.SessionID, AlignmentEvent: ev}))
		}
	}
	if p.Topics.Windows != "" {
		for _, w := range e.Sealed {
			note(p.Topics.Windows, p.publish(p.Topics.Windows, false, WindowMessage{SessionID: p.SessionID, Window: w}))
		}
	}
	if p.Topics.Posture != "" && p.due(e.Timestamp) {
		note(p.Topics.Posture, p.publish(p.Topics.Posture, true, PostureMessage{SessionID: p.SessionID, Entry: e}))
	}
	return first
}

// due reports whether a posture entry at ts should be published.
func (p *Publisher) due(ts int64) bool {
	if p.published && ts-p.lastPosture < p.Period.Microseconds() {
		return false
	}
	p.published = true
	p.lastPosture = ts
	return true
}

// Summary publishes a session summary, retained.
func (p *Publisher) Summary(s record.Summary) error {
	if p.Topics.Summary == "" {
		return nil
	}
	return p.publish(p.Topics.Summary, true, s)
}

// Forward publishes every entry from sub until the subscription closes or
// ctx is done.
func (p *Publisher) Forward(ctx context.Context, sub *record.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-sub.C:
			if !ok {
				return nil
			}
			_ = p.Entry(e)
		}
	}
}
