// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/posture_computer/internal/posture"
	"github.com/relabs-tech/posture_computer/internal/record"
	"github.com/relabs-tech/posture_computer/internal/transport/mqttbus"
)

// RunConsole subscribes to the output topics and prints every message
// until ctx is done.
func RunConsole(ctx context.Context) error {
	cfg, err := mustConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "posture-console")
	defer log.Sync() //nolint:errcheck

	client, err := mqttbus.Connect(cfg.MQTTBroker, cfg.MQTTClientIDConsole, log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	p := &printer{out: os.Stdout, log: log}
	subs := map[string]mqtt.MessageHandler{
		cfg.TopicPosture: p.posture,
		cfg.TopicEvents:  p.event,
		cfg.TopicWindows: p.window,
		cfg.TopicSummary: p.summary,
	}
	for topic, handler := range subs {
		if topic == "" {
			continue
		}
		token := client.Subscribe(topic, 0, handler)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Info("console: subscribed", zap.String("topic", topic))
	}

	<-ctx.Done()
	log.Info("console: shutting down")
	return nil
}

// printer formats output messages, one line each.
type printer struct {
	mu  sync.Mutex
	out io.Writer
	log *zap.Logger
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func decode[T any](p *printer, what string, msg mqtt.Message) (T, bool) {
	var v T
	if err := json.Unmarshal(msg.Payload(), &v); err != nil {
		p.log.Debug("console: unmarshal error", zap.String("kind", what), zap.Error(err))
		return v, false
	}
	return v, true
}

func (p *printer) posture(_ mqtt.Client, msg mqtt.Message) {
	m, ok := decode[mqttbus.PostureMessage](p, "posture", msg)
	if !ok {
		return
	}
	var b strings.Builder
	for _, id := range sortedKeys(m.Joints) {
		js := m.Joints[id]
		angle := m.Posture.Joints[id].Primary()
		mark := ""
		if !js.Reliable {
			mark = "?"
		}
		fmt.Fprintf(&b, "  %s=%6.1f°%s %-8s", id, angle, mark, js.Severity)
	}
	comp := "   -"
	if m.Compensation != nil {
		comp = fmt.Sprintf("%4.0f", *m.Compensation)
	}
	window := ""
	if n := len(m.Load); n > 0 {
		w := m.Load[n-1]
		window = fmt.Sprintf(" win=%.2f/%d", w.CumulativeLoad, w.RepCount)
	}
	p.printf("[POSE] #%-6d%s comp=%s load=%s reps=%d%s\n",
		m.Seq, b.String(), comp, humanize.FormatFloat("#,###.#", m.TotalLoad), m.TotalReps, window)
}

func (p *printer) event(_ mqtt.Client, msg mqtt.Message) {
	m, ok := decode[mqttbus.EventMessage](p, "event", msg)
	if !ok {
		return
	}
	tag := "[EVT ]"
	if m.To == posture.Critical {
		tag = "[ALRT]"
	}
	joint := m.JointID
	if m.Axis != "" && m.Axis != posture.AxisFlexion {
		joint += "/" + string(m.Axis)
	}
	p.printf("%s %s %s -> %s angle=%.1f° dev=%.1f°\n", tag, joint, m.From, m.To, m.Angle, m.Deviation)
}

func (p *printer) window(_ mqtt.Client, msg mqtt.Message) {
	m, ok := decode[mqttbus.WindowMessage](p, "window", msg)
	if !ok {
		return
	}
	trunc := ""
	if m.Truncated {
		trunc = " (truncated)"
	}
	p.printf("[LOAD] %.1fs-%.1fs load=%.2f peak=%.3f reps=%d%s\n",
		float64(m.Start)/1e6, float64(m.End)/1e6, m.CumulativeLoad, m.PeakLoad, m.RepCount, trunc)
}

func (p *printer) summary(_ mqtt.Client, msg mqtt.Message) {
	s, ok := decode[record.Summary](p, "summary", msg)
	if !ok {
		return
	}
	p.printf("[SUMM] %s", formatSummary(s))
}
