// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mqttbus carries raw frames and session outputs over MQTT.
package mqttbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/posture_computer/internal/imu"
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt: operation timed out")

// DefaultTimeout bounds every publish and subscribe acknowledgement.
const DefaultTimeout = 5 * time.Second

// Client is the part of mqtt.Client the bus uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// Topics names the output topics. Raw frames use Raw/<sensor id>.
type Topics struct {
	Raw     string
	Posture string
	Events  string
	Windows string
	Summary string
}

// Connect dials the broker with auto-reconnect enabled.
func Connect(broker, clientID string, log *zap.Logger) (mqtt.Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(DefaultTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("mqtt: connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			log.Info("mqtt: connected", zap.String("broker", broker), zap.String("client_id", clientID))
		})

	client := mqtt.NewClient(opts)
	if err := wait(client.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	return client, nil
}

// wait blocks on a token for at most DefaultTimeout.
func wait(t mqtt.Token) error {
	if !t.WaitTimeout(DefaultTimeout) {
		return ErrTimeout
	}
	return t.Error()
}

// RawTopic is the topic a sensor's frames are published on.
func RawTopic(prefix, sensorID string) string {
	return prefix + "/" + sensorID
}

// PublishRaw publishes one raw sample on its sensor topic.
func PublishRaw(c Client, prefix string, raw imu.IMURaw) error {
	if raw.Source == "" {
		return errors.New("mqtt: raw sample has no source")
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal raw sample: %w", err)
	}
	return wait(c.Publish(RawTopic(prefix, raw.Source), 0, false, payload))
}

// SubscribeRaw delivers every raw sample published under prefix to sink.
// A payload without a source takes the last topic level as its sensor id.
// Malformed payloads and sink errors are logged and dropped.
func SubscribeRaw(c Client, prefix string, sink func(imu.IMURaw) error, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		var raw imu.IMURaw
		if err := json.Unmarshal(msg.Payload(), &raw); err != nil {
			log.Debug("mqtt: raw unmarshal error", zap.String("topic", msg.Topic()), zap.Error(err))
			return
		}
		if raw.Source == "" {
			topic := msg.Topic()
			raw.Source = topic[strings.LastIndexByte(topic, '/')+1:]
		}
		if err := sink(raw); err != nil {
			log.Debug("mqtt: raw sample rejected", zap.String("sensor", raw.Source), zap.Error(err))
		}
	}
	topic := prefix + "/+"
	if err := wait(c.Subscribe(topic, 0, handler)); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	log.Info("mqtt: subscribed", zap.String("topic", topic))
	return nil
}
