// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package cache mirrors live session state into Redis: the latest entry
// per session, the session summary, and a capped stream of alignment
// events.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/relabs-tech/posture_computer/internal/posture"
	"github.com/relabs-tech/posture_computer/internal/record"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("not found in cache")

// Options tunes key naming and retention.
type Options struct {
	Prefix       string        // key prefix, default "posture:"
	LatestTTL    time.Duration // expiry of the latest entry, default 30s
	StreamMaxLen int64         // approximate cap of the events stream, default 1000
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = "posture:"
	}
	if o.LatestTTL <= 0 {
		o.LatestTTL = 30 * time.Second
	}
	if o.StreamMaxLen <= 0 {
		o.StreamMaxLen = 1000
	}
	return o
}

// Cache writes session state to Redis.
type Cache struct {
	client *redis.Client
	opts   Options
	log    *zap.Logger
}

// NewClient creates a Redis client.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// New wraps client. log may be nil.
func New(client *redis.Client, opts Options, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{client: client, opts: opts.withDefaults(), log: log}
}

// Ping checks the connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) key(sessionID, suffix string) string {
	return c.opts.Prefix + "session:" + sessionID + ":" + suffix
}

// SetLatest stores the newest entry of a session with LatestTTL.
func (c *Cache) SetLatest(ctx context.Context, sessionID string, e record.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return c.client.Set(ctx, c.key(sessionID, "latest"), data, c.opts.LatestTTL).Err()
}

// Latest returns the newest cached entry of a session.
func (c *Cache) Latest(ctx context.Context, sessionID string) (record.Entry, error) {
	var e record.Entry
	err := c.getJSON(ctx, c.key(sessionID, "latest"), &e)
	return e, err
}

// SetSummary stores a session summary without expiry.
func (c *Cache) SetSummary(ctx context.Context, s record.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	return c.client.Set(ctx, c.key(s.SessionID, "summary"), data, 0).Err()
}

// Summary returns a cached session summary.
func (c *Cache) Summary(ctx context.Context, sessionID string) (record.Summary, error) {
	var s record.Summary
	err := c.getJSON(ctx, c.key(sessionID, "summary"), &s)
	return s, err
}

func (c *Cache) getJSON(ctx context.Context, key string, v any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// AddEvent appends an alignment event to the session's events stream.
func (c *Cache) AddEvent(ctx context.Context, sessionID string, ev posture.AlignmentEvent) (string, error) {
	return c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.key(sessionID, "events"),
		MaxLen: c.opts.StreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"ts_us":     strconv.FormatInt(ev.Timestamp, 10),
			"joint":     ev.JointID,
			"axis":      string(ev.Axis),
			"angle":     strconv.FormatFloat(ev.Angle, 'f', 3, 64),
			"deviation": strconv.FormatFloat(ev.Deviation, 'f', 3, 64),
			"from":      ev.From.String(),
			"to":        ev.To.String(),
		},
	}).Result()
}

// RecentEvents returns up to count events, newest first.
func (c *Cache) RecentEvents(ctx context.Context, sessionID string, count int64) ([]posture.AlignmentEvent, error) {
	msgs, err := c.client.XRevRangeN(ctx, c.key(sessionID, "events"), "+", "-", count).Result()
	if err != nil {
		return nil, err
	}
	out := make([]posture.AlignmentEvent, 0, len(msgs))
	for _, m := range msgs {
		ev, err := decodeEvent(m.Values)
		if err != nil {
			c.log.Warn("cache: skipping malformed event", zap.String("id", m.ID), zap.Error(err))
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func decodeEvent(v map[string]interface{}) (posture.AlignmentEvent, error) {
	str := func(k string) string {
		s, _ := v[k].(string)
		return s
	}
	var (
		ev  posture.AlignmentEvent
		err error
	)
	if ev.Timestamp, err = strconv.ParseInt(str("ts_us"), 10, 64); err != nil {
		return ev, err
	}
	ev.JointID = str("joint")
	ev.Axis = posture.Axis(str("axis"))
	if ev.Angle, err = strconv.ParseFloat(str("angle"), 64); err != nil {
		return ev, err
	}
	if ev.Deviation, err = strconv.ParseFloat(str("deviation"), 64); err != nil {
		return ev, err
	}
	if err := ev.From.UnmarshalText([]byte(str("from"))); err != nil {
		return ev, err
	}
	if err := ev.To.UnmarshalText([]byte(str("to"))); err != nil {
		return ev, err
	}
	return ev, nil
}

// Entry mirrors one record entry: the latest key and any events.
func (c *Cache) Entry(ctx context.Context, sessionID string, e record.Entry) error {
	if err := c.SetLatest(ctx, sessionID, e); err != nil {
		return err
	}
	for _, ev := range e.Events {
		if _, err := c.AddEvent(ctx, sessionID, ev); err != nil {
			return err
		}
	}
	return nil
}

// Forward mirrors every entry from sub until it closes or ctx is done.
// Redis errors are logged and do not stop forwarding.
func (c *Cache) Forward(ctx context.Context, sessionID string, sub *record.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := c.Entry(ctx, sessionID, e); err != nil {
				c.log.Warn("cache: write error", zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}
}
