// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/posture_computer/internal/cache"
	"github.com/relabs-tech/posture_computer/internal/config"
	"github.com/relabs-tech/posture_computer/internal/imu"
	"github.com/relabs-tech/posture_computer/internal/record"
	"github.com/relabs-tech/posture_computer/internal/session"
	"github.com/relabs-tech/posture_computer/internal/store"
	"github.com/relabs-tech/posture_computer/internal/transport/mqttbus"
	"github.com/relabs-tech/posture_computer/internal/web"
)

const (
	subscriptionBuffer = 1024
	endTimeout         = 10 * time.Second
)

// monitor runs sessions fed by raw frames from MQTT. Outputs go to MQTT
// and, when configured, Redis and SQLite.
type monitor struct {
	cfg    *config.Config
	scfg   session.Config
	log    *zap.Logger
	client mqttbus.Client
	topics mqttbus.Topics
	store  *store.Store
	cache  *cache.Cache
	mgr    *session.Manager

	current atomic.Pointer[session.Session]
}

// RunMonitor ingests raw frames from MQTT and publishes posture, events,
// load windows and the final summary until ctx is done.
func RunMonitor(ctx context.Context) error {
	return runMonitor(ctx, false)
}

// RunWeb is RunMonitor plus the HTTP API and websocket stream. A session
// ended through the API is archived and a new one starts.
func RunWeb(ctx context.Context) error {
	return runMonitor(ctx, true)
}

func runMonitor(ctx context.Context, serveWeb bool) error {
	cfg, err := mustConfig()
	if err != nil {
		return err
	}
	service := "posture-monitor"
	if serveWeb {
		service = "posture-web"
	}
	log := newLogger(cfg, service)
	defer log.Sync() //nolint:errcheck

	scfg, err := loadSession(cfg)
	if err != nil {
		return err
	}

	m := &monitor{
		cfg:  cfg,
		scfg: scfg,
		log:  log,
		topics: mqttbus.Topics{
			Raw:     cfg.TopicRaw,
			Posture: cfg.TopicPosture,
			Events:  cfg.TopicEvents,
			Windows: cfg.TopicWindows,
			Summary: cfg.TopicSummary,
		},
		mgr: session.NewManager(ctx, log),
	}

	if cfg.DBPath != "" {
		st, err := store.Open(cfg.DBPath, log)
		if err != nil {
			return err
		}
		defer st.Close()
		m.store = st
		log.Info("monitor: session store opened", zap.String("path", cfg.DBPath))
	}
	if cfg.RedisAddr != "" {
		c := cache.New(cache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), cache.Options{}, log)
		if err := c.Ping(ctx); err != nil {
			log.Warn("monitor: redis unavailable, cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			m.cache = c
		}
	}

	clientID := cfg.MQTTClientIDMonitor
	if serveWeb {
		clientID += "-web"
	}
	client, err := mqttbus.Connect(cfg.MQTTBroker, clientID, log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	m.client = client

	if serveWeb {
		srv := web.New(m.mgr, archiveOrNil(m.store), cfg.WebStaticDir, log)
		go func() {
			addr := ":" + strconv.Itoa(cfg.WebServerPort)
			if err := srv.ListenAndServe(ctx, addr); err != nil {
				log.Error("web: server stopped", zap.Error(err))
			}
		}()
	}

	if err := mqttbus.SubscribeRaw(client, m.topics.Raw, m.ingest, log); err != nil {
		return err
	}
	defer client.Unsubscribe(m.topics.Raw + "/+")

	for {
		if err := m.runSession(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil || !serveWeb {
			return nil
		}
	}
}

// archiveOrNil keeps a nil store from becoming a non-nil interface.
func archiveOrNil(st *store.Store) web.Archive {
	if st == nil {
		return nil
	}
	return st
}

// ingest stamps a raw sample with its arrival time and hands it to the
// current session.
func (m *monitor) ingest(raw imu.IMURaw) error {
	sess := m.current.Load()
	if sess == nil {
		return session.ErrEnded
	}
	return sess.IngestRawAt(raw, time.Now().UnixMicro())
}

// runSession runs one session until it ends or ctx is done, then archives
// it.
func (m *monitor) runSession(ctx context.Context) error {
	sess, err := m.mgr.Start(m.scfg)
	if err != nil {
		return err
	}
	m.current.Store(sess)
	log := m.log.With(zap.String("session_id", sess.ID()))

	pub := &mqttbus.Publisher{
		Client:    m.client,
		Topics:    m.topics,
		SessionID: sess.ID(),
		Period:    time.Duration(m.cfg.PublishPeriod) * time.Millisecond,
		Log:       log,
	}

	var wg sync.WaitGroup
	forward := func(name string, fn func(context.Context, *record.Subscription) error) {
		sub := sess.Record().Subscribe(subscriptionBuffer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(context.Background(), sub); err != nil {
				log.Warn("monitor: forwarder stopped", zap.String("sink", name), zap.Error(err))
			}
			if n := sub.Lagged(); n > 0 {
				log.Warn("monitor: forwarder lagged", zap.String("sink", name), zap.Uint64("dropped", n))
			}
		}()
	}
	forward("mqtt", pub.Forward)
	if m.cache != nil {
		forward("redis", func(ctx context.Context, sub *record.Subscription) error {
			return m.cache.Forward(ctx, sess.ID(), sub)
		})
	}

	select {
	case <-ctx.Done():
	case <-sess.Done():
	}
	m.current.CompareAndSwap(sess, nil)

	endCtx, cancel := context.WithTimeout(context.Background(), endTimeout)
	defer cancel()
	rec, err := sess.End(endCtx)
	if err != nil {
		return fmt.Errorf("end session %s: %w", sess.ID(), err)
	}
	// sessions ended through the API are already unregistered
	if _, err := m.mgr.End(endCtx, sess.ID()); err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}
	wg.Wait()

	sum := sess.Summary()
	m.archive(endCtx, pub, rec, sum, log)
	log.Info("monitor: session summary\n" + formatSummary(sum))
	return nil
}

// archive publishes and stores a finished session. Failures are logged.
func (m *monitor) archive(ctx context.Context, pub *mqttbus.Publisher, rec *record.Record, sum record.Summary, log *zap.Logger) {
	if err := pub.Summary(sum); err != nil {
		log.Warn("monitor: publish summary", zap.Error(err))
	}
	if m.cache != nil {
		if err := m.cache.SetSummary(ctx, sum); err != nil {
			log.Warn("monitor: cache summary", zap.Error(err))
		}
	}
	if m.store != nil {
		if err := m.store.SaveRecord(ctx, rec, sum, store.DefaultSamplePeriod); err != nil {
			log.Warn("monitor: store session", zap.Error(err))
		}
	}
}
