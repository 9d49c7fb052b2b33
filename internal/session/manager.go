// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/relabs-tech/posture_computer/internal/record"
)

// Manager keeps independent sessions by id.
type Manager struct {
	ctx context.Context
	log *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a manager whose sessions live until ctx is done or
// they are ended.
func NewManager(ctx context.Context, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{ctx: ctx, log: log, sessions: make(map[string]*Session)}
}

// Start starts and registers a session.
func (m *Manager) Start(cfg Config) (*Session, error) {
	s, err := Start(m.ctx, cfg, m.log)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

// Get returns a running session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// IDs returns the registered session ids, sorted.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// End ends a session and unregisters it.
func (m *Manager) End(ctx context.Context, id string) (*record.Record, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.End(ctx)
}

// Shutdown ends every session.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	for _, id := range m.IDs() {
		if _, err := m.End(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
