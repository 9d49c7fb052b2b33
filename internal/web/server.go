// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package web serves live and stored sessions over a JSON API and streams
// live session records over websockets.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relabs-tech/posture_computer/internal/load"
	"github.com/relabs-tech/posture_computer/internal/posture"
	"github.com/relabs-tech/posture_computer/internal/record"
	"github.com/relabs-tech/posture_computer/internal/session"
	"github.com/relabs-tech/posture_computer/internal/store"
)

// Archive is the read side of the session store.
type Archive interface {
	Session(ctx context.Context, id string) (store.SessionRow, error)
	Sessions(ctx context.Context, limit int) ([]store.SessionRow, error)
	Events(ctx context.Context, id string) ([]posture.AlignmentEvent, error)
	Windows(ctx context.Context, id string) ([]load.Window, error)
}

// EndFunc is called after a session is ended through the API.
type EndFunc func(ctx context.Context, rec *record.Record, sum record.Summary)

// Server routes the API. The zero value is not usable; use New.
type Server struct {
	sessions *session.Manager
	archive  Archive
	onEnd    EndFunc
	log      *zap.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New builds a server over live sessions and an optional archive. staticDir,
// when set, is served at /.
func New(sessions *session.Manager, archive Archive, staticDir string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		sessions: sessions,
		archive:  archive,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // allow all origins for local development
			},
		},
		mux: http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /api/sessions", s.handleList)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleSession)
	s.mux.HandleFunc("GET /api/sessions/{id}/latest", s.handleLatest)
	s.mux.HandleFunc("GET /api/sessions/{id}/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/sessions/{id}/windows", s.handleWindows)
	s.mux.HandleFunc("GET /api/sessions/{id}/summary", s.handleSummary)
	s.mux.HandleFunc("POST /api/sessions/{id}/end", s.handleEnd)
	s.mux.HandleFunc("GET /ws/sessions/{id}", s.handleStream)
	if staticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return s
}

// OnEnd registers fn to run after an API-initiated End.
func (s *Server) OnEnd(fn EndFunc) { s.onEnd = fn }

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("web: listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("web: json encode error", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
