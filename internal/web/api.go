// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package web

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/relabs-tech/posture_computer/internal/record"
	"github.com/relabs-tech/posture_computer/internal/session"
	"github.com/relabs-tech/posture_computer/internal/store"
)

// LiveSession is the API view of a running session.
type LiveSession struct {
	ID         string          `json:"session_id"`
	TemplateID string          `json:"template_id"`
	Stats      session.Stats   `json:"stats"`
	Summary    *record.Summary `json:"summary,omitempty"`
}

// SessionList is the response of GET /api/sessions.
type SessionList struct {
	Live   []LiveSession      `json:"live"`
	Stored []store.SessionRow `json:"stored,omitempty"`
}

func live(sess *session.Session, withSummary bool) LiveSession {
	ls := LiveSession{
		ID:         sess.ID(),
		TemplateID: sess.Config().Template,
		Stats:      sess.Stats(),
	}
	if withSummary {
		sum := sess.Summary()
		ls.Summary = &sum
	}
	return ls
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	out := SessionList{Live: []LiveSession{}}
	for _, id := range s.sessions.IDs() {
		if sess, ok := s.sessions.Get(id); ok {
			out.Live = append(out.Live, live(sess, false))
		}
	}
	if s.archive != nil {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		rows, err := s.archive.Sessions(r.Context(), limit)
		if err != nil {
			s.log.Warn("web: list stored sessions", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "archive unavailable")
			return
		}
		out.Stored = rows
	}
	s.writeJSON(w, http.StatusOK, out)
}

// stored looks a session up in the archive, writing 404 or 500 on failure.
func (s *Server) stored(w http.ResponseWriter, r *http.Request, id string) (store.SessionRow, bool) {
	if s.archive == nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return store.SessionRow{}, false
	}
	row, err := s.archive.Session(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return store.SessionRow{}, false
	}
	if err != nil {
		s.log.Warn("web: archive lookup", zap.String("session_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "archive unavailable")
		return store.SessionRow{}, false
	}
	return row, true
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if sess, ok := s.sessions.Get(id); ok {
		s.writeJSON(w, http.StatusOK, live(sess, true))
		return
	}
	if row, ok := s.stored(w, r, id); ok {
		s.writeJSON(w, http.StatusOK, row)
	}
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	e, ok := sess.Record().Latest()
	if !ok {
		s.writeError(w, http.StatusServiceUnavailable, "no data yet")
		return
	}
	s.writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if sess, ok := s.sessions.Get(id); ok {
		s.writeJSON(w, http.StatusOK, sess.Record().Events())
		return
	}
	if _, ok := s.stored(w, r, id); !ok {
		return
	}
	evs, err := s.archive.Events(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if sess, ok := s.sessions.Get(id); ok {
		s.writeJSON(w, http.StatusOK, sess.Record().SealedWindows())
		return
	}
	if _, ok := s.stored(w, r, id); !ok {
		return
	}
	ws, err := s.archive.Windows(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, ws)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if sess, ok := s.sessions.Get(id); ok {
		s.writeJSON(w, http.StatusOK, sess.Summary())
		return
	}
	if row, ok := s.stored(w, r, id); ok {
		s.writeJSON(w, http.StatusOK, row.Summary)
	}
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.sessions.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	rec, err := s.sessions.End(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	sum := sess.Summary()
	if s.onEnd != nil {
		s.onEnd(r.Context(), rec, sum)
	}
	s.log.Info("web: session ended", zap.String("session_id", id), zap.Int("entries", sum.Entries))
	s.writeJSON(w, http.StatusOK, sum)
}
