// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relabs-tech/posture_computer/internal/record"
)

const (
	writeWait        = 5 * time.Second
	streamBufferSize = 256
)

// StreamMessage is one websocket frame.
type StreamMessage struct {
	Type    string          `json:"type"` // entry, end
	Entry   *record.Entry   `json:"entry,omitempty"`
	Summary *record.Summary `json:"summary,omitempty"`
	Lagged  uint64          `json:"lagged,omitempty"` // entries this client missed so far
}

// handleStream streams a live session's entries. ?since=<seq> replays the
// entries after seq first. The stream ends with an "end" message carrying
// the summary once the session is finalized.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.sessions.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	since, _ := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("web: websocket upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	log := s.log.With(zap.String("session_id", id), zap.String("remote", r.RemoteAddr))
	log.Debug("web: stream opened")

	// subscribe before replaying so nothing falls between the two
	sub := sess.Record().Subscribe(streamBufferSize)
	defer sub.Close()

	send := func(m StreamMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(m)
	}

	last := since
	if since > 0 {
		for _, e := range sess.Record().Since(since) {
			if err := send(StreamMessage{Type: "entry", Entry: &e}); err != nil {
				return
			}
			last = e.Seq
		}
	}

	// reader: the client never sends data, but reading is needed to see
	// close frames
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			log.Debug("web: stream closed by client")
			return
		case e, ok := <-sub.C:
			if !ok {
				sum := sess.Summary()
				_ = send(StreamMessage{Type: "end", Summary: &sum})
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
					time.Now().Add(writeWait))
				return
			}
			if e.Seq <= last {
				continue
			}
			last = e.Seq
			if err := send(StreamMessage{Type: "entry", Entry: &e, Lagged: sub.Lagged()}); err != nil {
				log.Debug("web: stream write error", zap.Error(err))
				return
			}
		}
	}
}
