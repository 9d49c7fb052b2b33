// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/posture_computer/internal/load"
	"github.com/relabs-tech/posture_computer/internal/posture"
	"github.com/relabs-tech/posture_computer/internal/record"
)

// DefaultSamplePeriod is the downsample period used by SaveRecord.
const DefaultSamplePeriod = time.Second

// SessionRow is the stored header of a session.
type SessionRow struct {
	ID         string         `json:"session_id"`
	TemplateID string         `json:"template_id"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at"`
	Summary    record.Summary `json:"summary"`
}

// Sample is one stored downsampled entry.
type Sample struct {
	Timestamp int64        `json:"ts_us"`
	Entry     record.Entry `json:"entry"`
}

// SaveRecord stores a finalized record: its header and summary, every
// alignment event and load window, and the entries downsampled to period
// (DefaultSamplePeriod when zero). Saving the same session twice replaces
// the earlier copy.
func (s *Store) SaveRecord(ctx context.Context, rec *record.Record, sum record.Summary, period time.Duration) error {
	if !rec.Finalized() {
		return ErrNotFinalized
	}
	if period <= 0 {
		period = DefaultSamplePeriod
	}
	summaryJSON, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	events := rec.Events()
	windows := rec.SealedWindows()
	samples := rec.Downsample(period)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, rec.ID()); err != nil {
			return fmt.Errorf("replace session: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (
				session_id, template_id, started_at, ended_at, start_us, end_us,
				entries, alerts, total_reps, total_load, risk_index, summary_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID(), rec.TemplateID(), rec.StartedAt().UTC(), rec.EndedAt().UTC(), sum.Start, sum.End,
			sum.Entries, sum.Alerts, sum.TotalReps, sum.TotalLoad, sum.RiskIndex, string(summaryJSON),
		); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		evStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO alignment_events (session_id, ts_us, joint_id, axis, angle, deviation, from_severity, to_severity)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare events: %w", err)
		}
		defer evStmt.Close()
		for _, ev := range events {
			if _, err := evStmt.ExecContext(ctx, rec.ID(), ev.Timestamp, ev.JointID, string(ev.Axis), ev.Angle, ev.Deviation,
				ev.From.String(), ev.To.String()); err != nil {
				return fmt.Errorf("insert event: %w", err)
			}
		}

		winStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO load_windows (session_id, start_us, end_us, cumulative_load, peak_load, rep_count, truncated)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare windows: %w", err)
		}
		defer winStmt.Close()
		for _, w := range windows {
			if _, err := winStmt.ExecContext(ctx, rec.ID(), w.Start, w.End, w.CumulativeLoad, w.PeakLoad,
				w.RepCount, w.Truncated); err != nil {
				return fmt.Errorf("insert window: %w", err)
			}
		}

		sampleStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO posture_samples (session_id, seq, ts_us, total_load, entry_json)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare samples: %w", err)
		}
		defer sampleStmt.Close()
		for _, e := range samples {
			body, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal sample: %w", err)
			}
			if _, err := sampleStmt.ExecContext(ctx, rec.ID(), e.Seq, e.Timestamp, e.TotalLoad, string(body)); err != nil {
				return fmt.Errorf("insert sample: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("store: session saved",
		zap.String("session_id", rec.ID()),
		zap.Int("events", len(events)),
		zap.Int("windows", len(windows)),
		zap.Int("samples", len(samples)),
	)
	return nil
}

const sessionColumns = `session_id, template_id, started_at, ended_at, summary_json`

func scanSession(row interface{ Scan(...any) error }) (SessionRow, error) {
	var (
		r       SessionRow
		summary string
	)
	if err := row.Scan(&r.ID, &r.TemplateID, &r.StartedAt, &r.EndedAt, &summary); err != nil {
		return SessionRow{}, err
	}
	if err := json.Unmarshal([]byte(summary), &r.Summary); err != nil {
		return SessionRow{}, fmt.Errorf("decode summary of %s: %w", r.ID, err)
	}
	return r, nil
}

// Session returns one stored session.
func (s *Store) Session(ctx context.Context, id string) (SessionRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRow{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// Sessions lists stored sessions, newest first. limit <= 0 means all.
func (s *Store) Sessions(ctx context.Context, limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC, session_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events returns a session's alignment events in time order.
func (s *Store) Events(ctx context.Context, id string) ([]posture.AlignmentEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts_us, joint_id, axis, angle, deviation, from_severity, to_severity
		FROM alignment_events WHERE session_id = ? ORDER BY ts_us, rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []posture.AlignmentEvent
	for rows.Next() {
		var (
			ev             posture.AlignmentEvent
			axis, from, to string
		)
		if err := rows.Scan(&ev.Timestamp, &ev.JointID, &axis, &ev.Angle, &ev.Deviation, &from, &to); err != nil {
			return nil, err
		}
		ev.Axis = posture.Axis(axis)
		if err := ev.From.UnmarshalText([]byte(from)); err != nil {
			return nil, err
		}
		if err := ev.To.UnmarshalText([]byte(to)); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Windows returns a session's load windows ordered by start.
func (s *Store) Windows(ctx context.Context, id string) ([]load.Window, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT start_us, end_us, cumulative_load, peak_load, rep_count, truncated
		FROM load_windows WHERE session_id = ? ORDER BY start_us`, id)
	if err != nil {
		return nil, fmt.Errorf("query windows: %w", err)
	}
	defer rows.Close()

	var out []load.Window
	for rows.Next() {
		w := load.Window{Sealed: true}
		if err := rows.Scan(&w.Start, &w.End, &w.CumulativeLoad, &w.PeakLoad, &w.RepCount, &w.Truncated); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Samples returns a session's downsampled entries in time order.
func (s *Store) Samples(ctx context.Context, id string) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts_us, entry_json FROM posture_samples WHERE session_id = ? ORDER BY ts_us`, id)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var (
			sm   Sample
			body string
		)
		if err := rows.Scan(&sm.Timestamp, &body); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(body), &sm.Entry); err != nil {
			return nil, fmt.Errorf("decode sample: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// Delete removes a session and everything stored with it.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
