// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package serialimu

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/relabs-tech/posture_computer/internal/imu"
)

// Stats counts what a Reader saw.
type Stats struct {
	Lines    uint64 // non-empty lines starting with '$'
	Samples  uint64 // delivered to the sink
	Invalid  uint64 // checksum or field errors
	Ignored  uint64 // valid NMEA that is not $PIMU
	Rejected uint64 // sink returned an error
}

// Reader turns a byte stream of sentences into raw samples.
type Reader struct {
	parser *nmea.SentenceParser
	log    *zap.Logger
	stats  Stats
}

// NewReader returns a Reader. log may be nil.
func NewReader(log *zap.Logger) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reader{parser: newParser(), log: log}
}

// Stats returns the counters so far. Not safe to call concurrently with Run.
func (r *Reader) Stats() Stats { return r.stats }

// ParseLine parses one sentence. ok is false for lines that carry no
// sample; err is set when the line was malformed.
func (r *Reader) ParseLine(line string) (raw imu.IMURaw, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "$") {
		return imu.IMURaw{}, false, nil
	}
	r.stats.Lines++
	s, err := r.parser.Parse(line)
	if err != nil {
		var unsupported *nmea.NotSupportedError
		if errors.As(err, &unsupported) {
			r.stats.Ignored++
			return imu.IMURaw{}, false, nil
		}
		r.stats.Invalid++
		return imu.IMURaw{}, false, err
	}
	m, isIMU := s.(PIMU)
	if !isIMU {
		r.stats.Ignored++
		return imu.IMURaw{}, false, nil
	}
	return m.Raw, true, nil
}

// Run reads lines from src until EOF, a read error, or ctx is done, and
// hands each sample to sink. Malformed lines are counted and skipped.
// EOF returns nil.
func (r *Reader) Run(ctx context.Context, src io.Reader, sink func(imu.IMURaw) error) error {
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, ok, err := r.ParseLine(scanner.Text())
		if err != nil {
			r.log.Debug("serial: parse error", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if err := sink(raw); err != nil {
			r.stats.Rejected++
			r.log.Debug("serial: sample rejected", zap.String("sensor", raw.Source), zap.Error(err))
			continue
		}
		r.stats.Samples++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("serial read: %w", err)
	}
	return nil
}

// Open opens a serial port in 8N1 mode.
func Open(port string, baud int) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:              port,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	p, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", port, err)
	}
	return p, nil
}
