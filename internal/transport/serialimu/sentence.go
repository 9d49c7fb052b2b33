// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package serialimu reads raw IMU samples from a serial bridge that emits
// proprietary NMEA sentences:
//
//	$PIMU,<sensor>,<ts_us>,<ax>,<ay>,<az>,<gx>,<gy>,<gz>[,<mx>,<my>,<mz>]*CS
//
// Counts are signed 16-bit LSB values as read from the sensor registers.
package serialimu

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/relabs-tech/posture_computer/internal/imu"
)

// TypePIMU is the data type of a $PIMU sentence once the proprietary
// "P" prefix is split off.
const TypePIMU = "IMU"

// PIMU is one parsed $PIMU sentence.
type PIMU struct {
	nmea.BaseSentence
	Raw imu.IMURaw
}

// newParser returns a sentence parser that understands $PIMU alongside
// the standard NMEA types.
func newParser() *nmea.SentenceParser {
	return &nmea.SentenceParser{
		CustomParsers: map[string]nmea.ParserFunc{
			TypePIMU:       parsePIMU,
			"P" + TypePIMU: parsePIMU,
		},
	}
}

func parsePIMU(s nmea.BaseSentence) (nmea.Sentence, error) {
	if n := len(s.Fields); n != 8 && n != 11 {
		return nil, fmt.Errorf("nmea: PIMU has %d fields, want 8 or 11", n)
	}
	p := nmea.NewParser(s)
	raw := imu.IMURaw{
		Source:    p.String(0, "sensor"),
		Timestamp: p.Int64(1, "timestamp"),
	}
	count := func(i int, name string) int16 {
		v := p.Int64(i, name)
		if v < math.MinInt16 || v > math.MaxInt16 {
			p.SetErr(name, s.Fields[i])
		}
		return int16(v)
	}
	raw.Ax, raw.Ay, raw.Az = count(2, "ax"), count(3, "ay"), count(4, "az")
	raw.Gx, raw.Gy, raw.Gz = count(5, "gx"), count(6, "gy"), count(7, "gz")
	if len(s.Fields) == 11 {
		raw.Mx, raw.My, raw.Mz = count(8, "mx"), count(9, "my"), count(10, "mz")
		raw.HasMag = true
	}
	if raw.Source == "" {
		p.SetErr("sensor", "")
	}
	return PIMU{BaseSentence: s, Raw: raw}, p.Err()
}

// Checksum is the NMEA XOR checksum of the text between '$' and '*'.
func Checksum(body string) string {
	var cs byte
	for i := 0; i < len(body); i++ {
		cs ^= body[i]
	}
	return fmt.Sprintf("%02X", cs)
}

// Encode formats a raw sample as a $PIMU sentence.
func Encode(raw imu.IMURaw) string {
	fields := []string{
		"PIMU",
		raw.Source,
		strconv.FormatInt(raw.Timestamp, 10),
	}
	counts := []int16{raw.Ax, raw.Ay, raw.Az, raw.Gx, raw.Gy, raw.Gz}
	if raw.HasMag {
		counts = append(counts, raw.Mx, raw.My, raw.Mz)
	}
	for _, c := range counts {
		fields = append(fields, strconv.Itoa(int(c)))
	}
	body := strings.Join(fields, ",")
	return "$" + body + "*" + Checksum(body)
}
