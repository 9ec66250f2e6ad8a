// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"fmt"
	"strconv"
	"time"
)

// Quality grades a stored value.
type Quality int

const (
	QualityInvalid   Quality = 0
	QualityNormal    Quality = 1
	QualityEstimated Quality = 2
	QualityMissing   Quality = 3
)

func (q Quality) Valid() bool {
	return q >= QualityInvalid && q <= QualityMissing
}

func (q Quality) String() string {
	switch q {
	case QualityInvalid:
		return "invalid"
	case QualityNormal:
		return "normal"
	case QualityEstimated:
		return "estimated"
	case QualityMissing:
		return "missing"
	default:
		return fmt.Sprintf("quality(%d)", int(q))
	}
}

// Time is a point in time with millisecond precision. It marshals to a
// 64-bit integer of milliseconds since the Unix epoch, the identity
// representation used on the wire and on disk.
type Time struct {
	time.Time
}

// TimeFrom truncates t to millisecond precision.
func TimeFrom(t time.Time) Time {
	return Time{t.Truncate(time.Millisecond)}
}

func TimeFromMillis(ms int64) Time {
	return Time{time.UnixMilli(ms).UTC()}
}

func (t Time) Millis() int64 {
	return t.UnixMilli()
}

func (t Time) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, t.UnixMilli(), 10), nil
}

func (t *Time) UnmarshalJSON(data []byte) error {
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp must be integer milliseconds: %w", err)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

// TimePointMetadata is the compact per-point payload next to the value.
// Extra is a free-form extension point and is usually nil.
type TimePointMetadata struct {
	Quality   Quality        `json:"quality"`
	Unit      string         `json:"unit,omitempty"`
	CreatedAt Time           `json:"createdAt"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// TimePoint is the atom of the time-series store, uniquely keyed by
// (tree, node, dimension, timestamp). Value is a float64 for numeric
// dimensions and a string for enumerated ones.
type TimePoint struct {
	Timestamp Time `json:"timestamp"`
	Value     any  `json:"value"`
	TimePointMetadata
}

func NewTimePoint(ts time.Time, value any, quality Quality, unit string) *TimePoint {
	return &TimePoint{
		Timestamp: TimeFrom(ts),
		Value:     value,
		TimePointMetadata: TimePointMetadata{
			Quality:   quality,
			Unit:      unit,
			CreatedAt: TimeFrom(time.Now()),
		},
	}
}

func (tp *TimePoint) Clone() *TimePoint {
	cpy := *tp
	if tp.Extra != nil {
		cpy.Extra = make(map[string]any, len(tp.Extra))
		for k, v := range tp.Extra {
			cpy.Extra[k] = v
		}
	}
	return &cpy
}

// Float returns the value as float64. JSON decoding hands back float64
// for numbers already; integer writes from Go code are widened here.
func (tp *TimePoint) Float() (float64, bool) {
	switch v := tp.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
