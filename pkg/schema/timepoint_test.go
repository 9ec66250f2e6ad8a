// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeMillisecondPrecision(t *testing.T) {
	fine := time.Date(2024, 1, 1, 8, 0, 0, 123456789, time.UTC)
	ts := TimeFrom(fine)

	assert.Equal(t, int64(123), ts.Millis()%1000, "sub-millisecond precision is dropped")

	raw, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, "1704096000123", string(raw))

	var back Time
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, ts.Millis(), back.Millis())
}

func TestTimeUnmarshalRejectsText(t *testing.T) {
	var ts Time
	assert.Error(t, json.Unmarshal([]byte(`"2024-01-01"`), &ts))
}

func TestTimePointJSON(t *testing.T) {
	tp := NewTimePoint(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), 1500.0, QualityNormal, "m³")

	raw, err := json.Marshal(tp)
	require.NoError(t, err)

	var decoded TimePoint
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, tp.Timestamp.Millis(), decoded.Timestamp.Millis())
	assert.Equal(t, QualityNormal, decoded.Quality)
	assert.Equal(t, "m³", decoded.Unit)
	value, ok := decoded.Float()
	require.True(t, ok)
	assert.Equal(t, 1500.0, value)
}

func TestQuality(t *testing.T) {
	assert.Equal(t, "normal", QualityNormal.String())
	assert.Equal(t, "missing", QualityMissing.String())
	assert.True(t, QualityEstimated.Valid())
	assert.False(t, Quality(7).Valid())
}

func TestTimePointCloneIsDeep(t *testing.T) {
	tp := NewTimePoint(time.Now(), 1.0, QualityNormal, "")
	tp.Extra = map[string]any{"source": "import"}

	cpy := tp.Clone()
	cpy.Extra["source"] = "edited"
	assert.Equal(t, "import", tp.Extra["source"])
}

func TestNodeRecordNormalize(t *testing.T) {
	record := &NodeRecord{
		NodeID: "n1",
		Tags:   []string{"b", "a"},
		Timelines: map[string][]*TimePoint{
			"metered": {
				NewTimePoint(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), 2.0, QualityNormal, ""),
				NewTimePoint(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 1.0, QualityNormal, ""),
			},
		},
	}
	record.Normalize()

	assert.Equal(t, []string{"a", "b"}, record.Tags)
	points := record.Timelines["metered"]
	assert.True(t, points[0].Timestamp.Before(points[1].Timestamp.Time))
}
