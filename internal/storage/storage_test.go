// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/TemporalGrid/tg-backend/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Every backend has to pass the identical contract suite.
func testStores(t *testing.T) map[string]Store {
	doc, err := NewDocumentStore(DocumentStoreConfig{
		Path: filepath.Join(t.TempDir(), "store.json"),
	})
	require.NoError(t, err)

	sql, err := NewSqliteStore(SqliteStoreConfig{
		Path: filepath.Join(t.TempDir(), "store.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { sql.Close() })

	return map[string]Store{
		KindMemory:   NewMemoryStore(),
		KindDocument: doc,
		KindSqlite:   sql,
	}
}

func forEachStore(t *testing.T, run func(t *testing.T, store Store)) {
	for kind, store := range testStores(t) {
		t.Run(kind, func(t *testing.T) {
			run(t, store)
		})
	}
}

func ts(day int) time.Time {
	return time.Date(2024, 1, day, 8, 0, 0, 0, time.UTC)
}

func point(day int, value float64) *schema.TimePoint {
	return schema.NewTimePoint(ts(day), value, schema.QualityNormal, "m³")
}

func TestTreeRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		tree := &schema.TreeRecord{
			TreeID:     "t1",
			Name:       "network",
			CreatedAt:  ts(1),
			RootNodeID: "n1",
		}
		require.NoError(t, store.SaveTree(tree))

		loaded, err := store.LoadTree("t1")
		require.NoError(t, err)
		assert.Equal(t, "network", loaded.Name)
		assert.Equal(t, "n1", loaded.RootNodeID)

		trees, err := store.ListTrees()
		require.NoError(t, err)
		assert.Equal(t, []string{"t1"}, trees)

		_, err = store.LoadTree("missing")
		assert.True(t, errors.Is(err, ErrTreeNotFound))

		var storageErr *Error
		require.ErrorAs(t, err, &storageErr)
		assert.Equal(t, "load_tree", storageErr.Op)
		assert.Equal(t, store.Backend(), storageErr.Backend)
	})
}

func TestNodeRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		require.NoError(t, store.SaveTree(&schema.TreeRecord{TreeID: "t1", CreatedAt: ts(1)}))

		node := &schema.NodeRecord{
			NodeID:    "n1",
			Address:   "10.0.0.0",
			Name:      "root",
			Tags:      []string{"region", "active"},
			CreatedAt: ts(1),
			IsActive:  true,
		}
		require.NoError(t, store.SaveNode("t1", node))

		loaded, err := store.LoadNode("t1", "n1")
		require.NoError(t, err)
		assert.Equal(t, "root", loaded.Name)
		assert.Equal(t, "10.0.0.0", loaded.Address)
		assert.True(t, loaded.IsActive)

		nodes, err := store.ListNodes("t1")
		require.NoError(t, err)
		require.Len(t, nodes, 1)

		_, err = store.LoadNode("t1", "missing")
		assert.True(t, errors.Is(err, ErrNodeNotFound))

		require.NoError(t, store.DeleteNode("t1", "n1"))
		_, err = store.LoadNode("t1", "n1")
		assert.Error(t, err)
	})
}

func TestUpsertUniqueness(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		require.NoError(t, store.SaveTimePoint("t1", "n1", "metered", point(1, 1500.0)))
		require.NoError(t, store.SaveTimePoint("t1", "n1", "metered", point(1, 1600.0)))

		points, err := store.GetTimePoints("t1", "n1", "metered", TimeQuery{})
		require.NoError(t, err)
		require.Len(t, points, 1, "upsert must leave exactly one entry")

		value, ok := points[0].Float()
		require.True(t, ok)
		assert.Equal(t, 1600.0, value)
	})
}

func TestRangeMonotonicity(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		for _, day := range []int{5, 2, 9, 1, 7} {
			require.NoError(t, store.SaveTimePoint("t1", "n1", "metered", point(day, float64(day))))
		}

		start, end := ts(2), ts(7)
		points, err := store.GetTimePoints("t1", "n1", "metered", TimeQuery{Start: &start, End: &end})
		require.NoError(t, err)
		require.Len(t, points, 3)

		for i := 1; i < len(points); i++ {
			assert.True(t, points[i-1].Timestamp.Before(points[i].Timestamp.Time),
				"timestamps must ascend strictly")
		}
		for _, tp := range points {
			assert.False(t, tp.Timestamp.Before(start))
			assert.False(t, tp.Timestamp.After(end))
		}

		// inclusive bounds
		value, ok := points[0].Float()
		require.True(t, ok)
		assert.Equal(t, 2.0, value)

		limited, err := store.GetTimePoints("t1", "n1", "metered", TimeQuery{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})
}

func TestGetLatest(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		for day := 1; day <= 4; day++ {
			require.NoError(t, store.SaveTimePoint("t1", "n1", "metered", point(day, float64(day))))
		}

		latest, err := store.GetLatestTimePoint("t1", "n1", "metered", nil)
		require.NoError(t, err)
		require.NotNil(t, latest)
		value, _ := latest.Float()
		assert.Equal(t, 4.0, value)

		before := ts(2)
		latest, err = store.GetLatestTimePoint("t1", "n1", "metered", &before)
		require.NoError(t, err)
		require.NotNil(t, latest)
		value, _ = latest.Float()
		assert.Equal(t, 2.0, value, "bound is inclusive")

		tooEarly := ts(1).Add(-time.Hour)
		latest, err = store.GetLatestTimePoint("t1", "n1", "metered", &tooEarly)
		require.NoError(t, err)
		assert.Nil(t, latest)
	})
}

// The delete bound is exclusive: ts < before stays deleted, ts == before
// survives.
func TestDeleteBeforeBoundary(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		for day := 1; day <= 4; day++ {
			require.NoError(t, store.SaveTimePoint("t1", "n1", "metered", point(day, float64(day))))
		}

		before := ts(3)
		count, err := store.DeleteTimePoints("t1", "n1", "metered", &before)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		points, err := store.GetTimePoints("t1", "n1", "metered", TimeQuery{})
		require.NoError(t, err)
		require.Len(t, points, 2)
		assert.Equal(t, ts(3).UnixMilli(), points[0].Timestamp.Millis(),
			"point at the bound must survive")

		count, err = store.DeleteTimePoints("t1", "n1", "metered", nil)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		tr, err := store.GetTimeRange("t1", "n1", "metered")
		require.NoError(t, err)
		assert.Nil(t, tr, "empty series must report no range")
	})
}

func TestDiscovery(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		require.NoError(t, store.SaveTimePoint("t1", "n1", "metered", point(1, 1.0)))
		require.NoError(t, store.SaveTimePoint("t1", "n1", "reference", point(1, 2.0)))
		require.NoError(t, store.SaveTimePoint("t1", "n2", "pressure", point(2, 3.0)))

		dims, err := store.GetDimensions("t1", "n1")
		require.NoError(t, err)
		assert.Equal(t, []string{"metered", "reference"}, dims)

		dims, err = store.GetDimensions("t1", "")
		require.NoError(t, err)
		assert.Equal(t, []string{"metered", "pressure", "reference"}, dims)

		tr, err := store.GetTimeRange("t1", "n1", "metered")
		require.NoError(t, err)
		require.NotNil(t, tr)
		assert.Equal(t, ts(1).UnixMilli(), tr.Min.UnixMilli())
		assert.Equal(t, ts(1).UnixMilli(), tr.Max.UnixMilli())
		assert.Equal(t, int64(1), tr.Count)

		require.NoError(t, store.SaveTimePoint("t1", "n1", "metered", point(9, 9.0)))
		tr, err = store.GetTimeRange("t1", "n1", "metered")
		require.NoError(t, err)
		require.NotNil(t, tr)
		assert.Equal(t, ts(9).UnixMilli(), tr.Max.UnixMilli())
		assert.Equal(t, int64(2), tr.Count)
	})
}

func TestDeleteTreeCascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		require.NoError(t, store.SaveTree(&schema.TreeRecord{TreeID: "t1", CreatedAt: ts(1)}))
		require.NoError(t, store.SaveNode("t1", &schema.NodeRecord{NodeID: "n1", CreatedAt: ts(1)}))
		require.NoError(t, store.SaveTimePoint("t1", "n1", "metered", point(1, 1.0)))

		require.NoError(t, store.DeleteTree("t1"))

		_, err := store.LoadTree("t1")
		assert.Error(t, err)
		_, err = store.LoadNode("t1", "n1")
		assert.Error(t, err)

		points, err := store.GetTimePoints("t1", "n1", "metered", TimeQuery{})
		require.NoError(t, err)
		assert.Empty(t, points)

		dims, err := store.GetDimensions("t1", "")
		require.NoError(t, err)
		assert.Empty(t, dims)
	})
}

// Scenario: the same write sequence against every backend has to
// produce identical read results.
func TestContractUniformity(t *testing.T) {
	type result struct {
		series  []string
		latest  string
		dims    []string
		deleted int
	}

	results := map[string]result{}
	for kind, store := range testStores(t) {
		for day := 1; day <= 5; day++ {
			require.NoError(t, store.SaveTimePoint("t1", "n1", "metered", point(day, float64(day*100))))
		}
		require.NoError(t, store.SaveTimePoint("t1", "n1", "metered", point(3, 42.0)))
		require.NoError(t, store.SaveTimePoint("t1", "n1", "reference", point(1, 1.0)))

		before := ts(2)
		deleted, err := store.DeleteTimePoints("t1", "n1", "metered", &before)
		require.NoError(t, err)

		points, err := store.GetTimePoints("t1", "n1", "metered", TimeQuery{})
		require.NoError(t, err)
		series := make([]string, len(points))
		for i, tp := range points {
			value, _ := tp.Float()
			series[i] = fmt.Sprintf("%d:%.1f:%d", tp.Timestamp.Millis(), value, tp.Quality)
		}

		latest, err := store.GetLatestTimePoint("t1", "n1", "metered", nil)
		require.NoError(t, err)
		value, _ := latest.Float()

		dims, err := store.GetDimensions("t1", "")
		require.NoError(t, err)

		results[kind] = result{
			series:  series,
			latest:  fmt.Sprintf("%d:%.1f", latest.Timestamp.Millis(), value),
			dims:    dims,
			deleted: deleted,
		}
	}

	reference := results[KindMemory]
	for kind, got := range results {
		assert.Equal(t, reference, got, "backend %s diverges from the contract", kind)
	}
}

func TestOpenFactory(t *testing.T) {
	store, err := Open(KindMemory, nil)
	require.NoError(t, err)
	assert.Equal(t, KindMemory, store.Backend())

	raw := []byte(fmt.Sprintf(`{"path": %q}`, filepath.Join(t.TempDir(), "f.json")))
	store, err = Open(KindDocument, raw)
	require.NoError(t, err)
	assert.Equal(t, KindDocument, store.Backend())

	raw = []byte(fmt.Sprintf(`{"path": %q}`, filepath.Join(t.TempDir(), "f.db")))
	store, err = Open(KindSqlite, raw)
	require.NoError(t, err)
	assert.Equal(t, KindSqlite, store.Backend())
	store.Close()

	_, err = Open("cloud", nil)
	assert.Error(t, err)
}
