// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package timeline implements the per-(node, dimension) time series: a
// bounded LRU cache of time points over an optional durable store.
package timeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TemporalGrid/tg-backend/internal/storage"
	"github.com/TemporalGrid/tg-backend/pkg/lrucache"
	"github.com/TemporalGrid/tg-backend/pkg/schema"
)

const DefaultCacheCapacity = 1000

var ErrBadTimestamp = errors.New("bad timestamp")

// HistoryError wraps a storage failure surfaced through a timeline
// read, keeping the query context.
type HistoryError struct {
	Dimension string
	Err       error
}

func (e *HistoryError) Error() string {
	return fmt.Sprintf("history query on dimension '%s' failed: %v", e.Dimension, e.Err)
}

func (e *HistoryError) Unwrap() error { return e.Err }

// Timeline holds the cached points of one (node, dimension) series.
// When attached to a store, writes go through to it and reads fall back
// to it; evicted points stay durable. A timeline is created unattached
// and attached once its owner knows the store and tree id.
type Timeline struct {
	mu        sync.Mutex
	nodeID    string
	dimension string

	treeID string
	store  storage.Store

	cache *lrucache.Cache[int64, *schema.TimePoint]
}

func New(nodeID, dimension string, capacity int) *Timeline {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Timeline{
		nodeID:    nodeID,
		dimension: dimension,
		cache:     lrucache.New[int64, *schema.TimePoint](capacity, nil),
	}
}

// Attach enables write-through to store under treeID.
func (t *Timeline) Attach(store storage.Store, treeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.store = store
	t.treeID = treeID
}

func (t *Timeline) Dimension() string { return t.dimension }

func (t *Timeline) Attached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store != nil
}

// Len is the number of cached points, not the series length.
func (t *Timeline) Len() int {
	return t.cache.Len()
}

// AddTimePoint caches tp and, when attached, writes it through to the
// store. A storage failure is returned but does not revert the cache
// insert; the point then lives in the cache without durable backing.
func (t *Timeline) AddTimePoint(tp *schema.TimePoint) error {
	if tp.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrBadTimestamp)
	}

	t.mu.Lock()
	store, treeID := t.store, t.treeID
	t.mu.Unlock()

	t.cache.Put(tp.Timestamp.Millis(), tp)

	if store != nil {
		return store.SaveTimePoint(treeID, t.nodeID, t.dimension, tp)
	}
	return nil
}

// GetTimePoint returns the point exactly at ts, consulting the store on
// a cache miss and re-caching a hit. Returns nil when no point exists.
func (t *Timeline) GetTimePoint(ts time.Time) (*schema.TimePoint, error) {
	key := schema.TimeFrom(ts).Millis()
	if tp, ok := t.cache.Get(key); ok {
		return tp, nil
	}

	t.mu.Lock()
	store, treeID := t.store, t.treeID
	t.mu.Unlock()
	if store == nil {
		return nil, nil
	}

	at := schema.TimeFromMillis(key).Time
	points, err := store.GetTimePoints(treeID, t.nodeID, t.dimension, storage.TimeQuery{
		Start: &at, End: &at, Limit: 1,
	})
	if err != nil {
		return nil, &HistoryError{Dimension: t.dimension, Err: err}
	}
	if len(points) == 0 {
		return nil, nil
	}

	tp := points[0]
	t.cache.Put(key, tp)
	return tp, nil
}

// GetLatest returns the newest point with ts <= before (newest overall
// when before is nil). On an attached timeline the store is always
// consulted as well: the cache may have evicted a newer point, so the
// more recent of the two candidates wins.
func (t *Timeline) GetLatest(before *time.Time) (*schema.TimePoint, error) {
	var candidate *schema.TimePoint
	t.cache.Keys(func(_ int64, tp *schema.TimePoint) {
		if before != nil && tp.Timestamp.After(*before) {
			return
		}
		if candidate == nil || tp.Timestamp.After(candidate.Timestamp.Time) {
			candidate = tp
		}
	})

	t.mu.Lock()
	store, treeID := t.store, t.treeID
	t.mu.Unlock()

	if store != nil {
		stored, err := store.GetLatestTimePoint(treeID, t.nodeID, t.dimension, before)
		if err != nil {
			return nil, &HistoryError{Dimension: t.dimension, Err: err}
		}
		if stored != nil && (candidate == nil || stored.Timestamp.After(candidate.Timestamp.Time)) {
			candidate = stored
		}
	}

	if candidate == nil {
		return nil, nil
	}
	t.cache.Put(candidate.Timestamp.Millis(), candidate)
	return candidate, nil
}

// GetTimeRange returns the points in [start, end] ascending, at most
// limit when limit > 0. Attached timelines defer to the store (the
// range may exceed the cache) and re-cache what they see; unattached
// ones filter the cache.
func (t *Timeline) GetTimeRange(start, end *time.Time, limit int) ([]*schema.TimePoint, error) {
	t.mu.Lock()
	store, treeID := t.store, t.treeID
	t.mu.Unlock()

	if store != nil {
		points, err := store.GetTimePoints(treeID, t.nodeID, t.dimension, storage.TimeQuery{
			Start: start, End: end, Limit: limit,
		})
		if err != nil {
			return nil, &HistoryError{Dimension: t.dimension, Err: err}
		}
		for _, tp := range points {
			t.cache.Put(tp.Timestamp.Millis(), tp)
		}
		return points, nil
	}

	points := []*schema.TimePoint{}
	t.cache.Keys(func(_ int64, tp *schema.TimePoint) {
		if start != nil && tp.Timestamp.Before(*start) {
			return
		}
		if end != nil && tp.Timestamp.After(*end) {
			return
		}
		points = append(points, tp)
	})
	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp.Time)
	})
	if limit > 0 && len(points) > limit {
		points = points[:limit]
	}
	return points, nil
}

// DeleteBefore drops points strictly before the bound (all when nil)
// from cache and store. The store count is authoritative when attached.
func (t *Timeline) DeleteBefore(before *time.Time) (int, error) {
	var stale []int64
	t.cache.Keys(func(key int64, tp *schema.TimePoint) {
		if before == nil || tp.Timestamp.Before(*before) {
			stale = append(stale, key)
		}
	})
	for _, key := range stale {
		t.cache.Del(key)
	}
	cacheCount := len(stale)

	t.mu.Lock()
	store, treeID := t.store, t.treeID
	t.mu.Unlock()
	if store == nil {
		return cacheCount, nil
	}

	storeCount, err := store.DeleteTimePoints(treeID, t.nodeID, t.dimension, before)
	if err != nil {
		return 0, err
	}
	return max(storeCount, cacheCount), nil
}

// Export returns the cached points in ascending timestamp order.
func (t *Timeline) Export() []*schema.TimePoint {
	points := make([]*schema.TimePoint, 0, t.cache.Len())
	t.cache.Keys(func(_ int64, tp *schema.TimePoint) {
		points = append(points, tp.Clone())
	})
	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp.Time)
	})
	return points
}

// Restore rebuilds the cache from exported points. The LRU priorities
// of an earlier run are not recovered; points are touched in timestamp
// order.
func (t *Timeline) Restore(points []*schema.TimePoint) {
	ordered := make([]*schema.TimePoint, len(points))
	copy(ordered, points)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp.Time)
	})
	for _, tp := range ordered {
		t.cache.Put(tp.Timestamp.Millis(), tp.Clone())
	}
}
