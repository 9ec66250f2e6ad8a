// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/TemporalGrid/tg-backend/pkg/schema"
)

// MemoryStore keeps everything in nested in-process maps. Records are
// deep-copied on the way in and out so callers cannot alias stored
// state. Concurrent readers are safe (RWMutex); lifetime equals the
// process.
type MemoryStore struct {
	mu    sync.RWMutex
	trees map[string]*schema.TreeRecord
	nodes map[string]map[string]*schema.NodeRecord
	// series: tree -> node -> dimension -> unix-ms -> point
	series map[string]map[string]map[string]map[int64]*schema.TimePoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trees:  map[string]*schema.TreeRecord{},
		nodes:  map[string]map[string]*schema.NodeRecord{},
		series: map[string]map[string]map[string]map[int64]*schema.TimePoint{},
	}
}

func (s *MemoryStore) Backend() string { return KindMemory }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) SaveTree(tree *schema.TreeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trees[tree.TreeID] = tree.Clone()
	return nil
}

func (s *MemoryStore) LoadTree(treeID string) (*schema.TreeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tree, ok := s.trees[treeID]
	if !ok {
		return nil, wrap("load_tree", KindMemory, ErrTreeNotFound)
	}
	return tree.Clone(), nil
}

func (s *MemoryStore) DeleteTree(treeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trees[treeID]; !ok {
		return wrap("delete_tree", KindMemory, ErrTreeNotFound)
	}
	delete(s.trees, treeID)
	delete(s.nodes, treeID)
	delete(s.series, treeID)
	return nil
}

func (s *MemoryStore) ListTrees() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.trees))
	for id := range s.trees {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) SaveNode(treeID string, node *schema.NodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nodes[treeID] == nil {
		s.nodes[treeID] = map[string]*schema.NodeRecord{}
	}
	s.nodes[treeID][node.NodeID] = node.Clone()
	return nil
}

func (s *MemoryStore) LoadNode(treeID, nodeID string) (*schema.NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[treeID][nodeID]
	if !ok {
		return nil, wrap("load_node", KindMemory, ErrNodeNotFound)
	}
	return node.Clone(), nil
}

func (s *MemoryStore) DeleteNode(treeID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[treeID][nodeID]; !ok {
		return wrap("delete_node", KindMemory, ErrNodeNotFound)
	}
	delete(s.nodes[treeID], nodeID)
	if byNode, ok := s.series[treeID]; ok {
		delete(byNode, nodeID)
	}
	return nil
}

func (s *MemoryStore) ListNodes(treeID string) ([]*schema.NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*schema.NodeRecord, 0, len(s.nodes[treeID]))
	for _, node := range s.nodes[treeID] {
		records = append(records, node.Clone())
	}
	sort.Slice(records, func(i, j int) bool { return records[i].NodeID < records[j].NodeID })
	return records, nil
}

func (s *MemoryStore) SaveTimePoint(treeID, nodeID, dimension string, tp *schema.TimePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byNode := s.series[treeID]
	if byNode == nil {
		byNode = map[string]map[string]map[int64]*schema.TimePoint{}
		s.series[treeID] = byNode
	}
	byDim := byNode[nodeID]
	if byDim == nil {
		byDim = map[string]map[int64]*schema.TimePoint{}
		byNode[nodeID] = byDim
	}
	points := byDim[dimension]
	if points == nil {
		points = map[int64]*schema.TimePoint{}
		byDim[dimension] = points
	}

	points[tp.Timestamp.Millis()] = tp.Clone()
	return nil
}

func (s *MemoryStore) GetTimePoints(treeID, nodeID, dimension string, q TimeQuery) ([]*schema.TimePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.series[treeID][nodeID][dimension]
	result := make([]*schema.TimePoint, 0, len(points))
	for _, tp := range points {
		if q.Start != nil && tp.Timestamp.Before(*q.Start) {
			continue
		}
		if q.End != nil && tp.Timestamp.After(*q.End) {
			continue
		}
		result = append(result, tp.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp.Time)
	})
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (s *MemoryStore) GetLatestTimePoint(treeID, nodeID, dimension string, before *time.Time) (*schema.TimePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *schema.TimePoint
	for _, tp := range s.series[treeID][nodeID][dimension] {
		if before != nil && tp.Timestamp.After(*before) {
			continue
		}
		if latest == nil || tp.Timestamp.After(latest.Timestamp.Time) {
			latest = tp
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Clone(), nil
}

func (s *MemoryStore) DeleteTimePoints(treeID, nodeID, dimension string, before *time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	points := s.series[treeID][nodeID][dimension]
	count := 0
	for ms, tp := range points {
		if before == nil || tp.Timestamp.Before(*before) {
			delete(points, ms)
			count++
		}
	}
	if len(points) == 0 {
		delete(s.series[treeID][nodeID], dimension)
	}
	return count, nil
}

func (s *MemoryStore) GetDimensions(treeID, nodeID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]struct{}{}
	for id, byDim := range s.series[treeID] {
		if nodeID != "" && id != nodeID {
			continue
		}
		for dim, points := range byDim {
			if len(points) > 0 {
				seen[dim] = struct{}{}
			}
		}
	}

	dims := make([]string, 0, len(seen))
	for dim := range seen {
		dims = append(dims, dim)
	}
	sort.Strings(dims)
	return dims, nil
}

func (s *MemoryStore) GetTimeRange(treeID, nodeID, dimension string) (*TimeRange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.series[treeID][nodeID][dimension]
	if len(points) == 0 {
		return nil, nil
	}

	tr := &TimeRange{Count: int64(len(points))}
	first := true
	for _, tp := range points {
		ts := tp.Timestamp.Time
		if first {
			tr.Min, tr.Max = ts, ts
			first = false
			continue
		}
		if ts.Before(tr.Min) {
			tr.Min = ts
		}
		if ts.After(tr.Max) {
			tr.Max = ts
		}
	}
	return tr, nil
}
