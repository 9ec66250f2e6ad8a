// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/TemporalGrid/tg-backend/pkg/log"
	"github.com/TemporalGrid/tg-backend/pkg/schema"
)

const documentVersion = "1.0"

// tsKeyLayout keys time points inside the document; millisecond
// precision, always UTC.
const tsKeyLayout = "2006-01-02T15:04:05.000Z"

type DocumentStoreConfig struct {
	Path string `json:"path"`
}

type docPoint struct {
	Value    any                      `json:"value"`
	Metadata schema.TimePointMetadata `json:"metadata"`
}

type document struct {
	Version   string                                              `json:"version"`
	CreatedAt time.Time                                           `json:"createdAt"`
	Trees     map[string]*schema.TreeRecord                       `json:"trees"`
	Nodes     map[string]map[string]*schema.NodeRecord            `json:"nodes"`
	Series    map[string]map[string]map[string]map[string]docPoint `json:"time_series"`
}

func newDocument() *document {
	return &document{
		Version:   documentVersion,
		CreatedAt: time.Now().UTC(),
		Trees:     map[string]*schema.TreeRecord{},
		Nodes:     map[string]map[string]*schema.NodeRecord{},
		Series:    map[string]map[string]map[string]map[string]docPoint{},
	}
}

// DocumentStore persists everything as one human-readable JSON file.
// The whole document lives in memory and is rewritten on every
// mutation via a sidecar file and an atomic rename, so the on-disk file
// is never left partially written. Not safe for concurrent readers in
// separate processes; a single mutex serializes in-process access.
type DocumentStore struct {
	mu   sync.Mutex
	path string
	doc  *document
}

func NewDocumentStore(cfg DocumentStoreConfig) (*DocumentStore, error) {
	if cfg.Path == "" {
		return nil, wrap("open", KindDocument, fmt.Errorf("empty document path"))
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, wrap("open", KindDocument, err)
	}

	s := &DocumentStore{path: cfg.Path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the document from disk. A truncated or invalid file is
// moved aside to '<path>.bak' and replaced by a fresh empty document;
// logged, not fatal.
func (s *DocumentStore) load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.doc = newDocument()
		return nil
	}
	if err != nil {
		return wrap("open", KindDocument, err)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		s.doc = newDocument()
		return nil
	}

	doc := &document{}
	decodeErr := json.Unmarshal(raw, doc)
	if decodeErr == nil {
		decodeErr = schema.ValidateDocument(bytes.NewReader(raw))
	}
	if decodeErr != nil {
		backup := s.path + ".bak"
		if err := os.Rename(s.path, backup); err != nil {
			return wrap("open", KindDocument, err)
		}
		log.Warnf("document store file '%s' is corrupt (%v), moved to '%s' and starting fresh", s.path, decodeErr, backup)
		s.doc = newDocument()
		return nil
	}

	if doc.Trees == nil {
		doc.Trees = map[string]*schema.TreeRecord{}
	}
	if doc.Nodes == nil {
		doc.Nodes = map[string]map[string]*schema.NodeRecord{}
	}
	if doc.Series == nil {
		doc.Series = map[string]map[string]map[string]map[string]docPoint{}
	}
	s.doc = doc
	return nil
}

// persist writes the document to a sidecar and atomically replaces the
// store file.
func (s *DocumentStore) persist(op string) error {
	raw, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return wrap(op, KindDocument, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return wrap(op, KindDocument, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return wrap(op, KindDocument, err)
	}
	return nil
}

func (s *DocumentStore) Backend() string { return KindDocument }

func (s *DocumentStore) Close() error { return nil }

func (s *DocumentStore) SaveTree(tree *schema.TreeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Trees[tree.TreeID] = tree.Clone()
	return s.persist("save_tree")
}

func (s *DocumentStore) LoadTree(treeID string) (*schema.TreeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, ok := s.doc.Trees[treeID]
	if !ok {
		return nil, wrap("load_tree", KindDocument, ErrTreeNotFound)
	}
	return tree.Clone(), nil
}

func (s *DocumentStore) DeleteTree(treeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Trees[treeID]; !ok {
		return wrap("delete_tree", KindDocument, ErrTreeNotFound)
	}
	delete(s.doc.Trees, treeID)
	delete(s.doc.Nodes, treeID)
	delete(s.doc.Series, treeID)
	return s.persist("delete_tree")
}

func (s *DocumentStore) ListTrees() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.doc.Trees))
	for id := range s.doc.Trees {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *DocumentStore) SaveNode(treeID string, node *schema.NodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc.Nodes[treeID] == nil {
		s.doc.Nodes[treeID] = map[string]*schema.NodeRecord{}
	}
	record := node.Clone()
	record.Normalize()
	s.doc.Nodes[treeID][node.NodeID] = record
	return s.persist("save_node")
}

func (s *DocumentStore) LoadNode(treeID, nodeID string) (*schema.NodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.doc.Nodes[treeID][nodeID]
	if !ok {
		return nil, wrap("load_node", KindDocument, ErrNodeNotFound)
	}
	return node.Clone(), nil
}

func (s *DocumentStore) DeleteNode(treeID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Nodes[treeID][nodeID]; !ok {
		return wrap("delete_node", KindDocument, ErrNodeNotFound)
	}
	delete(s.doc.Nodes[treeID], nodeID)
	if byNode, ok := s.doc.Series[treeID]; ok {
		delete(byNode, nodeID)
	}
	return s.persist("delete_node")
}

func (s *DocumentStore) ListNodes(treeID string) ([]*schema.NodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]*schema.NodeRecord, 0, len(s.doc.Nodes[treeID]))
	for _, node := range s.doc.Nodes[treeID] {
		records = append(records, node.Clone())
	}
	sort.Slice(records, func(i, j int) bool { return records[i].NodeID < records[j].NodeID })
	return records, nil
}

func (s *DocumentStore) SaveTimePoint(treeID, nodeID, dimension string, tp *schema.TimePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byNode := s.doc.Series[treeID]
	if byNode == nil {
		byNode = map[string]map[string]map[string]docPoint{}
		s.doc.Series[treeID] = byNode
	}
	byDim := byNode[nodeID]
	if byDim == nil {
		byDim = map[string]map[string]docPoint{}
		byNode[nodeID] = byDim
	}
	points := byDim[dimension]
	if points == nil {
		points = map[string]docPoint{}
		byDim[dimension] = points
	}

	key := tp.Timestamp.UTC().Format(tsKeyLayout)
	points[key] = docPoint{Value: tp.Value, Metadata: tp.TimePointMetadata}
	return s.persist("save_time_point")
}

func (s *DocumentStore) points(treeID, nodeID, dimension string) ([]*schema.TimePoint, error) {
	stored := s.doc.Series[treeID][nodeID][dimension]
	result := make([]*schema.TimePoint, 0, len(stored))
	for key, dp := range stored {
		ts, err := time.Parse(tsKeyLayout, key)
		if err != nil {
			return nil, fmt.Errorf("bad timestamp key '%s': %w", key, err)
		}
		result = append(result, &schema.TimePoint{
			Timestamp:         schema.TimeFrom(ts),
			Value:             dp.Value,
			TimePointMetadata: dp.Metadata,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp.Time)
	})
	return result, nil
}

func (s *DocumentStore) GetTimePoints(treeID, nodeID, dimension string, q TimeQuery) ([]*schema.TimePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.points(treeID, nodeID, dimension)
	if err != nil {
		return nil, wrap("get_time_points", KindDocument, err)
	}

	result := make([]*schema.TimePoint, 0, len(all))
	for _, tp := range all {
		if q.Start != nil && tp.Timestamp.Before(*q.Start) {
			continue
		}
		if q.End != nil && tp.Timestamp.After(*q.End) {
			continue
		}
		result = append(result, tp)
		if q.Limit > 0 && len(result) == q.Limit {
			break
		}
	}
	return result, nil
}

func (s *DocumentStore) GetLatestTimePoint(treeID, nodeID, dimension string, before *time.Time) (*schema.TimePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.points(treeID, nodeID, dimension)
	if err != nil {
		return nil, wrap("get_latest_time_point", KindDocument, err)
	}

	for i := len(all) - 1; i >= 0; i-- {
		if before == nil || !all[i].Timestamp.After(*before) {
			return all[i], nil
		}
	}
	return nil, nil
}

func (s *DocumentStore) DeleteTimePoints(treeID, nodeID, dimension string, before *time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	points := s.doc.Series[treeID][nodeID][dimension]
	count := 0
	for key := range points {
		ts, err := time.Parse(tsKeyLayout, key)
		if err != nil {
			return 0, wrap("delete_time_points", KindDocument, err)
		}
		if before == nil || ts.Before(*before) {
			delete(points, key)
			count++
		}
	}
	if len(points) == 0 {
		delete(s.doc.Series[treeID][nodeID], dimension)
	}

	if count > 0 {
		if err := s.persist("delete_time_points"); err != nil {
			return 0, err
		}
	}
	return count, nil
}

func (s *DocumentStore) GetDimensions(treeID, nodeID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]struct{}{}
	for id, byDim := range s.doc.Series[treeID] {
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

func (s *DocumentStore) GetTimeRange(treeID, nodeID, dimension string) (*TimeRange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.points(treeID, nodeID, dimension)
	if err != nil {
		return nil, wrap("get_time_range", KindDocument, err)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return &TimeRange{
		Min:   all[0].Timestamp.Time,
		Max:   all[len(all)-1].Timestamp.Time,
		Count: int64(len(all)),
	}, nil
}
