// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package storage defines the uniform persistence contract for trees,
// nodes and time points, and its three interchangeable backends:
// in-process maps, a single JSON document file and embedded SQLite.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/TemporalGrid/tg-backend/pkg/schema"
)

// TimeQuery bounds a range scan. Nil bounds are open; bounds are
// inclusive. Limit <= 0 means no limit.
type TimeQuery struct {
	Start *time.Time
	End   *time.Time
	Limit int
}

// TimeRange is the observed span of one (tree, node, dimension) series.
type TimeRange struct {
	Min   time.Time
	Max   time.Time
	Count int64
}

// Store is the contract every backend satisfies. Time-point writes are
// upserts on (tree, node, dimension, timestamp); a concurrent read
// observes the previous or the new tuple, never a torn state. Range
// reads return points in ascending timestamp order. DeleteTimePoints
// drops points strictly before the given bound (all when nil).
//
// A single logical writer per store is assumed; see the backend
// implementations for what concurrent readers may additionally do.
type Store interface {
	SaveTree(tree *schema.TreeRecord) error
	LoadTree(treeID string) (*schema.TreeRecord, error)
	// DeleteTree cascades to the tree's nodes and time points.
	DeleteTree(treeID string) error
	ListTrees() ([]string, error)

	SaveNode(treeID string, node *schema.NodeRecord) error
	LoadNode(treeID, nodeID string) (*schema.NodeRecord, error)
	DeleteNode(treeID, nodeID string) error
	ListNodes(treeID string) ([]*schema.NodeRecord, error)

	SaveTimePoint(treeID, nodeID, dimension string, tp *schema.TimePoint) error
	GetTimePoints(treeID, nodeID, dimension string, q TimeQuery) ([]*schema.TimePoint, error)
	// GetLatestTimePoint returns the newest point with ts <= before
	// (newest overall when before is nil), or nil without error when
	// the series is empty.
	GetLatestTimePoint(treeID, nodeID, dimension string, before *time.Time) (*schema.TimePoint, error)
	DeleteTimePoints(treeID, nodeID, dimension string, before *time.Time) (int, error)

	// GetDimensions lists the dimension names observed in stored time
	// points, for one node or (nodeID == "") the whole tree.
	GetDimensions(treeID, nodeID string) ([]string, error)
	// GetTimeRange returns nil when no points are stored.
	GetTimeRange(treeID, nodeID, dimension string) (*TimeRange, error)

	Backend() string
	Close() error
}

// Open builds a store of the given kind. rawConfig carries the
// backend-specific options (currently: path; for sqlite also
// busyTimeoutMs and slowQueryMs).
func Open(kind string, rawConfig json.RawMessage) (Store, error) {
	switch kind {
	case KindMemory:
		return NewMemoryStore(), nil
	case KindDocument:
		var cfg DocumentStoreConfig
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, wrap("open", KindDocument, err)
		}
		return NewDocumentStore(cfg)
	case KindSqlite:
		var cfg SqliteStoreConfig
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, wrap("open", KindSqlite, err)
		}
		return NewSqliteStore(cfg)
	default:
		return nil, fmt.Errorf("STORAGE/STORE > unknown storage backend '%s'", kind)
	}
}
