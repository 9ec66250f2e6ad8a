// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package tree

import (
	"fmt"
	"time"

	"github.com/TemporalGrid/tg-backend/internal/storage"
	"github.com/TemporalGrid/tg-backend/pkg/schema"
)

// A snapshot is an immutable deep dump of the tree's node state at a
// moment, identified by a generated id. It reuses the tree record form
// and is persisted through the same storage adapter, so every backend
// can hold snapshots next to the live tree.

const snapshotKey = "snapshot_of"

// Snapshot dumps the current node state (with cached timeline data when
// includeData is set) under a fresh snapshot id and persists it.
// Returns the snapshot id.
func (r *Repository) Snapshot(store storage.Store, includeData bool) (string, error) {
	if store == nil {
		store = r.store
	}
	if store == nil {
		return "", fmt.Errorf("repository '%s' has no storage attached", r.treeID)
	}

	record := r.ToRecord(includeData)
	record.TreeID = shortID("snap")
	record.Metadata = map[string]any{
		snapshotKey: r.treeID,
		"taken_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}

	if err := store.SaveTree(record); err != nil {
		return "", err
	}
	return record.TreeID, nil
}

// LoadSnapshot returns the stored dump for a snapshot id.
func LoadSnapshot(store storage.Store, snapshotID string) (*schema.TreeRecord, error) {
	record, err := store.LoadTree(snapshotID)
	if err != nil {
		return nil, err
	}
	if record.Metadata == nil || record.Metadata[snapshotKey] == nil {
		return nil, fmt.Errorf("'%s' is not a snapshot", snapshotID)
	}
	return record, nil
}
