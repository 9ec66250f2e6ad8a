// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import "time"

// TreeRecord is the on-disk representation of a tree. Nodes may be nil
// when the store keeps node records separately; a snapshot embeds the
// full node map.
type TreeRecord struct {
	TreeID      string                 `json:"treeId" db:"tree_id"`
	Name        string                 `json:"name" db:"name"`
	Description string                 `json:"description,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	RootNodeID  string                 `json:"rootNodeId"`
	Nodes       map[string]*NodeRecord `json:"nodes,omitempty"`
	Metadata    map[string]any         `json:"metadata,omitempty"`
}

func (t *TreeRecord) Clone() *TreeRecord {
	cpy := *t
	if t.Nodes != nil {
		cpy.Nodes = make(map[string]*NodeRecord, len(t.Nodes))
		for id, n := range t.Nodes {
			cpy.Nodes[id] = n.Clone()
		}
	}
	if t.Metadata != nil {
		cpy.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			cpy.Metadata[k] = v
		}
	}
	return &cpy
}
