// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"sort"
	"time"
)

// NodeRecord is the on-disk representation of a tree node. Timelines
// holds a copy of the points each dimension's timeline currently caches;
// the full history lives in the time-series tables of the store.
type NodeRecord struct {
	NodeID    string                  `json:"nodeId" db:"node_id"`
	ParentID  string                  `json:"parentId,omitempty" db:"parent_id"`
	Address   string                  `json:"address" db:"address"`
	Name      string                  `json:"name" db:"name"`
	Tags      []string                `json:"tags"`
	CreatedAt time.Time               `json:"createdAt"`
	DeletedAt *time.Time              `json:"deletedAt,omitempty"`
	IsActive  bool                    `json:"isActive"`
	Timelines map[string][]*TimePoint `json:"timelines,omitempty"`
}

// Normalize sorts tags and orders every cached timeline by timestamp so
// serialization is deterministic.
func (n *NodeRecord) Normalize() {
	sort.Strings(n.Tags)
	for _, points := range n.Timelines {
		sort.Slice(points, func(i, j int) bool {
			return points[i].Timestamp.Before(points[j].Timestamp.Time)
		})
	}
}

func (n *NodeRecord) Clone() *NodeRecord {
	cpy := *n
	cpy.Tags = append([]string(nil), n.Tags...)
	if n.DeletedAt != nil {
		t := *n.DeletedAt
		cpy.DeletedAt = &t
	}
	if n.Timelines != nil {
		cpy.Timelines = make(map[string][]*TimePoint, len(n.Timelines))
		for dim, points := range n.Timelines {
			cloned := make([]*TimePoint, len(points))
			for i, tp := range points {
				cloned[i] = tp.Clone()
			}
			cpy.Timelines[dim] = cloned
		}
	}
	return &cpy
}
