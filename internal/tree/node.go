// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tree implements the node entity and the repository owning a
// tree of nodes, their timelines and their persistence.
package tree

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/TemporalGrid/tg-backend/internal/address"
	"github.com/TemporalGrid/tg-backend/internal/timeline"
	"github.com/TemporalGrid/tg-backend/pkg/schema"
)

type InactiveNodeError struct {
	NodeID string
}

func (e *InactiveNodeError) Error() string {
	return fmt.Sprintf("node '%s' is inactive, writes are forbidden", e.NodeID)
}

type NotFoundError struct {
	NodeID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("node '%s' not found", e.NodeID)
}

// Node is one entity in the tree. It owns a timeline per dimension,
// created lazily on first use. The parent link is the parent's node id,
// resolved through the repository index, so the structure stays free of
// pointer cycles. Nodes are created by their repository.
type Node struct {
	id        string
	name      string
	addr      address.Address
	createdAt time.Time

	mu        sync.Mutex
	tags      []string
	deletedAt *time.Time
	active    bool
	parentID  string
	children  []*Node
	timelines map[string]*timeline.Timeline

	repo *Repository
}

func newNode(repo *Repository, id, name string, addr address.Address, tags []string) *Node {
	n := &Node{
		id:        id,
		name:      name,
		addr:      addr,
		createdAt: time.Now(),
		tags:      append([]string(nil), tags...),
		active:    true,
		timelines: map[string]*timeline.Timeline{},
		repo:      repo,
	}
	sort.Strings(n.tags)
	return n
}

func (n *Node) ID() string               { return n.id }
func (n *Node) Name() string             { return n.name }
func (n *Node) Address() address.Address { return n.addr }
func (n *Node) Depth() int               { return n.addr.Depth() }
func (n *Node) CreatedAt() time.Time     { return n.createdAt }

func (n *Node) IsActive() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}

func (n *Node) DeletedAt() *time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.deletedAt == nil {
		return nil
	}
	t := *n.deletedAt
	return &t
}

/* TAGS */

func (n *Node) Tags() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.tags...)
}

func (n *Node) AddTag(tag string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !slices.Contains(n.tags, tag) {
		n.tags = append(n.tags, tag)
		sort.Strings(n.tags)
	}
}

func (n *Node) RemoveTag(tag string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	i := slices.Index(n.tags, tag)
	if i < 0 {
		return false
	}
	n.tags = slices.Delete(n.tags, i, i+1)
	return true
}

func (n *Node) HasTag(tag string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Contains(n.tags, tag)
}

/* STRUCTURE */

// Parent resolves the back-link through the repository index; nil for
// the root or a detached node.
func (n *Node) Parent() *Node {
	n.mu.Lock()
	parentID := n.parentID
	repo := n.repo
	n.mu.Unlock()

	if parentID == "" || repo == nil {
		return nil
	}
	parent, _ := repo.GetNode(parentID)
	return parent
}

func (n *Node) Children() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Node(nil), n.children...)
}

// AddChild links child under n. The child must not already have a
// parent; the bi-directional invariant (parent set <=> member of
// parent's children) is maintained here.
func (n *Node) AddChild(child *Node) error {
	if child == n {
		return fmt.Errorf("node '%s' cannot be its own child", n.id)
	}

	child.mu.Lock()
	if child.parentID != "" {
		child.mu.Unlock()
		return fmt.Errorf("node '%s' already has a parent", child.id)
	}
	child.parentID = n.id
	child.mu.Unlock()

	n.mu.Lock()
	n.children = append(n.children, child)
	n.mu.Unlock()
	return nil
}

// RemoveChild unlinks the child with the given id. The child keeps its
// subtree but loses the back-link.
func (n *Node) RemoveChild(childID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, child := range n.children {
		if child.id == childID {
			n.children = append(n.children[:i], n.children[i+1:]...)
			child.mu.Lock()
			child.parentID = ""
			child.mu.Unlock()
			return true
		}
	}
	return false
}

// Ancestors returns the chain from parent up to the root.
func (n *Node) Ancestors() []*Node {
	ancestors := []*Node{}
	for current := n.Parent(); current != nil; current = current.Parent() {
		ancestors = append(ancestors, current)
	}
	return ancestors
}

// Descendants returns all nodes below n in depth-first preorder.
func (n *Node) Descendants() []*Node {
	descendants := []*Node{}
	var collect func(*Node)
	collect = func(node *Node) {
		for _, child := range node.Children() {
			descendants = append(descendants, child)
			collect(child)
		}
	}
	collect(n)
	return descendants
}

func (n *Node) Root() *Node {
	current := n
	for {
		parent := current.Parent()
		if parent == nil {
			return current
		}
		current = parent
	}
}

// Path returns the chain from the root down to n, inclusive.
func (n *Node) Path() []*Node {
	ancestors := n.Ancestors()
	path := make([]*Node, 0, len(ancestors)+1)
	for i := len(ancestors) - 1; i >= 0; i-- {
		path = append(path, ancestors[i])
	}
	return append(path, n)
}

/* LIFECYCLE */

// SoftDelete marks the node inactive at the given time (now when nil).
// History stays readable; writes fail from here on. Idempotent.
func (n *Node) SoftDelete(at *time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.active {
		return
	}
	ts := time.Now()
	if at != nil {
		ts = *at
	}
	n.deletedAt = &ts
	n.active = false
}

// IsAliveAt reports created_at <= ts < deleted_at (unbounded when not
// deleted).
func (n *Node) IsAliveAt(ts time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if ts.Before(n.createdAt) {
		return false
	}
	if n.deletedAt != nil && !ts.Before(*n.deletedAt) {
		return false
	}
	return true
}

/* DATA */

// WriteOptions tunes SetData. The zero value means: now, quality
// normal, unit from the registered descriptor.
type WriteOptions struct {
	At      time.Time
	Quality schema.Quality
	Unit    string
}

// getTimeline returns the timeline for dimension, creating it lazily
// (and attaching it to the repository's store) when create is set.
func (n *Node) getTimeline(dimension string, create bool) *timeline.Timeline {
	n.mu.Lock()
	defer n.mu.Unlock()

	tl, ok := n.timelines[dimension]
	if !ok && create {
		capacity := timeline.DefaultCacheCapacity
		if n.repo != nil && n.repo.cacheCapacity > 0 {
			capacity = n.repo.cacheCapacity
		}
		tl = timeline.New(n.id, dimension, capacity)
		if n.repo != nil && n.repo.store != nil {
			tl.Attach(n.repo.store, n.repo.treeID)
		}
		n.timelines[dimension] = tl
	}
	return tl
}

func (n *Node) registryValidate(dimension string, value any) error {
	if n.repo == nil {
		return nil
	}
	return n.repo.registry.ValidateWrite(dimension, value)
}

// SetData writes one time point to the dimension's timeline. Fails on
// inactive nodes, on writes to derived dimensions and on values outside
// a registered dimension's domain. Unregistered dimensions are accepted
// with structural checks only.
func (n *Node) SetData(dimension string, value any, opts WriteOptions) error {
	if !n.IsActive() {
		return &InactiveNodeError{NodeID: n.id}
	}
	if err := n.registryValidate(dimension, value); err != nil {
		return err
	}

	at := opts.At
	if at.IsZero() {
		at = time.Now()
	}
	quality := opts.Quality
	if quality == schema.QualityInvalid {
		quality = schema.QualityNormal
	}
	unit := opts.Unit
	if unit == "" && n.repo != nil {
		if desc, ok := n.repo.registry.Lookup(dimension); ok {
			unit = desc.Unit
		}
	}

	return n.getTimeline(dimension, true).AddTimePoint(schema.NewTimePoint(at, value, quality, unit))
}

// GetData reads the dimension's value. Derived dimensions resolve their
// inputs at the same instant and apply the rule; nil is returned when
// any input is missing. Stored dimensions read exactly at the given
// time (latest when at is nil), falling back to the nearest point
// within +-tolerance when one is given.
func (n *Node) GetData(dimension string, at *time.Time, tolerance time.Duration) (*schema.TimePoint, error) {
	if n.repo != nil {
		if desc, ok := n.repo.registry.Lookup(dimension); ok && desc.Derived {
			return n.deriveData(desc.Name, at, tolerance)
		}
	}

	tl := n.getTimeline(dimension, n.storeAttached())
	if tl == nil {
		return nil, nil
	}

	if at == nil {
		return tl.GetLatest(nil)
	}

	tp, err := tl.GetTimePoint(*at)
	if err != nil || tp != nil {
		return tp, err
	}
	if tolerance <= 0 {
		return nil, nil
	}

	start := at.Add(-tolerance)
	end := at.Add(tolerance)
	candidates, err := tl.GetTimeRange(&start, &end, 0)
	if err != nil {
		return nil, err
	}

	var nearest *schema.TimePoint
	var nearestDelta time.Duration
	for _, c := range candidates {
		delta := c.Timestamp.Sub(*at).Abs()
		if nearest == nil || delta < nearestDelta {
			nearest, nearestDelta = c, delta
		}
	}
	return nearest, nil
}

func (n *Node) storeAttached() bool {
	return n.repo != nil && n.repo.store != nil
}

func (n *Node) deriveData(dimension string, at *time.Time, tolerance time.Duration) (*schema.TimePoint, error) {
	desc, _ := n.repo.registry.Lookup(dimension)

	inputs := make(map[string]any, len(desc.Inputs))
	var newest time.Time
	for _, input := range desc.Inputs {
		tp, err := n.GetData(input, at, tolerance)
		if err != nil {
			return nil, err
		}
		if tp == nil {
			// A missing input makes the derived value undefined.
			return nil, nil
		}
		inputs[input] = tp.Value
		if tp.Timestamp.After(newest) {
			newest = tp.Timestamp.Time
		}
	}

	value, err := desc.Derive(inputs)
	if err != nil {
		return nil, err
	}

	ts := newest
	if at != nil {
		ts = *at
	}
	return schema.NewTimePoint(ts, value, schema.QualityNormal, desc.Unit), nil
}

// GetTimeSeries returns the stored points of dimension in [start, end].
// Unknown or derived dimensions yield an empty result.
func (n *Node) GetTimeSeries(dimension string, start, end *time.Time, limit int) ([]*schema.TimePoint, error) {
	if n.repo != nil {
		if desc, ok := n.repo.registry.Lookup(dimension); ok && desc.Derived {
			return []*schema.TimePoint{}, nil
		}
	}

	tl := n.getTimeline(dimension, n.storeAttached())
	if tl == nil {
		return []*schema.TimePoint{}, nil
	}
	return tl.GetTimeRange(start, end, limit)
}

// DeleteDimensionData drops points strictly before the bound (all when
// nil). When the series is empty afterwards the timeline entry itself
// is dropped.
func (n *Node) DeleteDimensionData(dimension string, before *time.Time) (int, error) {
	n.mu.Lock()
	tl, ok := n.timelines[dimension]
	n.mu.Unlock()
	if !ok {
		return 0, nil
	}

	count, err := tl.DeleteBefore(before)
	if err != nil {
		return 0, err
	}

	empty := tl.Len() == 0
	if empty && tl.Attached() && n.repo != nil {
		tr, err := n.repo.store.GetTimeRange(n.repo.treeID, n.id, dimension)
		if err != nil {
			return count, err
		}
		empty = tr == nil
	}
	if empty {
		n.mu.Lock()
		delete(n.timelines, dimension)
		n.mu.Unlock()
	}
	return count, nil
}

// Dimensions lists the dimensions this node holds timelines for.
func (n *Node) Dimensions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	dims := make([]string, 0, len(n.timelines))
	for dim := range n.timelines {
		dims = append(dims, dim)
	}
	sort.Strings(dims)
	return dims
}

/* SERIALIZATION */

// ToRecord dumps the node into its on-disk form. includeData controls
// whether the cached timeline points are embedded.
func (n *Node) ToRecord(includeData bool) *schema.NodeRecord {
	n.mu.Lock()
	defer n.mu.Unlock()

	record := &schema.NodeRecord{
		NodeID:    n.id,
		ParentID:  n.parentID,
		Address:   n.addr.String(),
		Name:      n.name,
		Tags:      append([]string(nil), n.tags...),
		CreatedAt: n.createdAt,
		IsActive:  n.active,
	}
	if n.deletedAt != nil {
		t := *n.deletedAt
		record.DeletedAt = &t
	}

	if includeData && len(n.timelines) > 0 {
		record.Timelines = make(map[string][]*schema.TimePoint, len(n.timelines))
		for dim, tl := range n.timelines {
			record.Timelines[dim] = tl.Export()
		}
	}
	record.Normalize()
	return record
}
