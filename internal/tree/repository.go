// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package tree

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TemporalGrid/tg-backend/internal/address"
	"github.com/TemporalGrid/tg-backend/internal/storage"
	"github.com/TemporalGrid/tg-backend/pkg/dimension"
	"github.com/TemporalGrid/tg-backend/pkg/log"
	"github.com/TemporalGrid/tg-backend/pkg/schema"
	"github.com/google/uuid"
)

// ErrNoRoot is returned by LoadFromStorage when no stored node record
// is parentless.
var ErrNoRoot = errors.New("no root node found")

type Order int

const (
	PreOrder Order = iota
	PostOrder
)

func shortID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Config wires a repository. Zero fields select defaults: a generated
// tree id, the default dimension registry, a default-bounded allocator
// and no storage attachment.
type Config struct {
	TreeID      string
	Name        string
	Description string
	RootName    string

	Store         storage.Store
	Registry      *dimension.Registry
	Allocator     *address.Allocator
	CacheCapacity int
}

// Repository owns one root node and the node-id index covering its
// subtree. All tree mutations go through it and are serialized by an
// internal mutex; the address allocator and dimension registry are
// shared tree-wide.
type Repository struct {
	mu sync.Mutex

	treeID      string
	name        string
	description string
	createdAt   time.Time

	root  *Node
	index map[string]*Node

	alloc         *address.Allocator
	registry      *dimension.Registry
	store         storage.Store
	cacheCapacity int
}

// NewRepository builds a repository with a freshly allocated root node.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.TreeID == "" {
		cfg.TreeID = shortID("tree")
	}
	if cfg.Registry == nil {
		cfg.Registry = dimension.Default()
	}
	if cfg.Allocator == nil {
		alloc, err := address.NewAllocator("", 0, 0)
		if err != nil {
			return nil, err
		}
		cfg.Allocator = alloc
	}
	if cfg.RootName == "" {
		cfg.RootName = cfg.Name
	}

	r := &Repository{
		treeID:        cfg.TreeID,
		name:          cfg.Name,
		description:   cfg.Description,
		createdAt:     time.Now(),
		index:         map[string]*Node{},
		alloc:         cfg.Allocator,
		registry:      cfg.Registry,
		store:         cfg.Store,
		cacheCapacity: cfg.CacheCapacity,
	}

	root := newNode(r, shortID("node"), cfg.RootName, r.alloc.AllocateRoot(), nil)
	r.root = root
	r.index[root.id] = root
	return r, nil
}

func (r *Repository) TreeID() string { return r.treeID }
func (r *Repository) Name() string   { return r.name }
func (r *Repository) Root() *Node    { return r.root }

func (r *Repository) Registry() *dimension.Registry { return r.registry }

func (r *Repository) GetNode(nodeID string) (*Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.index[nodeID]
	if !ok {
		return nil, &NotFoundError{NodeID: nodeID}
	}
	return node, nil
}

func (r *Repository) GetNodeByAddress(addr address.Address) (*Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, node := range r.index {
		if node.addr.Equal(addr) {
			return node, nil
		}
	}
	return nil, &NotFoundError{NodeID: addr.String()}
}

// Filter selects nodes in Find. Zero fields match everything.
type Filter struct {
	Name   string
	Depth  *int
	Tags   []string
	Active *bool
}

// Find returns all matching nodes, ordered by address.
func (r *Repository) Find(f Filter) []*Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	matches := []*Node{}
	for _, node := range r.index {
		if f.Name != "" && node.name != f.Name {
			continue
		}
		if f.Depth != nil && node.Depth() != *f.Depth {
			continue
		}
		if f.Active != nil && node.IsActive() != *f.Active {
			continue
		}
		tagged := true
		for _, tag := range f.Tags {
			if !node.HasTag(tag) {
				tagged = false
				break
			}
		}
		if !tagged {
			continue
		}
		matches = append(matches, node)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].addr.Less(matches[j].addr)
	})
	return matches
}

// AddNode creates a node under parentID with an address from the
// allocator and links it into the tree.
func (r *Repository) AddNode(parentID, name string, tags []string) (*Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parent, ok := r.index[parentID]
	if !ok {
		return nil, &NotFoundError{NodeID: parentID}
	}

	addr, err := r.alloc.AllocateChild(parent.addr)
	if err != nil {
		return nil, err
	}

	node := newNode(r, shortID("node"), name, addr, tags)
	if err := parent.AddChild(node); err != nil {
		return nil, err
	}
	r.index[node.id] = node
	return node, nil
}

// RemoveNode detaches the node from its parent and drops it and its
// whole subtree from the index. This is a hard remove from memory;
// stored history is untouched unless the caller also deletes it via
// the storage adapter.
func (r *Repository) RemoveNode(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.index[nodeID]
	if !ok {
		return &NotFoundError{NodeID: nodeID}
	}

	if parent, ok := r.index[node.parentID]; ok {
		parent.RemoveChild(nodeID)
	}
	if node == r.root {
		r.root = nil
	}

	for _, descendant := range node.Descendants() {
		delete(r.index, descendant.id)
	}
	delete(r.index, nodeID)
	return nil
}

// Traverse returns the nodes of the tree in the given order, children
// visited in insertion order.
func (r *Repository) Traverse(order Order) []*Node {
	if r.root == nil {
		return []*Node{}
	}

	result := []*Node{}
	var walk func(*Node)
	switch order {
	case PostOrder:
		walk = func(node *Node) {
			for _, child := range node.Children() {
				walk(child)
			}
			result = append(result, node)
		}
	default:
		walk = func(node *Node) {
			result = append(result, node)
			for _, child := range node.Children() {
				walk(child)
			}
		}
	}
	walk(r.root)
	return result
}

// Depth is the number of levels below the root.
func (r *Repository) Depth() int {
	if r.root == nil {
		return 0
	}

	max := 0
	var walk func(*Node, int)
	walk = func(node *Node, depth int) {
		if depth > max {
			max = depth
		}
		for _, child := range node.Children() {
			walk(child, depth+1)
		}
	}
	walk(r.root, 0)
	return max
}

func (r *Repository) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.index)
}

// ToRecord dumps the tree and all its nodes into the on-disk form.
func (r *Repository) ToRecord(includeData bool) *schema.TreeRecord {
	record := &schema.TreeRecord{
		TreeID:      r.treeID,
		Name:        r.name,
		Description: r.description,
		CreatedAt:   r.createdAt,
		Nodes:       make(map[string]*schema.NodeRecord, r.Size()),
	}
	if r.root != nil {
		record.RootNodeID = r.root.id
	}
	for _, node := range r.Traverse(PreOrder) {
		record.Nodes[node.id] = node.ToRecord(includeData)
	}
	return record
}

// SaveToStorage writes the tree record, one record per node and the
// points of every cached timeline. No transaction boundary spans the
// records; a failure leaves earlier records saved.
func (r *Repository) SaveToStorage(store storage.Store) error {
	if store == nil {
		store = r.store
	}
	if store == nil {
		return fmt.Errorf("repository '%s' has no storage attached", r.treeID)
	}

	treeRecord := r.ToRecord(false)
	treeRecord.Nodes = nil
	if err := store.SaveTree(treeRecord); err != nil {
		return err
	}

	for _, node := range r.Traverse(PreOrder) {
		if err := store.SaveNode(r.treeID, node.ToRecord(true)); err != nil {
			return err
		}
		for _, dim := range node.Dimensions() {
			tl := node.getTimeline(dim, false)
			if tl == nil || (tl.Attached() && store == r.store) {
				// Attached timelines already wrote through to r.store.
				continue
			}
			for _, tp := range tl.Export() {
				if err := store.SaveTimePoint(r.treeID, node.id, dim, tp); err != nil {
					return err
				}
			}
		}
	}

	log.Debugf("saved tree '%s' with %d nodes to %s storage", r.treeID, r.Size(), store.Backend())
	return nil
}

// LoadFromStorage rebuilds a repository from stored records. Nodes are
// constructed in a first pass and wired parent/child by parent id in a
// second; timelines are reconstructed lazily on demand.
func LoadFromStorage(store storage.Store, treeID string, cfg Config) (*Repository, error) {
	treeRecord, err := store.LoadTree(treeID)
	if err != nil {
		return nil, err
	}

	nodeRecords, err := store.ListNodes(treeID)
	if err != nil {
		return nil, err
	}

	r := &Repository{
		treeID:        treeID,
		name:          treeRecord.Name,
		description:   treeRecord.Description,
		createdAt:     treeRecord.CreatedAt,
		index:         map[string]*Node{},
		registry:      cfg.Registry,
		store:         store,
		cacheCapacity: cfg.CacheCapacity,
	}
	if r.registry == nil {
		r.registry = dimension.Default()
	}

	// First pass: construct all nodes.
	type link struct {
		node     *Node
		parentID string
	}
	links := make([]link, 0, len(nodeRecords))
	for _, record := range nodeRecords {
		addr, err := address.Parse(record.Address)
		if err != nil {
			return nil, err
		}

		node := newNode(r, record.NodeID, record.Name, addr, record.Tags)
		node.createdAt = record.CreatedAt
		node.active = record.IsActive
		if record.DeletedAt != nil {
			t := *record.DeletedAt
			node.deletedAt = &t
		}
		r.index[node.id] = node
		links = append(links, link{node: node, parentID: record.ParentID})
	}

	// Second pass: wire parent/child links.
	var root *Node
	for _, l := range links {
		if l.parentID == "" {
			if root != nil {
				return nil, fmt.Errorf("tree '%s' has more than one root", treeID)
			}
			root = l.node
			continue
		}
		parent, ok := r.index[l.parentID]
		if !ok {
			return nil, &NotFoundError{NodeID: l.parentID}
		}
		if err := parent.AddChild(l.node); err != nil {
			return nil, err
		}
	}
	if root == nil {
		return nil, ErrNoRoot
	}
	r.root = root

	// Children were wired in list order; restore address order, the
	// order allocation produced them in.
	for _, node := range r.index {
		sort.Slice(node.children, func(i, j int) bool {
			return node.children[i].addr.Less(node.children[j].addr)
		})
	}

	alloc := cfg.Allocator
	if alloc == nil {
		if alloc, err = address.NewAllocator(root.addr.String(), 0, 0); err != nil {
			return nil, err
		}
	}
	addrs := make([]address.Address, 0, len(r.index))
	for _, node := range r.index {
		addrs = append(addrs, node.addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })
	for _, addr := range addrs {
		if err := alloc.Adopt(addr); err != nil {
			return nil, err
		}
	}
	r.alloc = alloc

	log.Debugf("loaded tree '%s' with %d nodes from %s storage", treeID, len(r.index), store.Backend())
	return r, nil
}
