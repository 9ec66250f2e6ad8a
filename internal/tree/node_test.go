// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package tree

import (
	"errors"
	"testing"
	"time"

	"github.com/TemporalGrid/tg-backend/internal/storage"
	"github.com/TemporalGrid/tg-backend/pkg/dimension"
	"github.com/TemporalGrid/tg-backend/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 8, 0, 0, 0, time.UTC)
}

func testRepo(t *testing.T, store storage.Store) *Repository {
	repo, err := NewRepository(Config{
		TreeID:   "t1",
		Name:     "network",
		RootName: "headquarters",
		Store:    store,
	})
	require.NoError(t, err)
	return repo
}

// Scenario: three-node tree with one dimension.
func TestSetAndGetData(t *testing.T) {
	repo := testRepo(t, nil)

	beijing, err := repo.AddNode(repo.Root().ID(), "beijing", nil)
	require.NoError(t, err)
	shanghai, err := repo.AddNode(repo.Root().ID(), "shanghai", nil)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.0", repo.Root().Address().String())
	assert.Equal(t, "10.0.0.0.0", beijing.Address().String())
	assert.Equal(t, "10.0.0.0.1", shanghai.Address().String())

	require.NoError(t, beijing.SetData("metered", 1500.0, WriteOptions{At: day(1)}))
	require.NoError(t, beijing.SetData("metered", 1600.0, WriteOptions{At: day(2)}))

	latest, err := beijing.GetData("metered", nil, 0)
	require.NoError(t, err)
	require.NotNil(t, latest)
	value, _ := latest.Float()
	assert.Equal(t, 1600.0, value)

	at := day(1)
	tp, err := beijing.GetData("metered", &at, 0)
	require.NoError(t, err)
	require.NotNil(t, tp)
	value, _ = tp.Float()
	assert.Equal(t, 1500.0, value)

	series, err := beijing.GetTimeSeries("metered", nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, series, 2)
	v0, _ := series[0].Float()
	v1, _ := series[1].Float()
	assert.Equal(t, []float64{1500.0, 1600.0}, []float64{v0, v1})
}

func TestSetDataValidation(t *testing.T) {
	repo := testRepo(t, nil)
	node := repo.Root()

	var domainErr *dimension.DomainError
	err := node.SetData("metered", -10.0, WriteOptions{At: day(1)})
	assert.True(t, errors.As(err, &domainErr))

	// unregistered dimensions only get structural checks
	require.NoError(t, node.SetData("pressure", 4.2, WriteOptions{At: day(1)}))

	// the registered unit is applied when none is given
	tp, err := node.GetData("metered", nil, 0)
	require.NoError(t, err)
	assert.Nil(t, tp)

	require.NoError(t, node.SetData("metered", 10.0, WriteOptions{At: day(1)}))
	tp, err = node.GetData("metered", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "m³", tp.Unit)
}

// Scenario: derived dimension.
func TestDerivedDimension(t *testing.T) {
	repo := testRepo(t, nil)

	beijing, err := repo.AddNode(repo.Root().ID(), "beijing", nil)
	require.NoError(t, err)

	at := day(1)
	require.NoError(t, beijing.SetData("reference", 2000.0, WriteOptions{At: at}))
	require.NoError(t, beijing.SetData("metered", 1900.0, WriteOptions{At: at}))

	tp, err := beijing.GetData("loss_rate", &at, 0)
	require.NoError(t, err)
	require.NotNil(t, tp)
	value, _ := tp.Float()
	assert.InDelta(t, 0.05, value, 1e-9)

	// writing directly to a derived dimension fails
	var derivedErr *dimension.DerivedWriteError
	err = beijing.SetData("loss_rate", 0.1, WriteOptions{At: at})
	assert.True(t, errors.As(err, &derivedErr))
}

func TestDerivedMissingInput(t *testing.T) {
	repo := testRepo(t, nil)

	at := day(1)
	require.NoError(t, repo.Root().SetData("reference", 2000.0, WriteOptions{At: at}))

	tp, err := repo.Root().GetData("loss_rate", &at, 0)
	require.NoError(t, err)
	assert.Nil(t, tp, "a missing input leaves the derived value undefined")
}

func TestToleranceSearch(t *testing.T) {
	repo := testRepo(t, nil)
	node := repo.Root()

	require.NoError(t, node.SetData("metered", 1.0, WriteOptions{At: day(1)}))
	require.NoError(t, node.SetData("metered", 3.0, WriteOptions{At: day(3)}))

	off := day(1).Add(90 * time.Minute)

	tp, err := node.GetData("metered", &off, 0)
	require.NoError(t, err)
	assert.Nil(t, tp, "no tolerance, no match")

	tp, err = node.GetData("metered", &off, 2*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, tp)
	value, _ := tp.Float()
	assert.Equal(t, 1.0, value, "nearest point within tolerance wins")

	tp, err = node.GetData("metered", &off, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, tp, "tolerance too tight")
}

// Scenario: soft-delete preserves history.
func TestSoftDelete(t *testing.T) {
	repo := testRepo(t, nil)
	node := repo.Root()
	// the repository stamps wall-clock creation time; the scenario's node
	// exists from day 1 on
	node.createdAt = day(1)

	for d := 1; d <= 3; d++ {
		require.NoError(t, node.SetData("metered", float64(d*100), WriteOptions{At: day(d)}))
	}

	deleteAt := day(3).Add(time.Hour)
	node.SoftDelete(&deleteAt)
	assert.False(t, node.IsActive())

	// a write at day 4 fails
	err := node.SetData("metered", 400.0, WriteOptions{At: day(4)})
	var inactiveErr *InactiveNodeError
	require.ErrorAs(t, err, &inactiveErr)

	// reads at days 1..3 still answer
	for d := 1; d <= 3; d++ {
		at := day(d)
		tp, err := node.GetData("metered", &at, 0)
		require.NoError(t, err)
		require.NotNil(t, tp)
		value, _ := tp.Float()
		assert.Equal(t, float64(d*100), value)
	}

	assert.True(t, node.IsAliveAt(day(2)))
	assert.False(t, node.IsAliveAt(day(4)))

	// terminal: a second soft delete keeps the first timestamp
	later := day(9)
	node.SoftDelete(&later)
	assert.Equal(t, deleteAt, *node.DeletedAt())
}

func TestIsAliveBeforeCreation(t *testing.T) {
	repo := testRepo(t, nil)
	assert.False(t, repo.Root().IsAliveAt(repo.Root().CreatedAt().Add(-time.Hour)))
}

func TestDeleteDimensionData(t *testing.T) {
	repo := testRepo(t, nil)
	node := repo.Root()

	for d := 1; d <= 3; d++ {
		require.NoError(t, node.SetData("metered", float64(d), WriteOptions{At: day(d)}))
	}
	assert.Equal(t, []string{"metered"}, node.Dimensions())

	before := day(3)
	count, err := node.DeleteDimensionData("metered", &before)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"metered"}, node.Dimensions(), "points remain, timeline stays")

	count, err = node.DeleteDimensionData("metered", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Empty(t, node.Dimensions(), "empty series drops the timeline entry")
}

func TestWriteThrough(t *testing.T) {
	store := storage.NewMemoryStore()
	repo := testRepo(t, store)

	require.NoError(t, repo.Root().SetData("metered", 7.0, WriteOptions{At: day(1)}))

	points, err := store.GetTimePoints("t1", repo.Root().ID(), "metered", storage.TimeQuery{})
	require.NoError(t, err)
	require.Len(t, points, 1)
	value, _ := points[0].Float()
	assert.Equal(t, 7.0, value)
}

func TestParentChildLinks(t *testing.T) {
	repo := testRepo(t, nil)
	root := repo.Root()

	a, err := repo.AddNode(root.ID(), "a", nil)
	require.NoError(t, err)
	b, err := repo.AddNode(a.ID(), "b", nil)
	require.NoError(t, err)

	assert.Equal(t, root.ID(), a.Parent().ID())
	assert.Equal(t, []*Node{a}, root.Children())

	ancestors := b.Ancestors()
	require.Len(t, ancestors, 2)
	assert.Equal(t, a.ID(), ancestors[0].ID())
	assert.Equal(t, root.ID(), ancestors[1].ID())

	path := b.Path()
	require.Len(t, path, 3)
	assert.Equal(t, root.ID(), path[0].ID())
	assert.Equal(t, b.ID(), path[2].ID())

	assert.Equal(t, root.ID(), b.Root().ID())

	descendants := root.Descendants()
	require.Len(t, descendants, 2)

	assert.True(t, root.RemoveChild(a.ID()))
	assert.Nil(t, a.Parent())
	assert.Empty(t, root.Children())
	assert.False(t, root.RemoveChild(a.ID()))
}

func TestTags(t *testing.T) {
	repo := testRepo(t, nil)
	node := repo.Root()

	node.AddTag("region")
	node.AddTag("critical")
	node.AddTag("region")

	assert.Equal(t, []string{"critical", "region"}, node.Tags())
	assert.True(t, node.HasTag("region"))
	assert.True(t, node.RemoveTag("region"))
	assert.False(t, node.HasTag("region"))
}

func TestToRecord(t *testing.T) {
	repo := testRepo(t, nil)
	node, err := repo.AddNode(repo.Root().ID(), "beijing", []string{"region"})
	require.NoError(t, err)
	require.NoError(t, node.SetData("metered", 1.0, WriteOptions{At: day(1)}))

	record := node.ToRecord(true)
	assert.Equal(t, node.ID(), record.NodeID)
	assert.Equal(t, repo.Root().ID(), record.ParentID)
	assert.Equal(t, "10.0.0.0.0", record.Address)
	assert.Equal(t, []string{"region"}, record.Tags)
	assert.True(t, record.IsActive)
	require.Len(t, record.Timelines["metered"], 1)

	slim := node.ToRecord(false)
	assert.Nil(t, slim.Timelines)
}

func TestQualityDefaults(t *testing.T) {
	repo := testRepo(t, nil)
	node := repo.Root()

	require.NoError(t, node.SetData("metered", 1.0, WriteOptions{At: day(1)}))
	require.NoError(t, node.SetData("metered", 2.0, WriteOptions{At: day(2), Quality: schema.QualityEstimated}))

	at := day(1)
	tp, _ := node.GetData("metered", &at, 0)
	assert.Equal(t, schema.QualityNormal, tp.Quality)

	at = day(2)
	tp, _ = node.GetData("metered", &at, 0)
	assert.Equal(t, schema.QualityEstimated, tp.Quality)
}
