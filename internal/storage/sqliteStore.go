// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TemporalGrid/tg-backend/pkg/schema"
	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

type SqliteStoreConfig struct {
	Path          string `json:"path"`
	BusyTimeoutMs int    `json:"busyTimeoutMs"`
	SlowQueryMs   int    `json:"slowQueryMs"`
}

var (
	registerDriverOnce sync.Once
	sqlHooks           = &queryHooks{slowThreshold: 100 * time.Millisecond}
)

// SqliteStore persists everything in one embedded SQLite database.
// Tree and node records are stored as JSON blobs; time points live in a
// dedicated table with a unique composite index for upsert semantics
// and a dimension_stats table caching (min, max, count) per series.
// Safe for concurrent readers; writes are serialized by the single
// connection.
type SqliteStore struct {
	db        *sqlx.DB
	stmtCache *sq.StmtCache
}

func NewSqliteStore(cfg SqliteStoreConfig) (*SqliteStore, error) {
	if cfg.Path == "" {
		return nil, wrap("open", KindSqlite, fmt.Errorf("empty database path"))
	}
	if cfg.BusyTimeoutMs <= 0 {
		cfg.BusyTimeoutMs = 5000
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, wrap("open", KindSqlite, err)
	}

	if cfg.SlowQueryMs > 0 {
		sqlHooks.slowThreshold = time.Duration(cfg.SlowQueryMs) * time.Millisecond
	}
	registerDriverOnce.Do(func() {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, sqlHooks))
	})

	db, err := sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", cfg.Path))
	if err != nil {
		return nil, wrap("open", KindSqlite, err)
	}

	// sqlite does not multithread. Having more than one connection open
	// would just mean waiting for locks.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeoutMs),
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, wrap("open", KindSqlite, err)
		}
	}

	if err := migrateUp(db.DB); err != nil {
		db.Close()
		return nil, wrap("migrate", KindSqlite, err)
	}

	return &SqliteStore{db: db, stmtCache: sq.NewStmtCache(db.DB)}, nil
}

func (s *SqliteStore) Backend() string { return KindSqlite }

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) SaveTree(tree *schema.TreeRecord) error {
	blob, err := json.Marshal(tree)
	if err != nil {
		return wrap("save_tree", KindSqlite, err)
	}

	now := time.Now().UnixMilli()
	_, err = s.db.Exec(`
		INSERT INTO trees (tree_id, tree_data, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tree_id) DO UPDATE SET
			tree_data = excluded.tree_data,
			updated_at = excluded.updated_at
	`, tree.TreeID, blob, now, now)
	return wrap("save_tree", KindSqlite, err)
}

func (s *SqliteStore) LoadTree(treeID string) (*schema.TreeRecord, error) {
	var blob []byte
	err := sq.Select("tree_data").From("trees").Where(sq.Eq{"tree_id": treeID}).
		RunWith(s.stmtCache).QueryRow().Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, wrap("load_tree", KindSqlite, ErrTreeNotFound)
	}
	if err != nil {
		return nil, wrap("load_tree", KindSqlite, err)
	}

	tree := &schema.TreeRecord{}
	if err := json.Unmarshal(blob, tree); err != nil {
		return nil, wrap("load_tree", KindSqlite, err)
	}
	return tree, nil
}

func (s *SqliteStore) DeleteTree(treeID string) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return wrap("delete_tree", KindSqlite, err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM trees WHERE tree_id = ?`, treeID)
	if err != nil {
		return wrap("delete_tree", KindSqlite, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrap("delete_tree", KindSqlite, ErrTreeNotFound)
	}

	// nodes cascade via the foreign key; the series tables do not.
	if _, err := tx.Exec(`DELETE FROM time_series WHERE tree_id = ?`, treeID); err != nil {
		return wrap("delete_tree", KindSqlite, err)
	}
	if _, err := tx.Exec(`DELETE FROM dimension_stats WHERE tree_id = ?`, treeID); err != nil {
		return wrap("delete_tree", KindSqlite, err)
	}

	return wrap("delete_tree", KindSqlite, tx.Commit())
}

func (s *SqliteStore) ListTrees() ([]string, error) {
	rows, err := sq.Select("tree_id").From("trees").OrderBy("tree_id ASC").
		RunWith(s.db).Query()
	if err != nil {
		return nil, wrap("list_trees", KindSqlite, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("list_trees", KindSqlite, err)
		}
		ids = append(ids, id)
	}
	return ids, wrap("list_trees", KindSqlite, rows.Err())
}

func (s *SqliteStore) SaveNode(treeID string, node *schema.NodeRecord) error {
	record := node.Clone()
	record.Normalize()
	blob, err := json.Marshal(record)
	if err != nil {
		return wrap("save_node", KindSqlite, err)
	}

	now := time.Now().UnixMilli()
	_, err = s.db.Exec(`
		INSERT INTO nodes (tree_id, node_id, node_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tree_id, node_id) DO UPDATE SET
			node_data = excluded.node_data,
			updated_at = excluded.updated_at
	`, treeID, node.NodeID, blob, now, now)
	return wrap("save_node", KindSqlite, err)
}

func (s *SqliteStore) LoadNode(treeID, nodeID string) (*schema.NodeRecord, error) {
	var blob []byte
	err := sq.Select("node_data").From("nodes").
		Where(sq.Eq{"tree_id": treeID, "node_id": nodeID}).
		RunWith(s.stmtCache).QueryRow().Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, wrap("load_node", KindSqlite, ErrNodeNotFound)
	}
	if err != nil {
		return nil, wrap("load_node", KindSqlite, err)
	}

	node := &schema.NodeRecord{}
	if err := json.Unmarshal(blob, node); err != nil {
		return nil, wrap("load_node", KindSqlite, err)
	}
	return node, nil
}

func (s *SqliteStore) DeleteNode(treeID, nodeID string) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return wrap("delete_node", KindSqlite, err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM nodes WHERE tree_id = ? AND node_id = ?`, treeID, nodeID)
	if err != nil {
		return wrap("delete_node", KindSqlite, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrap("delete_node", KindSqlite, ErrNodeNotFound)
	}

	if _, err := tx.Exec(`DELETE FROM time_series WHERE tree_id = ? AND node_id = ?`, treeID, nodeID); err != nil {
		return wrap("delete_node", KindSqlite, err)
	}
	if _, err := tx.Exec(`DELETE FROM dimension_stats WHERE tree_id = ? AND node_id = ?`, treeID, nodeID); err != nil {
		return wrap("delete_node", KindSqlite, err)
	}

	return wrap("delete_node", KindSqlite, tx.Commit())
}

func (s *SqliteStore) ListNodes(treeID string) ([]*schema.NodeRecord, error) {
	rows, err := sq.Select("node_data").From("nodes").
		Where(sq.Eq{"tree_id": treeID}).OrderBy("node_id ASC").
		RunWith(s.db).Query()
	if err != nil {
		return nil, wrap("list_nodes", KindSqlite, err)
	}
	defer rows.Close()

	records := []*schema.NodeRecord{}
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, wrap("list_nodes", KindSqlite, err)
		}
		node := &schema.NodeRecord{}
		if err := json.Unmarshal(blob, node); err != nil {
			return nil, wrap("list_nodes", KindSqlite, err)
		}
		records = append(records, node)
	}
	return records, wrap("list_nodes", KindSqlite, rows.Err())
}

// refreshStats recomputes the dimension_stats row of one series inside
// the transaction of the triggering mutation.
func refreshStats(tx *sqlx.Tx, treeID, nodeID, dimension string) error {
	if _, err := tx.Exec(`
		DELETE FROM dimension_stats WHERE tree_id = ? AND node_id = ? AND dimension = ?
	`, treeID, nodeID, dimension); err != nil {
		return err
	}

	_, err := tx.Exec(`
		INSERT INTO dimension_stats (tree_id, node_id, dimension, min_time, max_time, count)
		SELECT tree_id, node_id, dimension, MIN(timestamp), MAX(timestamp), COUNT(*)
		FROM time_series
		WHERE tree_id = ? AND node_id = ? AND dimension = ?
		GROUP BY tree_id, node_id, dimension
	`, treeID, nodeID, dimension)
	return err
}

func (s *SqliteStore) SaveTimePoint(treeID, nodeID, dimension string, tp *schema.TimePoint) error {
	value, err := json.Marshal(tp.Value)
	if err != nil {
		return wrap("save_time_point", KindSqlite, err)
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return wrap("save_time_point", KindSqlite, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO time_series (tree_id, node_id, dimension, timestamp, value, quality, unit)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tree_id, node_id, dimension, timestamp) DO UPDATE SET
			value = excluded.value,
			quality = excluded.quality,
			unit = excluded.unit
	`, treeID, nodeID, dimension, tp.Timestamp.Millis(), value, int(tp.Quality), tp.Unit); err != nil {
		return wrap("save_time_point", KindSqlite, err)
	}

	if err := refreshStats(tx, treeID, nodeID, dimension); err != nil {
		return wrap("save_time_point", KindSqlite, err)
	}

	return wrap("save_time_point", KindSqlite, tx.Commit())
}

func scanTimePoint(rows *sql.Rows) (*schema.TimePoint, error) {
	var ms int64
	var value []byte
	var quality int
	var unit sql.NullString
	if err := rows.Scan(&ms, &value, &quality, &unit); err != nil {
		return nil, err
	}

	tp := &schema.TimePoint{Timestamp: schema.TimeFromMillis(ms)}
	tp.Quality = schema.Quality(quality)
	tp.Unit = unit.String
	if err := json.Unmarshal(value, &tp.Value); err != nil {
		return nil, err
	}
	return tp, nil
}

func (s *SqliteStore) GetTimePoints(treeID, nodeID, dimension string, q TimeQuery) ([]*schema.TimePoint, error) {
	query := sq.Select("timestamp", "value", "quality", "unit").From("time_series").
		Where(sq.Eq{"tree_id": treeID, "node_id": nodeID, "dimension": dimension}).
		OrderBy("timestamp ASC")
	if q.Start != nil {
		query = query.Where(sq.GtOrEq{"timestamp": q.Start.UnixMilli()})
	}
	if q.End != nil {
		query = query.Where(sq.LtOrEq{"timestamp": q.End.UnixMilli()})
	}
	if q.Limit > 0 {
		query = query.Limit(uint64(q.Limit))
	}

	rows, err := query.RunWith(s.db).Query()
	if err != nil {
		return nil, wrap("get_time_points", KindSqlite, err)
	}
	defer rows.Close()

	points := []*schema.TimePoint{}
	for rows.Next() {
		tp, err := scanTimePoint(rows)
		if err != nil {
			return nil, wrap("get_time_points", KindSqlite, err)
		}
		points = append(points, tp)
	}
	return points, wrap("get_time_points", KindSqlite, rows.Err())
}

func (s *SqliteStore) GetLatestTimePoint(treeID, nodeID, dimension string, before *time.Time) (*schema.TimePoint, error) {
	query := sq.Select("timestamp", "value", "quality", "unit").From("time_series").
		Where(sq.Eq{"tree_id": treeID, "node_id": nodeID, "dimension": dimension}).
		OrderBy("timestamp DESC").Limit(1)
	if before != nil {
		query = query.Where(sq.LtOrEq{"timestamp": before.UnixMilli()})
	}

	rows, err := query.RunWith(s.db).Query()
	if err != nil {
		return nil, wrap("get_latest_time_point", KindSqlite, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, wrap("get_latest_time_point", KindSqlite, rows.Err())
	}
	tp, err := scanTimePoint(rows)
	if err != nil {
		return nil, wrap("get_latest_time_point", KindSqlite, err)
	}
	return tp, nil
}

func (s *SqliteStore) DeleteTimePoints(treeID, nodeID, dimension string, before *time.Time) (int, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return 0, wrap("delete_time_points", KindSqlite, err)
	}
	defer tx.Rollback()

	query := sq.Delete("time_series").
		Where(sq.Eq{"tree_id": treeID, "node_id": nodeID, "dimension": dimension})
	if before != nil {
		query = query.Where(sq.Lt{"timestamp": before.UnixMilli()})
	}

	res, err := query.RunWith(tx.Tx).Exec()
	if err != nil {
		return 0, wrap("delete_time_points", KindSqlite, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("delete_time_points", KindSqlite, err)
	}

	if err := refreshStats(tx, treeID, nodeID, dimension); err != nil {
		return 0, wrap("delete_time_points", KindSqlite, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, wrap("delete_time_points", KindSqlite, err)
	}
	return int(count), nil
}

func (s *SqliteStore) GetDimensions(treeID, nodeID string) ([]string, error) {
	query := sq.Select("DISTINCT dimension").From("time_series").
		Where(sq.Eq{"tree_id": treeID}).OrderBy("dimension ASC")
	if nodeID != "" {
		query = query.Where(sq.Eq{"node_id": nodeID})
	}

	rows, err := query.RunWith(s.db).Query()
	if err != nil {
		return nil, wrap("get_dimensions", KindSqlite, err)
	}
	defer rows.Close()

	dims := []string{}
	for rows.Next() {
		var dim string
		if err := rows.Scan(&dim); err != nil {
			return nil, wrap("get_dimensions", KindSqlite, err)
		}
		dims = append(dims, dim)
	}
	return dims, wrap("get_dimensions", KindSqlite, rows.Err())
}

func (s *SqliteStore) GetTimeRange(treeID, nodeID, dimension string) (*TimeRange, error) {
	var minMs, maxMs, count int64
	err := sq.Select("min_time", "max_time", "count").From("dimension_stats").
		Where(sq.Eq{"tree_id": treeID, "node_id": nodeID, "dimension": dimension}).
		RunWith(s.stmtCache).QueryRow().Scan(&minMs, &maxMs, &count)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get_time_range", KindSqlite, err)
	}

	return &TimeRange{
		Min:   time.UnixMilli(minMs).UTC(),
		Max:   time.UnixMilli(maxMs).UTC(),
		Count: count,
	}, nil
}
