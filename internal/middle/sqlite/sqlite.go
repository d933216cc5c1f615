// Package sqlite provides the persistent middle cache backend. Object data
// survives the process, which is what allows append runs to resolve ways
// and relations against nodes imported weeks earlier.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-spatial/geom"
	_ "modernc.org/sqlite"

	"osmflex/internal/middle"
	"osmflex/internal/osm"
)

func init() {
	middle.Register("sqlite", New)
}

// dbtx is the slice of database/sql shared by *sql.DB and *sql.Tx, so reads
// and writes can go through the open transaction when there is one.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Cache stores nodes, ways and relations in three id-keyed tables. Way node
// lists and relation member lists are serialized as JSON; lookups are by
// primary key only, so the encoding never needs to be queried into.
type Cache struct {
	db *sql.DB

	// tx is the open batch transaction between Start/Flush/Stop. While it
	// is set, all reads and writes go through it so Query sees writes from
	// the current batch.
	tx *sql.Tx
}

func New(ctx context.Context, cfg middle.Config) (middle.Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("middle sqlite: path is required")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// One connection only: the batch transaction must be the same session
	// every statement runs on (and :memory: databases are per-connection).
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("middle sqlite: %s: %w", pragma, err)
		}
	}

	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS nodes (id INTEGER PRIMARY KEY, lon REAL NOT NULL, lat REAL NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS ways (id INTEGER PRIMARY KEY, nodes TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS rels (id INTEGER PRIMARY KEY, members TEXT NOT NULL)`,
	} {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("middle sqlite: create tables: %w", err)
		}
	}

	return &Cache{db: db}, nil
}

// conn returns the open transaction when there is one, the plain handle
// otherwise.
func (c *Cache) conn() dbtx {
	if c.tx != nil {
		return c.tx
	}
	return c.db
}

func (c *Cache) Start(ctx context.Context) error {
	if c.tx != nil {
		return errors.New("middle sqlite: batch already started")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("middle sqlite: begin: %w", err)
	}
	c.tx = tx
	return nil
}

// Flush commits the current batch and immediately opens the next one.
func (c *Cache) Flush(ctx context.Context) error {
	if c.tx == nil {
		return errors.New("middle sqlite: flush without started batch")
	}
	if err := c.tx.Commit(); err != nil {
		c.tx = nil
		return fmt.Errorf("middle sqlite: commit: %w", err)
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		c.tx = nil
		return fmt.Errorf("middle sqlite: begin: %w", err)
	}
	c.tx = tx
	return nil
}

func (c *Cache) Stop(ctx context.Context) error {
	var commitErr error
	if c.tx != nil {
		commitErr = c.tx.Commit()
		c.tx = nil
	}
	closeErr := c.db.Close()
	if commitErr != nil {
		return fmt.Errorf("middle sqlite: commit: %w", commitErr)
	}
	if closeErr != nil {
		return fmt.Errorf("middle sqlite: close: %w", closeErr)
	}
	return nil
}

func (c *Cache) SetNode(ctx context.Context, n *osm.Node) error {
	_, err := c.conn().ExecContext(ctx,
		`INSERT OR REPLACE INTO nodes (id, lon, lat) VALUES (?, ?, ?)`,
		int64(n.ID), n.Location[0], n.Location[1])
	if err != nil {
		return fmt.Errorf("middle sqlite: store node %d: %w", n.ID, err)
	}
	return nil
}

func (c *Cache) SetWay(ctx context.Context, w *osm.Way) error {
	nodes, err := json.Marshal(w.Nodes)
	if err != nil {
		return fmt.Errorf("middle sqlite: encode way %d: %w", w.ID, err)
	}
	_, err = c.conn().ExecContext(ctx,
		`INSERT OR REPLACE INTO ways (id, nodes) VALUES (?, ?)`,
		int64(w.ID), string(nodes))
	if err != nil {
		return fmt.Errorf("middle sqlite: store way %d: %w", w.ID, err)
	}
	return nil
}

func (c *Cache) SetRelation(ctx context.Context, r *osm.Relation) error {
	members, err := json.Marshal(r.Members)
	if err != nil {
		return fmt.Errorf("middle sqlite: encode relation %d: %w", r.ID, err)
	}
	_, err = c.conn().ExecContext(ctx,
		`INSERT OR REPLACE INTO rels (id, members) VALUES (?, ?)`,
		int64(r.ID), string(members))
	if err != nil {
		return fmt.Errorf("middle sqlite: store relation %d: %w", r.ID, err)
	}
	return nil
}

func (c *Cache) DeleteNode(ctx context.Context, id osm.ID) error {
	_, err := c.conn().ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, int64(id))
	if err != nil {
		return fmt.Errorf("middle sqlite: delete node %d: %w", id, err)
	}
	return nil
}

func (c *Cache) DeleteWay(ctx context.Context, id osm.ID) error {
	_, err := c.conn().ExecContext(ctx, `DELETE FROM ways WHERE id = ?`, int64(id))
	if err != nil {
		return fmt.Errorf("middle sqlite: delete way %d: %w", id, err)
	}
	return nil
}

func (c *Cache) DeleteRelation(ctx context.Context, id osm.ID) error {
	_, err := c.conn().ExecContext(ctx, `DELETE FROM rels WHERE id = ?`, int64(id))
	if err != nil {
		return fmt.Errorf("middle sqlite: delete relation %d: %w", id, err)
	}
	return nil
}

func (c *Cache) NodeLocation(ctx context.Context, id osm.ID) (geom.Point, bool, error) {
	var lon, lat float64
	err := c.conn().QueryRowContext(ctx,
		`SELECT lon, lat FROM nodes WHERE id = ?`, int64(id)).Scan(&lon, &lat)
	if errors.Is(err, sql.ErrNoRows) {
		return geom.Point{}, false, nil
	}
	if err != nil {
		return geom.Point{}, false, fmt.Errorf("middle sqlite: node %d: %w", id, err)
	}
	return geom.Point{lon, lat}, true, nil
}

func (c *Cache) WayNodes(ctx context.Context, id osm.ID) ([]osm.ID, bool, error) {
	var raw string
	err := c.conn().QueryRowContext(ctx,
		`SELECT nodes FROM ways WHERE id = ?`, int64(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("middle sqlite: way %d: %w", id, err)
	}
	var nodes []osm.ID
	if err := json.Unmarshal([]byte(raw), &nodes); err != nil {
		return nil, false, fmt.Errorf("middle sqlite: decode way %d: %w", id, err)
	}
	return nodes, true, nil
}

func (c *Cache) RelationMembers(ctx context.Context, id osm.ID) ([]osm.Member, bool, error) {
	var raw string
	err := c.conn().QueryRowContext(ctx,
		`SELECT members FROM rels WHERE id = ?`, int64(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("middle sqlite: relation %d: %w", id, err)
	}
	var members []osm.Member
	if err := json.Unmarshal([]byte(raw), &members); err != nil {
		return nil, false, fmt.Errorf("middle sqlite: decode relation %d: %w", id, err)
	}
	return members, true, nil
}
