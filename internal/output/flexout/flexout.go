// Package flexout is the table-writing sink. It consults the compiled table
// schemas for routing and column layout, builds one row per matching table
// from each entity, and moves the rows into PostgreSQL with COPY. Deletes
// and modifies address rows through the tables' id columns.
package flexout

import (
	"context"
	"fmt"

	"osmflex/internal/flex"
	"osmflex/internal/middle"
	"osmflex/internal/osm"
	"osmflex/internal/output"
	"osmflex/internal/pgsql"
)

func init() {
	output.Register("flex", func(ctx context.Context, env output.Env) (output.Output, error) {
		s, err := New(env)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// Sink writes entities into the compiled tables. Calls arrive
// single-threaded from the dispatch pipeline.
type Sink struct {
	db     pgsql.DB
	mid    middle.Query
	append bool

	tables []*tableWriter

	// byType[t] lists the writers fed by objects of type t, in registry
	// order. Tables without an id column are not routed; they only exist
	// for externally managed data.
	byType map[osm.Type][]*tableWriter
}

// New builds the sink over all tables in the registry.
//
// Errors:
//   - If the registry, database client or middle cache is missing.
//   - If a geometry column uses a projection the row builder cannot
//     produce (only 4326 and 3857 are supported).
func New(env output.Env) (*Sink, error) {
	if env.Registry == nil {
		return nil, fmt.Errorf("flex output: no table registry")
	}
	if env.DB == nil {
		return nil, fmt.Errorf("flex output: no database client")
	}
	if env.Middle == nil {
		return nil, fmt.Errorf("flex output: no middle cache")
	}

	s := &Sink{
		db:     env.DB,
		mid:    env.Middle,
		append: env.Append,
		byType: map[osm.Type][]*tableWriter{},
	}

	for i := 0; i < env.Registry.Len(); i++ {
		schema := env.Registry.At(i)
		for j := range schema.Columns {
			col := &schema.Columns[j]
			if !col.Type.AcceptsProjection() {
				continue
			}
			if col.SRID != flex.SRIDLatLong && col.SRID != flex.SRIDWebMercator {
				return nil, fmt.Errorf("flex output: table '%s': projection with SRID %d not supported",
					schema.Name, col.SRID)
			}
		}
		w := newTableWriter(schema, env.DB, env.Updatable || env.Append)
		s.tables = append(s.tables, w)
		if !schema.HasIDColumn() {
			continue
		}
		if schema.IDColumn.Type == osm.TypeAny {
			for _, t := range []osm.Type{osm.TypeNode, osm.TypeWay, osm.TypeRelation} {
				s.byType[t] = append(s.byType[t], w)
			}
			continue
		}
		s.byType[schema.IDColumn.Type] = append(s.byType[schema.IDColumn.Type], w)
	}
	return s, nil
}

func (s *Sink) Name() string { return "flex" }

// Start prepares the target tables. In create mode existing tables are
// dropped and recreated empty; in append mode they are expected to exist
// from a previous import.
func (s *Sink) Start(ctx context.Context) error {
	if s.append {
		return nil
	}
	for _, t := range s.tables {
		if err := t.create(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Flush pushes all buffered copy rows out. Deletes are never buffered, so
// after Flush the database has seen every operation so far.
func (s *Sink) Flush(ctx context.Context) error {
	for _, t := range s.tables {
		if err := t.flushCopy(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop flushes the remaining rows and, in create mode, builds the declared
// and id indexes. Index builds run after the bulk load on purpose.
func (s *Sink) Stop(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if s.append {
		return nil
	}
	for _, t := range s.tables {
		if err := t.createIndexes(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) AddNode(ctx context.Context, n *osm.Node) error {
	for _, t := range s.byType[osm.TypeNode] {
		row, ok, err := s.nodeRow(t, n)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := t.add(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) ModifyNode(ctx context.Context, n *osm.Node) error {
	if err := s.DeleteNode(ctx, n.ID); err != nil {
		return err
	}
	return s.AddNode(ctx, n)
}

func (s *Sink) DeleteNode(ctx context.Context, id osm.ID) error {
	for _, t := range s.byType[osm.TypeNode] {
		if err := t.delete(ctx, osm.TypeNode, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) AddWay(ctx context.Context, w *osm.Way) error {
	for _, t := range s.byType[osm.TypeWay] {
		row, ok, err := s.wayRow(ctx, t, w)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := t.add(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) ModifyWay(ctx context.Context, w *osm.Way) error {
	if err := s.DeleteWay(ctx, w.ID); err != nil {
		return err
	}
	return s.AddWay(ctx, w)
}

func (s *Sink) DeleteWay(ctx context.Context, id osm.ID) error {
	for _, t := range s.byType[osm.TypeWay] {
		if err := t.delete(ctx, osm.TypeWay, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) AddRelation(ctx context.Context, r *osm.Relation) error {
	for _, t := range s.byType[osm.TypeRelation] {
		row, ok, err := s.relationRow(t, r)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := t.add(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) ModifyRelation(ctx context.Context, r *osm.Relation) error {
	if err := s.DeleteRelation(ctx, r.ID); err != nil {
		return err
	}
	return s.AddRelation(ctx, r)
}

func (s *Sink) DeleteRelation(ctx context.Context, id osm.ID) error {
	for _, t := range s.byType[osm.TypeRelation] {
		if err := t.delete(ctx, osm.TypeRelation, id); err != nil {
			return err
		}
	}
	return nil
}
