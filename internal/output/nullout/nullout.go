// Package nullout provides a sink that swallows everything. It exists for
// dry runs and for benchmarking the pipeline without a database, and its
// operation counts back the dispatch tests.
package nullout

import (
	"context"

	"osmflex/internal/osm"
	"osmflex/internal/output"
)

func init() {
	output.Register("null", func(ctx context.Context, env output.Env) (output.Output, error) {
		return &Sink{}, nil
	})
}

// Counts is a snapshot of how many operations the sink has seen.
type Counts struct {
	AddedNodes, ModifiedNodes, DeletedNodes             int64
	AddedWays, ModifiedWays, DeletedWays                int64
	AddedRelations, ModifiedRelations, DeletedRelations int64
	Flushes                                             int64
}

// Sink counts operations and discards the data. Calls arrive single-threaded
// from the pipeline, so plain fields are enough.
type Sink struct {
	counts Counts
}

func (s *Sink) Name() string { return "null" }

// Counts returns the operation counts seen so far.
func (s *Sink) Counts() Counts { return s.counts }

func (s *Sink) Start(ctx context.Context) error { return nil }

func (s *Sink) Flush(ctx context.Context) error {
	s.counts.Flushes++
	return nil
}

func (s *Sink) Stop(ctx context.Context) error { return nil }

func (s *Sink) AddNode(ctx context.Context, n *osm.Node) error {
	s.counts.AddedNodes++
	return nil
}

func (s *Sink) ModifyNode(ctx context.Context, n *osm.Node) error {
	s.counts.ModifiedNodes++
	return nil
}

func (s *Sink) DeleteNode(ctx context.Context, id osm.ID) error {
	s.counts.DeletedNodes++
	return nil
}

func (s *Sink) AddWay(ctx context.Context, w *osm.Way) error {
	s.counts.AddedWays++
	return nil
}

func (s *Sink) ModifyWay(ctx context.Context, w *osm.Way) error {
	s.counts.ModifiedWays++
	return nil
}

func (s *Sink) DeleteWay(ctx context.Context, id osm.ID) error {
	s.counts.DeletedWays++
	return nil
}

func (s *Sink) AddRelation(ctx context.Context, r *osm.Relation) error {
	s.counts.AddedRelations++
	return nil
}

func (s *Sink) ModifyRelation(ctx context.Context, r *osm.Relation) error {
	s.counts.ModifiedRelations++
	return nil
}

func (s *Sink) DeleteRelation(ctx context.Context, id osm.ID) error {
	s.counts.DeletedRelations++
	return nil
}
