package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-spatial/geom"

	"osmflex/internal/middle"
	"osmflex/internal/osm"
)

func newMemCache(t *testing.T) middle.Store {
	t.Helper()
	c, err := New(context.Background(), middle.Config{Kind: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := New(context.Background(), middle.Config{Kind: "sqlite"}); err == nil {
		t.Fatal("New accepted empty path")
	}
}

func TestRoundTripInsideBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newMemCache(t)

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := c.SetNode(ctx, &osm.Node{ID: 1, Location: geom.Point{13.4, 52.5}}); err != nil {
		t.Fatalf("SetNode: %v", err)
	}
	if err := c.SetWay(ctx, &osm.Way{ID: 7, Nodes: []osm.ID{1, 2, 3}}); err != nil {
		t.Fatalf("SetWay: %v", err)
	}
	if err := c.SetRelation(ctx, &osm.Relation{ID: 9, Members: []osm.Member{
		{Type: osm.TypeWay, Ref: 7, Role: "outer"},
	}}); err != nil {
		t.Fatalf("SetRelation: %v", err)
	}

	// Uncommitted writes must be visible to lookups in the same batch;
	// relation member resolution depends on it.
	loc, found, err := c.NodeLocation(ctx, 1)
	if err != nil || !found || loc[0] != 13.4 || loc[1] != 52.5 {
		t.Fatalf("NodeLocation = %v, %v, %v", loc, found, err)
	}
	nodes, found, err := c.WayNodes(ctx, 7)
	if err != nil || !found || len(nodes) != 3 || nodes[2] != 3 {
		t.Fatalf("WayNodes = %v, %v, %v", nodes, found, err)
	}
	members, found, err := c.RelationMembers(ctx, 9)
	if err != nil || !found || len(members) != 1 {
		t.Fatalf("RelationMembers = %v, %v, %v", members, found, err)
	}
	if members[0].Type != osm.TypeWay || members[0].Ref != 7 || members[0].Role != "outer" {
		t.Fatalf("member = %+v", members[0])
	}

	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, found, _ := c.NodeLocation(ctx, 1); !found {
		t.Fatal("node lost across Flush")
	}

	// Writes keep working after a flush, in the follow-up batch.
	if err := c.SetNode(ctx, &osm.Node{ID: 2, Location: geom.Point{1, 2}}); err != nil {
		t.Fatalf("SetNode after Flush: %v", err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestLastWriterWinsAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newMemCache(t)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := c.SetWay(ctx, &osm.Way{ID: 7, Nodes: []osm.ID{1, 2}}); err != nil {
		t.Fatalf("SetWay: %v", err)
	}
	if err := c.SetWay(ctx, &osm.Way{ID: 7, Nodes: []osm.ID{3, 4, 5}}); err != nil {
		t.Fatalf("SetWay overwrite: %v", err)
	}
	nodes, _, _ := c.WayNodes(ctx, 7)
	if len(nodes) != 3 || nodes[0] != 3 {
		t.Fatalf("overwrite lost: %v", nodes)
	}

	if err := c.DeleteWay(ctx, 7); err != nil {
		t.Fatalf("DeleteWay: %v", err)
	}
	if _, found, _ := c.WayNodes(ctx, 7); found {
		t.Fatal("deleted way still found")
	}
	if err := c.DeleteWay(ctx, 7); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}

	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStartTwiceFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newMemCache(t)

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(ctx); err == nil {
		t.Fatal("second Start accepted")
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestFlushWithoutStartFails(t *testing.T) {
	t.Parallel()
	c := newMemCache(t)
	if err := c.Flush(context.Background()); err == nil {
		t.Fatal("Flush without Start accepted")
	}
}

func TestDataSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "middle.db")

	c, err := New(ctx, middle.Config{Kind: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.SetNode(ctx, &osm.Node{ID: 101, Location: geom.Point{9.99, -3.5}}); err != nil {
		t.Fatalf("SetNode: %v", err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// An append run opens the same file and sees the previous import.
	c2, err := New(ctx, middle.Config{Kind: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	loc, found, err := c2.NodeLocation(ctx, 101)
	if err != nil || !found {
		t.Fatalf("NodeLocation after reopen = %v, %v", found, err)
	}
	if loc[0] != 9.99 || loc[1] != -3.5 {
		t.Fatalf("location after reopen = %v", loc)
	}
	if err := c2.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
