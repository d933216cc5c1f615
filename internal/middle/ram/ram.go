// Package ram provides the in-memory middle cache backend. It is the
// default: fast, no setup, but every run starts cold and nothing survives
// the process, so append runs need the sqlite backend instead.
package ram

import (
	"context"
	"sync"

	"github.com/go-spatial/geom"

	"osmflex/internal/middle"
	"osmflex/internal/osm"
)

func init() {
	middle.Register("ram", New)
}

// Cache keeps all object data in maps. A read lock on lookups keeps Query
// safe even if an output resolves geometries concurrently with its own
// bookkeeping.
type Cache struct {
	mu    sync.RWMutex
	nodes map[osm.ID]geom.Point
	ways  map[osm.ID][]osm.ID
	rels  map[osm.ID][]osm.Member
}

func New(ctx context.Context, cfg middle.Config) (middle.Store, error) {
	return &Cache{
		nodes: make(map[osm.ID]geom.Point),
		ways:  make(map[osm.ID][]osm.ID),
		rels:  make(map[osm.ID][]osm.Member),
	}, nil
}

func (c *Cache) Start(ctx context.Context) error { return nil }
func (c *Cache) Flush(ctx context.Context) error { return nil }
func (c *Cache) Stop(ctx context.Context) error  { return nil }

func (c *Cache) SetNode(ctx context.Context, n *osm.Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[n.ID] = n.Location
	return nil
}

func (c *Cache) SetWay(ctx context.Context, w *osm.Way) error {
	nodes := make([]osm.ID, len(w.Nodes))
	copy(nodes, w.Nodes)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ways[w.ID] = nodes
	return nil
}

func (c *Cache) SetRelation(ctx context.Context, r *osm.Relation) error {
	members := make([]osm.Member, len(r.Members))
	copy(members, r.Members)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rels[r.ID] = members
	return nil
}

func (c *Cache) DeleteNode(ctx context.Context, id osm.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, id)
	return nil
}

func (c *Cache) DeleteWay(ctx context.Context, id osm.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ways, id)
	return nil
}

func (c *Cache) DeleteRelation(ctx context.Context, id osm.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rels, id)
	return nil
}

func (c *Cache) NodeLocation(ctx context.Context, id osm.ID) (geom.Point, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	loc, ok := c.nodes[id]
	return loc, ok, nil
}

func (c *Cache) WayNodes(ctx context.Context, id osm.ID) ([]osm.ID, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nodes, ok := c.ways[id]
	if !ok {
		return nil, false, nil
	}
	out := make([]osm.ID, len(nodes))
	copy(out, nodes)
	return out, true, nil
}

func (c *Cache) RelationMembers(ctx context.Context, id osm.ID) ([]osm.Member, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	members, ok := c.rels[id]
	if !ok {
		return nil, false, nil
	}
	out := make([]osm.Member, len(members))
	copy(out, members)
	return out, true, nil
}
