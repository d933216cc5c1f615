// Package middle defines the persistent object cache sitting between the
// parser and the output sinks. The cache keeps node locations, way node
// lists and relation member lists so that later objects (and incremental
// updates) can be resolved against the newest version of their members.
//
// Backends register themselves under a kind string; the dispatch pipeline
// only ever sees the Store interface.
package middle

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-spatial/geom"

	"osmflex/internal/osm"
)

// Query is the read side of the cache, handed to output sinks for geometry
// resolution. All lookups report found=false for objects never stored or
// already deleted.
type Query interface {
	NodeLocation(ctx context.Context, id osm.ID) (loc geom.Point, found bool, err error)
	WayNodes(ctx context.Context, id osm.ID) (nodes []osm.ID, found bool, err error)
	RelationMembers(ctx context.Context, id osm.ID) (members []osm.Member, found bool, err error)
}

// Store is the full cache contract used by the dispatch pipeline. Writes
// follow last-writer-wins semantics per object id.
//
// Lifecycle: Start opens the batch context, Flush makes everything written
// so far visible to Query without ending the session, Stop finalizes and
// releases resources. Calls arrive single-threaded from the pipeline.
type Store interface {
	Query

	Start(ctx context.Context) error
	Flush(ctx context.Context) error
	Stop(ctx context.Context) error

	SetNode(ctx context.Context, n *osm.Node) error
	SetWay(ctx context.Context, w *osm.Way) error
	SetRelation(ctx context.Context, r *osm.Relation) error

	DeleteNode(ctx context.Context, id osm.ID) error
	DeleteWay(ctx context.Context, id osm.ID) error
	DeleteRelation(ctx context.Context, id osm.ID) error
}

// Config selects and configures a cache backend.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - Path is backend-specific; the sqlite backend requires it, the ram
//     backend ignores it.
type Config struct {
	Kind string
	Path string
}

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a cache backend under a kind (e.g. "ram", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. This is intentional to fail fast and
//     avoid ambiguous backend selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("middle: Register called with empty kind")
	}
	if f == nil {
		panic("middle: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("middle: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Store using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("middle: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported middle kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
