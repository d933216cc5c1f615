// Package output defines the sink side of the pipeline: consumers that turn
// entity change events into storage writes. Sinks register themselves under
// a kind string; the dispatch pipeline only ever sees the Output interface.
package output

import (
	"context"
	"fmt"
	"sync"

	"osmflex/internal/flex"
	"osmflex/internal/middle"
	"osmflex/internal/osm"
	"osmflex/internal/pgsql"
)

// Output consumes entity change events. Calls arrive single-threaded from
// the dispatch pipeline in global entity order; an error from any method is
// fatal for the run.
//
// Lifecycle mirrors the middle cache: Start opens the batch context, Flush
// makes buffered writes externally visible without ending the session, Stop
// finalizes (builds indexes, closes batches) and releases resources.
type Output interface {
	Name() string

	Start(ctx context.Context) error
	Flush(ctx context.Context) error
	Stop(ctx context.Context) error

	AddNode(ctx context.Context, n *osm.Node) error
	ModifyNode(ctx context.Context, n *osm.Node) error
	DeleteNode(ctx context.Context, id osm.ID) error

	AddWay(ctx context.Context, w *osm.Way) error
	ModifyWay(ctx context.Context, w *osm.Way) error
	DeleteWay(ctx context.Context, id osm.ID) error

	AddRelation(ctx context.Context, r *osm.Relation) error
	ModifyRelation(ctx context.Context, r *osm.Relation) error
	DeleteRelation(ctx context.Context, id osm.ID) error
}

// Env bundles the shared collaborators a sink may need. Backends take what
// they use and ignore the rest; the null sink needs none of it.
type Env struct {
	// Registry holds the compiled table schemas, read-only by the time any
	// sink sees it.
	Registry *flex.Registry

	// Middle is the read side of the object cache, for resolving way and
	// relation geometries against member objects.
	Middle middle.Query

	// DB is the database client used for DDL, deletes and bulk copies.
	DB pgsql.DB

	// Append selects update mode: target tables already exist and keep
	// their rows, and id indexes are required for modifies and deletes.
	Append bool

	// Updatable marks tables that must stay addressable by object id for
	// later append runs. Append implies it.
	Updatable bool
}

type factory func(ctx context.Context, env Env) (Output, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a sink under a kind (e.g. "flex", "null").
//
// When to use:
//   - Call Register from an init() function in a sink package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. This is intentional to fail fast and
//     avoid ambiguous sink selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("output: Register called with empty kind")
	}
	if f == nil {
		panic("output: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("output: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs the named sink using its registered factory.
//
// Errors:
//   - Returns an error if kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, kind string, env Env) (Output, error) {
	if kind == "" {
		return nil, fmt.Errorf("output: missing kind")
	}

	mu.RLock()
	f := factories[kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported output kind=%s", kind)
	}
	return f(ctx, env)
}
