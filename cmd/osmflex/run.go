package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"osmflex/internal/config"
	"osmflex/internal/dispatch"
	"osmflex/internal/flex"
	"osmflex/internal/middle"
	"osmflex/internal/osm"
	"osmflex/internal/output"
	"osmflex/internal/parser/opl"
	"osmflex/internal/pgsql"
	"osmflex/internal/progress"
)

// changeBuffer is the parser-to-dispatcher channel depth. Parsing is cheap
// next to COPY round trips; a modest buffer keeps the reader ahead without
// holding thousands of ways in memory.
const changeBuffer = 1024

// importRunner is the production runner: it connects, compiles the table
// schemas, builds the middle and the output sinks, and streams the input
// through the dispatch pipeline.
type importRunner struct{}

func (importRunner) Run(ctx context.Context, cfg *config.Config, opts runOptions) error {
	caps, db, closeDB, err := openDatabase(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer closeDB()

	updatable := cfg.Updatable || cfg.Append

	reg := flex.NewRegistry()
	comp := flex.Compiler{Registry: reg, Caps: caps, Updatable: updatable, Logger: log.Default()}
	if _, err := comp.DefineTables(cfg.Tables); err != nil {
		return err
	}
	if opts.Verbose {
		log.Printf("compiled %d tables", reg.Len())
	}
	if opts.Validate {
		return nil
	}

	in, err := os.Open(opts.Input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	mid, err := middle.New(ctx, middle.Config{Kind: cfg.Middle.Kind, Path: cfg.Middle.Path})
	if err != nil {
		return err
	}

	env := output.Env{
		Registry:  reg,
		Middle:    mid,
		DB:        db,
		Append:    cfg.Append,
		Updatable: updatable,
	}
	outs := make([]output.Output, 0, len(cfg.Outputs))
	for _, name := range cfg.Outputs {
		out, err := output.New(ctx, name, env)
		if err != nil {
			return err
		}
		outs = append(outs, out)
	}

	rep := progress.New(progress.Options{})
	pipe, err := dispatch.New(mid, outs, dispatch.Options{
		ExtraAttributes: cfg.ExtraAttributes,
		Reporter:        rep,
	})
	if err != nil {
		return err
	}
	if err := pipe.Start(ctx); err != nil {
		return err
	}

	start := time.Now()
	rep.Start()
	err = runStream(ctx, pipe, in, cfg.Append)
	rep.Stop()
	if err != nil {
		// Close the sinks anyway so partial batches and database handles
		// are released.
		if stopErr := pipe.Stop(ctx); stopErr != nil {
			log.Printf("stop after failure: %v", stopErr)
		}
		return err
	}

	if err := pipe.Flush(ctx); err != nil {
		if stopErr := pipe.Stop(ctx); stopErr != nil {
			log.Printf("stop after failure: %v", stopErr)
		}
		return err
	}
	if err := pipe.Stop(ctx); err != nil {
		return err
	}
	if opts.Verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
	return nil
}

// openDatabase prepares the capability checker and the database handle for a
// run.
//
// Validate runs and runs without conninfo stay offline: every schema and
// tablespace passes the existence check, and the database handle stays nil
// so only sinks that need no database can be built.
func openDatabase(ctx context.Context, cfg *config.Config, opts runOptions) (flex.CapabilityChecker, pgsql.DB, func(), error) {
	if opts.Validate || cfg.Conninfo == "" {
		return permissiveCaps{}, nil, func() {}, nil
	}
	pool, err := pgsql.Connect(ctx, cfg.Conninfo)
	if err != nil {
		return nil, nil, nil, err
	}
	caps, err := pgsql.LoadCapabilities(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return caps, pool, pool.Close, nil
}

// permissiveCaps accepts every schema and tablespace name. Existence is a
// live-database check; offline runs have nothing to check against.
type permissiveCaps struct{}

func (permissiveCaps) HasSchema(string) bool { return true }

func (permissiveCaps) HasTablespace(string) bool { return true }

// entitySink is the slice of the dispatch pipeline the stream loop needs.
type entitySink interface {
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

// runStream feeds parsed changes from r into the sink until the input is
// exhausted. Malformed lines are logged and skipped; the first sink or read
// error cancels both goroutines.
//
// The sink sees exactly one goroutine: the reader parses, the dispatcher
// applies, and the channel between them is the only hand-off.
func runStream(ctx context.Context, sink entitySink, r io.Reader, update bool) error {
	g, gctx := errgroup.WithContext(ctx)
	changes := make(chan opl.Change, changeBuffer)

	g.Go(func() error {
		defer close(changes)
		return opl.Stream(gctx, r, update, changes, func(line int, err error) {
			log.Printf("input line %d: %v", line, err)
		})
	})

	g.Go(func() error {
		for c := range changes {
			if err := apply(gctx, sink, c); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// apply routes one parsed change to the matching sink operation.
func apply(ctx context.Context, sink entitySink, c opl.Change) error {
	switch {
	case c.Node != nil:
		switch c.Op {
		case opl.OpDelete:
			return sink.DeleteNode(ctx, c.Node.ID)
		case opl.OpModify:
			return sink.ModifyNode(ctx, c.Node)
		default:
			return sink.AddNode(ctx, c.Node)
		}
	case c.Way != nil:
		switch c.Op {
		case opl.OpDelete:
			return sink.DeleteWay(ctx, c.Way.ID)
		case opl.OpModify:
			return sink.ModifyWay(ctx, c.Way)
		default:
			return sink.AddWay(ctx, c.Way)
		}
	case c.Relation != nil:
		switch c.Op {
		case opl.OpDelete:
			return sink.DeleteRelation(ctx, c.Relation.ID)
		case opl.OpModify:
			return sink.ModifyRelation(ctx, c.Relation)
		default:
			return sink.AddRelation(ctx, c.Relation)
		}
	}
	return nil
}
