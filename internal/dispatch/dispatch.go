// Package dispatch routes parsed entities through the middle cache into the
// registered output sinks.
//
// The pipeline is the single write path of a run: every add/modify/delete
// goes to the middle cache first, so outputs that resolve references (a way
// asking for its node locations) always observe the newest version, then to
// every output in registration order.
//
// Concurrency:
//   - The pipeline presents a single-threaded call contract. One entity
//     operation completes, including all output forwards, before the caller
//     issues the next. There is no internal locking.
//   - Middle and outputs may parallelize internally as long as Flush makes
//     all prior writes visible before returning.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"osmflex/internal/metrics"
	"osmflex/internal/middle"
	"osmflex/internal/osm"
	"osmflex/internal/output"
	"osmflex/internal/progress"
)

// DispatchError reports an output sink failure during an entity operation.
// The remaining sinks were not invoked for that operation; the run must be
// treated as fatal.
type DispatchError struct {
	Op   string // operation name, e.g. "add_node"
	Sink string // Name() of the failing output
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: output '%s': %v", e.Op, e.Sink, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

type state uint8

const (
	stateCreated state = iota
	stateStarted
	stateStopped
)

// Options controls pipeline construction.
type Options struct {
	// ExtraAttributes attaches version/timestamp/changeset metadata to the
	// entity snapshots handed to the middle cache and outputs. Off by
	// default; most table definitions never read them.
	ExtraAttributes bool

	// Reporter, when set, receives one Add per dispatched entity.
	Reporter *progress.Reporter
}

// Pipeline is the dispatch state machine: Created -> Started -> Stopped,
// linear, no re-entry.
type Pipeline struct {
	mid        middle.Store
	outs       []output.Output
	extraAttrs bool
	reporter   *progress.Reporter
	st         state
}

// New constructs a pipeline over a middle store and an ordered output list.
// The output order given here is the forwarding order for every operation.
//
// Errors:
//   - Returns an error if mid is nil or any output is nil.
func New(mid middle.Store, outs []output.Output, opts Options) (*Pipeline, error) {
	if mid == nil {
		return nil, errors.New("dispatch: middle store is nil")
	}
	for i, o := range outs {
		if o == nil {
			return nil, fmt.Errorf("dispatch: output %d is nil", i)
		}
	}

	return &Pipeline{
		mid: mid,
		// The pipeline owns the forwarding order; detach from the caller's
		// slice.
		outs:       append([]output.Output(nil), outs...),
		extraAttrs: opts.ExtraAttributes,
		reporter:   opts.Reporter,
	}, nil
}

// Start opens the batch context in the middle cache, then in every output in
// registration order.
//
// Errors:
//   - Returns an error unless the pipeline is in the Created state.
//   - The first middle/output Start error aborts and is returned; the
//     pipeline stays unstarted.
func (p *Pipeline) Start(ctx context.Context) error {
	switch p.st {
	case stateStarted:
		return errors.New("dispatch start: already started")
	case stateStopped:
		return errors.New("dispatch start: already stopped")
	}

	if err := p.mid.Start(ctx); err != nil {
		return fmt.Errorf("dispatch start: middle: %w", err)
	}
	for _, o := range p.outs {
		if err := o.Start(ctx); err != nil {
			return fmt.Errorf("dispatch start: output '%s': %w", o.Name(), err)
		}
	}

	p.st = stateStarted
	return nil
}

// Flush commits batched writes in the middle cache and every output without
// ending the session. All writes issued before Flush are externally visible
// once it returns.
func (p *Pipeline) Flush(ctx context.Context) error {
	if err := p.ready(); err != nil {
		return fmt.Errorf("dispatch flush: %w", err)
	}

	if err := p.mid.Flush(ctx); err != nil {
		return fmt.Errorf("dispatch flush: middle: %w", err)
	}
	for _, o := range p.outs {
		if err := o.Flush(ctx); err != nil {
			return fmt.Errorf("dispatch flush: output '%s': %w", o.Name(), err)
		}
	}

	metrics.CountBatch()
	return nil
}

// Stop finalizes and closes every output in registration order, then the
// middle cache.
//
// Edge cases:
//   - Valid only in the Started state; calling Stop again is an error.
//   - All outputs and the middle are closed even when one of them fails;
//     the first error is returned.
func (p *Pipeline) Stop(ctx context.Context) error {
	switch p.st {
	case stateCreated:
		return errors.New("dispatch stop: not started")
	case stateStopped:
		return errors.New("dispatch stop: already stopped")
	}
	p.st = stateStopped

	var firstErr error
	for _, o := range p.outs {
		if err := o.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("dispatch stop: output '%s': %w", o.Name(), err)
		}
	}
	if err := p.mid.Stop(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("dispatch stop: middle: %w", err)
	}
	return firstErr
}

// AddNode dispatches a new node.
func (p *Pipeline) AddNode(ctx context.Context, n *osm.Node) error {
	if err := p.ready(); err != nil {
		return fmt.Errorf("dispatch add_node: %w", err)
	}
	defer p.observe(osm.TypeNode, "add", time.Now())

	n = p.nodeSnapshot(n)
	if err := p.mid.SetNode(ctx, n); err != nil {
		return fmt.Errorf("dispatch add_node %d: middle: %w", n.ID, err)
	}
	if err := p.forward("add_node", func(o output.Output) error { return o.AddNode(ctx, n) }); err != nil {
		return err
	}

	p.processed(osm.TypeNode, "add")
	return nil
}

// ModifyNode dispatches a changed node. Outputs see the new version in the
// middle cache.
func (p *Pipeline) ModifyNode(ctx context.Context, n *osm.Node) error {
	if err := p.ready(); err != nil {
		return fmt.Errorf("dispatch modify_node: %w", err)
	}
	defer p.observe(osm.TypeNode, "modify", time.Now())

	n = p.nodeSnapshot(n)
	if err := p.mid.SetNode(ctx, n); err != nil {
		return fmt.Errorf("dispatch modify_node %d: middle: %w", n.ID, err)
	}
	if err := p.forward("modify_node", func(o output.Output) error { return o.ModifyNode(ctx, n) }); err != nil {
		return err
	}

	p.processed(osm.TypeNode, "modify")
	return nil
}

// DeleteNode dispatches a node deletion.
func (p *Pipeline) DeleteNode(ctx context.Context, id osm.ID) error {
	if err := p.ready(); err != nil {
		return fmt.Errorf("dispatch delete_node: %w", err)
	}
	defer p.observe(osm.TypeNode, "delete", time.Now())

	if err := p.mid.DeleteNode(ctx, id); err != nil {
		return fmt.Errorf("dispatch delete_node %d: middle: %w", id, err)
	}
	if err := p.forward("delete_node", func(o output.Output) error { return o.DeleteNode(ctx, id) }); err != nil {
		return err
	}

	p.processed(osm.TypeNode, "delete")
	return nil
}

// AddWay dispatches a new way.
func (p *Pipeline) AddWay(ctx context.Context, w *osm.Way) error {
	if err := p.ready(); err != nil {
		return fmt.Errorf("dispatch add_way: %w", err)
	}
	defer p.observe(osm.TypeWay, "add", time.Now())

	w = p.waySnapshot(w)
	if err := p.mid.SetWay(ctx, w); err != nil {
		return fmt.Errorf("dispatch add_way %d: middle: %w", w.ID, err)
	}
	if err := p.forward("add_way", func(o output.Output) error { return o.AddWay(ctx, w) }); err != nil {
		return err
	}

	p.processed(osm.TypeWay, "add")
	return nil
}

// ModifyWay dispatches a changed way.
func (p *Pipeline) ModifyWay(ctx context.Context, w *osm.Way) error {
	if err := p.ready(); err != nil {
		return fmt.Errorf("dispatch modify_way: %w", err)
	}
	defer p.observe(osm.TypeWay, "modify", time.Now())

	w = p.waySnapshot(w)
	if err := p.mid.SetWay(ctx, w); err != nil {
		return fmt.Errorf("dispatch modify_way %d: middle: %w", w.ID, err)
	}
	if err := p.forward("modify_way", func(o output.Output) error { return o.ModifyWay(ctx, w) }); err != nil {
		return err
	}

	p.processed(osm.TypeWay, "modify")
	return nil
}

// DeleteWay dispatches a way deletion.
func (p *Pipeline) DeleteWay(ctx context.Context, id osm.ID) error {
	if err := p.ready(); err != nil {
		return fmt.Errorf("dispatch delete_way: %w", err)
	}
	defer p.observe(osm.TypeWay, "delete", time.Now())

	if err := p.mid.DeleteWay(ctx, id); err != nil {
		return fmt.Errorf("dispatch delete_way %d: middle: %w", id, err)
	}
	if err := p.forward("delete_way", func(o output.Output) error { return o.DeleteWay(ctx, id) }); err != nil {
		return err
	}

	p.processed(osm.TypeWay, "delete")
	return nil
}

// AddRelation dispatches a new relation.
func (p *Pipeline) AddRelation(ctx context.Context, r *osm.Relation) error {
	if err := p.ready(); err != nil {
		return fmt.Errorf("dispatch add_relation: %w", err)
	}
	defer p.observe(osm.TypeRelation, "add", time.Now())

	r = p.relationSnapshot(r)
	if err := p.mid.SetRelation(ctx, r); err != nil {
		return fmt.Errorf("dispatch add_relation %d: middle: %w", r.ID, err)
	}
	if err := p.forward("add_relation", func(o output.Output) error { return o.AddRelation(ctx, r) }); err != nil {
		return err
	}

	p.processed(osm.TypeRelation, "add")
	return nil
}

// ModifyRelation dispatches a changed relation.
func (p *Pipeline) ModifyRelation(ctx context.Context, r *osm.Relation) error {
	if err := p.ready(); err != nil {
		return fmt.Errorf("dispatch modify_relation: %w", err)
	}
	defer p.observe(osm.TypeRelation, "modify", time.Now())

	r = p.relationSnapshot(r)
	if err := p.mid.SetRelation(ctx, r); err != nil {
		return fmt.Errorf("dispatch modify_relation %d: middle: %w", r.ID, err)
	}
	if err := p.forward("modify_relation", func(o output.Output) error { return o.ModifyRelation(ctx, r) }); err != nil {
		return err
	}

	p.processed(osm.TypeRelation, "modify")
	return nil
}

// DeleteRelation dispatches a relation deletion.
func (p *Pipeline) DeleteRelation(ctx context.Context, id osm.ID) error {
	if err := p.ready(); err != nil {
		return fmt.Errorf("dispatch delete_relation: %w", err)
	}
	defer p.observe(osm.TypeRelation, "delete", time.Now())

	if err := p.mid.DeleteRelation(ctx, id); err != nil {
		return fmt.Errorf("dispatch delete_relation %d: middle: %w", id, err)
	}
	if err := p.forward("delete_relation", func(o output.Output) error { return o.DeleteRelation(ctx, id) }); err != nil {
		return err
	}

	p.processed(osm.TypeRelation, "delete")
	return nil
}

// ready reports whether entity operations are currently valid.
func (p *Pipeline) ready() error {
	switch p.st {
	case stateCreated:
		return errors.New("not started")
	case stateStopped:
		return errors.New("already stopped")
	}
	return nil
}

// forward invokes fn on each output in registration order. The first failure
// wraps in a *DispatchError and the remaining outputs are not invoked.
func (p *Pipeline) forward(op string, fn func(output.Output) error) error {
	for _, o := range p.outs {
		if err := fn(o); err != nil {
			return &DispatchError{Op: op, Sink: o.Name(), Err: err}
		}
	}
	return nil
}

func (p *Pipeline) nodeSnapshot(n *osm.Node) *osm.Node {
	if p.extraAttrs {
		return n
	}
	return n.StripMetadata()
}

func (p *Pipeline) waySnapshot(w *osm.Way) *osm.Way {
	if p.extraAttrs {
		return w
	}
	return w.StripMetadata()
}

func (p *Pipeline) relationSnapshot(r *osm.Relation) *osm.Relation {
	if p.extraAttrs {
		return r
	}
	return r.StripMetadata()
}

func (p *Pipeline) observe(t osm.Type, op string, start time.Time) {
	metrics.ObserveDispatchSeconds(t.String(), op, time.Since(start).Seconds())
}

func (p *Pipeline) processed(t osm.Type, op string) {
	metrics.CountEntity(t.String(), op)
	if p.reporter != nil {
		p.reporter.Add(t)
	}
}
