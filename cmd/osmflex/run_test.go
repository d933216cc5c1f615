package main

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"osmflex/internal/dispatch"
	"osmflex/internal/middle"
	"osmflex/internal/osm"
	"osmflex/internal/output"
	"osmflex/internal/parser/opl"
)

// recordingSink logs every call in order and optionally fails from a given
// call prefix onward.
//
// This fake is concurrency-safe so tests can run with -race even though the
// stream loop promises single-threaded sink access.
type recordingSink struct {
	failOn string
	err    error

	mu    sync.Mutex
	calls []string
}

func (s *recordingSink) record(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	if s.failOn != "" && strings.HasPrefix(call, s.failOn) {
		return s.err
	}
	return nil
}

func (s *recordingSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *recordingSink) AddNode(_ context.Context, n *osm.Node) error {
	return s.record(fmt.Sprintf("add_node(%d)", n.ID))
}

func (s *recordingSink) ModifyNode(_ context.Context, n *osm.Node) error {
	return s.record(fmt.Sprintf("modify_node(%d)", n.ID))
}

func (s *recordingSink) DeleteNode(_ context.Context, id osm.ID) error {
	return s.record(fmt.Sprintf("delete_node(%d)", id))
}

func (s *recordingSink) AddWay(_ context.Context, w *osm.Way) error {
	return s.record(fmt.Sprintf("add_way(%d)", w.ID))
}

func (s *recordingSink) ModifyWay(_ context.Context, w *osm.Way) error {
	return s.record(fmt.Sprintf("modify_way(%d)", w.ID))
}

func (s *recordingSink) DeleteWay(_ context.Context, id osm.ID) error {
	return s.record(fmt.Sprintf("delete_way(%d)", id))
}

func (s *recordingSink) AddRelation(_ context.Context, r *osm.Relation) error {
	return s.record(fmt.Sprintf("add_relation(%d)", r.ID))
}

func (s *recordingSink) ModifyRelation(_ context.Context, r *osm.Relation) error {
	return s.record(fmt.Sprintf("modify_relation(%d)", r.ID))
}

func (s *recordingSink) DeleteRelation(_ context.Context, id osm.ID) error {
	return s.record(fmt.Sprintf("delete_relation(%d)", id))
}

func TestRunStream_AppliesInOrder(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"n1 dV x13.4 y52.5",
		"w2 dV Nn1",
		"r3 dV Mw2@outer",
		"n1 dD",
	}, "\n")

	sink := &recordingSink{}
	if err := runStream(context.Background(), sink, strings.NewReader(input), false); err != nil {
		t.Fatalf("runStream: %v", err)
	}

	want := []string{"add_node(1)", "add_way(2)", "add_relation(3)", "delete_node(1)"}
	if got := sink.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls=%v, want %v", got, want)
	}
}

func TestRunStream_UpdateModeModifies(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"n5 dV x1 y2",
		"w6 dV Nn5",
		"r7 dV Mn5@stop",
		"w6 dD",
	}, "\n")

	sink := &recordingSink{}
	if err := runStream(context.Background(), sink, strings.NewReader(input), true); err != nil {
		t.Fatalf("runStream: %v", err)
	}

	// In update mode every visible object is a modify; the deleted flag
	// still wins.
	want := []string{"modify_node(5)", "modify_way(6)", "modify_relation(7)", "delete_way(6)"}
	if got := sink.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls=%v, want %v", got, want)
	}
}

func TestRunStream_SinkErrorStops(t *testing.T) {
	t.Parallel()

	errSink := errors.New("copy failed")
	input := strings.Join([]string{
		"n1 dV x1 y1",
		"w2 dV Nn1",
		"n3 dV x2 y2",
		"n4 dV x3 y3",
	}, "\n")

	sink := &recordingSink{failOn: "add_way", err: errSink}
	err := runStream(context.Background(), sink, strings.NewReader(input), false)
	if !errors.Is(err, errSink) {
		t.Fatalf("err=%v, want %v", err, errSink)
	}

	got := sink.snapshot()
	if len(got) == 0 || got[len(got)-1] != "add_way(2)" {
		t.Fatalf("calls=%v, want to end at add_way(2)", got)
	}
}

func TestRunStream_MalformedLineSkipped(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"n1 dV x1 y1",
		"bogus line",
		"w2 dV Nn1",
	}, "\n")

	sink := &recordingSink{}
	if err := runStream(context.Background(), sink, strings.NewReader(input), false); err != nil {
		t.Fatalf("runStream: %v", err)
	}

	want := []string{"add_node(1)", "add_way(2)"}
	if got := sink.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls=%v, want %v", got, want)
	}
}

func TestApply_ZeroChangeIsNoop(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	if err := apply(context.Background(), sink, opl.Change{}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := sink.snapshot(); len(got) != 0 {
		t.Fatalf("calls=%v, want none", got)
	}
}

func TestRunStream_RealPipeline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	mid, err := middle.New(ctx, middle.Config{Kind: "ram"})
	if err != nil {
		t.Fatalf("middle.New: %v", err)
	}
	out, err := output.New(ctx, "null", output.Env{})
	if err != nil {
		t.Fatalf("output.New: %v", err)
	}
	pipe, err := dispatch.New(mid, []output.Output{out}, dispatch.Options{})
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	if err := pipe.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	input := strings.Join([]string{
		"n1 dV x13.4 y52.5",
		"w2 dV Nn1,n1",
		"n1 dD",
	}, "\n")
	if err := runStream(ctx, pipe, strings.NewReader(input), false); err != nil {
		t.Fatalf("runStream: %v", err)
	}
	if err := pipe.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// The middle saw the whole stream: the way survives, the node was
	// deleted after being cached.
	if _, found, err := mid.NodeLocation(ctx, 1); err != nil || found {
		t.Fatalf("NodeLocation(1)=(found=%v, err=%v), want deleted", found, err)
	}
	nodes, found, err := mid.WayNodes(ctx, 2)
	if err != nil || !found {
		t.Fatalf("WayNodes(2)=(found=%v, err=%v), want found", found, err)
	}
	if want := []osm.ID{1, 1}; !reflect.DeepEqual(nodes, want) {
		t.Fatalf("WayNodes(2)=%v, want %v", nodes, want)
	}

	if err := pipe.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
