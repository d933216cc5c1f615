package output

import (
	"context"
	"testing"

	"osmflex/internal/osm"
)

type stubOutput struct{ name string }

func (s *stubOutput) Name() string { return s.name }

func (s *stubOutput) Start(ctx context.Context) error { return nil }
func (s *stubOutput) Flush(ctx context.Context) error { return nil }
func (s *stubOutput) Stop(ctx context.Context) error  { return nil }

func (s *stubOutput) AddNode(ctx context.Context, n *osm.Node) error    { return nil }
func (s *stubOutput) ModifyNode(ctx context.Context, n *osm.Node) error { return nil }
func (s *stubOutput) DeleteNode(ctx context.Context, id osm.ID) error   { return nil }

func (s *stubOutput) AddWay(ctx context.Context, w *osm.Way) error    { return nil }
func (s *stubOutput) ModifyWay(ctx context.Context, w *osm.Way) error { return nil }
func (s *stubOutput) DeleteWay(ctx context.Context, id osm.ID) error  { return nil }

func (s *stubOutput) AddRelation(ctx context.Context, r *osm.Relation) error    { return nil }
func (s *stubOutput) ModifyRelation(ctx context.Context, r *osm.Relation) error { return nil }
func (s *stubOutput) DeleteRelation(ctx context.Context, id osm.ID) error       { return nil }

func TestRegisterAndNew(t *testing.T) {
	Register("stub", func(ctx context.Context, env Env) (Output, error) {
		return &stubOutput{name: "stub"}, nil
	})

	out, err := New(context.Background(), "stub", Env{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if out.Name() != "stub" {
		t.Fatalf("Name() = %q, want %q", out.Name(), "stub")
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New(context.Background(), "", Env{}); err == nil {
		t.Fatal("New accepted empty kind")
	}
	if _, err := New(context.Background(), "no-such-sink", Env{}); err == nil {
		t.Fatal("New accepted unknown kind")
	}
}

func TestRegisterPanics(t *testing.T) {
	mustPanic := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatalf("%s did not panic", name)
			}
		}()
		fn()
	}

	f := func(ctx context.Context, env Env) (Output, error) { return &stubOutput{}, nil }

	mustPanic("empty kind", func() { Register("", f) })
	mustPanic("nil factory", func() { Register("nilfactory", nil) })

	Register("dupe", f)
	mustPanic("duplicate kind", func() { Register("dupe", f) })
}
