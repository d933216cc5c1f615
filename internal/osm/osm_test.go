package osm

import (
	"testing"

	"github.com/go-spatial/geom"
)

func TestParseType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in     string
		want   Type
		wantOK bool
	}{
		{"node", TypeNode, true},
		{"way", TypeWay, true},
		{"relation", TypeRelation, true},
		{"area", TypeArea, true},
		{"any", TypeAny, true},
		{"", TypeAny, false},
		{"Node", TypeAny, false},
		{"nodes", TypeAny, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseType(tc.in)
			if ok != tc.wantOK {
				t.Fatalf("ParseType(%q) ok = %v, want %v", tc.in, ok, tc.wantOK)
			}
			if got != tc.want {
				t.Fatalf("ParseType(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestTypeRoundTrip(t *testing.T) {
	t.Parallel()

	for _, typ := range []Type{TypeNode, TypeWay, TypeRelation, TypeArea, TypeAny} {
		got, ok := ParseType(typ.String())
		if !ok || got != typ {
			t.Fatalf("ParseType(%q) = %v, %v; want %v, true", typ.String(), got, ok, typ)
		}
	}
}

func TestDiscriminator(t *testing.T) {
	t.Parallel()

	cases := []struct {
		typ  Type
		want string
	}{
		{TypeNode, "N"},
		{TypeWay, "W"},
		{TypeRelation, "R"},
		{TypeArea, "A"},
	}
	for _, tc := range cases {
		if got := tc.typ.Discriminator(); got != tc.want {
			t.Fatalf("%v.Discriminator() = %q, want %q", tc.typ, got, tc.want)
		}
	}
}

func TestTagsGet(t *testing.T) {
	t.Parallel()

	tags := Tags{
		{Key: "highway", Value: "residential"},
		{Key: "name", Value: "Elm Street"},
		{Key: "name", Value: "shadowed"},
	}

	if v, ok := tags.Get("highway"); !ok || v != "residential" {
		t.Fatalf("Get(highway) = %q, %v; want residential, true", v, ok)
	}
	// First occurrence wins on duplicate keys.
	if v, _ := tags.Get("name"); v != "Elm Street" {
		t.Fatalf("Get(name) = %q, want first occurrence", v)
	}
	if _, ok := tags.Get("building"); ok {
		t.Fatal("Get(building) reported present on absent key")
	}
	if !tags.Has("name") || tags.Has("building") {
		t.Fatal("Has gave wrong answer")
	}
}

func TestTagsClone(t *testing.T) {
	t.Parallel()

	orig := Tags{{Key: "amenity", Value: "cafe"}}
	c := orig.Clone()
	c[0].Value = "bar"
	if orig[0].Value != "cafe" {
		t.Fatal("Clone shares backing storage with original")
	}
	if got := Tags(nil).Clone(); got != nil {
		t.Fatalf("Clone of nil = %v, want nil", got)
	}
}

func TestStripMetadata(t *testing.T) {
	t.Parallel()

	meta := Metadata{Version: 3, Changeset: 77, Timestamp: 1700000000, User: "mapper"}

	n := &Node{ID: 42, Tags: Tags{{Key: "amenity", Value: "cafe"}}, Meta: meta, Location: geom.Point{13.4, 52.5}}
	sn := n.StripMetadata()
	if sn.Meta != (Metadata{}) {
		t.Fatalf("node copy kept metadata: %+v", sn.Meta)
	}
	if sn.ID != n.ID || sn.Location != n.Location {
		t.Fatal("node copy lost id or location")
	}
	if n.Meta != meta {
		t.Fatal("StripMetadata mutated the original node")
	}

	w := &Way{ID: 7, Meta: meta, Nodes: []ID{1, 2, 3}}
	sw := w.StripMetadata()
	if sw.Meta != (Metadata{}) || w.Meta != meta {
		t.Fatal("way StripMetadata wrong")
	}
	if len(sw.Nodes) != 3 {
		t.Fatal("way copy lost node refs")
	}

	r := &Relation{ID: 9, Meta: meta, Members: []Member{{Type: TypeWay, Ref: 7, Role: "outer"}}}
	sr := r.StripMetadata()
	if sr.Meta != (Metadata{}) || r.Meta != meta {
		t.Fatal("relation StripMetadata wrong")
	}
	if len(sr.Members) != 1 || sr.Members[0].Role != "outer" {
		t.Fatal("relation copy lost members")
	}
}
