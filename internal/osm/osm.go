// Package osm defines the typed entity model shared by the parser, the middle
// cache, the dispatch pipeline and the output sinks: nodes, ways and relations
// plus the identifiers, tags and metadata they carry.
//
// Entities are transient. The parser creates them, the dispatch pipeline
// forwards them through exactly one call, and any component that needs them
// afterwards (middle cache, outputs) makes its own copy.
package osm

import (
	"github.com/go-spatial/geom"
)

// ID identifies an object within its type namespace. Node, way and relation
// IDs are separate ID spaces; an ID alone is meaningless without a Type.
type ID int64

// Type is the object kind. TypeAny is the wildcard used by id columns that
// accept several kinds; TypeArea marks synthetic areas assembled from closed
// ways or multipolygon relations.
type Type uint8

const (
	TypeAny Type = iota
	TypeNode
	TypeWay
	TypeRelation
	TypeArea
)

func (t Type) String() string {
	switch t {
	case TypeNode:
		return "node"
	case TypeWay:
		return "way"
	case TypeRelation:
		return "relation"
	case TypeArea:
		return "area"
	case TypeAny:
		return "any"
	default:
		return "unknown"
	}
}

// Discriminator returns the single-letter code stored in a type column when
// one table holds several object kinds.
func (t Type) Discriminator() string {
	switch t {
	case TypeNode:
		return "N"
	case TypeWay:
		return "W"
	case TypeRelation:
		return "R"
	case TypeArea:
		return "A"
	default:
		return "X"
	}
}

// ParseType maps a configuration string to a Type. The boolean reports
// whether the string named a known type.
func ParseType(s string) (Type, bool) {
	switch s {
	case "node":
		return TypeNode, true
	case "way":
		return TypeWay, true
	case "relation":
		return TypeRelation, true
	case "area":
		return TypeArea, true
	case "any":
		return TypeAny, true
	default:
		return TypeAny, false
	}
}

// Tag is one key/value pair on an object.
type Tag struct {
	Key   string
	Value string
}

// Tags is the ordered tag list of an object. Order is preserved from the
// input; lookups are linear, which is fine for the tag counts seen in
// practice (a handful per object).
type Tags []Tag

// Get returns the value for key and whether the key is present.
func (t Tags) Get(key string) (string, bool) {
	for _, tag := range t {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

// Has reports whether key is present.
func (t Tags) Has(key string) bool {
	_, ok := t.Get(key)
	return ok
}

// Clone returns a copy that shares no backing storage with t.
func (t Tags) Clone() Tags {
	if t == nil {
		return nil
	}
	out := make(Tags, len(t))
	copy(out, t)
	return out
}

// Metadata carries the optional version/timestamp/changeset attributes of an
// object. It is attached to entity snapshots only when the pipeline runs in
// extra-attributes mode; otherwise snapshots carry the zero Metadata.
type Metadata struct {
	Version   int32
	Changeset int64
	// Timestamp is seconds since the Unix epoch, 0 when unknown. Kept as an
	// integer so snapshots stay comparable and cheap to copy.
	Timestamp int64
	User      string
}

// Node is a single point with tags.
type Node struct {
	ID       ID
	Tags     Tags
	Meta     Metadata
	Location geom.Point // lon/lat (x=lon, y=lat)
}

// StripMetadata returns a copy of n with zero Metadata. Tags are shared with
// the receiver; callers that keep the copy long-term must Clone the tags.
func (n *Node) StripMetadata() *Node {
	c := *n
	c.Meta = Metadata{}
	return &c
}

// Way is an ordered list of node references with tags.
type Way struct {
	ID    ID
	Tags  Tags
	Meta  Metadata
	Nodes []ID
}

// StripMetadata returns a copy of w with zero Metadata.
func (w *Way) StripMetadata() *Way {
	c := *w
	c.Meta = Metadata{}
	return &c
}

// Member is one entry of a relation: a typed reference plus its role.
type Member struct {
	Type Type
	Ref  ID
	Role string
}

// Relation groups nodes, ways and other relations into one object.
type Relation struct {
	ID      ID
	Tags    Tags
	Meta    Metadata
	Members []Member
}

// StripMetadata returns a copy of r with zero Metadata.
func (r *Relation) StripMetadata() *Relation {
	c := *r
	c.Meta = Metadata{}
	return &c
}
