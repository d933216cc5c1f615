package flex

import "fmt"

// HandleKind is the type discriminant carried by handles that cross the
// configuration boundary. Only table handles exist today; the tag is what
// lets consumers reject a foreign handle instead of misreading its index.
type HandleKind uint8

const (
	HandleNone HandleKind = iota
	HandleTable
)

func (k HandleKind) String() string {
	switch k {
	case HandleTable:
		return "table"
	default:
		return "none"
	}
}

// TableHandle is the opaque token returned for a compiled table. It stores
// a registry position, never a pointer, so registry growth cannot
// invalidate it. The zero value is no handle.
type TableHandle struct {
	kind  HandleKind
	index int
}

func (h TableHandle) Kind() HandleKind { return h.kind }

// Index is the stable registry position. Only meaningful when Kind is
// HandleTable.
func (h TableHandle) Index() int { return h.index }

// Registry is the append-only collection of compiled table schemas.
// It is mutated only by the compiler, single-threaded, at startup;
// afterwards it is read-only and safe to share.
type Registry struct {
	tables []*TableSchema
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends a schema and returns its handle. Name uniqueness is the
// compiler's job; Add does not re-check it.
func (r *Registry) Add(t *TableSchema) TableHandle {
	r.tables = append(r.tables, t)
	return TableHandle{kind: HandleTable, index: len(r.tables) - 1}
}

func (r *Registry) Len() int {
	return len(r.tables)
}

// At returns the schema at a known-valid position. It panics on a bad
// index just like slice indexing; use Resolve for handles from outside.
func (r *Registry) At(i int) *TableSchema {
	return r.tables[i]
}

// Resolve returns the schema a handle refers to, rejecting zero and
// foreign handles.
func (r *Registry) Resolve(h TableHandle) (*TableSchema, error) {
	if h.kind != HandleTable {
		return nil, fmt.Errorf("handle of kind '%s' is not a table handle", h.kind)
	}
	if h.index < 0 || h.index >= len(r.tables) {
		return nil, fmt.Errorf("table handle index %d out of range (registry has %d tables)",
			h.index, len(r.tables))
	}
	return r.tables[h.index], nil
}

// FindByName returns the position of the named table.
func (r *Registry) FindByName(name string) (int, bool) {
	for i, t := range r.tables {
		if t.Name == name {
			return i, true
		}
	}
	return 0, false
}
