// Package flex implements the user-defined table layer: a schema compiler
// that turns dynamic table definitions into validated TableSchema values,
// and an append-only registry that hands out stable opaque handles to them.
//
// The flow is strictly two-phase. At startup the compiler runs
// single-threaded over the config's table definitions, validating names
// against the identifier grammar and schema/tablespace references against a
// database capability snapshot. After that the registry is read-only and the
// output sinks consult it through handles for column layout and DDL.
package flex

import (
	"fmt"
	"strings"

	"osmflex/internal/osm"
	"osmflex/internal/pgsql"
)

// ColumnType classifies a column for value conversion and for the default
// SQL type mapping. IDType and IDNum are reserved for the columns the
// compiler appends from the ids block.
type ColumnType uint8

const (
	ColText ColumnType = iota
	ColBoolean
	ColInt2
	ColInt4
	ColInt8
	ColReal
	ColJSON
	ColJSONB
	ColDirection
	ColGeometry
	ColPoint
	ColLineString
	ColPolygon
	ColMultiPoint
	ColMultiLineString
	ColMultiPolygon
	ColGeometryCollection
	ColArea
	ColIDType
	ColIDNum
)

var columnTypeNames = map[ColumnType]string{
	ColText:               "text",
	ColBoolean:            "boolean",
	ColInt2:               "int2",
	ColInt4:               "int4",
	ColInt8:               "int8",
	ColReal:               "real",
	ColJSON:               "json",
	ColJSONB:              "jsonb",
	ColDirection:          "direction",
	ColGeometry:           "geometry",
	ColPoint:              "point",
	ColLineString:         "linestring",
	ColPolygon:            "polygon",
	ColMultiPoint:         "multipoint",
	ColMultiLineString:    "multilinestring",
	ColMultiPolygon:       "multipolygon",
	ColGeometryCollection: "geometrycollection",
	ColArea:               "area",
	ColIDType:             "id_type",
	ColIDNum:              "id_num",
}

var columnTypesByName = map[string]ColumnType{
	"text":               ColText,
	"bool":               ColBoolean,
	"boolean":            ColBoolean,
	"int2":               ColInt2,
	"smallint":           ColInt2,
	"int4":               ColInt4,
	"int":                ColInt4,
	"integer":            ColInt4,
	"int8":               ColInt8,
	"bigint":             ColInt8,
	"real":               ColReal,
	"json":               ColJSON,
	"jsonb":              ColJSONB,
	"direction":          ColDirection,
	"geometry":           ColGeometry,
	"point":              ColPoint,
	"linestring":         ColLineString,
	"polygon":            ColPolygon,
	"multipoint":         ColMultiPoint,
	"multilinestring":    ColMultiLineString,
	"multipolygon":       ColMultiPolygon,
	"geometrycollection": ColGeometryCollection,
	"area":               ColArea,
	"id_type":            ColIDType,
	"id_num":             ColIDNum,
}

// ParseColumnType maps a type tag from a column definition to a ColumnType.
func ParseColumnType(s string) (ColumnType, error) {
	t, ok := columnTypesByName[s]
	if !ok {
		return ColText, fmt.Errorf("Unknown column type '%s'.", s)
	}
	return t, nil
}

func (t ColumnType) String() string {
	if name, ok := columnTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// IsGeometry reports whether the type is one of the PostGIS geometry kinds.
// Area is not a geometry type; it stores a computed value but still carries
// a projection.
func (t ColumnType) IsGeometry() bool {
	return t >= ColGeometry && t <= ColGeometryCollection
}

// AcceptsProjection reports whether a column of this type may carry a
// 'projection' field.
func (t ColumnType) AcceptsProjection() bool {
	return t.IsGeometry() || t == ColArea
}

// geometrySQLNames are the type names used inside geometry(...) modifiers.
var geometrySQLNames = map[ColumnType]string{
	ColGeometry:           "GEOMETRY",
	ColPoint:              "POINT",
	ColLineString:         "LINESTRING",
	ColPolygon:            "POLYGON",
	ColMultiPoint:         "MULTIPOINT",
	ColMultiLineString:    "MULTILINESTRING",
	ColMultiPolygon:       "MULTIPOLYGON",
	ColGeometryCollection: "GEOMETRYCOLLECTION",
}

// DefaultSQLType returns the SQL type used when the column definition gives
// no sql_type override.
func (t ColumnType) DefaultSQLType(srid int) string {
	if t.IsGeometry() {
		return fmt.Sprintf("geometry(%s,%d)", geometrySQLNames[t], srid)
	}
	switch t {
	case ColText:
		return "text"
	case ColBoolean:
		return "boolean"
	case ColInt2, ColDirection:
		return "int2"
	case ColInt4:
		return "int4"
	case ColInt8, ColIDNum:
		return "int8"
	case ColReal, ColArea:
		return "real"
	case ColJSON:
		return "json"
	case ColJSONB:
		return "jsonb"
	case ColIDType:
		return "char(1)"
	default:
		return "text"
	}
}

// SRID aliases accepted in the 'projection' field.
const (
	SRIDWebMercator = 3857
	SRIDLatLong     = 4326
)

// ParseSRID resolves a projection given as an alias or a numeric EPSG code.
func ParseSRID(s string) (int, bool) {
	switch s {
	case "merc":
		return SRIDWebMercator, true
	case "latlong":
		return SRIDLatLong, true
	}
	var srid int
	if _, err := fmt.Sscanf(s, "%d", &srid); err != nil || srid <= 0 {
		return 0, false
	}
	// Reject trailing garbage like "3857x".
	if fmt.Sprintf("%d", srid) != s {
		return 0, false
	}
	return srid, true
}

// ColumnSchema is one physical column of a compiled table.
type ColumnSchema struct {
	Name string
	Type ColumnType

	// SQLType overrides the default SQL type mapping when non-empty. The
	// text is embedded into DDL verbatim.
	SQLType string

	NotNull bool

	// CreateOnly columns are part of the CREATE TABLE statement but are
	// never written by the output sinks, so triggers or defaults can own
	// them.
	CreateOnly bool

	// SRID applies to geometry and area columns only.
	SRID int
}

// EffectiveSQLType is the SQL type actually used in DDL.
func (c *ColumnSchema) EffectiveSQLType() string {
	if c.SQLType != "" {
		return c.SQLType
	}
	return c.Type.DefaultSQLType(c.SRID)
}

// SQLDef renders the column definition fragment of a CREATE TABLE.
func (c *ColumnSchema) SQLDef() string {
	def := pgsql.QuoteIdent(c.Name) + " " + c.EffectiveSQLType()
	if c.NotNull {
		def += " NOT NULL"
	}
	return def
}

// IndexPolicy controls when the index over the id column is built.
type IndexPolicy uint8

const (
	// IndexAuto builds the id index only when the run needs it for
	// updates.
	IndexAuto IndexPolicy = iota
	// IndexAlways builds it unconditionally.
	IndexAlways
)

// IDColumnSpec describes how rows of a table relate back to the objects
// they came from. The id (and optional type) columns themselves are also
// present in TableSchema.Columns; this records the routing metadata.
type IDColumnSpec struct {
	// Type restricts which object kind feeds the table. TypeAny accepts
	// all kinds and usually pairs with a TypeColumn discriminator.
	Type osm.Type

	Column      string
	CreateIndex IndexPolicy

	// TypeColumn is the discriminator column name, "" when unset.
	TypeColumn string
}

// ClusterMode is the cluster-by-geometry tri-state. The zero value is
// ClusterAuto: cluster when there is a geometry column to cluster by.
type ClusterMode uint8

const (
	ClusterAuto ClusterMode = iota
	ClusterNo
)

// IndexSchema is one index of a compiled table. Either Columns or
// Expression is set, never both.
type IndexSchema struct {
	Method     string
	Columns    []string
	Expression string

	// Fillfactor of 0 means unset, leave the server default.
	Fillfactor int

	Tablespace string
	Unique     bool
	Where      string
}

// CreateSQL renders the CREATE INDEX statement for the given qualified
// table name. Indexes are unnamed; the server assigns names.
func (ix *IndexSchema) CreateSQL(table string) string {
	var b strings.Builder
	b.WriteString("CREATE ")
	if ix.Unique {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX ON ")
	b.WriteString(table)
	b.WriteString(" USING ")
	b.WriteString(ix.Method)
	b.WriteString(" (")
	if ix.Expression != "" {
		b.WriteString(ix.Expression)
	} else {
		for i, col := range ix.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pgsql.QuoteIdent(col))
		}
	}
	b.WriteString(")")
	if ix.Fillfactor > 0 {
		fmt.Fprintf(&b, " WITH (fillfactor = %d)", ix.Fillfactor)
	}
	b.WriteString(pgsql.TablespaceClause(ix.Tablespace))
	if ix.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(ix.Where)
	}
	return b.String()
}

// TableSchema is one compiled table definition. It is created by the
// compiler, immutable once registered, and read by the output sinks for the
// process lifetime.
type TableSchema struct {
	Name   string
	Schema string

	Cluster         ClusterMode
	DataTablespace  string
	IndexTablespace string

	// IDColumn is the zero value when the table has no id column; check
	// with HasIDColumn.
	IDColumn IDColumnSpec

	// Columns in declaration order, which is also physical column order.
	// Includes the id and discriminator columns appended from the ids
	// block, ahead of the user-declared columns.
	Columns []ColumnSchema

	Indexes []IndexSchema
}

// HasIDColumn reports whether the table can be addressed by object id,
// which updates and deletes require.
func (t *TableSchema) HasIDColumn() bool {
	return t.IDColumn.Column != ""
}

// GeometryColumn returns the first geometry column, if any.
func (t *TableSchema) GeometryColumn() (*ColumnSchema, bool) {
	for i := range t.Columns {
		if t.Columns[i].Type.IsGeometry() {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// HasGeometryColumn reports whether any column is geometry-typed.
func (t *TableSchema) HasGeometryColumn() bool {
	_, ok := t.GeometryColumn()
	return ok
}

// ClusterByGeometry reports whether rows should be physically ordered by
// the geometry column after load.
func (t *TableSchema) ClusterByGeometry() bool {
	return t.Cluster == ClusterAuto && t.HasGeometryColumn()
}

// LoadColumns returns the columns written during bulk load, excluding
// create-only ones.
func (t *TableSchema) LoadColumns() []ColumnSchema {
	out := make([]ColumnSchema, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.CreateOnly {
			continue
		}
		out = append(out, c)
	}
	return out
}

// QualifiedName is the quoted, optionally schema-qualified table name.
func (t *TableSchema) QualifiedName() string {
	return pgsql.QualifiedName(t.Schema, t.Name)
}

// CreateSQL renders the CREATE TABLE statement.
func (t *TableSchema) CreateSQL() string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(t.QualifiedName())
	b.WriteString(" (")
	for i := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Columns[i].SQLDef())
	}
	b.WriteString(")")
	b.WriteString(pgsql.TablespaceClause(t.DataTablespace))
	return b.String()
}

// DropSQL renders the DROP TABLE statement used before a fresh import.
func (t *TableSchema) DropSQL() string {
	return "DROP TABLE IF EXISTS " + t.QualifiedName() + " CASCADE"
}
