package flex

import (
	"errors"
	"fmt"

	"osmflex/internal/config"
	"osmflex/internal/osm"
	"osmflex/internal/pgsql"
)

// Logger receives compiler warnings. *log.Logger satisfies it; nil disables
// warnings.
type Logger interface {
	Printf(format string, v ...any)
}

// CapabilityChecker answers whether a referenced schema or tablespace
// exists on the target database. *pgsql.Capabilities satisfies it.
type CapabilityChecker interface {
	HasSchema(name string) bool
	HasTablespace(name string) bool
}

// DuplicateTableError reports a table name that is already registered.
type DuplicateTableError struct {
	Name string
}

func (e *DuplicateTableError) Error() string {
	return fmt.Sprintf("Table with name '%s' already exists.", e.Name)
}

// Compiler turns table definitions into registered TableSchema values.
// It runs single-threaded at startup, before any ingestion.
type Compiler struct {
	Registry *Registry
	Caps     CapabilityChecker

	// Updatable is true when the imported data will receive incremental
	// updates later. It decides the fillfactor of synthesized geometry
	// indexes.
	Updatable bool

	Logger Logger
}

func (c *Compiler) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

// DefineTable compiles one table definition and registers the result. The
// returned handle is the only way the table is referenced afterwards.
//
// The schema is staged locally and appended to the registry only when every
// step has succeeded, so a failed definition leaves no trace.
//
// Errors: *config.ConfigError, *pgsql.IdentifierError,
// *pgsql.CapabilityError, *DuplicateTableError, or a plain error describing
// the offending field.
func (c *Compiler) DefineTable(def config.Value) (TableHandle, error) {
	if !def.IsTable() {
		return TableHandle{}, errors.New("Argument #1 to 'define_table' must be a table.")
	}

	table, err := c.createTable(def)
	if err != nil {
		return TableHandle{}, err
	}
	if err := c.setupIDColumns(def, table); err != nil {
		return TableHandle{}, err
	}
	if err := c.setupColumns(def, table); err != nil {
		return TableHandle{}, err
	}
	if err := c.setupIndexes(def, table); err != nil {
		return TableHandle{}, err
	}

	return c.Registry.Add(table), nil
}

// DefineTables compiles every definition of the config's tables array, in
// order. The first failure aborts the run; nothing defined later is
// compiled.
func (c *Compiler) DefineTables(defs []config.Value) ([]TableHandle, error) {
	handles := make([]TableHandle, 0, len(defs))
	for i, def := range defs {
		h, err := c.DefineTable(def)
		if err != nil {
			return nil, fmt.Errorf("table definition #%d: %w", i+1, err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// createTable handles the top-level table fields: name, schema, cluster and
// the two tablespaces.
func (c *Compiler) createTable(def config.Value) (*TableSchema, error) {
	name, err := def.RequireString("name", "The table")
	if err != nil {
		return nil, err
	}
	if err := pgsql.CheckIdentifier(name, "table names"); err != nil {
		return nil, err
	}
	if _, exists := c.Registry.FindByName(name); exists {
		return nil, &DuplicateTableError{Name: name}
	}

	table := &TableSchema{Name: name}

	// A non-string schema field is ignored, not rejected.
	if schema, ok := def.Field("schema").AsString(); ok {
		if err := pgsql.CheckIdentifier(schema, "schema field"); err != nil {
			return nil, err
		}
		if !c.Caps.HasSchema(schema) {
			return nil, &pgsql.CapabilityError{Kind: "schema", Name: schema}
		}
		table.Schema = schema
	}

	cluster := def.Field("cluster")
	switch cluster.Kind() {
	case config.KindString:
		s, _ := cluster.AsString()
		switch s {
		case "auto":
			table.Cluster = ClusterAuto
		case "no":
			table.Cluster = ClusterNo
		default:
			return nil, fmt.Errorf(
				"Unknown value '%s' for 'cluster' table option (use 'auto' or 'no').", s)
		}
	case config.KindNil:
	default:
		return nil, errors.New("Unknown value for 'cluster' table option: Must be string.")
	}

	if ts, ok := def.Field("data_tablespace").AsString(); ok {
		if err := c.checkTablespace(ts, "data_tablespace field"); err != nil {
			return nil, err
		}
		table.DataTablespace = ts
	}
	if ts, ok := def.Field("index_tablespace").AsString(); ok {
		if err := c.checkTablespace(ts, "index_tablespace field"); err != nil {
			return nil, err
		}
		table.IndexTablespace = ts
	}

	return table, nil
}

func (c *Compiler) checkTablespace(name, context string) error {
	if err := pgsql.CheckIdentifier(name, context); err != nil {
		return err
	}
	if !c.Caps.HasTablespace(name) {
		return &pgsql.CapabilityError{Kind: "tablespace", Name: name}
	}
	return nil
}

// setupIDColumns reads the optional ids block and appends the id column
// (and, for type "any", the optional discriminator column) to the table.
func (c *Compiler) setupIDColumns(def config.Value, table *TableSchema) error {
	ids := def.Field("ids")
	if !ids.IsTable() {
		c.logf("Table '%s' doesn't have an id column. Two-stage processing,"+
			" updates and expire will not work!", table.Name)
		return nil
	}

	typ, err := ids.RequireString("type", "The ids field")
	if err != nil {
		return err
	}
	switch typ {
	case "node":
		table.IDColumn.Type = osm.TypeNode
	case "way":
		table.IDColumn.Type = osm.TypeWay
	case "relation":
		table.IDColumn.Type = osm.TypeRelation
	case "area":
		table.IDColumn.Type = osm.TypeArea
	case "any":
		table.IDColumn.Type = osm.TypeAny
		tc := ids.Field("type_column")
		if name, ok := tc.AsString(); ok {
			if err := pgsql.CheckIdentifier(name, "column names"); err != nil {
				return err
			}
			table.Columns = append(table.Columns, ColumnSchema{
				Name:    name,
				Type:    ColIDType,
				NotNull: true,
			})
			table.IDColumn.TypeColumn = name
		} else if !tc.IsNil() {
			return errors.New("type_column must be a string or nil.")
		} else {
			c.logf("Table '%s' has an id column of type 'any' but no"+
				" 'type_column'. The object type will not be stored!", table.Name)
		}
	default:
		return fmt.Errorf("Unknown ids type: %s.", typ)
	}

	name, err := ids.RequireString("id_column", "The ids field")
	if err != nil {
		return err
	}
	if err := pgsql.CheckIdentifier(name, "column names"); err != nil {
		return err
	}

	createIndex, err := ids.GetString("create_index", "The ids field", "auto")
	if err != nil {
		return err
	}
	switch createIndex {
	case "auto":
	case "always":
		table.IDColumn.CreateIndex = IndexAlways
	default:
		return fmt.Errorf("Unknown value '%s' for 'create_index' field of ids", createIndex)
	}

	table.Columns = append(table.Columns, ColumnSchema{
		Name:    name,
		Type:    ColIDNum,
		NotNull: true,
	})
	table.IDColumn.Column = name
	return nil
}

// setupColumns reads the columns array. The array may be left out entirely
// when the ids block already contributed an id column.
func (c *Compiler) setupColumns(def config.Value, table *TableSchema) error {
	cols := def.Field("columns")
	numColumns := 0

	switch cols.Kind() {
	case config.KindNil:
	case config.KindArray:
		err := cols.Each(func(i int, entry config.Value) error {
			if !entry.IsTable() {
				return errors.New("The entries in the 'columns' array must be tables.")
			}
			if err := c.addColumn(entry, table); err != nil {
				return err
			}
			numColumns++
			return nil
		})
		if err != nil {
			return err
		}
	case config.KindTable:
		return errors.New("The 'columns' field must contain an array.")
	default:
		return fmt.Errorf("No 'columns' field (or not an array) in table '%s'.", table.Name)
	}

	if numColumns == 0 && !table.HasIDColumn() {
		return fmt.Errorf("No columns defined for table '%s'.", table.Name)
	}
	return nil
}

func (c *Compiler) addColumn(entry config.Value, table *TableSchema) error {
	typeTag, err := entry.GetString("type", "Column entry", "text")
	if err != nil {
		return err
	}
	name, err := entry.RequireString("column", "Column entry")
	if err != nil {
		return err
	}
	if err := pgsql.CheckIdentifier(name, "column names"); err != nil {
		return err
	}
	sqlType, err := entry.GetString("sql_type", "Column entry", "")
	if err != nil {
		return err
	}

	typ, err := ParseColumnType(typeTag)
	if err != nil {
		return err
	}
	col := ColumnSchema{Name: name, Type: typ, SQLType: sqlType}
	if typ.AcceptsProjection() {
		col.SRID = SRIDWebMercator
	}

	if col.NotNull, err = entry.GetBool("not_null", "Entry 'not_null'", false); err != nil {
		return err
	}
	if col.CreateOnly, err = entry.GetBool("create_only", "Entry 'create_only'", false); err != nil {
		return err
	}

	if proj := entry.Field("projection"); !proj.IsNil() {
		if !typ.AcceptsProjection() {
			return errors.New("Projection can only be set on geometry and area columns.")
		}
		srid, err := projectionSRID(proj)
		if err != nil {
			return err
		}
		col.SRID = srid
	}

	table.Columns = append(table.Columns, col)
	return nil
}

// projectionSRID resolves the projection field, which may be a name alias
// or a numeric EPSG code.
func projectionSRID(v config.Value) (int, error) {
	if s, ok := v.AsString(); ok {
		srid, ok := ParseSRID(s)
		if !ok {
			return 0, fmt.Errorf("Unknown projection '%s'.", s)
		}
		return srid, nil
	}
	if n, ok := v.AsInt(); ok && n > 0 {
		return int(n), nil
	}
	return 0, errors.New("The 'projection' field must be a string or a positive integer.")
}

// setupIndexes reads the indexes array. When it is absent and the table has
// a geometry column, one gist index over that column is synthesized.
func (c *Compiler) setupIndexes(def config.Value, table *TableSchema) error {
	ixs := def.Field("indexes")
	if ixs.IsNil() {
		if geom, ok := table.GeometryColumn(); ok {
			ix := IndexSchema{
				Method:     "gist",
				Columns:    []string{geom.Name},
				Tablespace: table.IndexTablespace,
			}
			if !c.Updatable {
				// Nothing will touch these rows again, pack the pages full.
				ix.Fillfactor = 100
			}
			table.Indexes = append(table.Indexes, ix)
		}
		return nil
	}

	if ixs.IsTable() {
		return errors.New("The 'indexes' field must contain an array.")
	}
	if !ixs.IsArray() {
		return fmt.Errorf("The 'indexes' field in definition of table '%s' is not an array.",
			table.Name)
	}

	return ixs.Each(func(i int, entry config.Value) error {
		if !entry.IsTable() {
			return errors.New("The entries in the 'indexes' array must be tables.")
		}
		return c.compileIndex(entry, table)
	})
}

func (c *Compiler) compileIndex(entry config.Value, table *TableSchema) error {
	method, err := entry.RequireString("method", "The index definition")
	if err != nil {
		return err
	}
	if err := pgsql.CheckIdentifier(method, "index methods"); err != nil {
		return err
	}
	ix := IndexSchema{Method: method}

	colField := entry.Field("column")
	switch colField.Kind() {
	case config.KindNil:
	case config.KindString:
		name, _ := colField.AsString()
		if err := pgsql.CheckIdentifier(name, "column names"); err != nil {
			return err
		}
		ix.Columns = []string{name}
	case config.KindArray:
		err := colField.Each(func(i int, el config.Value) error {
			name, ok := el.AsString()
			if !ok {
				return errors.New("The 'column' field in an index definition" +
					" must contain a string or an array of strings.")
			}
			if err := pgsql.CheckIdentifier(name, "column names"); err != nil {
				return err
			}
			ix.Columns = append(ix.Columns, name)
			return nil
		})
		if err != nil {
			return err
		}
	default:
		return errors.New("The 'column' field in an index definition" +
			" must contain a string or an array of strings.")
	}

	if ix.Expression, err = entry.GetString("expression", "The index definition", ""); err != nil {
		return err
	}
	if len(ix.Columns) > 0 && ix.Expression != "" {
		return errors.New("You can not set both 'column' and 'expression' fields in an index definition.")
	}
	if len(ix.Columns) == 0 && ix.Expression == "" {
		return errors.New("You must set either the 'column' or the 'expression' field in an index definition.")
	}

	fillfactor, err := entry.GetNumber("fillfactor", "The index definition", 0)
	if err != nil {
		return err
	}
	if fillfactor != 0 {
		if fillfactor != float64(int(fillfactor)) || fillfactor < 10 || fillfactor > 100 {
			return errors.New("The 'fillfactor' field in an index definition" +
				" must contain an integer between 10 and 100.")
		}
		ix.Fillfactor = int(fillfactor)
	}

	ts, err := entry.GetString("tablespace", "The index definition", "")
	if err != nil {
		return err
	}
	if ts != "" {
		if err := c.checkTablespace(ts, "tablespace field"); err != nil {
			return err
		}
		ix.Tablespace = ts
	}

	if ix.Unique, err = entry.GetBool("unique", "The index definition", false); err != nil {
		return err
	}
	if ix.Where, err = entry.GetString("where", "The index definition", ""); err != nil {
		return err
	}

	table.Indexes = append(table.Indexes, ix)
	return nil
}
