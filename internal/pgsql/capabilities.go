package pgsql

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Querier is the read-only slice of a pgx pool used to take the capability
// snapshot.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// CapabilityError reports a referenced schema or tablespace that does not
// exist on the target database. Kind is "schema" or "tablespace".
type CapabilityError struct {
	Kind string
	Name string
}

func (e *CapabilityError) Error() string {
	switch e.Kind {
	case "schema":
		return fmt.Sprintf("Schema '%s' not available. Use 'CREATE SCHEMA \"%s\";' to create it.",
			e.Name, e.Name)
	case "tablespace":
		return fmt.Sprintf("Tablespace '%s' not available. Use 'CREATE TABLESPACE \"%s\" ...;' to create it.",
			e.Name, e.Name)
	default:
		return fmt.Sprintf("Capability '%s' of kind '%s' not available.", e.Name, e.Kind)
	}
}

// Capabilities is a snapshot of the schemas and tablespaces present on the
// target database. It is taken once before schema compilation begins;
// compilation never re-queries the database.
type Capabilities struct {
	schemas     map[string]struct{}
	tablespaces map[string]struct{}
}

// LoadCapabilities takes the snapshot from a live connection.
func LoadCapabilities(ctx context.Context, db Querier) (*Capabilities, error) {
	caps := &Capabilities{
		schemas:     make(map[string]struct{}),
		tablespaces: make(map[string]struct{}),
	}
	if err := loadNames(ctx, db, "SELECT nspname FROM pg_catalog.pg_namespace", caps.schemas); err != nil {
		return nil, fmt.Errorf("load schema names: %w", err)
	}
	if err := loadNames(ctx, db, "SELECT spcname FROM pg_catalog.pg_tablespace", caps.tablespaces); err != nil {
		return nil, fmt.Errorf("load tablespace names: %w", err)
	}
	return caps, nil
}

func loadNames(ctx context.Context, db Querier, sql string, into map[string]struct{}) error {
	rows, err := db.Query(ctx, sql)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		into[name] = struct{}{}
	}
	return rows.Err()
}

// NewStaticCapabilities builds a snapshot from fixed name lists.
//
// When to use: tests, and validate-only runs that compile table definitions
// without a database connection.
func NewStaticCapabilities(schemas, tablespaces []string) *Capabilities {
	caps := &Capabilities{
		schemas:     make(map[string]struct{}, len(schemas)),
		tablespaces: make(map[string]struct{}, len(tablespaces)),
	}
	for _, s := range schemas {
		caps.schemas[s] = struct{}{}
	}
	for _, t := range tablespaces {
		caps.tablespaces[t] = struct{}{}
	}
	return caps
}

// HasSchema reports whether the snapshot contains the named schema.
func (c *Capabilities) HasSchema(name string) bool {
	_, ok := c.schemas[name]
	return ok
}

// HasTablespace reports whether the snapshot contains the named tablespace.
func (c *Capabilities) HasTablespace(name string) bool {
	_, ok := c.tablespaces[name]
	return ok
}
