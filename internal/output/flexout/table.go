package flexout

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"osmflex/internal/flex"
	"osmflex/internal/osm"
	"osmflex/internal/pgsql"
)

// copyBatchRows is the number of buffered rows per table before the copy is
// pushed out early, outside of explicit flushes.
const copyBatchRows = 10000

// tableWriter owns the write path of one compiled table: the copy buffer,
// the delete statement and the DDL. One instance per registry entry.
type tableWriter struct {
	schema    *flex.TableSchema
	db        pgsql.DB
	updatable bool

	ident     pgx.Identifier
	loadCols  []flex.ColumnSchema
	copyCols  []string
	deleteSQL string

	rows [][]any
}

func newTableWriter(schema *flex.TableSchema, db pgsql.DB, updatable bool) *tableWriter {
	w := &tableWriter{
		schema:    schema,
		db:        db,
		updatable: updatable,
	}

	if schema.Schema != "" {
		w.ident = pgx.Identifier{schema.Schema, schema.Name}
	} else {
		w.ident = pgx.Identifier{schema.Name}
	}

	w.loadCols = schema.LoadColumns()
	w.copyCols = make([]string, len(w.loadCols))
	for i := range w.loadCols {
		w.copyCols[i] = w.loadCols[i].Name
	}

	if schema.HasIDColumn() {
		w.deleteSQL = buildDeleteSQL(schema)
	}
	return w
}

// add buffers one copy row and pushes the batch out when it grows too big.
func (w *tableWriter) add(ctx context.Context, row []any) error {
	w.rows = append(w.rows, row)
	if len(w.rows) >= copyBatchRows {
		return w.flushCopy(ctx)
	}
	return nil
}

// delete removes the rows of one object. Buffered copy rows go out first,
// so a row added earlier in the batch is visible to the DELETE and the
// delete-then-add sequence of a modify stays in order.
func (w *tableWriter) delete(ctx context.Context, typ osm.Type, id osm.ID) error {
	if w.deleteSQL == "" {
		return nil
	}
	if err := w.flushCopy(ctx); err != nil {
		return err
	}

	args := []any{int64(id)}
	if w.schema.IDColumn.Type == osm.TypeAny && w.schema.IDColumn.TypeColumn != "" {
		args = append(args, typ.Discriminator())
	}
	if _, err := w.db.Exec(ctx, w.deleteSQL, args...); err != nil {
		return fmt.Errorf("delete from %s: %w", w.schema.QualifiedName(), err)
	}
	return nil
}

func (w *tableWriter) flushCopy(ctx context.Context) error {
	if len(w.rows) == 0 {
		return nil
	}
	_, err := w.db.CopyFrom(ctx, w.ident, w.copyCols, pgx.CopyFromRows(w.rows))
	w.rows = w.rows[:0]
	if err != nil {
		return fmt.Errorf("copy into %s: %w", w.schema.QualifiedName(), err)
	}
	return nil
}

// create drops a leftover table from an earlier run and creates it fresh.
func (w *tableWriter) create(ctx context.Context) error {
	if _, err := w.db.Exec(ctx, w.schema.DropSQL()); err != nil {
		return fmt.Errorf("drop %s: %w", w.schema.QualifiedName(), err)
	}
	if _, err := w.db.Exec(ctx, w.schema.CreateSQL()); err != nil {
		return fmt.Errorf("create %s: %w", w.schema.QualifiedName(), err)
	}
	return nil
}

// createIndexes builds the declared indexes and, when needed, the id index.
// Runs after the bulk load.
func (w *tableWriter) createIndexes(ctx context.Context) error {
	name := w.schema.QualifiedName()
	for i := range w.schema.Indexes {
		if _, err := w.db.Exec(ctx, w.schema.Indexes[i].CreateSQL(name)); err != nil {
			return fmt.Errorf("create index on %s: %w", name, err)
		}
	}

	if !w.wantIDIndex() {
		return nil
	}
	if _, err := w.db.Exec(ctx, buildIDIndexSQL(w.schema)); err != nil {
		return fmt.Errorf("create id index on %s: %w", name, err)
	}
	return nil
}

// wantIDIndex reports whether the id index is built: always under the
// "always" policy, under "auto" only when the tables must stay updatable.
func (w *tableWriter) wantIDIndex() bool {
	if !w.schema.HasIDColumn() {
		return false
	}
	if w.schema.IDColumn.CreateIndex == flex.IndexAlways {
		return true
	}
	return w.updatable
}

func buildDeleteSQL(t *flex.TableSchema) string {
	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(t.QualifiedName())
	b.WriteString(" WHERE ")
	b.WriteString(pgsql.QuoteIdent(t.IDColumn.Column))
	b.WriteString(" = $1")
	if t.IDColumn.Type == osm.TypeAny && t.IDColumn.TypeColumn != "" {
		b.WriteString(" AND ")
		b.WriteString(pgsql.QuoteIdent(t.IDColumn.TypeColumn))
		b.WriteString(" = $2")
	}
	return b.String()
}

func buildIDIndexSQL(t *flex.TableSchema) string {
	var b strings.Builder
	b.WriteString("CREATE INDEX ON ")
	b.WriteString(t.QualifiedName())
	b.WriteString(" USING btree (")
	if t.IDColumn.TypeColumn != "" {
		b.WriteString(pgsql.QuoteIdent(t.IDColumn.TypeColumn))
		b.WriteString(", ")
	}
	b.WriteString(pgsql.QuoteIdent(t.IDColumn.Column))
	b.WriteString(")")
	b.WriteString(pgsql.TablespaceClause(t.IndexTablespace))
	return b.String()
}
