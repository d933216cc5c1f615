package pgsql

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the slice of a pgx pool the output sinks use: plain commands for
// DDL and deletes, COPY for bulk row loading. *pgxpool.Pool satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string,
		rowSrc pgx.CopyFromSource) (int64, error)
}

// Connect opens a pool and verifies the server is reachable. pgxpool.New
// does not dial, so without the ping a bad conninfo would only surface on
// the first real command.
func Connect(ctx context.Context, conninfo string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, conninfo)
	if err != nil {
		return nil, fmt.Errorf("connecting to database failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database failed: %w", err)
	}
	return pool, nil
}
