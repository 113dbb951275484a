package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx operations the repositories use. Both
// *pgxpool.Pool and pgx.Tx satisfy it, which lets a transaction started by
// an event handler be carried through the context into every repository
// call made inside it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

type contextKey string

// QuerierKey is the context key for storing the active transaction.
const QuerierKey contextKey = "querier"

// WithQuerier stores the querier (typically a pgx.Tx) in context.
func WithQuerier(ctx context.Context, q Querier) context.Context {
	return context.WithValue(ctx, QuerierKey, q)
}

// QuerierFrom retrieves the context-carried querier, falling back to the
// given default (the shared pool) when no transaction is active.
func QuerierFrom(ctx context.Context, fallback Querier) Querier {
	if q, ok := ctx.Value(QuerierKey).(Querier); ok {
		return q
	}
	return fallback
}
