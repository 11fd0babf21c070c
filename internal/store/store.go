// Package store is the hand-written pgx query layer shared by the pricing
// and inventory services. Mutations on shared counters are expressed as
// single conditional statements so they stay correct under concurrent
// requests from multiple instances.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX abstracts a pgx pool, connection or transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries bundles all database operations against a single DBTX.
type Queries struct {
	db DBTX
}

// New constructs a Queries value bound to the provided database handle.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries instance scoped to the given transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}
