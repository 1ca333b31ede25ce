// Package dbtx carries a pgx transaction through context.Context and provides
// a bounded "atomic commit, else independent writes" helper.
package dbtx

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txKey struct{}

// Querier is the subset of pgxpool.Pool / pgx.Tx used by stores.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Runner runs fn so that every store call made with the ctx it receives
// commits or rolls back together.
type Runner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PoolRunner is the Postgres Runner.
type PoolRunner struct {
	Pool *pgxpool.Pool
}

// WithTx begins a transaction unless ctx already carries one.
func (r PoolRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if FromContext(ctx) != nil {
		return fn(ctx)
	}
	if r.Pool == nil {
		return errors.New("dbtx: nil pool")
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FromContext returns the transaction carried by ctx, if any.
func FromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// Q returns the transaction in ctx or the pool.
func Q(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsSerializationFailure reports whether err is worth retrying as a whole transaction.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return true
	}
	return false
}

// Identifier quotes schema.table for interpolation into SQL.
func Identifier(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// DirectRunner runs fn without a transaction. It backs the in-memory stores,
// whose individual operations are already atomic.
type DirectRunner struct{}

// WithTx calls fn with ctx unchanged.
func (DirectRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
