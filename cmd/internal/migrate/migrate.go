// Package migrate applies the embedded database schema.
package migrate

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// DefaultSchema is the schema the stores use unless configured otherwise.
const DefaultSchema = "teaminvite"

var ErrInvalidSchema = errors.New("migrate: invalid schema")

// SQL renders the schema DDL for the given schema name.
func SQL(schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return "", ErrInvalidSchema
	}
	return strings.ReplaceAll(schemaSQL, "{{schema}}", pgx.Identifier{schema}.Sanitize()), nil
}

// Apply creates the schema and its tables if they do not exist. It is idempotent.
func Apply(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if pool == nil {
		return errors.New("migrate: nil pool")
	}
	ddl, err := SQL(schema)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, ddl)
	return err
}
