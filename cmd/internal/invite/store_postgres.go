package invite

import (
	"context"
	"errors"
	"strings"
	"time"

	"teaminvite/cmd/internal/dbtx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists redemption codes in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "teaminvite").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "teaminvite"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

const codeColumns = `id, created_at, expires_at, revoked_at, consumed_at, consumed_by, note`

func (s *PostgresStore) table() string { return dbtx.Identifier(s.schema, "redemption_codes") }

// Create inserts a new code record.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (Code, error) {
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.CodeHash) == "" {
		return Code{}, ErrInvalidInput
	}

	_, err := dbtx.Q(ctx, s.pool).Exec(ctx,
		`INSERT INTO `+s.table()+` (id, code_hash, created_at, expires_at, note)
		 VALUES ($1, $2, $3, $4, $5)`,
		in.ID,
		in.CodeHash,
		in.CreatedAt,
		in.ExpiresAt,
		in.Note,
	)
	if err != nil {
		return Code{}, err
	}
	return Code{
		ID:        in.ID,
		CreatedAt: in.CreatedAt,
		ExpiresAt: in.ExpiresAt,
		Note:      in.Note,
	}, nil
}

// Get fetches a code by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Code, error) {
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	return scanCode(dbtx.Q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+codeColumns+` FROM `+s.table()+` WHERE id = $1`, id))
}

// GetByHash fetches a code by its hash.
func (s *PostgresStore) GetByHash(ctx context.Context, codeHash string) (Code, error) {
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	codeHash = strings.TrimSpace(codeHash)
	if codeHash == "" {
		return Code{}, ErrInvalidInput
	}
	return scanCode(dbtx.Q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+codeColumns+` FROM `+s.table()+` WHERE code_hash = $1`, codeHash))
}

// Consume sets consumed_at/consumed_by on an unconsumed, unrevoked code.
//
// Expiry is not checked here: by the time a code is consumed the invitation
// has already been sent.
func (s *PostgresStore) Consume(ctx context.Context, in ConsumeRecord) (Code, error) {
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.Email) == "" {
		return Code{}, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	c, err := scanCode(dbtx.Q(ctx, s.pool).QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET consumed_at = $2,
		        consumed_by = $3
		  WHERE id = $1
		    AND revoked_at IS NULL
		    AND consumed_at IS NULL
		RETURNING `+codeColumns,
		in.ID, in.Now, in.Email,
	))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Code{}, err
	}
	cur, err := s.Get(ctx, in.ID)
	return resolveConsumeMiss(cur, err, in.Email)
}

// Revoke sets revoked_at on an unconsumed code.
func (s *PostgresStore) Revoke(ctx context.Context, id string, now time.Time) (Code, error) {
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	c, err := scanCode(dbtx.Q(ctx, s.pool).QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET revoked_at = COALESCE(revoked_at, $2)
		  WHERE id = $1 AND consumed_at IS NULL
		RETURNING `+codeColumns,
		id, now,
	))
	if err == nil || !errors.Is(err, ErrNotFound) {
		return c, err
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return Code{}, err
	}
	return cur, ErrConsumed
}

func scanCode(row pgx.Row) (Code, error) {
	var c Code
	err := row.Scan(
		&c.ID,
		&c.CreatedAt,
		&c.ExpiresAt,
		&c.RevokedAt,
		&c.ConsumedAt,
		&c.ConsumedBy,
		&c.Note,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Code{}, ErrNotFound
		}
		return Code{}, err
	}
	return c, nil
}
