package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"teaminvite/cmd/internal/dbtx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists bookings in PostgreSQL.
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

const bookingColumns = `id, code_id, email, team_id, status, message, attempts, created_at, updated_at, confirmed_at`

func (s *PostgresStore) table() string { return dbtx.Identifier(s.schema, "bookings") }

// Claim inserts a pending booking, or reports the existing one.
func (s *PostgresStore) Claim(ctx context.Context, in ClaimInput) (Booking, bool, error) {
	if err := ctx.Err(); err != nil {
		return Booking{}, false, err
	}
	if err := validateClaim(in); err != nil {
		return Booking{}, false, err
	}
	now := nowOr(in.Now)

	row := dbtx.Q(ctx, s.pool).QueryRow(ctx,
		`INSERT INTO `+s.table()+` (id, code_id, email, status, message, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, 'pending', '', 1, $4, $4)
		 ON CONFLICT DO NOTHING
		 RETURNING `+bookingColumns,
		in.ID, in.CodeID, in.Email, now,
	)
	b, err := scanBooking(row)
	if err == nil {
		return b, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Booking{}, false, err
	}

	// Nothing inserted: either this (code, email) exists or the code is live
	// under another email.
	existing, err := s.FindByCodeEmail(ctx, in.CodeID, in.Email)
	if err == nil {
		return existing, false, nil
	}
	if errors.Is(err, ErrNotFound) {
		return Booking{}, false, ErrCodeBound
	}
	return Booking{}, false, err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Booking, error) {
	if err := ctx.Err(); err != nil {
		return Booking{}, err
	}
	return scanBooking(dbtx.Q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM `+s.table()+` WHERE id = $1`, id))
}

func (s *PostgresStore) FindByCodeEmail(ctx context.Context, codeID, email string) (Booking, error) {
	if err := ctx.Err(); err != nil {
		return Booking{}, err
	}
	return scanBooking(dbtx.Q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM `+s.table()+` WHERE code_id = $1 AND email = $2`, codeID, email))
}

func (s *PostgresStore) Reopen(ctx context.Context, id string, now time.Time) (Booking, bool, error) {
	b, err := scanBooking(dbtx.Q(ctx, s.pool).QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET status = 'pending', message = '', team_id = NULL,
		        attempts = attempts + 1, updated_at = $2
		  WHERE id = $1 AND status = 'failed'
		RETURNING `+bookingColumns,
		id, nowOr(now),
	))
	if err == nil {
		return b, true, nil
	}
	if dbtx.IsUniqueViolation(err) {
		return Booking{}, false, ErrCodeBound
	}
	if !errors.Is(err, ErrNotFound) {
		return Booking{}, false, err
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return Booking{}, false, err
	}
	return cur, false, nil
}

func (s *PostgresStore) AssignTeam(ctx context.Context, id, teamID string, now time.Time) error {
	if strings.TrimSpace(teamID) == "" {
		return ErrInvalidInput
	}
	return s.transition(ctx, id,
		`UPDATE `+s.table()+` SET team_id = $2, updated_at = $3 WHERE id = $1 AND status = 'pending'`,
		id, teamID, nowOr(now))
}

func (s *PostgresStore) MarkConfirmed(ctx context.Context, id string, now time.Time) error {
	return s.transition(ctx, id,
		`UPDATE `+s.table()+`
		    SET status = 'confirmed', message = '',
		        confirmed_at = COALESCE(confirmed_at, $2), updated_at = $2
		  WHERE id = $1 AND status IN ('pending', 'confirmed')`,
		id, nowOr(now))
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, message string, now time.Time) error {
	return s.transition(ctx, id,
		`UPDATE `+s.table()+` SET status = 'failed', message = $2, updated_at = $3 WHERE id = $1 AND status = 'pending'`,
		id, clampMessage(message), nowOr(now))
}

// transition runs a guarded update and maps zero rows to not-found or
// invalid-transition.
func (s *PostgresStore) transition(ctx context.Context, id, sql string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tag, err := dbtx.Q(ctx, s.pool).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}

func (s *PostgresStore) CountReserved(ctx context.Context, teamID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := dbtx.Q(ctx, s.pool).QueryRow(ctx,
		`SELECT count(*) FROM `+s.table()+` WHERE team_id = $1 AND status IN ('pending', 'confirmed')`,
		teamID,
	).Scan(&n)
	return n, err
}

func (s *PostgresStore) ListByTeam(ctx context.Context, teamID string, statuses ...Status) ([]Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter := make([]string, 0, len(statuses))
	for _, st := range statuses {
		filter = append(filter, string(st))
	}
	rows, err := dbtx.Q(ctx, s.pool).Query(ctx,
		`SELECT `+bookingColumns+` FROM `+s.table()+`
		  WHERE team_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		  ORDER BY id`,
		teamID, filter,
	)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *PostgresStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := dbtx.Q(ctx, s.pool).Query(ctx,
		`SELECT `+bookingColumns+` FROM `+s.table()+`
		  WHERE status = 'pending' AND updated_at < $1
		  ORDER BY updated_at, id
		  LIMIT $2`,
		cutoff, lim,
	)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *PostgresStore) Release(ctx context.Context, teamID string, ids []string, reason string, now time.Time) ([]Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(teamID) == "" {
		return nil, ErrInvalidInput
	}
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := dbtx.Q(ctx, s.pool).Query(ctx,
		`UPDATE `+s.table()+`
		    SET status = 'failed', message = $3, updated_at = $4
		  WHERE team_id = $1 AND id = ANY($2::text[]) AND status IN ('pending', 'confirmed')
		RETURNING `+bookingColumns,
		teamID, ids, clampMessage(reason), nowOr(now),
	)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()
	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (Booking, error) {
	var b Booking
	var status string
	err := row.Scan(
		&b.ID,
		&b.CodeID,
		&b.Email,
		&b.TeamID,
		&status,
		&b.Message,
		&b.Attempts,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.ConfirmedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Booking{}, ErrNotFound
		}
		return Booking{}, err
	}
	b.Status = Status(status)
	return b, nil
}
