package team

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"teaminvite/cmd/internal/dbtx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	sealAccessToken   = "access_token"
	sealRefreshSecret = "refresh_secret"
)

// SecretSealer encrypts credential columns at rest.
type SecretSealer interface {
	Seal(name, value string) (string, error)
	Open(name, sealed string) (string, error)
}

// PostgresStore persists teams in PostgreSQL.
//
// The pool is owned by the caller. Credential columns are sealed when a
// SecretSealer is configured and stored as-is otherwise (dev only).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	sealer SecretSealer
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

// WithSealer enables at-rest encryption of access tokens and refresh secrets.
func WithSealer(sealer SecretSealer) StoreOption {
	return func(s *PostgresStore) error {
		s.sealer = sealer
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

const teamColumns = `id, account_id, name, max_seats, current_seats, priority, active, expires_at,
       access_token, refresh_secret, note, token_refreshed_at, created_at, updated_at`

func (s *PostgresStore) table() string { return dbtx.Identifier(s.schema, "teams") }

// Create inserts a new team.
func (s *PostgresStore) Create(ctx context.Context, in CreateInput) (Team, error) {
	if err := ctx.Err(); err != nil {
		return Team{}, err
	}
	if err := validateCreate(in); err != nil {
		return Team{}, err
	}
	now := nowOr(in.Now)

	access, err := s.seal(sealAccessToken, in.AccessToken)
	if err != nil {
		return Team{}, err
	}
	refresh, err := s.seal(sealRefreshSecret, in.RefreshSecret)
	if err != nil {
		return Team{}, err
	}

	row := dbtx.Q(ctx, s.pool).QueryRow(ctx,
		`INSERT INTO `+s.table()+` (
		     id, account_id, name, max_seats, current_seats, priority, active, expires_at,
		     access_token, refresh_secret, note, token_refreshed_at, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, $12, $12)
		RETURNING `+teamColumns,
		in.ID,
		strings.TrimSpace(in.AccountID),
		strings.TrimSpace(in.Name),
		in.MaxSeats,
		in.CurrentSeats,
		in.Priority,
		in.Active,
		in.ExpiresAt,
		access,
		refresh,
		in.Note,
		now,
	)
	t, err := s.scan(row)
	if err != nil {
		if dbtx.IsUniqueViolation(err) {
			return Team{}, ErrConflict
		}
		return Team{}, err
	}
	return t, nil
}

// Get fetches a team by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Team, error) {
	if err := ctx.Err(); err != nil {
		return Team{}, err
	}
	row := dbtx.Q(ctx, s.pool).QueryRow(ctx, `SELECT `+teamColumns+` FROM `+s.table()+` WHERE id = $1`, id)
	return s.scan(row)
}

// List returns all teams ordered by priority then id.
func (s *PostgresStore) List(ctx context.Context) ([]Team, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := dbtx.Q(ctx, s.pool).Query(ctx, `SELECT `+teamColumns+` FROM `+s.table()+` ORDER BY priority ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Team
	for rows.Next() {
		t, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Update patches administrator-controlled fields.
func (s *PostgresStore) Update(ctx context.Context, id string, in UpdateInput) (Team, error) {
	if err := ctx.Err(); err != nil {
		return Team{}, err
	}
	if err := validateUpdate(in); err != nil {
		return Team{}, err
	}

	var access, refresh *string
	if in.AccessToken != nil {
		v, err := s.seal(sealAccessToken, *in.AccessToken)
		if err != nil {
			return Team{}, err
		}
		access = &v
	}
	if in.RefreshSecret != nil {
		v, err := s.seal(sealRefreshSecret, *in.RefreshSecret)
		if err != nil {
			return Team{}, err
		}
		refresh = &v
	}
	var name *string
	if in.Name != nil {
		n := strings.TrimSpace(*in.Name)
		name = &n
	}

	row := dbtx.Q(ctx, s.pool).QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET name           = COALESCE($2, name),
		        max_seats      = COALESCE($3, max_seats),
		        priority       = COALESCE($4, priority),
		        active         = COALESCE($5, active),
		        expires_at     = CASE WHEN $6 THEN NULL ELSE COALESCE($7, expires_at) END,
		        access_token   = COALESCE($8, access_token),
		        refresh_secret = COALESCE($9, refresh_secret),
		        note           = COALESCE($10, note),
		        updated_at     = $11
		  WHERE id = $1
		RETURNING `+teamColumns,
		id, name, in.MaxSeats, in.Priority, in.Active, in.ClearExpiry, in.ExpiresAt, access, refresh, in.Note, nowOr(in.Now),
	)
	return s.scan(row)
}

// TryReserveSeat is the conditional increment behind seat reservation.
func (s *PostgresStore) TryReserveSeat(ctx context.Context, id string) (int, bool, error) {
	var seats int
	err := dbtx.Q(ctx, s.pool).QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET current_seats = current_seats + 1
		  WHERE id = $1
		    AND max_seats > 0
		    AND current_seats < max_seats
		RETURNING current_seats`,
		id,
	).Scan(&seats)
	if err == nil {
		return seats, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, err
	}
	// Guard did not match: distinguish full/contended from missing.
	t, err := s.Get(ctx, id)
	if err != nil {
		return 0, false, err
	}
	return t.CurrentSeats, false, nil
}

// ReleaseSeat gives one seat back without going below zero.
func (s *PostgresStore) ReleaseSeat(ctx context.Context, id string) (int, error) {
	var seats int
	err := dbtx.Q(ctx, s.pool).QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET current_seats = CASE WHEN max_seats > 0 AND current_seats > 0
		                             THEN current_seats - 1 ELSE current_seats END
		  WHERE id = $1
		RETURNING current_seats`,
		id,
	).Scan(&seats)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return seats, err
}

// RaiseSeats only ever raises the cached counter.
func (s *PostgresStore) RaiseSeats(ctx context.Context, id string, floor int) (int, error) {
	var seats int
	err := dbtx.Q(ctx, s.pool).QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET current_seats = GREATEST(current_seats, $2)
		  WHERE id = $1
		RETURNING current_seats`,
		id, floor,
	).Scan(&seats)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return seats, err
}

// SetSeats overwrites the counter (administrative recompute).
func (s *PostgresStore) SetSeats(ctx context.Context, id string, seats int, now time.Time) (Team, error) {
	if seats < 0 {
		return Team{}, ErrInvalidInput
	}
	row := dbtx.Q(ctx, s.pool).QueryRow(ctx,
		`UPDATE `+s.table()+` SET current_seats = $2, updated_at = $3 WHERE id = $1 RETURNING `+teamColumns,
		id, seats, nowOr(now),
	)
	return s.scan(row)
}

// UpdateAccessToken persists a refreshed access token.
func (s *PostgresStore) UpdateAccessToken(ctx context.Context, id, accessToken string, now time.Time) error {
	sealed, err := s.seal(sealAccessToken, accessToken)
	if err != nil {
		return err
	}
	now = nowOr(now)
	tag, err := dbtx.Q(ctx, s.pool).Exec(ctx,
		`UPDATE `+s.table()+` SET access_token = $2, token_refreshed_at = $3, updated_at = $3 WHERE id = $1`,
		id, sealed, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) scan(row pgx.Row) (Team, error) {
	var t Team
	var access, refresh string
	err := row.Scan(
		&t.ID,
		&t.AccountID,
		&t.Name,
		&t.MaxSeats,
		&t.CurrentSeats,
		&t.Priority,
		&t.Active,
		&t.ExpiresAt,
		&access,
		&refresh,
		&t.Note,
		&t.TokenRefreshedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Team{}, ErrNotFound
		}
		return Team{}, err
	}
	if t.AccessToken, err = s.open(sealAccessToken, access); err != nil {
		return Team{}, fmt.Errorf("team %s: %w", t.ID, err)
	}
	if t.RefreshSecret, err = s.open(sealRefreshSecret, refresh); err != nil {
		return Team{}, fmt.Errorf("team %s: %w", t.ID, err)
	}
	return t, nil
}

func (s *PostgresStore) seal(name, v string) (string, error) {
	if s.sealer == nil {
		return v, nil
	}
	return s.sealer.Seal(name, v)
}

func (s *PostgresStore) open(name, v string) (string, error) {
	if s.sealer == nil {
		return v, nil
	}
	return s.sealer.Open(name, v)
}
