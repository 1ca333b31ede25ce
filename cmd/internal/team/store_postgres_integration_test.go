package team

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"teaminvite/cmd/internal/pgtest"
	"teaminvite/cmd/security/sealer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_ReserveReleaseRaise(t *testing.T) {
	t.Parallel()

	pool := pgtest.Open(t)
	schema := pgtest.Schema(t, pool, "ti_team")

	store, err := NewPostgresStore(pool, WithSchema(schema))
	require.NoError(t, err)
	ctx := context.Background()

	id := pgtest.NewID(t)
	_, err = store.Create(ctx, CreateInput{ID: id, AccountID: "acct-" + id, MaxSeats: 2, Active: true, AccessToken: "tok"})
	require.NoError(t, err)

	_, err = store.Create(ctx, CreateInput{ID: pgtest.NewID(t), AccountID: "acct-" + id})
	assert.ErrorIs(t, err, ErrConflict)

	for want := 1; want <= 2; want++ {
		seats, ok, err := store.TryReserveSeat(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, seats)
	}
	seats, ok, err := store.TryReserveSeat(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, seats)

	seats, err = store.ReleaseSeat(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, seats)

	seats, err = store.RaiseSeats(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, seats)

	seats, err = store.RaiseSeats(ctx, id, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, seats)

	_, _, err = store.TryReserveSeat(ctx, pgtest.NewID(t))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_ConcurrentReserve_NoOverbooking(t *testing.T) {
	t.Parallel()

	pool := pgtest.Open(t)
	schema := pgtest.Schema(t, pool, "ti_team")

	store, err := NewPostgresStore(pool, WithSchema(schema))
	require.NoError(t, err)
	ctx := context.Background()

	id := pgtest.NewID(t)
	_, err = store.Create(ctx, CreateInput{ID: id, AccountID: "acct-" + id, MaxSeats: 3, Active: true, AccessToken: "tok"})
	require.NoError(t, err)

	const callers = 20
	var wins atomic.Int32
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			if _, ok, err := store.TryReserveSeat(ctx, id); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), wins.Load())
	tm, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, tm.CurrentSeats)
}

func TestPostgresStore_SealsCredentials(t *testing.T) {
	t.Parallel()

	pool := pgtest.Open(t)
	schema := pgtest.Schema(t, pool, "ti_team")

	seal, err := sealer.New([]byte("0123456789abcdef0123456789abcdef"), []byte("0123456789abcdef"))
	require.NoError(t, err)

	store, err := NewPostgresStore(pool, WithSchema(schema), WithSealer(seal))
	require.NoError(t, err)
	ctx := context.Background()

	id := pgtest.NewID(t)
	_, err = store.Create(ctx, CreateInput{ID: id, AccountID: "acct-" + id, AccessToken: "tok", RefreshSecret: "cookie-jar"})
	require.NoError(t, err)

	var raw string
	require.NoError(t, pool.QueryRow(ctx, `SELECT refresh_secret FROM `+store.table()+` WHERE id = $1`, id).Scan(&raw))
	assert.NotEqual(t, "cookie-jar", raw)

	tm, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "cookie-jar", tm.RefreshSecret)
	assert.Equal(t, "tok", tm.AccessToken)

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.UpdateAccessToken(ctx, id, "tok2", now))
	tm, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "tok2", tm.AccessToken)
	require.NotNil(t, tm.TokenRefreshedAt)
}
