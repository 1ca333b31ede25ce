package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func claim(t *testing.T, s Store, id, code, email string) (Booking, bool) {
	t.Helper()
	b, created, err := s.Claim(context.Background(), ClaimInput{ID: id, CodeID: code, Email: email})
	require.NoError(t, err)
	return b, created
}

func TestInMemoryStore_Claim_IdempotentPerCodeEmail(t *testing.T) {
	s := NewInMemoryStore()

	b1, created := claim(t, s, "b1", "c1", "a@example.com")
	assert.True(t, created)
	assert.Equal(t, StatusPending, b1.Status)
	assert.Equal(t, 1, b1.Attempts)

	b2, created := claim(t, s, "b2", "c1", "a@example.com")
	assert.False(t, created)
	assert.Equal(t, "b1", b2.ID)
}

func TestInMemoryStore_Claim_CodeBoundToOneEmail(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	claim(t, s, "b1", "c1", "a@example.com")

	_, _, err := s.Claim(ctx, ClaimInput{ID: "b2", CodeID: "c1", Email: "b@example.com"})
	require.ErrorIs(t, err, ErrCodeBound)

	// Once the first booking failed the code is free for another address.
	require.NoError(t, s.MarkFailed(ctx, "b1", "no capacity", time.Time{}))
	_, created := claim(t, s, "b2", "c1", "b@example.com")
	assert.True(t, created)

	// And the failed one can no longer be reopened while b2 is live.
	_, _, err = s.Reopen(ctx, "b1", time.Time{})
	assert.ErrorIs(t, err, ErrCodeBound)
}

func TestInMemoryStore_Claim_ConcurrentSinglePending(t *testing.T) {
	s := NewInMemoryStore()

	const callers = 16
	var wg sync.WaitGroup
	wg.Add(callers)
	ids := make(chan string, callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			b, _, err := s.Claim(context.Background(), ClaimInput{ID: string(rune('A' + i)), CodeID: "c1", Email: "a@example.com"})
			if err == nil {
				ids <- b.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1, "every caller sees the same booking")
}

func TestInMemoryStore_StateMachine(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	claim(t, s, "b1", "c1", "a@example.com")

	require.NoError(t, s.AssignTeam(ctx, "b1", "t1", time.Time{}))
	require.NoError(t, s.MarkFailed(ctx, "b1", "upstream unavailable", time.Time{}))

	b, err := s.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, b.Status)
	assert.Equal(t, "upstream unavailable", b.Message)

	assert.ErrorIs(t, s.MarkConfirmed(ctx, "b1", time.Time{}), ErrInvalidTransition)
	assert.ErrorIs(t, s.AssignTeam(ctx, "b1", "t1", time.Time{}), ErrInvalidTransition)

	b, ok, err := s.Reopen(ctx, "b1", time.Time{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusPending, b.Status)
	assert.Equal(t, 2, b.Attempts)
	assert.Nil(t, b.TeamID)
	assert.Empty(t, b.Message)

	_, ok, err = s.Reopen(ctx, "b1", time.Time{})
	require.NoError(t, err)
	assert.False(t, ok, "pending bookings are not reopened")

	require.NoError(t, s.AssignTeam(ctx, "b1", "t1", time.Time{}))
	require.NoError(t, s.MarkConfirmed(ctx, "b1", time.Time{}))
	require.NoError(t, s.MarkConfirmed(ctx, "b1", time.Time{}), "confirm is idempotent")
	assert.ErrorIs(t, s.MarkFailed(ctx, "b1", "x", time.Time{}), ErrInvalidTransition)

	b, err = s.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.NotNil(t, b.ConfirmedAt)
}

func TestInMemoryStore_CountReservedAndRelease(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for i, email := range []string{"a@x.io", "b@x.io", "c@x.io", "d@x.io"} {
		id := string(rune('1' + i))
		claim(t, s, id, "code"+id, email)
		require.NoError(t, s.AssignTeam(ctx, id, "t1", time.Time{}))
	}
	require.NoError(t, s.MarkConfirmed(ctx, "1", time.Time{}))
	require.NoError(t, s.MarkFailed(ctx, "4", "boom", time.Time{}))

	n, err := s.CountReserved(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	pending, err := s.ListByTeam(ctx, "t1", StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	released, err := s.Release(ctx, "t1", []string{"1", "2", "4", "missing"}, ReleaseMessage, time.Time{})
	require.NoError(t, err)
	require.Len(t, released, 2)
	assert.Equal(t, ReleaseMessage, released[0].Message)

	n, err = s.CountReserved(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Release(ctx, "", []string{"3"}, ReleaseMessage, time.Time{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestInMemoryStore_ListStale(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"b3", "b1", "b2"} {
		_, _, err := s.Claim(ctx, ClaimInput{ID: id, CodeID: "c-" + id, Email: "a@example.com", Now: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}
	_, _, err := s.Claim(ctx, ClaimInput{ID: "fresh", CodeID: "c-fresh", Email: "a@example.com", Now: base.Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, "b1", "gone", base.Add(time.Second)))

	stale, err := s.ListStale(ctx, base.Add(30*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "b3", stale[0].ID)
	assert.Equal(t, "b2", stale[1].ID)

	stale, err = s.ListStale(ctx, base.Add(30*time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "b3", stale[0].ID)
}
