package booking

import (
	"context"
	"time"
)

// Store is the persistence boundary for bookings.
type Store interface {
	// Claim inserts a pending booking or returns the existing row for the same
	// (code, email) with created=false. ErrCodeBound when another email holds
	// a pending or confirmed booking for the code.
	Claim(ctx context.Context, in ClaimInput) (b Booking, created bool, err error)
	Get(ctx context.Context, id string) (Booking, error)
	FindByCodeEmail(ctx context.Context, codeID, email string) (Booking, error)

	// Reopen moves a failed booking back to pending. ok is false when the
	// booking was no longer failed.
	Reopen(ctx context.Context, id string, now time.Time) (b Booking, ok bool, err error)
	AssignTeam(ctx context.Context, id, teamID string, now time.Time) error
	// MarkConfirmed is idempotent for already-confirmed bookings.
	MarkConfirmed(ctx context.Context, id string, now time.Time) error
	// MarkFailed moves a pending booking to failed. ErrInvalidTransition means
	// the row was not pending and nothing changed.
	MarkFailed(ctx context.Context, id, message string, now time.Time) error

	// CountReserved counts pending and confirmed bookings held by a team.
	CountReserved(ctx context.Context, teamID string) (int, error)
	ListByTeam(ctx context.Context, teamID string, statuses ...Status) ([]Booking, error)
	// ListStale returns pending bookings last updated before cutoff, oldest
	// first. limit <= 0 means no limit.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]Booking, error)
	// Release fails the given live bookings of a team and returns those it changed.
	Release(ctx context.Context, teamID string, ids []string, reason string, now time.Time) ([]Booking, error)
}
