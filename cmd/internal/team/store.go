package team

import (
	"context"
	"time"
)

// Store is the persistence boundary for teams.
type Store interface {
	Create(ctx context.Context, in CreateInput) (Team, error)
	Get(ctx context.Context, id string) (Team, error)
	List(ctx context.Context) ([]Team, error)
	Update(ctx context.Context, id string, in UpdateInput) (Team, error)

	// TryReserveSeat increments current_seats by one only while it is below
	// max_seats. ok is false when the guard did not match (contention or full).
	TryReserveSeat(ctx context.Context, id string) (seats int, ok bool, err error)
	// ReleaseSeat decrements current_seats by one, never below zero. It is a
	// no-op for unlimited teams.
	ReleaseSeat(ctx context.Context, id string) (seats int, err error)
	// RaiseSeats sets current_seats to max(current_seats, floor).
	RaiseSeats(ctx context.Context, id string, floor int) (seats int, err error)
	// SetSeats overwrites current_seats. Reserved for administrative recompute.
	SetSeats(ctx context.Context, id string, seats int, now time.Time) (Team, error)

	UpdateAccessToken(ctx context.Context, id, accessToken string, now time.Time) error
}
