// Package allocation picks a team with a free seat and reserves it.
//
// Reservation is a single conditional increment in storage; no lock is held
// in this process, so any number of instances may allocate concurrently
// without overbooking.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"teaminvite/cmd/internal/team"
)

// ErrNoCapacity means no eligible team had a free seat.
var ErrNoCapacity = errors.New("no capacity")

// Reservation outcomes reported to the Observer.
const (
	ResultReserved   = "reserved"
	ResultUnlimited  = "unlimited"
	ResultConflict   = "conflict"
	ResultNoCapacity = "no_capacity"
)

// Healer corrects a team's cached counter before a reservation attempt.
type Healer interface {
	SelfHeal(ctx context.Context, t team.Team) (team.Team, error)
}

// Observer is told about reservation outcomes.
type Observer func(result string)

// Reservation is a claimed seat.
type Reservation struct {
	Team team.Team
	// Seats is the post-increment counter; 0 for unlimited teams.
	Seats     int
	Unlimited bool
}

// TeamID returns the reserved team's id.
func (r Reservation) TeamID() string { return r.Team.ID }

// Allocator selects and reserves seats.
type Allocator struct {
	teams   team.Store
	healer  Healer
	log     *slog.Logger
	now     func() time.Time
	observe Observer
}

// Option configures Allocator.
type Option func(*Allocator)

func WithLogger(l *slog.Logger) Option { return func(a *Allocator) { a.log = l } }

func WithObserver(o Observer) Option { return func(a *Allocator) { a.observe = o } }

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option { return func(a *Allocator) { a.now = now } }

// NewAllocator constructs an Allocator. healer may be nil.
func NewAllocator(teams team.Store, healer Healer, opts ...Option) (*Allocator, error) {
	if teams == nil {
		return nil, errors.New("allocation: team store is required")
	}
	a := &Allocator{
		teams:  teams,
		healer: healer,
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// SelectAndReserve reserves one seat on the most preferred eligible team.
//
// Eligible teams are active, unexpired and hold some credential, tried in
// priority order (ties by id). An unlimited team is returned without touching
// its counter. A lost race on a team moves on to the next one.
func (a *Allocator) SelectAndReserve(ctx context.Context) (Reservation, error) {
	all, err := a.teams.List(ctx)
	if err != nil {
		return Reservation{}, fmt.Errorf("list teams: %w", err)
	}

	now := a.now()
	candidates := make([]team.Team, 0, len(all))
	for _, t := range all {
		if t.Eligible(now) {
			candidates = append(candidates, t)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].ID < candidates[j].ID
	})

	for _, t := range candidates {
		if err := ctx.Err(); err != nil {
			return Reservation{}, err
		}
		if t.Unlimited() {
			a.record(ResultUnlimited)
			return Reservation{Team: t, Unlimited: true}, nil
		}

		if a.healer != nil {
			healed, err := a.healer.SelfHeal(ctx, t)
			if err != nil {
				// Without the floor the cached counter may be low; skip rather
				// than risk overbooking.
				a.log.Warn("allocation.selfheal.fail", "team_id", t.ID, "err", err)
				continue
			}
			t = healed
		}
		if t.CurrentSeats >= t.MaxSeats {
			continue
		}

		seats, ok, err := a.teams.TryReserveSeat(ctx, t.ID)
		if err != nil {
			if errors.Is(err, team.ErrNotFound) {
				continue
			}
			return Reservation{}, fmt.Errorf("reserve seat on %s: %w", t.ID, err)
		}
		if !ok {
			a.record(ResultConflict)
			a.log.Debug("allocation.reserve.conflict", "team_id", t.ID, "seats", seats)
			continue
		}
		t.CurrentSeats = seats
		a.record(ResultReserved)
		return Reservation{Team: t, Seats: seats}, nil
	}

	a.record(ResultNoCapacity)
	return Reservation{}, ErrNoCapacity
}

// Release returns one seat to teamID. It never drives the counter below zero
// and does nothing for unlimited teams.
func (a *Allocator) Release(ctx context.Context, teamID string) error {
	if teamID == "" {
		return nil
	}
	_, err := a.teams.ReleaseSeat(ctx, teamID)
	return err
}

func (a *Allocator) record(result string) {
	if a.observe != nil {
		a.observe(result)
	}
}
