// Package accounting keeps each team's cached seat counter from understating
// real occupancy.
//
// Two automatic sources only ever raise the counter: the number of local
// pending and confirmed bookings, and a TTL-throttled reading of the external
// account. Lowering it is an administrative Recalculate.
package accounting

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"teaminvite/cmd/internal/team"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoGauge is returned when an external reading is required but no
	// SeatGauge is configured.
	ErrNoGauge = errors.New("no seat gauge configured")
)

// Correction sources reported to the Observer.
const (
	SourceBookings = "bookings"
	SourceUpstream = "upstream"
	SourceAdmin    = "admin"
)

// SeatGauge reads the external account's occupied seats.
type SeatGauge interface {
	SeatsInUse(ctx context.Context, t team.Team) (int, error)
}

// Reservations counts local bookings holding a seat on a team.
type Reservations interface {
	CountReserved(ctx context.Context, teamID string) (int, error)
}

// Observer is told about every counter correction.
type Observer func(teamID, source string, from, to int)

// SyncResult describes one reconciliation.
type SyncResult struct {
	TeamID   string `json:"team_id"`
	Before   int    `json:"before"`
	After    int    `json:"after"`
	External *int   `json:"external,omitempty"`
	Reserved int    `json:"reserved"`
}

// Reconciler corrects team seat counters.
type Reconciler struct {
	teams    team.Store
	bookings Reservations
	gauge    SeatGauge
	ttl      time.Duration
	log      *slog.Logger
	now      func() time.Time
	observe  Observer

	mu        sync.Mutex
	lastGauge map[string]time.Time
}

// Option configures Reconciler.
type Option func(*Reconciler)

// WithSyncTTL sets the minimum interval between automatic external readings per team.
func WithSyncTTL(d time.Duration) Option { return func(r *Reconciler) { r.ttl = d } }

func WithLogger(l *slog.Logger) Option { return func(r *Reconciler) { r.log = l } }

func WithObserver(o Observer) Option { return func(r *Reconciler) { r.observe = o } }

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option { return func(r *Reconciler) { r.now = now } }

// NewReconciler constructs a Reconciler. gauge may be nil, which disables
// external readings.
func NewReconciler(teams team.Store, bookings Reservations, gauge SeatGauge, opts ...Option) (*Reconciler, error) {
	if teams == nil || bookings == nil {
		return nil, ErrInvalidInput
	}
	r := &Reconciler{
		teams:     teams,
		bookings:  bookings,
		gauge:     gauge,
		ttl:       5 * time.Minute,
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		lastGauge: make(map[string]time.Time),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// SelfHeal raises t's counter to the reserved-bookings floor and, at most
// once per TTL, to the external reading. It returns t with the corrected
// counter. External read failures are logged, not returned.
func (r *Reconciler) SelfHeal(ctx context.Context, t team.Team) (team.Team, error) {
	reserved, err := r.bookings.CountReserved(ctx, t.ID)
	if err != nil {
		return t, err
	}
	if t, err = r.raise(ctx, t, reserved, SourceBookings); err != nil {
		return t, err
	}

	if r.gauge == nil || !r.claimGauge(t.ID) {
		return t, nil
	}
	ext, err := r.gauge.SeatsInUse(ctx, t)
	if err != nil {
		r.log.Warn("accounting.gauge.fail", "team_id", t.ID, "err", err)
		return t, nil
	}
	return r.raise(ctx, t, ext, SourceUpstream)
}

// Sync forces an external reading, bypassing the TTL, and raises the counter
// if the reading or the bookings floor is higher. A lower reading is reported
// but not applied.
func (r *Reconciler) Sync(ctx context.Context, teamID string) (SyncResult, error) {
	if r.gauge == nil {
		return SyncResult{}, ErrNoGauge
	}
	t, err := r.teams.Get(ctx, teamID)
	if err != nil {
		return SyncResult{}, err
	}
	res := SyncResult{TeamID: t.ID, Before: t.CurrentSeats}

	r.markGauge(t.ID)
	ext, err := r.gauge.SeatsInUse(ctx, t)
	if err != nil {
		return res, err
	}
	res.External = &ext

	if res.Reserved, err = r.bookings.CountReserved(ctx, t.ID); err != nil {
		return res, err
	}
	if t, err = r.raise(ctx, t, res.Reserved, SourceBookings); err != nil {
		return res, err
	}
	if t, err = r.raise(ctx, t, ext, SourceUpstream); err != nil {
		return res, err
	}
	res.After = t.CurrentSeats
	if ext < res.After {
		r.log.Info("accounting.sync.lower_ignored", "team_id", t.ID, "cached", res.After, "external", ext)
	}
	return res, nil
}

// Recalculate overwrites the counter with an authoritative figure: the given
// count, or a fresh external reading when count is nil. Unlike the automatic
// paths it may lower the counter.
func (r *Reconciler) Recalculate(ctx context.Context, teamID string, count *int) (SyncResult, error) {
	if count != nil && *count < 0 {
		return SyncResult{}, ErrInvalidInput
	}
	t, err := r.teams.Get(ctx, teamID)
	if err != nil {
		return SyncResult{}, err
	}
	res := SyncResult{TeamID: t.ID, Before: t.CurrentSeats}

	target := 0
	if count != nil {
		target = *count
	} else {
		if r.gauge == nil {
			return res, ErrNoGauge
		}
		r.markGauge(t.ID)
		ext, err := r.gauge.SeatsInUse(ctx, t)
		if err != nil {
			return res, err
		}
		res.External = &ext
		target = ext
	}

	if res.Reserved, err = r.bookings.CountReserved(ctx, t.ID); err != nil {
		return res, err
	}
	updated, err := r.teams.SetSeats(ctx, t.ID, target, r.now())
	if err != nil {
		return res, err
	}
	res.After = updated.CurrentSeats
	r.corrected(t.ID, SourceAdmin, res.Before, res.After)
	if res.Reserved > res.After {
		r.log.Warn("accounting.recalc.below_reserved", "team_id", t.ID, "seats", res.After, "reserved", res.Reserved)
	}
	return res, nil
}

func (r *Reconciler) raise(ctx context.Context, t team.Team, floor int, source string) (team.Team, error) {
	if floor <= t.CurrentSeats {
		return t, nil
	}
	before := t.CurrentSeats
	seats, err := r.teams.RaiseSeats(ctx, t.ID, floor)
	if err != nil {
		return t, err
	}
	t.CurrentSeats = seats
	r.corrected(t.ID, source, before, seats)
	return t, nil
}

func (r *Reconciler) corrected(teamID, source string, from, to int) {
	if from == to {
		return
	}
	r.log.Info("accounting.seats.corrected", "team_id", teamID, "source", source, "from", from, "to", to)
	if r.observe != nil {
		r.observe(teamID, source, from, to)
	}
}

// claimGauge reports whether an automatic external read is due and, if so, records
// it so concurrent callers do not read too.
func (r *Reconciler) claimGauge(teamID string) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.lastGauge[teamID]; ok && now.Sub(last) < r.ttl {
		return false
	}
	r.lastGauge[teamID] = now
	return true
}

func (r *Reconciler) markGauge(teamID string) {
	now := r.now()
	r.mu.Lock()
	r.lastGauge[teamID] = now
	r.mu.Unlock()
}
