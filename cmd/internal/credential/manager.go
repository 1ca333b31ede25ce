// Package credential keeps each team's bearer token fresh.
//
// A Manager decides per call whether a refresh is due, collapses concurrent
// refreshes for the same team into one upstream call, and persists the new
// token. Its state is per instance and only an optimization: a restart
// simply refreshes a little earlier than strictly needed.
package credential

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"teaminvite/cmd/internal/team"
	"teaminvite/cmd/internal/upstream"

	"golang.org/x/sync/singleflight"
)

// Refresher exchanges a refresh secret for an access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshSecret string) (string, error)
}

// TokenStore persists refreshed tokens.
type TokenStore interface {
	UpdateAccessToken(ctx context.Context, id, accessToken string, now time.Time) error
}

// Observer is told about every refresh attempt. err is nil on success.
type Observer func(teamID string, err error)

// EnsureOptions tunes a single Ensure call.
type EnsureOptions struct {
	Force bool
}

// Result is the token to use and whether this call produced it.
type Result struct {
	AccessToken string
	Refreshed   bool
}

// Snapshot is the refresh bookkeeping for one team.
type Snapshot struct {
	LastAttempt time.Time
	LastSuccess time.Time
}

type state struct {
	lastAttempt time.Time
	lastSuccess time.Time
	token       string
	// replaced is the token the last refresh superseded; callers still
	// holding it get token instead.
	replaced string
	inflight bool
}

// Manager owns the refresh state for a set of teams.
type Manager struct {
	refresher Refresher
	store     TokenStore
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
	observe   Observer

	group singleflight.Group

	mu    sync.Mutex
	state map[string]*state
}

// Option configures Manager.
type Option func(*Manager)

func WithConfig(cfg Config) Option { return func(m *Manager) { m.cfg = cfg } }

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.log = l } }

func WithObserver(o Observer) Option { return func(m *Manager) { m.observe = o } }

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager constructs a Manager.
func NewManager(refresher Refresher, store TokenStore, opts ...Option) (*Manager, error) {
	if refresher == nil || store == nil {
		return nil, errors.New("credential: refresher and store are required")
	}
	m := &Manager{
		refresher: refresher,
		store:     store,
		cfg:       DefaultConfig(),
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		state:     make(map[string]*state),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Ensure returns a usable access token for t, refreshing it first when due.
//
// On a failed refresh the current (possibly stale) token is returned together
// with the error. A team without a refresh secret is never refreshed; forcing
// one returns upstream.ErrCredentialInvalid.
func (m *Manager) Ensure(ctx context.Context, t team.Team, opts EnsureOptions) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	now := m.now()

	m.mu.Lock()
	st := m.stateLocked(t.ID)
	current := t.AccessToken
	if st.token != "" && (current == "" || current == st.replaced) {
		current = st.token
	}
	due := opts.Force || m.dueLocked(st, current, now)
	if due && !opts.Force && !st.inflight && !st.lastAttempt.IsZero() && now.Sub(st.lastAttempt) < m.cfg.Cooldown {
		due = false
	}
	m.mu.Unlock()

	if !due {
		return Result{AccessToken: current}, nil
	}
	if !t.CanRefresh() {
		if opts.Force {
			return Result{AccessToken: current}, &upstream.Error{Op: "Refresh", Kind: upstream.ErrCredentialInvalid, Msg: "no refresh secret configured"}
		}
		return Result{AccessToken: current}, nil
	}

	ch := m.group.DoChan(t.ID, func() (any, error) {
		return m.refresh(ctx, t, current)
	})
	select {
	case <-ctx.Done():
		return Result{AccessToken: current}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Result{AccessToken: current}, r.Err
		}
		return Result{AccessToken: r.Val.(string), Refreshed: true}, nil
	}
}

// WithRefresh runs action with a fresh token. If action reports an expired
// authorization, the token is force-refreshed and action runs once more, but
// only if the refresh produced a different token.
func (m *Manager) WithRefresh(ctx context.Context, t team.Team, action func(ctx context.Context, accessToken string) error) error {
	res, err := m.Ensure(ctx, t, EnsureOptions{})
	if err != nil {
		if res.AccessToken == "" || ctx.Err() != nil {
			return err
		}
		m.log.Warn("credential.refresh.stale", "team_id", t.ID, "err", err)
	}

	err = action(ctx, res.AccessToken)
	if !errors.Is(err, upstream.ErrAuthorizationExpired) {
		return err
	}

	forced, ferr := m.Ensure(ctx, t, EnsureOptions{Force: true})
	if ferr != nil {
		return ferr
	}
	if forced.AccessToken == "" || forced.AccessToken == res.AccessToken {
		return err
	}
	return action(ctx, forced.AccessToken)
}

// Snapshot returns the refresh bookkeeping for teamID.
func (m *Manager) Snapshot(teamID string) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state[teamID]
	if !ok {
		return Snapshot{}
	}
	return Snapshot{LastAttempt: st.lastAttempt, LastSuccess: st.lastSuccess}
}

func (m *Manager) stateLocked(teamID string) *state {
	st, ok := m.state[teamID]
	if !ok {
		st = &state{}
		m.state[teamID] = st
	}
	return st
}

func (m *Manager) dueLocked(st *state, token string, now time.Time) bool {
	if token == "" {
		return true
	}
	if exp, ok := tokenExpiry(token); ok {
		return exp.Sub(now) <= m.cfg.LookAhead
	}
	return st.lastSuccess.IsZero() || now.Sub(st.lastSuccess) >= m.cfg.MaxInterval
}

// refresh is the single-flight body. It runs detached from the first caller's
// cancellation so one impatient caller cannot fail everyone sharing the flight.
func (m *Manager) refresh(ctx context.Context, t team.Team, current string) (string, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.RefreshTimeout)
	defer cancel()

	started := m.now()
	m.mu.Lock()
	st := m.stateLocked(t.ID)
	st.lastAttempt = started
	st.inflight = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		st.inflight = false
		m.mu.Unlock()
	}()

	token, err := m.refresher.Refresh(fctx, t.RefreshSecret)
	if m.observe != nil {
		m.observe(t.ID, err)
	}
	if err != nil {
		m.log.Warn("credential.refresh.fail", "team_id", t.ID, "err", err)
		return "", err
	}

	if perr := m.store.UpdateAccessToken(fctx, t.ID, token, started); perr != nil {
		// The token is valid either way; the next instance to load the team
		// will just refresh again.
		m.log.Error("credential.refresh.persist_fail", "team_id", t.ID, "err", perr)
	}

	m.mu.Lock()
	st.lastSuccess = m.now()
	st.replaced = current
	st.token = token
	m.mu.Unlock()

	m.log.Info("credential.refresh.ok", "team_id", t.ID)
	return token, nil
}
