// Package admin implements the operator-facing operations on teams,
// bookings and codes. Handlers and CLI commands call it; it owns no state.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"teaminvite/cmd/internal/accounting"
	"teaminvite/cmd/internal/booking"
	"teaminvite/cmd/internal/credential"
	"teaminvite/cmd/internal/ids"
	"teaminvite/cmd/internal/invite"
	"teaminvite/cmd/internal/team"
	"teaminvite/cmd/internal/upstream"
)

// Reconciler is the seat accounting the admin surface drives.
type Reconciler interface {
	Sync(ctx context.Context, teamID string) (accounting.SyncResult, error)
	Recalculate(ctx context.Context, teamID string, count *int) (accounting.SyncResult, error)
}

// Credentials is the refresh manager.
type Credentials interface {
	Ensure(ctx context.Context, t team.Team, opts credential.EnsureOptions) (credential.Result, error)
	WithRefresh(ctx context.Context, t team.Team, action func(ctx context.Context, accessToken string) error) error
	Snapshot(teamID string) credential.Snapshot
}

// Upstream is the subset of the external API used by administrators.
type Upstream interface {
	ListInvites(ctx context.Context, accountID, accessToken string) (upstream.Invites, error)
	CancelInvite(ctx context.Context, accountID, email, accessToken string) error
	GetSubscription(ctx context.Context, accountID, accessToken string) (upstream.Subscription, error)
	CancelAutoRenew(ctx context.Context, accountID, accessToken string) error
}

// Codes issues and revokes redemption codes.
type Codes interface {
	CreateCodes(ctx context.Context, in invite.CreateInput) ([]invite.Issued, error)
	Revoke(ctx context.Context, codeID string, now time.Time) (invite.Code, error)
}

// Deps are the collaborators of a Service. API may be nil in offline setups.
type Deps struct {
	Teams       team.Store
	Bookings    booking.Store
	Codes       Codes
	Reconciler  Reconciler
	Credentials Credentials
	API         Upstream
}

// Service implements the admin operations.
type Service struct {
	Deps
	log *slog.Logger
	now func() time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(d Deps, opts ...Option) (*Service, error) {
	if d.Teams == nil || d.Bookings == nil || d.Codes == nil || d.Reconciler == nil || d.Credentials == nil {
		return nil, fmt.Errorf("admin: missing dependency")
	}
	s := &Service{Deps: d, log: slog.Default(), now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// TeamView is a team as shown to administrators. Credentials never leave the
// service; only their presence is reported.
type TeamView struct {
	ID               string     `json:"id"`
	AccountID        string     `json:"account_id"`
	Name             string     `json:"name"`
	MaxSeats         int        `json:"max_seats"`
	CurrentSeats     int        `json:"current_seats"`
	FreeSeats        int        `json:"free_seats"`
	Reserved         int        `json:"reserved"`
	Priority         int        `json:"priority"`
	Active           bool       `json:"active"`
	Eligible         bool       `json:"eligible"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	HasAccessToken   bool       `json:"has_access_token"`
	HasRefreshSecret bool       `json:"has_refresh_secret"`
	TokenRefreshedAt *time.Time `json:"token_refreshed_at,omitempty"`
	LastRefreshTry   *time.Time `json:"last_refresh_attempt,omitempty"`
	Note             *string    `json:"note,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (s *Service) view(ctx context.Context, t team.Team) (TeamView, error) {
	reserved, err := s.Bookings.CountReserved(ctx, t.ID)
	if err != nil {
		return TeamView{}, err
	}
	v := TeamView{
		ID:               t.ID,
		AccountID:        t.AccountID,
		Name:             t.Name,
		MaxSeats:         t.MaxSeats,
		CurrentSeats:     t.CurrentSeats,
		FreeSeats:        t.FreeSeats(),
		Reserved:         reserved,
		Priority:         t.Priority,
		Active:           t.Active,
		Eligible:         t.Eligible(s.now()),
		ExpiresAt:        t.ExpiresAt,
		HasAccessToken:   strings.TrimSpace(t.AccessToken) != "",
		HasRefreshSecret: t.CanRefresh(),
		TokenRefreshedAt: t.TokenRefreshedAt,
		Note:             t.Note,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
	if snap := s.Credentials.Snapshot(t.ID); !snap.LastAttempt.IsZero() {
		at := snap.LastAttempt
		v.LastRefreshTry = &at
	}
	return v, nil
}

// ListTeams returns every team in allocation order.
func (s *Service) ListTeams(ctx context.Context) ([]TeamView, error) {
	teams, err := s.Teams.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TeamView, 0, len(teams))
	for _, t := range teams {
		v, err := s.view(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// GetTeam returns one team.
func (s *Service) GetTeam(ctx context.Context, id string) (TeamView, error) {
	t, err := s.Teams.Get(ctx, id)
	if err != nil {
		return TeamView{}, err
	}
	return s.view(ctx, t)
}

// AddTeamInput describes a team to register.
type AddTeamInput struct {
	AccountID     string     `json:"account_id"`
	Name          string     `json:"name"`
	MaxSeats      int        `json:"max_seats"`
	Priority      int        `json:"priority"`
	Active        *bool      `json:"active,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	AccessToken   string     `json:"access_token"`
	RefreshSecret string     `json:"refresh_secret"`
	Note          *string    `json:"note,omitempty"`
}

// AddTeamResult is the new team plus the outcome of its initial seat reading.
type AddTeamResult struct {
	Team      TeamView               `json:"team"`
	Sync      *accounting.SyncResult `json:"sync,omitempty"`
	SyncError string                 `json:"sync_error,omitempty"`
}

// AddTeam registers a team and seeds its counter from an external reading.
// A failed reading leaves the team at zero seats and is reported, not returned.
func (s *Service) AddTeam(ctx context.Context, in AddTeamInput) (AddTeamResult, error) {
	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return AddTeamResult{}, err
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	t, err := s.Teams.Create(ctx, team.CreateInput{
		ID:            id,
		AccountID:     in.AccountID,
		Name:          in.Name,
		MaxSeats:      in.MaxSeats,
		Priority:      in.Priority,
		Active:        active,
		ExpiresAt:     in.ExpiresAt,
		AccessToken:   in.AccessToken,
		RefreshSecret: in.RefreshSecret,
		Note:          in.Note,
		Now:           now,
	})
	if err != nil {
		return AddTeamResult{}, err
	}
	s.log.Info("admin.team.added", "team_id", t.ID, "account_id", t.AccountID, "max_seats", t.MaxSeats)

	var out AddTeamResult
	if sr, err := s.Reconciler.Sync(ctx, t.ID); err != nil {
		s.log.Warn("admin.team.initial_sync_fail", "team_id", t.ID, "err", err)
		out.SyncError = err.Error()
	} else {
		out.Sync = &sr
		if t, err = s.Teams.Get(ctx, t.ID); err != nil {
			return AddTeamResult{}, err
		}
	}
	if out.Team, err = s.view(ctx, t); err != nil {
		return AddTeamResult{}, err
	}
	return out, nil
}

// UpdateTeam patches administrator-controlled fields.
func (s *Service) UpdateTeam(ctx context.Context, id string, in team.UpdateInput) (TeamView, error) {
	if in.Now.IsZero() {
		in.Now = s.now()
	}
	t, err := s.Teams.Update(ctx, id, in)
	if err != nil {
		return TeamView{}, err
	}
	s.log.Info("admin.team.updated", "team_id", t.ID)
	return s.view(ctx, t)
}

// SyncSeats forces an external seat reading (raise-only).
func (s *Service) SyncSeats(ctx context.Context, id string) (accounting.SyncResult, error) {
	return s.Reconciler.Sync(ctx, id)
}

// Recalculate overwrites the seat counter (see accounting.Reconciler.Recalculate).
func (s *Service) Recalculate(ctx context.Context, id string, count *int) (accounting.SyncResult, error) {
	return s.Reconciler.Recalculate(ctx, id, count)
}

// ReleaseInput selects bookings to release. Empty IDs releases every live
// booking on the team.
type ReleaseInput struct {
	BookingIDs []string `json:"booking_ids"`
	Reason     string   `json:"reason"`
}

// ReleaseResult lists released bookings and the counter afterwards.
type ReleaseResult struct {
	Released     []string `json:"released"`
	CurrentSeats int      `json:"current_seats"`
}

// ReleaseBookings fails the selected live bookings and gives their seats
// back, one decrement per booking.
func (s *Service) ReleaseBookings(ctx context.Context, teamID string, in ReleaseInput) (ReleaseResult, error) {
	t, err := s.Teams.Get(ctx, teamID)
	if err != nil {
		return ReleaseResult{}, err
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = booking.ReleaseMessage
	}
	bookingIDs := in.BookingIDs
	if len(bookingIDs) == 0 {
		live, err := s.Bookings.ListByTeam(ctx, t.ID, booking.StatusPending, booking.StatusConfirmed)
		if err != nil {
			return ReleaseResult{}, err
		}
		for _, b := range live {
			bookingIDs = append(bookingIDs, b.ID)
		}
	}
	released, err := s.Bookings.Release(ctx, t.ID, bookingIDs, reason, s.now())
	if err != nil {
		return ReleaseResult{}, err
	}

	res := ReleaseResult{Released: make([]string, 0, len(released)), CurrentSeats: t.CurrentSeats}
	for _, b := range released {
		seats, err := s.Teams.ReleaseSeat(ctx, t.ID)
		if err != nil {
			return res, fmt.Errorf("release seat for booking %s: %w", b.ID, err)
		}
		res.Released = append(res.Released, b.ID)
		res.CurrentSeats = seats
	}
	s.log.Info("admin.bookings.released", "team_id", t.ID, "count", len(res.Released), "seats", res.CurrentSeats)
	return res, nil
}

// CancelResult reports per-invite outcomes of CancelPendingInvites.
type CancelResult struct {
	Cancelled []string          `json:"cancelled"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// CancelPendingInvites withdraws pending invitations on the team's external
// account: the given emails, or every pending invitation when emails is
// empty. The seat counter is left alone; follow with Recalculate once the
// account reflects the change.
func (s *Service) CancelPendingInvites(ctx context.Context, teamID string, emails []string) (CancelResult, error) {
	if s.API == nil {
		return CancelResult{}, ErrNoUpstream
	}
	targets := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			return CancelResult{}, fmt.Errorf("%w: empty email", ErrInvalidInput)
		}
		targets = append(targets, e)
	}
	t, err := s.Teams.Get(ctx, teamID)
	if err != nil {
		return CancelResult{}, err
	}
	res := CancelResult{Cancelled: []string{}}
	err = s.Credentials.WithRefresh(ctx, t, func(ctx context.Context, tok string) error {
		if len(emails) == 0 {
			invites, err := s.API.ListInvites(ctx, t.AccountID, tok)
			if err != nil {
				return err
			}
			for _, inv := range invites.Items {
				targets = append(targets, inv.Email)
			}
		}
		for _, email := range targets {
			if err := s.API.CancelInvite(ctx, t.AccountID, email, tok); err != nil {
				if res.Failed == nil {
					res.Failed = map[string]string{}
				}
				res.Failed[email] = err.Error()
				continue
			}
			res.Cancelled = append(res.Cancelled, email)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	s.log.Info("admin.invites.cancelled", "team_id", t.ID, "cancelled", len(res.Cancelled), "failed", len(res.Failed))
	return res, nil
}

// CreateCodes issues a batch of redemption codes.
func (s *Service) CreateCodes(ctx context.Context, in invite.CreateInput) ([]invite.Issued, error) {
	if in.Now.IsZero() {
		in.Now = s.now()
	}
	out, err := s.Codes.CreateCodes(ctx, in)
	if err != nil {
		return nil, err
	}
	s.log.Info("admin.codes.created", "count", len(out))
	return out, nil
}

// RevokeCode makes an unconsumed code unusable.
func (s *Service) RevokeCode(ctx context.Context, id string) (invite.Code, error) {
	c, err := s.Codes.Revoke(ctx, id, s.now())
	if err != nil {
		return invite.Code{}, err
	}
	s.log.Info("admin.code.revoked", "code_id", c.ID)
	return c, nil
}

// RefreshResult reports a forced refresh. The token itself is never returned.
type RefreshResult struct {
	TeamID      string    `json:"team_id"`
	Refreshed   bool      `json:"refreshed"`
	LastSuccess time.Time `json:"last_success"`
}

// RefreshCredential forces a token refresh for the team.
func (s *Service) RefreshCredential(ctx context.Context, teamID string) (RefreshResult, error) {
	t, err := s.Teams.Get(ctx, teamID)
	if err != nil {
		return RefreshResult{}, err
	}
	res, err := s.Credentials.Ensure(ctx, t, credential.EnsureOptions{Force: true})
	if err != nil {
		return RefreshResult{TeamID: t.ID}, err
	}
	return RefreshResult{
		TeamID:      t.ID,
		Refreshed:   res.Refreshed,
		LastSuccess: s.Credentials.Snapshot(t.ID).LastSuccess,
	}, nil
}

// CancelAutoRenew turns off the external subscription renewal and returns
// the resulting subscription state.
func (s *Service) CancelAutoRenew(ctx context.Context, teamID string) (upstream.Subscription, error) {
	if s.API == nil {
		return upstream.Subscription{}, ErrNoUpstream
	}
	t, err := s.Teams.Get(ctx, teamID)
	if err != nil {
		return upstream.Subscription{}, err
	}
	var sub upstream.Subscription
	err = s.Credentials.WithRefresh(ctx, t, func(ctx context.Context, tok string) error {
		if err := s.API.CancelAutoRenew(ctx, t.AccountID, tok); err != nil {
			return err
		}
		var err error
		sub, err = s.API.GetSubscription(ctx, t.AccountID, tok)
		return err
	})
	if err != nil {
		return upstream.Subscription{}, err
	}
	s.log.Info("admin.subscription.auto_renew_cancelled", "team_id", t.ID)
	return sub, nil
}
