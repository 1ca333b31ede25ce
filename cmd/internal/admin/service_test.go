package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"teaminvite/cmd/internal/accounting"
	"teaminvite/cmd/internal/booking"
	"teaminvite/cmd/internal/credential"
	"teaminvite/cmd/internal/invite"
	"teaminvite/cmd/internal/team"
	"teaminvite/cmd/internal/upstream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type gaugeFunc func(ctx context.Context, t team.Team) (int, error)

func (f gaugeFunc) SeatsInUse(ctx context.Context, t team.Team) (int, error) { return f(ctx, t) }

type fakeCreds struct {
	forced int
	err    error
}

func (f *fakeCreds) Ensure(_ context.Context, t team.Team, opts credential.EnsureOptions) (credential.Result, error) {
	if opts.Force {
		f.forced++
	}
	if f.err != nil {
		return credential.Result{}, f.err
	}
	return credential.Result{AccessToken: t.AccessToken, Refreshed: opts.Force}, nil
}

func (f *fakeCreds) WithRefresh(ctx context.Context, t team.Team, action func(context.Context, string) error) error {
	return action(ctx, t.AccessToken)
}

func (f *fakeCreds) Snapshot(string) credential.Snapshot { return credential.Snapshot{} }

type mockAPI struct{ mock.Mock }

func (m *mockAPI) ListInvites(ctx context.Context, accountID, tok string) (upstream.Invites, error) {
	args := m.Called(accountID, tok)
	return args.Get(0).(upstream.Invites), args.Error(1)
}

func (m *mockAPI) CancelInvite(ctx context.Context, accountID, email, tok string) error {
	return m.Called(accountID, email, tok).Error(0)
}

func (m *mockAPI) GetSubscription(ctx context.Context, accountID, tok string) (upstream.Subscription, error) {
	args := m.Called(accountID, tok)
	return args.Get(0).(upstream.Subscription), args.Error(1)
}

func (m *mockAPI) CancelAutoRenew(ctx context.Context, accountID, tok string) error {
	return m.Called(accountID, tok).Error(0)
}

type fixture struct {
	svc      *Service
	teams    *team.InMemoryStore
	bookings *booking.InMemoryStore
	creds    *fakeCreds
	api      *mockAPI
}

func newFixture(t *testing.T, gauge gaugeFunc, withAPI bool) *fixture {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		teams:    team.NewInMemoryStore(),
		bookings: booking.NewInMemoryStore(),
		creds:    &fakeCreds{},
		api:      &mockAPI{},
	}
	rec, err := accounting.NewReconciler(f.teams, f.bookings, gauge, accounting.WithLogger(quiet))
	require.NoError(t, err)
	codes, err := invite.NewService(invite.NewInMemoryStore())
	require.NoError(t, err)

	d := Deps{Teams: f.teams, Bookings: f.bookings, Codes: codes, Reconciler: rec, Credentials: f.creds}
	if withAPI {
		d.API = f.api
	}
	f.svc, err = NewService(d, WithLogger(quiet))
	require.NoError(t, err)
	return f
}

func seats(n int) gaugeFunc {
	return func(context.Context, team.Team) (int, error) { return n, nil }
}

func TestAddTeam_SeedsSeatsFromGauge(t *testing.T) {
	f := newFixture(t, seats(3), false)

	res, err := f.svc.AddTeam(context.Background(), AddTeamInput{
		AccountID: "acct-1", Name: "One", MaxSeats: 10, AccessToken: "secret-token",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Sync)
	assert.Len(t, res.Team.ID, 26)
	assert.True(t, res.Team.Active)
	assert.Equal(t, 3, res.Team.CurrentSeats)
	assert.Equal(t, 7, res.Team.FreeSeats)
	assert.Empty(t, res.SyncError)
}

func TestAddTeam_GaugeFailureStillCreates(t *testing.T) {
	f := newFixture(t, func(context.Context, team.Team) (int, error) {
		return 0, upstream.ErrUnavailable
	}, false)

	res, err := f.svc.AddTeam(context.Background(), AddTeamInput{AccountID: "acct-1", MaxSeats: 10, AccessToken: "tok"})
	require.NoError(t, err)
	assert.Nil(t, res.Sync)
	assert.Contains(t, res.SyncError, "unavailable")
	assert.Equal(t, 0, res.Team.CurrentSeats)

	list, err := f.svc.ListTeams(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestListTeams_HidesCredentials(t *testing.T) {
	f := newFixture(t, seats(0), false)
	_, err := f.svc.AddTeam(context.Background(), AddTeamInput{
		AccountID: "acct-1", MaxSeats: 10, AccessToken: "secret-token", RefreshSecret: "secret-cookie",
	})
	require.NoError(t, err)

	list, err := f.svc.ListTeams(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].HasAccessToken)
	assert.True(t, list[0].HasRefreshSecret)

	raw, err := json.Marshal(list)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-token")
	assert.NotContains(t, string(raw), "secret-cookie")
}

func TestUpdateTeam(t *testing.T) {
	f := newFixture(t, seats(0), false)
	res, err := f.svc.AddTeam(context.Background(), AddTeamInput{AccountID: "acct-1", MaxSeats: 10, AccessToken: "tok"})
	require.NoError(t, err)

	inactive, prio := false, 4
	v, err := f.svc.UpdateTeam(context.Background(), res.Team.ID, team.UpdateInput{Active: &inactive, Priority: &prio})
	require.NoError(t, err)
	assert.False(t, v.Active)
	assert.False(t, v.Eligible)
	assert.Equal(t, 4, v.Priority)

	_, err = f.svc.UpdateTeam(context.Background(), "missing", team.UpdateInput{Priority: &prio})
	assert.ErrorIs(t, err, team.ErrNotFound)
}

func claimOn(t *testing.T, f *fixture, id, code, email, teamID string) {
	t.Helper()
	ctx := context.Background()
	_, _, err := f.bookings.Claim(ctx, booking.ClaimInput{ID: id, CodeID: code, Email: email, Now: time.Now()})
	require.NoError(t, err)
	require.NoError(t, f.bookings.AssignTeam(ctx, id, teamID, time.Now()))
	_, ok, err := f.teams.TryReserveSeat(ctx, teamID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReleaseBookings(t *testing.T) {
	f := newFixture(t, seats(0), false)
	res, err := f.svc.AddTeam(context.Background(), AddTeamInput{AccountID: "acct-1", MaxSeats: 10, AccessToken: "tok"})
	require.NoError(t, err)
	id := res.Team.ID

	claimOn(t, f, "b1", "c1", "a@example.com", id)
	claimOn(t, f, "b2", "c2", "b@example.com", id)
	claimOn(t, f, "b3", "c3", "c@example.com", id)

	out, err := f.svc.ReleaseBookings(context.Background(), id, ReleaseInput{BookingIDs: []string{"b1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, out.Released)
	assert.Equal(t, 2, out.CurrentSeats)

	b, err := f.bookings.Get(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusFailed, b.Status)
	assert.Equal(t, booking.ReleaseMessage, b.Message)

	out, err = f.svc.ReleaseBookings(context.Background(), id, ReleaseInput{Reason: "seat reclaimed"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b2", "b3"}, out.Released)
	assert.Equal(t, 0, out.CurrentSeats)

	// Nothing live remains; the counter must not go negative.
	out, err = f.svc.ReleaseBookings(context.Background(), id, ReleaseInput{BookingIDs: []string{"b1", "b2"}})
	require.NoError(t, err)
	assert.Empty(t, out.Released)
	assert.Equal(t, 0, out.CurrentSeats)
}

func TestCancelPendingInvites(t *testing.T) {
	f := newFixture(t, seats(0), true)
	res, err := f.svc.AddTeam(context.Background(), AddTeamInput{AccountID: "acct-1", MaxSeats: 10, AccessToken: "tok"})
	require.NoError(t, err)

	f.api.On("ListInvites", "acct-1", "tok").Return(upstream.Invites{Total: 2, Items: []upstream.Invite{
		{ID: "i1", Email: "a@example.com"}, {ID: "i2", Email: "b@example.com"},
	}}, nil)
	f.api.On("CancelInvite", "acct-1", "a@example.com", "tok").Return(nil)
	f.api.On("CancelInvite", "acct-1", "b@example.com", "tok").Return(errors.New("boom"))

	out, err := f.svc.CancelPendingInvites(context.Background(), res.Team.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com"}, out.Cancelled)
	assert.Contains(t, out.Failed, "b@example.com")
	f.api.AssertExpectations(t)
}

func TestCancelPendingInvites_SelectedEmails(t *testing.T) {
	f := newFixture(t, seats(0), true)
	res, err := f.svc.AddTeam(context.Background(), AddTeamInput{AccountID: "acct-1", MaxSeats: 10, AccessToken: "tok"})
	require.NoError(t, err)

	f.api.On("CancelInvite", "acct-1", "c@example.com", "tok").Return(nil).Once()

	out, err := f.svc.CancelPendingInvites(context.Background(), res.Team.ID, []string{" C@Example.com "})
	require.NoError(t, err)
	assert.Equal(t, []string{"c@example.com"}, out.Cancelled)
	f.api.AssertExpectations(t)
	f.api.AssertNotCalled(t, "ListInvites", "acct-1", "tok")

	_, err = f.svc.CancelPendingInvites(context.Background(), res.Team.ID, []string{"  "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCancelAutoRenew(t *testing.T) {
	f := newFixture(t, seats(0), true)
	res, err := f.svc.AddTeam(context.Background(), AddTeamInput{AccountID: "acct-1", MaxSeats: 10, AccessToken: "tok"})
	require.NoError(t, err)

	f.api.On("CancelAutoRenew", "acct-1", "tok").Return(nil).Once()
	f.api.On("GetSubscription", "acct-1", "tok").Return(upstream.Subscription{SeatsInUse: 2, WillRenew: false}, nil).Once()

	sub, err := f.svc.CancelAutoRenew(context.Background(), res.Team.ID)
	require.NoError(t, err)
	assert.False(t, sub.WillRenew)
	f.api.AssertExpectations(t)
}

func TestUpstreamOpsRequireAPI(t *testing.T) {
	f := newFixture(t, seats(0), false)
	res, err := f.svc.AddTeam(context.Background(), AddTeamInput{AccountID: "acct-1", MaxSeats: 10, AccessToken: "tok"})
	require.NoError(t, err)

	_, err = f.svc.CancelAutoRenew(context.Background(), res.Team.ID)
	assert.ErrorIs(t, err, ErrNoUpstream)
	_, err = f.svc.CancelPendingInvites(context.Background(), res.Team.ID, nil)
	assert.ErrorIs(t, err, ErrNoUpstream)
}

func TestRefreshCredential(t *testing.T) {
	f := newFixture(t, seats(0), false)
	res, err := f.svc.AddTeam(context.Background(), AddTeamInput{AccountID: "acct-1", MaxSeats: 10, RefreshSecret: "cookie"})
	require.NoError(t, err)

	out, err := f.svc.RefreshCredential(context.Background(), res.Team.ID)
	require.NoError(t, err)
	assert.True(t, out.Refreshed)
	assert.Equal(t, 1, f.creds.forced)

	f.creds.err = upstream.ErrCredentialInvalid
	_, err = f.svc.RefreshCredential(context.Background(), res.Team.ID)
	assert.ErrorIs(t, err, upstream.ErrCredentialInvalid)
}

func TestCodes(t *testing.T) {
	f := newFixture(t, seats(0), false)
	issued, err := f.svc.CreateCodes(context.Background(), invite.CreateInput{Count: 3, TTL: time.Hour})
	require.NoError(t, err)
	require.Len(t, issued, 3)

	c, err := f.svc.RevokeCode(context.Background(), issued[0].Code.ID)
	require.NoError(t, err)
	assert.NotNil(t, c.RevokedAt)
}
