package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"teaminvite/cmd/internal/accounting"
	"teaminvite/cmd/internal/credential"
	"teaminvite/cmd/internal/notify"
	"teaminvite/cmd/internal/redeem"
	"teaminvite/cmd/internal/team"
	"teaminvite/cmd/internal/upstream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type staticTeams []team.Team

func (s staticTeams) List(context.Context) ([]team.Team, error) { return s, nil }

type fakeSyncer struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
}

func (f *fakeSyncer) Sync(_ context.Context, id string) (accounting.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	return accounting.SyncResult{TeamID: id}, f.errs[id]
}

type fakeEnsurer struct {
	calls []string
	errs  map[string]error
}

func (f *fakeEnsurer) Ensure(_ context.Context, t team.Team, opts credential.EnsureOptions) (credential.Result, error) {
	f.calls = append(f.calls, t.ID)
	return credential.Result{AccessToken: t.AccessToken}, f.errs[t.ID]
}

type recordingNotifier struct{ alerts []notify.Alert }

func (r *recordingNotifier) NotifyOperator(_ context.Context, a notify.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

func fixtureTeams() staticTeams {
	past := testNow.Add(-time.Hour)
	return staticTeams{
		{ID: "ok", Active: true, AccessToken: "tok", RefreshSecret: "cookie"},
		{ID: "token-only", Active: true, AccessToken: "tok"},
		{ID: "inactive", Active: false, AccessToken: "tok", RefreshSecret: "cookie"},
		{ID: "expired", Active: true, AccessToken: "tok", RefreshSecret: "cookie", ExpiresAt: &past},
		{ID: "blocked", Active: true, AccessToken: "tok", RefreshSecret: "cookie"},
	}
}

func newScheduler(t *testing.T, cfg Config, syncer Syncer, creds Ensurer, n notify.Notifier) *Scheduler {
	t.Helper()
	s, err := NewScheduler(cfg, fixtureTeams(), syncer, creds,
		WithNotifier(n),
		WithClock(func() time.Time { return testNow }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return s
}

func TestRunSync_EligibleTeamsOnly(t *testing.T) {
	syncer := &fakeSyncer{errs: map[string]error{
		"blocked": &upstream.Error{Op: "ListMembers", Status: 403, Kind: upstream.ErrChallengeBlocked},
	}}
	n := &recordingNotifier{}
	s := newScheduler(t, DefaultConfig(), syncer, &fakeEnsurer{}, n)

	r := s.RunSync(context.Background())
	assert.Equal(t, []string{"ok", "token-only", "blocked"}, syncer.calls)
	assert.Equal(t, Report{Teams: 3, Failed: 1}, r)
	require.Len(t, n.alerts, 1)
	assert.Equal(t, "blocked", n.alerts[0].TeamID)
}

func TestRunRefresh_OnlyTeamsWithSecrets(t *testing.T) {
	creds := &fakeEnsurer{errs: map[string]error{
		"blocked": &upstream.Error{Op: "Refresh", Status: 401, Kind: upstream.ErrCredentialInvalid},
	}}
	n := &recordingNotifier{}
	s := newScheduler(t, DefaultConfig(), &fakeSyncer{}, creds, n)

	r := s.RunRefresh(context.Background())
	assert.Equal(t, []string{"ok", "blocked"}, creds.calls)
	assert.Equal(t, Report{Teams: 2, Failed: 1}, r)
	require.Len(t, n.alerts, 1)
	assert.Equal(t, upstream.ErrCredentialInvalid.Error(), n.alerts[0].Reason)
}

func TestRunSync_TransientErrorsDoNotAlert(t *testing.T) {
	syncer := &fakeSyncer{errs: map[string]error{"ok": errors.New("connection reset")}}
	n := &recordingNotifier{}
	s := newScheduler(t, DefaultConfig(), syncer, &fakeEnsurer{}, n)

	r := s.RunSync(context.Background())
	assert.Equal(t, 1, r.Failed)
	assert.Empty(t, n.alerts)
}

func TestScheduler_StartStop(t *testing.T) {
	s := newScheduler(t, Config{SyncSpec: "@every 1h", Timeout: time.Second}, &fakeSyncer{}, &fakeEnsurer{}, notify.Noop{})
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Len(t, s.cron.Entries(), 1)
}

type fakeRepairer struct {
	report redeem.RepairReport
	err    error
	calls  int
}

func (f *fakeRepairer) Repair(context.Context) (redeem.RepairReport, error) {
	f.calls++
	return f.report, f.err
}

func TestRunRepair(t *testing.T) {
	quiet := WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	rep := &fakeRepairer{report: redeem.RepairReport{Scanned: 4, Confirmed: 1, Failed: 2, Skipped: 1}}
	s, err := NewScheduler(DefaultConfig(), fixtureTeams(), &fakeSyncer{}, &fakeEnsurer{}, quiet, WithRepairer(rep))
	require.NoError(t, err)

	assert.Equal(t, Report{Bookings: 4, Failed: 1}, s.RunRepair(context.Background()))
	assert.Equal(t, 1, rep.calls)
	assert.Len(t, s.cron.Entries(), 3)

	rep.err = errors.New("list stale")
	rep.report = redeem.RepairReport{}
	assert.Equal(t, Report{}, s.RunRepair(context.Background()))

	without, err := NewScheduler(DefaultConfig(), fixtureTeams(), &fakeSyncer{}, &fakeEnsurer{}, quiet)
	require.NoError(t, err)
	assert.Equal(t, Report{}, without.RunRepair(context.Background()))
	assert.Len(t, without.cron.Entries(), 2)
}

func TestConfig(t *testing.T) {
	t.Setenv(EnvSyncSpec, "*/5 * * * *")
	t.Setenv(EnvRefreshSpec, "off")
	t.Setenv(EnvRepairSpec, "@every 2m")
	t.Setenv(EnvJobTimeout, "90s")
	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "@every 2m", cfg.RepairSpec)
	assert.Equal(t, "*/5 * * * *", cfg.SyncSpec)
	assert.Empty(t, cfg.RefreshSpec)
	assert.Equal(t, 90*time.Second, cfg.Timeout)

	t.Setenv(EnvSyncSpec, "every now and then")
	_, err = LoadConfigFromEnv()
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewScheduler(Config{SyncSpec: "bogus", Timeout: time.Second}, staticTeams{}, &fakeSyncer{}, &fakeEnsurer{})
	assert.ErrorIs(t, err, ErrConfig)
}
