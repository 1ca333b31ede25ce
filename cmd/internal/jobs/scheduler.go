// Package jobs runs the periodic seat sync, credential refresh and booking
// repair.
//
// Every job is safe to run on every instance at once: sync only ever raises
// counters, refresh state is per process, and repair moves bookings with
// conditional writes.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"teaminvite/cmd/internal/accounting"
	"teaminvite/cmd/internal/credential"
	"teaminvite/cmd/internal/notify"
	"teaminvite/cmd/internal/redeem"
	"teaminvite/cmd/internal/team"
	"teaminvite/cmd/internal/upstream"

	"github.com/robfig/cron/v3"
)

type TeamLister interface {
	List(ctx context.Context) ([]team.Team, error)
}

type Syncer interface {
	Sync(ctx context.Context, teamID string) (accounting.SyncResult, error)
}

type Ensurer interface {
	Ensure(ctx context.Context, t team.Team, opts credential.EnsureOptions) (credential.Result, error)
}

type Repairer interface {
	Repair(ctx context.Context) (redeem.RepairReport, error)
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron     *cron.Cron
	cfg      Config
	teams    TeamLister
	syncer   Syncer
	creds    Ensurer
	repairer Repairer
	notifier notify.Notifier
	log      *slog.Logger
	now      func() time.Time
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.log = l } }

func WithNotifier(n notify.Notifier) Option { return func(s *Scheduler) { s.notifier = n } }

// WithRepairer enables the booking repair job.
func WithRepairer(r Repairer) Option { return func(s *Scheduler) { s.repairer = r } }

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func NewScheduler(cfg Config, teams TeamLister, syncer Syncer, creds Ensurer, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if teams == nil || syncer == nil || creds == nil {
		return nil, errors.New("jobs: missing dependency")
	}
	s := &Scheduler{
		cfg:      cfg,
		teams:    teams,
		syncer:   syncer,
		creds:    creds,
		notifier: notify.Noop{},
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if cfg.SyncSpec != "" {
		if _, err := s.cron.AddFunc(cfg.SyncSpec, s.job("seat_sync", s.RunSync)); err != nil {
			return nil, err
		}
	}
	if cfg.RefreshSpec != "" {
		if _, err := s.cron.AddFunc(cfg.RefreshSpec, s.job("credential_refresh", s.RunRefresh)); err != nil {
			return nil, err
		}
	}
	if cfg.RepairSpec != "" && s.repairer != nil {
		if _, err := s.cron.AddFunc(cfg.RepairSpec, s.job("booking_repair", s.RunRepair)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("jobs.started", "sync", s.cfg.SyncSpec, "refresh", s.cfg.RefreshSpec, "repair", s.cfg.RepairSpec)
}

// Stop stops scheduling and waits for running jobs, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.log.Info("jobs.stopped")
}

func (s *Scheduler) job(name string, run func(ctx context.Context) Report) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		start := time.Now()
		r := run(ctx)
		s.log.Info("jobs.run", "job", name, "teams", r.Teams, "bookings", r.Bookings, "failed", r.Failed, "dur_ms", time.Since(start).Milliseconds())
	}
}

// Report summarizes one job run.
type Report struct {
	Teams int
	// Bookings counts bookings examined by the repair job.
	Bookings int
	Failed   int
}

// RunSync forces a seat reading for every eligible team.
func (s *Scheduler) RunSync(ctx context.Context) Report {
	var r Report
	teams, err := s.teams.List(ctx)
	if err != nil {
		s.log.Error("jobs.sync.list_fail", "err", err)
		return r
	}
	now := s.now()
	for _, t := range teams {
		if !t.Eligible(now) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		r.Teams++
		res, err := s.syncer.Sync(ctx, t.ID)
		if err != nil {
			r.Failed++
			s.log.Warn("jobs.sync.fail", "team_id", t.ID, "err", err)
			s.alert(ctx, t, err)
			continue
		}
		if res.After != res.Before {
			s.log.Info("jobs.sync.corrected", "team_id", t.ID, "from", res.Before, "to", res.After)
		}
	}
	return r
}

// RunRefresh refreshes every active team's token that is due.
func (s *Scheduler) RunRefresh(ctx context.Context) Report {
	var r Report
	teams, err := s.teams.List(ctx)
	if err != nil {
		s.log.Error("jobs.refresh.list_fail", "err", err)
		return r
	}
	now := s.now()
	for _, t := range teams {
		if !t.Active || t.Expired(now) || !t.CanRefresh() {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		r.Teams++
		if _, err := s.creds.Ensure(ctx, t, credential.EnsureOptions{}); err != nil {
			r.Failed++
			s.log.Warn("jobs.refresh.fail", "team_id", t.ID, "err", err)
			s.alert(ctx, t, err)
		}
	}
	return r
}

// RunRepair settles abandoned pending bookings. Failed counts the ones left
// pending for a later run.
func (s *Scheduler) RunRepair(ctx context.Context) Report {
	if s.repairer == nil {
		return Report{}
	}
	res, err := s.repairer.Repair(ctx)
	if err != nil {
		s.log.Error("jobs.repair.fail", "err", err)
	}
	return Report{Bookings: res.Scanned, Failed: res.Skipped}
}

func (s *Scheduler) alert(ctx context.Context, t team.Team, err error) {
	if !upstream.NeedsOperator(err) {
		return
	}
	reason := upstream.ErrChallengeBlocked.Error()
	if errors.Is(err, upstream.ErrCredentialInvalid) {
		reason = upstream.ErrCredentialInvalid.Error()
	}
	a := notify.Alert{TeamID: t.ID, TeamName: t.Name, Reason: reason, Detail: err.Error()}
	if nerr := s.notifier.NotifyOperator(ctx, a); nerr != nil {
		s.log.Error("jobs.notify.fail", "team_id", t.ID, "err", nerr)
	}
}
