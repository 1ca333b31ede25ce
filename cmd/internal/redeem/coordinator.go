// Package redeem turns a (code, email) pair into an invitation on some team.
//
// The booking row for (code, email) is the concurrency guard: while it is
// pending, repeats return it without another external call. A failed attempt
// releases its seat and leaves the code unconsumed so the user may retry.
package redeem

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"teaminvite/cmd/internal/allocation"
	"teaminvite/cmd/internal/booking"
	"teaminvite/cmd/internal/dbtx"
	"teaminvite/cmd/internal/ids"
	"teaminvite/cmd/internal/invite"
	"teaminvite/cmd/internal/notify"
	"teaminvite/cmd/internal/team"
	"teaminvite/cmd/internal/upstream"
	"teaminvite/cmd/security/token"
)

// Codes resolves and consumes redemption codes.
type Codes interface {
	Get(ctx context.Context, codeID string) (invite.Code, error)
	Lookup(ctx context.Context, plain string, now time.Time) (invite.Code, error)
	Consume(ctx context.Context, codeID, email string, now time.Time) (invite.Code, error)
}

// Seats reserves and releases team seats.
type Seats interface {
	SelectAndReserve(ctx context.Context) (allocation.Reservation, error)
	Release(ctx context.Context, teamID string) error
}

// Credentials runs an external call with a fresh token.
type Credentials interface {
	WithRefresh(ctx context.Context, t team.Team, action func(ctx context.Context, accessToken string) error) error
}

// Inviter sends the external invitation.
type Inviter interface {
	SendInvite(ctx context.Context, accountID, email, accessToken string) error
}

// Observer is told the final status of every redemption.
type Observer func(status booking.Status)

// Config tunes the coordinator.
type Config struct {
	// InviteTimeout bounds the external invite call, refresh included.
	InviteTimeout time.Duration
	Commit        dbtx.CommitPolicy
	// StaleAfter is how long a pending booking may sit untouched before
	// Repair settles it. Never less than twice InviteTimeout.
	StaleAfter time.Duration
	// RepairBatch caps the bookings one Repair pass looks at.
	RepairBatch int
}

func DefaultConfig() Config {
	return Config{
		InviteTimeout: 30 * time.Second,
		Commit:        dbtx.DefaultCommitPolicy(),
		StaleAfter:    10 * time.Minute,
		RepairBatch:   100,
	}
}

// RedeemInput is one redemption request.
type RedeemInput struct {
	Code  string
	Email string
}

// Outcome is the redemption result shown to the user.
type Outcome struct {
	BookingID string         `json:"booking_id"`
	Status    booking.Status `json:"status"`
	Message   string         `json:"message,omitempty"`
	// Degraded is set when the confirm and consume writes could not be
	// committed atomically.
	Degraded bool `json:"-"`
}

// StatusView is the read model for a booking.
type StatusView struct {
	BookingID string         `json:"booking_id"`
	Status    booking.Status `json:"status"`
	Message   string         `json:"message,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Codes       Codes
	Bookings    booking.Store
	Seats       Seats
	Credentials Credentials
	Inviter     Inviter
	// Runner applies the confirm+consume pair atomically. Nil means
	// independent writes.
	Runner   dbtx.Runner
	Notifier notify.Notifier

	// Teams and Roster let Repair ask the external account whether an
	// abandoned invite went out. Without them such bookings are left alone.
	Teams  TeamGetter
	Roster Roster
}

// Coordinator orchestrates a redemption.
type Coordinator struct {
	Deps
	cfg     Config
	log     *slog.Logger
	now     func() time.Time
	observe Observer
}

// Option configures Coordinator.
type Option func(*Coordinator)

func WithConfig(cfg Config) Option { return func(c *Coordinator) { c.cfg = cfg } }

func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.log = l } }

func WithObserver(o Observer) Option { return func(c *Coordinator) { c.observe = o } }

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// NewCoordinator constructs a Coordinator.
func NewCoordinator(d Deps, opts ...Option) (*Coordinator, error) {
	if d.Codes == nil || d.Bookings == nil || d.Seats == nil || d.Credentials == nil || d.Inviter == nil {
		return nil, errors.New("redeem: missing dependency")
	}
	if d.Runner == nil {
		d.Runner = dbtx.DirectRunner{}
	}
	if d.Notifier == nil {
		d.Notifier = notify.Noop{}
	}
	c := &Coordinator{
		Deps: d,
		cfg:  DefaultConfig(),
		log:  slog.Default(),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if floor := 2 * c.cfg.InviteTimeout; c.cfg.StaleAfter < floor {
		c.cfg.StaleAfter = floor
	}
	return c, nil
}

// Redeem redeems code for email.
//
// Validation and ownership problems are returned as errors. Every failure
// after the booking is claimed is reported as a failed Outcome with a
// human-readable message instead.
func (c *Coordinator) Redeem(ctx context.Context, in RedeemInput) (Outcome, error) {
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return Outcome{}, err
	}
	if norm := token.NormalizeCode(in.Code); norm == "" || len(norm) > 64 {
		return Outcome{}, ErrInvalidInput
	}
	now := c.now()

	code, err := c.Codes.Lookup(ctx, in.Code, now)
	if err != nil {
		if errors.Is(err, invite.ErrNotFound) || errors.Is(err, invite.ErrNotActive) || errors.Is(err, invite.ErrInvalidInput) {
			return Outcome{}, ErrCodeInvalid
		}
		return Outcome{}, err
	}
	if code.Consumed() {
		if !code.ConsumedByEmail(email) {
			return Outcome{}, ErrCodeUsed
		}
		b, err := c.Bookings.FindByCodeEmail(ctx, code.ID, email)
		if errors.Is(err, booking.ErrNotFound) {
			return Outcome{Status: booking.StatusConfirmed}, nil
		}
		if err != nil {
			return Outcome{}, err
		}
		return c.repairConfirm(ctx, b), nil
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Outcome{}, err
	}
	b, created, err := c.Bookings.Claim(ctx, booking.ClaimInput{ID: id, CodeID: code.ID, Email: email, Now: now})
	if err != nil {
		if errors.Is(err, booking.ErrCodeBound) {
			return Outcome{}, ErrCodeBound
		}
		return Outcome{}, err
	}
	if !created {
		var done bool
		if b, done, err = c.resume(ctx, b, code); err != nil || done {
			return outcomeOf(b), err
		}
	}

	log := c.log.With("booking_id", b.ID, "code_id", code.ID)
	return c.allocateAndInvite(ctx, log, b, code, email)
}

// resume handles a repeat claim. done is true when the existing booking
// answers the request.
func (c *Coordinator) resume(ctx context.Context, b booking.Booking, code invite.Code) (booking.Booking, bool, error) {
	switch b.Status {
	case booking.StatusConfirmed:
		c.repairConsume(ctx, b, code)
		return b, true, nil
	case booking.StatusPending:
		return b, true, nil
	}

	reopened, ok, err := c.Bookings.Reopen(ctx, b.ID, c.now())
	if err != nil {
		if errors.Is(err, booking.ErrCodeBound) {
			return b, true, ErrCodeBound
		}
		return b, true, err
	}
	if !ok {
		// Another request reopened it first.
		return reopened, true, nil
	}
	return reopened, false, nil
}

// repairConfirm finishes a confirm that an earlier commit left behind. The
// code is already consumed by this email, so the invite went out.
func (c *Coordinator) repairConfirm(ctx context.Context, b booking.Booking) Outcome {
	if b.Status != booking.StatusPending {
		return outcomeOf(b)
	}
	if err := c.Bookings.MarkConfirmed(ctx, b.ID, c.now()); err != nil {
		c.log.Error("redeem.confirm.repair_fail", "booking_id", b.ID, "err", err)
		return outcomeOf(b)
	}
	c.log.Info("redeem.confirm.repaired", "booking_id", b.ID)
	return Outcome{BookingID: b.ID, Status: booking.StatusConfirmed}
}

// repairConsume finishes a consume that an earlier degraded commit left behind.
func (c *Coordinator) repairConsume(ctx context.Context, b booking.Booking, code invite.Code) {
	if code.Consumed() {
		return
	}
	if _, err := c.Codes.Consume(ctx, code.ID, b.Email, c.now()); err != nil {
		c.log.Error("redeem.consume.repair_fail", "booking_id", b.ID, "code_id", code.ID, "err", err)
	}
}

func (c *Coordinator) allocateAndInvite(ctx context.Context, log *slog.Logger, b booking.Booking, code invite.Code, email string) (Outcome, error) {
	res, err := c.Seats.SelectAndReserve(ctx)
	if err != nil {
		log.Warn("redeem.allocate.fail", "err", err)
		out, _ := c.fail(ctx, b, err)
		return out, nil
	}
	teamID := res.TeamID()
	log = log.With("team_id", teamID)

	if err := c.Bookings.AssignTeam(ctx, b.ID, teamID, c.now()); err != nil {
		log.Error("redeem.assign.fail", "err", err)
		// The seat never got attached to the booking, so it is ours to return.
		out, _ := c.fail(ctx, b, err)
		c.release(ctx, b.ID, teamID)
		return out, nil
	}

	ictx, cancel := context.WithTimeout(ctx, c.cfg.InviteTimeout)
	err = c.Credentials.WithRefresh(ictx, res.Team, func(ctx context.Context, tok string) error {
		return c.Inviter.SendInvite(ctx, res.Team.AccountID, email, tok)
	})
	cancel()
	if err != nil {
		log.Warn("redeem.invite.fail", "err", err)
		if upstream.NeedsOperator(err) {
			c.alert(ctx, res.Team, err)
		}
		out, settled := c.fail(ctx, b, err)
		if settled {
			c.release(ctx, b.ID, teamID)
		}
		return out, nil
	}

	cres, confirmed := c.commit(ctx, log, b.ID, code.ID, email)
	if !confirmed {
		out := c.current(ctx, b.ID)
		out.Degraded = true
		c.record(out.Status)
		return out, nil
	}
	log.Info("redeem.confirmed", "seats", res.Seats, "unlimited", res.Unlimited)
	c.record(booking.StatusConfirmed)
	return Outcome{BookingID: b.ID, Status: booking.StatusConfirmed, Degraded: !cres.Atomic}, nil
}

const (
	writeConfirm = "booking.confirm"
	writeConsume = "code.consume"
)

// commit records a delivered invite: booking confirmed and code consumed.
// confirmed is false only when the booking row could not be confirmed even
// on its own; Repair picks it up later.
func (c *Coordinator) commit(ctx context.Context, log *slog.Logger, bookingID, codeID, email string) (dbtx.CommitResult, bool) {
	now := c.now()
	cres, err := dbtx.Commit(ctx, c.Runner, c.cfg.Commit,
		dbtx.Write{Name: writeConfirm, Apply: func(ctx context.Context) error {
			return c.Bookings.MarkConfirmed(ctx, bookingID, now)
		}},
		dbtx.Write{Name: writeConsume, Apply: func(ctx context.Context) error {
			_, err := c.Codes.Consume(ctx, codeID, email, now)
			return err
		}},
	)
	switch {
	case err != nil:
		log.Error("redeem.commit.partial", "failed", cres.Failed, "err", err)
	case !cres.Atomic:
		log.Warn("redeem.commit.degraded", "attempts", cres.Attempts, "err", cres.AtomicErr)
	}
	if !slices.Contains(cres.Failed, writeConfirm) {
		return cres, true
	}
	return cres, c.confirmAlone(ctx, log, bookingID)
}

// confirmAlone retries the booking confirm by itself. A consume that did not
// land is finished by the next repeat redemption.
func (c *Coordinator) confirmAlone(ctx context.Context, log *slog.Logger, bookingID string) bool {
	cctx := context.WithoutCancel(ctx)
	attempts := max(c.cfg.Commit.Attempts, 1)
	var err error
	for i := 1; i <= attempts; i++ {
		if err = c.Bookings.MarkConfirmed(cctx, bookingID, c.now()); err == nil {
			log.Warn("redeem.confirm.retried", "attempt", i)
			return true
		}
		if errors.Is(err, booking.ErrInvalidTransition) || errors.Is(err, booking.ErrNotFound) {
			break
		}
		if i < attempts && c.cfg.Commit.Backoff > 0 {
			time.Sleep(c.cfg.Commit.Backoff * time.Duration(i))
		}
	}
	log.Error("redeem.confirm.deferred", "err", err)
	return false
}

// current reports what the booking row says now, or pending when it cannot
// be read.
func (c *Coordinator) current(ctx context.Context, bookingID string) Outcome {
	b, err := c.Bookings.Get(context.WithoutCancel(ctx), bookingID)
	if err != nil {
		return Outcome{BookingID: bookingID, Status: booking.StatusPending}
	}
	return outcomeOf(b)
}

// fail marks the booking failed. settled is true only when this call moved
// it out of pending. Otherwise an operator release already settled the
// booking and its seat, or the write failed and the booking keeps its seat
// until Repair. Cleanup runs even if the request context is gone.
func (c *Coordinator) fail(ctx context.Context, b booking.Booking, cause error) (Outcome, bool) {
	cctx := context.WithoutCancel(ctx)
	msg := Message(cause)
	err := c.Bookings.MarkFailed(cctx, b.ID, msg, c.now())
	switch {
	case err == nil:
		c.record(booking.StatusFailed)
		return Outcome{BookingID: b.ID, Status: booking.StatusFailed, Message: msg}, true
	case errors.Is(err, booking.ErrInvalidTransition):
		c.log.Warn("redeem.mark_failed.superseded", "booking_id", b.ID)
		if cur, gerr := c.Bookings.Get(cctx, b.ID); gerr == nil {
			c.record(cur.Status)
			return outcomeOf(cur), false
		}
	default:
		c.log.Error("redeem.mark_failed.fail", "booking_id", b.ID, "err", err)
	}
	c.record(booking.StatusFailed)
	return Outcome{BookingID: b.ID, Status: booking.StatusFailed, Message: msg}, false
}

// release gives a reserved seat back.
func (c *Coordinator) release(ctx context.Context, bookingID, teamID string) {
	if teamID == "" {
		return
	}
	if err := c.Seats.Release(context.WithoutCancel(ctx), teamID); err != nil {
		c.log.Error("redeem.release.fail", "booking_id", bookingID, "team_id", teamID, "err", err)
	}
}

func (c *Coordinator) alert(ctx context.Context, t team.Team, cause error) {
	reason := upstream.ErrChallengeBlocked.Error()
	if errors.Is(cause, upstream.ErrCredentialInvalid) {
		reason = upstream.ErrCredentialInvalid.Error()
	}
	a := notify.Alert{TeamID: t.ID, TeamName: t.Name, Reason: reason, Detail: cause.Error()}
	if err := c.Notifier.NotifyOperator(context.WithoutCancel(ctx), a); err != nil {
		c.log.Error("redeem.notify.fail", "team_id", t.ID, "err", err)
	}
}

func (c *Coordinator) record(s booking.Status) {
	if c.observe != nil {
		c.observe(s)
	}
}

// Status returns the current state of a booking.
func (c *Coordinator) Status(ctx context.Context, bookingID string) (StatusView, error) {
	if !ids.Valid(bookingID) {
		return StatusView{}, ErrNotFound
	}
	b, err := c.Bookings.Get(ctx, bookingID)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			return StatusView{}, ErrNotFound
		}
		return StatusView{}, err
	}
	return StatusView{BookingID: b.ID, Status: b.Status, Message: b.Message, UpdatedAt: b.UpdatedAt}, nil
}

func outcomeOf(b booking.Booking) Outcome {
	return Outcome{BookingID: b.ID, Status: b.Status, Message: b.Message}
}

// Message is the user-facing explanation recorded on a failed booking.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errAbandoned):
		return "the invitation did not complete, please try again"
	case errors.Is(err, allocation.ErrNoCapacity):
		return "no seats are available right now, please try again later"
	case errors.Is(err, upstream.ErrChallengeBlocked):
		return "the team account is temporarily blocked; an operator has been notified"
	case errors.Is(err, upstream.ErrCredentialInvalid):
		return "the team account needs new credentials; an operator has been notified"
	case errors.Is(err, upstream.ErrAuthorizationExpired):
		return "the team account authorization expired, please try again"
	case errors.Is(err, context.DeadlineExceeded):
		return "the invitation timed out, please try again"
	case errors.Is(err, upstream.ErrUnavailable):
		return "the invitation service is unavailable, please try again later"
	case errors.Is(err, upstream.ErrRejected):
		var ue *upstream.Error
		if errors.As(err, &ue) && ue.Msg != "" {
			return "the invitation was rejected: " + ue.Msg
		}
		return "the invitation was rejected"
	}
	return "the invitation failed, please try again"
}
