package redeem

import (
	"context"
	"strings"

	"teaminvite/cmd/internal/booking"
	"teaminvite/cmd/internal/team"
	"teaminvite/cmd/internal/upstream"
)

// TeamGetter loads a team by id.
type TeamGetter interface {
	Get(ctx context.Context, id string) (team.Team, error)
}

// Roster reports whether the external account already lists email as a
// member or pending invitee.
type Roster interface {
	Holds(ctx context.Context, t team.Team, email string) (bool, error)
}

// MemberLister is the part of the external API a roster check needs.
type MemberLister interface {
	ListMembers(ctx context.Context, accountID, token string) (upstream.Members, error)
	ListInvites(ctx context.Context, accountID, token string) (upstream.Invites, error)
}

// UpstreamRoster is the Roster backed by the external team API.
type UpstreamRoster struct {
	Creds Credentials
	API   MemberLister
}

func (r UpstreamRoster) Holds(ctx context.Context, t team.Team, email string) (bool, error) {
	var found bool
	err := r.Creds.WithRefresh(ctx, t, func(ctx context.Context, tok string) error {
		found = false
		members, err := r.API.ListMembers(ctx, t.AccountID, tok)
		if err != nil {
			return err
		}
		for _, m := range members.Items {
			if sameEmail(m.Email, email) {
				found = true
				return nil
			}
		}
		invites, err := r.API.ListInvites(ctx, t.AccountID, tok)
		if err != nil {
			return err
		}
		for _, inv := range invites.Items {
			if sameEmail(inv.Email, email) {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

func sameEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// RepairReport summarizes one Repair pass.
type RepairReport struct {
	Scanned   int `json:"scanned"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type settlement int

const (
	settledNone settlement = iota
	settledConfirmed
	settledFailed
)

// Repair settles pending bookings nobody is working on any more: the process
// stopped mid-redemption, or the confirm write never landed. A booking is
// abandoned once untouched for StaleAfter.
func (c *Coordinator) Repair(ctx context.Context) (RepairReport, error) {
	var r RepairReport
	stale, err := c.Bookings.ListStale(ctx, c.now().Add(-c.cfg.StaleAfter), c.cfg.RepairBatch)
	if err != nil {
		return r, err
	}
	for _, b := range stale {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		r.Scanned++
		switch c.settle(ctx, b) {
		case settledConfirmed:
			r.Confirmed++
		case settledFailed:
			r.Failed++
		default:
			r.Skipped++
		}
	}
	if r.Scanned > 0 {
		c.log.Info("redeem.repair.done", "scanned", r.Scanned, "confirmed", r.Confirmed, "failed", r.Failed, "skipped", r.Skipped)
	}
	return r, nil
}

func (c *Coordinator) settle(ctx context.Context, b booking.Booking) settlement {
	log := c.log.With("booking_id", b.ID, "code_id", b.CodeID)

	code, err := c.Codes.Get(ctx, b.CodeID)
	if err != nil {
		log.Warn("redeem.repair.code_fail", "err", err)
		return settledNone
	}
	if code.ConsumedByEmail(b.Email) {
		if out := c.repairConfirm(ctx, b); out.Status == booking.StatusConfirmed {
			return settledConfirmed
		}
		return settledNone
	}

	if b.TeamID == nil {
		// No team means no invite went out and no seat is attached.
		if _, ok := c.fail(ctx, b, errAbandoned); ok {
			return settledFailed
		}
		return settledNone
	}
	if c.Teams == nil || c.Roster == nil {
		return settledNone
	}
	teamID := *b.TeamID
	log = log.With("team_id", teamID)

	t, err := c.Teams.Get(ctx, teamID)
	if err != nil {
		log.Warn("redeem.repair.team_fail", "err", err)
		return settledNone
	}
	held, err := c.Roster.Holds(ctx, t, b.Email)
	if err != nil {
		log.Warn("redeem.repair.roster_fail", "err", err)
		if upstream.NeedsOperator(err) {
			c.alert(ctx, t, err)
		}
		return settledNone
	}
	if held {
		if _, ok := c.commit(ctx, log, b.ID, b.CodeID, b.Email); ok {
			c.record(booking.StatusConfirmed)
			return settledConfirmed
		}
		return settledNone
	}
	if _, ok := c.fail(ctx, b, errAbandoned); ok {
		c.release(ctx, b.ID, teamID)
		return settledFailed
	}
	return settledNone
}
