// Package team models the externally hosted team accounts that seats are
// allocated from, and persists them.
//
// Seat counters are only ever changed through conditional single-statement
// updates (TryReserveSeat, ReleaseSeat, RaiseSeats); callers never read a
// counter, decide, and write it back.
package team

import (
	"strings"
	"time"
)

// Team is one capacity-bounded external account.
type Team struct {
	ID        string
	AccountID string
	Name      string

	// MaxSeats of 0 means unlimited.
	MaxSeats     int
	CurrentSeats int
	Priority     int

	Active    bool
	ExpiresAt *time.Time

	AccessToken   string
	RefreshSecret string

	Note             *string
	TokenRefreshedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Unlimited reports whether the team has no seat cap.
func (t Team) Unlimited() bool { return t.MaxSeats <= 0 }

// Expired reports whether the team is past its expiry at now.
func (t Team) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// CanRefresh reports whether a refresh secret is configured.
func (t Team) CanRefresh() bool { return strings.TrimSpace(t.RefreshSecret) != "" }

// HasCredential reports whether the team can reach the external API at all.
func (t Team) HasCredential() bool {
	return strings.TrimSpace(t.AccessToken) != "" || t.CanRefresh()
}

// Eligible reports whether the team may receive new reservations at now.
func (t Team) Eligible(now time.Time) bool {
	return t.Active && !t.Expired(now) && t.HasCredential()
}

// FreeSeats returns the remaining capacity, or -1 for unlimited teams.
func (t Team) FreeSeats() int {
	if t.Unlimited() {
		return -1
	}
	if free := t.MaxSeats - t.CurrentSeats; free > 0 {
		return free
	}
	return 0
}

// CreateInput describes a new team.
type CreateInput struct {
	ID            string
	AccountID     string
	Name          string
	MaxSeats      int
	CurrentSeats  int
	Priority      int
	Active        bool
	ExpiresAt     *time.Time
	AccessToken   string
	RefreshSecret string
	Note          *string
	Now           time.Time
}

// UpdateInput patches administrator-controlled fields. Nil fields are left unchanged.
type UpdateInput struct {
	Name          *string
	MaxSeats      *int
	Priority      *int
	Active        *bool
	ExpiresAt     *time.Time
	ClearExpiry   bool
	AccessToken   *string
	RefreshSecret *string
	Note          *string
	Now           time.Time
}
