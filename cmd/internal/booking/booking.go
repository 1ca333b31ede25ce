// Package booking tracks redemption attempts ("invitations") through the
// pending → confirmed | failed state machine.
//
// Uniqueness is enforced by storage: one row per (code, email), and at most
// one pending or confirmed row per code. A failed row may be reopened.
package booking

import "time"

// Status is the booking state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition happens without a retry.
func (s Status) Terminal() bool { return s == StatusConfirmed || s == StatusFailed }

// Booking is one (code, email) redemption.
type Booking struct {
	ID          string
	CodeID      string
	Email       string
	TeamID      *string
	Status      Status
	Message     string
	Attempts    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
}

// ClaimInput creates a pending booking.
type ClaimInput struct {
	ID     string
	CodeID string
	Email  string
	Now    time.Time
}

// ReleaseMessage is recorded on bookings released by an administrator.
const ReleaseMessage = "released by administrator"
