package accounting

import (
	"context"

	"teaminvite/cmd/internal/team"
)

// SeatCounter reads occupied seats from the external account.
type SeatCounter interface {
	SeatUsage(ctx context.Context, accountID, accessToken string) (int, error)
}

// CredentialRunner runs an external call with a fresh token.
type CredentialRunner interface {
	WithRefresh(ctx context.Context, t team.Team, action func(ctx context.Context, accessToken string) error) error
}

// UpstreamGauge is the SeatGauge backed by the external team API.
type UpstreamGauge struct {
	Creds CredentialRunner
	API   SeatCounter
}

func (g UpstreamGauge) SeatsInUse(ctx context.Context, t team.Team) (int, error) {
	var n int
	err := g.Creds.WithRefresh(ctx, t, func(ctx context.Context, tok string) error {
		var err error
		n, err = g.API.SeatUsage(ctx, t.AccountID, tok)
		return err
	})
	return n, err
}
