// Package invite issues and consumes one-time redemption codes.
//
// Only a hash of each code is stored (see cmd/security/token). A code is
// consumed exactly once, by the email whose invitation succeeded.
package invite

import (
	"context"
	"errors"
	"strings"
	"time"

	"teaminvite/cmd/internal/ids"
	"teaminvite/cmd/security/token"
)

const (
	defaultCodeLength = 16
	defaultTTL        = 30 * 24 * time.Hour
	maxBatch          = 1000
)

// Code represents a redemption_codes row.
type Code struct {
	ID         string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ConsumedAt *time.Time
	ConsumedBy *string
	Note       *string
}

// Consumed reports whether the code has been redeemed.
func (c Code) Consumed() bool { return c.ConsumedAt != nil }

// ConsumedByEmail reports whether the code was redeemed by email.
func (c Code) ConsumedByEmail(email string) bool {
	return c.ConsumedBy != nil && *c.ConsumedBy == email
}

// Active reports whether the code can still be redeemed at now.
func (c Code) Active(now time.Time) bool {
	return c.RevokedAt == nil && c.ConsumedAt == nil && c.ExpiresAt.After(now)
}

// CreateInput describes a batch of codes.
type CreateInput struct {
	Count int
	TTL   time.Duration
	Note  *string
	Now   time.Time
}

// Issued pairs a stored code with its plain text, which is shown once.
type Issued struct {
	Code  Code
	Plain string
}

// Service manages code creation, lookup and consumption.
type Service struct {
	store      Store
	codeLength int
}

// Option configures the Service.
type Option func(*Service) error

// WithCodeLength sets the number of symbols in generated codes.
func WithCodeLength(n int) Option {
	return func(s *Service) error {
		if n < 8 || n > 32 {
			return ErrInvalidInput
		}
		s.codeLength = n
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{store: store, codeLength: defaultCodeLength}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateCodes generates Count codes and returns them with their plain text.
func (s *Service) CreateCodes(ctx context.Context, in CreateInput) ([]Issued, error) {
	if s == nil || s.store == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.Count <= 0 || in.Count > maxBatch {
		return nil, ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	note := trimPtr(in.Note)
	if note != nil && len(*note) > 512 {
		return nil, ErrInvalidInput
	}

	out := make([]Issued, 0, in.Count)
	for i := 0; i < in.Count; i++ {
		plain, err := token.NewCode(s.codeLength)
		if err != nil {
			return out, err
		}
		id, err := ids.NewULID(now)
		if err != nil {
			return out, err
		}
		c, err := s.store.Create(ctx, CreateRecord{
			ID:        id,
			CodeHash:  token.HashCodeHex(plain),
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
			Note:      note,
		})
		if err != nil {
			return out, err
		}
		out = append(out, Issued{Code: c, Plain: plain})
	}
	return out, nil
}

// Lookup resolves a plain code. Consumed codes are returned without error so
// callers can tell a repeat redemption from a stolen one; revoked and expired
// codes return ErrNotActive.
func (s *Service) Lookup(ctx context.Context, plain string, now time.Time) (Code, error) {
	if s == nil || s.store == nil {
		return Code{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	if token.NormalizeCode(plain) == "" {
		return Code{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	c, err := s.store.GetByHash(ctx, token.HashCodeHex(plain))
	if err != nil {
		return Code{}, err
	}
	if c.Consumed() {
		return c, nil
	}
	if c.RevokedAt != nil || !c.ExpiresAt.After(now) {
		return c, ErrNotActive
	}
	return c, nil
}

// Get loads a code by id.
func (s *Service) Get(ctx context.Context, codeID string) (Code, error) {
	if s == nil || s.store == nil {
		return Code{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	codeID = strings.TrimSpace(codeID)
	if codeID == "" {
		return Code{}, ErrInvalidInput
	}
	return s.store.Get(ctx, codeID)
}

// Consume marks the code redeemed by email.
func (s *Service) Consume(ctx context.Context, codeID, email string, now time.Time) (Code, error) {
	if s == nil || s.store == nil {
		return Code{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	codeID = strings.TrimSpace(codeID)
	email = strings.TrimSpace(email)
	if codeID == "" || email == "" {
		return Code{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return s.store.Consume(ctx, ConsumeRecord{ID: codeID, Email: email, Now: now})
}

// Revoke blocks a code that has not been redeemed yet.
func (s *Service) Revoke(ctx context.Context, codeID string, now time.Time) (Code, error) {
	if s == nil || s.store == nil {
		return Code{}, ErrInvalidInput
	}
	codeID = strings.TrimSpace(codeID)
	if codeID == "" {
		return Code{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return s.store.Revoke(ctx, codeID, now)
}

// resolveConsumeMiss explains why a conditional consume matched no row.
func resolveConsumeMiss(c Code, err error, email string) (Code, error) {
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Code{}, ErrNotFound
		}
		return Code{}, err
	}
	if c.Consumed() {
		if c.ConsumedByEmail(email) {
			return c, nil
		}
		return c, ErrConsumed
	}
	return c, ErrNotActive
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}
