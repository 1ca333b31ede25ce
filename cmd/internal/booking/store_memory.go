package booking

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is the dev-mode Store. The lock spans every check-and-write
// so it upholds the same uniqueness rules as the Postgres indexes.
type InMemoryStore struct {
	mu   sync.Mutex
	byID map[string]*Booking
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[string]*Booking)}
}

func (s *InMemoryStore) Claim(ctx context.Context, in ClaimInput) (Booking, bool, error) {
	if err := ctx.Err(); err != nil {
		return Booking{}, false, err
	}
	if err := validateClaim(in); err != nil {
		return Booking{}, false, err
	}
	now := nowOr(in.Now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if b := s.findLocked(in.CodeID, in.Email); b != nil {
		return *b, false, nil
	}
	if s.liveLocked(in.CodeID, "") != nil {
		return Booking{}, false, ErrCodeBound
	}

	b := &Booking{
		ID:        in.ID,
		CodeID:    in.CodeID,
		Email:     in.Email,
		Status:    StatusPending,
		Attempts:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byID[b.ID] = b
	return *b, true, nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (Booking, error) {
	if err := ctx.Err(); err != nil {
		return Booking{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byID[id]
	if !ok {
		return Booking{}, ErrNotFound
	}
	return *b, nil
}

func (s *InMemoryStore) FindByCodeEmail(ctx context.Context, codeID, email string) (Booking, error) {
	if err := ctx.Err(); err != nil {
		return Booking{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.findLocked(codeID, email)
	if b == nil {
		return Booking{}, ErrNotFound
	}
	return *b, nil
}

func (s *InMemoryStore) Reopen(ctx context.Context, id string, now time.Time) (Booking, bool, error) {
	if err := ctx.Err(); err != nil {
		return Booking{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byID[id]
	if !ok {
		return Booking{}, false, ErrNotFound
	}
	if b.Status != StatusFailed {
		return *b, false, nil
	}
	if s.liveLocked(b.CodeID, b.ID) != nil {
		return Booking{}, false, ErrCodeBound
	}
	b.Status = StatusPending
	b.Message = ""
	b.TeamID = nil
	b.Attempts++
	b.UpdatedAt = nowOr(now)
	return *b, true, nil
}

func (s *InMemoryStore) AssignTeam(ctx context.Context, id, teamID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(teamID) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if b.Status != StatusPending {
		return ErrInvalidTransition
	}
	b.TeamID = &teamID
	b.UpdatedAt = nowOr(now)
	return nil
}

func (s *InMemoryStore) MarkConfirmed(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	switch b.Status {
	case StatusConfirmed:
		return nil
	case StatusPending:
	default:
		return ErrInvalidTransition
	}
	now = nowOr(now)
	b.Status = StatusConfirmed
	b.Message = ""
	b.ConfirmedAt = &now
	b.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) MarkFailed(ctx context.Context, id, message string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if b.Status != StatusPending {
		return ErrInvalidTransition
	}
	b.Status = StatusFailed
	b.Message = clampMessage(message)
	b.UpdatedAt = nowOr(now)
	return nil
}

func (s *InMemoryStore) CountReserved(ctx context.Context, teamID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, b := range s.byID {
		if b.TeamID != nil && *b.TeamID == teamID && b.Status != StatusFailed {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) ListByTeam(ctx context.Context, teamID string, statuses ...Status) ([]Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Booking
	for _, b := range s.byID {
		if b.TeamID == nil || *b.TeamID != teamID {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, b.Status) {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Booking
	for _, b := range s.byID {
		if b.Status == StatusPending && b.UpdatedAt.Before(cutoff) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Release(ctx context.Context, teamID string, ids []string, reason string, now time.Time) ([]Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(teamID) == "" {
		return nil, ErrInvalidInput
	}
	now = nowOr(now)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Booking
	for _, id := range ids {
		b, ok := s.byID[id]
		if !ok || b.TeamID == nil || *b.TeamID != teamID || b.Status == StatusFailed {
			continue
		}
		b.Status = StatusFailed
		b.Message = clampMessage(reason)
		b.UpdatedAt = now
		out = append(out, *b)
	}
	return out, nil
}

func (s *InMemoryStore) findLocked(codeID, email string) *Booking {
	for _, b := range s.byID {
		if b.CodeID == codeID && b.Email == email {
			return b
		}
	}
	return nil
}

// liveLocked returns a pending or confirmed booking for codeID other than exceptID.
func (s *InMemoryStore) liveLocked(codeID, exceptID string) *Booking {
	for _, b := range s.byID {
		if b.CodeID == codeID && b.ID != exceptID && b.Status != StatusFailed {
			return b
		}
	}
	return nil
}

func validateClaim(in ClaimInput) error {
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.CodeID) == "" || strings.TrimSpace(in.Email) == "" {
		return ErrInvalidInput
	}
	return nil
}

const maxMessageLen = 1024

func clampMessage(m string) string {
	m = strings.TrimSpace(m)
	if len(m) > maxMessageLen {
		m = m[:maxMessageLen]
	}
	return m
}

func nowOr(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now().UTC()
	}
	return now
}
