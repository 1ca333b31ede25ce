package team

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is the dev-mode Store used when no database is configured.
// Every method holds the lock for its whole read-modify-write, which gives the
// same conditional-update semantics as the Postgres statements.
type InMemoryStore struct {
	mu    sync.Mutex
	teams map[string]*Team
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{teams: make(map[string]*Team)}
}

func (s *InMemoryStore) Create(ctx context.Context, in CreateInput) (Team, error) {
	if err := ctx.Err(); err != nil {
		return Team{}, err
	}
	if err := validateCreate(in); err != nil {
		return Team{}, err
	}
	now := nowOr(in.Now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.teams[in.ID]; ok {
		return Team{}, ErrConflict
	}
	for _, t := range s.teams {
		if t.AccountID == strings.TrimSpace(in.AccountID) {
			return Team{}, ErrConflict
		}
	}

	t := &Team{
		ID:            in.ID,
		AccountID:     strings.TrimSpace(in.AccountID),
		Name:          strings.TrimSpace(in.Name),
		MaxSeats:      in.MaxSeats,
		CurrentSeats:  in.CurrentSeats,
		Priority:      in.Priority,
		Active:        in.Active,
		ExpiresAt:     in.ExpiresAt,
		AccessToken:   in.AccessToken,
		RefreshSecret: in.RefreshSecret,
		Note:          in.Note,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.teams[t.ID] = t
	return *t, nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (Team, error) {
	if err := ctx.Err(); err != nil {
		return Team{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[id]
	if !ok {
		return Team{}, ErrNotFound
	}
	return *t, nil
}

func (s *InMemoryStore) List(ctx context.Context) ([]Team, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Team, 0, len(s.teams))
	for _, t := range s.teams {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryStore) Update(ctx context.Context, id string, in UpdateInput) (Team, error) {
	if err := ctx.Err(); err != nil {
		return Team{}, err
	}
	if err := validateUpdate(in); err != nil {
		return Team{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[id]
	if !ok {
		return Team{}, ErrNotFound
	}
	if in.Name != nil {
		t.Name = strings.TrimSpace(*in.Name)
	}
	if in.MaxSeats != nil {
		t.MaxSeats = *in.MaxSeats
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
	}
	if in.Active != nil {
		t.Active = *in.Active
	}
	if in.ClearExpiry {
		t.ExpiresAt = nil
	} else if in.ExpiresAt != nil {
		exp := *in.ExpiresAt
		t.ExpiresAt = &exp
	}
	if in.AccessToken != nil {
		t.AccessToken = *in.AccessToken
	}
	if in.RefreshSecret != nil {
		t.RefreshSecret = *in.RefreshSecret
	}
	if in.Note != nil {
		t.Note = in.Note
	}
	t.UpdatedAt = nowOr(in.Now)
	return *t, nil
}

func (s *InMemoryStore) TryReserveSeat(ctx context.Context, id string) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[id]
	if !ok {
		return 0, false, ErrNotFound
	}
	if t.MaxSeats <= 0 || t.CurrentSeats >= t.MaxSeats {
		return t.CurrentSeats, false, nil
	}
	t.CurrentSeats++
	return t.CurrentSeats, true, nil
}

func (s *InMemoryStore) ReleaseSeat(ctx context.Context, id string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[id]
	if !ok {
		return 0, ErrNotFound
	}
	if t.MaxSeats > 0 && t.CurrentSeats > 0 {
		t.CurrentSeats--
	}
	return t.CurrentSeats, nil
}

func (s *InMemoryStore) RaiseSeats(ctx context.Context, id string, floor int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[id]
	if !ok {
		return 0, ErrNotFound
	}
	if floor > t.CurrentSeats {
		t.CurrentSeats = floor
	}
	return t.CurrentSeats, nil
}

func (s *InMemoryStore) SetSeats(ctx context.Context, id string, seats int, now time.Time) (Team, error) {
	if err := ctx.Err(); err != nil {
		return Team{}, err
	}
	if seats < 0 {
		return Team{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[id]
	if !ok {
		return Team{}, ErrNotFound
	}
	t.CurrentSeats = seats
	t.UpdatedAt = nowOr(now)
	return *t, nil
}

func (s *InMemoryStore) UpdateAccessToken(ctx context.Context, id, accessToken string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[id]
	if !ok {
		return ErrNotFound
	}
	now = nowOr(now)
	t.AccessToken = accessToken
	t.TokenRefreshedAt = &now
	t.UpdatedAt = now
	return nil
}

func validateCreate(in CreateInput) error {
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.AccountID) == "" {
		return ErrInvalidInput
	}
	if in.MaxSeats < 0 || in.CurrentSeats < 0 {
		return ErrInvalidInput
	}
	if in.Note != nil && len(*in.Note) > 512 {
		return ErrInvalidInput
	}
	return nil
}

func validateUpdate(in UpdateInput) error {
	if in.MaxSeats != nil && *in.MaxSeats < 0 {
		return ErrInvalidInput
	}
	if in.Note != nil && len(*in.Note) > 512 {
		return ErrInvalidInput
	}
	return nil
}

func nowOr(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now().UTC()
	}
	return now
}
