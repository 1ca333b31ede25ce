package invite

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is the dev-mode Store.
type InMemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Code
	byHash map[string]string
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[string]*Code), byHash: make(map[string]string)}
}

func (s *InMemoryStore) Create(ctx context.Context, in CreateRecord) (Code, error) {
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.CodeHash) == "" {
		return Code{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[in.CodeHash]; ok {
		return Code{}, ErrInvalidInput
	}
	if _, ok := s.byID[in.ID]; ok {
		return Code{}, ErrInvalidInput
	}
	c := &Code{ID: in.ID, CreatedAt: in.CreatedAt, ExpiresAt: in.ExpiresAt, Note: in.Note}
	s.byID[c.ID] = c
	s.byHash[in.CodeHash] = c.ID
	return *c, nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (Code, error) {
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return Code{}, ErrNotFound
	}
	return *c, nil
}

func (s *InMemoryStore) GetByHash(ctx context.Context, codeHash string) (Code, error) {
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[codeHash]
	if !ok {
		return Code{}, ErrNotFound
	}
	return *s.byID[id], nil
}

func (s *InMemoryStore) Consume(ctx context.Context, in ConsumeRecord) (Code, error) {
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[in.ID]
	if !ok {
		return Code{}, ErrNotFound
	}
	if c.RevokedAt == nil && c.ConsumedAt == nil {
		now := in.Now
		email := in.Email
		c.ConsumedAt = &now
		c.ConsumedBy = &email
		return *c, nil
	}
	return resolveConsumeMiss(*c, nil, in.Email)
}

func (s *InMemoryStore) Revoke(ctx context.Context, id string, now time.Time) (Code, error) {
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return Code{}, ErrNotFound
	}
	if c.ConsumedAt != nil {
		return *c, ErrConsumed
	}
	if c.RevokedAt == nil {
		c.RevokedAt = &now
	}
	return *c, nil
}
