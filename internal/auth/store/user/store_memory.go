package user

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"fintrail/internal/auth/models"
	"fintrail/pkg/platform/sentinel"
)

// InMemoryStore backs unit tests with the same sentinel contract as the
// postgres store.
type InMemoryStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*models.User
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{users: make(map[uuid.UUID]*models.User)}
}

func (s *InMemoryStore) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return fmt.Errorf("create user: %w", sentinel.ErrConflict)
		}
	}
	clone := *u
	s.users[u.ID] = &clone
	return nil
}

func (s *InMemoryStore) FindByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			clone := *u
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("find user by username: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("find user by id: %w", sentinel.ErrNotFound)
	}
	clone := *u
	return &clone, nil
}
