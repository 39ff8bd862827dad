package transaction

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"fintrail/internal/transaction/models"
	"fintrail/pkg/platform/sentinel"
)

// InMemoryStore backs coordinator and handler unit tests. It ignores the
// transaction in context; rollback semantics are exercised against postgres
// in the integration suite.
type InMemoryStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*models.Transaction
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[uuid.UUID]*models.Transaction)}
}

func (s *InMemoryStore) Insert(_ context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *t
	s.rows[t.ID] = &clone
	return nil
}

func (s *InMemoryStore) FindByIDForUser(_ context.Context, id, userID uuid.UUID) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.rows[id]
	if !ok || t.UserID != userID {
		return nil, fmt.Errorf("find transaction: %w", sentinel.ErrNotFound)
	}
	clone := *t
	return &clone, nil
}

func (s *InMemoryStore) Update(_ context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rows[t.ID]
	if !ok || existing.UserID != t.UserID {
		return fmt.Errorf("update transaction: %w", sentinel.ErrNotFound)
	}
	clone := *t
	s.rows[t.ID] = &clone
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rows[id]
	if !ok || t.UserID != userID {
		return fmt.Errorf("delete transaction: %w", sentinel.ErrNotFound)
	}
	delete(s.rows, id)
	return nil
}

func (s *InMemoryStore) List(_ context.Context, userID uuid.UUID, filter models.Filter, page models.Page) ([]*models.Transaction, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Transaction
	for _, t := range s.rows {
		if t.UserID != userID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Currency != "" && t.Currency != filter.Currency {
			continue
		}
		if filter.MinAmount != nil && t.Amount.LessThan(*filter.MinAmount) {
			continue
		}
		if filter.MaxAmount != nil && t.Amount.GreaterThan(*filter.MaxAmount) {
			continue
		}
		if filter.StartDate != nil && t.CreatedAt.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && t.CreatedAt.After(*filter.EndDate) {
			continue
		}
		clone := *t
		matched = append(matched, &clone)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		less := false
		switch page.Sort {
		case models.SortAmount:
			less = matched[i].Amount.LessThan(matched[j].Amount)
		case models.SortUpdatedAt:
			less = matched[i].UpdatedAt.Before(matched[j].UpdatedAt)
		default:
			less = matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		if page.Desc {
			return !less
		}
		return less
	})

	total := int64(len(matched))
	start := page.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + page.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}
