// Package memory is the in-memory audit store used by unit tests. It mirrors
// the postgres store's sentinel contract, including the uniqueness of the
// (correlationID, action, entityID) triple.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"fintrail/internal/audit/models"
	"fintrail/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu   sync.RWMutex
	logs []*models.AuditLog
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = nil
}

func (s *InMemoryStore) Insert(_ context.Context, log *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.logs {
		if existing.CorrelationID == log.CorrelationID &&
			existing.Action == log.Action &&
			existing.EntityID == log.EntityID {
			return fmt.Errorf("insert audit log: %w", sentinel.ErrConflict)
		}
	}
	clone := *log
	s.logs = append(s.logs, &clone)
	return nil
}

func (s *InMemoryStore) FindByTriple(_ context.Context, correlationID string, action models.Action, entityID string) (*models.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, log := range s.logs {
		if log.CorrelationID == correlationID && log.Action == action && log.EntityID == entityID {
			clone := *log
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("find audit log by triple: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) MarkRolledBack(_ context.Context, correlationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, log := range s.logs {
		if log.CorrelationID == correlationID && log.Status != models.StatusRolledBack {
			log.Status = models.StatusRolledBack
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, log := range s.logs {
		if log.ID == id {
			clone := *log
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("find audit log: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) List(_ context.Context, filter models.Filter, page models.Page) ([]*models.AuditLog, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.AuditLog
	for _, log := range s.logs {
		if matches(log, filter) {
			clone := *log
			matched = append(matched, &clone)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if page.Desc {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
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

func (s *InMemoryStore) ListByCorrelation(_ context.Context, correlationID string) ([]*models.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*models.AuditLog
	for _, log := range s.logs {
		if log.CorrelationID == correlationID {
			clone := *log
			matched = append(matched, &clone)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

func (s *InMemoryStore) ListByEntity(_ context.Context, entityType, entityID string) ([]*models.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*models.AuditLog
	for _, log := range s.logs {
		if log.EntityType == entityType && log.EntityID == entityID {
			clone := *log
			matched = append(matched, &clone)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return matched, nil
}

func matches(log *models.AuditLog, f models.Filter) bool {
	if f.Action != "" && log.Action != f.Action {
		return false
	}
	if f.EntityType != "" && log.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && log.EntityID != f.EntityID {
		return false
	}
	if f.UserID != "" && log.UserID != f.UserID {
		return false
	}
	if f.Status != "" && log.Status != f.Status {
		return false
	}
	if f.CorrelationID != "" && log.CorrelationID != f.CorrelationID {
		return false
	}
	if f.ServiceName != "" && log.ServiceName != f.ServiceName {
		return false
	}
	if f.StartDate != nil && log.CreatedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && log.CreatedAt.After(*f.EndDate) {
		return false
	}
	return true
}
