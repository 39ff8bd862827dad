// Package service exposes the audit query surface and the direct-create path
// used by the internal HTTP endpoint. The stream consumer bypasses this
// package and writes through the store so its ack semantics stay in one
// place.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"fintrail/internal/audit/models"
	"fintrail/pkg/domainerrors"
	"fintrail/pkg/platform/sentinel"
)

// Store is the full audit storage surface.
type Store interface {
	Insert(ctx context.Context, log *models.AuditLog) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error)
	List(ctx context.Context, filter models.Filter, page models.Page) ([]*models.AuditLog, int64, error)
	ListByCorrelation(ctx context.Context, correlationID string) ([]*models.AuditLog, error)
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*models.AuditLog, error)
}

type Service struct {
	store Store
}

func New(store Store) *Service {
	return &Service{store: store}
}

// Create writes one audit row directly. This is the internal POST surface;
// saga-driven rows arrive through the stream consumer instead.
func (s *Service) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	if log.CorrelationID == "" {
		return nil, domainerrors.Validation("invalid audit log", map[string]string{"correlationId": "is required"})
	}
	if log.ServiceName == "" {
		return nil, domainerrors.Validation("invalid audit log", map[string]string{"serviceName": "is required"})
	}
	if !log.Action.Valid() {
		return nil, domainerrors.Validation("invalid audit log", map[string]string{"action": "unknown value"})
	}
	if log.Status == "" {
		log.Status = models.StatusSuccess
	}
	if !log.Status.Valid() {
		return nil, domainerrors.Validation("invalid audit log", map[string]string{"status": "unknown value"})
	}
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	if err := s.store.Insert(ctx, log); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, domainerrors.Wrap(domainerrors.CodeConflict, "audit log already recorded for this correlation", err)
		}
		return nil, domainerrors.Wrap(domainerrors.CodeDatabase, "insert audit log", err)
	}
	return log, nil
}

// Get returns one audit log by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	log, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, domainerrors.NotFound("audit log")
		}
		return nil, domainerrors.Wrap(domainerrors.CodeDatabase, "find audit log", err)
	}
	return log, nil
}

// List returns a filtered, paged listing.
func (s *Service) List(ctx context.Context, filter models.Filter, page models.Page) (*models.PagedResult, error) {
	if filter.Action != "" && !filter.Action.Valid() {
		return nil, domainerrors.Validation("invalid filter", map[string]string{"action": "unknown value"})
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domainerrors.Validation("invalid filter", map[string]string{"status": "unknown value"})
	}

	items, total, err := s.store.List(ctx, filter, page)
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeDatabase, "list audit logs", err)
	}
	totalPages := total / int64(page.Limit)
	if total%int64(page.Limit) != 0 {
		totalPages++
	}
	if items == nil {
		items = []*models.AuditLog{}
	}
	return &models.PagedResult{
		Items:      items,
		Page:       page.Number,
		Limit:      page.Limit,
		TotalItems: total,
		TotalPages: totalPages,
	}, nil
}

// ByCorrelation returns every row of one saga, ascending by creation time.
func (s *Service) ByCorrelation(ctx context.Context, correlationID string) ([]*models.AuditLog, error) {
	logs, err := s.store.ListByCorrelation(ctx, correlationID)
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeDatabase, "list audit logs by correlation", err)
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}
	return logs, nil
}

// ByEntity returns the history of one entity, newest first.
func (s *Service) ByEntity(ctx context.Context, entityType, entityID string) ([]*models.AuditLog, error) {
	logs, err := s.store.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeDatabase, "list audit logs by entity", err)
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}
	return logs, nil
}
