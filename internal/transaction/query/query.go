// Package query is the read side of the transaction service. It never
// mutates state and never participates in sagas.
package query

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"fintrail/internal/transaction/models"
	"fintrail/pkg/domainerrors"
	"fintrail/pkg/platform/sentinel"
)

// Store is the read surface of the transaction store.
type Store interface {
	FindByIDForUser(ctx context.Context, id, userID uuid.UUID) (*models.Transaction, error)
	List(ctx context.Context, userID uuid.UUID, filter models.Filter, page models.Page) ([]*models.Transaction, int64, error)
}

type Service struct {
	store Store
}

func New(store Store) *Service {
	return &Service{store: store}
}

// Get returns one owned transaction. Absent and foreign-owned both answer
// NotFound.
func (s *Service) Get(ctx context.Context, id, userID uuid.UUID) (*models.DTO, error) {
	t, err := s.store.FindByIDForUser(ctx, id, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, domainerrors.NotFound("transaction")
		}
		return nil, domainerrors.Wrap(domainerrors.CodeDatabase, "find transaction", err)
	}
	return t.ToDTO(), nil
}

// List returns the owner's filtered, paged transactions.
func (s *Service) List(ctx context.Context, userID uuid.UUID, filter models.Filter, page models.Page) (*models.PagedResult, error) {
	items, total, err := s.store.List(ctx, userID, filter, page)
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeDatabase, "list transactions", err)
	}

	dtos := make([]*models.DTO, 0, len(items))
	for _, t := range items {
		dtos = append(dtos, t.ToDTO())
	}
	totalPages := total / int64(page.Limit)
	if total%int64(page.Limit) != 0 {
		totalPages++
	}
	return &models.PagedResult{
		Items:      dtos,
		Page:       page.Number,
		Limit:      page.Limit,
		TotalItems: total,
		TotalPages: totalPages,
	}, nil
}
