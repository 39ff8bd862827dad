// Package handler is the transaction service's HTTP layer. Every route is
// owner-scoped: the user id comes from the validated bearer claims, never
// from the request.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fintrail/internal/platform/middleware"
	"fintrail/internal/transaction/models"
	"fintrail/pkg/domainerrors"
	"fintrail/pkg/platform/httputil"
	"fintrail/pkg/requestcontext"
)

// Saga is the write surface backed by the saga coordinator.
type Saga interface {
	CreateTransaction(ctx context.Context, userID uuid.UUID, req models.CreateRequest) (*models.DTO, error)
	UpdateTransaction(ctx context.Context, id, userID uuid.UUID, req models.UpdateRequest) (*models.DTO, error)
	DeleteTransaction(ctx context.Context, id, userID uuid.UUID) error
}

// Query is the read surface.
type Query interface {
	Get(ctx context.Context, id, userID uuid.UUID) (*models.DTO, error)
	List(ctx context.Context, userID uuid.UUID, filter models.Filter, page models.Page) (*models.PagedResult, error)
}

type Handler struct {
	saga      Saga
	query     Query
	validator middleware.TokenValidator
	logger    *slog.Logger
	writer    *httputil.Writer
}

func New(saga Saga, query Query, tokenValidator middleware.TokenValidator, logger *slog.Logger, writer *httputil.Writer) *Handler {
	return &Handler{
		saga:      saga,
		query:     query,
		validator: tokenValidator,
		logger:    logger,
		writer:    writer,
	}
}

// Register mounts the transaction routes behind authentication.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/transactions", func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req models.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writer.WriteError(w, r, domainerrors.Validation("invalid request body", nil))
		return
	}
	dto, err := h.saga.CreateTransaction(r.Context(), userID, req)
	if err != nil {
		h.writer.WriteError(w, r, err)
		return
	}
	h.writer.WriteJSON(w, r, http.StatusCreated, dto)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	filter, page, err := parseListQuery(r)
	if err != nil {
		h.writer.WriteError(w, r, err)
		return
	}
	result, err := h.query.List(r.Context(), userID, filter, page)
	if err != nil {
		h.writer.WriteError(w, r, err)
		return
	}
	h.writer.WriteJSON(w, r, http.StatusOK, result)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writer.WriteError(w, r, domainerrors.NotFound("transaction"))
		return
	}
	dto, err := h.query.Get(r.Context(), id, userID)
	if err != nil {
		h.writer.WriteError(w, r, err)
		return
	}
	h.writer.WriteJSON(w, r, http.StatusOK, dto)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writer.WriteError(w, r, domainerrors.NotFound("transaction"))
		return
	}
	var req models.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writer.WriteError(w, r, domainerrors.Validation("invalid request body", nil))
		return
	}
	dto, err := h.saga.UpdateTransaction(r.Context(), id, userID, req)
	if err != nil {
		h.writer.WriteError(w, r, err)
		return
	}
	h.writer.WriteJSON(w, r, http.StatusOK, dto)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writer.WriteError(w, r, domainerrors.NotFound("transaction"))
		return
	}
	if err := h.saga.DeleteTransaction(r.Context(), id, userID); err != nil {
		h.writer.WriteError(w, r, err)
		return
	}
	h.writer.WriteNoContent(w)
}

// userID extracts the authenticated owner from claims.
func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims, ok := requestcontext.ClaimsFrom(r.Context())
	if !ok {
		// Unreachable behind RequireAuth; guards against miswiring.
		h.writer.WriteError(w, r, domainerrors.New(domainerrors.CodeUnauthorized, "not authenticated"))
		return uuid.Nil, false
	}
	id, err := uuid.Parse(claims.Sub)
	if err != nil {
		h.writer.WriteError(w, r, domainerrors.New(domainerrors.CodeUnauthorized, "invalid token subject"))
		return uuid.Nil, false
	}
	return id, true
}

func parseListQuery(r *http.Request) (models.Filter, models.Page, error) {
	q := r.URL.Query()
	filter := models.Filter{
		Status:   models.Status(q.Get("status")),
		Currency: models.Currency(q.Get("currency")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return filter, models.Page{}, domainerrors.Validation("invalid filter", map[string]string{"status": "unknown value"})
	}
	if filter.Currency != "" && !filter.Currency.Valid() {
		return filter, models.Page{}, domainerrors.Validation("invalid filter", map[string]string{"currency": "unknown value"})
	}

	if v := q.Get("minAmount"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return filter, models.Page{}, domainerrors.Validation("invalid filter", map[string]string{"minAmount": "must be a decimal"})
		}
		filter.MinAmount = &d
	}
	if v := q.Get("maxAmount"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return filter, models.Page{}, domainerrors.Validation("invalid filter", map[string]string{"maxAmount": "must be a decimal"})
		}
		filter.MaxAmount = &d
	}
	if v := q.Get("startDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, models.Page{}, domainerrors.Validation("invalid filter", map[string]string{"startDate": "must be RFC3339"})
		}
		filter.StartDate = &t
	}
	if v := q.Get("endDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, models.Page{}, domainerrors.Validation("invalid filter", map[string]string{"endDate": "must be RFC3339"})
		}
		filter.EndDate = &t
	}

	pageNum, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	sort := models.SortField(q.Get("sortBy"))
	if s := q.Get("sortBy"); s != "" && !sort.Valid() {
		return filter, models.Page{}, domainerrors.Validation("invalid filter", map[string]string{"sortBy": "must be createdAt, updatedAt, or amount"})
	}
	desc := q.Get("sortOrder") != "asc"
	return filter, models.NormalizePage(pageNum, limit, sort, desc), nil
}
