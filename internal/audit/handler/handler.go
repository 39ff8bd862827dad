// Package handler is the audit service's HTTP layer: the internal create
// endpoint plus the read-only query surface. Audit queries sit inside the
// trust boundary and carry no authentication.
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

	"fintrail/internal/audit/models"
	"fintrail/pkg/domainerrors"
	"fintrail/pkg/platform/httputil"
)

// Service is the audit operations surface the handler needs.
type Service interface {
	Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
	Get(ctx context.Context, id uuid.UUID) (*models.AuditLog, error)
	List(ctx context.Context, filter models.Filter, page models.Page) (*models.PagedResult, error)
	ByCorrelation(ctx context.Context, correlationID string) ([]*models.AuditLog, error)
	ByEntity(ctx context.Context, entityType, entityID string) ([]*models.AuditLog, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
	writer  *httputil.Writer
}

func New(service Service, logger *slog.Logger, writer *httputil.Writer) *Handler {
	return &Handler{service: service, logger: logger, writer: writer}
}

// Register mounts the audit routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/audit-logs", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Get("/correlation/{correlationId}", h.handleByCorrelation)
		r.Get("/entity/{entityType}/{entityId}", h.handleByEntity)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var log models.AuditLog
	if err := json.NewDecoder(r.Body).Decode(&log); err != nil {
		h.writer.WriteError(w, r, domainerrors.Validation("invalid request body", nil))
		return
	}
	created, err := h.service.Create(r.Context(), &log)
	if err != nil {
		h.writer.WriteError(w, r, err)
		return
	}
	h.writer.WriteJSON(w, r, http.StatusCreated, created)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, page, err := parseListQuery(r)
	if err != nil {
		h.writer.WriteError(w, r, err)
		return
	}
	result, err := h.service.List(r.Context(), filter, page)
	if err != nil {
		h.writer.WriteError(w, r, err)
		return
	}
	h.writer.WriteJSON(w, r, http.StatusOK, result)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writer.WriteError(w, r, domainerrors.NotFound("audit log"))
		return
	}
	log, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writer.WriteError(w, r, err)
		return
	}
	h.writer.WriteJSON(w, r, http.StatusOK, log)
}

func (h *Handler) handleByCorrelation(w http.ResponseWriter, r *http.Request) {
	logs, err := h.service.ByCorrelation(r.Context(), chi.URLParam(r, "correlationId"))
	if err != nil {
		h.writer.WriteError(w, r, err)
		return
	}
	h.writer.WriteJSON(w, r, http.StatusOK, logs)
}

func (h *Handler) handleByEntity(w http.ResponseWriter, r *http.Request) {
	logs, err := h.service.ByEntity(r.Context(), chi.URLParam(r, "entityType"), chi.URLParam(r, "entityId"))
	if err != nil {
		h.writer.WriteError(w, r, err)
		return
	}
	h.writer.WriteJSON(w, r, http.StatusOK, logs)
}

func parseListQuery(r *http.Request) (models.Filter, models.Page, error) {
	q := r.URL.Query()

	filter := models.Filter{
		Action:        models.Action(q.Get("action")),
		EntityType:    q.Get("entityType"),
		EntityID:      q.Get("entityId"),
		UserID:        q.Get("userId"),
		Status:        models.Status(q.Get("status")),
		CorrelationID: q.Get("correlationId"),
		ServiceName:   q.Get("serviceName"),
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
	desc := q.Get("sortOrder") != "asc"
	return filter, models.NormalizePage(pageNum, limit, desc), nil
}
