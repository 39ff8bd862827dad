// Package handler is the auth HTTP layer: register, login, and the
// authenticated user endpoint.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"fintrail/internal/auth/models"
	"fintrail/internal/platform/middleware"
	"fintrail/pkg/domainerrors"
	"fintrail/pkg/platform/httputil"
)

// Service is the auth operations surface the handler needs.
type Service interface {
	Register(ctx context.Context, req models.RegisterRequest) (models.Summary, error)
	Login(ctx context.Context, req models.LoginRequest) (models.TokenResult, error)
	Me(ctx context.Context) (models.Summary, error)
}

type Handler struct {
	service   Service
	validator middleware.TokenValidator
	logger    *slog.Logger
	writer    *httputil.Writer
	validate  *validator.Validate
}

func New(service Service, tokenValidator middleware.TokenValidator, logger *slog.Logger, writer *httputil.Writer) *Handler {
	return &Handler{
		service:   service,
		validator: tokenValidator,
		logger:    logger,
		writer:    writer,
		validate:  validator.New(),
	}
}

// Register mounts the auth routes. /me sits behind the auth middleware; the
// credential endpoints do not.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.handleRegister)
		r.Post("/login", h.handleLogin)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(h.validator, h.logger))
			r.Get("/me", h.handleMe)
		})
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := h.bind(r, &req); err != nil {
		h.writer.WriteError(w, r, err)
		return
	}
	summary, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.writer.WriteError(w, r, err)
		return
	}
	h.writer.WriteJSON(w, r, http.StatusCreated, summary)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := h.bind(r, &req); err != nil {
		h.writer.WriteError(w, r, err)
		return
	}
	result, err := h.service.Login(r.Context(), req)
	if err != nil {
		h.writer.WriteError(w, r, err)
		return
	}
	h.writer.WriteJSON(w, r, http.StatusOK, result)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Me(r.Context())
	if err != nil {
		h.writer.WriteError(w, r, err)
		return
	}
	h.writer.WriteJSON(w, r, http.StatusOK, summary)
}

// bind decodes and validates a request body, converting validator output
// into the field-detail map of a validation error.
func (h *Handler) bind(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domainerrors.Validation("invalid request body", nil)
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				details[strings.ToLower(fe.Field()[:1])+fe.Field()[1:]] = validationMessage(fe)
			}
			return domainerrors.Validation("validation failed", details)
		}
		return domainerrors.Validation("validation failed", nil)
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "email":
		return "must be a valid email address"
	default:
		return "is invalid"
	}
}
