package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"fintrail/pkg/domainerrors"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return env
}

func TestWriteError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)

	t.Run("internal error hides message in production", func(t *testing.T) {
		w := httptest.NewRecorder()
		wr := NewWriter(false)
		wr.WriteError(w, req, domainerrors.Wrap(domainerrors.CodeDatabase, "insert transaction", errors.New("pq: boom")))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
		env := decodeEnvelope(t, w)
		if env.Success {
			t.Fatal("expected success=false")
		}
		if env.Error.Code != string(domainerrors.CodeDatabase) {
			t.Fatalf("expected code DATABASE_ERROR, got %q", env.Error.Code)
		}
		if env.Error.Message != "internal server error" {
			t.Fatalf("expected hidden message, got %q", env.Error.Message)
		}
		if env.Error.Stack != "" {
			t.Fatal("expected stack to be omitted in production")
		}
		if env.Path != "/api/transactions" {
			t.Fatalf("expected request path echoed, got %q", env.Path)
		}
	})

	t.Run("validation error surfaces message and details", func(t *testing.T) {
		w := httptest.NewRecorder()
		wr := NewWriter(false)
		wr.WriteError(w, req, domainerrors.Validation("invalid request body", map[string]string{"amount": "must be greater than 0"}))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
		env := decodeEnvelope(t, w)
		if env.Error.Code != string(domainerrors.CodeValidation) {
			t.Fatalf("expected code VALIDATION_ERROR, got %q", env.Error.Code)
		}
		if env.Error.Message != "invalid request body" {
			t.Fatalf("expected message surfaced, got %q", env.Error.Message)
		}
		if env.Error.Details["amount"] != "must be greater than 0" {
			t.Fatalf("expected field detail, got %v", env.Error.Details)
		}
	})

	t.Run("saga failure maps to 500 with searchable message", func(t *testing.T) {
		w := httptest.NewRecorder()
		wr := NewWriter(false)
		wr.WriteError(w, req, domainerrors.DistributedTransaction("ack timeout after 10s"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
		env := decodeEnvelope(t, w)
		if env.Error.Code != string(domainerrors.CodeDistributedTransaction) {
			t.Fatalf("expected code DISTRIBUTED_TRANSACTION_ERROR, got %q", env.Error.Code)
		}
		want := "Audit log creation failed or timed out: ack timeout after 10s"
		if env.Error.Message != want {
			t.Fatalf("expected %q, got %q", want, env.Error.Message)
		}
	})

	t.Run("development mode includes stack", func(t *testing.T) {
		w := httptest.NewRecorder()
		wr := NewWriter(true)
		wr.WriteError(w, req, errors.New("boom"))

		env := decodeEnvelope(t, w)
		if env.Error.Stack == "" {
			t.Fatal("expected stack in development mode")
		}
	})

	t.Run("unknown error collapses to internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		wr := NewWriter(false)
		wr.WriteError(w, req, errors.New("surprise"))

		env := decodeEnvelope(t, w)
		if env.Error.Code != string(domainerrors.CodeInternal) {
			t.Fatalf("expected INTERNAL_ERROR, got %q", env.Error.Code)
		}
	})
}

func TestWriteJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	NewWriter(false).WriteJSON(w, req, http.StatusOK, map[string]string{"status": "ok"})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	env := decodeEnvelope(t, w)
	if !env.Success {
		t.Fatal("expected success=true")
	}
	if env.Path != "/health" {
		t.Fatalf("expected path /health, got %q", env.Path)
	}
}
