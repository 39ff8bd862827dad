// Package models defines the transaction entity, its enumerations, and the
// request/response shapes of the transaction API. Amounts are exact
// DECIMAL(15,2) values; nothing in this package goes through float64.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currency is the ISO code of a transaction amount.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyJPY Currency = "JPY"
	CurrencyCAD Currency = "CAD"
	CurrencyAUD Currency = "AUD"
	CurrencyCHF Currency = "CHF"
	CurrencyCNY Currency = "CNY"
)

func (c Currency) Valid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyJPY, CurrencyCAD, CurrencyAUD, CurrencyCHF, CurrencyCNY:
		return true
	}
	return false
}

// Status is the transaction lifecycle state. New transactions always start
// PENDING; other states are reached through updates.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusProcessing Status = "PROCESSING"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusCancelled, StatusProcessing:
		return true
	}
	return false
}

// Transaction is the persisted record.
type Transaction struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Currency    Currency
	Status      Status
	Description string
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DTO is the transaction shape serialized to clients. Amount serializes as a
// decimal string so precision survives every client stack.
type DTO struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    Currency        `json:"currency"`
	Status      Status          `json:"status"`
	Description string          `json:"description,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ToDTO maps the entity for serialization.
func (t *Transaction) ToDTO() *DTO {
	return &DTO{
		ID:          t.ID,
		UserID:      t.UserID,
		Amount:      t.Amount,
		Currency:    t.Currency,
		Status:      t.Status,
		Description: t.Description,
		Metadata:    t.Metadata,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// Snapshot renders the audit-relevant fields as a document for the changes
// block of an audit envelope. Amounts become json.Number so the wire carries
// an exact decimal literal.
func (t *Transaction) Snapshot() map[string]any {
	snap := map[string]any{
		"amount":   json.Number(t.Amount.StringFixed(2)),
		"currency": string(t.Currency),
		"status":   string(t.Status),
	}
	if t.Description != "" {
		snap["description"] = t.Description
	}
	if t.Metadata != nil {
		snap["metadata"] = t.Metadata
	}
	return snap
}

// CreateRequest is the POST /api/transactions body. Status is not accepted
// on create: rows always start PENDING.
type CreateRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    Currency        `json:"currency"`
	Description string          `json:"description,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// UpdateRequest is the PUT /api/transactions/:id body. Every field is
// optional but at least one must be present.
type UpdateRequest struct {
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Currency    *Currency        `json:"currency,omitempty"`
	Status      *Status          `json:"status,omitempty"`
	Description *string          `json:"description,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

// Empty reports whether the patch carries no fields.
func (r UpdateRequest) Empty() bool {
	return r.Amount == nil && r.Currency == nil && r.Status == nil &&
		r.Description == nil && r.Metadata == nil
}

// SortField whitelists the sortable columns of the transaction listing.
type SortField string

const (
	SortCreatedAt SortField = "createdAt"
	SortUpdatedAt SortField = "updatedAt"
	SortAmount    SortField = "amount"
)

func (f SortField) Valid() bool {
	switch f {
	case SortCreatedAt, SortUpdatedAt, SortAmount:
		return true
	}
	return false
}

// Filter narrows the owner-scoped transaction listing.
type Filter struct {
	Status    Status
	Currency  Currency
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	StartDate *time.Time
	EndDate   *time.Time
}

// Page carries pagination and ordering for transaction listings.
type Page struct {
	Number int
	Limit  int
	Sort   SortField
	Desc   bool
}

// NormalizePage applies defaults and bounds: page >= 1, 1 <= limit <= 100
// (default 10), sort createdAt desc.
func NormalizePage(number, limit int, sort SortField, desc bool) Page {
	if number < 1 {
		number = 1
	}
	switch {
	case limit < 1:
		limit = 10
	case limit > 100:
		limit = 100
	}
	if !sort.Valid() {
		sort = SortCreatedAt
	}
	return Page{Number: number, Limit: limit, Sort: sort, Desc: desc}
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// PagedResult is the list response shape.
type PagedResult struct {
	Items      []*DTO `json:"items"`
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	TotalItems int64  `json:"totalItems"`
	TotalPages int64  `json:"totalPages"`
}
