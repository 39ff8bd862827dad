// Package models defines the audit log entity and its query shapes. Rows are
// append-only: the only permitted mutation is the status transition to
// ROLLED_BACK driven by saga compensation.
package models

import (
	"time"

	"github.com/google/uuid"

	"fintrail/pkg/streams"
)

// Action classifies what the audited operation did.
type Action string

const (
	ActionCreate   Action = "CREATE"
	ActionUpdate   Action = "UPDATE"
	ActionDelete   Action = "DELETE"
	ActionRead     Action = "READ"
	ActionLogin    Action = "LOGIN"
	ActionLogout   Action = "LOGOUT"
	ActionRollback Action = "ROLLBACK"
)

// Valid reports whether a is one of the enumerated actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionRead, ActionLogin, ActionLogout, ActionRollback:
		return true
	}
	return false
}

// Status is the audit row lifecycle state. SUCCESS and FAILED are set on
// write; ROLLED_BACK is terminal and reached only via compensation.
type Status string

const (
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusRolledBack Status = "ROLLED_BACK"
	StatusPending    Status = "PENDING"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusRolledBack, StatusPending:
		return true
	}
	return false
}

// AuditLog is one immutable trail entry.
type AuditLog struct {
	ID            uuid.UUID        `json:"id"`
	Action        Action           `json:"action"`
	EntityType    string           `json:"entityType"`
	EntityID      string           `json:"entityId"`
	UserID        string           `json:"userId,omitempty"`
	Status        Status           `json:"status"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
	Changes       *streams.Changes `json:"changes,omitempty"`
	IPAddress     string           `json:"ipAddress,omitempty"`
	UserAgent     string           `json:"userAgent,omitempty"`
	CorrelationID string           `json:"correlationId"`
	ServiceName   string           `json:"serviceName"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// Filter narrows audit log listings. Zero values mean "no constraint".
type Filter struct {
	Action        Action
	EntityType    string
	EntityID      string
	UserID        string
	Status        Status
	CorrelationID string
	ServiceName   string
	StartDate     *time.Time
	EndDate       *time.Time
}

// SortField whitelists the sortable columns.
type SortField string

const (
	SortCreatedAt SortField = "createdAt"
)

// Page carries pagination and ordering. NormalizePage applies the defaults
// and bounds: page >= 1, 1 <= limit <= 100 (default 10), createdAt desc.
type Page struct {
	Number int
	Limit  int
	Desc   bool
}

func NormalizePage(number, limit int, desc bool) Page {
	if number < 1 {
		number = 1
	}
	switch {
	case limit < 1:
		limit = 10
	case limit > 100:
		limit = 100
	}
	return Page{Number: number, Limit: limit, Desc: desc}
}

// Offset is the row offset for the page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// PagedResult is the list response shape.
type PagedResult struct {
	Items      []*AuditLog `json:"items"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalItems int64       `json:"totalItems"`
	TotalPages int64       `json:"totalPages"`
}
