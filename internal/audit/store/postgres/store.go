// Package postgres persists audit logs. The store is pure I/O: it maps
// constraint facts to sentinel errors and leaves policy to the consumer and
// service layers.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"fintrail/internal/audit/models"
	"fintrail/pkg/platform/sentinel"
	"fintrail/pkg/streams"
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const auditColumns = `id, action, entity_type, entity_id, user_id, status, metadata, changes,
	ip_address, user_agent, correlation_id, service_name, created_at`

// Insert writes one audit row. A duplicate (correlation_id, action,
// entity_id) triple returns sentinel.ErrConflict so the consumer can absorb
// stream redelivery by re-acking the existing row.
func (s *Store) Insert(ctx context.Context, log *models.AuditLog) error {
	metadata, changes, err := marshalDocs(log)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_logs (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.db.ExecContext(ctx, query,
		log.ID,
		string(log.Action),
		log.EntityType,
		log.EntityID,
		nullable(log.UserID),
		string(log.Status),
		metadata,
		changes,
		nullable(log.IPAddress),
		nullable(log.UserAgent),
		log.CorrelationID,
		log.ServiceName,
		log.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert audit log: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// FindByTriple returns the row for a (correlationID, action, entityID)
// triple. Used by the consumer to recover the id of an already-written row
// on duplicate delivery.
func (s *Store) FindByTriple(ctx context.Context, correlationID string, action models.Action, entityID string) (*models.AuditLog, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE correlation_id = $1 AND action = $2 AND entity_id = $3
	`
	log, err := scanAuditLog(s.db.QueryRowContext(ctx, query, correlationID, string(action), entityID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("find audit log by triple: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find audit log by triple: %w", err)
	}
	return log, nil
}

// MarkRolledBack transitions every row sharing the correlation id to
// ROLLED_BACK. Idempotent: already rolled-back rows are untouched, so a
// redelivered compensation message affects zero rows.
func (s *Store) MarkRolledBack(ctx context.Context, correlationID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE audit_logs
		SET status = $1
		WHERE correlation_id = $2 AND status <> $1
	`, string(models.StatusRolledBack), correlationID)
	if err != nil {
		return 0, fmt.Errorf("mark rolled back: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark rolled back: %w", err)
	}
	return n, nil
}

// FindByID fetches a single row.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE id = $1`
	log, err := scanAuditLog(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("find audit log: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find audit log: %w", err)
	}
	return log, nil
}

// List returns a filtered page plus the total row count for the filter.
func (s *Store) List(ctx context.Context, filter models.Filter, page models.Page) ([]*models.AuditLog, int64, error) {
	where, args := buildFilter(filter)

	var total int64
	countQuery := `SELECT COUNT(*) FROM audit_logs` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	order := " ORDER BY created_at ASC"
	if page.Desc {
		order = " ORDER BY created_at DESC"
	}
	query := fmt.Sprintf(`SELECT `+auditColumns+` FROM audit_logs%s%s LIMIT $%d OFFSET $%d`,
		where, order, len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset())

	logs, err := s.queryLogs(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, total, nil
}

// ListByCorrelation returns every row of one saga, oldest first.
func (s *Store) ListByCorrelation(ctx context.Context, correlationID string) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE correlation_id = $1
		ORDER BY created_at ASC
	`
	logs, err := s.queryLogs(ctx, query, correlationID)
	if err != nil {
		return nil, fmt.Errorf("list audit logs by correlation: %w", err)
	}
	return logs, nil
}

// ListByEntity returns the per-entity history, newest first.
func (s *Store) ListByEntity(ctx context.Context, entityType, entityID string) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
	`
	logs, err := s.queryLogs(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit logs by entity: %w", err)
	}
	return logs, nil
}

func buildFilter(filter models.Filter) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if filter.EntityType != "" {
		add("entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		add("entity_id = $%d", filter.EntityID)
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.CorrelationID != "" {
		add("correlation_id = $%d", filter.CorrelationID)
	}
	if filter.ServiceName != "" {
		add("service_name = $%d", filter.ServiceName)
	}
	if filter.StartDate != nil {
		add("created_at >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		add("created_at <= $%d", *filter.EndDate)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) queryLogs(ctx context.Context, query string, args ...any) ([]*models.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditLog(row rowScanner) (*models.AuditLog, error) {
	var (
		log              models.AuditLog
		action, status   string
		userID, ip, ua   sql.NullString
		metadata, change []byte
		createdAt        time.Time
	)
	err := row.Scan(
		&log.ID, &action, &log.EntityType, &log.EntityID, &userID, &status,
		&metadata, &change, &ip, &ua, &log.CorrelationID, &log.ServiceName, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	log.Action = models.Action(action)
	log.Status = models.Status(status)
	log.UserID = userID.String
	log.IPAddress = ip.String
	log.UserAgent = ua.String
	log.CreatedAt = createdAt

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &log.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if len(change) > 0 {
		var c streams.Changes
		if err := json.Unmarshal(change, &c); err != nil {
			return nil, fmt.Errorf("decode changes: %w", err)
		}
		log.Changes = &c
	}
	return &log, nil
}

func marshalDocs(log *models.AuditLog) (metadata, changes []byte, err error) {
	if log.Metadata != nil {
		if metadata, err = json.Marshal(log.Metadata); err != nil {
			return nil, nil, fmt.Errorf("encode metadata: %w", err)
		}
	}
	if log.Changes != nil {
		if changes, err = json.Marshal(log.Changes); err != nil {
			return nil, nil, fmt.Errorf("encode changes: %w", err)
		}
	}
	return metadata, changes, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
