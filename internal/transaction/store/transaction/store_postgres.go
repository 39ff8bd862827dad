// Package transaction persists transaction rows. Store methods participate
// in the saga's local transaction when one is present in context; reads used
// by the query surface run directly against the pool.
package transaction

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fintrail/internal/transaction/models"
	"fintrail/pkg/platform/sentinel"
	txcontext "fintrail/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const transactionColumns = `id, user_id, amount, currency, status, description, metadata, created_at, updated_at`

// Insert writes one row inside the saga transaction.
func (s *PostgresStore) Insert(ctx context.Context, t *models.Transaction) error {
	metadata, err := marshalMetadata(t.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		t.ID, t.UserID, t.Amount, string(t.Currency), string(t.Status),
		nullable(t.Description), metadata, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// FindByIDForUser fetches a row matching both id and owner. Absent and
// foreign-owned collapse to sentinel.ErrNotFound.
func (s *PostgresStore) FindByIDForUser(ctx context.Context, id, userID uuid.UUID) (*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE id = $1 AND user_id = $2
	`
	t, err := scanTransaction(s.execer(ctx).QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("find transaction: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	return t, nil
}

// Update rewrites the mutable columns of a row the caller already loaded
// inside the same transaction.
func (s *PostgresStore) Update(ctx context.Context, t *models.Transaction) error {
	metadata, err := marshalMetadata(t.Metadata)
	if err != nil {
		return err
	}
	query := `
		UPDATE transactions
		SET amount = $1, currency = $2, status = $3, description = $4, metadata = $5, updated_at = $6
		WHERE id = $7 AND user_id = $8
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		t.Amount, string(t.Currency), string(t.Status),
		nullable(t.Description), metadata, t.UpdatedAt, t.ID, t.UserID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update transaction: %w", sentinel.ErrNotFound)
	}
	return nil
}

// Delete removes a row matching id and owner.
func (s *PostgresStore) Delete(ctx context.Context, id, userID uuid.UUID) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM transactions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete transaction: %w", sentinel.ErrNotFound)
	}
	return nil
}

// List returns the owner's filtered page plus the total count.
func (s *PostgresStore) List(ctx context.Context, userID uuid.UUID, filter models.Filter, page models.Page) ([]*models.Transaction, int64, error) {
	clauses := []string{"user_id = $1"}
	args := []any{userID}

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Currency != "" {
		add("currency = $%d", string(filter.Currency))
	}
	if filter.MinAmount != nil {
		add("amount >= $%d", *filter.MinAmount)
	}
	if filter.MaxAmount != nil {
		add("amount <= $%d", *filter.MaxAmount)
	}
	if filter.StartDate != nil {
		add("created_at >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		add("created_at <= $%d", *filter.EndDate)
	}
	where := " WHERE " + strings.Join(clauses, " AND ")

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	query := fmt.Sprintf(`SELECT `+transactionColumns+` FROM transactions%s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		where, sortColumn(page.Sort), direction(page.Desc), len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var list []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("list transactions: %w", err)
		}
		list = append(list, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	return list, total, nil
}

// sortColumn maps the whitelisted sort fields to columns. Amount sorts
// numerically because the column is DECIMAL, not text.
func sortColumn(f models.SortField) string {
	switch f {
	case models.SortUpdatedAt:
		return "updated_at"
	case models.SortAmount:
		return "amount"
	default:
		return "created_at"
	}
}

func direction(desc bool) string {
	if desc {
		return "DESC"
	}
	return "ASC"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		t                models.Transaction
		currency, status string
		description      sql.NullString
		metadata         []byte
		created, updated time.Time
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Amount, &currency, &status,
		&description, &metadata, &created, &updated)
	if err != nil {
		return nil, err
	}
	t.Currency = models.Currency(currency)
	t.Status = models.Status(status)
	t.Description = description.String
	t.CreatedAt = created
	t.UpdatedAt = updated
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &t, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return raw, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
