//go:build integration

package transaction_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	authmodels "fintrail/internal/auth/models"
	userstore "fintrail/internal/auth/store/user"
	"fintrail/internal/platform/postgres"
	"fintrail/internal/transaction/migrations"
	"fintrail/internal/transaction/models"
	txnstore "fintrail/internal/transaction/store/transaction"
	"fintrail/pkg/platform/sentinel"
	txcontext "fintrail/pkg/platform/tx"
	"fintrail/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg     *containers.PostgresContainer
	store  *txnstore.PostgresStore
	users  *userstore.PostgresStore
	userID uuid.UUID
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.pg = mgr.GetPostgres(s.T())
	s.Require().NoError(postgres.Migrate(s.pg.DB, migrations.FS, migrations.Path))
	s.store = txnstore.NewPostgres(s.pg.DB)
	s.users = userstore.NewPostgres(s.pg.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.pg.TruncateTables(ctx, "transactions", "users"))

	s.userID = uuid.New()
	now := time.Now().UTC()
	s.Require().NoError(s.users.Create(ctx, &authmodels.User{
		ID:           s.userID,
		Username:     "testuser-" + s.userID.String()[:8],
		Email:        s.userID.String() + "@example.com",
		PasswordHash: "x",
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
}

func (s *PostgresStoreSuite) newTransaction(amount string, currency models.Currency, status models.Status) *models.Transaction {
	now := time.Now().UTC()
	return &models.Transaction{
		ID:        uuid.New(),
		UserID:    s.userID,
		Amount:    decimal.RequireFromString(amount),
		Currency:  currency,
		Status:    status,
		Metadata:  map[string]any{"source": "test"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *PostgresStoreSuite) TestInsertAndFindRoundTrip() {
	ctx := context.Background()
	t := s.newTransaction("100.50", models.CurrencyUSD, models.StatusPending)
	t.Description = "Test"
	s.Require().NoError(s.store.Insert(ctx, t))

	found, err := s.store.FindByIDForUser(ctx, t.ID, s.userID)
	s.Require().NoError(err)
	s.True(found.Amount.Equal(decimal.RequireFromString("100.50")), "amount %s", found.Amount)
	s.Equal(models.CurrencyUSD, found.Currency)
	s.Equal("Test", found.Description)
	s.Equal("test", found.Metadata["source"])
}

func (s *PostgresStoreSuite) TestForeignOwnerCollapsesToNotFound() {
	ctx := context.Background()
	t := s.newTransaction("10", models.CurrencyUSD, models.StatusPending)
	s.Require().NoError(s.store.Insert(ctx, t))

	_, err := s.store.FindByIDForUser(ctx, t.ID, uuid.New())
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresStoreSuite) TestRollbackDiscardsInsert() {
	ctx := context.Background()
	tx, err := s.pg.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)

	t := s.newTransaction("55.55", models.CurrencyEUR, models.StatusPending)
	s.Require().NoError(s.store.Insert(txcontext.WithTx(ctx, tx), t))
	s.Require().NoError(tx.Rollback())

	_, err = s.store.FindByIDForUser(ctx, t.ID, s.userID)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresStoreSuite) TestCommitMakesInsertVisible() {
	ctx := context.Background()
	tx, err := s.pg.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)

	t := s.newTransaction("77.77", models.CurrencyGBP, models.StatusPending)
	s.Require().NoError(s.store.Insert(txcontext.WithTx(ctx, tx), t))

	// Invisible before commit from the pool's perspective.
	_, err = s.store.FindByIDForUser(ctx, t.ID, s.userID)
	s.True(errors.Is(err, sentinel.ErrNotFound))

	s.Require().NoError(tx.Commit())
	_, err = s.store.FindByIDForUser(ctx, t.ID, s.userID)
	s.NoError(err)
}

func (s *PostgresStoreSuite) TestAmountSortsNumerically() {
	ctx := context.Background()
	// Lexically "9.00" > "100.00"; numerically the opposite.
	for _, amount := range []string{"9.00", "100.00", "25.50"} {
		s.Require().NoError(s.store.Insert(ctx, s.newTransaction(amount, models.CurrencyUSD, models.StatusPending)))
	}

	page := models.NormalizePage(1, 10, models.SortAmount, false)
	list, total, err := s.store.List(ctx, s.userID, models.Filter{}, page)
	s.Require().NoError(err)
	s.Equal(int64(3), total)
	s.Require().Len(list, 3)
	s.True(list[0].Amount.Equal(decimal.RequireFromString("9.00")))
	s.True(list[1].Amount.Equal(decimal.RequireFromString("25.50")))
	s.True(list[2].Amount.Equal(decimal.RequireFromString("100.00")))
}

func (s *PostgresStoreSuite) TestListFiltersAndPages() {
	ctx := context.Background()
	s.Require().NoError(s.store.Insert(ctx, s.newTransaction("10", models.CurrencyUSD, models.StatusPending)))
	s.Require().NoError(s.store.Insert(ctx, s.newTransaction("20", models.CurrencyUSD, models.StatusCompleted)))
	s.Require().NoError(s.store.Insert(ctx, s.newTransaction("30", models.CurrencyEUR, models.StatusCompleted)))

	min := decimal.RequireFromString("15")
	list, total, err := s.store.List(ctx, s.userID,
		models.Filter{Status: models.StatusCompleted, MinAmount: &min},
		models.NormalizePage(1, 10, models.SortCreatedAt, true))
	s.Require().NoError(err)
	s.Equal(int64(2), total)
	s.Len(list, 2)

	// Page beyond the data is empty but keeps the count.
	list, total, err = s.store.List(ctx, s.userID, models.Filter{},
		models.NormalizePage(2, 2, models.SortCreatedAt, true))
	s.Require().NoError(err)
	s.Equal(int64(3), total)
	s.Len(list, 1)
}

func (s *PostgresStoreSuite) TestUpdateAndDelete() {
	ctx := context.Background()
	t := s.newTransaction("10", models.CurrencyUSD, models.StatusPending)
	s.Require().NoError(s.store.Insert(ctx, t))

	t.Amount = decimal.RequireFromString("150.75")
	t.Status = models.StatusCompleted
	t.UpdatedAt = time.Now().UTC()
	s.Require().NoError(s.store.Update(ctx, t))

	found, err := s.store.FindByIDForUser(ctx, t.ID, s.userID)
	s.Require().NoError(err)
	s.True(found.Amount.Equal(decimal.RequireFromString("150.75")))
	s.Equal(models.StatusCompleted, found.Status)

	s.Require().NoError(s.store.Delete(ctx, t.ID, s.userID))
	err = s.store.Delete(ctx, t.ID, s.userID)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresStoreSuite) TestCascadeDeleteWithUser() {
	ctx := context.Background()
	t := s.newTransaction("10", models.CurrencyUSD, models.StatusPending)
	s.Require().NoError(s.store.Insert(ctx, t))

	_, err := s.pg.DB.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, s.userID)
	s.Require().NoError(err)

	_, err = s.store.FindByIDForUser(ctx, t.ID, s.userID)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}
