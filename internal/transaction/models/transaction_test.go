package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePage(t *testing.T) {
	cases := []struct {
		name        string
		number      int
		limit       int
		sort        SortField
		wantNumber  int
		wantLimit   int
		wantSort    SortField
	}{
		{"defaults", 0, 0, "", 1, 10, SortCreatedAt},
		{"negative page", -3, 5, SortAmount, 1, 5, SortAmount},
		{"limit capped", 2, 500, SortUpdatedAt, 2, 100, SortUpdatedAt},
		{"unknown sort falls back", 1, 10, SortField("owner"), 1, 10, SortCreatedAt},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NormalizePage(tc.number, tc.limit, tc.sort, true)
			assert.Equal(t, tc.wantNumber, p.Number)
			assert.Equal(t, tc.wantLimit, p.Limit)
			assert.Equal(t, tc.wantSort, p.Sort)
		})
	}
}

func TestPageOffset(t *testing.T) {
	p := NormalizePage(3, 20, SortCreatedAt, true)
	assert.Equal(t, 40, p.Offset())
}

func TestSnapshotPreservesDecimalPrecision(t *testing.T) {
	tr := &Transaction{
		ID:       uuid.New(),
		Amount:   decimal.RequireFromString("100.50"),
		Currency: CurrencyUSD,
		Status:   StatusPending,
	}
	raw, err := json.Marshal(tr.Snapshot())
	require.NoError(t, err)

	// The wire must carry the exact two-decimal literal, not a float
	// rendering.
	assert.Contains(t, string(raw), `"amount":100.50`)
}

func TestSnapshotOmitsEmptyOptionalFields(t *testing.T) {
	tr := &Transaction{Amount: decimal.NewFromInt(5), Currency: CurrencyEUR, Status: StatusPending}
	snap := tr.Snapshot()
	_, hasDescription := snap["description"]
	_, hasMetadata := snap["metadata"]
	assert.False(t, hasDescription)
	assert.False(t, hasMetadata)
}

func TestUpdateRequestEmpty(t *testing.T) {
	assert.True(t, UpdateRequest{}.Empty())

	amount := decimal.NewFromInt(1)
	assert.False(t, UpdateRequest{Amount: &amount}.Empty())
	assert.False(t, UpdateRequest{Metadata: map[string]any{"k": "v"}}.Empty())
}

func TestCurrencyAndStatusSets(t *testing.T) {
	for _, c := range []Currency{CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyJPY, CurrencyCAD, CurrencyAUD, CurrencyCHF, CurrencyCNY} {
		assert.True(t, c.Valid(), string(c))
	}
	assert.False(t, Currency("DOGE").Valid())

	for _, st := range []Status{StatusPending, StatusCompleted, StatusFailed, StatusCancelled, StatusProcessing} {
		assert.True(t, st.Valid(), string(st))
	}
	assert.False(t, Status("UNKNOWN").Valid())
}

func TestDTOAmountSerializesAsDecimalString(t *testing.T) {
	dto := DTO{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Amount:    decimal.RequireFromString("150.75"),
		Currency:  CurrencyUSD,
		Status:    StatusCompleted,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(dto)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"amount":"150.75"`)
}
