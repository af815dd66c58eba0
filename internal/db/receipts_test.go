package db

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitreceipt/receipt-split-service/internal/models"
)

var receiptColumns = []string{
	"id", "owner", "image_path", "ocr_text", "ledger", "split", "warnings", "printed_total", "created_at",
}

func sampleLedger() *models.Ledger {
	l := &models.Ledger{
		Items: []models.LineItem{
			{Name: "Coke", Quantity: 1, UnitPrice: decimal.RequireFromString("3.50"), TotalPrice: decimal.RequireFromString("3.50")},
		},
		Currency: "$",
	}
	l.ComputedTotal = l.Total()
	return l
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestEnsureSchema(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(Schema)).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, NewReceiptStore(mock).EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveReceipt(t *testing.T) {
	mock := newMock(t)
	id := uuid.New().String()
	printed := decimal.RequireFromString("3.5")

	mock.ExpectExec(regexp.QuoteMeta(insertReceiptQuery)).
		WithArgs(id, "client-a", "receipts/x.jpg", "1 Coke $3.50",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "3.50", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := NewReceiptStore(mock).Save(context.Background(), &models.Receipt{
		ID:           id,
		Owner:        "client-a",
		ImagePath:    "receipts/x.jpg",
		OCRText:      "1 Coke $3.50",
		Ledger:       sampleLedger(),
		PrintedTotal: &printed,
		CreatedAt:    time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReceipt(t *testing.T) {
	mock := newMock(t)
	id := uuid.New().String()
	ledgerJSON, err := json.Marshal(sampleLedger())
	require.NoError(t, err)
	splitJSON, err := json.Marshal(&models.SplitResult{Mode: "even", Participants: []string{"P1"}})
	require.NoError(t, err)
	printed := "3.50"
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(getReceiptQuery)).
		WithArgs(id, "client-a").
		WillReturnRows(pgxmock.NewRows(receiptColumns).
			AddRow(id, "client-a", "", "1 Coke $3.50", ledgerJSON, splitJSON, []byte(`["check total"]`), &printed, now))

	r, err := NewReceiptStore(mock).Get(context.Background(), "client-a", id)
	require.NoError(t, err)
	assert.Equal(t, id, r.ID)
	require.NotNil(t, r.Ledger)
	assert.True(t, r.Ledger.ComputedTotal.Equal(decimal.RequireFromString("3.50")))
	require.Len(t, r.Ledger.Items, 1)
	require.NotNil(t, r.Split)
	assert.Equal(t, "even", r.Split.Mode)
	assert.Equal(t, []string{"check total"}, r.Warnings)
	require.NotNil(t, r.PrintedTotal)
	assert.True(t, r.PrintedTotal.Equal(decimal.RequireFromString("3.50")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReceiptNotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(getReceiptQuery)).
		WithArgs("missing", "client-a").
		WillReturnRows(pgxmock.NewRows(receiptColumns))

	_, err := NewReceiptStore(mock).Get(context.Background(), "client-a", "missing")
	assert.ErrorIs(t, err, ErrReceiptNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListReceipts(t *testing.T) {
	mock := newMock(t)
	ledgerJSON, err := json.Marshal(sampleLedger())
	require.NoError(t, err)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(countReceiptsQuery)).
		WithArgs("client-a").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(listReceiptsQuery)).
		WithArgs("client-a", 100, 0).
		WillReturnRows(pgxmock.NewRows(receiptColumns).
			AddRow("a", "client-a", "", "", ledgerJSON, []byte(nil), []byte(`[]`), (*string)(nil), now).
			AddRow("b", "client-a", "", "", ledgerJSON, []byte(nil), []byte(`[]`), (*string)(nil), now))

	list, total, err := NewReceiptStore(mock).List(context.Background(), "client-a", 0, -5)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Nil(t, list[0].Split)
	assert.Nil(t, list[0].PrintedTotal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSplit(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(updateSplitQuery)).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "r1", "client-a").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta(updateSplitQuery)).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "r2", "client-a").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	store := NewReceiptStore(mock)
	split := &models.SplitResult{Mode: "item"}
	require.NoError(t, store.UpdateSplit(context.Background(), "client-a", "r1", sampleLedger(), split))
	assert.ErrorIs(t, store.UpdateSplit(context.Background(), "client-a", "r2", sampleLedger(), split), ErrReceiptNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteReceipt(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(deleteReceiptQuery)).
		WithArgs("r1", "client-a").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta(deleteReceiptQuery)).
		WithArgs("r1", "client-b").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	store := NewReceiptStore(mock)
	require.NoError(t, store.Delete(context.Background(), "client-a", "r1"))
	assert.ErrorIs(t, store.Delete(context.Background(), "client-b", "r1"), ErrReceiptNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestURLFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_USER", "")
	t.Setenv("DB_NAME", "")
	assert.Empty(t, URLFromEnv())

	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "split")
	t.Setenv("DB_PASSWORD", "p@ss")
	t.Setenv("DB_NAME", "receipts")
	t.Setenv("DB_PORT", "")
	assert.Equal(t, "postgresql://split:p%40ss@db:5432/receipts?sslmode=disable", URLFromEnv())

	t.Setenv("DATABASE_URL", "postgres://x")
	assert.Equal(t, "postgres://x", URLFromEnv())

	_, err := Connect(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoDatabase)
}
