package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/splitreceipt/receipt-split-service/internal/models"
)

// ErrReceiptNotFound is returned when no receipt matches the id and owner
var ErrReceiptNotFound = errors.New("receipt not found")

// Querier is the subset of pgxpool.Pool the store needs
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Schema creates the receipts table
const Schema = `
CREATE TABLE IF NOT EXISTS receipts (
	id             UUID PRIMARY KEY,
	owner          TEXT NOT NULL DEFAULT '',
	image_path     TEXT NOT NULL DEFAULT '',
	ocr_text       TEXT NOT NULL DEFAULT '',
	ledger         JSONB NOT NULL,
	split          JSONB,
	warnings       JSONB NOT NULL DEFAULT '[]',
	computed_total NUMERIC(12,2) NOT NULL DEFAULT 0,
	printed_total  NUMERIC(12,2),
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS receipts_owner_created_idx ON receipts (owner, created_at DESC);
`

const (
	insertReceiptQuery = `
		INSERT INTO receipts (
			id, owner, image_path, ocr_text, ledger, split,
			warnings, computed_total, printed_total, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	selectReceiptColumns = `
		SELECT id::text AS id, owner, image_path, ocr_text, ledger, split,
		       warnings, printed_total::text AS printed_total, created_at
		FROM receipts
	`

	getReceiptQuery = selectReceiptColumns + `WHERE id = $1 AND owner = $2`

	listReceiptsQuery = selectReceiptColumns + `WHERE owner = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	countReceiptsQuery = `SELECT COUNT(*) FROM receipts WHERE owner = $1`

	updateSplitQuery = `
		UPDATE receipts SET ledger = $1, split = $2, updated_at = $3
		WHERE id = $4 AND owner = $5
	`

	deleteReceiptQuery = `DELETE FROM receipts WHERE id = $1 AND owner = $2`
)

// ReceiptStore reads and writes receipts scoped by owner
type ReceiptStore struct {
	q Querier
}

// NewReceiptStore creates a store
func NewReceiptStore(q Querier) *ReceiptStore {
	return &ReceiptStore{q: q}
}

// EnsureSchema creates the table when missing
func (s *ReceiptStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.q.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

type receiptRow struct {
	ID           string    `db:"id"`
	Owner        string    `db:"owner"`
	ImagePath    string    `db:"image_path"`
	OCRText      string    `db:"ocr_text"`
	Ledger       []byte    `db:"ledger"`
	Split        []byte    `db:"split"`
	Warnings     []byte    `db:"warnings"`
	PrintedTotal *string   `db:"printed_total"`
	CreatedAt    time.Time `db:"created_at"`
}

func (row receiptRow) toReceipt() (*models.Receipt, error) {
	r := &models.Receipt{
		ID:        row.ID,
		Owner:     row.Owner,
		ImagePath: row.ImagePath,
		OCRText:   row.OCRText,
		CreatedAt: row.CreatedAt,
	}
	if err := json.Unmarshal(row.Ledger, &r.Ledger); err != nil {
		return nil, fmt.Errorf("decode ledger of %s: %w", row.ID, err)
	}
	if len(row.Split) > 0 && string(row.Split) != "null" {
		if err := json.Unmarshal(row.Split, &r.Split); err != nil {
			return nil, fmt.Errorf("decode split of %s: %w", row.ID, err)
		}
	}
	if len(row.Warnings) > 0 {
		if err := json.Unmarshal(row.Warnings, &r.Warnings); err != nil {
			return nil, fmt.Errorf("decode warnings of %s: %w", row.ID, err)
		}
	}
	if row.PrintedTotal != nil {
		d, err := decimal.NewFromString(*row.PrintedTotal)
		if err != nil {
			return nil, fmt.Errorf("decode printed total of %s: %w", row.ID, err)
		}
		r.PrintedTotal = &d
	}
	return r, nil
}

// Save inserts a receipt
func (s *ReceiptStore) Save(ctx context.Context, r *models.Receipt) error {
	ledger, err := json.Marshal(r.Ledger)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	var split []byte
	if r.Split != nil {
		if split, err = json.Marshal(r.Split); err != nil {
			return fmt.Errorf("encode split: %w", err)
		}
	}
	warnings, err := json.Marshal(nonNil(r.Warnings))
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}

	computed := decimal.Zero
	if r.Ledger != nil {
		computed = r.Ledger.ComputedTotal
	}
	var printed *string
	if r.PrintedTotal != nil {
		p := r.PrintedTotal.StringFixed(2)
		printed = &p
	}

	_, err = s.q.Exec(ctx, insertReceiptQuery,
		r.ID, r.Owner, r.ImagePath, r.OCRText, ledger, split,
		warnings, computed.StringFixed(2), printed, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save receipt: %w", err)
	}
	return nil
}

// Get loads one receipt
func (s *ReceiptStore) Get(ctx context.Context, owner, id string) (*models.Receipt, error) {
	rows, err := s.q.Query(ctx, getReceiptQuery, id, owner)
	if err != nil {
		return nil, err
	}

	row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[receiptRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toReceipt()
}

// List returns a page of receipts, newest first, with the owner's total count
func (s *ReceiptStore) List(ctx context.Context, owner string, limit, offset int) ([]*models.Receipt, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.q.QueryRow(ctx, countReceiptsQuery, owner).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.q.Query(ctx, listReceiptsQuery, owner, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	list, err := pgx.CollectRows(rows, pgx.RowToStructByName[receiptRow])
	if err != nil {
		return nil, 0, err
	}

	out := make([]*models.Receipt, 0, len(list))
	for _, row := range list {
		r, err := row.toReceipt()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, nil
}

// UpdateSplit stores a new split with the ledger carrying its assignments
func (s *ReceiptStore) UpdateSplit(ctx context.Context, owner, id string, ledger *models.Ledger, split *models.SplitResult) error {
	ledgerJSON, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	splitJSON, err := json.Marshal(split)
	if err != nil {
		return fmt.Errorf("encode split: %w", err)
	}

	tag, err := s.q.Exec(ctx, updateSplitQuery, ledgerJSON, splitJSON, time.Now().UTC(), id, owner)
	if err != nil {
		return fmt.Errorf("failed to update split: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReceiptNotFound
	}
	return nil
}

// Delete removes a receipt
func (s *ReceiptStore) Delete(ctx context.Context, owner, id string) error {
	tag, err := s.q.Exec(ctx, deleteReceiptQuery, id, owner)
	if err != nil {
		return fmt.Errorf("failed to delete receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReceiptNotFound
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
