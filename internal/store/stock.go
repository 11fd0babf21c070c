package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// StockKey identifies a tracked SKU at a location. An invalid VariantID
// addresses the product-level record.
type StockKey struct {
	ProductID pgtype.UUID
	VariantID pgtype.UUID
	Location  string
}

// StockRecord mirrors a row of stock_records.
type StockRecord struct {
	ID        pgtype.UUID
	ProductID pgtype.UUID
	VariantID pgtype.UUID
	Location  string
	Stock     int64
	Reserved  int64
	UpdatedAt pgtype.Timestamptz
}

const stockColumns = `id, product_id, variant_id, location, stock, reserved, updated_at`

func scanStockRecord(row interface{ Scan(dest ...any) error }) (StockRecord, error) {
	var rec StockRecord
	err := row.Scan(&rec.ID, &rec.ProductID, &rec.VariantID, &rec.Location, &rec.Stock, &rec.Reserved, &rec.UpdatedAt)
	return rec, err
}

// GetStockRecord returns the record for the key or pgx.ErrNoRows when the
// SKU is untracked.
func (q *Queries) GetStockRecord(ctx context.Context, key StockKey) (StockRecord, error) {
	row := q.db.QueryRow(ctx, `
SELECT `+stockColumns+`
FROM stock_records
WHERE product_id = $1 AND location = $2 AND variant_id IS NOT DISTINCT FROM $3`,
		key.ProductID, key.Location, key.VariantID)
	return scanStockRecord(row)
}

// TryReserveStock atomically increments reserved when enough stock remains.
// It reports whether a row was updated; a false result means the key is
// either untracked or short on stock, which the caller disambiguates with
// GetStockRecord.
func (q *Queries) TryReserveStock(ctx context.Context, key StockKey, qty int64) (bool, error) {
	tag, err := q.db.Exec(ctx, `
UPDATE stock_records
SET reserved = reserved + $4, updated_at = now()
WHERE product_id = $1 AND location = $2 AND variant_id IS NOT DISTINCT FROM $3
  AND stock - reserved >= $4`,
		key.ProductID, key.Location, key.VariantID, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseStock decrements reserved, clamped at zero. Untracked keys are a
// no-op.
func (q *Queries) ReleaseStock(ctx context.Context, key StockKey, qty int64) error {
	_, err := q.db.Exec(ctx, `
UPDATE stock_records
SET reserved = GREATEST(reserved - $4, 0), updated_at = now()
WHERE product_id = $1 AND location = $2 AND variant_id IS NOT DISTINCT FROM $3`,
		key.ProductID, key.Location, key.VariantID, qty)
	return err
}

// ConfirmStock converts a reservation into a sale: both stock and reserved
// drop by qty, clamped at zero. The updated row is returned so callers can
// observe depletion; pgx.ErrNoRows means the key is untracked.
func (q *Queries) ConfirmStock(ctx context.Context, key StockKey, qty int64) (StockRecord, error) {
	row := q.db.QueryRow(ctx, `
UPDATE stock_records
SET stock = GREATEST(stock - $4, 0),
    reserved = LEAST(GREATEST(reserved - $4, 0), GREATEST(stock - $4, 0)),
    updated_at = now()
WHERE product_id = $1 AND location = $2 AND variant_id IS NOT DISTINCT FROM $3
RETURNING `+stockColumns,
		key.ProductID, key.Location, key.VariantID, qty)
	return scanStockRecord(row)
}

// UpsertStock sets the absolute stock level for a key, creating the record
// lazily on first write. Reserved is clamped down when the new stock level
// falls below it so the reserved <= stock invariant keeps holding.
func (q *Queries) UpsertStock(ctx context.Context, key StockKey, stock int64) (StockRecord, error) {
	row := q.db.QueryRow(ctx, `
INSERT INTO stock_records (product_id, variant_id, location, stock)
VALUES ($1, $3, $2, $4)
ON CONFLICT (product_id, location, COALESCE(variant_id, '00000000-0000-0000-0000-000000000000'::uuid))
DO UPDATE SET stock = EXCLUDED.stock,
              reserved = LEAST(stock_records.reserved, EXCLUDED.stock),
              updated_at = now()
RETURNING `+stockColumns,
		key.ProductID, key.Location, key.VariantID, stock)
	return scanStockRecord(row)
}
