package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropship-ops/opsconsole/internal/accounting"
	"github.com/dropship-ops/opsconsole/internal/platform/db"
	"github.com/dropship-ops/opsconsole/internal/shared"
)

const movementColumns = `id, product_id, warehouse_id, quantity_change, reason, COALESCE(reference_type, ''), COALESCE(reference_id, ''), unit_cost::float8, COALESCE(user_id, ''), created_at`

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, timeout time.Duration) *Repository {
	return &Repository{pool: pool, timeout: timeout}
}

type txRepo struct {
	tx     pgx.Tx
	ledger accounting.TxRepository
}

// WithTx executes the callback inside a read-committed transaction. Levels are serialised by
// row locks, so each locked read sees the latest committed quantity.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTxLevel(ctx, r.pool, r.timeout, pgx.ReadCommitted, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, ledger: accounting.NewTxRepository(tx)})
	})
}

// ListStockLevels implements RepositoryPort.
func (r *Repository) ListStockLevels(ctx context.Context, productID int64) ([]StockLevel, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, warehouse_id, current_stock, updated_at
FROM stock_levels WHERE ($1::bigint = 0 OR product_id = $1)
ORDER BY product_id, warehouse_id`, productID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []StockLevel
	for rows.Next() {
		var l StockLevel
		if err := rows.Scan(&l.ProductID, &l.WarehouseID, &l.CurrentStock, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, db.Classify(rows.Err())
}

// GlobalStock implements RepositoryPort.
func (r *Repository) GlobalStock(ctx context.Context, productID int64) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(current_stock), 0)::bigint FROM stock_levels WHERE product_id = $1`, productID).Scan(&total)
	return total, db.Classify(err)
}

// ListMovements implements RepositoryPort.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]MovementRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+`
FROM stock_movements
WHERE ($1::bigint = 0 OR product_id = $1)
  AND ($2::bigint = 0 OR warehouse_id = $2)
  AND ($3::timestamptz IS NULL OR created_at >= $3)
  AND ($4::timestamptz IS NULL OR created_at <= $4)
ORDER BY id DESC
LIMIT $5`, filter.ProductID, filter.WarehouseID, db.NullTime(filter.From), db.NullTime(filter.To), filter.Limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []MovementRecord
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, db.Classify(rows.Err())
}

// StockDiscrepancies implements RepositoryPort. One statement, so levels and movements come
// from the same snapshot.
func (r *Repository) StockDiscrepancies(ctx context.Context) ([]StockDiscrepancy, error) {
	rows, err := r.pool.Query(ctx, `WITH sums AS (
    SELECT product_id, warehouse_id, SUM(quantity_change)::bigint AS total
    FROM stock_movements GROUP BY product_id, warehouse_id
)
SELECT COALESCE(l.product_id, s.product_id), COALESCE(l.warehouse_id, s.warehouse_id),
       COALESCE(l.current_stock, 0), COALESCE(s.total, 0)
FROM stock_levels l
FULL OUTER JOIN sums s ON s.product_id = l.product_id AND s.warehouse_id = l.warehouse_id
WHERE COALESCE(l.current_stock, 0) <> COALESCE(s.total, 0)
ORDER BY 1, 2`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []StockDiscrepancy
	for rows.Next() {
		var d StockDiscrepancy
		if err := rows.Scan(&d.ProductID, &d.WarehouseID, &d.Level, &d.MovementSum); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, db.Classify(rows.Err())
}

func (r *txRepo) ClaimIdempotencyKey(ctx context.Context, key, module string) error {
	return shared.ClaimIdempotencyKey(ctx, r.tx, key, module)
}

func (r *txRepo) GetStockLevelForUpdate(ctx context.Context, key StockKey) (StockLevel, error) {
	if _, err := r.tx.Exec(ctx, `INSERT INTO stock_levels (product_id, warehouse_id, current_stock)
VALUES ($1, $2, 0) ON CONFLICT (product_id, warehouse_id) DO NOTHING`, key.ProductID, key.WarehouseID); err != nil {
		return StockLevel{}, err
	}
	var l StockLevel
	err := r.tx.QueryRow(ctx, `SELECT product_id, warehouse_id, current_stock, updated_at
FROM stock_levels WHERE product_id = $1 AND warehouse_id = $2 FOR UPDATE`, key.ProductID, key.WarehouseID).
		Scan(&l.ProductID, &l.WarehouseID, &l.CurrentStock, &l.UpdatedAt)
	return l, err
}

func (r *txRepo) UpsertStockLevel(ctx context.Context, level StockLevel) (StockLevel, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_levels (product_id, warehouse_id, current_stock, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (product_id, warehouse_id) DO UPDATE SET current_stock = EXCLUDED.current_stock, updated_at = NOW()
RETURNING updated_at`, level.ProductID, level.WarehouseID, level.CurrentStock).Scan(&level.UpdatedAt)
	return level, err
}

func (r *txRepo) InsertMovement(ctx context.Context, m MovementRecord) (MovementRecord, error) {
	var cost any
	if m.UnitCost != nil {
		cost = *m.UnitCost
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, warehouse_id, quantity_change, reason, reference_type, reference_id, unit_cost, user_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at`,
		m.ProductID, m.WarehouseID, m.QuantityChange, m.Reason, db.NullString(m.ReferenceType), db.NullString(m.ReferenceID), cost, db.NullString(m.UserID)).
		Scan(&m.ID, &m.CreatedAt)
	return m, err
}

func (r *txRepo) Ledger() accounting.TxRepository {
	return r.ledger
}

func scanMovement(row pgx.Row) (MovementRecord, error) {
	var m MovementRecord
	err := row.Scan(&m.ID, &m.ProductID, &m.WarehouseID, &m.QuantityChange, &m.Reason, &m.ReferenceType, &m.ReferenceID, &m.UnitCost, &m.UserID, &m.CreatedAt)
	return m, err
}
