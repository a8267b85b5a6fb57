package commission

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropship-ops/opsconsole/internal/platform/db"
)

// Repository reads orders from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListOrders implements OrderSource. Only commissionable orders are loaded.
func (r *Repository) ListOrders(ctx context.Context, from, to time.Time) ([]Order, error) {
	statuses := make([]string, 0, len(CommissionableStatuses))
	for _, s := range CommissionableStatuses {
		statuses = append(statuses, string(s))
	}
	rows, err := r.pool.Query(ctx, `SELECT id, salesperson_id, status, total::float8, ordered_at
FROM sales_orders
WHERE ordered_at >= $1 AND ordered_at < $2 AND LOWER(status) = ANY($3)
ORDER BY id`, from, to, statuses)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var orders []Order
	index := make(map[int64]int)
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.SalespersonID, &o.Status, &o.Total, &o.OrderedAt); err != nil {
			return nil, err
		}
		index[o.ID] = len(orders)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	lineRows, err := r.pool.Query(ctx, `SELECT order_id, COALESCE(product_id, 0), quantity::float8, unit_price::float8, unit_cost::float8
FROM sales_order_lines WHERE order_id = ANY($1) ORDER BY order_id, id`, ids)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var (
			orderID int64
			l       OrderLine
		)
		if err := lineRows.Scan(&orderID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.UnitCost); err != nil {
			return nil, err
		}
		i := index[orderID]
		orders[i].Lines = append(orders[i].Lines, l)
	}
	return orders, db.Classify(lineRows.Err())
}
