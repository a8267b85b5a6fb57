package products

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropship-ops/opsconsole/internal/masterdata/shared"
	"github.com/dropship-ops/opsconsole/internal/platform/db"
	coreshared "github.com/dropship-ops/opsconsole/internal/shared"
)

type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Product, int, error)
	Get(ctx context.Context, id int64) (Product, error)
	// FindBySKUs returns the products whose normalised SKU is in skus, keyed by SKU.
	FindBySKUs(ctx context.Context, skus []string) (map[string]Product, error)
	// ApplyBatch writes every insert and update in one transaction or nothing at all.
	ApplyBatch(ctx context.Context, batch Batch) (BatchResult, error)
}

const productColumns = `id, sku, name, cost::float8, margin::float8, category, vat_percentage::float8, cost_with_vat::float8, price::float8, created_at, updated_at`

type repository struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

func NewRepository(pool *pgxpool.Pool, timeout time.Duration) Repository {
	return &repository{db: pool, timeout: timeout}
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Product, int, error) {
	filters = filters.Normalize()
	where := ` WHERE 1=1`
	args := []any{}

	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (name ILIKE $` + n + ` OR sku ILIKE $` + n + `)`
	}
	if filters.Category != "" {
		args = append(args, filters.Category)
		where += ` AND category = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err)
	}

	query := `SELECT ` + productColumns + ` FROM products` + where + ` ORDER BY ` + sortOrder(filters.SortBy, filters.SortDir)
	args = append(args, filters.Limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	args = append(args, filters.Offset())
	query += ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, db.Classify(rows.Err())
}

func (r *repository) Get(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, db.Classify(err)
}

func (r *repository) FindBySKUs(ctx context.Context, skus []string) (map[string]Product, error) {
	out := make(map[string]Product, len(skus))
	if len(skus) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+productColumns+` FROM products WHERE sku = ANY($1)`, skus)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.SKU] = p
	}
	return out, db.Classify(rows.Err())
}

func (r *repository) ApplyBatch(ctx context.Context, batch Batch) (BatchResult, error) {
	var result BatchResult
	err := db.WithTx(ctx, r.db, r.timeout, func(ctx context.Context, tx pgx.Tx) error {
		for i, p := range batch.Inserts {
			created, err := scanProduct(tx.QueryRow(ctx, `INSERT INTO products (sku, name, cost, margin, category, vat_percentage, cost_with_vat, price)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+productColumns,
				p.SKU, p.Name, p.Cost, p.Margin, p.Category, p.VATPercentage, p.CostWithVAT, p.Price))
			if db.IsUniqueViolation(err, "uq_products_sku") {
				return &coreshared.Error{Class: coreshared.ErrConflict, Err: ErrDuplicateSKU, Detail: coreshared.Detail{Row: i + 1, Field: "sku", Value: p.SKU}}
			}
			if err != nil {
				return err
			}
			result.Inserted = append(result.Inserted, created)
		}
		for i, p := range batch.Updates {
			updated, err := scanProduct(tx.QueryRow(ctx, `UPDATE products
SET name = $2, cost = $3, margin = $4, category = $5, vat_percentage = $6, cost_with_vat = $7, price = $8, updated_at = clock_timestamp()
WHERE id = $1 AND updated_at = $9
RETURNING `+productColumns,
				p.ID, p.Name, p.Cost, p.Margin, p.Category, p.VATPercentage, p.CostWithVAT, p.Price, p.UpdatedAt))
			if errors.Is(err, pgx.ErrNoRows) {
				return &coreshared.Error{Class: coreshared.ErrConflict, Err: ErrStaleProduct, Detail: coreshared.Detail{Row: len(batch.Inserts) + i + 1, Field: "sku", Value: p.SKU}}
			}
			if err != nil {
				return err
			}
			result.Updated = append(result.Updated, updated)
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}
	return result, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Cost, &p.Margin, &p.Category, &p.VATPercentage, &p.CostWithVAT, &p.Price, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == shared.SortDesc {
		dir = "DESC"
	}
	switch sortBy {
	case "sku":
		return "sku " + dir
	case "price":
		return "price " + dir
	case "cost":
		return "cost " + dir
	case "updated_at":
		return "updated_at " + dir
	default:
		return "name " + dir
	}
}
