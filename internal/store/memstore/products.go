package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/dropship-ops/opsconsole/internal/masterdata/products"
	mdshared "github.com/dropship-ops/opsconsole/internal/masterdata/shared"
	"github.com/dropship-ops/opsconsole/internal/shared"
)

type productRepo struct {
	s *Store
}

func (r *productRepo) List(ctx context.Context, filters mdshared.ListFilters) ([]products.Product, int, error) {
	filters = filters.Normalize()
	search := strings.ToLower(filters.Search)
	r.s.mu.RLock()
	var all []products.Product
	for _, p := range r.s.products {
		if filters.Category != "" && p.Category != filters.Category {
			continue
		}
		if search != "" && !matches(search, p.Name, p.SKU) {
			continue
		}
		all = append(all, p)
	}
	r.s.mu.RUnlock()

	less := productOrder(filters.SortBy)
	sort.Slice(all, func(i, j int) bool {
		if filters.SortDir == mdshared.SortDesc {
			return less(all[j], all[i])
		}
		return less(all[i], all[j])
	})
	start := min(filters.Offset(), len(all))
	end := min(start+filters.Limit, len(all))
	return all[start:end], len(all), nil
}

func productOrder(sortBy string) func(a, b products.Product) bool {
	switch sortBy {
	case "sku":
		return func(a, b products.Product) bool { return a.SKU < b.SKU }
	case "price":
		return func(a, b products.Product) bool { return a.Price < b.Price }
	case "cost":
		return func(a, b products.Product) bool { return a.Cost < b.Cost }
	case "updated_at":
		return func(a, b products.Product) bool { return a.UpdatedAt.Before(b.UpdatedAt) }
	default:
		return func(a, b products.Product) bool { return a.Name < b.Name }
	}
}

func (r *productRepo) Get(ctx context.Context, id int64) (products.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.products[id]
	if !ok {
		return products.Product{}, products.ErrProductNotFound
	}
	return p, nil
}

func (r *productRepo) FindBySKUs(ctx context.Context, skus []string) (map[string]products.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[string]products.Product, len(skus))
	for _, sku := range skus {
		if id, ok := r.s.skus[sku]; ok {
			out[sku] = r.s.products[id]
		}
	}
	return out, nil
}

// ApplyBatch checks the whole batch under the commit lock before writing any row.
func (r *productRepo) ApplyBatch(ctx context.Context, batch products.Batch) (products.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return products.BatchResult{}, classify(err)
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(batch.Inserts))
	for i, p := range batch.Inserts {
		if _, taken := s.skus[p.SKU]; taken || seen[p.SKU] {
			return products.BatchResult{}, &shared.Error{Class: shared.ErrConflict, Err: products.ErrDuplicateSKU, Detail: shared.Detail{Row: i + 1, Field: "sku", Value: p.SKU}}
		}
		seen[p.SKU] = true
	}
	for i, p := range batch.Updates {
		current, ok := s.products[p.ID]
		if !ok || !current.UpdatedAt.Equal(p.UpdatedAt) {
			return products.BatchResult{}, &shared.Error{Class: shared.ErrConflict, Err: products.ErrStaleProduct, Detail: shared.Detail{Row: len(batch.Inserts) + i + 1, Field: "sku", Value: p.SKU}}
		}
	}

	var result products.BatchResult
	for _, p := range batch.Inserts {
		now := s.clock()
		p.ID = s.productSeq.Add(1)
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
		s.skus[p.SKU] = p.ID
		result.Inserted = append(result.Inserted, p)
	}
	for _, p := range batch.Updates {
		current := s.products[p.ID]
		p.SKU = current.SKU
		p.CreatedAt = current.CreatedAt
		p.UpdatedAt = nextVersion(current.UpdatedAt, s.clock())
		s.products[p.ID] = p
		result.Updated = append(result.Updated, p)
	}
	return result, nil
}

// nextVersion keeps UpdatedAt strictly increasing so a stale read never matches.
func nextVersion(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Microsecond)
}
