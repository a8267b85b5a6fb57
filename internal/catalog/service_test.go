package catalog

import (
	"context"
	"errors"
	"maps"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropship-ops/opsconsole/internal/masterdata/products"
	mdshared "github.com/dropship-ops/opsconsole/internal/masterdata/shared"
	"github.com/dropship-ops/opsconsole/internal/shared"
)

type memoryStore struct {
	bySKU   map[string]products.Product
	nextID  int64
	batches int
	failure error
	now     time.Time
}

func newMemoryStore(items ...products.Product) *memoryStore {
	s := &memoryStore{bySKU: make(map[string]products.Product), now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	for _, p := range items {
		s.nextID++
		p.ID = s.nextID
		p.UpdatedAt = s.now
		s.bySKU[p.SKU] = p
	}
	return s
}

func (s *memoryStore) FindBySKUs(ctx context.Context, skus []string) (map[string]products.Product, error) {
	out := make(map[string]products.Product)
	for _, sku := range skus {
		if p, ok := s.bySKU[sku]; ok {
			out[sku] = p
		}
	}
	return out, nil
}

func (s *memoryStore) ApplyBatch(ctx context.Context, batch products.Batch) (products.BatchResult, error) {
	if s.failure != nil {
		return products.BatchResult{}, s.failure
	}
	staged := maps.Clone(s.bySKU)
	nextID := s.nextID
	s.now = s.now.Add(time.Second)
	var result products.BatchResult
	for _, p := range batch.Inserts {
		if _, ok := staged[p.SKU]; ok {
			return products.BatchResult{}, shared.Conflict(products.ErrDuplicateSKU)
		}
		nextID++
		p.ID = nextID
		p.UpdatedAt = s.now
		staged[p.SKU] = p
		result.Inserted = append(result.Inserted, p)
	}
	for _, p := range batch.Updates {
		current, ok := staged[p.SKU]
		if !ok || !current.UpdatedAt.Equal(p.UpdatedAt) {
			return products.BatchResult{}, shared.Conflict(products.ErrStaleProduct)
		}
		p.UpdatedAt = s.now
		staged[p.SKU] = p
		result.Updated = append(result.Updated, p)
	}
	s.bySKU = staged
	s.nextID = nextID
	s.batches++
	return result, nil
}

func (s *memoryStore) List(ctx context.Context, filters mdshared.ListFilters) ([]products.Product, int, error) {
	var all []products.Product
	for _, p := range s.bySKU {
		if filters.Category == "" || p.Category == filters.Category {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SKU < all[j].SKU })
	start := min((filters.Page-1)*filters.Limit, len(all))
	end := min(start+filters.Limit, len(all))
	return all[start:end], len(all), nil
}

func TestSyncCommitsOneBatch(t *testing.T) {
	store := newMemoryStore(products.Product{SKU: "W1", Name: "Widget", Cost: 5, Margin: ptr(0.3), VATPercentage: ptr(12)})
	svc := NewService(store, nil)
	ctx := context.Background()

	res, err := svc.Preview(ctx, []CandidateRow{
		row(2, "W1", "Widget", "5.5", "", "", "12"),
		row(3, "N1", "Lamp", "10", "0.3", "home", "12"),
	}, Options{})
	require.NoError(t, err)
	require.Len(t, res.Modified, 1)
	require.Len(t, res.New, 1)

	report, err := svc.Sync(ctx, res)
	require.NoError(t, err)
	require.NotEmpty(t, report.BatchID)
	require.Equal(t, 1, report.Inserted)
	require.Equal(t, 1, report.Updated)
	require.Equal(t, 1, store.batches)
	require.Equal(t, 14.56, store.bySKU["N1"].Price)
	require.Equal(t, 6.16, store.bySKU["W1"].CostWithVAT)
}

func TestSyncRefusesErrorsAndMissingVAT(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	res, err := svc.Preview(ctx, []CandidateRow{
		row(2, "N1", "Lamp", "10", "0.3", "", "12"),
		row(3, "X1", "Widget", "5", "", "", "12"),
	}, Options{})
	require.NoError(t, err)
	_, err = svc.Sync(ctx, res)
	require.ErrorIs(t, err, ErrErrorsPresent)

	res, err = svc.Preview(ctx, []CandidateRow{row(2, "N1", "Lamp", "10", "0.3", "", "")}, Options{})
	require.NoError(t, err)
	_, err = svc.Sync(ctx, res)
	require.ErrorIs(t, err, ErrVATFallbackRequired)
	require.Zero(t, store.batches)
	require.Empty(t, store.bySKU)
}

func TestSyncStaleSnapshotConflicts(t *testing.T) {
	store := newMemoryStore(products.Product{SKU: "W1", Name: "Widget", Cost: 5, Margin: ptr(0.3), VATPercentage: ptr(12)})
	svc := NewService(store, nil)
	ctx := context.Background()

	res, err := svc.Preview(ctx, []CandidateRow{
		row(2, "N1", "Lamp", "10", "0.3", "", "12"),
		row(3, "W1", "Widget", "6", "", "", "12"),
	}, Options{})
	require.NoError(t, err)

	concurrent := store.bySKU["W1"]
	concurrent.UpdatedAt = concurrent.UpdatedAt.Add(time.Minute)
	store.bySKU["W1"] = concurrent

	_, err = svc.Sync(ctx, res)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.ErrorIs(t, err, products.ErrStaleProduct)
	_, inserted := store.bySKU["N1"]
	require.False(t, inserted)
}

func TestSyncStoreFailureSurfaces(t *testing.T) {
	store := newMemoryStore()
	store.failure = shared.Transient(errors.New("connection reset"))
	svc := NewService(store, nil)

	res := Reconcile([]CandidateRow{row(2, "N1", "Lamp", "10", "0.3", "", "12")}, Snapshot{}, Options{})
	_, err := svc.Sync(context.Background(), res)
	require.True(t, shared.Retryable(err))
}

func TestSyncNothingToWrite(t *testing.T) {
	store := newMemoryStore(products.Product{SKU: "W1", Name: "Widget", Cost: 5, VATPercentage: ptr(12)})
	svc := NewService(store, nil)
	res, err := svc.Preview(context.Background(), []CandidateRow{row(2, "W1", "Widget", "5", "", "", "12")}, Options{})
	require.NoError(t, err)
	report, err := svc.Sync(context.Background(), res)
	require.NoError(t, err)
	require.Zero(t, report.Inserted+report.Updated)
	require.Zero(t, store.batches)
}

func TestExportPagesThroughStore(t *testing.T) {
	var items []products.Product
	for _, sku := range []string{"C3", "A1", "B2"} {
		items = append(items, products.Product{SKU: sku, Name: "Item " + sku, Cost: 1, Category: "misc"})
	}
	items = append(items, products.Product{SKU: "Z9", Name: "Other", Cost: 2, Category: "other"})
	svc := NewService(newMemoryStore(items...), nil)

	rows, err := svc.Export(context.Background(), "misc")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, "A1", rows[1][0])
	require.Equal(t, "C3", rows[3][0])
}
