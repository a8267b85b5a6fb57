package products

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropship-ops/opsconsole/internal/masterdata/shared"
	coreshared "github.com/dropship-ops/opsconsole/internal/shared"
)

type fakeRepo struct {
	bySKU   map[string]Product
	applied []Batch
	asked   []string
}

func (f *fakeRepo) List(ctx context.Context, filters shared.ListFilters) ([]Product, int, error) {
	return nil, 0, nil
}

func (f *fakeRepo) Get(ctx context.Context, id int64) (Product, error) {
	for _, p := range f.bySKU {
		if p.ID == id {
			return p, nil
		}
	}
	return Product{}, ErrProductNotFound
}

func (f *fakeRepo) FindBySKUs(ctx context.Context, skus []string) (map[string]Product, error) {
	f.asked = skus
	out := make(map[string]Product)
	for _, sku := range skus {
		if p, ok := f.bySKU[sku]; ok {
			out[sku] = p
		}
	}
	return out, nil
}

func (f *fakeRepo) ApplyBatch(ctx context.Context, batch Batch) (BatchResult, error) {
	f.applied = append(f.applied, batch)
	return BatchResult{Inserted: batch.Inserts, Updated: batch.Updates}, nil
}

func TestFindBySKUsNormalisesAndDedupes(t *testing.T) {
	repo := &fakeRepo{bySKU: map[string]Product{"W1": {ID: 1, SKU: "W1"}}}
	svc := NewService(repo, nil)

	found, err := svc.FindBySKUs(context.Background(), []string{" w1", "W1", "", "x9"})
	require.NoError(t, err)
	require.Equal(t, []string{"W1", "X9"}, repo.asked)
	require.Len(t, found, 1)
	require.Equal(t, int64(1), found["W1"].ID)
}

func TestGetMapsMissingToNotFound(t *testing.T) {
	svc := NewService(&fakeRepo{}, nil)

	_, err := svc.Get(context.Background(), 7)
	require.ErrorIs(t, err, ErrProductNotFound)
	require.ErrorIs(t, err, coreshared.ErrNotFound)

	_, err = svc.Get(context.Background(), 0)
	require.ErrorIs(t, err, coreshared.ErrValidation)
}

func TestApplyBatchValidatesBeforeWriting(t *testing.T) {
	margin := 0.3
	cases := []struct {
		name  string
		batch Batch
		row   int
		field string
	}{
		{"blank sku", Batch{Inserts: []Product{{SKU: "  ", Name: "Widget"}}}, 1, "sku"},
		{"negative cost", Batch{Inserts: []Product{{SKU: "a", Name: "A"}, {SKU: "b", Name: "B", Cost: -1}}}, 2, "cost"},
		{"nan margin", Batch{Inserts: []Product{{SKU: "a", Name: "A", Margin: ptr(math.NaN())}}}, 1, "margin"},
		{"update without id", Batch{Inserts: []Product{{SKU: "a", Name: "A", Margin: &margin}}, Updates: []Product{{SKU: "b", Name: "B"}}}, 2, "id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeRepo{}
			_, err := NewService(repo, nil).ApplyBatch(context.Background(), tc.batch)
			require.ErrorIs(t, err, coreshared.ErrValidation)
			detail, ok := coreshared.DetailOf(err)
			require.True(t, ok)
			require.Equal(t, tc.row, detail.Row)
			require.Equal(t, tc.field, detail.Field)
			require.Empty(t, repo.applied)
		})
	}
}

func TestApplyBatchNormalisesSKUs(t *testing.T) {
	repo := &fakeRepo{}
	res, err := NewService(repo, nil).ApplyBatch(context.Background(), Batch{
		Inserts: []Product{{SKU: " lmp-1 ", Name: "Lámpara"}},
		Updates: []Product{{ID: 3, SKU: "aud-2", Name: "Audífonos"}},
	})
	require.NoError(t, err)
	require.Equal(t, "LMP-1", res.Inserted[0].SKU)
	require.Equal(t, "AUD-2", res.Updated[0].SKU)
}

func TestListFiltersNormalize(t *testing.T) {
	f := shared.ListFilters{Page: 0, Limit: 10_000, SortDir: "sideways"}.Normalize()
	require.Equal(t, shared.DefaultPage, f.Page)
	require.Equal(t, shared.MaxLimit, f.Limit)
	require.Equal(t, shared.SortAsc, f.SortDir)
	require.Equal(t, 1000, shared.ListFilters{Page: 3, Limit: 500}.Offset())
}

func ptr(v float64) *float64 { return &v }
