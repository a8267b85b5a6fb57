package products

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dropship-ops/opsconsole/internal/masterdata/shared"
	coreshared "github.com/dropship-ops/opsconsole/internal/shared"
)

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Product, int, error) {
	return s.repo.List(ctx, filters.Normalize())
}

func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, coreshared.Validation(errors.New("invalid product ID"), coreshared.Detail{Field: "id", Value: id})
	}
	p, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrProductNotFound) {
		return Product{}, coreshared.NotFound(err)
	}
	return p, err
}

// FindBySKUs normalises skus and loads the matching products keyed by normalised SKU.
func (s *Service) FindBySKUs(ctx context.Context, skus []string) (map[string]Product, error) {
	seen := make(map[string]struct{}, len(skus))
	normalized := make([]string, 0, len(skus))
	for _, sku := range skus {
		sku = NormalizeSKU(sku)
		if _, ok := seen[sku]; ok || sku == "" {
			continue
		}
		seen[sku] = struct{}{}
		normalized = append(normalized, sku)
	}
	return s.repo.FindBySKUs(ctx, normalized)
}

// ApplyBatch validates and commits a batch atomically.
func (s *Service) ApplyBatch(ctx context.Context, batch Batch) (BatchResult, error) {
	if err := ValidateBatch(batch); err != nil {
		return BatchResult{}, err
	}
	for i := range batch.Inserts {
		batch.Inserts[i].SKU = NormalizeSKU(batch.Inserts[i].SKU)
	}
	for i := range batch.Updates {
		batch.Updates[i].SKU = NormalizeSKU(batch.Updates[i].SKU)
	}
	result, err := s.repo.ApplyBatch(ctx, batch)
	if err != nil {
		return BatchResult{}, err
	}
	s.logger.Info("product batch applied", slog.Int("inserted", len(result.Inserted)), slog.Int("updated", len(result.Updated)))
	return result, nil
}
