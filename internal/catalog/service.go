package catalog

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dropship-ops/opsconsole/internal/masterdata/products"
	mdshared "github.com/dropship-ops/opsconsole/internal/masterdata/shared"
	"github.com/dropship-ops/opsconsole/internal/shared"
)

// Store is the product master data boundary used by the reconciler.
type Store interface {
	FindBySKUs(ctx context.Context, skus []string) (map[string]products.Product, error)
	ApplyBatch(ctx context.Context, batch products.Batch) (products.BatchResult, error)
	List(ctx context.Context, filters mdshared.ListFilters) ([]products.Product, int, error)
}

// SyncReport summarises a committed sync.
type SyncReport struct {
	BatchID  string               `json:"batch_id"`
	Inserted int                  `json:"inserted"`
	Updated  int                  `json:"updated"`
	Products products.BatchResult `json:"products"`
}

// Service reconciles spreadsheet rows with product master data.
type Service struct {
	store    Store
	logger   *slog.Logger
	recorder shared.OperationRecorder
}

// NewService constructs the catalog service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, recorder: shared.NopRecorder{}}
}

// WithRecorder attaches an operation recorder.
func (s *Service) WithRecorder(r shared.OperationRecorder) {
	if r != nil {
		s.recorder = r
	}
}

// Snapshot loads the products matching skus.
func (s *Service) Snapshot(ctx context.Context, skus []string) (Snapshot, error) {
	found, err := s.store.FindBySKUs(ctx, skus)
	if err != nil {
		return nil, err
	}
	return Snapshot(found), nil
}

// Preview reconciles rows against the current master data without writing anything.
func (s *Service) Preview(ctx context.Context, rows []CandidateRow, opts Options) (Result, error) {
	snap, err := s.Snapshot(ctx, SKUs(rows))
	if err != nil {
		return Result{}, err
	}
	return Reconcile(rows, snap, opts), nil
}

// Sync commits the new and modified buckets of a result as one batch. It refuses results
// with errors or with rows lacking VAT when no fallback was chosen.
func (s *Service) Sync(ctx context.Context, result Result) (SyncReport, error) {
	report, err := s.sync(ctx, result)
	s.recorder.RecordOperation("catalog.sync", err)
	return report, err
}

func (s *Service) sync(ctx context.Context, result Result) (SyncReport, error) {
	if err := result.Ready(); err != nil {
		return SyncReport{}, err
	}
	report := SyncReport{BatchID: uuid.NewString()}
	batch := BuildBatch(result)
	if batch.Empty() {
		return report, nil
	}
	applied, err := s.store.ApplyBatch(ctx, batch)
	if err != nil {
		s.logger.Warn("catalog sync rejected", slog.String("batch_id", report.BatchID), slog.Any("error", err))
		return SyncReport{}, err
	}
	report.Inserted = len(applied.Inserted)
	report.Updated = len(applied.Updated)
	report.Products = applied
	s.logger.Info("catalog synced", slog.String("batch_id", report.BatchID), slog.Int("inserted", report.Inserted), slog.Int("updated", report.Updated))
	return report, nil
}

// BuildBatch turns a result into the single write batch of a sync.
func BuildBatch(result Result) products.Batch {
	var batch products.Batch
	for _, n := range result.New {
		batch.Inserts = append(batch.Inserts, n.Product)
	}
	for _, m := range result.Modified {
		batch.Updates = append(batch.Updates, m.Next)
	}
	return batch
}

// Export renders every product, in SKU order, as spreadsheet rows.
func (s *Service) Export(ctx context.Context, category string) ([][]string, error) {
	var all []products.Product
	filters := mdshared.ListFilters{Page: 1, Limit: mdshared.MaxLimit, SortBy: "sku", Category: category}
	for {
		page, total, err := s.store.List(ctx, filters)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) == 0 || len(all) >= total {
			break
		}
		filters.Page++
	}
	return ExportRows(all), nil
}
