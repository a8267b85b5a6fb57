package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropship-ops/opsconsole/internal/accounting"
	"github.com/dropship-ops/opsconsole/internal/catalog"
	"github.com/dropship-ops/opsconsole/internal/inventory"
	"github.com/dropship-ops/opsconsole/internal/masterdata/products"
	"github.com/dropship-ops/opsconsole/internal/observability"
	"github.com/dropship-ops/opsconsole/internal/platform/db"
	"github.com/dropship-ops/opsconsole/internal/sales/commission"
	"github.com/dropship-ops/opsconsole/internal/shared"
	"github.com/dropship-ops/opsconsole/internal/store/memstore"
)

// Services are the domain services bound to one store driver.
type Services struct {
	Ledger      *accounting.Service
	Inventory   *inventory.Service
	Products    *products.Service
	Catalog     *catalog.Service
	Commissions *commission.Service

	// Pool is nil for the memory driver.
	Pool        *pgxpool.Pool
	Idempotency *shared.IdempotencyStore
}

// Close releases the store.
func (s *Services) Close() {
	if s != nil && s.Pool != nil {
		s.Pool.Close()
	}
}

// NewServices opens the configured store and builds every service on it. Operations are
// counted on metrics when it is non-nil.
func NewServices(ctx context.Context, cfg *Config, logger *slog.Logger, metrics *observability.Metrics) (*Services, error) {
	var (
		ledgerRepo    accounting.RepositoryPort
		inventoryRepo inventory.RepositoryPort
		productRepo   products.Repository
		orders        commission.OrderSource
		audit         shared.AuditPort
		out           = &Services{}
	)
	switch cfg.StoreDriver {
	case DriverMemory:
		store := memstore.New(memstore.WithTimeout(cfg.StoreTimeout))
		ledgerRepo = store.Ledger()
		inventoryRepo = store.Inventory()
		productRepo = store.Products()
		orders = store.Orders()
		audit = shared.SlogAudit{Logger: logger}
	case DriverPostgres:
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		out.Pool = pool
		out.Idempotency = shared.NewIdempotencyStore(pool)
		ledgerRepo = accounting.NewRepository(pool, cfg.StoreTimeout)
		inventoryRepo = inventory.NewRepository(pool, cfg.StoreTimeout)
		productRepo = products.NewRepository(pool, cfg.StoreTimeout)
		orders = commission.NewRepository(pool)
		audit = shared.NewAuditLogger(pool)
	default:
		return nil, fmt.Errorf("app: unsupported store driver %q", cfg.StoreDriver)
	}

	out.Ledger = accounting.NewService(ledgerRepo, audit, logger)
	out.Inventory = inventory.NewService(inventoryRepo, out.Ledger, audit, logger, inventory.ServiceConfig{
		InventoryAccountID: cfg.InventoryAccountID,
	})
	out.Products = products.NewService(productRepo, logger)
	out.Catalog = catalog.NewService(out.Products, logger)
	out.Commissions = commission.NewService(orders, logger)
	if metrics != nil {
		out.Ledger.WithRecorder(metrics)
		out.Inventory.WithRecorder(metrics)
		out.Catalog.WithRecorder(metrics)
	}
	return out, nil
}
