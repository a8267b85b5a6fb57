package memstore

import (
	"context"
	"errors"
	"slices"
	"sort"

	"github.com/dropship-ops/opsconsole/internal/accounting"
	"github.com/dropship-ops/opsconsole/internal/inventory"
)

// errKeyNotHeld guards writes to a level the unit has not locked.
var errKeyNotHeld = errors.New("memstore: stock level written without lock")

// InventoryRepo implements inventory.RepositoryPort.
type InventoryRepo struct {
	s *Store
}

var _ inventory.RepositoryPort = (*InventoryRepo)(nil)

// WithTx implements inventory.RepositoryPort.
func (r *InventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.s.run(ctx, func(ctx context.Context, u *unit) error { return fn(ctx, u) })
}

func (r *InventoryRepo) ListStockLevels(ctx context.Context, productID int64) ([]inventory.StockLevel, error) {
	r.s.mu.RLock()
	var out []inventory.StockLevel
	for key, level := range r.s.levels {
		if productID == 0 || key.ProductID == productID {
			out = append(out, level)
		}
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out, nil
}

func (r *InventoryRepo) GlobalStock(ctx context.Context, productID int64) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var total int64
	for key, level := range r.s.levels {
		if key.ProductID == productID {
			total += level.CurrentStock
		}
	}
	return total, nil
}

// ListMovements returns matching movements newest first.
func (r *InventoryRepo) ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.MovementRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []inventory.MovementRecord
	for i := len(r.s.movements) - 1; i >= 0; i-- {
		m := r.s.movements[i]
		switch {
		case filter.ProductID != 0 && m.ProductID != filter.ProductID,
			filter.WarehouseID != 0 && m.WarehouseID != filter.WarehouseID,
			!filter.From.IsZero() && m.CreatedAt.Before(filter.From),
			!filter.To.IsZero() && m.CreatedAt.After(filter.To):
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (r *InventoryRepo) StockDiscrepancies(ctx context.Context) ([]inventory.StockDiscrepancy, error) {
	r.s.mu.RLock()
	sums := make(map[inventory.StockKey]int64)
	for _, m := range r.s.movements {
		sums[inventory.StockKey{ProductID: m.ProductID, WarehouseID: m.WarehouseID}] += m.QuantityChange
	}
	var out []inventory.StockDiscrepancy
	for key, level := range r.s.levels {
		if level.CurrentStock != sums[key] {
			out = append(out, inventory.StockDiscrepancy{ProductID: key.ProductID, WarehouseID: key.WarehouseID, Level: level.CurrentStock, MovementSum: sums[key]})
		}
	}
	for key, sum := range sums {
		if _, ok := r.s.levels[key]; !ok && sum != 0 {
			out = append(out, inventory.StockDiscrepancy{ProductID: key.ProductID, WarehouseID: key.WarehouseID, MovementSum: sum})
		}
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a := inventory.StockKey{ProductID: out[i].ProductID, WarehouseID: out[i].WarehouseID}
		return a.Less(inventory.StockKey{ProductID: out[j].ProductID, WarehouseID: out[j].WarehouseID})
	})
	return out, nil
}

func (u *unit) holds(key inventory.StockKey) bool {
	return slices.Contains(u.held, key)
}

func (u *unit) GetStockLevelForUpdate(ctx context.Context, key inventory.StockKey) (inventory.StockLevel, error) {
	if !u.holds(key) {
		if err := u.s.lockKey(ctx, key); err != nil {
			return inventory.StockLevel{}, classify(err)
		}
		u.held = append(u.held, key)
	}
	if level, ok := u.levels[key]; ok {
		return level, nil
	}
	u.s.mu.RLock()
	level, ok := u.s.levels[key]
	u.s.mu.RUnlock()
	if !ok {
		level = inventory.StockLevel{ProductID: key.ProductID, WarehouseID: key.WarehouseID, UpdatedAt: u.s.clock()}
	}
	return level, nil
}

func (u *unit) UpsertStockLevel(ctx context.Context, level inventory.StockLevel) (inventory.StockLevel, error) {
	if !u.holds(level.Key()) {
		return inventory.StockLevel{}, errKeyNotHeld
	}
	level.UpdatedAt = u.s.clock()
	u.levels[level.Key()] = level
	return level, nil
}

func (u *unit) InsertMovement(ctx context.Context, m inventory.MovementRecord) (inventory.MovementRecord, error) {
	m.ID = u.s.movementSeq.Add(1)
	m.CreatedAt = u.s.clock()
	u.movements = append(u.movements, m)
	return m, nil
}

// Ledger returns the unit itself; ledger and stock writes commit together.
func (u *unit) Ledger() accounting.TxRepository { return u }
