package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/dropship-ops/opsconsole/internal/accounting"
	"github.com/dropship-ops/opsconsole/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListStockLevels(ctx context.Context, productID int64) ([]StockLevel, error)
	GlobalStock(ctx context.Context, productID int64) (int64, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]MovementRecord, error)
	StockDiscrepancies(ctx context.Context) ([]StockDiscrepancy, error)
}

// TxRepository exposes the writes of one atomic unit.
type TxRepository interface {
	ClaimIdempotencyKey(ctx context.Context, key, module string) error
	// GetStockLevelForUpdate locks the level of a key, creating a zero level when missing.
	// The lock is held until the unit ends.
	GetStockLevelForUpdate(ctx context.Context, key StockKey) (StockLevel, error)
	UpsertStockLevel(ctx context.Context, level StockLevel) (StockLevel, error)
	InsertMovement(ctx context.Context, m MovementRecord) (MovementRecord, error)
	// Ledger returns the ledger writes bound to the same unit.
	Ledger() accounting.TxRepository
}

// LedgerPoster posts ledger transactions inside a unit owned by the caller.
type LedgerPoster interface {
	CreateTransactionWithin(ctx context.Context, tx accounting.TxRepository, input accounting.CreateTransactionInput) (accounting.Transaction, error)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// InventoryAccountID is debited by settlements that name no inventory account.
	InventoryAccountID int64
}

// Service coordinates inventory operations.
type Service struct {
	repo     RepositoryPort
	ledger   LedgerPoster
	audit    shared.AuditPort
	logger   *slog.Logger
	recorder shared.OperationRecorder
	cfg      ServiceConfig
	reads    singleflight.Group
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger LedgerPoster, audit shared.AuditPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, audit: audit, logger: logger, recorder: shared.NopRecorder{}, cfg: cfg}
}

// WithRecorder attaches an operation recorder.
func (s *Service) WithRecorder(r shared.OperationRecorder) {
	if r != nil {
		s.recorder = r
	}
}

// RecordMovement applies one signed quantity change and appends it to the movement log.
// An outbound change larger than the stock on hand is rejected and nothing is written.
func (s *Service) RecordMovement(ctx context.Context, input MovementInput) (MovementRecord, StockLevel, error) {
	var (
		record MovementRecord
		level  StockLevel
	)
	err := input.Validate()
	if err == nil {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if input.IdempotencyKey != "" {
				if err := tx.ClaimIdempotencyKey(ctx, input.IdempotencyKey, "inventory"); err != nil {
					return err
				}
			}
			key := StockKey{ProductID: input.ProductID, WarehouseID: input.WarehouseID}
			current, err := tx.GetStockLevelForUpdate(ctx, key)
			if err != nil {
				return err
			}
			level, record, err = apply(ctx, tx, current, MovementRecord{
				ProductID:      input.ProductID,
				WarehouseID:    input.WarehouseID,
				QuantityChange: input.QuantityChange,
				Reason:         input.Reason,
				ReferenceType:  input.ReferenceType,
				ReferenceID:    input.ReferenceID,
				UnitCost:       input.UnitCost,
				UserID:         input.UserID,
			}, 0)
			return err
		})
	}
	s.recorder.RecordOperation("inventory.record_movement", err)
	if err != nil {
		return MovementRecord{}, StockLevel{}, err
	}
	s.recordAudit(ctx, input.UserID, "inventory.movement", strconv.FormatInt(record.ID, 10), map[string]any{
		"product_id":      record.ProductID,
		"warehouse_id":    record.WarehouseID,
		"quantity_change": record.QuantityChange,
		"reason":          record.Reason,
	})
	return record, level, nil
}

// RecordBatchMovement applies several items to one warehouse as a single unit. Any failing
// item aborts the whole batch. With a settlement the matching ledger transaction is posted
// inside the same unit.
func (s *Service) RecordBatchMovement(ctx context.Context, input BatchInput) (BatchResult, error) {
	var result BatchResult
	err := input.Validate()
	var settlement *accounting.CreateTransactionInput
	if err == nil && input.Settlement != nil {
		settlement, err = s.settlementInput(input)
	}
	if err == nil {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if input.IdempotencyKey != "" {
				if err := tx.ClaimIdempotencyKey(ctx, input.IdempotencyKey, "inventory"); err != nil {
					return err
				}
			}
			levels, err := lockKeys(ctx, tx, batchKeys(input))
			if err != nil {
				return err
			}
			result = BatchResult{}
			for idx, item := range input.Items {
				key := StockKey{ProductID: item.ProductID, WarehouseID: input.WarehouseID}
				cost := item.UnitCostWithVAT
				next, record, err := apply(ctx, tx, levels[key], MovementRecord{
					ProductID:      item.ProductID,
					WarehouseID:    input.WarehouseID,
					QuantityChange: item.QuantityChange,
					Reason:         input.Reason,
					ReferenceType:  input.ReferenceType,
					ReferenceID:    input.ReferenceID,
					UnitCost:       &cost,
					UserID:         input.UserID,
				}, idx+1)
				if err != nil {
					return err
				}
				levels[key] = next
				result.Movements = append(result.Movements, record)
			}
			result.Levels = sortedLevels(levels)
			if settlement == nil {
				return nil
			}
			if s.ledger == nil {
				return errors.New("inventory: ledger not configured")
			}
			txn, err := s.ledger.CreateTransactionWithin(ctx, tx.Ledger(), *settlement)
			if err != nil {
				return fmt.Errorf("inventory: settlement: %w", err)
			}
			result.Transaction = &LedgerRef{ID: txn.ID, Amount: txn.Lines[0].Debit}
			return nil
		})
	}
	s.recorder.RecordOperation("inventory.record_batch", err)
	if err != nil {
		return BatchResult{}, err
	}
	meta := map[string]any{
		"warehouse_id": input.WarehouseID,
		"items":        len(input.Items),
		"reason":       input.Reason,
	}
	if result.Transaction != nil {
		meta["ledger_transaction_id"] = result.Transaction.ID
	}
	s.recordAudit(ctx, input.UserID, "inventory.batch", input.ReferenceID, meta)
	return result, nil
}

// SettlementAmount returns Σ quantity × unit cost rounded to cents.
func SettlementAmount(items []BatchItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(decimal.NewFromInt(item.QuantityChange).Mul(decimal.NewFromFloat(item.UnitCostWithVAT)))
	}
	return total.Round(accounting.MoneyPlaces)
}

func (s *Service) settlementInput(input BatchInput) (*accounting.CreateTransactionInput, error) {
	st := input.Settlement
	inventoryAccount := st.InventoryAccountID
	if inventoryAccount == 0 {
		inventoryAccount = s.cfg.InventoryAccountID
	}
	if st.PaymentAccountID <= 0 || inventoryAccount <= 0 {
		return nil, shared.Validation(ErrSettlementAccount, shared.Detail{Field: "settlement", Value: fmt.Sprintf("payment %d inventory %d", st.PaymentAccountID, inventoryAccount), Expected: "payment and inventory account ids"})
	}
	amount := SettlementAmount(input.Items).InexactFloat64()
	description := st.Description
	if description == "" {
		description = fmt.Sprintf("Stock purchase into warehouse %d", input.WarehouseID)
	}
	return &accounting.CreateTransactionInput{
		Description:   description,
		ReferenceType: accounting.ReferencePurchase,
		OrderRef:      input.ReferenceID,
		UserID:        input.UserID,
		Lines: []accounting.LineInput{
			{AccountID: inventoryAccount, Debit: amount},
			{AccountID: st.PaymentAccountID, Credit: amount},
		},
	}, nil
}

// Transfer moves stock between warehouses: the outbound and inbound legs commit together.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	var result TransferResult
	err := input.Validate()
	if err == nil {
		ref := input.ReferenceID
		if ref == "" {
			ref = uuid.NewString()
		}
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if input.IdempotencyKey != "" {
				if err := tx.ClaimIdempotencyKey(ctx, input.IdempotencyKey, "inventory"); err != nil {
					return err
				}
			}
			from := StockKey{ProductID: input.ProductID, WarehouseID: input.FromWarehouseID}
			to := StockKey{ProductID: input.ProductID, WarehouseID: input.ToWarehouseID}
			levels, err := lockKeys(ctx, tx, []StockKey{from, to})
			if err != nil {
				return err
			}
			result.From, result.Out, err = apply(ctx, tx, levels[from], MovementRecord{
				ProductID:      input.ProductID,
				WarehouseID:    input.FromWarehouseID,
				QuantityChange: -input.Quantity,
				Reason:         ReasonTransferOut,
				ReferenceType:  accounting.ReferenceTransfer,
				ReferenceID:    ref,
				UserID:         input.UserID,
			}, 0)
			if err != nil {
				return err
			}
			result.To, result.In, err = apply(ctx, tx, levels[to], MovementRecord{
				ProductID:      input.ProductID,
				WarehouseID:    input.ToWarehouseID,
				QuantityChange: input.Quantity,
				Reason:         ReasonTransferIn,
				ReferenceType:  accounting.ReferenceTransfer,
				ReferenceID:    ref,
				UserID:         input.UserID,
			}, 0)
			return err
		})
	}
	s.recorder.RecordOperation("inventory.transfer", err)
	if err != nil {
		return TransferResult{}, err
	}
	s.recordAudit(ctx, input.UserID, "inventory.transfer", result.Out.ReferenceID, map[string]any{
		"product_id": input.ProductID,
		"from":       input.FromWarehouseID,
		"to":         input.ToWarehouseID,
		"quantity":   input.Quantity,
	})
	return result, nil
}

// GetGlobalStock returns the stock of a product summed over every warehouse. Concurrent
// reads of the same product share one query.
func (s *Service) GetGlobalStock(ctx context.Context, productID int64) (int64, error) {
	if productID <= 0 {
		return 0, shared.Validation(ErrInvalidKey, shared.Detail{Field: "product_id", Value: productID, Expected: "positive id"})
	}
	readCtx := context.WithoutCancel(ctx)
	ch := s.reads.DoChan(strconv.FormatInt(productID, 10), func() (any, error) {
		return s.repo.GlobalStock(readCtx, productID)
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int64), nil
	}
}

// ListStockLevels lists levels of one product, or of every product when productID is zero.
func (s *Service) ListStockLevels(ctx context.Context, productID int64) ([]StockLevel, error) {
	return s.repo.ListStockLevels(ctx, productID)
}

// ListMovements lists movements newest first.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]MovementRecord, error) {
	return s.repo.ListMovements(ctx, filter.Normalize())
}

// VerifyStock compares every level with the sum of its movements.
func (s *Service) VerifyStock(ctx context.Context) ([]StockDiscrepancy, error) {
	started := time.Now()
	found, err := s.repo.StockDiscrepancies(ctx)
	s.recorder.RecordOperation("inventory.verify", err)
	if err != nil {
		return nil, err
	}
	for _, d := range found {
		s.logger.Error("stock level drift",
			slog.Int64("product_id", d.ProductID),
			slog.Int64("warehouse_id", d.WarehouseID),
			slog.Int64("level", d.Level),
			slog.Int64("movement_sum", d.MovementSum),
		)
	}
	s.logger.Info("stock verified", slog.Int("discrepancies", len(found)), slog.Duration("took", time.Since(started)))
	return found, nil
}

// apply checks and writes one movement against a locked level.
func apply(ctx context.Context, tx TxRepository, current StockLevel, m MovementRecord, row int) (StockLevel, MovementRecord, error) {
	next := current.CurrentStock + m.QuantityChange
	if m.QuantityChange > 0 && next < current.CurrentStock {
		return StockLevel{}, MovementRecord{}, shared.Validation(ErrInvalidQuantity, shared.Detail{
			Row:      row,
			Field:    "quantity_change",
			Value:    m.QuantityChange,
			Expected: fmt.Sprintf("at most %d more units of product %d warehouse %d", math.MaxInt64-current.CurrentStock, m.ProductID, m.WarehouseID),
		})
	}
	if m.QuantityChange < 0 && next < 0 {
		return StockLevel{}, MovementRecord{}, shared.Validation(ErrInsufficientStock, shared.Detail{
			Row:      row,
			Field:    "quantity_change",
			Value:    m.QuantityChange,
			Expected: fmt.Sprintf("at most %d out of product %d warehouse %d", current.CurrentStock, m.ProductID, m.WarehouseID),
		})
	}
	current.CurrentStock = next
	level, err := tx.UpsertStockLevel(ctx, current)
	if err != nil {
		return StockLevel{}, MovementRecord{}, err
	}
	record, err := tx.InsertMovement(ctx, m)
	if err != nil {
		return StockLevel{}, MovementRecord{}, err
	}
	return level, record, nil
}

// lockKeys locks each distinct key once, in ascending key order.
func lockKeys(ctx context.Context, tx TxRepository, keys []StockKey) (map[StockKey]StockLevel, error) {
	sorted := make([]StockKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
	levels := make(map[StockKey]StockLevel, len(sorted))
	for _, key := range sorted {
		if _, ok := levels[key]; ok {
			continue
		}
		level, err := tx.GetStockLevelForUpdate(ctx, key)
		if err != nil {
			return nil, err
		}
		levels[key] = level
	}
	return levels, nil
}

func batchKeys(input BatchInput) []StockKey {
	keys := make([]StockKey, 0, len(input.Items))
	for _, item := range input.Items {
		keys = append(keys, StockKey{ProductID: item.ProductID, WarehouseID: input.WarehouseID})
	}
	return keys
}

func sortedLevels(levels map[StockKey]StockLevel) []StockLevel {
	out := make([]StockLevel, 0, len(levels))
	for _, level := range levels {
		out = append(out, level)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out
}

func (s *Service) recordAudit(ctx context.Context, actor, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if id == "" {
		id = "-"
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "stock_movement",
		EntityID: id,
		Meta:     meta,
		At:       time.Now(),
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
