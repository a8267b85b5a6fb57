package inventory

import (
	"context"
	"maps"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropship-ops/opsconsole/internal/accounting"
	"github.com/dropship-ops/opsconsole/internal/shared"
)

type memoryRepo struct {
	levels    map[StockKey]StockLevel
	movements []MovementRecord
	keys      map[string]bool
	nextID    int64
	lockOrder []StockKey
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{levels: make(map[StockKey]StockLevel), keys: make(map[string]bool)}
}

// WithTx runs fn against a copy and keeps it only when fn succeeds.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	work := &memoryRepo{
		levels:    maps.Clone(r.levels),
		movements: append([]MovementRecord(nil), r.movements...),
		keys:      maps.Clone(r.keys),
		nextID:    r.nextID,
	}
	if err := fn(ctx, &memoryTx{repo: work}); err != nil {
		return err
	}
	r.levels, r.movements, r.keys, r.nextID = work.levels, work.movements, work.keys, work.nextID
	r.lockOrder = append(r.lockOrder, work.lockOrder...)
	return nil
}

func (r *memoryRepo) ListStockLevels(ctx context.Context, productID int64) ([]StockLevel, error) {
	var out []StockLevel
	for _, l := range r.levels {
		if productID == 0 || l.ProductID == productID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memoryRepo) GlobalStock(ctx context.Context, productID int64) (int64, error) {
	var total int64
	for _, l := range r.levels {
		if l.ProductID == productID {
			total += l.CurrentStock
		}
	}
	return total, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]MovementRecord, error) {
	return append([]MovementRecord(nil), r.movements...), nil
}

func (r *memoryRepo) StockDiscrepancies(ctx context.Context) ([]StockDiscrepancy, error) {
	sums := make(map[StockKey]int64)
	for _, m := range r.movements {
		sums[StockKey{m.ProductID, m.WarehouseID}] += m.QuantityChange
	}
	var out []StockDiscrepancy
	for key, l := range r.levels {
		if sums[key] != l.CurrentStock {
			out = append(out, StockDiscrepancy{ProductID: key.ProductID, WarehouseID: key.WarehouseID, Level: l.CurrentStock, MovementSum: sums[key]})
		}
	}
	return out, nil
}

func (tx *memoryTx) ClaimIdempotencyKey(ctx context.Context, key, module string) error {
	if tx.repo.keys[key] {
		return shared.Precondition(shared.ErrDuplicateRequest, shared.Detail{Field: "idempotency_key", Value: key})
	}
	tx.repo.keys[key] = true
	return nil
}

func (tx *memoryTx) GetStockLevelForUpdate(ctx context.Context, key StockKey) (StockLevel, error) {
	tx.repo.lockOrder = append(tx.repo.lockOrder, key)
	if l, ok := tx.repo.levels[key]; ok {
		return l, nil
	}
	return StockLevel{ProductID: key.ProductID, WarehouseID: key.WarehouseID}, nil
}

func (tx *memoryTx) UpsertStockLevel(ctx context.Context, level StockLevel) (StockLevel, error) {
	level.UpdatedAt = time.Now()
	tx.repo.levels[level.Key()] = level
	return level, nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m MovementRecord) (MovementRecord, error) {
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	m.CreatedAt = time.Now()
	tx.repo.movements = append(tx.repo.movements, m)
	return m, nil
}

func (tx *memoryTx) Ledger() accounting.TxRepository { return nil }

type stubLedger struct {
	inputs []accounting.CreateTransactionInput
	err    error
}

func (l *stubLedger) CreateTransactionWithin(ctx context.Context, _ accounting.TxRepository, in accounting.CreateTransactionInput) (accounting.Transaction, error) {
	if l.err != nil {
		return accounting.Transaction{}, l.err
	}
	l.inputs = append(l.inputs, in)
	lines := make([]accounting.TransactionLine, 0, len(in.Lines))
	for _, line := range in.Lines {
		lines = append(lines, accounting.TransactionLine{AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit})
	}
	return accounting.Transaction{ID: int64(len(l.inputs)), Lines: lines}, nil
}

func seed(t *testing.T, svc *Service, productID, warehouseID, qty int64) {
	t.Helper()
	_, _, err := svc.RecordMovement(context.Background(), MovementInput{ProductID: productID, WarehouseID: warehouseID, QuantityChange: qty, Reason: ReasonPurchase})
	require.NoError(t, err)
}

func TestRecordMovementRejectsInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, ServiceConfig{})
	ctx := context.Background()
	seed(t, svc, 1, 1, 4)

	_, _, err := svc.RecordMovement(ctx, MovementInput{ProductID: 1, WarehouseID: 1, QuantityChange: -10, Reason: ReasonSale})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.ErrorIs(t, err, shared.ErrValidation)

	levels, err := svc.ListStockLevels(ctx, 1)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	require.Equal(t, int64(4), levels[0].CurrentStock)
	require.Len(t, repo.movements, 1)
}

func TestRecordMovementAppliesSignedChange(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, ServiceConfig{})
	seed(t, svc, 1, 1, 10)

	record, level, err := svc.RecordMovement(context.Background(), MovementInput{ProductID: 1, WarehouseID: 1, QuantityChange: -3, Reason: ReasonSale, ReferenceType: "Order", ReferenceID: "SO-9"})
	require.NoError(t, err)
	require.Equal(t, int64(7), level.CurrentStock)
	require.Equal(t, int64(-3), record.QuantityChange)
	require.Equal(t, "SO-9", record.ReferenceID)

	found, err := svc.VerifyStock(context.Background())
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestRecordMovementValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, _, err := svc.RecordMovement(ctx, MovementInput{ProductID: 1, WarehouseID: 1, QuantityChange: 0, Reason: ReasonSale})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = svc.RecordMovement(ctx, MovementInput{ProductID: 0, WarehouseID: 1, QuantityChange: 1, Reason: ReasonSale})
	require.ErrorIs(t, err, ErrInvalidKey)

	negative := -1.0
	_, _, err = svc.RecordMovement(ctx, MovementInput{ProductID: 1, WarehouseID: 1, QuantityChange: 1, Reason: ReasonPurchase, UnitCost: &negative})
	require.ErrorIs(t, err, ErrInvalidUnitCost)
}

func TestRecordMovementIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, ServiceConfig{})
	ctx := context.Background()
	in := MovementInput{ProductID: 1, WarehouseID: 1, QuantityChange: 5, Reason: ReasonPurchase, IdempotencyKey: "po-17"}

	_, _, err := svc.RecordMovement(ctx, in)
	require.NoError(t, err)
	_, _, err = svc.RecordMovement(ctx, in)
	require.ErrorIs(t, err, shared.ErrDuplicateRequest)

	total, err := svc.GetGlobalStock(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(5), total)
}

func TestBatchLocksKeysInAscendingOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, ServiceConfig{})

	_, err := svc.RecordBatchMovement(context.Background(), BatchInput{
		WarehouseID: 2,
		Reason:      ReasonPurchase,
		Items: []BatchItem{
			{ProductID: 30, QuantityChange: 1},
			{ProductID: 10, QuantityChange: 2},
			{ProductID: 20, QuantityChange: 3},
			{ProductID: 10, QuantityChange: 4},
		},
	})
	require.NoError(t, err)
	require.Equal(t, []StockKey{{10, 2}, {20, 2}, {30, 2}}, repo.lockOrder)
	require.Equal(t, int64(6), repo.levels[StockKey{10, 2}].CurrentStock)
	require.Len(t, repo.movements, 4)
}

func TestBatchFailureAbortsEveryItem(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, ServiceConfig{})
	seed(t, svc, 1, 1, 5)

	_, err := svc.RecordBatchMovement(context.Background(), BatchInput{
		WarehouseID: 1,
		Reason:      ReasonSale,
		Items: []BatchItem{
			{ProductID: 1, QuantityChange: -2},
			{ProductID: 2, QuantityChange: -1},
		},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	detail, ok := shared.DetailOf(err)
	require.True(t, ok)
	require.Equal(t, 2, detail.Row)

	require.Equal(t, int64(5), repo.levels[StockKey{1, 1}].CurrentStock)
	require.Len(t, repo.movements, 1)
}

func TestBatchSettlementPostsBalancedPurchase(t *testing.T) {
	repo := newMemoryRepo()
	ledger := &stubLedger{}
	svc := NewService(repo, ledger, nil, nil, ServiceConfig{InventoryAccountID: 7})

	result, err := svc.RecordBatchMovement(context.Background(), BatchInput{
		WarehouseID: 1,
		Reason:      ReasonPurchase,
		ReferenceID: "PO-1",
		Items: []BatchItem{
			{ProductID: 1, QuantityChange: 2, UnitCostWithVAT: 10.005},
			{ProductID: 2, QuantityChange: 3, UnitCostWithVAT: 1.1},
		},
		Settlement: &Settlement{PaymentAccountID: 3},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Transaction)
	require.InDelta(t, 23.31, result.Transaction.Amount, 1e-9)

	require.Len(t, ledger.inputs, 1)
	posted := ledger.inputs[0]
	require.Equal(t, accounting.ReferencePurchase, posted.ReferenceType)
	require.Equal(t, "PO-1", posted.OrderRef)
	require.Equal(t, []accounting.LineInput{
		{AccountID: 7, Debit: 23.31},
		{AccountID: 3, Credit: 23.31},
	}, posted.Lines)
}

func TestBatchSettlementFailureRollsBackStock(t *testing.T) {
	repo := newMemoryRepo()
	ledger := &stubLedger{err: shared.Validation(accounting.ErrUnknownAccount, shared.Detail{Row: 2})}
	svc := NewService(repo, ledger, nil, nil, ServiceConfig{InventoryAccountID: 7})

	_, err := svc.RecordBatchMovement(context.Background(), BatchInput{
		WarehouseID: 1,
		Reason:      ReasonPurchase,
		Items:       []BatchItem{{ProductID: 1, QuantityChange: 2, UnitCostWithVAT: 5}},
		Settlement:  &Settlement{PaymentAccountID: 99},
	})
	require.ErrorIs(t, err, accounting.ErrUnknownAccount)
	require.Empty(t, repo.levels)
	require.Empty(t, repo.movements)
}

func TestBatchSettlementRequiresAccounts(t *testing.T) {
	svc := NewService(newMemoryRepo(), &stubLedger{}, nil, nil, ServiceConfig{})
	_, err := svc.RecordBatchMovement(context.Background(), BatchInput{
		WarehouseID: 1,
		Reason:      ReasonPurchase,
		Items:       []BatchItem{{ProductID: 1, QuantityChange: 2, UnitCostWithVAT: 5}},
		Settlement:  &Settlement{PaymentAccountID: 3},
	})
	require.ErrorIs(t, err, ErrSettlementAccount)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTransfer(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, ServiceConfig{})
	ctx := context.Background()
	seed(t, svc, 1, 1, 20)

	result, err := svc.Transfer(ctx, TransferInput{ProductID: 1, FromWarehouseID: 1, ToWarehouseID: 2, Quantity: 5})
	require.NoError(t, err)
	require.Equal(t, int64(15), result.From.CurrentStock)
	require.Equal(t, int64(5), result.To.CurrentStock)
	require.Equal(t, result.Out.ReferenceID, result.In.ReferenceID)
	require.NotEmpty(t, result.Out.ReferenceID)

	_, err = svc.Transfer(ctx, TransferInput{ProductID: 1, FromWarehouseID: 1, ToWarehouseID: 2, Quantity: 50})
	require.ErrorIs(t, err, ErrInsufficientStock)

	total, err := svc.GetGlobalStock(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(20), total)

	_, err = svc.Transfer(ctx, TransferInput{ProductID: 1, FromWarehouseID: 1, ToWarehouseID: 1, Quantity: 1})
	require.ErrorIs(t, err, ErrSameWarehouse)
}

func TestVerifyStockReportsDrift(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, ServiceConfig{})
	seed(t, svc, 1, 1, 3)
	repo.levels[StockKey{1, 1}] = StockLevel{ProductID: 1, WarehouseID: 1, CurrentStock: 9}

	found, err := svc.VerifyStock(context.Background())
	require.NoError(t, err)
	require.Equal(t, []StockDiscrepancy{{ProductID: 1, WarehouseID: 1, Level: 9, MovementSum: 3}}, found)
}

func TestSettlementAmountRoundsToCents(t *testing.T) {
	amount := SettlementAmount([]BatchItem{{QuantityChange: 3, UnitCostWithVAT: 0.3333}})
	require.Equal(t, "1", amount.String())
}

func TestRecordMovementRejectsLevelOverflow(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, ServiceConfig{})
	seed(t, svc, 1, 1, math.MaxInt64)

	_, _, err := svc.RecordMovement(context.Background(), MovementInput{ProductID: 1, WarehouseID: 1, QuantityChange: 1, Reason: ReasonPurchase})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	require.ErrorIs(t, err, shared.ErrValidation)
	detail, ok := shared.DetailOf(err)
	require.True(t, ok)
	require.Equal(t, "quantity_change", detail.Field)

	require.Equal(t, int64(math.MaxInt64), repo.levels[StockKey{1, 1}].CurrentStock)
	require.Len(t, repo.movements, 1)
}

// gatedStock holds GlobalStock reads until release is closed.
type gatedStock struct {
	*memoryRepo
	started chan struct{}
	release chan struct{}
}

func (g *gatedStock) GlobalStock(ctx context.Context, productID int64) (int64, error) {
	select {
	case g.started <- struct{}{}:
	default:
	}
	<-g.release
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return g.memoryRepo.GlobalStock(ctx, productID)
}

func TestGlobalStockIgnoresCancelledSharedCaller(t *testing.T) {
	repo := newMemoryRepo()
	seed(t, NewService(repo, nil, nil, nil, ServiceConfig{}), 1, 1, 7)
	gated := &gatedStock{memoryRepo: repo, started: make(chan struct{}, 1), release: make(chan struct{})}
	svc := NewService(gated, nil, nil, nil, ServiceConfig{})

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.GetGlobalStock(first, 1)
		firstErr <- err
	}()
	<-gated.started

	type result struct {
		total int64
		err   error
	}
	second := make(chan result, 1)
	go func() {
		total, err := svc.GetGlobalStock(context.Background(), 1)
		second <- result{total, err}
	}()

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	time.Sleep(20 * time.Millisecond)
	close(gated.release)

	got := <-second
	require.NoError(t, got.err)
	require.Equal(t, int64(7), got.total)
}
