package memstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropship-ops/opsconsole/internal/accounting"
	"github.com/dropship-ops/opsconsole/internal/catalog"
	"github.com/dropship-ops/opsconsole/internal/inventory"
	"github.com/dropship-ops/opsconsole/internal/masterdata/products"
	"github.com/dropship-ops/opsconsole/internal/sales/commission"
	"github.com/dropship-ops/opsconsole/internal/shared"
	"github.com/dropship-ops/opsconsole/internal/store/memstore"
)

type fixture struct {
	store     *memstore.Store
	ledger    *accounting.Service
	inventory *inventory.Service
	cash      accounting.Account
	stock     accounting.Account
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memstore.New()
	ledger := accounting.NewService(store.Ledger(), nil, nil)
	ctx := context.Background()
	cash, err := ledger.CreateAccount(ctx, accounting.AccountInput{Code: "1100", Name: "Caja", Category: "asset"})
	require.NoError(t, err)
	stock, err := ledger.CreateAccount(ctx, accounting.AccountInput{Code: "1400", Name: "Inventario", Category: "asset", Position: 1})
	require.NoError(t, err)
	inv := inventory.NewService(store.Inventory(), ledger, nil, nil, inventory.ServiceConfig{InventoryAccountID: stock.ID})
	return fixture{store: store, ledger: ledger, inventory: inv, cash: cash, stock: stock}
}

func movement(qty int64) inventory.MovementInput {
	return inventory.MovementInput{ProductID: 1, WarehouseID: 1, QuantityChange: qty, Reason: inventory.ReasonAdjustment}
}

func TestConcurrentMovementsMatchLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.inventory.RecordMovement(ctx, movement(100))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			qty := int64(3)
			if i%2 == 0 {
				qty = -2
			}
			_, _, err := f.inventory.RecordMovement(ctx, movement(qty))
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	total, err := f.inventory.GetGlobalStock(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(100+20*3-20*2), total)

	moves, err := f.inventory.ListMovements(ctx, inventory.MovementFilter{ProductID: 1, Limit: 1000})
	require.NoError(t, err)
	require.Len(t, moves, 41)
	require.Greater(t, moves[0].ID, moves[40].ID)

	drift, err := f.inventory.VerifyStock(ctx)
	require.NoError(t, err)
	require.Empty(t, drift)
}

func TestConcurrentOutboundNeverNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.inventory.RecordMovement(ctx, movement(10))
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.inventory.RecordMovement(ctx, movement(-1))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				require.ErrorIs(t, err, inventory.ErrInsufficientStock)
				fail++
				return
			}
			ok++
		}()
	}
	wg.Wait()

	require.Equal(t, 10, ok)
	require.Equal(t, 20, fail)
	levels, err := f.inventory.ListStockLevels(ctx, 1)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	require.Zero(t, levels[0].CurrentStock)
}

func TestSettledBatchCommitsWithLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.inventory.RecordBatchMovement(ctx, inventory.BatchInput{
		WarehouseID: 1,
		Reason:      inventory.ReasonPurchase,
		ReferenceID: "PO-7",
		Items: []inventory.BatchItem{
			{ProductID: 2, QuantityChange: 3, UnitCostWithVAT: 5.6},
			{ProductID: 1, QuantityChange: 2, UnitCostWithVAT: 10},
		},
		Settlement: &inventory.Settlement{PaymentAccountID: f.cash.ID},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Transaction)
	require.Equal(t, 36.8, res.Transaction.Amount)
	require.Len(t, res.Levels, 2)
	require.Equal(t, int64(1), res.Levels[0].ProductID)

	bal, err := f.ledger.GetRunningBalance(ctx, f.stock.ID, accounting.Cutoff{})
	require.NoError(t, err)
	require.Equal(t, 36.8, bal.Balance)
	bal, err = f.ledger.GetRunningBalance(ctx, f.cash.ID, accounting.Cutoff{})
	require.NoError(t, err)
	require.Equal(t, -36.8, bal.Balance)
}

func TestSettlementFailureRollsBackStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.inventory.RecordBatchMovement(ctx, inventory.BatchInput{
		WarehouseID: 1,
		Reason:      inventory.ReasonPurchase,
		Items:       []inventory.BatchItem{{ProductID: 1, QuantityChange: 4, UnitCostWithVAT: 2}},
		Settlement:  &inventory.Settlement{PaymentAccountID: 999},
	})
	require.ErrorIs(t, err, accounting.ErrUnknownAccount)
	require.ErrorIs(t, err, shared.ErrValidation)

	total, err := f.inventory.GetGlobalStock(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, total)
	moves, err := f.inventory.ListMovements(ctx, inventory.MovementFilter{})
	require.NoError(t, err)
	require.Empty(t, moves)
	txns, err := f.ledger.ListTransactions(ctx, accounting.TransactionFilter{})
	require.NoError(t, err)
	require.Empty(t, txns)
}

func TestCheckpointsMatchReplayUnderConcurrentPosting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var writers sync.WaitGroup
	for i := range 8 {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for j := range 15 {
				amount := float64(i+1) + float64(j)/100
				_, err := f.ledger.CreateTransaction(ctx, accounting.CreateTransactionInput{
					Description: "Compra",
					Lines: []accounting.LineInput{
						{AccountID: f.stock.ID, Debit: amount},
						{AccountID: f.cash.ID, Credit: amount},
					},
				})
				require.NoError(t, err)
			}
		}()
	}
	done := make(chan struct{})
	checkpoints := make(chan error, 1)
	go func() {
		for {
			select {
			case <-done:
				checkpoints <- nil
				return
			default:
			}
			if _, err := f.ledger.CheckpointAll(ctx); err != nil {
				checkpoints <- err
				return
			}
		}
	}()
	writers.Wait()
	close(done)
	require.NoError(t, <-checkpoints)

	for _, id := range []int64{f.cash.ID, f.stock.ID} {
		fast, err := f.ledger.GetRunningBalance(ctx, id, accounting.Cutoff{})
		require.NoError(t, err)
		full, err := f.ledger.ReplayBalance(ctx, id, accounting.Cutoff{})
		require.NoError(t, err)
		require.True(t, fast.Exact().Equal(full.Exact()), "account %d: %s != %s", id, fast.Exact(), full.Exact())
		require.Equal(t, full.LastLineID, fast.LastLineID)
	}

	tb, err := f.ledger.TrialBalance(ctx)
	require.NoError(t, err)
	require.True(t, tb.Balanced)
}

func TestLockWaitHonoursCancellation(t *testing.T) {
	f := newFixture(t)
	repo := f.store.Inventory()
	locked := make(chan struct{})
	finish := make(chan struct{})
	holder := make(chan error, 1)

	go func() {
		holder <- repo.WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
			if _, err := tx.GetStockLevelForUpdate(ctx, inventory.StockKey{ProductID: 1, WarehouseID: 1}); err != nil {
				return err
			}
			close(locked)
			<-finish
			return errors.New("abandon")
		})
	}()
	<-locked

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := f.inventory.RecordMovement(ctx, movement(5))
	require.Error(t, err)
	require.True(t, shared.Retryable(err))

	close(finish)
	require.EqualError(t, <-holder, "abandon")

	_, level, err := f.inventory.RecordMovement(context.Background(), movement(5))
	require.NoError(t, err)
	require.Equal(t, int64(5), level.CurrentStock)
}

func TestLockWaitCancelledIsNotRetryable(t *testing.T) {
	f := newFixture(t)
	repo := f.store.Inventory()
	locked := make(chan struct{})
	finish := make(chan struct{})
	holder := make(chan error, 1)

	go func() {
		holder <- repo.WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
			if _, err := tx.GetStockLevelForUpdate(ctx, inventory.StockKey{ProductID: 1, WarehouseID: 1}); err != nil {
				return err
			}
			close(locked)
			<-finish
			return errors.New("abandon")
		})
	}()
	<-locked

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, _, err := f.inventory.RecordMovement(ctx, movement(5))
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, shared.Retryable(err))

	close(finish)
	require.EqualError(t, <-holder, "abandon")
}

func TestIdempotencyKeySharedAcrossModules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := movement(5)
	in.IdempotencyKey = "req-1"
	_, _, err := f.inventory.RecordMovement(ctx, in)
	require.NoError(t, err)
	_, _, err = f.inventory.RecordMovement(ctx, in)
	require.ErrorIs(t, err, shared.ErrDuplicateRequest)

	total, err := f.inventory.GetGlobalStock(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(5), total)
}

func TestCatalogSyncThroughProducts(t *testing.T) {
	store := memstore.New()
	svc := catalog.NewService(products.NewService(store.Products(), nil), nil)
	ctx := context.Background()

	rows, err := catalog.RowsFromTable(
		[]string{"SKU", "Nombre", "Costo", "Margen", "IVA"},
		[][]string{
			{"w1", "Widget", "5", "0.3", "12"},
			{"l1", "Lámpara", "10,5", "0.25", ""},
		},
	)
	require.NoError(t, err)
	fallback := 12.0
	res, err := svc.Preview(ctx, rows, catalog.Options{VATFallback: &fallback})
	require.NoError(t, err)
	require.Len(t, res.New, 2)
	require.Equal(t, []int{3}, res.MissingVAT)

	report, err := svc.Sync(ctx, res)
	require.NoError(t, err)
	require.Equal(t, 2, report.Inserted)

	again, err := svc.Preview(ctx, rows, catalog.Options{VATFallback: &fallback})
	require.NoError(t, err)
	require.Empty(t, again.New)
	require.Empty(t, again.Modified)
	require.Len(t, again.Unchanged, 2)

	stored, err := store.Products().FindBySKUs(ctx, []string{"L1"})
	require.NoError(t, err)
	require.Equal(t, 10.5, stored["L1"].Cost)
	require.Equal(t, 12.0, *stored["L1"].VATPercentage)
}

func TestCommissionsFromStoredOrders(t *testing.T) {
	store := memstore.New()
	orders := store.Orders()
	ctx := context.Background()
	day := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	for _, o := range []commission.Order{
		{SalespersonID: "ana", Status: commission.OrderStatusDelivered, Total: 100, OrderedAt: day, Lines: []commission.OrderLine{{ProductID: 1, Quantity: 2, UnitPrice: 50, UnitCost: 30}}},
		{SalespersonID: "ana", Status: commission.OrderStatusPending, Total: 80, OrderedAt: day},
		{SalespersonID: "ben", Status: "PAID", Total: 40, OrderedAt: day.AddDate(0, 1, 0)},
	} {
		_, err := orders.AddOrder(ctx, o)
		require.NoError(t, err)
	}

	report, err := commission.NewService(orders, nil).ForPeriod(ctx, day.AddDate(0, 0, -1), day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, report.Commissions, 1)
	require.Equal(t, "ana", report.Commissions[0].SalespersonID)
	require.Equal(t, 1, report.Commissions[0].Orders)
	require.Equal(t, 4.0, report.Commissions[0].Commission)
}
