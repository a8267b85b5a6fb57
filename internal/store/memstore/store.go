// Package memstore is an in-process backend implementing the same ports as the PostgreSQL
// repositories. Units of work stage their writes and apply them under one commit lock, so
// readers never observe a partial unit. Stock levels are serialised by per-key locks held
// until the unit ends.
package memstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dropship-ops/opsconsole/internal/accounting"
	"github.com/dropship-ops/opsconsole/internal/inventory"
	"github.com/dropship-ops/opsconsole/internal/masterdata/products"
	"github.com/dropship-ops/opsconsole/internal/sales/commission"
	"github.com/dropship-ops/opsconsole/internal/shared"
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTimeout bounds every unit of work.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// Store holds all committed state.
type Store struct {
	now     func() time.Time
	timeout time.Duration

	mu          sync.RWMutex
	accounts    map[int64]accounting.Account
	txns        map[int64]accounting.Transaction
	lines       map[int64][]accounting.PostedLine
	checkpoints map[int64][]accounting.Checkpoint
	idemKeys    map[string]string
	levels      map[inventory.StockKey]inventory.StockLevel
	movements   []inventory.MovementRecord
	products    map[int64]products.Product
	skus        map[string]int64
	orders      []commission.Order

	accountSeq  atomic.Int64
	txnSeq      atomic.Int64
	movementSeq atomic.Int64
	productSeq  atomic.Int64
	orderSeq    atomic.Int64

	flightMu sync.Mutex
	lastLine int64
	inflight map[*unit]int64

	locksMu  sync.Mutex
	keyLocks map[inventory.StockKey]chan struct{}
}

// New constructs an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:         time.Now,
		accounts:    make(map[int64]accounting.Account),
		txns:        make(map[int64]accounting.Transaction),
		lines:       make(map[int64][]accounting.PostedLine),
		checkpoints: make(map[int64][]accounting.Checkpoint),
		idemKeys:    make(map[string]string),
		levels:      make(map[inventory.StockKey]inventory.StockLevel),
		products:    make(map[int64]products.Product),
		skus:        make(map[string]int64),
		inflight:    make(map[*unit]int64),
		keyLocks:    make(map[inventory.StockKey]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ledger returns the ledger repository view of the store.
func (s *Store) Ledger() *LedgerRepo { return &LedgerRepo{s: s} }

// Inventory returns the inventory repository view of the store.
func (s *Store) Inventory() *InventoryRepo { return &InventoryRepo{s: s} }

// Products returns the product master data repository view of the store.
func (s *Store) Products() products.Repository { return &productRepo{s: s} }

func (s *Store) clock() time.Time {
	return s.now().UTC()
}

// run executes fn as one unit of work and commits its staged writes when fn succeeds.
func (s *Store) run(ctx context.Context, fn func(context.Context, *unit) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	u := newUnit(s)
	defer u.release()
	if err := fn(ctx, u); err != nil {
		return classify(err)
	}
	if err := ctx.Err(); err != nil {
		return classify(err)
	}
	return u.commit()
}

// lockKey blocks until the key is free or ctx ends.
func (s *Store) lockKey(ctx context.Context, key inventory.StockKey) error {
	s.locksMu.Lock()
	ch, ok := s.keyLocks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.keyLocks[key] = ch
	}
	s.locksMu.Unlock()
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) unlockKey(key inventory.StockKey) {
	s.locksMu.Lock()
	ch := s.keyLocks[key]
	s.locksMu.Unlock()
	<-ch
}

// reserveLines hands out consecutive line ids and marks the unit in flight until release.
func (s *Store) reserveLines(u *unit, n int) int64 {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()
	first := s.lastLine + 1
	s.lastLine += int64(n)
	if _, ok := s.inflight[u]; !ok {
		s.inflight[u] = first
	}
	return first
}

func (s *Store) horizon() int64 {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()
	h := s.lastLine
	for _, first := range s.inflight {
		if first-1 < h {
			h = first - 1
		}
	}
	return h
}

func classify(err error) error {
	if err == nil || shared.ClassOf(err) != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return shared.Transient(err)
	}
	return err
}
