package memstore

import (
	"slices"
	"sort"

	"github.com/dropship-ops/opsconsole/internal/accounting"
	"github.com/dropship-ops/opsconsole/internal/inventory"
	"github.com/dropship-ops/opsconsole/internal/shared"
)

// unit stages the writes of one unit of work. It implements both accounting.TxRepository
// and inventory.TxRepository so a batch settlement shares the unit of its movements.
type unit struct {
	s *Store

	keys map[string]string

	held      []inventory.StockKey
	levels    map[inventory.StockKey]inventory.StockLevel
	movements []inventory.MovementRecord

	txns     []accounting.Transaction
	used     map[int64]bool
	inserted map[int64]accounting.Account
	updated  map[int64]accounting.Account
	deleted  map[int64]bool
}

func newUnit(s *Store) *unit {
	return &unit{
		s:        s,
		keys:     make(map[string]string),
		levels:   make(map[inventory.StockKey]inventory.StockLevel),
		used:     make(map[int64]bool),
		inserted: make(map[int64]accounting.Account),
		updated:  make(map[int64]accounting.Account),
		deleted:  make(map[int64]bool),
	}
}

func (u *unit) claim(key, module string) error {
	if _, ok := u.keys[key]; ok {
		return shared.Precondition(shared.ErrDuplicateRequest, shared.Detail{Field: "idempotency_key", Value: key})
	}
	u.s.mu.RLock()
	_, taken := u.s.idemKeys[key]
	u.s.mu.RUnlock()
	if taken {
		return shared.Precondition(shared.ErrDuplicateRequest, shared.Detail{Field: "idempotency_key", Value: key})
	}
	u.keys[key] = module
	return nil
}

// commit validates the staged writes against committed state and applies them at once.
func (u *unit) commit() error {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := u.check(); err != nil {
		return err
	}

	now := s.clock()
	for id, acct := range u.inserted {
		s.accounts[id] = acct
	}
	for id, acct := range u.updated {
		s.accounts[id] = acct
	}
	for id := range u.deleted {
		delete(s.accounts, id)
	}
	for _, txn := range u.txns {
		s.txns[txn.ID] = txn
		for _, line := range txn.Lines {
			posted := accounting.PostedLine{TransactionLine: line, PostedAt: txn.CreatedAt}
			lines := s.lines[line.AccountID]
			i := sort.Search(len(lines), func(i int) bool { return lines[i].ID > line.ID })
			s.lines[line.AccountID] = slices.Insert(lines, i, posted)
		}
	}
	for key, module := range u.keys {
		s.idemKeys[key] = module
	}
	for key, level := range u.levels {
		level.UpdatedAt = now
		s.levels[key] = level
	}
	for _, m := range u.movements {
		i := sort.Search(len(s.movements), func(i int) bool { return s.movements[i].ID > m.ID })
		s.movements = slices.Insert(s.movements, i, m)
	}
	return nil
}

// check runs the commit-time guards. Caller holds s.mu.
func (u *unit) check() error {
	s := u.s
	for key := range u.keys {
		if _, ok := s.idemKeys[key]; ok {
			return shared.Precondition(shared.ErrDuplicateRequest, shared.Detail{Field: "idempotency_key", Value: key})
		}
	}
	for id := range u.used {
		_, committed := s.accounts[id]
		_, created := u.inserted[id]
		if (!committed && !created) || u.deleted[id] {
			return shared.Validation(accounting.ErrUnknownAccount, shared.Detail{Field: "account_id", Value: id, Expected: "existing account"})
		}
	}
	for id, next := range u.updated {
		current, ok := s.accounts[id]
		if !ok {
			return shared.NotFound(accounting.ErrAccountNotFound)
		}
		if current.Category != next.Category && len(s.lines[id]) > 0 {
			return shared.Precondition(accounting.ErrCategoryLocked, shared.Detail{Field: "category", Value: next.Category, Expected: string(current.Category)})
		}
	}
	for id := range u.deleted {
		if len(s.lines[id]) > 0 {
			return shared.Precondition(accounting.ErrCategoryLocked, shared.Detail{Field: "id", Value: id, Expected: "account without transactions"})
		}
	}
	codes := make(map[string]int64, len(s.accounts))
	for id, acct := range s.accounts {
		if _, changed := u.updated[id]; !changed && !u.deleted[id] {
			codes[acct.Code] = id
		}
	}
	for _, staged := range []map[int64]accounting.Account{u.inserted, u.updated} {
		for id, acct := range staged {
			if other, ok := codes[acct.Code]; ok && other != id {
				return shared.Precondition(accounting.ErrDuplicateAccountCode, shared.Detail{Field: "code", Value: acct.Code, Expected: "unused code"})
			}
			codes[acct.Code] = id
		}
	}
	return nil
}

// release drops the key locks and the in-flight mark. It runs after commit or rollback.
func (u *unit) release() {
	for i := len(u.held) - 1; i >= 0; i-- {
		u.s.unlockKey(u.held[i])
	}
	u.s.flightMu.Lock()
	delete(u.s.inflight, u)
	u.s.flightMu.Unlock()
}
