package memstore

import (
	"context"
	"slices"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dropship-ops/opsconsole/internal/accounting"
)

// LedgerRepo implements accounting.RepositoryPort.
type LedgerRepo struct {
	s *Store
}

var _ accounting.RepositoryPort = (*LedgerRepo)(nil)

// WithTx implements accounting.RepositoryPort.
func (r *LedgerRepo) WithTx(ctx context.Context, fn func(context.Context, accounting.TxRepository) error) error {
	return r.s.run(ctx, func(ctx context.Context, u *unit) error { return fn(ctx, u) })
}

func (r *LedgerRepo) GetAccount(ctx context.Context, id int64) (accounting.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	acct, ok := r.s.accounts[id]
	if !ok {
		return accounting.Account{}, accounting.ErrAccountNotFound
	}
	return acct, nil
}

func (r *LedgerRepo) ListAccounts(ctx context.Context) ([]accounting.Account, error) {
	r.s.mu.RLock()
	out := make([]accounting.Account, 0, len(r.s.accounts))
	for _, acct := range r.s.accounts {
		out = append(out, acct)
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (r *LedgerRepo) ListPostedLines(ctx context.Context, accountID, afterLineID int64, cutoff accounting.Cutoff) ([]accounting.PostedLine, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	lines := r.s.lines[accountID]
	start := sort.Search(len(lines), func(i int) bool { return lines[i].ID > afterLineID })
	var out []accounting.PostedLine
	for _, line := range lines[start:] {
		if cutoff.LineID > 0 && line.ID > cutoff.LineID {
			break
		}
		if cutoff.Includes(line) {
			out = append(out, line)
		}
	}
	return out, nil
}

func (r *LedgerRepo) LatestCheckpoint(ctx context.Context, accountID int64, cutoff accounting.Cutoff) (accounting.Checkpoint, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	cps := r.s.checkpoints[accountID]
	for i := len(cps) - 1; i >= 0; i-- {
		if cutoff.Admits(cps[i]) {
			return cps[i], nil
		}
	}
	return accounting.Checkpoint{}, accounting.ErrCheckpointNotFound
}

func (r *LedgerRepo) SaveCheckpoint(ctx context.Context, cp accounting.Checkpoint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cps := r.s.checkpoints[cp.AccountID]
	i := sort.Search(len(cps), func(i int) bool { return cps[i].LineID >= cp.LineID })
	if i < len(cps) && cps[i].LineID == cp.LineID {
		return nil
	}
	r.s.checkpoints[cp.AccountID] = slices.Insert(cps, i, cp)
	return nil
}

func (r *LedgerRepo) SafeLineHorizon(ctx context.Context) (int64, error) {
	return r.s.horizon(), nil
}

func (r *LedgerRepo) ListTransactions(ctx context.Context, filter accounting.TransactionFilter) ([]accounting.Transaction, error) {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	r.s.mu.RLock()
	var out []accounting.Transaction
	for _, txn := range r.s.txns {
		if !filter.From.IsZero() && txn.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && txn.CreatedAt.After(filter.To) {
			continue
		}
		if search != "" && !matches(search, txn.Description, txn.OrderRef, txn.ReferenceType) {
			continue
		}
		txn.Lines = slices.Clone(txn.Lines)
		out = append(out, txn)
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if filter.Ascending {
			a, b = b, a
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(search string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), search) {
			return true
		}
	}
	return false
}

func (r *LedgerRepo) AccountTotals(ctx context.Context) ([]accounting.AccountTotals, error) {
	accounts, _ := r.ListAccounts(ctx)
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]accounting.AccountTotals, 0, len(accounts))
	for _, acct := range accounts {
		t := accounting.AccountTotals{Account: acct}
		for _, line := range r.s.lines[acct.ID] {
			t.Debit = t.Debit.Add(decimal.NewFromFloat(line.Debit))
			t.Credit = t.Credit.Add(decimal.NewFromFloat(line.Credit))
		}
		out = append(out, t)
	}
	return out, nil
}

// ClaimIdempotencyKey implements accounting.TxRepository and inventory.TxRepository.
func (u *unit) ClaimIdempotencyKey(ctx context.Context, key, module string) error {
	return u.claim(key, module)
}

// account resolves an account through the staged writes.
func (u *unit) account(id int64) (accounting.Account, bool) {
	if u.deleted[id] {
		return accounting.Account{}, false
	}
	if acct, ok := u.updated[id]; ok {
		return acct, true
	}
	if acct, ok := u.inserted[id]; ok {
		return acct, true
	}
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	acct, ok := u.s.accounts[id]
	return acct, ok
}

func (u *unit) GetAccountsShared(ctx context.Context, ids []int64) (map[int64]accounting.Account, error) {
	out := make(map[int64]accounting.Account, len(ids))
	for _, id := range ids {
		if acct, ok := u.account(id); ok {
			out[id] = acct
			u.used[id] = true
		}
	}
	return out, nil
}

func (u *unit) InsertTransaction(ctx context.Context, txn accounting.Transaction) (accounting.Transaction, error) {
	txn.ID = u.s.txnSeq.Add(1)
	txn.CreatedAt = u.s.clock()
	txn.Lines = nil
	u.txns = append(u.txns, txn)
	return txn, nil
}

func (u *unit) InsertTransactionLines(ctx context.Context, transactionID int64, lines []accounting.TransactionLine) ([]accounting.TransactionLine, error) {
	idx := slices.IndexFunc(u.txns, func(t accounting.Transaction) bool { return t.ID == transactionID })
	if idx < 0 {
		return nil, accounting.ErrTransactionNotFound
	}
	first := u.s.reserveLines(u, len(lines))
	out := make([]accounting.TransactionLine, len(lines))
	for i, line := range lines {
		line.ID = first + int64(i)
		line.TransactionID = transactionID
		out[i] = line
		u.used[line.AccountID] = true
	}
	u.txns[idx].Lines = append(u.txns[idx].Lines, out...)
	return out, nil
}

func (u *unit) GetTransaction(ctx context.Context, id int64) (accounting.Transaction, error) {
	for _, txn := range u.txns {
		if txn.ID == id {
			return txn, nil
		}
	}
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	txn, ok := u.s.txns[id]
	if !ok {
		return accounting.Transaction{}, accounting.ErrTransactionNotFound
	}
	txn.Lines = slices.Clone(txn.Lines)
	return txn, nil
}

func (u *unit) codeTaken(code string, self int64) bool {
	for id, acct := range u.inserted {
		if acct.Code == code && id != self {
			return true
		}
	}
	for id, acct := range u.updated {
		if acct.Code == code && id != self {
			return true
		}
	}
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	for id, acct := range u.s.accounts {
		if _, staged := u.updated[id]; staged || u.deleted[id] {
			continue
		}
		if acct.Code == code && id != self {
			return true
		}
	}
	return false
}

func (u *unit) InsertAccount(ctx context.Context, acct accounting.Account) (accounting.Account, error) {
	if u.codeTaken(acct.Code, 0) {
		return accounting.Account{}, accounting.ErrDuplicateAccountCode
	}
	now := u.s.clock()
	acct.ID = u.s.accountSeq.Add(1)
	acct.CreatedAt = now
	acct.UpdatedAt = now
	u.inserted[acct.ID] = acct
	return acct, nil
}

func (u *unit) GetAccountForUpdate(ctx context.Context, id int64) (accounting.Account, error) {
	acct, ok := u.account(id)
	if !ok {
		return accounting.Account{}, accounting.ErrAccountNotFound
	}
	return acct, nil
}

func (u *unit) UpdateAccount(ctx context.Context, acct accounting.Account) (accounting.Account, error) {
	if u.codeTaken(acct.Code, acct.ID) {
		return accounting.Account{}, accounting.ErrDuplicateAccountCode
	}
	acct.UpdatedAt = u.s.clock()
	if _, ok := u.inserted[acct.ID]; ok {
		u.inserted[acct.ID] = acct
	} else {
		u.updated[acct.ID] = acct
	}
	return acct, nil
}

func (u *unit) DeleteAccount(ctx context.Context, id int64) error {
	delete(u.inserted, id)
	delete(u.updated, id)
	u.deleted[id] = true
	return nil
}

func (u *unit) AccountReferenced(ctx context.Context, id int64) (bool, error) {
	for _, txn := range u.txns {
		for _, line := range txn.Lines {
			if line.AccountID == id {
				return true, nil
			}
		}
	}
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	return len(u.s.lines[id]) > 0, nil
}
