package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dropship-ops/opsconsole/internal/platform/db"
	"github.com/dropship-ops/opsconsole/internal/shared"
)

const accountColumns = `id, code, name, category, currency, position, is_nominal, created_at, updated_at`

// Repository persists ledger entities in PostgreSQL.
type Repository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, timeout time.Duration) *Repository {
	return &Repository{pool: pool, timeout: timeout}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("accounting repository not initialised")
	}
	return db.WithTx(ctx, r.pool, r.timeout, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// NewTxRepository binds the ledger writes to an open transaction owned by the caller.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// GetAccount loads one account.
func (r *Repository) GetAccount(ctx context.Context, id int64) (Account, error) {
	acct, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
	if err != nil {
		return Account{}, db.Classify(err)
	}
	return acct, nil
}

// ListAccounts returns accounts ordered by position then code.
func (r *Repository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY position, code`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, db.Classify(rows.Err())
}

// ListPostedLines implements RepositoryPort.
func (r *Repository) ListPostedLines(ctx context.Context, accountID, afterLineID int64, cutoff Cutoff) ([]PostedLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT l.id, l.transaction_id, l.account_id, l.debit::float8, l.credit::float8, t.created_at
FROM ledger_transaction_lines l
JOIN ledger_transactions t ON t.id = l.transaction_id
WHERE l.account_id = $1 AND l.id > $2
  AND ($3::bigint = 0 OR l.id <= $3)
  AND ($4::timestamptz IS NULL OR t.created_at <= $4)
ORDER BY l.id ASC`, accountID, afterLineID, cutoff.LineID, db.NullTime(cutoff.AsOf))
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []PostedLine
	for rows.Next() {
		var line PostedLine
		if err := rows.Scan(&line.ID, &line.TransactionID, &line.AccountID, &line.Debit, &line.Credit, &line.PostedAt); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, db.Classify(rows.Err())
}

// LatestCheckpoint implements RepositoryPort.
func (r *Repository) LatestCheckpoint(ctx context.Context, accountID int64, cutoff Cutoff) (Checkpoint, error) {
	var (
		cp      Checkpoint
		balance string
	)
	err := r.pool.QueryRow(ctx, `SELECT account_id, line_id, balance::text, max_posted_at, created_at
FROM ledger_checkpoints
WHERE account_id = $1
  AND ($2::bigint = 0 OR line_id <= $2)
  AND ($3::timestamptz IS NULL OR max_posted_at <= $3)
ORDER BY line_id DESC LIMIT 1`, accountID, cutoff.LineID, db.NullTime(cutoff.AsOf)).
		Scan(&cp.AccountID, &cp.LineID, &balance, &cp.MaxPostedAt, &cp.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Checkpoint{}, ErrCheckpointNotFound
		}
		return Checkpoint{}, db.Classify(err)
	}
	cp.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("accounting: checkpoint balance: %w", err)
	}
	return cp, nil
}

// SaveCheckpoint stores a checkpoint. Saving the same (account, line) twice is a no-op.
func (r *Repository) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO ledger_checkpoints (account_id, line_id, balance, max_posted_at, created_at)
VALUES ($1, $2, $3::numeric, $4, $5)
ON CONFLICT (account_id, line_id) DO NOTHING`, cp.AccountID, cp.LineID, cp.Balance.String(), cp.MaxPostedAt, cp.CreatedAt)
	return db.Classify(err)
}

// SafeLineHorizon waits for in-flight line inserts to finish and returns the highest
// committed line id. Writers are blocked only while the maximum is read.
func (r *Repository) SafeLineHorizon(ctx context.Context) (int64, error) {
	var horizon int64
	err := db.WithTx(ctx, r.pool, r.timeout, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `LOCK TABLE ledger_transaction_lines IN SHARE MODE`); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM ledger_transaction_lines`).Scan(&horizon)
	})
	return horizon, err
}

// ListTransactions implements RepositoryPort.
func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	order := "DESC"
	if filter.Ascending {
		order = "ASC"
	}
	rows, err := r.pool.Query(ctx, `SELECT id, description, reference_type, COALESCE(order_ref, ''), COALESCE(user_id, ''), created_at
FROM ledger_transactions
WHERE ($1::timestamptz IS NULL OR created_at >= $1)
  AND ($2::timestamptz IS NULL OR created_at <= $2)
  AND ($3 = '' OR description ILIKE '%' || $3 || '%' OR order_ref ILIKE '%' || $3 || '%' OR reference_type ILIKE '%' || $3 || '%')
ORDER BY created_at `+order+`, id `+order+`
LIMIT $4`, db.NullTime(filter.From), db.NullTime(filter.To), filter.Search, filter.Limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var (
		out []Transaction
		ids []int64
	)
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.Description, &t.ReferenceType, &t.OrderRef, &t.UserID, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	if len(ids) == 0 {
		return out, nil
	}
	lines, err := loadLines(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

// AccountTotals implements RepositoryPort.
func (r *Repository) AccountTotals(ctx context.Context) ([]AccountTotals, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.code, a.name, a.category, a.currency, a.position, a.is_nominal, a.created_at, a.updated_at,
       COALESCE(SUM(l.debit), 0)::text, COALESCE(SUM(l.credit), 0)::text
FROM accounts a
LEFT JOIN ledger_transaction_lines l ON l.account_id = a.id
GROUP BY a.id
ORDER BY a.position, a.code`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []AccountTotals
	for rows.Next() {
		var (
			t             AccountTotals
			debit, credit string
		)
		a := &t.Account
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Category, &a.Currency, &a.Position, &a.IsNominal, &a.CreatedAt, &a.UpdatedAt, &debit, &credit); err != nil {
			return nil, err
		}
		if t.Debit, err = decimal.NewFromString(debit); err != nil {
			return nil, err
		}
		if t.Credit, err = decimal.NewFromString(credit); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, db.Classify(rows.Err())
}

func (r *txRepository) ClaimIdempotencyKey(ctx context.Context, key, module string) error {
	return shared.ClaimIdempotencyKey(ctx, r.tx, key, module)
}

func (r *txRepository) GetAccountsShared(ctx context.Context, ids []int64) (map[int64]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1) ORDER BY id FOR SHARE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Account, len(ids))
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[acct.ID] = acct
	}
	return out, rows.Err()
}

func (r *txRepository) InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO ledger_transactions (description, reference_type, order_ref, user_id)
VALUES ($1, $2, $3, $4) RETURNING id, created_at`, txn.Description, txn.ReferenceType, db.NullString(txn.OrderRef), db.NullString(txn.UserID)).
		Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	return txn, nil
}

func (r *txRepository) InsertTransactionLines(ctx context.Context, transactionID int64, lines []TransactionLine) ([]TransactionLine, error) {
	out := make([]TransactionLine, 0, len(lines))
	for _, line := range lines {
		line.TransactionID = transactionID
		if err := r.tx.QueryRow(ctx, `INSERT INTO ledger_transaction_lines (transaction_id, account_id, debit, credit)
VALUES ($1, $2, $3::numeric, $4::numeric) RETURNING id`, transactionID, line.AccountID, toNumeric(line.Debit), toNumeric(line.Credit)).Scan(&line.ID); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

func (r *txRepository) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	var t Transaction
	err := r.tx.QueryRow(ctx, `SELECT id, description, reference_type, COALESCE(order_ref, ''), COALESCE(user_id, ''), created_at
FROM ledger_transactions WHERE id=$1`, id).
		Scan(&t.ID, &t.Description, &t.ReferenceType, &t.OrderRef, &t.UserID, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	lines, err := loadLines(ctx, r.tx, []int64{id})
	if err != nil {
		return Transaction{}, err
	}
	t.Lines = lines[id]
	return t, nil
}

func (r *txRepository) InsertAccount(ctx context.Context, acct Account) (Account, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO accounts (code, name, category, currency, position, is_nominal)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at, updated_at`, acct.Code, acct.Name, acct.Category, acct.Currency, acct.Position, acct.IsNominal).
		Scan(&acct.ID, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "accounts_code_key") {
			return Account{}, ErrDuplicateAccountCode
		}
		return Account{}, err
	}
	return acct, nil
}

func (r *txRepository) GetAccountForUpdate(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateAccount(ctx context.Context, acct Account) (Account, error) {
	err := r.tx.QueryRow(ctx, `UPDATE accounts SET code=$2, name=$3, category=$4, currency=$5, position=$6, is_nominal=$7, updated_at=NOW()
WHERE id=$1 RETURNING updated_at`, acct.ID, acct.Code, acct.Name, acct.Category, acct.Currency, acct.Position, acct.IsNominal).
		Scan(&acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		if db.IsUniqueViolation(err, "accounts_code_key") {
			return Account{}, ErrDuplicateAccountCode
		}
		return Account{}, err
	}
	return acct, nil
}

func (r *txRepository) DeleteAccount(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM accounts WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) AccountReferenced(ctx context.Context, id int64) (bool, error) {
	var referenced bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_transaction_lines WHERE account_id=$1)`, id).Scan(&referenced)
	return referenced, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q querier, transactionIDs []int64) (map[int64][]TransactionLine, error) {
	rows, err := q.Query(ctx, `SELECT id, transaction_id, account_id, debit::float8, credit::float8
FROM ledger_transaction_lines WHERE transaction_id = ANY($1) ORDER BY id ASC`, transactionIDs)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	out := make(map[int64][]TransactionLine, len(transactionIDs))
	for rows.Next() {
		var line TransactionLine
		if err := rows.Scan(&line.ID, &line.TransactionID, &line.AccountID, &line.Debit, &line.Credit); err != nil {
			return nil, err
		}
		out[line.TransactionID] = append(out[line.TransactionID], line)
	}
	return out, db.Classify(rows.Err())
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Category, &a.Currency, &a.Position, &a.IsNominal, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func toNumeric(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(MoneyPlaces)
}
