package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dropship-ops/opsconsole/internal/shared"
)

// RepositoryPort abstracts ledger persistence. Reads run outside write units.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAccount(ctx context.Context, id int64) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	// ListPostedLines returns lines of the account with id > afterLineID inside cutoff,
	// ascending by id.
	ListPostedLines(ctx context.Context, accountID, afterLineID int64, cutoff Cutoff) ([]PostedLine, error)
	// LatestCheckpoint returns the newest checkpoint admitted by cutoff or ErrCheckpointNotFound.
	LatestCheckpoint(ctx context.Context, accountID int64, cutoff Cutoff) (Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	// SafeLineHorizon returns the highest line id below which no write is still in flight.
	SafeLineHorizon(ctx context.Context) (int64, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	AccountTotals(ctx context.Context) ([]AccountTotals, error)
}

// TxRepository exposes the writes of one atomic unit.
type TxRepository interface {
	ClaimIdempotencyKey(ctx context.Context, key, module string) error
	// GetAccountsShared loads accounts and blocks concurrent updates until the unit ends.
	GetAccountsShared(ctx context.Context, ids []int64) (map[int64]Account, error)
	InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error)
	InsertTransactionLines(ctx context.Context, transactionID int64, lines []TransactionLine) ([]TransactionLine, error)
	GetTransaction(ctx context.Context, id int64) (Transaction, error)
	InsertAccount(ctx context.Context, acct Account) (Account, error)
	GetAccountForUpdate(ctx context.Context, id int64) (Account, error)
	UpdateAccount(ctx context.Context, acct Account) (Account, error)
	DeleteAccount(ctx context.Context, id int64) error
	AccountReferenced(ctx context.Context, id int64) (bool, error)
}

// Service coordinates postings, balance reads and account configuration.
type Service struct {
	repo     RepositoryPort
	audit    shared.AuditPort
	logger   *slog.Logger
	recorder shared.OperationRecorder
	now      func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit shared.AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, recorder: shared.NopRecorder{}, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithRecorder attaches an operation recorder.
func (s *Service) WithRecorder(r shared.OperationRecorder) {
	if r != nil {
		s.recorder = r
	}
}

// CreateTransaction validates and persists a balanced transaction in its own unit.
func (s *Service) CreateTransaction(ctx context.Context, input CreateTransactionInput) (Transaction, error) {
	var created Transaction
	err := input.Validate()
	if err == nil {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			created, err = s.CreateTransactionWithin(ctx, tx, input)
			return err
		})
	}
	s.recorder.RecordOperation("ledger.create_transaction", err)
	if err != nil {
		return Transaction{}, err
	}
	s.recordAudit(ctx, input.UserID, "ledger.transaction.create", "ledger_transaction", created.ID, map[string]any{
		"reference_type": created.ReferenceType,
		"order_ref":      created.OrderRef,
		"lines":          len(created.Lines),
	})
	return created, nil
}

// CreateTransactionWithin validates and persists a transaction inside a unit owned by the
// caller. Nothing is visible until the caller commits.
func (s *Service) CreateTransactionWithin(ctx context.Context, tx TxRepository, input CreateTransactionInput) (Transaction, error) {
	if err := input.Validate(); err != nil {
		return Transaction{}, err
	}
	if input.IdempotencyKey != "" {
		if err := tx.ClaimIdempotencyKey(ctx, input.IdempotencyKey, "ledger"); err != nil {
			return Transaction{}, err
		}
	}
	ids := make([]int64, 0, len(input.Lines))
	for _, line := range input.Lines {
		ids = append(ids, line.AccountID)
	}
	accounts, err := tx.GetAccountsShared(ctx, ids)
	if err != nil {
		return Transaction{}, err
	}
	for idx, line := range input.Lines {
		if _, ok := accounts[line.AccountID]; !ok {
			return Transaction{}, shared.Validation(ErrUnknownAccount, shared.Detail{Row: idx + 1, Field: "account_id", Value: line.AccountID, Expected: "existing account"})
		}
	}
	refType := input.ReferenceType
	if refType == "" {
		refType = ReferenceManual
	}
	header, err := tx.InsertTransaction(ctx, Transaction{
		Description:   input.Description,
		ReferenceType: refType,
		OrderRef:      input.OrderRef,
		UserID:        input.UserID,
	})
	if err != nil {
		return Transaction{}, err
	}
	lines, err := tx.InsertTransactionLines(ctx, header.ID, input.normalizedLines())
	if err != nil {
		return Transaction{}, err
	}
	header.Lines = lines
	return header, nil
}

// ReverseTransaction posts a new transaction offsetting every line of the original. A
// transaction can be reversed once.
func (s *Service) ReverseTransaction(ctx context.Context, id int64, userID string) (Transaction, error) {
	if id <= 0 {
		return Transaction{}, shared.Validation(errors.New("accounting: transaction id required"), shared.Detail{Field: "id", Value: id})
	}
	var reversal Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetTransaction(ctx, id)
		if err != nil {
			if errors.Is(err, ErrTransactionNotFound) {
				return shared.NotFound(err)
			}
			return err
		}
		input := CreateTransactionInput{
			Description:    fmt.Sprintf("Reversal of transaction %d", original.ID),
			ReferenceType:  ReferenceAdjustment,
			OrderRef:       original.OrderRef,
			UserID:         userID,
			IdempotencyKey: fmt.Sprintf("ledger:reverse:%d", original.ID),
			Lines:          reverseLines(original.Lines),
		}
		reversal, err = s.CreateTransactionWithin(ctx, tx, input)
		return err
	})
	s.recorder.RecordOperation("ledger.reverse_transaction", err)
	if err != nil {
		return Transaction{}, err
	}
	s.recordAudit(ctx, userID, "ledger.transaction.reverse", "ledger_transaction", id, map[string]any{
		"reversal_id": reversal.ID,
	})
	return reversal, nil
}

func reverseLines(lines []TransactionLine) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineInput{AccountID: line.AccountID, Debit: line.Credit, Credit: line.Debit})
	}
	return out
}

// GetRunningBalance returns the balance of an account inside cutoff: the newest applicable
// checkpoint plus a replay of the lines after it.
func (s *Service) GetRunningBalance(ctx context.Context, accountID int64, cutoff Cutoff) (Balance, error) {
	acct, err := s.account(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	start := Checkpoint{AccountID: accountID}
	cp, err := s.repo.LatestCheckpoint(ctx, accountID, cutoff)
	switch {
	case err == nil && cutoff.Admits(cp):
		start = cp
	case err == nil, errors.Is(err, ErrCheckpointNotFound):
	default:
		return Balance{}, err
	}
	lines, err := s.repo.ListPostedLines(ctx, accountID, start.LineID, cutoff)
	if err != nil {
		return Balance{}, err
	}
	return Replay(acct.Category, start, lines, cutoff), nil
}

// ReplayBalance recomputes the balance from the first line, ignoring checkpoints.
func (s *Service) ReplayBalance(ctx context.Context, accountID int64, cutoff Cutoff) (Balance, error) {
	acct, err := s.account(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	lines, err := s.repo.ListPostedLines(ctx, accountID, 0, cutoff)
	if err != nil {
		return Balance{}, err
	}
	return Replay(acct.Category, Checkpoint{AccountID: accountID}, lines, cutoff), nil
}

// Checkpoint materialises the balance of an account up to the safe line horizon. It reports
// false when no line was added since the previous checkpoint.
func (s *Service) Checkpoint(ctx context.Context, accountID int64) (Checkpoint, bool, error) {
	horizon, err := s.repo.SafeLineHorizon(ctx)
	if err != nil {
		return Checkpoint{}, false, err
	}
	if horizon <= 0 {
		return Checkpoint{}, false, nil
	}
	bal, err := s.GetRunningBalance(ctx, accountID, Cutoff{LineID: horizon})
	if err != nil {
		return Checkpoint{}, false, err
	}
	if bal.Replayed == 0 {
		return Checkpoint{}, false, nil
	}
	cp := checkpointFrom(bal)
	cp.CreatedAt = s.now().UTC()
	if err := s.repo.SaveCheckpoint(ctx, cp); err != nil {
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}

// CheckpointAll checkpoints every account and returns how many checkpoints were written.
func (s *Service) CheckpointAll(ctx context.Context) (int, error) {
	accounts, err := s.repo.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}
	written := 0
	var errs []error
	for _, acct := range accounts {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		_, ok, err := s.Checkpoint(ctx, acct.ID)
		if err != nil {
			s.logger.Warn("checkpoint account", slog.Int64("account_id", acct.ID), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("account %d: %w", acct.ID, err))
			continue
		}
		if ok {
			written++
		}
	}
	err = errors.Join(errs...)
	s.recorder.RecordOperation("ledger.checkpoint_all", err)
	return written, err
}

// ListTransactions lists transactions with their lines, newest first unless Ascending.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	filter = filter.Normalize()
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, shared.Validation(errors.New("accounting: invalid date range"), shared.Detail{Field: "to", Value: filter.To, Expected: "not before from"})
	}
	return s.repo.ListTransactions(ctx, filter)
}

// ListAccounts returns all accounts ordered by position.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.repo.ListAccounts(ctx)
}

// CreateAccount adds an account.
func (s *Service) CreateAccount(ctx context.Context, input AccountInput) (Account, error) {
	acct, err := input.Validate()
	if err != nil {
		return Account{}, err
	}
	var created Account
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertAccount(ctx, acct)
		if errors.Is(err, ErrDuplicateAccountCode) {
			return shared.Precondition(err, shared.Detail{Field: "code", Value: acct.Code, Expected: "unused code"})
		}
		return err
	})
	s.recorder.RecordOperation("ledger.create_account", err)
	if err != nil {
		return Account{}, err
	}
	s.recordAudit(ctx, input.UserID, "ledger.account.create", "account", created.ID, map[string]any{"code": created.Code, "category": created.Category})
	return created, nil
}

// UpdateAccount edits an account. The category is frozen once any line references it.
func (s *Service) UpdateAccount(ctx context.Context, id int64, input AccountInput) (Account, error) {
	next, err := input.Validate()
	if err != nil {
		return Account{}, err
	}
	var updated Account
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetAccountForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return shared.NotFound(err)
			}
			return err
		}
		if current.Category != next.Category {
			referenced, err := tx.AccountReferenced(ctx, id)
			if err != nil {
				return err
			}
			if referenced {
				return shared.Precondition(ErrCategoryLocked, shared.Detail{Field: "category", Value: next.Category, Expected: string(current.Category)})
			}
		}
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
		updated, err = tx.UpdateAccount(ctx, next)
		if errors.Is(err, ErrDuplicateAccountCode) {
			return shared.Precondition(err, shared.Detail{Field: "code", Value: next.Code, Expected: "unused code"})
		}
		return err
	})
	s.recorder.RecordOperation("ledger.update_account", err)
	if err != nil {
		return Account{}, err
	}
	s.recordAudit(ctx, input.UserID, "ledger.account.update", "account", id, map[string]any{"code": updated.Code, "category": updated.Category})
	return updated, nil
}

// DeleteAccount removes an account that no line references.
func (s *Service) DeleteAccount(ctx context.Context, id int64, userID string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetAccountForUpdate(ctx, id); err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return shared.NotFound(err)
			}
			return err
		}
		referenced, err := tx.AccountReferenced(ctx, id)
		if err != nil {
			return err
		}
		if referenced {
			return shared.Precondition(ErrCategoryLocked, shared.Detail{Field: "id", Value: id, Expected: "account without transactions"})
		}
		return tx.DeleteAccount(ctx, id)
	})
	s.recorder.RecordOperation("ledger.delete_account", err)
	if err != nil {
		return err
	}
	s.recordAudit(ctx, userID, "ledger.account.delete", "account", id, nil)
	return nil
}

// BalanceDashboard returns the balance of every non-nominal account.
func (s *Service) BalanceDashboard(ctx context.Context) ([]AccountBalance, error) {
	accounts, err := s.repo.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]Account, 0, len(accounts))
	for _, acct := range accounts {
		if !acct.IsNominal {
			visible = append(visible, acct)
		}
	}
	out := make([]AccountBalance, len(visible))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, acct := range visible {
		g.Go(func() error {
			bal, err := s.GetRunningBalance(gctx, acct.ID, Cutoff{})
			if err != nil {
				return fmt.Errorf("account %s: %w", acct.Code, err)
			}
			out[i] = AccountBalance{Account: acct, Balance: bal.Balance}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Account.Position != out[j].Account.Position {
			return out[i].Account.Position < out[j].Account.Position
		}
		return out[i].Account.Code < out[j].Account.Code
	})
	return out, nil
}

func (s *Service) account(ctx context.Context, id int64) (Account, error) {
	acct, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, shared.NotFound(err)
		}
		return Account{}, err
	}
	return acct, nil
}

func (s *Service) recordAudit(ctx context.Context, actor, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
