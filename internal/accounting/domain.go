package accounting

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dropship-ops/opsconsole/internal/shared"
)

// Category enumerates account classes. It decides the sign convention of the balance.
type Category string

const (
	CategoryAsset     Category = "asset"
	CategoryLiability Category = "liability"
	CategoryEquity    Category = "equity"
	CategoryIncome    Category = "income"
	CategoryExpense   Category = "expense"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryAsset, CategoryLiability, CategoryEquity, CategoryIncome, CategoryExpense:
		return true
	}
	return false
}

// DebitNormal reports whether debits increase balances of this category.
func (c Category) DebitNormal() bool {
	return c == CategoryAsset || c == CategoryExpense
}

// ParseCategory normalises free text into a Category.
func ParseCategory(raw string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	return c, c.Valid()
}

// Reference types written by the console. Callers may use other values.
const (
	ReferenceManual     = "Manual"
	ReferenceOrder      = "Order"
	ReferenceAdjustment = "Adjustment"
	ReferenceTransfer   = "Transfer"
	ReferencePurchase   = "Purchase"
)

const (
	// MoneyPlaces is the precision of stored line amounts.
	MoneyPlaces = 2
	// BalanceEpsilon is the tolerance between debit and credit totals.
	BalanceEpsilon = 0.001
)

// Account models a ledger account.
type Account struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Category  Category  `json:"category"`
	Currency  string    `json:"currency"`
	Position  int       `json:"position"`
	IsNominal bool      `json:"is_nominal"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is a committed, balanced set of lines. Never edited after commit.
type Transaction struct {
	ID            int64             `json:"id"`
	Description   string            `json:"description"`
	ReferenceType string            `json:"reference_type"`
	OrderRef      string            `json:"order_ref,omitempty"`
	UserID        string            `json:"user_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	Lines         []TransactionLine `json:"lines"`
}

// TransactionLine stores a debit or a credit against one account.
type TransactionLine struct {
	ID            int64   `json:"id"`
	TransactionID int64   `json:"transaction_id"`
	AccountID     int64   `json:"account_id"`
	Debit         float64 `json:"debit"`
	Credit        float64 `json:"credit"`
}

// PostedLine is a line joined with the posting time of its transaction.
type PostedLine struct {
	TransactionLine
	PostedAt time.Time
}

// LineInput describes one line of a transaction request.
type LineInput struct {
	AccountID int64   `json:"account_id" validate:"required,gt=0"`
	Debit     float64 `json:"debit" validate:"gte=0"`
	Credit    float64 `json:"credit" validate:"gte=0"`
}

// CreateTransactionInput groups the fields of a transaction request.
type CreateTransactionInput struct {
	Description    string      `json:"description" validate:"required,max=500"`
	ReferenceType  string      `json:"reference_type" validate:"omitempty,max=64"`
	OrderRef       string      `json:"order_ref" validate:"omitempty,max=128"`
	UserID         string      `json:"-"`
	IdempotencyKey string      `json:"idempotency_key" validate:"omitempty,max=128"`
	Lines          []LineInput `json:"lines" validate:"required,min=2,dive"`
}

// Cutoff bounds a balance read. Zero fields do not bound.
type Cutoff struct {
	AsOf   time.Time
	LineID int64
}

// Includes reports whether a posted line falls inside the cutoff.
func (c Cutoff) Includes(line PostedLine) bool {
	if c.LineID > 0 && line.ID > c.LineID {
		return false
	}
	if !c.AsOf.IsZero() && line.PostedAt.After(c.AsOf) {
		return false
	}
	return true
}

// Admits reports whether every line covered by cp lies inside the cutoff.
func (c Cutoff) Admits(cp Checkpoint) bool {
	if c.LineID > 0 && cp.LineID > c.LineID {
		return false
	}
	if !c.AsOf.IsZero() && cp.MaxPostedAt.After(c.AsOf) {
		return false
	}
	return true
}

// Checkpoint is a materialised balance of an account up to and including LineID.
type Checkpoint struct {
	AccountID   int64           `json:"account_id"`
	LineID      int64           `json:"line_id"`
	Balance     decimal.Decimal `json:"balance"`
	MaxPostedAt time.Time       `json:"max_posted_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Balance is the result of a running-balance read.
type Balance struct {
	AccountID        int64     `json:"account_id"`
	Category         Category  `json:"category"`
	Balance          float64   `json:"balance"`
	LastLineID       int64     `json:"last_line_id"`
	LastPostedAt     time.Time `json:"last_posted_at"`
	CheckpointLineID int64     `json:"checkpoint_line_id"`
	Replayed         int       `json:"replayed"`

	exact decimal.Decimal
}

// Exact returns the balance without float conversion.
func (b Balance) Exact() decimal.Decimal { return b.exact }

// AccountBalance pairs an account with its current balance.
type AccountBalance struct {
	Account Account `json:"account"`
	Balance float64 `json:"balance"`
}

// TransactionFilter narrows a transaction listing.
type TransactionFilter struct {
	From      time.Time
	To        time.Time
	Search    string
	Limit     int
	Ascending bool
}

// DefaultListLimit caps a listing when the caller sets no limit.
const DefaultListLimit = 100

// Normalize applies listing defaults.
func (f TransactionFilter) Normalize() TransactionFilter {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = DefaultListLimit
	}
	f.Search = strings.TrimSpace(f.Search)
	return f
}

// AccountInput carries the editable account fields.
type AccountInput struct {
	Code      string `json:"code" validate:"required,max=32"`
	Name      string `json:"name" validate:"required,max=200"`
	Category  string `json:"category" validate:"required,oneof=asset liability equity income expense"`
	Currency  string `json:"currency" validate:"omitempty,len=3"`
	Position  int    `json:"position" validate:"gte=0"`
	IsNominal bool   `json:"is_nominal"`
	UserID    string `json:"-"`
}

var (
	// ErrUnbalancedTransaction indicates debit and credit totals differ or sum to zero.
	ErrUnbalancedTransaction = errors.New("accounting: transaction lines must balance")
	// ErrInvalidLine indicates a malformed line.
	ErrInvalidLine = errors.New("accounting: invalid transaction line")
	// ErrUnknownAccount indicates a line references a missing account.
	ErrUnknownAccount = fmt.Errorf("%w: unknown account", ErrInvalidLine)
	// ErrCategoryLocked indicates a referenced account cannot change category or be deleted.
	ErrCategoryLocked = errors.New("accounting: account already referenced by transactions")
	// ErrAccountNotFound indicates missing account.
	ErrAccountNotFound = errors.New("accounting: account not found")
	// ErrTransactionNotFound indicates missing transaction.
	ErrTransactionNotFound = errors.New("accounting: transaction not found")
	// ErrCheckpointNotFound indicates no checkpoint applies.
	ErrCheckpointNotFound = errors.New("accounting: checkpoint not found")
	// ErrDuplicateAccountCode indicates the code is taken.
	ErrDuplicateAccountCode = errors.New("accounting: account code already exists")
)

// Validate checks shape and balance of the request. Account existence needs the store and
// is checked by the service.
func (in CreateTransactionInput) Validate() error {
	if strings.TrimSpace(in.Description) == "" {
		return shared.Validation(errors.New("accounting: description required"), shared.Detail{Field: "description", Expected: "non-empty text"})
	}
	if len(in.Lines) < 2 {
		return shared.Validation(ErrInvalidLine, shared.Detail{Field: "lines", Value: len(in.Lines), Expected: "at least two lines"})
	}
	var debit, credit decimal.Decimal
	for idx, line := range in.Lines {
		row := idx + 1
		if line.AccountID <= 0 {
			return shared.Validation(ErrInvalidLine, shared.Detail{Row: row, Field: "account_id", Value: line.AccountID, Expected: "positive account id"})
		}
		for _, amount := range []struct {
			field string
			value float64
		}{{"debit", line.Debit}, {"credit", line.Credit}} {
			if math.IsNaN(amount.value) || math.IsInf(amount.value, 0) || amount.value < 0 {
				return shared.Validation(ErrInvalidLine, shared.Detail{Row: row, Field: amount.field, Value: amount.value, Expected: "finite amount >= 0"})
			}
		}
		d, c := money(line.Debit), money(line.Credit)
		if d.IsZero() == c.IsZero() {
			return shared.Validation(ErrInvalidLine, shared.Detail{Row: row, Field: "debit/credit", Value: fmt.Sprintf("%v/%v", line.Debit, line.Credit), Expected: "exactly one non-zero side"})
		}
		debit = debit.Add(d)
		credit = credit.Add(c)
	}
	if debit.Sub(credit).Abs().GreaterThan(decimal.NewFromFloat(BalanceEpsilon)) {
		return shared.Validation(ErrUnbalancedTransaction, shared.Detail{Field: "lines", Value: fmt.Sprintf("debit %s credit %s", debit.StringFixed(MoneyPlaces), credit.StringFixed(MoneyPlaces)), Expected: "equal totals"})
	}
	if !debit.IsPositive() {
		return shared.Validation(ErrUnbalancedTransaction, shared.Detail{Field: "lines", Value: debit.StringFixed(MoneyPlaces), Expected: "total > 0"})
	}
	return nil
}

// normalizedLines rounds amounts to the stored precision.
func (in CreateTransactionInput) normalizedLines() []TransactionLine {
	out := make([]TransactionLine, 0, len(in.Lines))
	for _, line := range in.Lines {
		out = append(out, TransactionLine{
			AccountID: line.AccountID,
			Debit:     money(line.Debit).InexactFloat64(),
			Credit:    money(line.Credit).InexactFloat64(),
		})
	}
	return out
}

// Validate checks an account request.
func (in AccountInput) Validate() (Account, error) {
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	if code == "" {
		return Account{}, shared.Validation(errors.New("accounting: account code required"), shared.Detail{Field: "code"})
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Account{}, shared.Validation(errors.New("accounting: account name required"), shared.Detail{Field: "name"})
	}
	category, ok := ParseCategory(in.Category)
	if !ok {
		return Account{}, shared.Validation(errors.New("accounting: invalid category"), shared.Detail{Field: "category", Value: in.Category, Expected: "asset, liability, equity, income or expense"})
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "USD"
	}
	return Account{
		Code:      code,
		Name:      name,
		Category:  category,
		Currency:  currency,
		Position:  in.Position,
		IsNominal: in.IsNominal,
	}, nil
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(MoneyPlaces)
}
