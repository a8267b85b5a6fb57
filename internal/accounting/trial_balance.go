package accounting

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// AccountTotals aggregates the committed lines of one account.
type AccountTotals struct {
	Account Account
	Debit   decimal.Decimal
	Credit  decimal.Decimal
}

// Closing returns the signed balance of the totals.
func (a AccountTotals) Closing() decimal.Decimal {
	if a.Account.Category.DebitNormal() {
		return a.Debit.Sub(a.Credit)
	}
	return a.Credit.Sub(a.Debit)
}

// TrialBalanceRow is one account inside a trial balance group.
type TrialBalanceRow struct {
	Code    string  `json:"code"`
	Name    string  `json:"name"`
	Debit   float64 `json:"debit"`
	Credit  float64 `json:"credit"`
	Closing float64 `json:"closing"`
}

// TrialBalanceGroup aggregates the accounts of one category.
type TrialBalanceGroup struct {
	Category Category          `json:"category"`
	Rows     []TrialBalanceRow `json:"rows"`
	Debit    float64           `json:"debit"`
	Credit   float64           `json:"credit"`
}

// TrialBalance lists totals per category. Balanced is false when the ledger's debit and
// credit totals differ, which never holds for a healthy ledger.
type TrialBalance struct {
	Groups      []TrialBalanceGroup `json:"groups"`
	TotalDebit  float64             `json:"total_debit"`
	TotalCredit float64             `json:"total_credit"`
	Balanced    bool                `json:"balanced"`
}

var categoryOrder = map[Category]int{
	CategoryAsset:     0,
	CategoryLiability: 1,
	CategoryEquity:    2,
	CategoryIncome:    3,
	CategoryExpense:   4,
}

// BuildTrialBalance groups account totals by category.
func BuildTrialBalance(totals []AccountTotals) TrialBalance {
	groups := make(map[Category]*TrialBalanceGroup)
	sums := make(map[Category][2]decimal.Decimal)
	var debit, credit decimal.Decimal
	for _, t := range totals {
		cat := t.Account.Category
		grp, ok := groups[cat]
		if !ok {
			grp = &TrialBalanceGroup{Category: cat}
			groups[cat] = grp
		}
		grp.Rows = append(grp.Rows, TrialBalanceRow{
			Code:    t.Account.Code,
			Name:    t.Account.Name,
			Debit:   t.Debit.InexactFloat64(),
			Credit:  t.Credit.InexactFloat64(),
			Closing: t.Closing().InexactFloat64(),
		})
		s := sums[cat]
		sums[cat] = [2]decimal.Decimal{s[0].Add(t.Debit), s[1].Add(t.Credit)}
		debit = debit.Add(t.Debit)
		credit = credit.Add(t.Credit)
	}

	cats := make([]Category, 0, len(groups))
	for cat := range groups {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool { return categoryOrder[cats[i]] < categoryOrder[cats[j]] })

	result := TrialBalance{
		TotalDebit:  debit.InexactFloat64(),
		TotalCredit: credit.InexactFloat64(),
		Balanced:    debit.Equal(credit),
	}
	for _, cat := range cats {
		grp := groups[cat]
		sort.Slice(grp.Rows, func(i, j int) bool { return grp.Rows[i].Code < grp.Rows[j].Code })
		grp.Debit = sums[cat][0].InexactFloat64()
		grp.Credit = sums[cat][1].InexactFloat64()
		result.Groups = append(result.Groups, *grp)
	}
	return result
}

// TrialBalance reads committed totals per account and groups them.
func (s *Service) TrialBalance(ctx context.Context) (TrialBalance, error) {
	totals, err := s.repo.AccountTotals(ctx)
	if err != nil {
		return TrialBalance{}, err
	}
	tb := BuildTrialBalance(totals)
	if !tb.Balanced {
		s.logger.Error("ledger out of balance", "debit", tb.TotalDebit, "credit", tb.TotalCredit)
	}
	return tb, nil
}
