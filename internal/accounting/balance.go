package accounting

import (
	"github.com/shopspring/decimal"
)

// SignedAmount returns the contribution of a line to the balance of an account of the given
// category: debit - credit for assets and expenses, credit - debit otherwise.
func SignedAmount(category Category, debit, credit float64) decimal.Decimal {
	d := decimal.NewFromFloat(debit)
	c := decimal.NewFromFloat(credit)
	if category.DebitNormal() {
		return d.Sub(c)
	}
	return c.Sub(d)
}

// Replay folds lines, in ascending id order, onto a starting checkpoint. Lines at or before
// the checkpoint or outside the cutoff are skipped.
func Replay(category Category, start Checkpoint, lines []PostedLine, cutoff Cutoff) Balance {
	bal := Balance{
		AccountID:        start.AccountID,
		Category:         category,
		LastLineID:       start.LineID,
		LastPostedAt:     start.MaxPostedAt,
		CheckpointLineID: start.LineID,
		exact:            start.Balance,
	}
	for _, line := range lines {
		if line.ID <= start.LineID || !cutoff.Includes(line) {
			continue
		}
		bal.exact = bal.exact.Add(SignedAmount(category, line.Debit, line.Credit))
		bal.Replayed++
		if line.ID > bal.LastLineID {
			bal.LastLineID = line.ID
		}
		if line.PostedAt.After(bal.LastPostedAt) {
			bal.LastPostedAt = line.PostedAt
		}
	}
	bal.Balance = bal.exact.InexactFloat64()
	return bal
}

// checkpointFrom turns a balance into a checkpoint covering the same lines.
func checkpointFrom(b Balance) Checkpoint {
	return Checkpoint{
		AccountID:   b.AccountID,
		LineID:      b.LastLineID,
		Balance:     b.exact,
		MaxPostedAt: b.LastPostedAt,
	}
}
