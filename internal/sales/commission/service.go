package commission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dropship-ops/opsconsole/internal/shared"
)

// OrderSource loads orders placed in [from, to).
type OrderSource interface {
	ListOrders(ctx context.Context, from, to time.Time) ([]Order, error)
}

// Service computes commissions over stored orders.
type Service struct {
	source OrderSource
	logger *slog.Logger
}

// NewService constructs the commission service.
func NewService(source OrderSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, logger: logger}
}

// ForPeriod aggregates the commissions of orders placed in [from, to).
func (s *Service) ForPeriod(ctx context.Context, from, to time.Time) (Report, error) {
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return Report{}, shared.Validation(errors.New("commission: invalid period"), shared.Detail{Field: "to", Value: to, Expected: "after from"})
	}
	orders, err := s.source.ListOrders(ctx, from, to)
	if err != nil {
		return Report{}, err
	}
	report := Report{From: from, To: to, Commissions: Aggregate(orders)}
	var sales, gp, total decimal.Decimal
	for _, c := range report.Commissions {
		sales = sales.Add(decimal.NewFromFloat(c.TotalSales))
		gp = gp.Add(decimal.NewFromFloat(c.TotalGP))
		total = total.Add(decimal.NewFromFloat(c.Commission))
	}
	report.TotalSales = sales.InexactFloat64()
	report.TotalGP = gp.InexactFloat64()
	report.Total = total.InexactFloat64()
	s.logger.Debug("commission period aggregated", slog.Int("orders", len(orders)), slog.Int("salespeople", len(report.Commissions)))
	return report, nil
}
