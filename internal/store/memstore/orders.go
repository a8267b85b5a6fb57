package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/dropship-ops/opsconsole/internal/sales/commission"
)

// Orders returns the order source view of the store.
func (s *Store) Orders() *OrderRepo { return &OrderRepo{s: s} }

// OrderRepo implements commission.OrderSource.
type OrderRepo struct {
	s *Store
}

var _ commission.OrderSource = (*OrderRepo)(nil)

// AddOrder stores an order and returns it with its id.
func (r *OrderRepo) AddOrder(ctx context.Context, o commission.Order) (commission.Order, error) {
	o.ID = r.s.orderSeq.Add(1)
	if o.OrderedAt.IsZero() {
		o.OrderedAt = r.s.clock()
	}
	o.Lines = slices.Clone(o.Lines)
	r.s.mu.Lock()
	r.s.orders = append(r.s.orders, o)
	r.s.mu.Unlock()
	return o, nil
}

// ListOrders returns commissionable orders placed in [from, to), by id.
func (r *OrderRepo) ListOrders(ctx context.Context, from, to time.Time) ([]commission.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []commission.Order
	for _, o := range r.s.orders {
		if o.OrderedAt.Before(from) || !o.OrderedAt.Before(to) || !o.Status.Commissionable() {
			continue
		}
		o.Lines = slices.Clone(o.Lines)
		out = append(out, o)
	}
	return out, nil
}
