package commission

import (
	"strings"
	"time"
)

// OrderStatus is the lifecycle state of a sales order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Rate is the share of gross profit paid as commission.
const Rate = 0.10

// CommissionableStatuses lists the order states that earn commission.
var CommissionableStatuses = []OrderStatus{OrderStatusDelivered, OrderStatusCompleted, OrderStatusPaid}

// Commissionable reports whether orders in status s earn commission. Matching ignores case.
func (s OrderStatus) Commissionable() bool {
	norm := OrderStatus(strings.ToLower(strings.TrimSpace(string(s))))
	for _, allowed := range CommissionableStatuses {
		if norm == allowed {
			return true
		}
	}
	return false
}

// Order is the read model of a sales order.
type Order struct {
	ID            int64       `json:"id"`
	SalespersonID string      `json:"salesperson_id"`
	Status        OrderStatus `json:"status"`
	Total         float64     `json:"total"`
	OrderedAt     time.Time   `json:"ordered_at"`
	Lines         []OrderLine `json:"lines"`
}

// OrderLine is one product line of an order.
type OrderLine struct {
	ProductID int64   `json:"product_id"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	UnitCost  float64 `json:"unit_cost"`
}

// Commission is the result for one salesperson.
type Commission struct {
	SalespersonID string  `json:"salesperson_id"`
	Orders        int     `json:"orders"`
	TotalSales    float64 `json:"total_sales"`
	TotalGP       float64 `json:"total_gp"`
	Commission    float64 `json:"commission"`
}

// Report is the commission run of a period.
type Report struct {
	From        time.Time    `json:"from"`
	To          time.Time    `json:"to"`
	Commissions []Commission `json:"commissions"`
	TotalSales  float64      `json:"total_sales"`
	TotalGP     float64      `json:"total_gp"`
	Total       float64      `json:"total_commission"`
}
