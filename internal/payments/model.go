package payments

import (
	"errors"
	"time"
)

// Payment statuses.
const (
	StatusVerified = "verified"
	StatusApplied  = "applied"
)

var (
	ErrInvalidSignature = errors.New("payment signature mismatch")
	ErrNotFound         = errors.New("payment not found")
	ErrPaymentMismatch  = errors.New("payment already recorded for another account or plan")
	ErrNotConfigured    = errors.New("payments not configured")
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderPaid        = errors.New("order already paid by another payment")
	ErrPlanMismatch     = errors.New("plan does not match the order")
)

// Order is a server-issued checkout for one plan. The order, not the
// client, decides which plan a payment buys and at what price.
type Order struct {
	OrderID     string    `json:"orderId"`
	AccountID   string    `json:"accountId"`
	PlanID      string    `json:"planId"`
	AmountMinor int64     `json:"amountMinor"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Totals aggregates payments for the admin dashboard.
type Totals struct {
	Payments     int   `json:"payments"`
	Applied      int   `json:"applied"`
	RevenueMinor int64 `json:"revenueMinor"`
}

// Payment is a verified gateway payment for a plan.
type Payment struct {
	PaymentID   string     `json:"paymentId"`
	OrderID     string     `json:"orderId"`
	AccountID   string     `json:"accountId"`
	PlanID      string     `json:"planId"`
	AmountMinor int64      `json:"amountMinor"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	AppliedAt   *time.Time `json:"appliedAt,omitempty"`
}

// Applied reports whether the upgrade has been applied.
func (p Payment) Applied() bool {
	return p.Status == StatusApplied
}
