package payments

import (
	"context"
	"time"
)

// Repo persists orders and payments.
type Repo interface {
	CreateOrder(ctx context.Context, o Order) error
	GetOrder(ctx context.Context, orderID string) (Order, error)
	// Record inserts p if its PaymentID is new. It returns the stored
	// payment and whether this call created it. A second payment for an
	// order that already has one fails with ErrOrderPaid.
	Record(ctx context.Context, p Payment) (Payment, bool, error)
	Get(ctx context.Context, paymentID string) (Payment, error)
	// MarkApplied flips a verified payment to applied. It returns false
	// when the payment was already applied.
	MarkApplied(ctx context.Context, paymentID string, at time.Time) (bool, error)
	ListByAccount(ctx context.Context, accountID string) ([]Payment, error)
	// ListRecent returns up to limit payments across all accounts, newest first.
	ListRecent(ctx context.Context, limit int) ([]Payment, error)
	Totals(ctx context.Context) (Totals, error)
}
