package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"lovepage-backend/internal/plans"
	"lovepage-backend/internal/queue"
	"lovepage-backend/internal/shared/telemetry"
)

// ErrNotPurchasable rejects plans that cannot be bought, such as the free tier.
var ErrNotPurchasable = errors.New("plan is not purchasable")

// OrderRequest starts a checkout for a plan.
type OrderRequest struct {
	PlanType string `json:"planType" binding:"required,max=64"`
}

// ConfirmRequest is the checkout callback forwarded by the client. PlanType
// is optional; when present it must match the order.
type ConfirmRequest struct {
	OrderID   string `json:"orderId" binding:"required,max=128"`
	PaymentID string `json:"paymentId" binding:"required,max=128"`
	Signature string `json:"signature" binding:"required,hexadecimal,max=128"`
	PlanType  string `json:"planType,omitempty" binding:"omitempty,max=64"`
}

// Service verifies payments and schedules plan upgrades.
type Service struct {
	Repo      Repo
	Upgrader  *Upgrader
	Queue     queue.Client
	Catalog   *plans.Catalog
	KeySecret string
	now       func() time.Time
	newID     func() string
}

// NewService constructs a Service. q may be nil, in which case upgrades are
// applied inline.
func NewService(repo Repo, upgrader *Upgrader, q queue.Client, catalog *plans.Catalog, keySecret string) *Service {
	if catalog == nil {
		catalog = plans.Default()
	}
	return &Service{
		Repo:      repo,
		Upgrader:  upgrader,
		Queue:     q,
		Catalog:   catalog,
		KeySecret: keySecret,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     newOrderID,
	}
}

func newOrderID() string {
	return "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
}

// CreateOrder issues an order for planType at the catalog price. Confirm
// later takes the plan and amount from this order.
func (s *Service) CreateOrder(ctx context.Context, accountID, planType string) (Order, error) {
	if strings.TrimSpace(s.KeySecret) == "" {
		return Order{}, ErrNotConfigured
	}
	plan, err := s.Catalog.Resolve(planType)
	if err != nil {
		return Order{}, err
	}
	if plan.PriceMinor <= 0 {
		return Order{}, ErrNotPurchasable
	}
	o := Order{
		OrderID:     s.newID(),
		AccountID:   accountID,
		PlanID:      plan.ID,
		AmountMinor: plan.PriceMinor,
		Currency:    plan.Currency,
		CreatedAt:   s.now(),
	}
	if err := s.Repo.CreateOrder(ctx, o); err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	telemetry.Info("payments.order_created", map[string]any{"order_id": o.OrderID, "account_id": accountID, "plan": plan.ID})
	return o, nil
}

// Confirm verifies a checkout for accountID, records the payment and
// applies or enqueues the upgrade. The plan and amount come from the order
// issued by CreateOrder. Confirming the same payment again returns the
// recorded payment.
func (s *Service) Confirm(ctx context.Context, accountID, requestID string, req ConfirmRequest) (Payment, error) {
	if strings.TrimSpace(s.KeySecret) == "" {
		return Payment{}, ErrNotConfigured
	}
	if !VerifySignature(s.KeySecret, req.OrderID, req.PaymentID, req.Signature) {
		telemetry.Warn("payments.signature_invalid", map[string]any{"account_id": accountID, "order_id": req.OrderID})
		return Payment{}, ErrInvalidSignature
	}
	order, err := s.Repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return Payment{}, err
	}
	if order.AccountID != accountID {
		telemetry.Warn("payments.order_account_mismatch", map[string]any{"account_id": accountID, "order_id": order.OrderID})
		return Payment{}, ErrPaymentMismatch
	}
	if strings.TrimSpace(req.PlanType) != "" {
		requested, err := s.Catalog.Resolve(req.PlanType)
		if err != nil {
			return Payment{}, err
		}
		if requested.ID != order.PlanID {
			telemetry.Warn("payments.plan_mismatch", map[string]any{
				"account_id": accountID,
				"order_id":   order.OrderID,
				"ordered":    order.PlanID,
				"requested":  requested.ID,
			})
			return Payment{}, ErrPlanMismatch
		}
	}

	p, created, err := s.Repo.Record(ctx, Payment{
		PaymentID:   req.PaymentID,
		OrderID:     order.OrderID,
		AccountID:   accountID,
		PlanID:      order.PlanID,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		Status:      StatusVerified,
		CreatedAt:   s.now(),
	})
	if errors.Is(err, ErrOrderPaid) {
		return Payment{}, err
	}
	if err != nil {
		return Payment{}, fmt.Errorf("record payment: %w", err)
	}
	if !created && (p.AccountID != accountID || p.OrderID != order.OrderID) {
		return Payment{}, ErrPaymentMismatch
	}
	if p.Applied() {
		return p, nil
	}

	if s.Queue != nil {
		err := s.Queue.Send(ctx, queue.Message{
			PaymentID:  p.PaymentID,
			AccountID:  p.AccountID,
			PlanID:     p.PlanID,
			RequestID:  requestID,
			EnqueuedAt: s.now().Format(time.RFC3339),
			Version:    queue.MessageVersion,
		})
		if err == nil {
			telemetry.Info("payments.upgrade_enqueued", map[string]any{"payment_id": p.PaymentID, "account_id": p.AccountID, "plan": p.PlanID})
			return p, nil
		}
		telemetry.Warn("payments.enqueue_failed", map[string]any{"payment_id": p.PaymentID, "error": err.Error()})
	}

	if _, err := s.Upgrader.Apply(ctx, p.PaymentID); err != nil {
		return Payment{}, err
	}
	return s.Repo.Get(ctx, p.PaymentID)
}

// List returns accountID's payments, oldest first.
func (s *Service) List(ctx context.Context, accountID string) ([]Payment, error) {
	return s.Repo.ListByAccount(ctx, accountID)
}

// DefaultRecentLimit and MaxRecentLimit bound Recent.
const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

// Recent returns the newest payments across all accounts.
func (s *Service) Recent(ctx context.Context, limit int) ([]Payment, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	return s.Repo.ListRecent(ctx, limit)
}

// Totals aggregates all payments.
func (s *Service) Totals(ctx context.Context) (Totals, error) {
	return s.Repo.Totals(ctx)
}
