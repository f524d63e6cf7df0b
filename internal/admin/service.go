package admin

import (
	"context"
	"errors"
	"fmt"

	"lovepage-backend/internal/payments"
	"lovepage-backend/internal/plans"
	"lovepage-backend/internal/quota"
	"lovepage-backend/internal/shared/telemetry"
)

// ErrInvalidBalance rejects negative credit balances.
var ErrInvalidBalance = errors.New("balance must not be negative")

// AccountView is an account with its resolved plan and pages.
type AccountView struct {
	Account quota.Account `json:"account"`
	Plan    *plans.Plan   `json:"plan,omitempty"`
	Items   []quota.Item  `json:"items"`
}

// Listing limits for the admin views.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// PaymentLedger is the read side of the payments service used by admin views.
type PaymentLedger interface {
	Recent(ctx context.Context, limit int) ([]payments.Payment, error)
	Totals(ctx context.Context) (payments.Totals, error)
}

// Stats is the dashboard summary.
type Stats struct {
	quota.Stats
	Payments payments.Totals `json:"payments"`
}

// Service performs privileged plan and counter edits.
type Service struct {
	Store    quota.Store
	Catalog  *plans.Catalog
	Payments PaymentLedger
}

// NewService constructs a Service. A nil catalog uses the default catalog.
// ledger may be nil when payments are not configured.
func NewService(store quota.Store, catalog *plans.Catalog, ledger PaymentLedger) *Service {
	if catalog == nil {
		catalog = plans.Default()
	}
	return &Service{Store: store, Catalog: catalog, Payments: ledger}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// Accounts lists the newest accounts.
func (s *Service) Accounts(ctx context.Context, limit int) ([]quota.Account, error) {
	out, err := s.Store.ListAccounts(ctx, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	if out == nil {
		out = []quota.Account{}
	}
	return out, nil
}

// Items lists the newest pages across all accounts.
func (s *Service) Items(ctx context.Context, limit int) ([]quota.Item, error) {
	out, err := s.Store.RecentItems(ctx, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	if out == nil {
		out = []quota.Item{}
	}
	return out, nil
}

// RecentPayments lists the newest payments. Without a ledger it is empty.
func (s *Service) RecentPayments(ctx context.Context, limit int) ([]payments.Payment, error) {
	if s.Payments == nil {
		return []payments.Payment{}, nil
	}
	out, err := s.Payments.Recent(ctx, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	if out == nil {
		out = []payments.Payment{}
	}
	return out, nil
}

// Stats summarizes accounts, pages and payments.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	qs, err := s.Store.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("quota stats: %w", err)
	}
	out := Stats{Stats: qs}
	if s.Payments != nil {
		t, err := s.Payments.Totals(ctx)
		if err != nil {
			return Stats{}, fmt.Errorf("payment totals: %w", err)
		}
		out.Payments = t
	}
	return out, nil
}

// SetPlan moves accountID to planType (id or alias) with the given credit balance.
func (s *Service) SetPlan(ctx context.Context, actor, accountID, planType string, balance int) (quota.Account, error) {
	p, err := s.Catalog.Resolve(planType)
	if err != nil {
		return quota.Account{}, err
	}
	if balance < 0 {
		return quota.Account{}, ErrInvalidBalance
	}
	acct, err := s.Store.SetPlan(ctx, accountID, p.ID, balance)
	if err != nil {
		return quota.Account{}, fmt.Errorf("set plan: %w", err)
	}
	telemetry.Info("admin.plan_updated", map[string]any{
		"actor":      actor,
		"account_id": accountID,
		"plan":       p.ID,
		"balance":    balance,
	})
	return acct, nil
}

// Reset zeroes the account's creation and edit counters.
func (s *Service) Reset(ctx context.Context, actor, accountID string) (quota.Account, error) {
	acct, err := s.Store.Reset(ctx, accountID)
	if err != nil {
		return quota.Account{}, fmt.Errorf("reset account: %w", err)
	}
	telemetry.Info("admin.counters_reset", map[string]any{"actor": actor, "account_id": accountID})
	return acct, nil
}

// DeleteItem removes a page. Its creation stays counted.
func (s *Service) DeleteItem(ctx context.Context, actor, itemID string) error {
	if err := s.Store.DeleteItem(ctx, itemID); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	telemetry.Info("admin.item_deleted", map[string]any{"actor": actor, "item_id": itemID})
	return nil
}

// Account returns the account, its plan and its pages.
func (s *Service) Account(ctx context.Context, accountID string) (AccountView, error) {
	acct, err := s.Store.GetAccount(ctx, accountID)
	if err != nil {
		return AccountView{}, err
	}
	items, err := s.Store.ListItems(ctx, accountID)
	if err != nil {
		return AccountView{}, err
	}
	if items == nil {
		items = []quota.Item{}
	}
	view := AccountView{Account: acct, Items: items}
	if p, ok := s.Catalog.Lookup(acct.PlanID); ok {
		view.Plan = &p
	}
	return view, nil
}
