package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lovepage-backend/internal/plans"
	"lovepage-backend/internal/quota"
	"lovepage-backend/internal/shared/metrics"
	"lovepage-backend/internal/shared/telemetry"
)

// Upgrade results, also used as metric labels.
const (
	ResultApplied    = "applied"
	ResultDuplicate  = "duplicate"
	ResultSuperseded = "superseded"
	ResultFailed     = "failed"
)

// Upgrader applies the plan bought by a recorded payment. Applying the same
// payment twice is a no-op.
type Upgrader struct {
	Repo    Repo
	Store   quota.Store
	Catalog *plans.Catalog
	now     func() time.Time
}

// NewUpgrader constructs an Upgrader. A nil catalog uses the default catalog.
func NewUpgrader(repo Repo, store quota.Store, catalog *plans.Catalog) *Upgrader {
	if catalog == nil {
		catalog = plans.Default()
	}
	return &Upgrader{Repo: repo, Store: store, Catalog: catalog, now: func() time.Time { return time.Now().UTC() }}
}

// Apply moves the payment's account onto the purchased plan. An account
// already on a pricier plan keeps it; the payment is still marked applied.
func (u *Upgrader) Apply(ctx context.Context, paymentID string) (string, error) {
	result, err := u.apply(ctx, paymentID)
	if err != nil {
		metrics.IncPlanUpgrade(ResultFailed)
		telemetry.Error("payments.upgrade_failed", map[string]any{"payment_id": paymentID, "error": err.Error()})
		return ResultFailed, err
	}
	metrics.IncPlanUpgrade(result)
	return result, nil
}

func (u *Upgrader) apply(ctx context.Context, paymentID string) (string, error) {
	p, err := u.Repo.Get(ctx, paymentID)
	if err != nil {
		return "", fmt.Errorf("load payment: %w", err)
	}
	if p.Applied() {
		return ResultDuplicate, nil
	}
	plan, err := u.Catalog.Resolve(p.PlanID)
	if err != nil {
		return "", fmt.Errorf("payment %s: %w", paymentID, err)
	}

	acct, err := u.Store.EnsureAccount(ctx, p.AccountID)
	if err != nil {
		return "", fmt.Errorf("ensure account: %w", err)
	}

	result := ResultApplied
	if current, ok := u.Catalog.Lookup(acct.PlanID); ok && current.PriceMinor > plan.PriceMinor {
		result = ResultSuperseded
	} else if _, err := u.Store.SetPlan(ctx, p.AccountID, plan.ID, creditsFor(plan)); err != nil {
		return "", fmt.Errorf("set plan: %w", err)
	}

	marked, err := u.Repo.MarkApplied(ctx, paymentID, u.now())
	if err != nil {
		return "", fmt.Errorf("mark applied: %w", err)
	}
	if !marked {
		return ResultDuplicate, nil
	}
	telemetry.Info("payments.upgrade_applied", map[string]any{
		"payment_id": paymentID,
		"account_id": p.AccountID,
		"plan":       plan.ID,
		"from_plan":  acct.PlanID,
		"result":     result,
	})
	return result, nil
}

// creditsFor is the balance granted with a plan. Unbounded plans carry none.
func creditsFor(p plans.Plan) int {
	if p.MaxCreations.IsUnbounded() {
		return 0
	}
	return p.MaxCreations.Max()
}

// IsPermanent reports whether retrying Apply can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, plans.ErrUnknownPlan)
}
