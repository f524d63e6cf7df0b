package entitlement

import (
	"fmt"
	"strings"

	"lovepage-backend/internal/plans"
	"lovepage-backend/internal/quota"
)

// Evaluator turns an account (and item) snapshot into a Decision. It never
// reads or writes the store; callers pass fresh state in.
type Evaluator struct {
	Catalog *plans.Catalog
}

// NewEvaluator returns an Evaluator over catalog, or the default catalog when nil.
func NewEvaluator(catalog *plans.Catalog) *Evaluator {
	if catalog == nil {
		catalog = plans.Default()
	}
	return &Evaluator{Catalog: catalog}
}

// Plan resolves the account's plan.
func (e *Evaluator) Plan(acct quota.Account) (plans.Plan, error) {
	p, ok := e.Catalog.Lookup(acct.PlanID)
	if !ok {
		return plans.Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, acct.PlanID)
	}
	return p, nil
}

// EvaluateCreate decides whether acct may create another item.
func (e *Evaluator) EvaluateCreate(acct quota.Account) (Decision, error) {
	if strings.TrimSpace(acct.ID) == "" {
		return Deny(""), fmt.Errorf("%w: account id is empty", ErrInvalidInput)
	}
	p, err := e.Plan(acct)
	if err != nil {
		return Deny(ReasonUnknownPlan), err
	}
	return decide(p.MaxCreations, acct.CreationsUsed), nil
}

// EvaluateEdit decides whether acct may edit item once more.
func (e *Evaluator) EvaluateEdit(acct quota.Account, item quota.Item) (Decision, error) {
	if strings.TrimSpace(acct.ID) == "" || strings.TrimSpace(item.ID) == "" {
		return Deny(""), fmt.Errorf("%w: account and item ids are required", ErrInvalidInput)
	}
	if item.AccountID != acct.ID {
		return Deny(""), fmt.Errorf("%w: item %s", ErrItemMismatch, item.ID)
	}
	p, err := e.Plan(acct)
	if err != nil {
		return Deny(ReasonUnknownPlan).WithItem(item.ID), err
	}
	return decide(p.MaxEditsPerItem, item.EditsUsed).WithItem(item.ID), nil
}

// After returns the decision describing state once used units are consumed.
// A committed consume reports it so callers see the post-increment balance.
func After(q plans.Quota, used int) Decision {
	if q.IsUnbounded() {
		return AllowUnbounded()
	}
	left, _ := q.Remaining(used)
	return Decision{Allowed: true, Remaining: left}
}

func decide(q plans.Quota, used int) Decision {
	if q.IsUnbounded() {
		return AllowUnbounded()
	}
	left, _ := q.Remaining(used)
	if left <= 0 {
		return Deny(ReasonQuotaExceeded)
	}
	return Allow(left)
}
