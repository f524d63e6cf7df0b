package consumption

import (
	"context"
	"errors"

	"lovepage-backend/internal/entitlement"
	"lovepage-backend/internal/plans"
	"lovepage-backend/internal/session"
)

// ItemSummary is one page with its edit entitlement.
type ItemSummary struct {
	ID        string               `json:"id"`
	EditsUsed int                  `json:"editsUsed"`
	Edit      entitlement.Decision `json:"edit"`
}

// Summary backs the dashboard's plan and remaining-quota panel.
type Summary struct {
	AccountID     string               `json:"accountId"`
	Plan          plans.Plan           `json:"plan"`
	CreationsUsed int                  `json:"creationsUsed"`
	Credits       int                  `json:"credits"`
	Create        entitlement.Decision `json:"create"`
	Items         []ItemSummary        `json:"items"`
}

// Summary reports the account's plan, counters and current decisions.
func (c *Coordinator) Summary(ctx context.Context, sess session.Session) (Summary, error) {
	accountID, err := sess.Require(c.now())
	if err != nil {
		return Summary{}, err
	}
	acct, err := c.loadAccount(ctx, accountID)
	if err != nil {
		return Summary{}, storeErr(err)
	}
	p, err := c.eval.Plan(acct)
	if err != nil {
		return Summary{}, err
	}
	create, err := c.eval.EvaluateCreate(acct)
	if err != nil {
		return Summary{}, err
	}
	items, err := c.store.ListItems(ctx, accountID)
	if err != nil {
		return Summary{}, storeErr(err)
	}

	out := Summary{
		AccountID:     acct.ID,
		Plan:          p,
		CreationsUsed: acct.CreationsUsed,
		Credits:       acct.Credits,
		Create:        create,
		Items:         make([]ItemSummary, 0, len(items)),
	}
	for _, it := range items {
		d, err := c.eval.EvaluateEdit(acct, it)
		if err != nil {
			return Summary{}, err
		}
		out.Items = append(out.Items, ItemSummary{ID: it.ID, EditsUsed: it.EditsUsed, Edit: d})
	}
	return out, nil
}

// storeErr reports read failures as unavailability. Summaries are read-only,
// so the fail-open policy does not apply.
func storeErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	_, wrapped := entitlement.FailClosed.OnUnavailable(err)
	return wrapped
}
