package guard

import (
	"fmt"

	"lovepage-backend/internal/entitlement"
)

// Message renders a decision as the remaining-quota text shown in the UI.
// Decisions that carry an item id describe edits of that page.
func Message(d entitlement.Decision) string {
	noun, plural, scope := "page", "pages", "on your plan"
	if d.ItemID != "" {
		noun, plural, scope = "edit", "edits", "for this page"
	}

	switch {
	case d.Allowed && d.Reason == entitlement.ReasonAllowedByPolicy:
		return "Quota could not be checked right now; you can continue"
	case d.Allowed && d.Unbounded:
		return "Unlimited " + plural
	case d.Allowed && d.Remaining == 1:
		return fmt.Sprintf("1 %s left %s", noun, scope)
	case d.Allowed:
		return fmt.Sprintf("%d %s left %s", d.Remaining, plural, scope)
	case d.Reason == entitlement.ReasonUnknownPlan:
		return "Your plan could not be verified. Please contact support"
	case d.Reason == entitlement.ReasonQuotaExceeded:
		return fmt.Sprintf("You have used all %s %s", plural, scope)
	default:
		return "This action is not available"
	}
}
