package entitlement

// Reasons carried by denied or policy-allowed decisions.
const (
	ReasonQuotaExceeded    = "quota exceeded"
	ReasonUnknownPlan      = "unknown plan"
	ReasonAllowedByPolicy  = "store unavailable; allowed by policy"
	unboundedRemainingWire = -1
)

// Decision is the outcome of an entitlement check. It is never persisted.
//
// Remaining is meaningful only when Unbounded is false; unbounded decisions
// carry Remaining == -1 so the JSON form stays unambiguous.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Remaining int    `json:"remaining"`
	Unbounded bool   `json:"unbounded"`
	Reason    string `json:"reason,omitempty"`
	ItemID    string `json:"itemId,omitempty"`
}

// Allow returns an allowed decision with remaining units left.
func Allow(remaining int) Decision {
	return Decision{Allowed: true, Remaining: remaining}
}

// AllowUnbounded returns an allowed decision for an uncapped plan.
func AllowUnbounded() Decision {
	return Decision{Allowed: true, Remaining: unboundedRemainingWire, Unbounded: true}
}

// Deny returns a refused decision with the given reason.
func Deny(reason string) Decision {
	return Decision{Allowed: false, Remaining: 0, Reason: reason}
}

// Err maps a refused decision to its sentinel so callers can branch with
// errors.Is. Allowed decisions return nil.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonUnknownPlan:
		return ErrUnknownPlan
	default:
		return ErrQuotaExceeded
	}
}

// WithItem returns d annotated with the item it applies to.
func (d Decision) WithItem(itemID string) Decision {
	d.ItemID = itemID
	return d
}
