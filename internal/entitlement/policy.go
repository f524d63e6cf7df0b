package entitlement

import (
	"fmt"
	"strings"
)

// Policy decides what a consumption returns when the store is unreachable.
type Policy string

const (
	// FailClosed surfaces ErrStoreUnavailable.
	FailClosed Policy = "fail_closed"
	// FailOpen allows the action without recording it.
	FailOpen Policy = "fail_open"
)

// ParsePolicy accepts fail_closed or fail_open; empty means FailClosed.
func ParsePolicy(raw string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FailClosed:
		return FailClosed, nil
	case FailOpen:
		return FailOpen, nil
	default:
		return FailClosed, fmt.Errorf("unknown unavailability policy %q", raw)
	}
}

// OnUnavailable returns the decision and error a consumption reports when
// the store cannot be reached.
func (p Policy) OnUnavailable(cause error) (Decision, error) {
	if p == FailOpen {
		return Decision{Allowed: true, Remaining: 0, Reason: ReasonAllowedByPolicy}, nil
	}
	return Deny(""), fmt.Errorf("%w: %v", ErrStoreUnavailable, cause)
}
