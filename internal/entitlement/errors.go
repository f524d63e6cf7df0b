package entitlement

import (
	"errors"

	"lovepage-backend/internal/plans"
)

var (
	// ErrUnknownPlan means an account references a plan missing from the
	// catalog. It is a configuration fault, not a user-facing denial.
	ErrUnknownPlan = plans.ErrUnknownPlan
	// ErrQuotaExceeded is the sentinel behind a "quota exceeded" denial.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrStoreUnavailable means the quota store could not be read or written.
	ErrStoreUnavailable = errors.New("quota store unavailable")
	// ErrConcurrentConflict means retries were exhausted while other
	// consumers kept winning the conditional increment.
	ErrConcurrentConflict = errors.New("concurrent consumption conflict")
	// ErrNotAuthenticated means the caller has no valid session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrItemMismatch means the item does not belong to the account.
	ErrItemMismatch = errors.New("item does not belong to account")
	// ErrInvalidInput means a required identifier was empty.
	ErrInvalidInput = errors.New("invalid input")
)
