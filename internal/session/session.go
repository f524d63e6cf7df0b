// Package session carries the caller's identity explicitly instead of reading
// it from a shared auth context.
package session

import (
	"fmt"
	"strings"
	"time"

	"lovepage-backend/internal/entitlement"
)

// State is the identity provider's view of a session.
type State string

const (
	SignedOut State = "signed_out"
	SignedIn  State = "signed_in"
	Expired   State = "expired"
)

// Session identifies the account acting on quota. The zero value is signed out.
type Session struct {
	AccountID string
	Token     string
	State     State
	// ExpiresAt is optional; the zero time never expires.
	ExpiresAt time.Time
}

// SignedInAs returns a signed-in session for accountID.
func SignedInAs(accountID, token string, expiresAt time.Time) Session {
	return Session{AccountID: accountID, Token: token, State: SignedIn, ExpiresAt: expiresAt}
}

// Anonymous returns a signed-out session.
func Anonymous() Session {
	return Session{State: SignedOut}
}

// Authenticated reports whether s is signed in with an account at now.
func (s Session) Authenticated(now time.Time) bool {
	if s.State != SignedIn || strings.TrimSpace(s.AccountID) == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

// Current returns s with State moved to Expired once ExpiresAt has passed.
func (s Session) Current(now time.Time) Session {
	if s.State == SignedIn && !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt) {
		s.State = Expired
	}
	return s
}

// Require returns the account id or entitlement.ErrNotAuthenticated.
func (s Session) Require(now time.Time) (string, error) {
	if !s.Authenticated(now) {
		return "", fmt.Errorf("%w: session %s", entitlement.ErrNotAuthenticated, s.Current(now).stateName())
	}
	return s.AccountID, nil
}

func (s Session) stateName() string {
	if s.State == "" {
		return string(SignedOut)
	}
	return string(s.State)
}
