package plans

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Quota is a plan limit. The zero value is a bounded limit of 0; use
// Unbounded for plans without a cap.
type Quota struct {
	limit     int
	unbounded bool
}

// Limit returns a bounded quota of n units. Negative n is clamped to 0.
func Limit(n int) Quota {
	if n < 0 {
		n = 0
	}
	return Quota{limit: n}
}

// Unbounded returns a quota without a cap.
func Unbounded() Quota {
	return Quota{unbounded: true}
}

// IsUnbounded reports whether q has no cap.
func (q Quota) IsUnbounded() bool { return q.unbounded }

// Max returns the cap. It is meaningless when IsUnbounded is true.
func (q Quota) Max() int { return q.limit }

// Remaining returns the units left after used, never below zero.
// ok is false for unbounded quotas.
func (q Quota) Remaining(used int) (remaining int, ok bool) {
	if q.unbounded {
		return 0, false
	}
	left := q.limit - used
	if left < 0 {
		left = 0
	}
	return left, true
}

// StoreLimit encodes q for quota stores, which use -1 for no cap.
func (q Quota) StoreLimit() int {
	if q.unbounded {
		return -1
	}
	return q.limit
}

func (q Quota) String() string {
	if q.unbounded {
		return "unbounded"
	}
	return strconv.Itoa(q.limit)
}

// MarshalJSON renders unbounded quotas as null.
func (q Quota) MarshalJSON() ([]byte, error) {
	if q.unbounded {
		return []byte("null"), nil
	}
	return json.Marshal(q.limit)
}

// UnmarshalJSON accepts null as unbounded and a non-negative integer as a limit.
func (q *Quota) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*q = Unbounded()
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("quota: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("quota: negative limit %d", n)
	}
	*q = Limit(n)
	return nil
}

// Plan is an immutable tier definition.
type Plan struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	MaxCreations    Quota  `json:"maxCreations"`
	MaxEditsPerItem Quota  `json:"maxEditsPerItem"`
	// PriceMinor is the one-off price in minor currency units (paise).
	PriceMinor int64  `json:"priceMinor"`
	Currency   string `json:"currency"`
}

// IsUnbounded reports whether both dimensions are uncapped.
func (p Plan) IsUnbounded() bool {
	return p.MaxCreations.IsUnbounded() && p.MaxEditsPerItem.IsUnbounded()
}
