package quota

import "time"

// Account is the per-account usage record.
type Account struct {
	ID            string    `json:"id"`
	PlanID        string    `json:"planId"`
	CreationsUsed int       `json:"creationsUsed"`
	Credits       int       `json:"credits"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Item is a created page and its edit counter.
type Item struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	EditsUsed int       `json:"editsUsed"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreationRequest asks the store to increment an account's creation counter
// and create ItemID, but only while the account is still on PlanID and below
// Limit. Limit < 0 means no cap. OpID makes the request replay-safe.
type CreationRequest struct {
	OpID      string
	AccountID string
	ItemID    string
	PlanID    string
	Limit     int
}

// EditRequest asks the store to increment an item's edit counter under the
// same conditions as CreationRequest.
type EditRequest struct {
	OpID      string
	AccountID string
	ItemID    string
	PlanID    string
	Limit     int
}

// Receipt is the committed result of a consume operation. Replayed is true
// when OpID had already been applied and nothing was incremented this time.
type Receipt struct {
	OpID      string
	AccountID string
	ItemID    string
	Used      int
	Replayed  bool
}

// Stats summarizes the store for the admin dashboard.
type Stats struct {
	Accounts      int            `json:"accounts"`
	Items         int            `json:"items"`
	CreationsUsed int            `json:"creationsUsed"`
	ByPlan        map[string]int `json:"byPlan"`
}

// DefaultPlanID is assigned at signup.
const DefaultPlanID = "free"
