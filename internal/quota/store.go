package quota

import (
	"context"
	"time"
)

// Store is the durable system of record for usage counters.
//
// ConsumeCreation and ConsumeEdit are the only mutating paths for counters
// and must each run as a single atomic step: increment only if the condition
// still holds, otherwise return ErrConflict without side effects. A request
// whose OpID already committed returns the original Receipt with
// Replayed=true.
type Store interface {
	EnsureAccount(ctx context.Context, accountID string) (Account, error)
	GetAccount(ctx context.Context, accountID string) (Account, error)
	GetItem(ctx context.Context, itemID string) (Item, error)
	ListItems(ctx context.Context, accountID string) ([]Item, error)
	ConsumeCreation(ctx context.Context, req CreationRequest) (Receipt, error)
	ConsumeEdit(ctx context.Context, req EditRequest) (Receipt, error)
	SetPlan(ctx context.Context, accountID, planID string, credits int) (Account, error)
	Reset(ctx context.Context, accountID string) (Account, error)
	DeleteItem(ctx context.Context, itemID string) error

	// ListAccounts and RecentItems return up to limit rows, newest first.
	// limit <= 0 returns everything.
	ListAccounts(ctx context.Context, limit int) ([]Account, error)
	RecentItems(ctx context.Context, limit int) ([]Item, error)
	Stats(ctx context.Context) (Stats, error)

	// PruneOperations forgets operation ids recorded before cutoff. A retry
	// carrying a pruned id is treated as a new operation.
	PruneOperations(ctx context.Context, cutoff time.Time) (int, error)
}
