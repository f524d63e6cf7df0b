package quota

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps counters in process memory. Every mutation runs under a
// single mutex, which makes the conditional increments atomic.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
	items    map[string]Item
	ops      map[string]opRecord
	now      func() time.Time
}

type opRecord struct {
	receipt Receipt
	at      time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]Account),
		items:    make(map[string]Item),
		ops:      make(map[string]opRecord),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) EnsureAccount(ctx context.Context, accountID string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		a = Account{ID: accountID, PlanID: DefaultPlanID, CreatedAt: s.now()}
		s.accounts[accountID] = a
	}
	return a, nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) GetItem(ctx context.Context, itemID string) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[itemID]
	if !ok {
		return Item{}, ErrNotFound
	}
	return it, nil
}

func (s *MemoryStore) ListItems(ctx context.Context, accountID string) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Item
	for _, it := range s.items {
		if it.AccountID == accountID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ConsumeCreation(ctx context.Context, req CreationRequest) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prior, ok := s.ops[req.OpID]; ok {
		r := prior.receipt
		r.Replayed = true
		return r, nil
	}
	a, ok := s.accounts[req.AccountID]
	if !ok {
		return Receipt{}, ErrNotFound
	}
	if a.PlanID != req.PlanID || !below(a.CreationsUsed, req.Limit) {
		return Receipt{}, ErrConflict
	}
	a.CreationsUsed++
	s.accounts[a.ID] = a
	s.items[req.ItemID] = Item{ID: req.ItemID, AccountID: a.ID, CreatedAt: s.now()}
	r := Receipt{OpID: req.OpID, AccountID: a.ID, ItemID: req.ItemID, Used: a.CreationsUsed}
	s.ops[req.OpID] = opRecord{receipt: r, at: s.now()}
	return r, nil
}

func (s *MemoryStore) ConsumeEdit(ctx context.Context, req EditRequest) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prior, ok := s.ops[req.OpID]; ok {
		r := prior.receipt
		r.Replayed = true
		return r, nil
	}
	a, ok := s.accounts[req.AccountID]
	if !ok {
		return Receipt{}, ErrNotFound
	}
	it, ok := s.items[req.ItemID]
	if !ok || it.AccountID != req.AccountID {
		return Receipt{}, ErrNotFound
	}
	if a.PlanID != req.PlanID || !below(it.EditsUsed, req.Limit) {
		return Receipt{}, ErrConflict
	}
	it.EditsUsed++
	s.items[it.ID] = it
	r := Receipt{OpID: req.OpID, AccountID: a.ID, ItemID: it.ID, Used: it.EditsUsed}
	s.ops[req.OpID] = opRecord{receipt: r, at: s.now()}
	return r, nil
}

func (s *MemoryStore) SetPlan(ctx context.Context, accountID, planID string, credits int) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return Account{}, ErrNotFound
	}
	a.PlanID = planID
	a.Credits = credits
	s.accounts[accountID] = a
	return a, nil
}

func (s *MemoryStore) Reset(ctx context.Context, accountID string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return Account{}, ErrNotFound
	}
	a.CreationsUsed = 0
	s.accounts[accountID] = a
	for id, it := range s.items {
		if it.AccountID == accountID {
			it.EditsUsed = 0
			s.items[id] = it
		}
	}
	return a, nil
}

func (s *MemoryStore) DeleteItem(ctx context.Context, itemID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[itemID]; !ok {
		return ErrNotFound
	}
	delete(s.items, itemID)
	return nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context, limit int) ([]Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return truncate(out, limit), nil
}

func (s *MemoryStore) RecentItems(ctx context.Context, limit int) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return truncate(out, limit), nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Accounts: len(s.accounts), Items: len(s.items), ByPlan: map[string]int{}}
	for _, a := range s.accounts {
		st.CreationsUsed += a.CreationsUsed
		st.ByPlan[a.PlanID]++
	}
	return st, nil
}

func (s *MemoryStore) PruneOperations(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, op := range s.ops {
		if op.at.Before(cutoff) {
			delete(s.ops, id)
			n++
		}
	}
	return n, nil
}

func truncate[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

// below reports whether used is under limit; limit < 0 means no cap.
func below(used, limit int) bool {
	return limit < 0 || used < limit
}

var _ Store = (*MemoryStore)(nil)
