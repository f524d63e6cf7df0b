package payments

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores orders and payments in memory.
type MemoryRepo struct {
	mu       sync.Mutex
	orders   map[string]Order
	payments map[string]Payment
	byOrder  map[string]string
}

// NewMemoryRepo constructs an in-memory payments repository.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		orders:   map[string]Order{},
		payments: map[string]Payment{},
		byOrder:  map[string]string{},
	}
}

func (r *MemoryRepo) CreateOrder(ctx context.Context, o Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.OrderID] = o
	return nil
}

func (r *MemoryRepo) GetOrder(ctx context.Context, orderID string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (r *MemoryRepo) Record(ctx context.Context, p Payment) (Payment, bool, error) {
	if err := ctx.Err(); err != nil {
		return Payment{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.payments[p.PaymentID]; ok {
		return existing, false, nil
	}
	if _, ok := r.byOrder[p.OrderID]; ok {
		return Payment{}, false, ErrOrderPaid
	}
	r.payments[p.PaymentID] = p
	r.byOrder[p.OrderID] = p.PaymentID
	return p, true, nil
}

func (r *MemoryRepo) Get(ctx context.Context, paymentID string) (Payment, error) {
	if err := ctx.Err(); err != nil {
		return Payment{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[paymentID]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepo) MarkApplied(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[paymentID]
	if !ok {
		return false, ErrNotFound
	}
	if p.Applied() {
		return false, nil
	}
	p.Status = StatusApplied
	p.AppliedAt = &at
	r.payments[paymentID] = p
	return true, nil
}

func (r *MemoryRepo) ListByAccount(ctx context.Context, accountID string) ([]Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Payment
	for _, p := range r.payments {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PaymentID < out[j].PaymentID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepo) ListRecent(ctx context.Context, limit int) ([]Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	out := make([]Payment, 0, len(r.payments))
	for _, p := range r.payments {
		out = append(out, p)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PaymentID > out[j].PaymentID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Totals(ctx context.Context) (Totals, error) {
	if err := ctx.Err(); err != nil {
		return Totals{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var t Totals
	for _, p := range r.payments {
		t.Payments++
		if p.Applied() {
			t.Applied++
			t.RevenueMinor += p.AmountMinor
		}
	}
	return t, nil
}

var _ Repo = (*MemoryRepo)(nil)
