package payments

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lovepage-backend/internal/plans"
	"lovepage-backend/internal/quota"
	"lovepage-backend/internal/queue"
)

const testSecret = "rzp_secret"

type recordingQueue struct {
	mu   sync.Mutex
	sent []queue.Message
	err  error
}

func (q *recordingQueue) Send(ctx context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.sent = append(q.sent, msg)
	return nil
}

func newTestService(q queue.Client) (*Service, *quota.MemoryStore, *MemoryRepo) {
	store := quota.NewMemoryStore()
	repo := NewMemoryRepo()
	svc := NewService(repo, NewUpgrader(repo, store, nil), q, nil, testSecret)
	return svc, store, repo
}

// checkout creates an order for planType and returns the signed callback a
// gateway would hand back for paymentID.
func checkout(t *testing.T, svc *Service, accountID, planType, paymentID string) ConfirmRequest {
	t.Helper()
	order, err := svc.CreateOrder(context.Background(), accountID, planType)
	require.NoError(t, err)
	return ConfirmRequest{
		OrderID:   order.OrderID,
		PaymentID: paymentID,
		Signature: Sign(testSecret, order.OrderID, paymentID),
	}
}

func TestCreateOrderUsesCatalogPrice(t *testing.T) {
	svc, _, repo := newTestService(nil)
	order, err := svc.CreateOrder(context.Background(), "acct-1", "tier-2")
	require.NoError(t, err)
	assert.Equal(t, "romantic-date", order.PlanID)
	assert.Equal(t, int64(19900), order.AmountMinor)
	assert.True(t, strings.HasPrefix(order.OrderID, "order_"))

	stored, err := repo.GetOrder(context.Background(), order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order, stored)
}

func TestConfirmAppliesInlineWithoutQueue(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(nil)

	req := checkout(t, svc, "acct-1", "tier-1", "pay_1")
	p, err := svc.Confirm(ctx, "acct-1", "req-1", req)
	require.NoError(t, err)
	assert.True(t, p.Applied())
	assert.Equal(t, "love-spark", p.PlanID)
	assert.Equal(t, int64(9900), p.AmountMinor)

	acct, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "love-spark", acct.PlanID)
	assert.Equal(t, 5, acct.Credits)

	req.PlanType = "love-spark"
	again, err := svc.Confirm(ctx, "acct-1", "req-2", req)
	require.NoError(t, err)
	assert.True(t, again.Applied())
}

func TestConfirmRejectsPlanOtherThanOrdered(t *testing.T) {
	ctx := context.Background()
	svc, store, repo := newTestService(nil)

	req := checkout(t, svc, "acct-1", "love-spark", "pay_cheap")
	req.PlanType = "forever-valentine"
	_, err := svc.Confirm(ctx, "acct-1", "", req)
	assert.ErrorIs(t, err, ErrPlanMismatch)

	_, err = repo.Get(ctx, "pay_cheap")
	assert.ErrorIs(t, err, ErrNotFound, "nothing recorded for a mismatched plan")
	_, err = store.GetAccount(ctx, "acct-1")
	assert.ErrorIs(t, err, quota.ErrNotFound, "account untouched")

	req.PlanType = ""
	p, err := svc.Confirm(ctx, "acct-1", "", req)
	require.NoError(t, err)
	assert.Equal(t, "love-spark", p.PlanID)
	assert.Equal(t, int64(9900), p.AmountMinor)
	acct, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "love-spark", acct.PlanID)
}

func TestConfirmEnqueuesWhenQueueConfigured(t *testing.T) {
	ctx := context.Background()
	q := &recordingQueue{}
	svc, store, _ := newTestService(q)

	p, err := svc.Confirm(ctx, "acct-1", "req-1", checkout(t, svc, "acct-1", "true-love", "pay_1"))
	require.NoError(t, err)
	assert.False(t, p.Applied())
	require.Len(t, q.sent, 1)
	assert.Equal(t, queue.Message{
		PaymentID:  "pay_1",
		AccountID:  "acct-1",
		PlanID:     "true-love",
		RequestID:  "req-1",
		EnqueuedAt: q.sent[0].EnqueuedAt,
		Version:    queue.MessageVersion,
	}, q.sent[0])

	_, err = store.GetAccount(ctx, "acct-1")
	assert.ErrorIs(t, err, quota.ErrNotFound, "upgrade waits for the worker")

	result, err := svc.Upgrader.Apply(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)
	result, err = svc.Upgrader.Apply(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, result)
}

func TestConfirmFallsBackInlineWhenEnqueueFails(t *testing.T) {
	svc, _, _ := newTestService(&recordingQueue{err: errors.New("sqs down")})
	p, err := svc.Confirm(context.Background(), "acct-1", "", checkout(t, svc, "acct-1", "romantic-date", "pay_1"))
	require.NoError(t, err)
	assert.True(t, p.Applied())
}

func TestConfirmRejections(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(nil)

	bad := checkout(t, svc, "acct-1", "love-spark", "pay_1")
	bad.Signature = Sign("other", bad.OrderID, bad.PaymentID)
	_, err := svc.Confirm(ctx, "acct-1", "", bad)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = svc.CreateOrder(ctx, "acct-1", "mystery")
	assert.ErrorIs(t, err, plans.ErrUnknownPlan)
	_, err = svc.CreateOrder(ctx, "acct-1", "free")
	assert.ErrorIs(t, err, ErrNotPurchasable)

	unknown := ConfirmRequest{OrderID: "order_unknown", PaymentID: "pay_2", Signature: Sign(testSecret, "order_unknown", "pay_2")}
	_, err = svc.Confirm(ctx, "acct-1", "", unknown)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	mystery := checkout(t, svc, "acct-1", "love-spark", "pay_3")
	mystery.PlanType = "mystery"
	_, err = svc.Confirm(ctx, "acct-1", "", mystery)
	assert.ErrorIs(t, err, plans.ErrUnknownPlan)

	owned := checkout(t, svc, "acct-1", "love-spark", "pay_4")
	_, err = svc.Confirm(ctx, "acct-2", "", owned)
	assert.ErrorIs(t, err, ErrPaymentMismatch, "order belongs to another account")
	_, err = svc.Confirm(ctx, "acct-1", "", owned)
	require.NoError(t, err)

	second := ConfirmRequest{OrderID: owned.OrderID, PaymentID: "pay_5", Signature: Sign(testSecret, owned.OrderID, "pay_5")}
	_, err = svc.Confirm(ctx, "acct-1", "", second)
	assert.ErrorIs(t, err, ErrOrderPaid)

	svc.KeySecret = ""
	_, err = svc.Confirm(ctx, "acct-1", "", owned)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = svc.CreateOrder(ctx, "acct-1", "love-spark")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRecentAndTotals(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(nil)
	base := time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	_, err := svc.Confirm(ctx, "acct-1", "", checkout(t, svc, "acct-1", "love-spark", "pay_1"))
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, "acct-2", "", checkout(t, svc, "acct-2", "true-love", "pay_2"))
	require.NoError(t, err)

	recent, err := svc.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "pay_2", recent[0].PaymentID)

	totals, err := svc.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, Totals{Payments: 2, Applied: 2, RevenueMinor: 9900 + 49900}, totals)
}

func TestUpgraderKeepsPricierPlan(t *testing.T) {
	ctx := context.Background()
	svc, store, repo := newTestService(nil)

	_, err := svc.Confirm(ctx, "acct-1", "", checkout(t, svc, "acct-1", "forever-valentine", "pay_1"))
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, "acct-1", "", checkout(t, svc, "acct-1", "love-spark", "pay_2"))
	require.NoError(t, err)

	acct, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "forever-valentine", acct.PlanID)
	assert.Zero(t, acct.Credits)

	p, err := repo.Get(ctx, "pay_2")
	require.NoError(t, err)
	assert.True(t, p.Applied())
}

func TestUpgraderPermanentErrors(t *testing.T) {
	ctx := context.Background()
	_, _, repo := newTestService(nil)
	u := NewUpgrader(repo, quota.NewMemoryStore(), nil)

	_, err := u.Apply(ctx, "missing")
	assert.True(t, IsPermanent(err))

	_, _, err = repo.Record(ctx, Payment{PaymentID: "pay_x", AccountID: "acct-1", PlanID: "retired-plan", Status: StatusVerified})
	require.NoError(t, err)
	_, err = u.Apply(ctx, "pay_x")
	assert.True(t, IsPermanent(err))
	assert.False(t, IsPermanent(errors.New("timeout")))
}
