package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// runStoreContract exercises behaviour every Store implementation shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("EnsureAccountDefaultsToFreeAndIsIdempotent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		a, err := s.EnsureAccount(ctx, "acct-1")
		require.NoError(t, err)
		require.Equal(t, DefaultPlanID, a.PlanID)
		require.Zero(t, a.CreationsUsed)

		_, err = s.SetPlan(ctx, "acct-1", "love-spark", 4)
		require.NoError(t, err)
		again, err := s.EnsureAccount(ctx, "acct-1")
		require.NoError(t, err)
		require.Equal(t, "love-spark", again.PlanID, "ensure must not reset an existing account")
		require.Equal(t, 4, again.Credits)
	})

	t.Run("MissingRecordsReturnNotFound", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, err := s.GetAccount(ctx, "nobody")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetItem(ctx, "nothing")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.ConsumeCreation(ctx, CreationRequest{OpID: "op", AccountID: "nobody", ItemID: "i", PlanID: "free", Limit: 1})
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.SetPlan(ctx, "nobody", "free", 0)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.Reset(ctx, "nobody")
		require.ErrorIs(t, err, ErrNotFound)
		require.ErrorIs(t, s.DeleteItem(ctx, "nothing"), ErrNotFound)
	})

	t.Run("ConsumeCreationStopsAtLimit", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, err := s.EnsureAccount(ctx, "acct-1")
		require.NoError(t, err)

		r, err := s.ConsumeCreation(ctx, CreationRequest{OpID: "op-1", AccountID: "acct-1", ItemID: "page-1", PlanID: "free", Limit: 1})
		require.NoError(t, err)
		require.Equal(t, 1, r.Used)
		require.Equal(t, "page-1", r.ItemID)
		require.False(t, r.Replayed)

		it, err := s.GetItem(ctx, "page-1")
		require.NoError(t, err)
		require.Equal(t, "acct-1", it.AccountID)
		require.Zero(t, it.EditsUsed)

		_, err = s.ConsumeCreation(ctx, CreationRequest{OpID: "op-2", AccountID: "acct-1", ItemID: "page-2", PlanID: "free", Limit: 1})
		require.ErrorIs(t, err, ErrConflict)

		a, err := s.GetAccount(ctx, "acct-1")
		require.NoError(t, err)
		require.Equal(t, 1, a.CreationsUsed)
		_, err = s.GetItem(ctx, "page-2")
		require.ErrorIs(t, err, ErrNotFound, "a refused creation must not leave an item behind")
	})

	t.Run("ConsumeCreationRejectsStalePlan", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, err := s.EnsureAccount(ctx, "acct-1")
		require.NoError(t, err)
		_, err = s.ConsumeCreation(ctx, CreationRequest{OpID: "op-1", AccountID: "acct-1", ItemID: "page-1", PlanID: "love-spark", Limit: 5})
		require.ErrorIs(t, err, ErrConflict)
	})

	t.Run("UnboundedLimitNeverConflicts", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, err := s.EnsureAccount(ctx, "acct-1")
		require.NoError(t, err)
		_, err = s.SetPlan(ctx, "acct-1", "forever-valentine", 0)
		require.NoError(t, err)
		for i := 1; i <= 10; i++ {
			r, err := s.ConsumeCreation(ctx, CreationRequest{
				OpID: fmt.Sprintf("op-%d", i), AccountID: "acct-1", ItemID: fmt.Sprintf("page-%d", i),
				PlanID: "forever-valentine", Limit: -1,
			})
			require.NoError(t, err)
			require.Equal(t, i, r.Used)
		}
	})

	t.Run("ReplayedOperationDoesNotIncrementTwice", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, err := s.EnsureAccount(ctx, "acct-1")
		require.NoError(t, err)
		req := CreationRequest{OpID: "op-1", AccountID: "acct-1", ItemID: "page-1", PlanID: "free", Limit: 1}
		first, err := s.ConsumeCreation(ctx, req)
		require.NoError(t, err)

		second, err := s.ConsumeCreation(ctx, req)
		require.NoError(t, err)
		require.True(t, second.Replayed)
		require.Equal(t, first.Used, second.Used)
		require.Equal(t, first.ItemID, second.ItemID)

		a, err := s.GetAccount(ctx, "acct-1")
		require.NoError(t, err)
		require.Equal(t, 1, a.CreationsUsed)
	})

	t.Run("ConsumeEditStopsAtLimitAndChecksOwnership", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		for _, id := range []string{"acct-1", "acct-2"} {
			_, err := s.EnsureAccount(ctx, id)
			require.NoError(t, err)
		}
		_, err := s.ConsumeCreation(ctx, CreationRequest{OpID: "c-1", AccountID: "acct-1", ItemID: "page-1", PlanID: "free", Limit: 1})
		require.NoError(t, err)

		for i := 1; i <= 3; i++ {
			r, err := s.ConsumeEdit(ctx, EditRequest{OpID: fmt.Sprintf("e-%d", i), AccountID: "acct-1", ItemID: "page-1", PlanID: "free", Limit: 3})
			require.NoError(t, err)
			require.Equal(t, i, r.Used)
		}
		_, err = s.ConsumeEdit(ctx, EditRequest{OpID: "e-4", AccountID: "acct-1", ItemID: "page-1", PlanID: "free", Limit: 3})
		require.ErrorIs(t, err, ErrConflict)

		_, err = s.ConsumeEdit(ctx, EditRequest{OpID: "e-5", AccountID: "acct-2", ItemID: "page-1", PlanID: "free", Limit: 3})
		require.ErrorIs(t, err, ErrNotFound)

		replay, err := s.ConsumeEdit(ctx, EditRequest{OpID: "e-2", AccountID: "acct-1", ItemID: "page-1", PlanID: "free", Limit: 3})
		require.NoError(t, err)
		require.True(t, replay.Replayed)
		require.Equal(t, 2, replay.Used)

		it, err := s.GetItem(ctx, "page-1")
		require.NoError(t, err)
		require.Equal(t, 3, it.EditsUsed)
	})

	t.Run("ResetZeroesCountersAndDeleteDoesNotRefund", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, err := s.EnsureAccount(ctx, "acct-1")
		require.NoError(t, err)
		_, err = s.SetPlan(ctx, "acct-1", "love-spark", 0)
		require.NoError(t, err)
		for i := 1; i <= 2; i++ {
			_, err := s.ConsumeCreation(ctx, CreationRequest{
				OpID: fmt.Sprintf("c-%d", i), AccountID: "acct-1", ItemID: fmt.Sprintf("page-%d", i), PlanID: "love-spark", Limit: 5,
			})
			require.NoError(t, err)
		}
		_, err = s.ConsumeEdit(ctx, EditRequest{OpID: "e-1", AccountID: "acct-1", ItemID: "page-1", PlanID: "love-spark", Limit: 5})
		require.NoError(t, err)

		items, err := s.ListItems(ctx, "acct-1")
		require.NoError(t, err)
		require.Len(t, items, 2)

		require.NoError(t, s.DeleteItem(ctx, "page-2"))
		a, err := s.GetAccount(ctx, "acct-1")
		require.NoError(t, err)
		require.Equal(t, 2, a.CreationsUsed, "deleting a page keeps its creation counted")
		items, err = s.ListItems(ctx, "acct-1")
		require.NoError(t, err)
		require.Len(t, items, 1)

		a, err = s.Reset(ctx, "acct-1")
		require.NoError(t, err)
		require.Zero(t, a.CreationsUsed)
		it, err := s.GetItem(ctx, "page-1")
		require.NoError(t, err)
		require.Zero(t, it.EditsUsed)
	})

	t.Run("ConcurrentCreationsNeverExceedLimit", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, err := s.EnsureAccount(ctx, "acct-1")
		require.NoError(t, err)
		_, err = s.SetPlan(ctx, "acct-1", "love-spark", 0)
		require.NoError(t, err)

		const workers = 20
		const limit = 5
		var wg sync.WaitGroup
		var ok, conflicts int32
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.ConsumeCreation(ctx, CreationRequest{
					OpID: fmt.Sprintf("op-%d", i), AccountID: "acct-1", ItemID: fmt.Sprintf("page-%d", i),
					PlanID: "love-spark", Limit: limit,
				})
				switch {
				case err == nil:
					atomic.AddInt32(&ok, 1)
				case errors.Is(err, ErrConflict):
					atomic.AddInt32(&conflicts, 1)
				default:
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("unexpected error: %v", err)
		}
		require.EqualValues(t, limit, ok)
		require.EqualValues(t, workers-limit, conflicts)

		a, err := s.GetAccount(ctx, "acct-1")
		require.NoError(t, err)
		require.Equal(t, limit, a.CreationsUsed)
	})

	t.Run("ListingsAndStats", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		for _, id := range []string{"acct-1", "acct-2"} {
			_, err := s.EnsureAccount(ctx, id)
			require.NoError(t, err)
		}
		_, err := s.SetPlan(ctx, "acct-2", "love-spark", 5)
		require.NoError(t, err)
		for i, acct := range []string{"acct-1", "acct-2", "acct-2"} {
			plan := "free"
			if acct == "acct-2" {
				plan = "love-spark"
			}
			_, err := s.ConsumeCreation(ctx, CreationRequest{
				OpID: fmt.Sprintf("op-%d", i), AccountID: acct, ItemID: fmt.Sprintf("page-%d", i), PlanID: plan, Limit: 5,
			})
			require.NoError(t, err)
		}
		require.NoError(t, s.DeleteItem(ctx, "page-0"))

		accounts, err := s.ListAccounts(ctx, 0)
		require.NoError(t, err)
		require.Len(t, accounts, 2)
		limited, err := s.ListAccounts(ctx, 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)

		items, err := s.RecentItems(ctx, 0)
		require.NoError(t, err)
		require.Len(t, items, 2, "deleted pages are not listed")
		for _, it := range items {
			require.Equal(t, "acct-2", it.AccountID)
		}

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, st.Accounts)
		require.Equal(t, 2, st.Items)
		require.Equal(t, 3, st.CreationsUsed, "deleting a page does not refund its creation")
		require.Equal(t, map[string]int{"free": 1, "love-spark": 1}, st.ByPlan)
	})
}

// runPruneContract checks stores that keep operation ids until pruned.
func runPruneContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	_, err := s.EnsureAccount(ctx, "acct-1")
	require.NoError(t, err)
	_, err = s.ConsumeCreation(ctx, CreationRequest{OpID: "op-create", AccountID: "acct-1", ItemID: "page-1", PlanID: "free", Limit: 1})
	require.NoError(t, err)
	edit := EditRequest{OpID: "op-edit", AccountID: "acct-1", ItemID: "page-1", PlanID: "free", Limit: 3}
	_, err = s.ConsumeEdit(ctx, edit)
	require.NoError(t, err)

	n, err := s.PruneOperations(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, n, "recent operations are kept")
	r, err := s.ConsumeEdit(ctx, edit)
	require.NoError(t, err)
	require.True(t, r.Replayed)

	n, err = s.PruneOperations(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	r, err = s.ConsumeEdit(ctx, edit)
	require.NoError(t, err)
	require.False(t, r.Replayed, "a pruned id is a new operation")
	require.Equal(t, 2, r.Used)
}
