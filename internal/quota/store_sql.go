package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lovepage-backend/internal/shared/storage/db"
)

const (
	opKindCreate = "create"
	opKindEdit   = "edit"
)

// SQLStore keeps counters in Postgres or SQLite. Statements are written in
// the common subset of both dialects.
type SQLStore struct {
	DB  *sql.DB
	now func() time.Time
}

// NewSQLStore constructs a SQL-backed quota store.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{DB: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SQLStore) EnsureAccount(ctx context.Context, accountID string) (Account, error) {
	if _, err := s.DB.ExecContext(ctx, `
INSERT INTO quota_accounts (id, plan_id, creations_used, credits, created_at, updated_at)
VALUES ($1, $2, 0, 0, $3, $3)
ON CONFLICT (id) DO NOTHING`, accountID, DefaultPlanID, s.now()); err != nil {
		return Account{}, fmt.Errorf("ensure account: %w", err)
	}
	return s.GetAccount(ctx, accountID)
}

func (s *SQLStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	return scanAccount(s.DB.QueryRowContext(ctx, `
SELECT id, plan_id, creations_used, credits, created_at FROM quota_accounts WHERE id = $1`, accountID))
}

func (s *SQLStore) GetItem(ctx context.Context, itemID string) (Item, error) {
	return scanItem(s.DB.QueryRowContext(ctx, `
SELECT id, account_id, edits_used, created_at FROM quota_items WHERE id = $1`, itemID))
}

func (s *SQLStore) ListItems(ctx context.Context, accountID string) ([]Item, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, account_id, edits_used, created_at FROM quota_items
WHERE account_id = $1
ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLStore) ConsumeCreation(ctx context.Context, req CreationRequest) (Receipt, error) {
	var r Receipt
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if prior, ok, err := findOp(ctx, tx, req.OpID); err != nil || ok {
			r = prior
			return err
		}

		now := s.now()
		var used int
		err := tx.QueryRowContext(ctx, `
UPDATE quota_accounts
SET creations_used = creations_used + 1, updated_at = $1
WHERE id = $2 AND plan_id = $3 AND ($4 < 0 OR creations_used < $4)
RETURNING creations_used`, now, req.AccountID, req.PlanID, req.Limit).Scan(&used)
		if errors.Is(err, sql.ErrNoRows) {
			return missOrConflict(ctx, tx, `SELECT 1 FROM quota_accounts WHERE id = $1`, req.AccountID)
		}
		if err != nil {
			return fmt.Errorf("increment creations: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO quota_items (id, account_id, edits_used, created_at) VALUES ($1, $2, 0, $3)`,
			req.ItemID, req.AccountID, now); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}

		r = Receipt{OpID: req.OpID, AccountID: req.AccountID, ItemID: req.ItemID, Used: used}
		return recordOp(ctx, tx, r, opKindCreate, now)
	})
	if errors.Is(err, errOpExists) {
		return s.replay(ctx, req.OpID)
	}
	if err != nil {
		return Receipt{}, err
	}
	return r, nil
}

func (s *SQLStore) ConsumeEdit(ctx context.Context, req EditRequest) (Receipt, error) {
	var r Receipt
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if prior, ok, err := findOp(ctx, tx, req.OpID); err != nil || ok {
			r = prior
			return err
		}

		now := s.now()
		var used int
		err := tx.QueryRowContext(ctx, `
UPDATE quota_items
SET edits_used = edits_used + 1
WHERE id = $1 AND account_id = $2 AND ($3 < 0 OR edits_used < $3)
  AND EXISTS (SELECT 1 FROM quota_accounts a WHERE a.id = $2 AND a.plan_id = $4)
RETURNING edits_used`, req.ItemID, req.AccountID, req.Limit, req.PlanID).Scan(&used)
		if errors.Is(err, sql.ErrNoRows) {
			return missOrConflict(ctx, tx, `SELECT 1 FROM quota_items WHERE id = $1 AND account_id = $2`, req.ItemID, req.AccountID)
		}
		if err != nil {
			return fmt.Errorf("increment edits: %w", err)
		}

		r = Receipt{OpID: req.OpID, AccountID: req.AccountID, ItemID: req.ItemID, Used: used}
		return recordOp(ctx, tx, r, opKindEdit, now)
	})
	if errors.Is(err, errOpExists) {
		return s.replay(ctx, req.OpID)
	}
	if err != nil {
		return Receipt{}, err
	}
	return r, nil
}

func (s *SQLStore) SetPlan(ctx context.Context, accountID, planID string, credits int) (Account, error) {
	res, err := s.DB.ExecContext(ctx, `
UPDATE quota_accounts SET plan_id = $1, credits = $2, updated_at = $3 WHERE id = $4`,
		planID, credits, s.now(), accountID)
	if err != nil {
		return Account{}, fmt.Errorf("set plan: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Account{}, ErrNotFound
	}
	return s.GetAccount(ctx, accountID)
}

func (s *SQLStore) Reset(ctx context.Context, accountID string) (Account, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE quota_accounts SET creations_used = 0, updated_at = $1 WHERE id = $2`, s.now(), accountID)
		if err != nil {
			return fmt.Errorf("reset account: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `UPDATE quota_items SET edits_used = 0 WHERE account_id = $1`, accountID); err != nil {
			return fmt.Errorf("reset items: %w", err)
		}
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return s.GetAccount(ctx, accountID)
}

func (s *SQLStore) DeleteItem(ctx context.Context, itemID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM quota_items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListAccounts(ctx context.Context, limit int) ([]Account, error) {
	query, args := withLimit(`
SELECT id, plan_id, creations_used, credits, created_at FROM quota_accounts
ORDER BY created_at DESC, id DESC`, limit)
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) RecentItems(ctx context.Context, limit int) ([]Item, error) {
	query, args := withLimit(`
SELECT id, account_id, edits_used, created_at FROM quota_items
ORDER BY created_at DESC, id DESC`, limit)
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByPlan: map[string]int{}}
	if err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(creations_used), 0) FROM quota_accounts`).Scan(&st.Accounts, &st.CreationsUsed); err != nil {
		return Stats{}, fmt.Errorf("account stats: %w", err)
	}
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM quota_items`).Scan(&st.Items); err != nil {
		return Stats{}, fmt.Errorf("item stats: %w", err)
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT plan_id, COUNT(*) FROM quota_accounts GROUP BY plan_id`)
	if err != nil {
		return Stats{}, fmt.Errorf("plan stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			plan string
			n    int
		)
		if err := rows.Scan(&plan, &n); err != nil {
			return Stats{}, err
		}
		st.ByPlan[plan] = n
	}
	return st, rows.Err()
}

func (s *SQLStore) PruneOperations(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM quota_operations WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune operations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

func withLimit(query string, limit int) (string, []any) {
	if limit <= 0 {
		return query, nil
	}
	return query + "\nLIMIT $1", []any{limit}
}

var errOpExists = errors.New("operation already recorded")

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// replay returns the receipt recorded by a concurrent request that committed
// the same operation id first.
func (s *SQLStore) replay(ctx context.Context, opID string) (Receipt, error) {
	r, ok, err := findOp(ctx, s.DB, opID)
	if err != nil {
		return Receipt{}, err
	}
	if !ok {
		return Receipt{}, ErrConflict
	}
	return r, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findOp(ctx context.Context, q queryer, opID string) (Receipt, bool, error) {
	r := Receipt{OpID: opID, Replayed: true}
	err := q.QueryRowContext(ctx, `
SELECT account_id, item_id, used_after FROM quota_operations WHERE op_id = $1`, opID).
		Scan(&r.AccountID, &r.ItemID, &r.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return Receipt{}, false, nil
	}
	if err != nil {
		return Receipt{}, false, fmt.Errorf("lookup operation: %w", err)
	}
	return r, true, nil
}

func recordOp(ctx context.Context, tx *sql.Tx, r Receipt, kind string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
INSERT INTO quota_operations (op_id, account_id, item_id, kind, used_after, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (op_id) DO NOTHING`, r.OpID, r.AccountID, r.ItemID, kind, r.Used, now)
	if err != nil {
		return fmt.Errorf("record operation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errOpExists
	}
	return nil
}

func missOrConflict(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var a Account
	var created any
	if err := row.Scan(&a.ID, &a.PlanID, &a.CreationsUsed, &a.Credits, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	a.CreatedAt = db.ParseTimestamp(created)
	return a, nil
}

func scanItem(row rowScanner) (Item, error) {
	var it Item
	var created any
	if err := row.Scan(&it.ID, &it.AccountID, &it.EditsUsed, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	it.CreatedAt = db.ParseTimestamp(created)
	return it, nil
}

var _ Store = (*SQLStore)(nil)
