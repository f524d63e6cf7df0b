package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lovepage-backend/internal/shared/storage/db"
)

// SQLRepo stores orders and payments in the payment_orders and payments
// tables (Postgres or SQLite).
type SQLRepo struct {
	DB *sql.DB
}

const paymentColumns = `payment_id, order_id, account_id, plan_id, amount_minor, currency, status, created_at, applied_at`

func (r *SQLRepo) CreateOrder(ctx context.Context, o Order) error {
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO payment_orders (order_id, account_id, plan_id, amount_minor, currency, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		o.OrderID, o.AccountID, o.PlanID, o.AmountMinor, o.Currency, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *SQLRepo) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var (
		o       Order
		created any
	)
	err := r.DB.QueryRowContext(ctx, `
SELECT order_id, account_id, plan_id, amount_minor, currency, created_at
FROM payment_orders WHERE order_id = $1`, orderID).
		Scan(&o.OrderID, &o.AccountID, &o.PlanID, &o.AmountMinor, &o.Currency, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.CreatedAt = db.ParseTimestamp(created)
	return o, nil
}

func (r *SQLRepo) Record(ctx context.Context, p Payment) (Payment, bool, error) {
	res, err := r.DB.ExecContext(ctx, `
INSERT INTO payments (payment_id, order_id, account_id, plan_id, amount_minor, currency, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT DO NOTHING`,
		p.PaymentID, p.OrderID, p.AccountID, p.PlanID, p.AmountMinor, p.Currency, p.Status, p.CreatedAt)
	if err != nil {
		return Payment{}, false, fmt.Errorf("insert payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Payment{}, false, fmt.Errorf("insert payment: %w", err)
	}
	if n == 1 {
		return p, true, nil
	}
	existing, err := r.Get(ctx, p.PaymentID)
	if errors.Is(err, ErrNotFound) {
		// The conflict was on order_id.
		return Payment{}, false, ErrOrderPaid
	}
	return existing, false, err
}

func (r *SQLRepo) Get(ctx context.Context, paymentID string) (Payment, error) {
	p, err := scanPayment(r.DB.QueryRowContext(ctx, `
SELECT `+paymentColumns+`
FROM payments WHERE payment_id = $1`, paymentID))
	if errors.Is(err, sql.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	return p, err
}

func (r *SQLRepo) MarkApplied(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
UPDATE payments SET status = $1, applied_at = $2
WHERE payment_id = $3 AND status <> $1`, StatusApplied, at, paymentID)
	if err != nil {
		return false, fmt.Errorf("mark payment applied: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark payment applied: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, paymentID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *SQLRepo) ListByAccount(ctx context.Context, accountID string) ([]Payment, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT `+paymentColumns+`
FROM payments WHERE account_id = $1
ORDER BY created_at, payment_id`, accountID)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

func (r *SQLRepo) ListRecent(ctx context.Context, limit int) ([]Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments ORDER BY created_at DESC, payment_id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

func (r *SQLRepo) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := r.DB.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN status = $1 THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN status = $1 THEN amount_minor ELSE 0 END), 0)
FROM payments`, StatusApplied).Scan(&t.Payments, &t.Applied, &t.RevenueMinor)
	if err != nil {
		return Totals{}, fmt.Errorf("payment totals: %w", err)
	}
	return t, nil
}

func collectPayments(rows *sql.Rows) ([]Payment, error) {
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (Payment, error) {
	var (
		p       Payment
		created any
		applied any
	)
	if err := row.Scan(&p.PaymentID, &p.OrderID, &p.AccountID, &p.PlanID, &p.AmountMinor, &p.Currency, &p.Status, &created, &applied); err != nil {
		return Payment{}, err
	}
	p.CreatedAt = db.ParseTimestamp(created)
	if at := db.ParseTimestamp(applied); !at.IsZero() {
		p.AppliedAt = &at
	}
	return p, nil
}

var _ Repo = (*SQLRepo)(nil)
