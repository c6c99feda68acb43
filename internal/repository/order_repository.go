package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/t59688/btx/internal/models"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, order_no, user_id, product_id, amount, credits, status, payment_id, payment_time, COALESCE(remark, ''), created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {
	var o models.Order
	var paymentID sql.NullString
	var paymentTime sql.NullTime
	if err := row.Scan(&o.ID, &o.OrderNo, &o.UserID, &o.ProductID, &o.Amount, &o.Credits,
		&o.Status, &paymentID, &paymentTime, &o.Remark, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if paymentID.Valid {
		o.PaymentID = &paymentID.String
	}
	if paymentTime.Valid {
		o.PaymentTime = &paymentTime.Time
	}
	return &o, nil
}

func (r *OrderRepository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	const query = `
INSERT INTO orders (order_no, user_id, product_id, amount, credits, status)
VALUES (?, ?, ?, ?, ?, 'pending')`
	res, err := r.db.ExecContext(ctx, query,
		order.OrderNo, order.UserID, order.ProductID, order.Amount, order.Credits)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("order last insert id: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *OrderRepository) Get(ctx context.Context, id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	return r.getOne(ctx, query, id)
}

func (r *OrderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_no = ?`
	return r.getOne(ctx, query, orderNo)
}

func (r *OrderRepository) getOne(ctx context.Context, query string, arg any) (*models.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return o, nil
}

// Settle moves a pending order to completed in one transaction: the
// conditional pending check elects a single winner among concurrent
// polls, grant runs inside the same transaction so a failed credit
// grant rolls the status change back and the order stays pending and
// retryable. Returns false without calling grant when the order was
// not pending.
func (r *OrderRepository) Settle(ctx context.Context, id int64, paymentID string, grant func(tx *sql.Tx) error) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin settle tx: %w", err)
	}
	defer tx.Rollback()

	const markPaid = `
UPDATE orders
SET status = 'paid', payment_id = ?, payment_time = NOW(), updated_at = NOW()
WHERE id = ? AND status = 'pending'`
	res, err := tx.ExecContext(ctx, markPaid, paymentID, id)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("order paid rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if err := grant(tx); err != nil {
		return false, err
	}

	const complete = `UPDATE orders SET status = 'completed', updated_at = NOW() WHERE id = ?`
	if _, err := tx.ExecContext(ctx, complete, id); err != nil {
		return false, fmt.Errorf("complete order: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit settle tx: %w", err)
	}
	return true, nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
