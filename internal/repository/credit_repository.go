package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/t59688/btx/internal/models"
)

// ErrInsufficientBalance is returned when a debit would drive the
// user's balance negative. Nothing is written in that case.
var ErrInsufficientBalance = errors.New("积分余额不足")

// ErrUserNotFound is returned when the ledger is asked to adjust an
// unknown user.
var ErrUserNotFound = errors.New("用户不存在")

// CreditRepository is the single writer of user balances. Every
// balance change goes through Adjust, which locks the user row, checks
// the balance, updates it and appends the matching ledger record in
// one transaction.
type CreditRepository struct {
	db *sql.DB
}

func NewCreditRepository(db *sql.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

func (r *CreditRepository) Adjust(ctx context.Context, userID int64, amount int, creditType models.CreditType, description string, relatedID *int64) (*models.CreditRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin credit tx: %w", err)
	}
	defer tx.Rollback()

	rec, err := r.AdjustTx(ctx, tx, userID, amount, creditType, description, relatedID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit credit tx: %w", err)
	}
	return rec, nil
}

// AdjustTx applies the adjustment inside the caller's transaction, for
// flows that must change a balance and other rows atomically. The
// caller owns commit and rollback.
func (r *CreditRepository) AdjustTx(ctx context.Context, tx *sql.Tx, userID int64, amount int, creditType models.CreditType, description string, relatedID *int64) (*models.CreditRecord, error) {
	var balance int
	row := tx.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = ? FOR UPDATE`, userID)
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock user balance: %w", err)
	}

	if amount < 0 && balance+amount < 0 {
		return nil, ErrInsufficientBalance
	}
	newBalance := balance + amount

	if _, err := tx.ExecContext(ctx, `UPDATE users SET credits = ?, updated_at = NOW() WHERE id = ?`, newBalance, userID); err != nil {
		return nil, fmt.Errorf("update user balance: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO credit_records (user_id, amount, balance, type, description, related_id)
VALUES (?, ?, ?, ?, NULLIF(?, ''), ?)`,
		userID, amount, newBalance, creditType, description, relatedID)
	if err != nil {
		return nil, fmt.Errorf("insert credit record: %w", err)
	}
	recordID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("credit record last insert id: %w", err)
	}

	return &models.CreditRecord{
		ID:          recordID,
		UserID:      userID,
		Amount:      amount,
		Balance:     newBalance,
		Type:        creditType,
		Description: description,
		RelatedID:   relatedID,
	}, nil
}

// Balance reads the current balance without locking.
func (r *CreditRepository) Balance(ctx context.Context, userID int64) (int, error) {
	var balance int
	err := r.db.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = ?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read user balance: %w", err)
	}
	return balance, nil
}

func (r *CreditRepository) ListByUser(ctx context.Context, userID int64, offset, limit int) ([]models.CreditRecord, error) {
	const query = `
SELECT id, user_id, amount, balance, type, COALESCE(description, ''), related_id, created_at
FROM credit_records
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list credit records: %w", err)
	}
	defer rows.Close()

	var records []models.CreditRecord
	for rows.Next() {
		var rec models.CreditRecord
		var related sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Amount, &rec.Balance, &rec.Type, &rec.Description, &related, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit record: %w", err)
		}
		if related.Valid {
			id := related.Int64
			rec.RelatedID = &id
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *CreditRepository) CountByUser(ctx context.Context, userID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM credit_records WHERE user_id = ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count credit records: %w", err)
	}
	return count, nil
}
