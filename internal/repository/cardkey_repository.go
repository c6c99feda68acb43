package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/t59688/btx/internal/models"
)

type CardKeyRepository struct {
	db *sql.DB
}

func NewCardKeyRepository(db *sql.DB) *CardKeyRepository {
	return &CardKeyRepository{db: db}
}

func (r *CardKeyRepository) GetByCode(ctx context.Context, code string) (*models.CardKey, error) {
	const query = `SELECT id, code, credits, max_uses, uses, created_at FROM card_keys WHERE code = ?`
	var k models.CardKey
	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&k.ID, &k.Code, &k.Credits, &k.MaxUses, &k.Uses, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan card key: %w", err)
	}
	return &k, nil
}

// Consume claims one use of a card key. Returns false when the key is
// already exhausted; the conditional update keeps concurrent
// redemptions from overspending the key.
func (r *CardKeyRepository) Consume(ctx context.Context, id int64) (bool, error) {
	const query = `UPDATE card_keys SET uses = uses + 1 WHERE id = ? AND uses < max_uses`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("consume card key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("card key rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *CardKeyRepository) HasUserRedeemed(ctx context.Context, userID, cardKeyID int64) (bool, error) {
	const query = `SELECT COUNT(*) FROM card_key_redemptions WHERE user_id = ? AND card_key_id = ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID, cardKeyID).Scan(&count); err != nil {
		return false, fmt.Errorf("count card key redemptions: %w", err)
	}
	return count > 0, nil
}

func (r *CardKeyRepository) RecordRedemption(ctx context.Context, userID, cardKeyID int64) error {
	const query = `INSERT INTO card_key_redemptions (user_id, card_key_id) VALUES (?, ?)`
	if _, err := r.db.ExecContext(ctx, query, userID, cardKeyID); err != nil {
		return fmt.Errorf("insert card key redemption: %w", err)
	}
	return nil
}

func (r *CardKeyRepository) Create(ctx context.Context, code string, credits, maxUses int) (*models.CardKey, error) {
	const query = `INSERT INTO card_keys (code, credits, max_uses) VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, code, credits, maxUses); err != nil {
		return nil, fmt.Errorf("insert card key: %w", err)
	}
	return r.GetByCode(ctx, code)
}

func (r *CardKeyRepository) List(ctx context.Context, limit, offset int) ([]models.CardKey, error) {
	const query = `SELECT id, code, credits, max_uses, uses, created_at FROM card_keys ORDER BY id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list card keys: %w", err)
	}
	defer rows.Close()

	var keys []models.CardKey
	for rows.Next() {
		var k models.CardKey
		if err := rows.Scan(&k.ID, &k.Code, &k.Credits, &k.MaxUses, &k.Uses, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan card key row: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
