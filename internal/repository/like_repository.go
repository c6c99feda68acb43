package repository

import (
	"context"
	"database/sql"
	"fmt"
)

type LikeRepository struct {
	db *sql.DB
}

func NewLikeRepository(db *sql.DB) *LikeRepository {
	return &LikeRepository{db: db}
}

// Add records a like. Returns false when the user already liked the
// artwork.
func (r *LikeRepository) Add(ctx context.Context, userID, artworkID int64) (bool, error) {
	const query = `INSERT IGNORE INTO likes (user_id, artwork_id) VALUES (?, ?)`
	res, err := r.db.ExecContext(ctx, query, userID, artworkID)
	if err != nil {
		return false, fmt.Errorf("insert like: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("like rows affected: %w", err)
	}
	return affected > 0, nil
}

// Remove deletes a like. Returns false when no like existed.
func (r *LikeRepository) Remove(ctx context.Context, userID, artworkID int64) (bool, error) {
	const query = `DELETE FROM likes WHERE user_id = ? AND artwork_id = ?`
	res, err := r.db.ExecContext(ctx, query, userID, artworkID)
	if err != nil {
		return false, fmt.Errorf("delete like: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unlike rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *LikeRepository) Exists(ctx context.Context, userID, artworkID int64) (bool, error) {
	const query = `SELECT COUNT(*) FROM likes WHERE user_id = ? AND artwork_id = ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID, artworkID).Scan(&count); err != nil {
		return false, fmt.Errorf("count like: %w", err)
	}
	return count > 0, nil
}

// LikedSet returns which of the given artwork IDs the user has liked.
func (r *LikeRepository) LikedSet(ctx context.Context, userID int64, artworkIDs []int64) (map[int64]bool, error) {
	liked := make(map[int64]bool, len(artworkIDs))
	if len(artworkIDs) == 0 {
		return liked, nil
	}
	query := `SELECT artwork_id FROM likes WHERE user_id = ? AND artwork_id IN (`
	args := make([]any, 0, len(artworkIDs)+1)
	args = append(args, userID)
	for i, id := range artworkIDs {
		if i > 0 {
			query += `,`
		}
		query += `?`
		args = append(args, id)
	}
	query += `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query liked set: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan liked artwork id: %w", err)
		}
		liked[id] = true
	}
	return liked, rows.Err()
}
