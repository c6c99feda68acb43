package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/t59688/btx/internal/models"
)

type ArtworkRepository struct {
	db *sql.DB
}

func NewArtworkRepository(db *sql.DB) *ArtworkRepository {
	return &ArtworkRepository{db: db}
}

const artworkColumns = `
a.id, a.user_id, a.style_id, s.name, a.source_image_url, a.result_image_url,
a.status, a.is_public, a.public_scope, a.progress, a.error_message,
a.likes_count, a.views_count, a.created_at, a.updated_at`

func scanArtwork(row interface{ Scan(...any) error }) (*models.Artwork, error) {
	var a models.Artwork
	var isPublic int
	var result, errMsg sql.NullString
	if err := row.Scan(&a.ID, &a.UserID, &a.StyleID, &a.StyleName, &a.SourceImageURL, &result,
		&a.Status, &isPublic, &a.PublicScope, &a.Progress, &errMsg,
		&a.LikesCount, &a.ViewsCount, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.IsPublic = isPublic != 0
	if result.Valid {
		a.ResultImageURL = &result.String
	}
	if errMsg.Valid {
		a.ErrorMessage = &errMsg.String
	}
	return &a, nil
}

func (r *ArtworkRepository) Create(ctx context.Context, artwork *models.Artwork) (*models.Artwork, error) {
	const query = `
INSERT INTO artworks (user_id, style_id, source_image_url, status, public_scope, progress)
VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		artwork.UserID, artwork.StyleID, artwork.SourceImageURL,
		models.ArtworkProcessing, models.ScopeResultOnly, 0)
	if err != nil {
		return nil, fmt.Errorf("insert artwork: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("artwork last insert id: %w", err)
	}
	artwork.ID = id
	artwork.Status = models.ArtworkProcessing
	artwork.PublicScope = models.ScopeResultOnly
	return artwork, nil
}

func (r *ArtworkRepository) Get(ctx context.Context, id int64) (*models.Artwork, error) {
	query := `SELECT ` + artworkColumns + `
FROM artworks a JOIN styles s ON s.id = a.style_id
WHERE a.id = ? AND a.is_deleted = 0`
	a, err := scanArtwork(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan artwork: %w", err)
	}
	return a, nil
}

func (r *ArtworkRepository) ListByUser(ctx context.Context, userID int64, offset, limit int) ([]models.Artwork, error) {
	query := `SELECT ` + artworkColumns + `
FROM artworks a JOIN styles s ON s.id = a.style_id
WHERE a.user_id = ? AND a.is_deleted = 0
ORDER BY a.created_at DESC, a.id DESC
LIMIT ? OFFSET ?`
	return r.list(ctx, query, userID, limit, offset)
}

// ListPublic returns the public gallery: completed, published, not
// deleted.
func (r *ArtworkRepository) ListPublic(ctx context.Context, offset, limit int) ([]models.Artwork, error) {
	query := `SELECT ` + artworkColumns + `
FROM artworks a JOIN styles s ON s.id = a.style_id
WHERE a.is_public = 1 AND a.status = 'completed' AND a.is_deleted = 0
ORDER BY a.likes_count DESC, a.created_at DESC
LIMIT ? OFFSET ?`
	return r.list(ctx, query, limit, offset)
}

func (r *ArtworkRepository) list(ctx context.Context, query string, args ...any) ([]models.Artwork, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artworks: %w", err)
	}
	defer rows.Close()

	var artworks []models.Artwork
	for rows.Next() {
		a, err := scanArtwork(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artwork row: %w", err)
		}
		artworks = append(artworks, *a)
	}
	return artworks, rows.Err()
}

// UpdateProgress advances progress while the artwork is still
// processing. The progress guard keeps concurrent or late updates from
// walking the value backwards.
func (r *ArtworkRepository) UpdateProgress(ctx context.Context, id int64, progress int) error {
	const query = `
UPDATE artworks SET progress = ?, updated_at = NOW()
WHERE id = ? AND status = 'processing' AND progress < ?`
	if _, err := r.db.ExecContext(ctx, query, progress, id, progress); err != nil {
		return fmt.Errorf("update artwork progress: %w", err)
	}
	return nil
}

// MarkCompleted performs the terminal completed transition. It reports
// false when the artwork already left the processing state.
func (r *ArtworkRepository) MarkCompleted(ctx context.Context, id int64, resultImageURL string) (bool, error) {
	const query = `
UPDATE artworks
SET status = 'completed', result_image_url = ?, progress = 100, error_message = NULL, updated_at = NOW()
WHERE id = ? AND status = 'processing'`
	res, err := r.db.ExecContext(ctx, query, resultImageURL, id)
	if err != nil {
		return false, fmt.Errorf("mark artwork completed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("completed rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkFailed performs the terminal failed transition. It reports false
// when the artwork already left the processing state.
func (r *ArtworkRepository) MarkFailed(ctx context.Context, id int64, errorMessage string) (bool, error) {
	const query = `
UPDATE artworks SET status = 'failed', error_message = ?, updated_at = NOW()
WHERE id = ? AND status = 'processing'`
	res, err := r.db.ExecContext(ctx, query, errorMessage, id)
	if err != nil {
		return false, fmt.Errorf("mark artwork failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed rows affected: %w", err)
	}
	return affected > 0, nil
}

// AppendErrorMessage adds detail (e.g. a refund failure) to an already
// recorded error message.
func (r *ArtworkRepository) AppendErrorMessage(ctx context.Context, id int64, extra string) error {
	const query = `
UPDATE artworks SET error_message = CONCAT(COALESCE(error_message, ''), ?), updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, extra, id); err != nil {
		return fmt.Errorf("append artwork error: %w", err)
	}
	return nil
}

// SetPublish updates the public flag and scope. Only completed
// artworks can be published; it reports false otherwise.
func (r *ArtworkRepository) SetPublish(ctx context.Context, id int64, isPublic bool, scope models.PublicScope) (bool, error) {
	public := 0
	if isPublic {
		public = 1
	}
	const query = `
UPDATE artworks SET is_public = ?, public_scope = ?, updated_at = NOW()
WHERE id = ? AND is_deleted = 0 AND (? = 0 OR status = 'completed')`
	res, err := r.db.ExecContext(ctx, query, public, scope, id, public)
	if err != nil {
		return false, fmt.Errorf("set artwork publish: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("publish rows affected: %w", err)
	}
	return affected > 0, nil
}

// SoftDelete hides the artwork from all queries without removing the
// row.
func (r *ArtworkRepository) SoftDelete(ctx context.Context, id int64) error {
	const query = `UPDATE artworks SET is_deleted = 1, is_public = 0, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("soft delete artwork: %w", err)
	}
	return nil
}

// HardDelete removes the row entirely; used only to compensate a
// creation whose debit failed.
func (r *ArtworkRepository) HardDelete(ctx context.Context, id int64) error {
	const query = `DELETE FROM artworks WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("hard delete artwork: %w", err)
	}
	return nil
}

func (r *ArtworkRepository) IncrementViews(ctx context.Context, id int64) error {
	const query = `UPDATE artworks SET views_count = views_count + 1 WHERE id = ? AND is_deleted = 0`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("increment artwork views: %w", err)
	}
	return nil
}

func (r *ArtworkRepository) AddLikes(ctx context.Context, id int64, delta int) error {
	const query = `UPDATE artworks SET likes_count = GREATEST(likes_count + ?, 0) WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, delta, id); err != nil {
		return fmt.Errorf("adjust artwork likes: %w", err)
	}
	return nil
}

// ListStalledProcessing returns artworks that have been processing
// since before the cutoff; the sweeper fails and refunds them.
func (r *ArtworkRepository) ListStalledProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.Artwork, error) {
	query := `SELECT ` + artworkColumns + `
FROM artworks a JOIN styles s ON s.id = a.style_id
WHERE a.status = 'processing' AND a.is_deleted = 0 AND a.created_at < ?
ORDER BY a.created_at
LIMIT ?`
	return r.list(ctx, query, cutoff, limit)
}
