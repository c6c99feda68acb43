package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/t59688/btx/internal/models"
)

type StyleRepository struct {
	db *sql.DB
}

func NewStyleRepository(db *sql.DB) *StyleRepository {
	return &StyleRepository{db: db}
}

const styleColumns = `id, name, COALESCE(description, ''), COALESCE(preview_url, ''), COALESCE(reference_image_url, ''), category_id, COALESCE(prompt, ''), credits_cost, is_active, sort_order, created_at, updated_at`

func scanStyle(row interface{ Scan(...any) error }) (*models.Style, error) {
	var s models.Style
	var active int
	var categoryID sql.NullInt64
	if err := row.Scan(&s.ID, &s.Name, &s.Description, &s.PreviewURL, &s.ReferenceImageURL,
		&categoryID, &s.Prompt, &s.CreditsCost, &active, &s.SortOrder, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.IsActive = active != 0
	if categoryID.Valid {
		id := categoryID.Int64
		s.CategoryID = &id
	}
	return &s, nil
}

func (r *StyleRepository) Get(ctx context.Context, id int64) (*models.Style, error) {
	query := `SELECT ` + styleColumns + ` FROM styles WHERE id = ?`
	s, err := scanStyle(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan style: %w", err)
	}
	return s, nil
}

// ListActive returns styles shown to users, optionally filtered by
// category.
func (r *StyleRepository) ListActive(ctx context.Context, categoryID *int64) ([]models.Style, error) {
	query := `SELECT ` + styleColumns + ` FROM styles WHERE is_active = 1`
	args := []any{}
	if categoryID != nil {
		query += ` AND category_id = ?`
		args = append(args, *categoryID)
	}
	query += ` ORDER BY sort_order, id`
	return r.list(ctx, query, args...)
}

func (r *StyleRepository) ListAll(ctx context.Context) ([]models.Style, error) {
	query := `SELECT ` + styleColumns + ` FROM styles ORDER BY sort_order, id`
	return r.list(ctx, query)
}

func (r *StyleRepository) list(ctx context.Context, query string, args ...any) ([]models.Style, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list styles: %w", err)
	}
	defer rows.Close()

	var styles []models.Style
	for rows.Next() {
		s, err := scanStyle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan style row: %w", err)
		}
		styles = append(styles, *s)
	}
	return styles, rows.Err()
}

func (r *StyleRepository) Create(ctx context.Context, style *models.Style) (*models.Style, error) {
	active := 0
	if style.IsActive {
		active = 1
	}
	const query = `
INSERT INTO styles (name, description, preview_url, reference_image_url, category_id, prompt, credits_cost, is_active, sort_order)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, NULLIF(?, ''), ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		style.Name, style.Description, style.PreviewURL, style.ReferenceImageURL,
		style.CategoryID, style.Prompt, style.CreditsCost, active, style.SortOrder)
	if err != nil {
		return nil, fmt.Errorf("insert style: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("style last insert id: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *StyleRepository) Update(ctx context.Context, style *models.Style) (*models.Style, error) {
	active := 0
	if style.IsActive {
		active = 1
	}
	const query = `
UPDATE styles
SET name = ?, description = NULLIF(?, ''), preview_url = NULLIF(?, ''), reference_image_url = NULLIF(?, ''),
    category_id = ?, prompt = NULLIF(?, ''), credits_cost = ?, is_active = ?, sort_order = ?, updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query,
		style.Name, style.Description, style.PreviewURL, style.ReferenceImageURL,
		style.CategoryID, style.Prompt, style.CreditsCost, active, style.SortOrder, style.ID); err != nil {
		return nil, fmt.Errorf("update style: %w", err)
	}
	return r.Get(ctx, style.ID)
}

func (r *StyleRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM styles WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete style: %w", err)
	}
	return nil
}

func (r *StyleRepository) ListCategories(ctx context.Context) ([]models.StyleCategory, error) {
	const query = `SELECT id, name, sort_order, created_at FROM style_categories ORDER BY sort_order, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list style categories: %w", err)
	}
	defer rows.Close()

	var categories []models.StyleCategory
	for rows.Next() {
		var c models.StyleCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.SortOrder, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan style category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}
