package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/t59688/btx/internal/models"
)

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

const productColumns = `id, name, COALESCE(description, ''), COALESCE(image_url, ''), credits, amount, is_active, sort_order, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*models.Product, error) {
	var p models.Product
	var active int
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.ImageURL,
		&p.Credits, &p.Amount, &active, &p.SortOrder, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.IsActive = active != 0
	return &p, nil
}

func (r *ProductRepository) Get(ctx context.Context, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ?`
	p, err := scanProduct(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}
	return p, nil
}

func (r *ProductRepository) ListActive(ctx context.Context) ([]models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE is_active = 1 ORDER BY sort_order, id`
	return r.list(ctx, query)
}

func (r *ProductRepository) ListAll(ctx context.Context) ([]models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products ORDER BY sort_order, id`
	return r.list(ctx, query)
}

func (r *ProductRepository) list(ctx context.Context, query string) ([]models.Product, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (r *ProductRepository) Create(ctx context.Context, product *models.Product) (*models.Product, error) {
	active := 0
	if product.IsActive {
		active = 1
	}
	const query = `
INSERT INTO products (name, description, image_url, credits, amount, is_active, sort_order)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		product.Name, product.Description, product.ImageURL,
		product.Credits, product.Amount, active, product.SortOrder)
	if err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("product last insert id: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *ProductRepository) Update(ctx context.Context, product *models.Product) (*models.Product, error) {
	active := 0
	if product.IsActive {
		active = 1
	}
	const query = `
UPDATE products
SET name = ?, description = NULLIF(?, ''), image_url = NULLIF(?, ''), credits = ?, amount = ?,
    is_active = ?, sort_order = ?, updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query,
		product.Name, product.Description, product.ImageURL, product.Credits,
		product.Amount, active, product.SortOrder, product.ID); err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	return r.Get(ctx, product.ID)
}

func (r *ProductRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM products WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return nil
}
