package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/t59688/btx/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, openid, COALESCE(unionid, ''), COALESCE(nickname, ''), COALESCE(avatar_url, ''), credits, is_blocked, last_login_time, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	var blocked int
	var lastLogin sql.NullTime
	if err := row.Scan(&u.ID, &u.OpenID, &u.UnionID, &u.Nickname, &u.AvatarURL, &u.Credits, &blocked, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.IsBlocked = blocked != 0
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginTime = &t
	}
	return &u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) FindByOpenID(ctx context.Context, openid string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE openid = ?`
	u, err := scanUser(r.db.QueryRowContext(ctx, query, openid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user by openid: %w", err)
	}
	return u, nil
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	const query = `
INSERT INTO users (openid, unionid, nickname, avatar_url, credits, last_login_time)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, NOW())`
	res, err := r.db.ExecContext(ctx, query, user.OpenID, user.UnionID, user.Nickname, user.AvatarURL, user.Credits)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user last insert id: %w", err)
	}
	user.ID = id
	return user, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID int64, nickname, avatarURL string) error {
	const query = `
UPDATE users SET nickname = NULLIF(?, ''), avatar_url = NULLIF(?, ''), updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, nickname, avatarURL, userID); err != nil {
		return fmt.Errorf("update user profile: %w", err)
	}
	return nil
}

func (r *UserRepository) TouchLogin(ctx context.Context, userID int64, at time.Time) error {
	const query = `UPDATE users SET last_login_time = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, at, userID); err != nil {
		return fmt.Errorf("touch login: %w", err)
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context, offset, limit int) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM users`
	var count int
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (r *UserRepository) SetBlocked(ctx context.Context, userID int64, blocked bool) error {
	value := 0
	if blocked {
		value = 1
	}
	const query = `UPDATE users SET is_blocked = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, value, userID); err != nil {
		return fmt.Errorf("set user blocked: %w", err)
	}
	return nil
}
