package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/t59688/btx/internal/config"
	"github.com/t59688/btx/internal/models"
	"github.com/t59688/btx/internal/repository"
)

// AdminService backs the operator panel: catalog management, user
// moderation and runtime configuration.
type AdminService struct {
	users    *repository.UserRepository
	styles   *repository.StyleRepository
	products *repository.ProductRepository
	artworks *repository.ArtworkRepository
	configs  *repository.ConfigRepository
	runtime  *config.Runtime
	log      *slog.Logger
}

func NewAdminService(users *repository.UserRepository, styles *repository.StyleRepository, products *repository.ProductRepository, artworks *repository.ArtworkRepository, configs *repository.ConfigRepository, runtime *config.Runtime, log *slog.Logger) *AdminService {
	return &AdminService{
		users:    users,
		styles:   styles,
		products: products,
		artworks: artworks,
		configs:  configs,
		runtime:  runtime,
		log:      log,
	}
}

type UserPage struct {
	Users []models.User `json:"users"`
	Total int           `json:"total"`
}

func (s *AdminService) ListUsers(ctx context.Context, offset, limit int) (*UserPage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	users, err := s.users.List(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	total, err := s.users.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	if users == nil {
		users = []models.User{}
	}
	return &UserPage{Users: users, Total: total}, nil
}

func (s *AdminService) SetUserBlocked(ctx context.Context, userID int64, blocked bool) error {
	if err := s.users.SetBlocked(ctx, userID, blocked); err != nil {
		return err
	}
	s.log.Info("user block state changed", "user_id", userID, "blocked", blocked)
	return nil
}

func (s *AdminService) ListStyles(ctx context.Context) ([]models.Style, error) {
	styles, err := s.styles.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if styles == nil {
		styles = []models.Style{}
	}
	return styles, nil
}

func (s *AdminService) CreateStyle(ctx context.Context, style *models.Style) (*models.Style, error) {
	if style.Name == "" || style.Prompt == "" {
		return nil, fmt.Errorf("name and prompt are required")
	}
	if style.CreditsCost < 0 {
		return nil, fmt.Errorf("credits_cost cannot be negative")
	}
	return s.styles.Create(ctx, style)
}

func (s *AdminService) UpdateStyle(ctx context.Context, style *models.Style) (*models.Style, error) {
	existing, err := s.styles.Get(ctx, style.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrStyleNotFound
	}
	return s.styles.Update(ctx, style)
}

func (s *AdminService) DeleteStyle(ctx context.Context, id int64) error {
	return s.styles.Delete(ctx, id)
}

func (s *AdminService) ListProducts(ctx context.Context) ([]models.Product, error) {
	products, err := s.products.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if products == nil {
		products = []models.Product{}
	}
	return products, nil
}

func (s *AdminService) CreateProduct(ctx context.Context, product *models.Product) (*models.Product, error) {
	if product.Name == "" || product.Credits <= 0 || product.Amount <= 0 {
		return nil, fmt.Errorf("name, credits and amount are required")
	}
	return s.products.Create(ctx, product)
}

func (s *AdminService) UpdateProduct(ctx context.Context, product *models.Product) (*models.Product, error) {
	existing, err := s.products.Get(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrProductNotFound
	}
	return s.products.Update(ctx, product)
}

func (s *AdminService) DeleteProduct(ctx context.Context, id int64) error {
	return s.products.Delete(ctx, id)
}

// HideArtwork pulls an artwork out of the public gallery regardless of
// the owner's publish setting.
func (s *AdminService) HideArtwork(ctx context.Context, artworkID int64) error {
	art, err := s.artworks.Get(ctx, artworkID)
	if err != nil {
		return err
	}
	if art == nil {
		return ErrArtworkNotFound
	}
	if _, err := s.artworks.SetPublish(ctx, artworkID, false, art.PublicScope); err != nil {
		return fmt.Errorf("hide artwork: %w", err)
	}
	s.log.Info("artwork hidden by admin", "artwork_id", artworkID)
	return nil
}

func (s *AdminService) ListConfigs(ctx context.Context) ([]models.SystemConfig, error) {
	configs, err := s.configs.List(ctx)
	if err != nil {
		return nil, err
	}
	if configs == nil {
		configs = []models.SystemConfig{}
	}
	return configs, nil
}

// SetConfig persists a system config value and applies it to the
// running process immediately.
func (s *AdminService) SetConfig(ctx context.Context, key, value, description string) error {
	if key == "" {
		return fmt.Errorf("config_key is required")
	}
	if err := s.configs.Set(ctx, key, value, description); err != nil {
		return err
	}
	s.runtime.Set(key, value)
	s.log.Info("system config updated", "key", key)
	return nil
}
