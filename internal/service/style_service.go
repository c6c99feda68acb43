package service

import (
	"context"
	"fmt"

	"github.com/t59688/btx/internal/models"
	"github.com/t59688/btx/internal/repository"
)

type StyleService struct {
	styles *repository.StyleRepository
}

func NewStyleService(styles *repository.StyleRepository) *StyleService {
	return &StyleService{styles: styles}
}

func (s *StyleService) ListActive(ctx context.Context, categoryID *int64) ([]models.Style, error) {
	styles, err := s.styles.ListActive(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("list styles: %w", err)
	}
	if styles == nil {
		styles = []models.Style{}
	}
	return styles, nil
}

func (s *StyleService) Get(ctx context.Context, id int64) (*models.Style, error) {
	style, err := s.styles.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get style: %w", err)
	}
	if style == nil {
		return nil, ErrStyleNotFound
	}
	return style, nil
}

func (s *StyleService) Categories(ctx context.Context) ([]models.StyleCategory, error) {
	categories, err := s.styles.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	if categories == nil {
		categories = []models.StyleCategory{}
	}
	return categories, nil
}
