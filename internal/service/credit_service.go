package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/t59688/btx/internal/config"
	"github.com/t59688/btx/internal/models"
	"github.com/t59688/btx/internal/repository"
)

type CreditService struct {
	cfg     config.Config
	runtime *config.Runtime
	credits *repository.CreditRepository
	users   *repository.UserRepository
	log     *slog.Logger
}

func NewCreditService(cfg config.Config, runtime *config.Runtime, credits *repository.CreditRepository, users *repository.UserRepository, log *slog.Logger) *CreditService {
	return &CreditService{
		cfg:     cfg,
		runtime: runtime,
		credits: credits,
		users:   users,
		log:     log,
	}
}

func (s *CreditService) Balance(ctx context.Context, userID int64) (int, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return 0, ErrUserNotFound
	}
	return user.Credits, nil
}

// RecordPage is one page of a user's ledger history.
type RecordPage struct {
	Records []models.CreditRecord `json:"records"`
	Total   int                   `json:"total"`
}

func (s *CreditService) Records(ctx context.Context, userID int64, offset, limit int) (*RecordPage, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	records, err := s.credits.ListByUser(ctx, userID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list credit records: %w", err)
	}
	total, err := s.credits.CountByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count credit records: %w", err)
	}
	if records == nil {
		records = []models.CreditRecord{}
	}
	return &RecordPage{Records: records, Total: total}, nil
}

// AdReward credits the user for a completed rewarded ad view. The
// amount can be tuned at runtime without a restart.
func (s *CreditService) AdReward(ctx context.Context, userID int64) (*models.CreditRecord, error) {
	amount := s.runtime.ResolveInt("AD_REWARD_CREDITS", s.cfg.AdRewardCredits)
	if amount <= 0 {
		return nil, fmt.Errorf("ad reward disabled")
	}
	rec, err := s.credits.Adjust(ctx, userID, amount, models.CreditAdReward, "观看广告奖励", nil)
	if err != nil {
		return nil, fmt.Errorf("ad reward: %w", err)
	}
	s.log.Info("ad reward granted", "user_id", userID, "amount", amount, "balance", rec.Balance)
	return rec, nil
}

// AdminAdjust applies a manual balance change with an audit trail
// entry.
func (s *CreditService) AdminAdjust(ctx context.Context, userID int64, amount int, description string) (*models.CreditRecord, error) {
	if description == "" {
		description = "管理员调整"
	}
	rec, err := s.credits.Adjust(ctx, userID, amount, models.CreditAdminAdjustment, description, nil)
	if err != nil {
		return nil, fmt.Errorf("admin adjust: %w", err)
	}
	s.log.Info("admin credit adjustment", "user_id", userID, "amount", amount, "balance", rec.Balance)
	return rec, nil
}
