package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/t59688/btx/internal/models"
	"github.com/t59688/btx/internal/repository"
)

var (
	ErrCardKeyNotFound  = errors.New("卡密不存在")
	ErrCardKeyExhausted = errors.New("卡密已被使用完")
	ErrAlreadyRedeemed  = errors.New("您已兑换过该卡密")
)

type CardKeyService struct {
	cardKeys *repository.CardKeyRepository
	credits  *repository.CreditRepository
	log      *slog.Logger
}

func NewCardKeyService(cardKeys *repository.CardKeyRepository, credits *repository.CreditRepository, log *slog.Logger) *CardKeyService {
	return &CardKeyService{cardKeys: cardKeys, credits: credits, log: log}
}

// Redeem grants a card key's credits to the user. A key can be used at
// most max_uses times overall and once per user; the conditional
// consume keeps concurrent redemptions within the limit.
func (s *CardKeyService) Redeem(ctx context.Context, userID int64, code string) (*models.CreditRecord, error) {
	code = strings.TrimSpace(code)
	key, err := s.cardKeys.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get card key: %w", err)
	}
	if key == nil {
		return nil, ErrCardKeyNotFound
	}

	redeemed, err := s.cardKeys.HasUserRedeemed(ctx, userID, key.ID)
	if err != nil {
		return nil, fmt.Errorf("check redemption: %w", err)
	}
	if redeemed {
		return nil, ErrAlreadyRedeemed
	}

	ok, err := s.cardKeys.Consume(ctx, key.ID)
	if err != nil {
		return nil, fmt.Errorf("consume card key: %w", err)
	}
	if !ok {
		return nil, ErrCardKeyExhausted
	}

	if err := s.cardKeys.RecordRedemption(ctx, userID, key.ID); err != nil {
		return nil, fmt.Errorf("record redemption: %w", err)
	}

	relatedID := key.ID
	rec, err := s.credits.Adjust(ctx, userID, key.Credits, models.CreditCardKey, "卡密兑换: "+code, &relatedID)
	if err != nil {
		s.log.Error("card key credit grant failed", "card_key_id", key.ID, "user_id", userID, "error", err)
		return nil, fmt.Errorf("grant card key credits: %w", err)
	}
	s.log.Info("card key redeemed", "card_key_id", key.ID, "user_id", userID, "credits", key.Credits)
	return rec, nil
}

// GenerateBatch creates card keys for distribution.
func (s *CardKeyService) GenerateBatch(ctx context.Context, count, credits, maxUses int) ([]models.CardKey, error) {
	if count <= 0 || count > 500 {
		return nil, fmt.Errorf("invalid batch size %d", count)
	}
	if maxUses <= 0 {
		maxUses = 1
	}
	keys := make([]models.CardKey, 0, count)
	for i := 0; i < count; i++ {
		code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:16]
		key, err := s.cardKeys.Create(ctx, code, credits, maxUses)
		if err != nil {
			return nil, fmt.Errorf("create card key: %w", err)
		}
		keys = append(keys, *key)
	}
	return keys, nil
}

func (s *CardKeyService) List(ctx context.Context, offset, limit int) ([]models.CardKey, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	keys, err := s.cardKeys.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list card keys: %w", err)
	}
	if keys == nil {
		keys = []models.CardKey{}
	}
	return keys, nil
}
