package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/t59688/btx/internal/auth"
	"github.com/t59688/btx/internal/config"
	"github.com/t59688/btx/internal/models"
	"github.com/t59688/btx/internal/repository"
	"github.com/t59688/btx/internal/wechat"
)

var (
	ErrUserBlocked = errors.New("账号已被禁用")

	// ErrUserNotFound shares the ledger's sentinel so the HTTP layer
	// maps both with one check.
	ErrUserNotFound = repository.ErrUserNotFound
)

type UserService struct {
	cfg     config.Config
	users   *repository.UserRepository
	credits *repository.CreditRepository
	wx      *wechat.Client
	tokens  *auth.Manager
	log     *slog.Logger
}

func NewUserService(cfg config.Config, users *repository.UserRepository, credits *repository.CreditRepository, wx *wechat.Client, tokens *auth.Manager, log *slog.Logger) *UserService {
	return &UserService{
		cfg:     cfg,
		users:   users,
		credits: credits,
		wx:      wx,
		tokens:  tokens,
		log:     log,
	}
}

// LoginResult is what the mini-program receives after a login code
// exchange.
type LoginResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
	IsNew bool         `json:"is_new"`
}

// Login exchanges a wx.login code for a bearer token, registering the
// user on first sight with the configured welcome credits.
func (s *UserService) Login(ctx context.Context, code, nickname, avatarURL string) (*LoginResult, error) {
	session, err := s.wx.CodeToSession(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("wechat login: %w", err)
	}

	user, err := s.users.FindByOpenID(ctx, session.OpenID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	isNew := user == nil
	if isNew {
		user, err = s.users.Create(ctx, &models.User{
			OpenID:    session.OpenID,
			UnionID:   session.UnionID,
			Nickname:  nickname,
			AvatarURL: avatarURL,
		})
		if err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		// Welcome credits flow through the ledger so the balance and
		// the audit trail stay consistent.
		if s.cfg.DefaultCredits > 0 {
			rec, err := s.credits.Adjust(ctx, user.ID, s.cfg.DefaultCredits, models.CreditRegister, "新用户注册赠送", nil)
			if err != nil {
				s.log.Error("register credit grant failed", "user_id", user.ID, "error", err)
			} else {
				user.Credits = rec.Balance
			}
		}
		s.log.Info("user registered", "user_id", user.ID, "credits", user.Credits)
	} else {
		if user.IsBlocked {
			return nil, ErrUserBlocked
		}
		if err := s.users.TouchLogin(ctx, user.ID, time.Now()); err != nil {
			s.log.Warn("touch login failed", "user_id", user.ID, "error", err)
		}
		if nickname != "" || avatarURL != "" {
			if err := s.users.UpdateProfile(ctx, user.ID, nickname, avatarURL); err != nil {
				s.log.Warn("profile refresh failed", "user_id", user.ID, "error", err)
			} else {
				user.Nickname = nickname
				user.AvatarURL = avatarURL
			}
		}
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &LoginResult{Token: token, User: user, IsNew: isNew}, nil
}

func (s *UserService) Get(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID int64, nickname, avatarURL string) (*models.User, error) {
	if err := s.users.UpdateProfile(ctx, userID, nickname, avatarURL); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return s.Get(ctx, userID)
}

func (s *UserService) SetBlocked(ctx context.Context, userID int64, blocked bool) error {
	if err := s.users.SetBlocked(ctx, userID, blocked); err != nil {
		return fmt.Errorf("set blocked: %w", err)
	}
	return nil
}
