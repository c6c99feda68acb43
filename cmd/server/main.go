package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/t59688/btx/internal/auth"
	"github.com/t59688/btx/internal/config"
	"github.com/t59688/btx/internal/database"
	"github.com/t59688/btx/internal/payment"
	"github.com/t59688/btx/internal/pipeline"
	"github.com/t59688/btx/internal/provider"
	"github.com/t59688/btx/internal/repository"
	"github.com/t59688/btx/internal/server"
	"github.com/t59688/btx/internal/service"
	"github.com/t59688/btx/internal/storage"
	"github.com/t59688/btx/internal/wechat"
	"github.com/t59688/btx/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	artworkRepo := repository.NewArtworkRepository(db)
	styleRepo := repository.NewStyleRepository(db)
	likeRepo := repository.NewLikeRepository(db)
	productRepo := repository.NewProductRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	cardKeyRepo := repository.NewCardKeyRepository(db)
	configRepo := repository.NewConfigRepository(db)

	runtime := config.NewRuntime()
	if err := runtime.Init(ctx, configRepo); err != nil {
		logr.Warn("runtime config load failed, using defaults", "err", err)
	}

	store, err := storage.New(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		log.Fatalf("object storage: %v", err)
	}

	aiClient := provider.NewClient(cfg, logr)
	orchestrator := pipeline.NewOrchestrator(artworkRepo, styleRepo, creditRepo, store, aiClient, cfg.PresignTTL, logr)
	sweeper := pipeline.NewSweeper(artworkRepo, styleRepo, creditRepo, cfg.SweepInterval, cfg.SweepStallAge, logr)
	go sweeper.Run(ctx)

	tokens := auth.NewManager(cfg.JWTSecret, cfg.JWTTTL)
	wxClient := wechat.NewClient(cfg)
	gateway := payment.NewClient(cfg)

	userService := service.NewUserService(cfg, userRepo, creditRepo, wxClient, tokens, logr)
	styleService := service.NewStyleService(styleRepo)
	artworkService := service.NewArtworkService(artworkRepo, styleRepo, likeRepo, creditRepo, store, orchestrator, logr)
	creditService := service.NewCreditService(cfg, runtime, creditRepo, userRepo, logr)
	orderService := service.NewOrderService(orderRepo, productRepo, creditRepo, gateway, logr)
	cardKeyService := service.NewCardKeyService(cardKeyRepo, creditRepo, logr)
	adminService := service.NewAdminService(userRepo, styleRepo, productRepo, artworkRepo, configRepo, runtime, logr)

	srv := server.NewServer(cfg.ListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, tokens,
		userService, artworkService, styleService, creditService, orderService, cardKeyService, adminService)

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("server stopped", "err", err)
	}
}
