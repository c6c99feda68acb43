package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API server and
// supporting services.
type Config struct {
	ListenAddr string
	MySQLDSN   string

	AIAPIKey     string
	AIBaseURL    string
	AIImageModel string
	AITimeout    time.Duration

	WechatAppID     string
	WechatAppSecret string
	WechatAPIBase   string

	PaymentGatewayURL string

	JWTSecret string
	JWTTTL    time.Duration

	AdminUsername string
	AdminPassword string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
	PresignTTL      time.Duration

	DefaultCredits  int
	AdRewardCredits int

	SweepInterval time.Duration
	SweepStallAge time.Duration
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		AIBaseURL:         strings.TrimRight(getEnv("AI_BASE_URL", "https://api.openai.com/v1"), "/"),
		AIImageModel:      getEnv("AI_IMAGE_MODEL", "gpt-4o-image"),
		AITimeout:         time.Second * time.Duration(getInt("AI_TIMEOUT_SECONDS", 600)),
		WechatAPIBase:     getEnv("WECHAT_API_BASE_URL", "https://api.weixin.qq.com"),
		PaymentGatewayURL: strings.TrimRight(getEnv("PAYMENT_GATEWAY_URL", ""), "/"),
		JWTTTL:            time.Hour * time.Duration(getInt("JWT_TTL_HOURS", 24*8)),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:     getEnv("ADMIN_PASSWORD", "change-me"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3Region:          os.Getenv("S3_REGION"),
		S3AccessKey:       os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("S3_SECRET_KEY"),
		S3Bucket:          os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:   os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:    getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:          getEnv("S3_PREFIX", "gallery"),
		PresignTTL:        time.Second * time.Duration(getInt("PRESIGN_TTL_SECONDS", 600)),
		DefaultCredits:    getInt("DEFAULT_CREDITS", 20),
		AdRewardCredits:   getInt("AD_REWARD_CREDITS", 10),
		SweepInterval:     time.Minute * time.Duration(getInt("SWEEP_INTERVAL_MINUTES", 10)),
		SweepStallAge:     time.Minute * time.Duration(getInt("SWEEP_STALL_MINUTES", 30)),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.AIAPIKey = os.Getenv("AI_API_KEY")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.WechatAppID = os.Getenv("WECHAT_APP_ID")
	cfg.WechatAppSecret = os.Getenv("WECHAT_APP_SECRET")

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.AIAPIKey == "" {
		missing = append(missing, "AI_API_KEY")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if cfg.WechatAppID == "" {
		missing = append(missing, "WECHAT_APP_ID")
	}
	if cfg.WechatAppSecret == "" {
		missing = append(missing, "WECHAT_APP_SECRET")
	}
	if cfg.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if cfg.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if cfg.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if cfg.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if cfg.S3PublicBaseURL == "" {
		missing = append(missing, "S3_PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Running purely off the process environment is fine.
	return nil
}
