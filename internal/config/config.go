package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// セッションストアの種別。
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`

	// OAuth
	GoogleClientID string        `env:"GOOGLE_CLIENT_ID"`
	JWKSURL        string        `env:"JWKS_URL" envDefault:"https://www.googleapis.com/oauth2/v3/certs"`
	JWKSRefresh    time.Duration `env:"JWKS_REFRESH" envDefault:"1h"`
	VerifyTimeout  time.Duration `env:"VERIFY_TIMEOUT" envDefault:"5s"`

	// Session
	SessionMaxAge int    `env:"SESSION_MAX_AGE" envDefault:"600"`
	SessionStore  string `env:"SESSION_STORE" envDefault:"postgres"`
	AdminEmail    string `env:"ADMIN_EMAIL"`

	// Redis
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Rate Limit
	RateLimitLogin int `env:"RATE_LIMIT_LOGIN" envDefault:"20"`

	// Server
	ServerPort     string `env:"SERVER_PORT" envDefault:"8080"`
	OriginServer   string `env:"ORIGIN_SERVER"`
	AdminLoginPath string `env:"ADMIN_LOGIN_PATH" envDefault:"/admin/login"`

	// Cookie
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// 転送ヘッダー(X-Forwarded-For)を信頼するプロキシ。CIDRまたはIP
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	// Required fields
	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}
	if cfg.OriginServer == "" {
		missing = append(missing, "ORIGIN_SERVER")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))
	if cfg.SessionStore != StorePostgres && cfg.SessionStore != StoreRedis {
		return nil, fmt.Errorf("unsupported SESSION_STORE: %q (allowed: %s, %s)", cfg.SessionStore, StorePostgres, StoreRedis)
	}
	if cfg.SessionMaxAge <= 0 {
		return nil, fmt.Errorf("SESSION_MAX_AGE must be positive, got %d", cfg.SessionMaxAge)
	}

	cfg.AdminEmail = strings.TrimSpace(cfg.AdminEmail)
	cfg.CORSAllowedOrigins = trimList(cfg.CORSAllowedOrigins)
	cfg.TrustedProxies = trimList(cfg.TrustedProxies)

	return cfg, nil
}

// SessionMaxAgeDuration はSessionMaxAgeをtime.Durationで返す。
func (c *Config) SessionMaxAgeDuration() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

// LoginURL はIdPのログインボタンが送信するURLを返す。
func (c *Config) LoginURL() string {
	return strings.TrimRight(c.OriginServer, "/") + "/auth/login"
}

func trimList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			result = append(result, v)
		}
	}
	return result
}
