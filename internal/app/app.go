package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/sessiongate/internal/auth"
	"github.com/hitoshi/sessiongate/internal/config"
	"github.com/hitoshi/sessiongate/internal/database"
	"github.com/hitoshi/sessiongate/internal/handler"
	"github.com/hitoshi/sessiongate/internal/logger"
	"github.com/hitoshi/sessiongate/internal/metrics"
	"github.com/hitoshi/sessiongate/internal/middleware"
	"github.com/hitoshi/sessiongate/internal/repository"
	"github.com/hitoshi/sessiongate/internal/security"
	"github.com/hitoshi/sessiongate/internal/session"
	"github.com/hitoshi/sessiongate/internal/user"
	"github.com/hitoshi/sessiongate/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	if w == nil {
		w = os.Stdout
	}
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再構成する
	slog.SetDefault(logger.SetupWithLevel(w, logger.ParseLevel(cfg.LogLevel)))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("origin_server", cfg.OriginServer),
		slog.String("session_store", cfg.SessionStore),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCleanup:
		return runCleanup(cfg)
	default:
		return runServe(cfg)
	}
}

// resources は起動時に開く外部接続。
type resources struct {
	db    *sql.DB
	redis *redis.Client
}

func (r *resources) Close() {
	if r.redis != nil {
		r.redis.Close()
	}
	if r.db != nil {
		r.db.Close()
	}
}

// openResources はDBと、SESSION_STOREがredisの場合はRedisへの接続を開く。
func openResources(ctx context.Context, cfg *config.Config) (*resources, error) {
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	res := &resources{db: db}
	slog.Info("database connection established")

	if cfg.SessionStore == config.StoreRedis {
		res.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := res.redis.Ping(ctx).Err(); err != nil {
			res.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))
	}

	return res, nil
}

// newSessionManager は設定に従ってセッションストアを選び、Managerを構築する。
func newSessionManager(cfg *config.Config, res *resources, mc metrics.MetricsCollector) (*session.Manager, error) {
	store, err := session.NewStore(cfg, res.db, res.redis)
	if err != nil {
		return nil, err
	}
	return session.NewManager(store, session.OptionsFromConfig(cfg), mc), nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. 外部接続
	res, err := openResources(ctx, cfg)
	if err != nil {
		return err
	}
	defer res.Close()

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.NewCollector(registry)

	// 3. セッション・ユーザー
	manager, err := newSessionManager(cfg, res, mc)
	if err != nil {
		return err
	}

	urlGuard := security.NewURLGuard()
	directory := user.NewDirectory(
		repository.NewPostgresUserRepo(res.db),
		security.NewNameSanitizer(),
		urlGuard,
	)

	// 4. 認証
	verifier, err := auth.NewGoogleIDTokenVerifier(ctx, auth.GoogleVerifierConfig{
		ClientID:   cfg.GoogleClientID,
		JWKSURL:    cfg.JWKSURL,
		Refresh:    cfg.JWKSRefresh,
		Timeout:    cfg.VerifyTimeout,
		HTTPClient: urlGuard.NewSafeClient(cfg.VerifyTimeout),
	})
	if err != nil {
		return err
	}
	authService := auth.NewService(verifier, directory, manager, mc)
	gate := auth.NewGate(manager, directory)
	csrfGuard := auth.NewCSRFGuard()

	// 5. 期限切れセッションの削除
	runner := cleanup.NewRunner(manager, slog.Default())
	go runner.Start(ctx, cfg.SessionMaxAgeDuration())

	// 6. ルーターの構築
	trustedProxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}
	rateLimiter := middleware.NewRateLimiter(middleware.LoginRateLimiterConfig(cfg.RateLimitLogin), mc)
	defer rateLimiter.Stop()

	cookieCfg := handler.CookieConfig{
		Domain: cfg.CookieDomain,
		MaxAge: cfg.SessionMaxAge,
	}
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:        slog.Default(),
		HealthChecker: res.db,
		Metrics:       mc,
		MetricsRoute:  metrics.Handler(registry),

		Gate:               gate,
		CSRF:               csrfGuard,
		RateLimiter:        rateLimiter,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		AdminLoginPath:     cfg.AdminLoginPath,
		TrustedProxies:     trustedProxies,

		LoginService: authService,
		Sessions:     manager,
		Tokens:       csrfGuard,
		Cleanup:      runner,
		AuthConfig: handler.AuthHandlerConfig{
			Cookie:   cookieCfg,
			ClientID: cfg.GoogleClientID,
			LoginURL: cfg.LoginURL(),
		},
		AdminConfig: handler.AdminHandlerConfig{
			Cookie:       cookieCfg,
			OriginServer: cfg.OriginServer,
			ClientID:     cfg.GoogleClientID,
			SessionStore: cfg.SessionStore,
		},
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	runner.Wait()

	slog.Info("API server stopped gracefully")
	return nil
}

// runCleanup は期限切れセッションの削除を1回実行する。
// cronなど外部スケジューラからの実行用。
func runCleanup(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	res, err := openResources(ctx, cfg)
	if err != nil {
		return err
	}
	defer res.Close()

	manager, err := newSessionManager(cfg, res, nil)
	if err != nil {
		return err
	}

	if _, err := cleanup.NewRunner(manager, slog.Default()).Run(ctx); err != nil {
		return err
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
