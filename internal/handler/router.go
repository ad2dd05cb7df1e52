package handler

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/sessiongate/internal/metrics"
	"github.com/hitoshi/sessiongate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger        *slog.Logger
	HealthChecker HealthChecker
	Metrics       metrics.MetricsCollector
	MetricsRoute  http.Handler // nilの場合/metricsは公開しない

	// ミドルウェア依存
	Gate               middleware.Authorizer
	CSRF               middleware.CSRFVerifier
	RateLimiter        *middleware.RateLimiter
	CORSAllowedOrigins []string
	AdminLoginPath     string
	TrustedProxies     []netip.Prefix // 転送ヘッダーを信頼する接続元。空なら常にRemoteAddrを使う

	// ハンドラー依存
	LoginService LoginService
	Sessions     SessionService
	Tokens       TokenVerifier
	Cleanup      CleanupTrigger
	AuthConfig   AuthHandlerConfig
	AdminConfig  AdminHandlerConfig
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	TrustedRealIP → Recovery → Logging → SecurityHeaders → CORS
//
// /auth/login と /admin/login はクライアントIPごとにレート制限する。
// /auth/* の部分更新用エンドポイントはHX-Requestヘッダーを必須とする。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewTrustedRealIPMiddleware(deps.TrustedProxies))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	authHandler := NewAuthHandler(
		deps.LoginService, deps.Sessions, deps.Gate, deps.Tokens,
		deps.Cleanup, deps.Metrics, deps.AuthConfig,
	)
	adminHandler := NewAdminHandler(deps.Sessions, deps.AdminConfig)

	requireUser := middleware.NewRequireUserMiddleware(deps.Gate)
	requireAdmin := middleware.NewRequireAdminMiddleware(deps.Gate, deps.AdminLoginPath)

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsRoute != nil {
		r.Handle("/metrics", deps.MetricsRoute)
	}

	r.Route("/auth", func(r chi.Router) {
		r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
		r.Get("/cleanup_sessions", authHandler.CleanupSessions)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewHXOnlyMiddleware())
			r.Get("/logout", authHandler.Logout)
			r.Get("/refresh_token", authHandler.RefreshToken)
			r.Get("/check", authHandler.Check)
			r.Get("/navbar", authHandler.Navbar)
		})
	})

	r.Get("/admin/login", adminHandler.LoginForm)
	r.With(deps.RateLimiter.LoginMiddleware()).Post("/admin/login", adminHandler.Login)

	r.Route("/debug", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/sessions", adminHandler.ListSessions)
			r.Get("/env", adminHandler.Env)
		})
		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Use(middleware.NewCSRFMiddleware(deps.CSRF, deps.Metrics))
			r.Get("/me", adminHandler.Me)
			r.Post("/csrf", adminHandler.EchoCSRF)
		})
	})

	return r
}
