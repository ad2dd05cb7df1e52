package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/hitoshi/sessiongate/internal/model"
)

// googleIssuers はGoogleのIDトークンで許可されるiss。
var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// clockSkew はexp/iat判定で許容する時計のずれ。
const clockSkew = 30 * time.Second

// IdentityVerifier は外部IdPのIDトークンを検証するインターフェース。
type IdentityVerifier interface {
	// Verify はトークンを検証してクレームを返す。
	// 検証に失敗した場合はmodel.ErrVerificationFailedをラップしたエラーを返す。
	Verify(ctx context.Context, token string) (*model.IdentityClaims, error)
}

// unknownKIDInterval は未知のkidによるJWKS再取得の最短間隔。
// 取得に失敗した場合も間隔は消費されるため、IdPへのリクエストは増えない。
const unknownKIDInterval = 30 * time.Second

// GoogleVerifierConfig はGoogleIDTokenVerifierの設定。
type GoogleVerifierConfig struct {
	ClientID   string
	JWKSURL    string
	Refresh    time.Duration // 公開鍵の再取得間隔
	Timeout    time.Duration // 1回の検証にかける最大時間
	HTTPClient *http.Client
	Now        func() time.Time
}

// GoogleIDTokenVerifier はGoogle Sign-InのIDトークン(RS256)を検証する。
type GoogleIDTokenVerifier struct {
	clientID string
	timeout  time.Duration
	now      func() time.Time
	keys     keyfunc.Keyfunc
}

// NewGoogleIDTokenVerifier はGoogleIDTokenVerifierを生成する。
// ctxはJWKSのバックグラウンド更新を止めるために使う。
// 初回のJWKS取得に失敗しても生成は成功し、未知のkidを受け取った時点で再取得する。
func NewGoogleIDTokenVerifier(ctx context.Context, cfg GoogleVerifierConfig) (*GoogleIDTokenVerifier, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Refresh <= 0 {
		cfg.Refresh = time.Hour
	}
	httpTimeout := cfg.Timeout
	if httpTimeout <= 0 {
		httpTimeout = 10 * time.Second
	}

	keys, err := keyfunc.NewDefaultOverrideCtx(ctx, []string{cfg.JWKSURL}, keyfunc.Override{
		Client:            cfg.HTTPClient,
		HTTPTimeout:       httpTimeout,
		RefreshInterval:   cfg.Refresh,
		RefreshUnknownKID: rate.NewLimiter(rate.Every(unknownKIDInterval), 1),
		RateLimitWaitMax:  httpTimeout,
		RefreshErrorHandlerFunc: func(u string) func(context.Context, error) {
			return func(ctx context.Context, err error) {
				slog.WarnContext(ctx, "JWKSの取得に失敗しました",
					slog.String("url", u),
					slog.String("error", err.Error()),
				)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create jwks keyfunc: %w", err)
	}

	return &GoogleIDTokenVerifier{
		clientID: cfg.ClientID,
		timeout:  cfg.Timeout,
		now:      cfg.Now,
		keys:     keys,
	}, nil
}

// googleClaims はGoogleのIDトークンのペイロード。
type googleClaims struct {
	jwt.RegisteredClaims
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name"`
	Picture       string   `json:"picture"`
}

// flexBool はtrue/"true"のどちらの表現も受け付ける。
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("email_verified must be bool or string: %w", err)
	}
	*b = flexBool(strings.EqualFold(s, "true"))
	return nil
}

// Verify はIDトークンを検証する。
// 署名(kidで選んだ公開鍵)、iss、aud、exp、emailの存在を確認する。
func (v *GoogleIDTokenVerifier) Verify(ctx context.Context, token string) (*model.IdentityClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, verificationError("credential is required")
	}
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	if v.clientID == "" {
		return nil, verificationError("client id is not configured")
	}

	var parsed googleClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid == "" {
			return nil, errors.New("missing kid header")
		}
		return v.keys.KeyfuncCtx(ctx)(t)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}

	// issは2種類の表記を許すためライブラリの検証は使わない
	if !issuerAllowed(parsed.Issuer) {
		return nil, verificationError("issuer mismatch")
	}
	if strings.TrimSpace(parsed.Email) == "" {
		return nil, verificationError("email claim is required")
	}

	return &model.IdentityClaims{
		Subject:       parsed.Subject,
		Email:         strings.TrimSpace(parsed.Email),
		EmailVerified: bool(parsed.EmailVerified),
		Name:          parsed.Name,
		Picture:       parsed.Picture,
	}, nil
}

func verificationError(reason string) error {
	return fmt.Errorf("%w: %s", model.ErrVerificationFailed, reason)
}

// mapJWTError はjwtライブラリのエラーを検証失敗エラーに変換する。
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return verificationError("token is malformed")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return verificationError("signature is invalid")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return verificationError("audience mismatch")
	case errors.Is(err, jwt.ErrTokenExpired):
		return verificationError("token is expired")
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return verificationError("required claim is missing")
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return verificationError("token used before issued")
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: token is unverifiable: %v", model.ErrVerificationFailed, err)
	default:
		return fmt.Errorf("%w: %v", model.ErrVerificationFailed, err)
	}
}

func issuerAllowed(iss string) bool {
	for _, allowed := range googleIssuers {
		if iss == allowed {
			return true
		}
	}
	return false
}

// compile-time interface check
var _ IdentityVerifier = (*GoogleIDTokenVerifier)(nil)
