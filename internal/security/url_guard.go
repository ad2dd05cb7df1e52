package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// 外部URLの検証エラー。
var (
	ErrEmptyURL       = errors.New("empty URL")
	ErrDisallowedURL  = errors.New("disallowed URL")
	ErrInsecureScheme = errors.New("https is required")
)

// blockedPrefixes は外向き通信・外部URLとして受け付けないアドレス範囲。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // クラウドメタデータを含む
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// URLGuard はIdPへの外向き通信と、IdPから受け取ったURLの検証を担う。
type URLGuard struct {
	allowedPorts []int
}

// NewURLGuard はURLGuardを生成する。
func NewURLGuard() *URLGuard {
	return &URLGuard{allowedPorts: []int{443}}
}

// NewSafeClient はHTTPS以外とプライベートアドレス宛てを拒否するHTTPクライアントを返す。
// 宛先IPの検証はsafeurlがDNS解決後にDialer上で行うため、DNSリバインディングも防げる。
// JWKS(公開鍵)の取得に使う。
func (g *URLGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(g.allowedPorts...).
		Build()
	return safeurl.Client(config).Client
}

// ValidateURL はDNS解決なしでURLを静的に検証する。
// スキームはhttpとhttpsのみ、ホストはlocalhostやプライベートアドレスを拒否する。
func (g *URLGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return ErrEmptyURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDisallowedURL, err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: scheme %q", ErrDisallowedURL, parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrDisallowedURL)
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("%w: host %s", ErrDisallowedURL, host)
	}
	if addr, err := netip.ParseAddr(host); err == nil && isBlockedAddr(addr) {
		return fmt.Errorf("%w: address %s", ErrDisallowedURL, addr)
	}
	return nil
}

// ValidateImageURL はプロフィール画像URLを検証する。
// ValidateURLの条件に加えてhttpsを要求する。
func (g *URLGuard) ValidateImageURL(rawURL string) error {
	if err := g.ValidateURL(rawURL); err != nil {
		return err
	}
	if !strings.HasPrefix(strings.ToLower(rawURL), "https://") {
		return ErrInsecureScheme
	}
	return nil
}

func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
